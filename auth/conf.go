package auth

import (
	"fmt"
	"net/url"

	"golang.org/x/oauth2/clientcredentials"
)

// Conf represents the OAuth2 client credentials used to reach the tracking
// service. An empty AuthURL disables token retrieval.
type Conf struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	AuthURL      string   `json:"auth_url"`
	Scopes       []string `json:"scopes"`
}

// Enabled reports whether credentials are configured.
func (c Conf) Enabled() bool { return c.AuthURL != "" }

// Validate checks the credentials when they are enabled.
func (c Conf) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if _, err := url.ParseRequestURI(c.AuthURL); err != nil {
		return fmt.Errorf("auth_url: %w", err)
	}
	if c.ClientID == "" || c.ClientSecret == "" {
		return fmt.Errorf("client_id and client_secret are required with auth_url")
	}
	return nil
}

func (c *Conf) toOauth2Config() clientcredentials.Config {
	return clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     c.AuthURL,
		Scopes:       c.Scopes,
	}
}
