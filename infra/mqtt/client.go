// Package mqtt implements the upstream tracking link over an MQTT broker
// using Eclipse Paho. Messages travel as JSON upstream frames on two topics.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/emsdispatch/core/events"
	"github.com/kilianp07/emsdispatch/core/relay"
	"github.com/kilianp07/emsdispatch/infra/logger"
)

// ErrClosed is returned by Send after the connection has gone away.
var ErrClosed = errors.New("mqtt connection closed")

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker     string `json:"broker"`
	ClientID   string `json:"client_id"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	UseTLS     bool   `json:"use_tls"`
	ClientCert string `json:"client_cert"`
	ClientKey  string `json:"client_key"`
	CABundle   string `json:"ca_bundle"`
	AuthMethod string `json:"auth_method"`
	QoS        byte   `json:"qos"`
	// InboundTopic carries tracking-service messages to us.
	InboundTopic string `json:"inbound_topic"`
	// OutboundTopic carries our messages to the tracking service.
	OutboundTopic string      `json:"outbound_topic"`
	LWTTopic      string      `json:"lwt_topic"`
	LWTPayload    string      `json:"lwt_payload"`
	Buffer        int         `json:"buffer"`
	TLSConfig     *tls.Config `json:"-"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.ClientID == "" {
		c.ClientID = "emsdispatch-" + uuid.NewString()[:8]
	}
	if c.InboundTopic == "" {
		c.InboundTopic = "tracking/inbound"
	}
	if c.OutboundTopic == "" {
		c.OutboundTopic = "tracking/outbound"
	}
	if c.Buffer == 0 {
		c.Buffer = 64
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if c.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	if c.UseTLS && c.TLSConfig == nil && (c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "") {
		return fmt.Errorf("mqtt tls requires client_cert, client_key and ca_bundle")
	}
	return nil
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	// the relay link owns reconnection and backoff
	opts.AutoReconnect = false
	opts.ConnectRetry = false
	opts.SetCleanSession(true)
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.QoS, false)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// Dialer opens upstream connections to the broker.
type Dialer struct {
	cfg Config
	log logger.Logger
}

// NewDialer returns a dialer for cfg.
func NewDialer(cfg Config, log logger.Logger) *Dialer {
	cfg.SetDefaults()
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Dialer{cfg: cfg, log: log}
}

// Dial connects to the broker and subscribes to the inbound topic.
func (d *Dialer) Dial(ctx context.Context) (relay.Conn, error) {
	opts, err := NewClientOptions(d.cfg)
	if err != nil {
		return nil, err
	}
	c := &Conn{
		topic: d.cfg.OutboundTopic,
		qos:   d.cfg.QoS,
		msgs:  make(chan events.Upstream, d.cfg.Buffer),
		log:   d.log,
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		d.log.Errorf("connection lost: %v", err)
		c.shutdown()
	}
	cli := newMQTTClient(opts)
	if err := waitToken(ctx, cli.Connect()); err != nil {
		return nil, fmt.Errorf("connect %s: %w", d.cfg.Broker, err)
	}
	c.cli = cli
	if err := waitToken(ctx, cli.Subscribe(d.cfg.InboundTopic, d.cfg.QoS, c.onMessage)); err != nil {
		cli.Disconnect(0)
		return nil, fmt.Errorf("subscribe %s: %w", d.cfg.InboundTopic, err)
	}
	d.log.Infof("MQTT connected to %s", d.cfg.Broker)
	return c, nil
}

func waitToken(ctx context.Context, t paho.Token) error {
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Conn is one broker session.
type Conn struct {
	cli   pahoClient
	topic string
	qos   byte
	log   logger.Logger

	mu     sync.Mutex
	closed bool
	msgs   chan events.Upstream
}

// Send publishes m on the outbound topic without waiting for the broker.
func (c *Conn) Send(m events.Upstream) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed || !c.cli.IsConnected() {
		return ErrClosed
	}
	payload, err := events.EncodeUpstream(m)
	if err != nil {
		return err
	}
	token := c.cli.Publish(c.topic, c.qos, false, payload)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			c.log.Warnf("publish %s failed: %v", m.Type(), err)
		}
	}()
	return nil
}

// Messages delivers decoded inbound messages; closed on disconnect.
func (c *Conn) Messages() <-chan events.Upstream { return c.msgs }

// Close disconnects from the broker.
func (c *Conn) Close() error {
	if c.cli != nil && c.cli.IsConnected() {
		c.cli.Disconnect(250)
	}
	c.shutdown()
	return nil
}

func (c *Conn) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.msgs)
}

func (c *Conn) onMessage(_ paho.Client, msg paho.Message) {
	m, err := events.DecodeUpstream(msg.Payload())
	if err != nil {
		c.log.Warnf("discarding inbound message on %s: %v", msg.Topic(), err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.msgs <- m:
	default:
		c.log.Warnf("inbound buffer full, dropping %s", m.Type())
	}
}
