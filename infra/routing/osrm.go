package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/peterstace/simplefeatures/geom"

	"github.com/kilianp07/emsdispatch/core/model"
	corerouting "github.com/kilianp07/emsdispatch/core/routing"
	"github.com/kilianp07/emsdispatch/infra/logger"
)

// OSRM queries an OSRM route service over HTTP.
type OSRM struct {
	baseURL string
	profile string
	client  *http.Client
	log     logger.Logger
}

// NewOSRM returns a provider for the OSRM instance at baseURL.
func NewOSRM(cfg Config, log logger.Logger) *OSRM {
	if log == nil {
		log = logger.NopLogger{}
	}
	profile := cfg.Profile
	if profile == "" {
		profile = "driving"
	}
	return &OSRM{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		profile: profile,
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond},
		log:     log,
	}
}

type osrmResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Geometry json.RawMessage `json:"geometry"`
		Distance float64         `json:"distance"` // metres
		Duration float64         `json:"duration"` // seconds
	} `json:"routes"`
}

// Route returns the best driving route between from and to.
func (o *OSRM) Route(ctx context.Context, from, to model.Location) (corerouting.Route, error) {
	u := fmt.Sprintf("%s/route/v1/%s/%f,%f;%f,%f?overview=full&geometries=geojson",
		o.baseURL, o.profile, from.Lng, from.Lat, to.Lng, to.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return corerouting.Route{}, fmt.Errorf("%w: %v", corerouting.ErrProvider, err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return corerouting.Route{}, fmt.Errorf("%w: %v", corerouting.ErrProvider, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return corerouting.Route{}, fmt.Errorf("%w: read body: %v", corerouting.ErrProvider, err)
	}
	if resp.StatusCode != http.StatusOK {
		return corerouting.Route{}, fmt.Errorf("%w: osrm status %d", corerouting.ErrProvider, resp.StatusCode)
	}
	var out osrmResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return corerouting.Route{}, fmt.Errorf("%w: decode response: %v", corerouting.ErrProvider, err)
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return corerouting.Route{}, fmt.Errorf("%w: osrm code %q: %s", corerouting.ErrProvider, out.Code, out.Message)
	}
	best := out.Routes[0]
	waypoints, err := decodeGeometry(best.Geometry)
	if err != nil {
		return corerouting.Route{}, fmt.Errorf("%w: %v", corerouting.ErrProvider, err)
	}
	o.log.Debugf("osrm route %s -> %s: %d waypoints, %.0fm", from, to, len(waypoints), best.Distance)
	return corerouting.Route{
		Waypoints:       waypoints,
		DistanceKm:      best.Distance / 1000,
		DurationMinutes: best.Duration / 60,
	}, nil
}

// decodeGeometry turns a GeoJSON LineString (lng, lat order) into waypoints.
func decodeGeometry(raw json.RawMessage) ([]model.Location, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("route has no geometry")
	}
	g, err := geom.UnmarshalGeoJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("decode geometry: %w", err)
	}
	ls, ok := g.AsLineString()
	if !ok {
		return nil, fmt.Errorf("geometry is %s, want LineString", g.Type())
	}
	seq := ls.Coordinates()
	if seq.Length() < 2 {
		return nil, fmt.Errorf("route geometry has %d points", seq.Length())
	}
	waypoints := make([]model.Location, seq.Length())
	for i := range waypoints {
		xy := seq.Get(i)
		waypoints[i] = model.Location{Lat: xy.Y, Lng: xy.X}
	}
	return waypoints, nil
}

// NewProvider builds the provider selected by cfg. The none provider yields
// nil so callers fall back to straight lines without logging failures.
func NewProvider(cfg Config, log logger.Logger) corerouting.Provider {
	switch cfg.Provider {
	case ProviderOSRM:
		return NewOSRM(cfg, log)
	default:
		return nil
	}
}
