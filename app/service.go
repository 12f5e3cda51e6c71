// Package app wires the dispatch core to its adapters and runs the service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	apidispatch "github.com/kilianp07/emsdispatch/api/dispatch"
	"github.com/kilianp07/emsdispatch/api/respond"
	apisim "github.com/kilianp07/emsdispatch/api/simulation"
	"github.com/kilianp07/emsdispatch/api/vehicles"
	"github.com/kilianp07/emsdispatch/auth"
	"github.com/kilianp07/emsdispatch/config"
	"github.com/kilianp07/emsdispatch/core/dispatch"
	coremetrics "github.com/kilianp07/emsdispatch/core/metrics"
	coremon "github.com/kilianp07/emsdispatch/core/monitoring"
	"github.com/kilianp07/emsdispatch/core/relay"
	"github.com/kilianp07/emsdispatch/core/simulation"
	corestore "github.com/kilianp07/emsdispatch/core/store"
	"github.com/kilianp07/emsdispatch/infra/logger"
	"github.com/kilianp07/emsdispatch/infra/metrics"
	"github.com/kilianp07/emsdispatch/infra/monitoring"
	"github.com/kilianp07/emsdispatch/infra/mqtt"
	"github.com/kilianp07/emsdispatch/infra/routing"
	"github.com/kilianp07/emsdispatch/infra/store"
	"github.com/kilianp07/emsdispatch/infra/ws"
	"github.com/kilianp07/emsdispatch/infra/wslink"
)

// positionBuffer is the queue length of the position observer.
const positionBuffer = 256

// Service orchestrates the dispatch manager, the relay and the simulator.
type Service struct {
	Manager   *dispatch.Manager
	Relay     *relay.Relay
	Simulator *simulation.Simulator
	Store     corestore.Store

	cfg     *config.Config
	link    *relay.Link
	ws      *ws.Server
	sink    coremetrics.MetricsSink
	handler http.Handler
	log     logger.Logger
}

// New creates a Service from the configuration.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	if err := cfg.Logging.Apply(); err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	logg := logger.New("service")
	mon, err := monitoring.NewSentryMonitor(cfg.Monitoring)
	if err != nil {
		return nil, fmt.Errorf("monitoring: %w", err)
	}
	coremon.Init(mon)

	st, err := store.Open(ctx, cfg.Store, logger.New("store"))
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("metrics sink: %w", err)
	}

	r := relay.New(cfg.HTTP.Relay(), logger.New("relay"))
	routes := routing.NewProvider(cfg.Routing, logger.New("routing"))
	manager, err := dispatch.NewManager(cfg.Dispatch, st, r, routes, sink, logger.New("dispatch"))
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("dispatch manager: %w", err)
	}
	sim := simulation.New(cfg.Simulation, r, logger.New("simulation"))

	svc := &Service{
		Manager:   manager,
		Relay:     r,
		Simulator: sim,
		Store:     st,
		cfg:       cfg,
		ws:        ws.NewServer(r, cfg.HTTP.WS, logger.New("ws")),
		sink:      sink,
		log:       logg,
	}
	if d := upstreamDialer(cfg); d != nil {
		svc.link = relay.NewLink(d, cfg.Upstream.Link(), r.HandleUpstream, logger.New("upstream"))
		r.SetUpstream(svc.link)
	}
	svc.handler = svc.routes()
	return svc, nil
}

func upstreamDialer(cfg *config.Config) relay.Dialer {
	switch cfg.Upstream.Mode {
	case config.UpstreamWebsocket:
		d := wslink.NewDialer(cfg.Upstream.Websocket(), logger.New("wslink"))
		if cfg.Upstream.OAuth.Enabled() {
			d.WithTokens(auth.NewClientCred(cfg.Upstream.OAuth))
		}
		return d
	case config.UpstreamMQTT:
		return mqtt.NewDialer(cfg.MQTT, logger.New("mqtt"))
	default:
		return nil
	}
}

func (s *Service) routes() http.Handler {
	api := http.NewServeMux()
	apidispatch.Register(api, s.Manager)
	vehicles.Register(api, s.Manager)
	apisim.Register(api, s.Manager, s.Simulator)

	mux := http.NewServeMux()
	mux.Handle("/api/", respond.RequireToken(s.cfg.HTTP.APIToken, api))
	mux.Handle(s.cfg.HTTP.WSPath, s.ws)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		respond.JSON(w, http.StatusOK, map[string]bool{
			"ok":       true,
			"upstream": s.link != nil && s.link.Connected(),
		})
	})
	return mux
}

// Handler returns the HTTP handler serving the API and the websocket.
func (s *Service) Handler() http.Handler { return s.handler }

// Run starts the service and blocks until the context is cancelled or a
// listener fails. Losing the upstream link is logged, not fatal.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(coremon.Guard("http", func() error { return s.serveHTTP(gctx) }))
	g.Go(coremon.Guard("positions", func() error {
		s.observePositions(gctx)
		return nil
	}))
	if s.link != nil {
		g.Go(coremon.Guard("upstream", func() error {
			if err := s.link.Run(gctx); err != nil {
				s.log.Errorf("upstream link stopped: %v", err)
				coremon.CaptureException(err, map[string]string{"component": "upstream"})
			}
			return nil
		}))
	}
	if addr := s.cfg.Metrics.PrometheusListen; addr != "" {
		g.Go(coremon.Guard("prometheus", func() error { return metrics.StartPromServer(gctx, addr, nil) }))
	}
	if s.cfg.Simulation.Autostart {
		if err := s.startSimulation(gctx); err != nil {
			s.log.Errorf("simulation autostart: %v", err)
			coremon.CaptureException(err, map[string]string{"component": "simulation"})
		}
	}
	return g.Wait()
}

func (s *Service) serveHTTP(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.HTTP.Listen, Handler: s.handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.ws.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Errorf("http shutdown: %v", err)
		}
	}()
	s.log.Infof("listening on %s (websocket %s)", s.cfg.HTTP.Listen, s.cfg.HTTP.WSPath)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// observePositions persists every accepted position and forwards it to the
// metrics sink.
func (s *Service) observePositions(ctx context.Context) {
	sub := s.Relay.SubscribePositions(positionBuffer)
	defer s.Relay.UnsubscribePositions(sub)
	rec, _ := s.sink.(coremetrics.PositionRecorder)
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-sub.C():
			if !ok {
				return
			}
			if err := s.Manager.RecordPosition(ctx, p); err != nil {
				s.log.Debugf("position for %s not stored: %v", p.VehicleID, err)
			}
			if rec != nil {
				if err := rec.RecordPosition(p); err != nil {
					s.log.Warnf("metrics: %v", err)
				}
			}
		}
	}
}

func (s *Service) startSimulation(ctx context.Context) error {
	plans, err := s.Manager.SimulationPlans(ctx)
	if err != nil {
		return err
	}
	s.Simulator.StartWith(plans, 0, 0)
	return nil
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	s.Simulator.Stop()
	s.ws.Close()
	s.Relay.Close()
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	coremon.Flush(2 * time.Second)
	return s.Store.Close()
}
