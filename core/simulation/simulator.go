package simulation

import (
	"context"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/emsdispatch/core/logger"
	"github.com/kilianp07/emsdispatch/core/model"
)

// SourceSimulation tags positions produced by a run.
const SourceSimulation = "simulation"

// Publisher receives the positions produced on each tick. It must not
// block.
type Publisher interface {
	PublishPosition(p model.PositionUpdate)
}

// Simulator owns the single active run.
type Simulator struct {
	cfg Config
	pub Publisher
	log logger.Logger

	mu     sync.Mutex
	staged []model.RoutePlan
	active *Run
}

// New creates a simulator publishing through pub.
func New(cfg Config, pub Publisher, log logger.Logger) *Simulator {
	cfg.SetDefaults()
	return &Simulator{cfg: cfg, pub: pub, log: logger.OrNop(log)}
}

// SetPlans stages the plans used by the next Start.
func (s *Simulator) SetPlans(plans []model.RoutePlan) {
	cp := s.sanitise(plans)
	s.mu.Lock()
	s.staged = cp
	s.mu.Unlock()
}

func (s *Simulator) sanitise(plans []model.RoutePlan) []model.RoutePlan {
	cp := make([]model.RoutePlan, 0, len(plans))
	for _, p := range plans {
		if len(p.Waypoints) == 0 {
			s.log.Warnf("simulation: plan for %s has no waypoints, skipped", p.VehicleID)
			continue
		}
		p.Waypoints = slices.Clone(p.Waypoints)
		p.Cursor = clamp(p.Cursor, p.LastIndex())
		cp = append(cp, p)
	}
	return cp
}

// Start begins a run over the staged plans, replacing the active run.
// Staged plans are consumed: a Start without a new SetPlans runs no plans.
// Zero or negative arguments fall back to the configured defaults.
func (s *Simulator) Start(speedFactor float64, interval time.Duration) *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	plans := s.staged
	s.staged = nil
	return s.startLocked(plans, speedFactor, interval)
}

// StartWith replaces the active run with a run over plans in one step.
// Plans staged by SetPlans are left for the next Start.
func (s *Simulator) StartWith(plans []model.RoutePlan, speedFactor float64, interval time.Duration) *Run {
	cp := s.sanitise(plans)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(cp, speedFactor, interval)
}

func (s *Simulator) startLocked(plans []model.RoutePlan, speedFactor float64, interval time.Duration) *Run {
	if speedFactor <= 0 {
		speedFactor = s.cfg.SpeedFactor
	}
	if interval <= 0 {
		interval = s.cfg.interval()
	}
	if s.active != nil {
		s.active.stop()
		s.log.Infof("simulation run %s replaced", s.active.ID)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Run{
		ID:          uuid.NewString(),
		SpeedFactor: speedFactor,
		Interval:    interval,
		StartedAt:   time.Now().UTC(),
		plans:       plans,
		pub:         s.pub,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	s.active = r
	runsStarted.Inc()
	activePlans.Set(float64(len(r.plans)))
	go r.loop(ctx)
	s.log.Infof("simulation run %s started: %d plans, speed %.2f, tick %s", r.ID, len(r.plans), speedFactor, interval)
	return r
}

// Stop cancels the active run and discards its plans. It reports whether a
// run was active. Vehicle statuses are left untouched.
func (s *Simulator) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged = nil
	if s.active == nil {
		return false
	}
	s.active.stop()
	s.log.Infof("simulation run %s stopped after %d ticks", s.active.ID, s.active.Ticks())
	s.active = nil
	activePlans.Set(0)
	return true
}

// Active returns the active run, nil when idle.
func (s *Simulator) Active() *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Run is a handle on a simulation run.
type Run struct {
	ID          string
	SpeedFactor float64
	Interval    time.Duration
	StartedAt   time.Time

	mu    sync.Mutex
	plans []model.RoutePlan
	ticks int
	pub   Publisher

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (r *Run) loop(ctx context.Context) {
	defer close(r.done)
	t := time.NewTicker(r.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Tick()
		}
	}
}

// Tick advances every plan by one step and publishes the resulting
// positions. It is safe to call concurrently with the timer.
func (r *Run) Tick() {
	r.mu.Lock()
	out := make([]model.PositionUpdate, 0, len(r.plans))
	now := time.Now().UTC()
	for i := range r.plans {
		p := &r.plans[i]
		speed := r.SpeedFactor
		if p.SpeedFactor > 0 {
			speed = p.SpeedFactor
		}
		p.Cursor = clamp(p.Cursor+speed, p.LastIndex())
		cursor := p.Cursor
		out = append(out, model.PositionUpdate{
			VehicleID: p.VehicleID,
			Location:  p.Waypoints[int(math.Floor(cursor))],
			Timestamp: now,
			Source:    SourceSimulation,
			Cursor:    &cursor,
		})
	}
	r.ticks++
	r.mu.Unlock()

	ticksTotal.Inc()
	if r.pub == nil {
		return
	}
	for _, u := range out {
		r.pub.PublishPosition(u)
	}
}

// Plans returns a snapshot of the run's plans. It is empty once the run
// has stopped.
func (r *Run) Plans() []model.RoutePlan {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.RoutePlan, len(r.plans))
	for i, p := range r.plans {
		p.Waypoints = slices.Clone(p.Waypoints)
		out[i] = p
	}
	return out
}

// Ticks returns the number of ticks processed.
func (r *Run) Ticks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ticks
}

// Done is closed once the run's timer has stopped.
func (r *Run) Done() <-chan struct{} { return r.done }

func (r *Run) stop() {
	r.once.Do(func() {
		r.cancel()
		<-r.done
		r.mu.Lock()
		r.plans = nil
		r.mu.Unlock()
	})
}

func clamp(cursor float64, last int) float64 {
	if cursor < 0 {
		return 0
	}
	if cursor > float64(last) {
		return float64(last)
	}
	return cursor
}
