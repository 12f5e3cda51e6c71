package simulation

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/emsdispatch/core/model"
)

type recorder struct {
	mu  sync.Mutex
	got []model.PositionUpdate
}

func (r *recorder) PublishPosition(p model.PositionUpdate) {
	r.mu.Lock()
	r.got = append(r.got, p)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func route(n int) []model.Location {
	out := make([]model.Location, n)
	for i := range out {
		out[i] = model.Location{Lat: 36.8 + float64(i)*0.001, Lng: 10.18}
	}
	return out
}

// hour keeps the timer from firing during deterministic tests.
const hour = time.Hour

func TestTickClampsToLastWaypoint(t *testing.T) {
	for _, speed := range []float64{0.3, 1, 2.5, 17} {
		rec := &recorder{}
		s := New(Config{}, rec, nil)
		s.SetPlans([]model.RoutePlan{{VehicleID: "v1", Waypoints: route(5)}})
		run := s.Start(speed, hour)
		for i := 0; i < 40; i++ {
			run.Tick()
			p := run.Plans()[0]
			require.LessOrEqual(t, p.Cursor, 4.0)
		}
		assert.Equal(t, 4.0, run.Plans()[0].Cursor)
		last := rec.got[len(rec.got)-1]
		assert.Equal(t, route(5)[4], last.Location)
		assert.Equal(t, 4.0, *last.Cursor)
		assert.Equal(t, SourceSimulation, last.Source)
		s.Stop()
	}
}

func TestTickPublishesFloorWaypoint(t *testing.T) {
	rec := &recorder{}
	s := New(Config{}, rec, nil)
	wps := route(4)
	s.SetPlans([]model.RoutePlan{
		{VehicleID: "slow", Waypoints: wps},
		{VehicleID: "fast", Waypoints: wps, SpeedFactor: 2},
	})
	run := s.Start(0.5, hour)
	defer s.Stop()

	run.Tick()
	run.Tick()
	run.Tick()
	require.Len(t, rec.got, 6)
	// slow: 0.5, 1.0, 1.5 -> waypoints 0, 1, 1
	assert.Equal(t, wps[0], rec.got[0].Location)
	assert.Equal(t, wps[1], rec.got[2].Location)
	assert.Equal(t, wps[1], rec.got[4].Location)
	// fast: 2, 3 (clamped), 3
	assert.Equal(t, wps[2], rec.got[1].Location)
	assert.Equal(t, wps[3], rec.got[3].Location)
	assert.Equal(t, wps[3], rec.got[5].Location)
	assert.Equal(t, 3, run.Ticks())
}

func TestSetPlansSanitises(t *testing.T) {
	s := New(Config{}, nil, nil)
	wps := route(3)
	s.SetPlans([]model.RoutePlan{
		{VehicleID: "empty"},
		{VehicleID: "resumed", Waypoints: wps, Cursor: 9},
	})
	wps[0] = model.Location{}
	run := s.Start(1, hour)
	defer s.Stop()
	plans := run.Plans()
	require.Len(t, plans, 1)
	assert.Equal(t, "resumed", plans[0].VehicleID)
	assert.Equal(t, 2.0, plans[0].Cursor)
	assert.NotEqual(t, model.Location{}, plans[0].Waypoints[0])
	run.Tick()
}

func TestStartReplacesActiveRun(t *testing.T) {
	ResetMetrics(nil)
	t.Cleanup(func() { ResetMetrics(nil) })
	s := New(Config{}, &recorder{}, nil)
	s.SetPlans([]model.RoutePlan{{VehicleID: "v1", Waypoints: route(3)}})
	first := s.Start(1, hour)
	s.SetPlans([]model.RoutePlan{{VehicleID: "v2", Waypoints: route(3)}, {VehicleID: "v3", Waypoints: route(2)}})
	second := s.Start(1, hour)

	select {
	case <-first.Done():
	default:
		t.Fatalf("first run still active")
	}
	assert.Empty(t, first.Plans())
	assert.Same(t, second, s.Active())
	assert.NotEqual(t, first.ID, second.ID)
	assert.Len(t, second.Plans(), 2)
	assert.Equal(t, float64(2), testutil.ToFloat64(runsStarted))
	assert.Equal(t, float64(2), testutil.ToFloat64(activePlans))

	assert.True(t, s.Stop())
	assert.False(t, s.Stop())
	assert.Nil(t, s.Active())
	assert.Empty(t, second.Plans())
	assert.Equal(t, float64(0), testutil.ToFloat64(activePlans))
}

func TestStartWithIgnoresInterleavedStaging(t *testing.T) {
	ResetMetrics(nil)
	t.Cleanup(func() { ResetMetrics(nil) })
	s := New(Config{}, &recorder{}, nil)
	a := []model.RoutePlan{{VehicleID: "a", Waypoints: route(3)}}
	b := []model.RoutePlan{{VehicleID: "b1", Waypoints: route(3)}, {VehicleID: "b2", Waypoints: route(2)}}

	s.SetPlans(a)
	first := s.StartWith(b, 1, hour)
	second := s.StartWith(a, 1, hour)
	defer s.Stop()

	assert.Empty(t, first.Plans())
	require.Len(t, second.Plans(), 1)
	assert.Equal(t, "a", second.Plans()[0].VehicleID)
	assert.Same(t, second, s.Active())

	// staged plans survive StartWith
	third := s.Start(1, hour)
	require.Len(t, third.Plans(), 1)
	assert.Equal(t, "a", third.Plans()[0].VehicleID)
}

func TestStartWithConcurrentCallsKeepPlans(t *testing.T) {
	ResetMetrics(nil)
	t.Cleanup(func() { ResetMetrics(nil) })
	s := New(Config{}, &recorder{}, nil)
	defer s.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			plans := make([]model.RoutePlan, n%3+1)
			for j := range plans {
				plans[j] = model.RoutePlan{VehicleID: "v", Waypoints: route(2)}
			}
			run := s.StartWith(plans, 1, hour)
			assert.NotNil(t, run)
		}(i)
	}
	wg.Wait()
	assert.NotEmpty(t, s.Active().Plans())
}

func TestStartConsumesStagedPlans(t *testing.T) {
	ResetMetrics(nil)
	t.Cleanup(func() { ResetMetrics(nil) })
	s := New(Config{}, &recorder{}, nil)
	s.SetPlans([]model.RoutePlan{{VehicleID: "v1", Waypoints: route(3)}})
	first := s.Start(1, hour)
	require.Len(t, first.Plans(), 1)

	second := s.Start(1, hour)
	defer s.Stop()
	assert.Empty(t, second.Plans())
	assert.Equal(t, float64(0), testutil.ToFloat64(activePlans))
}

func TestStopDiscardsStagedPlans(t *testing.T) {
	s := New(Config{}, nil, nil)
	s.SetPlans([]model.RoutePlan{{VehicleID: "v1", Waypoints: route(3)}})
	s.Stop()
	run := s.Start(1, hour)
	defer s.Stop()
	assert.Empty(t, run.Plans())
}

func TestTimerDrivesTicks(t *testing.T) {
	rec := &recorder{}
	s := New(Config{}, rec, nil)
	s.SetPlans([]model.RoutePlan{{VehicleID: "v1", Waypoints: route(3)}})
	run := s.Start(1, 5*time.Millisecond)
	deadline := time.Now().Add(2 * time.Second)
	for rec.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()
	require.GreaterOrEqual(t, rec.count(), 3)
	assert.Equal(t, 2.0, *rec.got[len(rec.got)-1].Cursor)
	n := rec.count()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, rec.count(), "ticks after stop")
	assert.Equal(t, 1.0, run.SpeedFactor)
}

func TestDefaults(t *testing.T) {
	s := New(Config{TickIntervalMs: 1500, SpeedFactor: 0.5}, nil, nil)
	run := s.Start(0, 0)
	defer s.Stop()
	assert.Equal(t, 0.5, run.SpeedFactor)
	assert.Equal(t, 1500*time.Millisecond, run.Interval)

	var c Config
	c.SetDefaults()
	assert.Equal(t, 2000, c.TickIntervalMs)
	assert.Equal(t, 1.0, c.SpeedFactor)
	assert.NoError(t, c.Validate())
	assert.Error(t, Config{TickIntervalMs: 1}.Validate())
}
