package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/kilianp07/emsdispatch/core/events"
	"github.com/kilianp07/emsdispatch/core/logger"
	"github.com/kilianp07/emsdispatch/core/model"
	"github.com/kilianp07/emsdispatch/internal/eventbus"
)

// Position sources.
const (
	SourceSimulation = "simulation"
	SourceClient     = "client"
	SourceUpstream   = "upstream"
)

// Upstream is the outbound side of the upstream link.
type Upstream interface {
	Send(m events.Upstream) error
}

// Client is a downstream connection registered with the relay.
type Client struct {
	ID   string
	Role string
	sub  *eventbus.Subscription[events.Downstream]
}

// Events returns the client's delivery channel. It is closed when the
// client disconnects.
func (c *Client) Events() <-chan events.Downstream { return c.sub.C() }

// Relay fans events out to rooms and bridges the upstream link.
type Relay struct {
	cfg             Config
	log             logger.Logger
	rooms           *eventbus.Bus[events.Downstream]
	positions       *eventbus.Bus[model.PositionUpdate]
	dispatcherRooms []string
	now             func() time.Time

	mu       sync.RWMutex
	upstream Upstream
}

// New creates a relay. A nil logger discards output.
func New(cfg Config, log logger.Logger) *Relay {
	cfg.SetDefaults()
	rooms := make([]string, len(cfg.DispatcherRoles))
	for i, r := range cfg.DispatcherRoles {
		rooms[i] = events.RoleRoom(r)
	}
	return &Relay{
		cfg:             cfg,
		log:             logger.OrNop(log),
		rooms:           eventbus.New[events.Downstream](),
		positions:       eventbus.New[model.PositionUpdate](),
		dispatcherRooms: rooms,
		now:             time.Now,
	}
}

// SetUpstream attaches the upstream link. Nil detaches it.
func (r *Relay) SetUpstream(u Upstream) {
	r.mu.Lock()
	r.upstream = u
	r.mu.Unlock()
}

// DispatcherRooms returns the role rooms receiving fleet-wide events.
func (r *Relay) DispatcherRooms() []string {
	return append([]string(nil), r.dispatcherRooms...)
}

// Connect registers a downstream client and joins it to its role room.
func (r *Relay) Connect(id, role string) *Client {
	c := &Client{ID: id, Role: role, sub: r.rooms.Subscribe(r.cfg.ClientBuffer)}
	if role != "" {
		r.rooms.Join(c.sub, events.RoleRoom(role))
	}
	clientConnections.Inc()
	activeRooms.Set(float64(r.rooms.TopicCount()))
	r.log.Debugf("client %s connected with role %q", id, role)
	return c
}

// Disconnect removes the client from every room and closes its channel.
func (r *Relay) Disconnect(c *Client) {
	r.rooms.Unsubscribe(c.sub)
	clientConnections.Dec()
	activeRooms.Set(float64(r.rooms.TopicCount()))
	r.log.Debugf("client %s disconnected", c.ID)
}

// Join adds the client to room. Joining twice has no effect.
func (r *Relay) Join(c *Client, room string) {
	if r.rooms.Join(c.sub, room) {
		activeRooms.Set(float64(r.rooms.TopicCount()))
	}
}

// Leave removes the client from room. Leaving a room twice has no effect.
func (r *Relay) Leave(c *Client, room string) {
	if r.rooms.Leave(c.sub, room) {
		activeRooms.Set(float64(r.rooms.TopicCount()))
	}
}

// Rooms lists the rooms the client has joined.
func (r *Relay) Rooms(c *Client) []string { return r.rooms.Topics(c.sub) }

// Members returns the number of clients in room.
func (r *Relay) Members(room string) int { return r.rooms.Members(room) }

// Publish delivers ev to its audience. It never blocks.
func (r *Relay) Publish(ev events.Downstream) {
	d := r.rooms.PublishTo(ev, ev.Audience(r.dispatcherRooms)...)
	eventsDelivered.WithLabelValues(ev.Name()).Add(float64(d.Delivered))
	if d.Dropped > 0 {
		eventsDropped.WithLabelValues(ev.Name()).Add(float64(d.Dropped))
		r.log.Debugf("%s: dropped for %d slow clients", ev.Name(), d.Dropped)
	}
}

// PublishPosition fans a locally produced position out to clients, forwards
// it upstream and notifies position observers.
func (r *Relay) PublishPosition(p model.PositionUpdate) {
	if p.Timestamp.IsZero() {
		p.Timestamp = r.now().UTC()
	}
	ev := events.LocationUpdated{VehicleID: p.VehicleID, Location: p.Location, Timestamp: p.Timestamp}
	r.Publish(ev)
	r.forward(ev)
	r.positions.Publish(p)
}

// HandleUpstream re-emits a message received on the upstream link under its
// downstream name. It is never sent back upstream.
func (r *Relay) HandleUpstream(m events.Upstream) {
	upstreamMessages.WithLabelValues("in", "received").Inc()
	ev := stamp(m.ToDownstream(), r.now().UTC())
	r.Publish(ev)
	if loc, ok := ev.(events.LocationUpdated); ok {
		r.positions.Publish(model.PositionUpdate{
			VehicleID: loc.VehicleID,
			Location:  loc.Location,
			Timestamp: loc.Timestamp,
			Source:    SourceUpstream,
		})
	}
}

// HandleClient applies a command received from a downstream client.
func (r *Relay) HandleClient(c *Client, cmd events.ClientCommand) {
	switch m := cmd.(type) {
	case events.JoinRoom:
		r.Join(c, m.Room)
	case events.LeaveRoom:
		r.Leave(c, m.Room)
	case events.SubmitLocation:
		ev := m.Event(r.now().UTC())
		r.PublishPosition(model.PositionUpdate{
			VehicleID: ev.VehicleID,
			Location:  ev.Location,
			Timestamp: ev.Timestamp,
			Source:    SourceClient,
		})
	case events.SubmitDispatch:
		ev := m.Event(r.now().UTC())
		r.Publish(ev)
		r.forward(ev)
	default:
		r.log.Warnf("client %s: unhandled command %T", c.ID, cmd)
	}
}

// SubscribePositions returns a subscription receiving every accepted
// position, whatever its source.
func (r *Relay) SubscribePositions(buffer int) *eventbus.Subscription[model.PositionUpdate] {
	return r.positions.Subscribe(buffer)
}

// UnsubscribePositions releases a subscription from SubscribePositions.
func (r *Relay) UnsubscribePositions(s *eventbus.Subscription[model.PositionUpdate]) {
	r.positions.Unsubscribe(s)
}

// Close disconnects every client and position observer.
func (r *Relay) Close() {
	r.rooms.Close()
	r.positions.Close()
	activeRooms.Set(0)
}

func (r *Relay) forward(ev events.Downstream) {
	u, ok := ev.ToUpstream()
	if !ok {
		return
	}
	r.mu.RLock()
	up := r.upstream
	r.mu.RUnlock()
	if up == nil {
		return
	}
	if err := up.Send(u); err != nil {
		if errors.Is(err, ErrUpstreamUnavailable) {
			r.log.Debugf("upstream %s dropped: %v", u.Type(), err)
			return
		}
		r.log.Warnf("upstream %s: %v", u.Type(), err)
	}
}

func stamp(ev events.Downstream, now time.Time) events.Downstream {
	switch e := ev.(type) {
	case events.LocationUpdated:
		if e.Timestamp.IsZero() {
			e.Timestamp = now
		}
		return e
	case events.IncidentDispatch:
		if e.Timestamp.IsZero() {
			e.Timestamp = now
		}
		return e
	}
	return ev
}
