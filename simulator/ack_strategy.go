package main

import (
	"context"
	"log"
	"math/rand"
	"time"

	"github.com/kilianp07/emsdispatch/core/events"
)

var rng = rand.New(rand.NewSource(time.Now().UnixNano()))

// KindAcknowledged is sent back when a unit accepts a dispatch.
const KindAcknowledged = "acknowledged"

// Publish sends a message to the dispatch service.
type Publish func(m events.Upstream) error

// AckStrategy defines how a unit acknowledges dispatch instructions.
type AckStrategy interface {
	Ack(ctx context.Context, pub Publish, d events.TrackingDispatch)
}

// AutoAck sends an acknowledgement after an optional fixed delay.
type AutoAck struct {
	Delay time.Duration
}

// Ack implements AckStrategy.
func (a AutoAck) Ack(ctx context.Context, pub Publish, d events.TrackingDispatch) {
	if a.Delay > 0 {
		select {
		case <-time.After(a.Delay):
		case <-ctx.Done():
			return
		}
	}
	ack := events.TrackingDispatch{CallID: d.CallID, UnitID: d.UnitID, Kind: KindAcknowledged, At: time.Now().UnixMilli()}
	if err := pub(ack); err != nil {
		log.Printf("%s: ack %s: %v", d.UnitID, d.CallID, err)
	}
}

// RandomAck drops a share of the acknowledgements.
type RandomAck struct {
	Delay    time.Duration
	DropRate float64
}

// Ack implements AckStrategy.
func (r RandomAck) Ack(ctx context.Context, pub Publish, d events.TrackingDispatch) {
	if r.DropRate > 0 && rng.Float64() < r.DropRate {
		log.Printf("%s: dropping ack for %s", d.UnitID, d.CallID)
		return
	}
	AutoAck{Delay: r.Delay}.Ack(ctx, pub, d)
}
