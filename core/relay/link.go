package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kilianp07/emsdispatch/core/events"
	"github.com/kilianp07/emsdispatch/core/logger"
)

// ErrUpstreamUnavailable is returned while the upstream link is down.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// Conn is an established upstream connection.
type Conn interface {
	Send(m events.Upstream) error
	// Messages delivers inbound messages. It is closed when the connection
	// is lost.
	Messages() <-chan events.Upstream
	Close() error
}

// Dialer opens upstream connections. Dial must honour ctx.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Link supervises the upstream connection, redialing with bounded
// exponential backoff.
type Link struct {
	dialer  Dialer
	cfg     LinkConfig
	handler func(events.Upstream)
	log     logger.Logger

	mu   sync.RWMutex
	conn Conn
}

// NewLink creates a link delivering inbound messages to handler.
func NewLink(d Dialer, cfg LinkConfig, handler func(events.Upstream), log logger.Logger) *Link {
	cfg.SetDefaults()
	if handler == nil {
		handler = func(events.Upstream) {}
	}
	return &Link{dialer: d, cfg: cfg, handler: handler, log: logger.OrNop(log)}
}

// Connected reports whether a connection is established.
func (l *Link) Connected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.conn != nil
}

// Send writes m on the current connection. Messages sent while
// disconnected are dropped with ErrUpstreamUnavailable.
func (l *Link) Send(m events.Upstream) error {
	l.mu.RLock()
	c := l.conn
	l.mu.RUnlock()
	if c == nil {
		upstreamMessages.WithLabelValues("out", "dropped").Inc()
		return ErrUpstreamUnavailable
	}
	if err := c.Send(m); err != nil {
		upstreamMessages.WithLabelValues("out", "dropped").Inc()
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	upstreamMessages.WithLabelValues("out", "sent").Inc()
	return nil
}

func (l *Link) newBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = l.cfg.initialDelay()
	eb.MaxInterval = l.cfg.maxDelay()
	eb.MaxElapsedTime = 0
	eb.Multiplier = 2
	eb.RandomizationFactor = 0.2
	eb.Reset()
	// WithMaxRetries counts retries, the first attempt is not one.
	return backoff.WithMaxRetries(eb, uint64(l.cfg.MaxAttempts-1))
}

// Run keeps the link connected until ctx is cancelled. It returns nil on
// cancellation and an error wrapping ErrUpstreamUnavailable once
// MaxAttempts consecutive connection attempts have failed.
func (l *Link) Run(ctx context.Context) error {
	b := l.newBackOff()
	failures := 0
	for {
		conn, err := l.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			upstreamReconnects.Inc()
			wait := b.NextBackOff()
			if wait == backoff.Stop {
				l.log.Errorf("upstream: giving up after %d attempts: %v", failures, err)
				return fmt.Errorf("%w: %d attempts failed: %v", ErrUpstreamUnavailable, failures, err)
			}
			l.log.Warnf("upstream dial failed (attempt %d/%d), retrying in %s: %v", failures, l.cfg.MaxAttempts, wait, err)
			if !sleep(ctx, wait) {
				return nil
			}
			continue
		}
		failures = 0
		b.Reset()
		l.serve(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		l.log.Warnf("upstream connection lost, reconnecting")
	}
}

func (l *Link) dial(ctx context.Context) (Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, l.cfg.dialTimeout())
	defer cancel()
	return l.dialer.Dial(dctx)
}

func (l *Link) serve(ctx context.Context, conn Conn) {
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	upstreamConnected.Set(1)
	l.log.Infof("upstream connected")

	defer func() {
		l.mu.Lock()
		l.conn = nil
		l.mu.Unlock()
		upstreamConnected.Set(0)
		if err := conn.Close(); err != nil {
			l.log.Debugf("upstream close: %v", err)
		}
	}()

	msgs := conn.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			l.handler(m)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
