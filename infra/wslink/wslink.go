// Package wslink implements the upstream tracking link over an outbound
// websocket with a single write goroutine per connection.
package wslink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/kilianp07/emsdispatch/core/events"
	"github.com/kilianp07/emsdispatch/core/relay"
	"github.com/kilianp07/emsdispatch/infra/logger"
)

var (
	// ErrClosed is returned by Send once the connection is gone.
	ErrClosed = errors.New("websocket link closed")
	// ErrSendBufferFull is returned when the write loop cannot keep up.
	ErrSendBufferFull = errors.New("websocket send buffer full")
)

// Config holds the upstream websocket endpoint settings.
type Config struct {
	URL string `json:"url"`
	// Token is appended as the "token" query parameter when set.
	Token       string `json:"token"`
	SendBuffer  int    `json:"send_buffer"`
	WriteWaitMs int    `json:"write_wait_ms"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.SendBuffer == 0 {
		c.SendBuffer = 256
	}
	if c.WriteWaitMs == 0 {
		c.WriteWaitMs = 10000
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("upstream.url is required for websocket mode")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid websocket URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("upstream.url scheme must be ws or wss, got %q", u.Scheme)
	}
	return nil
}

// TokenProvider supplies a bearer token for each connection attempt.
type TokenProvider interface {
	GetToken(ctx context.Context) (string, error)
}

// Dialer opens websocket connections to the tracking service.
type Dialer struct {
	cfg    Config
	dialer *ws.Dialer
	tokens TokenProvider
	log    logger.Logger
}

// NewDialer returns a dialer for cfg.
func NewDialer(cfg Config, log logger.Logger) *Dialer {
	cfg.SetDefaults()
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Dialer{cfg: cfg, dialer: ws.DefaultDialer, log: log}
}

// WithTokens sends "Authorization: Bearer <token>" from p on every dial.
func (d *Dialer) WithTokens(p TokenProvider) *Dialer {
	d.tokens = p
	return d
}

// Dial connects and starts the read and write loops.
func (d *Dialer) Dial(ctx context.Context) (relay.Conn, error) {
	u, err := url.Parse(d.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if d.cfg.Token != "" {
		q := u.Query()
		q.Set("token", d.cfg.Token)
		u.RawQuery = q.Encode()
	}
	var header http.Header
	if d.tokens != nil {
		tok, err := d.tokens.GetToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("upstream token: %w", err)
		}
		header = http.Header{"Authorization": []string{"Bearer " + tok}}
	}
	wsConn, _, err := d.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	c := &Conn{
		conn:      wsConn,
		sendCh:    make(chan []byte, d.cfg.SendBuffer),
		msgs:      make(chan events.Upstream, d.cfg.SendBuffer),
		done:      make(chan struct{}),
		writeWait: time.Duration(d.cfg.WriteWaitMs) * time.Millisecond,
		log:       d.log,
	}
	go c.writeLoop()
	go c.readLoop()
	return c, nil
}

// Conn is one upstream websocket session.
type Conn struct {
	conn      *ws.Conn
	sendCh    chan []byte
	msgs      chan events.Upstream
	done      chan struct{}
	writeWait time.Duration
	log       logger.Logger

	mu     sync.Mutex
	closed bool
}

// Send queues m for the write loop. Non-blocking; fails when the queue is full.
func (c *Conn) Send(m events.Upstream) error {
	data, err := events.EncodeUpstream(m)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.sendCh <- data:
		return nil
	default:
		c.log.Warnf("websocket send channel full, dropping %s", m.Type())
		return ErrSendBufferFull
	}
}

// Messages delivers decoded inbound messages; closed when the session ends.
func (c *Conn) Messages() <-chan events.Upstream { return c.msgs }

// Close sends a close frame and stops both loops.
func (c *Conn) Close() error {
	if !c.shutdown() {
		return nil
	}
	_ = c.conn.WriteControl(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.conn.Close()
}

// shutdown marks the session closed; it reports whether this call did it.
func (c *Conn) shutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.done)
	return true
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.sendCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
				c.log.Warnf("websocket SetWriteDeadline error: %v", err)
				c.fail()
				return
			}
			if err := c.conn.WriteMessage(ws.TextMessage, data); err != nil {
				c.log.Warnf("websocket write error: %v", err)
				c.fail()
				return
			}
		}
	}
}

func (c *Conn) readLoop() {
	defer close(c.msgs)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.Warnf("websocket read error: %v", err)
				c.fail()
			}
			return
		}
		m, err := events.DecodeUpstream(raw)
		if err != nil {
			c.log.Warnf("discarding upstream frame: %v", err)
			continue
		}
		select {
		case c.msgs <- m:
		case <-c.done:
			return
		default:
			c.log.Warnf("inbound buffer full, dropping %s", m.Type())
		}
	}
}

// fail tears the session down so the reader unblocks and Messages closes.
func (c *Conn) fail() {
	if c.shutdown() {
		_ = c.conn.Close()
	}
}
