// Package ws serves downstream clients (dispatch consoles, field units) over
// websocket and bridges them to the relay.
package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kilianp07/emsdispatch/core/events"
	"github.com/kilianp07/emsdispatch/core/relay"
	"github.com/kilianp07/emsdispatch/infra/logger"
)

// Config tunes the per-connection loops.
type Config struct {
	ReadLimit    int64 `json:"read_limit"`
	WriteWaitMs  int   `json:"write_wait_ms"`
	PongWaitMs   int   `json:"pong_wait_ms"`
	AllowOrigins bool  `json:"allow_all_origins"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.ReadLimit == 0 {
		c.ReadLimit = 64 << 10
	}
	if c.WriteWaitMs == 0 {
		c.WriteWaitMs = 10000
	}
	if c.PongWaitMs == 0 {
		c.PongWaitMs = 60000
	}
}

// Server upgrades HTTP requests and pumps events both ways.
type Server struct {
	relay    *relay.Relay
	log      logger.Logger
	upgrader websocket.Upgrader
	readLim  int64
	write    time.Duration
	pong     time.Duration

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewServer returns a handler bound to r.
func NewServer(r *relay.Relay, cfg Config, log logger.Logger) *Server {
	cfg.SetDefaults()
	if log == nil {
		log = logger.NopLogger{}
	}
	up := websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}
	if cfg.AllowOrigins {
		up.CheckOrigin = func(*http.Request) bool { return true }
	}
	return &Server{
		relay:    r,
		log:      log,
		upgrader: up,
		readLim:  cfg.ReadLimit,
		write:    time.Duration(cfg.WriteWaitMs) * time.Millisecond,
		pong:     time.Duration(cfg.PongWaitMs) * time.Millisecond,
		conns:    make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP handles /ws?role=<role>.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("role")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("upgrade failed: %v", err)
		return
	}
	s.track(conn, true)
	client := s.relay.Connect(uuid.NewString(), role)
	s.log.Debugf("client %s connected from %s (role %q)", client.ID, r.RemoteAddr, role)

	go s.writePump(conn, client)
	s.readLoop(conn, client)
}

func (s *Server) readLoop(conn *websocket.Conn, client *relay.Client) {
	defer func() {
		s.relay.Disconnect(client)
		s.track(conn, false)
		_ = conn.Close()
	}()
	conn.SetReadLimit(s.readLim)
	_ = conn.SetReadDeadline(time.Now().Add(s.pong))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.pong))
	})
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warnf("client %s read error: %v", client.ID, err)
			}
			return
		}
		cmd, err := events.DecodeClient(raw)
		if err != nil {
			s.log.Warnf("client %s sent invalid message: %v", client.ID, err)
			continue
		}
		s.relay.HandleClient(client, cmd)
	}
}

func (s *Server) writePump(conn *websocket.Conn, client *relay.Client) {
	ping := time.NewTicker(s.pong * 9 / 10)
	defer func() {
		ping.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case ev, ok := <-client.Events():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(s.write))
				return
			}
			frame, err := events.EncodeDownstream(ev)
			if err != nil {
				s.log.Errorf("encode %s: %v", ev.Name(), err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(s.write))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.log.Debugf("client %s write error: %v", client.ID, err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.write)); err != nil {
				return
			}
		}
	}
}

func (s *Server) track(conn *websocket.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// Connections returns the number of open websocket connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close terminates every open connection.
func (s *Server) Close() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}
