package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/VanDung-dev/HieraMesh/hieramesh/node"
)

const (
	writeWait    = 5 * time.Second
	pingInterval = 30 * time.Second
)

// StatusSource reports node status for /health.
type StatusSource interface {
	Status() node.Status
}

// Health is the /health response body.
type Health struct {
	Status     string `json:"status"`
	PeerID     string `json:"peer_id"`
	Name       string `json:"name"`
	Peers      int    `json:"peers"`
	SecureOnly bool   `json:"secure_only"`
}

// Server runs an HTTP server exposing /metrics, /health and the /events
// websocket.
type Server struct {
	server   *http.Server
	upgrader websocket.Upgrader
	bus      *node.EventBus
	status   StatusSource
	log      *zap.Logger

	mu        sync.Mutex
	listener  net.Listener
	ready     chan struct{}
	readyOnce sync.Once
}

// NewServer creates a server on addr. bus may be nil to disable /events.
func NewServer(addr string, metrics *Metrics, status StatusSource, bus *node.EventBus, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		bus:    bus,
		status: status,
		log:    log,
		ready:  make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", s.handleHealth)
	if bus != nil {
		mux.HandleFunc("/events", s.handleEvents)
	}

	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Addr returns the bound address once the server is listening, or nil if
// listening failed.
func (s *Server) Addr() net.Addr {
	<-s.ready
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.markReady()
		return err
	}
	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()
	s.markReady()

	s.log.Info("monitoring server listening", zap.String("address", lis.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.server.Serve(lis) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		// Hijacked websocket connections are not tracked by Shutdown.
		_ = s.server.Close()
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := Health{Status: "ok"}
	if s.status != nil {
		st := s.status.Status()
		h.PeerID, h.Name = st.PeerID, st.Name
		h.Peers, h.SecureOnly = st.Peers, st.SecureOnly
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h)
}

// handleEvents streams display events as JSON text frames until the client
// goes away or the bus closes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	c, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("ws upgrade failed", zap.Error(err))
		return
	}
	defer c.Close()

	events, cancel := s.bus.Subscribe(128)
	defer cancel()

	// Drain client frames so close and pong control messages are handled.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := c.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	s.log.Debug("event subscriber connected", zap.String("remote", r.RemoteAddr))
	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				_ = c.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "node stopped"),
					time.Now().Add(writeWait))
				return
			}
			_ = c.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
