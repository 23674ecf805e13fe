package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrServerRunning is returned by a second ListenAndServe.
var ErrServerRunning = errors.New("server is already running")

// Idle connections are closed after this long without a request.
const idleTimeout = 2 * time.Minute

// Server is a TCP server answering inspect requests.
type Server struct {
	handler *Handler
	auth    *Authenticator
	log     *zap.Logger

	mu        sync.Mutex
	listener  net.Listener
	conns     sync.WaitGroup
	ready     chan struct{}
	readyOnce sync.Once
}

// NewServer creates a Server. auth may be nil to disable authentication.
func NewServer(source Source, auth *Authenticator, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		handler: NewHandler(source),
		auth:    auth,
		log:     log,
		ready:   make(chan struct{}),
	}
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

// ListenAndServe serves address until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, address string) error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return ErrServerRunning
	}
	lis, err := net.Listen("tcp", address)
	if err != nil {
		s.mu.Unlock()
		s.markReady()
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	s.listener = lis
	s.mu.Unlock()
	s.markReady()

	s.log.Info("inspect server listening",
		zap.String("address", lis.Addr().String()),
		zap.Bool("auth", s.auth.IsEnabled()))

	stop := context.AfterFunc(ctx, func() { _ = lis.Close() })
	defer stop()

	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.conns.Wait()
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.log.Warn("accept failed", zap.Error(err))
			continue
		}

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

// handleConnection authenticates the client, then answers requests until
// it disconnects.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	log := s.log.With(zap.String("remote", conn.RemoteAddr().String()))

	_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
	var hello AuthMessage
	if err := readJSON(conn, &hello); err != nil {
		log.Debug("handshake failed", zap.Error(err))
		return
	}
	if err := s.authenticate(hello); err != nil {
		log.Warn("client rejected", zap.Error(err))
		_ = writeJSON(conn, AuthResponse{Error: err.Error()})
		return
	}
	if err := writeJSON(conn, AuthResponse{Success: true}); err != nil {
		return
	}

	for {
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
		var req Request
		if err := readJSON(conn, &req); err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.Debug("read failed", zap.Error(err))
			}
			return
		}

		body, err := s.handler.Handle(req)
		if err != nil {
			log.Debug("request failed", zap.String("type", req.Type), zap.Error(err))
			err = writeResponse(conn, StatusError, []byte(err.Error()))
		} else {
			err = writeResponse(conn, StatusOK, body)
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) authenticate(msg AuthMessage) error {
	if msg.Type != "auth" {
		return ErrAuthRequired
	}
	if err := s.auth.ValidateToken(msg.Token); err != nil {
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	return nil
}
