package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/VanDung-dev/HieraMesh/hieramesh/crypto"
	"github.com/VanDung-dev/HieraMesh/hieramesh/network"
	"github.com/VanDung-dev/HieraMesh/hieramesh/protocol"
)

// ErrAlreadyRunning is returned by a second concurrent Run.
var ErrAlreadyRunning = errors.New("service already running")

// Service runs a node: the transport listener, the UDP discovery socket and
// the periodic announce, heartbeat and sweep loops.
type Service struct {
	cfg       Config
	log       *zap.Logger
	coord     *Coordinator
	transport network.Transport
	bus       *EventBus

	inflight sync.WaitGroup

	mu      sync.RWMutex
	running bool
}

// NewService creates a node with a fresh identity. log and rec may be nil.
func NewService(cfg Config, log *zap.Logger, rec Recorder) (*Service, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.PeerID == "" {
		cfg.PeerID = uuid.NewString()
	}

	identity, err := crypto.NewIdentity(cfg.PeerID, cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}

	advertise := cfg.AdvertiseAddr()
	transport, err := network.New(cfg.Transport, cfg.ListenAddr(), advertise)
	if err != nil {
		return nil, err
	}

	return &Service{
		cfg:       cfg,
		log:       log,
		coord:     NewCoordinator(identity, advertise, transport, cfg, WithLogger(log), WithRecorder(rec)),
		transport: transport,
		bus:       NewEventBus(),
	}, nil
}

// Coordinator returns the node state owner.
func (s *Service) Coordinator() *Coordinator { return s.coord }

// Events returns the display event bus.
func (s *Service) Events() *EventBus { return s.bus }

// Config returns the normalized configuration.
func (s *Service) Config() Config { return s.cfg }

// Publish forwards locally produced events to subscribers.
func (s *Service) Publish(events ...protocol.Event) {
	s.bus.Publish(events...)
}

// IsRunning returns whether Run is active.
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Run starts all node activities and blocks until ctx is cancelled or one
// of them fails. On the way out it tells peers it is leaving.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	disc, err := network.ListenDiscovery(ctx, s.cfg.DiscoveryAddr, s.cfg.DiscoveryPort)
	if err != nil {
		s.release()
		return err
	}

	s.log.Info("node started",
		zap.String("name", s.cfg.Name),
		zap.String("address", s.coord.Address()),
		zap.String("transport", s.cfg.Transport),
		zap.Int("discovery_port", s.cfg.DiscoveryPort),
	)

	g, gctx := errgroup.WithContext(ctx)
	// Listeners outlive gctx long enough for the exit broadcast.
	listenCtx, stopListening := context.WithCancel(context.Background())
	defer stopListening()

	handle := s.inbound(listenCtx)

	g.Go(func() error {
		<-gctx.Done()
		s.leave()
		stopListening()
		return nil
	})
	g.Go(func() error {
		if err := s.transport.Listen(listenCtx, handle); err != nil {
			return fmt.Errorf("transport listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return disc.Serve(listenCtx, handle)
	})
	g.Go(func() error {
		every(gctx, s.cfg.DiscoveryInterval, func() { s.announce(disc, s.coord.AnnounceDiscovery) })
		return nil
	})
	g.Go(func() error {
		every(gctx, s.cfg.HeartbeatInterval, func() { s.announce(disc, s.coord.AnnounceHeartbeat) })
		return nil
	})
	g.Go(func() error {
		every(gctx, s.cfg.SweepInterval, func() { s.bus.Publish(s.coord.Sweep(s.cfg.StaleTimeout).Events...) })
		return nil
	})

	err = g.Wait()
	s.inflight.Wait()

	_ = disc.Close()
	s.release()

	s.log.Info("node stopped",
		zap.String("name", s.cfg.Name),
		zap.Int64("events_dropped", s.bus.Dropped()))
	return err
}

func (s *Service) release() {
	_ = s.transport.Close()
	s.coord.Close()
	s.bus.Close()
}

// inbound applies a delivered message and sends whatever it produced
// without blocking the listener.
func (s *Service) inbound(ctx context.Context) network.InboundFunc {
	return func(data []byte, from string) {
		fx := s.coord.AcceptInbound(data, from)
		if fx.Empty() {
			return
		}
		s.bus.Publish(fx.Events...)
		if len(fx.Outbound) == 0 {
			return
		}
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			s.coord.Deliver(ctx, fx.Outbound)
		}()
	}
}

func (s *Service) announce(disc *network.DiscoverySocket, build func() ([]byte, error)) {
	data, err := build()
	if err != nil {
		s.log.Error("failed to encode announcement", zap.Error(err))
		return
	}
	if err := disc.Announce(data); err != nil {
		s.log.Warn("announcement failed", zap.Error(err))
	}
}

func (s *Service) leave() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SendTimeout)
	defer cancel()

	report := s.coord.AnnounceExit(ctx)
	s.log.Info("exit announced",
		zap.Int("peers", len(report.Deliveries)),
		zap.Int("failed", len(report.Failed())),
	)
}

// every calls fn now and then on each tick until ctx is done. Cancellation
// never waits for the next tick.
func every(ctx context.Context, interval time.Duration, fn func()) {
	if ctx.Err() != nil {
		return
	}
	fn()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
