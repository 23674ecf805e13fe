// Package node ties identity, peer registry and voting together. The
// Coordinator is the single owner of that state: every inbound message is
// decoded, authenticated and applied in one critical section, and any
// messages it produces are sent only after the lock is released.
package node

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/VanDung-dev/HieraMesh/hieramesh/core"
	"github.com/VanDung-dev/HieraMesh/hieramesh/crypto"
	"github.com/VanDung-dev/HieraMesh/hieramesh/protocol"
	"github.com/VanDung-dev/HieraMesh/hieramesh/registry"
	"github.com/VanDung-dev/HieraMesh/hieramesh/voting"
)

// Sender delivers an encoded message to one address.
type Sender interface {
	Send(ctx context.Context, address string, data []byte) error
}

// Recorder observes message handling. monitoring.Metrics implements it.
type Recorder interface {
	Received(kind protocol.Kind)
	Rejected(kind protocol.Kind, reason protocol.Reason)
	Delivered(kind protocol.Kind, err error, elapsed time.Duration)
	PeerCount(n int)
	SecureMode(active bool)
}

type nopRecorder struct{}

func (nopRecorder) Received(protocol.Kind)                        {}
func (nopRecorder) Rejected(protocol.Kind, protocol.Reason)       {}
func (nopRecorder) Delivered(protocol.Kind, error, time.Duration) {}
func (nopRecorder) PeerCount(int)                                 {}
func (nopRecorder) SecureMode(bool)                               {}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.rec = r
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// Coordinator owns the node's shared state.
type Coordinator struct {
	mu sync.Mutex

	identity *crypto.Identity
	address  string
	peers    *registry.Registry
	votes    *voting.Engine
	router   *protocol.Router[*Coordinator]

	sender      Sender
	pool        *core.WorkerPool
	freshness   time.Duration
	sendTimeout time.Duration

	log *zap.Logger
	rec Recorder
	now func() time.Time
}

// NewCoordinator builds a coordinator for identity advertising address.
// Outbound messages go through sender on a pool of cfg.BroadcastWorkers.
func NewCoordinator(identity *crypto.Identity, address string, sender Sender, cfg Config, opts ...Option) *Coordinator {
	workers := cfg.BroadcastWorkers
	if workers < 1 {
		workers = 1
	}
	c := &Coordinator{
		identity:    identity,
		address:     address,
		peers:       registry.New(),
		votes:       voting.NewEngine(),
		sender:      sender,
		pool:        core.NewWorkerPool("broadcast", workers, workers*32),
		freshness:   cfg.FreshnessWindow,
		sendTimeout: cfg.SendTimeout,
		log:         zap.NewNop(),
		rec:         nopRecorder{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(zap.String("peer_id", identity.PeerID))
	c.router = newRouter()
	return c
}

// Close stops the broadcast workers, waiting at most twice the send
// timeout for queued deliveries.
func (c *Coordinator) Close() {
	if c.sendTimeout > 0 {
		if err := c.pool.ShutdownWithTimeout(2 * c.sendTimeout); err != nil {
			c.log.Warn("broadcast workers did not stop", zap.Error(err))
		}
	} else {
		c.pool.Shutdown()
	}
	st := c.pool.GetStats()
	c.log.Debug("broadcast pool stopped",
		zap.Int64("completed", st.Completed),
		zap.Int64("failed", st.Failed),
		zap.Float64("success_rate", st.SuccessRate))
}

// Identity returns the node identity.
func (c *Coordinator) Identity() *crypto.Identity { return c.identity }

// Address returns the advertised transport address.
func (c *Coordinator) Address() string { return c.address }

// AcceptInbound decodes data and applies it. Malformed input produces a
// MessageRejected event and leaves all state untouched.
func (c *Coordinator) AcceptInbound(data []byte, from string) protocol.Effects {
	msg, err := protocol.Decode(data)
	if err != nil {
		c.log.Debug("dropping undecodable message", zap.String("from", from), zap.Error(err))
		c.rec.Rejected("", protocol.ReasonDecode)
		return protocol.Effects{Events: []protocol.Event{
			protocol.Rejected("", protocol.ReasonDecode, from, err.Error()),
		}}
	}
	return c.Accept(msg, from)
}

// Accept applies an already decoded message.
func (c *Coordinator) Accept(msg protocol.Message, from string) protocol.Effects {
	c.rec.Received(msg.Kind())

	c.mu.Lock()
	fx, err := c.router.Dispatch(c, msg, from)
	peerCount := c.peers.Len()
	secure := c.votes.SecureOnly()
	c.mu.Unlock()

	if err != nil {
		c.log.Warn("no handler for message", zap.String("kind", string(msg.Kind())), zap.Error(err))
		fx.Emit(protocol.Rejected(msg.Kind(), protocol.ReasonUnhandled, from, err.Error()))
	}
	for _, ev := range fx.Events {
		if ev.Type == protocol.MessageRejected {
			c.rec.Rejected(ev.Kind, ev.Reason)
		}
	}
	c.rec.PeerCount(peerCount)
	c.rec.SecureMode(secure)
	return fx
}

// Sweep evicts peers not seen within timeout.
func (c *Coordinator) Sweep(timeout time.Duration) protocol.Effects {
	c.mu.Lock()
	evicted := c.peers.Sweep(c.now(), timeout)
	n := c.peers.Len()
	c.mu.Unlock()

	var fx protocol.Effects
	for _, p := range evicted {
		c.log.Info("peer timed out", zap.String("peer", p.ID), zap.String("name", p.Name))
		fx.Emit(protocol.Event{
			Type: protocol.PeerLeft, PeerID: p.ID, PeerName: p.Name,
			Address: p.Address, Reason: protocol.ReasonTimeout,
		})
	}
	c.rec.PeerCount(n)
	return fx
}

// networkSize is the peer count a proposal is tallied against: every live
// remote peer plus this node. Callers hold c.mu.
func (c *Coordinator) networkSize() int {
	return c.peers.Len() + 1
}

// Peers returns a snapshot of the registry.
func (c *Coordinator) Peers() []registry.PeerInfo {
	return c.peers.Snapshot()
}

// Proposals returns every proposal with its current tally.
func (c *Coordinator) Proposals() []voting.Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.votes.Proposals(c.networkSize())
}

// Proposal returns one proposal with its current tally.
func (c *Coordinator) Proposal(id string) (voting.Summary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.votes.Proposal(id, c.networkSize())
}

// SecureOnly reports whether secure-only mode is active.
func (c *Coordinator) SecureOnly() bool {
	return c.votes.SecureOnly()
}

// Status summarizes the node for display.
type Status struct {
	PeerID      string           `json:"peer_id"`
	Name        string           `json:"name"`
	Address     string           `json:"address"`
	Fingerprint string           `json:"fingerprint"`
	Security    string           `json:"security"`
	SecureOnly  bool             `json:"secure_only"`
	ActivatedBy string           `json:"activated_by,omitempty"`
	Peers       int              `json:"peers"`
	NetworkSize int              `json:"network_size"`
	Required    int              `json:"required"`
	KnownKeys   int              `json:"known_keys"`
	Proposals   []voting.Summary `json:"proposals"`
}

// Status returns the current node status with live tallies.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.networkSize()
	activatedBy, _ := c.votes.ActivatedBy()
	return Status{
		PeerID:      c.identity.PeerID,
		Name:        c.identity.Name,
		Address:     c.address,
		Fingerprint: c.identity.Fingerprint(),
		Security:    c.votes.State().String(),
		SecureOnly:  c.votes.SecureOnly(),
		ActivatedBy: activatedBy,
		Peers:       c.peers.Len(),
		NetworkSize: n,
		Required:    voting.RequiredApprovals(n),
		KnownKeys:   c.identity.KnownKeys().Len(),
		Proposals:   c.votes.Proposals(n),
	}
}

var errNoSender = errors.New("no sender configured")
