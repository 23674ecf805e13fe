package node

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/VanDung-dev/HieraMesh/hieramesh/crypto"
	"github.com/VanDung-dev/HieraMesh/hieramesh/network"
	"github.com/VanDung-dev/HieraMesh/hieramesh/protocol"
)

var testNow = time.Unix(1_700_000_000, 0)

type frame struct {
	to, from string
	data     []byte
}

// memNet is an in-memory transport. Sends are queued and only delivered
// by flush, so tests control exactly when messages arrive.
type memNet struct {
	t *testing.T

	mu    sync.Mutex
	nodes map[string]*Coordinator
	down  map[string]bool
	queue []frame
	now   time.Time
}

func newMemNet(t *testing.T) *memNet {
	return &memNet{
		t:     t,
		nodes: make(map[string]*Coordinator),
		down:  make(map[string]bool),
		now:   testNow,
	}
}

func (n *memNet) clock() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.now
}

func (n *memNet) advance(d time.Duration) {
	n.mu.Lock()
	n.now = n.now.Add(d)
	n.mu.Unlock()
}

type memSender struct {
	net  *memNet
	from string
}

func (s memSender) Send(ctx context.Context, address string, data []byte) error {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()

	if _, ok := s.net.nodes[address]; !ok || s.net.down[address] {
		return &network.SendError{Kind: network.ConnectFailed, Address: address, Err: errors.New("connection refused")}
	}
	s.net.queue = append(s.net.queue, frame{to: address, from: s.from, data: data})
	return nil
}

// add creates a coordinator named name reachable at name.local:8080.
func (n *memNet) add(name string) *Coordinator {
	n.t.Helper()
	id, err := crypto.NewIdentity("id-"+name, name)
	if err != nil {
		n.t.Fatalf("NewIdentity failed: %v", err)
	}
	addr := name + ".local:8080"

	cfg := DefaultConfig()
	cfg.BroadcastWorkers = 2
	c := NewCoordinator(id, addr, memSender{net: n, from: addr}, cfg, WithClock(n.clock))
	n.t.Cleanup(c.Close)

	n.mu.Lock()
	n.nodes[addr] = c
	n.mu.Unlock()
	return c
}

// inject queues raw bytes for the node at to.
func (n *memNet) inject(to, from string, data []byte) {
	n.mu.Lock()
	n.queue = append(n.queue, frame{to: to, from: from, data: data})
	n.mu.Unlock()
}

// announceAll simulates one round of UDP discovery broadcast.
func (n *memNet) announceAll() {
	n.mu.Lock()
	nodes := make(map[string]*Coordinator, len(n.nodes))
	for a, c := range n.nodes {
		nodes[a] = c
	}
	n.mu.Unlock()

	for from, c := range nodes {
		data, err := c.AnnounceDiscovery()
		if err != nil {
			n.t.Fatalf("AnnounceDiscovery failed: %v", err)
		}
		for to := range nodes {
			if to != from {
				n.inject(to, from, data)
			}
		}
	}
}

// flush delivers queued frames, including any replies they cause, and
// returns the events each node produced keyed by address.
func (n *memNet) flush() map[string][]protocol.Event {
	events := make(map[string][]protocol.Event)
	for i := 0; i < 1000; i++ {
		n.mu.Lock()
		if len(n.queue) == 0 {
			n.mu.Unlock()
			return events
		}
		f := n.queue[0]
		n.queue = n.queue[1:]
		c := n.nodes[f.to]
		n.mu.Unlock()

		fx := c.AcceptInbound(f.data, f.from)
		events[f.to] = append(events[f.to], fx.Events...)
		c.Deliver(context.Background(), fx.Outbound)
	}
	n.t.Fatal("flush did not settle")
	return nil
}

func ofType(events []protocol.Event, typ protocol.EventType) []protocol.Event {
	var out []protocol.Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}
