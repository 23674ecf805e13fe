// Package registry keeps the set of peers this node believes are alive.
package registry

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// MaxNameLength bounds a peer's display name in runes.
const MaxNameLength = 128

// Validation errors for PeerInfo.
var (
	ErrEmptyID     = errors.New("peer id is empty")
	ErrInvalidName = errors.New("peer name must be 1-128 characters")
	ErrInvalidAddr = errors.New("peer address must be host:port with a non-zero port")
)

// PeerInfo represents a known peer.
type PeerInfo struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Address  string    `json:"address"`
	LastSeen time.Time `json:"last_seen"`
}

// Validate checks the fields a Discovery must carry.
func (p PeerInfo) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return ErrEmptyID
	}
	n := utf8.RuneCountInString(strings.TrimSpace(p.Name))
	if n == 0 || utf8.RuneCountInString(p.Name) > MaxNameLength {
		return ErrInvalidName
	}
	host, port, err := net.SplitHostPort(p.Address)
	if err != nil || host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidAddr, p.Address)
	}
	if pn, err := strconv.Atoi(port); err != nil || pn <= 0 || pn > 65535 {
		return fmt.Errorf("%w: %q", ErrInvalidAddr, p.Address)
	}
	return nil
}

// Registry is the authoritative map of known peers, keyed by id.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]*PeerInfo
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{peers: make(map[string]*PeerInfo)}
}

// Observe inserts info or refreshes the existing entry with the same id.
// It reports whether the peer was newly inserted.
func (r *Registry) Observe(info PeerInfo, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if peer, exists := r.peers[info.ID]; exists {
		peer.Name = info.Name
		peer.Address = info.Address
		peer.LastSeen = now
		return false
	}

	info.LastSeen = now
	r.peers[info.ID] = &info
	return true
}

// Touch refreshes LastSeen for a known peer. Unknown ids are ignored, so a
// heartbeat alone can never create a peer.
func (r *Registry) Touch(id string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, exists := r.peers[id]
	if !exists {
		return false
	}
	peer.LastSeen = now
	return true
}

// Remove drops a peer and returns its last known info.
func (r *Registry) Remove(id string) (PeerInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, exists := r.peers[id]
	if !exists {
		return PeerInfo{}, false
	}
	delete(r.peers, id)
	return *peer, true
}

// Sweep evicts every peer not seen within timeout and returns them.
func (r *Registry) Sweep(now time.Time, timeout time.Duration) []PeerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-timeout)
	var evicted []PeerInfo
	for id, peer := range r.peers {
		if peer.LastSeen.Before(cutoff) {
			evicted = append(evicted, *peer)
			delete(r.peers, id)
		}
	}
	sortPeers(evicted)
	return evicted
}

// Get returns a copy of the peer with id.
func (r *Registry) Get(id string) (PeerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peer, exists := r.peers[id]
	if !exists {
		return PeerInfo{}, false
	}
	return *peer, true
}

// Snapshot returns a copy of all peers ordered by name then id. Callers may
// iterate it during network I/O without holding the registry lock.
func (r *Registry) Snapshot() []PeerInfo {
	r.mu.RLock()
	peers := make([]PeerInfo, 0, len(r.peers))
	for _, peer := range r.peers {
		peers = append(peers, *peer)
	}
	r.mu.RUnlock()

	sortPeers(peers)
	return peers
}

// Len returns the number of known peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

func sortPeers(peers []PeerInfo) {
	sort.Slice(peers, func(i, j int) bool {
		if peers[i].Name != peers[j].Name {
			return peers[i].Name < peers[j].Name
		}
		return peers[i].ID < peers[j].ID
	})
}
