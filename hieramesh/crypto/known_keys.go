package crypto

import (
	"encoding/hex"
	"sync"
)

// KnownKeys maps peer ids to their announced public keys. Entries are never
// evicted, even after the peer leaves the registry.
type KnownKeys struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

// NewKnownKeys creates an empty key cache.
func NewKnownKeys() *KnownKeys {
	return &KnownKeys{keys: make(map[string][]byte)}
}

// Remember stores publicKey for peerID, replacing any previous entry.
func (k *KnownKeys) Remember(peerID string, publicKey []byte) error {
	if len(publicKey) != PublicKeySize {
		return ErrInvalidPublicKey
	}
	key := make([]byte, PublicKeySize)
	copy(key, publicKey)

	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[peerID] = key
	return nil
}

// Lookup returns the cached key for peerID.
func (k *KnownKeys) Lookup(peerID string) ([]byte, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.keys[peerID]
	return key, ok
}

// Len returns the number of cached keys.
func (k *KnownKeys) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys)
}

// Fingerprint returns the hex encoded key for peerID.
func (k *KnownKeys) Fingerprint(peerID string) (string, bool) {
	key, ok := k.Lookup(peerID)
	if !ok {
		return "", false
	}
	return hex.EncodeToString(key), true
}
