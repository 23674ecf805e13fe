// Package crypto provides the node's signing identity and the cache of
// public keys announced by other peers.
//
// Signatures are Ed25519 over a BLAKE2b-256 digest of the content followed
// by ":" and the decimal timestamp, so a signature binds both the text and
// the moment it was produced.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Key and signature sizes carried on the wire.
const (
	PublicKeySize = ed25519.PublicKeySize
	SignatureSize = ed25519.SignatureSize
)

// Errors returned by key handling.
var (
	ErrInvalidPublicKey = errors.New("invalid public key format")
	ErrInvalidSignature = errors.New("invalid signature format")
)

// Verification is the outcome of checking a signature.
type Verification int

const (
	// Valid means the signature matches content, timestamp and key.
	Valid Verification = iota
	// Invalid means the signature is well formed but does not match
	// (tampered content or a different key).
	Invalid
	// MalformedInput means the signature or key bytes cannot be decoded.
	MalformedInput
)

func (v Verification) String() string {
	switch v {
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	case MalformedInput:
		return "malformed"
	default:
		return "unknown"
	}
}

// Identity is the node's keypair. It lives for the process lifetime; the
// private half is never exported.
type Identity struct {
	PeerID string
	Name   string

	priv ed25519.PrivateKey
	pub  ed25519.PublicKey

	known *KnownKeys
}

// NewIdentity generates a fresh Ed25519 keypair for peerID.
func NewIdentity(peerID, name string) (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Identity{
		PeerID: peerID,
		Name:   name,
		priv:   priv,
		pub:    pub,
		known:  NewKnownKeys(),
	}, nil
}

// PublicKey returns a copy of the public key bytes.
func (id *Identity) PublicKey() []byte {
	out := make([]byte, len(id.pub))
	copy(out, id.pub)
	return out
}

// Fingerprint returns the hex encoded public key.
func (id *Identity) Fingerprint() string {
	return hex.EncodeToString(id.pub)
}

// KnownKeys returns the cache of peers' public keys.
func (id *Identity) KnownKeys() *KnownKeys {
	return id.known
}

// Sign signs content bound to timestamp ts (unix seconds).
func (id *Identity) Sign(content []byte, ts int64) []byte {
	d := digest(content, ts)
	return ed25519.Sign(id.priv, d[:])
}

// RememberKey caches publicKey for peerID.
func (id *Identity) RememberKey(peerID string, publicKey []byte) error {
	return id.known.Remember(peerID, publicKey)
}

// VerifyFrom checks a signature claimed by peerID. A key already cached for
// peerID takes precedence over the embedded one, so a known peer cannot be
// impersonated by attaching a different key. On success with an embedded
// key the key is remembered.
func (id *Identity) VerifyFrom(peerID string, content []byte, ts int64, sig, embedded []byte) Verification {
	if key, ok := id.known.Lookup(peerID); ok {
		return Verify(content, ts, sig, key)
	}
	v := Verify(content, ts, sig, embedded)
	if v == Valid {
		_ = id.known.Remember(peerID, embedded)
	}
	return v
}

// Verify checks sig over content and ts against publicKey.
func Verify(content []byte, ts int64, sig, publicKey []byte) Verification {
	if len(publicKey) != PublicKeySize || len(sig) != SignatureSize {
		return MalformedInput
	}
	d := digest(content, ts)
	if !ed25519.Verify(ed25519.PublicKey(publicKey), d[:], sig) {
		return Invalid
	}
	return Valid
}

// IsFresh reports whether ts lies within maxAge of now in either direction.
// It bounds the replay window; an identical message replayed inside the
// window is still accepted.
func IsFresh(ts int64, maxAge time.Duration, now time.Time) bool {
	if maxAge < 0 {
		return false
	}
	window := int64(maxAge / time.Second)
	n := now.Unix()

	// Bounds saturate instead of wrapping around.
	lo, hi := int64(math.MinInt64), int64(math.MaxInt64)
	if n >= math.MinInt64+window {
		lo = n - window
	}
	if n <= math.MaxInt64-window {
		hi = n + window
	}
	return ts >= lo && ts <= hi
}

func digest(content []byte, ts int64) [blake2b.Size256]byte {
	buf := make([]byte, 0, len(content)+21)
	buf = append(buf, content...)
	buf = append(buf, ':')
	buf = strconv.AppendInt(buf, ts, 10)
	return blake2b.Sum256(buf)
}
