// Package protocol defines the messages peers exchange, their wire
// encoding, the display events produced by handling them, and the router
// that dispatches a decoded message to its handler.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind is the tag carried in every envelope.
type Kind string

const (
	KindDiscovery   Kind = "discovery"
	KindHeartbeat   Kind = "heartbeat"
	KindChat        Kind = "chat"
	KindSignedChat  Kind = "signed_chat"
	KindProposal    Kind = "proposal"
	KindVote        Kind = "vote"
	KindKeyAnnounce Kind = "key_announce"
	KindExit        Kind = "exit"
)

// Kinds lists every known tag in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindDiscovery, KindHeartbeat, KindChat, KindSignedChat,
		KindProposal, KindVote, KindKeyAnnounce, KindExit,
	}
}

// Message is one variant of the tagged union.
type Message interface {
	Kind() Kind
	validate() error
}

var errMissingField = errors.New("missing required field")

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s", errMissingField, field)
	}
	return nil
}

// Discovery advertises a peer's identity, address and public key.
type Discovery struct {
	PeerID    string `json:"peer_id"`
	Name      string `json:"name"`
	Address   string `json:"address"`
	PublicKey []byte `json:"public_key,omitempty"`
}

func (Discovery) Kind() Kind { return KindDiscovery }

func (m Discovery) validate() error {
	if err := required("peer_id", m.PeerID); err != nil {
		return err
	}
	return required("address", m.Address)
}

// Heartbeat refreshes an already discovered peer.
type Heartbeat struct {
	PeerID string `json:"peer_id"`
}

func (Heartbeat) Kind() Kind { return KindHeartbeat }

func (m Heartbeat) validate() error { return required("peer_id", m.PeerID) }

// Chat is an unsigned chat line.
type Chat struct {
	FromID    string `json:"from_id"`
	FromName  string `json:"from_name"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

func (Chat) Kind() Kind { return KindChat }

func (m Chat) validate() error { return required("from_id", m.FromID) }

// SignedChat is a chat line with a signature over Content and Timestamp.
type SignedChat struct {
	Chat
	Signature []byte `json:"signature"`
	PublicKey []byte `json:"public_key,omitempty"`
}

func (SignedChat) Kind() Kind { return KindSignedChat }

func (m SignedChat) validate() error { return m.Chat.validate() }

// Proposal asks the network to switch to secure-only mode.
type Proposal struct {
	ProposalID  string `json:"proposal_id"`
	Description string `json:"description"`
	ProposerID  string `json:"proposer_id"`
	Timestamp   int64  `json:"timestamp"`
}

func (Proposal) Kind() Kind { return KindProposal }

func (m Proposal) validate() error {
	if err := required("proposal_id", m.ProposalID); err != nil {
		return err
	}
	return required("proposer_id", m.ProposerID)
}

// Vote is one peer's decision on a proposal. Signature is empty for an
// unsigned vote.
type Vote struct {
	ProposalID string `json:"proposal_id"`
	VoterID    string `json:"voter_id"`
	Approve    bool   `json:"approve"`
	Timestamp  int64  `json:"timestamp"`
	Signature  []byte `json:"signature,omitempty"`
	PublicKey  []byte `json:"public_key,omitempty"`
}

func (Vote) Kind() Kind { return KindVote }

// UnmarshalJSON requires an explicit decision. A missing approve field
// must not be read as a rejection, since the first vote is final.
func (m *Vote) UnmarshalJSON(data []byte) error {
	type plain Vote
	aux := struct {
		*plain
		Approve *bool `json:"approve"`
	}{plain: (*plain)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Approve == nil {
		return fmt.Errorf("%w: approve", errMissingField)
	}
	m.Approve = *aux.Approve
	return nil
}

func (m Vote) validate() error {
	if err := required("proposal_id", m.ProposalID); err != nil {
		return err
	}
	return required("voter_id", m.VoterID)
}

// Signed reports whether the vote carries a signature.
func (m Vote) Signed() bool { return len(m.Signature) > 0 }

// SigningContent is the byte string a vote signature covers.
func (m Vote) SigningContent() []byte {
	return VoteContent(m.ProposalID, m.VoterID, m.Approve)
}

// VoteContent builds the signed content of a vote.
func VoteContent(proposalID, voterID string, approve bool) []byte {
	decision := "reject"
	if approve {
		decision = "approve"
	}
	return []byte("vote:" + proposalID + ":" + voterID + ":" + decision)
}

// KeyAnnounce publishes a peer's public key without touching liveness.
type KeyAnnounce struct {
	PeerID    string `json:"peer_id"`
	Name      string `json:"name"`
	PublicKey []byte `json:"public_key"`
}

func (KeyAnnounce) Kind() Kind { return KindKeyAnnounce }

func (m KeyAnnounce) validate() error {
	if err := required("peer_id", m.PeerID); err != nil {
		return err
	}
	if len(m.PublicKey) == 0 {
		return fmt.Errorf("%w: public_key", errMissingField)
	}
	return nil
}

// Exit tells peers the sender is leaving.
type Exit struct {
	PeerID string `json:"peer_id"`
}

func (Exit) Kind() Kind { return KindExit }

func (m Exit) validate() error { return required("peer_id", m.PeerID) }
