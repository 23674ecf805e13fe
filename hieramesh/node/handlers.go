package node

import (
	"errors"

	"go.uber.org/zap"

	"github.com/VanDung-dev/HieraMesh/hieramesh/crypto"
	"github.com/VanDung-dev/HieraMesh/hieramesh/protocol"
	"github.com/VanDung-dev/HieraMesh/hieramesh/registry"
	"github.com/VanDung-dev/HieraMesh/hieramesh/voting"
)

// newRouter registers one handler per message kind. Handlers run with the
// coordinator lock held and must not perform I/O; anything to send goes
// into the returned Effects.
func newRouter() *protocol.Router[*Coordinator] {
	r := protocol.NewRouter[*Coordinator]()
	protocol.On(r, handleDiscovery)
	protocol.On(r, handleHeartbeat)
	protocol.On(r, handleChat)
	protocol.On(r, handleSignedChat)
	protocol.On(r, handleProposal)
	protocol.On(r, handleVote)
	protocol.On(r, handleKeyAnnounce)
	protocol.On(r, handleExit)
	return r
}

func handleDiscovery(c *Coordinator, m protocol.Discovery, from string) protocol.Effects {
	var fx protocol.Effects
	if m.PeerID == c.identity.PeerID {
		return fx
	}

	info := registry.PeerInfo{ID: m.PeerID, Name: m.Name, Address: m.Address}
	if err := info.Validate(); err != nil {
		fx.Emit(protocol.Rejected(m.Kind(), protocol.ReasonInvalidPeer, from, err.Error()))
		return fx
	}
	if len(m.PublicKey) > 0 {
		if err := c.identity.RememberKey(m.PeerID, m.PublicKey); err != nil {
			c.log.Debug("discovery carried unusable key", zap.String("peer", m.PeerID), zap.Error(err))
		}
	}

	if !c.peers.Observe(info, c.now()) {
		return fx
	}

	c.log.Info("peer discovered",
		zap.String("peer", m.PeerID),
		zap.String("name", m.Name),
		zap.String("address", m.Address),
	)
	fx.Emit(protocol.Event{
		Type: protocol.PeerDiscovered, PeerID: m.PeerID, PeerName: m.Name, Address: m.Address,
	})
	// Answer directly so the new peer learns about us before our next
	// announcement.
	fx.SendTo(m.Address, c.discoveryMessage())
	return fx
}

func handleHeartbeat(c *Coordinator, m protocol.Heartbeat, _ string) protocol.Effects {
	if m.PeerID != c.identity.PeerID {
		c.peers.Touch(m.PeerID, c.now())
	}
	return protocol.Effects{}
}

func handleChat(c *Coordinator, m protocol.Chat, from string) protocol.Effects {
	var fx protocol.Effects
	if !crypto.IsFresh(m.Timestamp, c.freshness, c.now()) {
		fx.Emit(protocol.Rejected(m.Kind(), protocol.ReasonStale, from, m.FromID))
		return fx
	}
	if c.votes.SecureOnly() {
		c.log.Debug("unsigned chat rejected", zap.String("from_id", m.FromID))
		fx.Emit(protocol.Rejected(m.Kind(), protocol.ReasonUnsigned, from, m.FromID))
		return fx
	}
	fx.Emit(chatEvent(m, protocol.Unsigned))
	return fx
}

func handleSignedChat(c *Coordinator, m protocol.SignedChat, from string) protocol.Effects {
	var fx protocol.Effects
	if !crypto.IsFresh(m.Timestamp, c.freshness, c.now()) {
		fx.Emit(protocol.Rejected(m.Kind(), protocol.ReasonStale, from, m.FromID))
		return fx
	}

	v := c.identity.VerifyFrom(m.FromID, []byte(m.Content), m.Timestamp, m.Signature, m.PublicKey)
	if reason, ok := rejectReason(v); !ok {
		c.log.Warn("signed chat failed verification",
			zap.String("from_id", m.FromID), zap.Stringer("result", v))
		fx.Emit(protocol.Rejected(m.Kind(), reason, from, m.FromID))
		return fx
	}
	fx.Emit(chatEvent(m.Chat, protocol.Verified))
	return fx
}

func handleProposal(c *Coordinator, m protocol.Proposal, _ string) protocol.Effects {
	var fx protocol.Effects
	created, err := c.votes.RecordProposal(m.ProposalID, m.Description, m.ProposerID, m.Timestamp)
	if !created {
		return fx
	}

	tally, _ := c.votes.Tally(m.ProposalID, c.networkSize())
	c.log.Info("proposal received",
		zap.String("proposal", m.ProposalID), zap.String("proposer", m.ProposerID))
	fx.Emit(protocol.Event{
		Type:        protocol.ProposalCreated,
		PeerID:      m.ProposerID,
		ProposalID:  m.ProposalID,
		Description: m.Description,
		Timestamp:   m.Timestamp,
		Required:    tally.Required,
		Inert:       errors.Is(err, voting.ErrAlreadySecure),
	})
	return fx
}

func handleVote(c *Coordinator, m protocol.Vote, from string) protocol.Effects {
	var fx protocol.Effects
	if !crypto.IsFresh(m.Timestamp, c.freshness, c.now()) {
		fx.Emit(protocol.Rejected(m.Kind(), protocol.ReasonStale, from, m.VoterID))
		return fx
	}

	if m.Signed() {
		v := c.identity.VerifyFrom(m.VoterID, m.SigningContent(), m.Timestamp, m.Signature, m.PublicKey)
		if reason, ok := rejectReason(v); !ok {
			c.log.Warn("vote failed verification",
				zap.String("voter", m.VoterID), zap.Stringer("result", v))
			fx.Emit(protocol.Rejected(m.Kind(), reason, from, m.VoterID))
			return fx
		}
	}

	out, err := c.votes.Vote(m.ProposalID, m.VoterID, m.Approve, m.Signed(), c.networkSize())
	if err != nil {
		fx.Emit(protocol.Rejected(m.Kind(), voteReason(err), from, m.ProposalID))
		return fx
	}
	fx.Emit(voteEvents(m.ProposalID, m.VoterID, m.Approve, out)...)
	if out.Activated {
		c.log.Info("secure-only mode activated", zap.String("proposal", m.ProposalID))
	}
	return fx
}

func handleKeyAnnounce(c *Coordinator, m protocol.KeyAnnounce, from string) protocol.Effects {
	var fx protocol.Effects
	if m.PeerID == c.identity.PeerID {
		return fx
	}
	if err := c.identity.RememberKey(m.PeerID, m.PublicKey); err != nil {
		fx.Emit(protocol.Rejected(m.Kind(), protocol.ReasonMalformedKey, from, m.PeerID))
	}
	return fx
}

func handleExit(c *Coordinator, m protocol.Exit, _ string) protocol.Effects {
	var fx protocol.Effects
	if m.PeerID == c.identity.PeerID {
		return fx
	}
	if info, ok := c.peers.Remove(m.PeerID); ok {
		c.log.Info("peer left", zap.String("peer", info.ID), zap.String("name", info.Name))
		fx.Emit(protocol.Event{
			Type: protocol.PeerLeft, PeerID: info.ID, PeerName: info.Name,
			Address: info.Address, Reason: protocol.ReasonExit,
		})
	}
	return fx
}

func chatEvent(m protocol.Chat, status protocol.ChatStatus) protocol.Event {
	return protocol.Event{
		Type:      protocol.ChatReceived,
		PeerID:    m.FromID,
		PeerName:  m.FromName,
		Content:   m.Content,
		Timestamp: m.Timestamp,
		Status:    status,
	}
}

func voteEvents(proposalID, voterID string, approve bool, out voting.Outcome) []protocol.Event {
	events := []protocol.Event{{
		Type:       protocol.VoteRecorded,
		PeerID:     voterID,
		ProposalID: proposalID,
		Approve:    approve,
		Approvals:  out.Tally.Approvals,
		Required:   out.Tally.Required,
	}}
	if out.Activated {
		events = append(events, protocol.Event{
			Type:       protocol.SecureModeActivated,
			ProposalID: proposalID,
			Approvals:  out.Tally.Approvals,
			Required:   out.Tally.Required,
		})
	}
	return events
}

func rejectReason(v crypto.Verification) (protocol.Reason, bool) {
	switch v {
	case crypto.Valid:
		return "", true
	case crypto.MalformedInput:
		return protocol.ReasonMalformedSignature, false
	default:
		return protocol.ReasonInvalidSignature, false
	}
}

func voteReason(err error) protocol.Reason {
	switch {
	case errors.Is(err, voting.ErrUnknownProposal):
		return protocol.ReasonUnknownProposal
	case errors.Is(err, voting.ErrDuplicateVote):
		return protocol.ReasonDuplicateVote
	case errors.Is(err, voting.ErrUnsignedRejected):
		return protocol.ReasonUnsigned
	default:
		return protocol.ReasonUnhandled
	}
}
