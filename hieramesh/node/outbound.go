package node

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/VanDung-dev/HieraMesh/hieramesh/core"
	"github.com/VanDung-dev/HieraMesh/hieramesh/protocol"
	"github.com/VanDung-dev/HieraMesh/hieramesh/voting"
)

// ErrUnsignedRejected is returned when an unsigned send is attempted in
// secure-only mode.
var ErrUnsignedRejected = voting.ErrUnsignedRejected

// Delivery is the outcome of sending one message to one peer. Err is nil
// on success or a *network.SendError.
type Delivery struct {
	PeerID  string
	Address string
	Kind    protocol.Kind
	Err     error
}

// Report is what a local action produced: events to display and the
// per-peer delivery results.
type Report struct {
	Events     []protocol.Event
	Deliveries []Delivery
}

// Failed returns the deliveries that did not succeed.
func (r Report) Failed() []Delivery {
	var failed []Delivery
	for _, d := range r.Deliveries {
		if d.Err != nil {
			failed = append(failed, d)
		}
	}
	return failed
}

func (c *Coordinator) discoveryMessage() protocol.Discovery {
	return protocol.Discovery{
		PeerID:    c.identity.PeerID,
		Name:      c.identity.Name,
		Address:   c.address,
		PublicKey: c.identity.PublicKey(),
	}
}

// AnnounceDiscovery returns the encoded Discovery for this node.
func (c *Coordinator) AnnounceDiscovery() ([]byte, error) {
	return protocol.Encode(c.discoveryMessage())
}

// AnnounceHeartbeat returns the encoded Heartbeat for this node.
func (c *Coordinator) AnnounceHeartbeat() ([]byte, error) {
	return protocol.Encode(protocol.Heartbeat{PeerID: c.identity.PeerID})
}

// AnnounceKey broadcasts this node's public key to every known peer.
func (c *Coordinator) AnnounceKey(ctx context.Context) Report {
	msg := protocol.KeyAnnounce{
		PeerID:    c.identity.PeerID,
		Name:      c.identity.Name,
		PublicKey: c.identity.PublicKey(),
	}
	return Report{Deliveries: c.Broadcast(ctx, msg)}
}

// AnnounceExit tells every known peer this node is leaving.
func (c *Coordinator) AnnounceExit(ctx context.Context) Report {
	return Report{Deliveries: c.Broadcast(ctx, protocol.Exit{PeerID: c.identity.PeerID})}
}

// SendChat broadcasts content, signed or not. Unsigned chat is refused
// locally once secure-only mode is active.
func (c *Coordinator) SendChat(ctx context.Context, content string, sign bool) (Report, error) {
	if !sign && c.votes.SecureOnly() {
		return Report{}, ErrUnsignedRejected
	}

	chat := protocol.Chat{
		FromID:    c.identity.PeerID,
		FromName:  c.identity.Name,
		Content:   content,
		Timestamp: c.now().Unix(),
	}
	var msg protocol.Message = chat
	if sign {
		msg = protocol.SignedChat{
			Chat:      chat,
			Signature: c.identity.Sign([]byte(content), chat.Timestamp),
			PublicKey: c.identity.PublicKey(),
		}
	}
	return Report{Deliveries: c.Broadcast(ctx, msg)}, nil
}

// Propose creates a proposal to enable secure-only mode and broadcasts it.
// The proposer does not vote automatically.
func (c *Coordinator) Propose(ctx context.Context, description string) (string, Report, error) {
	ts := c.now().Unix()

	c.mu.Lock()
	id, err := c.votes.CreateProposal(description, c.identity.PeerID, ts)
	tally, _ := c.votes.Tally(id, c.networkSize())
	c.mu.Unlock()

	if err != nil {
		return id, Report{}, err
	}

	required := tally.Required
	c.log.Info("proposal created", zap.String("proposal", id), zap.Int("required", required))
	report := Report{Events: []protocol.Event{{
		Type:        protocol.ProposalCreated,
		PeerID:      c.identity.PeerID,
		ProposalID:  id,
		Description: description,
		Timestamp:   ts,
		Required:    required,
	}}}
	report.Deliveries = c.Broadcast(ctx, protocol.Proposal{
		ProposalID:  id,
		Description: description,
		ProposerID:  c.identity.PeerID,
		Timestamp:   ts,
	})
	return id, report, nil
}

// CastVote records this node's signed vote locally, possibly activating
// secure-only mode, and broadcasts it.
func (c *Coordinator) CastVote(ctx context.Context, proposalID string, approve bool) (Report, error) {
	vote := protocol.Vote{
		ProposalID: proposalID,
		VoterID:    c.identity.PeerID,
		Approve:    approve,
		Timestamp:  c.now().Unix(),
		PublicKey:  c.identity.PublicKey(),
	}
	vote.Signature = c.identity.Sign(vote.SigningContent(), vote.Timestamp)

	c.mu.Lock()
	out, err := c.votes.Vote(proposalID, vote.VoterID, approve, true, c.networkSize())
	c.mu.Unlock()
	if err != nil {
		return Report{}, err
	}
	c.rec.SecureMode(c.votes.SecureOnly())

	report := Report{Events: voteEvents(proposalID, vote.VoterID, approve, out)}
	report.Deliveries = c.Broadcast(ctx, vote)
	return report, nil
}

// Broadcast sends msg to every peer in a registry snapshot. Each delivery
// succeeds or fails on its own.
func (c *Coordinator) Broadcast(ctx context.Context, msg protocol.Message) []Delivery {
	return c.Deliver(ctx, []protocol.Outbound{{Message: msg}})
}

// Deliver sends handler effects: targeted messages to their address and
// broadcasts to every peer known at call time.
func (c *Coordinator) Deliver(ctx context.Context, outbound []protocol.Outbound) []Delivery {
	if len(outbound) == 0 {
		return nil
	}

	var (
		targets []Delivery
		frames  [][]byte
		peers   = c.peers.Snapshot()
	)
	for _, out := range outbound {
		data, err := protocol.Encode(out.Message)
		if err != nil {
			c.log.Error("encode failed", zap.String("kind", string(out.Message.Kind())), zap.Error(err))
			continue
		}
		if out.To != "" {
			targets = append(targets, Delivery{Address: out.To, Kind: out.Message.Kind()})
			frames = append(frames, data)
			continue
		}
		for _, p := range peers {
			targets = append(targets, Delivery{PeerID: p.ID, Address: p.Address, Kind: out.Message.Kind()})
			frames = append(frames, data)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	tasks := make([]core.Task, len(targets))
	for i := range targets {
		d, data := targets[i], frames[i]
		tasks[i] = core.NewTask(ctx, fmt.Sprintf("%s->%s", d.Kind, d.Address), func(ctx context.Context) error {
			return c.send(ctx, d.Address, data)
		})
	}

	results := c.pool.RunAll(tasks)
	for i, r := range results {
		targets[i].Err = r.Err
		c.rec.Delivered(targets[i].Kind, r.Err, r.Duration)
		if r.Err != nil {
			c.log.Debug("delivery failed",
				zap.String("peer", targets[i].PeerID),
				zap.String("address", targets[i].Address),
				zap.Error(r.Err))
		}
	}
	return targets
}

func (c *Coordinator) send(ctx context.Context, address string, data []byte) error {
	if c.sender == nil {
		return errNoSender
	}
	if c.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.sendTimeout)
		defer cancel()
	}
	return c.sender.Send(ctx, address, data)
}
