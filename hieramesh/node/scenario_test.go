package node

import (
	"context"
	"errors"
	"testing"

	"github.com/VanDung-dev/HieraMesh/hieramesh/protocol"
)

type trio struct {
	net                 *memNet
	alice, bob, charlie *Coordinator
}

func newTrio(t *testing.T) trio {
	t.Helper()
	n := newMemNet(t)
	tr := trio{net: n, alice: n.add("alice"), bob: n.add("bob"), charlie: n.add("charlie")}
	n.announceAll()
	n.flush()

	for _, c := range []*Coordinator{tr.alice, tr.bob, tr.charlie} {
		if got := c.Status().NetworkSize; got != 3 {
			t.Fatalf("%s: expected network size 3, got %d", c.Identity().Name, got)
		}
	}
	return tr
}

// Scenario A: three peers, Alice proposes, Bob and Charlie approve.
func TestScenarioThresholdVote(t *testing.T) {
	tr := newTrio(t)
	ctx := context.Background()

	id, report, err := tr.alice.Propose(ctx, "Enable secure-only messaging for all future communications")
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	if got := report.Events[0].Required; got != 2 {
		t.Errorf("Expected required 2, got %d", got)
	}
	if len(report.Failed()) != 0 {
		t.Errorf("Unexpected failed deliveries %+v", report.Failed())
	}
	events := tr.net.flush()
	for _, addr := range []string{tr.bob.Address(), tr.charlie.Address()} {
		created := ofType(events[addr], protocol.ProposalCreated)
		if len(created) != 1 || created[0].ProposalID != id || created[0].Required != 2 {
			t.Errorf("%s: unexpected proposal events %+v", addr, events[addr])
		}
	}

	// Bob approves: 1/2, still open everywhere.
	report, err = tr.bob.CastVote(ctx, id, true)
	if err != nil {
		t.Fatalf("Bob CastVote failed: %v", err)
	}
	if ev := report.Events[0]; ev.Approvals != 1 || ev.Required != 2 {
		t.Errorf("Expected tally 1/2 on Bob, got %d/%d", ev.Approvals, ev.Required)
	}
	events = tr.net.flush()
	recorded := ofType(events[tr.alice.Address()], protocol.VoteRecorded)
	if len(recorded) != 1 || recorded[0].Approvals != 1 || recorded[0].Required != 2 {
		t.Errorf("Expected Alice to record 1/2, got %+v", recorded)
	}
	for _, c := range []*Coordinator{tr.alice, tr.bob, tr.charlie} {
		if c.SecureOnly() {
			t.Fatalf("%s: secure-only activated too early", c.Identity().Name)
		}
	}

	// Charlie approves: 2/2, secure-only everywhere.
	report, err = tr.charlie.CastVote(ctx, id, true)
	if err != nil {
		t.Fatalf("Charlie CastVote failed: %v", err)
	}
	if len(ofType(report.Events, protocol.SecureModeActivated)) != 1 {
		t.Errorf("Expected Charlie to activate locally, got %+v", report.Events)
	}
	events = tr.net.flush()
	for _, c := range []*Coordinator{tr.alice, tr.bob} {
		if len(ofType(events[c.Address()], protocol.SecureModeActivated)) != 1 {
			t.Errorf("%s: expected SecureModeActivated, got %+v", c.Identity().Name, events[c.Address()])
		}
	}
	for _, c := range []*Coordinator{tr.alice, tr.bob, tr.charlie} {
		st := c.Status()
		if !st.SecureOnly || st.ActivatedBy != id {
			t.Errorf("%s: expected secure-only by %s, got %+v", c.Identity().Name, id, st)
		}
		if st.Proposals[0].Tally.Approvals != 2 {
			t.Errorf("%s: expected 2 approvals, got %d", c.Identity().Name, st.Proposals[0].Tally.Approvals)
		}
	}
}

func activate(t *testing.T, tr trio) {
	t.Helper()
	ctx := context.Background()
	id, _, err := tr.alice.Propose(ctx, "secure")
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	tr.net.flush()
	for _, c := range []*Coordinator{tr.bob, tr.charlie} {
		if _, err := c.CastVote(ctx, id, true); err != nil {
			t.Fatalf("CastVote failed: %v", err)
		}
		tr.net.flush()
	}
	if !tr.alice.SecureOnly() || !tr.bob.SecureOnly() || !tr.charlie.SecureOnly() {
		t.Fatal("Expected secure-only on every node")
	}
}

// Scenario B: after activation unsigned chat is rejected by every receiver.
func TestScenarioUnsignedChatRejected(t *testing.T) {
	tr := newTrio(t)
	activate(t, tr)
	ctx := context.Background()

	if _, err := tr.alice.SendChat(ctx, "plain text", false); !errors.Is(err, ErrUnsignedRejected) {
		t.Errorf("Expected local refusal, got %v", err)
	}

	// A peer that ignores the policy still cannot get through.
	tr.alice.Broadcast(ctx, protocol.Chat{
		FromID: tr.alice.Identity().PeerID, FromName: "alice",
		Content: "plain text", Timestamp: testNow.Unix(),
	})
	events := tr.net.flush()

	for _, c := range []*Coordinator{tr.bob, tr.charlie} {
		evs := events[c.Address()]
		if len(ofType(evs, protocol.ChatReceived)) != 0 {
			t.Errorf("%s: unsigned chat was displayed", c.Identity().Name)
		}
		rejected := ofType(evs, protocol.MessageRejected)
		if len(rejected) != 1 || rejected[0].Reason != protocol.ReasonUnsigned {
			t.Errorf("%s: expected unsigned rejection, got %+v", c.Identity().Name, evs)
		}
	}

	// Signed chat still flows.
	if _, err := tr.alice.SendChat(ctx, "signed text", true); err != nil {
		t.Fatalf("SendChat failed: %v", err)
	}
	events = tr.net.flush()
	got := ofType(events[tr.bob.Address()], protocol.ChatReceived)
	if len(got) != 1 || got[0].Status != protocol.Verified || got[0].Content != "signed text" {
		t.Errorf("Expected verified chat on Bob, got %+v", events[tr.bob.Address()])
	}
}

// Scenario C: a validly signed but two hour old chat is stale.
func TestScenarioStaleSignedChat(t *testing.T) {
	tr := newTrio(t)

	ts := testNow.Unix() - 2*3600
	id := tr.bob.Identity()
	msg := protocol.SignedChat{
		Chat:      protocol.Chat{FromID: id.PeerID, FromName: id.Name, Content: "old news", Timestamp: ts},
		Signature: id.Sign([]byte("old news"), ts),
		PublicKey: id.PublicKey(),
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	fx := tr.alice.AcceptInbound(data, tr.bob.Address())
	if len(fx.Events) != 1 {
		t.Fatalf("Expected one event, got %+v", fx.Events)
	}
	ev := fx.Events[0]
	if ev.Type != protocol.MessageRejected || ev.Reason != protocol.ReasonStale {
		t.Errorf("Expected stale rejection, got %+v", ev)
	}
}
