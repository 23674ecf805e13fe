package protocol

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncodeDecodeVariants(t *testing.T) {
	sig := []byte(strings.Repeat("s", 64))
	key := []byte(strings.Repeat("k", 32))

	msgs := []Message{
		Discovery{PeerID: "p1", Name: "Alice", Address: "10.0.0.1:8080", PublicKey: key},
		Heartbeat{PeerID: "p1"},
		Chat{FromID: "p1", FromName: "Alice", Content: "hi", Timestamp: 10},
		SignedChat{Chat: Chat{FromID: "p1", FromName: "Alice", Content: "hi", Timestamp: 10}, Signature: sig, PublicKey: key},
		Proposal{ProposalID: "prop", Description: "secure", ProposerID: "p1", Timestamp: 10},
		Vote{ProposalID: "prop", VoterID: "p2", Approve: true, Timestamp: 11, Signature: sig},
		KeyAnnounce{PeerID: "p1", Name: "Alice", PublicKey: key},
		Exit{PeerID: "p1"},
	}

	for _, msg := range msgs {
		t.Run(string(msg.Kind()), func(t *testing.T) {
			data, err := Encode(msg)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			got, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if diff := cmp.Diff(msg, got); diff != "" {
				t.Errorf("decoded message mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEnvelopeShape(t *testing.T) {
	data, err := Encode(Heartbeat{PeerID: "abc"})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	want := `{"type":"heartbeat","payload":{"peer_id":"abc"}}`
	if string(data) != want {
		t.Errorf("Expected %s, got %s", want, data)
	}
}

func TestSignedChatIsFlat(t *testing.T) {
	data, _ := Encode(SignedChat{Chat: Chat{FromID: "a", Content: "x"}, Signature: []byte{1, 2}})
	if !strings.Contains(string(data), `"from_id":"a"`) {
		t.Errorf("Expected embedded chat fields at payload level, got %s", data)
	}
	if !strings.Contains(string(data), `"signature":"AQI="`) {
		t.Errorf("Expected base64 signature, got %s", data)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"not json", "hello"},
		{"unknown type", `{"type":"launch","payload":{}}`},
		{"missing payload", `{"type":"heartbeat"}`},
		{"null payload", `{"type":"heartbeat","payload":null}`},
		{"wrong field type", `{"type":"chat","payload":{"from_id":5}}`},
		{"missing peer id", `{"type":"heartbeat","payload":{}}`},
		{"bad base64", `{"type":"signed_chat","payload":{"from_id":"a","signature":"!!"}}`},
		{"vote without proposal", `{"type":"vote","payload":{"voter_id":"a","approve":true}}`},
		{"vote without decision", `{"type":"vote","payload":{"proposal_id":"p","voter_id":"a","timestamp":3}}`},
		{"vote with null decision", `{"type":"vote","payload":{"proposal_id":"p","voter_id":"a","approve":null}}`},
		{"key announce without key", `{"type":"key_announce","payload":{"peer_id":"a"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.input))
			if err == nil {
				t.Fatalf("Expected error, got %#v", msg)
			}
			if !errors.Is(err, ErrDecode) {
				t.Errorf("Expected ErrDecode, got %v", err)
			}
		})
	}
}

func TestDecodeAcceptsUnsignedVote(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"vote","payload":{"proposal_id":"p","voter_id":"v","approve":false,"timestamp":3}}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	vote, ok := msg.(Vote)
	if !ok {
		t.Fatalf("Expected Vote, got %T", msg)
	}
	if vote.Signed() {
		t.Error("Expected unsigned vote")
	}
}

func TestVoteContent(t *testing.T) {
	if got := string(VoteContent("p1", "v1", true)); got != "vote:p1:v1:approve" {
		t.Errorf("Unexpected vote content %q", got)
	}
	if got := string(VoteContent("p1", "v1", false)); got != "vote:p1:v1:reject" {
		t.Errorf("Unexpected vote content %q", got)
	}
}
