package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrDecode wraps every failure to turn bytes into a Message.
var ErrDecode = errors.New("decode error")

type envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

var factories = map[Kind]func() Message{
	KindDiscovery:   func() Message { return &Discovery{} },
	KindHeartbeat:   func() Message { return &Heartbeat{} },
	KindChat:        func() Message { return &Chat{} },
	KindSignedChat:  func() Message { return &SignedChat{} },
	KindProposal:    func() Message { return &Proposal{} },
	KindVote:        func() Message { return &Vote{} },
	KindKeyAnnounce: func() Message { return &KeyAnnounce{} },
	KindExit:        func() Message { return &Exit{} },
}

// Encode serializes msg into its tagged JSON envelope.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("encode: nil message")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Kind(), err)
	}
	return json.Marshal(envelope{Type: msg.Kind(), Payload: payload})
}

// Decode parses a tagged envelope. It never verifies signatures and returns
// the value (not pointer) form of the variant.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	newMsg, ok := factories[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: unknown message type %q", ErrDecode, env.Type)
	}
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return nil, fmt.Errorf("%w: %s: missing payload", ErrDecode, env.Type)
	}

	ptr := newMsg()
	if err := json.Unmarshal(env.Payload, ptr); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, env.Type, err)
	}
	msg := deref(ptr)
	if err := msg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, env.Type, err)
	}
	return msg, nil
}

func deref(m Message) Message {
	switch v := m.(type) {
	case *Discovery:
		return *v
	case *Heartbeat:
		return *v
	case *Chat:
		return *v
	case *SignedChat:
		return *v
	case *Proposal:
		return *v
	case *Vote:
		return *v
	case *KeyAnnounce:
		return *v
	case *Exit:
		return *v
	}
	return m
}
