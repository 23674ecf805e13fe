// Package network provides the byte-level transports a node uses: a framed
// TCP transport, a ZeroMQ ROUTER/DEALER transport, and the UDP discovery
// socket. Transports know nothing about message contents.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Common errors for network operations
var (
	ErrClosed           = errors.New("transport is closed")
	ErrUnknownTransport = errors.New("unknown transport")
)

// InboundFunc receives one delivered message and the sender's address.
type InboundFunc func(data []byte, from string)

// Transport delivers whole messages between nodes.
type Transport interface {
	// Listen accepts inbound messages until ctx is done or Close is called.
	Listen(ctx context.Context, handle InboundFunc) error
	// Send delivers data to address. Failures are *SendError.
	Send(ctx context.Context, address string, data []byte) error
	// Close releases the transport's sockets.
	Close() error
}

// ErrorKind classifies a failed send.
type ErrorKind int

const (
	ConnectFailed ErrorKind = iota
	WriteFailed
	Timeout
)

func (k ErrorKind) String() string {
	switch k {
	case ConnectFailed:
		return "connect_failed"
	case WriteFailed:
		return "write_failed"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// SendError is the typed failure of one delivery.
type SendError struct {
	Kind    ErrorKind
	Address string
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s: %s: %v", e.Address, e.Kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// sendError wraps err as kind, promoting deadline failures to Timeout.
func sendError(kind ErrorKind, address string, err error) *SendError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = Timeout
	}
	return &SendError{Kind: kind, Address: address, Err: err}
}

// New builds the transport named by kind ("tcp" or "zmq") listening on
// listenAddr. identity names this node to ZeroMQ peers.
func New(kind, listenAddr, identity string) (Transport, error) {
	switch kind {
	case "", "tcp":
		return NewTCPTransport(listenAddr), nil
	case "zmq":
		return NewZmqTransport(listenAddr, identity), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, kind)
	}
}
