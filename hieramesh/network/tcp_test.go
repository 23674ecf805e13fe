package network

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestSendErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		kind ErrorKind
		err  error
		want ErrorKind
	}{
		{"connect", ConnectFailed, errors.New("refused"), ConnectFailed},
		{"write", WriteFailed, errors.New("broken pipe"), WriteFailed},
		{"net timeout", WriteFailed, timeoutErr{}, Timeout},
		{"deadline", ConnectFailed, context.DeadlineExceeded, Timeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			se := sendError(tt.kind, "h:1", tt.err)
			if se.Kind != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, se.Kind)
			}
			if !errors.Is(se, tt.err) {
				t.Error("Expected SendError to unwrap to the cause")
			}
		})
	}
}

func TestTCPTransportDelivers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := NewTCPTransport("127.0.0.1:0")
	received := make(chan []byte, 2)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Listen(ctx, func(data []byte, from string) {
			received <- data
		})
	}()

	addr := server.Addr()
	if addr == nil {
		t.Fatal("Expected listener address")
	}

	client := NewTCPTransport("127.0.0.1:0")
	for _, msg := range []string{"hello", "world"} {
		if err := client.Send(ctx, addr.String(), []byte(msg)); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	// Each send is its own connection, so arrival order is not fixed.
	got := make(map[string]bool)
	for i := 0; i < 2; i++ {
		select {
		case data := <-received:
			got[string(data)] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out after %d messages", i)
		}
	}
	if !got["hello"] || !got["world"] {
		t.Errorf("Expected hello and world, got %v", got)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}

func TestTCPTransportConnectFailed(t *testing.T) {
	// Grab a free port and release it so nothing listens there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err = NewTCPTransport("").Send(ctx, addr, []byte("x"))
	var se *SendError
	if !errors.As(err, &se) {
		t.Fatalf("Expected *SendError, got %v", err)
	}
	if se.Kind != ConnectFailed {
		t.Errorf("Expected ConnectFailed, got %s", se.Kind)
	}
	if se.Address != addr {
		t.Errorf("Expected address %s, got %s", addr, se.Address)
	}
}

func TestTCPTransportClosed(t *testing.T) {
	tr := NewTCPTransport("127.0.0.1:0")
	_ = tr.Close()

	err := tr.Send(context.Background(), "127.0.0.1:1", nil)
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if err := tr.Listen(context.Background(), func([]byte, string) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Listen, got %v", err)
	}
}

func TestNewTransport(t *testing.T) {
	if _, err := New("carrier-pigeon", "127.0.0.1:0", "id"); !errors.Is(err, ErrUnknownTransport) {
		t.Errorf("Expected ErrUnknownTransport, got %v", err)
	}
	tr, err := New("tcp", "127.0.0.1:0", "id")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := tr.(*TCPTransport); !ok {
		t.Errorf("Expected *TCPTransport, got %T", tr)
	}
	zt, err := New("zmq", "127.0.0.1:0", "id")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_ = zt.Close()
}

func TestLocalIP(t *testing.T) {
	ip := net.ParseIP(LocalIP())
	if ip == nil || ip.To4() == nil {
		t.Errorf("Expected an IPv4 address, got %q", LocalIP())
	}
}
