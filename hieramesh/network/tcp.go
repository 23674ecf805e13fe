package network

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// DefaultIOTimeout bounds a single read or write when the caller's context
// carries no deadline.
const DefaultIOTimeout = 5 * time.Second

// TCPTransport sends one framed message per connection and reads any number
// of frames from each accepted connection.
type TCPTransport struct {
	listenAddr string

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
	ready    chan struct{}
}

// NewTCPTransport creates a transport that will listen on listenAddr.
func NewTCPTransport(listenAddr string) *TCPTransport {
	return &TCPTransport{
		listenAddr: listenAddr,
		conns:      make(map[net.Conn]struct{}),
		ready:      make(chan struct{}),
	}
}

// Addr returns the bound listener address once Listen has started.
func (t *TCPTransport) Addr() net.Addr {
	<-t.ready
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// Listen runs the accept loop, one goroutine per connection.
func (t *TCPTransport) Listen(ctx context.Context, handle InboundFunc) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", t.listenAddr)
	if err != nil {
		close(t.ready)
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		close(t.ready)
		_ = ln.Close()
		return ErrClosed
	}
	t.listener = ln
	t.mu.Unlock()
	close(t.ready)

	stop := context.AfterFunc(ctx, func() { _ = t.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if t.isClosed() || errors.Is(err, net.ErrClosed) {
				t.wg.Wait()
				return nil
			}
			continue
		}

		if !t.track(conn) {
			_ = conn.Close()
			continue
		}
		t.wg.Add(1)
		go t.handleConnection(conn, handle)
	}
}

func (t *TCPTransport) handleConnection(conn net.Conn, handle InboundFunc) {
	defer t.wg.Done()
	defer t.untrack(conn)

	from := conn.RemoteAddr().String()
	for {
		if err := conn.SetReadDeadline(time.Now().Add(30 * time.Second)); err != nil {
			return
		}
		data, err := ReadFrame(conn)
		if err != nil {
			return
		}
		handle(data, from)
	}
}

// Send dials address, writes one frame and closes the connection.
func (t *TCPTransport) Send(ctx context.Context, address string, data []byte) error {
	if t.isClosed() {
		return &SendError{Kind: ConnectFailed, Address: address, Err: ErrClosed}
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultIOTimeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return sendError(ConnectFailed, address, err)
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return sendError(WriteFailed, address, err)
	}
	if err := WriteFrame(conn, data); err != nil {
		return sendError(WriteFailed, address, err)
	}
	return nil
}

// Close stops the listener and open connections.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	ln := t.listener
	conns := make([]net.Conn, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	for _, c := range conns {
		_ = c.Close()
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		err = nil
	}
	return err
}

func (t *TCPTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *TCPTransport) track(c net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.conns[c] = struct{}{}
	return true
}

func (t *TCPTransport) untrack(c net.Conn) {
	t.mu.Lock()
	delete(t.conns, c)
	t.mu.Unlock()
	_ = c.Close()
}
