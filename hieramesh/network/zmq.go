package network

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
)

// ZmqTransport receives on a ROUTER socket and sends through one DEALER
// socket per destination address.
type ZmqTransport struct {
	listenAddr string
	identity   string

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	router  zmq4.Socket
	dealers map[string]zmq4.Socket
	closed  bool
}

// NewZmqTransport creates a transport listening on listenAddr (host:port).
// identity is announced to peers as the ROUTER-side sender id.
func NewZmqTransport(listenAddr, identity string) *ZmqTransport {
	ctx, cancel := context.WithCancel(context.Background())
	return &ZmqTransport{
		listenAddr: listenAddr,
		identity:   identity,
		ctx:        ctx,
		cancel:     cancel,
		dealers:    make(map[string]zmq4.Socket),
	}
}

func endpoint(address string) string {
	if strings.HasPrefix(address, "tcp://") {
		return address
	}
	return "tcp://" + address
}

// Listen binds the ROUTER socket and delivers the payload frame of every
// received message until ctx is done or Close is called.
func (z *ZmqTransport) Listen(ctx context.Context, handle InboundFunc) error {
	z.mu.Lock()
	if z.closed {
		z.mu.Unlock()
		return ErrClosed
	}
	router := zmq4.NewRouter(z.ctx, zmq4.WithID(zmq4.SocketIdentity(z.identity)))
	if err := router.Listen(endpoint(z.listenAddr)); err != nil {
		z.mu.Unlock()
		_ = router.Close()
		return fmt.Errorf("failed to bind router: %w", err)
	}
	z.router = router
	z.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = z.Close() })
	defer stop()

	for {
		msg, err := router.Recv()
		if err != nil {
			select {
			case <-z.ctx.Done():
				return nil
			default:
				continue
			}
		}
		if len(msg.Frames) < 2 {
			continue
		}
		// ROUTER prefixes the sender identity frame.
		from := string(msg.Frames[0])
		handle(msg.Frames[len(msg.Frames)-1], from)
	}
}

// Send delivers data to the ROUTER listening at address.
func (z *ZmqTransport) Send(ctx context.Context, address string, data []byte) error {
	dealer, err := z.dealer(address)
	if err != nil {
		return sendError(ConnectFailed, address, err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultIOTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- dealer.Send(zmq4.NewMsg(data)) }()

	select {
	case err := <-done:
		if err != nil {
			z.dropDealer(address)
			return sendError(WriteFailed, address, err)
		}
		return nil
	case <-ctx.Done():
		z.dropDealer(address)
		return sendError(Timeout, address, ctx.Err())
	}
}

func (z *ZmqTransport) dealer(address string) (zmq4.Socket, error) {
	z.mu.Lock()
	defer z.mu.Unlock()

	if z.closed {
		return nil, ErrClosed
	}
	if d, ok := z.dealers[address]; ok {
		return d, nil
	}

	d := zmq4.NewDealer(z.ctx,
		zmq4.WithID(zmq4.SocketIdentity(z.identity)),
		zmq4.WithDialerTimeout(2*time.Second),
	)
	if err := d.Dial(endpoint(address)); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	z.dealers[address] = d
	return d, nil
}

func (z *ZmqTransport) dropDealer(address string) {
	z.mu.Lock()
	d, ok := z.dealers[address]
	delete(z.dealers, address)
	z.mu.Unlock()
	if ok {
		_ = d.Close()
	}
}

// Close shuts the router and all dealer sockets.
func (z *ZmqTransport) Close() error {
	z.mu.Lock()
	if z.closed {
		z.mu.Unlock()
		return nil
	}
	z.closed = true
	router := z.router
	dealers := z.dealers
	z.dealers = make(map[string]zmq4.Socket)
	z.mu.Unlock()

	z.cancel()

	var errs []error
	if router != nil {
		errs = append(errs, router.Close())
	}
	for _, d := range dealers {
		errs = append(errs, d.Close())
	}
	return errors.Join(errs...)
}
