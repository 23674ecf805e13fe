package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
)

// DefaultDiscoveryPort is the UDP port nodes announce themselves on.
const DefaultDiscoveryPort = 9999

// maxDatagram is the largest UDP payload accepted.
const maxDatagram = 64 * 1024

// DiscoverySocket is a UDP socket bound with address reuse so several
// nodes on one host can share the discovery port.
type DiscoverySocket struct {
	conn      net.PacketConn
	broadcast *net.UDPAddr
}

// ListenDiscovery binds port on all interfaces. Announcements go to
// broadcastHost:port.
func ListenDiscovery(ctx context.Context, broadcastHost string, port int) (*DiscoverySocket, error) {
	lc := net.ListenConfig{Control: reuseControl}
	conn, err := lc.ListenPacket(ctx, "udp4", ":"+strconv.Itoa(port))
	if err != nil {
		return nil, fmt.Errorf("listen discovery: %w", err)
	}

	dst, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(broadcastHost, strconv.Itoa(port)))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("resolve broadcast address: %w", err)
	}
	return &DiscoverySocket{conn: conn, broadcast: dst}, nil
}

// Serve delivers every datagram to handle until ctx is done.
func (d *DiscoverySocket) Serve(ctx context.Context, handle InboundFunc) error {
	stop := context.AfterFunc(ctx, func() { _ = d.conn.Close() })
	defer stop()

	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := d.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		handle(data, addr.String())
	}
}

// Announce broadcasts data to the discovery address.
func (d *DiscoverySocket) Announce(data []byte) error {
	if _, err := d.conn.WriteTo(data, d.broadcast); err != nil {
		return sendError(WriteFailed, d.broadcast.String(), err)
	}
	return nil
}

// Close releases the socket.
func (d *DiscoverySocket) Close() error {
	err := d.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
