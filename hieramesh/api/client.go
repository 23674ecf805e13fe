package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"

	meshArrow "github.com/VanDung-dev/HieraMesh/arrow"
	"github.com/VanDung-dev/HieraMesh/hieramesh/data"
	"github.com/VanDung-dev/HieraMesh/hieramesh/node"
	"github.com/VanDung-dev/HieraMesh/hieramesh/voting"
)

// Client talks to an inspect server over one connection. It is safe for
// concurrent use; requests are serialized.
type Client struct {
	mu    sync.Mutex
	conn  net.Conn
	conv  *data.Converter
	codec *meshArrow.Codec
}

// Dial connects to address and authenticates with token.
func Dial(ctx context.Context, address, token string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if err := writeJSON(conn, AuthMessage{Type: "auth", Token: token}); err != nil {
		conn.Close()
		return nil, err
	}
	var resp AuthResponse
	if err := readJSON(conn, &resp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake failed: %w", err)
	}
	if !resp.Success {
		conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrAuthFailed, resp.Error)
	}
	_ = conn.SetDeadline(time.Time{})

	mem := memory.NewGoAllocator()
	return &Client{
		conn:  conn,
		conv:  data.NewConverterWithAllocator(mem),
		codec: meshArrow.NewCodec(mem),
	}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) do(ctx context.Context, typ string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(time.Time{})
	}
	if err := writeJSON(c.conn, Request{Type: typ}); err != nil {
		return nil, err
	}
	return readResponse(c.conn)
}

// Peers fetches the peer registry snapshot.
func (c *Client) Peers(ctx context.Context) ([]data.PeerRow, error) {
	body, err := c.do(ctx, RequestPeers)
	if err != nil {
		return nil, err
	}
	record, err := c.codec.Decode(body)
	if err != nil {
		return nil, err
	}
	defer record.Release()
	return c.conv.ArrowBatchToPeers(record)
}

// Proposals fetches every proposal with its tally.
func (c *Client) Proposals(ctx context.Context) ([]voting.Summary, error) {
	body, err := c.do(ctx, RequestProposals)
	if err != nil {
		return nil, err
	}
	record, err := c.codec.Decode(body)
	if err != nil {
		return nil, err
	}
	defer record.Release()
	return c.conv.ArrowBatchToProposals(record)
}

// Status fetches the node summary.
func (c *Client) Status(ctx context.Context) (node.Status, error) {
	var st node.Status
	body, err := c.do(ctx, RequestStatus)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(body, &st); err != nil {
		return st, errors.Join(ErrRemote, err)
	}
	return st, nil
}
