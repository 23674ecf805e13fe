package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/VanDung-dev/HieraMesh/hieramesh/network"
)

// Request types.
const (
	RequestPeers     = "peers"
	RequestProposals = "proposals"
	RequestStatus    = "status"
)

// Response status byte, the first byte of every response frame.
const (
	StatusOK    byte = 0
	StatusError byte = 1
)

// ErrRemote wraps an error message returned by the server.
var ErrRemote = errors.New("inspect server error")

// Request asks for one snapshot.
type Request struct {
	Type string `json:"type"`
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return network.WriteFrame(w, data)
}

func readJSON(r io.Reader, v any) error {
	data, err := network.ReadFrame(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode frame: %w", err)
	}
	return nil
}

func writeResponse(w io.Writer, status byte, body []byte) error {
	frame := make([]byte, 1+len(body))
	frame[0] = status
	copy(frame[1:], body)
	return network.WriteFrame(w, frame)
}

func readResponse(r io.Reader) ([]byte, error) {
	frame, err := network.ReadFrame(r)
	if err != nil {
		return nil, err
	}
	if len(frame) == 0 {
		return nil, errors.New("empty response frame")
	}
	if frame[0] != StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrRemote, frame[1:])
	}
	return frame[1:], nil
}
