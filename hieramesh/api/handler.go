package api

import (
	"encoding/json"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/memory"

	meshArrow "github.com/VanDung-dev/HieraMesh/arrow"
	"github.com/VanDung-dev/HieraMesh/hieramesh/crypto"
	"github.com/VanDung-dev/HieraMesh/hieramesh/data"
	"github.com/VanDung-dev/HieraMesh/hieramesh/node"
	"github.com/VanDung-dev/HieraMesh/hieramesh/registry"
	"github.com/VanDung-dev/HieraMesh/hieramesh/voting"
)

// Source is the node state the server reads. *node.Coordinator satisfies it.
type Source interface {
	Identity() *crypto.Identity
	Peers() []registry.PeerInfo
	Proposals() []voting.Summary
	Status() node.Status
}

// Handler turns requests into response bodies.
type Handler struct {
	source Source
	conv   *data.Converter
	codec  *meshArrow.Codec
}

// NewHandler creates a Handler reading from source.
func NewHandler(source Source) *Handler {
	mem := memory.NewGoAllocator()
	return &Handler{
		source: source,
		conv:   data.NewConverterWithAllocator(mem),
		codec:  meshArrow.NewCodec(mem),
	}
}

// Handle answers one request.
func (h *Handler) Handle(req Request) ([]byte, error) {
	switch req.Type {
	case RequestPeers:
		known := h.source.Identity().KnownKeys()
		record := h.conv.PeersToArrowBatch(h.source.Peers(), known.Fingerprint)
		defer record.Release()
		return h.codec.Encode(record)
	case RequestProposals:
		record := h.conv.ProposalsToArrowBatch(h.source.Proposals())
		defer record.Release()
		return h.codec.Encode(record)
	case RequestStatus:
		return json.Marshal(h.source.Status())
	default:
		return nil, fmt.Errorf("unknown request type %q", req.Type)
	}
}
