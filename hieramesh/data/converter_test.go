package data

import (
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/go-cmp/cmp"

	"github.com/VanDung-dev/HieraMesh/hieramesh/registry"
	"github.com/VanDung-dev/HieraMesh/hieramesh/voting"
)

func TestPeersRoundTrip(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)
	c := NewConverterWithAllocator(mem)

	seen := time.UnixMilli(1_700_000_000_123)
	peers := []registry.PeerInfo{
		{ID: "p1", Name: "Alice", Address: "10.0.0.1:8080", LastSeen: seen},
		{ID: "p2", Name: "Bob", Address: "10.0.0.2:8080", LastSeen: seen.Add(time.Second)},
	}
	fingerprints := map[string]string{"p1": "abcd"}

	record := c.PeersToArrowBatch(peers, func(id string) (string, bool) {
		fp, ok := fingerprints[id]
		return fp, ok
	})
	defer record.Release()

	if record.NumRows() != 2 {
		t.Fatalf("Expected 2 rows, got %d", record.NumRows())
	}

	rows, err := c.ArrowBatchToPeers(record)
	if err != nil {
		t.Fatalf("ArrowBatchToPeers failed: %v", err)
	}
	want := []PeerRow{
		{PeerInfo: peers[0], Fingerprint: "abcd"},
		{PeerInfo: peers[1]},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestEmptyPeers(t *testing.T) {
	c := NewConverter()
	record := c.PeersToArrowBatch(nil, nil)
	defer record.Release()

	rows, err := c.ArrowBatchToPeers(record)
	if err != nil {
		t.Fatalf("ArrowBatchToPeers failed: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("Expected no rows, got %d", len(rows))
	}
}

func TestProposalsRoundTrip(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)
	c := NewConverterWithAllocator(mem)

	proposals := []voting.Summary{
		{
			ID: "prop-1", Description: "Enable secure-only", ProposerID: "p1",
			CreatedAt: 1_700_000_000, State: voting.Resolved,
			Votes: map[string]voting.Ballot{
				"p3": {Approve: true, Signed: true},
				"p2": {Approve: true, Signed: false},
			},
			Tally: voting.Tally{Approvals: 2, Required: 2, Passed: true},
		},
		{
			ID: "prop-2", Description: "late", ProposerID: "p2",
			CreatedAt: 1_700_000_100, State: voting.Active, Inert: true,
			Votes: map[string]voting.Ballot{},
			Tally: voting.Tally{Required: 2},
		},
	}

	record := c.ProposalsToArrowBatch(proposals)
	defer record.Release()

	got, err := c.ArrowBatchToProposals(record)
	if err != nil {
		t.Fatalf("ArrowBatchToProposals failed: %v", err)
	}
	if diff := cmp.Diff(proposals, got); diff != "" {
		t.Errorf("proposals mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateSchemaMismatch(t *testing.T) {
	c := NewConverter()
	record := c.PeersToArrowBatch(nil, nil)
	defer record.Release()

	if err := validateSchema(record, ProposalSchema()); err == nil {
		t.Error("Expected schema mismatch")
	}
	if _, err := c.ArrowBatchToProposals(record); err == nil {
		t.Error("Expected peers record to be refused as proposals")
	}
	if err := validateSchema(nil, PeerSchema()); err == nil {
		t.Error("Expected error for nil record")
	}
}
