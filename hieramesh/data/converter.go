package data

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/VanDung-dev/HieraMesh/hieramesh/registry"
	"github.com/VanDung-dev/HieraMesh/hieramesh/voting"
)

// Converter turns node snapshots into Arrow records and back.
type Converter struct {
	allocator memory.Allocator
}

// NewConverter creates a new Converter with the default memory allocator.
func NewConverter() *Converter {
	return &Converter{allocator: memory.DefaultAllocator}
}

// NewConverterWithAllocator creates a Converter using mem.
func NewConverterWithAllocator(mem memory.Allocator) *Converter {
	return &Converter{allocator: mem}
}

// PeersToArrowBatch converts a registry snapshot to a record. fingerprint
// may be nil; a peer without one gets a null fingerprint.
func (c *Converter) PeersToArrowBatch(peers []registry.PeerInfo, fingerprint func(id string) (string, bool)) arrow.Record {
	builder := array.NewRecordBuilder(c.allocator, PeerSchema())
	defer builder.Release()

	idB := builder.Field(peerColID).(*array.StringBuilder)
	nameB := builder.Field(peerColName).(*array.StringBuilder)
	addrB := builder.Field(peerColAddress).(*array.StringBuilder)
	seenB := builder.Field(peerColLastSeen).(*array.TimestampBuilder)
	fpB := builder.Field(peerColFingerprint).(*array.StringBuilder)

	for _, p := range peers {
		idB.Append(p.ID)
		nameB.Append(p.Name)
		addrB.Append(p.Address)
		seenB.Append(arrow.Timestamp(p.LastSeen.UnixMilli()))

		if fingerprint == nil {
			fpB.AppendNull()
			continue
		}
		if fp, ok := fingerprint(p.ID); ok {
			fpB.Append(fp)
		} else {
			fpB.AppendNull()
		}
	}

	return builder.NewRecord()
}

// PeerRow is one row of a peer record.
type PeerRow struct {
	registry.PeerInfo
	Fingerprint string `json:"fingerprint,omitempty"`
}

// ArrowBatchToPeers reads a record produced by PeersToArrowBatch.
func (c *Converter) ArrowBatchToPeers(record arrow.Record) ([]PeerRow, error) {
	if err := validateSchema(record, PeerSchema()); err != nil {
		return nil, err
	}

	idCol := record.Column(peerColID).(*array.String)
	nameCol := record.Column(peerColName).(*array.String)
	addrCol := record.Column(peerColAddress).(*array.String)
	seenCol := record.Column(peerColLastSeen).(*array.Timestamp)
	fpCol := record.Column(peerColFingerprint).(*array.String)

	rows := make([]PeerRow, record.NumRows())
	for i := range rows {
		rows[i] = PeerRow{PeerInfo: registry.PeerInfo{
			ID:       idCol.Value(i),
			Name:     nameCol.Value(i),
			Address:  addrCol.Value(i),
			LastSeen: time.UnixMilli(int64(seenCol.Value(i))),
		}}
		if !fpCol.IsNull(i) {
			rows[i].Fingerprint = fpCol.Value(i)
		}
	}
	return rows, nil
}

// ProposalsToArrowBatch converts proposal summaries to a record.
func (c *Converter) ProposalsToArrowBatch(proposals []voting.Summary) arrow.Record {
	builder := array.NewRecordBuilder(c.allocator, ProposalSchema())
	defer builder.Release()

	idB := builder.Field(propColID).(*array.StringBuilder)
	descB := builder.Field(propColDescription).(*array.StringBuilder)
	proposerB := builder.Field(propColProposer).(*array.StringBuilder)
	createdB := builder.Field(propColCreatedAt).(*array.Int64Builder)
	stateB := builder.Field(propColState).(*array.StringBuilder)
	inertB := builder.Field(propColInert).(*array.BooleanBuilder)
	approvalsB := builder.Field(propColApprovals).(*array.Int64Builder)
	rejectionsB := builder.Field(propColRejections).(*array.Int64Builder)
	requiredB := builder.Field(propColRequired).(*array.Int64Builder)
	passedB := builder.Field(propColPassed).(*array.BooleanBuilder)
	votesB := builder.Field(propColVotes).(*array.ListBuilder)

	voteB := votesB.ValueBuilder().(*array.StructBuilder)
	voterB := voteB.FieldBuilder(0).(*array.StringBuilder)
	approveB := voteB.FieldBuilder(1).(*array.BooleanBuilder)
	signedB := voteB.FieldBuilder(2).(*array.BooleanBuilder)

	for _, p := range proposals {
		idB.Append(p.ID)
		descB.Append(p.Description)
		proposerB.Append(p.ProposerID)
		createdB.Append(p.CreatedAt)
		stateB.Append(p.State.String())
		inertB.Append(p.Inert)
		approvalsB.Append(int64(p.Tally.Approvals))
		rejectionsB.Append(int64(p.Tally.Rejections))
		requiredB.Append(int64(p.Tally.Required))
		passedB.Append(p.Tally.Passed)

		voters := make([]string, 0, len(p.Votes))
		for id := range p.Votes {
			voters = append(voters, id)
		}
		sort.Strings(voters)

		votesB.Append(true)
		for _, id := range voters {
			b := p.Votes[id]
			voteB.Append(true)
			voterB.Append(id)
			approveB.Append(b.Approve)
			signedB.Append(b.Signed)
		}
	}

	return builder.NewRecord()
}

// ArrowBatchToProposals reads a record produced by ProposalsToArrowBatch.
func (c *Converter) ArrowBatchToProposals(record arrow.Record) ([]voting.Summary, error) {
	if err := validateSchema(record, ProposalSchema()); err != nil {
		return nil, err
	}

	idCol := record.Column(propColID).(*array.String)
	descCol := record.Column(propColDescription).(*array.String)
	proposerCol := record.Column(propColProposer).(*array.String)
	createdCol := record.Column(propColCreatedAt).(*array.Int64)
	stateCol := record.Column(propColState).(*array.String)
	inertCol := record.Column(propColInert).(*array.Boolean)
	approvalsCol := record.Column(propColApprovals).(*array.Int64)
	rejectionsCol := record.Column(propColRejections).(*array.Int64)
	requiredCol := record.Column(propColRequired).(*array.Int64)
	passedCol := record.Column(propColPassed).(*array.Boolean)
	votesCol := record.Column(propColVotes).(*array.List)

	ballots, ok := votesCol.ListValues().(*array.Struct)
	if !ok {
		return nil, errors.New("column votes does not hold structs")
	}
	voterCol := ballots.Field(0).(*array.String)
	approveCol := ballots.Field(1).(*array.Boolean)
	signedCol := ballots.Field(2).(*array.Boolean)

	out := make([]voting.Summary, record.NumRows())
	for i := range out {
		state, err := parseState(stateCol.Value(i))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		s := voting.Summary{
			ID:          idCol.Value(i),
			Description: descCol.Value(i),
			ProposerID:  proposerCol.Value(i),
			CreatedAt:   createdCol.Value(i),
			State:       state,
			Inert:       inertCol.Value(i),
			Votes:       make(map[string]voting.Ballot),
			Tally: voting.Tally{
				Approvals:  int(approvalsCol.Value(i)),
				Rejections: int(rejectionsCol.Value(i)),
				Required:   int(requiredCol.Value(i)),
				Passed:     passedCol.Value(i),
			},
		}
		if !votesCol.IsNull(i) {
			start, end := votesCol.ValueOffsets(i)
			for j := int(start); j < int(end); j++ {
				s.Votes[voterCol.Value(j)] = voting.Ballot{
					Approve: approveCol.Value(j),
					Signed:  signedCol.Value(j),
				}
			}
		}
		out[i] = s
	}
	return out, nil
}

func parseState(s string) (voting.ProposalState, error) {
	switch s {
	case voting.Active.String():
		return voting.Active, nil
	case voting.Resolved.String():
		return voting.Resolved, nil
	default:
		return 0, fmt.Errorf("unknown proposal state %q", s)
	}
}

// validateSchema checks if a record matches the expected schema.
func validateSchema(record arrow.Record, expected *arrow.Schema) error {
	if record == nil {
		return errors.New("record is nil")
	}

	actual := record.Schema()
	if actual.NumFields() != expected.NumFields() {
		return fmt.Errorf("field count mismatch: got %d, expected %d",
			actual.NumFields(), expected.NumFields())
	}

	for i := 0; i < actual.NumFields(); i++ {
		actualField := actual.Field(i)
		expectedField := expected.Field(i)

		if actualField.Name != expectedField.Name {
			return fmt.Errorf("field %d name mismatch: got %s, expected %s",
				i, actualField.Name, expectedField.Name)
		}

		if !arrow.TypeEqual(actualField.Type, expectedField.Type) {
			return fmt.Errorf("field %s type mismatch: got %s, expected %s",
				actualField.Name, actualField.Type, expectedField.Type)
		}
	}

	return nil
}
