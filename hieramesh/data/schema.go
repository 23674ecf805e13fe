package data

import (
	"github.com/apache/arrow-go/v18/arrow"
)

// Column positions in PeerSchema.
const (
	peerColID = iota
	peerColName
	peerColAddress
	peerColLastSeen
	peerColFingerprint
)

// Column positions in ProposalSchema.
const (
	propColID = iota
	propColDescription
	propColProposer
	propColCreatedAt
	propColState
	propColInert
	propColApprovals
	propColRejections
	propColRequired
	propColPassed
	propColVotes
)

// PeerSchema returns the Arrow schema for a registry snapshot.
//
// Fields:
//   - peer_id: string - Peer identifier
//   - name: string - Display name
//   - address: string - Transport address (host:port)
//   - last_seen: timestamp[ms] - Last discovery or heartbeat
//   - fingerprint: string (nullable) - Hex public key if known
func PeerSchema() *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "peer_id", Type: arrow.BinaryTypes.String},
			{Name: "name", Type: arrow.BinaryTypes.String},
			{Name: "address", Type: arrow.BinaryTypes.String},
			{Name: "last_seen", Type: arrow.FixedWidthTypes.Timestamp_ms},
			{Name: "fingerprint", Type: arrow.BinaryTypes.String, Nullable: true},
		},
		nil,
	)
}

// voteStructFields returns the struct fields for one ballot within a
// proposal. Used internally by ProposalSchema.
func voteStructFields() []arrow.Field {
	return []arrow.Field{
		{Name: "voter_id", Type: arrow.BinaryTypes.String},
		{Name: "approve", Type: arrow.FixedWidthTypes.Boolean},
		{Name: "signed", Type: arrow.FixedWidthTypes.Boolean},
	}
}

// ProposalSchema returns the Arrow schema for proposals with their tally
// and ballots.
//
// Fields:
//   - proposal_id, description, proposer_id: string
//   - created_at: int64 - Unix seconds from the proposer
//   - state: string - "active" or "resolved"
//   - inert: bool - Arrived after secure-only mode was already on
//   - approvals, rejections, required: int64
//   - passed: bool
//   - votes: list<struct> - Ballots ordered by voter id
func ProposalSchema() *arrow.Schema {
	voteStruct := arrow.StructOf(voteStructFields()...)

	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "proposal_id", Type: arrow.BinaryTypes.String},
			{Name: "description", Type: arrow.BinaryTypes.String},
			{Name: "proposer_id", Type: arrow.BinaryTypes.String},
			{Name: "created_at", Type: arrow.PrimitiveTypes.Int64},
			{Name: "state", Type: arrow.BinaryTypes.String},
			{Name: "inert", Type: arrow.FixedWidthTypes.Boolean},
			{Name: "approvals", Type: arrow.PrimitiveTypes.Int64},
			{Name: "rejections", Type: arrow.PrimitiveTypes.Int64},
			{Name: "required", Type: arrow.PrimitiveTypes.Int64},
			{Name: "passed", Type: arrow.FixedWidthTypes.Boolean},
			{
				Name:     "votes",
				Type:     arrow.ListOf(voteStruct),
				Nullable: true,
			},
		},
		nil,
	)
}
