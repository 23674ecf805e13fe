// Package voting tracks proposals to enable secure-only mode, their votes,
// and the network-wide secure-only flag.
//
// The flag is monotonic: once a proposal reaches a strict majority of the
// current peer count it flips to true and never resets. Proposals are kept
// forever for introspection; after activation they are resolved and inert.
package voting

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Voting errors.
var (
	ErrAlreadySecure    = errors.New("secure-only mode is already active")
	ErrUnknownProposal  = errors.New("unknown proposal")
	ErrDuplicateVote    = errors.New("duplicate vote")
	ErrUnsignedRejected = errors.New("unsigned message rejected in secure-only mode")
)

// SecurityState is the network-wide policy.
type SecurityState int

const (
	Open SecurityState = iota
	SecureOnly
)

func (s SecurityState) String() string {
	if s == SecureOnly {
		return "secure-only"
	}
	return "open"
}

// ProposalState is the lifecycle of one proposal.
type ProposalState int

const (
	Active ProposalState = iota
	Resolved
)

func (s ProposalState) String() string {
	if s == Resolved {
		return "resolved"
	}
	return "active"
}

// Ballot is one recorded vote.
type Ballot struct {
	Approve bool `json:"approve"`
	Signed  bool `json:"signed"`
}

// Tally is the result of counting a proposal against a peer count.
type Tally struct {
	Approvals  int  `json:"approvals"`
	Rejections int  `json:"rejections"`
	Required   int  `json:"required"`
	Passed     bool `json:"passed"`
}

// Outcome is what Vote produced.
type Outcome struct {
	Tally     Tally
	Activated bool
}

// Summary is a copy of a proposal with its live tally.
type Summary struct {
	ID          string            `json:"id"`
	Description string            `json:"description"`
	ProposerID  string            `json:"proposer_id"`
	CreatedAt   int64             `json:"created_at"`
	State       ProposalState     `json:"state"`
	Inert       bool              `json:"inert"`
	Votes       map[string]Ballot `json:"votes"`
	Tally       Tally             `json:"tally"`
}

type proposal struct {
	id          string
	description string
	proposerID  string
	createdAt   int64
	inert       bool
	votes       map[string]Ballot
	seq         int
}

// RequiredApprovals is the strict majority of n.
func RequiredApprovals(n int) int {
	return n/2 + 1
}

// Engine holds all proposals and the secure-only flag behind one mutex.
type Engine struct {
	mu          sync.Mutex
	secureOnly  bool
	activatedBy string
	proposals   map[string]*proposal
	seq         int

	newID func() string
}

// NewEngine creates an engine in the Open state.
func NewEngine() *Engine {
	return &Engine{
		proposals: make(map[string]*proposal),
		newID:     uuid.NewString,
	}
}

// CreateProposal records a local proposal and returns its fresh id. Once
// secure-only is active the proposal is still recorded, marked inert, and
// ErrAlreadySecure is returned alongside the id.
func (e *Engine) CreateProposal(description, proposerID string, ts int64) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.newID()
	e.insertLocked(id, description, proposerID, ts)
	if e.secureOnly {
		return id, ErrAlreadySecure
	}
	return id, nil
}

// RecordProposal stores a proposal received from the network. It is
// idempotent by id and reports whether the proposal was new.
func (e *Engine) RecordProposal(id, description, proposerID string, ts int64) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.proposals[id]; exists {
		return false, nil
	}
	e.insertLocked(id, description, proposerID, ts)
	if e.secureOnly {
		return true, ErrAlreadySecure
	}
	return true, nil
}

func (e *Engine) insertLocked(id, description, proposerID string, ts int64) {
	e.seq++
	e.proposals[id] = &proposal{
		id:          id,
		description: description,
		proposerID:  proposerID,
		createdAt:   ts,
		inert:       e.secureOnly,
		votes:       make(map[string]Ballot),
		seq:         e.seq,
	}
}

// CastVote records voter's decision. The first vote from a voter is
// authoritative.
func (e *Engine) CastVote(id, voter string, approve, signed bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.castLocked(id, voter, approve, signed)
}

func (e *Engine) castLocked(id, voter string, approve, signed bool) error {
	p, exists := e.proposals[id]
	if !exists {
		return ErrUnknownProposal
	}
	if e.secureOnly && !signed {
		return ErrUnsignedRejected
	}
	if _, voted := p.votes[voter]; voted {
		return ErrDuplicateVote
	}
	p.votes[voter] = Ballot{Approve: approve, Signed: signed}
	return nil
}

// Tally counts proposal id against n known peers.
func (e *Engine) Tally(id string, n int) (Tally, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, exists := e.proposals[id]
	if !exists {
		return Tally{}, ErrUnknownProposal
	}
	return tally(p, n), nil
}

func tally(p *proposal, n int) Tally {
	t := Tally{Required: RequiredApprovals(n)}
	for _, b := range p.votes {
		if b.Approve {
			t.Approvals++
		} else {
			t.Rejections++
		}
	}
	t.Passed = t.Approvals >= t.Required
	return t
}

// MaybeActivateSecureMode flips the flag if proposal id has passed and the
// flag is still false. It reports whether this call flipped it.
func (e *Engine) MaybeActivateSecureMode(id string, n int) (bool, Tally, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maybeActivateLocked(id, n)
}

func (e *Engine) maybeActivateLocked(id string, n int) (bool, Tally, error) {
	p, exists := e.proposals[id]
	if !exists {
		return false, Tally{}, ErrUnknownProposal
	}
	t := tally(p, n)
	if !t.Passed || e.secureOnly {
		return false, t, nil
	}
	e.secureOnly = true
	e.activatedBy = id
	return true, t, nil
}

// Vote casts a vote, tallies it and maybe activates secure-only mode as one
// atomic step, so concurrent votes cannot both miss the threshold.
func (e *Engine) Vote(id, voter string, approve, signed bool, n int) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.castLocked(id, voter, approve, signed); err != nil {
		return Outcome{}, err
	}
	activated, t, err := e.maybeActivateLocked(id, n)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Tally: t, Activated: activated}, nil
}

// SecureOnly reports whether secure-only mode is active.
func (e *Engine) SecureOnly() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.secureOnly
}

// State returns the security state.
func (e *Engine) State() SecurityState {
	if e.SecureOnly() {
		return SecureOnly
	}
	return Open
}

// ActivatedBy returns the id of the proposal that flipped the flag.
func (e *Engine) ActivatedBy() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activatedBy, e.secureOnly
}

// Len returns the number of proposals.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.proposals)
}

// Proposal returns a summary of proposal id tallied against n peers.
func (e *Engine) Proposal(id string, n int) (Summary, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, exists := e.proposals[id]
	if !exists {
		return Summary{}, false
	}
	return e.summaryLocked(p, n), true
}

// Proposals returns summaries of all proposals in creation order.
func (e *Engine) Proposals(n int) []Summary {
	e.mu.Lock()
	defer e.mu.Unlock()

	ordered := make([]*proposal, 0, len(e.proposals))
	for _, p := range e.proposals {
		ordered = append(ordered, p)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })

	out := make([]Summary, 0, len(ordered))
	for _, p := range ordered {
		out = append(out, e.summaryLocked(p, n))
	}
	return out
}

func (e *Engine) summaryLocked(p *proposal, n int) Summary {
	votes := make(map[string]Ballot, len(p.votes))
	for voter, b := range p.votes {
		votes[voter] = b
	}
	state := Active
	if e.secureOnly {
		state = Resolved
	}
	return Summary{
		ID:          p.id,
		Description: p.description,
		ProposerID:  p.proposerID,
		CreatedAt:   p.createdAt,
		State:       state,
		Inert:       p.inert,
		Votes:       votes,
		Tally:       tally(p, n),
	}
}
