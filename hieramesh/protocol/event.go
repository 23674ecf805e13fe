package protocol

// EventType names a display event.
type EventType string

const (
	PeerDiscovered      EventType = "peer_discovered"
	PeerLeft            EventType = "peer_left"
	ChatReceived        EventType = "chat_received"
	ProposalCreated     EventType = "proposal_created"
	VoteRecorded        EventType = "vote_recorded"
	SecureModeActivated EventType = "secure_mode_activated"
	MessageRejected     EventType = "message_rejected"
)

// ChatStatus is the verification status attached to a displayed chat line.
type ChatStatus string

const (
	Verified ChatStatus = "verified"
	Unsigned ChatStatus = "unsigned"
)

// Reason explains a MessageRejected or PeerLeft event.
type Reason string

const (
	ReasonDecode             Reason = "decode_error"
	ReasonStale              Reason = "stale"
	ReasonInvalidSignature   Reason = "invalid_signature"
	ReasonMalformedSignature Reason = "malformed_signature"
	ReasonMalformedKey       Reason = "malformed_key"
	ReasonUnsigned           Reason = "unsigned_rejected"
	ReasonUnknownProposal    Reason = "unknown_proposal"
	ReasonDuplicateVote      Reason = "duplicate_vote"
	ReasonInvalidPeer        Reason = "invalid_peer"
	ReasonUnhandled          Reason = "unhandled"

	ReasonTimeout Reason = "timeout"
	ReasonExit    Reason = "exit"
)

// Event is a structured record for the display sink. Only the fields that
// matter for Type are set; the UI decides how to render them.
type Event struct {
	Type EventType `json:"type"`

	PeerID   string `json:"peer_id,omitempty"`
	PeerName string `json:"peer_name,omitempty"`
	Address  string `json:"address,omitempty"`

	Content   string     `json:"content,omitempty"`
	Timestamp int64      `json:"timestamp,omitempty"`
	Status    ChatStatus `json:"status,omitempty"`

	ProposalID  string `json:"proposal_id,omitempty"`
	Description string `json:"description,omitempty"`
	Approve     bool   `json:"approve,omitempty"`
	Approvals   int    `json:"approvals,omitempty"`
	Required    int    `json:"required,omitempty"`
	Inert       bool   `json:"inert,omitempty"`

	Kind   Kind   `json:"kind,omitempty"`
	Reason Reason `json:"reason,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Rejected builds a MessageRejected event.
func Rejected(kind Kind, reason Reason, from, detail string) Event {
	return Event{Type: MessageRejected, Kind: kind, Reason: reason, Address: from, Detail: detail}
}

// Outbound is a message the caller must send once the state lock is
// released. An empty To means broadcast to every known peer.
type Outbound struct {
	To      string
	Message Message
}

// Effects is what handling one message produced.
type Effects struct {
	Events   []Event
	Outbound []Outbound
}

// Emit appends display events.
func (e *Effects) Emit(evs ...Event) {
	e.Events = append(e.Events, evs...)
}

// SendTo queues msg for the peer at address.
func (e *Effects) SendTo(address string, msg Message) {
	e.Outbound = append(e.Outbound, Outbound{To: address, Message: msg})
}

// Broadcast queues msg for every known peer.
func (e *Effects) Broadcast(msg Message) {
	e.Outbound = append(e.Outbound, Outbound{Message: msg})
}

// Empty reports whether nothing was produced.
func (e Effects) Empty() bool {
	return len(e.Events) == 0 && len(e.Outbound) == 0
}
