package session

// Event is an inbound transition request. The set of implementations is
// closed: only the types in this file satisfy it.
type Event interface {
	// Caller is the connection id the event arrived on.
	Caller() string
	// Type is the event's wire name, used for logs and metrics.
	Type() string

	isEvent()
}

// Wire names of inbound events.
const (
	NameAttachHost   = "join_as_host"
	NameAttachPlayer = "join_as_player"
	NameSetDecision  = "player_choice"
	NameBeginRound   = "start_round"
	NameTriggerNews  = "random_news"
	NameDisconnect   = "disconnect"
)

// AttachHost makes the caller the host and resets the session.
type AttachHost struct {
	Conn string
}

// AttachPlayer registers the caller as a player.
type AttachPlayer struct {
	Conn string
	Name string
}

// SetDecision records the caller's pending decision. Choice is the raw value
// received; anything other than buy/hold/sell is rejected.
type SetDecision struct {
	Conn   string
	Choice string
}

// BeginRound starts the next round. Duration is the advisory countdown in
// seconds, relayed to clients only.
type BeginRound struct {
	Conn     string
	Duration float64
}

// TriggerNews picks a scenario, moves the price and settles decisions.
type TriggerNews struct {
	Conn string
}

// Disconnect is emitted by the transport when a connection closes.
type Disconnect struct {
	Conn string
}

func (e AttachHost) Caller() string   { return e.Conn }
func (e AttachPlayer) Caller() string { return e.Conn }
func (e SetDecision) Caller() string  { return e.Conn }
func (e BeginRound) Caller() string   { return e.Conn }
func (e TriggerNews) Caller() string  { return e.Conn }
func (e Disconnect) Caller() string   { return e.Conn }

func (AttachHost) Type() string   { return NameAttachHost }
func (AttachPlayer) Type() string { return NameAttachPlayer }
func (SetDecision) Type() string  { return NameSetDecision }
func (BeginRound) Type() string   { return NameBeginRound }
func (TriggerNews) Type() string  { return NameTriggerNews }
func (Disconnect) Type() string   { return NameDisconnect }

func (AttachHost) isEvent()   {}
func (AttachPlayer) isEvent() {}
func (SetDecision) isEvent()  {}
func (BeginRound) isEvent()   {}
func (TriggerNews) isEvent()  {}
func (Disconnect) isEvent()   {}
