package session

import (
	"github.com/shopspring/decimal"

	"github.com/BeiningSAN/market-panic-server/internal/model"
)

// Kind is the wire name of an outbound message.
type Kind string

const (
	KindHostConfirmed   Kind = "host_confirmed"
	KindPlayerConfirmed Kind = "player_confirmed"
	KindPlayersUpdated  Kind = "update_players"
	KindRoundStarted    Kind = "round_started"
	KindNewsUpdated     Kind = "news_update"
	KindHostLeft        Kind = "host_left"
)

// Outbound is one message produced by a transition. An empty To means every
// connection; otherwise it is unicast to that connection id.
type Outbound struct {
	To      string
	Kind    Kind
	Payload any // nil, PlayersPayload, RoundPayload or NewsPayload
}

// Broadcast reports whether the message goes to every connection.
func (o Outbound) Broadcast() bool {
	return o.To == ""
}

// PlayerView is the public projection of a player.
type PlayerView struct {
	Name    string          `json:"name"`
	Balance decimal.Decimal `json:"balance"`
	Choice  model.Decision  `json:"choice"`
}

// PlayersPayload is the full registry keyed by connection id.
type PlayersPayload map[string]PlayerView

// RoundPayload announces a new round.
type RoundPayload struct {
	Round    int     `json:"round"`
	Duration float64 `json:"duration"`
}

// NewsPayload announces a news event and the resulting price move.
type NewsPayload struct {
	Text   string          `json:"text"`
	Price  decimal.Decimal `json:"price"`
	Change decimal.Decimal `json:"change"`
	Pct    decimal.Decimal `json:"pct"`
}
