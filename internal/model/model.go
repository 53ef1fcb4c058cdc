// Package model defines the core domain types shared across the session
// server. All monetary values use shopspring/decimal; never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Decision is a player's pending buy/hold/sell choice. The zero value means
// the player has not chosen yet.
type Decision string

const (
	DecisionNone Decision = ""
	DecisionBuy  Decision = "buy"
	DecisionHold Decision = "hold"
	DecisionSell Decision = "sell"
)

// ParseDecision accepts exactly "buy", "hold" or "sell".
func ParseDecision(s string) (Decision, bool) {
	switch d := Decision(s); d {
	case DecisionBuy, DecisionHold, DecisionSell:
		return d, true
	}
	return DecisionNone, false
}

// Player is a registered participant, keyed by connection id.
type Player struct {
	ID       string          `json:"-"`
	Name     string          `json:"name"`
	Balance  decimal.Decimal `json:"balance"`
	Decision Decision        `json:"choice"`
}

// NewsRecord is an immutable journal entry for one triggered news event.
type NewsRecord struct {
	ID        string          `json:"id" db:"id"`
	SessionID string          `json:"session_id" db:"session_id"`
	Round     int             `json:"round" db:"round"`
	Text      string          `json:"text" db:"text"`
	// Impact is the nominal scenario impact in percent; Pct is the realized
	// move after the price floor.
	Impact    decimal.Decimal `json:"impact" db:"impact"`
	OldPrice  decimal.Decimal `json:"old_price" db:"old_price"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Change    decimal.Decimal `json:"change" db:"change"`
	Pct       decimal.Decimal `json:"pct" db:"pct"`
	// Baseline marks the first news of a session; nothing was settled.
	Baseline  bool            `json:"baseline" db:"baseline"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// SettlementRecord is an immutable journal entry for one player's balance
// change caused by a news event.
type SettlementRecord struct {
	ID            string          `json:"id" db:"id"`
	SessionID     string          `json:"session_id" db:"session_id"`
	NewsID        string          `json:"news_id" db:"news_id"`
	PlayerID      string          `json:"player_id" db:"player_id"`
	PlayerName    string          `json:"player_name" db:"player_name"`
	Decision      Decision        `json:"decision" db:"decision"`
	BalanceBefore decimal.Decimal `json:"balance_before" db:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after" db:"balance_after"`
	Timestamp     time.Time       `json:"timestamp" db:"timestamp"`
}
