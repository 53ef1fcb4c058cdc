// Package market implements the simulated asset price for a trading session
// and the settlement rule that turns a news impact into balance changes.
//
// All monetary values use shopspring/decimal; never float64 for money.
// Prices and balances are rounded to 2 fractional digits after every update,
// percentages to 1, so displayed and settled values never drift.
package market

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/BeiningSAN/market-panic-server/internal/model"
)

var (
	// ErrPriceBelowFloor is returned when the initial price is below Floor.
	ErrPriceBelowFloor = errors.New("market: initial price must be at least the price floor")

	// Floor is the lowest price the asset can reach.
	Floor = decimal.NewFromInt(1)

	// MoneyScale is the number of decimal places for prices and balances.
	MoneyScale int32 = 2

	// PctScale is the number of decimal places for reported percentages.
	PctScale int32 = 1

	hundred = decimal.NewFromInt(100)
)

// Move is the outcome of applying one news impact to the price.
type Move struct {
	OldPrice decimal.Decimal
	NewPrice decimal.Decimal
	Change   decimal.Decimal // NewPrice - OldPrice
	Pct      decimal.Decimal // Change relative to OldPrice, in percent

	// Baseline is true for the first news since the last reset. A baseline
	// move is never settled against player decisions.
	Baseline bool
}

// Engine owns the current price and the "first news shown" flag.
// It is not safe for concurrent use; the session state serializes access.
type Engine struct {
	initial  decimal.Decimal
	price    decimal.Decimal
	settling bool
}

// NewEngine creates an engine starting at initial.
func NewEngine(initial decimal.Decimal) (*Engine, error) {
	if initial.LessThan(Floor) {
		return nil, ErrPriceBelowFloor
	}
	initial = initial.Round(MoneyScale)
	return &Engine{initial: initial, price: initial}, nil
}

// Price returns the current price.
func (e *Engine) Price() decimal.Decimal {
	return e.price
}

// Initial returns the configured starting price.
func (e *Engine) Initial() decimal.Decimal {
	return e.initial
}

// Settling reports whether the baseline news has already been shown, i.e.
// whether the next ApplyImpact will be settled.
func (e *Engine) Settling() bool {
	return e.settling
}

// ApplyImpact moves the price by percent and commits it:
//
//	P1     = round2(P0 * (1 + percent/100)), clamped to Floor
//	change = round2(P1 - P0)
//	pct    = round1(change / P0 * 100)
//
// pct is derived from the clamped price, so it can differ from percent when
// the floor kicks in.
func (e *Engine) ApplyImpact(percent decimal.Decimal) Move {
	old := e.price

	next := old.Mul(decimal.NewFromInt(1).Add(percent.Div(hundred))).Round(MoneyScale)
	if next.LessThan(Floor) {
		next = Floor
	}

	change := next.Sub(old).Round(MoneyScale)
	pct := change.Div(old).Mul(hundred).Round(PctScale)

	baseline := !e.settling
	e.settling = true
	e.price = next

	return Move{
		OldPrice: old,
		NewPrice: next,
		Change:   change,
		Pct:      pct,
		Baseline: baseline,
	}
}

// Reset restores the initial price and clears the first-news flag.
func (e *Engine) Reset() {
	e.price = e.initial
	e.settling = false
}

// Settle returns the balance after a news event with the given nominal
// impact, for a player holding decision:
//
//	buy  → round2(balance * (1 + impact/100))
//	sell → round2(balance * (1 - impact/100))
//	hold, none → unchanged
//
// No floor is applied; a sell into a rally larger than 100% goes negative.
func Settle(balance decimal.Decimal, decision model.Decision, impact decimal.Decimal) decimal.Decimal {
	factor := impact.Div(hundred)
	switch decision {
	case model.DecisionBuy:
		return balance.Mul(decimal.NewFromInt(1).Add(factor)).Round(MoneyScale)
	case model.DecisionSell:
		return balance.Mul(decimal.NewFromInt(1).Sub(factor)).Round(MoneyScale)
	default:
		return balance
	}
}
