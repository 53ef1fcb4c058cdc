// Package session implements the round/news/settlement state machine of a
// host-driven trading session.
//
// State is a plain value owner with no locking and no I/O: Apply takes one
// inbound Event and returns the outbound messages it produced, or a
// rejection reason. Callers serialize access (see internal/game).
package session

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/BeiningSAN/market-panic-server/internal/market"
	"github.com/BeiningSAN/market-panic-server/internal/model"
	"github.com/BeiningSAN/market-panic-server/internal/scenario"
)

var (
	// ErrUnauthorized is returned when a non-host invokes a host-only event.
	ErrUnauthorized = errors.New("session: caller is not the host")

	// ErrNotRegistered is returned for a decision from an unknown connection.
	ErrNotRegistered = errors.New("session: caller is not a registered player")

	// ErrInvalidChoice is returned for a decision outside buy/hold/sell.
	ErrInvalidChoice = errors.New("session: choice must be buy, hold or sell")

	// ErrNegativeBalance is returned by New for a negative initial balance.
	ErrNegativeBalance = errors.New("session: initial balance must not be negative")
)

// Picker selects the scenario for a news event.
type Picker interface {
	Pick() scenario.Scenario
}

// Config holds the fixed session parameters.
type Config struct {
	InitialBalance decimal.Decimal
	InitialPrice   decimal.Decimal

	// NewID generates session ids; defaults to uuid.NewString.
	NewID func() string
}

// Result is the outcome of Apply. Err is nil when the event was applied;
// otherwise it is one of the rejection errors above and nothing changed.
type Result struct {
	Outbound []Outbound

	// Report is set for an applied TriggerNews.
	Report *NewsReport

	Err error
}

// Applied reports whether the event mutated the session.
func (r Result) Applied() bool {
	return r.Err == nil
}

func applied(out ...Outbound) Result { return Result{Outbound: out} }
func rejected(err error) Result      { return Result{Err: err} }

// NewsReport describes one applied news event for the journal.
type NewsReport struct {
	SessionID   string
	Round       int
	Scenario    scenario.Scenario
	Move        market.Move
	Settlements []Settlement // ordered by player id; empty for a baseline
}

// Settlement is one player's balance change from a news event.
type Settlement struct {
	PlayerID string
	Name     string
	Decision model.Decision
	Before   decimal.Decimal
	After    decimal.Decimal
}

// Snapshot is a deep copy of the session for read-only consumers.
type Snapshot struct {
	SessionID   string          `json:"session_id"`
	HostID      string          `json:"-"`
	HostPresent bool            `json:"host_present"`
	Round       int             `json:"round"`
	Price       decimal.Decimal `json:"price"`
	LastNews    string          `json:"last_news"`
	Settling    bool            `json:"settling"`
	Players     PlayersPayload  `json:"players"`
}

// State is the single owner of a session: host identity, round counter,
// player registry and the market engine.
type State struct {
	cfg     Config
	picker  Picker
	market  *market.Engine
	players map[string]*model.Player

	sessionID string
	hostID    string
	round     int
	lastNews  string
}

// New creates an empty session with no host.
func New(cfg Config, picker Picker) (*State, error) {
	if cfg.InitialBalance.IsNegative() {
		return nil, ErrNegativeBalance
	}
	engine, err := market.NewEngine(cfg.InitialPrice)
	if err != nil {
		return nil, err
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	s := &State{
		cfg:    cfg,
		picker: picker,
		market: engine,
	}
	s.reset()
	return s, nil
}

// SessionID identifies the current session; it changes on every reset.
func (s *State) SessionID() string {
	return s.sessionID
}

// PlayerCount returns the number of registered players.
func (s *State) PlayerCount() int {
	return len(s.players)
}

// Price returns the current asset price.
func (s *State) Price() decimal.Decimal {
	return s.market.Price()
}

// Apply runs one transition.
func (s *State) Apply(ev Event) Result {
	switch e := ev.(type) {
	case AttachHost:
		return s.attachHost(e)
	case AttachPlayer:
		return s.attachPlayer(e)
	case SetDecision:
		return s.setDecision(e)
	case BeginRound:
		return s.beginRound(e)
	case TriggerNews:
		return s.triggerNews(e)
	case Disconnect:
		return s.disconnect(e)
	}
	return rejected(fmt.Errorf("session: unsupported event %T", ev))
}

// reset returns the session to its initial form under a fresh id. The host
// identity is left to the caller.
func (s *State) reset() {
	s.sessionID = s.cfg.NewID()
	s.players = make(map[string]*model.Player)
	s.round = 0
	s.lastNews = ""
	s.market.Reset()
}

func (s *State) attachHost(e AttachHost) Result {
	s.reset()
	s.hostID = e.Conn

	return applied(
		s.playersUpdated(),
		Outbound{Kind: KindNewsUpdated, Payload: NewsPayload{
			Text:   "",
			Price:  s.market.Price(),
			Change: decimal.Zero,
			Pct:    decimal.Zero,
		}},
		Outbound{To: e.Conn, Kind: KindHostConfirmed},
	)
}

func (s *State) attachPlayer(e AttachPlayer) Result {
	// Re-registration restarts the player.
	s.players[e.Conn] = &model.Player{
		ID:       e.Conn,
		Name:     e.Name,
		Balance:  s.cfg.InitialBalance,
		Decision: model.DecisionNone,
	}
	return applied(
		Outbound{To: e.Conn, Kind: KindPlayerConfirmed},
		s.playersUpdated(),
	)
}

func (s *State) setDecision(e SetDecision) Result {
	p, ok := s.players[e.Conn]
	if !ok {
		return rejected(ErrNotRegistered)
	}
	decision, ok := model.ParseDecision(e.Choice)
	if !ok {
		return rejected(ErrInvalidChoice)
	}
	p.Decision = decision
	return applied(s.playersUpdated())
}

func (s *State) beginRound(e BeginRound) Result {
	if !s.isHost(e.Conn) {
		return rejected(ErrUnauthorized)
	}
	s.round++
	return applied(Outbound{Kind: KindRoundStarted, Payload: RoundPayload{
		Round:    s.round,
		Duration: e.Duration,
	}})
}

func (s *State) triggerNews(e TriggerNews) Result {
	if !s.isHost(e.Conn) {
		return rejected(ErrUnauthorized)
	}

	sc := s.picker.Pick()
	move := s.market.ApplyImpact(sc.Impact)

	report := &NewsReport{
		SessionID: s.sessionID,
		Round:     s.round,
		Scenario:  sc,
		Move:      move,
	}
	if !move.Baseline {
		report.Settlements = s.settle(sc.Impact)
	}
	s.lastNews = sc.Text

	res := applied(
		Outbound{Kind: KindNewsUpdated, Payload: NewsPayload{
			Text:   sc.Text,
			Price:  move.NewPrice,
			Change: move.Change,
			Pct:    move.Pct,
		}},
		s.playersUpdated(),
	)
	res.Report = report
	return res
}

// settle applies impact to every player holding a decision. Decisions are
// kept for the next round.
func (s *State) settle(impact decimal.Decimal) []Settlement {
	ids := make([]string, 0, len(s.players))
	for id := range s.players {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []Settlement
	for _, id := range ids {
		p := s.players[id]
		if p.Decision == model.DecisionNone {
			continue
		}
		before := p.Balance
		p.Balance = market.Settle(before, p.Decision, impact)
		out = append(out, Settlement{
			PlayerID: id,
			Name:     p.Name,
			Decision: p.Decision,
			Before:   before,
			After:    p.Balance,
		})
	}
	return out
}

func (s *State) disconnect(e Disconnect) Result {
	delete(s.players, e.Conn)

	var out []Outbound
	if s.isHost(e.Conn) {
		s.hostID = ""
		out = append(out, Outbound{Kind: KindHostLeft})
	}
	out = append(out, s.playersUpdated())
	return applied(out...)
}

func (s *State) isHost(conn string) bool {
	return s.hostID != "" && s.hostID == conn
}

func (s *State) playersUpdated() Outbound {
	return Outbound{Kind: KindPlayersUpdated, Payload: s.playersView()}
}

func (s *State) playersView() PlayersPayload {
	view := make(PlayersPayload, len(s.players))
	for id, p := range s.players {
		view[id] = PlayerView{Name: p.Name, Balance: p.Balance, Choice: p.Decision}
	}
	return view
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		SessionID:   s.sessionID,
		HostID:      s.hostID,
		HostPresent: s.hostID != "",
		Round:       s.round,
		Price:       s.market.Price(),
		LastNews:    s.lastNews,
		Settling:    s.market.Settling(),
		Players:     s.playersView(),
	}
}
