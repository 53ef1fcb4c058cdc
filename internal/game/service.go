// Package game runs a trading session on top of the session state machine:
// it serializes inbound events, fans outbound messages out over websockets,
// journals news and settlements, and serves read-only HTTP views.
package game

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BeiningSAN/market-panic-server/internal/metrics"
	"github.com/BeiningSAN/market-panic-server/internal/protocol"
	"github.com/BeiningSAN/market-panic-server/internal/scenario"
	"github.com/BeiningSAN/market-panic-server/internal/session"
	"github.com/BeiningSAN/market-panic-server/internal/store"
)

// Publisher delivers an encoded frame. An empty to means every connection.
// Frames published in sequence must reach each connection in that order.
type Publisher interface {
	Publish(to string, msg []byte)
}

// Service is the single owner of the session state. Every transition runs
// under mu and publishes all of its messages before the next one starts,
// so every connection sees rounds, prices and the registry in the same order.
// Nothing under mu waits on I/O: news reports go to the JournalWriter queue.
type Service struct {
	mu        sync.Mutex
	state     *session.State
	scenarios *scenario.Table
	pub       Publisher
	journal   store.Journal
	writer    *JournalWriter
}

// NewService creates a session service. table is only used for listing;
// the state carries its own picker. journal serves the history views and
// writer records new reports into it.
func NewService(state *session.State, table *scenario.Table, pub Publisher, journal store.Journal, writer *JournalWriter) *Service {
	metrics.Price.Set(state.Price().InexactFloat64())
	return &Service{
		state:     state,
		scenarios: table,
		pub:       pub,
		journal:   journal,
		writer:    writer,
	}
}

// Handle applies one event. Rejected events are counted and logged at debug
// level only; nothing is sent back to the caller.
func (s *Service) Handle(_ context.Context, ev session.Event) session.Result {
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.state.Apply(ev)
	if !res.Applied() {
		s.reject(ev.Caller(), ev.Type(), res.Err)
		return res
	}

	for _, o := range res.Outbound {
		data, err := protocol.Encode(o)
		if err != nil {
			slog.Error("encode outbound failed", "kind", o.Kind, "err", err)
			continue
		}
		s.pub.Publish(o.To, data)
	}

	s.logTransition(ev, res)
	if res.Report != nil {
		s.writer.Enqueue(res.Report)
	}
	s.observe(ev, res)
	metrics.TransitionLatency.WithLabelValues(ev.Type()).Observe(time.Since(start).Seconds())
	return res
}

// Reject records a frame that failed to decode.
func (s *Service) Reject(conn string, err error) {
	s.reject(conn, "", err)
}

func (s *Service) reject(conn, event string, err error) {
	metrics.EventsRejected.WithLabelValues(protocol.Reason(err)).Inc()
	slog.Debug("event dropped", "conn", conn, "event", event, "reason", err)
}

// Snapshot returns a consistent copy of the session.
func (s *Service) Snapshot() session.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Snapshot()
}

func (s *Service) logTransition(ev session.Event, res session.Result) {
	switch e := ev.(type) {
	case session.AttachHost:
		slog.Info("host attached, session reset",
			"conn", e.Conn,
			"session", s.state.SessionID(),
			"price", s.state.Price().String(),
		)
	case session.AttachPlayer:
		slog.Info("player joined", "conn", e.Conn, "name", e.Name, "players", s.state.PlayerCount())
	case session.SetDecision:
		slog.Debug("decision set", "conn", e.Conn, "choice", e.Choice)
	case session.BeginRound:
		slog.Info("round started", "session", s.state.SessionID(), "duration", e.Duration)
	case session.TriggerNews:
		rep := res.Report
		slog.Info("news triggered",
			"session", rep.SessionID,
			"round", rep.Round,
			"text", rep.Scenario.Text,
			"impact", rep.Scenario.Impact.String(),
			"price", rep.Move.NewPrice.String(),
			"change", rep.Move.Change.String(),
			"pct", rep.Move.Pct.String(),
			"baseline", rep.Move.Baseline,
			"settled", len(rep.Settlements),
		)
	case session.Disconnect:
		slog.Info("connection left", "conn", e.Conn, "players", s.state.PlayerCount())
	}
}

func (s *Service) observe(ev session.Event, res session.Result) {
	metrics.EventsTotal.WithLabelValues(ev.Type()).Inc()
	metrics.Players.Set(float64(s.state.PlayerCount()))
	metrics.Price.Set(s.state.Price().InexactFloat64())

	if _, ok := ev.(session.BeginRound); ok {
		metrics.RoundsStarted.Inc()
	}
	if rep := res.Report; rep != nil {
		direction := "flat"
		switch rep.Move.Change.Sign() {
		case 1:
			direction = "up"
		case -1:
			direction = "down"
		}
		metrics.NewsTotal.WithLabelValues(direction).Inc()
		for _, st := range rep.Settlements {
			metrics.SettlementsTotal.WithLabelValues(string(st.Decision)).Inc()
		}
	}
}
