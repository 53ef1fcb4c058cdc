package game_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/BeiningSAN/market-panic-server/internal/game"
	"github.com/BeiningSAN/market-panic-server/internal/model"
	"github.com/BeiningSAN/market-panic-server/internal/scenario"
	"github.com/BeiningSAN/market-panic-server/internal/session"
	"github.com/BeiningSAN/market-panic-server/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type frame struct {
	To      string
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// recorder is a Publisher that keeps every frame in publish order.
type recorder struct {
	mu     sync.Mutex
	frames []frame
}

func (r *recorder) Publish(to string, msg []byte) {
	var f frame
	json.Unmarshal(msg, &f)
	f.To = to
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
}

func (r *recorder) take() []frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.frames
	r.frames = nil
	return out
}

func types(frames []frame) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Type)
	}
	return out
}

func equalTypes(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// fixedTable always picks a +10% scenario.
func fixedTable(t *testing.T) *scenario.Table {
	t.Helper()
	table, err := scenario.NewTable([]scenario.Scenario{{Text: "Boom", Impact: d(10)}}, nil)
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}
	return table
}

type testEnv struct {
	svc     *game.Service
	pub     *recorder
	journal *store.MemoryStore
	router  chi.Router
}

func newTestEnv(t *testing.T, journal store.Journal) *testEnv {
	t.Helper()
	table := fixedTable(t)
	state, err := session.New(session.Config{InitialBalance: d(1000), InitialPrice: d(100)}, table)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	env := &testEnv{pub: &recorder{}}
	if journal == nil {
		env.journal = store.NewMemoryStore()
		journal = env.journal
	}
	writer := game.NewJournalWriter(journal, 0)
	ctx, cancel := context.WithCancel(context.Background())
	go writer.Run(ctx)
	t.Cleanup(cancel)
	env.svc = game.NewService(state, table, env.pub, journal, writer)

	r := chi.NewRouter()
	r.Get("/api/v1/session", env.svc.GetSession)
	r.Get("/api/v1/scenarios", env.svc.ListScenarios)
	r.Get("/api/v1/sessions/{sessionID}/news", env.svc.GetNewsHistory)
	r.Get("/api/v1/sessions/{sessionID}/settlements", env.svc.GetSettlements)
	env.router = r
	return env
}

func (e *testEnv) handle(t *testing.T, ev session.Event) session.Result {
	t.Helper()
	return e.svc.Handle(context.Background(), ev)
}

// playRound attaches host "h" and player "p", has p buy, and triggers the
// baseline plus one settling news event.
func (e *testEnv) playRound(t *testing.T) {
	t.Helper()
	e.handle(t, session.AttachHost{Conn: "h"})
	e.handle(t, session.AttachPlayer{Conn: "p", Name: "Ann"})
	e.handle(t, session.SetDecision{Conn: "p", Choice: "buy"})
	e.handle(t, session.BeginRound{Conn: "h", Duration: 30})
	e.handle(t, session.TriggerNews{Conn: "h"})
	e.handle(t, session.TriggerNews{Conn: "h"})
}

// waitFor polls cond until it holds or a second has passed.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// waitRecorded blocks until the journal writer has stored the current
// session's news and settlement rows.
func (e *testEnv) waitRecorded(t *testing.T, news, settlements int) {
	t.Helper()
	sessionID := e.svc.Snapshot().SessionID
	ctx := context.Background()
	waitFor(t, "journal rows", func() bool {
		n, _ := e.journal.ListNews(ctx, sessionID)
		st, _ := e.journal.ListSettlements(ctx, sessionID, "")
		return len(n) == news && len(st) == settlements
	})
}

func (e *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// --- Event handling ---

func TestHandle_AttachHostPublishesInOrder(t *testing.T) {
	env := newTestEnv(t, nil)

	res := env.handle(t, session.AttachHost{Conn: "h"})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}

	frames := env.pub.take()
	if got := types(frames); !equalTypes(got, "update_players", "news_update", "host_confirmed") {
		t.Fatalf("unexpected frame order: %v", got)
	}
	if frames[0].To != "" || frames[1].To != "" {
		t.Error("registry and news should be broadcast")
	}
	if frames[2].To != "h" {
		t.Errorf("host_confirmed should be unicast to h, got %q", frames[2].To)
	}

	var news session.NewsPayload
	if err := json.Unmarshal(frames[1].Payload, &news); err != nil {
		t.Fatalf("decode news: %v", err)
	}
	if !news.Price.Equal(d(100)) || !news.Change.IsZero() || !news.Pct.IsZero() {
		t.Errorf("expected neutral news at 100, got %+v", news)
	}
}

func TestHandle_FullRound(t *testing.T) {
	env := newTestEnv(t, nil)
	env.playRound(t)

	snap := env.svc.Snapshot()
	if snap.Round != 1 {
		t.Errorf("expected round 1, got %d", snap.Round)
	}
	if !snap.Price.Equal(d(121)) {
		t.Errorf("expected price 121, got %s", snap.Price)
	}
	ann := snap.Players["p"]
	if !ann.Balance.Equal(d(1100)) {
		t.Errorf("expected balance 1100, got %s", ann.Balance)
	}
	if ann.Choice != model.DecisionBuy {
		t.Errorf("decision should persist, got %q", ann.Choice)
	}
}

func TestHandle_RejectedPublishesNothing(t *testing.T) {
	env := newTestEnv(t, nil)
	env.handle(t, session.AttachHost{Conn: "h"})
	env.pub.take()

	tests := []struct {
		name string
		ev   session.Event
		err  error
	}{
		{"choice before join", session.SetDecision{Conn: "x", Choice: "buy"}, session.ErrNotRegistered},
		{"round from player", session.BeginRound{Conn: "x", Duration: 10}, session.ErrUnauthorized},
		{"news from player", session.TriggerNews{Conn: "x"}, session.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := env.handle(t, tt.ev)
			if !errors.Is(res.Err, tt.err) {
				t.Errorf("expected %v, got %v", tt.err, res.Err)
			}
			if frames := env.pub.take(); len(frames) != 0 {
				t.Errorf("rejected event published %v", types(frames))
			}
		})
	}
}

func TestHandle_JournalsNewsAndSettlements(t *testing.T) {
	env := newTestEnv(t, nil)
	env.playRound(t)
	env.waitRecorded(t, 2, 1)
	sessionID := env.svc.Snapshot().SessionID
	ctx := context.Background()

	news, err := env.journal.ListNews(ctx, sessionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(news) != 2 {
		t.Fatalf("expected 2 news records, got %d", len(news))
	}
	if !news[0].Baseline || news[1].Baseline {
		t.Errorf("only the first news should be the baseline: %+v", news)
	}
	if !news[1].OldPrice.Equal(d(110)) || !news[1].Price.Equal(d(121)) {
		t.Errorf("expected 110 -> 121, got %s -> %s", news[1].OldPrice, news[1].Price)
	}

	lines, err := env.journal.ListSettlements(ctx, sessionID, "p")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected 1 settlement, got %d", len(lines))
	}
	line := lines[0]
	if line.NewsID != news[1].ID {
		t.Errorf("settlement should reference the settling news")
	}
	if line.Decision != model.DecisionBuy || !line.BalanceBefore.Equal(d(1000)) || !line.BalanceAfter.Equal(d(1100)) {
		t.Errorf("unexpected settlement: %+v", line)
	}
}

// failingJournal rejects every write.
type failingJournal struct {
	*store.MemoryStore
}

func (failingJournal) RecordNews(context.Context, *model.NewsRecord) error {
	return errors.New("journal down")
}

func TestHandle_JournalFailureDoesNotAffectSession(t *testing.T) {
	env := newTestEnv(t, failingJournal{store.NewMemoryStore()})
	env.playRound(t)

	snap := env.svc.Snapshot()
	if !snap.Players["p"].Balance.Equal(d(1100)) {
		t.Errorf("settlement should apply despite journal errors, got %s", snap.Players["p"].Balance)
	}

	var newsFrames int
	for _, f := range env.pub.take() {
		if f.Type == "news_update" {
			newsFrames++
		}
	}
	if newsFrames != 3 {
		t.Errorf("expected 3 news frames (reset + 2 triggers), got %d", newsFrames)
	}
}

// blockingJournal holds every news write until release is closed.
type blockingJournal struct {
	*store.MemoryStore
	entered chan struct{}
	release chan struct{}
}

func (j *blockingJournal) RecordNews(ctx context.Context, rec *model.NewsRecord) error {
	select {
	case j.entered <- struct{}{}:
	default:
	}
	<-j.release
	return j.MemoryStore.RecordNews(ctx, rec)
}

func TestHandle_SlowJournalDoesNotBlockTransitions(t *testing.T) {
	journal := &blockingJournal{
		MemoryStore: store.NewMemoryStore(),
		entered:     make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
	env := newTestEnv(t, journal)
	env.handle(t, session.AttachHost{Conn: "h"})
	env.handle(t, session.AttachPlayer{Conn: "p", Name: "Ann"})
	env.handle(t, session.TriggerNews{Conn: "h"})

	select {
	case <-journal.entered:
	case <-time.After(time.Second):
		t.Fatal("journal write never started")
	}

	done := make(chan session.Result, 1)
	go func() {
		done <- env.svc.Handle(context.Background(), session.SetDecision{Conn: "p", Choice: "sell"})
	}()
	select {
	case res := <-done:
		if res.Err != nil {
			t.Errorf("unexpected error: %v", res.Err)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("transition waited on the journal write")
	}

	close(journal.release)
	sessionID := env.svc.Snapshot().SessionID
	waitFor(t, "news row", func() bool {
		news, _ := journal.ListNews(context.Background(), sessionID)
		return len(news) == 1
	})
}

func TestHandle_HostDisconnect(t *testing.T) {
	env := newTestEnv(t, nil)
	env.handle(t, session.AttachHost{Conn: "h"})
	env.handle(t, session.AttachPlayer{Conn: "p", Name: "Ann"})
	env.pub.take()

	env.handle(t, session.Disconnect{Conn: "h"})
	if got := types(env.pub.take()); !equalTypes(got, "host_left", "update_players") {
		t.Errorf("unexpected frames: %v", got)
	}
	if env.svc.Snapshot().HostPresent {
		t.Error("host should be gone")
	}
}

// --- HTTP views ---

func TestGetSession(t *testing.T) {
	env := newTestEnv(t, nil)
	env.playRound(t)

	w := env.get(t, "/api/v1/session")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		SessionID   string                        `json:"session_id"`
		HostPresent bool                          `json:"host_present"`
		Round       int                           `json:"round"`
		Price       decimal.Decimal               `json:"price"`
		LastNews    string                        `json:"last_news"`
		Players     map[string]session.PlayerView `json:"players"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.SessionID == "" || !body.HostPresent || body.Round != 1 {
		t.Errorf("unexpected session: %+v", body)
	}
	if !body.Price.Equal(d(121)) || body.LastNews != "Boom" {
		t.Errorf("unexpected market view: price=%s news=%q", body.Price, body.LastNews)
	}
	if p, ok := body.Players["p"]; !ok || p.Name != "Ann" {
		t.Errorf("expected player Ann, got %+v", body.Players)
	}
}

func TestListScenarios(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.get(t, "/api/v1/scenarios")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var list []scenario.Scenario
	json.NewDecoder(w.Body).Decode(&list)
	if len(list) != 1 || list[0].Text != "Boom" || !list[0].Impact.Equal(d(10)) {
		t.Errorf("unexpected scenarios: %+v", list)
	}
}

func TestGetNewsHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	env.playRound(t)
	env.waitRecorded(t, 2, 1)
	sessionID := env.svc.Snapshot().SessionID

	w := env.get(t, "/api/v1/sessions/"+sessionID+"/news")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var news []model.NewsRecord
	json.NewDecoder(w.Body).Decode(&news)
	if len(news) != 2 {
		t.Errorf("expected 2 news records, got %d", len(news))
	}

	w = env.get(t, "/api/v1/sessions/unknown/news")
	if w.Code != http.StatusOK || w.Body.String() != "[]\n" {
		t.Errorf("expected empty list, got %d %q", w.Code, w.Body.String())
	}
}

func TestGetSettlements_FilterByPlayer(t *testing.T) {
	env := newTestEnv(t, nil)
	env.playRound(t)
	env.waitRecorded(t, 2, 1)
	sessionID := env.svc.Snapshot().SessionID

	var all []model.SettlementRecord
	w := env.get(t, "/api/v1/sessions/"+sessionID+"/settlements")
	json.NewDecoder(w.Body).Decode(&all)
	if len(all) != 1 {
		t.Fatalf("expected 1 settlement, got %d", len(all))
	}

	var none []model.SettlementRecord
	w = env.get(t, "/api/v1/sessions/"+sessionID+"/settlements?player=someone-else")
	json.NewDecoder(w.Body).Decode(&none)
	if w.Code != http.StatusOK || len(none) != 0 {
		t.Errorf("expected no settlements, got %d %+v", w.Code, none)
	}
}

// brokenJournal fails every read.
type brokenJournal struct {
	*store.MemoryStore
}

func (brokenJournal) ListNews(context.Context, string) ([]model.NewsRecord, error) {
	return nil, errors.New("db down")
}

func TestGetNewsHistory_JournalError(t *testing.T) {
	env := newTestEnv(t, brokenJournal{store.NewMemoryStore()})

	w := env.get(t, "/api/v1/sessions/s1/news")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}
