package game

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/BeiningSAN/market-panic-server/internal/metrics"
	"github.com/BeiningSAN/market-panic-server/internal/model"
	"github.com/BeiningSAN/market-panic-server/internal/session"
	"github.com/BeiningSAN/market-panic-server/internal/store"
)

const (
	journalTimeout = 2 * time.Second

	// DefaultJournalBuffer is the number of news reports that may wait for
	// the journal before new ones are dropped.
	DefaultJournalBuffer = 256
)

// JournalWriter records news reports off the transition path. Enqueue never
// blocks; a single Run goroutine drains the queue, so news and settlement
// rows land in trigger order.
type JournalWriter struct {
	journal store.Journal
	queue   chan *session.NewsReport
	now     func() time.Time
	dropped atomic.Int64
}

// NewJournalWriter creates a writer with room for buffer pending reports.
func NewJournalWriter(journal store.Journal, buffer int) *JournalWriter {
	if buffer <= 0 {
		buffer = DefaultJournalBuffer
	}
	return &JournalWriter{
		journal: journal,
		queue:   make(chan *session.NewsReport, buffer),
		now:     time.Now,
	}
}

// Enqueue hands a report to the writer, dropping it when the queue is full.
func (w *JournalWriter) Enqueue(rep *session.NewsReport) {
	select {
	case w.queue <- rep:
	default:
		w.dropped.Add(1)
		metrics.JournalErrors.Inc()
		slog.Warn("journal queue full, report dropped", "session", rep.SessionID, "round", rep.Round)
	}
}

// Dropped returns the number of reports discarded on overflow.
func (w *JournalWriter) Dropped() int64 {
	return w.dropped.Load()
}

// Run writes queued reports until ctx is cancelled, then flushes whatever
// is still buffered. Must be called in a goroutine.
func (w *JournalWriter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case rep := <-w.queue:
			w.record(rep)
		}
	}
}

func (w *JournalWriter) drain() {
	for {
		select {
		case rep := <-w.queue:
			w.record(rep)
		default:
			return
		}
	}
}

// record journals one report. Failures are logged and counted; they never
// reach the session.
func (w *JournalWriter) record(rep *session.NewsReport) {
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()

	now := w.now().UTC()
	news := &model.NewsRecord{
		ID:        uuid.NewString(),
		SessionID: rep.SessionID,
		Round:     rep.Round,
		Text:      rep.Scenario.Text,
		Impact:    rep.Scenario.Impact,
		OldPrice:  rep.Move.OldPrice,
		Price:     rep.Move.NewPrice,
		Change:    rep.Move.Change,
		Pct:       rep.Move.Pct,
		Baseline:  rep.Move.Baseline,
		Timestamp: now,
	}
	if err := w.journal.RecordNews(ctx, news); err != nil {
		metrics.JournalErrors.Inc()
		slog.Warn("journal news failed", "session", rep.SessionID, "err", err)
		return
	}
	if len(rep.Settlements) == 0 {
		return
	}

	recs := make([]model.SettlementRecord, 0, len(rep.Settlements))
	for _, st := range rep.Settlements {
		recs = append(recs, model.SettlementRecord{
			ID:            uuid.NewString(),
			SessionID:     rep.SessionID,
			NewsID:        news.ID,
			PlayerID:      st.PlayerID,
			PlayerName:    st.Name,
			Decision:      st.Decision,
			BalanceBefore: st.Before,
			BalanceAfter:  st.After,
			Timestamp:     now,
		})
	}
	if err := w.journal.RecordSettlements(ctx, recs); err != nil {
		metrics.JournalErrors.Inc()
		slog.Warn("journal settlements failed", "session", rep.SessionID, "err", err)
	}
}
