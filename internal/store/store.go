// Package store defines the journal interface for the session server: an
// append-only audit trail of news events and settlements. Implementations
// include PostgreSQL, Redis (read-through cache) and in-memory.
//
// The journal is never read back into a running session; live session state
// is ephemeral and lives in internal/session only.
package store

import (
	"context"

	"github.com/BeiningSAN/market-panic-server/internal/model"
)

// Journal is the persistence interface for session history.
type Journal interface {
	// RecordNews appends one news event.
	RecordNews(ctx context.Context, rec *model.NewsRecord) error

	// RecordSettlements appends the settlement lines of one news event.
	RecordSettlements(ctx context.Context, recs []model.SettlementRecord) error

	// ListNews returns a session's news events, oldest first.
	ListNews(ctx context.Context, sessionID string) ([]model.NewsRecord, error)

	// ListSettlements returns a session's settlements, oldest first. An empty
	// playerID returns every player's lines.
	ListSettlements(ctx context.Context, sessionID, playerID string) ([]model.SettlementRecord, error)
}
