package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/BeiningSAN/market-panic-server/internal/model"
)

// schema creates the journal tables. All monetary values are stored as
// NUMERIC for exact decimal precision.
const schema = `
CREATE TABLE IF NOT EXISTS session_news (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	round      INTEGER NOT NULL,
	text       TEXT NOT NULL,
	impact     NUMERIC NOT NULL,
	old_price  NUMERIC NOT NULL,
	price      NUMERIC NOT NULL,
	change     NUMERIC NOT NULL,
	pct        NUMERIC NOT NULL,
	baseline   BOOLEAN NOT NULL,
	timestamp  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS session_news_session_idx ON session_news (session_id, timestamp);

CREATE TABLE IF NOT EXISTS session_settlements (
	id             TEXT PRIMARY KEY,
	session_id     TEXT NOT NULL,
	news_id        TEXT NOT NULL REFERENCES session_news (id),
	player_id      TEXT NOT NULL,
	player_name    TEXT NOT NULL,
	decision       TEXT NOT NULL,
	balance_before NUMERIC NOT NULL,
	balance_after  NUMERIC NOT NULL,
	timestamp      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS session_settlements_session_idx ON session_settlements (session_id, player_id);
`

// PostgresStore implements Journal using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed journal.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the journal tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure journal schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordNews(ctx context.Context, r *model.NewsRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO session_news (id, session_id, round, text, impact, old_price, price, change, pct, baseline, timestamp)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11)`,
		r.ID, r.SessionID, r.Round, r.Text,
		r.Impact.String(), r.OldPrice.String(), r.Price.String(),
		r.Change.String(), r.Pct.String(),
		r.Baseline, r.Timestamp,
	)
	return err
}

// RecordSettlements inserts all lines in one batch.
func (s *PostgresStore) RecordSettlements(ctx context.Context, recs []model.SettlementRecord) error {
	if len(recs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range recs {
		batch.Queue(
			`INSERT INTO session_settlements (id, session_id, news_id, player_id, player_name, decision, balance_before, balance_after, timestamp)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9)`,
			r.ID, r.SessionID, r.NewsID, r.PlayerID, r.PlayerName, string(r.Decision),
			r.BalanceBefore.String(), r.BalanceAfter.String(), r.Timestamp,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range recs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert settlement: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) ListNews(ctx context.Context, sessionID string) ([]model.NewsRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, round, text,
		        impact::TEXT, old_price::TEXT, price::TEXT, change::TEXT, pct::TEXT,
		        baseline, timestamp
		 FROM session_news WHERE session_id = $1 ORDER BY timestamp`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.NewsRecord
	for rows.Next() {
		var r model.NewsRecord
		var impact, oldPrice, price, change, pct string
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Round, &r.Text,
			&impact, &oldPrice, &price, &change, &pct,
			&r.Baseline, &r.Timestamp); err != nil {
			return nil, err
		}
		r.Impact, _ = decimal.NewFromString(impact)
		r.OldPrice, _ = decimal.NewFromString(oldPrice)
		r.Price, _ = decimal.NewFromString(price)
		r.Change, _ = decimal.NewFromString(change)
		r.Pct, _ = decimal.NewFromString(pct)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *PostgresStore) ListSettlements(ctx context.Context, sessionID, playerID string) ([]model.SettlementRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, news_id, player_id, player_name, decision,
		        balance_before::TEXT, balance_after::TEXT, timestamp
		 FROM session_settlements
		 WHERE session_id = $1 AND ($2 = '' OR player_id = $2)
		 ORDER BY timestamp, player_id`, sessionID, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSettlements(rows)
}

type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// scanSettlements reads pgx rows into SettlementRecord slices.
func scanSettlements(rows pgxRows) ([]model.SettlementRecord, error) {
	var records []model.SettlementRecord
	for rows.Next() {
		var r model.SettlementRecord
		var decision, before, after string
		if err := rows.Scan(&r.ID, &r.SessionID, &r.NewsID, &r.PlayerID, &r.PlayerName,
			&decision, &before, &after, &r.Timestamp); err != nil {
			return nil, err
		}
		r.Decision = model.Decision(decision)
		r.BalanceBefore, _ = decimal.NewFromString(before)
		r.BalanceAfter, _ = decimal.NewFromString(after)
		records = append(records, r)
	}
	return records, rows.Err()
}
