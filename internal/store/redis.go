package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BeiningSAN/market-panic-server/internal/model"
)

// CachedStore wraps a primary Journal (PostgreSQL) with a Redis read-through
// cache for history queries. Writes go to the primary store and invalidate
// the session's cached lists; reads check Redis first then fall back.
type CachedStore struct {
	primary Journal
	rdb     redis.Cmdable
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary journal.
func NewCachedStore(primary Journal, rdb redis.Cmdable, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) RecordNews(ctx context.Context, r *model.NewsRecord) error {
	if err := s.primary.RecordNews(ctx, r); err != nil {
		return err
	}
	s.rdb.Del(ctx, newsKey(r.SessionID))
	return nil
}

func (s *CachedStore) RecordSettlements(ctx context.Context, recs []model.SettlementRecord) error {
	if err := s.primary.RecordSettlements(ctx, recs); err != nil {
		return err
	}
	seen := make(map[string]bool)
	for _, r := range recs {
		if seen[r.SessionID] {
			continue
		}
		seen[r.SessionID] = true
		// Per-player lists share the session prefix; drop the whole family.
		s.invalidateSettlements(ctx, r.SessionID)
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) ListNews(ctx context.Context, sessionID string) ([]model.NewsRecord, error) {
	var records []model.NewsRecord
	if s.get(ctx, newsKey(sessionID), &records) {
		return records, nil
	}

	records, err := s.primary.ListNews(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.set(ctx, newsKey(sessionID), records)
	return records, nil
}

func (s *CachedStore) ListSettlements(ctx context.Context, sessionID, playerID string) ([]model.SettlementRecord, error) {
	key := settlementsKey(sessionID, playerID)

	var records []model.SettlementRecord
	if s.get(ctx, key, &records) {
		return records, nil
	}

	records, err := s.primary.ListSettlements(ctx, sessionID, playerID)
	if err != nil {
		return nil, err
	}
	s.set(ctx, key, records)
	s.rdb.SAdd(ctx, settlementIndexKey(sessionID), key)
	s.rdb.Expire(ctx, settlementIndexKey(sessionID), s.ttl)
	return records, nil
}

// --- Cache helpers ---

func (s *CachedStore) get(ctx context.Context, key string, out any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, out) == nil
}

func (s *CachedStore) set(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func (s *CachedStore) invalidateSettlements(ctx context.Context, sessionID string) {
	index := settlementIndexKey(sessionID)
	keys, err := s.rdb.SMembers(ctx, index).Result()
	if err == nil && len(keys) > 0 {
		s.rdb.Del(ctx, keys...)
	}
	s.rdb.Del(ctx, index)
}

func newsKey(sessionID string) string { return fmt.Sprintf("session:%s:news", sessionID) }

func settlementsKey(sessionID, playerID string) string {
	return fmt.Sprintf("session:%s:settlements:%s", sessionID, playerID)
}

func settlementIndexKey(sessionID string) string {
	return fmt.Sprintf("session:%s:settlements", sessionID)
}
