package store

import (
	"context"
	"sync"

	"github.com/BeiningSAN/market-panic-server/internal/model"
)

// MemoryStore implements Journal with in-memory slices. It is the default
// when no database is configured; history is lost on exit.
type MemoryStore struct {
	mu          sync.RWMutex
	news        []model.NewsRecord
	settlements []model.SettlementRecord
}

// NewMemoryStore creates a new in-memory journal.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) RecordNews(_ context.Context, rec *model.NewsRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.news = append(s.news, *rec)
	return nil
}

func (s *MemoryStore) RecordSettlements(_ context.Context, recs []model.SettlementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settlements = append(s.settlements, recs...)
	return nil
}

func (s *MemoryStore) ListNews(_ context.Context, sessionID string) ([]model.NewsRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.NewsRecord
	for _, r := range s.news {
		if r.SessionID == sessionID {
			result = append(result, r)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListSettlements(_ context.Context, sessionID, playerID string) ([]model.SettlementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.SettlementRecord
	for _, r := range s.settlements {
		if r.SessionID != sessionID {
			continue
		}
		if playerID != "" && r.PlayerID != playerID {
			continue
		}
		result = append(result, r)
	}
	return result, nil
}
