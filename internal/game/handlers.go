package game

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/BeiningSAN/market-panic-server/internal/model"
)

// GetSession handles GET /api/v1/session
func (s *Service) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Snapshot())
}

// ListScenarios handles GET /api/v1/scenarios
func (s *Service) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.scenarios.All())
}

// GetNewsHistory handles GET /api/v1/sessions/{sessionID}/news
// Returns journaled news in trigger order, baseline included.
func (s *Service) GetNewsHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	records, err := s.journal.ListNews(r.Context(), sessionID)
	if err != nil {
		writeError(w, "failed to load news history", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []model.NewsRecord{}
	}
	writeJSON(w, records)
}

// GetSettlements handles GET /api/v1/sessions/{sessionID}/settlements
// The optional player query parameter narrows results to one connection.
func (s *Service) GetSettlements(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	player := r.URL.Query().Get("player")

	records, err := s.journal.ListSettlements(r.Context(), sessionID, player)
	if err != nil {
		writeError(w, "failed to load settlements", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []model.SettlementRecord{}
	}
	writeJSON(w, records)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
