package match

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/skillswap/chat-app/internal/apperr"
	"github.com/skillswap/chat-app/internal/metrics"
	"github.com/skillswap/chat-app/internal/profile"
)

// Service serves ranked suggestions over the profile store.
type Service struct {
	profiles *profile.Store
}

// NewService creates a suggestion service.
func NewService(profiles *profile.Store) *Service {
	return &Service{profiles: profiles}
}

// Suggestions returns one page of ranked candidates for the user, plus the
// total pool size before pagination.
func (s *Service) Suggestions(ctx context.Context, userID string, page, pageSize int) ([]Suggestion, int, error) {
	requester, err := s.profiles.Get(ctx, userID)
	if err != nil {
		return nil, 0, err
	}

	candidates, err := s.profiles.ListActive(ctx, userID)
	if err != nil {
		return nil, 0, fmt.Errorf("match: list candidates: %w", err)
	}

	start := time.Now()
	ranked := Rank(requester, candidates, time.Now())
	metrics.MatchScoringDuration.Observe(time.Since(start).Seconds())

	return Paginate(ranked, page, pageSize), len(ranked), nil
}

// Handler returns the HTTP handler for GET /suggestions.
func (s *Service) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			writeError(w, apperr.Invalid("user_id is required"))
			return
		}
		page := queryInt(r, "page", 1)
		pageSize := queryInt(r, "page_size", 20)

		suggestions, total, err := s.Suggestions(r.Context(), userID, page, pageSize)
		if err != nil {
			log.Printf("match: suggestions user=%s: %v", userID, err)
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"suggestions": suggestions,
			"total":       total,
			"page":        page,
			"page_size":   pageSize,
		})
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("match: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindInvalid:
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{
		"code":    apperr.CodeOf(err),
		"message": apperr.MessageOf(err),
	})
}
