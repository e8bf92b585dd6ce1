package match

import (
	"testing"
	"time"

	"github.com/skillswap/chat-app/internal/profile"
)

func ptrTime(t time.Time) *time.Time { return &t }

func TestMutualMatchScore(t *testing.T) {
	now := time.Now()
	requester := &profile.User{
		ID:          "a",
		City:        "Berlin",
		Country:     "Germany",
		TeachSkills: []string{"Guitar"},
		LearnSkills: []string{"Python"},
		IsActive:    true,
	}
	candidate := &profile.User{
		ID:            "b",
		City:          "Berlin",
		Country:       "Germany",
		TeachSkills:   []string{"Python"},
		LearnSkills:   []string{"Guitar"},
		AverageRating: 4.0,
		LastActiveAt:  ptrTime(now),
		IsActive:      true,
	}

	s, ok := Score(requester, candidate, now)
	if !ok {
		t.Fatal("expected candidate to qualify")
	}
	if !s.Mutual {
		t.Fatal("expected a mutual match")
	}
	// skill 50+2, recency 20, location 10, rating 8.
	if s.Score != 90 {
		t.Fatalf("expected score 90, got %v", s.Score)
	}
}

func TestOneWayMatchScore(t *testing.T) {
	now := time.Now()
	requester := &profile.User{
		ID:          "a",
		LearnSkills: []string{"Python"},
		IsActive:    true,
	}
	candidate := &profile.User{
		ID:          "b",
		TeachSkills: []string{"Python"},
		IsActive:    true,
	}

	s, ok := Score(requester, candidate, now)
	if !ok {
		t.Fatal("expected candidate to qualify")
	}
	if s.Mutual {
		t.Fatal("expected a one-way match")
	}
	// skill 25+1, no recency, no location, no rating.
	if s.Score != 26 {
		t.Fatalf("expected score 26, got %v", s.Score)
	}
}

func TestSkillMatchingIsCaseInsensitive(t *testing.T) {
	requester := &profile.User{ID: "a", LearnSkills: []string{"PYTHON"}}
	candidate := &profile.User{ID: "b", TeachSkills: []string{"python"}}

	if _, ok := Score(requester, candidate, time.Now()); !ok {
		t.Fatal("skill comparison should ignore case")
	}
}

func TestNoSharedSkillExcludedFromPool(t *testing.T) {
	requester := &profile.User{ID: "a", TeachSkills: []string{"Guitar"}, LearnSkills: []string{"Python"}}
	candidate := &profile.User{ID: "b", TeachSkills: []string{"Cooking"}, LearnSkills: []string{"Chess"}}

	if _, ok := Score(requester, candidate, time.Now()); ok {
		t.Fatal("candidate with no skill overlap must not qualify")
	}
}

func TestRecencyDecay(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		last *time.Time
		want float64
	}{
		{"today", ptrTime(now), 20},
		{"exactly 7 days", ptrTime(now.Add(-7 * 24 * time.Hour)), 20},
		{"30 days", ptrTime(now.Add(-30 * 24 * time.Hour)), 0},
		{"60 days", ptrTime(now.Add(-60 * 24 * time.Hour)), 0},
		{"never", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := recencyScore(tt.last, now); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}

	// Midway through the decay window the score sits strictly between the
	// extremes.
	mid := recencyScore(ptrTime(now.Add(-18*24*time.Hour)), now)
	if mid <= 0 || mid >= 20 {
		t.Fatalf("expected partial decay, got %v", mid)
	}
}

func TestLocationScore(t *testing.T) {
	base := &profile.User{ID: "a", City: "Berlin", Country: "Germany"}

	if got := locationScore(base, &profile.User{City: "berlin", Country: "Germany"}); got != 10 {
		t.Fatalf("same city should score 10, got %v", got)
	}
	if got := locationScore(base, &profile.User{City: "Munich", Country: "germany"}); got != 5 {
		t.Fatalf("same country should score 5, got %v", got)
	}
	if got := locationScore(base, &profile.User{City: "Paris", Country: "France"}); got != 0 {
		t.Fatalf("different country should score 0, got %v", got)
	}
	if got := locationScore(&profile.User{}, &profile.User{}); got != 0 {
		t.Fatalf("empty locations must not match, got %v", got)
	}
}

func TestRatingScoreCapped(t *testing.T) {
	if got := ratingScore(4.0); got != 8 {
		t.Fatalf("expected 8, got %v", got)
	}
	if got := ratingScore(6.0); got != 10 {
		t.Fatalf("expected cap at 10, got %v", got)
	}
}

func TestRankSortsAndExcludes(t *testing.T) {
	now := time.Now()
	requester := profile.User{
		ID:          "a",
		City:        "Berlin",
		Country:     "Germany",
		TeachSkills: []string{"Guitar"},
		LearnSkills: []string{"Python"},
		IsActive:    true,
	}
	pool := []profile.User{
		requester, // self, excluded
		{ID: "inactive", TeachSkills: []string{"Python"}, IsActive: false},
		{ID: "oneway", TeachSkills: []string{"Python"}, IsActive: true},
		{
			ID: "mutual", City: "Berlin", Country: "Germany",
			TeachSkills: []string{"Python"}, LearnSkills: []string{"Guitar"},
			AverageRating: 4.0, LastActiveAt: ptrTime(now), IsActive: true,
		},
		{ID: "norelation", TeachSkills: []string{"Cooking"}, IsActive: true},
	}

	ranked := Rank(&requester, pool, now)
	if len(ranked) != 2 {
		t.Fatalf("expected 2 qualifying candidates, got %d", len(ranked))
	}
	if ranked[0].UserID != "mutual" || ranked[1].UserID != "oneway" {
		t.Fatalf("unexpected order: %s, %s", ranked[0].UserID, ranked[1].UserID)
	}
}

func TestPaginate(t *testing.T) {
	ranked := make([]Suggestion, 5)
	for i := range ranked {
		ranked[i].UserID = string(rune('a' + i))
	}

	if got := Paginate(ranked, 1, 2); len(got) != 2 || got[0].UserID != "a" {
		t.Fatalf("unexpected first page: %+v", got)
	}
	if got := Paginate(ranked, 3, 2); len(got) != 1 || got[0].UserID != "e" {
		t.Fatalf("unexpected last page: %+v", got)
	}
	if got := Paginate(ranked, 4, 2); len(got) != 0 {
		t.Fatalf("out-of-range page should be empty, got %+v", got)
	}
	if got := Paginate(ranked, 0, 0); len(got) != 5 {
		t.Fatalf("defaults should return the full short list, got %d", len(got))
	}
}
