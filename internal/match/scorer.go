// Package match implements the skill-exchange suggestion engine. Candidates
// are every other active user sharing at least one skill with the requester
// in either direction; each is scored on skill overlap, activity recency,
// location proximity, and rating, then ranked by total score.
package match

import (
	"sort"
	"strings"
	"time"

	"github.com/skillswap/chat-app/internal/profile"
)

// Recency decay boundaries: full score within recencyFullDays of last
// activity, linear decay to zero at recencyZeroDays.
const (
	recencyFullDays = 7
	recencyZeroDays = 30
)

// Suggestion is one scored candidate.
type Suggestion struct {
	UserID        string   `json:"user_id"`
	Name          string   `json:"name"`
	ProfilePic    string   `json:"profile_pic,omitempty"`
	City          string   `json:"city,omitempty"`
	Country       string   `json:"country,omitempty"`
	TeachSkills   []string `json:"teach_skills"`
	LearnSkills   []string `json:"learn_skills"`
	MatchedSkills []string `json:"matched_skills"`
	Mutual        bool     `json:"mutual"`
	Score         float64  `json:"score"`
}

// Score computes the total suggestion score of candidate for requester at the
// given reference time. The second return is false when the candidate shares
// no skill with the requester in either direction and therefore does not
// belong in the pool.
func Score(requester, candidate *profile.User, now time.Time) (Suggestion, bool) {
	theyTeach := intersect(candidate.TeachSkills, requester.LearnSkills)
	theyLearn := intersect(candidate.LearnSkills, requester.TeachSkills)
	matched := len(theyTeach) + len(theyLearn)
	if matched == 0 {
		return Suggestion{}, false
	}

	mutual := len(theyTeach) > 0 && len(theyLearn) > 0
	var skillScore float64
	if mutual {
		skillScore = 50 + minf(10, float64(matched))
	} else {
		skillScore = 25 + minf(5, float64(matched))
	}

	total := skillScore +
		recencyScore(candidate.LastActiveAt, now) +
		locationScore(requester, candidate) +
		ratingScore(candidate.AverageRating)

	return Suggestion{
		UserID:        candidate.ID,
		Name:          candidate.Name,
		ProfilePic:    candidate.ProfilePic,
		City:          candidate.City,
		Country:       candidate.Country,
		TeachSkills:   candidate.TeachSkills,
		LearnSkills:   candidate.LearnSkills,
		MatchedSkills: append(theyTeach, theyLearn...),
		Mutual:        mutual,
		Score:         total,
	}, true
}

// recencyScore awards 20 points for activity within the last 7 days,
// decaying linearly to 0 at 30 days.
func recencyScore(lastActive *time.Time, now time.Time) float64 {
	if lastActive == nil {
		return 0
	}
	days := now.Sub(*lastActive).Hours() / 24
	switch {
	case days <= recencyFullDays:
		return 20
	case days >= recencyZeroDays:
		return 0
	default:
		return 20 * (recencyZeroDays - days) / (recencyZeroDays - recencyFullDays)
	}
}

func locationScore(requester, candidate *profile.User) float64 {
	if requester.City != "" && strings.EqualFold(requester.City, candidate.City) {
		return 10
	}
	if requester.Country != "" && strings.EqualFold(requester.Country, candidate.Country) {
		return 5
	}
	return 0
}

func ratingScore(average float64) float64 {
	return minf(10, average*2)
}

// Rank scores the whole candidate pool against the requester and returns the
// qualifying suggestions sorted by descending score. Ties order by user id so
// pagination is stable.
func Rank(requester *profile.User, candidates []profile.User, now time.Time) []Suggestion {
	out := make([]Suggestion, 0, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		if c.ID == requester.ID || !c.IsActive {
			continue
		}
		if s, ok := Score(requester, c, now); ok {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// Paginate slices a ranked list. Pages are 1-based; out-of-range pages return
// an empty slice. The list is materialized in full before slicing, so deep
// pages cost as much as the first.
func Paginate(ranked []Suggestion, page, pageSize int) []Suggestion {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	start := (page - 1) * pageSize
	if start >= len(ranked) {
		return []Suggestion{}
	}
	end := start + pageSize
	if end > len(ranked) {
		end = len(ranked)
	}
	return ranked[start:end]
}

// intersect returns the entries of a that appear in b, compared
// case-insensitively. Result entries keep a's original casing.
func intersect(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(b))
	for _, s := range b {
		set[strings.ToLower(s)] = struct{}{}
	}
	var out []string
	for _, s := range a {
		if _, ok := set[strings.ToLower(s)]; ok {
			out = append(out, s)
		}
	}
	return out
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
