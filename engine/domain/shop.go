// Package domain defines the shop, user and result types shared by every
// engine package, the translation boundary from loosely typed input, and the
// validation gate at service entry points.
package domain

import (
	"strings"
	"time"
)

// Location is where a shop is, by stable id and display label.
type Location struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Shop is an immutable shop record as seen by the engine.
type Shop struct {
	ID          string     `json:"_id,omitempty"`
	Name        string     `json:"name"`
	Tag         string     `json:"tag"`
	Description string     `json:"desc"`
	Location    Location   `json:"location"`
	Specialties []string   `json:"specialties,omitempty"`
	Rating      *float64   `json:"rating,omitempty"`
	ReviewCount *int       `json:"reviewCount,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
	Images      []string   `json:"images,omitempty"`
	MapLink     string     `json:"mapLink,omitempty"`
}

// Key returns the shop identity: its id, or its name when the id is absent.
func (s *Shop) Key() string {
	if s.ID != "" {
		return s.ID
	}
	return s.Name
}

// RatingOr returns the rating or fallback when unrated.
func (s *Shop) RatingOr(fallback float64) float64 {
	if s.Rating == nil {
		return fallback
	}
	return *s.Rating
}

// Reviews returns the review count, zero when unknown.
func (s *Shop) Reviews() int {
	if s.ReviewCount == nil {
		return 0
	}
	return *s.ReviewCount
}

// Document is the text representation used for embedding.
func (s *Shop) Document() string {
	parts := []string{s.Name, s.Tag, s.Description, s.Location.Label, strings.Join(s.Specialties, " ")}
	kept := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

// CreatedWithin reports whether the shop was created within d of now.
func (s *Shop) CreatedWithin(now time.Time, d time.Duration) bool {
	if s.CreatedAt == nil {
		return false
	}
	return now.Sub(*s.CreatedAt) < d
}

// RecentWindow is how long a shop counts as new.
const RecentWindow = 30 * 24 * time.Hour

// TrendingScore ranks shops by engagement: reviews x 0.01 + rating x 2,
// plus 2 when created within RecentWindow.
func (s *Shop) TrendingScore(now time.Time) float64 {
	score := float64(s.Reviews())*0.01 + s.RatingOr(0)*2
	if s.CreatedWithin(now, RecentWindow) {
		score += 2
	}
	return score
}

// Filters narrow a fused result set.
type Filters struct {
	Location  string   `json:"location,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	MinRating *float64 `json:"minRating,omitempty"`
}

// Empty reports whether no filter is set.
func (f Filters) Empty() bool {
	return f.Location == "" && len(f.Tags) == 0 && f.MinRating == nil
}

// Match reports whether the shop satisfies every set filter.
func (f Filters) Match(s *Shop) bool {
	if f.Location != "" && s.Location.ID != f.Location {
		return false
	}
	if len(f.Tags) > 0 {
		tag := strings.ToLower(s.Tag)
		found := false
		for _, t := range f.Tags {
			if strings.Contains(tag, strings.ToLower(t)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.MinRating != nil && s.RatingOr(0) < *f.MinRating {
		return false
	}
	return true
}

// Float returns a pointer to v. Handy for optional fields.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
