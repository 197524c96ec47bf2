// Package preference scores shops against a structured taste profile.
package preference

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/WessleyAI/thrifter/engine/domain"
)

const (
	LocationWeight = 4.0
	StyleWeight    = 3.0
	CategoryWeight = 2.0
	BudgetWeight   = 2.0
	RatingWeight   = 0.5

	// BudgetCeiling is the highest Budget.Max that still counts as budget shopping.
	BudgetCeiling = 1000.0
)

var budgetTags = []string{"budget", "cheap", "surplus"}

// styleSynonyms drive preference scoring.
var styleSynonyms = map[string][]string{
	"vintage":    {"vintage", "pre-loved", "thrift", "retro"},
	"streetwear": {"streetwear", "urban", "hype", "street"},
	"minimalist": {"basics", "minimal", "simple"},
	"grunge":     {"grunge", "edgy", "alternative"},
	"y2k":        {"y2k", "2000s", "retro"},
}

// browseSynonyms is the wider vocabulary used when browsing by style.
var browseSynonyms = map[string][]string{
	"vintage":     {"vintage", "pre-loved", "thrift", "retro", "antique"},
	"streetwear":  {"streetwear", "urban", "hype", "street", "sneakers"},
	"minimalist":  {"basics", "minimal", "simple", "clean"},
	"grunge":      {"grunge", "edgy", "alternative", "rock"},
	"y2k":         {"y2k", "2000s", "millennium"},
	"cottagecore": {"cottage", "floral", "romantic"},
	"old-money":   {"classic", "preppy", "formal", "linen"},
}

// StyleKeywords returns the synonyms a profile style is matched with. An
// unknown style matches itself.
func StyleKeywords(style string) []string {
	style = strings.ToLower(strings.TrimSpace(style))
	if kw, ok := styleSynonyms[style]; ok {
		return kw
	}
	return []string{style}
}

// BrowseKeywords is StyleKeywords over the wider browsing vocabulary.
func BrowseKeywords(style string) []string {
	style = strings.ToLower(strings.TrimSpace(style))
	if kw, ok := browseSynonyms[style]; ok {
		return kw
	}
	return []string{style}
}

// Styles lists the styles with a browsing vocabulary, sorted.
func Styles() []string {
	out := make([]string, 0, len(browseSynonyms))
	for s := range browseSynonyms {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// MatchesAny reports whether the shop's tag or description contains any keyword.
func MatchesAny(s *domain.Shop, keywords []string) bool {
	tag := strings.ToLower(s.Tag)
	desc := strings.ToLower(s.Description)
	for _, kw := range keywords {
		if strings.Contains(tag, kw) || strings.Contains(desc, kw) {
			return true
		}
	}
	return false
}

// Scorer is the personalization strategy.
type Scorer struct{}

// New creates a Scorer.
func New() *Scorer { return &Scorer{} }

// Score returns the preference score of one shop and the reasons behind it.
func (*Scorer) Score(p domain.Preferences, s *domain.Shop) (float64, []string) {
	var (
		score   float64
		reasons []string
	)
	if slices.Contains(p.FavoriteLocations, s.Location.ID) && s.Location.ID != "" {
		score += LocationWeight
		label := s.Location.Label
		if label == "" {
			label = domain.LocationLabel(s.Location.ID)
		}
		reasons = append(reasons, "in "+label)
	}
	for _, style := range p.Style {
		if MatchesAny(s, StyleKeywords(style)) {
			score += StyleWeight
			reasons = append(reasons, fmt.Sprintf("matches your %s style", style))
		}
	}
	desc := strings.ToLower(s.Description)
	for _, c := range p.FavoriteCategories {
		if c != "" && strings.Contains(desc, strings.ToLower(c)) {
			score += CategoryWeight
			reasons = append(reasons, "good for "+c)
		}
	}
	if p.Budget.Max > 0 && p.Budget.Max <= BudgetCeiling {
		tag := strings.ToLower(s.Tag)
		for _, bt := range budgetTags {
			if strings.Contains(tag, bt) {
				score += BudgetWeight
				reasons = append(reasons, "fits your budget")
				break
			}
		}
	}
	score += s.RatingOr(0) * RatingWeight
	return score, reasons
}

// Rank scores every shop, drops zero scores and orders the rest by score,
// ties in corpus order. limit <= 0 keeps all.
func (sc *Scorer) Rank(p domain.Preferences, shops []domain.Shop, limit int) []domain.RetrievalResult {
	var out []domain.RetrievalResult
	for i := range shops {
		score, reasons := sc.Score(p, &shops[i])
		if score <= 0 {
			continue
		}
		out = append(out, domain.RetrievalResult{
			Shop:     &shops[i],
			Score:    score,
			Reasons:  reasons,
			Strategy: domain.StrategyPreference,
		})
	}
	slices.SortStableFunc(out, func(a, b domain.RetrievalResult) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
