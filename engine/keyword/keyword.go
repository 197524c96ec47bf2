// Package keyword scores shops against free text by substring and near-miss
// matching over name, tag, description and specialties.
package keyword

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/WessleyAI/thrifter/engine/domain"
)

// Field weights.
const (
	NameWeight      = 3.0
	NearMissWeight  = 1.5
	TagWeight       = 2.0
	DescWeight      = 1.0
	SpecialtyWeight = 1.5

	// MaxHighlights caps the reasons attached to one match.
	MaxHighlights = 3
	// NearMissThreshold is the share of positions that must agree.
	NearMissThreshold = 0.8
	nearMissMinLen    = 3
)

// Expansion maps a short form to its full form.
type Expansion struct {
	Short string
	Full  string
}

// DefaultExpansions are the locality short forms in common use.
var DefaultExpansions = []Expansion{
	{"blr", "bangalore"},
	{"hsr", "hsr layout"},
	{"jp", "jp nagar"},
	{"btm", "btm layout"},
}

// Matcher is the lexical retrieval strategy. It is stateless and safe for
// concurrent use.
type Matcher struct {
	expansions []Expansion
}

// New creates a Matcher. With no expansions given, DefaultExpansions apply.
func New(expansions ...Expansion) *Matcher {
	if len(expansions) == 0 {
		expansions = DefaultExpansions
	}
	return &Matcher{expansions: expansions}
}

// Tokens lower-cases and whitespace-normalizes the query, appends the full
// form of any short-form token whose full form is absent, and returns the
// distinct tokens in first-seen order.
func (m *Matcher) Tokens(query string) []string {
	words := strings.Fields(strings.ToLower(query))
	normalized := " " + strings.Join(words, " ") + " "

	var extra []string
	for _, e := range m.expansions {
		if !slices.Contains(words, e.Short) {
			continue
		}
		if strings.Contains(normalized, " "+e.Full+" ") {
			continue
		}
		extra = append(extra, strings.Fields(e.Full)...)
	}
	words = append(words, extra...)

	seen := make(map[string]struct{}, len(words))
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		tokens = append(tokens, w)
	}
	return tokens
}

// Score returns the keyword score of one shop and up to MaxHighlights reasons.
func (m *Matcher) Score(tokens []string, s *domain.Shop) (float64, []string) {
	var (
		score      float64
		highlights []string
	)
	name := strings.ToLower(s.Name)
	for _, t := range tokens {
		switch {
		case strings.Contains(name, t):
			score += NameWeight
			highlights = append(highlights, fmt.Sprintf("name contains '%s'", t))
		case NearMiss(t, name):
			score += NearMissWeight
		}
	}
	tag := strings.ToLower(s.Tag)
	for _, t := range tokens {
		if strings.Contains(tag, t) {
			score += TagWeight
			highlights = append(highlights, fmt.Sprintf("tagged as '%s'", t))
		}
	}
	desc := strings.ToLower(s.Description)
	for _, t := range tokens {
		if strings.Contains(desc, t) {
			score += DescWeight
			highlights = append(highlights, fmt.Sprintf("description mentions '%s'", t))
		}
	}
	for _, sp := range s.Specialties {
		sp = strings.ToLower(sp)
		for _, t := range tokens {
			if strings.Contains(sp, t) {
				score += SpecialtyWeight
			}
		}
	}
	if len(highlights) > MaxHighlights {
		highlights = highlights[:MaxHighlights]
	}
	return score, highlights
}

// Match scores every shop against query and returns the matching ones by
// descending score, ties in corpus order. limit <= 0 returns every match.
func (m *Matcher) Match(query string, shops []domain.Shop, limit int) []domain.RetrievalResult {
	tokens := m.Tokens(query)
	if len(tokens) == 0 {
		return nil
	}

	var out []domain.RetrievalResult
	for i := range shops {
		score, highlights := m.Score(tokens, &shops[i])
		if score <= 0 {
			continue
		}
		out = append(out, domain.RetrievalResult{
			Shop:     &shops[i],
			Score:    score,
			Reasons:  highlights,
			Strategy: domain.StrategyKeyword,
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

// NearMiss reports whether some window of text with the token's length
// agrees with the token in at least NearMissThreshold of positions.
// Tokens shorter than three runes never near-miss.
func NearMiss(token, text string) bool {
	t := []rune(token)
	if len(t) < nearMissMinLen {
		return false
	}
	s := []rune(text)
	for i := 0; i+len(t) <= len(s); i++ {
		same := 0
		for j, r := range t {
			if s[i+j] == r {
				same++
			}
		}
		if float64(same)/float64(len(t)) >= NearMissThreshold {
			return true
		}
	}
	return false
}
