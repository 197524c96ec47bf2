package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MaxQueryLength bounds free-text queries, in runes.
	MaxQueryLength = 500
	// DefaultLimit is used when a caller passes no limit.
	DefaultLimit = 20
	// MaxLimit caps result set size.
	MaxLimit = 100
)

// ValidateQuery checks free-text query input and returns the trimmed text.
func ValidateQuery(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", NewValidationError("query", text, ErrInvalidQuery)
	}
	if utf8.RuneCountInString(text) > MaxQueryLength {
		return "", NewValidationError("query", string([]rune(text)[:32])+"...", ErrQueryTooLong)
	}
	return text, nil
}

// NormalizeLimit applies the default and rejects out of range values.
func NormalizeLimit(limit int) (int, error) {
	if limit == 0 {
		return DefaultLimit, nil
	}
	if limit < 0 || limit > MaxLimit {
		return 0, NewValidationError("limit", fmt.Sprintf("%d", limit), ErrInvalidLimit)
	}
	return limit, nil
}

// ValidateFilters rejects malformed filters.
func ValidateFilters(f Filters) error {
	if f.MinRating != nil && (*f.MinRating < 0 || *f.MinRating > 5) {
		return NewValidationError("minRating", fmt.Sprintf("%g", *f.MinRating), ErrInvalidFilter)
	}
	for _, t := range f.Tags {
		if strings.TrimSpace(t) == "" {
			return NewValidationError("tags", t, ErrInvalidFilter)
		}
	}
	if strings.ContainsAny(f.Location, " \t\n") {
		return NewValidationError("location", f.Location, ErrInvalidFilter)
	}
	return nil
}

// ValidateCorpus checks that every shop has an identity and no identity repeats.
func ValidateCorpus(shops []Shop) error {
	seen := make(map[string]int, len(shops))
	for i := range shops {
		key := shops[i].Key()
		if key == "" {
			return NewValidationError(fmt.Sprintf("shops[%d].name", i), "", ErrInvalidShop)
		}
		if j, dup := seen[key]; dup {
			return NewValidationError(fmt.Sprintf("shops[%d]._id", i), fmt.Sprintf("%s (also shops[%d])", key, j), ErrDuplicateShop)
		}
		seen[key] = i
	}
	return nil
}
