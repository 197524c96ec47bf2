package fusion

import "github.com/WessleyAI/thrifter/engine/domain"

// Facets records which specific parts of a query were understood.
type Facets struct {
	Location bool
	Style    bool
	ItemType bool
}

const (
	emptyConfidence = 0.3
	maxConfidence   = 0.95
)

// Confidence estimates how well results answer a query, in [0.3, 0.95].
// It rises with the top fused score, with each resolved facet and with the
// mean rating of the top three results.
func Confidence(results []domain.FusedResult, f Facets) float64 {
	if len(results) == 0 {
		return emptyConfidence
	}
	c := min(0.5, results[0].Score/20) + 0.3
	if f.Location {
		c += 0.15
	}
	if f.Style {
		c += 0.1
	}
	if f.ItemType {
		c += 0.1
	}
	top := results[:min(3, len(results))]
	var sum float64
	for _, r := range top {
		sum += r.Shop.RatingOr(0)
	}
	c += sum / float64(len(top)) * 0.05
	return min(maxConfidence, c)
}
