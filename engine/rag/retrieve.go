package rag

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/WessleyAI/thrifter/engine/corpus"
	"github.com/WessleyAI/thrifter/engine/domain"
	"github.com/WessleyAI/thrifter/engine/fusion"
)

// Scores of the analysis-driven keyword strategy.
const (
	LocationScore = 5.0
	StyleScore    = 3.0
	ItemScore     = 2.0
	BudgetScore   = 2.0
)

var budgetTags = []string{"budget", "cheap", "wholesale", "surplus"}

// analysisStrategy scores shops against an Analysis rather than raw text.
func analysisStrategy(a Analysis) fusion.Strategy {
	return fusion.Func{
		Kind: domain.StrategyKeyword,
		Fn: func(_ context.Context, snap *corpus.Snapshot, _ fusion.Request) ([]domain.RetrievalResult, error) {
			var out []domain.RetrievalResult
			for i := range snap.Shops {
				shop := &snap.Shops[i]
				if score, reasons := scoreAnalysis(a, shop); score > 0 {
					out = append(out, domain.RetrievalResult{
						Shop:     shop,
						Score:    score,
						Reasons:  reasons,
						Strategy: domain.StrategyKeyword,
					})
				}
			}
			slices.SortStableFunc(out, func(x, y domain.RetrievalResult) int {
				return cmp.Compare(y.Score, x.Score)
			})
			return out, nil
		},
	}
}

func scoreAnalysis(a Analysis, s *domain.Shop) (float64, []string) {
	var (
		score   float64
		reasons []string
	)
	tag := strings.ToLower(s.Tag)
	desc := strings.ToLower(s.Description)

	if slices.Contains(a.Locations, s.Location.ID) {
		score += LocationScore
		label := cmp.Or(s.Location.Label, domain.LocationLabel(s.Location.ID))
		reasons = append(reasons, "in "+label)
	}
	for _, style := range a.Styles {
		if strings.Contains(tag, style) || strings.Contains(desc, style) {
			score += StyleScore
			reasons = append(reasons, fmt.Sprintf("matches %s style", style))
		}
	}
	for _, item := range a.ItemTypes {
		if strings.Contains(desc, item) {
			score += ItemScore
			reasons = append(reasons, "has "+item)
		}
	}
	if a.Price != nil && a.Price.Max > 0 {
		for _, t := range budgetTags {
			if strings.Contains(tag, t) {
				score += BudgetScore
				reasons = append(reasons, "budget-friendly")
				break
			}
		}
	}
	return score, reasons
}
