package fusion

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/WessleyAI/thrifter/engine/corpus"
	"github.com/WessleyAI/thrifter/engine/domain"
	"github.com/WessleyAI/thrifter/engine/keyword"
	"github.com/WessleyAI/thrifter/engine/preference"
)

// TextEncoder embeds query text.
type TextEncoder interface {
	EncodeText(ctx context.Context, text string) ([]float32, error)
}

// Semantic ranks shops by vector similarity to the query.
type Semantic struct {
	encoder TextEncoder
	matcher *keyword.Matcher
}

// NewSemantic creates the semantic strategy. encoder may be nil when every
// request carries its own Vector.
func NewSemantic(encoder TextEncoder) *Semantic {
	return &Semantic{encoder: encoder, matcher: keyword.New()}
}

func (*Semantic) Name() domain.Strategy { return domain.StrategySemantic }

// Retrieve fetches twice the limit so fusion has room to re-rank, or the
// whole view when filters may discard candidates later.
func (s *Semantic) Retrieve(ctx context.Context, snap *corpus.Snapshot, req Request) ([]domain.RetrievalResult, error) {
	if snap.View == nil {
		if snap.IndexErr != nil {
			return nil, domain.Unavailable("index", snap.IndexErr)
		}
		return nil, fmt.Errorf("fusion: semantic: %w", domain.ErrConfigurationAbsent)
	}

	vec := req.Vector
	if vec == nil {
		if s.encoder == nil {
			return nil, fmt.Errorf("fusion: semantic: %w", domain.ErrConfigurationAbsent)
		}
		text := strings.Join(s.matcher.Tokens(req.Query), " ")
		if text == "" {
			return nil, nil
		}
		var err error
		if vec, err = s.encoder.EncodeText(ctx, text); err != nil {
			return nil, fmt.Errorf("fusion: semantic: %w", err)
		}
	}

	k := cmp.Or(req.Limit, domain.DefaultLimit) * 2
	if !req.Filters.Empty() {
		k = snap.View.Len()
	}
	hits, err := snap.View.Query(ctx, vec, k)
	if err != nil {
		return nil, domain.Unavailable("index", err)
	}

	out := make([]domain.RetrievalResult, 0, len(hits))
	for _, h := range hits {
		// A non-positive similarity carries no signal and would pull a
		// shop matched by another strategy below its own weighted score.
		if h.Score <= 0 {
			continue
		}
		shop, ok := snap.Lookup(h.ID)
		if !ok {
			continue
		}
		out = append(out, domain.RetrievalResult{
			Shop:     shop,
			Score:    float64(h.Score),
			Strategy: domain.StrategySemantic,
		})
	}
	return out, nil
}

// Keyword ranks shops by lexical match.
type Keyword struct {
	matcher *keyword.Matcher
}

// NewKeyword creates the keyword strategy.
func NewKeyword(m *keyword.Matcher) *Keyword {
	if m == nil {
		m = keyword.New()
	}
	return &Keyword{matcher: m}
}

func (*Keyword) Name() domain.Strategy { return domain.StrategyKeyword }

func (k *Keyword) Retrieve(_ context.Context, snap *corpus.Snapshot, req Request) ([]domain.RetrievalResult, error) {
	return k.matcher.Match(req.Query, snap.Shops, 0), nil
}

// Preference ranks shops against Request.Preferences.
type Preference struct {
	scorer *preference.Scorer
}

// NewPreference creates the personalization strategy.
func NewPreference(s *preference.Scorer) *Preference {
	if s == nil {
		s = preference.New()
	}
	return &Preference{scorer: s}
}

func (*Preference) Name() domain.Strategy { return domain.StrategyPreference }

func (p *Preference) Retrieve(_ context.Context, snap *corpus.Snapshot, req Request) ([]domain.RetrievalResult, error) {
	if req.Preferences.Empty() {
		return nil, nil
	}
	return p.scorer.Rank(req.Preferences, snap.Shops, 0), nil
}

// PopularityTop is how many trending shops receive a rank boost.
const PopularityTop = 10

// Popularity boosts the top trending shops by (PopularityTop - rank) x 0.1.
type Popularity struct {
	now func() time.Time
}

// NewPopularity creates the popularity strategy.
func NewPopularity(now func() time.Time) *Popularity {
	if now == nil {
		now = time.Now
	}
	return &Popularity{now: now}
}

func (*Popularity) Name() domain.Strategy { return domain.StrategyPopularity }

func (p *Popularity) Retrieve(_ context.Context, snap *corpus.Snapshot, _ Request) ([]domain.RetrievalResult, error) {
	top := Trending(snap.Shops, p.now())
	if len(top) > PopularityTop {
		top = top[:PopularityTop]
	}
	out := make([]domain.RetrievalResult, len(top))
	for i, shop := range top {
		out[i] = domain.RetrievalResult{
			Shop:     shop,
			Score:    float64(PopularityTop-i) * 0.1,
			Strategy: domain.StrategyPopularity,
		}
	}
	return out, nil
}

// Trending orders shops by Shop.TrendingScore, ties in corpus order.
func Trending(shops []domain.Shop, now time.Time) []*domain.Shop {
	out := make([]*domain.Shop, len(shops))
	for i := range shops {
		out[i] = &shops[i]
	}
	slices.SortStableFunc(out, func(a, b *domain.Shop) int {
		return cmp.Compare(b.TrendingScore(now), a.TrendingScore(now))
	})
	return out
}
