package fusion

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WessleyAI/thrifter/engine/corpus"
	"github.com/WessleyAI/thrifter/engine/domain"
	"github.com/WessleyAI/thrifter/engine/embed"
	"github.com/WessleyAI/thrifter/engine/semantic"
	"github.com/WessleyAI/thrifter/pkg/metrics"
)

func scenarioShops() []domain.Shop {
	return []domain.Shop{
		{
			ID:       "ecodhaga",
			Name:     "EcoDhaga",
			Tag:      "Vintage & Sustainable",
			Location: domain.Location{ID: "koramangala", Label: "Koramangala"},
			Rating:   domain.Float(4.5),
		},
		{
			ID:       "tibet",
			Name:     "Tibet Mall Surplus",
			Tag:      "Budget Surplus Store",
			Location: domain.Location{ID: "central", Label: "Commercial Street"},
			Rating:   domain.Float(4.2),
		},
	}
}

func load(t *testing.T, shops []domain.Shop, enc corpus.Encoder, idx semantic.Index) *corpus.Snapshot {
	t.Helper()
	c, err := corpus.New(enc, idx, corpus.Options{Workers: 2}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	snap, err := c.Load(context.Background(), shops)
	require.NoError(t, err)
	return snap
}

// static returns fixed results.
func static(kind domain.Strategy, results ...domain.RetrievalResult) Strategy {
	return Func{Kind: kind, Fn: func(context.Context, *corpus.Snapshot, Request) ([]domain.RetrievalResult, error) {
		return results, nil
	}}
}

func rr(shop *domain.Shop, kind domain.Strategy, score float64, reasons ...string) domain.RetrievalResult {
	return domain.RetrievalResult{Shop: shop, Score: score, Reasons: reasons, Strategy: kind}
}

func TestRun_KeywordOnlyScenario(t *testing.T) {
	snap := load(t, scenarioShops(), nil, nil)
	res := New(Options{}, nil, nil).Run(context.Background(), snap, Request{Query: "vintage", Limit: 10}, NewKeyword(nil))

	require.Len(t, res.Results, 1)
	got := res.Results[0]
	assert.Equal(t, "ecodhaga", got.Shop.ID)
	assert.Equal(t, 2.0, got.Scores[domain.StrategyKeyword])
	assert.Equal(t, 3.0, got.Score)
	assert.Equal(t, []string{"tagged as 'vintage'"}, got.Reasons)
	assert.Equal(t, domain.StrategyKeyword, got.Strategy)
	assert.Empty(t, res.Degraded)
	assert.True(t, res.Contributed(domain.StrategyKeyword))
}

func TestRun_LocationFilterRegardlessOfQuery(t *testing.T) {
	snap := load(t, scenarioShops(), nil, nil)
	e := New(Options{}, nil, nil)
	filters := domain.Filters{Location: "central"}

	for _, q := range []string{"vintage", "surplus", "vintage surplus", "shop"} {
		res := e.Run(context.Background(), snap, Request{Query: q, Filters: filters}, NewKeyword(nil), NewPopularity(nil))
		for _, r := range res.Results {
			assert.Equal(t, "tibet", r.Shop.ID, "query %q", q)
		}
	}
	res := e.Run(context.Background(), snap, Request{Query: "vintage surplus", Filters: filters}, NewKeyword(nil))
	require.Len(t, res.Results, 1)
}

func TestRun_HybridScoresAtLeastEachContribution(t *testing.T) {
	snap := load(t, scenarioShops(), nil, nil)
	shop := &snap.Shops[0]
	res := New(Options{}, nil, nil).Run(context.Background(), snap, Request{},
		static(domain.StrategySemantic, rr(shop, domain.StrategySemantic, 0.8)),
		static(domain.StrategyKeyword, rr(shop, domain.StrategyKeyword, 2, "tagged as 'vintage'")),
	)

	require.Len(t, res.Results, 1)
	got := res.Results[0]
	assert.Equal(t, domain.StrategyHybrid, got.Strategy)
	assert.InDelta(t, 0.8*10+2*1.5, got.Score, 1e-9)
	assert.GreaterOrEqual(t, got.Score, max(0.8*10, 2*1.5))
	assert.Equal(t, map[domain.Strategy]float64{domain.StrategySemantic: 0.8, domain.StrategyKeyword: 2}, got.Scores)
}

func TestRun_OrderIndependent(t *testing.T) {
	snap := load(t, scenarioShops(), nil, nil)
	a, b := &snap.Shops[0], &snap.Shops[1]
	s1 := static(domain.StrategySemantic, rr(a, domain.StrategySemantic, 0.3), rr(b, domain.StrategySemantic, 0.2))
	s2 := static(domain.StrategyKeyword, rr(b, domain.StrategyKeyword, 3))
	s3 := static(domain.StrategyPreference, rr(a, domain.StrategyPreference, 1.5), rr(b, domain.StrategyPreference, 0.5))

	e := New(Options{}, nil, nil)
	scores := func(res Result) map[string]float64 {
		out := map[string]float64{}
		for _, r := range res.Results {
			out[r.Shop.ID] = r.Score
		}
		return out
	}
	want := scores(e.Run(context.Background(), snap, Request{}, s1, s2, s3))
	for _, order := range [][]Strategy{{s3, s2, s1}, {s2, s1, s3}, {s2, s3, s1}} {
		got := scores(e.Run(context.Background(), snap, Request{}, order...))
		require.Len(t, got, len(want))
		for id, w := range want {
			assert.InDelta(t, w, got[id], 1e-9, id)
		}
	}
}

func TestRun_TieBreaks(t *testing.T) {
	shops := []domain.Shop{
		{ID: "low", Name: "Low", Rating: domain.Float(3)},
		{ID: "first", Name: "First", Rating: domain.Float(4)},
		{ID: "second", Name: "Second", Rating: domain.Float(4)},
	}
	snap := load(t, shops, nil, nil)
	// reverse order in the strategy output must not matter
	s := static(domain.StrategyKeyword,
		rr(&snap.Shops[2], domain.StrategyKeyword, 1),
		rr(&snap.Shops[0], domain.StrategyKeyword, 1),
		rr(&snap.Shops[1], domain.StrategyKeyword, 1),
	)
	res := New(Options{}, nil, nil).Run(context.Background(), snap, Request{}, s)

	require.Len(t, res.Results, 3)
	assert.Equal(t, "first", res.Results[0].Shop.ID)
	assert.Equal(t, "second", res.Results[1].Shop.ID)
	assert.Equal(t, "low", res.Results[2].Shop.ID)
}

func TestRun_LimitAndExclude(t *testing.T) {
	snap := load(t, scenarioShops(), nil, nil)
	e := New(Options{}, nil, nil)

	res := e.Run(context.Background(), snap, Request{Limit: 1}, NewPopularity(nil))
	require.Len(t, res.Results, 1)
	assert.Equal(t, "ecodhaga", res.Results[0].Shop.ID)
	assert.InDelta(t, 1.0, res.Results[0].Score, 1e-9)

	res = e.Run(context.Background(), snap, Request{Exclude: map[string]struct{}{"ecodhaga": {}}}, NewPopularity(nil))
	require.Len(t, res.Results, 1)
	assert.Equal(t, "tibet", res.Results[0].Shop.ID)
	assert.InDelta(t, 0.9, res.Results[0].Score, 1e-9)
}

func TestRun_FailuresDegrade(t *testing.T) {
	snap := load(t, scenarioShops(), nil, nil)
	reg := metrics.New()
	e := New(Options{Timeout: 50 * time.Millisecond}, reg, nil)

	failing := Func{Kind: domain.StrategySemantic, Fn: func(context.Context, *corpus.Snapshot, Request) ([]domain.RetrievalResult, error) {
		return nil, domain.Unavailable("index", errors.New("connection refused"))
	}}
	panicking := Func{Kind: domain.StrategyPreference, Fn: func(context.Context, *corpus.Snapshot, Request) ([]domain.RetrievalResult, error) {
		panic("boom")
	}}
	slow := Func{Kind: domain.StrategyCollaborative, Fn: func(ctx context.Context, _ *corpus.Snapshot, _ Request) ([]domain.RetrievalResult, error) {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return []domain.RetrievalResult{rr(&snap.Shops[1], domain.StrategyCollaborative, 100)}, nil
	}}

	res := e.Run(context.Background(), snap, Request{Query: "vintage"}, failing, NewKeyword(nil), panicking, slow)

	require.Len(t, res.Results, 1)
	assert.Equal(t, "ecodhaga", res.Results[0].Shop.ID)
	assert.ElementsMatch(t, []domain.Strategy{domain.StrategySemantic, domain.StrategyPreference, domain.StrategyCollaborative}, res.Degraded)
	assert.Equal(t, []domain.Strategy{domain.StrategyKeyword}, res.Ran)
	assert.Contains(t, reg.Render(), `thrifter_strategy_degraded_total{strategy="collaborative",reason="timeout"} 1`)
}

func TestRun_NoStrategies(t *testing.T) {
	snap := load(t, scenarioShops(), nil, nil)
	res := New(Options{}, nil, nil).Run(context.Background(), snap, Request{Query: "vintage"})
	assert.Empty(t, res.Results)
	assert.Empty(t, res.Degraded)
}

func TestRun_SemanticAndKeywordDisabled(t *testing.T) {
	snap := load(t, scenarioShops(), nil, nil)
	e := New(Options{}, nil, nil)

	res := e.Run(context.Background(), snap, Request{Query: "vintage"}, NewPreference(nil))
	assert.Empty(t, res.Results, "no preferences, no results")

	prefs := domain.Preferences{FavoriteLocations: []string{"central"}}
	res = e.Run(context.Background(), snap, Request{Query: "vintage", Preferences: prefs}, NewPreference(nil))
	require.Len(t, res.Results, 2)
	assert.Equal(t, "tibet", res.Results[0].Shop.ID)
	assert.Equal(t, []string{"in Commercial Street"}, res.Results[0].Reasons)
}

func TestRun_FilterPredicateHolds(t *testing.T) {
	shops := []domain.Shop{
		{ID: "1", Name: "Denim Den", Tag: "denim thrift", Location: domain.Location{ID: "koramangala"}, Rating: domain.Float(4.1)},
		{ID: "2", Name: "Retro Rack", Tag: "vintage", Location: domain.Location{ID: "koramangala"}, Rating: domain.Float(3.2)},
		{ID: "3", Name: "Surplus City", Tag: "budget surplus", Location: domain.Location{ID: "central"}},
		{ID: "4", Name: "Denim Depot", Tag: "denim", Location: domain.Location{ID: "central"}, Rating: domain.Float(4.9)},
	}
	snap := load(t, shops, nil, nil)
	e := New(Options{}, nil, nil)
	filters := []domain.Filters{
		{Location: "koramangala"},
		{Tags: []string{"denim"}},
		{MinRating: domain.Float(4)},
		{Location: "central", MinRating: domain.Float(1)},
		{Tags: []string{"Vintage", "surplus"}},
	}
	for _, f := range filters {
		all := e.Run(context.Background(), snap, Request{}, NewPopularity(nil))
		res := e.Run(context.Background(), snap, Request{Filters: f}, NewPopularity(nil))
		want := 0
		for _, r := range all.Results {
			if f.Match(r.Shop) {
				want++
			}
		}
		assert.Len(t, res.Results, want, "%+v", f)
		for _, r := range res.Results {
			assert.True(t, f.Match(r.Shop), "%+v kept %s", f, r.Shop.ID)
		}
	}
}

// axisEncoder maps known words onto axes.
type axisEncoder struct{ fail bool }

func (a axisEncoder) EncodeText(_ context.Context, text string) ([]float32, error) {
	if a.fail {
		return nil, errors.New("encoder down")
	}
	v := []float32{0.1, 0.1, 0.1}
	text = strings.ToLower(text)
	for i, w := range []string{"vintage", "surplus", "denim"} {
		if strings.Contains(text, w) {
			v[i] += 1
		}
	}
	return embed.Normalize(v)
}

func TestSemantic_RanksByVector(t *testing.T) {
	snap := load(t, scenarioShops(), axisEncoder{}, semantic.NewLocal())
	require.Equal(t, 2, snap.Indexed())

	res := New(Options{}, nil, nil).Run(context.Background(), snap, Request{Query: "Surplus"}, NewSemantic(axisEncoder{}))
	require.Len(t, res.Results, 2)
	assert.Equal(t, "tibet", res.Results[0].Shop.ID)
	assert.Equal(t, domain.StrategySemantic, res.Results[0].Strategy)
	assert.Greater(t, res.Results[0].Scores[domain.StrategySemantic], res.Results[1].Scores[domain.StrategySemantic])
}

func TestSemantic_UsesSuppliedVector(t *testing.T) {
	snap := load(t, scenarioShops(), axisEncoder{}, semantic.NewLocal())
	vec, _ := axisEncoder{}.EncodeText(context.Background(), "vintage")

	got, err := NewSemantic(nil).Retrieve(context.Background(), snap, Request{Vector: vec, Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ecodhaga", got[0].Shop.ID)
}

func TestSemantic_Unavailable(t *testing.T) {
	snap := load(t, scenarioShops(), nil, nil)
	_, err := NewSemantic(axisEncoder{}).Retrieve(context.Background(), snap, Request{Query: "vintage"})
	assert.ErrorIs(t, err, domain.ErrConfigurationAbsent)

	indexed := load(t, scenarioShops(), axisEncoder{}, semantic.NewLocal())
	_, err = NewSemantic(axisEncoder{fail: true}).Retrieve(context.Background(), indexed, Request{Query: "vintage"})
	assert.Error(t, err)

	res := New(Options{}, nil, nil).Run(context.Background(), indexed, Request{Query: "vintage"},
		NewSemantic(axisEncoder{fail: true}), NewKeyword(nil))
	require.Len(t, res.Results, 1)
	assert.Equal(t, []domain.Strategy{domain.StrategySemantic}, res.Degraded)
}

func TestTrending(t *testing.T) {
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	recent := now.Add(-24 * time.Hour)
	shops := []domain.Shop{
		{ID: "a", Rating: domain.Float(4)},
		{ID: "b", Rating: domain.Float(3.5), CreatedAt: &recent},
		{ID: "c", Rating: domain.Float(4), ReviewCount: domain.Int(200)},
		{ID: "d", Rating: domain.Float(4)},
	}
	got := Trending(shops, now)
	ids := make([]string, len(got))
	for i, s := range got {
		ids[i] = s.ID
	}
	assert.Equal(t, []string{"c", "b", "a", "d"}, ids)
}

// nameEncoder returns a fixed vector per shop, chosen by a word in its document.
type nameEncoder map[string][]float32

func (n nameEncoder) EncodeText(_ context.Context, text string) ([]float32, error) {
	for word, v := range n {
		if strings.Contains(text, word) {
			return v, nil
		}
	}
	return nil, errors.New("no vector for " + text)
}

func TestSemantic_NegativeSimilarityAddsNothing(t *testing.T) {
	enc := nameEncoder{"EcoDhaga": {1, 0}, "Tibet": {0, 1}}
	snap := load(t, scenarioShops(), enc, semantic.NewLocal())
	require.Equal(t, 2, snap.Indexed())

	req := Request{Query: "vintage", Vector: []float32{-1, 0}, Limit: 10}
	sem, err := NewSemantic(nil).Retrieve(context.Background(), snap, req)
	require.NoError(t, err)
	assert.Empty(t, sem)

	res := New(Options{}, nil, nil).Run(context.Background(), snap, req, NewSemantic(nil), NewKeyword(nil))
	require.Len(t, res.Results, 1)
	got := res.Results[0]
	assert.Equal(t, "ecodhaga", got.Shop.ID)
	assert.GreaterOrEqual(t, got.Score, 3.0)
	assert.NotContains(t, got.Scores, domain.StrategySemantic)
}
