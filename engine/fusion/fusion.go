// Package fusion runs independent retrieval strategies against one corpus
// snapshot and merges their scores into a single ranked list. Search, the
// assistant, recommendations and explore feeds all rank through Engine.Run.
package fusion

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/WessleyAI/thrifter/engine/corpus"
	"github.com/WessleyAI/thrifter/engine/domain"
	"github.com/WessleyAI/thrifter/pkg/metrics"
)

// DefaultTimeout bounds one fused query.
const DefaultTimeout = 3 * time.Second

// DefaultWeights scale each strategy onto a common range. Cosine similarity
// lives in [0,1] while keyword and preference scores are small integers.
var DefaultWeights = map[domain.Strategy]float64{
	domain.StrategySemantic:      10,
	domain.StrategyKeyword:       1.5,
	domain.StrategyPreference:    1.2,
	domain.StrategyCollaborative: 1,
	domain.StrategyPopularity:    1,
}

// Request is the input shared by every strategy of one query.
type Request struct {
	// Query is the raw user text. Strategies normalize it themselves.
	Query string
	// Vector, when set, is used by the semantic strategy instead of encoding Query.
	Vector      []float32
	Filters     domain.Filters
	Limit       int
	UserID      string
	Preferences domain.Preferences
	// Exclude drops these shop keys after merging.
	Exclude map[string]struct{}
}

// Strategy is one independent retrieval method.
type Strategy interface {
	Name() domain.Strategy
	Retrieve(ctx context.Context, snap *corpus.Snapshot, req Request) ([]domain.RetrievalResult, error)
}

// Func adapts a function to Strategy.
type Func struct {
	Kind domain.Strategy
	Fn   func(ctx context.Context, snap *corpus.Snapshot, req Request) ([]domain.RetrievalResult, error)
}

func (f Func) Name() domain.Strategy { return f.Kind }

func (f Func) Retrieve(ctx context.Context, snap *corpus.Snapshot, req Request) ([]domain.RetrievalResult, error) {
	return f.Fn(ctx, snap, req)
}

// Result is a fused ranking.
type Result struct {
	Results []domain.FusedResult
	// Ran lists strategies that completed, in the order they were supplied.
	Ran []domain.Strategy
	// Degraded lists strategies that failed, panicked or timed out. They
	// contributed nothing.
	Degraded []domain.Strategy
	Took     time.Duration
}

// Contributed reports whether s completed.
func (r Result) Contributed(s domain.Strategy) bool {
	return slices.Contains(r.Ran, s)
}

// Options configures an Engine.
type Options struct {
	Timeout time.Duration
	Weights map[domain.Strategy]float64
}

// Engine is the score fusion primitive. It holds no per-query state.
type Engine struct {
	opts   Options
	reg    *metrics.Registry
	logger *slog.Logger
}

// New creates an Engine.
func New(opts Options, reg *metrics.Registry, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	w := maps.Clone(DefaultWeights)
	maps.Copy(w, opts.Weights)
	opts.Weights = w
	return &Engine{opts: opts, reg: reg, logger: logger.With("component", "fusion")}
}

// Weight returns the fusion weight of a strategy.
func (e *Engine) Weight(s domain.Strategy) float64 {
	if w, ok := e.opts.Weights[s]; ok {
		return w
	}
	return 1
}

type outcome struct {
	idx     int
	results []domain.RetrievalResult
	err     error
}

// Run executes strategies concurrently against snap, merges their results by
// shop identity, applies filters, sorts and truncates to req.Limit (all when
// req.Limit <= 0). Strategies that fail or miss the deadline count as empty.
func (e *Engine) Run(ctx context.Context, snap *corpus.Snapshot, req Request, strategies ...Strategy) Result {
	start := time.Now()
	ctx, span := otel.Tracer("engine/fusion").Start(ctx, "fusion.run")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	done := make(chan outcome, len(strategies))
	for i, s := range strategies {
		go e.runOne(ctx, i, s, snap, req, done)
	}

	collected := make([][]domain.RetrievalResult, len(strategies))
	finished := make([]bool, len(strategies))
	failed := make([]bool, len(strategies))
	for pending := len(strategies); pending > 0; pending-- {
		select {
		case o := <-done:
			finished[o.idx] = true
			if o.err != nil {
				failed[o.idx] = true
				continue
			}
			collected[o.idx] = o.results
		case <-ctx.Done():
			pending = 0
		}
	}

	var res Result
	for i, s := range strategies {
		switch {
		case !finished[i]:
			e.logger.Warn("strategy timed out", "strategy", s.Name(), "timeout", e.opts.Timeout)
			e.degrade(s.Name(), "timeout")
			res.Degraded = append(res.Degraded, s.Name())
		case failed[i]:
			res.Degraded = append(res.Degraded, s.Name())
		default:
			res.Ran = append(res.Ran, s.Name())
		}
	}

	res.Results = e.fuse(snap, req, collected)
	res.Took = time.Since(start)
	span.SetAttributes(
		attribute.Int("fusion.strategies", len(strategies)),
		attribute.Int("fusion.degraded", len(res.Degraded)),
		attribute.Int("fusion.results", len(res.Results)),
	)
	return res
}

func (e *Engine) runOne(ctx context.Context, idx int, s Strategy, snap *corpus.Snapshot, req Request, done chan<- outcome) {
	name := s.Name()
	ctx, span := otel.Tracer("engine/fusion").Start(ctx, "strategy."+string(name))
	defer span.End()
	start := time.Now()

	o := outcome{idx: idx}
	defer func() {
		if r := recover(); r != nil {
			o.err = fmt.Errorf("fusion: strategy %s panicked: %v", name, r)
			o.results = nil
		}
		e.reg.Histogram(metrics.WithLabels("thrifter_strategy_seconds", "strategy", string(name)), "Strategy latency", nil).Since(start)
		if o.err != nil {
			span.RecordError(o.err)
			span.SetStatus(codes.Error, o.err.Error())
			if ctx.Err() == nil {
				e.logger.Warn("strategy failed", "strategy", name, "error", o.err)
				e.degrade(name, "error")
			}
		}
		span.SetAttributes(attribute.Int("strategy.results", len(o.results)))
		done <- o
	}()

	o.results, o.err = s.Retrieve(ctx, snap, req)
	for i := range o.results {
		if o.results[i].Strategy == "" {
			o.results[i].Strategy = name
		}
	}
}

func (e *Engine) degrade(s domain.Strategy, reason string) {
	e.reg.Counter(metrics.WithLabels("thrifter_strategy_degraded_total", "strategy", string(s), "reason", reason), "Strategies that contributed nothing because they failed").Inc()
}

type candidate struct {
	shop    *domain.Shop
	ordinal int
	score   float64
	scores  map[domain.Strategy]float64
	reasons []string
	seen    map[string]struct{}
	kinds   []domain.Strategy
}

// fuse merges per-strategy results. Summation makes the scores independent
// of completion order; reasons follow the order strategies were supplied.
func (e *Engine) fuse(snap *corpus.Snapshot, req Request, lists [][]domain.RetrievalResult) []domain.FusedResult {
	byKey := make(map[string]*candidate)
	var order []*candidate

	for _, list := range lists {
		for _, r := range list {
			if r.Shop == nil {
				continue
			}
			key := r.Shop.Key()
			c, ok := byKey[key]
			if !ok {
				c = &candidate{
					shop:    r.Shop,
					ordinal: snap.Ordinal(key),
					scores:  make(map[domain.Strategy]float64),
					seen:    make(map[string]struct{}),
				}
				byKey[key] = c
				order = append(order, c)
			}
			c.score += r.Score * e.Weight(r.Strategy)
			if _, dup := c.scores[r.Strategy]; !dup {
				c.kinds = append(c.kinds, r.Strategy)
			}
			c.scores[r.Strategy] += r.Score
			for _, reason := range r.Reasons {
				if _, dup := c.seen[reason]; dup {
					continue
				}
				c.seen[reason] = struct{}{}
				c.reasons = append(c.reasons, reason)
			}
		}
	}

	out := make([]domain.FusedResult, 0, len(order))
	ordinals := make(map[*domain.Shop]int, len(order))
	for _, c := range order {
		if _, skip := req.Exclude[c.shop.Key()]; skip {
			continue
		}
		if !req.Filters.Match(c.shop) {
			continue
		}
		kind := c.kinds[0]
		if len(c.kinds) > 1 {
			kind = domain.StrategyHybrid
		}
		ordinals[c.shop] = c.ordinal
		out = append(out, domain.FusedResult{
			Shop:     c.shop,
			Score:    c.score,
			Scores:   c.scores,
			Reasons:  c.reasons,
			Strategy: kind,
		})
	}

	slices.SortFunc(out, func(a, b domain.FusedResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Shop.RatingOr(0), a.Shop.RatingOr(0)); c != 0 {
			return c
		}
		return cmp.Compare(ordinals[a.Shop], ordinals[b.Shop])
	})
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out
}
