// Package corpus owns the in-memory shop list and its semantic index. Loads
// replace both at once; readers hold an immutable Snapshot taken at query
// start and never observe a partial rebuild.
package corpus

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/WessleyAI/thrifter/engine/domain"
	"github.com/WessleyAI/thrifter/engine/embed"
	"github.com/WessleyAI/thrifter/engine/semantic"
	"github.com/WessleyAI/thrifter/pkg/fn"
	"github.com/WessleyAI/thrifter/pkg/metrics"
)

// Encoder is the part of the embedding provider the corpus needs.
type Encoder interface {
	EncodeText(ctx context.Context, text string) ([]float32, error)
}

// Options configures a Corpus.
type Options struct {
	// Workers bounds concurrent embedding calls during a load.
	Workers int
	// Retry applies to each shop's embedding call.
	Retry fn.RetryOpts
	// BuildTimeout bounds embedding plus index rebuild.
	BuildTimeout time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Workers: 8,
		Retry: fn.RetryOpts{
			MaxAttempts: 3,
			InitialWait: 200 * time.Millisecond,
			MaxWait:     2 * time.Second,
			Jitter:      true,
		},
		BuildTimeout: 5 * time.Minute,
	}
}

// Corpus is the single owner of shop data and index rebuilds.
type Corpus struct {
	encoder Encoder
	index   semantic.Index
	opts    Options
	pool    *ants.Pool
	logger  *slog.Logger

	mu      sync.Mutex
	current atomic.Pointer[Snapshot]

	loads      *metrics.Counter
	loadErrors *metrics.Counter
	size       *metrics.Gauge
	indexed    *metrics.Gauge
	buildTime  *metrics.Histogram
}

// New creates an empty Corpus. encoder and index may be nil, in which case
// snapshots carry no semantic view.
func New(encoder Encoder, index semantic.Index, opts Options, reg *metrics.Registry, logger *slog.Logger) (*Corpus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	def := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = def.Retry
	}
	if opts.Retry.Retryable == nil {
		opts.Retry.Retryable = transient
	}
	if opts.BuildTimeout <= 0 {
		opts.BuildTimeout = def.BuildTimeout
	}
	pool, err := ants.NewPool(opts.Workers)
	if err != nil {
		return nil, fmt.Errorf("corpus: worker pool: %w", err)
	}
	if isNil(encoder) {
		encoder = nil
	}

	c := &Corpus{
		encoder:    encoder,
		index:      index,
		opts:       opts,
		pool:       pool,
		logger:     logger.With("component", "corpus"),
		loads:      reg.Counter("thrifter_corpus_loads_total", "Corpus loads"),
		loadErrors: reg.Counter("thrifter_corpus_index_failures_total", "Loads that ended without a semantic index"),
		size:       reg.Gauge("thrifter_corpus_shops", "Shops in the current snapshot"),
		indexed:    reg.Gauge("thrifter_corpus_indexed", "Shops in the current semantic index"),
		buildTime:  reg.Histogram("thrifter_index_build_seconds", "Embedding plus index rebuild duration", nil),
	}
	c.current.Store(newSnapshot(0, nil, nil, nil, time.Now()))
	return c, nil
}

// isNil catches a typed nil *embed.Encoder stored in the interface.
func isNil(e Encoder) bool {
	if e == nil {
		return true
	}
	enc, ok := e.(*embed.Encoder)
	return ok && enc == nil
}

// Close releases the worker pool.
func (c *Corpus) Close() {
	c.pool.Release()
}

// Snapshot returns the current snapshot. It never returns nil.
func (c *Corpus) Snapshot() *Snapshot {
	return c.current.Load()
}

// Semantic reports whether loads build a semantic index.
func (c *Corpus) Semantic() bool {
	return c.encoder != nil && c.index != nil
}

// IndexBackend names the configured index, "none" when absent.
func (c *Corpus) IndexBackend() string {
	if c.index == nil {
		return "none"
	}
	return c.index.Backend()
}

// Load replaces the corpus with shops and rebuilds the semantic index. Loads
// are serialized; queries keep using the previous snapshot until the swap.
// A failed embedding or index build still swaps in the new shops, with no
// semantic view, and is reported in Snapshot.IndexErr. The build is bounded
// by BuildTimeout only; cancelling ctx does not abandon a build in flight.
func (c *Corpus) Load(ctx context.Context, shops []domain.Shop) (*Snapshot, error) {
	if err := domain.ValidateCorpus(shops); err != nil {
		return nil, fmt.Errorf("corpus: load: %w", err)
	}
	shops = slices.Clone(shops)

	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	var (
		view     semantic.View
		indexErr error
	)
	if c.Semantic() && len(shops) > 0 {
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.BuildTimeout)
		view, indexErr = c.build(bctx, shops)
		cancel()
		c.buildTime.Since(start)
	}
	if indexErr != nil {
		c.loadErrors.Inc()
		c.logger.Warn("index build failed, serving without semantic retrieval", "shops", len(shops), "error", indexErr)
	}

	prev := c.current.Load()
	snap := newSnapshot(prev.Version+1, shops, view, indexErr, time.Now())
	c.current.Store(snap)

	c.loads.Inc()
	c.size.Set(int64(snap.Len()))
	c.indexed.Set(int64(snap.Indexed()))
	c.logger.Info("corpus loaded",
		"version", snap.Version,
		"shops", snap.Len(),
		"indexed", snap.Indexed(),
		"took", time.Since(start),
	)
	return snap, nil
}

// transient reports whether an embedding error may clear on retry. Bad
// vectors and missing configuration will not.
func transient(err error) bool {
	switch {
	case errors.Is(err, embed.ErrDimensionMismatch),
		errors.Is(err, embed.ErrZeroVector),
		errors.Is(err, domain.ErrConfigurationAbsent),
		domain.IsValidation(err):
		return false
	}
	return true
}

// build encodes every shop on the worker pool and rebuilds the index.
func (c *Corpus) build(ctx context.Context, shops []domain.Shop) (semantic.View, error) {
	ids := make([]string, len(shops))
	vecs := make([][]float32, len(shops))
	errs := make([]error, len(shops))

	var wg sync.WaitGroup
	for i := range shops {
		ids[i] = shops[i].Key()
		doc := shops[i].Document()
		wg.Add(1)
		err := c.pool.Submit(func() {
			defer wg.Done()
			res := fn.Retry(ctx, c.opts.Retry, func(ctx context.Context) fn.Result[[]float32] {
				return fn.FromPair(c.encoder.EncodeText(ctx, doc))
			})
			vecs[i], errs[i] = res.Unwrap()
		})
		if err != nil {
			wg.Done()
			errs[i] = fmt.Errorf("submit: %w", err)
		}
	}
	wg.Wait()

	var (
		failed int
		first  error
	)
	for _, e := range errs {
		if e != nil {
			failed++
			first = cmp.Or(first, e)
		}
	}
	if failed > 0 {
		return nil, fmt.Errorf("corpus: embed %d of %d shops failed: %w", failed, len(shops), first)
	}

	view, err := c.index.Rebuild(ctx, ids, vecs)
	if err != nil {
		return nil, fmt.Errorf("corpus: rebuild %s index: %w", c.index.Backend(), err)
	}
	if view.Len() != len(shops) {
		return nil, fmt.Errorf("corpus: index holds %d vectors for %d shops", view.Len(), len(shops))
	}
	return view, nil
}
