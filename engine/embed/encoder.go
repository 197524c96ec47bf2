// Package embed turns shop text and images into unit-normalized vectors.
// Backends are plain clients; the Encoder adds normalization, caching, rate
// limiting and a circuit breaker, and probes its backend once at startup.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/WessleyAI/thrifter/engine/domain"
	"github.com/WessleyAI/thrifter/pkg/resilience"
)

// ErrImageUnsupported is returned when no image backend is configured.
var ErrImageUnsupported = errors.New("embed: image encoding not configured")

// ErrDimensionMismatch is returned when a backend changes output size mid-run.
var ErrDimensionMismatch = errors.New("embed: dimension mismatch")

// TextBackend produces a raw vector for text.
type TextBackend interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ImageBackend produces a raw vector for an encoded image.
type ImageBackend interface {
	EmbedImage(ctx context.Context, img []byte) ([]float32, error)
}

// Options configures an Encoder.
type Options struct {
	// Backend names the provider for logs and capability reports.
	Backend string
	// Model identifies the model version; part of the cache key.
	Model string
	// Rate limits backend calls per second. Zero disables limiting.
	Rate  float64
	Burst int
	// Timeout bounds a single backend call.
	Timeout time.Duration
	Breaker resilience.BreakerOpts
	Cache   *Cache
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Rate:    20,
		Burst:   8,
		Timeout: 10 * time.Second,
		Breaker: resilience.BreakerOpts{FailThreshold: 5, Timeout: 30 * time.Second},
	}
}

// Encoder is the embedding provider used by the corpus and the semantic strategy.
// A nil *Encoder is valid and reports every call as not configured.
type Encoder struct {
	text    TextBackend
	image   ImageBackend
	opts    Options
	dims    atomic.Int64
	breaker *resilience.Breaker
	limiter *resilience.Limiter
	logger  *slog.Logger
}

// New creates an Encoder. image may be nil.
func New(text TextBackend, image ImageBackend, opts Options, logger *slog.Logger) *Encoder {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	bo := opts.Breaker
	if bo.Name == "" {
		bo.Name = "embed-" + opts.Backend
	}
	return &Encoder{
		text:    text,
		image:   image,
		opts:    opts,
		breaker: resilience.NewBreaker(bo),
		limiter: resilience.NewLimiter(resilience.LimiterOpts{Rate: opts.Rate, Burst: opts.Burst}),
		logger:  logger,
	}
}

// Backend returns the configured backend name.
func (e *Encoder) Backend() string {
	if e == nil {
		return "none"
	}
	return e.opts.Backend
}

// Model returns the model identifier.
func (e *Encoder) Model() string {
	if e == nil {
		return ""
	}
	return e.opts.Model
}

// Dims returns the vector dimension, zero until the first successful encode.
func (e *Encoder) Dims() int {
	if e == nil {
		return 0
	}
	return int(e.dims.Load())
}

// SupportsImages reports whether EncodeImage can succeed.
func (e *Encoder) SupportsImages() bool {
	return e != nil && e.image != nil
}

// EncodeText returns the unit-normalized vector for text.
func (e *Encoder) EncodeText(ctx context.Context, text string) ([]float32, error) {
	if e == nil || e.text == nil {
		return nil, domain.ErrConfigurationAbsent
	}
	if e.opts.Cache != nil {
		if v, ok := e.opts.Cache.Get(e.opts.Model, text); ok && e.checkDims(v) == nil {
			return v, nil
		}
	}
	v, err := e.call(ctx, func(ctx context.Context) ([]float32, error) {
		return e.text.Embed(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	if e.opts.Cache != nil {
		if err := e.opts.Cache.Put(e.opts.Model, text, v); err != nil {
			e.logger.Warn("embed: cache put failed", "err", err)
		}
	}
	return v, nil
}

// EncodeImage returns the unit-normalized vector for an encoded image.
func (e *Encoder) EncodeImage(ctx context.Context, img []byte) ([]float32, error) {
	if e == nil || e.image == nil {
		return nil, ErrImageUnsupported
	}
	if len(img) == 0 {
		return nil, domain.NewValidationError("image", "", domain.ErrImageRequired)
	}
	return e.call(ctx, func(ctx context.Context) ([]float32, error) {
		return e.image.EmbedImage(ctx, img)
	})
}

func (e *Encoder) call(ctx context.Context, f func(context.Context) ([]float32, error)) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embed: %s: %w", e.opts.Backend, err)
	}
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	raw, err := resilience.Do(e.breaker, ctx, f)
	if err != nil {
		return nil, domain.Unavailable("embed: "+e.opts.Backend, err)
	}
	v, err := Normalize(raw)
	if err != nil {
		return nil, err
	}
	if err := e.checkDims(v); err != nil {
		return nil, err
	}
	return v, nil
}

// checkDims pins the dimension on first use and rejects later changes.
func (e *Encoder) checkDims(v []float32) error {
	n := int64(len(v))
	if e.dims.CompareAndSwap(0, n) {
		return nil
	}
	if got := e.dims.Load(); got != n {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, n, got)
	}
	return nil
}

const probeText = "thrift store probe"

// Probe encodes a fixed string once to confirm the backend works and to learn
// the vector dimension.
func (e *Encoder) Probe(ctx context.Context) domain.Capability {
	if e == nil || e.text == nil {
		return domain.Absent("embedding")
	}
	c := domain.Capability{Name: "embedding", Backend: e.opts.Backend}
	if _, err := e.EncodeText(ctx, probeText); err != nil {
		c.Reason = err.Error()
		e.logger.Warn("embed: probe failed, semantic retrieval disabled", "backend", e.opts.Backend, "err", err)
		return c
	}
	c.Available = true
	e.logger.Info("embed: backend ready", "backend", e.opts.Backend, "model", e.opts.Model, "dims", e.Dims())
	return c
}
