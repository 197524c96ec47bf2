// Package ingest consumes corpus loads from NATS. Each message carries a full
// list of raw shop records which replaces the served corpus.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/thrifter/engine/corpus"
	"github.com/WessleyAI/thrifter/engine/domain"
	"github.com/WessleyAI/thrifter/pkg/fn"
	"github.com/WessleyAI/thrifter/pkg/metrics"
	"github.com/WessleyAI/thrifter/pkg/natsutil"
)

const (
	// LoadSubject carries LoadRequest messages.
	LoadSubject = "thrifter.corpus.load"
	// IndexedSubject receives an Indexed event after every successful load.
	IndexedSubject = "thrifter.corpus.indexed"
	// DLQSubject is the dead letter queue subject for failed messages.
	DLQSubject = "thrifter.corpus.load.dlq"
	// RetryHeader counts how often a message was republished.
	RetryHeader = "X-Retry-Count"
	// MaxRetries before sending to DLQ.
	MaxRetries = 3
)

// LoadRequest is the payload on LoadSubject.
type LoadRequest struct {
	Shops  []map[string]any `json:"shops"`
	Source string           `json:"source,omitempty"`
}

// Indexed reports the outcome of a load. It is published on IndexedSubject
// and sent as the reply when the load was a request. Error is set only on
// replies to requests that ended in the DLQ.
type Indexed struct {
	Version uint64 `json:"version"`
	Shops   int    `json:"shops"`
	Indexed int    `json:"indexed"`
	Source  string `json:"source,omitempty"`
	TookMs  int64  `json:"took_ms"`
	Error   string `json:"error,omitempty"`
}

// DeadLetter is published to DLQSubject.
type DeadLetter struct {
	Request json.RawMessage `json:"request"`
	Error   string          `json:"error"`
	Retries int             `json:"retries"`
}

// Loader replaces the served corpus.
type Loader interface {
	Load(ctx context.Context, shops []domain.Shop) (*corpus.Snapshot, error)
}

// Options configures a Consumer.
type Options struct {
	// Timeout bounds one load including the index build.
	Timeout time.Duration
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{Timeout: 5 * time.Minute}
}

// Consumer runs load requests through translation and the corpus.
type Consumer struct {
	nc       *nats.Conn
	pipeline fn.Stage[LoadRequest, *corpus.Snapshot]
	opts     Options
	logger   *slog.Logger

	loaded  *metrics.Counter
	retried *metrics.Counter
	dead    *metrics.Counter
}

// New creates a Consumer. Call Start to subscribe.
func New(nc *nats.Conn, loader Loader, opts Options, reg *metrics.Registry, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	return &Consumer{
		nc:       nc,
		pipeline: NewPipeline(loader),
		opts:     opts,
		logger:   logger.With("component", "ingest"),
		loaded:   reg.Counter(metrics.WithLabels("thrifter_ingest_total", "outcome", "loaded"), "Corpus load messages by outcome"),
		retried:  reg.Counter(metrics.WithLabels("thrifter_ingest_total", "outcome", "retried"), "Corpus load messages by outcome"),
		dead:     reg.Counter(metrics.WithLabels("thrifter_ingest_total", "outcome", "dlq"), "Corpus load messages by outcome"),
	}
}

// Translate converts raw records into shops.
var Translate fn.Stage[LoadRequest, []domain.Shop] = func(_ context.Context, req LoadRequest) fn.Result[[]domain.Shop] {
	if req.Shops == nil {
		return fn.Err[[]domain.Shop](domain.NewValidationError("shops", "", domain.ErrInvalidShop))
	}
	return fn.FromPair(domain.ShopsFromRaw(req.Shops))
}

// NewLoad creates a stage that swaps the shops into the corpus.
func NewLoad(loader Loader) fn.Stage[[]domain.Shop, *corpus.Snapshot] {
	return func(ctx context.Context, shops []domain.Shop) fn.Result[*corpus.Snapshot] {
		return fn.FromPair(loader.Load(ctx, shops))
	}
}

// NewPipeline composes Translate and Load with a span per stage.
func NewPipeline(loader Loader) fn.Stage[LoadRequest, *corpus.Snapshot] {
	return fn.Then(
		fn.TracedStage("ingest.translate", Translate),
		fn.TracedStage("ingest.load", NewLoad(loader)),
	)
}

// Start subscribes to LoadSubject.
func (c *Consumer) Start() (*nats.Subscription, error) {
	sub, err := c.nc.Subscribe(LoadSubject, c.Handle)
	if err != nil {
		return nil, fmt.Errorf("ingest: subscribe %s: %w", LoadSubject, err)
	}
	c.logger.Info("consuming corpus loads", "subject", LoadSubject)
	return sub, nil
}

// Handle processes one load message. Invalid payloads go straight to the
// DLQ; other failures are republished until MaxRetries is reached.
func (c *Consumer) Handle(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(natsutil.Extract(msg), c.opts.Timeout)
	defer cancel()

	retries := RetryCount(msg)
	var req LoadRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		c.deadLetter(ctx, msg, fmt.Errorf("ingest: decode: %w", err), retries)
		return
	}

	start := time.Now()
	ev, err := fn.Map(c.pipeline(ctx, req), func(snap *corpus.Snapshot) Indexed {
		return Indexed{
			Version: snap.Version,
			Shops:   snap.Len(),
			Indexed: snap.Indexed(),
			Source:  req.Source,
			TookMs:  time.Since(start).Milliseconds(),
		}
	}).Unwrap()
	if err != nil {
		if permanent(err) {
			c.deadLetter(ctx, msg, err, retries)
			return
		}
		retries++
		c.logger.Error("load failed", "source", req.Source, "retry", retries, "error", err)
		if retries >= MaxRetries {
			c.deadLetter(ctx, msg, err, retries)
			return
		}
		c.retry(ctx, msg, retries)
		return
	}

	c.loaded.Inc()
	c.logger.Info("corpus load applied", "source", req.Source, "version", ev.Version, "shops", ev.Shops, "indexed", ev.Indexed)
	if err := natsutil.Publish(ctx, c.nc, IndexedSubject, ev); err != nil {
		c.logger.Error("indexed publish failed", "error", err)
	}
	c.reply(msg, ev)
}

// RetryCount reads RetryHeader, zero when absent or malformed.
func RetryCount(msg *nats.Msg) int {
	if msg.Header == nil {
		return 0
	}
	n, err := strconv.Atoi(msg.Header.Get(RetryHeader))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func permanent(err error) bool {
	return domain.IsValidation(err) || errors.Is(err, domain.ErrInvalidShop) || errors.Is(err, domain.ErrDuplicateShop)
}

func (c *Consumer) retry(ctx context.Context, msg *nats.Msg, retries int) {
	out := nats.NewMsg(LoadSubject)
	out.Data = msg.Data
	out.Reply = msg.Reply
	out.Header.Set(RetryHeader, strconv.Itoa(retries))
	natsutil.Inject(ctx, out)
	if err := c.nc.PublishMsg(out); err != nil {
		c.logger.Error("retry publish failed", "error", err)
		return
	}
	c.retried.Inc()
}

func (c *Consumer) deadLetter(ctx context.Context, msg *nats.Msg, cause error, retries int) {
	c.dead.Inc()
	c.logger.Error("load dead-lettered", "retries", retries, "error", cause)
	dl := DeadLetter{Error: cause.Error(), Retries: retries}
	if json.Valid(msg.Data) {
		dl.Request = msg.Data
	}
	if err := natsutil.Publish(ctx, c.nc, DLQSubject, dl); err != nil {
		c.logger.Error("DLQ publish failed", "error", err)
	}
	c.reply(msg, Indexed{Error: cause.Error()})
}

func (c *Consumer) reply(msg *nats.Msg, ev Indexed) {
	if err := natsutil.Respond(msg, ev); err != nil {
		c.logger.Warn("reply failed", "error", err)
	}
}
