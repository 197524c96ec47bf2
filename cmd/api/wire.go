package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/thrifter/engine/corpus"
	"github.com/WessleyAI/thrifter/engine/domain"
	"github.com/WessleyAI/thrifter/engine/embed"
	"github.com/WessleyAI/thrifter/engine/explore"
	"github.com/WessleyAI/thrifter/engine/fusion"
	"github.com/WessleyAI/thrifter/engine/ingest"
	"github.com/WessleyAI/thrifter/engine/profile"
	"github.com/WessleyAI/thrifter/engine/rag"
	"github.com/WessleyAI/thrifter/engine/search"
	"github.com/WessleyAI/thrifter/engine/semantic"
	"github.com/WessleyAI/thrifter/pkg/clip"
	"github.com/WessleyAI/thrifter/pkg/config"
	"github.com/WessleyAI/thrifter/pkg/metrics"
	"github.com/WessleyAI/thrifter/pkg/ollama"
	"github.com/WessleyAI/thrifter/pkg/openai"
)

//go:embed seed.json
var seedShops []byte

// probeTimeout bounds each startup capability probe.
const probeTimeout = 5 * time.Second

var defaultModels = map[string]string{
	"ollama": "nomic-embed-text",
	"openai": "text-embedding-3-small",
	"clip":   "ViT-B-32",
}

// app holds the engine instances shared by all handlers.
type app struct {
	corpus   *corpus.Corpus
	search   *search.Service
	explore  *explore.Service
	rag      *rag.Service
	profiles profile.Store
	caps     []domain.Capability
	reg      *metrics.Registry

	closers []func()
}

// Close releases backends in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) onClose(f func()) { a.closers = append(a.closers, f) }

// build probes every configured backend once, degrades the ones that do not
// answer and loads the seed corpus.
func build(ctx context.Context, cfg *config.Config, reg *metrics.Registry, logger *slog.Logger) (*app, error) {
	a := &app{reg: reg}

	encoder, embedCap := a.encoder(ctx, cfg.Embed, logger)
	index, indexCap := a.index(ctx, cfg.Index, logger)
	profiles, profileCap := a.profileStore(ctx, cfg.Neo4j, logger)
	composer, llmCap := newComposer(cfg.LLM, logger)

	c, err := corpus.New(encoder, index, corpus.Options{
		Workers:      cfg.Corpus.Workers,
		BuildTimeout: cfg.Corpus.BuildTimeout,
	}, reg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.onClose(c.Close)
	a.corpus = c
	a.profiles = profiles

	shops, err := loadSeed(cfg.Corpus.SeedFile)
	if err != nil {
		a.Close()
		return nil, err
	}
	if _, err := c.Load(ctx, shops); err != nil {
		a.Close()
		return nil, fmt.Errorf("load seed corpus: %w", err)
	}

	ingestCap := a.ingest(cfg.NATS, c, reg, logger)
	a.caps = []domain.Capability{embedCap, indexCap, profileCap, llmCap, ingestCap}
	for _, cp := range a.caps {
		if !cp.Available {
			logger.Warn("capability degraded", "name", cp.Name, "backend", cp.Backend, "reason", cp.Reason)
		}
	}

	engine := fusion.New(fusion.Options{Timeout: cfg.Search.Timeout}, reg, logger)
	a.search = search.New(c, engine, encoder, profiles, a.caps, reg, logger)
	a.explore = explore.New(c, engine, profiles, explore.Options{}, reg, logger)
	a.rag = rag.New(c, engine, encoder, profiles, composer, reg, logger)
	return a, nil
}

// encoder returns nil when no provider is configured or the provider fails
// its probe, which turns semantic retrieval off for the process lifetime.
func (a *app) encoder(ctx context.Context, cfg config.EmbedConfig, logger *slog.Logger) (*embed.Encoder, domain.Capability) {
	model := cfg.Model
	if model == "" {
		model = defaultModels[cfg.Provider]
	}

	var (
		text  embed.TextBackend
		image embed.ImageBackend
	)
	switch cfg.Provider {
	case "ollama":
		text = ollama.NewEmbedClient(cfg.URL, model)
	case "openai":
		text = openai.New(openai.Config{APIKey: cfg.APIKey, BaseURL: cfg.URL, EmbedModel: model, Dimensions: cfg.Dimensions})
	case "clip":
		cl := clip.New(cfg.URL, model)
		text, image = cl, cl
	default:
		return nil, domain.Absent("embedding")
	}

	opts := embed.DefaultOptions()
	opts.Backend = cfg.Provider
	opts.Model = model
	opts.Rate = cfg.Rate
	if cfg.Burst > 0 {
		opts.Burst = cfg.Burst
	}
	if cfg.CacheDir != "" {
		cache, err := embed.OpenCache(cfg.CacheDir, logger)
		if err != nil {
			logger.Warn("embedding cache disabled", "dir", cfg.CacheDir, "error", err)
		} else {
			opts.Cache = cache
			a.onClose(func() { cache.Close() })
		}
	}

	enc := embed.New(text, image, opts, logger)
	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	capability := enc.Probe(pctx)
	if !capability.Available {
		return nil, capability
	}
	return enc, capability
}

// index falls back to the in-process index when Qdrant does not answer.
func (a *app) index(ctx context.Context, cfg config.IndexConfig, logger *slog.Logger) (semantic.Index, domain.Capability) {
	if cfg.Backend != "qdrant" {
		return semantic.NewLocal(), domain.Capability{Name: "index", Backend: "local", Available: true}
	}

	q, err := semantic.NewQdrant(cfg.QdrantAddr, cfg.Collection, nil, logger)
	if err == nil {
		pctx, cancel := context.WithTimeout(ctx, probeTimeout)
		err = q.Ping(pctx)
		cancel()
		if err != nil {
			q.Close()
		}
	}
	if err != nil {
		return semantic.NewLocal(), domain.Capability{
			Name:    "index",
			Backend: "qdrant",
			Reason:  fmt.Sprintf("unavailable, using local index: %v", err),
		}
	}
	a.onClose(func() { q.Close() })
	return q, domain.Capability{Name: "index", Backend: "qdrant", Available: true}
}

// profileStore falls back to memory when Neo4j is not configured or unreachable.
func (a *app) profileStore(ctx context.Context, cfg config.Neo4jConfig, logger *slog.Logger) (profile.Store, domain.Capability) {
	memory := domain.Capability{Name: "profiles", Backend: "memory", Available: true}
	if cfg.URL == "" {
		return profile.NewMemory(), memory
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URL, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		memory.Reason = fmt.Sprintf("neo4j driver: %v", err)
		return profile.NewMemory(), memory
	}
	g := profile.NewGraph(driver, logger)
	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	capability := g.Probe(pctx)
	if !capability.Available {
		driver.Close(context.Background())
		memory.Reason = capability.Reason
		return profile.NewMemory(), memory
	}
	a.onClose(func() { driver.Close(context.Background()) })
	return g, capability
}

func newComposer(cfg config.LLMConfig, logger *slog.Logger) (*rag.Composer, domain.Capability) {
	opts := rag.ComposerOptions{MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature}
	if cfg.Provider != "openai" {
		return rag.NewComposer(nil, opts, logger), domain.Absent("llm")
	}
	llm := openai.New(openai.Config{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, ChatModel: cfg.Model})
	return rag.NewComposer(llm, opts, logger), domain.Capability{Name: "llm", Backend: "openai", Available: true}
}

// ingest starts the corpus load consumer when a broker is configured.
func (a *app) ingest(cfg config.NATSConfig, c *corpus.Corpus, reg *metrics.Registry, logger *slog.Logger) domain.Capability {
	if cfg.URL == "" {
		return domain.Absent("ingest")
	}
	capability := domain.Capability{Name: "ingest", Backend: "nats"}
	nc, err := nats.Connect(cfg.URL, nats.Name("thrifter-api"), nats.MaxReconnects(-1))
	if err != nil {
		capability.Reason = err.Error()
		return capability
	}
	sub, err := ingest.New(nc, c, ingest.DefaultOptions(), reg, logger).Start()
	if err != nil {
		nc.Close()
		capability.Reason = err.Error()
		return capability
	}
	a.onClose(func() {
		sub.Unsubscribe()
		nc.Drain()
	})
	capability.Available = true
	return capability
}

// loadSeed reads shops from path, or from the built-in sample when path is empty.
func loadSeed(path string) ([]domain.Shop, error) {
	data := seedShops
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read seed %s: %w", path, err)
		}
		data = b
	}
	var raws []map[string]any
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	shops, err := domain.ShopsFromRaw(raws)
	if err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}
	return shops, nil
}
