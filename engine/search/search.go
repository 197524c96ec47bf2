// Package search serves free-text, image and autocomplete queries over the
// current corpus snapshot.
package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/WessleyAI/thrifter/engine/corpus"
	"github.com/WessleyAI/thrifter/engine/domain"
	"github.com/WessleyAI/thrifter/engine/embed"
	"github.com/WessleyAI/thrifter/engine/fusion"
	"github.com/WessleyAI/thrifter/engine/keyword"
	"github.com/WessleyAI/thrifter/pkg/metrics"
)

// Request is a free-text search.
type Request struct {
	Query          string         `json:"query"`
	Filters        domain.Filters `json:"filters"`
	Limit          int            `json:"limit"`
	EnableSemantic bool           `json:"use_semantic"`
	EnableKeyword  bool           `json:"use_keyword"`
	UserID         string         `json:"user_id,omitempty"`
}

// Response is a ranked result list with the conditions it was produced under.
type Response struct {
	Query    string               `json:"query"`
	Total    int                  `json:"total"`
	Results  []domain.FusedResult `json:"results"`
	Semantic bool                 `json:"semantic"`
	Degraded []domain.Strategy    `json:"degraded,omitempty"`
	TookMs   int64                `json:"took_ms"`
}

// Service answers search queries. Build one per process.
type Service struct {
	corpus   *corpus.Corpus
	engine   *fusion.Engine
	encoder  *embed.Encoder
	profiles fusion.Profiles
	caps     []domain.Capability
	logger   *slog.Logger
	reg      *metrics.Registry

	semantic   *fusion.Semantic
	keyword    *fusion.Keyword
	preference *fusion.Preference
}

// New creates a Service. encoder and profiles may be nil. caps are the
// startup probe results reported by Ready.
func New(c *corpus.Corpus, engine *fusion.Engine, encoder *embed.Encoder, profiles fusion.Profiles, caps []domain.Capability, reg *metrics.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	s := &Service{
		corpus:     c,
		engine:     engine,
		encoder:    encoder,
		profiles:   profiles,
		caps:       caps,
		logger:     logger.With("component", "search"),
		reg:        reg,
		keyword:    fusion.NewKeyword(keyword.New()),
		preference: fusion.NewPreference(nil),
	}
	if encoder != nil {
		s.semantic = fusion.NewSemantic(encoder)
	}
	return s
}

// SemanticAvailable reports whether semantic retrieval is configured.
func (s *Service) SemanticAvailable() bool {
	return s.semantic != nil && s.corpus.Semantic()
}

// Search validates req and runs the enabled strategies through fusion.
// Invalid input is rejected before any strategy runs; strategy failures only
// degrade the result.
func (s *Service) Search(ctx context.Context, req Request) (Response, error) {
	q, err := domain.ValidateQuery(req.Query)
	if err != nil {
		return Response{}, err
	}
	limit, err := domain.NormalizeLimit(req.Limit)
	if err != nil {
		return Response{}, err
	}
	if err := domain.ValidateFilters(req.Filters); err != nil {
		return Response{}, err
	}

	var strategies []fusion.Strategy
	if req.EnableSemantic && s.SemanticAvailable() {
		strategies = append(strategies, s.semantic)
	}
	if req.EnableKeyword {
		strategies = append(strategies, s.keyword)
	}
	prefs := s.preferences(ctx, req.UserID)
	if !prefs.Empty() {
		strategies = append(strategies, s.preference)
	}

	res := s.engine.Run(ctx, s.corpus.Snapshot(), fusion.Request{
		Query:       q,
		Filters:     req.Filters,
		Limit:       limit,
		UserID:      req.UserID,
		Preferences: prefs,
	}, strategies...)

	s.reg.Counter(metrics.WithLabels("thrifter_queries_total", "endpoint", "search"), "Queries served").Inc()
	return Response{
		Query:    q,
		Total:    len(res.Results),
		Results:  orEmpty(res.Results),
		Semantic: res.Contributed(domain.StrategySemantic),
		Degraded: res.Degraded,
		TookMs:   res.Took.Milliseconds(),
	}, nil
}

// preferences looks up a user's profile. Any failure means no personalization.
func (s *Service) preferences(ctx context.Context, userID string) domain.Preferences {
	if userID == "" || s.profiles == nil {
		return domain.Preferences{}
	}
	u, err := s.profiles.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			s.logger.Warn("profile lookup failed", "user", userID, "error", err)
		}
		return domain.Preferences{}
	}
	return u.Preferences
}

// ImageResponse is the result of an image search.
type ImageResponse struct {
	Total    int                  `json:"total"`
	Results  []domain.FusedResult `json:"results"`
	Fallback bool                 `json:"fallback"`
}

// FallbackSimilarity is the score given to shops returned without image encoding.
const FallbackSimilarity = 0.5

// SearchByImage ranks shops by visual similarity to img. Without an image
// encoder, or when encoding fails, it returns the first shops of the corpus
// with FallbackSimilarity.
func (s *Service) SearchByImage(ctx context.Context, img []byte, limit int) (ImageResponse, error) {
	if len(img) == 0 {
		return ImageResponse{}, domain.NewValidationError("file", "", domain.ErrImageRequired)
	}
	limit, err := domain.NormalizeLimit(limit)
	if err != nil {
		return ImageResponse{}, err
	}
	s.reg.Counter(metrics.WithLabels("thrifter_queries_total", "endpoint", "image"), "Queries served").Inc()
	snap := s.corpus.Snapshot()

	if s.encoder.SupportsImages() && s.SemanticAvailable() {
		vec, err := s.encoder.EncodeImage(ctx, img)
		if err == nil {
			res := s.engine.Run(ctx, snap, fusion.Request{Vector: vec, Limit: limit}, s.semantic)
			if res.Contributed(domain.StrategySemantic) {
				return ImageResponse{Total: len(res.Results), Results: orEmpty(res.Results)}, nil
			}
		} else {
			s.logger.Warn("image encoding failed, serving fallback", "error", err)
		}
	}

	n := min(limit, snap.Len())
	out := make([]domain.FusedResult, n)
	for i := 0; i < n; i++ {
		out[i] = domain.FusedResult{
			Shop:     &snap.Shops[i],
			Score:    FallbackSimilarity,
			Strategy: domain.StrategyFallback,
		}
	}
	return ImageResponse{Total: n, Results: out, Fallback: true}, nil
}

// Stats describes the serving state.
type Stats struct {
	Version        uint64    `json:"version"`
	TotalShops     int       `json:"total_shops"`
	Indexed        int       `json:"indexed"`
	IndexBackend   string    `json:"index_backend"`
	EmbedBackend   string    `json:"embedding_backend"`
	EmbeddingModel string    `json:"embedding_model,omitempty"`
	Dimension      int       `json:"dimension"`
	LoadedAt       time.Time `json:"loaded_at"`
	IndexError     string    `json:"index_error,omitempty"`
}

// Stats reports the current snapshot and backends.
func (s *Service) Stats() Stats {
	snap := s.corpus.Snapshot()
	st := Stats{
		Version:        snap.Version,
		TotalShops:     snap.Len(),
		Indexed:        snap.Indexed(),
		IndexBackend:   s.corpus.IndexBackend(),
		EmbedBackend:   s.encoder.Backend(),
		EmbeddingModel: s.encoder.Model(),
		Dimension:      s.encoder.Dims(),
		LoadedAt:       snap.LoadedAt,
	}
	if snap.IndexErr != nil {
		st.IndexError = snap.IndexErr.Error()
	}
	return st
}

// Readiness is the per-capability serving state.
type Readiness struct {
	Keyword      bool                `json:"keyword"`
	Semantic     bool                `json:"semantic"`
	Image        bool                `json:"image_search"`
	Capabilities []domain.Capability `json:"capabilities"`
}

// Ready reports what the service can do right now. Keyword search is always
// available; semantic needs a configured encoder, index and a built view.
func (s *Service) Ready() Readiness {
	snap := s.corpus.Snapshot()
	semantic := s.SemanticAvailable() && (snap.Len() == 0 || snap.View != nil)
	return Readiness{
		Keyword:      true,
		Semantic:     semantic,
		Image:        semantic && s.encoder.SupportsImages(),
		Capabilities: s.caps,
	}
}

func orEmpty(r []domain.FusedResult) []domain.FusedResult {
	if r == nil {
		return []domain.FusedResult{}
	}
	return r
}

// Suggestion is one autocomplete entry.
type Suggestion struct {
	Type   string          `json:"type"`
	Text   string          `json:"text"`
	Shop   *domain.Shop    `json:"shop,omitempty"`
	Filter *domain.Filters `json:"filter,omitempty"`
}

// DefaultSuggestLimit is used when Suggest gets no limit.
const DefaultSuggestLimit = 8

var (
	suggestLocations = []string{
		"HSR Layout", "Koramangala", "Jayanagar", "Indiranagar",
		"Commercial Street", "Whitefield", "JP Nagar", "BTM Layout",
	}
	suggestTags = []string{
		"vintage", "surplus", "thrift", "budget", "premium",
		"streetwear", "denim", "winter wear", "ethnic",
	}
)

// Suggest returns store names, locations and tags starting with prefix, in
// that order. An empty prefix suggests nothing.
func (s *Service) Suggest(prefix string, limit int) []Suggestion {
	p := strings.ToLower(strings.TrimSpace(prefix))
	if p == "" {
		return []Suggestion{}
	}
	if limit <= 0 {
		limit = DefaultSuggestLimit
	}
	s.reg.Counter(metrics.WithLabels("thrifter_queries_total", "endpoint", "suggest"), "Queries served").Inc()

	out := []Suggestion{}
	snap := s.corpus.Snapshot()
	for i := range snap.Shops {
		if len(out) == limit {
			return out
		}
		shop := &snap.Shops[i]
		if strings.HasPrefix(strings.ToLower(shop.Name), p) {
			out = append(out, Suggestion{Type: "store", Text: shop.Name, Shop: shop})
		}
	}
	for _, loc := range suggestLocations {
		if len(out) == limit {
			return out
		}
		l := strings.ToLower(loc)
		if strings.HasPrefix(l, p) {
			out = append(out, Suggestion{
				Type:   "location",
				Text:   "in " + loc,
				Filter: &domain.Filters{Location: strings.ReplaceAll(l, " ", "-")},
			})
		}
	}
	for _, tag := range suggestTags {
		if len(out) == limit {
			return out
		}
		if strings.HasPrefix(tag, p) {
			out = append(out, Suggestion{Type: "tag", Text: tag, Filter: &domain.Filters{Tags: []string{tag}}})
		}
	}
	return out
}
