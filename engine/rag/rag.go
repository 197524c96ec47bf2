// Package rag answers natural-language questions about shops. A question is
// analyzed into intent and facets, shops are retrieved through the fusion
// engine, and an answer is composed from the ranked shops.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/WessleyAI/thrifter/engine/corpus"
	"github.com/WessleyAI/thrifter/engine/domain"
	"github.com/WessleyAI/thrifter/engine/embed"
	"github.com/WessleyAI/thrifter/engine/fusion"
	"github.com/WessleyAI/thrifter/pkg/metrics"
)

const (
	// MinQuestionLength and MaxQuestionLength bound questions, in runes.
	MinQuestionLength = 3
	MaxQuestionLength = 500
	// DefaultTopK is the number of shops retrieved when the caller passes none.
	DefaultTopK = 5
	MaxTopK     = 10
)

// Request is one question.
type Request struct {
	Question string `json:"question"`
	UserID   string `json:"user_id,omitempty"`
	TopK     int    `json:"top_k"`
}

// Answer is the response to a question. Sources are the shops the answer
// was composed from, best first.
type Answer struct {
	Answer     string            `json:"answer"`
	Sources    []*domain.Shop    `json:"sources"`
	Confidence float64           `json:"confidence"`
	Analysis   Analysis          `json:"analysis"`
	Degraded   []domain.Strategy `json:"degraded,omitempty"`
}

// Service is the assistant.
type Service struct {
	corpus   *corpus.Corpus
	engine   *fusion.Engine
	profiles fusion.Profiles
	composer *Composer
	reg      *metrics.Registry
	logger   *slog.Logger

	semantic   *fusion.Semantic
	preference *fusion.Preference
}

// New creates a Service. encoder, profiles and composer may be nil.
func New(c *corpus.Corpus, engine *fusion.Engine, encoder *embed.Encoder, profiles fusion.Profiles, composer *Composer, reg *metrics.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	if composer == nil {
		composer = NewComposer(nil, ComposerOptions{}, logger)
	}
	s := &Service{
		corpus:     c,
		engine:     engine,
		profiles:   profiles,
		composer:   composer,
		reg:        reg,
		logger:     logger.With("component", "rag"),
		preference: fusion.NewPreference(nil),
	}
	if encoder != nil {
		s.semantic = fusion.NewSemantic(encoder)
	}
	return s
}

// Validate checks a request and applies the TopK default.
func Validate(req Request) (Request, error) {
	req.Question = strings.TrimSpace(req.Question)
	n := utf8.RuneCountInString(req.Question)
	if n < MinQuestionLength {
		return req, domain.NewValidationError("question", req.Question, domain.ErrInvalidQuery)
	}
	if n > MaxQuestionLength {
		return req, domain.NewValidationError("question", string([]rune(req.Question)[:32])+"...", domain.ErrQueryTooLong)
	}
	if req.TopK == 0 {
		req.TopK = DefaultTopK
	}
	if req.TopK < 1 || req.TopK > MaxTopK {
		return req, domain.NewValidationError("top_k", fmt.Sprint(req.TopK), domain.ErrInvalidLimit)
	}
	return req, nil
}

// Query answers a question. Only invalid input is an error; failed
// strategies, a missing model and an empty corpus all still produce an answer.
func (s *Service) Query(ctx context.Context, req Request) (Answer, error) {
	req, err := Validate(req)
	if err != nil {
		return Answer{}, err
	}
	s.reg.Counter(metrics.WithLabels("thrifter_queries_total", "endpoint", "rag"), "Queries served").Inc()

	a := Analyze(req.Question)
	prefs := s.preferences(ctx, req.UserID)

	strategies := []fusion.Strategy{analysisStrategy(a)}
	if s.semantic != nil && s.corpus.Semantic() {
		strategies = append(strategies, s.semantic)
	}
	if !prefs.Empty() {
		strategies = append(strategies, s.preference)
	}
	res := s.engine.Run(ctx, s.corpus.Snapshot(), fusion.Request{
		Query:       req.Question,
		Limit:       req.TopK,
		UserID:      req.UserID,
		Preferences: prefs,
	}, strategies...)

	sources := make([]*domain.Shop, len(res.Results))
	for i, r := range res.Results {
		sources[i] = r.Shop
	}
	s.logger.Debug("rag query", "intent", a.Intent, "results", len(res.Results), "degraded", res.Degraded)
	return Answer{
		Answer:  s.composer.Compose(ctx, req.Question, res.Results, a, prefs),
		Sources: sources,
		Confidence: fusion.Confidence(res.Results, fusion.Facets{
			Location: len(a.Locations) > 0,
			Style:    len(a.Styles) > 0,
			ItemType: len(a.ItemTypes) > 0,
		}),
		Analysis: a,
		Degraded: res.Degraded,
	}, nil
}

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
