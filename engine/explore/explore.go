// Package explore serves recommendations and the browse feed. Personalized
// lists rank through the fusion engine; scores are divided by the top score
// of the list so the best result is always 1.
package explore

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/WessleyAI/thrifter/engine/corpus"
	"github.com/WessleyAI/thrifter/engine/domain"
	"github.com/WessleyAI/thrifter/engine/fusion"
	"github.com/WessleyAI/thrifter/engine/preference"
	"github.com/WessleyAI/thrifter/pkg/metrics"
)

// DefaultLimit applies to every list when the caller passes none.
const DefaultLimit = 10

// Service computes recommendation lists over the current corpus snapshot.
type Service struct {
	corpus   *corpus.Corpus
	engine   *fusion.Engine
	profiles fusion.Profiles
	now      func() time.Time
	reg      *metrics.Registry
	logger   *slog.Logger

	preference    *fusion.Preference
	popularity    *fusion.Popularity
	collaborative *fusion.Collaborative
}

// Options configures a Service.
type Options struct {
	// Now overrides the clock used for recency. Defaults to time.Now.
	Now func() time.Time
}

// New creates a Service. profiles may be nil, which disables personalization.
func New(c *corpus.Corpus, engine *fusion.Engine, profiles fusion.Profiles, opts Options, reg *metrics.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		corpus:        c,
		engine:        engine,
		profiles:      profiles,
		now:           opts.Now,
		reg:           reg,
		logger:        logger.With("component", "explore"),
		preference:    fusion.NewPreference(preference.New()),
		popularity:    fusion.NewPopularity(opts.Now),
		collaborative: fusion.NewCollaborative(profiles),
	}
}

func limitOr(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, domain.MaxLimit)
}

func (s *Service) count(endpoint string) {
	s.reg.Counter(metrics.WithLabels("thrifter_queries_total", "endpoint", endpoint), "Queries served").Inc()
}

// user looks up a profile. A missing store, an unknown id and a store error
// all mean no personalization.
func (s *Service) user(ctx context.Context, id string) (domain.User, bool) {
	if s.profiles == nil || id == "" {
		return domain.User{}, false
	}
	u, err := s.profiles.GetUser(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			s.logger.Warn("profile lookup failed", "user", id, "error", err)
		}
		return domain.User{}, false
	}
	return u, true
}

// Recommend ranks shops for a user by preference and popularity, excluding
// shops the user already favorited. Users without preferences get the most
// popular shops.
func (s *Service) Recommend(ctx context.Context, userID string, limit int) []domain.FusedResult {
	s.count("recommend")
	limit = limitOr(limit)
	snap := s.corpus.Snapshot()

	u, ok := s.user(ctx, userID)
	if !ok || u.Preferences.Empty() {
		return Normalize(popular(snap, u.FavoriteSet(), limit))
	}
	res := s.engine.Run(ctx, snap, fusion.Request{
		UserID:      u.ID,
		Preferences: u.Preferences,
		Limit:       limit,
		Exclude:     u.FavoriteSet(),
	}, s.preference, s.popularity)
	if len(res.Results) == 0 {
		return Normalize(popular(snap, u.FavoriteSet(), limit))
	}
	return Normalize(res.Results)
}

// Collaborative recommends shops favorited by users whose favorites overlap
// with userID's.
func (s *Service) Collaborative(ctx context.Context, userID string, limit int) []domain.FusedResult {
	s.count("collaborative")
	res := s.engine.Run(ctx, s.corpus.Snapshot(), fusion.Request{
		UserID: userID,
		Limit:  limitOr(limit),
	}, s.collaborative)
	return Normalize(res.Results)
}

// forYou blends preference, collaborative and popularity signals.
func (s *Service) forYou(ctx context.Context, u domain.User, limit int) []domain.FusedResult {
	res := s.engine.Run(ctx, s.corpus.Snapshot(), fusion.Request{
		UserID:      u.ID,
		Preferences: u.Preferences,
		Limit:       limit,
		Exclude:     u.FavoriteSet(),
	}, s.preference, s.collaborative, s.popularity)
	return Normalize(res.Results)
}

// Trending ranks shops by engagement, optionally within one location. Scores
// are the raw trending score.
func (s *Service) Trending(location string, limit int) []domain.FusedResult {
	s.count("trending")
	limit = limitOr(limit)
	now := s.now()
	out := []domain.FusedResult{}
	for _, shop := range fusion.Trending(s.corpus.Snapshot().Shops, now) {
		if location != "" && shop.Location.ID != location {
			continue
		}
		out = append(out, domain.FusedResult{
			Shop:     shop,
			Score:    shop.TrendingScore(now),
			Reasons:  []string{"trending this week"},
			Strategy: domain.StrategyPopularity,
		})
		if len(out) == limit {
			break
		}
	}
	return out
}

// ByStyle lists shops whose tag or description mention the style or one of
// its synonyms, best rated first.
func (s *Service) ByStyle(style string, limit int) []domain.FusedResult {
	s.count("style")
	style = strings.ToLower(strings.TrimSpace(style))
	if style == "" {
		return []domain.FusedResult{}
	}
	keywords := preference.BrowseKeywords(style)
	snap := s.corpus.Snapshot()
	var matched []*domain.Shop
	for i := range snap.Shops {
		if preference.MatchesAny(&snap.Shops[i], keywords) {
			matched = append(matched, &snap.Shops[i])
		}
	}
	slices.SortStableFunc(matched, func(a, b *domain.Shop) int {
		return cmp.Compare(b.RatingOr(0), a.RatingOr(0))
	})
	return rank(matched, limitOr(limit), func(sh *domain.Shop) float64 { return sh.RatingOr(0) },
		"curated for "+style+" lovers", domain.StrategyPreference)
}

// NewStores lists shops created within domain.RecentWindow, newest first.
func (s *Service) NewStores(limit int) []domain.FusedResult {
	s.count("new")
	now := s.now()
	snap := s.corpus.Snapshot()
	var recent []*domain.Shop
	for i := range snap.Shops {
		if snap.Shops[i].CreatedWithin(now, domain.RecentWindow) {
			recent = append(recent, &snap.Shops[i])
		}
	}
	slices.SortStableFunc(recent, func(a, b *domain.Shop) int {
		return b.CreatedAt.Compare(*a.CreatedAt)
	})
	age := func(sh *domain.Shop) float64 {
		return 1 - float64(now.Sub(*sh.CreatedAt))/float64(domain.RecentWindow)
	}
	return rank(recent, limitOr(limit), age, "recently added", domain.StrategyPopularity)
}

// LocationScore ranks shops within one location.
func LocationScore(sh *domain.Shop) float64 {
	return sh.RatingOr(0)*2 + float64(sh.Reviews())*0.01
}

// LocationPopular lists the shops of one location by LocationScore.
func (s *Service) LocationPopular(location string, limit int) []domain.FusedResult {
	s.count("location")
	snap := s.corpus.Snapshot()
	var here []*domain.Shop
	for i := range snap.Shops {
		if snap.Shops[i].Location.ID == location {
			here = append(here, &snap.Shops[i])
		}
	}
	slices.SortStableFunc(here, func(a, b *domain.Shop) int {
		return cmp.Compare(LocationScore(b), LocationScore(a))
	})
	return rank(here, limitOr(limit), LocationScore, "top-rated nearby", domain.StrategyPopularity)
}

// popular orders shops by rating then review count, skipping exclude.
func popular(snap *corpus.Snapshot, exclude map[string]struct{}, limit int) []domain.FusedResult {
	var shops []*domain.Shop
	for i := range snap.Shops {
		if _, skip := exclude[snap.Shops[i].Key()]; !skip {
			shops = append(shops, &snap.Shops[i])
		}
	}
	slices.SortStableFunc(shops, func(a, b *domain.Shop) int {
		if c := cmp.Compare(b.RatingOr(0), a.RatingOr(0)); c != 0 {
			return c
		}
		return cmp.Compare(b.Reviews(), a.Reviews())
	})
	return rank(shops, limit, func(sh *domain.Shop) float64 { return sh.RatingOr(0) },
		"popular with thrifters", domain.StrategyPopularity)
}

func rank(shops []*domain.Shop, limit int, score func(*domain.Shop) float64, reason string, kind domain.Strategy) []domain.FusedResult {
	if len(shops) > limit {
		shops = shops[:limit]
	}
	out := make([]domain.FusedResult, len(shops))
	for i, sh := range shops {
		out[i] = domain.FusedResult{
			Shop:     sh,
			Score:    score(sh),
			Reasons:  []string{reason},
			Strategy: kind,
		}
	}
	return out
}

// Normalize divides every score by the largest one, mapping a list with a
// positive maximum onto (0,1] with the top result at exactly 1. Lists whose
// maximum is not positive are returned unchanged. The input order is kept.
func Normalize(results []domain.FusedResult) []domain.FusedResult {
	if results == nil {
		return []domain.FusedResult{}
	}
	top := 0.0
	for _, r := range results {
		top = max(top, r.Score)
	}
	if top <= 0 {
		return results
	}
	for i := range results {
		results[i].Score /= top
	}
	return results
}
