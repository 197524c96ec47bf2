package explore

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/WessleyAI/thrifter/engine/domain"
	"github.com/WessleyAI/thrifter/engine/fusion"
)

// Section sizes of the explore feed.
const (
	ForYouSize   = 8
	TrendingSize = 8
	SectionSize  = 6
	// FeedStyles is how many of the user's styles get their own section.
	FeedStyles = 2
)

// Section is one titled row of the explore feed.
type Section struct {
	ID       string               `json:"id"`
	Title    string               `json:"title"`
	Subtitle string               `json:"subtitle"`
	Type     string               `json:"type"`
	Items    []domain.FusedResult `json:"items"`
}

// Feed builds the explore page for userID. Sections are computed concurrently
// and returned in a fixed order; empty or failing sections are left out.
// location selects the "popular in" section and defaults to the user's first
// favorite location.
func (s *Service) Feed(ctx context.Context, userID, location string) ([]Section, error) {
	s.count("feed")
	u, known := s.user(ctx, userID)
	if location == "" && len(u.Preferences.FavoriteLocations) > 0 {
		location = u.Preferences.FavoriteLocations[0]
	}

	type builder func(ctx context.Context) (Section, error)
	var builders []builder

	if known {
		builders = append(builders, func(ctx context.Context) (Section, error) {
			return Section{
				ID: "for-you", Title: "For You", Subtitle: "Based on your style preferences", Type: "personalized",
				Items: s.forYou(ctx, u, ForYouSize),
			}, nil
		})
	}
	builders = append(builders, func(context.Context) (Section, error) {
		return Section{
			ID: "trending", Title: "Trending This Week", Subtitle: "Most visited stores", Type: "trending",
			Items: s.Trending(location, TrendingSize),
		}, nil
	})
	if location != "" {
		builders = append(builders, func(context.Context) (Section, error) {
			return Section{
				ID:       "popular-" + location,
				Title:    "Popular in " + domain.LocationLabel(location),
				Subtitle: "Top-rated nearby",
				Type:     "location",
				Items:    s.LocationPopular(location, SectionSize),
			}, nil
		})
	}
	if known {
		styles := u.Preferences.Style
		if len(styles) > FeedStyles {
			styles = styles[:FeedStyles]
		}
		for _, style := range styles {
			builders = append(builders, func(context.Context) (Section, error) {
				return Section{
					ID:       "style-" + style,
					Title:    titleCase(style) + " Picks",
					Subtitle: fmt.Sprintf("Curated for %s lovers", style),
					Type:     "style",
					Items:    s.ByStyle(style, SectionSize),
				}, nil
			})
		}
	}
	builders = append(builders, func(context.Context) (Section, error) {
		return Section{
			ID: "new", Title: "Recently Added", Subtitle: "Fresh finds in our database", Type: "new",
			Items: s.NewStores(SectionSize),
		}, nil
	})
	if known {
		builders = append(builders, func(ctx context.Context) (Section, error) {
			res := s.engine.Run(ctx, s.corpus.Snapshot(), fusion.Request{UserID: u.ID, Limit: SectionSize}, s.collaborative)
			if len(res.Degraded) > 0 {
				return Section{}, fmt.Errorf("explore: similar users: %v degraded", res.Degraded)
			}
			return Section{
				ID: "similar-users", Title: "Thrifters Like You", Subtitle: "Popular with similar users", Type: "collaborative",
				Items: Normalize(res.Results),
			}, nil
		})
	}

	sections := make([]Section, len(builders))
	g, gctx := errgroup.WithContext(ctx)
	for i, build := range builders {
		g.Go(func() error {
			sec, err := build(gctx)
			if err != nil {
				s.logger.Warn("feed section dropped", "user", userID, "error", err)
				return nil
			}
			sections[i] = sec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("explore: feed: %w", err)
	}

	out := make([]Section, 0, len(sections))
	for _, sec := range sections {
		if len(sec.Items) > 0 {
			out = append(out, sec)
		}
	}
	return out, nil
}

// titleCase upper-cases the first letter of each dash or space separated word.
func titleCase(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == '-' })
	for i, w := range words {
		r, n := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[n:]
	}
	return strings.Join(words, " ")
}
