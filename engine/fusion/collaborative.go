package fusion

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/WessleyAI/thrifter/engine/corpus"
	"github.com/WessleyAI/thrifter/engine/domain"
)

// MaxNeighbors bounds how many co-favoriting users are considered.
const MaxNeighbors = 50

// Profiles is the read side of the user profile store.
type Profiles interface {
	GetUser(ctx context.Context, id string) (domain.User, error)
	UsersSharingFavorites(ctx context.Context, shopIDs []string, excludeUser string, limit int) ([]domain.User, error)
}

// Collaborative recommends what users with overlapping favorites liked.
type Collaborative struct {
	profiles Profiles
}

// NewCollaborative creates the collaborative strategy.
func NewCollaborative(p Profiles) *Collaborative {
	return &Collaborative{profiles: p}
}

func (*Collaborative) Name() domain.Strategy { return domain.StrategyCollaborative }

// Retrieve scores shops for Request.UserID. An unknown user or one without
// favorites yields nothing.
func (c *Collaborative) Retrieve(ctx context.Context, snap *corpus.Snapshot, req Request) ([]domain.RetrievalResult, error) {
	if c.profiles == nil || req.UserID == "" {
		return nil, nil
	}
	user, err := c.profiles.GetUser(ctx, req.UserID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fusion: collaborative: %w", err)
	}
	if len(user.Favorites) == 0 {
		return nil, nil
	}
	others, err := c.profiles.UsersSharingFavorites(ctx, user.Favorites, user.ID, MaxNeighbors)
	if err != nil {
		return nil, fmt.Errorf("fusion: collaborative: %w", err)
	}

	scores := CoFavoriteScores(user.Favorites, others)
	out := make([]domain.RetrievalResult, 0, len(scores))
	for id, score := range scores {
		shop, ok := snap.Lookup(id)
		if !ok {
			continue
		}
		out = append(out, domain.RetrievalResult{
			Shop:     shop,
			Score:    score,
			Reasons:  []string{"loved by similar thrifters"},
			Strategy: domain.StrategyCollaborative,
		})
	}
	slices.SortFunc(out, func(a, b domain.RetrievalResult) int {
		if d := cmp.Compare(b.Score, a.Score); d != 0 {
			return d
		}
		return cmp.Compare(snap.Ordinal(a.Shop.Key()), snap.Ordinal(b.Shop.Key()))
	})
	return out, nil
}

// CoFavoriteScores weights every shop favorited by a neighbor but not by the
// target with the Jaccard similarity of their favorite sets, summed over
// neighbors. Neighbors with no overlap contribute nothing.
func CoFavoriteScores(target []string, neighbors []domain.User) map[string]float64 {
	mine := make(map[string]struct{}, len(target))
	for _, id := range target {
		mine[id] = struct{}{}
	}
	scores := make(map[string]float64)
	for _, n := range neighbors {
		theirs := n.FavoriteSet()
		inter := 0
		for id := range theirs {
			if _, ok := mine[id]; ok {
				inter++
			}
		}
		if inter == 0 {
			continue
		}
		union := len(mine) + len(theirs) - inter
		sim := float64(inter) / float64(union)
		for id := range theirs {
			if _, ok := mine[id]; !ok {
				scores[id] += sim
			}
		}
	}
	return scores
}
