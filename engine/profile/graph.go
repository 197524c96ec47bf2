package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/WessleyAI/thrifter/engine/domain"
	"github.com/WessleyAI/thrifter/pkg/repo"
)

// GraphStore keeps users as (:User) nodes with preference properties and
// favorites as (:User)-[:FAVORITED]->(:Shop) relationships.
type GraphStore struct {
	driver neo4j.DriverWithContext
	users  *repo.Neo4jRepo[domain.User, string]
	logger *slog.Logger
}

// NewGraph creates a GraphStore on driver.
func NewGraph(driver neo4j.DriverWithContext, logger *slog.Logger) *GraphStore {
	return newGraph(driver, logger)
}

func newGraph(driver neo4j.DriverWithContext, logger *slog.Logger, opts ...repo.Neo4jOption[domain.User, string]) *GraphStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphStore{
		driver: driver,
		users:  repo.NewNeo4jRepo[domain.User, string](driver, "User", userToMap, userFromRecord, opts...),
		logger: logger.With("component", "profile.graph"),
	}
}

// Probe checks connectivity and ensures the user id constraint exists.
func (g *GraphStore) Probe(ctx context.Context) domain.Capability {
	c := domain.Capability{Name: "profiles", Backend: "neo4j"}
	if err := g.driver.VerifyConnectivity(ctx); err != nil {
		c.Reason = err.Error()
		g.logger.Warn("neo4j unreachable, personalization disabled", "error", err)
		return c
	}
	if err := g.users.Exec(ctx, "CREATE CONSTRAINT user_id IF NOT EXISTS FOR (u:User) REQUIRE u.id IS UNIQUE", nil); err != nil {
		g.logger.Warn("ensure user constraint", "error", err)
	}
	c.Available = true
	return c
}

const getUser = `MATCH (n:User {id: $id})
OPTIONAL MATCH (n)-[:FAVORITED]->(s:Shop)
RETURN n, collect(s.id) AS favorites`

func (g *GraphStore) GetUser(ctx context.Context, id string) (domain.User, error) {
	users, err := g.users.Query(ctx, getUser, map[string]any{"id": id})
	if err != nil {
		return domain.User{}, fmt.Errorf("profile: get user %s: %w", id, err)
	}
	if len(users) == 0 {
		return domain.User{}, domain.ErrUserNotFound
	}
	return users[0], nil
}

const sharingFavorites = `MATCH (n:User)-[:FAVORITED]->(s:Shop)
WHERE s.id IN $shops AND n.id <> $exclude
WITH DISTINCT n
MATCH (n)-[:FAVORITED]->(f:Shop)
WITH n, collect(f.id) AS favorites
RETURN n, favorites
ORDER BY n.id
LIMIT $limit`

func (g *GraphStore) UsersSharingFavorites(ctx context.Context, shopIDs []string, excludeUser string, limit int) ([]domain.User, error) {
	if len(shopIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultNeighbors
	}
	users, err := g.users.Query(ctx, sharingFavorites, map[string]any{
		"shops":   shopIDs,
		"exclude": excludeUser,
		"limit":   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("profile: users sharing favorites: %w", err)
	}
	return users, nil
}

const replaceFavorites = `MATCH (n:User {id: $id})
OPTIONAL MATCH (n)-[r:FAVORITED]->()
DELETE r
WITH DISTINCT n
UNWIND $favorites AS fid
MERGE (s:Shop {id: fid})
MERGE (n)-[:FAVORITED]->(s)`

// SaveUser upserts the user node and replaces its favorites.
func (g *GraphStore) SaveUser(ctx context.Context, u domain.User) error {
	if u.ID == "" {
		return domain.NewValidationError("id", "", domain.ErrInvalidUser)
	}
	if err := g.users.Upsert(ctx, u); err != nil {
		return fmt.Errorf("profile: save user %s: %w", u.ID, err)
	}
	favorites := u.Favorites
	if favorites == nil {
		favorites = []string{}
	}
	if err := g.users.Exec(ctx, replaceFavorites, map[string]any{"id": u.ID, "favorites": favorites}); err != nil {
		return fmt.Errorf("profile: save favorites of %s: %w", u.ID, err)
	}
	return nil
}

func (g *GraphStore) DeleteUser(ctx context.Context, id string) error {
	if err := g.users.Delete(ctx, id); err != nil {
		return fmt.Errorf("profile: delete user %s: %w", id, err)
	}
	return nil
}

func userToMap(u domain.User) map[string]any {
	p := u.Preferences
	return map[string]any{
		"id":                 u.ID,
		"favoriteLocations":  orEmpty(p.FavoriteLocations),
		"style":              orEmpty(p.Style),
		"favoriteCategories": orEmpty(p.FavoriteCategories),
		"budgetMax":          p.Budget.Max,
	}
}

func userFromRecord(rec *neo4j.Record) (domain.User, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return domain.User{}, err
	}
	props := node.Props
	id, _ := props["id"].(string)
	if id == "" {
		return domain.User{}, errors.New("user node without id")
	}
	u := domain.User{
		ID: id,
		Preferences: domain.Preferences{
			FavoriteLocations:  stringList(props["favoriteLocations"]),
			Style:              stringList(props["style"]),
			FavoriteCategories: stringList(props["favoriteCategories"]),
		},
	}
	switch b := props["budgetMax"].(type) {
	case float64:
		u.Preferences.Budget.Max = b
	case int64:
		u.Preferences.Budget.Max = float64(b)
	}
	if fav, ok := rec.Get("favorites"); ok {
		u.Favorites = stringList(fav)
	}
	return u, nil
}

func stringList(v any) []string {
	list, ok := v.([]any)
	if !ok {
		if s, ok := v.([]string); ok {
			return s
		}
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
