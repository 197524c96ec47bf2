// Package profile stores user profiles and their favorite shops.
package profile

import (
	"context"
	"slices"
	"sync"

	"github.com/WessleyAI/thrifter/engine/domain"
)

// DefaultNeighbors bounds UsersSharingFavorites when limit is not positive.
const DefaultNeighbors = 50

// Store is a user profile store. GetUser returns domain.ErrUserNotFound for
// unknown ids.
type Store interface {
	GetUser(ctx context.Context, id string) (domain.User, error)
	UsersSharingFavorites(ctx context.Context, shopIDs []string, excludeUser string, limit int) ([]domain.User, error)
	SaveUser(ctx context.Context, u domain.User) error
	DeleteUser(ctx context.Context, id string) error
}

// MemoryStore keeps profiles in process. It is the default when no graph
// database is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]domain.User
}

// NewMemory creates a MemoryStore holding users.
func NewMemory(users ...domain.User) *MemoryStore {
	m := &MemoryStore{users: make(map[string]domain.User, len(users))}
	for _, u := range users {
		m.users[u.ID] = clone(u)
	}
	return m
}

func (m *MemoryStore) GetUser(_ context.Context, id string) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return clone(u), nil
}

// UsersSharingFavorites returns users, ordered by id, who favorited at least
// one of shopIDs.
func (m *MemoryStore) UsersSharingFavorites(_ context.Context, shopIDs []string, excludeUser string, limit int) ([]domain.User, error) {
	if len(shopIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultNeighbors
	}
	want := make(map[string]struct{}, len(shopIDs))
	for _, id := range shopIDs {
		want[id] = struct{}{}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.users))
	for id := range m.users {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var out []domain.User
	for _, id := range ids {
		if id == excludeUser {
			continue
		}
		u := m.users[id]
		if slices.ContainsFunc(u.Favorites, func(f string) bool { _, ok := want[f]; return ok }) {
			out = append(out, clone(u))
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) SaveUser(_ context.Context, u domain.User) error {
	if u.ID == "" {
		return domain.NewValidationError("id", "", domain.ErrInvalidUser)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = clone(u)
	return nil
}

func (m *MemoryStore) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	return nil
}

func clone(u domain.User) domain.User {
	u.Favorites = slices.Clone(u.Favorites)
	p := &u.Preferences
	p.FavoriteLocations = slices.Clone(p.FavoriteLocations)
	p.Style = slices.Clone(p.Style)
	p.FavoriteCategories = slices.Clone(p.FavoriteCategories)
	return u
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*GraphStore)(nil)
)
