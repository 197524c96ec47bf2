package domain

// Budget is the user's spending ceiling. Zero means unset.
type Budget struct {
	Max float64 `json:"max,omitempty"`
}

// Preferences is a structured user taste profile.
type Preferences struct {
	FavoriteLocations  []string `json:"favoriteLocations,omitempty"`
	Style              []string `json:"style,omitempty"`
	FavoriteCategories []string `json:"favoriteCategories,omitempty"`
	Budget             Budget   `json:"budget"`
}

// Empty reports whether the profile carries no signal.
func (p Preferences) Empty() bool {
	return len(p.FavoriteLocations) == 0 && len(p.Style) == 0 &&
		len(p.FavoriteCategories) == 0 && p.Budget.Max == 0
}

// User is a read-only view of a user profile.
type User struct {
	ID          string      `json:"id"`
	Favorites   []string    `json:"favorites,omitempty"`
	Preferences Preferences `json:"preferences"`
}

// FavoriteSet returns the favorites as a set.
func (u User) FavoriteSet() map[string]struct{} {
	set := make(map[string]struct{}, len(u.Favorites))
	for _, id := range u.Favorites {
		set[id] = struct{}{}
	}
	return set
}
