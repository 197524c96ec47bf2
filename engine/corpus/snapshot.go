package corpus

import (
	"time"

	"github.com/WessleyAI/thrifter/engine/domain"
	"github.com/WessleyAI/thrifter/engine/semantic"
)

// Snapshot is one immutable corpus generation and the semantic view built
// from exactly these shops.
type Snapshot struct {
	Version  uint64
	Shops    []domain.Shop
	LoadedAt time.Time
	// View is nil when semantic retrieval is unavailable for this generation.
	View semantic.View
	// IndexErr is why View is nil despite semantic retrieval being configured.
	IndexErr error

	byKey map[string]int
}

func newSnapshot(version uint64, shops []domain.Shop, view semantic.View, indexErr error, at time.Time) *Snapshot {
	s := &Snapshot{
		Version:  version,
		Shops:    shops,
		LoadedAt: at,
		View:     view,
		IndexErr: indexErr,
		byKey:    make(map[string]int, len(shops)),
	}
	for i := range shops {
		s.byKey[shops[i].Key()] = i
	}
	return s
}

// Len is the number of shops.
func (s *Snapshot) Len() int { return len(s.Shops) }

// Indexed is the number of shops in the semantic view.
func (s *Snapshot) Indexed() int {
	if s.View == nil {
		return 0
	}
	return s.View.Len()
}

// Lookup finds a shop by identity.
func (s *Snapshot) Lookup(key string) (*domain.Shop, bool) {
	i, ok := s.byKey[key]
	if !ok {
		return nil, false
	}
	return &s.Shops[i], true
}

// Ordinal is the shop's position in the corpus, or Len() when absent.
func (s *Snapshot) Ordinal(key string) int {
	if i, ok := s.byKey[key]; ok {
		return i
	}
	return len(s.Shops)
}
