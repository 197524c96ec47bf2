package semantic

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/WessleyAI/thrifter/engine/embed"
)

// LocalIndex is an exact brute-force inner product index held in memory.
type LocalIndex struct{}

// NewLocal creates a LocalIndex.
func NewLocal() *LocalIndex { return &LocalIndex{} }

// Backend implements Index.
func (*LocalIndex) Backend() string { return "local" }

// Rebuild copies the vectors into a fresh row-major matrix.
func (*LocalIndex) Rebuild(ctx context.Context, ids []string, vectors [][]float32) (View, error) {
	dims, err := checkBuild(ids, vectors)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return emptyView{}, nil
	}
	v := &localView{
		ids:  slices.Clone(ids),
		dims: dims,
		data: make([]float32, 0, len(ids)*dims),
	}
	for _, vec := range vectors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v.data = append(v.data, vec...)
	}
	return v, nil
}

type localView struct {
	ids  []string
	dims int
	data []float32
}

func (v *localView) Len() int { return len(v.ids) }

func (v *localView) Query(_ context.Context, vector []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(vector) != v.dims {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimension, len(vector), v.dims)
	}
	k = min(k, len(v.ids))

	type scored struct {
		ord   int
		score float32
	}
	all := make([]scored, len(v.ids))
	for i := range v.ids {
		row := v.data[i*v.dims : (i+1)*v.dims]
		all[i] = scored{ord: i, score: embed.Dot(row, vector)}
	}
	slices.SortFunc(all, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.ord, b.ord)
	})

	hits := make([]Hit, k)
	for i := 0; i < k; i++ {
		hits[i] = Hit{ID: v.ids[all[i].ord], Score: all[i].score}
	}
	return hits, nil
}
