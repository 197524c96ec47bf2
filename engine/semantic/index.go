// Package semantic provides the vector index behind semantic retrieval.
// Two interchangeable backends exist: an in-process exact index and a Qdrant
// collection per build generation. Both rank by inner product over unit
// vectors and break ties by insertion order.
package semantic

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrLengthMismatch means ids and vectors differ in count.
	ErrLengthMismatch = errors.New("semantic: ids and vectors differ in length")
	// ErrDimension means a vector does not match the index dimension.
	ErrDimension = errors.New("semantic: vector dimension mismatch")
)

// Hit is one query match.
type Hit struct {
	ID    string  `json:"id"`
	Score float32 `json:"score"`
}

// View is an immutable, queryable result of one Rebuild.
type View interface {
	// Query returns up to k hits ordered by descending score, ties by insertion order.
	Query(ctx context.Context, vector []float32, k int) ([]Hit, error)
	// Len is the number of indexed vectors.
	Len() int
}

// Index builds views. A new view never disturbs views handed out earlier.
type Index interface {
	Backend() string
	Rebuild(ctx context.Context, ids []string, vectors [][]float32) (View, error)
}

// checkBuild validates rebuild input and returns the common dimension.
func checkBuild(ids []string, vectors [][]float32) (int, error) {
	if len(ids) != len(vectors) {
		return 0, fmt.Errorf("%w: %d ids, %d vectors", ErrLengthMismatch, len(ids), len(vectors))
	}
	if len(vectors) == 0 {
		return 0, nil
	}
	dims := len(vectors[0])
	if dims == 0 {
		return 0, fmt.Errorf("%w: empty vector for %q", ErrDimension, ids[0])
	}
	for i, v := range vectors {
		if len(v) != dims {
			return 0, fmt.Errorf("%w: %q has %d, want %d", ErrDimension, ids[i], len(v), dims)
		}
	}
	return dims, nil
}

// emptyView answers every query with nothing.
type emptyView struct{}

func (emptyView) Query(context.Context, []float32, int) ([]Hit, error) { return nil, nil }
func (emptyView) Len() int                                             { return 0 }
