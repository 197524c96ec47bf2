package semantic

import (
	"context"
	"errors"
	"testing"
)

func TestLocal_QueryOrder(t *testing.T) {
	idx := NewLocal()
	view, err := idx.Rebuild(context.Background(),
		[]string{"a", "b", "c"},
		[][]float32{{1, 0}, {0, 1}, {0.6, 0.8}},
	)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if view.Len() != 3 {
		t.Fatalf("expected 3 vectors, got %d", view.Len())
	}

	hits, err := view.Query(context.Background(), []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 2 || hits[0].ID != "a" || hits[1].ID != "c" {
		t.Fatalf("unexpected hits %+v", hits)
	}
	if hits[0].Score < hits[1].Score {
		t.Fatalf("scores not descending: %+v", hits)
	}
}

func TestLocal_TiesKeepInsertionOrder(t *testing.T) {
	view, err := NewLocal().Rebuild(context.Background(),
		[]string{"z", "y", "x"},
		[][]float32{{0, 1}, {0, 1}, {0, 1}},
	)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	hits, err := view.Query(context.Background(), []float32{0, 1}, 3)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	for i, want := range []string{"z", "y", "x"} {
		if hits[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, hits[i].ID)
		}
	}
}

func TestLocal_KLargerThanIndex(t *testing.T) {
	view, _ := NewLocal().Rebuild(context.Background(), []string{"a"}, [][]float32{{1}})
	hits, err := view.Query(context.Background(), []float32{1}, 50)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
}

func TestLocal_ZeroK(t *testing.T) {
	view, _ := NewLocal().Rebuild(context.Background(), []string{"a"}, [][]float32{{1}})
	hits, err := view.Query(context.Background(), []float32{1}, 0)
	if err != nil || hits != nil {
		t.Fatalf("expected no hits, got %v %v", hits, err)
	}
}

func TestLocal_Empty(t *testing.T) {
	view, err := NewLocal().Rebuild(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	hits, err := view.Query(context.Background(), []float32{1, 0}, 5)
	if err != nil || len(hits) != 0 {
		t.Fatalf("expected empty result, got %v %v", hits, err)
	}
}

func TestLocal_RebuildErrors(t *testing.T) {
	idx := NewLocal()
	if _, err := idx.Rebuild(context.Background(), []string{"a", "b"}, [][]float32{{1}}); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
	if _, err := idx.Rebuild(context.Background(), []string{"a", "b"}, [][]float32{{1, 0}, {1}}); !errors.Is(err, ErrDimension) {
		t.Fatalf("expected ErrDimension, got %v", err)
	}
}

func TestLocal_QueryDimensionMismatch(t *testing.T) {
	view, _ := NewLocal().Rebuild(context.Background(), []string{"a"}, [][]float32{{1, 0}})
	if _, err := view.Query(context.Background(), []float32{1, 0, 0}, 1); !errors.Is(err, ErrDimension) {
		t.Fatalf("expected ErrDimension, got %v", err)
	}
}

func TestLocal_ViewsAreIndependent(t *testing.T) {
	idx := NewLocal()
	old, _ := idx.Rebuild(context.Background(), []string{"a"}, [][]float32{{1, 0}})
	vec := []float32{0, 1}
	fresh, _ := idx.Rebuild(context.Background(), []string{"b"}, [][]float32{vec})
	vec[0], vec[1] = 1, 0

	hits, _ := old.Query(context.Background(), []float32{1, 0}, 1)
	if hits[0].ID != "a" {
		t.Fatalf("old view changed: %+v", hits)
	}
	hits, _ = fresh.Query(context.Background(), []float32{0, 1}, 1)
	if hits[0].ID != "b" || hits[0].Score != 1 {
		t.Fatalf("fresh view aliased caller slice: %+v", hits)
	}
}
