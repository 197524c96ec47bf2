package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type mockResult struct {
	records []*neo4j.Record
	idx     int
	err     error
}

func (m *mockResult) Next(context.Context) bool {
	if m.idx < len(m.records) {
		m.idx++
		return true
	}
	return false
}

func (m *mockResult) Record() *neo4j.Record { return m.records[m.idx-1] }
func (m *mockResult) Err() error            { return m.err }

type mockRunner struct {
	records []*neo4j.Record
	runErr  error
	iterErr error
	cyphers []string
	params  []map[string]any
	closed  int
}

func (m *mockRunner) Run(_ context.Context, cypher string, params map[string]any) (Result, error) {
	m.cyphers = append(m.cyphers, cypher)
	m.params = append(m.params, params)
	if m.runErr != nil {
		return nil, m.runErr
	}
	return &mockResult{records: m.records, err: m.iterErr}, nil
}

func (m *mockRunner) Close(context.Context) error {
	m.closed++
	return nil
}

type entity struct {
	ID   string
	Name string
}

func record(id, name string) *neo4j.Record {
	return &neo4j.Record{
		Values: []any{map[string]any{"id": id, "name": name}},
		Keys:   []string{"n"},
	}
}

func newTestRepo(r *mockRunner, opts ...Neo4jOption[entity, string]) *Neo4jRepo[entity, string] {
	opts = append(opts, WithRunner[entity, string](func(context.Context) Runner { return r }))
	return NewNeo4jRepo[entity, string](
		nil, "Shop",
		func(e entity) map[string]any { return map[string]any{"id": e.ID, "name": e.Name} },
		func(rec *neo4j.Record) (entity, error) {
			m, ok := rec.Values[0].(map[string]any)
			if !ok {
				return entity{}, errors.New("bad type")
			}
			return entity{ID: m["id"].(string), Name: m["name"].(string)}, nil
		},
		opts...,
	)
}

func TestGet(t *testing.T) {
	r := &mockRunner{records: []*neo4j.Record{record("1", "EcoDhaga")}}
	e, err := newTestRepo(r).Get(context.Background(), "1")
	if err != nil {
		t.Fatal(err)
	}
	if e.Name != "EcoDhaga" {
		t.Fatalf("got %+v", e)
	}
	if r.cyphers[0] != "MATCH (n:Shop {id: $id}) RETURN n" {
		t.Fatalf("cypher %q", r.cyphers[0])
	}
	if r.closed != 1 {
		t.Fatalf("session closed %d times", r.closed)
	}
}

func TestGet_NotFound(t *testing.T) {
	_, err := newTestRepo(&mockRunner{}).Get(context.Background(), "x")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQuery_Errors(t *testing.T) {
	ctx := context.Background()

	if _, err := newTestRepo(&mockRunner{runErr: errors.New("db down")}).Query(ctx, "MATCH (n) RETURN n", nil); err == nil {
		t.Fatal("expected run error")
	}
	bad := &neo4j.Record{Values: []any{"not a map"}, Keys: []string{"n"}}
	if _, err := newTestRepo(&mockRunner{records: []*neo4j.Record{bad}}).Query(ctx, "MATCH (n) RETURN n", nil); err == nil {
		t.Fatal("expected decode error")
	}
	if _, err := newTestRepo(&mockRunner{iterErr: errors.New("reset")}).Query(ctx, "MATCH (n) RETURN n", nil); err == nil {
		t.Fatal("expected iteration error")
	}
}

func TestQuery_All(t *testing.T) {
	r := &mockRunner{records: []*neo4j.Record{record("1", "A"), record("2", "B")}}
	items, err := newTestRepo(r).Query(context.Background(), "MATCH (n:Shop) RETURN n", map[string]any{"x": 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[1].ID != "2" {
		t.Fatalf("got %+v", items)
	}
	if r.params[0]["x"] != 1 {
		t.Fatalf("params not forwarded: %v", r.params[0])
	}
}

func TestCypherGeneration(t *testing.T) {
	r := &mockRunner{}
	repo := newTestRepo(r, WithIDKey[entity, string]("key"))
	ctx := context.Background()

	if err := repo.Upsert(ctx, entity{ID: "ABC", Name: "A"}); err != nil {
		t.Fatal(err)
	}
	if err := repo.Delete(ctx, "ABC"); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"MERGE (n:Shop {key: $id}) SET n += $props",
		"MATCH (n:Shop {key: $id}) DETACH DELETE n",
	}
	for i, w := range want {
		if r.cyphers[i] != w {
			t.Errorf("[%d] got %q, want %q", i, r.cyphers[i], w)
		}
	}
}

func TestUpsert_ParamsUseIDKey(t *testing.T) {
	r := &mockRunner{}
	if err := newTestRepo(r).Upsert(context.Background(), entity{ID: "7", Name: "N"}); err != nil {
		t.Fatal(err)
	}
	if r.params[0]["id"] != "7" {
		t.Fatalf("id param %v", r.params[0]["id"])
	}
	props := r.params[0]["props"].(map[string]any)
	if props["name"] != "N" {
		t.Fatalf("props %v", props)
	}
}

func TestExec_Errors(t *testing.T) {
	ctx := context.Background()
	if err := newTestRepo(&mockRunner{runErr: errors.New("fail")}).Exec(ctx, "RETURN 1", nil); err == nil {
		t.Fatal("expected run error")
	}
	if err := newTestRepo(&mockRunner{iterErr: errors.New("constraint")}).Exec(ctx, "RETURN 1", nil); err == nil {
		t.Fatal("expected result error")
	}
}

func TestDefaults(t *testing.T) {
	r := NewNeo4jRepo[entity, string](nil, "User", nil, nil)
	if r.idKey != "id" || r.Label() != "User" {
		t.Fatalf("unexpected defaults: %q %q", r.idKey, r.Label())
	}
	if r.newSession != nil {
		t.Fatal("newSession should be nil by default")
	}
}
