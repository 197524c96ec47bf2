package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WessleyAI/thrifter/engine/ingest"
	"github.com/WessleyAI/thrifter/pkg/natsutil"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func startNATS(t *testing.T) *natsserver.Server {
	t.Helper()
	ns, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	require.NoError(t, err)
	go ns.Start()
	t.Cleanup(ns.Shutdown)
	require.True(t, ns.ReadyForConnections(5*time.Second))
	return ns
}

func runNATS(t *testing.T) string {
	t.Helper()
	return startNATS(t).ClientURL()
}

func writeShops(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shops.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRoot_Help(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	for _, sub := range []string{"publish", "watch", "search", "ask", "stats"} {
		assert.Contains(t, out, sub)
	}
}

func TestReadShops(t *testing.T) {
	list, err := readShops(writeShops(t, `[{"_id":"1","name":"A"}]`))
	require.NoError(t, err)
	assert.Len(t, list, 1)

	wrapped, err := readShops(writeShops(t, `{"shops":[{"_id":"1"},{"_id":"2"}],"source":"x"}`))
	require.NoError(t, err)
	assert.Len(t, wrapped, 2)

	_, err = readShops(writeShops(t, `{"source":"x"}`))
	assert.ErrorContains(t, err, "no shops array")

	_, err = readShops(writeShops(t, `not json`))
	assert.Error(t, err)
}

func TestPublish_NoBroker(t *testing.T) {
	t.Setenv("THRIFTER_NATS_URL", "")
	_, err := execute(t, "publish", writeShops(t, `[]`))
	assert.ErrorIs(t, err, errNoBroker)
}

func TestPublish_FireAndForget(t *testing.T) {
	url := runNATS(t)
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()

	got := make(chan ingest.LoadRequest, 1)
	sub, err := natsutil.Subscribe(nc, ingest.LoadSubject, func(_ context.Context, req ingest.LoadRequest) {
		got <- req
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, nc.Flush())

	out, err := execute(t, "--nats", url, "publish", "--source", "seed", writeShops(t, `[{"_id":"1","name":"EcoDhaga"}]`))
	require.NoError(t, err)
	assert.Contains(t, out, "published 1 shops")

	select {
	case req := <-got:
		assert.Equal(t, "seed", req.Source)
		assert.Equal(t, "EcoDhaga", req.Shops[0]["name"])
	case <-time.After(5 * time.Second):
		t.Fatal("load request not received")
	}
}

func TestPublish_Wait(t *testing.T) {
	url := runNATS(t)
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()

	_, err = nc.Subscribe(ingest.LoadSubject, func(msg *nats.Msg) {
		var req ingest.LoadRequest
		_ = json.Unmarshal(msg.Data, &req)
		if len(req.Shops) == 0 {
			_ = natsutil.Respond(msg, ingest.Indexed{Error: "invalid shop: empty corpus"})
			return
		}
		_ = natsutil.Respond(msg, ingest.Indexed{Version: 4, Shops: len(req.Shops), Indexed: len(req.Shops), TookMs: 12})
	})
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	out, err := execute(t, "--nats", url, "publish", "--wait", writeShops(t, `[{"_id":"1"},{"_id":"2"}]`))
	require.NoError(t, err)
	assert.Contains(t, out, "loaded version 4: 2 shops, 2 indexed in 12ms")

	_, err = execute(t, "--nats", url, "publish", "--wait", writeShops(t, `[]`))
	assert.ErrorContains(t, err, "load rejected: invalid shop")
}

func TestWatch(t *testing.T) {
	ns := startNATS(t)
	url := ns.ClientURL()
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()

	base := ns.NumSubscriptions()
	done := make(chan struct{})
	var out string
	var runErr error
	go func() {
		defer close(done)
		out, runErr = execute(t, "--nats", url, "watch", "--count", "2")
	}()

	require.Eventually(t, func() bool { return ns.NumSubscriptions() >= base+2 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, natsutil.Publish(context.Background(), nc, ingest.IndexedSubject, ingest.Indexed{Version: 3, Shops: 5}))
	require.NoError(t, natsutil.Publish(context.Background(), nc, ingest.DLQSubject, ingest.DeadLetter{Retries: 3, Error: "disk full"}))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not finish")
	}
	require.NoError(t, runErr)
	assert.Contains(t, out, "indexed version=3 shops=5")
	assert.Contains(t, out, `dead-letter retries=3 error="disk full"`)
}

func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /search", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["query"] == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"query: invalid query"}`))
			return
		}
		_, _ = w.Write([]byte(`{"query":"` + body["query"].(string) + `","total":1,"semantic":false,"took_ms":3,
			"results":[{"shop":{"_id":"1","name":"EcoDhaga","location":{"id":"koramangala","label":"Koramangala"}},
			"score":1,"highlights":["vintage"],"matchType":"keyword"}]}`))
	})
	mux.HandleFunc("POST /rag/query", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"answer":"Try EcoDhaga.","confidence":0.95,"analysis":{"intent":"find_store"},
			"sources":[{"_id":"1","name":"EcoDhaga","location":{"id":"koramangala","label":"Koramangala"}}]}`))
	})
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"version":2,"total_shops":3,"indexed":0,"index_backend":"local","embedding_backend":"none","dimension":0}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSearch(t *testing.T) {
	srv := fakeAPI(t)
	out, err := execute(t, "--api", srv.URL, "search", "vintage", "finds")
	require.NoError(t, err)
	assert.Contains(t, out, `1 results for "vintage finds" (keyword, 3ms)`)
	assert.Contains(t, out, "EcoDhaga")
	assert.Contains(t, out, "Koramangala")
}

func TestSearch_APIError(t *testing.T) {
	srv := fakeAPI(t)
	_, err := execute(t, "--api", srv.URL, "search", "")
	assert.ErrorContains(t, err, "status 400: query: invalid query")
}

func TestSearch_NotRunning(t *testing.T) {
	_, err := execute(t, "--api", "http://127.0.0.1:1", "search", "vintage")
	assert.ErrorIs(t, err, ErrAPINotRunning)
}

func TestAsk(t *testing.T) {
	srv := fakeAPI(t)
	out, err := execute(t, "--api", srv.URL, "ask", "where", "is", "vintage?")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Try EcoDhaga."))
	assert.Contains(t, out, "confidence 0.95, intent find_store")
	assert.Contains(t, out, "- EcoDhaga (Koramangala)")
}

func TestStats_FromEnv(t *testing.T) {
	srv := fakeAPI(t)
	t.Setenv("THRIFTER_API_URL", srv.URL)
	out, err := execute(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "version:   2")
	assert.Contains(t, out, "shops:     3 (0 indexed)")
	assert.Contains(t, out, "embedding: none")
}
