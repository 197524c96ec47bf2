package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode embeddings request: %v", err)
		}
		if req["model"] != "text-embedding-3-small" {
			t.Errorf("unexpected model %v", req["model"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.1,0.2,0.3]}],"model":"text-embedding-3-small"}`))
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode chat request: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected messages %+v", req.Messages)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":"  Try EcoDhaga.  "},"finish_reason":"stop"}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbed(t *testing.T) {
	srv := newTestServer(t)
	c := New(Config{APIKey: "k", BaseURL: srv.URL + "/v1/", EmbedModel: "text-embedding-3-small"})

	v, err := c.Embed(context.Background(), "vintage")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(v) != 3 {
		t.Fatalf("expected 3 dims, got %d", len(v))
	}
	if c.EmbedModel() != "text-embedding-3-small" {
		t.Fatalf("unexpected embed model %q", c.EmbedModel())
	}
}

func TestComplete(t *testing.T) {
	srv := newTestServer(t)
	c := New(Config{APIKey: "k", BaseURL: srv.URL + "/v1", ChatModel: "gpt-4o-mini"})

	out, err := c.Complete(context.Background(), Completion{System: "be brief", User: "where to buy jackets?", MaxTokens: 64})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "Try EcoDhaga." {
		t.Fatalf("unexpected reply %q", out)
	}
}

func TestComplete_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k", BaseURL: srv.URL + "/v1", ChatModel: "m"})
	if _, err := c.Complete(context.Background(), Completion{User: "hi"}); err == nil {
		t.Fatal("expected error")
	}
}
