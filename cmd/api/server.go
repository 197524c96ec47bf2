package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/WessleyAI/thrifter/engine/corpus"
	"github.com/WessleyAI/thrifter/engine/domain"
	"github.com/WessleyAI/thrifter/engine/ingest"
	"github.com/WessleyAI/thrifter/engine/rag"
	"github.com/WessleyAI/thrifter/engine/search"
	"github.com/WessleyAI/thrifter/pkg/fn"
)

const (
	version = "1.0.0"
	// listLimit and maxListLimit bound the explore and recommendation endpoints.
	listLimit    = 10
	maxListLimit = 50
	// maxPrefix bounds suggestion prefixes.
	maxPrefix = 100
)

type server struct {
	app       *app
	load      fn.Stage[ingest.LoadRequest, *corpus.Snapshot]
	maxUpload int64
	logger    *slog.Logger
}

func newServer(a *app, maxUpload int64, logger *slog.Logger) *server {
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	return &server{
		app:       a,
		load:      ingest.NewPipeline(a.corpus),
		maxUpload: maxUpload,
		logger:    logger,
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)

	mux.HandleFunc("POST /search", s.handleSearch)
	mux.HandleFunc("GET /search/suggestions", s.handleSuggestions)
	mux.HandleFunc("POST /search/image", s.handleImageSearch)

	mux.HandleFunc("POST /rag/query", s.handleRAG)
	mux.HandleFunc("GET /rag/recommendations/{user_id}", s.handleRecommendations)

	mux.HandleFunc("POST /explore", s.handleFeed)
	mux.HandleFunc("GET /explore/trending", s.handleTrending)
	mux.HandleFunc("GET /explore/new", s.handleNew)
	mux.HandleFunc("GET /explore/style/{style}", s.handleStyle)
	mux.HandleFunc("GET /explore/location/{location}", s.handleLocation)
	mux.HandleFunc("GET /explore/collaborative/{user_id}", s.handleCollaborative)

	mux.HandleFunc("POST /index", s.handleIndex)
	mux.HandleFunc("GET /users/{user_id}", s.handleGetUser)
	mux.HandleFunc("PUT /users/{user_id}", s.handlePutUser)
	mux.HandleFunc("DELETE /users/{user_id}", s.handleDeleteUser)

	mux.Handle("GET /metrics", s.app.reg.Handler())
	return mux
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps validation failures to 400 and unknown users to 404.
// Anything else is logged and reported as a generic 500.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case domain.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrUserNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.NewValidationError("body", "", fmt.Errorf("%w: %v", domain.ErrInvalidQuery, err))
	}
	return nil
}

// listLimitParam parses ?limit= for list endpoints, defaulting to listLimit.
func listLimitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return listLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxListLimit {
		return 0, domain.NewValidationError("limit", raw, domain.ErrInvalidLimit)
	}
	return n, nil
}

// --- Health ---

func (s *server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service":   "Thrifter",
		"status":    "healthy",
		"version":   version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type healthResponse struct {
	Status   string           `json:"status"`
	Services search.Readiness `json:"services"`
	Stats    search.Stats     `json:"search_stats"`
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	ready := s.app.search.Ready()
	status := "healthy"
	for _, c := range ready.Capabilities {
		if !c.Available && c.Reason != domain.ErrConfigurationAbsent.Error() {
			status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: status, Services: ready, Stats: s.app.search.Stats()})
}

func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.app.search.Stats())
}

// --- Search ---

type searchBody struct {
	Query       string         `json:"query"`
	Filters     domain.Filters `json:"filters"`
	Limit       int            `json:"limit"`
	UseSemantic *bool          `json:"use_semantic"`
	UseKeyword  *bool          `json:"use_keyword"`
	UserID      string         `json:"user_id"`
}

func orTrue(b *bool) bool { return b == nil || *b }

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var body searchBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.app.search.Search(r.Context(), search.Request{
		Query:          body.Query,
		Filters:        body.Filters,
		Limit:          body.Limit,
		EnableSemantic: orTrue(body.UseSemantic),
		EnableKeyword:  orTrue(body.UseKeyword),
		UserID:         body.UserID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	prefix := strings.TrimSpace(r.URL.Query().Get("prefix"))
	if prefix == "" || len(prefix) > maxPrefix {
		s.writeError(w, r, domain.NewValidationError("prefix", prefix, domain.ErrInvalidQuery))
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			s.writeError(w, r, domain.NewValidationError("limit", raw, domain.ErrInvalidLimit))
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": s.app.search.Suggest(prefix, limit)})
}

func (s *server) handleImageSearch(w http.ResponseWriter, r *http.Request) {
	limit, err := listLimitParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, domain.NewValidationError("file", "", fmt.Errorf("%w: %v", domain.ErrImageRequired, err)))
		return
	}
	defer file.Close()
	if ct := hdr.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image/") {
		s.writeError(w, r, domain.NewValidationError("file", ct, domain.ErrImageRequired))
		return
	}
	img, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, r, domain.NewValidationError("file", hdr.Filename, fmt.Errorf("%w: %v", domain.ErrImageRequired, err)))
		return
	}

	resp, err := s.app.search.SearchByImage(r.Context(), img, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Assistant ---

func (s *server) handleRAG(w http.ResponseWriter, r *http.Request) {
	var req rag.Request
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ans, err := s.app.rag.Query(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

func (s *server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	limit, err := listLimitParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id := r.PathValue("user_id")
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":         id,
		"recommendations": s.app.explore.Recommend(r.Context(), id, limit),
	})
}

// --- Explore ---

type feedBody struct {
	UserID   string `json:"user_id"`
	Location string `json:"location"`
}

func (s *server) handleFeed(w http.ResponseWriter, r *http.Request) {
	var body feedBody
	if r.ContentLength != 0 {
		if err := decode(r, &body); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	sections, err := s.app.explore.Feed(r.Context(), body.UserID, body.Location)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sections": sections})
}

func (s *server) handleTrending(w http.ResponseWriter, r *http.Request) {
	limit, err := listLimitParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	loc := r.URL.Query().Get("location")
	writeJSON(w, http.StatusOK, map[string]any{
		"location": loc,
		"trending": s.app.explore.Trending(loc, limit),
	})
}

func (s *server) handleNew(w http.ResponseWriter, r *http.Request) {
	limit, err := listLimitParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stores": s.app.explore.NewStores(limit)})
}

func (s *server) handleStyle(w http.ResponseWriter, r *http.Request) {
	limit, err := listLimitParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	style := r.PathValue("style")
	writeJSON(w, http.StatusOK, map[string]any{
		"style":  style,
		"stores": s.app.explore.ByStyle(style, limit),
	})
}

func (s *server) handleLocation(w http.ResponseWriter, r *http.Request) {
	limit, err := listLimitParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	loc := r.PathValue("location")
	writeJSON(w, http.StatusOK, map[string]any{
		"location": loc,
		"label":    domain.LocationLabel(loc),
		"stores":   s.app.explore.LocationPopular(loc, limit),
	})
}

func (s *server) handleCollaborative(w http.ResponseWriter, r *http.Request) {
	limit, err := listLimitParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id := r.PathValue("user_id")
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":         id,
		"recommendations": s.app.explore.Collaborative(r.Context(), id, limit),
	})
}

// --- Data management ---

func (s *server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var req ingest.LoadRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := s.load(r.Context(), req).Unwrap()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"indexed": snap.Len(),
		"stats":   s.app.search.Stats(),
	})
}

func (s *server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.app.profiles.GetUser(r.Context(), r.PathValue("user_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *server) handlePutUser(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := decode(r, &raw); err != nil {
		s.writeError(w, r, err)
		return
	}
	if raw == nil {
		raw = map[string]any{}
	}
	delete(raw, "_id")
	delete(raw, "userId")
	raw["id"] = r.PathValue("user_id")
	u, err := domain.UserFromRaw(raw)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.app.profiles.SaveUser(r.Context(), u); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.app.profiles.DeleteUser(r.Context(), r.PathValue("user_id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
