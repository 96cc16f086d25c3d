// Package api serves the read side of the repository index over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/digitalroastery/weblounge-sub005/internal/content"
	"github.com/digitalroastery/weblounge-sub005/internal/repository"
	"github.com/digitalroastery/weblounge-sub005/internal/search"
	"github.com/digitalroastery/weblounge-sub005/internal/search/cache"
	apperrors "github.com/digitalroastery/weblounge-sub005/pkg/errors"
	"github.com/digitalroastery/weblounge-sub005/pkg/logger"
)

// Repository is the part of the repository index the API reads.
type Repository interface {
	Find(ctx context.Context, q search.Query) (*search.Result, error)
	Suggest(prefix string, n int) []string
	GetType(uri content.ResourceURI) (string, error)
	GetPath(uri content.ResourceURI) (string, error)
	GetIdentifier(uri content.ResourceURI) (string, error)
	GetRevisions(uri content.ResourceURI) ([]content.Version, error)
	GetLanguages(uri content.ResourceURI) ([]string, error)
	List(ctx context.Context, opts repository.ListOptions) ([]content.ResourceURI, error)
	Stats() (*repository.Stats, error)
}

type Handler struct {
	repo         Repository
	cache        *cache.QueryCache
	defaultLimit int
	maxResults   int
	logger       *slog.Logger
}

// New returns a Handler. A nil queryCache reports caching as disabled.
func New(repo Repository, queryCache *cache.QueryCache, defaultLimit, maxResults int) *Handler {
	return &Handler{
		repo:         repo,
		cache:        queryCache,
		defaultLimit: defaultLimit,
		maxResults:   maxResults,
		logger:       logger.WithComponent("api"),
	}
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/suggest", h.Suggest)
	mux.HandleFunc("GET /api/v1/resources", h.Resource)
	mux.HandleFunc("GET /api/v1/resources/list", h.List)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
}

// ResourceInfo describes one indexed resource.
type ResourceInfo struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Path      string            `json:"path,omitempty"`
	Revisions []content.Version `json:"revisions"`
	Languages []string          `json:"languages"`
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	params := r.URL.Query()

	q := search.Query{
		Text:       params.Get("q"),
		Site:       params.Get("site"),
		Path:       content.NormalizePath(params.Get("path")),
		PathPrefix: content.NormalizePath(params.Get("prefix")),
		Language:   params.Get("lang"),
		Author:     params.Get("author"),
		Types:      params["type"],
		Subjects:   params["subject"],
	}
	if v := params.Get("version"); v != "" {
		version, err := content.ParseVersion(v)
		if err != nil {
			h.writeError(w, err)
			return
		}
		q.Version = &version
	}
	var err error
	if q.Limit, err = h.intParam(params.Get("limit"), h.defaultLimit, 1); err != nil {
		h.writeError(w, err)
		return
	}
	q.Limit = min(q.Limit, h.maxResults)
	if q.Offset, err = h.intParam(params.Get("offset"), 0, 0); err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.repo.Find(ctx, q)
	if err != nil {
		logger.FromContext(ctx).Error("search failed", "query", q.Text, "error", err)
		h.writeError(w, err)
		return
	}
	logger.FromContext(ctx).Info("search completed",
		"query", q.Text,
		"total_hits", result.TotalHits,
		"returned", len(result.Items),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Suggest(w http.ResponseWriter, r *http.Request) {
	prefix := strings.TrimSpace(r.URL.Query().Get("prefix"))
	if prefix == "" {
		h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, "api.suggest", "query parameter 'prefix' is required"))
		return
	}
	n, err := h.intParam(r.URL.Query().Get("n"), h.defaultLimit, 1)
	if err != nil {
		h.writeError(w, err)
		return
	}
	suggestions := h.repo.Suggest(prefix, min(n, h.maxResults))
	if suggestions == nil {
		suggestions = []string{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"prefix": prefix, "suggestions": suggestions})
}

// Resource looks a resource up by id or path.
func (h *Handler) Resource(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	uri := content.NewURI(params.Get("type"), params.Get("site"), params.Get("path"), params.Get("id"), content.Live)
	if uri.ID == "" && uri.Path == "" {
		h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, "api.resource", "query parameter 'id' or 'path' is required"))
		return
	}
	info, err := h.describe(uri)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

func (h *Handler) describe(uri content.ResourceURI) (*ResourceInfo, error) {
	typ, err := h.repo.GetType(uri)
	if err != nil {
		return nil, err
	}
	info := &ResourceInfo{ID: uri.ID, Type: typ, Path: uri.Path}
	if info.ID == "" {
		if info.ID, err = h.repo.GetIdentifier(uri); err != nil {
			return nil, err
		}
	} else if info.Path, err = h.repo.GetPath(uri); err != nil {
		return nil, err
	}
	if info.Revisions, err = h.repo.GetRevisions(uri); err != nil {
		return nil, err
	}
	if info.Languages, err = h.repo.GetLanguages(uri); err != nil {
		return nil, err
	}
	return info, nil
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	level, err := h.intParam(params.Get("level"), 0, 0)
	if err != nil {
		h.writeError(w, err)
		return
	}
	opts := repository.ListOptions{
		Prefix: params.Get("prefix"),
		Level:  level,
		Types:  params["type"],
	}
	if v := params.Get("version"); v != "" {
		version, err := content.ParseVersion(v)
		if err != nil {
			h.writeError(w, err)
			return
		}
		opts.Version = &version
	}
	uris, err := h.repo.List(r.Context(), opts)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if uris == nil {
		uris = []content.ResourceURI{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"total": len(uris), "resources": uris})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.repo.Stats()
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := h.cache.Stats()
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"hit_rate": hitRate,
	})
}

func (h *Handler) intParam(raw string, def, lowest int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lowest {
		return 0, apperrors.Newf(apperrors.ErrInvalidInput, "api.params", "%q must be an integer of at least %d", raw, lowest)
	}
	return n, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
		message = "internal error"
	}
	h.writeJSON(w, status, map[string]string{"error": message})
}
