// Package search projects resources into the full-text engine and runs
// queries against it. Documents are keyed by resource identifier and
// version, so every revision of a resource is searchable on its own.
package search

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/digitalroastery/weblounge-sub005/internal/content"
	"github.com/digitalroastery/weblounge-sub005/internal/search/cache"
	"github.com/digitalroastery/weblounge-sub005/internal/search/engine"
	"github.com/digitalroastery/weblounge-sub005/internal/search/segment"
	"github.com/digitalroastery/weblounge-sub005/pkg/config"
	apperrors "github.com/digitalroastery/weblounge-sub005/pkg/errors"
	"github.com/digitalroastery/weblounge-sub005/pkg/logger"
	"github.com/digitalroastery/weblounge-sub005/pkg/metrics"
)

type (
	Query  = engine.Query
	Result = engine.Result
	Hit    = engine.Hit
)

// Options configure an Index. A nil Registry uses content.DefaultRegistry,
// a nil Cache disables result caching.
type Options struct {
	ReadOnly bool
	Registry *content.Registry
	Cache    *cache.QueryCache
	Metrics  *metrics.Metrics
}

// Index is the search side of the repository index.
type Index struct {
	engine   *engine.Engine
	registry *content.Registry
	cache    *cache.QueryCache
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Open opens the search data stored in dir.
func Open(dir string, cfg config.SearchConfig, opts Options) (*Index, error) {
	eng, err := engine.Open(dir, cfg, engine.Options{ReadOnly: opts.ReadOnly, Metrics: opts.Metrics})
	if err != nil {
		return nil, err
	}
	registry := opts.Registry
	if registry == nil {
		registry = content.DefaultRegistry()
	}
	return &Index{
		engine:   eng,
		registry: registry,
		cache:    opts.Cache,
		metrics:  opts.Metrics,
		logger:   logger.WithComponent("search-index"),
	}, nil
}

func wrapBackend(op string, err error) error {
	if err == nil || apperrors.Is(err, apperrors.ErrReadOnly) {
		return err
	}
	return apperrors.Wrap(apperrors.ErrBackend, op, err)
}

// Add posts res to the index. Resource types without a serializer are an
// error.
func (s *Index) Add(ctx context.Context, res *content.Resource) (bool, error) {
	ser, ok := s.registry.Lookup(res.URI.Type)
	if !ok {
		return false, apperrors.Newf(apperrors.ErrBackend, "search.add", "no serializer registered for resource type %q", res.URI.Type)
	}
	return s.post(ctx, "search.add", ser, res)
}

// Update re-posts res. It returns false for resource types without a
// serializer.
func (s *Index) Update(ctx context.Context, res *content.Resource) (bool, error) {
	ser, ok := s.registry.Lookup(res.URI.Type)
	if !ok {
		s.logger.Warn("no serializer registered, skipping search update", "type", res.URI.Type, "uri", res.URI.String())
		return false, nil
	}
	return s.post(ctx, "search.update", ser, res)
}

func (s *Index) post(ctx context.Context, op string, ser content.Serializer, res *content.Resource) (bool, error) {
	if res.URI.ID == "" {
		return false, apperrors.New(apperrors.ErrInvalidInput, op, "resource has no identifier")
	}
	doc, err := ser.ToDocument(res)
	if err != nil {
		return false, wrapBackend(op, err)
	}
	others := slices.DeleteFunc(s.engine.Versions(doc.ID), func(v content.Version) bool {
		return v == doc.Version
	})
	doc.AlternateVersions = others
	if err := s.engine.Put(doc); err != nil {
		return false, wrapBackend(op, err)
	}
	for _, v := range others {
		_, err := s.engine.Modify(content.DocumentKey(doc.ID, v), func(d *content.Document) {
			if !slices.Contains(d.AlternateVersions, doc.Version) {
				d.AlternateVersions = append(slices.Clone(d.AlternateVersions), doc.Version)
				slices.Sort(d.AlternateVersions)
			}
		})
		if err != nil {
			return false, wrapBackend(op, err)
		}
	}
	s.invalidate(ctx)
	s.logger.Debug("resource posted", "op", op, "uri", res.URI.String())
	return true, nil
}

// Delete removes the revision addressed by uri. Other revisions of the same
// resource forget about it.
func (s *Index) Delete(ctx context.Context, uri content.ResourceURI) (bool, error) {
	const op = "search.delete"
	removed, err := s.engine.Remove(content.DocumentKey(uri.ID, uri.Version))
	if err != nil {
		return false, wrapBackend(op, err)
	}
	if !removed {
		return false, nil
	}
	for _, v := range s.engine.Versions(uri.ID) {
		_, err := s.engine.Modify(content.DocumentKey(uri.ID, v), func(d *content.Document) {
			d.AlternateVersions = slices.DeleteFunc(slices.Clone(d.AlternateVersions), func(alt content.Version) bool {
				return alt == uri.Version
			})
		})
		if err != nil {
			return false, wrapBackend(op, err)
		}
	}
	s.invalidate(ctx)
	return true, nil
}

// Move changes the path of the revision addressed by uri. It returns false
// when that revision is not indexed.
func (s *Index) Move(ctx context.Context, uri content.ResourceURI, newPath string) (bool, error) {
	moved, err := s.engine.Modify(content.DocumentKey(uri.ID, uri.Version), func(d *content.Document) {
		d.Path = newPath
	})
	if err != nil {
		return false, wrapBackend("search.move", err)
	}
	if moved {
		s.invalidate(ctx)
	}
	return moved, nil
}

func (s *Index) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("query cache invalidation failed", "error", err)
	}
}

// Find executes q, consulting the query cache first when one is configured.
func (s *Index) Find(ctx context.Context, q Query) (*Result, error) {
	start := time.Now()
	compute := func() (*Result, error) {
		return s.engine.Execute(ctx, q)
	}
	var (
		result *Result
		hit    bool
		err    error
	)
	if s.cache != nil {
		result, hit, err = s.cache.GetOrCompute(ctx, q, compute)
	} else {
		result, err = compute()
	}
	cacheStatus := "disabled"
	if s.cache != nil {
		cacheStatus = "miss"
		if hit {
			cacheStatus = "hit"
		}
	}
	hits := 0
	if result != nil {
		hits = result.TotalHits
	}
	s.metrics.ObserveSearch(cacheStatus, start, hits, err)
	if err != nil {
		return nil, wrapBackend("search.find", err)
	}
	return result, nil
}

// Suggest completes prefix from indexed titles and subjects.
func (s *Index) Suggest(prefix string, n int) []string {
	return s.engine.Suggest(prefix, n)
}

// Document returns the indexed document of the revision addressed by uri.
func (s *Index) Document(uri content.ResourceURI) (*content.Document, bool) {
	return s.engine.Get(content.DocumentKey(uri.ID, uri.Version))
}

// Documents calls fn for every indexed document until fn returns false.
func (s *Index) Documents(fn func(doc *content.Document) bool) {
	s.engine.Each(fn)
}

func (s *Index) DocCount() int {
	return s.engine.DocCount()
}

func (s *Index) Flush() error {
	return wrapBackend("search.flush", s.engine.Flush())
}

func (s *Index) Compact() error {
	return wrapBackend("search.compact", s.engine.Compact())
}

func (s *Index) StartFlushLoop(ctx context.Context) {
	s.engine.StartFlushLoop(ctx)
}

// Clear removes every document.
func (s *Index) Clear(ctx context.Context) error {
	if err := s.engine.Clear(); err != nil {
		return wrapBackend("search.clear", err)
	}
	s.invalidate(ctx)
	return nil
}

// Version is the on-disk format version of the search data.
func (s *Index) Version() int {
	return int(segment.FormatVersion)
}

func (s *Index) Close() error {
	return wrapBackend("search.close", s.engine.Close())
}
