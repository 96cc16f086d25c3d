// Package repository implements the content repository index: a façade that
// keeps the URI, id, path, version and language indices and the search
// index consistent with each other.
//
// The URI index is the source of truth. The id and path indices are hashed
// lookups into it, the version and language indices are keyed by URI
// address, and the search index holds one document per indexed live
// revision. Mutations are serialized by the façade; lookups only take the
// locks of the sub-indices they read.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/digitalroastery/weblounge-sub005/internal/content"
	"github.com/digitalroastery/weblounge-sub005/internal/events"
	"github.com/digitalroastery/weblounge-sub005/internal/recfile"
	"github.com/digitalroastery/weblounge-sub005/internal/search"
	"github.com/digitalroastery/weblounge-sub005/internal/search/cache"
	"github.com/digitalroastery/weblounge-sub005/internal/structure"
	"github.com/digitalroastery/weblounge-sub005/pkg/config"
	apperrors "github.com/digitalroastery/weblounge-sub005/pkg/errors"
	"github.com/digitalroastery/weblounge-sub005/pkg/logger"
	"github.com/digitalroastery/weblounge-sub005/pkg/metrics"
)

type options struct {
	metrics   *metrics.Metrics
	cache     *cache.QueryCache
	publisher events.Publisher
	registry  *content.Registry
}

// Option customizes Open.
type Option func(*options)

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithQueryCache puts c in front of the search backend.
func WithQueryCache(c *cache.QueryCache) Option {
	return func(o *options) { o.cache = c }
}

// WithEventPublisher publishes an events.IndexEvent after every successful
// mutation. The index owns p from then on: it is closed by Close, or by
// Open when opening fails.
func WithEventPublisher(p events.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithRegistry sets the serializers used to project resources into the
// search index.
func WithRegistry(r *content.Registry) Option {
	return func(o *options) { o.registry = r }
}

// Index is the content repository index.
type Index struct {
	mu       sync.Mutex
	readOnly bool

	lock      *recfile.DirLock
	uris      *structure.URIIndex
	ids       *structure.IDIndex
	paths     *structure.PathIndex
	versions  *structure.VersionIndex
	languages *structure.LanguageIndex
	search    *search.Index
	journal   *journal

	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// Open opens or creates the index below cfg.Repository.Root. Index files
// live in <root>/structure and search data in <root>/fulltext. A writable
// index takes an exclusive lock on the structure directory; read-only
// instances share it.
//
// When the journal holds an intent left behind by an interrupted mutation,
// the index is repaired before Open returns.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Index, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.publisher == nil {
		o.publisher = events.NopPublisher{}
	}
	idx, err := open(ctx, cfg, o)
	if err != nil {
		o.publisher.Close()
		return nil, err
	}
	return idx, nil
}

func open(ctx context.Context, cfg *config.Config, o options) (*Index, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	readOnly := cfg.Repository.ReadOnly
	structureDir := cfg.Repository.StructureDir()
	if !readOnly {
		for _, dir := range []string{structureDir, cfg.Repository.FulltextDir()} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, apperrors.Newf(apperrors.ErrConfiguration, "repository.open", "creating %s: %v", dir, err)
			}
		}
	}
	lock, err := recfile.LockDir(structureDir, readOnly)
	if err != nil {
		return nil, err
	}

	idx := &Index{
		readOnly:  readOnly,
		lock:      lock,
		publisher: o.publisher,
		metrics:   o.metrics,
		logger:    logger.WithComponent("repository-index"),
	}
	if err := idx.openIndices(cfg, o); err != nil {
		idx.closeIndices()
		lock.Unlock()
		return nil, err
	}

	if !readOnly && cfg.Repository.Journal {
		j, pending, err := openJournal(structureDir)
		if err != nil {
			idx.closeIndices()
			lock.Unlock()
			return nil, err
		}
		idx.journal = j
		if len(pending) > 0 {
			idx.logger.Warn("found interrupted mutation, repairing index",
				"op", pending[len(pending)-1].Op,
				"uri", pending[len(pending)-1].URI.String(),
			)
			if _, err := idx.Repair(ctx); err != nil {
				idx.closeIndices()
				idx.journal.close()
				lock.Unlock()
				return nil, fmt.Errorf("repairing index after interrupted %s: %w", pending[len(pending)-1].Op, err)
			}
		}
	}

	idx.logger.Info("repository index opened",
		"root", cfg.Repository.Root,
		"read_only", readOnly,
		"resources", idx.uris.Entries(),
		"documents", idx.search.DocCount(),
	)
	return idx, nil
}

// openIndices opens every sub-index concurrently. Whatever was opened is
// kept on idx so a failure can be cleaned up by closeIndices.
func (idx *Index) openIndices(cfg *config.Config, o options) error {
	dir := cfg.Repository.StructureDir()
	ro := cfg.Repository.ReadOnly
	ix := cfg.Index

	var g errgroup.Group
	g.Go(func() error {
		var err error
		idx.uris, err = structure.OpenURIIndex(dir, structure.URIOptions{
			ReadOnly:  ro,
			TypeBytes: ix.TypeBytes,
			PathBytes: ix.PathBytes,
			CacheSize: ix.URICacheSize,
			Metrics:   o.metrics,
		})
		return err
	})
	g.Go(func() error {
		var err error
		idx.ids, err = structure.OpenIDIndex(dir, structure.BucketOptions{
			ReadOnly:       ro,
			Slots:          ix.IDSlots,
			EntriesPerSlot: ix.IDEntriesPerSlot,
			Metrics:        o.metrics,
		})
		return err
	})
	g.Go(func() error {
		var err error
		idx.paths, err = structure.OpenPathIndex(dir, structure.BucketOptions{
			ReadOnly:       ro,
			Slots:          ix.PathSlots,
			EntriesPerSlot: ix.PathEntriesPerSlot,
			Metrics:        o.metrics,
		})
		return err
	})
	g.Go(func() error {
		var err error
		idx.versions, err = structure.OpenVersionIndex(dir, structure.ListOptions{
			ReadOnly: ro,
			Capacity: ix.VersionsPerEntry,
			Metrics:  o.metrics,
		})
		return err
	})
	g.Go(func() error {
		var err error
		idx.languages, err = structure.OpenLanguageIndex(dir, structure.ListOptions{
			ReadOnly: ro,
			Capacity: ix.LanguagesPerEntry,
			Metrics:  o.metrics,
		})
		return err
	})
	g.Go(func() error {
		var err error
		idx.search, err = search.Open(cfg.Repository.FulltextDir(), cfg.Search, search.Options{
			ReadOnly: ro,
			Registry: o.registry,
			Cache:    o.cache,
			Metrics:  o.metrics,
		})
		return err
	})
	return g.Wait()
}

func (idx *Index) closeIndices() error {
	var errs []error
	if idx.search != nil {
		errs = append(errs, idx.search.Close())
	}
	if idx.languages != nil {
		errs = append(errs, idx.languages.Close())
	}
	if idx.versions != nil {
		errs = append(errs, idx.versions.Close())
	}
	if idx.paths != nil {
		errs = append(errs, idx.paths.Close())
	}
	if idx.ids != nil {
		errs = append(errs, idx.ids.Close())
	}
	if idx.uris != nil {
		errs = append(errs, idx.uris.Close())
	}
	return errors.Join(errs...)
}

// Close flushes the search index and releases every file and the directory
// lock.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	errs := []error{idx.closeIndices(), idx.journal.close(), idx.publisher.Close()}
	if idx.lock != nil {
		errs = append(errs, idx.lock.Unlock())
	}
	idx.logger.Info("repository index closed")
	return errors.Join(errs...)
}

// ReadOnly reports whether the index was opened read-only.
func (idx *Index) ReadOnly() bool {
	return idx.readOnly
}

// Search exposes the search side for maintenance such as flushing.
func (idx *Index) Search() *search.Index {
	return idx.search
}

// Size is the number of indexed resources.
func (idx *Index) Size() int64 {
	return idx.uris.Entries()
}

// ResourceCount is the number of indexed resources.
func (idx *Index) ResourceCount() int64 {
	return idx.uris.Entries()
}

// RevisionCount is the number of indexed revisions across all resources.
func (idx *Index) RevisionCount() (int64, error) {
	return idx.versions.Revisions()
}

// IndexVersion returns the on-disk format version shared by every
// sub-index, or -1 when they disagree.
func (idx *Index) IndexVersion() int {
	v := idx.uris.FormatVersion()
	for _, other := range []int{
		idx.ids.FormatVersion(),
		idx.paths.FormatVersion(),
		idx.versions.FormatVersion(),
		idx.languages.FormatVersion(),
		idx.search.Version(),
	} {
		if other != v {
			return -1
		}
	}
	return v
}

// Clear removes every resource from every sub-index.
func (idx *Index) Clear(ctx context.Context) error {
	const op = "repository.clear"
	if err := idx.checkWritable(op); err != nil {
		return err
	}
	start := time.Now()
	idx.mu.Lock()
	err := idx.clear(ctx)
	idx.mu.Unlock()
	idx.metrics.ObserveOp("clear", start, err)
	if err != nil {
		return err
	}
	idx.logger.Info("repository index cleared")
	idx.publish(ctx, events.IndexEvent{Type: events.TypeClear, Timestamp: time.Now().UTC()})
	return nil
}

func (idx *Index) clear(ctx context.Context) error {
	if err := idx.journal.begin(intent{Op: "clear", Address: -1}); err != nil {
		return err
	}
	for _, c := range []interface{ Clear() error }{idx.uris, idx.ids, idx.paths, idx.versions, idx.languages} {
		if err := c.Clear(); err != nil {
			return err
		}
	}
	if err := idx.search.Clear(ctx); err != nil {
		return err
	}
	return idx.journal.commit()
}

func (idx *Index) checkWritable(op string) error {
	if idx.readOnly {
		return apperrors.New(apperrors.ErrReadOnly, op, "repository index is opened read-only")
	}
	return nil
}

// publish hands event to the publisher. Delivery failures are logged and
// never fail the mutation that already happened.
func (idx *Index) publish(ctx context.Context, event events.IndexEvent) {
	if err := idx.publisher.Publish(ctx, event); err != nil {
		idx.logger.Warn("failed to publish index event",
			"type", event.Type,
			"id", event.ID,
			"error", err,
		)
	}
}
