// Package structure implements the fixed record indices of a content
// repository: the URI index holding the primary (id, type, path) records,
// the hashed id and path indices, and the version and language lists that
// are keyed by URI address.
//
// Every index synchronizes its own operations. Mutations, including a full
// file resize, hold the index's write lock; lookups hold its read lock, so a
// reader never observes a half written record.
package structure

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/digitalroastery/weblounge-sub005/internal/content"
	"github.com/digitalroastery/weblounge-sub005/internal/recfile"
	apperrors "github.com/digitalroastery/weblounge-sub005/pkg/errors"
	"github.com/digitalroastery/weblounge-sub005/pkg/logger"
	"github.com/digitalroastery/weblounge-sub005/pkg/metrics"
)

const (
	URIIndexFile = "uri.idx"

	uriMagic         uint32 = 0x55524958 // "URIX"
	uriFormatVersion uint32 = 1

	// pathTerminator ends the path inside its fixed width field.
	pathTerminator byte = '\n'
)

// URIEntry is one live record of the URI index.
type URIEntry struct {
	ID   string
	Type string
	Path string
}

// URIOptions configure OpenURIIndex. Zero sizes fall back to the defaults.
type URIOptions struct {
	ReadOnly  bool
	TypeBytes int
	PathBytes int
	// CacheSize bounds the decoded entry cache. Zero disables it.
	CacheSize int
	Metrics   *metrics.Metrics
}

// URIIndex is the primary store. Entry addresses are strictly positional
// and stable while the entry is live; deleted slots are tombstoned and
// recycled by later additions.
//
// Record layout: [id:36][type:typeBytes][path:pathBytes], where the path is
// terminated by '\n' and the unused rest of every field is zero.
type URIIndex struct {
	mu      sync.RWMutex
	file    *recfile.File
	cache   *lru.Cache[int64, URIEntry]
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func uriRecordSize(p recfile.Params) int {
	return content.IDLength + int(p[0]) + int(p[1])
}

// OpenURIIndex opens or creates dir/uri.idx. A file created with smaller
// type or path capacity than requested is resized; larger capacities on
// disk are kept.
func OpenURIIndex(dir string, opts URIOptions) (*URIIndex, error) {
	if opts.TypeBytes <= 0 {
		opts.TypeBytes = 8
	}
	if opts.PathBytes <= 0 {
		opts.PathBytes = 128
	}
	if opts.PathBytes < 2 {
		return nil, apperrors.Newf(apperrors.ErrConfiguration, "uri.open", "path capacity %d leaves no room for a path", opts.PathBytes)
	}
	file, err := recfile.Open(filepath.Join(dir, URIIndexFile), recfile.Options{
		Magic:      uriMagic,
		Version:    uriFormatVersion,
		Params:     recfile.Params{uint32(opts.TypeBytes), uint32(opts.PathBytes)},
		ReadOnly:   opts.ReadOnly,
		RecordSize: uriRecordSize,
	})
	if err != nil {
		return nil, err
	}
	idx := &URIIndex{
		file:    file,
		metrics: opts.Metrics,
		logger:  logger.WithComponent("uri-index"),
	}
	if opts.CacheSize > 0 {
		if idx.cache, err = lru.New[int64, URIEntry](opts.CacheSize); err != nil {
			file.Close()
			return nil, err
		}
	}

	p := file.Params()
	want := recfile.Params{max(p[0], uint32(opts.TypeBytes)), max(p[1], uint32(opts.PathBytes))}
	if want != p && !opts.ReadOnly {
		idx.logger.Info("uri index layout differs from configuration, resizing",
			"bytes_per_type", want[0],
			"bytes_per_path", want[1],
		)
		if err := idx.resize(want); err != nil {
			file.Close()
			return nil, err
		}
	}
	idx.metrics.SetEntries("uri", file.Entries())
	return idx, nil
}

func (idx *URIIndex) typeBytes() int { return int(idx.file.Params()[0]) }

func (idx *URIIndex) pathBytes() int { return int(idx.file.Params()[1]) }

func isLive(rec []byte) bool {
	return rec[0] != 0 && rec[0] != recfile.Tombstone
}

func isVacant(rec []byte) bool {
	return !isLive(rec)
}

func decodeURIEntry(rec []byte, typeBytes, pathBytes int) URIEntry {
	typ := rec[content.IDLength : content.IDLength+typeBytes]
	path := rec[content.IDLength+typeBytes : content.IDLength+typeBytes+pathBytes]
	if i := bytes.IndexByte(path, pathTerminator); i >= 0 {
		path = path[:i]
	}
	return URIEntry{
		ID:   string(rec[:content.IDLength]),
		Type: string(bytes.TrimRight(typ, "\x00")),
		Path: string(path),
	}
}

func encodeURIEntry(rec []byte, e URIEntry, typeBytes, pathBytes int) {
	clear(rec)
	copy(rec, e.ID)
	copy(rec[content.IDLength:], e.Type)
	off := content.IDLength + typeBytes
	n := copy(rec[off:off+pathBytes], e.Path)
	rec[off+n] = pathTerminator
}

func validateEntry(op string, e URIEntry) error {
	switch {
	case len(e.ID) != content.IDLength:
		return apperrors.Newf(apperrors.ErrInvalidInput, op, "identifier %q is not %d bytes long", e.ID, content.IDLength)
	case e.ID[0] == 0 || e.ID[0] == recfile.Tombstone:
		return apperrors.Newf(apperrors.ErrInvalidInput, op, "identifier %q starts with a reserved byte", e.ID)
	case e.Type == "":
		return apperrors.New(apperrors.ErrInvalidInput, op, "resource type is empty")
	case strings.IndexByte(e.Type, 0) >= 0:
		return apperrors.New(apperrors.ErrInvalidInput, op, "resource type contains a NUL byte")
	case strings.IndexByte(e.Path, pathTerminator) >= 0:
		return apperrors.New(apperrors.ErrInvalidInput, op, "path contains a newline")
	}
	return nil
}

// ensureCapacity doubles type and path capacity until e fits. The path
// needs one extra byte for its terminator.
func (idx *URIIndex) ensureCapacity(e URIEntry) error {
	tb, pb := idx.typeBytes(), idx.pathBytes()
	for len(e.Type) > tb {
		tb *= 2
	}
	for len(e.Path) >= pb {
		pb *= 2
	}
	if tb == idx.typeBytes() && pb == idx.pathBytes() {
		return nil
	}
	idx.logger.Info("entry exceeds slot capacity, triggering index resize",
		"type_length", len(e.Type),
		"path_length", len(e.Path),
		"bytes_per_type", tb,
		"bytes_per_path", pb,
	)
	return idx.resize(recfile.Params{uint32(tb), uint32(pb)})
}

func (idx *URIIndex) resize(params recfile.Params) error {
	oldTB, oldPB := idx.typeBytes(), idx.pathBytes()
	newTB, newPB := int(params[0]), int(params[1])
	err := idx.file.Resize(params, func(old, dst []byte) {
		switch {
		case old[0] == 0:
		case old[0] == recfile.Tombstone:
			dst[0] = recfile.Tombstone
		default:
			encodeURIEntry(dst, decodeURIEntry(old, oldTB, oldPB), newTB, newPB)
		}
	})
	if err != nil {
		return err
	}
	if idx.cache != nil {
		idx.cache.Purge()
	}
	idx.metrics.ObserveResize("uri")
	return nil
}

// Add stores a new entry and returns its address. The first tombstoned slot
// is reused before the file is extended.
func (idx *URIIndex) Add(id, typ, path string) (int64, error) {
	const op = "uri.add"
	e := URIEntry{ID: id, Type: typ, Path: path}
	if err := validateEntry(op, e); err != nil {
		return -1, err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.file.ReadOnly() {
		return -1, apperrors.ErrReadOnly
	}
	if err := idx.ensureCapacity(e); err != nil {
		return -1, err
	}

	address, err := idx.file.FindOrphan(isVacant)
	if err != nil {
		return -1, err
	}
	if address == idx.file.Slots() {
		if err := idx.file.Grow(address + 1); err != nil {
			return -1, err
		}
	}
	rec := idx.file.NewRecord()
	encodeURIEntry(rec, e, idx.typeBytes(), idx.pathBytes())
	if err := idx.file.WriteRecord(address, rec); err != nil {
		return -1, err
	}
	if err := idx.file.SetEntries(idx.file.Entries() + 1); err != nil {
		return -1, err
	}
	if idx.cache != nil {
		idx.cache.Add(address, e)
	}
	idx.metrics.SetEntries("uri", idx.file.Entries())
	idx.logger.Debug("added uri entry", "address", address, "id", id, "path", path)
	return address, nil
}

// Update overwrites type and path of the live entry at address. The
// identifier is kept.
func (idx *URIIndex) Update(address int64, typ, path string) error {
	const op = "uri.update"
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.file.ReadOnly() {
		return apperrors.ErrReadOnly
	}
	e, err := idx.get(op, address)
	if err != nil {
		return err
	}
	e.Type, e.Path = typ, path
	if err := validateEntry(op, e); err != nil {
		return err
	}
	if err := idx.ensureCapacity(e); err != nil {
		return err
	}
	rec := idx.file.NewRecord()
	encodeURIEntry(rec, e, idx.typeBytes(), idx.pathBytes())
	if err := idx.file.WriteRecord(address, rec); err != nil {
		return err
	}
	if idx.cache != nil {
		idx.cache.Add(address, e)
	}
	idx.logger.Debug("updated uri entry", "address", address, "path", path)
	return nil
}

// Delete tombstones the entry at address. The slot is not compacted.
func (idx *URIIndex) Delete(address int64) error {
	const op = "uri.delete"
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.file.ReadOnly() {
		return apperrors.ErrReadOnly
	}
	if _, err := idx.get(op, address); err != nil {
		return err
	}
	rec := idx.file.NewRecord()
	rec[0] = recfile.Tombstone
	if err := idx.file.WriteRecord(address, rec); err != nil {
		return err
	}
	if err := idx.file.SetEntries(idx.file.Entries() - 1); err != nil {
		return err
	}
	if idx.cache != nil {
		idx.cache.Remove(address)
	}
	idx.metrics.SetEntries("uri", idx.file.Entries())
	idx.logger.Debug("deleted uri entry", "address", address)
	return nil
}

// get reads the live entry at address. Callers hold idx.mu.
func (idx *URIIndex) get(op string, address int64) (URIEntry, error) {
	if idx.cache != nil {
		if e, ok := idx.cache.Get(address); ok {
			return e, nil
		}
	}
	if address < 0 || address >= idx.file.Slots() {
		return URIEntry{}, apperrors.Newf(apperrors.ErrNotFound, op, "no uri entry at address %d", address)
	}
	rec := idx.file.NewRecord()
	if err := idx.file.ReadRecord(address, rec); err != nil {
		return URIEntry{}, err
	}
	if !isLive(rec) {
		return URIEntry{}, apperrors.Newf(apperrors.ErrNotFound, op, "uri entry at address %d is deleted", address)
	}
	e := decodeURIEntry(rec, idx.typeBytes(), idx.pathBytes())
	if idx.cache != nil {
		idx.cache.Add(address, e)
	}
	return e, nil
}

// Get returns the live entry at address, or ErrNotFound for tombstoned and
// unallocated addresses.
func (idx *URIIndex) Get(address int64) (URIEntry, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.get("uri.get", address)
}

func (idx *URIIndex) GetID(address int64) (string, error) {
	e, err := idx.Get(address)
	return e.ID, err
}

func (idx *URIIndex) GetType(address int64) (string, error) {
	e, err := idx.Get(address)
	return e.Type, err
}

func (idx *URIIndex) GetPath(address int64) (string, error) {
	e, err := idx.Get(address)
	return e.Path, err
}

// Scan calls fn for every live entry in address order.
func (idx *URIIndex) Scan(fn func(address int64, e URIEntry) error) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	tb, pb := idx.typeBytes(), idx.pathBytes()
	return idx.file.Scan(func(slot int64, rec []byte) error {
		if !isLive(rec) {
			return nil
		}
		return fn(slot, decodeURIEntry(rec, tb, pb))
	})
}

// Entries is the number of live entries.
func (idx *URIIndex) Entries() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.file.Entries()
}

// Slots is the number of allocated records, live or tombstoned.
func (idx *URIIndex) Slots() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.file.Slots()
}

func (idx *URIIndex) Size() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.file.Size()
}

// PathCapacity is the current number of bytes reserved per path, including
// the terminator.
func (idx *URIIndex) PathCapacity() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.pathBytes()
}

func (idx *URIIndex) TypeCapacity() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.typeBytes()
}

// FormatVersion is the on-disk format version of the index file.
func (idx *URIIndex) FormatVersion() int {
	return int(uriFormatVersion)
}

// Clear removes every entry and keeps the current layout.
func (idx *URIIndex) Clear() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.file.Reset(idx.file.Params(), 0); err != nil {
		return err
	}
	if idx.cache != nil {
		idx.cache.Purge()
	}
	idx.metrics.SetEntries("uri", 0)
	return nil
}

func (idx *URIIndex) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.file.Close()
}
