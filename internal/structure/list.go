package structure

import (
	"encoding/binary"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"

	"github.com/digitalroastery/weblounge-sub005/internal/content"
	"github.com/digitalroastery/weblounge-sub005/internal/recfile"
	apperrors "github.com/digitalroastery/weblounge-sub005/pkg/errors"
	"github.com/digitalroastery/weblounge-sub005/pkg/logger"
	"github.com/digitalroastery/weblounge-sub005/pkg/metrics"
)

const (
	listFormatVersion uint32 = 1
	listCountBytes           = 4
)

// ListOptions configure the version and language indices. A zero capacity
// falls back to 10 values per entry.
type ListOptions struct {
	ReadOnly bool
	Capacity int
	Metrics  *metrics.Metrics
}

// listIndex stores a small set of fixed width values per URI address.
// Entries live at the slot of their URI address, which makes the list index
// grow alongside the URI index.
//
// Entry layout: [id:bytesPerId][count:4][value:valueSize]*capacity. When an
// entry overflows, the capacity of every entry is doubled.
type listIndex struct {
	name      string
	valueSize int
	// keepEmpty keeps an entry with zero values instead of deleting it once
	// its last value is removed.
	keepEmpty bool
	mu        sync.RWMutex
	file      *recfile.File
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func openListIndex(dir, fileName, name string, magic uint32, valueSize int, keepEmpty bool, opts ListOptions) (*listIndex, error) {
	if opts.Capacity <= 0 {
		opts.Capacity = 10
	}
	file, err := recfile.Open(filepath.Join(dir, fileName), recfile.Options{
		Magic:    magic,
		Version:  listFormatVersion,
		Params:   recfile.Params{content.IDLength, uint32(opts.Capacity)},
		ReadOnly: opts.ReadOnly,
		RecordSize: func(p recfile.Params) int {
			return int(p[0]) + listCountBytes + int(p[1])*valueSize
		},
	})
	if err != nil {
		return nil, err
	}
	idx := &listIndex{
		name:      name,
		valueSize: valueSize,
		keepEmpty: keepEmpty,
		file:      file,
		metrics:   opts.Metrics,
		logger:    logger.WithComponent(name + "-index"),
	}
	if p := file.Params(); p[0] != content.IDLength {
		file.Close()
		return nil, apperrors.Newf(apperrors.ErrConfiguration, name+".open", "unsupported identifier width %d", p[0])
	}
	if c := uint32(opts.Capacity); c > file.Params()[1] && !opts.ReadOnly {
		if err := idx.resize(c); err != nil {
			file.Close()
			return nil, err
		}
	}
	idx.metrics.SetEntries(name, file.Entries())
	return idx, nil
}

func (idx *listIndex) capacity() int { return int(idx.file.Params()[1]) }

func (idx *listIndex) countOffset() int { return int(idx.file.Params()[0]) }

// listEntry is a decoded list record.
type listEntry struct {
	id     string
	values []string
}

func (idx *listIndex) decode(rec []byte) listEntry {
	off := idx.countOffset()
	n := int(binary.BigEndian.Uint32(rec[off : off+listCountBytes]))
	n = min(n, idx.capacity())
	e := listEntry{id: string(rec[:off]), values: make([]string, 0, n)}
	pos := off + listCountBytes
	for i := 0; i < n; i++ {
		e.values = append(e.values, string(rec[pos:pos+idx.valueSize]))
		pos += idx.valueSize
	}
	return e
}

func (idx *listIndex) encode(rec []byte, e listEntry) {
	clear(rec)
	copy(rec, e.id)
	off := idx.countOffset()
	binary.BigEndian.PutUint32(rec[off:off+listCountBytes], uint32(len(e.values)))
	pos := off + listCountBytes
	for _, v := range e.values {
		copy(rec[pos:pos+idx.valueSize], v)
		pos += idx.valueSize
	}
}

func (idx *listIndex) resize(capacity uint32) error {
	oldCapacity := idx.capacity()
	err := idx.file.Resize(recfile.Params{content.IDLength, capacity}, func(old, dst []byte) {
		// Records grow at the tail only; id and count keep their offsets.
		n := min(len(old), content.IDLength+listCountBytes+oldCapacity*idx.valueSize)
		copy(dst, old[:n])
	})
	if err != nil {
		return err
	}
	idx.metrics.ObserveResize(idx.name)
	return nil
}

// ensureCapacity doubles the per entry capacity until n values fit.
func (idx *listIndex) ensureCapacity(n int) error {
	c := idx.capacity()
	for n > c {
		c *= 2
	}
	if c == idx.capacity() {
		return nil
	}
	idx.logger.Info("entry exceeds capacity, triggering index resize",
		"values", n,
		"capacity", idx.capacity(),
		"new_capacity", c,
	)
	return idx.resize(uint32(c))
}

// load returns the live entry at address. Callers hold idx.mu.
func (idx *listIndex) load(op string, address int64) (listEntry, error) {
	if address < 0 || address >= idx.file.Slots() {
		return listEntry{}, apperrors.Newf(apperrors.ErrNotFound, op, "no %s entry at address %d", idx.name, address)
	}
	rec := idx.file.NewRecord()
	if err := idx.file.ReadRecord(address, rec); err != nil {
		return listEntry{}, err
	}
	if !isLive(rec) {
		return listEntry{}, apperrors.Newf(apperrors.ErrNotFound, op, "no %s entry at address %d", idx.name, address)
	}
	return idx.decode(rec), nil
}

// store writes e at address, extending the file to cover the address and
// growing the capacity as needed. Callers hold idx.mu.
func (idx *listIndex) store(address int64, e listEntry) error {
	if err := idx.ensureCapacity(len(e.values)); err != nil {
		return err
	}
	wasLive := false
	if address < idx.file.Slots() {
		rec := idx.file.NewRecord()
		if err := idx.file.ReadRecord(address, rec); err != nil {
			return err
		}
		wasLive = isLive(rec)
	} else if err := idx.file.Grow(address + 1); err != nil {
		return err
	}
	rec := idx.file.NewRecord()
	idx.encode(rec, e)
	if err := idx.file.WriteRecord(address, rec); err != nil {
		return err
	}
	if !wasLive {
		if err := idx.file.SetEntries(idx.file.Entries() + 1); err != nil {
			return err
		}
		idx.metrics.SetEntries(idx.name, idx.file.Entries())
	}
	return nil
}

func (idx *listIndex) checkWritable(op, id string) error {
	if idx.file.ReadOnly() {
		return apperrors.ErrReadOnly
	}
	if len(id) != content.IDLength {
		return apperrors.Newf(apperrors.ErrInvalidInput, op, "identifier %q is not %d bytes long", id, content.IDLength)
	}
	return nil
}

// put replaces the entry at address.
func (idx *listIndex) put(address int64, id string, values []string) error {
	op := idx.name + ".put"
	if address < 0 {
		return apperrors.Newf(apperrors.ErrInvalidInput, op, "invalid address %d", address)
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.checkWritable(op, id); err != nil {
		return err
	}
	return idx.store(address, listEntry{id: id, values: dedupe(values)})
}

// register stores a new entry in the first vacant slot and returns its
// address.
func (idx *listIndex) register(id string, values []string) (int64, error) {
	op := idx.name + ".register"
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.checkWritable(op, id); err != nil {
		return -1, err
	}
	address, err := idx.file.FindOrphan(isVacant)
	if err != nil {
		return -1, err
	}
	if err := idx.store(address, listEntry{id: id, values: dedupe(values)}); err != nil {
		return -1, err
	}
	return address, nil
}

// add appends value to the entry at address unless it is already present.
func (idx *listIndex) add(address int64, value string) error {
	op := idx.name + ".add"
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.file.ReadOnly() {
		return apperrors.ErrReadOnly
	}
	e, err := idx.load(op, address)
	if err != nil {
		return err
	}
	if slices.Contains(e.values, value) {
		return nil
	}
	e.values = append(e.values, value)
	return idx.store(address, e)
}

// upsert appends value to the entry at address, creating the entry for id
// if the address holds none.
func (idx *listIndex) upsert(address int64, id, value string) error {
	op := idx.name + ".upsert"
	if address < 0 {
		return apperrors.Newf(apperrors.ErrInvalidInput, op, "invalid address %d", address)
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.checkWritable(op, id); err != nil {
		return err
	}
	e, err := idx.load(op, address)
	switch {
	case apperrors.Is(err, apperrors.ErrNotFound):
		e = listEntry{id: id}
	case err != nil:
		return err
	case slices.Contains(e.values, value):
		return nil
	}
	e.values = append(e.values, value)
	return idx.store(address, e)
}

// remove drops value from the entry at address. Removing the last value
// deletes the entry unless the index keeps empty entries.
func (idx *listIndex) remove(address int64, value string) error {
	op := idx.name + ".remove"
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.file.ReadOnly() {
		return apperrors.ErrReadOnly
	}
	e, err := idx.load(op, address)
	if err != nil {
		return err
	}
	pos := slices.Index(e.values, value)
	if pos < 0 {
		return apperrors.Newf(apperrors.ErrInvalidState, op, "value is not part of the %s entry at address %d", idx.name, address)
	}
	e.values = slices.Delete(e.values, pos, pos+1)
	if len(e.values) == 0 && !idx.keepEmpty {
		return idx.tombstone(address)
	}
	return idx.store(address, e)
}

// tombstone deletes the live entry at address. Callers hold idx.mu.
func (idx *listIndex) tombstone(address int64) error {
	rec := idx.file.NewRecord()
	rec[0] = recfile.Tombstone
	if err := idx.file.WriteRecord(address, rec); err != nil {
		return err
	}
	if err := idx.file.SetEntries(idx.file.Entries() - 1); err != nil {
		return err
	}
	idx.metrics.SetEntries(idx.name, idx.file.Entries())
	idx.logger.Debug("deleted entry", "address", address)
	return nil
}

// Delete removes the whole entry at address.
func (idx *listIndex) Delete(address int64) error {
	op := idx.name + ".delete"
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.file.ReadOnly() {
		return apperrors.ErrReadOnly
	}
	if _, err := idx.load(op, address); err != nil {
		return err
	}
	return idx.tombstone(address)
}

func (idx *listIndex) values(address int64) ([]string, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, err := idx.load(idx.name+".get", address)
	if err != nil {
		return nil, err
	}
	return e.values, nil
}

func (idx *listIndex) has(address int64, value string) (bool, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, err := idx.load(idx.name+".has", address)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return slices.Contains(e.values, value), nil
}

// Contains reports whether a live entry exists at address.
func (idx *listIndex) Contains(address int64) (bool, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, err := idx.load(idx.name+".contains", address)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// ID returns the resource identifier stored with the entry at address.
func (idx *listIndex) ID(address int64) (string, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, err := idx.load(idx.name+".id", address)
	return e.id, err
}

// Scan calls fn for every live entry in address order.
func (idx *listIndex) scan(fn func(address int64, id string, values []string) error) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.file.Scan(func(slot int64, rec []byte) error {
		if !isLive(rec) {
			return nil
		}
		e := idx.decode(rec)
		return fn(slot, e.id, e.values)
	})
}

// Entries is the number of live entries.
func (idx *listIndex) Entries() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.file.Entries()
}

func (idx *listIndex) Slots() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.file.Slots()
}

// Capacity is the number of values every entry can hold before the next
// resize.
func (idx *listIndex) Capacity() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.capacity()
}

func (idx *listIndex) Size() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.file.Size()
}

func (idx *listIndex) FormatVersion() int {
	return int(listFormatVersion)
}

// Clear removes every entry and keeps the current capacity.
func (idx *listIndex) Clear() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.file.Reset(idx.file.Params(), 0); err != nil {
		return err
	}
	idx.metrics.SetEntries(idx.name, 0)
	return nil
}

func (idx *listIndex) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.file.Close()
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
