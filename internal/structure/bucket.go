package structure

import (
	"encoding/binary"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/digitalroastery/weblounge-sub005/internal/recfile"
	apperrors "github.com/digitalroastery/weblounge-sub005/pkg/errors"
	"github.com/digitalroastery/weblounge-sub005/pkg/logger"
	"github.com/digitalroastery/weblounge-sub005/pkg/metrics"
)

const (
	bucketFormatVersion uint32 = 1

	// noAddress fills unused bucket positions.
	noAddress int64 = -1

	bucketCountBytes   = 4
	bucketAddressBytes = 8
)

// BucketOptions configure a hashed index. Zero values fall back to the
// defaults of 128 slots with 64 addresses each.
type BucketOptions struct {
	ReadOnly       bool
	Slots          int
	EntriesPerSlot int
	Metrics        *metrics.Metrics
}

// bucketIndex maps string keys to URI addresses through a fixed number of
// hash buckets. A bucket may hold addresses of different keys whose hashes
// collide, so callers verify every candidate against the URI index.
//
// Slot layout: [count:4][address:8]*entriesPerSlot, unused positions hold
// noAddress. When a bucket overflows, every bucket doubles its capacity.
type bucketIndex struct {
	name    string
	mu      sync.RWMutex
	file    *recfile.File
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func bucketRecordSize(p recfile.Params) int {
	return bucketCountBytes + int(p[0])*bucketAddressBytes
}

func emptyBucket(p recfile.Params, rec []byte) {
	for i := 0; i < int(p[0]); i++ {
		putBucketAddress(rec, i, noAddress)
	}
}

func bucketAddress(rec []byte, i int) int64 {
	off := bucketCountBytes + i*bucketAddressBytes
	return int64(binary.BigEndian.Uint64(rec[off : off+bucketAddressBytes]))
}

func putBucketAddress(rec []byte, i int, address int64) {
	off := bucketCountBytes + i*bucketAddressBytes
	binary.BigEndian.PutUint64(rec[off:off+bucketAddressBytes], uint64(address))
}

func bucketCount(rec []byte) int {
	return int(binary.BigEndian.Uint32(rec[:bucketCountBytes]))
}

func putBucketCount(rec []byte, n int) {
	binary.BigEndian.PutUint32(rec[:bucketCountBytes], uint32(n))
}

func openBucketIndex(dir, fileName, name string, magic uint32, opts BucketOptions) (*bucketIndex, error) {
	if opts.Slots <= 0 {
		opts.Slots = 128
	}
	if opts.EntriesPerSlot <= 0 {
		opts.EntriesPerSlot = 64
	}
	file, err := recfile.Open(filepath.Join(dir, fileName), recfile.Options{
		Magic:        magic,
		Version:      bucketFormatVersion,
		Params:       recfile.Params{uint32(opts.EntriesPerSlot), 0},
		ReadOnly:     opts.ReadOnly,
		InitialSlots: int64(opts.Slots),
		RecordSize:   bucketRecordSize,
		EmptyRecord:  emptyBucket,
		SlotCapacity: func(p recfile.Params) int64 { return int64(p[0]) },
	})
	if err != nil {
		return nil, err
	}
	idx := &bucketIndex{
		name:    name,
		file:    file,
		metrics: opts.Metrics,
		logger:  logger.WithComponent(name + "-index"),
	}

	if opts.ReadOnly {
		return idx, nil
	}
	if file.Slots() != int64(opts.Slots) {
		if err := idx.resizeSlots(int64(opts.Slots)); err != nil {
			idx.logger.Warn("keeping existing slot count",
				"slots", file.Slots(),
				"configured_slots", opts.Slots,
				"error", err,
			)
		}
	}
	if eps := uint32(opts.EntriesPerSlot); eps > file.Params()[0] {
		if err := idx.resize(eps); err != nil {
			file.Close()
			return nil, err
		}
	}
	idx.metrics.SetEntries(name, file.Entries())
	return idx, nil
}

// resizeSlots changes the number of buckets. Addresses would have to be
// rehashed, so this is only allowed while the index is empty.
func (idx *bucketIndex) resizeSlots(slots int64) error {
	if idx.file.Entries() > 0 {
		return apperrors.Newf(apperrors.ErrInvalidState, idx.name+".resize",
			"cannot change slot count from %d to %d while the index holds %d entries", idx.file.Slots(), slots, idx.file.Entries())
	}
	return idx.file.Reset(idx.file.Params(), slots)
}

func (idx *bucketIndex) resize(entriesPerSlot uint32) error {
	err := idx.file.Resize(recfile.Params{entriesPerSlot, 0}, func(old, dst []byte) {
		n := bucketCount(old)
		putBucketCount(dst, n)
		copy(dst[bucketCountBytes:], old[bucketCountBytes:bucketCountBytes+n*bucketAddressBytes])
	})
	if err != nil {
		return err
	}
	idx.metrics.ObserveResize(idx.name)
	return nil
}

func (idx *bucketIndex) slotOf(key string) int64 {
	return int64(xxhash.Sum64String(key) % uint64(idx.file.Slots()))
}

func (idx *bucketIndex) readBucket(slot int64) ([]byte, error) {
	rec := idx.file.NewRecord()
	if err := idx.file.ReadRecord(slot, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Locate returns every address stored in the bucket of key. The result may
// contain addresses of other keys sharing the bucket.
func (idx *bucketIndex) Locate(key string) ([]int64, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	rec, err := idx.readBucket(idx.slotOf(key))
	if err != nil {
		return nil, err
	}
	n := bucketCount(rec)
	addresses := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		addresses = append(addresses, bucketAddress(rec, i))
	}
	return addresses, nil
}

// Add appends address to the bucket of key. Adding an address that is
// already in the bucket is a no-op. A full bucket doubles the capacity of
// every bucket.
func (idx *bucketIndex) Add(key string, address int64) error {
	if address < 0 {
		return apperrors.Newf(apperrors.ErrInvalidInput, idx.name+".add", "invalid address %d", address)
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.file.ReadOnly() {
		return apperrors.ErrReadOnly
	}
	slot := idx.slotOf(key)
	rec, err := idx.readBucket(slot)
	if err != nil {
		return err
	}
	n := bucketCount(rec)
	for i := 0; i < n; i++ {
		if bucketAddress(rec, i) == address {
			return nil
		}
	}

	if eps := int(idx.file.Params()[0]); n >= eps {
		idx.logger.Info("bucket is full, triggering index resize",
			"slot", slot,
			"entries_per_slot", eps,
			"new_entries_per_slot", eps*2,
		)
		if err := idx.resize(uint32(eps * 2)); err != nil {
			return err
		}
		if rec, err = idx.readBucket(slot); err != nil {
			return err
		}
	}

	putBucketAddress(rec, n, address)
	putBucketCount(rec, n+1)
	if err := idx.file.WriteRecord(slot, rec); err != nil {
		return err
	}
	if err := idx.file.SetEntries(idx.file.Entries() + 1); err != nil {
		return err
	}
	idx.metrics.SetEntries(idx.name, idx.file.Entries())
	idx.logger.Debug("added bucket entry", "slot", slot, "address", address)
	return nil
}

// Delete removes address from the bucket of key and shifts the following
// addresses left. A missing address is an internal consistency violation.
func (idx *bucketIndex) Delete(key string, address int64) error {
	const opSuffix = ".delete"
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.file.ReadOnly() {
		return apperrors.ErrReadOnly
	}
	slot := idx.slotOf(key)
	rec, err := idx.readBucket(slot)
	if err != nil {
		return err
	}
	n := bucketCount(rec)
	addresses := make([]int64, n)
	for i := range addresses {
		addresses[i] = bucketAddress(rec, i)
	}
	pos := slices.Index(addresses, address)
	if pos < 0 {
		return apperrors.Newf(apperrors.ErrInternalConsistency, idx.name+opSuffix,
			"address %d is not stored in slot %d", address, slot)
	}
	addresses = slices.Delete(addresses, pos, pos+1)
	for i, a := range addresses {
		putBucketAddress(rec, i, a)
	}
	putBucketAddress(rec, len(addresses), noAddress)
	putBucketCount(rec, len(addresses))
	if err := idx.file.WriteRecord(slot, rec); err != nil {
		return err
	}
	if err := idx.file.SetEntries(idx.file.Entries() - 1); err != nil {
		return err
	}
	idx.metrics.SetEntries(idx.name, idx.file.Entries())
	idx.logger.Debug("deleted bucket entry", "slot", slot, "address", address)
	return nil
}

// Scan calls fn with every address stored in the index, bucket by bucket.
func (idx *bucketIndex) Scan(fn func(slot int64, address int64) error) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.file.Scan(func(slot int64, rec []byte) error {
		for i := 0; i < bucketCount(rec); i++ {
			if err := fn(slot, bucketAddress(rec, i)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Entries is the number of stored addresses.
func (idx *bucketIndex) Entries() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.file.Entries()
}

// Slots is the number of hash buckets.
func (idx *bucketIndex) Slots() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.file.Slots()
}

// EntriesPerSlot is the current capacity of every bucket.
func (idx *bucketIndex) EntriesPerSlot() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return int(idx.file.Params()[0])
}

// LoadFactor is the ratio of stored addresses to total bucket capacity.
func (idx *bucketIndex) LoadFactor() float64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	capacity := idx.file.Slots() * int64(idx.file.Params()[0])
	if capacity == 0 {
		return 0
	}
	return float64(idx.file.Entries()) / float64(capacity)
}

func (idx *bucketIndex) Size() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.file.Size()
}

func (idx *bucketIndex) FormatVersion() int {
	return int(bucketFormatVersion)
}

// Clear empties every bucket and keeps the current layout.
func (idx *bucketIndex) Clear() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.file.Reset(idx.file.Params(), idx.file.Slots()); err != nil {
		return err
	}
	idx.metrics.SetEntries(idx.name, 0)
	return nil
}

func (idx *bucketIndex) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.file.Close()
}
