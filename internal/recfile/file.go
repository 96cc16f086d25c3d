// Package recfile implements the fixed record file shared by every structure
// index: a 32 byte header followed by a body of equally sized records that
// are addressed by their slot number.
//
// Header layout (big-endian):
//
//	[magic:4][format version:4][param0:4][param1:4][slots:8][entries:8]
//
// The two parameters describe the record size of the concrete index (for
// example type and path capacity of the URI index). A File is not safe for
// concurrent use; the owning index serializes access.
package recfile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/digitalroastery/weblounge-sub005/pkg/errors"
	"github.com/digitalroastery/weblounge-sub005/pkg/logger"
)

const (
	// HeaderSize is the number of bytes preceding the first record.
	HeaderSize = 32

	// Tombstone marks a deleted record in its first byte. The remaining bytes
	// of a tombstoned record are zero.
	Tombstone byte = '\n'

	offSlots   = 16
	offEntries = 24
)

var errStopScan = errors.New("stop scan")

// Params are the two record-size parameters stored in the header.
type Params [2]uint32

// Header is the decoded file header.
type Header struct {
	Magic   uint32
	Version uint32
	Params  Params
	Slots   int64
	Entries int64
}

func (h Header) encode(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint32(buf[4:8], h.Version)
	binary.BigEndian.PutUint32(buf[8:12], h.Params[0])
	binary.BigEndian.PutUint32(buf[12:16], h.Params[1])
	binary.BigEndian.PutUint64(buf[offSlots:offSlots+8], uint64(h.Slots))
	binary.BigEndian.PutUint64(buf[offEntries:offEntries+8], uint64(h.Entries))
}

func decodeHeader(buf []byte) Header {
	return Header{
		Magic:   binary.BigEndian.Uint32(buf[0:4]),
		Version: binary.BigEndian.Uint32(buf[4:8]),
		Params:  Params{binary.BigEndian.Uint32(buf[8:12]), binary.BigEndian.Uint32(buf[12:16])},
		Slots:   int64(binary.BigEndian.Uint64(buf[offSlots : offSlots+8])),
		Entries: int64(binary.BigEndian.Uint64(buf[offEntries : offEntries+8])),
	}
}

// Options describe the concrete index stored in a File.
type Options struct {
	Magic   uint32
	Version uint32
	// Params are used when the file is created. Existing files keep the
	// parameters stored in their header until they are resized.
	Params   Params
	ReadOnly bool
	// InitialSlots is the number of records allocated on creation. Hashed
	// indices preallocate all buckets, sequential indices start at zero.
	InitialSlots int64
	// RecordSize computes the record length for a parameter set.
	RecordSize func(Params) int
	// EmptyRecord initializes a never used record. Nil leaves it zeroed.
	EmptyRecord func(Params, []byte)
	// SlotCapacity is the number of entries one record can hold. Nil means
	// one entry per record. Hashed indices store several addresses per
	// bucket, so their entry count may exceed the slot count.
	SlotCapacity func(Params) int64
}

// File is an open fixed record file.
type File struct {
	path       string
	opts       Options
	f          *os.File
	hdr        Header
	recordSize int
	logger     *slog.Logger
}

// Open opens or creates the file at path. An empty or missing file is
// initialized in read-write mode and rejected in read-only mode.
func Open(path string, opts Options) (*File, error) {
	const op = "recfile.open"
	if opts.RecordSize == nil {
		return nil, apperrors.New(apperrors.ErrConfiguration, op, "record size function is required")
	}
	rf := &File{
		path:   path,
		opts:   opts,
		logger: logger.WithComponent("recfile").With("file", filepath.Base(path)),
	}

	if opts.ReadOnly {
		info, err := os.Stat(path)
		if os.IsNotExist(err) || (err == nil && info.Size() == 0) {
			return nil, apperrors.Newf(apperrors.ErrConfiguration, op, "cannot open empty index %s in read-only mode", path)
		}
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		if rf.f, err = os.Open(path); err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
		if err := rf.recoverResize(); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		rf.f = f
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		if info.Size() == 0 {
			if err := rf.initialize(opts.Params, opts.InitialSlots); err != nil {
				f.Close()
				return nil, err
			}
			rf.logger.Debug("index file created",
				"slots", opts.InitialSlots,
				"record_size", rf.recordSize,
			)
			return rf, nil
		}
	}

	if err := rf.loadHeader(); err != nil {
		rf.f.Close()
		return nil, err
	}
	return rf, nil
}

func (rf *File) loadHeader() error {
	const op = "recfile.open"
	buf := make([]byte, HeaderSize)
	if _, err := rf.f.ReadAt(buf, 0); err != nil {
		return apperrors.Newf(apperrors.ErrCorrupt, op, "reading header of %s: %v", rf.path, err)
	}
	hdr := decodeHeader(buf)
	if hdr.Magic != rf.opts.Magic {
		return apperrors.Newf(apperrors.ErrCorrupt, op, "%s: bad magic 0x%08x", rf.path, hdr.Magic)
	}
	if hdr.Version != rf.opts.Version {
		return apperrors.Newf(apperrors.ErrConfiguration, op, "%s: unsupported format version %d", rf.path, hdr.Version)
	}
	recordSize := rf.opts.RecordSize(hdr.Params)
	if recordSize <= 0 {
		return apperrors.Newf(apperrors.ErrCorrupt, op, "%s: invalid record parameters %v", rf.path, hdr.Params)
	}
	if hdr.Slots < 0 || hdr.Entries < 0 || hdr.Entries > hdr.Slots*rf.slotCapacity(hdr.Params) {
		return apperrors.Newf(apperrors.ErrCorrupt, op, "%s: invalid counters slots=%d entries=%d", rf.path, hdr.Slots, hdr.Entries)
	}
	info, err := rf.f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", rf.path, err)
	}
	if want := int64(HeaderSize) + hdr.Slots*int64(recordSize); info.Size() < want {
		return apperrors.Newf(apperrors.ErrCorrupt, op, "%s: truncated, %d bytes < %d", rf.path, info.Size(), want)
	}
	rf.hdr = hdr
	rf.recordSize = recordSize
	return nil
}

func (rf *File) slotCapacity(params Params) int64 {
	if rf.opts.SlotCapacity == nil {
		return 1
	}
	return rf.opts.SlotCapacity(params)
}

// recoverResize deals with a "<name>_resized" file left behind by a resize
// that did not finish. While the original exists the leftover is incomplete
// or was never promoted, and the original is still authoritative. Without
// an original the leftover is the only copy and takes its place.
func (rf *File) recoverResize() error {
	tmpPath := resizedName(rf.path)
	if _, err := os.Stat(tmpPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", tmpPath, err)
	}
	_, err := os.Stat(rf.path)
	switch {
	case err == nil:
		rf.logger.Warn("discarding unfinished resize", "resized_file", filepath.Base(tmpPath))
		if err := os.Remove(tmpPath); err != nil {
			return fmt.Errorf("removing %s: %w", tmpPath, err)
		}
		return nil
	case os.IsNotExist(err):
		rf.logger.Warn("promoting resized file", "resized_file", filepath.Base(tmpPath))
		if err := os.Rename(tmpPath, rf.path); err != nil {
			return fmt.Errorf("renaming %s: %w", tmpPath, err)
		}
		return syncDir(filepath.Dir(rf.path))
	default:
		return fmt.Errorf("stat %s: %w", rf.path, err)
	}
}

// initialize writes a fresh header and a body of empty records.
func (rf *File) initialize(params Params, slots int64) error {
	if rf.opts.ReadOnly {
		return apperrors.ErrReadOnly
	}
	rf.hdr = Header{
		Magic:   rf.opts.Magic,
		Version: rf.opts.Version,
		Params:  params,
		Slots:   slots,
	}
	rf.recordSize = rf.opts.RecordSize(params)
	if err := rf.f.Truncate(0); err != nil {
		return fmt.Errorf("truncating %s: %w", rf.path, err)
	}
	w := bufio.NewWriterSize(io.NewOffsetWriter(rf.f, 0), 64*1024)
	if err := rf.writeBody(w, rf.hdr, func(int64, []byte) {}); err != nil {
		return err
	}
	return datasync(rf.f)
}

// writeBody writes hdr followed by hdr.Slots records. fill populates each
// record after it has been initialized as empty.
func (rf *File) writeBody(w *bufio.Writer, hdr Header, fill func(slot int64, rec []byte)) error {
	hbuf := make([]byte, HeaderSize)
	hdr.encode(hbuf)
	if _, err := w.Write(hbuf); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	rec := make([]byte, rf.opts.RecordSize(hdr.Params))
	for slot := int64(0); slot < hdr.Slots; slot++ {
		rf.empty(hdr.Params, rec)
		fill(slot, rec)
		if _, err := w.Write(rec); err != nil {
			return fmt.Errorf("writing record %d: %w", slot, err)
		}
	}
	return w.Flush()
}

func (rf *File) empty(params Params, rec []byte) {
	clear(rec)
	if rf.opts.EmptyRecord != nil {
		rf.opts.EmptyRecord(params, rec)
	}
}

// Empty initializes rec as a never used record for the current layout.
func (rf *File) Empty(rec []byte) {
	rf.empty(rf.hdr.Params, rec)
}

func (rf *File) Path() string { return rf.path }

func (rf *File) ReadOnly() bool { return rf.opts.ReadOnly }

func (rf *File) Header() Header { return rf.hdr }

func (rf *File) Params() Params { return rf.hdr.Params }

func (rf *File) Slots() int64 { return rf.hdr.Slots }

func (rf *File) Entries() int64 { return rf.hdr.Entries }

func (rf *File) RecordSize() int { return rf.recordSize }

// NewRecord allocates a buffer for one record of the current layout.
func (rf *File) NewRecord() []byte { return make([]byte, rf.recordSize) }

func (rf *File) offset(slot int64) int64 {
	return HeaderSize + slot*int64(rf.recordSize)
}

// Size is the logical size of the file: header plus all allocated records.
func (rf *File) Size() int64 {
	return rf.offset(rf.hdr.Slots)
}

func (rf *File) checkSlot(op string, slot int64) error {
	if slot < 0 || slot >= rf.hdr.Slots {
		return apperrors.Newf(apperrors.ErrNotFound, op, "slot %d out of range [0,%d)", slot, rf.hdr.Slots)
	}
	return nil
}

// ReadRecord reads the full record at slot into buf.
func (rf *File) ReadRecord(slot int64, buf []byte) error {
	return rf.ReadAt(slot, 0, buf[:rf.recordSize])
}

// ReadAt reads len(buf) bytes starting off bytes into the record at slot.
func (rf *File) ReadAt(slot int64, off int, buf []byte) error {
	if err := rf.checkSlot("recfile.read", slot); err != nil {
		return err
	}
	if off+len(buf) > rf.recordSize {
		return apperrors.Newf(apperrors.ErrInvalidInput, "recfile.read", "read of %d bytes at %d exceeds record size %d", len(buf), off, rf.recordSize)
	}
	if _, err := rf.f.ReadAt(buf, rf.offset(slot)+int64(off)); err != nil {
		return fmt.Errorf("reading slot %d of %s: %w", slot, rf.path, err)
	}
	return nil
}

// WriteRecord overwrites the full record at slot.
func (rf *File) WriteRecord(slot int64, buf []byte) error {
	return rf.WriteAt(slot, 0, buf[:rf.recordSize])
}

// WriteAt writes buf starting off bytes into the record at slot.
func (rf *File) WriteAt(slot int64, off int, buf []byte) error {
	if rf.opts.ReadOnly {
		return apperrors.ErrReadOnly
	}
	if err := rf.checkSlot("recfile.write", slot); err != nil {
		return err
	}
	if off+len(buf) > rf.recordSize {
		return apperrors.Newf(apperrors.ErrInvalidInput, "recfile.write", "write of %d bytes at %d exceeds record size %d", len(buf), off, rf.recordSize)
	}
	if _, err := rf.f.WriteAt(buf, rf.offset(slot)+int64(off)); err != nil {
		return fmt.Errorf("writing slot %d of %s: %w", slot, rf.path, err)
	}
	return nil
}

// SetEntries persists a new live entry count.
func (rf *File) SetEntries(entries int64) error {
	if rf.opts.ReadOnly {
		return apperrors.ErrReadOnly
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(entries))
	if _, err := rf.f.WriteAt(buf, offEntries); err != nil {
		return fmt.Errorf("writing entry count of %s: %w", rf.path, err)
	}
	rf.hdr.Entries = entries
	return nil
}

// Grow appends empty records until the file holds at least slots records.
func (rf *File) Grow(slots int64) error {
	if rf.opts.ReadOnly {
		return apperrors.ErrReadOnly
	}
	if slots <= rf.hdr.Slots {
		return nil
	}
	w := bufio.NewWriterSize(io.NewOffsetWriter(rf.f, rf.offset(rf.hdr.Slots)), 64*1024)
	rec := rf.NewRecord()
	for slot := rf.hdr.Slots; slot < slots; slot++ {
		rf.Empty(rec)
		if _, err := w.Write(rec); err != nil {
			return fmt.Errorf("growing %s: %w", rf.path, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("growing %s: %w", rf.path, err)
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(slots))
	if _, err := rf.f.WriteAt(buf, offSlots); err != nil {
		return fmt.Errorf("writing slot count of %s: %w", rf.path, err)
	}
	rf.hdr.Slots = slots
	return nil
}

// Scan calls fn for every record in slot order. The record buffer is reused
// between calls. Returning a non-nil error stops the scan.
func (rf *File) Scan(fn func(slot int64, rec []byte) error) error {
	r := bufio.NewReaderSize(io.NewSectionReader(rf.f, HeaderSize, rf.hdr.Slots*int64(rf.recordSize)), 64*1024)
	rec := rf.NewRecord()
	for slot := int64(0); slot < rf.hdr.Slots; slot++ {
		if _, err := io.ReadFull(r, rec); err != nil {
			return fmt.Errorf("scanning slot %d of %s: %w", slot, rf.path, err)
		}
		if err := fn(slot, rec); err != nil {
			return err
		}
	}
	return nil
}

// FindOrphan returns the first slot whose record satisfies isOrphan, or
// Slots() when every allocated record is in use. The scan is skipped when
// the entry count shows that there is no gap.
func (rf *File) FindOrphan(isOrphan func(rec []byte) bool) (int64, error) {
	if rf.hdr.Entries >= rf.hdr.Slots {
		return rf.hdr.Slots, nil
	}
	found := rf.hdr.Slots
	err := rf.Scan(func(slot int64, rec []byte) error {
		if isOrphan(rec) {
			found = slot
			return errStopScan
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return 0, err
	}
	return found, nil
}

// Shrinks reports whether params would produce smaller records than the
// current layout.
func (rf *File) Shrinks(params Params) bool {
	return rf.opts.RecordSize(params) < rf.recordSize
}

// Resize rebuilds the file with a new record layout. Every record is handed
// to migrate together with an empty record of the new layout, at the same
// slot. The rebuilt file is written to "<name>_resized", synced and then
// renamed over the original, so the path always names a complete file.
func (rf *File) Resize(params Params, migrate func(old, dst []byte)) error {
	const op = "recfile.resize"
	if rf.opts.ReadOnly {
		return apperrors.ErrReadOnly
	}
	if rf.hdr.Entries > 0 && rf.Shrinks(params) {
		return apperrors.Newf(apperrors.ErrInvalidState, op,
			"cannot shrink %s from %v to %v while it holds %d entries", rf.path, rf.hdr.Params, params, rf.hdr.Entries)
	}

	start := time.Now()
	tmpPath := resizedName(rf.path)
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmpPath, err)
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	newHdr := rf.hdr
	newHdr.Params = params
	src := bufio.NewReaderSize(io.NewSectionReader(rf.f, HeaderSize, rf.hdr.Slots*int64(rf.recordSize)), 64*1024)
	old := rf.NewRecord()
	var readErr error
	w := bufio.NewWriterSize(tmp, 64*1024)
	err = rf.writeBody(w, newHdr, func(slot int64, dst []byte) {
		if readErr != nil {
			return
		}
		if _, readErr = io.ReadFull(src, old); readErr != nil {
			return
		}
		migrate(old, dst)
	})
	if err == nil {
		err = readErr
	}
	if err == nil {
		err = datasync(tmp)
	}
	if err != nil {
		cleanup()
		return fmt.Errorf("resizing %s: %w", rf.path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing %s: %w", tmpPath, err)
	}

	f, err := os.OpenFile(tmpPath, os.O_RDWR, 0o644)
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("reopening %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, rf.path); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("renaming %s: %w", tmpPath, err)
	}
	if err := syncDir(filepath.Dir(rf.path)); err != nil {
		rf.logger.Warn("syncing index directory after resize", "error", err)
	}
	rf.f.Close()
	oldParams := rf.hdr.Params
	rf.f = f
	rf.hdr = newHdr
	rf.recordSize = rf.opts.RecordSize(params)

	rf.logger.Info("index resized",
		"old_params", oldParams,
		"new_params", params,
		"slots", newHdr.Slots,
		"entries", newHdr.Entries,
		"duration", time.Since(start),
	)
	return nil
}

// Reset discards all records and reinitializes the file with the given
// layout.
func (rf *File) Reset(params Params, slots int64) error {
	if rf.opts.ReadOnly {
		return apperrors.ErrReadOnly
	}
	return rf.initialize(params, slots)
}

// Sync flushes written records to stable storage.
func (rf *File) Sync() error {
	if rf.opts.ReadOnly {
		return nil
	}
	return datasync(rf.f)
}

func (rf *File) Close() error {
	if rf.f == nil {
		return nil
	}
	var err error
	if !rf.opts.ReadOnly {
		err = datasync(rf.f)
	}
	if cerr := rf.f.Close(); err == nil {
		err = cerr
	}
	rf.f = nil
	return err
}

func resizedName(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_resized" + ext
}
