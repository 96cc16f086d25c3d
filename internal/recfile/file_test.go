package recfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/digitalroastery/weblounge-sub005/pkg/errors"
)

func testOptions(size uint32) Options {
	return Options{
		Magic:      0x54455354,
		Version:    1,
		Params:     Params{size, 0},
		RecordSize: func(p Params) int { return int(p[0]) },
	}
}

func TestOpenCreatesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "test.idx")
	opts := testOptions(16)
	opts.InitialSlots = 4
	rf, err := Open(path, opts)
	require.NoError(t, err)
	defer rf.Close()

	assert.Equal(t, int64(4), rf.Slots())
	assert.Equal(t, int64(0), rf.Entries())
	assert.Equal(t, int64(HeaderSize+4*16), rf.Size())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, rf.Size(), info.Size())
}

func TestOpenReadOnlyMissingFails(t *testing.T) {
	opts := testOptions(16)
	opts.ReadOnly = true
	_, err := Open(filepath.Join(t.TempDir(), "missing.idx"), opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ro.idx")
	opts := testOptions(8)
	opts.InitialSlots = 1
	rf, err := Open(path, opts)
	require.NoError(t, err)
	require.NoError(t, rf.Close())

	opts.ReadOnly = true
	ro, err := Open(path, opts)
	require.NoError(t, err)
	defer ro.Close()

	assert.ErrorIs(t, ro.WriteRecord(0, make([]byte, 8)), apperrors.ErrReadOnly)
	assert.ErrorIs(t, ro.Grow(4), apperrors.ErrInvalidState)
	assert.ErrorIs(t, ro.Resize(Params{16, 0}, func(_, _ []byte) {}), apperrors.ErrReadOnly)
}

func TestRecordsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.idx")
	rf, err := Open(path, testOptions(4))
	require.NoError(t, err)
	require.NoError(t, rf.Grow(3))
	require.NoError(t, rf.WriteRecord(2, []byte("abcd")))
	require.NoError(t, rf.SetEntries(1))
	require.NoError(t, rf.Close())

	rf, err = Open(path, testOptions(4))
	require.NoError(t, err)
	defer rf.Close()
	assert.Equal(t, int64(3), rf.Slots())
	assert.Equal(t, int64(1), rf.Entries())
	buf := rf.NewRecord()
	require.NoError(t, rf.ReadRecord(2, buf))
	assert.Equal(t, "abcd", string(buf))

	err = rf.ReadRecord(3, buf)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestFindOrphan(t *testing.T) {
	rf, err := Open(filepath.Join(t.TempDir(), "orphans.idx"), testOptions(2))
	require.NoError(t, err)
	defer rf.Close()

	require.NoError(t, rf.Grow(3))
	for slot := int64(0); slot < 3; slot++ {
		require.NoError(t, rf.WriteRecord(slot, []byte{'x', byte(slot)}))
	}
	require.NoError(t, rf.SetEntries(3))
	isOrphan := func(rec []byte) bool { return rec[0] == Tombstone }

	slot, err := rf.FindOrphan(isOrphan)
	require.NoError(t, err)
	assert.Equal(t, int64(3), slot)

	require.NoError(t, rf.WriteRecord(1, []byte{Tombstone, 0}))
	require.NoError(t, rf.SetEntries(2))
	slot, err = rf.FindOrphan(isOrphan)
	require.NoError(t, err)
	assert.Equal(t, int64(1), slot)
}

func TestResizeMigratesRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grow.idx")
	rf, err := Open(path, testOptions(4))
	require.NoError(t, err)
	defer rf.Close()

	require.NoError(t, rf.Grow(2))
	require.NoError(t, rf.WriteRecord(0, []byte("aaaa")))
	require.NoError(t, rf.WriteRecord(1, []byte("bbbb")))
	require.NoError(t, rf.SetEntries(2))

	err = rf.Resize(Params{8, 0}, func(old, dst []byte) {
		copy(dst, old)
		copy(dst[4:], "++++")
	})
	require.NoError(t, err)
	assert.Equal(t, 8, rf.RecordSize())
	assert.Equal(t, int64(2), rf.Entries())

	buf := rf.NewRecord()
	require.NoError(t, rf.ReadRecord(1, buf))
	assert.Equal(t, "bbbb++++", string(buf))

	_, err = os.Stat(filepath.Join(dir, "grow_resized.idx"))
	assert.True(t, os.IsNotExist(err))
}

func TestResizeRefusesShrinkWithEntries(t *testing.T) {
	rf, err := Open(filepath.Join(t.TempDir(), "shrink.idx"), testOptions(8))
	require.NoError(t, err)
	defer rf.Close()

	require.NoError(t, rf.Grow(1))
	require.NoError(t, rf.SetEntries(1))
	err = rf.Resize(Params{4, 0}, func(_, _ []byte) {})
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)

	require.NoError(t, rf.SetEntries(0))
	require.NoError(t, rf.Resize(Params{4, 0}, func(_, _ []byte) {}))
	assert.Equal(t, 4, rf.RecordSize())
}

func TestOpenRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foreign.idx")
	require.NoError(t, os.WriteFile(path, make([]byte, HeaderSize), 0o644))
	_, err := Open(path, testOptions(4))
	assert.ErrorIs(t, err, apperrors.ErrCorrupt)
}

func TestLockDirExcludesSecondWriter(t *testing.T) {
	dir := t.TempDir()
	first, err := LockDir(dir, false)
	require.NoError(t, err)
	defer first.Unlock()

	second, err := LockDir(dir, false)
	if err == nil {
		// Platforms without flock hand out no-op locks.
		require.NoError(t, second.Unlock())
		t.Skip("advisory locking unavailable")
	}
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestOpenChecksEntriesAgainstSlotCapacity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buckets.idx")
	opts := testOptions(4)
	opts.InitialSlots = 2
	opts.SlotCapacity = func(p Params) int64 { return 3 }
	rf, err := Open(path, opts)
	require.NoError(t, err)
	require.NoError(t, rf.SetEntries(6))
	require.NoError(t, rf.Close())

	rf, err = Open(path, opts)
	require.NoError(t, err)
	assert.Equal(t, int64(6), rf.Entries())
	require.NoError(t, rf.SetEntries(7))
	require.NoError(t, rf.Close())

	_, err = Open(path, opts)
	assert.ErrorIs(t, err, apperrors.ErrCorrupt)
}

func TestOpenDiscardsUnfinishedResize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.idx")
	rf, err := Open(path, testOptions(4))
	require.NoError(t, err)
	require.NoError(t, rf.Grow(1))
	require.NoError(t, rf.WriteRecord(0, []byte("keep")))
	require.NoError(t, rf.SetEntries(1))
	require.NoError(t, rf.Close())

	leftover := filepath.Join(dir, "data_resized.idx")
	require.NoError(t, os.WriteFile(leftover, []byte("partial"), 0o644))

	rf, err = Open(path, testOptions(4))
	require.NoError(t, err)
	defer rf.Close()
	buf := rf.NewRecord()
	require.NoError(t, rf.ReadRecord(0, buf))
	assert.Equal(t, "keep", string(buf))
	_, err = os.Stat(leftover)
	assert.True(t, os.IsNotExist(err))
}

func TestOpenPromotesResizedFileWithoutOriginal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.idx")
	rf, err := Open(path, testOptions(4))
	require.NoError(t, err)
	require.NoError(t, rf.Grow(1))
	require.NoError(t, rf.WriteRecord(0, []byte("move")))
	require.NoError(t, rf.SetEntries(1))
	require.NoError(t, rf.Close())
	require.NoError(t, os.Rename(path, filepath.Join(dir, "data_resized.idx")))

	rf, err = Open(path, testOptions(4))
	require.NoError(t, err)
	defer rf.Close()
	assert.Equal(t, int64(1), rf.Entries())
	buf := rf.NewRecord()
	require.NoError(t, rf.ReadRecord(0, buf))
	assert.Equal(t, "move", string(buf))
}

func TestResizeKeepsHandleUsable(t *testing.T) {
	dir := t.TempDir()
	rf, err := Open(filepath.Join(dir, "swap.idx"), testOptions(4))
	require.NoError(t, err)
	defer rf.Close()
	require.NoError(t, rf.Grow(1))
	require.NoError(t, rf.WriteRecord(0, []byte("abcd")))
	require.NoError(t, rf.SetEntries(1))

	require.NoError(t, rf.Resize(Params{6, 0}, func(old, dst []byte) { copy(dst, old) }))
	require.NoError(t, rf.Grow(2))
	require.NoError(t, rf.WriteRecord(1, []byte("efghij")))
	require.NoError(t, rf.SetEntries(2))
	require.NoError(t, rf.Close())

	rf, err = Open(filepath.Join(dir, "swap.idx"), testOptions(6))
	require.NoError(t, err)
	buf := rf.NewRecord()
	require.NoError(t, rf.ReadRecord(1, buf))
	assert.Equal(t, "efghij", string(buf))
	require.NoError(t, rf.ReadRecord(0, buf))
	assert.Equal(t, "abcd", string(buf[:4]))
}
