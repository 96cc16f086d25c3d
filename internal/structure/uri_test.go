package structure

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitalroastery/weblounge-sub005/internal/recfile"
	apperrors "github.com/digitalroastery/weblounge-sub005/pkg/errors"
)

func testID(n int) string {
	return fmt.Sprintf("00000000-0000-4000-8000-%012d", n)
}

func openURI(t *testing.T, dir string, opts URIOptions) *URIIndex {
	t.Helper()
	idx, err := OpenURIIndex(dir, opts)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestURIIndexRoundTrip(t *testing.T) {
	idx := openURI(t, t.TempDir(), URIOptions{CacheSize: 4})

	a, err := idx.Add(testID(1), "page", "/news/today")
	require.NoError(t, err)
	b, err := idx.Add(testID(2), "file", "/media/logo.png")
	require.NoError(t, err)
	assert.Equal(t, int64(0), a)
	assert.Equal(t, int64(1), b)

	e, err := idx.Get(a)
	require.NoError(t, err)
	assert.Equal(t, URIEntry{ID: testID(1), Type: "page", Path: "/news/today"}, e)

	c, err := idx.Add(testID(3), "page", "/about")
	require.NoError(t, err)
	require.NoError(t, idx.Delete(c))

	path, err := idx.GetPath(b)
	require.NoError(t, err)
	assert.Equal(t, "/media/logo.png", path)
	id, err := idx.GetID(a)
	require.NoError(t, err)
	assert.Equal(t, testID(1), id)
	assert.Equal(t, int64(2), idx.Entries())
}

func TestURIIndexTombstoneReuse(t *testing.T) {
	idx := openURI(t, t.TempDir(), URIOptions{})
	for i := 0; i < 3; i++ {
		_, err := idx.Add(testID(i), "page", fmt.Sprintf("/p%d", i))
		require.NoError(t, err)
	}
	require.NoError(t, idx.Delete(1))

	_, err := idx.GetID(1)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.ErrorIs(t, idx.Delete(1), apperrors.ErrNotFound)
	assert.ErrorIs(t, idx.Update(1, "page", "/x"), apperrors.ErrNotFound)

	addr, err := idx.Add(testID(9), "page", "/reused")
	require.NoError(t, err)
	assert.Equal(t, int64(1), addr)
	assert.Equal(t, int64(3), idx.Slots())
	assert.Equal(t, int64(3), idx.Entries())
}

func TestURIIndexTombstoneLayout(t *testing.T) {
	dir := t.TempDir()
	idx := openURI(t, dir, URIOptions{PathBytes: 16})
	addr, err := idx.Add(testID(1), "page", "/a/b/c")
	require.NoError(t, err)
	require.NoError(t, idx.Delete(addr))

	rec := idx.file.NewRecord()
	require.NoError(t, idx.file.ReadRecord(addr, rec))
	assert.Equal(t, recfile.Tombstone, rec[0])
	for _, b := range rec[1:] {
		require.Zero(t, b)
	}
}

func TestURIIndexPathOverflowResizes(t *testing.T) {
	dir := t.TempDir()
	idx := openURI(t, dir, URIOptions{PathBytes: 8, CacheSize: 8})

	short, err := idx.Add(testID(1), "page", "/a")
	require.NoError(t, err)
	long := "/" + strings.Repeat("x", 40)
	addr, err := idx.Add(testID(2), "page", long)
	require.NoError(t, err)
	assert.Equal(t, 64, idx.PathCapacity())

	path, err := idx.GetPath(short)
	require.NoError(t, err)
	assert.Equal(t, "/a", path)
	path, err = idx.GetPath(addr)
	require.NoError(t, err)
	assert.Equal(t, long, path)

	longer := "/" + strings.Repeat("y", 200)
	require.NoError(t, idx.Update(short, "page", longer))
	assert.Equal(t, 256, idx.PathCapacity())
	path, err = idx.GetPath(short)
	require.NoError(t, err)
	assert.Equal(t, longer, path)

	longType := "audiovisual"
	require.NoError(t, idx.Update(addr, longType, long))
	typ, err := idx.GetType(addr)
	require.NoError(t, err)
	assert.Equal(t, longType, typ)
	assert.Equal(t, 16, idx.TypeCapacity())
}

func TestURIIndexReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenURIIndex(dir, URIOptions{PathBytes: 8})
	require.NoError(t, err)
	addr, err := idx.Add(testID(7), "page", "/some/long/path")
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	idx = openURI(t, dir, URIOptions{PathBytes: 8})
	assert.Equal(t, 16, idx.PathCapacity())
	e, err := idx.Get(addr)
	require.NoError(t, err)
	assert.Equal(t, "/some/long/path", e.Path)
}

func TestURIIndexReadOnly(t *testing.T) {
	dir := t.TempDir()
	_, err := OpenURIIndex(dir, URIOptions{ReadOnly: true})
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)

	rw, err := OpenURIIndex(dir, URIOptions{})
	require.NoError(t, err)
	_, err = rw.Add(testID(1), "page", "/a")
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	ro := openURI(t, dir, URIOptions{ReadOnly: true})
	_, err = ro.Add(testID(2), "page", "/b")
	assert.ErrorIs(t, err, apperrors.ErrReadOnly)
	path, err := ro.GetPath(0)
	require.NoError(t, err)
	assert.Equal(t, "/a", path)
}

func TestURIIndexRejectsInvalidEntries(t *testing.T) {
	idx := openURI(t, t.TempDir(), URIOptions{})
	_, err := idx.Add("short", "page", "/a")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = idx.Add(testID(1), "", "/a")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = idx.Add(testID(1), "page", "/a\nb")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestURIIndexScanAndClear(t *testing.T) {
	idx := openURI(t, t.TempDir(), URIOptions{})
	for i := 0; i < 4; i++ {
		_, err := idx.Add(testID(i), "page", fmt.Sprintf("/p%d", i))
		require.NoError(t, err)
	}
	require.NoError(t, idx.Delete(2))

	var paths []string
	require.NoError(t, idx.Scan(func(_ int64, e URIEntry) error {
		paths = append(paths, e.Path)
		return nil
	}))
	assert.Equal(t, []string{"/p0", "/p1", "/p3"}, paths)

	require.NoError(t, idx.Clear())
	assert.Equal(t, int64(0), idx.Entries())
	assert.Equal(t, int64(0), idx.Slots())
	_, err := idx.Get(0)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
