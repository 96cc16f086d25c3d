package structure

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/digitalroastery/weblounge-sub005/pkg/errors"
)

func TestIDIndexLocate(t *testing.T) {
	idx, err := OpenIDIndex(t.TempDir(), BucketOptions{Slots: 16, EntriesPerSlot: 4})
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Add(testID(1), 10))
	require.NoError(t, idx.Add(testID(2), 20))

	addrs, err := idx.Locate(testID(1))
	require.NoError(t, err)
	assert.Contains(t, addrs, int64(10))
	assert.Equal(t, int64(2), idx.Entries())

	require.NoError(t, idx.Add(testID(1), 10))
	assert.Equal(t, int64(2), idx.Entries())
}

func TestBucketCollisions(t *testing.T) {
	// A single bucket forces every key to collide.
	idx, err := OpenPathIndex(t.TempDir(), BucketOptions{Slots: 1, EntriesPerSlot: 4})
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Add("/a", 1))
	require.NoError(t, idx.Add("/b", 2))

	addrs, err := idx.Locate("/a")
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2}, addrs)
	addrs, err = idx.Locate("/b")
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2}, addrs)
}

func TestBucketDeleteCompacts(t *testing.T) {
	idx, err := OpenPathIndex(t.TempDir(), BucketOptions{Slots: 1, EntriesPerSlot: 4})
	require.NoError(t, err)
	defer idx.Close()

	for i := int64(1); i <= 4; i++ {
		require.NoError(t, idx.Add(fmt.Sprintf("/p%d", i), i))
	}
	require.NoError(t, idx.Delete("/p2", 2))

	addrs, err := idx.Locate("/p1")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 4}, addrs)
	assert.Equal(t, int64(3), idx.Entries())

	rec, err := idx.readBucket(0)
	require.NoError(t, err)
	assert.Equal(t, noAddress, bucketAddress(rec, 3))

	err = idx.Delete("/p2", 2)
	assert.ErrorIs(t, err, apperrors.ErrInternalConsistency)
}

func TestBucketOverflowDoublesCapacity(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenIDIndex(dir, BucketOptions{Slots: 2, EntriesPerSlot: 2})
	require.NoError(t, err)
	defer idx.Close()

	const n = 20
	for i := 0; i < n; i++ {
		require.NoError(t, idx.Add(testID(i), int64(i)))
	}
	assert.GreaterOrEqual(t, idx.EntriesPerSlot(), n/2)
	assert.Equal(t, int64(n), idx.Entries())
	for i := 0; i < n; i++ {
		addrs, err := idx.Locate(testID(i))
		require.NoError(t, err)
		assert.Contains(t, addrs, int64(i))
	}
	assert.InDelta(t, float64(n)/float64(2*idx.EntriesPerSlot()), idx.LoadFactor(), 1e-9)
}

func TestBucketSlotCountFixedWhileNotEmpty(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenIDIndex(dir, BucketOptions{Slots: 8, EntriesPerSlot: 2})
	require.NoError(t, err)
	require.NoError(t, idx.Add(testID(1), 0))
	assert.ErrorIs(t, idx.resizeSlots(16), apperrors.ErrInvalidState)
	require.NoError(t, idx.Close())

	idx, err = OpenIDIndex(dir, BucketOptions{Slots: 16, EntriesPerSlot: 4})
	require.NoError(t, err)
	defer idx.Close()
	assert.Equal(t, int64(8), idx.Slots())
	assert.Equal(t, 4, idx.EntriesPerSlot())
	addrs, err := idx.Locate(testID(1))
	require.NoError(t, err)
	assert.Equal(t, []int64{0}, addrs)
}

func TestBucketClear(t *testing.T) {
	idx, err := OpenIDIndex(t.TempDir(), BucketOptions{Slots: 4, EntriesPerSlot: 2})
	require.NoError(t, err)
	defer idx.Close()
	require.NoError(t, idx.Add(testID(1), 3))
	require.NoError(t, idx.Clear())
	addrs, err := idx.Locate(testID(1))
	require.NoError(t, err)
	assert.Empty(t, addrs)
	assert.Equal(t, int64(4), idx.Slots())
}

func TestBucketReopenWithMoreEntriesThanSlots(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenPathIndex(dir, BucketOptions{Slots: 4, EntriesPerSlot: 2})
	require.NoError(t, err)
	const n = 9
	for i := 0; i < n; i++ {
		require.NoError(t, idx.Add(fmt.Sprintf("/news/%d", i), int64(i)))
	}
	require.NoError(t, idx.Close())

	idx, err = OpenPathIndex(dir, BucketOptions{Slots: 4, EntriesPerSlot: 2})
	require.NoError(t, err)
	defer idx.Close()
	assert.Equal(t, int64(n), idx.Entries())
	for i := 0; i < n; i++ {
		addrs, err := idx.Locate(fmt.Sprintf("/news/%d", i))
		require.NoError(t, err)
		assert.Contains(t, addrs, int64(i))
	}
}
