package structure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitalroastery/weblounge-sub005/internal/content"
	apperrors "github.com/digitalroastery/weblounge-sub005/pkg/errors"
)

func TestVersionIndexAddAndRemove(t *testing.T) {
	idx, err := OpenVersionIndex(t.TempDir(), ListOptions{})
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Add(3, testID(1), content.Work))
	require.NoError(t, idx.AddVersion(3, content.Live))
	require.NoError(t, idx.AddVersion(3, content.Live))

	versions, err := idx.Versions(3)
	require.NoError(t, err)
	assert.Equal(t, []content.Version{content.Work, content.Live}, versions)
	ok, err := idx.HasVersion(3, content.Original)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(1), idx.Entries())
	assert.Equal(t, int64(4), idx.Slots())

	require.NoError(t, idx.DeleteVersion(3, content.Work))
	require.NoError(t, idx.DeleteVersion(3, content.Live))
	_, err = idx.Versions(3)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	ok, err = idx.HasVersion(3, content.Live)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(0), idx.Entries())
}

func TestVersionIndexCapacityOverflow(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenVersionIndex(dir, ListOptions{Capacity: 10})
	require.NoError(t, err)

	require.NoError(t, idx.Add(0, testID(0), content.Live))
	require.NoError(t, idx.Add(1, testID(1), 0))
	for v := 1; v < 200; v++ {
		require.NoError(t, idx.AddVersion(1, content.Version(v)))
	}
	versions, err := idx.Versions(1)
	require.NoError(t, err)
	require.Len(t, versions, 200)
	for i, v := range versions {
		assert.Equal(t, content.Version(i), v)
	}
	assert.GreaterOrEqual(t, idx.VersionsPerEntry(), 200)
	require.NoError(t, idx.Close())

	idx, err = OpenVersionIndex(dir, ListOptions{Capacity: 10})
	require.NoError(t, err)
	defer idx.Close()
	assert.GreaterOrEqual(t, idx.VersionsPerEntry(), 200)
	versions, err = idx.Versions(0)
	require.NoError(t, err)
	assert.Equal(t, []content.Version{content.Live}, versions)
	n, err := idx.Revisions()
	require.NoError(t, err)
	assert.Equal(t, int64(201), n)
}

func TestVersionIndexRegisterReusesTombstones(t *testing.T) {
	idx, err := OpenVersionIndex(t.TempDir(), ListOptions{})
	require.NoError(t, err)
	defer idx.Close()

	a, err := idx.Register(testID(1), content.Live)
	require.NoError(t, err)
	b, err := idx.Register(testID(2), content.Work)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1}, []int64{a, b})

	require.NoError(t, idx.Delete(a))
	c, err := idx.Register(testID(3), content.Original)
	require.NoError(t, err)
	assert.Equal(t, a, c)
	id, err := idx.ID(c)
	require.NoError(t, err)
	assert.Equal(t, testID(3), id)
}

func TestLanguageIndexKeepsEmptyEntries(t *testing.T) {
	idx, err := OpenLanguageIndex(t.TempDir(), ListOptions{Capacity: 2})
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Set(0, testID(1), []string{"en-US", "de", "en"}))
	langs, err := idx.Languages(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"en", "de"}, langs)

	require.NoError(t, idx.AddLanguage(0, "fr"))
	assert.GreaterOrEqual(t, idx.LanguagesPerEntry(), 3)
	ok, err := idx.HasLanguage(0, "FR")
	require.NoError(t, err)
	assert.True(t, ok)

	for _, l := range []string{"en", "de", "fr"} {
		require.NoError(t, idx.DeleteLanguage(0, l))
	}
	langs, err = idx.Languages(0)
	require.NoError(t, err)
	assert.Empty(t, langs)
	hasAny, err := idx.HasAnyLanguage(0)
	require.NoError(t, err)
	assert.False(t, hasAny)
	assert.Equal(t, int64(1), idx.Entries())

	err = idx.DeleteLanguage(0, "it")
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
}

func TestLanguageIndexRegisterPlaceholder(t *testing.T) {
	idx, err := OpenLanguageIndex(t.TempDir(), ListOptions{})
	require.NoError(t, err)
	defer idx.Close()

	addr, err := idx.Register(testID(4), nil)
	require.NoError(t, err)
	ok, err := idx.Contains(addr)
	require.NoError(t, err)
	assert.True(t, ok)
	langs, err := idx.Languages(addr)
	require.NoError(t, err)
	assert.Empty(t, langs)

	_, err = idx.Register(testID(5), []string{"??"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
