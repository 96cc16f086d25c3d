package segment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitalroastery/weblounge-sub005/internal/search/index"
)

func TestWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	entries := []index.TermEntry{
		{Term: "news", Postings: index.PostingList{{DocID: "a/0", Generation: 1, Frequency: 2}}},
		{Term: "weath", Postings: index.PostingList{
			{DocID: "a/0", Generation: 1, Frequency: 1},
			{DocID: "b/0", Generation: 2, Frequency: 3},
		}},
	}
	name, err := NewWriter(dir).Write(entries)
	require.NoError(t, err)
	assert.Equal(t, Extension, filepath.Ext(name))

	r, err := OpenReader(filepath.Join(dir, name))
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, 2, r.Terms())
	assert.Equal(t, uint32(2), r.DocCount())
	postings, err := r.Search("weath")
	require.NoError(t, err)
	require.Len(t, postings, 2)
	assert.Equal(t, 3, postings[1].Frequency)
	postings, err = r.Search("missing")
	require.NoError(t, err)
	assert.Nil(t, postings)

	all, err := r.Entries()
	require.NoError(t, err)
	assert.Equal(t, entries, all)

	leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestOpenReaderDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	name, err := NewWriter(dir).Write([]index.TermEntry{
		{Term: "x", Postings: index.PostingList{{DocID: "a", Generation: 1, Frequency: 1}}},
	})
	require.NoError(t, err)
	path := filepath.Join(dir, name)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-FooterSize-2] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = OpenReader(path)
	assert.Error(t, err)
}

func TestWriteRejectsEmptySegment(t *testing.T) {
	_, err := NewWriter(t.TempDir()).Write(nil)
	assert.Error(t, err)
}
