package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitalroastery/weblounge-sub005/internal/search/tokenizer"
)

func TestMemoryIndexReplaceAndRemove(t *testing.T) {
	m := NewMemoryIndex()
	m.AddDocument("a", 1, tokenizer.Tokenize("weather report weather"))
	m.AddDocument("b", 2, tokenizer.Tokenize("sports report"))

	postings := m.Search("weath")
	require.Len(t, postings, 1)
	assert.Equal(t, 2, postings[0].Frequency)
	assert.Equal(t, uint64(1), postings[0].Generation)
	assert.Len(t, m.Search("report"), 2)

	m.AddDocument("a", 3, tokenizer.Tokenize("traffic"))
	assert.Empty(t, m.Search("weath"))
	assert.Len(t, m.Search("report"), 1)

	m.RemoveDocument("b")
	assert.Empty(t, m.Search("report"))
	assert.Equal(t, 1, m.DocCount())

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "traffic", snap[0].Term)

	m.Reset()
	assert.Zero(t, m.Size())
	assert.Zero(t, m.DocCount())
}
