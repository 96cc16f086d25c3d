package ranker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitalroastery/weblounge-sub005/internal/search/index"
)

func plain(lengths map[string]int) func(string) Revision {
	return func(key string) Revision { return Revision{Length: lengths[key]} }
}

func TestRankPrefersFrequentTerms(t *testing.T) {
	postings := map[string]index.PostingList{
		"weath": {
			{DocID: "a", Frequency: 1},
			{DocID: "b", Frequency: 4},
		},
	}
	lengths := map[string]int{"a": 10, "b": 10, "c": 10}
	hits := Rank(postings, Collection{Revisions: 3, AvgLength: 10}, DefaultBoosts(), plain(lengths), 0)

	require.Len(t, hits, 2)
	assert.Equal(t, "b", hits[0].Key)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestRankBoostsTitleMatches(t *testing.T) {
	postings := map[string]index.PostingList{
		"festiv": {
			{DocID: "body", Frequency: 2},
			{DocID: "title", Frequency: 1},
		},
	}
	revisions := map[string]Revision{
		"body":  {Length: 10},
		"title": {Length: 10, Fields: map[string]Field{"festiv": Title}},
	}
	lookup := func(key string) Revision { return revisions[key] }
	stats := Collection{Revisions: 5, AvgLength: 10}

	hits := Rank(postings, stats, DefaultBoosts(), lookup, 0)
	require.Len(t, hits, 2)
	assert.Equal(t, "title", hits[0].Key)

	hits = Rank(postings, stats, Boosts{Title: 1, Subject: 1, Path: 1}, lookup, 0)
	require.Len(t, hits, 2)
	assert.Equal(t, "body", hits[0].Key)
}

func TestBoostFactorTakesLargestField(t *testing.T) {
	bs := Boosts{Title: 3, Subject: 2, Path: 1.5}
	assert.Equal(t, 1.0, bs.factor(0))
	assert.Equal(t, 1.5, bs.factor(Path))
	assert.Equal(t, 3.0, bs.factor(Path|Title))
	assert.Equal(t, 2.0, bs.factor(Subject|Path))
}

func TestRankBreaksTiesByKey(t *testing.T) {
	postings := map[string]index.PostingList{
		"x": {{DocID: "z", Frequency: 1}, {DocID: "m", Frequency: 1}},
	}
	hits := Rank(postings, Collection{Revisions: 4, AvgLength: 5}, DefaultBoosts(), func(string) Revision {
		return Revision{Length: 5}
	}, 1)
	require.Len(t, hits, 1)
	assert.Equal(t, "m", hits[0].Key)
}

func TestRankWithoutStatistics(t *testing.T) {
	postings := map[string]index.PostingList{"x": {{DocID: "a", Frequency: 2}}}
	hits := Rank(postings, Collection{}, DefaultBoosts(), func(string) Revision { return Revision{} }, 0)
	require.Len(t, hits, 1)
	assert.Zero(t, hits[0].Score)
}
