// Package ranker orders matching revisions by relevance. Every query term
// contributes an Okapi BM25 score over the full document text; a term that
// also appears in the title, the subjects or the path of a revision has its
// contribution multiplied by the boost of that field.
package ranker

import (
	"math"
	"slices"
	"strings"

	"github.com/digitalroastery/weblounge-sub005/internal/search/index"
)

const (
	k1 = 1.2
	b  = 0.75
)

// Field is a set of document fields a term occurs in.
type Field uint8

const (
	Title Field = 1 << iota
	Subject
	Path
)

// Boosts are the score multipliers of the structured fields.
type Boosts struct {
	Title   float64
	Subject float64
	Path    float64
}

// DefaultBoosts weighs titles above subjects and subjects above paths.
func DefaultBoosts() Boosts {
	return Boosts{Title: 2, Subject: 1.5, Path: 1.25}
}

// factor returns the largest boost among the fields in f, or 1.
func (bs Boosts) factor(f Field) float64 {
	m := 1.0
	if f&Title != 0 {
		m = max(m, bs.Title)
	}
	if f&Subject != 0 {
		m = max(m, bs.Subject)
	}
	if f&Path != 0 {
		m = max(m, bs.Path)
	}
	return m
}

// Hit is a ranked revision, addressed by its document key.
type Hit struct {
	Key   string  `json:"key"`
	Score float64 `json:"score"`
}

// Collection carries the statistics of the whole index.
type Collection struct {
	Revisions int64
	AvgLength float64
}

// Revision describes one candidate: its token count and the structured
// fields each term occurs in.
type Revision struct {
	Length int
	Fields map[string]Field
}

type match struct {
	term      string
	frequency int
}

// Rank scores every revision that appears in postingsPerTerm and returns
// them by descending score, ties broken by key. lookup is called once per
// revision. A limit of zero returns all revisions.
func Rank(
	postingsPerTerm map[string]index.PostingList,
	stats Collection,
	boosts Boosts,
	lookup func(key string) Revision,
	limit int,
) []Hit {
	idf := make(map[string]float64, len(postingsPerTerm))
	matches := make(map[string][]match)
	for term, postings := range postingsPerTerm {
		idf[term] = inverseFrequency(stats.Revisions, int64(len(postings)))
		for _, p := range postings {
			matches[p.DocID] = append(matches[p.DocID], match{term: term, frequency: p.Frequency})
		}
	}

	hits := make([]Hit, 0, len(matches))
	for key, ms := range matches {
		rev := lookup(key)
		var score float64
		for _, m := range ms {
			tf := saturate(float64(m.frequency), float64(rev.Length), stats.AvgLength)
			score += idf[m.term] * tf * boosts.factor(rev.Fields[m.term])
		}
		hits = append(hits, Hit{Key: key, Score: math.Round(score*10000) / 10000})
	}
	slices.SortFunc(hits, func(x, y Hit) int {
		switch {
		case x.Score > y.Score:
			return -1
		case x.Score < y.Score:
			return 1
		}
		return strings.Compare(x.Key, y.Key)
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func inverseFrequency(revisions, withTerm int64) float64 {
	return math.Log((float64(revisions)-float64(withTerm))/(float64(withTerm)+0.5) + 1)
}

// saturate is the BM25 term frequency component, normalized by the
// revision's length relative to the average.
func saturate(frequency, length, avgLength float64) float64 {
	if avgLength == 0 {
		return 0
	}
	return frequency * (k1 + 1) / (frequency + k1*(1-b+b*length/avgLength))
}
