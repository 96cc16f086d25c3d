// Package index holds the in-memory inverted index that buffers postings
// until they are flushed into an immutable segment.
package index

// Posting records the occurrences of a term in one document generation.
// A posting is only valid while its document still has the same generation;
// replaced and removed documents leave stale postings behind in older
// segments, which readers filter out.
type Posting struct {
	DocID      string `json:"d"`
	Generation uint64 `json:"g"`
	Frequency  int    `json:"f"`
	Positions  []int  `json:"p,omitempty"`
}

type PostingList []Posting

type TermEntry struct {
	Term     string
	Postings PostingList
}
