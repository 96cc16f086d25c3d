package index

import (
	"sort"
	"sync"

	"github.com/digitalroastery/weblounge-sub005/internal/search/tokenizer"
)

// MemoryIndex is the mutable inverted index of documents that have not been
// flushed yet.
type MemoryIndex struct {
	mu       sync.RWMutex
	index    map[string]map[string]*Posting
	docTerms map[string][]string
	size     int64
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		index:    make(map[string]map[string]*Posting),
		docTerms: make(map[string][]string),
	}
}

// AddDocument indexes tokens for docID, replacing any earlier postings of
// the same document.
func (m *MemoryIndex) AddDocument(docID string, generation uint64, tokens []tokenizer.Token) {
	termData := make(map[string]*Posting)
	for _, token := range tokens {
		p, exists := termData[token.Term]
		if !exists {
			p = &Posting{
				DocID:      docID,
				Generation: generation,
				Positions:  make([]int, 0, 4),
			}
			termData[token.Term] = p
		}
		p.Frequency++
		p.Positions = append(p.Positions, token.Position)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(docID)
	terms := make([]string, 0, len(termData))
	for term, posting := range termData {
		if _, exists := m.index[term]; !exists {
			m.index[term] = make(map[string]*Posting)
		}
		m.index[term][docID] = posting
		m.size += postingSize(term, posting)
		terms = append(terms, term)
	}
	m.docTerms[docID] = terms
}

// RemoveDocument drops every posting of docID.
func (m *MemoryIndex) RemoveDocument(docID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(docID)
}

func (m *MemoryIndex) removeLocked(docID string) {
	for _, term := range m.docTerms[docID] {
		docs := m.index[term]
		if p, ok := docs[docID]; ok {
			m.size -= postingSize(term, p)
			delete(docs, docID)
		}
		if len(docs) == 0 {
			delete(m.index, term)
		}
	}
	delete(m.docTerms, docID)
}

func postingSize(term string, p *Posting) int64 {
	return int64(len(term) + len(p.DocID) + len(p.Positions)*8 + 64)
}

func (m *MemoryIndex) Search(term string) PostingList {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs, exists := m.index[term]
	if !exists {
		return nil
	}
	result := make(PostingList, 0, len(docs))
	for _, posting := range docs {
		result = append(result, *posting)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DocID < result[j].DocID
	})
	return result
}

// Snapshot returns all postings sorted by term and document.
func (m *MemoryIndex) Snapshot() []TermEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]TermEntry, 0, len(m.index))
	for term, docs := range m.index {
		postings := make(PostingList, 0, len(docs))
		for _, posting := range docs {
			postings = append(postings, *posting)
		}
		sort.Slice(postings, func(i, j int) bool {
			return postings[i].DocID < postings[j].DocID
		})
		entries = append(entries, TermEntry{
			Term:     term,
			Postings: postings,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Term < entries[j].Term
	})
	return entries
}

func (m *MemoryIndex) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docTerms)
}

func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = make(map[string]map[string]*Posting)
	m.docTerms = make(map[string][]string)
	m.size = 0
}
