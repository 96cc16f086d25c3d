// Package engine is the embedded full-text backend of the repository index.
//
// Documents are tokenized into an in-memory inverted index that is flushed
// to immutable segment files. Every put assigns the document a new
// generation; postings of older generations stay in their segments until
// the next compaction and are ignored by searches.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/digitalroastery/weblounge-sub005/internal/content"
	"github.com/digitalroastery/weblounge-sub005/internal/search/index"
	"github.com/digitalroastery/weblounge-sub005/internal/search/parser"
	"github.com/digitalroastery/weblounge-sub005/internal/search/ranker"
	"github.com/digitalroastery/weblounge-sub005/internal/search/segment"
	"github.com/digitalroastery/weblounge-sub005/internal/search/tokenizer"
	"github.com/digitalroastery/weblounge-sub005/pkg/config"
	apperrors "github.com/digitalroastery/weblounge-sub005/pkg/errors"
	"github.com/digitalroastery/weblounge-sub005/pkg/logger"
	"github.com/digitalroastery/weblounge-sub005/pkg/metrics"
)

// DocumentsFile stores the documents and their generations next to the
// segment files.
const DocumentsFile = "documents.json"

type storedDoc struct {
	Doc        *content.Document `json:"doc"`
	Generation uint64            `json:"gen"`
	Length     int               `json:"len"`
}

type documentsSnapshot struct {
	Generation uint64                `json:"generation"`
	Documents  map[string]*storedDoc `json:"documents"`
}

// Options configure an Engine.
type Options struct {
	ReadOnly bool
	Metrics  *metrics.Metrics
}

type Engine struct {
	mu          sync.RWMutex
	dir         string
	cfg         config.SearchConfig
	readOnly    bool
	memIndex    *index.MemoryIndex
	writer      *segment.Writer
	readers     []*segment.Reader
	docs        map[string]*storedDoc
	byID        map[string]map[content.Version]struct{}
	generation  uint64
	totalTokens int64
	dirty       bool
	changes     *changeLog
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// Open loads the documents and segments stored in dir. A writable engine
// creates dir if it does not exist yet.
func Open(dir string, cfg config.SearchConfig, opts Options) (*Engine, error) {
	if !opts.ReadOnly {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating search data directory: %w", err)
		}
	}
	e := &Engine{
		dir:      dir,
		cfg:      cfg,
		readOnly: opts.ReadOnly,
		memIndex: index.NewMemoryIndex(),
		writer:   segment.NewWriter(dir),
		docs:     make(map[string]*storedDoc),
		byID:     make(map[string]map[content.Version]struct{}),
		metrics:  opts.Metrics,
		logger:   logger.WithComponent("search-engine"),
	}
	if err := e.loadDocuments(); err != nil {
		return nil, err
	}
	if err := e.loadExistingSegments(); err != nil {
		e.closeReaders()
		return nil, fmt.Errorf("loading existing segments: %w", err)
	}
	changes, pending, err := openChangeLog(dir, opts.ReadOnly)
	if err != nil {
		e.closeReaders()
		return nil, err
	}
	e.changes = changes
	e.replayLocked(pending)
	return e, nil
}

func (e *Engine) loadDocuments() error {
	data, err := os.ReadFile(filepath.Join(e.dir, DocumentsFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", DocumentsFile, err)
	}
	var snap documentsSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return apperrors.Newf(apperrors.ErrCorrupt, "search.open", "parsing %s: %v", DocumentsFile, err)
	}
	e.generation = snap.Generation
	for key, sd := range snap.Documents {
		if sd == nil || sd.Doc == nil {
			continue
		}
		e.docs[key] = sd
		e.trackID(sd.Doc)
		e.totalTokens += int64(sd.Length)
	}
	e.logger.Info("documents loaded", "documents", len(e.docs), "generation", e.generation)
	return nil
}

func (e *Engine) loadExistingSegments() error {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading data directory: %w", err)
	}
	segFiles := make([]string, 0)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(name, ".tmp") && !e.readOnly {
			os.Remove(filepath.Join(e.dir, name))
			continue
		}
		if strings.HasSuffix(name, segment.Extension) {
			segFiles = append(segFiles, name)
		}
	}
	sort.Strings(segFiles)

	for _, name := range segFiles {
		reader, err := segment.OpenReader(filepath.Join(e.dir, name))
		if err != nil {
			e.logger.Error("failed to open segment, skipping",
				"segment", name,
				"error", err,
			)
			continue
		}
		e.readers = append(e.readers, reader)
	}
	e.logger.Info("segment recovery complete", "segments_loaded", len(e.readers))
	return nil
}

func (e *Engine) trackID(doc *content.Document) {
	versions, ok := e.byID[doc.ID]
	if !ok {
		versions = make(map[content.Version]struct{})
		e.byID[doc.ID] = versions
	}
	versions[doc.Version] = struct{}{}
}

func (e *Engine) untrackID(doc *content.Document) {
	versions := e.byID[doc.ID]
	delete(versions, doc.Version)
	if len(versions) == 0 {
		delete(e.byID, doc.ID)
	}
}

func (e *Engine) checkWritable(op string) error {
	if e.readOnly {
		return apperrors.New(apperrors.ErrReadOnly, op, "search index is read only")
	}
	return nil
}

// Put indexes doc, replacing any document with the same key.
func (e *Engine) Put(doc *content.Document) error {
	if err := e.checkWritable("search.put"); err != nil {
		return err
	}
	key := doc.Key()
	tokens := tokenizer.Tokenize(doc.Text())

	e.mu.Lock()
	defer e.mu.Unlock()
	gen := e.generation + 1
	if err := e.changes.append(change{Op: changePut, Key: key, Doc: doc, Text: doc.Text(), Generation: gen}); err != nil {
		return err
	}
	e.putLocked(key, doc, gen, tokens)
	e.metrics.ObserveIndexed(1)

	e.logger.Debug("document indexed in memory",
		"key", key,
		"token_count", len(tokens),
		"mem_size", e.memIndex.Size(),
	)
	if e.memIndex.Size() >= e.cfg.SegmentMaxSize {
		e.logger.Info("memory index reached max size, flushing to disk",
			"size", e.memIndex.Size(),
			"threshold", e.cfg.SegmentMaxSize,
		)
		if err := e.flushLocked(); err != nil {
			return fmt.Errorf("flushing memory index: %w", err)
		}
	}
	return nil
}

func (e *Engine) putLocked(key string, doc *content.Document, gen uint64, tokens []tokenizer.Token) {
	e.removeLocked(key)
	e.generation = max(e.generation, gen)
	e.memIndex.AddDocument(key, gen, tokens)
	e.docs[key] = &storedDoc{Doc: doc, Generation: gen, Length: len(tokens)}
	e.trackID(doc)
	e.totalTokens += int64(len(tokens))
	e.dirty = true
}

// Remove drops the document stored under key and reports whether it was
// present.
func (e *Engine) Remove(key string) (bool, error) {
	if err := e.checkWritable("search.remove"); err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.docs[key]; !ok {
		return false, nil
	}
	if err := e.changes.append(change{Op: changeRemove, Key: key}); err != nil {
		return false, err
	}
	return e.removeLocked(key), nil
}

func (e *Engine) removeLocked(key string) bool {
	sd, ok := e.docs[key]
	if !ok {
		return false
	}
	delete(e.docs, key)
	e.untrackID(sd.Doc)
	e.totalTokens -= int64(sd.Length)
	e.memIndex.RemoveDocument(key)
	e.dirty = true
	return true
}

// Modify applies fn to a copy of the stored document without touching its
// postings. fn must only change fields that are not tokenized.
func (e *Engine) Modify(key string, fn func(doc *content.Document)) (bool, error) {
	if err := e.checkWritable("search.modify"); err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	sd, ok := e.docs[key]
	if !ok {
		return false, nil
	}
	doc := *sd.Doc
	fn(&doc)
	if err := e.changes.append(change{Op: changeModify, Key: key, Doc: &doc}); err != nil {
		return false, err
	}
	e.docs[key] = &storedDoc{Doc: &doc, Generation: sd.Generation, Length: sd.Length}
	e.dirty = true
	return true, nil
}

// Get returns the document stored under key. The result must not be
// modified.
func (e *Engine) Get(key string) (*content.Document, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	sd, ok := e.docs[key]
	if !ok {
		return nil, false
	}
	return sd.Doc, true
}

// Each calls fn for every stored document in key order until fn returns
// false. The documents must not be modified.
func (e *Engine) Each(fn func(doc *content.Document) bool) {
	e.mu.RLock()
	keys := make([]string, 0, len(e.docs))
	for key := range e.docs {
		keys = append(keys, key)
	}
	docs := make([]*content.Document, 0, len(keys))
	sort.Strings(keys)
	for _, key := range keys {
		docs = append(docs, e.docs[key].Doc)
	}
	e.mu.RUnlock()
	for _, doc := range docs {
		if !fn(doc) {
			return
		}
	}
}

// Versions lists the indexed versions of the resource id in ascending
// order.
func (e *Engine) Versions(id string) []content.Version {
	e.mu.RLock()
	defer e.mu.RUnlock()
	versions := make([]content.Version, 0, len(e.byID[id]))
	for v := range e.byID[id] {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions
}

// Search returns the live postings of a normalized term across the memory
// index and every segment.
func (e *Engine) Search(term string) index.PostingList {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.searchLocked(term)
}

func (e *Engine) searchLocked(term string) index.PostingList {
	allPostings := e.memIndex.Search(term)
	for _, reader := range e.readers {
		postings, err := reader.Search(term)
		if err != nil {
			e.logger.Error("segment search failed",
				"segment", reader.Path(),
				"error", err,
			)
			continue
		}
		allPostings = append(allPostings, postings...)
	}
	return e.livePostings(allPostings)
}

// livePostings keeps postings whose generation is the current generation
// of their document, one per document.
func (e *Engine) livePostings(postings index.PostingList) index.PostingList {
	seen := make(map[string]struct{}, len(postings))
	result := make(index.PostingList, 0, len(postings))
	for _, p := range postings {
		sd, ok := e.docs[p.DocID]
		if !ok || sd.Generation != p.Generation {
			continue
		}
		if _, dup := seen[p.DocID]; dup {
			continue
		}
		seen[p.DocID] = struct{}{}
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DocID < result[j].DocID
	})
	return result
}

// Execute runs q and returns one page of hits. Free text is scored with
// BM25, otherwise hits are ordered by key.
func (e *Engine) Execute(ctx context.Context, q Query) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}
	if e.cfg.MaxResults > 0 && limit > e.cfg.MaxResults {
		limit = e.cfg.MaxResults
	}
	offset := max(q.Offset, 0)

	e.mu.RLock()
	defer e.mu.RUnlock()

	var (
		ranked    []ranker.Hit
		termStats map[string]int
	)
	if strings.TrimSpace(q.Text) == "" {
		ranked = e.allMatching(&q)
	} else {
		ranked, termStats = e.rankText(&q)
	}

	result := &Result{
		Query:     q,
		TotalHits: len(ranked),
		Offset:    offset,
		Limit:     limit,
		Items:     make([]Hit, 0, min(limit, len(ranked))),
		TermStats: termStats,
	}
	if offset < len(ranked) {
		for _, h := range ranked[offset:min(offset+limit, len(ranked))] {
			result.Items = append(result.Items, Hit{
				Key:      h.Key,
				Score:    h.Score,
				Document: e.docs[h.Key].Doc,
			})
		}
	}
	e.logger.Debug("query executed",
		"text", q.Text,
		"hits", result.TotalHits,
		"returned", len(result.Items),
	)
	return result, nil
}

func (e *Engine) allMatching(q *Query) []ranker.Hit {
	keys := make([]string, 0, len(e.docs))
	for key, sd := range e.docs {
		if q.matches(sd.Doc) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	ranked := make([]ranker.Hit, len(keys))
	for i, key := range keys {
		ranked[i] = ranker.Hit{Key: key}
	}
	return ranked
}

func (e *Engine) rankText(q *Query) ([]ranker.Hit, map[string]int) {
	plan := parser.Parse(q.Text)
	termStats := make(map[string]int)
	if plan.Empty() {
		return []ranker.Hit{}, termStats
	}

	postingsPerTerm := make(map[string]index.PostingList, len(plan.Terms))
	for _, term := range plan.Terms {
		postings := e.searchLocked(term)
		termStats[term] = len(postings)
		if len(postings) > 0 {
			postingsPerTerm[term] = postings
		}
	}

	var candidates map[string]struct{}
	switch {
	case len(plan.Terms) == 0:
		candidates = make(map[string]struct{}, len(e.docs))
		for key := range e.docs {
			candidates[key] = struct{}{}
		}
	case plan.Type == parser.QueryOR:
		candidates = unionPostings(postingsPerTerm)
	case len(postingsPerTerm) < len(plan.Terms):
		// A required term matches nothing.
		candidates = make(map[string]struct{})
	default:
		candidates = intersectPostings(postingsPerTerm)
	}
	for _, term := range plan.ExcludeTerms {
		for _, p := range e.searchLocked(term) {
			delete(candidates, p.DocID)
		}
	}
	for key := range candidates {
		if !q.matches(e.docs[key].Doc) {
			delete(candidates, key)
		}
	}

	if len(plan.Terms) == 0 {
		ranked := make([]ranker.Hit, 0, len(candidates))
		for key := range candidates {
			ranked = append(ranked, ranker.Hit{Key: key})
		}
		sort.Slice(ranked, func(i, j int) bool { return ranked[i].Key < ranked[j].Key })
		return ranked, termStats
	}

	filtered := make(map[string]index.PostingList, len(postingsPerTerm))
	for term, postings := range postingsPerTerm {
		kept := make(index.PostingList, 0, len(postings))
		for _, p := range postings {
			if _, ok := candidates[p.DocID]; ok {
				kept = append(kept, p)
			}
		}
		if len(kept) > 0 {
			filtered[term] = kept
		}
	}
	stats := ranker.Collection{
		Revisions: int64(len(e.docs)),
		AvgLength: e.avgDocLengthLocked(),
	}
	return ranker.Rank(filtered, stats, ranker.DefaultBoosts(), func(key string) ranker.Revision {
		sd := e.docs[key]
		return ranker.Revision{Length: sd.Length, Fields: fieldTerms(sd.Doc)}
	}, 0), termStats
}

// fieldTerms maps the terms of the title, subjects and path of doc to the
// fields they occur in.
func fieldTerms(doc *content.Document) map[string]ranker.Field {
	fields := make(map[string]ranker.Field)
	mark := func(text string, f ranker.Field) {
		for _, tok := range tokenizer.Tokenize(text) {
			fields[tok.Term] |= f
		}
	}
	for _, title := range doc.Title {
		mark(title, ranker.Title)
	}
	for _, subject := range doc.Subjects {
		mark(subject, ranker.Subject)
	}
	mark(doc.Path, ranker.Path)
	return fields
}

func intersectPostings(postingsPerTerm map[string]index.PostingList) map[string]struct{} {
	candidates := make(map[string]struct{})
	var shortest index.PostingList
	for _, postings := range postingsPerTerm {
		if shortest == nil || len(postings) < len(shortest) {
			shortest = postings
		}
	}
	for _, p := range shortest {
		candidates[p.DocID] = struct{}{}
	}
	for _, postings := range postingsPerTerm {
		docSet := make(map[string]struct{}, len(postings))
		for _, p := range postings {
			docSet[p.DocID] = struct{}{}
		}
		for docID := range candidates {
			if _, exists := docSet[docID]; !exists {
				delete(candidates, docID)
			}
		}
	}
	return candidates
}

func unionPostings(postingsPerTerm map[string]index.PostingList) map[string]struct{} {
	result := make(map[string]struct{})
	for _, postings := range postingsPerTerm {
		for _, p := range postings {
			result[p.DocID] = struct{}{}
		}
	}
	return result
}

func (e *Engine) avgDocLengthLocked() float64 {
	if len(e.docs) == 0 {
		return 0
	}
	return float64(e.totalTokens) / float64(len(e.docs))
}

// DocCount is the number of indexed documents.
func (e *Engine) DocCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.docs)
}

// SegmentCount is the number of segment files in use.
func (e *Engine) SegmentCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.readers)
}

// Flush writes buffered postings to a new segment and persists the
// document table. Segments are merged once there are more than the
// configured maximum.
func (e *Engine) Flush() error {
	if e.readOnly {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushLocked()
}

func (e *Engine) flushLocked() error {
	snapshot := e.memIndex.Snapshot()
	if len(snapshot) > 0 {
		segmentName, err := e.writer.Write(snapshot)
		if err != nil {
			e.metrics.ObserveFlush(err)
			return fmt.Errorf("writing segment: %w", err)
		}
		reader, err := segment.OpenReader(filepath.Join(e.dir, segmentName))
		if err != nil {
			e.metrics.ObserveFlush(err)
			return fmt.Errorf("opening new segment for reading: %w", err)
		}
		e.readers = append(e.readers, reader)
		e.memIndex.Reset()
		e.dirty = true
		e.logger.Info("segment flushed",
			"segment", segmentName,
			"terms", reader.Terms(),
			"docs", reader.DocCount(),
			"active_segments", len(e.readers),
		)
	}
	if err := e.saveDocumentsLocked(); err != nil {
		e.metrics.ObserveFlush(err)
		return err
	}
	if err := e.changes.truncate(); err != nil {
		e.metrics.ObserveFlush(err)
		return err
	}
	e.metrics.ObserveFlush(nil)
	if e.cfg.MaxSegmentsBeforeMerge > 0 && len(e.readers) > e.cfg.MaxSegmentsBeforeMerge {
		return e.compactLocked()
	}
	return nil
}

func (e *Engine) saveDocumentsLocked() error {
	if !e.dirty {
		return nil
	}
	data, err := json.Marshal(documentsSnapshot{Generation: e.generation, Documents: e.docs})
	if err != nil {
		return fmt.Errorf("marshaling documents: %w", err)
	}
	path := filepath.Join(e.dir, DocumentsFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing documents: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming documents: %w", err)
	}
	e.dirty = false
	return nil
}

// Compact merges all segments into one and drops postings of removed or
// replaced documents. Buffered postings are flushed first.
func (e *Engine) Compact() error {
	if err := e.checkWritable("search.compact"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.memIndex.DocCount() > 0 {
		// flushLocked compacts on its own once the segment limit is exceeded.
		if err := e.flushLocked(); err != nil {
			return err
		}
	}
	if len(e.readers) <= 1 {
		return nil
	}
	return e.compactLocked()
}

func (e *Engine) compactLocked() error {
	merged := make(map[string]index.PostingList)
	for _, reader := range e.readers {
		entries, err := reader.Entries()
		if err != nil {
			return fmt.Errorf("reading segment %s: %w", reader.Path(), err)
		}
		for _, entry := range entries {
			merged[entry.Term] = append(merged[entry.Term], entry.Postings...)
		}
	}
	entries := make([]index.TermEntry, 0, len(merged))
	for term, postings := range merged {
		if live := e.livePostings(postings); len(live) > 0 {
			entries = append(entries, index.TermEntry{Term: term, Postings: live})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Term < entries[j].Term })

	var readers []*segment.Reader
	if len(entries) > 0 {
		name, err := e.writer.Write(entries)
		if err != nil {
			return fmt.Errorf("writing merged segment: %w", err)
		}
		reader, err := segment.OpenReader(filepath.Join(e.dir, name))
		if err != nil {
			return fmt.Errorf("opening merged segment: %w", err)
		}
		readers = append(readers, reader)
	}
	old := e.readers
	e.readers = readers
	for _, reader := range old {
		reader.Close()
		if err := os.Remove(reader.Path()); err != nil {
			e.logger.Warn("removing merged segment", "segment", reader.Path(), "error", err)
		}
	}
	e.logger.Info("segments compacted",
		"merged_segments", len(old),
		"terms", len(entries),
	)
	return nil
}

// Clear removes every document and segment.
func (e *Engine) Clear() error {
	if err := e.checkWritable("search.clear"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, reader := range e.readers {
		reader.Close()
		if err := os.Remove(reader.Path()); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing segment: %w", err)
		}
	}
	e.readers = nil
	e.memIndex.Reset()
	e.docs = make(map[string]*storedDoc)
	e.byID = make(map[string]map[content.Version]struct{})
	e.totalTokens = 0
	e.dirty = true
	if err := e.saveDocumentsLocked(); err != nil {
		return err
	}
	return e.changes.truncate()
}

// StartFlushLoop flushes buffered postings every FlushInterval until ctx
// is cancelled.
func (e *Engine) StartFlushLoop(ctx context.Context) {
	if e.readOnly || e.cfg.FlushInterval <= 0 {
		return
	}
	ticker := time.NewTicker(e.cfg.FlushInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := e.Flush(); err != nil {
					e.logger.Error("periodic flush failed", "error", err)
				}
			}
		}
	}()
}

// Close flushes buffered postings and releases the segment files.
func (e *Engine) Close() error {
	var flushErr error
	if !e.readOnly {
		if flushErr = e.Flush(); flushErr != nil {
			e.logger.Error("final flush on close failed", "error", flushErr)
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeReaders()
	if err := e.changes.close(); err != nil && flushErr == nil {
		flushErr = err
	}
	e.changes = nil
	return flushErr
}

func (e *Engine) closeReaders() {
	for _, reader := range e.readers {
		if err := reader.Close(); err != nil {
			e.logger.Error("closing segment reader", "error", err)
		}
	}
	e.readers = nil
}
