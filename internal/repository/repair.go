package repository

import (
	"context"
	"slices"
	"time"

	"github.com/digitalroastery/weblounge-sub005/internal/content"
	"github.com/digitalroastery/weblounge-sub005/internal/structure"
)

// Report summarizes the consistency of the sub-indices.
type Report struct {
	Resources int64 `json:"resources"`
	Revisions int64 `json:"revisions"`
	Documents int   `json:"documents"`

	// DanglingIDs and DanglingPaths count bucket addresses without a
	// matching live URI entry.
	DanglingIDs   int `json:"danglingIds"`
	DanglingPaths int `json:"danglingPaths"`
	// MissingIDs and MissingPaths count URI entries the buckets do not
	// point to.
	MissingIDs   int `json:"missingIds"`
	MissingPaths int `json:"missingPaths"`

	OrphanVersions      int `json:"orphanVersions"`
	OrphanLanguages     int `json:"orphanLanguages"`
	URIsWithoutVersions int `json:"urisWithoutVersions"`
	// OrphanDocuments counts search documents of resources that are not
	// in the structure indices.
	OrphanDocuments int `json:"orphanDocuments"`
	// LiveWithoutDocument counts live revisions that have no search
	// document. Resources added without indexing are counted as well, so
	// this does not affect Healthy.
	LiveWithoutDocument int `json:"liveWithoutDocument"`
}

// Healthy reports whether no inconsistency was found.
func (r *Report) Healthy() bool {
	return r.DanglingIDs+r.DanglingPaths+r.MissingIDs+r.MissingPaths+
		r.OrphanVersions+r.OrphanLanguages+r.URIsWithoutVersions+r.OrphanDocuments == 0
}

type addressSet map[int64]struct{}

// scanBuckets collects the addresses every key of a bucket index maps to.
func scanBuckets(scan func(fn func(slot, address int64) error) error) (addressSet, error) {
	set := addressSet{}
	err := scan(func(_ int64, address int64) error {
		set[address] = struct{}{}
		return nil
	})
	return set, err
}

// Check inspects every sub-index and reports inconsistencies without
// changing anything.
func (idx *Index) Check(ctx context.Context) (*Report, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.check(ctx)
}

func (idx *Index) check(ctx context.Context) (*Report, error) {
	report := &Report{
		Resources: idx.uris.Entries(),
		Documents: idx.search.DocCount(),
	}

	live := map[int64]structure.URIEntry{}
	ids := map[string]struct{}{}
	err := idx.uris.Scan(func(address int64, e structure.URIEntry) error {
		live[address] = e
		ids[e.ID] = struct{}{}
		return ctx.Err()
	})
	if err != nil {
		return nil, err
	}

	idAddresses, err := scanBuckets(idx.ids.Scan)
	if err != nil {
		return nil, err
	}
	pathAddresses, err := scanBuckets(idx.paths.Scan)
	if err != nil {
		return nil, err
	}
	for address := range idAddresses {
		if _, ok := live[address]; !ok {
			report.DanglingIDs++
		}
	}
	for address := range pathAddresses {
		if e, ok := live[address]; !ok || e.Path == "" {
			report.DanglingPaths++
		}
	}
	for address, e := range live {
		if _, ok := idAddresses[address]; !ok {
			report.MissingIDs++
		}
		if _, ok := pathAddresses[address]; e.Path != "" && !ok {
			report.MissingPaths++
		}
	}

	withVersions := addressSet{}
	err = idx.versions.Scan(func(address int64, id string, versions []content.Version) error {
		if e, ok := live[address]; !ok || e.ID != id {
			report.OrphanVersions++
			return nil
		}
		withVersions[address] = struct{}{}
		report.Revisions += int64(len(versions))
		if slices.Contains(versions, content.Live) {
			if _, ok := idx.search.Document(content.ResourceURI{ID: id, Version: content.Live}); !ok {
				report.LiveWithoutDocument++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for address := range live {
		if _, ok := withVersions[address]; !ok {
			report.URIsWithoutVersions++
		}
	}
	err = idx.languages.Scan(func(address int64, id string, _ []string) error {
		if e, ok := live[address]; !ok || e.ID != id {
			report.OrphanLanguages++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	idx.search.Documents(func(doc *content.Document) bool {
		if _, ok := ids[doc.ID]; !ok {
			report.OrphanDocuments++
		}
		return true
	})
	return report, nil
}

// Repair brings the sub-indices back in line with the URI index and
// returns the report of the state it found. The id and path indices are
// rebuilt, version and language entries of deleted resources are dropped,
// URI entries of an interrupted add are rolled back and search documents
// of unknown resources are removed.
func (idx *Index) Repair(ctx context.Context) (*Report, error) {
	if err := idx.checkWritable("repository.repair"); err != nil {
		return nil, err
	}
	start := time.Now()
	idx.mu.Lock()
	defer idx.mu.Unlock()
	report, err := idx.repair(ctx)
	idx.metrics.ObserveOp("repair", start, err)
	return report, err
}

func (idx *Index) repair(ctx context.Context) (*Report, error) {
	report, err := idx.check(ctx)
	if err != nil {
		return nil, err
	}

	live := map[int64]structure.URIEntry{}
	if err := idx.uris.Scan(func(address int64, e structure.URIEntry) error {
		live[address] = e
		return nil
	}); err != nil {
		return nil, err
	}

	var orphanVersions, orphanLanguages []int64
	withVersions := addressSet{}
	if err := idx.versions.Scan(func(address int64, id string, _ []content.Version) error {
		if e, ok := live[address]; ok && e.ID == id {
			withVersions[address] = struct{}{}
		} else {
			orphanVersions = append(orphanVersions, address)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	withLanguages := addressSet{}
	if err := idx.languages.Scan(func(address int64, id string, _ []string) error {
		if e, ok := live[address]; ok && e.ID == id {
			withLanguages[address] = struct{}{}
		} else {
			orphanLanguages = append(orphanLanguages, address)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	for _, address := range orphanVersions {
		if err := idx.versions.Delete(address); err != nil {
			return nil, err
		}
	}
	for _, address := range orphanLanguages {
		if err := idx.languages.Delete(address); err != nil {
			return nil, err
		}
	}

	// A URI entry without versions is the remainder of an add that did not
	// get to write its version entry.
	for address, e := range live {
		if _, ok := withVersions[address]; ok {
			continue
		}
		idx.logger.Warn("rolling back resource without versions", "id", e.ID, "path", e.Path, "address", address)
		if err := idx.uris.Delete(address); err != nil {
			return nil, err
		}
		if _, ok := withLanguages[address]; ok {
			if err := idx.languages.Delete(address); err != nil {
				return nil, err
			}
		}
		delete(live, address)
	}
	for address, e := range live {
		if _, ok := withLanguages[address]; ok {
			continue
		}
		if err := idx.languages.Set(address, e.ID, nil); err != nil {
			return nil, err
		}
	}

	if err := idx.ids.Clear(); err != nil {
		return nil, err
	}
	if err := idx.paths.Clear(); err != nil {
		return nil, err
	}
	ids := map[string]struct{}{}
	for address, e := range live {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ids[e.ID] = struct{}{}
		if err := idx.ids.Add(e.ID, address); err != nil {
			return nil, err
		}
		if e.Path == "" {
			continue
		}
		if err := idx.paths.Add(e.Path, address); err != nil {
			return nil, err
		}
	}

	var orphanDocs []*content.Document
	idx.search.Documents(func(doc *content.Document) bool {
		if _, ok := ids[doc.ID]; !ok {
			orphanDocs = append(orphanDocs, doc)
		}
		return true
	})
	for _, doc := range orphanDocs {
		if _, err := idx.search.Delete(ctx, content.ResourceURI{ID: doc.ID, Version: doc.Version}); err != nil {
			return nil, err
		}
	}

	if err := idx.journal.commit(); err != nil {
		return nil, err
	}
	idx.logger.Info("repository index repaired",
		"resources", len(live),
		"orphan_versions", len(orphanVersions),
		"orphan_languages", len(orphanLanguages),
		"orphan_documents", len(orphanDocs),
		"live_without_document", report.LiveWithoutDocument,
		"healthy_before", report.Healthy(),
	)
	return report, nil
}
