package repository

// IndexStats describes one fixed record index file.
type IndexStats struct {
	Entries  int64 `json:"entries"`
	Slots    int64 `json:"slots"`
	Size     int64 `json:"size"`
	Capacity int   `json:"capacity"`
	// LoadFactor is only reported for the hashed indices.
	LoadFactor float64 `json:"loadFactor,omitempty"`
}

// Stats is a snapshot of the index sizes.
type Stats struct {
	Resources    int64                 `json:"resources"`
	Revisions    int64                 `json:"revisions"`
	Documents    int                   `json:"documents"`
	IndexVersion int                   `json:"indexVersion"`
	ReadOnly     bool                  `json:"readOnly"`
	Indices      map[string]IndexStats `json:"indices"`
}

// Stats collects the sizes of every sub-index.
func (idx *Index) Stats() (*Stats, error) {
	revisions, err := idx.versions.Revisions()
	if err != nil {
		return nil, err
	}
	return &Stats{
		Resources:    idx.uris.Entries(),
		Revisions:    revisions,
		Documents:    idx.search.DocCount(),
		IndexVersion: idx.IndexVersion(),
		ReadOnly:     idx.readOnly,
		Indices: map[string]IndexStats{
			"uri": {
				Entries:  idx.uris.Entries(),
				Slots:    idx.uris.Slots(),
				Size:     idx.uris.Size(),
				Capacity: idx.uris.PathCapacity(),
			},
			"id": {
				Entries:    idx.ids.Entries(),
				Slots:      idx.ids.Slots(),
				Size:       idx.ids.Size(),
				Capacity:   idx.ids.EntriesPerSlot(),
				LoadFactor: idx.ids.LoadFactor(),
			},
			"path": {
				Entries:    idx.paths.Entries(),
				Slots:      idx.paths.Slots(),
				Size:       idx.paths.Size(),
				Capacity:   idx.paths.EntriesPerSlot(),
				LoadFactor: idx.paths.LoadFactor(),
			},
			"version": {
				Entries:  idx.versions.Entries(),
				Slots:    idx.versions.Slots(),
				Size:     idx.versions.Size(),
				Capacity: idx.versions.VersionsPerEntry(),
			},
			"language": {
				Entries:  idx.languages.Entries(),
				Slots:    idx.languages.Slots(),
				Size:     idx.languages.Size(),
				Capacity: idx.languages.LanguagesPerEntry(),
			},
		},
	}, nil
}
