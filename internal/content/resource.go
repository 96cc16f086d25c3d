package content

import (
	"maps"
	"slices"
	"time"
)

// Resource is the indexable projection of a repository resource.
type Resource struct {
	URI       ResourceURI       `json:"uri"`
	Indexed   bool              `json:"indexed"`
	Languages []string          `json:"languages,omitempty"`
	Title     map[string]string `json:"title,omitempty"`
	// Content holds the fulltext per language.
	Content  map[string]string   `json:"content,omitempty"`
	Subjects []string            `json:"subjects,omitempty"`
	Author   string              `json:"author,omitempty"`
	Template string              `json:"template,omitempty"`
	MimeType string              `json:"mimeType,omitempty"`
	Created  time.Time           `json:"created,omitzero"`
	Modified time.Time           `json:"modified,omitzero"`
	Metadata map[string][]string `json:"metadata,omitempty"`
}

// IsIndexed reports whether the resource may be projected into the search
// index.
func (r *Resource) IsIndexed() bool {
	return r != nil && r.Indexed
}

// Clone returns a deep copy.
func (r *Resource) Clone() *Resource {
	if r == nil {
		return nil
	}
	c := *r
	c.Languages = slices.Clone(r.Languages)
	c.Subjects = slices.Clone(r.Subjects)
	c.Title = maps.Clone(r.Title)
	c.Content = maps.Clone(r.Content)
	if r.Metadata != nil {
		c.Metadata = make(map[string][]string, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = slices.Clone(v)
		}
	}
	return &c
}
