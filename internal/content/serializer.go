package content

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

// Well known resource types.
const (
	TypePage  = "page"
	TypeFile  = "file"
	TypeImage = "image"
	TypeMovie = "movie"
)

// Document is the search projection of one resource revision.
type Document struct {
	ID        string              `json:"id"`
	Version   Version             `json:"version"`
	Type      string              `json:"type"`
	Site      string              `json:"site,omitempty"`
	Path      string              `json:"path,omitempty"`
	Languages []string            `json:"languages,omitempty"`
	Title     map[string]string   `json:"title,omitempty"`
	Subjects  []string            `json:"subjects,omitempty"`
	Author    string              `json:"author,omitempty"`
	Modified  time.Time           `json:"modified,omitzero"`
	Fields    map[string][]string `json:"fields,omitempty"`
	// Fulltext is the text indexed for every language, LocalizedText the
	// text indexed per language.
	Fulltext      string            `json:"-"`
	LocalizedText map[string]string `json:"-"`
	// AlternateVersions lists the other revisions of the same resource that
	// are present in the search index.
	AlternateVersions []Version `json:"alternateVersions,omitempty"`
}

// Key identifies the document in the search index.
func (d *Document) Key() string {
	return DocumentKey(d.ID, d.Version)
}

// DocumentKey builds the search key of a resource revision.
func DocumentKey(id string, v Version) string {
	return fmt.Sprintf("%s/%d", id, int64(v))
}

// Text returns everything that is tokenized for fulltext search.
func (d *Document) Text() string {
	var b strings.Builder
	for _, lang := range slices.Sorted(maps.Keys(d.Title)) {
		b.WriteString(d.Title[lang])
		b.WriteByte(' ')
	}
	for _, s := range d.Subjects {
		b.WriteString(s)
		b.WriteByte(' ')
	}
	b.WriteString(d.Fulltext)
	for _, lang := range slices.Sorted(maps.Keys(d.LocalizedText)) {
		b.WriteByte(' ')
		b.WriteString(d.LocalizedText[lang])
	}
	return b.String()
}

// Serializer turns a resource of one type into a search document.
type Serializer interface {
	Type() string
	ToDocument(r *Resource) (*Document, error)
}

// Registry maps resource types to serializers.
type Registry struct {
	mu          sync.RWMutex
	serializers map[string]Serializer
}

func NewRegistry() *Registry {
	return &Registry{serializers: make(map[string]Serializer)}
}

// DefaultRegistry returns a registry with the page, file, image and movie
// serializers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(PageSerializer{})
	r.Register(FileSerializer{typ: TypeFile})
	r.Register(FileSerializer{typ: TypeImage})
	r.Register(FileSerializer{typ: TypeMovie})
	return r
}

// Register adds s, replacing any serializer registered for the same type.
func (r *Registry) Register(s Serializer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.serializers[s.Type()] = s
}

func (r *Registry) Lookup(typ string) (Serializer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.serializers[typ]
	return s, ok
}

// Types lists the registered resource types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.serializers))
}

func baseDocument(r *Resource) *Document {
	doc := &Document{
		ID:        r.URI.ID,
		Version:   r.URI.Version,
		Type:      r.URI.Type,
		Site:      r.URI.Site,
		Path:      r.URI.Path,
		Languages: slices.Clone(r.Languages),
		Title:     maps.Clone(r.Title),
		Subjects:  slices.Clone(r.Subjects),
		Author:    r.Author,
		Modified:  r.Modified,
		Fields:    make(map[string][]string, len(r.Metadata)),
	}
	for k, v := range r.Metadata {
		doc.Fields[k] = slices.Clone(v)
	}
	return doc
}

// PageSerializer indexes pages: titles, subjects and the per-language
// content of their pagelets.
type PageSerializer struct{}

func (PageSerializer) Type() string { return TypePage }

func (PageSerializer) ToDocument(r *Resource) (*Document, error) {
	doc := baseDocument(r)
	if r.Template != "" {
		doc.Fields["template"] = []string{r.Template}
	}
	doc.LocalizedText = maps.Clone(r.Content)
	return doc, nil
}

// FileSerializer indexes binary resources. Only their metadata and the
// extracted text, if any, are searchable.
type FileSerializer struct {
	typ string
}

// NewFileSerializer returns a serializer for a binary resource type.
func NewFileSerializer(typ string) FileSerializer {
	return FileSerializer{typ: typ}
}

func (s FileSerializer) Type() string { return s.typ }

func (s FileSerializer) ToDocument(r *Resource) (*Document, error) {
	doc := baseDocument(r)
	if r.MimeType != "" {
		doc.Fields["mimetype"] = []string{r.MimeType}
	}
	parts := make([]string, 0, len(r.Content)+1)
	if name := fileName(r.URI.Path); name != "" {
		parts = append(parts, name)
	}
	for _, lang := range slices.Sorted(maps.Keys(r.Content)) {
		parts = append(parts, r.Content[lang])
	}
	doc.Fulltext = strings.Join(parts, " ")
	return doc, nil
}

func fileName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		path = path[i+1:]
	}
	return strings.NewReplacer("-", " ", "_", " ", ".", " ").Replace(path)
}
