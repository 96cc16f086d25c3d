package engine

import (
	"slices"
	"strings"

	"github.com/digitalroastery/weblounge-sub005/internal/content"
)

// Query selects documents by structured criteria and optional free text.
// Zero valued fields do not restrict the result. Without Text, matching
// documents are returned in key order with a score of zero.
type Query struct {
	Site         string           `json:"site,omitempty"`
	Types        []string         `json:"types,omitempty"`
	WithoutTypes []string         `json:"withoutTypes,omitempty"`
	ID           string           `json:"id,omitempty"`
	Version      *content.Version `json:"version,omitempty"`
	Path         string           `json:"path,omitempty"`
	PathPrefix   string           `json:"pathPrefix,omitempty"`
	Language     string           `json:"language,omitempty"`
	Subjects     []string         `json:"subjects,omitempty"`
	Author       string           `json:"author,omitempty"`
	Text         string           `json:"text,omitempty"`
	Offset       int              `json:"offset,omitempty"`
	Limit        int              `json:"limit,omitempty"`
}

// Hit is one matching document.
type Hit struct {
	Key      string            `json:"key"`
	Score    float64           `json:"score"`
	Document *content.Document `json:"document"`
}

// Result is one page of matching documents.
type Result struct {
	Query     Query          `json:"query"`
	TotalHits int            `json:"totalHits"`
	Offset    int            `json:"offset"`
	Limit     int            `json:"limit"`
	Items     []Hit          `json:"items"`
	TermStats map[string]int `json:"termStats,omitempty"`
}

// matches applies every structured criterion of q to doc.
func (q *Query) matches(doc *content.Document) bool {
	if q.Site != "" && doc.Site != q.Site {
		return false
	}
	if len(q.Types) > 0 && !slices.Contains(q.Types, doc.Type) {
		return false
	}
	if slices.Contains(q.WithoutTypes, doc.Type) {
		return false
	}
	if q.ID != "" && doc.ID != q.ID {
		return false
	}
	if q.Version != nil && doc.Version != *q.Version {
		return false
	}
	if q.Path != "" && doc.Path != q.Path {
		return false
	}
	if q.PathPrefix != "" && !hasPathPrefix(doc.Path, q.PathPrefix) {
		return false
	}
	if q.Language != "" && !slices.Contains(doc.Languages, q.Language) {
		return false
	}
	for _, s := range q.Subjects {
		if !slices.Contains(doc.Subjects, s) {
			return false
		}
	}
	if q.Author != "" && doc.Author != q.Author {
		return false
	}
	return true
}

// hasPathPrefix matches whole path segments, so /news matches /news/today
// but not /newsletter.
func hasPathPrefix(path, prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
