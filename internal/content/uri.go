// Package content holds the value types the repository index consumes:
// resource URIs, versions, resources and their search projection.
package content

import (
	"fmt"
	"strings"

	apperrors "github.com/digitalroastery/weblounge-sub005/pkg/errors"
)

// Version is the lifecycle state of a resource revision.
type Version int64

const (
	Live     Version = 0
	Work     Version = 1
	Original Version = 2
)

func (v Version) String() string {
	switch v {
	case Live:
		return "live"
	case Work:
		return "work"
	case Original:
		return "original"
	default:
		return fmt.Sprintf("version(%d)", int64(v))
	}
}

// ParseVersion accepts the names printed by String as well as their numeric
// values.
func ParseVersion(s string) (Version, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "live", "0", "":
		return Live, nil
	case "work", "1":
		return Work, nil
	case "original", "2":
		return Original, nil
	}
	return 0, apperrors.Newf(apperrors.ErrInvalidInput, "content.parse_version", "unknown version %q", s)
}

// IDLength is the length of a resource identifier in its canonical UUID form.
const IDLength = 36

// ResourceURI addresses a resource revision. ID or Path must be set when the
// URI is used for a lookup; both are set once the resource is indexed.
type ResourceURI struct {
	Type    string  `json:"type"`
	Site    string  `json:"site,omitempty"`
	Path    string  `json:"path,omitempty"`
	Version Version `json:"version"`
	ID      string  `json:"id,omitempty"`
}

// NewURI builds a normalized URI.
func NewURI(typ, site, path, id string, version Version) ResourceURI {
	u := ResourceURI{Type: typ, Site: site, Path: path, ID: id, Version: version}
	u.Normalize()
	return u
}

// Normalize trims the identifier and path and brings the path into canonical
// form: a leading slash and no trailing slash except for the root.
func (u *ResourceURI) Normalize() {
	u.ID = strings.TrimSpace(u.ID)
	u.Path = NormalizePath(u.Path)
}

// NormalizePath returns p in canonical form, or "" for a blank path.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	for len(p) > 1 && strings.HasSuffix(p, "/") {
		p = p[:len(p)-1]
	}
	return p
}

// Validate reports URIs that cannot be resolved.
func (u ResourceURI) Validate() error {
	if u.ID == "" && u.Path == "" {
		return apperrors.New(apperrors.ErrInvalidInput, "content.uri", "uri needs an identifier or a path")
	}
	if u.ID != "" && len(u.ID) != IDLength {
		return apperrors.Newf(apperrors.ErrInvalidInput, "content.uri", "identifier %q is not %d bytes long", u.ID, IDLength)
	}
	if strings.ContainsRune(u.Path, '\n') {
		return apperrors.New(apperrors.ErrInvalidInput, "content.uri", "path contains a newline")
	}
	return nil
}

// WithVersion returns a copy of u pointing at another revision.
func (u ResourceURI) WithVersion(v Version) ResourceURI {
	u.Version = v
	return u
}

func (u ResourceURI) String() string {
	ref := u.ID
	if ref == "" {
		ref = u.Path
	}
	if u.Site != "" {
		return fmt.Sprintf("%s://%s/%s?v=%s", u.Type, u.Site, strings.TrimPrefix(ref, "/"), u.Version)
	}
	return fmt.Sprintf("%s:%s?v=%s", u.Type, ref, u.Version)
}
