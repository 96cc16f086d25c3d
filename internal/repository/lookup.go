package repository

import (
	"context"
	"slices"

	"github.com/digitalroastery/weblounge-sub005/internal/content"
	"github.com/digitalroastery/weblounge-sub005/internal/search"
	"github.com/digitalroastery/weblounge-sub005/internal/structure"
	apperrors "github.com/digitalroastery/weblounge-sub005/pkg/errors"
)

// byID returns the address of the live URI entry with identifier id, or -1.
// Bucket candidates belonging to other identifiers or to deleted entries
// are skipped.
func (idx *Index) byID(id string) (int64, structure.URIEntry, error) {
	candidates, err := idx.ids.Locate(id)
	if err != nil {
		return -1, structure.URIEntry{}, err
	}
	return idx.verify(candidates, func(e structure.URIEntry) bool { return e.ID == id })
}

// byPath returns the address of the live URI entry stored under path, or -1.
func (idx *Index) byPath(path string) (int64, structure.URIEntry, error) {
	candidates, err := idx.paths.Locate(path)
	if err != nil {
		return -1, structure.URIEntry{}, err
	}
	return idx.verify(candidates, func(e structure.URIEntry) bool { return e.Path == path })
}

func (idx *Index) verify(candidates []int64, match func(structure.URIEntry) bool) (int64, structure.URIEntry, error) {
	for _, address := range candidates {
		e, err := idx.uris.Get(address)
		if apperrors.Is(err, apperrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return -1, structure.URIEntry{}, err
		}
		if match(e) {
			return address, e, nil
		}
	}
	return -1, structure.URIEntry{}, nil
}

// toURIEntry resolves uri by identifier when it has one and by path
// otherwise. A type on uri must match the stored type. It returns -1 when
// nothing matches.
func (idx *Index) toURIEntry(uri content.ResourceURI) (int64, structure.URIEntry, error) {
	var (
		address int64
		e       structure.URIEntry
		err     error
	)
	switch {
	case uri.ID != "":
		address, e, err = idx.byID(uri.ID)
	case uri.Path != "":
		address, e, err = idx.byPath(uri.Path)
	default:
		return -1, e, apperrors.New(apperrors.ErrInvalidInput, "repository.resolve", "uri needs an identifier or a path")
	}
	if err != nil || address < 0 {
		return -1, structure.URIEntry{}, err
	}
	if uri.Type != "" && e.Type != uri.Type {
		return -1, structure.URIEntry{}, nil
	}
	return address, e, nil
}

// resolve normalizes and validates uri before looking it up.
func (idx *Index) resolve(uri content.ResourceURI) (content.ResourceURI, int64, structure.URIEntry, error) {
	uri.Normalize()
	if err := uri.Validate(); err != nil {
		return uri, -1, structure.URIEntry{}, err
	}
	address, e, err := idx.toURIEntry(uri)
	return uri, address, e, err
}

// Exists reports whether the revision addressed by uri is indexed.
func (idx *Index) Exists(uri content.ResourceURI) (bool, error) {
	uri, address, _, err := idx.resolve(uri)
	if err != nil || address < 0 {
		return false, err
	}
	return idx.versions.HasVersion(address, uri.Version)
}

// ExistsInAnyVersion reports whether any revision of the resource addressed
// by uri is indexed. The version of uri is ignored.
func (idx *Index) ExistsInAnyVersion(uri content.ResourceURI) (bool, error) {
	_, address, _, err := idx.resolve(uri)
	return address >= 0, err
}

// GetIdentifier returns the identifier of the resource stored under the
// path of uri.
func (idx *Index) GetIdentifier(uri content.ResourceURI) (string, error) {
	const op = "repository.get_identifier"
	path := content.NormalizePath(uri.Path)
	if path == "" {
		return "", apperrors.New(apperrors.ErrInvalidInput, op, "uri has no path")
	}
	address, e, err := idx.byPath(path)
	if err != nil {
		return "", err
	}
	if address < 0 || (uri.Type != "" && e.Type != uri.Type) {
		return "", apperrors.Newf(apperrors.ErrNotFound, op, "no resource at path %s", path)
	}
	return e.ID, nil
}

// GetPath returns the path of the resource with the identifier of uri. A
// resource without a path yields "".
func (idx *Index) GetPath(uri content.ResourceURI) (string, error) {
	const op = "repository.get_path"
	if uri.ID == "" {
		return "", apperrors.New(apperrors.ErrInvalidInput, op, "uri has no identifier")
	}
	address, e, err := idx.byID(uri.ID)
	if err != nil {
		return "", err
	}
	if address < 0 || (uri.Type != "" && e.Type != uri.Type) {
		return "", apperrors.Newf(apperrors.ErrNotFound, op, "no resource with identifier %s", uri.ID)
	}
	return e.Path, nil
}

// GetType returns the resource type stored for uri.
func (idx *Index) GetType(uri content.ResourceURI) (string, error) {
	uri.Type = ""
	uri, address, e, err := idx.resolve(uri)
	if err != nil {
		return "", err
	}
	if address < 0 {
		return "", apperrors.Newf(apperrors.ErrNotFound, "repository.get_type", "%s is not indexed", uri)
	}
	return e.Type, nil
}

// GetRevisions returns the indexed revisions of the resource addressed by
// uri in ascending order.
func (idx *Index) GetRevisions(uri content.ResourceURI) ([]content.Version, error) {
	uri, address, _, err := idx.resolve(uri)
	if err != nil {
		return nil, err
	}
	if address < 0 {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "repository.get_revisions", "%s is not indexed", uri)
	}
	versions, err := idx.versions.Versions(address)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.Newf(apperrors.ErrInternalConsistency, "repository.get_revisions", "%s has no version entry at address %d", uri, address)
	}
	if err != nil {
		return nil, err
	}
	slices.Sort(versions)
	return versions, nil
}

// GetLanguages returns the languages of the resource addressed by uri. A
// resource without languages yields an empty slice.
func (idx *Index) GetLanguages(uri content.ResourceURI) ([]string, error) {
	uri, address, _, err := idx.resolve(uri)
	if err != nil {
		return nil, err
	}
	if address < 0 {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "repository.get_languages", "%s is not indexed", uri)
	}
	langs, err := idx.languages.Languages(address)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	slices.Sort(langs)
	return langs, nil
}

// Find runs q against the search index.
func (idx *Index) Find(ctx context.Context, q search.Query) (*search.Result, error) {
	return idx.search.Find(ctx, q)
}

// Suggest completes prefix from the titles and subjects of indexed
// resources.
func (idx *Index) Suggest(prefix string, n int) []string {
	return idx.search.Suggest(prefix, n)
}
