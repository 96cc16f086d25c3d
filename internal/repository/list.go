package repository

import (
	"context"
	"slices"
	"strings"

	"github.com/digitalroastery/weblounge-sub005/internal/content"
	"github.com/digitalroastery/weblounge-sub005/internal/structure"
)

// ListOptions select resources by path. Level limits how many path
// segments below Prefix are included; zero means unlimited. A non-nil
// Version only lists resources that have that revision.
type ListOptions struct {
	Prefix  string
	Level   int
	Version *content.Version
	Types   []string
}

// List returns the URIs of the resources below opts.Prefix ordered by path.
// Resources without a path are only listed when no prefix is given.
func (idx *Index) List(ctx context.Context, opts ListOptions) ([]content.ResourceURI, error) {
	prefix := content.NormalizePath(opts.Prefix)
	var uris []content.ResourceURI
	err := idx.uris.Scan(func(address int64, e structure.URIEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(opts.Types) > 0 && !slices.Contains(opts.Types, e.Type) {
			return nil
		}
		if prefix != "" && !below(e.Path, prefix, opts.Level) {
			return nil
		}
		version := content.Live
		if opts.Version != nil {
			version = *opts.Version
			ok, err := idx.versions.HasVersion(address, version)
			if err != nil || !ok {
				return err
			}
		} else if versions, err := idx.versions.Versions(address); err == nil && len(versions) > 0 {
			version = slices.Min(versions)
		}
		uris = append(uris, content.ResourceURI{Type: e.Type, Path: e.Path, ID: e.ID, Version: version})
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(uris, func(a, b content.ResourceURI) int {
		if c := strings.Compare(a.Path, b.Path); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return uris, nil
}

// below reports whether path is prefix itself or lies at most level
// segments below it.
func below(path, prefix string, level int) bool {
	if path == "" {
		return false
	}
	if path == prefix {
		return true
	}
	base := prefix
	if base != "/" {
		base += "/"
	}
	rest, ok := strings.CutPrefix(path, base)
	if !ok {
		return false
	}
	return level <= 0 || strings.Count(rest, "/")+1 <= level
}
