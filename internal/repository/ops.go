package repository

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/digitalroastery/weblounge-sub005/internal/content"
	"github.com/digitalroastery/weblounge-sub005/internal/events"
	"github.com/digitalroastery/weblounge-sub005/internal/structure"
	apperrors "github.com/digitalroastery/weblounge-sub005/pkg/errors"
	"github.com/digitalroastery/weblounge-sub005/pkg/logger"
)

// Add indexes a revision of res and returns its complete URI. A resource
// without an identifier gets a new one. Adding a revision that is already
// indexed updates it instead.
func (idx *Index) Add(ctx context.Context, res *content.Resource) (content.ResourceURI, error) {
	const op = "repository.add"
	if err := idx.checkWritable(op); err != nil {
		return content.ResourceURI{}, err
	}
	if res == nil {
		return content.ResourceURI{}, apperrors.New(apperrors.ErrInvalidInput, op, "resource is nil")
	}
	res = res.Clone()
	res.URI.Normalize()
	if err := validateNew(op, res.URI); err != nil {
		return content.ResourceURI{}, err
	}

	start := time.Now()
	idx.mu.Lock()
	event, err := idx.add(ctx, res)
	idx.mu.Unlock()
	idx.metrics.ObserveOp("add", start, err)
	if err != nil {
		return content.ResourceURI{}, err
	}
	idx.publish(ctx, event)
	return res.URI, nil
}

func validateNew(op string, uri content.ResourceURI) error {
	if uri.Type == "" {
		return apperrors.New(apperrors.ErrInvalidInput, op, "resource has no type")
	}
	if uri.ID != "" || uri.Path != "" {
		return uri.Validate()
	}
	return nil
}

// add resolves the resource by identifier, then by path. Callers hold
// idx.mu. res.URI is completed in place.
func (idx *Index) add(ctx context.Context, res *content.Resource) (events.IndexEvent, error) {
	const op = "repository.add"
	uri := &res.URI

	address := int64(-1)
	var e structure.URIEntry
	var err error
	if uri.ID != "" {
		if address, e, err = idx.byID(uri.ID); err != nil {
			return events.IndexEvent{}, err
		}
	}
	if address < 0 && uri.Path != "" {
		if address, e, err = idx.byPath(uri.Path); err != nil {
			return events.IndexEvent{}, err
		}
		if address >= 0 && uri.ID != "" && e.ID != uri.ID {
			return events.IndexEvent{}, apperrors.Newf(apperrors.ErrInvalidState, op,
				"path %s is taken by resource %s", uri.Path, e.ID)
		}
	}

	if address < 0 {
		return idx.addResource(ctx, res)
	}

	uri.ID = e.ID
	if uri.Path == "" {
		uri.Path = e.Path
	}
	has, err := idx.versions.HasVersion(address, uri.Version)
	if err != nil {
		return events.IndexEvent{}, err
	}
	if has {
		idx.logger.Warn("revision is already indexed, updating instead", "uri", uri.String())
		return idx.update(ctx, res)
	}
	return idx.addVersion(ctx, res, address, e)
}

// addResource indexes a resource that has no revision in the index yet.
func (idx *Index) addResource(ctx context.Context, res *content.Resource) (events.IndexEvent, error) {
	uri := &res.URI
	if uri.ID == "" {
		uri.ID = uuid.NewString()
	}
	if err := idx.journal.begin(intent{Op: "add", URI: *uri, Address: -1}); err != nil {
		return events.IndexEvent{}, err
	}
	address, err := idx.uris.Add(uri.ID, uri.Type, uri.Path)
	if err != nil {
		return events.IndexEvent{}, err
	}
	if err := idx.ids.Add(uri.ID, address); err != nil {
		return events.IndexEvent{}, err
	}
	if uri.Path != "" {
		if err := idx.paths.Add(uri.Path, address); err != nil {
			return events.IndexEvent{}, err
		}
	}
	// A recycled address may still hold entries of a deleted resource.
	if err := idx.versions.Set(address, uri.ID, uri.Version); err != nil {
		return events.IndexEvent{}, err
	}
	if err := idx.languages.Set(address, uri.ID, res.Languages); err != nil {
		return events.IndexEvent{}, err
	}
	if err := idx.syncSearch(ctx, res); err != nil {
		return events.IndexEvent{}, err
	}
	if err := idx.journal.commit(); err != nil {
		return events.IndexEvent{}, err
	}
	logger.FromContext(ctx).Debug("resource added", "uri", uri.String(), "address", address)
	return events.NewIndexEvent(events.TypeAdd, *uri), nil
}

// addVersion adds a revision to the resource at address.
func (idx *Index) addVersion(ctx context.Context, res *content.Resource, address int64, e structure.URIEntry) (events.IndexEvent, error) {
	uri := &res.URI
	if uri.Version == content.Live {
		if err := idx.checkPath("repository.add", address, uri.Path); err != nil {
			return events.IndexEvent{}, err
		}
	}
	if err := idx.journal.begin(intent{Op: "add_version", URI: *uri, Address: address, Path: e.Path}); err != nil {
		return events.IndexEvent{}, err
	}
	if err := idx.versions.AddVersion(address, uri.Version); err != nil {
		return events.IndexEvent{}, err
	}
	if uri.Version == content.Live {
		if err := idx.relocate(address, e, uri.Path); err != nil {
			return events.IndexEvent{}, err
		}
	} else {
		uri.Path = e.Path
	}
	if len(res.Languages) > 0 {
		langs, err := idx.languages.Languages(address)
		if err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
			return events.IndexEvent{}, err
		}
		if err := idx.languages.Set(address, uri.ID, append(langs, res.Languages...)); err != nil {
			return events.IndexEvent{}, err
		}
	}
	if err := idx.syncSearch(ctx, res); err != nil {
		return events.IndexEvent{}, err
	}
	if err := idx.journal.commit(); err != nil {
		return events.IndexEvent{}, err
	}
	logger.FromContext(ctx).Debug("revision added", "uri", uri.String(), "address", address)
	return events.NewIndexEvent(events.TypeAdd, *uri), nil
}

// checkPath fails when path belongs to a resource other than the one at
// address.
func (idx *Index) checkPath(op string, address int64, path string) error {
	if path == "" {
		return nil
	}
	other, e, err := idx.byPath(path)
	if err != nil {
		return err
	}
	if other >= 0 && other != address {
		return apperrors.Newf(apperrors.ErrInvalidState, op, "path %s is taken by resource %s", path, e.ID)
	}
	return nil
}

// relocate moves the URI entry at address from e.Path to path. An empty or
// unchanged path is a no-op.
func (idx *Index) relocate(address int64, e structure.URIEntry, path string) error {
	if path == "" || path == e.Path {
		return nil
	}
	if err := idx.uris.Update(address, e.Type, path); err != nil {
		return err
	}
	if e.Path != "" {
		if err := idx.paths.Delete(e.Path, address); err != nil {
			return err
		}
	}
	return idx.paths.Add(path, address)
}

// syncSearch posts indexable live revisions and removes everything else
// from the search index.
func (idx *Index) syncSearch(ctx context.Context, res *content.Resource) error {
	if res.URI.Version == content.Live && res.IsIndexed() {
		_, err := idx.search.Add(ctx, res)
		return err
	}
	_, err := idx.search.Delete(ctx, res.URI)
	return err
}

// Update re-indexes an existing revision. Only live revisions are projected
// into the search index; their path and languages are taken from res.
func (idx *Index) Update(ctx context.Context, res *content.Resource) error {
	const op = "repository.update"
	if err := idx.checkWritable(op); err != nil {
		return err
	}
	if res == nil {
		return apperrors.New(apperrors.ErrInvalidInput, op, "resource is nil")
	}
	res = res.Clone()
	res.URI.Normalize()
	if err := res.URI.Validate(); err != nil {
		return err
	}

	start := time.Now()
	idx.mu.Lock()
	event, err := idx.update(ctx, res)
	idx.mu.Unlock()
	idx.metrics.ObserveOp("update", start, err)
	if err != nil {
		return err
	}
	idx.publish(ctx, event)
	return nil
}

// update expects an indexed revision. Callers hold idx.mu.
func (idx *Index) update(ctx context.Context, res *content.Resource) (events.IndexEvent, error) {
	const op = "repository.update"
	uri := &res.URI
	address, e, err := idx.toURIEntry(*uri)
	if err != nil {
		return events.IndexEvent{}, err
	}
	if address < 0 {
		return events.IndexEvent{}, apperrors.Newf(apperrors.ErrInternalConsistency, op, "%s is not indexed", uri)
	}
	has, err := idx.versions.HasVersion(address, uri.Version)
	if err != nil {
		return events.IndexEvent{}, err
	}
	if !has {
		return events.IndexEvent{}, apperrors.Newf(apperrors.ErrInternalConsistency, op, "revision %s of %s is not indexed", uri.Version, e.ID)
	}
	uri.ID = e.ID

	if uri.Version != content.Live {
		uri.Path = e.Path
		return events.NewIndexEvent(events.TypeUpdate, *uri), nil
	}

	if err := idx.checkPath(op, address, uri.Path); err != nil {
		return events.IndexEvent{}, err
	}
	if err := idx.journal.begin(intent{Op: "update", URI: *uri, Address: address, Path: e.Path}); err != nil {
		return events.IndexEvent{}, err
	}
	if err := idx.relocate(address, e, uri.Path); err != nil {
		return events.IndexEvent{}, err
	}
	if uri.Path == "" {
		uri.Path = e.Path
	}
	if err := idx.languages.Set(address, uri.ID, res.Languages); err != nil {
		return events.IndexEvent{}, err
	}
	if res.IsIndexed() {
		_, err = idx.search.Update(ctx, res)
	} else {
		_, err = idx.search.Delete(ctx, *uri)
	}
	if err != nil {
		return events.IndexEvent{}, err
	}
	if err := idx.journal.commit(); err != nil {
		return events.IndexEvent{}, err
	}
	event := events.NewIndexEvent(events.TypeUpdate, *uri)
	if e.Path != uri.Path {
		event.OldPath = e.Path
	}
	return event, nil
}

// Delete removes the revision addressed by uri. Removing the last revision
// removes the resource. A URI carrying an identifier that is not indexed is
// an internal consistency violation; an unknown path just yields false.
func (idx *Index) Delete(ctx context.Context, uri content.ResourceURI) (bool, error) {
	const op = "repository.delete"
	if err := idx.checkWritable(op); err != nil {
		return false, err
	}
	uri.Normalize()
	if err := uri.Validate(); err != nil {
		return false, err
	}

	start := time.Now()
	idx.mu.Lock()
	event, deleted, err := idx.delete(ctx, uri)
	idx.mu.Unlock()
	idx.metrics.ObserveOp("delete", start, err)
	if err != nil || !deleted {
		return false, err
	}
	idx.publish(ctx, event)
	return true, nil
}

func (idx *Index) delete(ctx context.Context, uri content.ResourceURI) (events.IndexEvent, bool, error) {
	const op = "repository.delete"
	address, e, err := idx.toURIEntry(uri)
	if err != nil {
		return events.IndexEvent{}, false, err
	}
	if address < 0 {
		if uri.ID != "" {
			return events.IndexEvent{}, false, apperrors.Newf(apperrors.ErrInternalConsistency, op, "%s is not indexed", uri)
		}
		idx.logger.Warn("tried to delete a resource that is not indexed", "uri", uri.String())
		return events.IndexEvent{}, false, nil
	}
	uri.ID, uri.Path = e.ID, e.Path

	versions, err := idx.versions.Versions(address)
	if err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
		return events.IndexEvent{}, false, err
	}
	if !slices.Contains(versions, uri.Version) {
		idx.logger.Warn("tried to delete a revision that is not indexed", "uri", uri.String())
		return events.IndexEvent{}, false, nil
	}

	if err := idx.journal.begin(intent{Op: "delete", URI: uri, Address: address, Path: e.Path}); err != nil {
		return events.IndexEvent{}, false, err
	}
	if _, err := idx.search.Delete(ctx, uri); err != nil {
		return events.IndexEvent{}, false, err
	}
	if len(versions) == 1 {
		if err := idx.removeResource(address, e); err != nil {
			return events.IndexEvent{}, false, err
		}
	} else if err := idx.versions.DeleteVersion(address, uri.Version); err != nil {
		return events.IndexEvent{}, false, err
	}
	if err := idx.journal.commit(); err != nil {
		return events.IndexEvent{}, false, err
	}
	logger.FromContext(ctx).Debug("revision deleted", "uri", uri.String(), "address", address, "last", len(versions) == 1)
	return events.NewIndexEvent(events.TypeDelete, uri), true, nil
}

// removeResource drops every structural entry of the resource at address.
func (idx *Index) removeResource(address int64, e structure.URIEntry) error {
	if err := idx.ids.Delete(e.ID, address); err != nil {
		return err
	}
	if e.Path != "" {
		if err := idx.paths.Delete(e.Path, address); err != nil {
			return err
		}
	}
	if err := idx.uris.Delete(address); err != nil {
		return err
	}
	if err := idx.versions.Delete(address); err != nil {
		return err
	}
	err := idx.languages.Delete(address)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	return err
}

// Move changes the path of the resource addressed by uri. The search
// document of the live revision follows when uri addresses it.
func (idx *Index) Move(ctx context.Context, uri content.ResourceURI, newPath string) error {
	const op = "repository.move"
	if err := idx.checkWritable(op); err != nil {
		return err
	}
	uri.Normalize()
	if err := uri.Validate(); err != nil {
		return err
	}
	newPath = content.NormalizePath(newPath)
	if newPath == "" || strings.ContainsRune(newPath, '\n') {
		return apperrors.Newf(apperrors.ErrInvalidInput, op, "invalid target path %q", newPath)
	}

	start := time.Now()
	idx.mu.Lock()
	event, err := idx.move(ctx, uri, newPath)
	idx.mu.Unlock()
	idx.metrics.ObserveOp("move", start, err)
	if err != nil {
		return err
	}
	idx.publish(ctx, event)
	return nil
}

func (idx *Index) move(ctx context.Context, uri content.ResourceURI, newPath string) (events.IndexEvent, error) {
	const op = "repository.move"
	address, e, err := idx.toURIEntry(uri)
	if err != nil {
		return events.IndexEvent{}, err
	}
	if address < 0 {
		return events.IndexEvent{}, apperrors.Newf(apperrors.ErrInternalConsistency, op, "%s is not indexed", uri)
	}
	uri.ID, uri.Path = e.ID, newPath
	event := events.NewIndexEvent(events.TypeMove, uri)
	event.OldPath = e.Path
	if e.Path == newPath {
		return event, nil
	}

	if err := idx.checkPath(op, address, newPath); err != nil {
		return events.IndexEvent{}, err
	}
	if err := idx.journal.begin(intent{Op: "move", URI: uri, Address: address, Path: e.Path}); err != nil {
		return events.IndexEvent{}, err
	}
	if err := idx.relocate(address, e, newPath); err != nil {
		return events.IndexEvent{}, err
	}
	if uri.Version == content.Live {
		if _, err := idx.search.Move(ctx, uri, newPath); err != nil {
			return events.IndexEvent{}, err
		}
	}
	if err := idx.journal.commit(); err != nil {
		return events.IndexEvent{}, err
	}
	logger.FromContext(ctx).Debug("resource moved", "id", e.ID, "from", e.Path, "to", newPath)
	return event, nil
}
