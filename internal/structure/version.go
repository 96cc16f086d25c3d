package structure

import (
	"encoding/binary"

	"github.com/digitalroastery/weblounge-sub005/internal/content"
)

const (
	VersionIndexFile = "version.idx"

	versionMagic     uint32 = 0x56455258 // "VERX"
	versionValueSize        = 8
)

// VersionIndex records which revisions (live, work, original) exist for the
// resource at a URI address. Removing the last version deletes the entry.
type VersionIndex struct {
	list *listIndex
}

// OpenVersionIndex opens or creates dir/version.idx.
func OpenVersionIndex(dir string, opts ListOptions) (*VersionIndex, error) {
	l, err := openListIndex(dir, VersionIndexFile, "version", versionMagic, versionValueSize, false, opts)
	if err != nil {
		return nil, err
	}
	return &VersionIndex{list: l}, nil
}

func encodeVersion(v content.Version) string {
	var buf [versionValueSize]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	return string(buf[:])
}

func decodeVersion(s string) content.Version {
	return content.Version(binary.BigEndian.Uint64([]byte(s)))
}

// Add records version for the resource at address, creating the entry if
// the address has none yet.
func (idx *VersionIndex) Add(address int64, id string, version content.Version) error {
	return idx.list.upsert(address, id, encodeVersion(version))
}

// Set replaces the entry at address with versions, discarding whatever
// the slot held before.
func (idx *VersionIndex) Set(address int64, id string, versions ...content.Version) error {
	values := make([]string, len(versions))
	for i, v := range versions {
		values[i] = encodeVersion(v)
	}
	return idx.list.put(address, id, values)
}

// Register stores a new entry in the first vacant slot and returns its
// address. It serves callers that have no URI address yet.
func (idx *VersionIndex) Register(id string, versions ...content.Version) (int64, error) {
	values := make([]string, len(versions))
	for i, v := range versions {
		values[i] = encodeVersion(v)
	}
	return idx.list.register(id, values)
}

// AddVersion adds version to the existing entry at address.
func (idx *VersionIndex) AddVersion(address int64, version content.Version) error {
	return idx.list.add(address, encodeVersion(version))
}

// HasVersion reports whether version is recorded at address. A missing or
// deleted entry has no versions.
func (idx *VersionIndex) HasVersion(address int64, version content.Version) (bool, error) {
	return idx.list.has(address, encodeVersion(version))
}

// Versions returns the recorded versions in insertion order.
func (idx *VersionIndex) Versions(address int64) ([]content.Version, error) {
	values, err := idx.list.values(address)
	if err != nil {
		return nil, err
	}
	versions := make([]content.Version, len(values))
	for i, v := range values {
		versions[i] = decodeVersion(v)
	}
	return versions, nil
}

// DeleteVersion removes one version. Removing the last one deletes the
// entry.
func (idx *VersionIndex) DeleteVersion(address int64, version content.Version) error {
	return idx.list.remove(address, encodeVersion(version))
}

// Delete removes the entry at address.
func (idx *VersionIndex) Delete(address int64) error { return idx.list.Delete(address) }

// Contains reports whether address holds a live entry.
func (idx *VersionIndex) Contains(address int64) (bool, error) { return idx.list.Contains(address) }

func (idx *VersionIndex) ID(address int64) (string, error) { return idx.list.ID(address) }

// Scan calls fn for every live entry in address order.
func (idx *VersionIndex) Scan(fn func(address int64, id string, versions []content.Version) error) error {
	return idx.list.scan(func(address int64, id string, values []string) error {
		versions := make([]content.Version, len(values))
		for i, v := range values {
			versions[i] = decodeVersion(v)
		}
		return fn(address, id, versions)
	})
}

// VersionsPerEntry is the current per entry capacity.
func (idx *VersionIndex) VersionsPerEntry() int { return idx.list.Capacity() }

// Revisions is the total number of recorded versions across all entries.
func (idx *VersionIndex) Revisions() (int64, error) {
	var n int64
	err := idx.list.scan(func(_ int64, _ string, values []string) error {
		n += int64(len(values))
		return nil
	})
	return n, err
}

func (idx *VersionIndex) Entries() int64     { return idx.list.Entries() }
func (idx *VersionIndex) Slots() int64       { return idx.list.Slots() }
func (idx *VersionIndex) Size() int64        { return idx.list.Size() }
func (idx *VersionIndex) FormatVersion() int { return idx.list.FormatVersion() }
func (idx *VersionIndex) Clear() error       { return idx.list.Clear() }
func (idx *VersionIndex) Close() error       { return idx.list.Close() }
