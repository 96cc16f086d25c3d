package structure

const (
	PathIndexFile = "path.idx"

	pathMagic uint32 = 0x50544958 // "PTIX"
)

// PathIndex maps resource paths to URI addresses. Several revisions of a
// resource share one address, so a path is stored once per resource.
type PathIndex struct {
	*bucketIndex
}

// OpenPathIndex opens or creates dir/path.idx.
func OpenPathIndex(dir string, opts BucketOptions) (*PathIndex, error) {
	b, err := openBucketIndex(dir, PathIndexFile, "path", pathMagic, opts)
	if err != nil {
		return nil, err
	}
	return &PathIndex{bucketIndex: b}, nil
}
