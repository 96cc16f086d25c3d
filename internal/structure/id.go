package structure

const (
	IDIndexFile = "id.idx"

	idMagic uint32 = 0x49444958 // "IDIX"
)

// IDIndex maps resource identifiers to URI addresses.
type IDIndex struct {
	*bucketIndex
}

// OpenIDIndex opens or creates dir/id.idx.
func OpenIDIndex(dir string, opts BucketOptions) (*IDIndex, error) {
	b, err := openBucketIndex(dir, IDIndexFile, "id", idMagic, opts)
	if err != nil {
		return nil, err
	}
	return &IDIndex{bucketIndex: b}, nil
}
