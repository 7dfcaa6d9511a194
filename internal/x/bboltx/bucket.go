package bboltx

import "go.etcd.io/bbolt"

// CreateBucketIfNotExists creates the nested buckets named by path and returns
// the innermost one.
func CreateBucketIfNotExists(p BucketParent, path ...[]byte) *bbolt.Bucket {
	if len(path) == 0 {
		panic("at least one path element must be provided")
	}

	var b *bbolt.Bucket

	for _, n := range path {
		var err error
		b, err = p.CreateBucketIfNotExists(n)
		Must(err)

		p = b
	}

	return b
}

// Bucket returns the innermost of the nested buckets named by path, or nil if
// any of them does not exist.
func Bucket(p BucketParent, path ...[]byte) *bbolt.Bucket {
	if len(path) == 0 {
		panic("at least one path element must be provided")
	}

	var b *bbolt.Bucket

	for _, n := range path {
		if b = p.Bucket(n); b == nil {
			return nil
		}

		p = b
	}

	return b
}

// Put writes a value to a bucket.
func Put(b *bbolt.Bucket, k, v []byte) {
	Must(b.Put(k, v))
}
