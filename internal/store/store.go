// Package store defines the bucketed key-value log used for audit records.
package store

// Store keeps byte values under byte keys, grouped in buckets. Keys iterate
// in byte order, so time-ordered keys give chronological iteration.
type Store interface {
	Get(bucket, key []byte) ([]byte, error)
	Put(bucket, key, value []byte) error
	ForEach(bucket []byte, fn func(key, value []byte) error) error
	Count(bucket []byte) (int, error)
	// Prune deletes the oldest keys until at most keep remain and returns
	// how many were removed.
	Prune(bucket []byte, keep int) (int, error)
	Close() error
}
