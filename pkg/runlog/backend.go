// Package runlog persists the run manifest: one record per engine run
// plus its stage transitions and shard files. A failed run keeps its
// manifest entry (and its shard files on disk) so a human can inspect
// which range went wrong.
package runlog

import "encoding/json"

// Backend is a minimal bucketed key-value store for manifest records.
// Values are raw []byte; this package encodes them as JSON.
type Backend interface {
	// CreateBucket is idempotent.
	CreateBucket(name []byte) error
	Put(bucket, key, value []byte) error
	// Get returns nil with no error when the key is absent.
	Get(bucket, key []byte) ([]byte, error)
	Delete(bucket, key []byte) error
	ForEach(bucket []byte, fn func(k, v []byte) error) error
	Close() error
}

func encodeJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

func decodeJSON(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
