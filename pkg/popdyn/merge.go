package popdyn

import (
	"fmt"
	"io"
	"os"
)

// MergeShards concatenates the shard files, in range order, into outPath.
// Shard contents are copied byte for byte with no re-parsing; any header
// discipline was already enforced by the join workers.
//
// Every expected shard must exist before the first byte is copied. A
// missing shard means a worker crashed or was never scheduled, and is
// reported as an IncompleteShardError instead of being silently skipped.
func MergeShards(shardPaths []string, outPath string) error {
	var missing []int
	for i, p := range shardPaths {
		if _, err := os.Stat(p); err != nil {
			missing = append(missing, i)
		}
	}
	if len(missing) > 0 {
		return &IncompleteShardError{Missing: missing}
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create merged output: %w", err)
	}
	defer out.Close()

	for i, p := range shardPaths {
		if err := appendShard(out, p); err != nil {
			return fmt.Errorf("merge shard %d: %w", i, err)
		}
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("close merged output: %w", err)
	}
	return nil
}

func appendShard(out *os.File, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	_, err = io.Copy(out, in)
	return err
}
