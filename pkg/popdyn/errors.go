package popdyn

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the engine's failure taxonomy. Callers can test
// categories with errors.Is and recover detail with errors.As on the
// typed errors below.
var (
	ErrConfiguration    = errors.New("invalid configuration")
	ErrIO               = errors.New("i/o failure")
	ErrIncompleteShards = errors.New("incomplete output shards")
)

// ConfigError is a caller mistake, detected before any I/O is scheduled.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

func configErrorf(format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// IOError is a fatal file failure. It names the offending byte range so a
// failed run can be diagnosed against the retained shard files.
type IOError struct {
	Range ByteRange
	Op    string // "open", "seek", "read", "write"
	Err   error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("i/o failure in range %d [%d,%d): %s: %v",
		e.Range.Index, e.Range.Start, e.Range.End, e.Op, e.Err)
}

func (e *IOError) Unwrap() []error { return []error{ErrIO, e.Err} }

// IncompleteShardError reports shard files missing at merge time. A
// crashed or never-scheduled worker must be detected, not silently
// skipped.
type IncompleteShardError struct {
	Missing []int // range indices with no shard file
}

func (e *IncompleteShardError) Error() string {
	idx := make([]string, len(e.Missing))
	for i, m := range e.Missing {
		idx[i] = fmt.Sprintf("%d", m)
	}
	return fmt.Sprintf("incomplete output shards: missing range(s) %s", strings.Join(idx, ", "))
}

func (e *IncompleteShardError) Unwrap() error { return ErrIncompleteShards }
