package firstslice

import (
	"fmt"

	"pkg.jsn.cam/popdyn/pkg/popdyn"
)

// Reduction captures the value observed at one designated time-slice
// index for each key (the initial velocity of an entity when the index
// is 1). Deterministic regardless of scan or shard order: the slice
// index is record content, not scan position.
type Reduction struct {
	Slice int
}

// New returns a first-slice reduction for the given time-slice index.
func New(slice int) Reduction {
	return Reduction{Slice: slice}
}

// Observe keeps the designated-slice value. Well-formed input has at most
// one such record per key; when duplicates occur the record with the
// lowest byte offset wins, a tie-break that is stable under any shard
// count.
func (r Reduction) Observe(acc popdyn.Aggregate, rec *popdyn.Record) popdyn.Aggregate {
	if rec.Slice != r.Slice {
		return acc
	}
	if !acc.Seen || rec.Offset < acc.Offset {
		return popdyn.Aggregate{Value: rec.Value, Offset: rec.Offset, Seen: true}
	}
	return acc
}

// Merge picks the lower-offset observation. Commutative and associative.
func (r Reduction) Merge(a, b popdyn.Aggregate) popdyn.Aggregate {
	switch {
	case !a.Seen:
		return b
	case !b.Seen:
		return a
	case b.Offset < a.Offset:
		return b
	default:
		return a
	}
}

func (r Reduction) Description() string {
	return fmt.Sprintf("value at time slice %d (first by file position on duplicates)", r.Slice)
}
