package maxscore

import (
	"pkg.jsn.cam/popdyn/pkg/popdyn"
)

// Reduction tracks the maximum value observed across all time slices for
// each key (the final score an entity ever reached).
type Reduction struct{}

func New() Reduction {
	return Reduction{}
}

// Observe keeps the running maximum. Equal values break toward the lower
// byte offset so merges stay deterministic.
func (Reduction) Observe(acc popdyn.Aggregate, rec *popdyn.Record) popdyn.Aggregate {
	cand := popdyn.Aggregate{Value: rec.Value, Offset: rec.Offset, Seen: true}
	return pick(acc, cand)
}

// Merge takes the max of maxes. Commutative and associative.
func (Reduction) Merge(a, b popdyn.Aggregate) popdyn.Aggregate {
	return pick(a, b)
}

func pick(a, b popdyn.Aggregate) popdyn.Aggregate {
	switch {
	case !a.Seen:
		return b
	case !b.Seen:
		return a
	case b.Value > a.Value:
		return b
	case b.Value == a.Value && b.Offset < a.Offset:
		return b
	default:
		return a
	}
}

func (Reduction) Description() string {
	return "maximum value across all time slices"
}
