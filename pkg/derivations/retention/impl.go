package retention

import (
	"pkg.jsn.cam/popdyn/pkg/popdyn"
)

// Derivation computes how much of a record's value is new relative to the
// looked-up aggregate: 1 - lookup/current. Against a firstslice lookup
// this is the share of an entity's current popularity earned after its
// initial burst.
type Derivation struct{}

func New() Derivation {
	return Derivation{}
}

// Derive returns not-available for orphaned keys and for zero current
// values, where the ratio is undefined.
func (Derivation) Derive(rec *popdyn.Record, agg popdyn.Aggregate, ok bool) (float64, bool) {
	if !ok || rec.Value == 0 {
		return 0, false
	}
	return 1 - agg.Value/rec.Value, true
}

func (Derivation) Description() string {
	return "retention: 1 - lookup/current"
}
