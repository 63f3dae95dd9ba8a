package saturation

import (
	"pkg.jsn.cam/popdyn/pkg/popdyn"
)

// Derivation computes current/lookup. Against a maxscore lookup this is
// how close a record's slice is to the entity's peak (1.0 at the peak).
type Derivation struct{}

func New() Derivation {
	return Derivation{}
}

// Derive returns not-available for orphaned keys and for zero lookup
// values.
func (Derivation) Derive(rec *popdyn.Record, agg popdyn.Aggregate, ok bool) (float64, bool) {
	if !ok || agg.Value == 0 {
		return 0, false
	}
	return rec.Value / agg.Value, true
}

func (Derivation) Description() string {
	return "saturation: current/lookup"
}
