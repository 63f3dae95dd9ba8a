package saturation

import (
	"testing"

	"pkg.jsn.cam/popdyn/pkg/popdyn"
)

func TestDerive(t *testing.T) {
	d := New()

	v, ok := d.Derive(&popdyn.Record{Value: 45}, popdyn.Aggregate{Value: 90, Seen: true}, true)
	if !ok || v != 0.5 {
		t.Errorf("Derive = %v, %v; want 0.5, true", v, ok)
	}

	// The peak slice saturates at exactly 1.
	if v, ok := d.Derive(&popdyn.Record{Value: 90}, popdyn.Aggregate{Value: 90, Seen: true}, true); !ok || v != 1 {
		t.Errorf("Derive(peak) = %v, %v; want 1, true", v, ok)
	}
}

func TestDerive_NotAvailable(t *testing.T) {
	d := New()

	if _, ok := d.Derive(&popdyn.Record{Value: 45}, popdyn.Aggregate{}, false); ok {
		t.Error("Orphan key should be not-available")
	}
	if _, ok := d.Derive(&popdyn.Record{Value: 45}, popdyn.Aggregate{Value: 0, Seen: true}, true); ok {
		t.Error("Zero lookup value should be not-available, not Inf")
	}
}
