// Package derivations registers the named pass-2 row derivations.
package derivations

import (
	"errors"
	"sort"

	"pkg.jsn.cam/popdyn/pkg/derivations/retention"
	"pkg.jsn.cam/popdyn/pkg/derivations/saturation"
	"pkg.jsn.cam/popdyn/pkg/popdyn"
)

var ErrUnknownDerivation = errors.New("unknown derivation")

var registry = map[string]func() popdyn.Derivation{
	"retention":  func() popdyn.Derivation { return retention.New() },
	"saturation": func() popdyn.Derivation { return saturation.New() },
}

// Get returns the derivation registered under name.
func Get(name string) (popdyn.Derivation, error) {
	mk, ok := registry[name]
	if !ok {
		return nil, ErrUnknownDerivation
	}
	return mk(), nil
}

// IsValid reports whether name is registered.
func IsValid(name string) bool {
	_, ok := registry[name]
	return ok
}

// List returns the registered names, sorted.
func List() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
