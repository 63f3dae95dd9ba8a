// Package reductions registers the named pass-1 reduction strategies.
package reductions

import (
	"errors"
	"sort"

	"pkg.jsn.cam/popdyn/pkg/popdyn"
	"pkg.jsn.cam/popdyn/pkg/reductions/firstslice"
	"pkg.jsn.cam/popdyn/pkg/reductions/maxscore"
)

var ErrUnknownReduction = errors.New("unknown reduction")

var registry = map[string]func() popdyn.Reduction{
	"firstslice": func() popdyn.Reduction { return firstslice.New(1) },
	"maxscore":   func() popdyn.Reduction { return maxscore.New() },
}

// Get returns the reduction registered under name.
func Get(name string) (popdyn.Reduction, error) {
	mk, ok := registry[name]
	if !ok {
		return nil, ErrUnknownReduction
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
