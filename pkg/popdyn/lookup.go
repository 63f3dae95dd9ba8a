package popdyn

// Lookup is the global pass-1 result: one aggregate per distinct key.
// It is built once, single-threaded, and is read-only for the entirety of
// pass 2, so the join workers share it without locking.
type Lookup struct {
	m map[string]Aggregate
}

// BuildLookup merges the pass-1 partial mappings into one Lookup by
// applying the reduction's Merge across partials. Merge is commutative
// and associative over record content, so the result is the same no
// matter which shard finished first or how many shards there were.
func BuildLookup(partials []map[string]Aggregate, red Reduction) *Lookup {
	size := 0
	for _, p := range partials {
		size += len(p)
	}

	m := make(map[string]Aggregate, size)
	for _, p := range partials {
		for key, agg := range p {
			if have, ok := m[key]; ok {
				m[key] = red.Merge(have, agg)
			} else {
				m[key] = agg
			}
		}
	}
	return &Lookup{m: m}
}

// Get returns the aggregate for key. ok is false for orphaned keys that
// pass 1 never observed; pass 2 marks those rows not-available instead of
// failing.
func (l *Lookup) Get(key string) (Aggregate, bool) {
	agg, ok := l.m[key]
	return agg, ok
}

// Len reports the number of distinct keys.
func (l *Lookup) Len() int { return len(l.m) }
