package popdyn

// ByteRange is a contiguous span of the input file owned by one worker.
// Ranges produced by Plan are non-overlapping, cover the whole file, and
// have interior boundaries that sit immediately after a record separator.
type ByteRange struct {
	Index int   `json:"index"`
	Start int64 `json:"start"` // inclusive
	End   int64 `json:"end"`   // exclusive
}

// Record is one parsed input line. Records are transient: they exist only
// inside a scan, and only their contribution to an Aggregate or an output
// row survives.
type Record struct {
	Key    string   // entity key, composite columns joined with keySep
	Slice  int      // time-slice index
	Value  float64  // metric value
	Offset int64    // byte offset of the record's first byte in the file
	Fields []string // all fields in input column order
}

// Aggregate is the per-key value a pass-1 reduction accumulates. Offset
// records which input record produced Value so that merge tie-breaks can
// depend on record position instead of scan order.
type Aggregate struct {
	Value  float64 `json:"value"`
	Offset int64   `json:"offset"`
	Seen   bool    `json:"seen"`
}

// Reduction folds records into per-key aggregates during pass 1.
//
// Observe and Merge must be commutative and associative over record
// content: the engine merges partial mappings in whatever order shards
// complete, and the result must not depend on that order.
type Reduction interface {
	// Observe folds one record into the key's running aggregate. An
	// aggregate with Seen unset counts as no observation: the engine
	// keeps such keys out of the lookup, and Observe must never clear
	// Seen once set.
	Observe(acc Aggregate, rec *Record) Aggregate
	// Merge combines two partial aggregates for the same key.
	Merge(a, b Aggregate) Aggregate
	Description() string
}

// Derivation computes one derived output cell from a record and its
// lookup entry during pass 2. ok reports whether the record's key was
// present in the lookup; returning valid=false marks the cell
// not-available in the output row.
type Derivation interface {
	Derive(rec *Record, agg Aggregate, ok bool) (value float64, valid bool)
	Description() string
}

// Schema names the columns the engine needs from the input header. All
// other columns pass through pass 2 untouched.
type Schema struct {
	Delimiter   byte
	KeyColumns  []string // one or more; composite keys join in order
	SliceColumn string
	ValueColumn string
}

// Stats are the per-range scan counters. Parse skips are recoverable by
// policy: one malformed line must not void a multi-gigabyte run.
type Stats struct {
	Records    int64
	ParseSkips int64
	Orphans    int64
}

func (s *Stats) add(o Stats) {
	s.Records += o.Records
	s.ParseSkips += o.ParseSkips
	s.Orphans += o.Orphans
}

// keySep joins composite key columns. Unit separator: never appears in
// delimited text data.
const keySep = "\x1f"
