package popdyn

import (
	"context"
	"io"
)

// ctxCheckInterval is how many records a scan processes between context
// cancellation checks.
const ctxCheckInterval = 4096

// Extract is the pass-1 worker: scan one range and fold every record into
// a local per-key mapping with the caller's reduction. The worker opens
// its own file handle; nothing is shared with other workers.
//
// Pass 1 never fails on a key's absence or shape; only I/O errors are
// fatal. Malformed lines are skipped and counted.
func Extract(ctx context.Context, path string, rng ByteRange, lay Layout, red Reduction) (map[string]Aggregate, Stats, error) {
	var stats Stats

	r, err := OpenRange(path, rng, lay)
	if err != nil {
		return nil, stats, err
	}
	defer r.Close()

	partial := make(map[string]Aggregate)
	for {
		if stats.Records%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, stats, err
			}
		}

		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, stats, err
		}

		// A key enters the mapping only once the reduction has captured
		// an observation for it. Keys that never match stay absent, so
		// pass 2 sees a lookup miss and marks the row not-available.
		if agg := red.Observe(partial[rec.Key], rec); agg.Seen {
			partial[rec.Key] = agg
		}
		stats.Records++
	}

	stats.ParseSkips = r.Skips()
	return partial, stats, nil
}
