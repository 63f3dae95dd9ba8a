package popdyn

import (
	"bufio"
	"context"
	"io"
	"os"
	"strconv"
	"strings"
)

// naCell marks a derived field whose value could not be computed (orphan
// key or undefined formula). Empty cell, matching left-join semantics in
// delimited output.
const naCell = ""

// Join is the pass-2 worker: re-scan one range, look every record up in
// the frozen lookup, and stream the derived row to the range's shard
// file. Rows are written as they are produced; the worker never buffers
// its output, which bounds peak memory to one range, not the file.
//
// Only shard 0 writes the output header, so the merged file carries
// exactly one. Orphaned records (key absent from the lookup) are still
// written, with the derived cell not-available, and counted.
func Join(ctx context.Context, path string, rng ByteRange, lay Layout, header []string, lk *Lookup, der Derivation, derivedColumn, shardPath string) (Stats, error) {
	var stats Stats

	r, err := OpenRange(path, rng, lay)
	if err != nil {
		return stats, err
	}
	defer r.Close()

	out, err := os.Create(shardPath)
	if err != nil {
		return stats, &IOError{Range: rng, Op: "open", Err: err}
	}
	defer out.Close()

	delim := string(lay.delim)
	w := bufio.NewWriterSize(out, 256*1024)

	if rng.Index == 0 {
		row := strings.Join(header, delim) + delim + derivedColumn + "\n"
		if _, err := w.WriteString(row); err != nil {
			return stats, &IOError{Range: rng, Op: "write", Err: err}
		}
	}

	for {
		if stats.Records%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
		}

		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, err
		}

		agg, ok := lk.Get(rec.Key)
		if !ok {
			stats.Orphans++
		}

		cell := naCell
		if v, valid := der.Derive(rec, agg, ok); valid {
			cell = strconv.FormatFloat(v, 'f', -1, 64)
		}

		row := strings.Join(rec.Fields, delim) + delim + cell + "\n"
		if _, err := w.WriteString(row); err != nil {
			return stats, &IOError{Range: rng, Op: "write", Err: err}
		}
		stats.Records++
	}

	if err := w.Flush(); err != nil {
		return stats, &IOError{Range: rng, Op: "write", Err: err}
	}
	if err := out.Close(); err != nil {
		return stats, &IOError{Range: rng, Op: "write", Err: err}
	}

	stats.ParseSkips = r.Skips()
	return stats, nil
}
