package popdyn

import (
	"io"
)

// sepScanSize is the read granularity when hunting for the next record
// separator past a naive boundary.
const sepScanSize = 4096

// Plan splits fileLen bytes into at most shards contiguous ranges. The
// i-th interior boundary is the fixed offset i*fileLen/shards snapped
// forward to the byte after the next newline, so every record's first
// byte lies in exactly one range and a long line early in the file
// never displaces the later boundaries. The first range starts at 0 and
// the last ends at fileLen; no separator search happens at either end.
//
// When a snapped boundary overtakes the following candidates (short files,
// long lines) fewer ranges than requested are returned.
func Plan(r io.ReaderAt, fileLen int64, shards int) ([]ByteRange, error) {
	if shards < 1 {
		return nil, configErrorf("shard count must be >= 1, got %d", shards)
	}
	if fileLen == 0 {
		return nil, configErrorf("input file is empty")
	}

	ranges := make([]ByteRange, 0, shards)

	start := int64(0)
	for i := 1; i < shards; i++ {
		candidate := int64(i) * fileLen / int64(shards)
		if candidate < start {
			continue
		}
		end, err := nextSeparator(r, candidate, fileLen)
		if err != nil {
			return nil, err
		}
		if end >= fileLen {
			break
		}
		if end <= start {
			continue
		}
		ranges = append(ranges, ByteRange{Index: len(ranges), Start: start, End: end})
		start = end
	}
	ranges = append(ranges, ByteRange{Index: len(ranges), Start: start, End: fileLen})

	return ranges, nil
}

// nextSeparator returns the offset one past the first newline at or after
// off, or fileLen if none remains.
func nextSeparator(r io.ReaderAt, off, fileLen int64) (int64, error) {
	buf := make([]byte, sepScanSize)
	for off < fileLen {
		n, err := r.ReadAt(buf, off)
		for i := 0; i < n; i++ {
			if buf[i] == '\n' {
				return off + int64(i) + 1, nil
			}
		}
		off += int64(n)
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, &IOError{Op: "read", Err: err}
		}
	}
	return fileLen, nil
}
