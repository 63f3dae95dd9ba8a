package popdyn

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Layout is a Schema resolved against a concrete header row. Build one
// with ResolveLayout and hand it to every range worker for the run.
type Layout struct {
	key    []int
	slice  int
	value  int
	fields int
	delim  byte
}

// ResolveLayout locates the schema's columns in the header. Fails with a
// ConfigError when a named column is absent.
func ResolveLayout(sch *Schema, header []string) (Layout, error) {
	lay := Layout{fields: len(header), delim: sch.Delimiter}
	if lay.delim == 0 {
		lay.delim = ','
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}

	if len(sch.KeyColumns) == 0 {
		return lay, configErrorf("schema names no key columns")
	}
	for _, name := range sch.KeyColumns {
		i, ok := index[name]
		if !ok {
			return lay, configErrorf("key column %q not in header", name)
		}
		lay.key = append(lay.key, i)
	}

	var ok bool
	if lay.slice, ok = index[sch.SliceColumn]; !ok {
		return lay, configErrorf("time-slice column %q not in header", sch.SliceColumn)
	}
	if lay.value, ok = index[sch.ValueColumn]; !ok {
		return lay, configErrorf("value column %q not in header", sch.ValueColumn)
	}
	return lay, nil
}

// ReadHeader reads and splits the first line of the file.
func ReadHeader(path string, delim byte) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &IOError{Op: "open", Err: err}
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, &IOError{Op: "read", Err: err}
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, configErrorf("input file has no header row")
	}
	if delim == 0 {
		delim = ','
	}
	return strings.Split(line, string(delim)), nil
}

// Reader yields the records owned by one byte range. It owns its file
// handle; Close releases it on every exit path.
//
// A range whose start does not sit immediately after a record separator
// begins mid-record; that prefix was already consumed by the previous
// range's reader, so it is discarded before parsing begins. The record
// that starts before End but crosses it still belongs to this range and
// is parsed in full.
type Reader struct {
	f     *os.File
	br    *bufio.Reader
	rng   ByteRange
	lay   Layout
	off   int64 // offset of the next unread byte
	skips int64
}

// OpenRange opens the file, seeks to the range start, and positions the
// reader at the first record owned by the range. When the range starts at
// byte 0 the header line is consumed and never surfaced as a record.
func OpenRange(path string, rng ByteRange, lay Layout) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &IOError{Range: rng, Op: "open", Err: err}
	}

	r := &Reader{f: f, rng: rng, lay: lay, off: rng.Start}
	if _, err := f.Seek(rng.Start, io.SeekStart); err != nil {
		f.Close()
		return nil, &IOError{Range: rng, Op: "seek", Err: err}
	}
	r.br = bufio.NewReaderSize(f, 256*1024)

	if rng.Start == 0 {
		// The header row lives in range 0 and is not data.
		if err := r.discardLine(); err != nil && err != io.EOF {
			f.Close()
			return nil, err
		}
		return r, nil
	}

	aligned, err := r.startsAtRecord()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !aligned {
		if err := r.discardLine(); err != nil && err != io.EOF {
			f.Close()
			return nil, err
		}
	}
	return r, nil
}

// startsAtRecord reports whether the byte before the range start is a
// record separator, i.e. the range begins on a record boundary.
func (r *Reader) startsAtRecord() (bool, error) {
	var b [1]byte
	if _, err := r.f.ReadAt(b[:], r.rng.Start-1); err != nil {
		return false, &IOError{Range: r.rng, Op: "read", Err: err}
	}
	return b[0] == '\n', nil
}

func (r *Reader) discardLine() error {
	line, err := r.br.ReadString('\n')
	r.off += int64(len(line))
	if err != nil && err != io.EOF {
		return &IOError{Range: r.rng, Op: "read", Err: err}
	}
	return err
}

// Next returns the next record owned by the range, or io.EOF once the
// range is exhausted. Malformed lines are skipped and counted, never
// fatal.
func (r *Reader) Next() (*Record, error) {
	for {
		if r.off >= r.rng.End {
			return nil, io.EOF
		}

		lineStart := r.off
		line, err := r.br.ReadString('\n')
		r.off += int64(len(line))
		if err != nil && err != io.EOF {
			return nil, &IOError{Range: r.rng, Op: "read", Err: err}
		}
		if len(line) == 0 {
			return nil, io.EOF
		}

		rec, ok := r.parse(strings.TrimRight(line, "\r\n"), lineStart)
		if !ok {
			r.skips++
			if err == io.EOF {
				return nil, io.EOF
			}
			continue
		}
		return rec, nil
	}
}

func (r *Reader) parse(line string, offset int64) (*Record, bool) {
	if line == "" {
		return nil, false
	}
	fields := strings.Split(line, string(r.lay.delim))
	if len(fields) != r.lay.fields {
		return nil, false
	}

	slice, err := parseSlice(fields[r.lay.slice])
	if err != nil {
		return nil, false
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(fields[r.lay.value]), 64)
	if err != nil {
		return nil, false
	}

	key := fields[r.lay.key[0]]
	if len(r.lay.key) > 1 {
		parts := make([]string, len(r.lay.key))
		for i, k := range r.lay.key {
			parts[i] = fields[k]
		}
		key = strings.Join(parts, keySep)
	}

	return &Record{
		Key:    key,
		Slice:  slice,
		Value:  value,
		Offset: offset,
		Fields: fields,
	}, true
}

// parseSlice converts a time-slice cell to its index. Source data may
// carry a "TS" prefix ("TS3"); it is stripped before conversion.
func parseSlice(cell string) (int, error) {
	cell = strings.TrimSpace(cell)
	cell = strings.TrimPrefix(cell, "TS")
	n, err := strconv.Atoi(cell)
	if err != nil {
		return 0, fmt.Errorf("bad time slice %q: %w", cell, err)
	}
	return n, nil
}

// Skips reports how many malformed lines the reader has dropped.
func (r *Reader) Skips() int64 { return r.skips }

// Close releases the reader's file handle.
func (r *Reader) Close() error { return r.f.Close() }
