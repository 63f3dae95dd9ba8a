package popdyn

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var testSchema = Schema{
	Delimiter:   ',',
	KeyColumns:  []string{"IDLink"},
	SliceColumn: "TimeSlice",
	ValueColumn: "Popularity",
}

var testHeader = []string{"IDLink", "Platform", "TimeSlice", "Popularity"}

func writeInput(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write input: %v", err)
	}
	return path
}

func testLayout(t *testing.T, sch Schema, header []string) Layout {
	t.Helper()
	lay, err := ResolveLayout(&sch, header)
	if err != nil {
		t.Fatalf("ResolveLayout failed: %v", err)
	}
	return lay
}

// scanAll drains one range and returns its records.
func scanAll(t *testing.T, path string, rng ByteRange, lay Layout) []*Record {
	t.Helper()
	r, err := OpenRange(path, rng, lay)
	if err != nil {
		t.Fatalf("OpenRange(%d) failed: %v", rng.Index, err)
	}
	defer r.Close()

	var recs []*Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return recs
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		recs = append(recs, rec)
	}
}

func TestResolveLayout(t *testing.T) {
	t.Parallel()

	lay := testLayout(t, testSchema, testHeader)
	if lay.fields != 4 || lay.slice != 2 || lay.value != 3 {
		t.Errorf("Unexpected layout: %+v", lay)
	}

	bad := testSchema
	bad.ValueColumn = "Nope"
	if _, err := ResolveLayout(&bad, testHeader); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Missing column: got %v, want ErrConfiguration", err)
	}
}

func TestReader_FullScan(t *testing.T) {
	t.Parallel()

	content := "IDLink,Platform,TimeSlice,Popularity\n" +
		"A,FB,1,10\n" +
		"A,FB,2,90\n" +
		"B,FB,TS1,5\n"
	path := writeInput(t, content)
	lay := testLayout(t, testSchema, testHeader)

	recs := scanAll(t, path, ByteRange{Index: 0, Start: 0, End: int64(len(content))}, lay)
	if len(recs) != 3 {
		t.Fatalf("Got %d records, want 3", len(recs))
	}

	if recs[0].Key != "A" || recs[0].Slice != 1 || recs[0].Value != 10 {
		t.Errorf("Record 0 = %+v", recs[0])
	}
	// TS prefix is tolerated on the time-slice cell.
	if recs[2].Key != "B" || recs[2].Slice != 1 || recs[2].Value != 5 {
		t.Errorf("Record 2 = %+v", recs[2])
	}
	if recs[0].Offset != int64(strings.Index(content, "A,FB,1")) {
		t.Errorf("Record 0 offset = %d", recs[0].Offset)
	}
}

func TestReader_SkipsMalformedLines(t *testing.T) {
	t.Parallel()

	content := "IDLink,Platform,TimeSlice,Popularity\n" +
		"A,FB,1,10\n" +
		"short,line\n" +
		"B,FB,notanumber,5\n" +
		"C,FB,2,notafloat\n" +
		"D,FB,3,7\n"
	path := writeInput(t, content)
	lay := testLayout(t, testSchema, testHeader)

	r, err := OpenRange(path, ByteRange{Start: 0, End: int64(len(content))}, lay)
	if err != nil {
		t.Fatalf("OpenRange failed: %v", err)
	}
	defer r.Close()

	var keys []string
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		keys = append(keys, rec.Key)
	}

	if want := []string{"A", "D"}; strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Errorf("Parsed keys %v, want %v", keys, want)
	}
	if r.Skips() != 3 {
		t.Errorf("Skips = %d, want 3", r.Skips())
	}
}

func TestReader_CompositeKey(t *testing.T) {
	t.Parallel()

	sch := testSchema
	sch.KeyColumns = []string{"IDLink", "Platform"}

	content := "IDLink,Platform,TimeSlice,Popularity\n" +
		"A,FB,1,10\n" +
		"A,GP,1,20\n"
	path := writeInput(t, content)
	lay := testLayout(t, sch, testHeader)

	recs := scanAll(t, path, ByteRange{Start: 0, End: int64(len(content))}, lay)
	if len(recs) != 2 {
		t.Fatalf("Got %d records, want 2", len(recs))
	}
	if recs[0].Key == recs[1].Key {
		t.Errorf("Composite keys should differ, both %q", recs[0].Key)
	}
	if !strings.HasPrefix(recs[0].Key, "A") || !strings.Contains(recs[0].Key, "FB") {
		t.Errorf("Composite key = %q", recs[0].Key)
	}
}

// Every record's first byte lies in exactly one range, and that range
// owns the record, even when it is one byte before the boundary or
// crosses it.
func TestReader_BoundaryOwnership(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	sb.WriteString("IDLink,Platform,TimeSlice,Popularity\n")
	for i := 0; i < 100; i++ {
		sb.WriteString("K")
		for j := 0; j < i%7; j++ {
			sb.WriteString("x")
		}
		sb.WriteString(",FB,1,10\n")
	}
	content := sb.String()
	path := writeInput(t, content)
	lay := testLayout(t, testSchema, testHeader)

	for _, shards := range []int{2, 3, 5, 9} {
		ranges, err := Plan(strings.NewReader(content), int64(len(content)), shards)
		if err != nil {
			t.Fatalf("Plan failed: %v", err)
		}

		seen := make(map[int64]int)
		total := 0
		for _, rng := range ranges {
			for _, rec := range scanAll(t, path, rng, lay) {
				if rec.Offset < rng.Start || rec.Offset >= rng.End {
					t.Errorf("shards=%d: record at %d surfaced by range [%d,%d)",
						shards, rec.Offset, rng.Start, rng.End)
				}
				seen[rec.Offset]++
				total++
			}
		}

		if total != 100 {
			t.Errorf("shards=%d: scanned %d records, want 100", shards, total)
		}
		for off, n := range seen {
			if n != 1 {
				t.Errorf("shards=%d: record at offset %d seen %d times", shards, off, n)
			}
		}
	}
}

// Ranges that start mid-record (not produced by Plan, but allowed by the
// reader contract) discard the partial prefix: the previous range's
// reader already parsed that record in full.
func TestReader_UnalignedRangeStart(t *testing.T) {
	t.Parallel()

	content := "IDLink,Platform,TimeSlice,Popularity\n" +
		"A,FB,1,10\n" +
		"B,FB,1,20\n" +
		"C,FB,1,30\n"
	path := writeInput(t, content)
	lay := testLayout(t, testSchema, testHeader)

	// Split in the middle of the B record.
	cut := int64(strings.Index(content, "B,FB")) + 3
	first := scanAll(t, path, ByteRange{Index: 0, Start: 0, End: cut}, lay)
	second := scanAll(t, path, ByteRange{Index: 1, Start: cut, End: int64(len(content))}, lay)

	var keys []string
	for _, rec := range append(first, second...) {
		keys = append(keys, rec.Key)
	}
	if got := strings.Join(keys, ","); got != "A,B,C" {
		t.Errorf("Records across unaligned split = %s, want A,B,C", got)
	}
}
