package popdyn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pkg.jsn.cam/popdyn/pkg/runlog"
)

func testOptions(t *testing.T, input string) Options {
	t.Helper()
	dir := t.TempDir()
	return Options{
		InputPath:     input,
		OutputPath:    filepath.Join(dir, "merged.csv"),
		TempDir:       filepath.Join(dir, "shards"),
		Schema:        testSchema,
		Reduction:     testReduction{slice: 1},
		Derivation:    testRetention{},
		DerivedColumn: "Retention",
		ShardCount:    3,
		WorkerCount:   2,
	}
}

func TestRun_EndToEnd(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	sb.WriteString("IDLink,Platform,TimeSlice,Popularity\n")
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&sb, "K%d,FB,1,%d\n", i%10, i%10+1)
		fmt.Fprintf(&sb, "K%d,FB,2,%d\n", i%10, (i%10+1)*3)
	}
	content := sb.String()
	path := writeInput(t, content)

	opts := testOptions(t, path)
	res, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.Records != 100 {
		t.Errorf("Records = %d, want 100", res.Records)
	}
	// Every input record appears in the output exactly once.
	if res.Rows != res.Records {
		t.Errorf("Rows = %d, Records = %d; want equal", res.Rows, res.Records)
	}
	if res.LookupKeys != 10 {
		t.Errorf("LookupKeys = %d, want 10", res.LookupKeys)
	}
	if res.Orphans != 0 {
		t.Errorf("Orphans = %d, want 0", res.Orphans)
	}

	data, err := os.ReadFile(opts.OutputPath)
	if err != nil {
		t.Fatalf("Failed to read merged output: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 101 {
		t.Fatalf("Output has %d lines, want header + 100 rows", len(lines))
	}
	if lines[0] != "IDLink,Platform,TimeSlice,Popularity,Retention" {
		t.Errorf("Output header = %q", lines[0])
	}
	if n := strings.Count(string(data), "IDLink"); n != 1 {
		t.Errorf("Header appears %d times, want 1", n)
	}

	// Shards are removed after a successful merge.
	entries, err := os.ReadDir(opts.TempDir)
	if err != nil {
		t.Fatalf("Failed to read temp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Temp dir still holds %d shard files after success", len(entries))
	}
}

func TestRun_RetentionValues(t *testing.T) {
	t.Parallel()

	content := "IDLink,Platform,TimeSlice,Popularity\n" +
		"A,FB,1,10\n" +
		"A,FB,2,90\n" +
		"B,FB,1,5\n"
	path := writeInput(t, content)

	opts := testOptions(t, path)
	opts.ShardCount = 1
	if _, err := Run(context.Background(), opts); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	data, _ := os.ReadFile(opts.OutputPath)
	if !strings.Contains(string(data), "A,FB,2,90,0.888888888888888") {
		t.Errorf("Output missing the 1-(10/90) retention row:\n%s", data)
	}
}

// Rerunning an unchanged input with the same configuration yields
// byte-identical output, and the lookup does not depend on shard count,
// so neither does the output.
func TestRun_Deterministic(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	sb.WriteString("IDLink,Platform,TimeSlice,Popularity\n")
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&sb, "K%d,FB,%d,%d\n", i%23, i%6+1, i*13%200)
	}
	path := writeInput(t, sb.String())

	outputs := make([][]byte, 0, 3)
	for _, shards := range []int{4, 4, 9} {
		opts := testOptions(t, path)
		opts.ShardCount = shards
		if _, err := Run(context.Background(), opts); err != nil {
			t.Fatalf("Run (shards=%d) failed: %v", shards, err)
		}
		data, err := os.ReadFile(opts.OutputPath)
		if err != nil {
			t.Fatalf("Failed to read output: %v", err)
		}
		outputs = append(outputs, data)
	}

	if !bytes.Equal(outputs[0], outputs[1]) {
		t.Error("Identical reruns produced different bytes")
	}
	if !bytes.Equal(outputs[0], outputs[2]) {
		t.Error("Changing the shard count changed the merged output")
	}
}

func TestRun_OrphanAndSkipCounters(t *testing.T) {
	t.Parallel()

	content := "IDLink,Platform,TimeSlice,Popularity\n" +
		"A,FB,1,10\n" +
		"not,a,valid row\n" +
		"ORPHAN,FB,2,40\n"
	path := writeInput(t, content)

	opts := testOptions(t, path)
	opts.ShardCount = 1
	res, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.Orphans != 1 {
		t.Errorf("Orphans = %d, want 1", res.Orphans)
	}
	if res.ParseSkips != 1 {
		t.Errorf("ParseSkips = %d, want 1", res.ParseSkips)
	}

	data, _ := os.ReadFile(opts.OutputPath)
	if !strings.Contains(string(data), "ORPHAN,FB,2,40,\n") {
		t.Errorf("Orphan row missing or not marked not-available:\n%s", data)
	}
}

func TestRun_ConfigurationErrors(t *testing.T) {
	t.Parallel()

	path := writeInput(t, "IDLink,Platform,TimeSlice,Popularity\nA,FB,1,10\n")

	t.Run("MissingInput", func(t *testing.T) {
		opts := testOptions(t, path)
		opts.InputPath = ""
		if _, err := Run(context.Background(), opts); !errors.Is(err, ErrConfiguration) {
			t.Errorf("Got %v, want ErrConfiguration", err)
		}
	})

	t.Run("EmptyFile", func(t *testing.T) {
		opts := testOptions(t, writeInput(t, ""))
		if _, err := Run(context.Background(), opts); !errors.Is(err, ErrConfiguration) {
			t.Errorf("Got %v, want ErrConfiguration", err)
		}
	})

	t.Run("NoReduction", func(t *testing.T) {
		opts := testOptions(t, path)
		opts.Reduction = nil
		if _, err := Run(context.Background(), opts); !errors.Is(err, ErrConfiguration) {
			t.Errorf("Got %v, want ErrConfiguration", err)
		}
	})

	t.Run("UnknownColumn", func(t *testing.T) {
		opts := testOptions(t, path)
		opts.Schema.ValueColumn = "Nope"
		if _, err := Run(context.Background(), opts); !errors.Is(err, ErrConfiguration) {
			t.Errorf("Got %v, want ErrConfiguration", err)
		}
	})
}

func TestRun_MissingFileIsIOError(t *testing.T) {
	t.Parallel()

	opts := testOptions(t, filepath.Join(t.TempDir(), "no-such-file.csv"))
	_, err := Run(context.Background(), opts)
	if !errors.Is(err, ErrIO) {
		t.Errorf("Got %v, want ErrIO", err)
	}
}

func TestRun_RecordsManifest(t *testing.T) {
	t.Parallel()

	manifest, err := runlog.NewWithBackend(runlog.NewMemoryBackend())
	if err != nil {
		t.Fatalf("Failed to create manifest: %v", err)
	}

	path := writeInput(t, "IDLink,Platform,TimeSlice,Popularity\nA,FB,1,10\nA,FB,2,20\n")
	opts := testOptions(t, path)
	opts.Manifest = manifest

	res, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	run, err := manifest.LoadRun(res.RunID)
	if err != nil || run == nil {
		t.Fatalf("LoadRun(%s) = %v, %v", res.RunID, run, err)
	}
	if run.Stage != string(StageDone) {
		t.Errorf("Run stage = %s, want %s", run.Stage, StageDone)
	}
	if run.Rows != 2 {
		t.Errorf("Run rows = %d, want 2", run.Rows)
	}

	stages, err := manifest.LoadStages(res.RunID)
	if err != nil {
		t.Fatalf("LoadStages failed: %v", err)
	}
	want := []Stage{StagePlanning, StageExtract, StageReduce, StageJoin, StageMerge, StageDone}
	if len(stages) != len(want) {
		t.Fatalf("Recorded %d stages, want %d: %+v", len(stages), len(want), stages)
	}
	for i, s := range stages {
		if s.Stage != string(want[i]) {
			t.Errorf("Stage %d = %s, want %s", i, s.Stage, want[i])
		}
	}

	shards, err := manifest.LoadShards(res.RunID)
	if err != nil {
		t.Fatalf("LoadShards failed: %v", err)
	}
	if len(shards) != res.Ranges {
		t.Errorf("Recorded %d shards, want %d", len(shards), res.Ranges)
	}
}

func TestRun_FailedRunMarkedInManifest(t *testing.T) {
	t.Parallel()

	manifest, err := runlog.NewWithBackend(runlog.NewMemoryBackend())
	if err != nil {
		t.Fatalf("Failed to create manifest: %v", err)
	}

	opts := testOptions(t, filepath.Join(t.TempDir(), "no-such-file.csv"))
	opts.Manifest = manifest

	if _, err := Run(context.Background(), opts); err == nil {
		t.Fatal("Run should fail on a missing input file")
	}

	runs, err := manifest.LoadRuns()
	if err != nil {
		t.Fatalf("LoadRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("Recorded %d runs, want 1", len(runs))
	}
	if runs[0].Stage != string(StageFailed) {
		t.Errorf("Run stage = %s, want %s", runs[0].Stage, StageFailed)
	}
	if runs[0].Error == "" {
		t.Error("Failed run has no recorded error")
	}
}
