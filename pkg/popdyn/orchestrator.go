package popdyn

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pkg.jsn.cam/popdyn/pkg/runlog"
)

// Stage names the orchestrator's state machine states. Transitions are
// strictly sequential; StageFailed is terminal and reachable from any
// state.
type Stage string

const (
	StagePlanning Stage = "planning"
	StageExtract  Stage = "map-extract"
	StageReduce   Stage = "reduce"
	StageJoin     Stage = "map-join"
	StageMerge    Stage = "merge"
	StageDone     Stage = "done"
	StageFailed   Stage = "failed"
)

// Options configures one engine run.
type Options struct {
	InputPath  string
	OutputPath string
	// TempDir holds the range-local shard files. Retained on failure for
	// diagnosis, deleted after a successful merge.
	TempDir string

	Schema        Schema
	Reduction     Reduction
	Derivation    Derivation
	DerivedColumn string

	// ShardCount is the planning granularity. Defaults to 4x WorkerCount.
	ShardCount int
	// WorkerCount bounds each pass's pool. Defaults to runtime.NumCPU().
	WorkerCount int

	Logger   *zap.Logger
	Manifest runlog.Recorder
	// Progress, when set, is called from worker goroutines as ranges
	// complete. It must be safe for concurrent use.
	Progress func(stage Stage, done, total int)
}

// Result summarizes a completed run.
type Result struct {
	RunID      string
	OutputPath string
	Ranges     int
	Records    int64 // input records scanned in pass 1
	Rows       int64 // data rows written in pass 2
	ParseSkips int64
	Orphans    int64
	LookupKeys int
	Durations  map[Stage]time.Duration
}

// Run executes the full pipeline: plan ranges, extract the lookup in
// parallel, freeze it, join in parallel, merge the shards. A single
// worker's unrecoverable error fails the whole run; there is no
// per-worker retry, the cheap retry is rerunning the stage via a fresh
// Run.
func Run(ctx context.Context, opts Options) (*Result, error) {
	opts = withDefaults(opts)
	if err := validate(opts); err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	o := &orchestrator{
		opts:      opts,
		runID:     runID,
		log:       opts.Logger.With(zap.String("run_id", runID)),
		durations: make(map[Stage]time.Duration),
	}

	run := &runlog.RunRecord{
		ID:          o.runID,
		InputPath:   opts.InputPath,
		OutputPath:  opts.OutputPath,
		Reduction:   opts.Reduction.Description(),
		Derivation:  opts.Derivation.Description(),
		ShardCount:  opts.ShardCount,
		WorkerCount: opts.WorkerCount,
		Stage:       string(StagePlanning),
		StartedAt:   time.Now(),
	}

	res, err := o.run(ctx, run)
	if err != nil {
		run.Stage = string(StageFailed)
		run.Error = err.Error()
		run.FinishedAt = time.Now()
		o.saveRun(run)
		o.log.Error("run failed", zap.Error(err))
		return nil, err
	}
	return res, nil
}

type orchestrator struct {
	opts      Options
	runID     string
	log       *zap.Logger
	durations map[Stage]time.Duration
}

func (o *orchestrator) run(ctx context.Context, run *runlog.RunRecord) (*Result, error) {
	opts := o.opts
	o.saveRun(run)

	// Planning: locate the columns, split the file.
	o.enterStage(run, StagePlanning)
	start := time.Now()

	header, err := ReadHeader(opts.InputPath, opts.Schema.Delimiter)
	if err != nil {
		return nil, err
	}
	lay, err := ResolveLayout(&opts.Schema, header)
	if err != nil {
		return nil, err
	}

	ranges, err := planFile(opts.InputPath, opts.ShardCount)
	if err != nil {
		return nil, err
	}
	o.durations[StagePlanning] = time.Since(start)
	o.log.Info("planned ranges",
		zap.Int("ranges", len(ranges)),
		zap.Int("requested_shards", opts.ShardCount),
		zap.Int("workers", opts.WorkerCount))

	// Pass 1: extract partial mappings in parallel.
	o.enterStage(run, StageExtract)
	start = time.Now()

	partials := make([]map[string]Aggregate, len(ranges))
	passStats := make([]Stats, len(ranges))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.WorkerCount)
	var done1 atomic.Int64
	for _, rng := range ranges {
		rng := rng
		g.Go(func() error {
			partial, stats, err := Extract(gctx, opts.InputPath, rng, lay, opts.Reduction)
			if err != nil {
				return fmt.Errorf("extract range %d: %w", rng.Index, err)
			}
			partials[rng.Index] = partial
			passStats[rng.Index] = stats
			o.progress(StageExtract, int(done1.Add(1)), len(ranges))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	o.durations[StageExtract] = time.Since(start)

	var extractStats Stats
	for _, s := range passStats {
		extractStats.add(s)
	}

	// Reduce: merge partials single-threaded, then freeze. No join worker
	// starts until the lookup is complete and immutable.
	o.enterStage(run, StageReduce)
	start = time.Now()
	lookup := BuildLookup(partials, opts.Reduction)
	partials = nil
	o.durations[StageReduce] = time.Since(start)
	o.log.Info("built lookup",
		zap.Int("keys", lookup.Len()),
		zap.Int64("records", extractStats.Records),
		zap.Int64("parse_skips", extractStats.ParseSkips))

	// Pass 2: re-scan the same ranges against the frozen lookup.
	o.enterStage(run, StageJoin)
	start = time.Now()

	if err := os.MkdirAll(opts.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	shardPaths := make([]string, len(ranges))
	for i := range ranges {
		shardPaths[i] = filepath.Join(opts.TempDir, fmt.Sprintf("%s-shard-%04d.tmp", o.runID, i))
	}

	joinStats := make([]Stats, len(ranges))
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(opts.WorkerCount)
	var done2 atomic.Int64
	for _, rng := range ranges {
		rng := rng
		g.Go(func() error {
			stats, err := Join(gctx, opts.InputPath, rng, lay, header, lookup,
				opts.Derivation, opts.DerivedColumn, shardPaths[rng.Index])
			if err != nil {
				return fmt.Errorf("join range %d: %w", rng.Index, err)
			}
			joinStats[rng.Index] = stats
			o.progress(StageJoin, int(done2.Add(1)), len(ranges))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	o.durations[StageJoin] = time.Since(start)

	var mergedStats Stats
	shards := make([]runlog.ShardRecord, len(ranges))
	for i, s := range joinStats {
		mergedStats.add(s)
		var size int64
		if fi, err := os.Stat(shardPaths[i]); err == nil {
			size = fi.Size()
		}
		shards[i] = runlog.ShardRecord{Index: i, Path: shardPaths[i], Bytes: size, Records: s.Records}
	}
	o.saveShards(shards)

	// Merge: byte-level concatenation in range order.
	o.enterStage(run, StageMerge)
	start = time.Now()
	if err := MergeShards(shardPaths, opts.OutputPath); err != nil {
		return nil, err
	}
	for _, p := range shardPaths {
		if err := os.Remove(p); err != nil {
			o.log.Warn("failed to remove shard", zap.String("path", p), zap.Error(err))
		}
	}
	o.durations[StageMerge] = time.Since(start)

	run.FinishedAt = time.Now()
	run.Records = extractStats.Records
	run.Rows = mergedStats.Records
	run.ParseSkips = extractStats.ParseSkips
	run.Orphans = mergedStats.Orphans
	run.LookupKeys = lookup.Len()
	o.enterStage(run, StageDone)

	o.log.Info("run complete",
		zap.Int64("rows", mergedStats.Records),
		zap.Int64("orphans", mergedStats.Orphans),
		zap.String("output", opts.OutputPath))

	return &Result{
		RunID:      o.runID,
		OutputPath: opts.OutputPath,
		Ranges:     len(ranges),
		Records:    extractStats.Records,
		Rows:       mergedStats.Records,
		ParseSkips: extractStats.ParseSkips,
		Orphans:    mergedStats.Orphans,
		LookupKeys: lookup.Len(),
		Durations:  o.durations,
	}, nil
}

// planFile stats and plans the input in one scoped open.
func planFile(path string, shards int) ([]ByteRange, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &IOError{Op: "open", Err: err}
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, &IOError{Op: "open", Err: err}
	}
	return Plan(f, fi.Size(), shards)
}

func (o *orchestrator) enterStage(run *runlog.RunRecord, stage Stage) {
	run.Stage = string(stage)
	o.log.Info("stage", zap.String("stage", string(stage)))
	if err := o.opts.Manifest.AppendStage(o.runID, string(stage), time.Now()); err != nil {
		o.log.Warn("failed to persist stage", zap.Error(err))
	}
	o.saveRun(run)
}

func (o *orchestrator) saveRun(run *runlog.RunRecord) {
	if err := o.opts.Manifest.SaveRun(run); err != nil {
		o.log.Warn("failed to persist run", zap.Error(err))
	}
}

func (o *orchestrator) saveShards(shards []runlog.ShardRecord) {
	if err := o.opts.Manifest.SaveShards(o.runID, shards); err != nil {
		o.log.Warn("failed to persist shards", zap.Error(err))
	}
}

func (o *orchestrator) progress(stage Stage, done, total int) {
	if o.opts.Progress != nil {
		o.opts.Progress(stage, done, total)
	}
}

func withDefaults(opts Options) Options {
	if opts.WorkerCount == 0 {
		opts.WorkerCount = runtime.NumCPU()
	}
	if opts.ShardCount == 0 {
		opts.ShardCount = 4 * opts.WorkerCount
	}
	if opts.TempDir == "" {
		opts.TempDir = filepath.Join(os.TempDir(), "popdyn")
	}
	if opts.DerivedColumn == "" {
		opts.DerivedColumn = "Derived"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Manifest == nil {
		opts.Manifest = runlog.NopRecorder{}
	}
	return opts
}

func validate(opts Options) error {
	switch {
	case opts.InputPath == "":
		return configErrorf("input path is required")
	case opts.OutputPath == "":
		return configErrorf("output path is required")
	case opts.ShardCount < 1:
		return configErrorf("shard count must be >= 1, got %d", opts.ShardCount)
	case opts.WorkerCount < 1:
		return configErrorf("worker count must be >= 1, got %d", opts.WorkerCount)
	case opts.Reduction == nil:
		return configErrorf("no reduction configured")
	case opts.Derivation == nil:
		return configErrorf("no derivation configured")
	}
	return nil
}
