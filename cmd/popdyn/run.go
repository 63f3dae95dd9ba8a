package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"pkg.jsn.cam/popdyn/internal/config"
	"pkg.jsn.cam/popdyn/pkg/derivations"
	"pkg.jsn.cam/popdyn/pkg/popdyn"
	"pkg.jsn.cam/popdyn/pkg/reductions"
	"pkg.jsn.cam/popdyn/pkg/runlog"
)

var (
	runInput      string
	runOutput     string
	runShards     int
	runWorkers    int
	runReduction  string
	runDerivation string
	runColumn     string
	runTempDir    string
	runManifest   string
	runNoProgress bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full two-pass pipeline",
	Long: `Runs the full pipeline: plan byte ranges, extract the per-key
lookup table in parallel, freeze it, join every record against it in a
second parallel pass, and merge the shards into one output file.

Example:
  popdyn run --input news.csv --output news_derived.csv
  popdyn run --config run.yaml --reduction maxscore --derivation saturation`,
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().StringVarP(&runInput, "input", "i", "", "Input delimited file")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "Merged output file")
	runCmd.Flags().IntVar(&runShards, "shards", 0, "Shard count (default 4x workers)")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "Worker count (default NumCPU)")
	runCmd.Flags().StringVar(&runReduction, "reduction", "", "Pass-1 reduction")
	runCmd.Flags().StringVar(&runDerivation, "derivation", "", "Pass-2 derivation")
	runCmd.Flags().StringVar(&runColumn, "derived-column", "", "Name of the derived output column")
	runCmd.Flags().StringVar(&runTempDir, "temp-dir", "", "Directory for shard files")
	runCmd.Flags().StringVar(&runManifest, "manifest", "", "Run manifest database path")
	runCmd.Flags().BoolVar(&runNoProgress, "no-progress", false, "Disable the progress bar")
}

// loadConfig merges defaults, the optional config file, and flag
// overrides, in that order.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if cfgPath != "" {
		var err error
		if cfg, err = config.Load(cfgPath); err != nil {
			return cfg, err
		}
	}

	if runInput != "" {
		cfg.Input = runInput
	}
	if runOutput != "" {
		cfg.Output = runOutput
	}
	if runShards != 0 {
		cfg.ShardCount = runShards
	}
	if runWorkers != 0 {
		cfg.WorkerCount = runWorkers
	}
	if runReduction != "" {
		cfg.Reduction = runReduction
	}
	if runDerivation != "" {
		cfg.Derivation = runDerivation
	}
	if runColumn != "" {
		cfg.DerivedColumn = runColumn
	}
	if runTempDir != "" {
		cfg.TempDir = runTempDir
	}
	if runManifest != "" {
		cfg.Manifest = runManifest
	}
	return cfg, nil
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	reduction, err := reductions.Get(cfg.Reduction)
	if err != nil {
		return fmt.Errorf("reduction %q: %w", cfg.Reduction, err)
	}
	derivation, err := derivations.Get(cfg.Derivation)
	if err != nil {
		return fmt.Errorf("derivation %q: %w", cfg.Derivation, err)
	}

	var manifest runlog.Recorder = runlog.NopRecorder{}
	if cfg.Manifest != "" {
		log, err := runlog.Open(cfg.Manifest)
		if err != nil {
			return fmt.Errorf("open manifest: %w", err)
		}
		defer log.Close()
		manifest = log
	}

	opts := popdyn.Options{
		InputPath:     cfg.Input,
		OutputPath:    cfg.Output,
		TempDir:       cfg.TempDir,
		Schema:        cfg.EngineSchema(),
		Reduction:     reduction,
		Derivation:    derivation,
		DerivedColumn: cfg.DerivedColumn,
		ShardCount:    cfg.ShardCount,
		WorkerCount:   cfg.WorkerCount,
		Logger:        logger,
		Manifest:      manifest,
	}
	if !runNoProgress {
		opts.Progress = newProgress()
	}

	res, err := popdyn.Run(cmd.Context(), opts)
	if err != nil {
		return err
	}

	var outSize int64
	if fi, err := os.Stat(res.OutputPath); err == nil {
		outSize = fi.Size()
	}

	fmt.Printf("Run complete!\n")
	fmt.Printf("  Run ID:      %s\n", res.RunID)
	fmt.Printf("  Output:      %s (%s)\n", res.OutputPath, humanize.Bytes(uint64(outSize)))
	fmt.Printf("  Ranges:      %d\n", res.Ranges)
	fmt.Printf("  Records:     %s\n", humanize.Comma(res.Records))
	fmt.Printf("  Rows:        %s\n", humanize.Comma(res.Rows))
	fmt.Printf("  Lookup keys: %s\n", humanize.Comma(int64(res.LookupKeys)))
	fmt.Printf("  Parse skips: %s\n", humanize.Comma(res.ParseSkips))
	fmt.Printf("  Orphans:     %s\n", humanize.Comma(res.Orphans))

	for _, stage := range []popdyn.Stage{
		popdyn.StagePlanning, popdyn.StageExtract, popdyn.StageReduce,
		popdyn.StageJoin, popdyn.StageMerge,
	} {
		if d, ok := res.Durations[stage]; ok {
			fmt.Printf("  %-12s %v\n", stage+":", d)
		}
	}
	return nil
}

// newProgress returns a Progress callback that keeps one bar per stage.
// The callback runs on worker goroutines, so the bar swap is locked.
func newProgress() func(stage popdyn.Stage, done, total int) {
	var (
		mu      sync.Mutex
		current popdyn.Stage
		bar     *progressbar.ProgressBar
	)
	return func(stage popdyn.Stage, done, total int) {
		mu.Lock()
		defer mu.Unlock()
		if stage != current {
			if bar != nil {
				_ = bar.Finish()
			}
			current = stage
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription(string(stage)),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}
		_ = bar.Set(done)
	}
}
