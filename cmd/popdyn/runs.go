package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"pkg.jsn.cam/popdyn/pkg/runlog"
)

var (
	runsManifest string
	runsID       string
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded runs from the manifest",
	Long: `Lists past runs from the manifest database, or shows one run in
detail with --id, including its stage transitions and shard files.
Failed runs keep their shard files on disk for inspection.`,
	RunE: listRuns,
}

func init() {
	runsCmd.Flags().StringVar(&runsManifest, "manifest", "popdyn.db", "Run manifest database path")
	runsCmd.Flags().StringVar(&runsID, "id", "", "Show one run in detail")
}

func listRuns(cmd *cobra.Command, args []string) error {
	log, err := runlog.Open(runsManifest)
	if err != nil {
		return fmt.Errorf("open manifest: %w", err)
	}
	defer log.Close()

	if runsID != "" {
		return showRun(log, runsID)
	}

	runs, err := log.LoadRuns()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	fmt.Printf("%-36s %-12s %-12s %-12s %s\n", "RUN ID", "STAGE", "ROWS", "ORPHANS", "STARTED")
	for _, run := range runs {
		fmt.Printf("%-36s %-12s %-12s %-12s %s\n",
			run.ID,
			run.Stage,
			humanize.Comma(run.Rows),
			humanize.Comma(run.Orphans),
			run.StartedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func showRun(log *runlog.Log, id string) error {
	run, err := log.LoadRun(id)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run not found: %s", id)
	}

	fmt.Printf("Run Details:\n")
	fmt.Printf("  ID:          %s\n", run.ID)
	fmt.Printf("  Stage:       %s\n", run.Stage)
	fmt.Printf("  Input:       %s\n", run.InputPath)
	fmt.Printf("  Output:      %s\n", run.OutputPath)
	fmt.Printf("  Reduction:   %s\n", run.Reduction)
	fmt.Printf("  Derivation:  %s\n", run.Derivation)
	fmt.Printf("  Shards:      %d\n", run.ShardCount)
	fmt.Printf("  Workers:     %d\n", run.WorkerCount)
	fmt.Printf("  Started:     %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))

	if !run.FinishedAt.IsZero() {
		fmt.Printf("  Finished:    %s\n", run.FinishedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("  Duration:    %v\n", run.FinishedAt.Sub(run.StartedAt))
	}
	if run.Error != "" {
		fmt.Printf("\nError: %s\n", run.Error)
	}

	fmt.Printf("\nCounters:\n")
	fmt.Printf("  Records:     %s\n", humanize.Comma(run.Records))
	fmt.Printf("  Rows:        %s\n", humanize.Comma(run.Rows))
	fmt.Printf("  Lookup keys: %s\n", humanize.Comma(int64(run.LookupKeys)))
	fmt.Printf("  Parse skips: %s\n", humanize.Comma(run.ParseSkips))
	fmt.Printf("  Orphans:     %s\n", humanize.Comma(run.Orphans))

	stages, err := log.LoadStages(id)
	if err != nil {
		return err
	}
	if len(stages) > 0 {
		fmt.Printf("\nStages:\n")
		for _, s := range stages {
			fmt.Printf("  %-14s %s\n", s.Stage, s.EnteredAt.Format("15:04:05.000"))
		}
	}

	shards, err := log.LoadShards(id)
	if err != nil {
		return err
	}
	if len(shards) > 0 {
		fmt.Printf("\nShards:\n")
		for _, s := range shards {
			fmt.Printf("  %-6d %-12s %-12s %s\n",
				s.Index, humanize.Bytes(uint64(s.Bytes)), humanize.Comma(s.Records), s.Path)
		}
	}
	return nil
}
