package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"pkg.jsn.cam/popdyn/pkg/popdyn"
)

var planShards int

var planCmd = &cobra.Command{
	Use:   "plan [file]",
	Short: "Show the byte ranges a run would use",
	Long: `Plans the record-aligned byte ranges for a file without running
anything, so shard sizing can be checked before a long run.

Example:
  popdyn plan news.csv --shards 16`,
	Args: cobra.ExactArgs(1),
	RunE: showPlan,
}

func init() {
	planCmd.Flags().IntVar(&planShards, "shards", 8, "Shard count")
}

func showPlan(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}

	ranges, err := popdyn.Plan(f, fi.Size(), planShards)
	if err != nil {
		return err
	}

	fmt.Printf("File: %s (%s)\n", args[0], humanize.Bytes(uint64(fi.Size())))
	fmt.Printf("%-6s %-14s %-14s %s\n", "RANGE", "START", "END", "SIZE")
	for _, r := range ranges {
		fmt.Printf("%-6d %-14d %-14d %s\n",
			r.Index, r.Start, r.End, humanize.Bytes(uint64(r.End-r.Start)))
	}
	return nil
}
