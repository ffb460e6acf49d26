// Package main loads one partition read-only and prints its counts, rolling
// stats, top tokens and wallets as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"signal-board/internal/app"
	"signal-board/internal/leaderboard"
	"signal-board/internal/orchestrator"
	"signal-board/internal/ranking"
)

func main() {
	var flags app.Flags
	flags.Register(flag.CommandLine)
	partitionID := flag.String("partition", "", "partition id to inspect (required)")
	top := flag.Int("top", leaderboard.DefaultTopN, "rows per list")
	timeout := flag.Duration("timeout", time.Minute, "overall timeout")
	flag.Parse()

	if *partitionID == "" {
		fmt.Fprintln(os.Stderr, "--partition is required")
		os.Exit(2)
	}

	cfg, log, err := flags.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	pc, ok := cfg.Partition(*partitionID)
	if !ok {
		log.Fatal("unknown partition", "partition", *partitionID)
	}
	strategy, err := ranking.FromName(cfg.Ranking)
	if err != nil {
		log.Fatal("invalid ranking strategy", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, cleanup, err := app.OpenStore(ctx, cfg, flags.BackendName())
	if err != nil {
		log.Fatal("failed to open store", "error", err)
	}
	defer cleanup()

	spec := orchestrator.PartitionSpec{ID: pc.ID, Kind: pc.Kind, DataChannel: pc.DataChannel, ViewsChannel: pc.ViewsChannel}
	report := app.Inspect(ctx, store, spec, strategy, time.Now(), *top, log)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		log.Fatal("failed to encode report", "error", err)
	}
}
