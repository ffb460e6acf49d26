// Package main runs the signal board job once and exits. Exit status is 1
// when any partition or view failed, which suits cron and CI schedulers.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"signal-board/internal/app"
	"signal-board/internal/domain"
	"signal-board/internal/orchestrator"
)

func main() {
	var flags app.Flags
	flags.Register(flag.CommandLine)
	outputJSON := flag.Bool("json", false, "print the run report as JSON")
	flag.Parse()

	cfg, log, err := flags.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, cleanup, err := app.Build(ctx, cfg, flags.BackendName(), log)
	if err != nil {
		log.Fatal("failed to build components", "error", err)
	}
	defer cleanup()

	res, err := components.Orchestrator.Run(ctx)
	if err != nil {
		log.Error("job interrupted", "error", err)
		cleanup()
		os.Exit(1)
	}

	if *outputJSON {
		printJSON(res)
	} else {
		printText(res)
	}

	if len(res.Errors) > 0 {
		log.Error("job finished with errors", "error", errors.Join(res.Errors...))
		cleanup()
		os.Exit(1)
	}
}

type jsonReport struct {
	Partitions []orchestrator.PartitionReport `json:"partitions"`
	GainSum    map[domain.Variant]float64     `json:"gainSum"`
	Errors     []string                       `json:"errors,omitempty"`
}

func printJSON(res *orchestrator.RunResult) {
	out := jsonReport{Partitions: res.Partitions, GainSum: make(map[domain.Variant]float64)}
	for v, s := range res.Summary {
		out.GainSum[v] = s.GainSum
	}
	for _, err := range res.Errors {
		out.Errors = append(out.Errors, err.Error())
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(data))
}

func printText(res *orchestrator.RunResult) {
	fmt.Printf("\n=== Run Summary ===\n")
	fmt.Printf("%-12s %-10s %8s %8s %8s %8s %6s\n", "Partition", "Outcome", "Signals", "Dupes", "Prices", "Reject", "Saved")
	for _, p := range res.Partitions {
		outcome := string(p.Outcome)
		if p.Skipped {
			outcome = "skipped"
		}
		fmt.Printf("%-12s %-10s %8d %8d %8d %8d %6t\n", p.ID, outcome, p.Signals, p.Duplicates, p.Prices, p.Rejected, p.Saved)
	}
	for _, v := range domain.AllVariants {
		if s, ok := res.Summary[v]; ok {
			fmt.Printf("Summary %-4s %3d tokens, gain sum %.2fx\n", v, len(s.Rows), s.GainSum)
		}
	}
	if len(res.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(res.Errors))
		for _, err := range res.Errors {
			fmt.Printf("  - %v\n", err)
		}
	}
}
