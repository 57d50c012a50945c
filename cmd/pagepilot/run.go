package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"pagepilot/internal/model"
)

var (
	runNoWait  bool
	runsLimit  int
	showStages bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		c := a.controller()
		if runNoWait {
			c.PropagationWait = 0
		}
		res, runErr := c.RunOnce(ctx)
		if res != nil {
			if err := writeJSON(os.Stdout, res); err != nil {
				return err
			}
		}
		return runErr
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.store.ListRuns(ctx, runsLimit)
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Runs (last %d):\n", len(runs))
		for _, run := range runs {
			printRunLine(os.Stdout, run)
		}
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-number>",
	Short: "Show one run record with its stage outputs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, err := strconv.Atoi(args[0])
		if err != nil || number < 1 {
			return fmt.Errorf("invalid run number %q", args[0])
		}
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		run, err := a.store.GetRunByNumber(ctx, number)
		if err != nil {
			return err
		}
		if !showStages {
			run.Stages = nil
		}
		return writeJSON(os.Stdout, run)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runNoWait, "no-wait", false, "Skip the propagation wait after deploying")

	runsListCmd.Flags().IntVar(&runsLimit, "limit", 10, "Number of runs to list")
	runsShowCmd.Flags().BoolVar(&showStages, "stages", false, "Include every stage output")
	runsCmd.AddCommand(runsListCmd, runsShowCmd)
}

func printRunLine(w io.Writer, run model.Run) {
	var finished string
	if run.FinishedAt != nil {
		finished = run.FinishedAt.Format(time.RFC3339)
	}
	decision := string(run.Decision)
	if decision == "" {
		decision = "-"
	}
	fmt.Fprintf(w, "  #%d %s status=%s decision=%s spend=%.2f started=%s finished=%s\n",
		run.Number, run.ID, run.Status, decision, run.Spend, run.StartedAt.Format(time.RFC3339), finished)
	if run.Error != "" {
		fmt.Fprintf(w, "    error: %s\n", run.Error)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
