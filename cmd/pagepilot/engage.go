package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var mentionsCmd = &cobra.Command{
	Use:   "mentions",
	Short: "Answer new mentions from the mentions file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.responder()
		if err != nil {
			return err
		}
		outcomes, err := r.Check(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Mentions checked: %d\n", len(outcomes))
		for _, o := range outcomes {
			fmt.Fprintf(os.Stdout, "  %s [%s] %s", o.MentionID, o.Platform, o.Outcome)
			if o.Detail != "" {
				fmt.Fprintf(os.Stdout, " (%s)", o.Detail)
			}
			fmt.Fprintln(os.Stdout)
		}
		return nil
	},
}

var growthCmd = &cobra.Command{
	Use:   "growth",
	Short: "Run one growth engagement cycle",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		outcomes, err := a.growth().Engage(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Growth actions: %d\n", len(outcomes))
		for _, o := range outcomes {
			fmt.Fprintf(os.Stdout, "  %s on %s: %s", o.Action.Kind, o.Action.Platform, o.Status)
			if o.ExternalID != "" {
				fmt.Fprintf(os.Stdout, " id=%s", o.ExternalID)
			}
			if o.Detail != "" {
				fmt.Fprintf(os.Stdout, " (%s)", o.Detail)
			}
			fmt.Fprintln(os.Stdout)
		}
		return nil
	},
}
