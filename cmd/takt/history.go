// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/takt-labs/takt/pkg/config"
	"github.com/takt-labs/takt/pkg/history"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent piece runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		dir, err := config.EnsureSubDir("history")
		if err != nil {
			return err
		}
		store, err := history.NewStore(cmd.Context(), filepath.Join(dir, "runs.db"))
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.RecentRuns(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No recorded runs. Enable analytics in settings to record them.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tTASK\tPIECE\tSTATUS\tITER\tDURATION")
		for _, r := range runs {
			duration := "-"
			if !r.CompletedAt.IsZero() && r.CompletedAt.After(r.StartedAt) {
				duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
			}
			status := string(r.Status)
			if r.Reason != "" {
				status += " (" + r.Reason + ")"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				r.StartedAt.Local().Format("2006-01-02 15:04"),
				r.Task, r.Piece, status, r.Iterations, duration)
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to show")
}
