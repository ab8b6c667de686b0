// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"fmt"
	"os"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/takt-labs/takt/internal/log"
	"github.com/takt-labs/takt/internal/version"
	"github.com/takt-labs/takt/pkg/config"
)

var rootCmd = &cobra.Command{
	Use:     "takt",
	Short:   "Takt - multi-agent piece runner",
	Version: version.Get(),
	Long: heredoc.Doc(`
		Takt executes pieces: directed graphs of movements where each
		movement drives an agent through up to three phases of work,
		reporting, and status judgment.

		Tasks are queued in a per-project manifest and executed by a
		worker pool in isolated git worktrees.
	`),
	SilenceUsage: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		verbose, err := config.Verbose()
		if err != nil {
			return err
		}
		log.Setup(verbose)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(piecesCmd)
	rootCmd.AddCommand(ejectCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
