// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/takt-labs/takt/pkg/task"
	"github.com/takt-labs/takt/pkg/types"
)

var (
	runPieceRef    string
	runInteractive bool
)

var runCmd = &cobra.Command{
	Use:   "run <task text>",
	Short: "Run a piece against a task in the current directory",
	Long: heredoc.Doc(`
		Run executes a piece immediately in the current directory,
		without queuing a task or creating a worktree. Use it for
		one-off work; use "task add" + "start" for queued execution.
	`),
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := newRuntime(ctx, cwd)
		if err != nil {
			return err
		}
		defer rt.Close()

		taskText := strings.Join(args, " ")
		state, err := rt.runPiece(ctx, runPieceRef, "adhoc", taskText, cwd, runInteractive, os.Stdout)
		if err != nil {
			return err
		}

		fmt.Printf("Status: %s", state.Status)
		if state.Reason != "" {
			fmt.Printf(" (%s)", state.Reason)
		}
		fmt.Printf("\nIterations: %d\n", state.Iteration)
		if state.Status != types.PieceCompleted {
			return fmt.Errorf("piece run did not complete")
		}
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the task scheduler",
	Long: heredoc.Doc(`
		Start polls the project task manifest and executes pending
		tasks with a bounded worker pool, each task in its own git
		worktree. SIGINT aborts in-flight runs and exits.
	`),
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := newRuntime(ctx, cwd)
		if err != nil {
			return err
		}
		defer rt.Close()

		worktrees, err := task.NewWorktreeManager(cwd, rt.settings.BaseBranch)
		if err != nil {
			return err
		}
		manifest := task.OpenProject(cwd)

		sched, err := task.NewScheduler(task.SchedulerConfig{
			Manifest:     manifest,
			Worktrees:    worktrees,
			Concurrency:  rt.settings.Concurrency,
			PollInterval: time.Duration(rt.settings.TaskPollIntervalMS) * time.Millisecond,
			Run: func(ctx context.Context, rec types.TaskRecord, worktree string) (*types.ExecutionState, error) {
				out := task.WorkerOutput(os.Stdout, rec.Name, rt.settings.Concurrency)
				defer out.Flush()
				return rt.runPiece(ctx, rec.Piece, rec.Name, taskContent(rec), worktree, false, out)
			},
		})
		if err != nil {
			return err
		}

		schedules, err := task.LoadSchedules(cwd)
		if err != nil {
			return err
		}
		if len(schedules) > 0 {
			enqueuer := task.NewCronEnqueuer(manifest)
			for _, s := range schedules {
				if err := enqueuer.Add(s.Cron, s.Name, s.Content, s.Piece); err != nil {
					return err
				}
			}
			enqueuer.Start()
			defer enqueuer.Stop()
		}

		fmt.Printf("Scheduler started (concurrency %d). Press Ctrl-C to stop.\n", rt.settings.Concurrency)
		return sched.Run(ctx)
	},
}

// taskContent returns the task text, reading the order file when the
// record points at one.
func taskContent(rec types.TaskRecord) string {
	if rec.OrderPath != "" {
		if data, err := os.ReadFile(rec.OrderPath); err == nil {
			return string(data)
		}
	}
	return rec.Content
}

func init() {
	runCmd.Flags().StringVarP(&runPieceRef, "piece", "p", "default", "piece name, path, or @scope/package/name")
	runCmd.Flags().BoolVarP(&runInteractive, "interactive", "i", false, "enable interactive-only rules")
}
