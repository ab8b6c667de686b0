// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/takt-labs/takt/pkg/task"
	"github.com/takt-labs/takt/pkg/types"
)

var (
	taskAddPiece  string
	taskAddOrder  string
	taskAddAutoPR bool
	taskAddIssue  int
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage the project task manifest",
	Long: heredoc.Doc(`
		Tasks live in .takt/tasks.yaml at the project root. "start"
		picks up pending tasks; the subcommands here add, inspect, and
		recycle records.
	`),
}

var taskAddCmd = &cobra.Command{
	Use:   "add <name> [task text]",
	Short: "Queue a new task",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		m, err := projectManifest()
		if err != nil {
			return err
		}
		rec := types.TaskRecord{
			Name:      args[0],
			Content:   strings.Join(args[1:], " "),
			Piece:     taskAddPiece,
			OrderPath: taskAddOrder,
			AutoPR:    taskAddAutoPR,
			Issue:     taskAddIssue,
		}
		if rec.Content == "" && rec.OrderPath == "" {
			return fmt.Errorf("task needs either inline text or --order")
		}
		if err := m.AddTask(rec); err != nil {
			return err
		}
		fmt.Printf("Queued %q (piece %s)\n", rec.Name, rec.Piece)
		return nil
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks and their status",
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		m, err := projectManifest()
		if err != nil {
			return err
		}
		tasks, err := m.List()
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSTATUS\tPIECE\tCREATED")
		for _, t := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				t.Name, t.Status, t.Piece, t.CreatedAt.Local().Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var taskRequeueCmd = &cobra.Command{
	Use:   "requeue <name>",
	Short: "Return a finished task to the pending queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		m, err := projectManifest()
		if err != nil {
			return err
		}
		if err := m.RequeueTask(args[0]); err != nil {
			return err
		}
		fmt.Printf("Requeued %q\n", args[0])
		return nil
	},
}

var taskRerunCmd = &cobra.Command{
	Use:   "rerun <name>",
	Short: "Re-execute a completed or failed task immediately",
	Long: heredoc.Doc(`
		Rerun moves the task straight to running, skipping the pending
		queue so no scheduler worker can claim it in between, then
		executes it in the current process.
	`),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		m := task.OpenProject(cwd)
		if err := m.StartReExecution(args[0]); err != nil {
			return err
		}
		rec, err := m.Get(args[0])
		if err != nil {
			return err
		}

		rt, err := newRuntime(cmd.Context(), cwd)
		if err != nil {
			return err
		}
		defer rt.Close()

		worktree := rec.WorktreePath
		if worktree == "" {
			worktree = cwd
		}
		state, err := rt.runPiece(cmd.Context(), rec.Piece, rec.Name, taskContent(rec), worktree, false, os.Stdout)
		if err != nil {
			if ferr := m.ErrorTask(rec.Name); ferr != nil {
				return fmt.Errorf("%w (and recording failed: %v)", err, ferr)
			}
			return err
		}
		if state.Status == types.PieceCompleted {
			return m.CompleteTask(rec.Name)
		}
		return m.FailTask(rec.Name)
	},
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Remove a completed task from the manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		m, err := projectManifest()
		if err != nil {
			return err
		}
		if err := m.DeleteCompletedTask(args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted %q\n", args[0])
		return nil
	},
}

func projectManifest() (*task.Manifest, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return task.OpenProject(cwd), nil
}

func init() {
	taskAddCmd.Flags().StringVarP(&taskAddPiece, "piece", "p", "default", "piece to run the task with")
	taskAddCmd.Flags().StringVar(&taskAddOrder, "order", "", "path to an order file holding the task text")
	taskAddCmd.Flags().BoolVar(&taskAddAutoPR, "auto-pr", false, "open a pull request when the task completes")
	taskAddCmd.Flags().IntVar(&taskAddIssue, "issue", 0, "issue number the task addresses")

	taskCmd.AddCommand(taskAddCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskRequeueCmd)
	taskCmd.AddCommand(taskRerunCmd)
	taskCmd.AddCommand(taskDeleteCmd)
}
