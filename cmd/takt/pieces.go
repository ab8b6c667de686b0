// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/takt-labs/takt/pkg/piece"
)

var piecesCmd = &cobra.Command{
	Use:   "pieces",
	Short: "List available pieces across all layers",
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		entries, err := piece.NewLoader(cwd).List()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No pieces found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tLAYER")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\n", e.Name, e.Layer)
		}
		return w.Flush()
	},
}
