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

	"github.com/takt-labs/takt/pkg/facet"
)

var ejectToUser bool

var ejectCmd = &cobra.Command{
	Use:   "eject <builtin path>",
	Short: "Copy a built-in asset into the project for customisation",
	Long: heredoc.Doc(`
		Eject copies a built-in piece, persona, or other asset into the
		project layer (or the user layer with --user) where it shadows
		the built-in and can be edited freely.

		  takt eject pieces/default.yaml
		  takt eject personas/reviewer.md --user
	`),
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		layer := facet.LayerProject
		if ejectToUser {
			layer = facet.LayerUser
		}
		dest, err := facet.NewStore(cwd).Eject(args[0], layer)
		if err != nil {
			return err
		}
		fmt.Printf("Ejected to %s\n", dest)
		return nil
	},
}

func init() {
	ejectCmd.Flags().BoolVar(&ejectToUser, "user", false, "eject into the user layer instead of the project")
}
