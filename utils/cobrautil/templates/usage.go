// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package templates

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const wrapLimit = 100

// SetUsageFunc makes cmd and its subcommands print flags split into groups.
func SetUsageFunc(cmd *cobra.Command, g FlagGroups, envName func(flagName string) string) {
	cmd.SetUsageFunc(func(c *cobra.Command) error {
		WriteUsage(c.OutOrStderr(), c, g, envName)
		return nil
	})
}

func WriteUsage(w io.Writer, cmd *cobra.Command, g FlagGroups, envName func(flagName string) string) {
	fmt.Fprintf(w, "Usage:\n  %s\n\n", cmd.UseLine())

	if cmd.HasAvailableSubCommands() {
		fmt.Fprint(w, "Commands:\n")
		for _, c := range cmd.Commands() {
			if c.IsAvailableCommand() {
				fmt.Fprintf(w, "  %-*s %s\n", cmd.NamePadding(), c.Name(), c.Short)
			}
		}
		fmt.Fprint(w, "\n")
	}

	if cmd.Example != "" {
		fmt.Fprintf(w, "Examples:\n%s\n\n", cmd.Example)
	}

	p := NewHelpFlagPrinter(w, envName, wrapLimit)
	for i, fs := range SplitFlagSet(g, cmd.Flags()) {
		if !fs.HasAvailableFlags() {
			continue
		}
		fmt.Fprintf(w, "%s:\n\n", g[i].Name)
		fs.VisitAll(func(f *pflag.Flag) {
			if !f.Hidden {
				p.PrintHelpFlag(f)
			}
		})
	}

	if cmd.HasAvailableSubCommands() {
		fmt.Fprintf(w, "Use \"%s [command] --help\" for more information about a command.\n", cmd.CommandPath())
	}
}
