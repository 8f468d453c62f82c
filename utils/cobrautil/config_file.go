// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package cobrautil

import (
	"fmt"

	"github.com/saucelabs/headless/utils/cobrautil/templates"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// ConfigFileCommand prints a config file template with all flags of the parent command commented out.
func ConfigFileCommand(g templates.FlagGroups, fs *pflag.FlagSet, configFileFlagName string) *cobra.Command {
	return &cobra.Command{
		Use:    "config-file",
		Short:  "Print a config file template",
		Args:   cobra.NoArgs,
		Hidden: true,
		Run: func(cmd *cobra.Command, _ []string) {
			w := cmd.OutOrStdout()
			p := templates.NewYamlFlagPrinter(w, 80)

			for i, gfs := range templates.SplitFlagSet(g, fs) {
				header := true
				gfs.VisitAll(func(f *pflag.Flag) {
					if f.Hidden || f.Name == configFileFlagName {
						return
					}
					if header {
						fmt.Fprintf(w, "# --- %s ---\n\n", g[i].Name)
						header = false
					}
					p.PrintHelpFlag(f)
				})
			}
		},
	}
}

// AddConfigFileForEachCommand adds the config-file subcommand to cmd and its descendants that have flags.
func AddConfigFileForEachCommand(cmd *cobra.Command, g templates.FlagGroups, configFileFlagName string) {
	for _, c := range cmd.Commands() {
		AddConfigFileForEachCommand(c, g, configFileFlagName)
	}

	if cmd.IsAvailableCommand() && cmd.Flags().HasAvailableFlags() {
		cmd.AddCommand(ConfigFileCommand(g, cmd.Flags(), configFileFlagName))
	}
}
