// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package headless

import (
	"github.com/saucelabs/headless/bind"
	"github.com/saucelabs/headless/command/ready"
	"github.com/saucelabs/headless/command/run"
	"github.com/saucelabs/headless/command/version"
	iversion "github.com/saucelabs/headless/internal/version"
	"github.com/saucelabs/headless/utils/cobrautil"
	"github.com/saucelabs/headless/utils/cobrautil/templates"
	"github.com/spf13/cobra"
)

const (
	EnvPrefix          = "HEADLESS"
	ConfigFileFlagName = "config-file"
)

func FlagGroups() templates.FlagGroups {
	return templates.FlagGroups{
		{
			Name: "Server options",
			Prefix: []string{
				"",
				"address",
				"read-",
				"write-",
				"idle-timeout",
				"tunnel",
				"max-header-bytes",
			},
		},
		{
			Name: "Upstream options",
			Prefix: []string{
				"proxy",
				"api-key",
				"auth-mode",
				"insecure",
				"upstream",
				"header",
				"direct-access",
			},
		},
		{
			Name:   "Session options",
			Prefix: []string{"session"},
		},
		{
			Name: "Concurrency and retry options",
			Prefix: []string{
				"concurrency",
				"retry",
			},
		},
		{
			Name: "API server options",
			Prefix: []string{
				"api-",
				"prom",
			},
		},
		{
			Name:   "Logging options",
			Prefix: []string{"log"},
		},
		{
			Name:   "Options",
			Prefix: []string{"config-file", "help", "version", "json", "timeout"},
		},
	}
}

func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "headless",
		Short:   "Local proxy for the smart proxy service, for headless browsers and HTTP clients",
		Version: iversion.Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return cobrautil.BindAll(cmd, EnvPrefix, ConfigFileFlagName)
		},
		SilenceUsage: true,
	}
	cmd.SetVersionTemplate("headless {{.Version}}\n")
	bind.ConfigFile(cmd.PersistentFlags(), new(string))

	cmd.AddCommand(
		run.Command(),
		ready.Command(),
		version.Command(),
	)

	envName := func(flagName string) string {
		return cobrautil.EnvName(EnvPrefix, flagName)
	}
	templates.SetUsageFunc(cmd, FlagGroups(), envName)

	cobrautil.AddConfigFileForEachCommand(cmd, FlagGroups(), ConfigFileFlagName)

	return cmd
}
