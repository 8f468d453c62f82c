// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package version

import (
	"encoding/json"
	"fmt"

	"github.com/saucelabs/headless/internal/version"
	"github.com/spf13/cobra"
)

type command struct {
	json bool
}

func (c *command) runE(cmd *cobra.Command, _ []string) error {
	info := version.Get()
	w := cmd.OutOrStdout()

	if c.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	_, err := fmt.Fprint(w, info.String())
	return err
}

func Command() *cobra.Command {
	c := command{}

	cmd := &cobra.Command{
		Use:   "version [--json]",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE:  c.runE,
	}
	cmd.Flags().BoolVar(&c.json, "json", false, "Print version information as JSON. ")

	return cmd
}
