// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package templates

import (
	"fmt"
	"io"
	"strings"

	"github.com/mitchellh/go-wordwrap"
	"github.com/spf13/pflag"
)

// YamlFlagPrinter prints a flag as a commented out config file entry with its usage as a comment.
type YamlFlagPrinter struct {
	out       io.Writer
	wrapLimit uint
}

func NewYamlFlagPrinter(out io.Writer, wrapLimit uint) *YamlFlagPrinter {
	return &YamlFlagPrinter{
		out:       out,
		wrapLimit: wrapLimit,
	}
}

func (p *YamlFlagPrinter) PrintHelpFlag(f *pflag.Flag) {
	_, usage := flagNameAndUsage(f)
	if f.Deprecated != "" {
		usage += "\nDEPRECATED: " + f.Deprecated
	}

	wrapped := wordwrap.WrapString(usage, p.wrapLimit-2)
	fmt.Fprintf(p.out, "# %s\n#\n#%s:%s\n\n", strings.ReplaceAll(wrapped, "\n", "\n# "), f.Name, yamlDefault(f))
}

func yamlDefault(f *pflag.Flag) string {
	def := f.DefValue
	if def == "" || def == "[]" {
		return ""
	}
	return " " + def
}
