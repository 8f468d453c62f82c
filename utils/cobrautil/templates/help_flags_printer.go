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
	"unicode"

	"github.com/mitchellh/go-wordwrap"
	"github.com/spf13/pflag"
)

const usageIndent = 6

// HelpFlagPrinter prints a flag with its value placeholder, default, env variable and wrapped usage.
type HelpFlagPrinter struct {
	out       io.Writer
	envName   func(flagName string) string
	wrapLimit uint
}

func NewHelpFlagPrinter(out io.Writer, envName func(flagName string) string, wrapLimit uint) *HelpFlagPrinter {
	return &HelpFlagPrinter{
		out:       out,
		envName:   envName,
		wrapLimit: wrapLimit,
	}
}

func (p *HelpFlagPrinter) PrintHelpFlag(f *pflag.Flag) {
	name, usage := flagNameAndUsage(f)

	var line strings.Builder
	if f.Shorthand != "" {
		fmt.Fprintf(&line, "  -%s, --%s%s", f.Shorthand, f.Name, name)
	} else {
		fmt.Fprintf(&line, "      --%s%s", f.Name, name)
	}
	if def := defaultValue(f); def != "" {
		fmt.Fprintf(&line, " (default %s)", def)
	}
	if p.envName != nil {
		fmt.Fprintf(&line, " (env %s)", p.envName(f.Name))
	}

	if f.Deprecated != "" {
		usage += fmt.Sprintf(" (DEPRECATED: %s)", f.Deprecated)
	}

	limit := p.wrapLimit
	if limit > usageIndent*2 {
		limit -= usageIndent
	}
	wrapped := wordwrap.WrapString(usage, limit)
	indent := strings.Repeat(" ", usageIndent)

	fmt.Fprintf(p.out, "%s\n%s%s\n\n", line.String(), indent, strings.ReplaceAll(wrapped, "\n", "\n"+indent))
}

func defaultValue(f *pflag.Flag) string {
	def := f.DefValue
	switch {
	case def == "" || def == "[]" || def == "0" || def == "0s" || def == "false":
		return ""
	case f.Value.Type() == "string":
		return "'" + def + "'"
	default:
		return def
	}
}

// flagNameAndUsage splits a usage string like "<host:port>The address." into the value placeholder and the text.
func flagNameAndUsage(f *pflag.Flag) (name, usage string) {
	name, usage = pflag.UnquoteUsage(f)

	if vt := findValueType(usage); vt > 0 {
		name = usage[:vt]
		usage = strings.TrimSpace(usage[vt:])
	} else if f.Value.Type() == "bool" {
		name = ""
	} else {
		if name == "" || name == "string" {
			name = "value"
		}
		name = "<" + name + ">"
	}
	if name != "" {
		name = " " + name
	}
	return name, strings.TrimSpace(usage)
}

// findValueType returns the length of the bracketed placeholder at the start of usage, 0 if there is none.
// The placeholder ends at the first upper case letter after the brackets are balanced.
func findValueType(usage string) int {
	runes := []rune(usage)
	if len(runes) == 0 || (runes[0] != '<' && runes[0] != '[') {
		return 0
	}

	depth := 0
	offset := 0
	for i, r := range runes {
		if depth == 0 && i > 0 && unicode.IsUpper(r) {
			return offset
		}
		switch r {
		case '<', '[':
			depth++
		case '>', ']':
			depth--
		}
		offset += len(string(r))
	}

	if depth != 0 {
		panic("unbalanced brackets in usage string")
	}
	return offset
}
