// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package templates renders grouped flag help, in the terminal and as a commented config file.
package templates

import (
	"strings"

	"github.com/spf13/pflag"
)

// FlagGroup selects flags by name prefix, an empty prefix matches every flag.
type FlagGroup struct {
	Name   string
	Prefix []string
}

type FlagGroups []FlagGroup

// match returns the length of the longest prefix of g matching name, or -1.
func (g FlagGroup) match(name string) int {
	best := -1
	for _, p := range g.Prefix {
		if strings.HasPrefix(name, p) && len(p) > best {
			best = len(p)
		}
	}
	return best
}

// SplitFlagSet splits fs into one flag set per group, in the order of the groups.
// A flag goes to the group with the longest matching prefix, ties go to the first group.
func SplitFlagSet(g FlagGroups, fs *pflag.FlagSet) []*pflag.FlagSet {
	result := make([]*pflag.FlagSet, len(g))
	for i := range g {
		result[i] = pflag.NewFlagSet(g[i].Name, pflag.ContinueOnError)
		result[i].SortFlags = false
	}

	fs.VisitAll(func(f *pflag.Flag) {
		idx, best := -1, -1
		for i := range g {
			if m := g[i].match(f.Name); m > best {
				idx, best = i, m
			}
		}
		if idx >= 0 {
			result[idx].AddFlag(f)
		}
	})

	return result
}
