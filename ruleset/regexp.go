// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package ruleset matches strings against include and exclude regular expressions.
package ruleset

import (
	"errors"
	"regexp"
	"strings"
)

var ErrNoIncludeRules = errors.New("no include rules specified")

// RegexpMatcher matches when any include rule matches and no exclude rule does.
type RegexpMatcher struct {
	include *regexp.Regexp
	exclude *regexp.Regexp
}

func NewRegexpMatcher(include, exclude []*regexp.Regexp) (*RegexpMatcher, error) {
	if len(include) == 0 {
		return nil, ErrNoIncludeRules
	}

	return &RegexpMatcher{
		include: join(include),
		exclude: join(exclude),
	}, nil
}

func join(rules []*regexp.Regexp) *regexp.Regexp {
	if len(rules) == 0 {
		return nil
	}
	var sb strings.Builder
	for i := range rules {
		if i > 0 {
			sb.WriteString("|")
		}
		sb.WriteString("(?:")
		sb.WriteString(rules[i].String())
		sb.WriteString(")")
	}
	return regexp.MustCompile(sb.String())
}

// Match reports whether s is matched, a nil matcher matches nothing.
func (r *RegexpMatcher) Match(s string) bool {
	if r == nil {
		return false
	}
	if r.exclude != nil && r.exclude.MatchString(s) {
		return false
	}
	return r.include.MatchString(s)
}

// RegexpListItem is a rule given on the command line, a "-" prefix marks an exclude rule.
type RegexpListItem struct {
	*regexp.Regexp
	Exclude bool
}

func ParseRegexpListItem(val string) (RegexpListItem, error) {
	val, exclude := strings.CutPrefix(val, "-")
	r, err := regexp.Compile(val)
	if err != nil {
		return RegexpListItem{}, err
	}
	return RegexpListItem{r, exclude}, nil
}

func (r RegexpListItem) String() string {
	if r.Exclude {
		return "-" + r.Regexp.String()
	}
	return r.Regexp.String()
}

// NewRegexpMatcherFromList returns nil when l is empty.
func NewRegexpMatcherFromList(l []RegexpListItem) (*RegexpMatcher, error) {
	if len(l) == 0 {
		return nil, nil //nolint:nilnil // no rules means no matcher
	}

	var include, exclude []*regexp.Regexp
	for i := range l {
		if l[i].Exclude {
			exclude = append(exclude, l[i].Regexp)
		} else {
			include = append(include, l[i].Regexp)
		}
	}
	return NewRegexpMatcher(include, exclude)
}
