// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package ruleset

import (
	"errors"
	"testing"
)

func TestRegexpMatcherFromList(t *testing.T) {
	tests := []struct {
		name      string
		rules     []string
		match     []string
		dontMatch []string
		err       error
	}{
		{
			name:      "single host",
			rules:     []string{`^localhost(:\d+)?(/|$)`},
			match:     []string{"localhost/", "localhost:8080/api", "localhost"},
			dontMatch: []string{"example.com/localhost", "localhost.example.com/"},
		},
		{
			name:      "include with exclude",
			rules:     []string{`\.example\.com`, `-^api\.example\.com`},
			match:     []string{"www.example.com/", "cdn.example.com/x.js"},
			dontMatch: []string{"api.example.com/v1", "example.org/"},
		},
		{
			name:      "alternation is grouped",
			rules:     []string{`^a$|^b$`, `^c$`},
			match:     []string{"a", "b", "c"},
			dontMatch: []string{"ab", "d"},
		},
		{
			name:  "only excludes",
			rules: []string{`-foo`},
			err:   ErrNoIncludeRules,
		},
	}

	for i := range tests {
		tc := &tests[i]
		t.Run(tc.name, func(t *testing.T) {
			var items []RegexpListItem
			for _, r := range tc.rules {
				item, err := ParseRegexpListItem(r)
				if err != nil {
					t.Fatal(err)
				}
				if item.String() != r {
					t.Fatalf("String()=%q, want %q", item.String(), r)
				}
				items = append(items, item)
			}

			m, err := NewRegexpMatcherFromList(items)
			if !errors.Is(err, tc.err) {
				t.Fatalf("got error %v, want %v", err, tc.err)
			}
			if err != nil {
				return
			}
			for _, s := range tc.match {
				if !m.Match(s) {
					t.Errorf("expected %q to match", s)
				}
			}
			for _, s := range tc.dontMatch {
				if m.Match(s) {
					t.Errorf("expected %q not to match", s)
				}
			}
		})
	}
}

func TestNilMatcher(t *testing.T) {
	m, err := NewRegexpMatcherFromList(nil)
	if err != nil {
		t.Fatal(err)
	}
	if m.Match("anything") {
		t.Fatal("nil matcher must not match")
	}
}

func TestParseRegexpListItemInvalid(t *testing.T) {
	if _, err := ParseRegexpListItem("("); err == nil {
		t.Fatal("expected error")
	}
}
