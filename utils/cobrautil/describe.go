// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package cobrautil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

type DescribeFormat int

const (
	Plain DescribeFormat = iota
	JSON
	YAML
)

// FlagsDescriber renders the effective flag values.
// Values are taken from Value.String so flags with redaction never expose secrets.
type FlagsDescriber struct {
	Format          DescribeFormat
	ShowChangedOnly bool
	ShowHidden      bool
}

func (d FlagsDescriber) DescribeFlags(fs *pflag.FlagSet) ([]byte, error) {
	args := make(map[string]any, fs.NFlag())

	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "help" {
			return
		}
		if f.Hidden && !d.ShowHidden {
			return
		}
		if !f.Changed && d.ShowChangedOnly {
			return
		}

		switch {
		case f.Value.Type() == "bool":
			args[f.Name] = f.Value.String() == "true"
		case isSlice(f.Value):
			args[f.Name] = f.Value.(pflag.SliceValue).GetSlice() //nolint:forcetypeassert // checked by isSlice
		default:
			args[f.Name] = f.Value.String()
		}
	})

	switch d.Format {
	case Plain:
		keys := maps.Keys(args)
		slices.Sort(keys)

		var b bytes.Buffer
		for _, k := range keys {
			v := args[k]
			if s, ok := v.([]string); ok {
				v = strings.Join(s, ",")
			}
			fmt.Fprintf(&b, "%s=%v\n", k, v)
		}
		return b.Bytes(), nil
	case JSON:
		return json.Marshal(args)
	case YAML:
		if len(args) == 0 {
			return []byte("{}\n"), nil
		}
		var b bytes.Buffer
		enc := yaml.NewEncoder(&b)
		enc.SetIndent(2)
		if err := enc.Encode(args); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return b.Bytes(), nil
	default:
		return nil, errors.New("unknown format")
	}
}

func isSlice(v pflag.Value) bool {
	_, ok := v.(pflag.SliceValue)
	return ok
}
