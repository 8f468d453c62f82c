// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package cobrautil

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// BindAll updates the command flags with values from the environment variables and the config file.
// The config file format is determined by the file extension, YAML is used if there is none.
// Precedence: command flags, environment variables, config file, default values.
func BindAll(cmd *cobra.Command, envPrefix, configFileFlagName string) error {
	v := viper.New()

	if err := v.BindPFlags(cmd.PersistentFlags()); err != nil {
		return err
	}
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	v.SetEnvKeyReplacer(envReplacer)
	v.SetEnvPrefix(envReplacer.Replace(strings.ToUpper(envPrefix)))
	v.AutomaticEnv()

	if configFileFlagName != "" {
		if f := v.GetString(configFileFlagName); f != "" {
			if filepath.Ext(f) == "" {
				v.SetConfigType("yaml")
			}
			v.SetConfigFile(f)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("read config file %s: %w", f, err)
			}
		}
	}

	return multierr.Combine(
		updateFlagSet(v, cmd.PersistentFlags()),
		updateFlagSet(v, cmd.Flags()),
	)
}

// updateFlagSet sets flags not changed on the command line to values found by viper.
func updateFlagSet(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed || !v.IsSet(f.Name) {
			return
		}

		s := fmt.Sprintf("%v", v.Get(f.Name))
		if _, ok := f.Value.(pflag.SliceValue); ok {
			s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
			s = strings.NewReplacer(", ", ",", " ", ",").Replace(s)
		}
		if serr := fs.Set(f.Name, s); serr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", f.Name, serr))
		}
	})
	return err
}
