// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package version holds build information set with -ldflags -X.
package version

import (
	"fmt"
	"runtime"
	"strings"
)

var (
	Version = "devel"
	Time    = "unknown"
	Commit  = "unknown"
)

// Info is the build information exposed by the /version endpoints.
type Info struct {
	Version   string `json:"version"`
	Time      string `json:"time"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go_version"`
	GoOS      string `json:"go_os"`
	GoArch    string `json:"go_arch"`
}

func Get() Info {
	return Info{
		Version:   Version,
		Time:      Time,
		Commit:    Commit,
		GoVersion: runtime.Version(),
		GoOS:      runtime.GOOS,
		GoArch:    runtime.GOARCH,
	}
}

func (i Info) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Version:\t%s\n", i.Version)
	fmt.Fprintf(&b, "Built time:\t%s\n", i.Time)
	fmt.Fprintf(&b, "Git commit:\t%s\n", i.Commit)
	fmt.Fprintf(&b, "Go version:\t%s\n", i.GoVersion)
	fmt.Fprintf(&b, "Go OS/Arch:\t%s/%s\n", i.GoOS, i.GoArch)
	return b.String()
}

// UserAgent identifies headless towards the upstream service.
func UserAgent() string {
	return "headless/" + Version
}
