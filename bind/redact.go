// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bind

import (
	"fmt"
	"net/url"

	"github.com/saucelabs/headless/header"
	"github.com/saucelabs/headless/upstream"
)

func RedactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Redacted()
}

// RedactHeader hides the value of a session header.
func RedactHeader(h header.Header) string {
	if h.Action == header.Set && upstream.NormalizeHeaderName(h.Name) == upstream.DefaultSessionHeader {
		h.Value = "xxxxx"
	}
	return fmt.Sprintf("%q", h.String())
}

func RedactSecret(s string) string {
	if s == "" {
		return ""
	}
	return "xxxxx"
}
