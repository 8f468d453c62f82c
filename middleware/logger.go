// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package middleware observes requests served by the proxy.
package middleware

import (
	"net/http"
	"time"
)

// LogEntry describes a served request.
type LogEntry struct {
	Request *http.Request
	// Response is the response written to the client, nil for established CONNECT tunnels
	// and requests that ended without a response.
	Response *http.Response
	Status   int
	Duration time.Duration
	// Attempts is the number of upstream attempts, zero for direct access.
	Attempts int
	// ClientID is the fingerprint of the client identity.
	ClientID string
}

type Logger func(e LogEntry)
