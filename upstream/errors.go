// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package upstream

import (
	"fmt"
	"net/http"

	"github.com/saucelabs/headless/retry"
)

// ErrorKind is a category of an upstream failure.
type ErrorKind int

const (
	// TransientKind covers upstream overload or a failure to reach the target, it is retried.
	TransientKind ErrorKind = 1 + iota
	// SessionKind means the session is no longer valid, it is retried with a new session.
	SessionKind
	// TimeoutKind means the upstream gave up waiting for the target.
	TimeoutKind
	// AuthKind means the credential was rejected.
	AuthKind
	// CapacityKind means the plan limits were reached.
	CapacityKind
	// BadRequestKind means the upstream rejected the request as malformed.
	BadRequestKind
	// PermanentKind covers any other non-retryable failure.
	PermanentKind
)

func (k ErrorKind) String() string {
	return [...]string{"transient", "session", "timeout", "auth", "capacity", "bad_request", "permanent"}[k-1]
}

// Error is an upstream response marked as a failure of the upstream service.
// Code is the upstream error code, it must not be shown to the client.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Code       string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("upstream %s error status=%d", e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("upstream %s error status=%d code=%s", e.Kind, e.StatusCode, e.Code)
}

func (e *Error) RetryClass() retry.Class {
	switch e.Kind {
	case TransientKind, SessionKind, TimeoutKind:
		return retry.Transient
	default:
		return retry.Permanent
	}
}

var errorCodes = map[string]ErrorKind{ //nolint:gochecknoglobals // read-only
	"bad_session_id":     SessionKind,
	"bad_proxy_auth":     AuthKind,
	"missing_proxy_auth": AuthKind,
	"header_auth":        AuthKind,
	"user_suspended":     AuthKind,
	"too_many_conns":     CapacityKind,
	"user_session_limit": CapacityKind,
	"bad_header":         BadRequestKind,
	"bad_uri":            BadRequestKind,
	"invalid_request":    BadRequestKind,
	"timeout":            TimeoutKind,
	"noslaves":           TransientKind,
	"banned":             TransientKind,
	"slavebanned":        TransientKind,
}

// classify returns the kind of an upstream failure from the response status and error code.
func classify(status int, code string) ErrorKind {
	if k, ok := errorCodes[code]; ok {
		return k
	}

	switch status {
	case http.StatusUnauthorized, http.StatusProxyAuthRequired, http.StatusForbidden:
		return AuthKind
	case http.StatusTooManyRequests:
		return CapacityKind
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return TransientKind
	case http.StatusGatewayTimeout:
		return TimeoutKind
	}
	if status >= 400 && status < 500 {
		return BadRequestKind
	}
	if status >= 500 {
		return TransientKind
	}
	return PermanentKind
}
