// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package httplog logs requests served by the proxy.
package httplog

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/saucelabs/headless/middleware"
)

// Mode defines the logging verbosity.
type Mode string

const (
	None     Mode = "none"
	ShortURL Mode = "short-url"
	URL      Mode = "url"
	Headers  Mode = "headers"
	Errors   Mode = "errors"
)

func (m Mode) String() string {
	if m == "" {
		return DefaultMode.String()
	}
	return string(m)
}

// Modes lists all valid modes.
func Modes() []Mode {
	return []Mode{None, ShortURL, URL, Headers, Errors}
}

var DefaultMode = Errors //nolint:gochecknoglobals // default value

// DefaultRedactedHeaders are never logged in clear text.
var DefaultRedactedHeaders = []string{ //nolint:gochecknoglobals // read-only
	"Authorization",
	"Proxy-Authorization",
	"Cookie",
	"Set-Cookie",
	"X-Crawlera-Session",
}

const redacted = "xxxxx"

type Logger struct {
	log    func(msg string, args ...any)
	mode   Mode
	redact []string
}

// NewStructuredLogger returns a logger that logs served requests with logFunc.
// Values of the redact headers are replaced, the DefaultRedactedHeaders are always redacted.
func NewStructuredLogger(logFunc func(msg string, args ...any), mode Mode, redact ...string) *Logger {
	if mode == "" {
		mode = DefaultMode
	}
	r := make([]string, 0, len(DefaultRedactedHeaders)+len(redact))
	for _, h := range DefaultRedactedHeaders {
		r = append(r, http.CanonicalHeaderKey(h))
	}
	for _, h := range redact {
		r = append(r, http.CanonicalHeaderKey(h))
	}
	return &Logger{
		log:    logFunc,
		mode:   mode,
		redact: r,
	}
}

func (l *Logger) LogFunc() middleware.Logger {
	switch l.mode {
	case None:
		return func(e middleware.LogEntry) {}
	case ShortURL:
		return func(e middleware.LogEntry) {
			b := l.builder()
			b.WithShortURL(e)
			l.log("HTTP request", b.Args()...)
		}
	case URL:
		return func(e middleware.LogEntry) {
			b := l.builder()
			b.WithURL(e)
			l.log("HTTP request", b.Args()...)
		}
	case Headers:
		return func(e middleware.LogEntry) {
			b := l.builder()
			b.WithShortURL(e)
			b.WithHeaders(e)
			l.log("HTTP request", b.Args()...)
		}
	case Errors:
		return func(e middleware.LogEntry) {
			if e.Status != 0 && e.Status < http.StatusInternalServerError {
				return
			}

			b := l.builder()
			b.WithShortURL(e)
			b.WithHeaders(e)
			l.log("HTTP request failed", b.Args()...)
		}
	default:
		panic(fmt.Sprintf("unknown log mode %s", l.mode))
	}
}

func (l *Logger) builder() *structuredLogBuilder {
	return &structuredLogBuilder{redact: l.redact}
}

// ParseMode returns the mode named by val.
func ParseMode(val string) (Mode, error) {
	m := Mode(strings.ToLower(val))
	for _, v := range Modes() {
		if m == v {
			return m, nil
		}
	}
	return "", fmt.Errorf("invalid mode %q", val)
}
