// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package slog implements log.StructuredLogger on top of the standard log/slog.
package slog

import (
	"io"
	"log/slog"
	"os"
	"strings"

	hlog "github.com/saucelabs/headless/log"
)

func Default() *Logger {
	return New(hlog.DefaultConfig())
}

func Debug() *Logger {
	return New(&hlog.Config{Level: hlog.DebugLevel, Format: hlog.TextFormat})
}

var _ hlog.StructuredLogger = &Logger{}

type Option func(*Logger)

// WithOnError sets a function that is called whenever an error is logged.
// It is used to count errors per component.
func WithOnError(f func(name string)) Option {
	return func(l *Logger) {
		l.onError = f
	}
}

// WithWriter overrides the output, it takes precedence over Config.File.
func WithWriter(w io.Writer) Option {
	return func(l *Logger) {
		l.w = w
	}
}

type Logger struct {
	log     *slog.Logger
	w       io.Writer
	file    *hlog.RotatableFile
	name    string
	onError func(name string)
}

func New(cfg *hlog.Config, opts ...Option) *Logger {
	l := &Logger{w: os.Stdout}
	if cfg.File != nil {
		l.file = hlog.NewRotatableFile(cfg.File)
		l.w = l.file
	}
	for _, opt := range opts {
		opt(l)
	}

	hops := &slog.HandlerOptions{Level: toSlogLevel(cfg.Level), ReplaceAttr: replaceAttr}
	var handler slog.Handler
	if cfg.Format == hlog.JSONFormat {
		handler = slog.NewJSONHandler(l.w, hops)
	} else {
		handler = slog.NewTextHandler(l.w, hops)
	}
	l.log = slog.New(handler)

	return l
}

func (l *Logger) Error(msg string, args ...any) {
	if l.onError != nil {
		l.onError(l.name)
	}
	l.log.Error(msg, args...)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.log.Warn(msg, args...)
}

func (l *Logger) Info(msg string, args ...any) {
	l.log.Info(msg, args...)
}

func (l *Logger) Debug(msg string, args ...any) {
	l.log.Debug(msg, args...)
}

// Named returns a logger for a component, the name is added to every record.
func (l *Logger) Named(name string) *Logger {
	c := *l
	c.name = name
	c.log = c.log.With("name", name)
	return &c
}

func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func toSlogLevel(level hlog.Level) slog.Level {
	switch level {
	case hlog.ErrorLevel:
		return slog.LevelError
	case hlog.WarnLevel:
		return slog.LevelWarn
	case hlog.DebugLevel:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// secretKeys are attribute keys whose values must never reach the log.
var secretKeys = map[string]struct{}{ //nolint:gochecknoglobals // read-only
	"api_key":             {},
	"apikey":              {},
	"password":            {},
	"proxy_authorization": {},
}

const redacted = "xxxxx"

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.TimeKey:
		a.Key = "timestamp"
	case slog.LevelKey:
		a.Key = "severity"
	case slog.MessageKey:
		a.Key = "message"
	default:
		if _, ok := secretKeys[strings.ToLower(a.Key)]; ok {
			a.Value = slog.StringValue(redacted)
		}
	}
	return a
}
