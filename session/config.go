// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Affinity tells whether a session may serve concurrent requests.
type Affinity int

const (
	// SharedAffinity reuses one session for all concurrent requests of a client.
	SharedAffinity Affinity = 1 + iota
	// ExclusiveAffinity leases a session to at most one in-flight request or tunnel.
	ExclusiveAffinity
)

func (a Affinity) String() string {
	return [2]string{"shared", "exclusive"}[a-1]
}

func ParseAffinity(s string) (Affinity, error) {
	switch strings.ToLower(s) {
	case "shared":
		return SharedAffinity, nil
	case "exclusive":
		return ExclusiveAffinity, nil
	default:
		return 0, fmt.Errorf("unknown session affinity %q", s)
	}
}

// IDSource tells who issues session identifiers.
type IDSource int

const (
	// UpstreamIDSource asks the upstream to create a session and learns its ID from the response.
	UpstreamIDSource IDSource = 1 + iota
	// LocalIDSource generates session IDs locally.
	LocalIDSource
)

func (s IDSource) String() string {
	return [2]string{"upstream", "local"}[s-1]
}

func ParseIDSource(s string) (IDSource, error) {
	switch strings.ToLower(s) {
	case "upstream":
		return UpstreamIDSource, nil
	case "local":
		return LocalIDSource, nil
	default:
		return 0, fmt.Errorf("unknown session id source %q", s)
	}
}

type Config struct {
	Affinity Affinity
	IDSource IDSource

	// IdleTimeout is how long an unused session is kept before eviction.
	IdleTimeout time.Duration

	// CreateTimeout bounds how long requests wait for a session being created by another request.
	CreateTimeout time.Duration

	// MaxFailures is the number of consecutive failed leases after which a session is invalidated.
	MaxFailures int

	// CleanupInterval is the period of the idle session sweep.
	CleanupInterval time.Duration

	// DeleteTimeout bounds a single session deletion call.
	DeleteTimeout time.Duration

	PromNamespace string
	PromRegistry  prometheus.Registerer
}

func DefaultConfig() *Config {
	return &Config{
		Affinity:        SharedAffinity,
		IDSource:        UpstreamIDSource,
		IdleTimeout:     5 * time.Minute,
		CreateTimeout:   30 * time.Second,
		MaxFailures:     3,
		CleanupInterval: time.Second,
		DeleteTimeout:   10 * time.Second,
	}
}

func (c *Config) Validate() error {
	if c.Affinity != SharedAffinity && c.Affinity != ExclusiveAffinity {
		return errors.New("invalid session affinity")
	}
	if c.IDSource != UpstreamIDSource && c.IDSource != LocalIDSource {
		return errors.New("invalid session id source")
	}
	if c.IdleTimeout <= 0 {
		return errors.New("session idle timeout must be positive")
	}
	if c.CreateTimeout <= 0 {
		return errors.New("session create timeout must be positive")
	}
	if c.MaxFailures < 1 {
		return errors.New("session max failures must be at least 1")
	}
	if c.CleanupInterval <= 0 {
		return errors.New("session cleanup interval must be positive")
	}
	return nil
}
