// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package limiter bounds the number of requests and tunnels served concurrently.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"
)

// ErrCapacityExceeded is returned when no token became available within MaxWait.
var ErrCapacityExceeded = errors.New("capacity exceeded")

type Config struct {
	// Capacity is the maximal number of tokens held at once, 0 means unlimited.
	Capacity int

	// MaxWait is how long Acquire waits for a token before failing with ErrCapacityExceeded.
	// Zero means fail immediately when the pool is exhausted.
	MaxWait time.Duration

	PromNamespace string
	PromRegistry  prometheus.Registerer
}

func DefaultConfig() *Config {
	return &Config{
		Capacity: 10,
		MaxWait:  30 * time.Second,
	}
}

func (c *Config) Validate() error {
	if c.Capacity < 0 {
		return errors.New("capacity must not be negative")
	}
	if c.MaxWait < 0 {
		return errors.New("max wait must not be negative")
	}
	return nil
}

// Limiter is a counting semaphore with a bounded wait.
type Limiter struct {
	capacity int
	maxWait  time.Duration
	sem      *semaphore.Weighted
	inUse    atomic.Int64
	metrics  *metrics
}

func New(cfg *Config) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := &Limiter{
		capacity: cfg.Capacity,
		maxWait:  cfg.MaxWait,
		metrics:  newMetrics(cfg.PromRegistry, cfg.PromNamespace),
	}
	if cfg.Capacity > 0 {
		l.sem = semaphore.NewWeighted(int64(cfg.Capacity))
	}
	l.metrics.capacity.Set(float64(cfg.Capacity))

	return l, nil
}

// Acquire returns a token or ErrCapacityExceeded if none became available within MaxWait.
// If ctx is done first, the context error is returned.
func (l *Limiter) Acquire(ctx context.Context) (*Token, error) {
	if l.sem == nil {
		return l.token(), nil
	}

	if l.sem.TryAcquire(1) {
		l.metrics.wait.Observe(0)
		return l.token(), nil
	}

	if l.maxWait == 0 {
		l.metrics.rejected.Inc()
		return nil, ErrCapacityExceeded
	}

	start := time.Now()
	wctx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	if err := l.sem.Acquire(wctx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("wait for token: %w", ctx.Err())
		}
		l.metrics.rejected.Inc()
		return nil, ErrCapacityExceeded
	}
	l.metrics.wait.Observe(time.Since(start).Seconds())

	return l.token(), nil
}

func (l *Limiter) token() *Token {
	l.inUse.Add(1)
	l.metrics.inUse.Inc()
	return &Token{l: l}
}

func (l *Limiter) release() {
	l.inUse.Add(-1)
	l.metrics.inUse.Dec()
	if l.sem != nil {
		l.sem.Release(1)
	}
}

// InUse returns the number of tokens currently held.
func (l *Limiter) InUse() int {
	return int(l.inUse.Load())
}

// Capacity returns the configured capacity, 0 means unlimited.
func (l *Limiter) Capacity() int {
	return l.capacity
}

// Token represents one unit of capacity, it must be released exactly once.
type Token struct {
	l        *Limiter
	released atomic.Bool
}

// Release returns the token to the pool, subsequent calls are no-ops.
func (t *Token) Release() {
	if t == nil {
		return
	}
	if t.released.CompareAndSwap(false, true) {
		t.l.release()
	}
}
