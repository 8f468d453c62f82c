// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package retry implements the retry and backoff policy applied to upstream operations.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Policy describes how many times and how long an operation is retried.
// Delays grow geometrically and are never capped, the Budget bounds the total time instead.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first one.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// Multiplier is the growth factor of consecutive delays, must be greater than 1.
	Multiplier float64

	// Budget is the upper bound of the time spent on a single operation including delays.
	// Zero means no budget.
	Budget time.Duration
}

func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts:    3,
		InitialBackoff: 200 * time.Millisecond,
		Multiplier:     2,
		Budget:         30 * time.Second,
	}
}

func (p *Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return errors.New("max attempts must be at least 1")
	}
	if p.InitialBackoff <= 0 {
		return errors.New("initial backoff must be positive")
	}
	if p.Multiplier <= 1 {
		return errors.New("backoff multiplier must be greater than 1")
	}
	if p.Budget < 0 {
		return errors.New("budget must not be negative")
	}
	return nil
}

// Backoff returns the delay before retry n, n starts at 1.
func (p *Policy) Backoff(n int) time.Duration {
	if n < 1 {
		return 0
	}
	d := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(n-1))
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Context is the per-operation retry state, it is passed to every attempt.
type Context struct {
	// Attempt is the 1-based number of the current attempt.
	Attempt int

	// LastClass is the class of the previous failure, Unknown on the first attempt.
	LastClass Class

	// LastErr is the error returned by the previous attempt.
	LastErr error

	start time.Time
}

// Elapsed is the time since the first attempt started.
func (rc *Context) Elapsed() time.Duration {
	return time.Since(rc.start)
}

// Func is a single attempt of an operation.
type Func func(ctx context.Context, rc *Context) error

// Observer is notified before every retry, it may be nil.
type Observer func(rc *Context, delay time.Duration)

// Do runs op until it succeeds, fails permanently, or the policy gives up.
// Non-idempotent operations are attempted exactly once.
// The returned error is the error of the last attempt.
func (p *Policy) Do(ctx context.Context, idempotent bool, op Func) error {
	return p.DoNotify(ctx, idempotent, op, nil)
}

// DoNotify is like Do but calls obs before sleeping between attempts.
func (p *Policy) DoNotify(ctx context.Context, idempotent bool, op Func, obs Observer) error {
	rc := &Context{start: time.Now()}

	maxAttempts := p.MaxAttempts
	if !idempotent || maxAttempts < 1 {
		maxAttempts = 1
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		rc.Attempt++
		err := op(ctx, rc)
		if err == nil {
			return nil
		}
		rc.LastErr = err
		rc.LastClass = Classify(err)

		if rc.LastClass != Transient || rc.Attempt >= maxAttempts {
			return err
		}
		if ctx.Err() != nil {
			return err
		}

		delay := p.Backoff(rc.Attempt)
		if p.Budget > 0 && rc.Elapsed()+delay > p.Budget {
			return err
		}
		if obs != nil {
			obs(rc, delay)
		}

		if timer == nil {
			timer = time.NewTimer(delay)
		} else {
			timer.Reset(delay)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", err, ctx.Err())
		case <-timer.C:
		}
	}
}
