// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package runctx runs the long-lived components of the process until one fails or a signal arrives.
package runctx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

// DefaultNotifySignals specifies signals that would cause the context to be canceled.
var DefaultNotifySignals = []os.Signal{ //nolint:gochecknoglobals // configuration default
	syscall.SIGINT,
	syscall.SIGTERM,
	syscall.SIGQUIT,
}

type namedFunc struct {
	name string
	fn   func(ctx context.Context) error
}

// Group is a collection of functions that would be run concurrently.
// The context passed to each function is canceled when any function returns an error
// or when any of the signals in NotifySignals is received.
type Group struct {
	NotifySignals []os.Signal

	// OnSignal is called when the context is canceled by a signal, it may be nil.
	OnSignal func()

	funcs []namedFunc
}

func NewGroup() *Group {
	return &Group{}
}

// Add registers fn under name, the name is used to annotate the returned error.
func (g *Group) Add(name string, fn func(ctx context.Context) error) {
	g.funcs = append(g.funcs, namedFunc{name, fn})
}

func (g *Group) Run() error {
	return g.RunContext(context.Background())
}

// RunContext runs all functions and waits for them to return.
// Cancellation errors caused by shutdown are not reported.
func (g *Group) RunContext(ctx context.Context) error {
	sigs := g.NotifySignals
	if len(sigs) == 0 {
		sigs = DefaultNotifySignals
	}
	sctx, unregisterSignals := signal.NotifyContext(ctx, sigs...)
	defer unregisterSignals()

	eg, ectx := errgroup.WithContext(sctx)

	eg.Go(func() error {
		<-ectx.Done()
		if sctx.Err() != nil && ctx.Err() == nil && g.OnSignal != nil {
			g.OnSignal()
		}
		unregisterSignals()
		return nil
	})

	for i := range g.funcs {
		f := g.funcs[i]
		eg.Go(func() error {
			if err := f.fn(ectx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s: %w", f.name, err)
			}
			return nil
		})
	}

	return eg.Wait()
}
