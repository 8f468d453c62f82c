// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

//go:build unix

package runctx

import (
	"context"
	"sync/atomic"
	"syscall"
	"testing"
)

func TestSignal(t *testing.T) {
	var signaled atomic.Bool

	g := NewGroup()
	g.OnSignal = func() { signaled.Store(true) }
	g.Add("wait", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	g.Add("kill", func(ctx context.Context) error {
		return syscall.Kill(syscall.Getpid(), syscall.SIGINT)
	})

	if err := g.Run(); err != nil {
		t.Fatal(err)
	}
	if !signaled.Load() {
		t.Fatal("OnSignal not called")
	}
}
