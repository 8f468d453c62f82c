// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package log

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// oldFileCloseDelay lets in-flight writes to the rotated file finish.
const oldFileCloseDelay = 5 * time.Second

// RotatableFile is an io.WriteCloser that reopens the underlying file on SIGHUP,
// so that external tools like logrotate can move the file away.
type RotatableFile struct {
	f    atomic.Pointer[os.File]
	ch   chan os.Signal
	once sync.Once
}

func NewRotatableFile(f *os.File) *RotatableFile {
	w := &RotatableFile{
		ch: make(chan os.Signal, 1),
	}
	w.f.Store(f)
	go w.reopenOnSIGHUP()
	return w
}

func (w *RotatableFile) Write(p []byte) (n int, err error) {
	return w.f.Load().Write(p)
}

var closeSignal = syscall.Signal(-1)

func (w *RotatableFile) Close() error {
	w.once.Do(func() {
		w.ch <- closeSignal
	})
	return w.f.Load().Close()
}

// Reopen opens the file by name again and swaps it in.
func (w *RotatableFile) Reopen() error {
	name := w.f.Load().Name()
	nf, err := os.OpenFile(name, DefaultFileFlags, DefaultFileMode)
	if err != nil {
		return fmt.Errorf("reopen %s: %w", name, err)
	}
	old := w.f.Swap(nf)

	time.AfterFunc(oldFileCloseDelay, func() {
		if err := old.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close rotated log file: %v\n", err)
		}
	})

	return nil
}

func (w *RotatableFile) reopenOnSIGHUP() {
	signal.Notify(w.ch, syscall.SIGHUP)
	defer signal.Stop(w.ch)

	for s := range w.ch {
		if s == closeSignal {
			return
		}
		if err := w.Reopen(); err != nil {
			fmt.Fprintf(os.Stderr, "rotate log file: %v\n", err)
		}
	}
}
