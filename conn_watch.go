// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package headless

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// errClientGone is the cancellation cause of a request whose client closed the connection.
var errClientGone = errors.New("client closed connection")

var aLongTimeAgo = time.Unix(1, 0)

// clientWatch cancels the request context when the client connection fails or is closed
// while the request is served.
// It reads a single byte in the background, the byte stays buffered for the next request.
// The connection must not be read by anyone else between start and stop.
type clientWatch struct {
	p      *proxyConn
	cancel context.CancelCauseFunc

	mu      sync.Mutex
	running bool
	stopped bool
	aborted atomic.Bool
	done    chan struct{}
}

func (p *proxyConn) watchClient(ctx context.Context) (context.Context, *clientWatch) {
	ctx, cancel := context.WithCancelCause(ctx)
	return ctx, &clientWatch{
		p:      p,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// start begins watching, it is a no-op if the watch is running or stopped.
func (w *clientWatch) start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running || w.stopped {
		return
	}
	w.running = true
	go w.read()
}

func (w *clientWatch) read() {
	defer close(w.done)

	if _, err := w.p.br.Peek(1); err != nil && !w.aborted.Load() {
		w.p.log.Debug("client connection closed while serving request", "remote", w.p.conn.RemoteAddr().String(), "error", err)
		w.cancel(errClientGone)
	}
}

// stop ends the watch and waits for the background read to return.
// The connection can be read again after stop returns.
func (w *clientWatch) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	w.stopped = true
	if !w.running {
		return
	}

	w.aborted.Store(true)
	if err := w.p.conn.SetReadDeadline(aLongTimeAgo); err != nil {
		w.p.log.Debug("can't abort background read", "error", err)
	}
	<-w.done
	if err := w.p.conn.SetReadDeadline(time.Time{}); err != nil {
		w.p.log.Debug("can't clear read deadline", "error", err)
	}
}

// close stops the watch and releases the context.
func (w *clientWatch) close() {
	w.stop()
	w.cancel(nil)
}

// clientGone reports whether ctx was canceled because the client went away.
func clientGone(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), errClientGone)
}
