// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// Copyright 2015 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package headless

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saucelabs/headless/log"
)

func drainBuffer(w io.Writer, r *bufio.Reader) error {
	if n := r.Buffered(); n > 0 {
		rbuf, err := r.Peek(n)
		if err != nil {
			return err
		}
		if _, err := w.Write(rbuf); err != nil {
			return err
		}
		r.Discard(n) //nolint:errcheck // n bytes are buffered
	}
	return nil
}

var copyBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 32*1024)
		return &b
	},
}

type relayConfig struct {
	// IdleTimeout closes the relay when no bytes were copied in either direction.
	IdleTimeout time.Duration
	// GracePeriod closes the relay after the first copier finished.
	GracePeriod time.Duration
}

type relayResult struct {
	// Idle is true if the relay was closed by the idle timeout.
	Idle bool
}

// bicopy runs the copiers concurrently and waits for all of them.
// All destinations are closed when the context is done, the idle timeout expires,
// or the grace period after the first finished copier expires.
func bicopy(ctx context.Context, log log.StructuredLogger, cfg relayConfig, cc ...*copier) relayResult {
	var (
		res      relayResult
		activity atomic.Int64
	)
	activity.Store(time.Now().UnixNano())

	donec := make(chan struct{}, len(cc))
	for _, c := range cc {
		c.activity = &activity
		go c.copy(log, donec)
	}

	var idleC <-chan time.Time
	if cfg.IdleTimeout > 0 {
		t := time.NewTicker(idleCheckInterval(cfg.IdleTimeout))
		defer t.Stop()
		idleC = t.C
	}

	var (
		graceC <-chan time.Time
		doneC  = ctx.Done()
		closed bool
	)
	closeAll := func() {
		if !closed {
			closed = true
			for _, c := range cc {
				c.close(log)
			}
		}
	}

	for finished := 0; finished < len(cc); {
		select {
		case <-donec:
			finished++
			if finished == 1 && cfg.GracePeriod > 0 {
				t := time.NewTimer(cfg.GracePeriod)
				defer t.Stop()
				graceC = t.C
			}
		case <-graceC:
			log.Info("forcibly closing tunnel after graceful period", "period", cfg.GracePeriod)
			graceC = nil
			closeAll()
		case <-idleC:
			last := time.Unix(0, activity.Load())
			if time.Since(last) >= cfg.IdleTimeout {
				log.Debug("closing idle tunnel", "idle", time.Since(last).Round(time.Millisecond))
				idleC = nil
				res.Idle = true
				closeAll()
			}
		case <-doneC:
			doneC = nil
			closeAll()
		}
	}

	return res
}

func idleCheckInterval(d time.Duration) time.Duration {
	i := d / 4
	if i > time.Second {
		i = time.Second
	}
	if i < time.Millisecond {
		i = time.Millisecond
	}
	return i
}

type copier struct {
	name string
	dst  io.Writer
	src  io.Reader

	n        atomic.Int64
	activity *atomic.Int64
}

func (c *copier) Write(p []byte) (int, error) {
	n, err := c.dst.Write(p)
	if n > 0 {
		c.n.Add(int64(n))
		c.activity.Store(time.Now().UnixNano())
	}
	return n, err
}

func (c *copier) copy(log log.StructuredLogger, donec chan<- struct{}) {
	bufp := copyBufPool.Get().(*[]byte) //nolint:forcetypeassert // It's *[]byte.
	buf := *bufp
	defer copyBufPool.Put(bufp)

	if _, err := io.CopyBuffer(c, c.src, buf); err != nil && !isClosedConnError(err) {
		log.Debug("failed to copy tunnel", "name", c.name, "error", err)
	}
	c.closeWriter(log)

	log.Debug("tunnel finished copying", "name", c.name, "bytes", c.n.Load())
	donec <- struct{}{}
}

func (c *copier) closeWriter(log log.StructuredLogger) {
	cw, ok := asCloseWriter(c.dst)
	if !ok {
		log.Debug("cannot close write side of tunnel", "name", c.name, "type", fmt.Sprintf("%T", c.dst))
		return
	}
	if err := cw.CloseWrite(); err != nil && !isClosedConnError(err) {
		log.Debug("failed to close write side of tunnel", "name", c.name, "error", err)
	}
}

func (c *copier) close(log log.StructuredLogger) {
	cc, ok := c.dst.(io.Closer)
	if !ok {
		log.Error("cannot close tunnel", "name", c.name, "type", fmt.Sprintf("%T", c.dst))
		return
	}
	if err := cc.Close(); err != nil && !isClosedConnError(err) {
		log.Debug("failed to close tunnel", "name", c.name, "error", err)
	}
}
