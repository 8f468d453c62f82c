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
	"context"
	"net"
	"net/http"
	"time"

	"github.com/saucelabs/headless/retry"
	"github.com/saucelabs/headless/session"
)

var connectOKResponse = []byte("HTTP/1.1 200 Connection Established\r\n\r\n")

func (p *proxyConn) handleConnect(req *http.Request, direct bool) error {
	ctx := req.Context()
	target := req.URL.Host
	x := exchangeFrom(ctx)

	var (
		conn    net.Conn
		release = func() {}
		err     error
	)
	if direct {
		p.log.Debug("direct access", "host", target)
		conn, err = p.dial(ctx, "tcp", target)
	} else {
		conn, release, err = p.connect(ctx, target, x)
	}
	defer release()

	// The client connection is read by the tunnel from now on.
	x.watch.stop()

	if err != nil {
		if clientGone(ctx) {
			p.log.Debug("client went away, CONNECT canceled", "host", target, "attempts", x.attempts)
			p.metrics.error("client_gone")
			return errClose
		}
		p.log.Info("failed to CONNECT", "host", target, "error", err)
		return p.writeErrorResponse(req, err)
	}
	defer conn.Close()

	if err := p.writeConnectOK(); err != nil {
		return err
	}
	x.status = http.StatusOK
	if err := drainBuffer(conn, p.br); err != nil {
		p.log.Debug("got error while draining read buffer", "error", err)
		return errClose
	}

	p.metrics.tunnelOpened()
	p.log.Debug("CONNECT tunnel established", "host", target)

	up := &copier{name: "upstream", dst: conn, src: p.conn}
	down := &copier{name: "downstream", dst: p.conn, src: conn}
	start := time.Now()
	res := bicopy(ctx, p.log, relayConfig{
		IdleTimeout: p.config.TunnelIdleTimeout,
		GracePeriod: p.config.TunnelGracePeriod,
	}, up, down)

	p.metrics.tunnelClosed(up.n.Load(), down.n.Load())
	if res.Idle {
		p.metrics.tunnelIdle.Inc()
	}
	p.log.Debug("CONNECT tunnel closed", "host", target, "duration", time.Since(start).Round(time.Millisecond), "idle", res.Idle)

	return errClose
}

func (p *proxyConn) writeConnectOK() error {
	if p.config.WriteTimeout > 0 {
		if err := p.conn.SetWriteDeadline(time.Now().Add(p.config.WriteTimeout)); err != nil {
			p.log.Debug("can't set write deadline", "error", err)
		}
		defer p.conn.SetWriteDeadline(time.Time{}) //nolint:errcheck // best effort
	}

	if _, err := p.bw.Write(connectOKResponse); err != nil {
		return errClose
	}
	if err := p.bw.Flush(); err != nil {
		p.log.Debug("connection closed prematurely while writing CONNECT response", "error", err)
		return errClose
	}
	return nil
}

// connect opens a tunnel to target through the upstream within the retry policy.
// Retries apply only to establishing the tunnel.
// The returned function releases the concurrency token and the session lease.
func (p *proxyConn) connect(ctx context.Context, target string, x *exchange) (net.Conn, func(), error) {
	releaseToken, err := p.acquire(ctx)
	if err != nil {
		return nil, func() {}, err
	}

	var (
		conn  net.Conn
		lease *session.Lease
	)
	op := func(ctx context.Context, rc *retry.Context) error {
		x.attempts = rc.Attempt

		l, err := p.lease(ctx, x.clientID)
		if err != nil {
			return err
		}

		c, reply, err := p.upstream.Connect(ctx, target, l.Value())
		if err == nil {
			l.Confirm(reply.SessionID)
		}
		settle(l, err)
		if err != nil {
			l.Release()
			return err
		}

		conn, lease = c, l
		return nil
	}
	obs := func(rc *retry.Context, delay time.Duration) {
		p.metrics.retry(routeConnect.String())
		p.log.Debug("retrying upstream CONNECT", "attempt", rc.Attempt, "delay", delay, "error", rc.LastErr)
	}

	if err := p.retry.DoNotify(ctx, true, op, obs); err != nil {
		releaseToken()
		return nil, func() {}, err
	}

	return conn, func() {
		lease.Release()
		releaseToken()
	}, nil
}
