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
	"io"
	"net/http"
	"time"

	"github.com/saucelabs/headless/retry"
	"github.com/saucelabs/headless/session"
)

// maxDrainBytes bounds how much of a failed upstream response is read to reuse the connection.
const maxDrainBytes = 64 << 10

func (p *proxyConn) handleForward(req *http.Request, direct bool) error {
	ctx := req.Context()
	x := exchangeFrom(ctx)

	removeHopByHopHeaders(req.Header)
	p.config.RequestHeaders.Apply(req.Header)
	if _, ok := req.Header["User-Agent"]; !ok {
		// Keep net/http from adding its own User-Agent.
		req.Header.Set("User-Agent", "")
	}
	req.RequestURI = ""

	var (
		res     *http.Response
		release = func() {}
		err     error
	)
	if direct {
		p.log.Debug("direct access", "host", req.URL.Host)
		res, err = p.direct.RoundTrip(req)
	} else {
		res, release, err = p.roundTrip(ctx, req, x)
	}
	defer release()

	if err != nil {
		if clientGone(ctx) {
			p.log.Debug("client went away, request canceled", "method", req.Method, "host", req.URL.Host, "attempts", x.attempts)
			p.metrics.error("client_gone")
			return errClose
		}
		p.log.Info("failed to forward request", "method", req.Method, "host", req.URL.Host, "error", err)
		return p.writeErrorResponse(req, err)
	}
	defer res.Body.Close()

	removeHopByHopHeaders(res.Header)
	p.upstream.StripResponse(res.Header)
	res.Request = req

	return p.writeResponse(res)
}

// roundTrip forwards req through the upstream within the retry policy.
// The returned function releases the concurrency token and the session lease,
// it must be called after the response is written.
func (p *proxyConn) roundTrip(ctx context.Context, req *http.Request, x *exchange) (*http.Response, func(), error) {
	releaseToken, err := p.acquire(ctx)
	if err != nil {
		return nil, func() {}, err
	}

	var (
		res   *http.Response
		lease *session.Lease
	)
	op := func(ctx context.Context, rc *retry.Context) error {
		x.attempts = rc.Attempt

		l, err := p.lease(ctx, x.clientID)
		if err != nil {
			return err
		}

		r, err := p.upstream.RoundTrip(req.WithContext(ctx), l.Value())
		if err == nil {
			if err = p.upstream.Check(r); err != nil {
				drainAndClose(r.Body)
			}
		}
		if err == nil {
			l.Confirm(p.upstream.Reply(r.Header).SessionID)
		}
		settle(l, err)
		if err != nil {
			l.Release()
			return err
		}

		res, lease = r, l
		return nil
	}
	obs := func(rc *retry.Context, delay time.Duration) {
		p.metrics.retry(routeForward.String())
		p.log.Debug("retrying upstream request", "attempt", rc.Attempt, "delay", delay, "error", rc.LastErr)
	}

	idempotent := (req.Method == http.MethodGet || req.Method == http.MethodHead) && req.Body == http.NoBody
	if err := p.retry.DoNotify(ctx, idempotent, op, obs); err != nil {
		releaseToken()
		return nil, func() {}, err
	}

	return res, func() {
		lease.Release()
		releaseToken()
	}, nil
}

func drainAndClose(body io.ReadCloser) {
	io.CopyN(io.Discard, body, maxDrainBytes) //nolint:errcheck // best effort
	body.Close()
}
