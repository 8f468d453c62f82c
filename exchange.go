// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package headless

import (
	"context"
	"net/http"
	"time"

	"github.com/saucelabs/headless/middleware"
	"github.com/saucelabs/headless/session"
)

// exchange is the state of a proxied request from reading its head until it is served.
// It is accessed only by the goroutine serving the connection.
type exchange struct {
	start    time.Time
	clientID session.ClientID
	watch    *clientWatch
	attempts int
	res      *http.Response
	status   int
}

type exchangeKey struct{}

func exchangeFrom(ctx context.Context) *exchange {
	x, _ := ctx.Value(exchangeKey{}).(*exchange)
	return x
}

// wrote records the response written to the client.
func (x *exchange) wrote(res *http.Response) {
	if x == nil {
		return
	}
	x.res = res
	x.status = res.StatusCode
}

// serve proxies a forward or CONNECT request.
// The request context is canceled when the client goes away before the request is served.
func (p *proxyConn) serve(req *http.Request, r route) error {
	ctx, w := p.watchClient(req.Context())
	defer w.close()

	x := &exchange{
		start:    time.Now(),
		clientID: session.NewClientID(req.RemoteAddr, req.Header.Get("User-Agent")),
		watch:    w,
	}
	req = req.WithContext(context.WithValue(ctx, exchangeKey{}, x))

	// The connection is watched once the request body is consumed.
	if b, ok := req.Body.(*trackedBody); ok {
		b.onEOF = w.start
	} else {
		w.start()
	}

	p.httpMetrics.ReadRequest(req)
	defer p.finish(req, x)

	switch r {
	case routeConnect, routeDirectConnect:
		return p.handleConnect(req, r == routeDirectConnect)
	default:
		return p.handleForward(req, r == routeDirectForward)
	}
}

func (p *proxyConn) finish(req *http.Request, x *exchange) {
	e := middleware.LogEntry{
		Request:  req,
		Response: x.res,
		Status:   x.status,
		Duration: time.Since(x.start),
		Attempts: x.attempts,
		ClientID: session.Fingerprint(string(x.clientID)),
	}
	p.httpMetrics.Done(e)
	if p.httpLog != nil {
		p.httpLog(e)
	}
}
