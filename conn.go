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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/saucelabs/headless/internal/version"
	"golang.org/x/exp/maps"
	"golang.org/x/net/http/httpguts"
)

// headerSlack accounts for the bytes buffered before the header limit is applied.
const headerSlack = 4096

type proxyConn struct {
	*Proxy
	conn net.Conn
	lr   *io.LimitedReader
	br   *bufio.Reader
	bw   *bufio.Writer
}

func newProxyConn(p *Proxy, conn net.Conn) *proxyConn {
	lr := &io.LimitedReader{R: conn, N: math.MaxInt64}
	return &proxyConn{
		Proxy: p,
		conn:  conn,
		lr:    lr,
		br:    bufio.NewReader(lr),
		bw:    bufio.NewWriter(conn),
	}
}

// handleLoop serves requests one at a time, so responses are written in request order.
func (p *proxyConn) handleLoop(ctx context.Context) {
	for {
		if err := p.handle(ctx); err != nil {
			if !errors.Is(err, errClose) {
				p.log.Debug("closing connection", "remote", p.conn.RemoteAddr().String(), "error", err)
			}
			return
		}
		if p.closing.Load() {
			return
		}
	}
}

func (p *proxyConn) readRequest(ctx context.Context) (*http.Request, error) {
	var idleDeadline time.Time // or zero if none
	if d := p.config.IdleTimeout; d > 0 {
		idleDeadline = time.Now().Add(d)
	}
	if err := p.conn.SetReadDeadline(idleDeadline); err != nil {
		p.log.Debug("can't set idle deadline", "error", err)
	}

	// Wait for the connection to become readable before trying to
	// read the next request. This prevents a ReadHeaderTimeout
	// from starting until the first bytes of the next request
	// have been received.
	if _, err := p.br.Peek(1); err != nil {
		return nil, err
	}

	var hdrDeadline time.Time // or zero if none
	if d := p.config.ReadHeaderTimeout; d > 0 {
		hdrDeadline = time.Now().Add(d)
	}
	if err := p.conn.SetReadDeadline(hdrDeadline); err != nil {
		p.log.Debug("can't set read header deadline", "error", err)
	}

	p.lr.N = int64(p.config.MaxHeaderBytes) + headerSlack
	req, err := http.ReadRequest(p.br)
	if err != nil {
		return nil, err
	}
	p.lr.N = math.MaxInt64

	if err := p.conn.SetReadDeadline(time.Time{}); err != nil {
		p.log.Debug("can't clear read deadline", "error", err)
	}

	req.RemoteAddr = p.conn.RemoteAddr().String()
	if req.Body != http.NoBody {
		req.Body = &trackedBody{ReadCloser: req.Body}
	}

	return req.WithContext(ctx), nil
}

// readError writes a raw error response for a request that could not be parsed.
// The connection is always closed.
func (p *proxyConn) readError(err error) error {
	var code int
	switch {
	case p.lr.N <= 0:
		code = http.StatusRequestHeaderFieldsTooLarge
	case errors.Is(err, io.EOF), isClosedConnError(err):
		p.log.Debug("connection closed while reading request", "error", err)
		return errClose
	case isTimeout(err):
		p.log.Debug("timed out reading request", "error", err)
		return errClose
	default:
		code = http.StatusBadRequest
	}

	p.log.Debug("invalid request", "status", code, "error", err)
	p.metrics.error("client_protocol")

	if p.config.WriteTimeout > 0 {
		p.conn.SetWriteDeadline(time.Now().Add(p.config.WriteTimeout)) //nolint:errcheck // best effort
	}
	fmt.Fprintf(p.conn, "HTTP/1.1 %d %s\r\nContent-Type: text/plain; charset=utf-8\r\n%s: client_protocol\r\nConnection: close\r\n\r\n%s\n",
		code, http.StatusText(code), ErrorHeader, http.StatusText(code))

	return errClose
}

func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

func (p *proxyConn) handle(ctx context.Context) error {
	req, err := p.readRequest(ctx)
	if err != nil {
		return p.readError(err)
	}
	defer req.Body.Close()

	r, err := p.route(req)
	p.metrics.request(r.String())
	if err != nil {
		p.log.Debug("rejected request", "method", req.Method, "uri", req.RequestURI, "error", err)
		return p.writeErrorResponse(req, err)
	}

	switch r {
	case routeHealth:
		res := newResponse(req, http.StatusOK, "OK")
		res.Header.Set("Content-Type", "text/plain; charset=utf-8")
		return p.writeResponse(res)
	case routeVersion:
		b, _ := json.Marshal(version.Get()) //nolint:errchkjson // Info is always marshallable
		res := newResponse(req, http.StatusOK, string(b))
		res.Header.Set("Content-Type", "application/json")
		return p.writeResponse(res)
	default:
		return p.serve(req, r)
	}
}

type route int

const (
	routeInvalid route = iota
	routeForward
	routeDirectForward
	routeConnect
	routeDirectConnect
	routeHealth
	routeVersion
)

func (r route) String() string {
	return [...]string{"invalid", "forward", "direct_forward", "connect", "direct_connect", "healthz", "version"}[r]
}

// route classifies a request by its method and request target.
func (p *Proxy) route(req *http.Request) (route, error) {
	if req.Method == http.MethodConnect {
		if err := validateConnectTarget(req); err != nil {
			return routeInvalid, err
		}
		if p.config.DirectAccess.Match(req.URL.Host) {
			return routeDirectConnect, nil
		}
		return routeConnect, nil
	}

	if req.URL.IsAbs() {
		if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
			return routeInvalid, badRequest("unsupported scheme " + strconv.Quote(req.URL.Scheme))
		}
		if req.URL.Host == "" {
			return routeInvalid, badRequest("missing host")
		}
		if p.config.DirectAccess.Match(req.URL.Host + req.URL.Path) {
			return routeDirectForward, nil
		}
		return routeForward, nil
	}

	if req.Method == http.MethodGet || req.Method == http.MethodHead {
		switch req.URL.Path {
		case "/healthz":
			return routeHealth, nil
		case "/version":
			return routeVersion, nil
		}
	}

	return routeInvalid, badRequest("origin-form request target")
}

// validateConnectTarget requires an authority-form target with a non-empty host and a numeric port.
func validateConnectTarget(req *http.Request) error {
	target := req.URL.Host
	if target == "" || req.URL.Path != "" || req.URL.Scheme != "" {
		return badRequest("CONNECT target must be host:port")
	}
	host, port, err := net.SplitHostPort(target)
	if err != nil {
		return badRequest("CONNECT target must be host:port")
	}
	if host == "" || !httpguts.ValidHostHeader(target) {
		return badRequest("invalid CONNECT host")
	}
	if !isPort(port) {
		return badRequest("invalid CONNECT port")
	}
	return nil
}

func (p *proxyConn) writeErrorResponse(req *http.Request, err error) error {
	res, label := errorResponse(req, err)
	p.metrics.error(label)

	var cpe *ClientProtocolError
	if req.Method == http.MethodConnect || errors.As(err, &cpe) {
		res.Close = true
	}
	return p.writeResponse(res)
}

func (p *proxyConn) writeResponse(res *http.Response) error {
	req := res.Request

	if p.config.WriteTimeout > 0 {
		if err := p.conn.SetWriteDeadline(time.Now().Add(p.config.WriteTimeout)); err != nil {
			p.log.Debug("can't set write deadline", "error", err)
		}
		defer func() {
			if err := p.conn.SetWriteDeadline(time.Time{}); err != nil {
				p.log.Debug("can't clear write deadline", "error", err)
			}
		}()
	}

	if req.ProtoAtLeast(1, 1) {
		res.Proto, res.ProtoMajor, res.ProtoMinor = "HTTP/1.1", 1, 1
	} else {
		res.Proto, res.ProtoMajor, res.ProtoMinor = "HTTP/1.0", 1, 0
		if res.ContentLength < 0 {
			res.Close = true
		}
	}
	if req.Close || p.closing.Load() || !bodyConsumed(req) {
		res.Close = true
	}
	if res.Close {
		res.Header.Add("Connection", "close")
	}

	exchangeFrom(req.Context()).wrote(res)

	var err error
	switch {
	case isHeaderOnly(res):
		// The http package is misbehaving when writing a HEAD response.
		// See https://github.com/golang/go/issues/62015 for details.
		// This works around the issue by writing the response manually.
		err = writeHeaderOnlyResponse(p.bw, res)
	case res.ContentLength < 0:
		// Relay chunks as they arrive.
		err = res.Write(&flushWriter{p.bw})
	default:
		err = res.Write(p.bw)
	}
	if err != nil {
		p.bw.Flush() // flush any remaining data
	} else {
		err = p.bw.Flush()
	}

	if err != nil {
		if isClosedConnError(err) {
			p.log.Debug("connection closed prematurely while writing response", "error", err)
		} else {
			p.log.Info("got error while writing response", "error", err)
		}
		return errClose
	}

	if res.Close {
		return errClose
	}
	return nil
}

func isHeaderOnly(res *http.Response) bool {
	return res.Request.Method == http.MethodHead ||
		res.StatusCode == http.StatusNoContent ||
		res.StatusCode == http.StatusNotModified ||
		(res.StatusCode >= 100 && res.StatusCode < 200)
}

// writeHeaderOnlyResponse writes the status line and header of res to w.
func writeHeaderOnlyResponse(w io.Writer, res *http.Response) error {
	text := res.Status
	if text == "" {
		text = http.StatusText(res.StatusCode)
		if text == "" {
			text = "status code " + strconv.Itoa(res.StatusCode)
		}
	} else {
		text = strings.TrimPrefix(text, strconv.Itoa(res.StatusCode)+" ")
	}

	if _, err := fmt.Fprintf(w, "HTTP/%d.%d %03d %s\r\n", res.ProtoMajor, res.ProtoMinor, res.StatusCode, text); err != nil {
		return err
	}

	h := res.Header.Clone()
	if res.ContentLength > 0 && h.Get("Content-Length") == "" && res.Request.Method == http.MethodHead {
		h.Set("Content-Length", strconv.FormatInt(res.ContentLength, 10))
	}
	if len(res.Trailer) > 0 {
		h.Set("Trailer", strings.Join(maps.Keys(res.Trailer), ", "))
	}
	if err := h.Write(w); err != nil {
		return err
	}

	_, err := io.WriteString(w, "\r\n")
	return err
}

// flushWriter flushes after every write so that chunks of a streamed body reach the client immediately.
type flushWriter struct {
	bw *bufio.Writer
}

func (w *flushWriter) Write(p []byte) (int, error) {
	n, err := w.bw.Write(p)
	if err != nil {
		return n, err
	}
	return n, w.bw.Flush()
}

// trackedBody records whether the request body was read to the end.
// The onEOF function is called once, when the end of the body is reached.
type trackedBody struct {
	io.ReadCloser
	eof   atomic.Bool
	onEOF func()
}

func (b *trackedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if errors.Is(err, io.EOF) && b.eof.CompareAndSwap(false, true) && b.onEOF != nil {
		b.onEOF()
	}
	return n, err
}

// bodyConsumed reports whether the next request can be read from the connection.
func bodyConsumed(req *http.Request) bool {
	if b, ok := req.Body.(*trackedBody); ok {
		return b.eof.Load()
	}
	return true
}
