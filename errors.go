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
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"

	"github.com/saucelabs/headless/limiter"
	"github.com/saucelabs/headless/upstream"
)

// ErrorHeader is set on error responses generated by the proxy, its value is the error category.
const ErrorHeader = "X-Headless-Error"

var errClose = errors.New("closing connection")

// ClientProtocolError is a request that cannot be served as sent by the client.
type ClientProtocolError struct {
	StatusCode int
	Err        error
}

func (e *ClientProtocolError) Error() string {
	return "client protocol error: " + e.Err.Error()
}

func (e *ClientProtocolError) Unwrap() error {
	return e.Err
}

func badRequest(msg string) error {
	return &ClientProtocolError{
		StatusCode: http.StatusBadRequest,
		Err:        errors.New(msg),
	}
}

type errorHandler func(error) (code int, msg, label string)

var errorHandlers = []errorHandler{ //nolint:gochecknoglobals // read-only
	handleClientProtocolError,
	handleCapacityExceeded,
	handleUpstreamError,
	handleTimeout,
	handleNetError,
}

// errorStatus maps err to a status code, a generic message and a metric label.
// The message never contains upstream details or credentials.
func errorStatus(err error) (code int, msg, label string) {
	for _, h := range errorHandlers {
		code, msg, label = h(err)
		if code != 0 {
			return
		}
	}
	return http.StatusBadGateway, "Upstream request failed", "upstream_error"
}

func handleClientProtocolError(err error) (code int, msg, label string) {
	var cpe *ClientProtocolError
	if errors.As(err, &cpe) {
		code = cpe.StatusCode
		msg = http.StatusText(code)
		label = "client_protocol"
	}
	return
}

func handleCapacityExceeded(err error) (code int, msg, label string) {
	if errors.Is(err, limiter.ErrCapacityExceeded) {
		code = http.StatusServiceUnavailable
		msg = "Too many concurrent requests"
		label = "capacity_exceeded"
	}
	return
}

func handleUpstreamError(err error) (code int, msg, label string) {
	var uerr *upstream.Error
	if !errors.As(err, &uerr) {
		return
	}

	switch uerr.Kind {
	case upstream.AuthKind:
		code = http.StatusForbidden
		msg = "Upstream rejected the credentials"
	case upstream.CapacityKind:
		code = http.StatusServiceUnavailable
		msg = "Upstream capacity exceeded"
	case upstream.TimeoutKind:
		code = http.StatusGatewayTimeout
		msg = "Upstream timed out"
	case upstream.BadRequestKind:
		code = http.StatusBadRequest
		msg = "Upstream rejected the request"
	default:
		code = http.StatusBadGateway
		msg = "Upstream request failed"
	}
	label = "upstream_" + uerr.Kind.String()

	return
}

func handleTimeout(err error) (code int, msg, label string) {
	var nerr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
		code = http.StatusGatewayTimeout
		msg = "Timed out connecting to upstream"
		label = "timeout"
	}
	return
}

func handleNetError(err error) (code int, msg, label string) {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		code = http.StatusBadGateway
		msg = "Failed to connect to upstream"
		label = "net_" + opErr.Op
	}
	return
}

// errorResponse creates a text/plain response for err.
func errorResponse(req *http.Request, err error) (*http.Response, string) {
	code, msg, label := errorStatus(err)

	res := newResponse(req, code, msg+"\n")
	res.Header.Set(ErrorHeader, label)
	res.Header.Set("Content-Type", "text/plain; charset=utf-8")

	return res, label
}

// newResponse returns a response for req with the given body.
func newResponse(req *http.Request, code int, body string) *http.Response {
	res := &http.Response{
		Status:        strconv.Itoa(code) + " " + http.StatusText(code),
		StatusCode:    code,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header),
		Body:          http.NoBody,
		ContentLength: int64(len(body)),
		Request:       req,
	}
	if body != "" && (req == nil || req.Method != http.MethodHead) {
		res.Body = io.NopCloser(strings.NewReader(body))
	}
	return res
}

// isClosedConnError reports whether err is an error from use of a closed network connection.
func isClosedConnError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	return strings.Contains(err.Error(), "use of closed network connection")
}
