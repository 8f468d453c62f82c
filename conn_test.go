// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package headless

import (
	"bufio"
	"bytes"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/saucelabs/headless/ruleset"
)

func readTestRequest(t *testing.T, raw string) *http.Request {
	t.Helper()
	req, err := http.ReadRequest(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("read %q: %v", raw, err)
	}
	return req
}

func TestRoute(t *testing.T) {
	direct, err := ruleset.NewRegexpMatcher([]*regexp.Regexp{
		regexp.MustCompile(`^internal\.example\.com`),
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	p := &Proxy{config: ProxyConfig{DirectAccess: direct}}

	tests := []struct {
		name  string
		raw   string
		route route
		err   bool
	}{
		{
			name:  "forward",
			raw:   "GET http://example.com/foo HTTP/1.1\r\nHost: example.com\r\n\r\n",
			route: routeForward,
		},
		{
			name:  "forward https",
			raw:   "GET https://example.com/foo HTTP/1.1\r\nHost: example.com\r\n\r\n",
			route: routeForward,
		},
		{
			name:  "direct forward",
			raw:   "GET http://internal.example.com/foo HTTP/1.1\r\nHost: internal.example.com\r\n\r\n",
			route: routeDirectForward,
		},
		{
			name:  "connect",
			raw:   "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n",
			route: routeConnect,
		},
		{
			name:  "direct connect",
			raw:   "CONNECT internal.example.com:443 HTTP/1.1\r\nHost: internal.example.com:443\r\n\r\n",
			route: routeDirectConnect,
		},
		{
			name:  "healthz",
			raw:   "GET /healthz HTTP/1.1\r\nHost: localhost\r\n\r\n",
			route: routeHealth,
		},
		{
			name:  "version head",
			raw:   "HEAD /version HTTP/1.1\r\nHost: localhost\r\n\r\n",
			route: routeVersion,
		},
		{
			name: "healthz post",
			raw:  "POST /healthz HTTP/1.1\r\nHost: localhost\r\nContent-Length: 0\r\n\r\n",
			err:  true,
		},
		{
			name: "origin form",
			raw:  "GET /foo HTTP/1.1\r\nHost: example.com\r\n\r\n",
			err:  true,
		},
		{
			name: "ftp",
			raw:  "GET ftp://example.com/foo HTTP/1.1\r\nHost: example.com\r\n\r\n",
			err:  true,
		},
		{
			name: "connect no port",
			raw:  "CONNECT example.com HTTP/1.1\r\nHost: example.com\r\n\r\n",
			err:  true,
		},
	}

	for i := range tests {
		tc := tests[i]
		t.Run(tc.name, func(t *testing.T) {
			r, err := p.route(readTestRequest(t, tc.raw))
			if tc.err {
				var cpe *ClientProtocolError
				if !errors.As(err, &cpe) || cpe.StatusCode != http.StatusBadRequest {
					t.Fatalf("expected bad request, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if r != tc.route {
				t.Errorf("route=%s, want %s", r, tc.route)
			}
		})
	}
}

func TestValidateConnectTarget(t *testing.T) {
	tests := []struct {
		target string
		ok     bool
	}{
		{"example.com:443", true},
		{"10.0.0.1:8080", true},
		{"[::1]:443", true},
		{"example.com:0", false},
		{"example.com:https", false},
		{"example.com:70000", false},
		{":443", false},
	}

	for _, tc := range tests {
		req := readTestRequest(t, "CONNECT "+tc.target+" HTTP/1.1\r\nHost: "+tc.target+"\r\n\r\n")
		err := validateConnectTarget(req)
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.target, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expected error", tc.target)
		}
	}
}

func TestRemoveHopByHopHeaders(t *testing.T) {
	h := http.Header{
		"Connection":          {"X-Foo, x-bar", "keep-alive"},
		"Keep-Alive":          {"timeout=5"},
		"Proxy-Authorization": {"Basic Zm9vOmJhcg=="},
		"Proxy-Connection":    {"keep-alive"},
		"Te":                  {"trailers"},
		"Upgrade":             {"websocket"},
		"X-Foo":               {"1"},
		"X-Bar":               {"2"},
		"X-Keep":              {"3"},
		"Accept":              {"*/*"},
	}
	removeHopByHopHeaders(h)

	want := http.Header{
		"X-Keep": {"3"},
		"Accept": {"*/*"},
	}
	if diff := cmp.Diff(want, h); diff != "" {
		t.Errorf("unexpected headers (-want +got):\n%s", diff)
	}
}

func TestWriteHeaderOnlyResponse(t *testing.T) {
	req := readTestRequest(t, "HEAD http://example.com/ HTTP/1.1\r\nHost: example.com\r\n\r\n")

	res := newResponse(req, http.StatusOK, "hello")
	res.Header.Set("X-Foo", "bar")

	if !isHeaderOnly(res) {
		t.Fatal("HEAD response must be header only")
	}

	var b bytes.Buffer
	if err := writeHeaderOnlyResponse(&b, res); err != nil {
		t.Fatal(err)
	}

	got, err := http.ReadResponse(bufio.NewReader(&b), req)
	if err != nil {
		t.Fatal(err)
	}
	if got.StatusCode != http.StatusOK {
		t.Errorf("status=%d", got.StatusCode)
	}
	if v := got.Header.Get("Content-Length"); v != "5" {
		t.Errorf("Content-Length=%q, want 5", v)
	}
	if v := got.Header.Get("X-Foo"); v != "bar" {
		t.Errorf("X-Foo=%q, want bar", v)
	}
}

func TestIsHeaderOnly(t *testing.T) {
	get := readTestRequest(t, "GET http://example.com/ HTTP/1.1\r\nHost: example.com\r\n\r\n")

	tests := []struct {
		code int
		want bool
	}{
		{http.StatusOK, false},
		{http.StatusNoContent, true},
		{http.StatusNotModified, true},
		{http.StatusContinue, true},
		{http.StatusNotFound, false},
	}
	for _, tc := range tests {
		res := newResponse(get, tc.code, "")
		if got := isHeaderOnly(res); got != tc.want {
			t.Errorf("isHeaderOnly(%d)=%v, want %v", tc.code, got, tc.want)
		}
	}
}
