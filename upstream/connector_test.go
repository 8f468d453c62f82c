// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package upstream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/saucelabs/headless/log"
	"github.com/saucelabs/headless/retry"
)

const (
	testAPIKey = "apikey"
	// base64("apikey:")
	testAuth = "Basic YXBpa2V5Og=="
)

func newTestConnector(t *testing.T, proxy string, mod func(*Config)) *Connector {
	t.Helper()

	u, err := url.Parse(proxy)
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.ProxyURL = u
	cfg.APIKey = testAPIKey
	if mod != nil {
		mod(cfg)
	}

	c, err := New(cfg, nil, log.NopLogger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.CloseIdleConnections)
	return c
}

func TestNormalizeHeaderName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"profile", "X-Crawlera-Profile"},
		{"PROFILE", "X-Crawlera-Profile"},
		{"x-Crawlera-PROFILE", "X-Crawlera-Profile"},
		{"X-Crawlera-Profile", "X-Crawlera-Profile"},
		{"cookies", "X-Crawlera-Cookies"},
		{"profile-pass", "X-Crawlera-Profile-Pass"},
	}

	for _, tc := range tests {
		if got := NormalizeHeaderName(tc.in); got != tc.want {
			t.Errorf("NormalizeHeaderName(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Config)
		ok   bool
	}{
		{"ok", func(c *Config) {}, true},
		{"no key", func(c *Config) { c.APIKey = "" }, false},
		{"socks", func(c *Config) { c.ProxyURL = &url.URL{Scheme: "socks5", Host: "localhost:1080"} }, false},
		{"no port", func(c *Config) { c.ProxyURL = &url.URL{Scheme: "http", Host: "localhost"} }, false},
		{"userinfo", func(c *Config) { c.ProxyURL = &url.URL{Scheme: "http", Host: "localhost:1", User: url.User("x")} }, false},
	}

	for i := range tests {
		tc := &tests[i]
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.APIKey = testAPIKey
			tc.mod(cfg)
			if err := cfg.Validate(); (err == nil) != tc.ok {
				t.Fatalf("Validate()=%v", err)
			}
		})
	}
}

func TestRoundTripInjectsHeaders(t *testing.T) {
	for _, mode := range []AuthMode{HeaderAuth, URLAuth} {
		t.Run(mode.String(), func(t *testing.T) {
			var got http.Header
			up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.Header.Clone()
				if !r.URL.IsAbs() {
					t.Errorf("expected absolute-form request, got %s", r.RequestURI)
				}
				w.Header().Set(DefaultSessionHeader, "1234")
				w.WriteHeader(http.StatusTeapot)
				io.WriteString(w, "body") //nolint:errcheck // test
			}))
			defer up.Close()

			c := newTestConnector(t, up.URL, func(cfg *Config) {
				cfg.AuthMode = mode
				cfg.SetHeader("profile", "desktop")
				cfg.SetHeader("cookies", "disable")
			})

			req := httptest.NewRequest(http.MethodGet, "http://example.com/path", http.NoBody)
			req.Header.Set("User-Agent", "Chrome")
			req.Header.Set("Accept-Language", "en")
			req.Header.Set("X-Custom", "1")

			res, err := c.RoundTrip(req, "create")
			if err != nil {
				t.Fatal(err)
			}
			defer res.Body.Close()

			if res.StatusCode != http.StatusTeapot {
				t.Fatalf("status=%d", res.StatusCode)
			}
			b, _ := io.ReadAll(res.Body)
			if string(b) != "body" {
				t.Fatalf("body=%q", b)
			}
			if r := c.Reply(res.Header); r.SessionID != "1234" {
				t.Fatalf("reply=%+v", r)
			}
			if err := c.Check(res); err != nil {
				t.Fatalf("target response reported as failure: %v", err)
			}

			want := map[string]string{
				"Proxy-Authorization": testAuth,
				"X-Crawlera-Profile":  "desktop",
				"X-Crawlera-Cookies":  "disable",
				"X-Crawlera-Session":  "create",
				"X-Custom":            "1",
				"User-Agent":          "",
				"Accept-Language":     "",
			}
			for k, v := range want {
				if diff := cmp.Diff(v, got.Get(k)); diff != "" {
					t.Errorf("header %s mismatch (-want +got):\n%s", k, diff)
				}
			}
			if got.Get(DefaultClientHeader) == "" {
				t.Errorf("missing %s", DefaultClientHeader)
			}
			if req.Header.Get("X-Crawlera-Session") != "" {
				t.Error("request passed to RoundTrip must not be modified")
			}
		})
	}
}

func TestCheck(t *testing.T) {
	c := newTestConnector(t, "http://localhost:1", nil)

	tests := []struct {
		name   string
		status int
		code   string
		want   ErrorKind
		class  retry.Class
	}{
		{"target 503", http.StatusServiceUnavailable, "", 0, retry.Unknown},
		{"target 404", http.StatusNotFound, "", 0, retry.Unknown},
		{"auth", http.StatusProxyAuthRequired, "bad_proxy_auth", AuthKind, retry.Permanent},
		{"407 without code", http.StatusProxyAuthRequired, "", AuthKind, retry.Permanent},
		{"session", http.StatusBadRequest, "bad_session_id", SessionKind, retry.Transient},
		{"no slaves", http.StatusServiceUnavailable, "noslaves", TransientKind, retry.Transient},
		{"banned", http.StatusServiceUnavailable, "banned", TransientKind, retry.Transient},
		{"timeout", http.StatusGatewayTimeout, "timeout", TimeoutKind, retry.Transient},
		{"too many", http.StatusTooManyRequests, "too_many_conns", CapacityKind, retry.Permanent},
		{"bad uri", http.StatusBadRequest, "bad_uri", BadRequestKind, retry.Permanent},
		{"unknown 502", http.StatusBadGateway, "something", TransientKind, retry.Transient},
		{"unknown 400", http.StatusBadRequest, "something", BadRequestKind, retry.Permanent},
	}

	for i := range tests {
		tc := &tests[i]
		t.Run(tc.name, func(t *testing.T) {
			res := &http.Response{StatusCode: tc.status, Header: http.Header{}}
			if tc.code != "" {
				res.Header.Set(DefaultErrorHeader, tc.code)
			}
			err := c.Check(res)
			if tc.want == 0 {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				return
			}
			var uerr *Error
			if !errors.As(err, &uerr) {
				t.Fatalf("got %v, want *Error", err)
			}
			if uerr.Kind != tc.want {
				t.Fatalf("kind=%s, want %s", uerr.Kind, tc.want)
			}
			if got := retry.Classify(err); got != tc.class {
				t.Fatalf("class=%s, want %s", got, tc.class)
			}
		})
	}
}

func TestRoundTripHTTPSTunnelPerSession(t *testing.T) {
	origin := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok") //nolint:errcheck // test
	}))
	defer origin.Close()

	var (
		mu       sync.Mutex
		sessions []string
	)
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodConnect {
			t.Errorf("method=%s", r.Method)
			return
		}
		mu.Lock()
		sessions = append(sessions, r.Header.Get(DefaultSessionHeader))
		mu.Unlock()

		dst, err := net.Dial("tcp", origin.Listener.Addr().String())
		if err != nil {
			t.Error(err)
			return
		}
		defer dst.Close()

		conn, brw, err := w.(http.Hijacker).Hijack()
		if err != nil {
			t.Error(err)
			return
		}
		defer conn.Close()
		brw.WriteString("HTTP/1.1 200 OK\r\n\r\n")
		brw.Flush()

		go io.Copy(dst, brw) //nolint:errcheck // splice
		io.Copy(conn, dst)   //nolint:errcheck // splice
	}))
	defer up.Close()

	c := newTestConnector(t, up.URL, func(cfg *Config) {
		cfg.InsecureSkipVerify = true
	})

	for _, s := range []string{"s1", "s2"} {
		req := httptest.NewRequest(http.MethodGet, "https://example.com/", http.NoBody)
		res, err := c.RoundTrip(req, s)
		if err != nil {
			t.Fatal(err)
		}
		b, _ := io.ReadAll(res.Body)
		res.Body.Close()
		if string(b) != "ok" {
			t.Fatalf("body=%q", b)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]string{"s1", "s2"}, sessions); diff != "" {
		t.Fatalf("CONNECT sessions mismatch (-want +got):\n%s", diff)
	}
}

// connectHandler serves CONNECT requests, it replies with status and echoes the tunnel on success.
func connectHandler(t *testing.T, status int, hdr http.Header, seen chan<- http.Header) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodConnect {
			t.Errorf("method=%s", r.Method)
			return
		}
		seen <- r.Header.Clone()

		conn, brw, err := w.(http.Hijacker).Hijack()
		if err != nil {
			t.Error(err)
			return
		}
		defer conn.Close()

		fmt.Fprintf(brw, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
		hdr.Write(brw) //nolint:errcheck // test
		brw.WriteString("Content-Length: 0\r\n\r\n")
		brw.Flush()

		if status/100 == 2 {
			io.Copy(conn, brw) //nolint:errcheck // echo
		}
	})
}

func TestConnect(t *testing.T) {
	seen := make(chan http.Header, 1)
	hdr := http.Header{}
	hdr.Set(DefaultSessionHeader, "5678")
	up := httptest.NewServer(connectHandler(t, http.StatusOK, hdr, seen))
	defer up.Close()

	c := newTestConnector(t, up.URL, nil)

	conn, reply, err := c.Connect(context.Background(), "example.com:443", "42")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	h := <-seen
	if h.Get("Proxy-Authorization") != testAuth {
		t.Errorf("Proxy-Authorization=%q", h.Get("Proxy-Authorization"))
	}
	if h.Get(DefaultSessionHeader) != "42" {
		t.Errorf("session=%q", h.Get(DefaultSessionHeader))
	}
	if reply.SessionID != "5678" {
		t.Errorf("reply=%+v", reply)
	}

	if _, err := io.WriteString(conn, "ping\n"); err != nil {
		t.Fatal(err)
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if line != "ping\n" {
		t.Fatalf("echo=%q", line)
	}
}

func TestConnectRejected(t *testing.T) {
	seen := make(chan http.Header, 1)
	hdr := http.Header{}
	hdr.Set(DefaultErrorHeader, "bad_proxy_auth")
	up := httptest.NewServer(connectHandler(t, http.StatusProxyAuthRequired, hdr, seen))
	defer up.Close()

	c := newTestConnector(t, up.URL, nil)

	conn, reply, err := c.Connect(context.Background(), "example.com:443", "")
	if conn != nil {
		t.Fatal("conn is not nil")
	}
	<-seen

	var uerr *Error
	if !errors.As(err, &uerr) {
		t.Fatalf("got %v", err)
	}
	if uerr.Kind != AuthKind {
		t.Fatalf("kind=%s", uerr.Kind)
	}
	if reply.ErrorCode != "bad_proxy_auth" {
		t.Fatalf("reply=%+v", reply)
	}
	if retry.Classify(err) != retry.Permanent {
		t.Fatal("auth rejection must be permanent")
	}
}

func TestDeleteSession(t *testing.T) {
	type call struct {
		Method, Path, User, Pass string
	}
	calls := make(chan call, 1)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, _ := r.BasicAuth()
		calls <- call{r.Method, r.URL.Path, u, p}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer api.Close()

	apiURL, _ := url.Parse(api.URL)
	c := newTestConnector(t, "http://localhost:1", func(cfg *Config) { cfg.APIURL = apiURL })

	if err := c.DeleteSession(context.Background(), "abc"); err != nil {
		t.Fatal(err)
	}
	want := call{http.MethodDelete, "/sessions/abc", testAPIKey, ""}
	if diff := cmp.Diff(want, <-calls); diff != "" {
		t.Fatalf("call mismatch (-want +got):\n%s", diff)
	}
}

func TestDeleteSessionError(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer api.Close()

	apiURL, _ := url.Parse(api.URL)
	c := newTestConnector(t, "http://localhost:1", func(cfg *Config) { cfg.APIURL = apiURL })

	if err := c.DeleteSession(context.Background(), "abc"); err == nil {
		t.Fatal("expected error")
	}
}
