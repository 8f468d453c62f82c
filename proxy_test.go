// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package headless

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/saucelabs/headless/header"
	"github.com/saucelabs/headless/limiter"
	"github.com/saucelabs/headless/log"
	"github.com/saucelabs/headless/retry"
	"github.com/saucelabs/headless/ruleset"
	"github.com/saucelabs/headless/session"
	"github.com/saucelabs/headless/upstream"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	testAPIKey = "apikey"
	// base64("apikey:")
	testAuth = "Basic YXBpa2V5Og=="
)

// smartProxy is a fake smart proxy service.
// It serves absolute-form requests by path and echoes CONNECT tunnels.
type smartProxy struct {
	mu       sync.Mutex
	attempts map[string]int
	sessions []string

	entered chan struct{}
	block   chan struct{}
}

func newSmartProxy() *smartProxy {
	return &smartProxy{
		attempts: make(map[string]int),
		entered:  make(chan struct{}, 1),
		block:    make(chan struct{}),
	}
}

func (f *smartProxy) attemptsFor(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[key]
}

func (f *smartProxy) seenSessions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sessions...)
}

func (f *smartProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Path
	if r.Method == http.MethodConnect {
		key = r.Host
	}

	sess := r.Header.Get(upstream.DefaultSessionHeader)
	f.mu.Lock()
	f.attempts[key]++
	n := f.attempts[key]
	f.sessions = append(f.sessions, sess)
	f.mu.Unlock()

	if r.Header.Get("Proxy-Authorization") != testAuth {
		w.Header().Set(upstream.DefaultErrorHeader, "bad_proxy_auth")
		w.WriteHeader(http.StatusProxyAuthRequired)
		return
	}

	if sess == session.CreateValue {
		w.Header().Set(upstream.DefaultSessionHeader, "s1")
	}

	if r.Method == http.MethodConnect {
		f.serveConnect(w, r)
		return
	}

	switch r.URL.Path {
	case "/ok":
		w.Header().Set("X-Seen-Client", r.Header.Get(upstream.DefaultClientHeader))
		w.Header().Set("X-Seen-Hop", r.Header.Get("X-Hop"))
		w.Header().Set("X-Seen-Proxy-Connection", r.Header.Get("Proxy-Connection"))
		w.Header().Set("X-Seen-User-Agent", r.Header.Get("User-Agent"))
		w.Header().Set("X-Seen-Strip", r.Header.Get("X-Strip"))
		io.WriteString(w, "hello")
	case "/flaky":
		if n <= 2 {
			w.Header().Set(upstream.DefaultErrorHeader, "noslaves")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, "recovered")
	case "/down":
		w.Header().Set(upstream.DefaultErrorHeader, "noslaves")
		w.WriteHeader(http.StatusServiceUnavailable)
	case "/target-503":
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, "target")
	case "/block":
		f.entered <- struct{}{}
		<-f.block
		io.WriteString(w, "unblocked")
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *smartProxy) serveConnect(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.Host, "banned.") {
		w.Header().Set(upstream.DefaultErrorHeader, "noslaves")
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if strings.HasPrefix(r.Host, "block.") {
		f.entered <- struct{}{}
		<-f.block
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	conn, brw, err := hj.Hijack()
	if err != nil {
		return
	}
	defer conn.Close()

	fmt.Fprint(conn, "HTTP/1.1 200 OK\r\n")
	if v := w.Header().Get(upstream.DefaultSessionHeader); v != "" {
		fmt.Fprintf(conn, "%s: %s\r\n", upstream.DefaultSessionHeader, v)
	}
	fmt.Fprint(conn, "\r\n")

	io.Copy(conn, brw) //nolint:errcheck // echo until the client closes
}

type testProxyConfig struct {
	proxy    *ProxyConfig
	upstream *upstream.Config
	limiter  *limiter.Config
	sessions *session.Config
	retry    *retry.Policy
}

type testProxy struct {
	*Proxy
	fake   *smartProxy
	client *http.Client
}

func newTestProxy(t *testing.T, mod func(*testProxyConfig)) *testProxy {
	t.Helper()

	fake := newSmartProxy()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	cfg := testProxyConfig{
		proxy:    DefaultProxyConfig(),
		upstream: upstream.DefaultConfig(),
		retry: &retry.Policy{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			Multiplier:     2,
			Budget:         5 * time.Second,
		},
	}
	cfg.proxy.Addr = "127.0.0.1:0"
	cfg.upstream.ProxyURL = u
	cfg.upstream.APIKey = testAPIKey
	if mod != nil {
		mod(&cfg)
	}

	conn, err := upstream.New(cfg.upstream, nil, log.NopLogger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(conn.CloseIdleConnections)

	var lim *limiter.Limiter
	if cfg.limiter != nil {
		if lim, err = limiter.New(cfg.limiter); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	var (
		pool *session.Pool
		wg   sync.WaitGroup
	)
	if cfg.sessions != nil {
		if pool, err = session.NewPool(cfg.sessions, conn, log.NopLogger); err != nil {
			t.Fatal(err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Run(ctx) //nolint:errcheck // stops on cancel
		}()
	}

	p, err := NewProxy(cfg.proxy, conn, pool, lim, cfg.retry, nil, log.NopLogger)
	if err != nil {
		cancel()
		t.Fatal(err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Run(ctx)
	}()

	proxyURL := &url.URL{Scheme: "http", Host: p.Addr()}
	tr := &http.Transport{
		Proxy:             http.ProxyURL(proxyURL),
		DisableKeepAlives: true,
	}

	t.Cleanup(func() {
		tr.CloseIdleConnections()
		cancel()
		if err := <-errCh; err != nil {
			t.Errorf("proxy run: %v", err)
		}
		wg.Wait()
	})

	return &testProxy{
		Proxy:  p,
		fake:   fake,
		client: &http.Client{Transport: tr},
	}
}

func (tp *testProxy) get(t *testing.T, method, uri string, body io.Reader, h http.Header) (*http.Response, string) {
	t.Helper()

	req, err := http.NewRequest(method, uri, body) //nolint:noctx // test
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range h {
		req.Header[k] = v
	}
	res, err := tp.client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatal(err)
	}
	return res, string(b)
}

// dial opens a raw connection to the proxy and writes s.
func (tp *testProxy) dial(t *testing.T, s string) (net.Conn, *bufio.Reader) {
	t.Helper()

	conn, err := net.Dial("tcp", tp.Addr())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(10 * time.Second)) //nolint:errcheck // test

	if _, err := io.WriteString(conn, s); err != nil {
		t.Fatal(err)
	}
	return conn, bufio.NewReader(conn)
}

func TestProxyForward(t *testing.T) {
	tp := newTestProxy(t, func(c *testProxyConfig) {
		c.proxy.RequestHeaders = []header.Header{{Name: "X-Strip", Action: header.Remove}}
	})

	h := http.Header{
		"Connection":          {"X-Hop"},
		"X-Hop":               {"1"},
		"Proxy-Connection":    {"keep-alive"},
		"Proxy-Authorization": {"Basic Zm9vOmJhcg=="},
		"X-Strip":             {"secret"},
	}
	res, body := tp.get(t, http.MethodGet, "http://example.com/ok", nil, h)

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status=%d body=%q", res.StatusCode, body)
	}
	if body != "hello" {
		t.Errorf("body=%q, want hello", body)
	}

	want := map[string]string{
		"X-Seen-Client":           "headless/devel",
		"X-Seen-Hop":              "",
		"X-Seen-Proxy-Connection": "",
		"X-Seen-Strip":            "",
	}
	for k, v := range want {
		if got := res.Header.Get(k); got != v {
			t.Errorf("%s=%q, want %q", k, got, v)
		}
	}
	if got := res.Header.Get(ErrorHeader); got != "" {
		t.Errorf("unexpected %s=%q", ErrorHeader, got)
	}
}

func TestProxyForwardEmptyUserAgent(t *testing.T) {
	tp := newTestProxy(t, nil)

	// An empty User-Agent header makes the Go client omit it.
	res, _ := tp.get(t, http.MethodGet, "http://example.com/ok", nil, http.Header{"User-Agent": {""}})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", res.StatusCode)
	}
	if got := res.Header.Get("X-Seen-User-Agent"); got != "" {
		t.Errorf("User-Agent=%q, want empty", got)
	}
}

func TestProxyForwardSessions(t *testing.T) {
	tp := newTestProxy(t, func(c *testProxyConfig) {
		c.sessions = session.DefaultConfig()
	})

	for i := 0; i < 3; i++ {
		res, _ := tp.get(t, http.MethodGet, "http://example.com/ok", nil, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("status=%d", res.StatusCode)
		}
		if v := res.Header.Get(upstream.DefaultSessionHeader); v != "" {
			t.Fatalf("session header leaked to client: %q", v)
		}
	}

	got := tp.fake.seenSessions()
	want := []string{session.CreateValue, "s1", "s1"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("sessions=%v, want %v", got, want)
	}
}

func TestProxyRetryIdempotent(t *testing.T) {
	tp := newTestProxy(t, nil)

	res, body := tp.get(t, http.MethodGet, "http://example.com/flaky", nil, nil)
	if res.StatusCode != http.StatusOK || body != "recovered" {
		t.Fatalf("status=%d body=%q", res.StatusCode, body)
	}
	if n := tp.fake.attemptsFor("/flaky"); n != 3 {
		t.Errorf("attempts=%d, want 3", n)
	}
}

func TestProxyNoRetryWithBody(t *testing.T) {
	tp := newTestProxy(t, nil)

	res, _ := tp.get(t, http.MethodPost, "http://example.com/flaky", strings.NewReader("payload"), nil)
	if res.StatusCode != http.StatusBadGateway {
		t.Fatalf("status=%d, want %d", res.StatusCode, http.StatusBadGateway)
	}
	if got := res.Header.Get(ErrorHeader); got != "upstream_transient" {
		t.Errorf("%s=%q", ErrorHeader, got)
	}
	if n := tp.fake.attemptsFor("/flaky"); n != 1 {
		t.Errorf("attempts=%d, want 1", n)
	}
}

func TestProxyRetryExhausted(t *testing.T) {
	tp := newTestProxy(t, nil)

	res, body := tp.get(t, http.MethodGet, "http://example.com/down", nil, nil)
	if res.StatusCode != http.StatusBadGateway {
		t.Fatalf("status=%d, want %d", res.StatusCode, http.StatusBadGateway)
	}
	if strings.Contains(body, "noslaves") {
		t.Errorf("upstream error code leaked to client: %q", body)
	}
	if n := tp.fake.attemptsFor("/down"); n != 3 {
		t.Errorf("attempts=%d, want 3", n)
	}
}

func TestProxyTargetErrorPassThrough(t *testing.T) {
	tp := newTestProxy(t, nil)

	res, body := tp.get(t, http.MethodGet, "http://example.com/target-503", nil, nil)
	if res.StatusCode != http.StatusServiceUnavailable || body != "target" {
		t.Fatalf("status=%d body=%q", res.StatusCode, body)
	}
	if got := res.Header.Get(ErrorHeader); got != "" {
		t.Errorf("unexpected %s=%q", ErrorHeader, got)
	}
	if n := tp.fake.attemptsFor("/target-503"); n != 1 {
		t.Errorf("attempts=%d, want 1", n)
	}
}

func TestProxyAuthRejected(t *testing.T) {
	tp := newTestProxy(t, func(c *testProxyConfig) {
		c.upstream.APIKey = "wrong"
	})

	res, body := tp.get(t, http.MethodGet, "http://example.com/ok", nil, nil)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status=%d, want %d", res.StatusCode, http.StatusForbidden)
	}
	if got := res.Header.Get(ErrorHeader); got != "upstream_auth" {
		t.Errorf("%s=%q", ErrorHeader, got)
	}
	if strings.Contains(body, "wrong") {
		t.Errorf("credential leaked to client: %q", body)
	}
	if n := tp.fake.attemptsFor("/ok"); n != 1 {
		t.Errorf("attempts=%d, want 1", n)
	}
}

func TestProxyCapacityExceeded(t *testing.T) {
	tp := newTestProxy(t, func(c *testProxyConfig) {
		c.limiter = &limiter.Config{Capacity: 1, MaxWait: 50 * time.Millisecond}
	})

	type result struct {
		status int
		body   string
	}
	first := make(chan result, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodGet, "http://example.com/block", http.NoBody) //nolint:noctx // test
		res, err := tp.client.Do(req)
		if err != nil {
			first <- result{}
			return
		}
		defer res.Body.Close()
		b, _ := io.ReadAll(res.Body)
		first <- result{res.StatusCode, string(b)}
	}()

	select {
	case <-tp.fake.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first request did not reach upstream")
	}

	res, _ := tp.get(t, http.MethodGet, "http://example.com/ok", nil, nil)
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status=%d, want %d", res.StatusCode, http.StatusServiceUnavailable)
	}
	if got := res.Header.Get(ErrorHeader); got != "capacity_exceeded" {
		t.Errorf("%s=%q", ErrorHeader, got)
	}

	close(tp.fake.block)
	r := <-first
	if r.status != http.StatusOK || r.body != "unblocked" {
		t.Errorf("first request status=%d body=%q", r.status, r.body)
	}

	res, _ = tp.get(t, http.MethodGet, "http://example.com/ok", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Errorf("token not released, status=%d", res.StatusCode)
	}
}

func TestProxyClientGoneReleasesToken(t *testing.T) {
	tests := []struct {
		name    string
		request string
	}{
		{"forward", "GET http://example.com/block HTTP/1.1\r\nHost: example.com\r\n\r\n"},
		{"connect", "CONNECT block.example.com:443 HTTP/1.1\r\nHost: block.example.com:443\r\n\r\n"},
	}

	for i := range tests {
		tc := tests[i]
		t.Run(tc.name, func(t *testing.T) {
			tp := newTestProxy(t, func(c *testProxyConfig) {
				c.limiter = &limiter.Config{Capacity: 1, MaxWait: 2 * time.Second}
			})
			t.Cleanup(func() { close(tp.fake.block) })

			conn, _ := tp.dial(t, tc.request)
			select {
			case <-tp.fake.entered:
			case <-time.After(5 * time.Second):
				t.Fatal("request did not reach upstream")
			}
			conn.Close()

			res, body := tp.get(t, http.MethodGet, "http://example.com/ok", nil, nil)
			if res.StatusCode != http.StatusOK {
				t.Fatalf("token not released after client closed, status=%d error=%q", res.StatusCode, res.Header.Get(ErrorHeader))
			}
			if body != "hello" {
				t.Errorf("body=%q", body)
			}
			if n := tp.fake.attemptsFor("/ok"); n != 1 {
				t.Errorf("attempts=%d, want 1", n)
			}
		})
	}
}

func TestProxyConnectCapacity(t *testing.T) {
	const capacity = 2

	tp := newTestProxy(t, func(c *testProxyConfig) {
		c.limiter = &limiter.Config{Capacity: capacity, MaxWait: 200 * time.Millisecond}
	})

	const req = "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n"

	type tunnel struct {
		conn net.Conn
		br   *bufio.Reader
	}
	tunnels := make([]tunnel, 2*capacity)
	for i := range tunnels {
		conn, br := tp.dial(t, req)
		tunnels[i] = tunnel{conn, br}
	}

	var (
		open   []tunnel
		status = make(map[int]int)
	)
	for _, tn := range tunnels {
		res, err := http.ReadResponse(tn.br, &http.Request{Method: http.MethodConnect})
		if err != nil {
			t.Fatal(err)
		}
		status[res.StatusCode]++
		switch res.StatusCode {
		case http.StatusOK:
			open = append(open, tn)
		case http.StatusServiceUnavailable:
			if got := res.Header.Get(ErrorHeader); got != "capacity_exceeded" {
				t.Errorf("%s=%q", ErrorHeader, got)
			}
			res.Body.Close()
		}
	}
	if status[http.StatusOK] != capacity || status[http.StatusServiceUnavailable] != capacity {
		t.Fatalf("statuses=%v, want %d established and %d rejected", status, capacity, capacity)
	}
	if n := tp.limiter.InUse(); n != capacity {
		t.Errorf("in use=%d, want %d", n, capacity)
	}

	// Established tunnels still work while the limiter is full.
	io.WriteString(open[0].conn, "ping") //nolint:errcheck // checked by read
	buf := make([]byte, 4)
	if _, err := io.ReadFull(open[0].br, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "ping" {
		t.Fatalf("got %q, want ping", buf)
	}

	open[0].conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for {
		_, br := tp.dial(t, req)
		res, err := http.ReadResponse(br, &http.Request{Method: http.MethodConnect})
		if err != nil {
			t.Fatal(err)
		}
		if res.StatusCode == http.StatusOK {
			break
		}
		res.Body.Close()
		if time.Now().After(deadline) {
			t.Fatalf("token not released after tunnel closed, status=%d", res.StatusCode)
		}
	}
	if n := tp.limiter.InUse(); n != capacity {
		t.Errorf("in use=%d, want %d", n, capacity)
	}
}

func TestProxyHTTPMetrics(t *testing.T) {
	r := prometheus.NewPedanticRegistry()
	tp := newTestProxy(t, func(c *testProxyConfig) {
		c.proxy.PromNamespace = "test"
		c.proxy.PromRegistry = r
	})

	res, _ := tp.get(t, http.MethodGet, "http://example.com/flaky", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", res.StatusCode)
	}

	expected := `
# HELP test_http_requests_in_flight Current number of HTTP requests being served.
# TYPE test_http_requests_in_flight gauge
test_http_requests_in_flight{method="GET"} 0
# HELP test_http_requests_total Total number of HTTP requests processed.
# TYPE test_http_requests_total counter
test_http_requests_total{code="200",method="GET"} 1
# HELP test_http_upstream_attempts Number of upstream attempts per HTTP request.
# TYPE test_http_upstream_attempts summary
test_http_upstream_attempts_sum{method="GET"} 3
test_http_upstream_attempts_count{method="GET"} 1
`
	names := []string{"test_http_requests_in_flight", "test_http_requests_total", "test_http_upstream_attempts"}

	// Metrics are recorded after the response is written.
	var err error
	for deadline := time.Now().Add(5 * time.Second); time.Now().Before(deadline); time.Sleep(10 * time.Millisecond) {
		if err = testutil.GatherAndCompare(r, strings.NewReader(expected), names...); err == nil {
			return
		}
	}
	t.Fatal(err)
}

func TestProxyConnect(t *testing.T) {
	tp := newTestProxy(t, nil)

	// Bytes sent right after the CONNECT request must reach the tunnel.
	conn, br := tp.dial(t, "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\nping")

	established := "HTTP/1.1 200 Connection Established\r\n\r\n"
	buf := make([]byte, len(established))
	if _, err := io.ReadFull(br, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != established {
		t.Fatalf("got %q, want %q", buf, established)
	}

	buf = make([]byte, 4)
	if _, err := io.ReadFull(br, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "ping" {
		t.Fatalf("got %q, want ping", buf)
	}

	io.WriteString(conn, "pong") //nolint:errcheck // checked by read
	if _, err := io.ReadFull(br, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "pong" {
		t.Fatalf("got %q, want pong", buf)
	}

	conn.(*net.TCPConn).CloseWrite() //nolint:errcheck // test
	if _, err := br.ReadByte(); err != io.EOF {
		t.Errorf("expected EOF after half-close, got %v", err)
	}

	if n := tp.fake.attemptsFor("example.com:443"); n != 1 {
		t.Errorf("attempts=%d, want 1", n)
	}
}

func TestProxyConnectRejected(t *testing.T) {
	tp := newTestProxy(t, nil)

	_, br := tp.dial(t, "CONNECT banned.example.com:443 HTTP/1.1\r\nHost: banned.example.com:443\r\n\r\n")

	res, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()

	if res.StatusCode != http.StatusBadGateway {
		t.Errorf("status=%d, want %d", res.StatusCode, http.StatusBadGateway)
	}
	if !res.Close {
		t.Error("expected Connection: close")
	}
	if n := tp.fake.attemptsFor("banned.example.com:443"); n != 3 {
		t.Errorf("attempts=%d, want 3", n)
	}
}

func TestProxyConnectInvalidTarget(t *testing.T) {
	tp := newTestProxy(t, nil)

	_, br := tp.dial(t, "CONNECT example.com HTTP/1.1\r\nHost: example.com\r\n\r\n")

	res, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()

	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("status=%d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestProxyTunnelIdleTimeout(t *testing.T) {
	tp := newTestProxy(t, func(c *testProxyConfig) {
		c.proxy.TunnelIdleTimeout = 100 * time.Millisecond
	})

	_, br := tp.dial(t, "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n")

	res, err := http.ReadResponse(br, &http.Request{Method: http.MethodConnect})
	if err != nil {
		t.Fatal(err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", res.StatusCode)
	}

	start := time.Now()
	if _, err := br.ReadByte(); err == nil {
		t.Fatal("expected tunnel to be closed")
	}
	if d := time.Since(start); d > 5*time.Second {
		t.Errorf("tunnel closed after %s", d)
	}
}

func TestProxyLocalEndpoints(t *testing.T) {
	tp := newTestProxy(t, nil)

	base := "http://" + tp.Addr()
	c := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}

	res, err := c.Get(base + "/healthz") //nolint:noctx // test
	if err != nil {
		t.Fatal(err)
	}
	b, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK || string(b) != "OK" {
		t.Errorf("healthz status=%d body=%q", res.StatusCode, b)
	}

	res, err = c.Get(base + "/version") //nolint:noctx // test
	if err != nil {
		t.Fatal(err)
	}
	var v map[string]any
	err = json.NewDecoder(res.Body).Decode(&v)
	res.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := v["version"]; !ok {
		t.Errorf("version missing from %v", v)
	}

	res, err = c.Get(base + "/other") //nolint:noctx // test
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("origin-form status=%d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestProxyHeaderTooLarge(t *testing.T) {
	tp := newTestProxy(t, func(c *testProxyConfig) {
		c.proxy.MaxHeaderBytes = 1024
	})

	big := strings.Repeat("a", 64*1024)
	_, br := tp.dial(t, "GET http://example.com/ok HTTP/1.1\r\nHost: example.com\r\nX-Big: "+big+"\r\n\r\n")

	res, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()

	if res.StatusCode != http.StatusRequestHeaderFieldsTooLarge {
		t.Errorf("status=%d, want %d", res.StatusCode, http.StatusRequestHeaderFieldsTooLarge)
	}
}

func TestProxyMalformedRequest(t *testing.T) {
	tp := newTestProxy(t, nil)

	_, br := tp.dial(t, "GARBAGE\r\n\r\n")

	res, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()

	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("status=%d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestProxyDirectAccess(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "direct")
	}))
	defer origin.Close()

	tp := newTestProxy(t, func(c *testProxyConfig) {
		m, err := ruleset.NewRegexpMatcher([]*regexp.Regexp{regexp.MustCompile(`^127\.0\.0\.1:\d+/direct`)}, nil)
		if err != nil {
			t.Fatal(err)
		}
		c.proxy.DirectAccess = m
	})

	res, body := tp.get(t, http.MethodGet, origin.URL+"/direct", nil, nil)
	if res.StatusCode != http.StatusOK || body != "direct" {
		t.Fatalf("status=%d body=%q", res.StatusCode, body)
	}
	if n := tp.fake.attemptsFor("/direct"); n != 0 {
		t.Errorf("upstream attempts=%d, want 0", n)
	}

	tp.Close()
}
