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
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saucelabs/headless/dialvia"
	"github.com/saucelabs/headless/httplog"
	"github.com/saucelabs/headless/limiter"
	"github.com/saucelabs/headless/log"
	"github.com/saucelabs/headless/middleware"
	"github.com/saucelabs/headless/retry"
	"github.com/saucelabs/headless/session"
	"github.com/saucelabs/headless/upstream"
	"go.uber.org/multierr"
)

// Upstream sends requests and opens tunnels through the smart proxy service.
type Upstream interface {
	RoundTrip(req *http.Request, session string) (*http.Response, error)
	Connect(ctx context.Context, target, session string) (net.Conn, upstream.Reply, error)
	Reply(h http.Header) upstream.Reply
	Check(res *http.Response) error
	StripResponse(h http.Header)
}

var _ Upstream = (*upstream.Connector)(nil)

// Proxy is the client facing forward proxy.
type Proxy struct {
	config   ProxyConfig
	upstream Upstream
	sessions *session.Pool
	limiter  *limiter.Limiter
	retry    *retry.Policy
	direct   *http.Transport
	dial     dialvia.ContextDialerFunc
	log      log.StructuredLogger
	metrics  *proxyMetrics

	httpMetrics *middleware.Prometheus
	httpLog     middleware.Logger

	listener *Listener
	conns    sync.Map // net.Conn -> struct{}
	wg       sync.WaitGroup
	closing  atomic.Bool
}

// NewProxy creates a proxy and binds the listener.
// The session pool and the limiter are optional, nil disables sessions or the concurrency limit.
// If rp is nil the default retry policy is used.
// The dial function is used for direct access, if nil a Dialer with the default config is used.
// It is the caller's responsibility to call Close on the returned proxy if Run is not called.
func NewProxy(
	cfg *ProxyConfig,
	up Upstream,
	sp *session.Pool,
	lim *limiter.Limiter,
	rp *retry.Policy,
	dial dialvia.ContextDialerFunc,
	log log.StructuredLogger,
) (*Proxy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if up == nil {
		return nil, errors.New("upstream is required")
	}
	if rp == nil {
		rp = retry.DefaultPolicy()
	}
	if err := rp.Validate(); err != nil {
		return nil, err
	}
	if dial == nil {
		dc := DefaultDialConfig()
		dc.Name = "direct"
		dc.PromNamespace = cfg.PromNamespace
		dc.PromRegistry = cfg.PromRegistry
		dial = NewDialer(dc).DialContext
	}

	p := &Proxy{
		config:   *cfg,
		upstream: up,
		sessions: sp,
		limiter:  lim,
		retry:    rp,
		dial:     dial,
		log:      log,
		metrics:  newProxyMetrics(cfg.PromRegistry, cfg.PromNamespace),

		httpMetrics: middleware.NewPrometheus(cfg.PromRegistry, cfg.PromNamespace),
	}
	if cfg.LogHTTPMode != httplog.None {
		p.httpLog = httplog.NewStructuredLogger(log.Info, cfg.LogHTTPMode).LogFunc()
	}
	p.direct = &http.Transport{
		DialContext:           dial,
		TLSHandshakeTimeout:   10 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DisableCompression:    true,
	}

	p.listener = &Listener{
		Address:       cfg.Addr,
		Log:           log,
		ReadLimit:     cfg.ReadLimit,
		WriteLimit:    cfg.WriteLimit,
		PromNamespace: cfg.PromNamespace,
		PromRegistry:  cfg.PromRegistry,
	}
	if err := p.listener.Listen(); err != nil {
		return nil, err
	}

	log.Info("PROXY server listen", "address", p.listener.Addr().String())

	return p, nil
}

// Addr returns the address the proxy listens on.
func (p *Proxy) Addr() string {
	if a := p.listener.Addr(); a != nil {
		return a.String()
	}
	return ""
}

// Run serves client connections until ctx is done.
func (p *Proxy) Run(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		if err := p.Close(); err != nil {
			p.log.Error("failed to close proxy", "error", err)
		}
	}()

	err := p.serve(ctx)
	close(done)
	p.wg.Wait()

	if p.closing.Load() && errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (p *Proxy) serve(ctx context.Context) error {
	var delay time.Duration
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Temporary() { //nolint:staticcheck // accept errors may be temporary
				if delay == 0 {
					delay = 5 * time.Millisecond
				} else {
					delay *= 2
				}
				if max := time.Second; delay > max {
					delay = max
				}

				p.log.Debug("temporary error on accept", "error", err, "delay", delay)
				time.Sleep(delay)
				continue
			}

			if errors.Is(err, net.ErrClosed) {
				p.log.Debug("listener closed, returning")
			} else {
				p.log.Error("failed to accept", "error", err)
			}
			return err
		}
		delay = 0

		p.wg.Add(1)
		go p.handleConn(ctx, conn)
	}
}

func (p *Proxy) handleConn(ctx context.Context, conn net.Conn) {
	defer p.wg.Done()

	p.conns.Store(conn, struct{}{})
	defer p.conns.Delete(conn)
	defer conn.Close()

	if p.closing.Load() {
		return
	}

	newProxyConn(p, conn).handleLoop(ctx)
}

// Close stops accepting connections and closes all client connections.
func (p *Proxy) Close() error {
	if !p.closing.CompareAndSwap(false, true) {
		return nil
	}

	err := p.listener.Close()
	p.conns.Range(func(k, _ any) bool {
		if cerr := k.(net.Conn).Close(); cerr != nil && !isClosedConnError(cerr) { //nolint:forcetypeassert // only net.Conn is stored
			err = multierr.Append(err, cerr)
		}
		return true
	})
	p.direct.CloseIdleConnections()

	return err
}

// acquire takes a concurrency token and returns the function releasing it.
func (p *Proxy) acquire(ctx context.Context) (func(), error) {
	if p.limiter == nil {
		return func() {}, nil
	}
	tok, err := p.limiter.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return tok.Release, nil
}

// lease returns a session lease for the client, nil if sessions are disabled.
func (p *Proxy) lease(ctx context.Context, id session.ClientID) (*session.Lease, error) {
	if p.sessions == nil {
		return nil, nil //nolint:nilnil // nil lease is valid
	}
	return p.sessions.Acquire(ctx, id)
}

// settle records the outcome of an upstream attempt on the lease.
func settle(l *session.Lease, err error) {
	var uerr *upstream.Error
	switch {
	case err == nil:
		l.Succeeded()
	case errors.As(err, &uerr) && uerr.Kind == upstream.SessionKind:
		l.Invalidate()
	default:
		l.Failed()
	}
}
