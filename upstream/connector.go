// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package upstream talks to the smart proxy service.
// It injects the credential, the upstream headers and the session identifier into
// forwarded requests and CONNECT tunnels and keeps a pool of connections to the upstream.
package upstream

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"

	"github.com/saucelabs/headless/dialvia"
	"github.com/saucelabs/headless/internal/version"
	"github.com/saucelabs/headless/log"
)

// browserHeaders are dropped when the upstream emulates a browser profile.
var browserHeaders = []string{ //nolint:gochecknoglobals // read-only
	"Accept",
	"Accept-Encoding",
	"Accept-Language",
	"Dnt",
	"Upgrade-Insecure-Requests",
	"User-Agent",
}

// Reply carries the upstream metadata found in a response.
type Reply struct {
	SessionID string
	ErrorCode string
}

type Connector struct {
	config    Config
	proxyURL  *url.URL
	apiURL    *url.URL
	auth      string
	transport *http.Transport
	connect   *dialvia.HTTPProxyDialer
	api       *http.Client
	log       log.StructuredLogger
}

// New creates a Connector, dial is used for all TCP connections to the upstream.
func New(cfg *Config, dial dialvia.ContextDialerFunc, log log.StructuredLogger) (*Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if dial == nil {
		dial = (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: cfg.KeepAlive,
		}).DialContext
	}

	c := &Connector{
		config: *cfg,
		auth:   "Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.APIKey+":")),
		log:    log,
	}

	pu := *cfg.ProxyURL
	if cfg.AuthMode == URLAuth {
		pu.User = url.User(cfg.APIKey)
	}
	c.proxyURL = &pu

	if cfg.APIURL != nil {
		c.apiURL = cfg.APIURL
	} else {
		c.apiURL = &url.URL{Scheme: "http", Host: cfg.ProxyURL.Host}
	}

	tlsCfg := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // user choice
		MinVersion:         tls.VersionTLS12,
	}

	c.transport = &http.Transport{
		Proxy:                 http.ProxyURL(c.proxyURL),
		GetProxyConnectHeader: c.proxyConnectHeader,
		DialContext:           dial,
		TLSClientConfig:       tlsCfg,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		DisableCompression:    true,
	}

	if c.proxyURL.Scheme == "https" {
		c.connect = dialvia.HTTPSProxy(dial, c.proxyURL, tlsCfg)
	} else {
		c.connect = dialvia.HTTPProxy(dial, c.proxyURL)
	}

	c.api = &http.Client{
		Transport: &http.Transport{
			DialContext:         dial,
			TLSClientConfig:     tlsCfg,
			TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
			IdleConnTimeout:     cfg.IdleConnTimeout,
		},
		Timeout: cfg.APITimeout,
	}

	log.Debug("upstream configured", "proxy", cfg.ProxyURL.Redacted(), "auth_mode", cfg.AuthMode.String())

	return c, nil
}

type sessionKey struct{}

func withSession(ctx context.Context, session string) context.Context {
	return context.WithValue(ctx, sessionKey{}, session)
}

func sessionFrom(ctx context.Context) string {
	s, _ := ctx.Value(sessionKey{}).(string)
	return s
}

// setHeaders adds the upstream control headers, the credential is added only in header auth mode.
func (c *Connector) setHeaders(h http.Header, session string) {
	for k, v := range c.config.Headers {
		h[k] = append([]string(nil), v...)
	}
	h.Set(c.config.ClientHeader, version.UserAgent())
	if session != "" {
		h.Set(c.config.SessionHeader, session)
	}
	if c.config.AuthMode == HeaderAuth {
		h.Set("Proxy-Authorization", c.auth)
	}
}

// stripBrowserHeaders removes headers the upstream sets itself when a browser profile is selected.
func stripBrowserHeaders(h http.Header) {
	switch h.Get(DefaultProfileHeader) {
	case "desktop", "mobile":
		for _, k := range browserHeaders {
			h.Del(k)
		}
		// Keep net/http from adding its own User-Agent.
		h.Set("User-Agent", "")
	}
}

// proxyConnectHeader is used by the transport for https targets in absolute-form requests.
func (c *Connector) proxyConnectHeader(ctx context.Context, _ *url.URL, _ string) (http.Header, error) {
	h := make(http.Header)
	c.setHeaders(h, sessionFrom(ctx))
	return h, nil
}

// RoundTrip forwards an absolute-form request through the upstream.
// The response is returned unchanged, use Check to find out if it was produced by the upstream as a failure.
func (c *Connector) RoundTrip(req *http.Request, session string) (*http.Response, error) {
	out := req.Clone(withSession(req.Context(), session))
	if out.URL.Scheme == "http" {
		c.setHeaders(out.Header, session)
		stripBrowserHeaders(out.Header)
	}
	// Tunnels are keyed by proxy and target only, a pooled tunnel would carry another session.
	if session != "" && out.URL.Scheme == "https" {
		out.Close = true
	}

	res, err := c.transport.RoundTrip(out)
	if err != nil {
		return nil, fmt.Errorf("upstream round trip: %w", err)
	}
	return res, nil
}

// Connect opens a tunnel to target through the upstream.
// On a non-2xx upstream response the connection is closed and *Error is returned.
func (c *Connector) Connect(ctx context.Context, target, session string) (net.Conn, Reply, error) {
	d := *c.connect
	d.ConnectRequestModifier = func(req *http.Request) error {
		c.setHeaders(req.Header, session)
		return nil
	}

	if c.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ConnectTimeout)
		defer cancel()
	}

	res, conn, err := d.DialContextR(ctx, "tcp", target)
	if err != nil {
		return nil, Reply{}, fmt.Errorf("upstream connect: %w", err)
	}
	res.Body.Close()

	reply := c.Reply(res.Header)
	if res.StatusCode/100 != 2 {
		conn.Close()
		return nil, reply, &Error{
			Kind:       classify(res.StatusCode, reply.ErrorCode),
			StatusCode: res.StatusCode,
			Code:       reply.ErrorCode,
		}
	}

	return conn, reply, nil
}

// Reply extracts the upstream metadata from response headers.
func (c *Connector) Reply(h http.Header) Reply {
	return Reply{
		SessionID: h.Get(c.config.SessionHeader),
		ErrorCode: h.Get(c.config.ErrorHeader),
	}
}

// Check returns *Error if res was produced by the upstream to report a failure, nil otherwise.
// Responses of the target server are never treated as failures.
func (c *Connector) Check(res *http.Response) error {
	code := res.Header.Get(c.config.ErrorHeader)
	if code == "" && res.StatusCode != http.StatusProxyAuthRequired {
		return nil
	}
	return &Error{
		Kind:       classify(res.StatusCode, code),
		StatusCode: res.StatusCode,
		Code:       code,
	}
}

// StripResponse removes session material from a response before it is sent to the client.
func (c *Connector) StripResponse(h http.Header) {
	h.Del(c.config.SessionHeader)
}

// DeleteSession releases a session using the upstream session API.
func (c *Connector) DeleteSession(ctx context.Context, id string) error {
	u := c.apiURL.JoinPath("sessions", id)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u.String(), http.NoBody)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.config.APIKey, "")
	req.Header.Set("User-Agent", version.UserAgent())

	res, err := c.api.Do(req)
	if err != nil {
		// The URL contains the session ID, do not leak it.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return fmt.Errorf("delete session: %w", uerr.Err)
		}
		return fmt.Errorf("delete session: %w", err)
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body) //nolint:errcheck // best effort drain

	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("delete session: status=%d", res.StatusCode)
	}
	return nil
}

// CloseIdleConnections closes idle connections to the upstream.
func (c *Connector) CloseIdleConnections() {
	c.transport.CloseIdleConnections()
	c.api.CloseIdleConnections()
}
