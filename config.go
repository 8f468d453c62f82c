// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package headless

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/saucelabs/headless/header"
	"github.com/saucelabs/headless/httplog"
	"github.com/saucelabs/headless/ruleset"
)

type ProxyConfig struct {
	// Addr is the address the proxy listens on.
	Addr string

	// ReadLimit and WriteLimit limit the bandwidth of client connections in bytes per second.
	// ReadLimit is the rate at which clients read from the proxy.
	ReadLimit  int64
	WriteLimit int64

	// ReadHeaderTimeout is the amount of time allowed to read a request head.
	ReadHeaderTimeout time.Duration

	// IdleTimeout is the amount of time to wait for the next request on a persistent connection.
	IdleTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of a response to the client.
	WriteTimeout time.Duration

	// TunnelIdleTimeout tears down a CONNECT tunnel with no traffic in either direction.
	TunnelIdleTimeout time.Duration

	// TunnelGracePeriod is the time the remaining direction of a tunnel is given
	// after the other direction finished.
	TunnelGracePeriod time.Duration

	// MaxHeaderBytes is the maximum size of a request head.
	MaxHeaderBytes int

	// DirectAccess selects requests that bypass the upstream, it is matched against host/path.
	DirectAccess *ruleset.RegexpMatcher

	// RequestHeaders modify client request headers before they are forwarded.
	RequestHeaders header.Headers

	// LogHTTPMode selects what is logged about every served request.
	LogHTTPMode httplog.Mode

	PromNamespace string
	PromRegistry  prometheus.Registerer
}

func DefaultProxyConfig() *ProxyConfig {
	return &ProxyConfig{
		Addr:              "127.0.0.1:3128",
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		TunnelIdleTimeout: 5 * time.Minute,
		TunnelGracePeriod: 1 * time.Minute,
		MaxHeaderBytes:    1 << 20,
		LogHTTPMode:       httplog.DefaultMode,
		PromNamespace:     "headless",
	}
}

func (c *ProxyConfig) Validate() error {
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("address: %w", err)
	}
	if c.MaxHeaderBytes <= 0 {
		return errors.New("max header bytes must be positive")
	}
	if c.ReadLimit < 0 || c.WriteLimit < 0 {
		return errors.New("bandwidth limits must not be negative")
	}
	if c.TunnelIdleTimeout < 0 || c.TunnelGracePeriod < 0 {
		return errors.New("tunnel timeouts must not be negative")
	}
	return nil
}

// ParseProxyURL parses the upstream proxy URL.
// The scheme defaults to http, only http and https are supported.
// The port is required and credentials are not allowed in the URL.
func ParseProxyURL(val string) (*url.URL, error) {
	if !strings.Contains(val, "://") {
		val = "http://" + val
	}
	u, err := url.Parse(val)
	if err != nil {
		return nil, err
	}
	if err := validateProxyURL(u); err != nil {
		return nil, err
	}

	return u, nil
}

func validateProxyURL(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return errors.New("hostname is required")
	}
	if !isPort(u.Port()) {
		return fmt.Errorf("invalid port: %q", u.Port())
	}
	if u.User != nil {
		return errors.New("credentials are not allowed in the URL, use the API key")
	}
	if u.Path != "" && u.Path != "/" {
		return errors.New("path is not allowed")
	}

	return nil
}

// isPort returns true iff port string is a valid port number.
func isPort(port string) bool {
	if port == "" || strings.TrimLeft(port, "0123456789") != "" {
		return false
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return false
	}

	return p >= 1 && p <= 65535
}

// OpenFileParser returns a parser that calls os.OpenFile.
// If dirPerm is set it will create the directory if it does not exist.
// For empty path the parser returns nil file and nil error.
func OpenFileParser(flag int, perm, dirPerm os.FileMode) func(val string) (*os.File, error) {
	return func(val string) (*os.File, error) {
		if val == "" {
			return nil, nil
		}

		if dirPerm != 0 {
			if err := os.MkdirAll(filepath.Dir(val), dirPerm); err != nil {
				return nil, err
			}
		}
		return os.OpenFile(val, flag, perm)
	}
}
