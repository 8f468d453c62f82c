// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package upstream

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// AuthMode selects how the API key is presented to the upstream.
type AuthMode int

const (
	// HeaderAuth sends the API key in the Proxy-Authorization header.
	HeaderAuth AuthMode = 1 + iota
	// URLAuth embeds the API key in the proxy URL userinfo.
	URLAuth
)

func (m AuthMode) String() string {
	return [2]string{"header", "url"}[m-1]
}

func ParseAuthMode(s string) (AuthMode, error) {
	switch strings.ToLower(s) {
	case "header":
		return HeaderAuth, nil
	case "url":
		return URLAuth, nil
	default:
		return 0, fmt.Errorf("unknown auth mode %q", s)
	}
}

const (
	DefaultSessionHeader = "X-Crawlera-Session"
	DefaultErrorHeader   = "X-Crawlera-Error"
	DefaultClientHeader  = "X-Crawlera-Client"
	DefaultProfileHeader = "X-Crawlera-Profile"

	headerPrefix = "X-Crawlera-"
)

type Config struct {
	// ProxyURL is the upstream endpoint, http or https scheme.
	ProxyURL *url.URL

	// APIKey is the upstream credential, it is used as the basic auth user name with an empty password.
	APIKey string

	AuthMode AuthMode

	// APIURL is the base URL of the session management API, it defaults to the proxy host over http.
	APIURL *url.URL

	// Headers are added to every request and CONNECT sent upstream.
	Headers http.Header

	SessionHeader string
	ErrorHeader   string
	ClientHeader  string

	// InsecureSkipVerify disables verification of the upstream endpoint certificate.
	InsecureSkipVerify bool

	DialTimeout           time.Duration
	KeepAlive             time.Duration
	TLSHandshakeTimeout   time.Duration
	ConnectTimeout        time.Duration
	ResponseHeaderTimeout time.Duration
	IdleConnTimeout       time.Duration
	MaxIdleConnsPerHost   int
	APITimeout            time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		ProxyURL:              &url.URL{Scheme: "http", Host: "proxy.zyte.com:8011"},
		AuthMode:              HeaderAuth,
		Headers:               http.Header{},
		SessionHeader:         DefaultSessionHeader,
		ErrorHeader:           DefaultErrorHeader,
		ClientHeader:          DefaultClientHeader,
		DialTimeout:           10 * time.Second,
		KeepAlive:             30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ConnectTimeout:        60 * time.Second,
		ResponseHeaderTimeout: 180 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   64,
		APITimeout:            10 * time.Second,
	}
}

func (c *Config) Validate() error {
	if c.ProxyURL == nil {
		return errors.New("upstream proxy URL is required")
	}
	if c.ProxyURL.Scheme != "http" && c.ProxyURL.Scheme != "https" {
		return fmt.Errorf("unsupported upstream proxy scheme %q", c.ProxyURL.Scheme)
	}
	if c.ProxyURL.Port() == "" {
		return errors.New("upstream proxy port is required")
	}
	if c.ProxyURL.User != nil {
		return errors.New("upstream proxy URL must not contain credentials, use the API key")
	}
	if c.APIKey == "" {
		return errors.New("API key is required")
	}
	if c.AuthMode != HeaderAuth && c.AuthMode != URLAuth {
		return errors.New("invalid auth mode")
	}
	if c.SessionHeader == "" || c.ErrorHeader == "" {
		return errors.New("session and error header names are required")
	}
	return nil
}

// SetHeader adds an upstream header, short names like "profile" are expanded to "X-Crawlera-Profile".
func (c *Config) SetHeader(key, value string) {
	if c.Headers == nil {
		c.Headers = http.Header{}
	}
	c.Headers.Set(NormalizeHeaderName(key), value)
}

// NormalizeHeaderName turns "profile", "x-crawlera-PROFILE" and "X-Crawlera-Profile" into "X-Crawlera-Profile".
func NormalizeHeaderName(key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	k = strings.TrimPrefix(k, strings.ToLower(headerPrefix))
	return http.CanonicalHeaderKey(headerPrefix + k)
}
