// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package httplog

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/saucelabs/headless/middleware"
	"golang.org/x/exp/maps"
)

type request struct {
	Method        string              `json:"method,omitempty"`
	URL           string              `json:"url,omitempty"`
	Protocol      string              `json:"protocol,omitempty"`
	Headers       map[string][]string `json:"headers,omitempty"`
	ContentLength int64               `json:"content_length,omitempty"`
}

func (r request) String() string {
	var b strings.Builder

	b.WriteString(r.Method)
	b.WriteRune(' ')
	b.WriteString(r.URL)

	add := func(k, v string) {
		if v == "" {
			return
		}
		b.WriteString(", ")
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
	}

	add("protocol", r.Protocol)
	add("headers", formatMap(r.Headers))
	if r.ContentLength > 0 {
		add("content_length", strconv.FormatInt(r.ContentLength, 10))
	}

	return b.String()
}

type response struct {
	StatusCode    int                 `json:"status_code,omitempty"`
	Headers       map[string][]string `json:"headers,omitempty"`
	ContentLength int64               `json:"content_length,omitempty"`
}

func (r response) String() string {
	var b strings.Builder

	b.WriteString(strconv.Itoa(r.StatusCode))
	if s := formatMap(r.Headers); s != "" {
		b.WriteString(", headers=")
		b.WriteString(s)
	}
	if r.ContentLength > 0 {
		b.WriteString(", content_length=")
		b.WriteString(strconv.FormatInt(r.ContentLength, 10))
	}

	return b.String()
}

func formatMap(m map[string][]string) string {
	if len(m) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteByte('[')

	keys := maps.Keys(m)
	sort.Strings(keys) // Stable order.
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(formatSlice(m[k]))
	}

	b.WriteByte(']')
	return b.String()
}

func formatSlice(s []string) string {
	if len(s) == 0 {
		return ""
	}
	if len(s) == 1 {
		return s[0]
	}
	return "[" + strings.Join(s, ",") + "]"
}

type structuredLogBuilder struct {
	redact []string

	req      request
	res      response
	duration string
	attempts int
	client   string
}

// WithShortURL sets the URL without query and userinfo along with basic fields.
func (b *structuredLogBuilder) WithShortURL(e middleware.LogEntry) {
	if e.Request == nil {
		return
	}
	b.initBasicFields(e, buildShortURL(e.Request))
}

func buildShortURL(req *http.Request) string {
	u := req.URL
	if req.Method == http.MethodConnect {
		return u.Host
	}
	scheme, host, path := u.Scheme, u.Host, u.Path
	if scheme != "" {
		scheme += "://"
	}
	if path != "" && path[0] != '/' {
		path = "/" + path
	}
	return scheme + host + path
}

// WithURL sets the redacted URL along with basic fields.
func (b *structuredLogBuilder) WithURL(e middleware.LogEntry) {
	if e.Request == nil {
		return
	}
	u := e.Request.URL.Redacted()
	if e.Request.Method == http.MethodConnect {
		u = e.Request.URL.Host
	}
	b.initBasicFields(e, u)
}

func (b *structuredLogBuilder) initBasicFields(e middleware.LogEntry, u string) {
	b.req.Method = e.Request.Method
	b.req.URL = u
	b.res.StatusCode = e.Status
	b.duration = e.Duration.String()
	b.attempts = e.Attempts
	b.client = e.ClientID
}

// WithHeaders copies headers and content length of the request and the response.
func (b *structuredLogBuilder) WithHeaders(e middleware.LogEntry) {
	req := e.Request
	if req == nil {
		return
	}

	b.req.Protocol = fmt.Sprintf("HTTP/%d.%d", req.ProtoMajor, req.ProtoMinor)
	b.req.Headers = b.redactHeader(req.Header)
	if req.ContentLength > 0 {
		b.req.ContentLength = req.ContentLength
	}

	res := e.Response
	if res == nil {
		return
	}
	b.res.Headers = b.redactHeader(res.Header)
	if res.ContentLength > 0 {
		b.res.ContentLength = res.ContentLength
	}
}

func (b *structuredLogBuilder) redactHeader(h http.Header) http.Header {
	h = h.Clone()
	for _, k := range b.redact {
		if _, ok := h[k]; ok {
			h[k] = []string{redacted}
		}
	}
	return h
}

// Args returns a slice of key-value pairs for logging purposes.
func (b *structuredLogBuilder) Args() []any {
	return []any{
		"request", b.req,
		"response", b.res,
		"duration", b.duration,
		"attempts", b.attempts,
		"client_id", b.client,
	}
}
