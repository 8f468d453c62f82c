// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package dialvia

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

type HTTPProxyDialer struct {
	dial      ContextDialerFunc
	proxyURL  *url.URL
	tlsConfig *tls.Config

	// ConnectRequestModifier is called before the CONNECT request is sent.
	ConnectRequestModifier func(req *http.Request) error
}

func HTTPProxy(dial ContextDialerFunc, proxyURL *url.URL) *HTTPProxyDialer {
	if dial == nil {
		panic("dial is required")
	}
	if proxyURL == nil {
		panic("proxy URL is required")
	}
	if proxyURL.Scheme != "http" {
		panic("proxy URL scheme must be http")
	}

	return &HTTPProxyDialer{
		dial:     dial,
		proxyURL: proxyURL,
	}
}

func HTTPSProxy(dial ContextDialerFunc, proxyURL *url.URL, tlsConfig *tls.Config) *HTTPProxyDialer {
	if dial == nil {
		panic("dial is required")
	}
	if proxyURL == nil {
		panic("proxy URL is required")
	}
	if proxyURL.Scheme != "https" {
		panic("proxy URL scheme must be https")
	}
	if tlsConfig == nil {
		panic("TLS config is required")
	}

	tlsConfig = tlsConfig.Clone()
	tlsConfig.ServerName = proxyURL.Hostname()
	tlsConfig.NextProtos = []string{"http/1.1"}

	return &HTTPProxyDialer{
		dial:      dial,
		proxyURL:  proxyURL,
		tlsConfig: tlsConfig,
	}
}

// DialContextR returns a connection tunneled to addr and the CONNECT response, whatever its status.
// The caller is responsible for closing the response body and the connection.
func (d *HTTPProxyDialer) DialContextR(ctx context.Context, network, addr string) (*http.Response, net.Conn, error) {
	if network != "tcp" && network != "tcp4" && network != "tcp6" {
		return nil, nil, fmt.Errorf("unsupported network: %s", network)
	}

	conn, err := d.dial(ctx, "tcp", d.proxyURL.Host)
	if err != nil {
		return nil, nil, err
	}
	if d.proxyURL.Scheme == "https" {
		tconn := tls.Client(conn, d.tlsConfig)
		if err := tconn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("proxy TLS handshake: %w", err)
		}
		conn = tconn
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Host: addr},
		Host:   addr,
		Header: http.Header{},
	}

	// Don't send the default Go HTTP client User-Agent.
	req.Header.Set("User-Agent", "")
	if u := d.proxyURL.User; u != nil {
		pass, _ := u.Password()
		auth := u.Username() + ":" + pass
		req.Header.Set("Proxy-Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(auth)))
	}

	if cm := d.ConnectRequestModifier; cm != nil {
		if err := cm(req); err != nil {
			conn.Close()
			return nil, nil, err
		}
	}

	type result struct {
		res *http.Response
		br  *bufio.Reader
		err error
	}
	ch := make(chan result, 1)

	go func() {
		pbw := bufio.NewWriterSize(conn, 1024)
		if err := req.Write(pbw); err != nil {
			ch <- result{err: err}
			return
		}
		if err := pbw.Flush(); err != nil {
			ch <- result{err: err}
			return
		}

		pbr := bufio.NewReaderSize(conn, 1024)
		res, err := http.ReadResponse(pbr, req) //nolint:bodyclose // caller is responsible for closing the response body
		ch <- result{res: res, br: pbr, err: err}
	}()

	select {
	case <-ctx.Done():
		conn.Close()
		if r := <-ch; r.res != nil {
			r.res.Body.Close()
		}
		return nil, nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			conn.Close()
			return nil, nil, r.err
		}
		if r.res.StatusCode/100 == 2 {
			// A successful CONNECT response has no body, anything buffered belongs to the tunnel.
			r.res.Body = http.NoBody
		}
		return r.res, wrapBuffered(conn, r.br), nil
	}
}
