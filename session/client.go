// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package session

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // identity hash, not a security boundary
	"crypto/sha256"
	"encoding/hex"
	"net"
)

// ClientID identifies a logical browsing session, that is one browser instance.
type ClientID string

// NewClientID derives a ClientID from the client remote address and its User-Agent.
// Connections of the same browser share the host and the User-Agent but not the port.
func NewClientID(remoteAddr, userAgent string) ClientID {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	mac := hmac.New(sha1.New, []byte(host))
	mac.Write([]byte(userAgent))

	return ClientID(hex.EncodeToString(mac.Sum(nil)))
}

// Fingerprint returns a short, non-reversible representation of a session ID for logs.
func Fingerprint(id string) string {
	if id == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:4])
}
