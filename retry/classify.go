// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// Class tells whether a failure is worth retrying.
type Class int

const (
	Unknown Class = iota
	Transient
	Permanent
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Classifier is implemented by errors that know their class.
type Classifier interface {
	RetryClass() Class
}

// Classify returns the class of err.
// Errors implementing Classifier anywhere in the chain decide for themselves.
// Network resets, refusals, unexpected EOFs and timeouts are transient.
// Cancellation and everything else is permanent.
func Classify(err error) Class {
	if err == nil {
		return Unknown
	}

	var c Classifier
	if errors.As(err, &c) {
		return c.RetryClass()
	}

	if errors.Is(err, context.Canceled) {
		return Permanent
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return Transient
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return Transient
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return Transient
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return Transient
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.Temporary() {
		return Transient
	}

	return Permanent
}

// MarkPermanent wraps err so that Classify reports it as permanent.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return classified{err, Permanent}
}

type classified struct {
	error
	class Class
}

func (e classified) RetryClass() Class {
	return e.class
}

func (e classified) Unwrap() error {
	return e.error
}
