// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package session

// Lease is a claim on a session for the duration of one request or tunnel.
// A nil *Lease is valid and means sessions are disabled.
//
// Lease is not safe for concurrent use.
type Lease struct {
	p *Pool
	c *client
	s *Session

	creating bool
	pending  chan struct{}
	done     bool
}

// Value is the session header value to send upstream, empty if no header should be sent.
func (l *Lease) Value() string {
	if l == nil {
		return ""
	}
	if l.s != nil {
		return l.s.id
	}
	if l.creating {
		return CreateValue
	}
	return ""
}

// Creating reports whether the lease asks the upstream for a new session.
func (l *Lease) Creating() bool {
	return l != nil && l.creating && l.s == nil
}

// Confirm records the session ID returned by the upstream for a creating lease.
// It is a no-op for other leases or an empty id.
func (l *Lease) Confirm(id string) {
	if !l.Creating() || l.done || id == "" {
		return
	}

	now := l.p.now()
	s := &Session{
		id:       id,
		created:  now,
		lastUsed: now,
		inflight: 1,
	}

	l.c.mu.Lock()
	l.c.sessions = append(l.c.sessions, s)
	l.s = s
	l.finishCreate()
	l.c.mu.Unlock()

	l.p.metrics.created.Inc()
	l.p.metrics.active.Inc()
	l.p.log.Debug("session created", "session", Fingerprint(id))
}

// finishCreate must be called with the client lock held.
func (l *Lease) finishCreate() {
	if l.pending != nil && l.c.pending == l.pending {
		l.c.pending = nil
		close(l.pending)
	}
	l.pending = nil
}

// Succeeded resets the failure counter of the session.
func (l *Lease) Succeeded() {
	if l == nil || l.s == nil {
		return
	}
	l.c.mu.Lock()
	l.s.failures = 0
	l.c.mu.Unlock()
}

// Failed records a failed request, the session is invalidated after MaxFailures consecutive failures.
func (l *Lease) Failed() {
	if l == nil || l.s == nil {
		return
	}
	l.c.mu.Lock()
	l.s.failures++
	broken := l.s.failures >= l.p.config.MaxFailures
	l.c.mu.Unlock()

	if broken {
		l.Invalidate()
	}
}

// Invalidate evicts the session, subsequent requests of the client get a new one.
func (l *Lease) Invalidate() {
	if l == nil {
		return
	}
	l.c.mu.Lock()
	defer l.c.mu.Unlock()

	if l.s != nil && l.c.remove(l.s) {
		l.p.evicted(l.s, "invalid")
	}
	if l.creating {
		l.finishCreate()
	}
}

// Release ends the lease, subsequent calls are no-ops.
func (l *Lease) Release() {
	if l == nil || l.done {
		return
	}
	l.done = true

	l.c.mu.Lock()
	defer l.c.mu.Unlock()

	if l.s != nil {
		l.s.inflight--
		l.s.lastUsed = l.p.now()
	}
	if l.creating {
		l.finishCreate()
	}
}
