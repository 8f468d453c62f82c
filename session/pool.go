// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package session manages sticky upstream sessions per client.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/saucelabs/headless/log"
	"github.com/saucelabs/headless/retry"
)

// CreateValue is sent in the session header to ask the upstream for a new session.
const CreateValue = "create"

// Deleter releases a session on the upstream side.
type Deleter interface {
	DeleteSession(ctx context.Context, id string) error
}

// Session is one logical session with the upstream service.
type Session struct {
	id       string
	created  time.Time
	lastUsed time.Time
	inflight int
	failures int
}

func (s *Session) idle(now time.Time, timeout time.Duration) bool {
	return s.inflight == 0 && now.Sub(s.lastUsed) >= timeout
}

type client struct {
	mu       sync.Mutex
	sessions []*Session

	// pending is non-nil while a shared session is being created, it is closed when done.
	pending  chan struct{}
	lastSeen time.Time
}

func (c *client) remove(s *Session) bool {
	for i, v := range c.sessions {
		if v == s {
			c.sessions = append(c.sessions[:i], c.sessions[i+1:]...)
			return true
		}
	}
	return false
}

// Pool holds sessions of all clients.
// Clients are kept in a sync.Map and each client has its own lock,
// so requests of different clients never contend.
type Pool struct {
	config  Config
	deleter Deleter
	clients sync.Map // ClientID -> *client
	toDel   chan string
	log     log.StructuredLogger
	metrics *metrics
	now     func() time.Time
}

const deleteQueueSize = 128

func NewPool(cfg *Config, d Deleter, log log.StructuredLogger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pool{
		config:  *cfg,
		deleter: d,
		toDel:   make(chan string, deleteQueueSize),
		log:     log,
		metrics: newMetrics(cfg.PromRegistry, cfg.PromNamespace),
		now:     time.Now,
	}, nil
}

func (p *Pool) client(id ClientID) *client {
	v, ok := p.clients.Load(id)
	if !ok {
		v, _ = p.clients.LoadOrStore(id, &client{})
	}
	return v.(*client) //nolint:forcetypeassert // only *client is stored
}

// Acquire returns a lease on a session for the client.
// The lease must be released when the request or tunnel is done.
func (p *Pool) Acquire(ctx context.Context, id ClientID) (*Lease, error) {
	c := p.client(id)

	for {
		c.mu.Lock()
		now := p.now()
		c.lastSeen = now

		if s := p.pick(c); s != nil {
			s.inflight++
			s.lastUsed = now
			c.mu.Unlock()
			return &Lease{p: p, c: c, s: s}, nil
		}

		if p.config.Affinity == SharedAffinity && c.pending != nil {
			ch := c.pending
			c.mu.Unlock()
			if err := p.waitPending(ctx, c, ch); err != nil {
				return nil, err
			}
			continue
		}

		l := p.create(c, now)
		c.mu.Unlock()
		return l, nil
	}
}

// pick returns a session that can serve a new request, it must be called with c.mu held.
func (p *Pool) pick(c *client) *Session {
	for _, s := range c.sessions {
		if p.config.Affinity == SharedAffinity || s.inflight == 0 {
			return s
		}
	}
	return nil
}

// create must be called with c.mu held.
func (p *Pool) create(c *client, now time.Time) *Lease {
	if p.config.IDSource == LocalIDSource {
		s := &Session{
			id:       uuid.NewString(),
			created:  now,
			lastUsed: now,
			inflight: 1,
		}
		c.sessions = append(c.sessions, s)
		p.metrics.created.Inc()
		p.metrics.active.Inc()
		p.log.Debug("session created", "session", Fingerprint(s.id))
		return &Lease{p: p, c: c, s: s}
	}

	l := &Lease{p: p, c: c, creating: true}
	if p.config.Affinity == SharedAffinity {
		c.pending = make(chan struct{})
		l.pending = c.pending
	}
	return l
}

// waitPending waits for a shared session being created by another request.
// When the creator does not finish in time the waiter takes over the creation.
func (p *Pool) waitPending(ctx context.Context, c *client, ch chan struct{}) error {
	t := time.NewTimer(p.config.CreateTimeout)
	defer t.Stop()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return retry.MarkPermanent(fmt.Errorf("wait for session: %w", ctx.Err()))
	case <-t.C:
		c.mu.Lock()
		if c.pending == ch {
			c.pending = nil
			close(ch)
		}
		c.mu.Unlock()
		p.log.Debug("timeout waiting for new session")
		return nil
	}
}

// Run evicts idle sessions and deletes evicted sessions on the upstream until ctx is done.
func (p *Pool) Run(ctx context.Context) error {
	t := time.NewTicker(p.config.CleanupInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			p.evictIdle()
		case id := <-p.toDel:
			p.deleteSession(ctx, id)
		}
	}
}

func (p *Pool) evictIdle() {
	now := p.now()
	p.clients.Range(func(key, value any) bool {
		c := value.(*client) //nolint:forcetypeassert // only *client is stored

		c.mu.Lock()
		var evicted []*Session
		for _, s := range c.sessions {
			if s.idle(now, p.config.IdleTimeout) {
				evicted = append(evicted, s)
			}
		}
		for _, s := range evicted {
			c.remove(s)
			p.evicted(s, "idle")
		}
		forget := len(c.sessions) == 0 && c.pending == nil && now.Sub(c.lastSeen) >= p.config.IdleTimeout
		c.mu.Unlock()

		if forget {
			p.clients.CompareAndDelete(key, c)
		}
		return true
	})
}

// evicted must be called with the owning client lock held.
func (p *Pool) evicted(s *Session, reason string) {
	p.metrics.active.Dec()
	p.metrics.evicted.WithLabelValues(reason).Inc()
	p.log.Debug("session evicted", "session", Fingerprint(s.id), "reason", reason)

	if p.deleter == nil || s.id == "" || p.config.IDSource == LocalIDSource {
		return
	}
	select {
	case p.toDel <- s.id:
	default:
		p.log.Warn("session delete queue full, dropping", "session", Fingerprint(s.id))
	}
}

func (p *Pool) deleteSession(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(ctx, p.config.DeleteTimeout)
	defer cancel()

	if err := p.deleter.DeleteSession(ctx, id); err != nil {
		p.metrics.deleted.WithLabelValues("error").Inc()
		p.log.Warn("cannot delete upstream session", "session", Fingerprint(id), "error", err)
		return
	}
	p.metrics.deleted.WithLabelValues("ok").Inc()
	p.log.Debug("upstream session deleted", "session", Fingerprint(id))
}

// Len returns the number of live sessions across all clients.
func (p *Pool) Len() int {
	n := 0
	p.clients.Range(func(_, value any) bool {
		c := value.(*client) //nolint:forcetypeassert // only *client is stored
		c.mu.Lock()
		n += len(c.sessions)
		c.mu.Unlock()
		return true
	})
	return n
}
