// Copyright (c) 2024, configd authors. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package session implements the Session and Subscription entities
// (spec.md §3) and the manager that owns the session table. Grounded on
// session/sessionmgr.go's "monitor that provides access to the shared
// session state; all methods must be protected by Mutex" design, and on
// the redesign flag in spec.md §9 ("notification fork-per-subscription
// ... re-expressed as message-passing workers whose lifetime is tracked
// by a supervisor that reaps them on any termination path").
package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/danos/configd/internal/mgmterror"
)

// Subscription is a long-lived one-way notification stream (spec.md
// §3), owned by an isolated goroutine that does not touch the primary
// datastore path (spec.md §5).
type Subscription struct {
	ID        string
	Stream    string
	Filter    string
	sessionID string
	cancel    chan struct{}
	done      chan struct{}
}

// Stop signals the subscription's worker to terminate and waits for it
// to exit, used both by explicit stream termination and by the
// supervisor's reap-on-shutdown path.
func (s *Subscription) Stop() {
	select {
	case <-s.cancel:
		// already stopped
	default:
		close(s.cancel)
	}
	<-s.done
}

// Session is the spec.md §3 Session entity: a client conversation with
// an id, username, lock set and notification subscriptions.
type Session struct {
	ID       string
	User     string
	mu       sync.Mutex
	locks    map[string]bool // databases this session believes it holds locked
	subs     map[string]*Subscription
	closed   bool
}

func newSession(id, user string) *Session {
	return &Session{ID: id, User: user, locks: map[string]bool{}, subs: map[string]*Subscription{}}
}

// RecordLock/RecordUnlock track which databases this session believes
// it holds the advisory lock on, mirroring datastore.Store's own lock
// bookkeeping so CloseSession/KillSession can release them without
// querying every database.
func (s *Session) RecordLock(db string)   { s.mu.Lock(); s.locks[db] = true; s.mu.Unlock() }
func (s *Session) RecordUnlock(db string) { s.mu.Lock(); delete(s.locks, db); s.mu.Unlock() }

// HeldLocks returns the databases this session currently holds the
// advisory lock on.
func (s *Session) HeldLocks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.locks))
	for db := range s.locks {
		out = append(out, db)
	}
	return out
}

// AddSubscription registers a running Subscription against the session
// so Close/Kill can reap it.
func (s *Session) addSubscription(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.ID] = sub
}

func (s *Session) removeSubscription(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

// Manager is the shared session-state monitor: a single mutex-protected
// table, exactly session/sessionmgr.go's SessionMgr shape, generalized
// off the teacher's configd.Context plumbing.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	reaperWG sync.WaitGroup
}

func NewManager() *Manager {
	return &Manager{sessions: map[string]*Session{}}
}

// Create returns the existing session for id if one exists, otherwise
// creates one. Matches the teacher's idempotent session.create.
func (m *Manager) Create(id, user string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[id]; ok {
		return sess
	}
	sess := newSession(id, user)
	m.sessions[id] = sess
	return sess
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, mgmterror.NewInternalError("session " + id + " does not exist")
	}
	return sess, nil
}

// Close terminates id's conversation: every subscription is stopped and
// the session is removed from the table. Locks held by the session are
// the caller's (datastore.Store's) responsibility to release; Manager
// only owns session bookkeeping.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	sess.mu.Lock()
	sess.closed = true
	subs := make([]*Subscription, 0, len(sess.subs))
	for _, sub := range sess.subs {
		subs = append(subs, sub)
	}
	sess.mu.Unlock()

	for _, sub := range subs {
		sub.Stop()
	}
	return nil
}

// Kill implements kill-session: a forced close initiated by a different
// session, per spec.md §2's RD description. It is equivalent to Close
// but named distinctly because the NETCONF operation carries different
// authorization rules (left to the RPC Dispatcher's auth gate).
func (m *Manager) Kill(id string) error {
	return m.Close(id)
}

// Subscribe spawns an isolated worker goroutine for a new subscription
// and tracks it on sess so a later session close/kill reaps it. worker
// is invoked with a cancel channel it must select on; when worker
// returns, the wrapping goroutine closes the subscription's done channel
// and removes it from sess.
func (m *Manager) Subscribe(sess *Session, stream, filter string, worker func(cancel <-chan struct{})) *Subscription {
	sub := &Subscription{
		ID:        uuid.NewString(),
		Stream:    stream,
		Filter:    filter,
		sessionID: sess.ID,
		cancel:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	sess.addSubscription(sub)
	m.reaperWG.Add(1)
	go func() {
		defer m.reaperWG.Done()
		defer close(sub.done)
		defer sess.removeSubscription(sub.ID)
		worker(sub.cancel)
	}()
	return sub
}

// Shutdown signals every session's subscriptions to stop and waits for
// all subscription workers to exit -- the supervisor reap-on-shutdown
// path required by spec.md §5 and §9's redesign flag.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		_ = m.Close(id)
	}
	m.reaperWG.Wait()
}
