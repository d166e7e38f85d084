// Copyright (c) 2024, configd authors. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package rpcdispatch is the RPC Dispatcher (spec.md §4.7): it receives
// NETCONF-shaped requests, routes them to the Datastore Layer or
// Transaction Engine, and returns either <ok/> or <rpc-error>. Grounded
// on server/dispatcher.go's per-operation method shape and
// server/conn.go's newResponse (success result vs. mgmterror-typed
// error, both folded into one rpc.Response).
package rpcdispatch

import (
	"context"

	"github.com/danos/configd/internal/datastore"
	"github.com/danos/configd/internal/logging"
	"github.com/danos/configd/internal/metrics"
	"github.com/danos/configd/internal/mgmterror"
	"github.com/danos/configd/internal/plugin"
	"github.com/danos/configd/internal/schema"
	"github.com/danos/configd/internal/session"
	"github.com/danos/configd/internal/txengine"
	"github.com/danos/configd/internal/validator"
	"github.com/danos/configd/internal/xom"
)

const (
	dbRunning   = "running"
	dbCandidate = "candidate"
)

// Dispatcher owns the wiring from RPC operations to DS/TXE, and the
// session table RD is responsible for gating every request against
// (spec.md §4.7's auth callback and §3's per-session lock set).
type Dispatcher struct {
	ds       *datastore.Store
	txe      *txengine.Engine
	registry *plugin.Registry
	sessions *session.Manager
	validate *validator.Validator
	spec     *schema.Spec
	gate     *logging.Gate
	metrics  *metrics.Collector
}

func New(ds *datastore.Store, txe *txengine.Engine, reg *plugin.Registry, sessions *session.Manager, v *validator.Validator, spec *schema.Spec, gate *logging.Gate, m *metrics.Collector) *Dispatcher {
	return &Dispatcher{ds: ds, txe: txe, registry: reg, sessions: sessions, validate: v, spec: spec, gate: gate, metrics: m}
}

func (d *Dispatcher) authorize(ctx context.Context, sid, op string) error {
	sess, err := d.sessions.Get(sid)
	if err != nil {
		return err
	}
	if !d.registry.AuthGate(ctx, sess.User, op) {
		return mgmterror.NewAccessDeniedError()
	}
	return nil
}

// CreateSession implements the implicit session-open step that
// precedes every other RPC (spec.md §3): idempotent, ungated, since no
// session yet exists to authorize against.
func (d *Dispatcher) CreateSession(sid, user string) *session.Session {
	return d.sessions.Create(sid, user)
}

// GetConfig implements get-config: return the configured subtree of db,
// optionally filtered.
func (d *Dispatcher) GetConfig(ctx context.Context, sid, db, xpathFilter string) (*xom.Node, error) {
	if err := d.authorize(ctx, sid, "get-config"); err != nil {
		return nil, err
	}
	return d.ds.Read(db, xpathFilter)
}

// EditConfig implements edit-config: op is forwarded as-is to DS.Put as
// the NETCONF default-operation (spec.md §4.7). A second session's
// write against a database locked by another session is rejected with
// LockDenied naming the holder (scenario 4 / P3).
func (d *Dispatcher) EditConfig(ctx context.Context, sid, db string, op xom.Operation, tree *xom.Node) error {
	if err := d.authorize(ctx, sid, "edit-config"); err != nil {
		return err
	}
	if holder := d.ds.LockHolder(db); holder != "" && holder != sid {
		if d.metrics != nil {
			d.metrics.IncLockDenied()
		}
		return mgmterror.NewLockDeniedError(holder)
	}
	_, err := d.ds.Put(db, op, tree, sid)
	return err
}

// CopyConfig implements copy-config: atomic replacement of dst's
// content with src's.
func (d *Dispatcher) CopyConfig(ctx context.Context, sid, src, dst string) error {
	if err := d.authorize(ctx, sid, "copy-config"); err != nil {
		return err
	}
	if holder := d.ds.LockHolder(dst); holder != "" && holder != sid {
		return mgmterror.NewLockDeniedError(holder)
	}
	return d.ds.Copy(src, dst)
}

// DeleteConfig implements delete-config.
func (d *Dispatcher) DeleteConfig(ctx context.Context, sid, db string) error {
	if err := d.authorize(ctx, sid, "delete-config"); err != nil {
		return err
	}
	return d.ds.Delete(db)
}

// Lock implements lock: advisory, per-database, per-session. A second
// lock on a held database returns lock-denied with the holder's session
// id in error-info (spec.md §4.7, scenario 4).
func (d *Dispatcher) Lock(ctx context.Context, sid, db string) error {
	if err := d.authorize(ctx, sid, "lock"); err != nil {
		return err
	}
	sess, err := d.sessions.Get(sid)
	if err != nil {
		return err
	}
	if err := d.ds.Lock(db, sid); err != nil {
		if d.metrics != nil {
			d.metrics.IncLockDenied()
		}
		return err
	}
	sess.RecordLock(db)
	return nil
}

// Unlock implements unlock. Unlocking an already-unlocked database is
// not an error (§7 idempotency).
func (d *Dispatcher) Unlock(ctx context.Context, sid, db string) error {
	if err := d.authorize(ctx, sid, "unlock"); err != nil {
		return err
	}
	if err := d.ds.Unlock(db, sid); err != nil {
		return err
	}
	if sess, err := d.sessions.Get(sid); err == nil {
		sess.RecordUnlock(db)
	}
	return nil
}

// Validate implements validate: run the static Validator against db
// without committing anything.
func (d *Dispatcher) Validate(ctx context.Context, sid, db string) mgmterror.ErrorList {
	if err := d.authorize(ctx, sid, "validate"); err != nil {
		return mgmterror.AsErrorList(err)
	}
	tree, err := d.ds.Read(db, "")
	if err != nil {
		return mgmterror.ErrorList{mgmterror.NewIoError(err.Error())}
	}
	return d.validate.Validate(tree, d.spec)
}

// Commit implements commit: delegates the entire state machine to the
// Transaction Engine, candidate -> running.
func (d *Dispatcher) Commit(ctx context.Context, sid string) *txengine.Result {
	if err := d.authorize(ctx, sid, "commit"); err != nil {
		return &txengine.Result{Outcome: txengine.OutcomeCommitFailed, Errors: mgmterror.ErrorList{err.(*mgmterror.Error)}}
	}
	return d.txe.Commit(ctx, dbCandidate, dbRunning, sid)
}

// DiscardChanges implements discard-changes: candidate reverts to
// running's current content, per NETCONF semantics.
func (d *Dispatcher) DiscardChanges(ctx context.Context, sid string) error {
	if err := d.authorize(ctx, sid, "discard-changes"); err != nil {
		return err
	}
	return d.ds.Copy(dbRunning, dbCandidate)
}

// CreateSubscription spawns a notification worker isolated from the
// primary datastore path (spec.md §2, §5) and returns its handle.
func (d *Dispatcher) CreateSubscription(ctx context.Context, sid, stream, filter string, worker func(cancel <-chan struct{})) (*session.Subscription, error) {
	if err := d.authorize(ctx, sid, "create-subscription"); err != nil {
		return nil, err
	}
	sess, err := d.sessions.Get(sid)
	if err != nil {
		return nil, err
	}
	return d.sessions.Subscribe(sess, stream, filter, worker), nil
}

// CloseSession implements close-session: reaps every subscription the
// session owns and releases any database locks it held.
func (d *Dispatcher) CloseSession(ctx context.Context, sid string) error {
	if err := d.authorize(ctx, sid, "close-session"); err != nil {
		return err
	}
	sess, err := d.sessions.Get(sid)
	if err == nil {
		for _, db := range sess.HeldLocks() {
			_ = d.ds.Unlock(db, sid)
		}
	}
	return d.sessions.Close(sid)
}

// KillSession implements kill-session: a forced close of targetSID
// initiated by sid, gated on the same auth callback as any other RPC.
func (d *Dispatcher) KillSession(ctx context.Context, sid, targetSID string) error {
	if err := d.authorize(ctx, sid, "kill-session"); err != nil {
		return err
	}
	target, err := d.sessions.Get(targetSID)
	if err == nil {
		for _, db := range target.HeldLocks() {
			_ = d.ds.Unlock(db, targetSID)
		}
	}
	return d.sessions.Kill(targetSID)
}
