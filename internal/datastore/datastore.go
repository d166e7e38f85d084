// Copyright (c) 2024, configd authors. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package datastore implements the Datastore Layer (spec.md §4.1): a
// persistent key-value store over named configuration databases
// (running, candidate, startup, failsafe, tmp, ...). Grounded on the
// file-handling idioms in server/config_mgmt.go and the atomic pointer
// swap + single-writer-file pattern in session/commitmgr.go's
// writeRunning/CommitMgr.Running (data.AtomicNode), generalized from
// "running" specifically to any named database.
package datastore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/danos/configd/internal/logging"
	"github.com/danos/configd/internal/mgmterror"
	"github.com/danos/configd/internal/xom"
)

func init() {
	xom.SetErrorFactories(
		func(path string) error { e := mgmterror.NewDataExistsError(path); return e },
		func(path string) error { e := mgmterror.NewDataMissingError(path); return e },
	)
}

// Presence is the result of Exists.
type Presence int

const (
	Absent Presence = iota
	Present
)

type database struct {
	mu       sync.Mutex // serializes concurrent Put against this db
	name     string
	persist  bool // on-disk vs volatile (tmp is volatile)
	path     string
	tree     *xom.Node // current content; nil means Present-but-empty is still a Node
	lockedBy string    // session id holding the advisory lock, "" if unlocked
}

// Store is the Datastore Layer: a registry of named Databases plus the
// serialization and on-disk persistence rules described in spec.md §4.1.
type Store struct {
	mu   sync.RWMutex
	dbs  map[string]*database
	dir  string
	gate *logging.Gate
}

// New returns a Store persisting on-disk databases under dir.
func New(dir string, gate *logging.Gate) *Store {
	if gate == nil {
		gate = logging.NewGate(os.Stderr)
	}
	return &Store{dbs: map[string]*database{}, dir: dir, gate: gate}
}

func (s *Store) dbFile(name string) string {
	return filepath.Join(s.dir, name+".xml")
}

func (s *Store) get(name string) (*database, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dbs[name]
	return d, ok
}

// Exists reports whether db is known to the store, matching the
// non-mutating exists(db) primitive.
func (s *Store) Exists(name string) Presence {
	if _, ok := s.get(name); ok {
		return Present
	}
	if _, err := os.Stat(s.dbFile(name)); err == nil {
		return Present
	}
	return Absent
}

// Create idempotently creates an empty, schema-valid database. Volatile
// databases (tmp) are never written to disk; persistent ones are,
// failing with mgmterror.KindIo if the backing file cannot be created.
func (s *Store) Create(name string, persist bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dbs[name]; ok {
		return nil // idempotent
	}
	d := &database{name: name, persist: persist, path: s.dbFile(name), tree: xom.NewTree()}
	if persist {
		if err := os.MkdirAll(s.dir, 0750); err != nil {
			return mgmterror.NewIoError(fmt.Sprintf("create %s: %v", name, err))
		}
		if _, err := os.Stat(d.path); os.IsNotExist(err) {
			if err := writeFile(d.path, d.tree); err != nil {
				return mgmterror.NewIoError(fmt.Sprintf("create %s: %v", name, err))
			}
		}
	}
	s.dbs[name] = d
	return nil
}

// Reset truncates db's content to the canonical empty configuration
// (P4: idempotent -- reset(db);reset(db) == reset(db)).
func (s *Store) Reset(name string) error {
	d, ok := s.get(name)
	if !ok {
		return mgmterror.NewDataMissingError("/" + name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tree = xom.NewTree()
	if d.persist {
		return writeFile(d.path, d.tree)
	}
	return nil
}

// Copy atomically replaces dst's content with src's. On failure dst is
// left unchanged, satisfying the copy(src,dst) contract in spec.md
// §4.1.
func (s *Store) Copy(src, dst string) error {
	sd, ok := s.get(src)
	if !ok {
		return mgmterror.NewDataMissingError("/" + src)
	}
	dd, ok := s.get(dst)
	if !ok {
		return mgmterror.NewDataMissingError("/" + dst)
	}
	sd.mu.Lock()
	clone := sd.tree.Clone()
	sd.mu.Unlock()

	dd.mu.Lock()
	defer dd.mu.Unlock()
	if dd.persist {
		if err := writeFile(dd.path, clone); err != nil {
			return mgmterror.NewIoError(fmt.Sprintf("copy %s->%s: %v", src, dst, err))
		}
	}
	dd.tree = clone
	return nil
}

// Restore overwrites db's content with tree directly, bypassing merge
// semantics. It is used only by the Transaction Engine's undo path
// (spec.md §4.5 COMMITTING-failure rollback, and the last-resort
// restore after a failed publish) and by the Startup Orchestrator's
// pre-failsafe backup/restore.
func (s *Store) Restore(name string, tree *xom.Node) error {
	d, ok := s.get(name)
	if !ok {
		return mgmterror.NewDataMissingError("/" + name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	clone := tree.Clone()
	if d.persist {
		if err := writeFile(d.path, clone); err != nil {
			return mgmterror.NewIoError(fmt.Sprintf("restore %s: %v", name, err))
		}
	}
	d.tree = clone
	return nil
}

// Delete removes db; absence is not an error.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dbs[name]
	if !ok {
		return nil
	}
	delete(s.dbs, name)
	if d.persist {
		if err := os.Remove(d.path); err != nil && !os.IsNotExist(err) {
			return mgmterror.NewIoError(fmt.Sprintf("delete %s: %v", name, err))
		}
	}
	return nil
}

// Read returns the configured subtree of db, optionally filtered by an
// XPath-lite expression (internal/xom.Eval); an absent root yields an
// empty tree rather than an error, per spec.md §4.1.
func (s *Store) Read(name string, xpathFilter string) (*xom.Node, error) {
	d, ok := s.get(name)
	if !ok {
		return xom.NewTree(), nil
	}
	d.mu.Lock()
	clone := d.tree.Clone()
	d.mu.Unlock()

	if xpathFilter == "" {
		return clone, nil
	}
	matches := xom.Eval(clone, xpathFilter)
	filtered := xom.NewTree()
	for _, m := range matches {
		filtered.AddChild(m.Clone())
	}
	return filtered, nil
}

// PutResult is the outcome of Put.
type PutResult struct {
	ValidationFailed mgmterror.ErrorList
}

// Put writes tree into db under the given NETCONF default-operation,
// serialized per-database so concurrent writers never interleave
// (spec.md §4.1: "the layer must serialize concurrent put operations
// against the same database; reads may proceed concurrently").
func (s *Store) Put(name string, op xom.Operation, tree *xom.Node, actorID string) (*PutResult, error) {
	d, ok := s.get(name)
	if !ok {
		return nil, mgmterror.NewDataMissingError("/" + name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	merged, err := xom.Merge(d.tree, tree, op)
	if err != nil {
		return nil, err
	}
	if d.persist {
		if err := writeFile(d.path, merged); err != nil {
			return nil, mgmterror.NewIoError(fmt.Sprintf("put %s: %v", name, err))
		}
	}
	d.tree = merged
	s.gate.Log(logging.LevelDebug, logging.TypeCommit, "datastore put",
		map[string]interface{}{"db": name, "op": string(op), "actor": actorID})
	return &PutResult{}, nil
}

// Lock acquires the advisory, per-session, per-database lock described
// in spec.md §4.7 / I2. It returns mgmterror.NewLockDeniedError naming
// the current holder if already locked by a different session.
func (s *Store) Lock(name, sessionID string) error {
	d, ok := s.get(name)
	if !ok {
		return mgmterror.NewDataMissingError("/" + name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lockedBy != "" && d.lockedBy != sessionID {
		return mgmterror.NewLockDeniedError(d.lockedBy)
	}
	d.lockedBy = sessionID
	return nil
}

// Unlock releases name's advisory lock if held by sessionID; unlocking
// an already-unlocked database is not an error (idempotent, per spec.md
// §7).
func (s *Store) Unlock(name, sessionID string) error {
	d, ok := s.get(name)
	if !ok {
		return mgmterror.NewDataMissingError("/" + name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lockedBy != "" && d.lockedBy != sessionID {
		return mgmterror.NewLockDeniedError(d.lockedBy)
	}
	d.lockedBy = ""
	return nil
}

// LockHolder returns the session id currently holding name's lock, or
// "" if unlocked.
func (s *Store) LockHolder(name string) string {
	d, ok := s.get(name)
	if !ok {
		return ""
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lockedBy
}

func writeFile(path string, tree *xom.Node) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(tree.String()), 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
