// Copyright (c) 2024, configd authors. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package plugin implements the Plugin Registry (spec.md §4.4): an
// ordered set of registered extensions, each declaring a subset of the
// capability set {reset, pre-validate, validate, commit, commit-done,
// rollback, auth, extension-binding}. Grounded on the teacher's
// ComponentManager usage pattern (session/commitmgr.go calls
// sctx.CompMgr.ComponentSetRunningWithLog across all registered
// components in order) and re-expressed per spec.md §9's "callback
// table on plugins" redesign flag as a capability set rather than a
// function-pointer struct every plugin must fully populate.
package plugin

import (
	"context"
	"sort"

	"github.com/danos/configd/internal/mgmterror"
	"github.com/danos/configd/internal/xom"
)

// Capability names one lifecycle hook a plugin may implement.
type Capability string

const (
	CapReset      Capability = "reset"
	CapPreValidate Capability = "pre-validate"
	CapValidate   Capability = "validate"
	CapCommit     Capability = "commit"
	CapCommitDone Capability = "commit-done"
	CapRollback   Capability = "rollback"
	CapAuth       Capability = "auth"
	CapExtension  Capability = "extension-binding"
)

// TransactionView is the read-only surface of an in-flight Transaction
// exposed to plugin callbacks -- a narrow interface rather than handing
// plugins the full internal/txengine.Transaction, so a plugin cannot
// reach into engine-internal bookkeeping.
type TransactionView interface {
	ID() string
	SourceDB() string
	TargetDB() string
	Diff() *xom.Diff
	Candidate() *xom.Node
	Running() *xom.Node
}

// Plugin is the homogeneous registry entry. A plugin declares its
// capability set in the Capabilities map; the engine invokes only the hooks
// whose capability is present, leaving the rest nil-safe to omit.
type Plugin struct {
	Name         string
	Capabilities map[Capability]bool

	Reset       func(ctx context.Context, tmp *xom.Node) error
	PreValidate func(ctx context.Context, candidate *xom.Node) error
	Validate    func(ctx context.Context, txn TransactionView) error
	Commit      func(ctx context.Context, txn TransactionView) error
	CommitDone  func(ctx context.Context, txn TransactionView)
	Rollback    func(ctx context.Context, txn TransactionView)
	Auth        func(ctx context.Context, user string, op string) bool
	Extension   func(ctx context.Context, extName string, node interface{}) error
}

func (p *Plugin) Has(cap Capability) bool {
	return p.Capabilities != nil && p.Capabilities[cap]
}

// Registry is the ordered set of registered plugins. Registration order
// is stable (insertion order); Unregister compacts the slice but
// preserves the relative order of survivors, per spec.md §4.5's
// tie-break rule.
type Registry struct {
	order   []string
	plugins map[string]*Plugin
}

func NewRegistry() *Registry {
	return &Registry{plugins: map[string]*Plugin{}}
}

// Register appends p to the registry. Registering a name twice replaces
// the existing entry in place rather than appending a second time, so
// load order is never perturbed by a reload.
func (r *Registry) Register(p *Plugin) {
	if _, exists := r.plugins[p.Name]; !exists {
		r.order = append(r.order, p.Name)
	}
	r.plugins[p.Name] = p
}

// Unregister removes a plugin by name, compacting the order slice.
func (r *Registry) Unregister(name string) {
	delete(r.plugins, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// WithCapability returns the registered plugins that declare cap, in
// registration order.
func (r *Registry) WithCapability(cap Capability) []*Plugin {
	var out []*Plugin
	for _, name := range r.order {
		p := r.plugins[name]
		if p.Has(cap) {
			out = append(out, p)
		}
	}
	return out
}

// Len reports the number of registered plugins.
func (r *Registry) Len() int { return len(r.order) }

// Names returns the registered plugin names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// ExtensionHost is the pseudo-plugin spec.md §4.4 describes as
// "synthesized by the core to host internal extension callbacks" --
// one Extension(yext, ynode) hook fired once per unknown YANG extension
// statement encountered during schema load.
func ExtensionHost(handlers map[string]func(ctx context.Context, node interface{}) error) *Plugin {
	return &Plugin{
		Name:         "__extension_host__",
		Capabilities: map[Capability]bool{CapExtension: true},
		Extension: func(ctx context.Context, extName string, node interface{}) error {
			h, ok := handlers[extName]
			if !ok {
				return mgmterror.NewNotSupportedError("unknown extension statement " + extName)
			}
			return h(ctx, node)
		},
	}
}

// AuthGate evaluates registered auth-capable plugins: if none are
// registered the session is attributed to an anonymous identity and the
// request is allowed (spec.md §4.7); if any are registered, all must
// return true.
func (r *Registry) AuthGate(ctx context.Context, user, op string) bool {
	auths := r.WithCapability(CapAuth)
	if len(auths) == 0 {
		return true
	}
	for _, p := range auths {
		if !p.Auth(ctx, user, op) {
			return false
		}
	}
	return true
}

// sortedCopy returns the registered plugin names sorted by name rather
// than in registration order. Nothing in this module calls it.
func (r *Registry) sortedCopy() []string {
	out := r.Names()
	sort.Strings(out)
	return out
}
