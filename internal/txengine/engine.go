// Copyright (c) 2024, configd authors. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package txengine is the Transaction Engine (spec.md §4.5): the commit
// state machine that diffs a source database against a target, fires
// plugin phases in order, and guarantees atomicity. Grounded on the
// channel-serialized single-writer design of session/commitmgr.go's
// CommitMgr (one goroutine processes commit requests sequentially,
// exactly spec.md §5's "one primary worker serializes datastore
// mutations") and on the phase sequencing of session/commit.go's
// commitctx (pre-validate -> validate -> commit -> commit-done ->
// rollback-on-failure).
package txengine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/danos/configd/internal/datastore"
	"github.com/danos/configd/internal/logging"
	"github.com/danos/configd/internal/mgmterror"
	"github.com/danos/configd/internal/metrics"
	"github.com/danos/configd/internal/plugin"
	"github.com/danos/configd/internal/schema"
	"github.com/danos/configd/internal/validator"
	"github.com/danos/configd/internal/xom"
)

// State is one of the Transaction Engine's state machine states.
type State string

const (
	StateInit         State = "INIT"
	StateDiffed       State = "DIFFED"
	StatePreValidated State = "PRE_VALIDATED"
	StateValidated    State = "VALIDATED"
	StateCommitting   State = "COMMITTING"
	StateDone         State = "DONE"
	StateFailed       State = "FAILED"
)

// Outcome classifies a terminal Result, matching spec.md §4.5's failure
// semantics vocabulary.
type Outcome string

const (
	OutcomeOK              Outcome = "OK"
	OutcomeBrokenSource    Outcome = "BROKEN_SOURCE"
	OutcomeValidationFailed Outcome = "VALIDATION_FAILED"
	OutcomeCommitFailed    Outcome = "COMMIT_FAILED"
	OutcomeUnrecoverable   Outcome = "UNRECOVERABLE"
)

// Transaction is the spec.md §3 Transaction entity. It exclusively owns
// its diff and intermediate tmp-db content; ownership of the resulting
// tree transfers into the Datastore only at the terminal DONE stage.
type Transaction struct {
	id        string
	sourceDB  string
	targetDB  string
	actorID   string
	state     State
	candidate *xom.Node // source content, read once at DIFF
	running   *xom.Node // target content, read once at DIFF
	diff      *xom.Diff
	outcome   Outcome
	errs      mgmterror.ErrorList
	failedPlugin string
}

func (t *Transaction) ID() string          { return t.id }
func (t *Transaction) SourceDB() string    { return t.sourceDB }
func (t *Transaction) TargetDB() string    { return t.targetDB }
func (t *Transaction) Diff() *xom.Diff     { return t.diff }
func (t *Transaction) Candidate() *xom.Node { return t.candidate }
func (t *Transaction) Running() *xom.Node  { return t.running }
func (t *Transaction) State() State        { return t.state }

// Result is returned by Engine.Commit.
type Result struct {
	Outcome      Outcome
	Errors       mgmterror.ErrorList
	FailedPlugin string
}

func (r *Result) OK() bool { return r.Outcome == OutcomeOK }

// Engine serializes all commits against the Datastore through a single
// goroutine (the "primary worker" of spec.md §5), exactly as
// session/commitmgr.go's CommitMgr.run does with its reqch channel.
type Engine struct {
	ds       *datastore.Store
	registry *plugin.Registry
	validate *validator.Validator
	spec     *schema.Spec
	gate     *logging.Gate
	metrics  *metrics.Collector

	reqCh chan commitReq
}

type commitReq struct {
	ctx      context.Context
	source   string
	target   string
	actorID  string
	respCh   chan *Result
}

// New constructs an Engine and starts its single primary-worker
// goroutine.
func New(ds *datastore.Store, reg *plugin.Registry, v *validator.Validator, spec *schema.Spec, gate *logging.Gate, m *metrics.Collector) *Engine {
	e := &Engine{ds: ds, registry: reg, validate: v, spec: spec, gate: gate, metrics: m, reqCh: make(chan commitReq)}
	go e.run()
	return e
}

func (e *Engine) run() {
	for req := range e.reqCh {
		start := time.Now()
		res := e.commit(req.ctx, req.source, req.target, req.actorID)
		if e.metrics != nil {
			e.metrics.ObserveCommit(string(res.Outcome), time.Since(start))
		}
		req.respCh <- res
	}
}

// Commit runs the full state machine described in spec.md §4.5 for
// source -> target and blocks until it reaches a terminal state. It is
// safe to call concurrently; requests are serialized by the primary
// worker (spec.md §5: "RPCs on a single session are processed FIFO;
// across sessions, ordering is determined by arrival at the primary
// worker").
func (e *Engine) Commit(ctx context.Context, source, target, actorID string) *Result {
	respCh := make(chan *Result, 1)
	e.reqCh <- commitReq{ctx: ctx, source: source, target: target, actorID: actorID, respCh: respCh}
	return <-respCh
}

func (e *Engine) commit(ctx context.Context, source, target, actorID string) *Result {
	txn := &Transaction{id: uuid.NewString(), sourceDB: source, targetDB: target, actorID: actorID, state: StateInit}
	e.gate.Log(logging.LevelDebug, logging.TypeTxn, "commit start",
		map[string]interface{}{"txn_id": txn.id, "source": source, "target": target})

	// INIT: acquire the write-lock on target and snapshot its content
	// for the undo handle.
	if err := e.ds.Lock(target, actorID); err != nil {
		return &Result{Outcome: OutcomeCommitFailed, Errors: mgmterror.ErrorList{err.(*mgmterror.Error)}}
	}
	defer e.ds.Unlock(target, actorID)

	undo, err := e.ds.Read(target, "")
	if err != nil {
		return &Result{Outcome: OutcomeBrokenSource, Errors: mgmterror.ErrorList{mgmterror.NewIoError(err.Error())}}
	}

	// DIFF
	candidate, err := e.ds.Read(source, "")
	if err != nil {
		txn.state = StateFailed
		return &Result{Outcome: OutcomeBrokenSource, Errors: mgmterror.ErrorList{mgmterror.NewParseError(err.Error())}}
	}
	running, err := e.ds.Read(target, "")
	if err != nil {
		txn.state = StateFailed
		return &Result{Outcome: OutcomeBrokenSource, Errors: mgmterror.ErrorList{mgmterror.NewIoError(err.Error())}}
	}
	txn.candidate, txn.running = candidate, running
	txn.diff = xom.ComputeDiff(candidate, running)
	txn.state = StateDiffed

	// Edge case: empty diff or source==target content -> skip phases
	// 3-5 entirely, return ok immediately without rewriting target.
	if txn.diff.Empty() || xom.Equal(candidate, running) {
		txn.state = StateDone
		e.gate.Log(logging.LevelDebug, logging.TypeTxn, "commit no-op (empty diff)",
			map[string]interface{}{"txn_id": txn.id})
		return &Result{Outcome: OutcomeOK}
	}

	// PRE-VALIDATE
	for _, p := range e.registry.WithCapability(plugin.CapPreValidate) {
		if err := p.PreValidate(ctx, candidate); err != nil {
			txn.state = StateFailed
			return &Result{Outcome: OutcomeValidationFailed, Errors: mgmterror.AsErrorList(err), FailedPlugin: p.Name}
		}
	}
	txn.state = StatePreValidated

	// VALIDATE: static Validator against the source, then each
	// plugin's validate hook against the diff.
	if errs := e.validate.Validate(candidate, e.spec); len(errs) > 0 {
		txn.state = StateFailed
		return &Result{Outcome: OutcomeValidationFailed, Errors: errs}
	}
	validators := e.registry.WithCapability(plugin.CapValidate)
	for _, p := range validators {
		if err := p.Validate(ctx, txn); err != nil {
			txn.state = StateFailed
			return &Result{Outcome: OutcomeValidationFailed, Errors: mgmterror.AsErrorList(err), FailedPlugin: p.Name}
		}
	}
	txn.state = StateValidated

	// COMMIT: fire each plugin's commit in order; on failure, roll
	// back every plugin that had already succeeded, in reverse order,
	// then restore target from the undo handle.
	txn.state = StateCommitting
	committers := e.registry.WithCapability(plugin.CapCommit)
	var succeeded []*plugin.Plugin
	for _, p := range committers {
		if err := p.Commit(ctx, txn); err != nil {
			e.rollback(ctx, succeeded, txn)
			if restoreErr := e.restore(target, undo); restoreErr != nil {
				txn.state = StateFailed
				return &Result{Outcome: OutcomeUnrecoverable,
					Errors:       mgmterror.ErrorList{mgmterror.NewUnrecoverableError(restoreErr.Error())},
					FailedPlugin: p.Name}
			}
			txn.state = StateFailed
			return &Result{Outcome: OutcomeCommitFailed, Errors: mgmterror.AsErrorList(err), FailedPlugin: p.Name}
		}
		succeeded = append(succeeded, p)
	}

	// DONE: atomically publish source content to target, release
	// lock (deferred above), fire commit-done. A commit-done failure
	// is logged but does not undo the already-applied commit.
	if err := e.ds.Copy(source, target); err != nil {
		if restoreErr := e.restore(target, undo); restoreErr != nil {
			txn.state = StateFailed
			return &Result{Outcome: OutcomeUnrecoverable,
				Errors: mgmterror.ErrorList{mgmterror.NewUnrecoverableError(restoreErr.Error())}}
		}
		txn.state = StateFailed
		return &Result{Outcome: OutcomeCommitFailed, Errors: mgmterror.AsErrorList(err)}
	}
	txn.state = StateDone

	for _, p := range e.registry.WithCapability(plugin.CapCommitDone) {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.gate.Log(logging.LevelError, logging.TypeTxn, "commit-done panic",
						map[string]interface{}{"txn_id": txn.id, "plugin": p.Name, "panic": fmt.Sprint(r)})
				}
			}()
			p.CommitDone(ctx, txn)
		}()
	}

	e.gate.Log(logging.LevelDebug, logging.TypeTxn, "commit done",
		map[string]interface{}{"txn_id": txn.id, "source": source, "target": target})
	return &Result{Outcome: OutcomeOK}
}

// rollback invokes Rollback on every already-succeeded plugin, in
// reverse registration order, satisfying P8.
func (e *Engine) rollback(ctx context.Context, succeeded []*plugin.Plugin, txn *Transaction) {
	for i := len(succeeded) - 1; i >= 0; i-- {
		p := succeeded[i]
		if p.Has(plugin.CapRollback) {
			p.Rollback(ctx, txn)
		}
	}
}

func (e *Engine) restore(target string, undo *xom.Node) error {
	return e.ds.Restore(target, undo)
}

