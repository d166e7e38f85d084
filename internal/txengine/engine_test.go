// Copyright (c) 2024, configd authors. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package txengine_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danos/configd/internal/datastore"
	"github.com/danos/configd/internal/logging"
	"github.com/danos/configd/internal/plugin"
	"github.com/danos/configd/internal/schema"
	"github.com/danos/configd/internal/txengine"
	"github.com/danos/configd/internal/validator"
	"github.com/danos/configd/internal/xom"
)

func newEngine(t *testing.T, reg *plugin.Registry) (*txengine.Engine, *datastore.Store) {
	gate := logging.NewGate(io.Discard)
	root := schema.NewNode("config", schema.KindContainer)
	mtu := schema.NewNode("mtu", schema.KindLeaf)
	mtu.TypeName = "uint8"
	root.AddChild(mtu)
	spec := schema.NewSpec(root, nil, nil)

	ds := datastore.New(t.TempDir(), gate)
	require.NoError(t, ds.Create("candidate", false))
	require.NoError(t, ds.Create("running", false))

	v := validator.New(16)
	e := txengine.New(ds, reg, v, spec, gate, nil)
	return e, ds
}

func putLeaf(t *testing.T, ds *datastore.Store, db, name, value string) {
	tree := xom.NewTree()
	tree.AddChild(&xom.Node{Name: name, Value: value})
	_, err := ds.Put(db, xom.OpMerge, tree, "sess1")
	require.NoError(t, err)
}

func TestCommitSourceEqualsTargetIsANoOpSuccess(t *testing.T) {
	e, ds := newEngine(t, plugin.NewRegistry())
	putLeaf(t, ds, "running", "mtu", "1500")

	res := e.Commit(context.Background(), "running", "running", "sess1")
	assert.True(t, res.OK())
	assert.Empty(t, res.Errors)

	running, err := ds.Read("running", "")
	require.NoError(t, err)
	assert.Equal(t, "1500", running.Child("mtu", "").Value)
}

func TestCommitNoOpWhenDiffEmpty(t *testing.T) {
	e, _ := newEngine(t, plugin.NewRegistry())
	res := e.Commit(context.Background(), "candidate", "running", "sess1")
	assert.True(t, res.OK())
}

func TestCommitPublishesCandidateIntoTarget(t *testing.T) {
	e, ds := newEngine(t, plugin.NewRegistry())
	putLeaf(t, ds, "candidate", "mtu", "1500")

	res := e.Commit(context.Background(), "candidate", "running", "sess1")
	require.True(t, res.OK())

	running, err := ds.Read("running", "")
	require.NoError(t, err)
	require.NotNil(t, running.Child("mtu", ""))
	assert.Equal(t, "1500", running.Child("mtu", "").Value)
}

func TestCommitRunsPluginsInRegistrationOrder(t *testing.T) {
	reg := plugin.NewRegistry()
	var order []string
	reg.Register(&plugin.Plugin{
		Name:         "first",
		Capabilities: map[plugin.Capability]bool{plugin.CapCommit: true},
		Commit: func(ctx context.Context, txn plugin.TransactionView) error {
			order = append(order, "first")
			return nil
		},
	})
	reg.Register(&plugin.Plugin{
		Name:         "second",
		Capabilities: map[plugin.Capability]bool{plugin.CapCommit: true},
		Commit: func(ctx context.Context, txn plugin.TransactionView) error {
			order = append(order, "second")
			return nil
		},
	})
	e, ds := newEngine(t, reg)
	putLeaf(t, ds, "candidate", "mtu", "1500")

	res := e.Commit(context.Background(), "candidate", "running", "sess1")
	require.True(t, res.OK())
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestCommitValidationFailurePreventsPublish(t *testing.T) {
	reg := plugin.NewRegistry()
	e, ds := newEngine(t, reg)
	putLeaf(t, ds, "candidate", "mtu", "9000") // out of uint8 range

	res := e.Commit(context.Background(), "candidate", "running", "sess1")
	assert.Equal(t, txengine.OutcomeValidationFailed, res.Outcome)
	assert.NotEmpty(t, res.Errors)

	running, err := ds.Read("running", "")
	require.NoError(t, err)
	assert.Empty(t, running.Children())
}

func TestCommitFailurePreValidateBlocksPublish(t *testing.T) {
	reg := plugin.NewRegistry()
	reg.Register(&plugin.Plugin{
		Name:         "gatekeeper",
		Capabilities: map[plugin.Capability]bool{plugin.CapPreValidate: true},
		PreValidate: func(ctx context.Context, candidate *xom.Node) error {
			return errors.New("rejected by policy")
		},
	})
	e, ds := newEngine(t, reg)
	putLeaf(t, ds, "candidate", "mtu", "1500")

	res := e.Commit(context.Background(), "candidate", "running", "sess1")
	assert.Equal(t, txengine.OutcomeValidationFailed, res.Outcome)
	assert.Equal(t, "gatekeeper", res.FailedPlugin)
}

func TestCommitFailureRollsBackSucceededPluginsInReverseOrder(t *testing.T) {
	reg := plugin.NewRegistry()
	var rolledBack []string
	reg.Register(&plugin.Plugin{
		Name: "alpha",
		Capabilities: map[plugin.Capability]bool{
			plugin.CapCommit:   true,
			plugin.CapRollback: true,
		},
		Commit:   func(ctx context.Context, txn plugin.TransactionView) error { return nil },
		Rollback: func(ctx context.Context, txn plugin.TransactionView) { rolledBack = append(rolledBack, "alpha") },
	})
	reg.Register(&plugin.Plugin{
		Name: "beta",
		Capabilities: map[plugin.Capability]bool{
			plugin.CapCommit: true,
		},
		Commit: func(ctx context.Context, txn plugin.TransactionView) error {
			return errors.New("beta failed to apply")
		},
	})
	e, ds := newEngine(t, reg)
	putLeaf(t, ds, "candidate", "mtu", "1500")

	res := e.Commit(context.Background(), "candidate", "running", "sess1")
	assert.Equal(t, txengine.OutcomeCommitFailed, res.Outcome)
	assert.Equal(t, "beta", res.FailedPlugin)
	assert.Equal(t, []string{"alpha"}, rolledBack)

	running, err := ds.Read("running", "")
	require.NoError(t, err)
	assert.Empty(t, running.Children())
}

func TestCommitDoneFailurePanicIsContainedAndDoesNotUndoCommit(t *testing.T) {
	reg := plugin.NewRegistry()
	reg.Register(&plugin.Plugin{
		Name:         "flaky-observer",
		Capabilities: map[plugin.Capability]bool{plugin.CapCommitDone: true},
		CommitDone: func(ctx context.Context, txn plugin.TransactionView) {
			panic("observer exploded")
		},
	})
	e, ds := newEngine(t, reg)
	putLeaf(t, ds, "candidate", "mtu", "1500")

	var res *txengine.Result
	assert.NotPanics(t, func() {
		res = e.Commit(context.Background(), "candidate", "running", "sess1")
	})
	require.True(t, res.OK())

	running, err := ds.Read("running", "")
	require.NoError(t, err)
	assert.Equal(t, "1500", running.Child("mtu", "").Value)
}

func TestCommitSucceedsWhenActorAlreadyHoldsTargetLock(t *testing.T) {
	e, ds := newEngine(t, plugin.NewRegistry())
	putLeaf(t, ds, "candidate", "mtu", "1500")
	require.NoError(t, ds.Lock("running", "sess1"))

	// Before the fix, the engine's own INIT-phase Lock used a fresh
	// internal transaction id rather than actorID, so a session that had
	// legitimately locked its own commit target would see LockDenied
	// against itself.
	res := e.Commit(context.Background(), "candidate", "running", "sess1")
	require.True(t, res.OK())
}

func TestCommitByNonHolderIsStillDeniedWhenTargetLockedByAnotherSession(t *testing.T) {
	e, ds := newEngine(t, plugin.NewRegistry())
	putLeaf(t, ds, "candidate", "mtu", "1500")
	require.NoError(t, ds.Lock("running", "sess1"))

	res := e.Commit(context.Background(), "candidate", "running", "sess2")
	assert.Equal(t, txengine.OutcomeCommitFailed, res.Outcome)
}

func TestCommitsAreSerializedAcrossConcurrentCallers(t *testing.T) {
	e, ds := newEngine(t, plugin.NewRegistry())
	putLeaf(t, ds, "candidate", "mtu", "1500")

	results := make(chan *txengine.Result, 4)
	for i := 0; i < 4; i++ {
		go func() {
			results <- e.Commit(context.Background(), "candidate", "running", "sess1")
		}()
	}
	for i := 0; i < 4; i++ {
		res := <-results
		assert.True(t, res.OK())
	}
}
