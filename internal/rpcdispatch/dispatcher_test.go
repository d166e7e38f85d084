// Copyright (c) 2024, configd authors. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package rpcdispatch_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danos/configd/internal/datastore"
	"github.com/danos/configd/internal/logging"
	"github.com/danos/configd/internal/mgmterror"
	"github.com/danos/configd/internal/plugin"
	"github.com/danos/configd/internal/rpcdispatch"
	"github.com/danos/configd/internal/schema"
	"github.com/danos/configd/internal/session"
	"github.com/danos/configd/internal/txengine"
	"github.com/danos/configd/internal/validator"
	"github.com/danos/configd/internal/xom"
)

func newDispatcher(t *testing.T, reg *plugin.Registry) (*rpcdispatch.Dispatcher, *datastore.Store, *session.Manager) {
	gate := logging.NewGate(io.Discard)
	root := schema.NewNode("config", schema.KindContainer)
	root.AddChild(schema.NewNode("mtu", schema.KindLeaf))
	spec := schema.NewSpec(root, nil, nil)

	ds := datastore.New(t.TempDir(), gate)
	require.NoError(t, ds.Create("candidate", false))
	require.NoError(t, ds.Create("running", false))

	v := validator.New(16)
	txe := txengine.New(ds, reg, v, spec, gate, nil)
	sessions := session.NewManager()
	d := rpcdispatch.New(ds, txe, reg, sessions, v, spec, gate, nil)
	return d, ds, sessions
}

func TestCreateSessionIsIdempotent(t *testing.T) {
	d, _, _ := newDispatcher(t, plugin.NewRegistry())
	a := d.CreateSession("sess1", "alice")
	b := d.CreateSession("sess1", "alice")
	assert.Same(t, a, b)
}

func TestGetConfigUnauthorizedSessionFails(t *testing.T) {
	d, _, _ := newDispatcher(t, plugin.NewRegistry())
	_, err := d.GetConfig(context.Background(), "unknown-session", "running", "")
	assert.Error(t, err)
}

func TestEditConfigThenGetConfigRoundTrips(t *testing.T) {
	d, _, _ := newDispatcher(t, plugin.NewRegistry())
	d.CreateSession("sess1", "alice")

	tree := xom.NewTree()
	tree.AddChild(&xom.Node{Name: "mtu", Value: "1500"})
	require.NoError(t, d.EditConfig(context.Background(), "sess1", "candidate", xom.OpMerge, tree))

	got, err := d.GetConfig(context.Background(), "sess1", "candidate", "")
	require.NoError(t, err)
	require.NotNil(t, got.Child("mtu", ""))
	assert.Equal(t, "1500", got.Child("mtu", "").Value)
}

func TestEditConfigDeniedWhenLockedByAnotherSession(t *testing.T) {
	d, _, _ := newDispatcher(t, plugin.NewRegistry())
	d.CreateSession("sess1", "alice")
	d.CreateSession("sess2", "bob")
	require.NoError(t, d.Lock(context.Background(), "sess1", "candidate"))

	tree := xom.NewTree()
	tree.AddChild(&xom.Node{Name: "mtu", Value: "1500"})
	err := d.EditConfig(context.Background(), "sess2", "candidate", xom.OpMerge, tree)
	require.Error(t, err)
	var me *mgmterror.Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, mgmterror.TagLockDenied, me.Tag)
}

func TestLockThenUnlockReleasesForOtherSessions(t *testing.T) {
	d, ds, _ := newDispatcher(t, plugin.NewRegistry())
	d.CreateSession("sess1", "alice")
	d.CreateSession("sess2", "bob")

	require.NoError(t, d.Lock(context.Background(), "sess1", "candidate"))
	err := d.Lock(context.Background(), "sess2", "candidate")
	require.Error(t, err)

	require.NoError(t, d.Unlock(context.Background(), "sess1", "candidate"))
	assert.Equal(t, "", ds.LockHolder("candidate"))
	require.NoError(t, d.Lock(context.Background(), "sess2", "candidate"))
}

func TestCopyConfigDeniedWhenDestinationLocked(t *testing.T) {
	d, _, _ := newDispatcher(t, plugin.NewRegistry())
	d.CreateSession("sess1", "alice")
	d.CreateSession("sess2", "bob")
	require.NoError(t, d.Lock(context.Background(), "sess1", "running"))

	err := d.CopyConfig(context.Background(), "sess2", "candidate", "running")
	assert.Error(t, err)
}

func TestValidateReportsStaticValidatorErrors(t *testing.T) {
	root := schema.NewNode("config", schema.KindContainer)
	mandatory := schema.NewNode("mtu", schema.KindLeaf)
	mandatory.IsMandatory = true
	root.AddChild(mandatory)

	gate := logging.NewGate(io.Discard)
	ds := datastore.New(t.TempDir(), gate)
	require.NoError(t, ds.Create("candidate", false))
	require.NoError(t, ds.Create("running", false))
	spec := schema.NewSpec(root, nil, nil)
	v := validator.New(16)
	reg := plugin.NewRegistry()
	txe := txengine.New(ds, reg, v, spec, gate, nil)
	sessions := session.NewManager()
	d := rpcdispatch.New(ds, txe, reg, sessions, v, spec, gate, nil)
	d.CreateSession("sess1", "alice")

	errs := d.Validate(context.Background(), "sess1", "candidate")
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "mtu")
}

func TestCommitDelegatesToTransactionEngine(t *testing.T) {
	d, ds, _ := newDispatcher(t, plugin.NewRegistry())
	d.CreateSession("sess1", "alice")

	tree := xom.NewTree()
	tree.AddChild(&xom.Node{Name: "mtu", Value: "1500"})
	require.NoError(t, d.EditConfig(context.Background(), "sess1", "candidate", xom.OpMerge, tree))

	res := d.Commit(context.Background(), "sess1")
	require.True(t, res.OK())

	running, err := ds.Read("running", "")
	require.NoError(t, err)
	assert.Equal(t, "1500", running.Child("mtu", "").Value)
}

func TestCommitSucceedsAfterLockingOwnCommitTarget(t *testing.T) {
	d, ds, _ := newDispatcher(t, plugin.NewRegistry())
	d.CreateSession("sess1", "alice")

	tree := xom.NewTree()
	tree.AddChild(&xom.Node{Name: "mtu", Value: "1500"})
	require.NoError(t, d.EditConfig(context.Background(), "sess1", "candidate", xom.OpMerge, tree))

	// Locking "running" directly (not just "candidate") before committing
	// is a legitimate NETCONF pattern; Commit must not see the actor's own
	// lock on its own commit target as LockDenied.
	require.NoError(t, d.Lock(context.Background(), "sess1", "running"))

	res := d.Commit(context.Background(), "sess1")
	require.True(t, res.OK())

	running, err := ds.Read("running", "")
	require.NoError(t, err)
	assert.Equal(t, "1500", running.Child("mtu", "").Value)
}

func TestDiscardChangesRevertsCandidateToRunning(t *testing.T) {
	d, ds, _ := newDispatcher(t, plugin.NewRegistry())
	d.CreateSession("sess1", "alice")

	tree := xom.NewTree()
	tree.AddChild(&xom.Node{Name: "mtu", Value: "1500"})
	require.NoError(t, d.EditConfig(context.Background(), "sess1", "candidate", xom.OpMerge, tree))

	require.NoError(t, d.DiscardChanges(context.Background(), "sess1"))

	candidate, err := ds.Read("candidate", "")
	require.NoError(t, err)
	assert.Empty(t, candidate.Children())
}

func TestCreateSubscriptionIsReapedOnCloseSession(t *testing.T) {
	d, _, _ := newDispatcher(t, plugin.NewRegistry())
	d.CreateSession("sess1", "alice")

	stopped := make(chan struct{})
	_, err := d.CreateSubscription(context.Background(), "sess1", "interfaces", "", func(cancel <-chan struct{}) {
		<-cancel
		close(stopped)
	})
	require.NoError(t, err)

	require.NoError(t, d.CloseSession(context.Background(), "sess1"))
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("subscription was not reaped by CloseSession")
	}
}

func TestCloseSessionReleasesItsLocks(t *testing.T) {
	d, ds, _ := newDispatcher(t, plugin.NewRegistry())
	d.CreateSession("sess1", "alice")
	require.NoError(t, d.Lock(context.Background(), "sess1", "running"))

	require.NoError(t, d.CloseSession(context.Background(), "sess1"))
	assert.Equal(t, "", ds.LockHolder("running"))
}

func TestKillSessionReleasesTargetLocksAndClosesTarget(t *testing.T) {
	d, ds, sessions := newDispatcher(t, plugin.NewRegistry())
	d.CreateSession("sess1", "alice")
	d.CreateSession("sess2", "bob")
	require.NoError(t, d.Lock(context.Background(), "sess2", "running"))

	require.NoError(t, d.KillSession(context.Background(), "sess1", "sess2"))
	assert.Equal(t, "", ds.LockHolder("running"))

	_, err := sessions.Get("sess2")
	assert.Error(t, err)
}
