// Copyright (c) 2024, configd authors. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package session_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danos/configd/internal/session"
)

func TestCreateIsIdempotentPerID(t *testing.T) {
	m := session.NewManager()
	a := m.Create("sess1", "alice")
	b := m.Create("sess1", "bob")
	assert.Same(t, a, b)
	assert.Equal(t, "alice", b.User)
}

func TestGetUnknownSessionReturnsError(t *testing.T) {
	m := session.NewManager()
	_, err := m.Get("nope")
	assert.Error(t, err)
}

func TestRecordLockTracksHeldDatabases(t *testing.T) {
	m := session.NewManager()
	sess := m.Create("sess1", "alice")
	sess.RecordLock("running")
	sess.RecordLock("candidate")
	assert.ElementsMatch(t, []string{"running", "candidate"}, sess.HeldLocks())

	sess.RecordUnlock("running")
	assert.Equal(t, []string{"candidate"}, sess.HeldLocks())
}

func TestCloseRemovesSessionFromTable(t *testing.T) {
	m := session.NewManager()
	m.Create("sess1", "alice")
	require.NoError(t, m.Close("sess1"))

	_, err := m.Get("sess1")
	assert.Error(t, err)
}

func TestCloseOnUnknownSessionIsNotAnError(t *testing.T) {
	m := session.NewManager()
	assert.NoError(t, m.Close("never-existed"))
}

func TestCloseStopsEverySubscriptionAndWaitsForExit(t *testing.T) {
	m := session.NewManager()
	sess := m.Create("sess1", "alice")
	stopped := make(chan struct{})
	m.Subscribe(sess, "interfaces", "", func(cancel <-chan struct{}) {
		<-cancel
		close(stopped)
	})

	require.NoError(t, m.Close("sess1"))
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("subscription worker was not stopped by Close")
	}
}

func TestKillIsEquivalentToClose(t *testing.T) {
	m := session.NewManager()
	m.Create("sess1", "alice")
	require.NoError(t, m.Kill("sess1"))
	_, err := m.Get("sess1")
	assert.Error(t, err)
}

func TestSubscribeWorkerExitingOnItsOwnLetsShutdownReturnPromptly(t *testing.T) {
	m := session.NewManager()
	sess := m.Create("sess1", "alice")
	m.Subscribe(sess, "interfaces", "", func(cancel <-chan struct{}) {
		// exits immediately on its own, without waiting on cancel
	})

	done := make(chan struct{})
	go func() {
		m.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Shutdown did not return after subscription worker had already exited")
	}
}

func TestShutdownStopsAllSessionsSubscriptions(t *testing.T) {
	m := session.NewManager()
	sessA := m.Create("sess1", "alice")
	sessB := m.Create("sess2", "bob")
	var stoppedA, stoppedB bool
	doneA := make(chan struct{})
	doneB := make(chan struct{})
	m.Subscribe(sessA, "interfaces", "", func(cancel <-chan struct{}) {
		<-cancel
		stoppedA = true
		close(doneA)
	})
	m.Subscribe(sessB, "routes", "", func(cancel <-chan struct{}) {
		<-cancel
		stoppedB = true
		close(doneB)
	})

	m.Shutdown()
	<-doneA
	<-doneB
	assert.True(t, stoppedA)
	assert.True(t, stoppedB)

	_, err := m.Get("sess1")
	assert.Error(t, err)
	_, err = m.Get("sess2")
	assert.Error(t, err)
}
