// Copyright (c) 2024, configd authors. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package logging_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danos/configd/internal/logging"
)

func devNull(t *testing.T) *os.File {
	f, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestDefaultGateEnablesErrorNotDebug(t *testing.T) {
	g := logging.NewGate(devNull(t))
	assert.True(t, g.IsEnabledAt(logging.LevelError, logging.TypeCommit))
	assert.False(t, g.IsEnabledAt(logging.LevelDebug, logging.TypeCommit))
}

func TestSetRaisesAndLowersGate(t *testing.T) {
	g := logging.NewGate(devNull(t))
	g.Set(logging.TypeTxn, logging.LevelDebug)
	assert.True(t, g.IsEnabledAt(logging.LevelDebug, logging.TypeTxn))

	g.Set(logging.TypeTxn, logging.LevelNone)
	assert.False(t, g.IsEnabledAt(logging.LevelError, logging.TypeTxn))
}

func TestEventNilWhenGateClosed(t *testing.T) {
	g := logging.NewGate(devNull(t))
	g.Set(logging.TypeStartup, logging.LevelNone)
	assert.Nil(t, g.Event(logging.LevelError, logging.TypeStartup))
}

func TestLogDoesNotPanicWhenGateOpen(t *testing.T) {
	g := logging.NewGate(devNull(t))
	g.Set(logging.TypeCommit, logging.LevelDebug)
	assert.NotPanics(t, func() {
		g.Log(logging.LevelDebug, logging.TypeCommit, "commit start", map[string]interface{}{"txn_id": "abc"})
	})
}

func TestMapLevelAndTypeNameRoundtrip(t *testing.T) {
	lvl, err := logging.MapLevelNameToLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, logging.LevelDebug, lvl)

	typ, err := logging.MapTypeName("txn")
	require.NoError(t, err)
	assert.Equal(t, logging.TypeTxn, typ)

	_, err = logging.MapLevelNameToLevel("bogus")
	assert.Error(t, err)
}

func TestStatusReportsEveryType(t *testing.T) {
	g := logging.NewGate(devNull(t))
	status := g.Status()
	assert.Equal(t, "error", status["commit"])
	assert.Equal(t, "error", status["startup"])
	assert.Equal(t, "error", status["txn"])
}
