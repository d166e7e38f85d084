// Copyright (c) 2024, configd authors. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package xom_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danos/configd/internal/xom"
)

func TestEvalRootStep(t *testing.T) {
	root := buildInterfaces()
	got := xom.Eval(root, "")
	require.Len(t, got, 1)
	assert.Equal(t, root, got[0])
}

func TestEvalKeyedStepResolvesListEntry(t *testing.T) {
	root := buildInterfaces()
	got := xom.First(root, "interfaces/interface[eth0]/mtu")
	require.NotNil(t, got)
	assert.Equal(t, "1500", got.Value)
}

func TestEvalUnknownKeyReturnsNoMatch(t *testing.T) {
	root := buildInterfaces()
	assert.Nil(t, xom.First(root, "interfaces/interface[eth1]/mtu"))
}

func TestEvalUnkeyedStepMatchesAnyKey(t *testing.T) {
	root := buildInterfaces()
	got := xom.Eval(root, "interfaces/interface")
	require.Len(t, got, 1)
	assert.Equal(t, "eth0", got[0].Key)
}
