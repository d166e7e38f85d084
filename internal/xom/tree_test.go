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

func buildInterfaces() *xom.Node {
	root := xom.NewTree()
	ifaces := root.AddChild(xom.NewNode("interfaces"))
	eth0 := xom.NewNode("interface")
	eth0.Key = "eth0"
	eth0.AddChild(&xom.Node{Name: "mtu", Value: "1500"})
	ifaces.AddChild(eth0)
	return root
}

func TestAddChildParentAndChildren(t *testing.T) {
	root := buildInterfaces()
	ifaces := root.Children()[0]
	require.Len(t, ifaces.Children(), 1)
	assert.Equal(t, root, ifaces.Parent())
	assert.Equal(t, "eth0", ifaces.Children()[0].Key)
}

func TestChildLooksUpByNameAndKey(t *testing.T) {
	root := buildInterfaces()
	ifaces := root.Children()[0]
	found := ifaces.Child("interface", "eth0")
	require.NotNil(t, found)
	assert.Nil(t, ifaces.Child("interface", "eth1"))
}

func TestRemoveChild(t *testing.T) {
	root := buildInterfaces()
	ifaces := root.Children()[0]
	ok := ifaces.RemoveChild("interface", "eth0")
	assert.True(t, ok)
	assert.Empty(t, ifaces.Children())
	assert.False(t, ifaces.RemoveChild("interface", "eth0"))
}

func TestPathRendersKeyedSteps(t *testing.T) {
	root := buildInterfaces()
	mtu := root.Children()[0].Children()[0].Children()[0]
	assert.Equal(t, "/config/interfaces/interface[eth0]/mtu", mtu.Path())
}

func TestCloneIsDeepAndIndependent(t *testing.T) {
	root := buildInterfaces()
	clone := root.Clone()
	require.True(t, xom.Equal(root, clone))

	clone.Children()[0].Children()[0].Value = "9000"
	assert.False(t, xom.Equal(root, clone))
}

func TestEqualIgnoresChildOrder(t *testing.T) {
	a := xom.NewTree()
	a.AddChild(&xom.Node{Name: "x", Value: "1"})
	a.AddChild(&xom.Node{Name: "y", Value: "2"})

	b := xom.NewTree()
	b.AddChild(&xom.Node{Name: "y", Value: "2"})
	b.AddChild(&xom.Node{Name: "x", Value: "1"})

	assert.True(t, xom.Equal(a, b))
}

func TestApplyVisitsEveryMatchingNode(t *testing.T) {
	root := buildInterfaces()
	var names []string
	xom.Apply(root, nil, func(n *xom.Node) { names = append(names, n.Name) })
	assert.Equal(t, []string{"config", "interfaces", "interface", "mtu"}, names)
}
