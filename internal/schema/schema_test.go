// Copyright (c) 2024, configd authors. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danos/configd/internal/schema"
)

func buildSpec() *schema.Spec {
	root := schema.NewNode("config", schema.KindContainer)
	mtu := schema.NewNode("mtu", schema.KindLeaf)
	mtu.TypeName = "uint8"
	root.AddChild(mtu)
	return schema.NewSpec(root, []schema.ModuleFingerprint{{Module: "iana-if-type", Revision: "2023-01-01"}}, nil)
}

func TestNodeChildLookup(t *testing.T) {
	spec := buildSpec()
	child := spec.Root.Child("mtu")
	require.NotNil(t, child)
	assert.True(t, child.IsLeaf())
	assert.False(t, child.IsContainer())
}

func TestChildrenPreservesInsertionOrder(t *testing.T) {
	root := schema.NewNode("config", schema.KindContainer)
	root.AddChild(schema.NewNode("b", schema.KindLeaf))
	root.AddChild(schema.NewNode("a", schema.KindLeaf))
	names := []string{}
	for _, c := range root.Children() {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"b", "a"}, names)
}

func TestFingerprintAndMatches(t *testing.T) {
	spec := buildSpec()
	fp := spec.Fingerprint()
	assert.Equal(t, "2023-01-01", fp["iana-if-type"])
	assert.True(t, spec.Matches(fp))

	stale := map[string]string{"iana-if-type": "2020-01-01"}
	assert.False(t, spec.Matches(stale))
}

func TestMatchesFailsOnModuleCountMismatch(t *testing.T) {
	spec := buildSpec()
	assert.False(t, spec.Matches(map[string]string{}))
}

func TestRegisterExtensionRecordsCallback(t *testing.T) {
	spec := buildSpec()
	called := false
	spec.RegisterExtension(func(name string, node *schema.Node) error {
		called = true
		return nil
	})
	require.Len(t, spec.Extensions(), 1)
	require.NoError(t, spec.Extensions()[0]("x", spec.Root))
	assert.True(t, called)
}
