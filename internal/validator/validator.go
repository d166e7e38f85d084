// Copyright (c) 2024, configd authors. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package validator implements spec.md §4.3: given a tree and a schema,
// check structural/semantic conformance and produce a machine-readable
// error document on failure. Grounded on the constraint categories
// exercised by the teacher's session/mandatory_test.go, leafref_test.go
// and must_test.go (required leaves, choice-case exclusivity, leafref
// resolution), re-expressed over this module's own schema.Node /
// xom.Node types rather than the teacher's YANG engine. "must"
// expressions recorded on schema.Node.MustExprs are not evaluated.
package validator

import (
	"fmt"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/danos/configd/internal/mgmterror"
	"github.com/danos/configd/internal/schema"
	"github.com/danos/configd/internal/xom"
)

// Validator checks ConfigTrees against a schema.Spec. A bounded LRU
// cache of schema-path -> constraint-kind avoids re-walking a schema
// node's constraint metadata for every instance of a frequently
// revisited list entry under sustained load (SPEC_FULL.md §4's domain
// stack entry for github.com/hashicorp/golang-lru/v2).
type Validator struct {
	cache *lru.Cache[string, constraintInfo]
}

type constraintInfo struct {
	mandatoryChildren []string
	leafType          string
	leafrefPath       string
}

// New returns a Validator with a cache sized for cacheSize distinct
// schema paths; 1024 is a reasonable default for a single device's
// schema tree.
func New(cacheSize int) *Validator {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	c, _ := lru.New[string, constraintInfo](cacheSize)
	return &Validator{cache: c}
}

// Validate implements validate(tree, schema) -> {ok, errors[]}.
func (v *Validator) Validate(tree *xom.Node, spec *schema.Spec) mgmterror.ErrorList {
	var errs mgmterror.ErrorList
	if spec.Root != nil {
		v.walk(tree, spec.Root, "/"+spec.Root.Name(), &errs)
	}
	return errs
}

func (v *Validator) walk(node *xom.Node, sch *schema.Node, schPath string, errs *mgmterror.ErrorList) {
	if sch == nil {
		return
	}
	info := v.constraintsFor(sch, schPath)

	present := map[string]bool{}
	for _, c := range node.Children() {
		present[c.Name] = true
	}
	for _, name := range info.mandatoryChildren {
		if !present[name] {
			e := mgmterror.NewValidationError(fmt.Sprintf("mandatory node %q is missing", name))
			e.Path = node.Path() + "/" + name
			*errs = append(*errs, e)
		}
	}

	v.checkChoices(node, sch, errs)

	for _, c := range node.Children() {
		childSch, _ := sch.Child(c.Name).(*schema.Node)
		if childSch == nil {
			continue
		}
		if childSch.IsLeaf() {
			v.checkLeaf(c, childSch, errs)
			continue
		}
		v.walk(c, childSch, schPath+"/"+childSch.Name(), errs)
	}
}

func (v *Validator) constraintsFor(sch *schema.Node, key string) constraintInfo {
	if v.cache != nil {
		if info, ok := v.cache.Get(key); ok {
			return info
		}
	}
	var info constraintInfo
	for _, c := range sch.Children() {
		if c.Mandatory() {
			info.mandatoryChildren = append(info.mandatoryChildren, c.Name())
		}
	}
	if sch.IsLeaf() {
		info.leafType = sch.TypeName
		info.leafrefPath = sch.LeafrefPath
	}
	if v.cache != nil {
		v.cache.Add(key, info)
	}
	return info
}

// checkChoices enforces "choice cases are mutually exclusive": at most
// one of a choice's declared cases may have children present under node.
func (v *Validator) checkChoices(node *xom.Node, sch *schema.Node, errs *mgmterror.ErrorList) {
	for _, c := range sch.Children() {
		if c.NodeKind != schema.KindChoice {
			continue
		}
		var present []string
		for _, caseName := range c.ChoiceCases {
			caseSch, _ := c.Child(caseName).(*schema.Node)
			if caseSch == nil {
				continue
			}
			for _, childName := range childNames(caseSch) {
				if node.Child(childName, "") != nil {
					present = append(present, caseName)
					break
				}
			}
		}
		if len(present) > 1 {
			e := mgmterror.NewValidationError(
				fmt.Sprintf("choice %q has multiple cases present: %v", c.Name(), present))
			e.Path = node.Path()
			*errs = append(*errs, e)
		}
	}
}

func childNames(sch *schema.Node) []string {
	var out []string
	for _, c := range sch.Children() {
		out = append(out, c.Name())
	}
	return out
}

// checkLeaf validates a single leaf's type and, for a leafref, that its
// target resolves.
func (v *Validator) checkLeaf(node *xom.Node, sch *schema.Node, errs *mgmterror.ErrorList) {
	switch sch.TypeName {
	case "int8":
		if n, err := strconv.ParseInt(node.Value, 10, 64); err != nil || n < -128 || n > 127 {
			e := mgmterror.NewValidationError(fmt.Sprintf("value %q is out of range for int8", node.Value))
			e.Path = node.Path()
			e.Tag = mgmterror.TagInvalidValue
			*errs = append(*errs, e)
		}
	case "uint8":
		if n, err := strconv.ParseUint(node.Value, 10, 64); err != nil || n > 255 {
			e := mgmterror.NewValidationError(fmt.Sprintf("value %q is out of range for uint8", node.Value))
			e.Path = node.Path()
			e.Tag = mgmterror.TagInvalidValue
			*errs = append(*errs, e)
		}
	case "boolean":
		if node.Value != "true" && node.Value != "false" {
			e := mgmterror.NewValidationError(fmt.Sprintf("value %q is not a valid boolean", node.Value))
			e.Path = node.Path()
			e.Tag = mgmterror.TagInvalidValue
			*errs = append(*errs, e)
		}
	}

	if sch.LeafrefPath != "" {
		root := node
		for root.Parent() != nil {
			root = root.Parent()
		}
		if xom.First(root, sch.LeafrefPath) == nil {
			e := mgmterror.NewValidationError(
				fmt.Sprintf("leafref %q does not resolve to an existing instance", sch.LeafrefPath))
			e.Path = node.Path()
			*errs = append(*errs, e)
		}
	}
}
