// Copyright (c) 2024, configd authors. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package xom is the XML Object Model and schema binding layer (spec.md
// §4.2): in-memory labeled trees navigable both ways, with a per-node
// schema pointer, structural mutation, a walking Apply primitive and a
// reduced XPath evaluator. It is the leaf library every other component
// in this module depends on.
package xom

import (
	"fmt"
	"sort"
	"strings"
)

// SchemaNode is the minimal surface the Validator and Transaction Engine
// need from a schema-bound node; the full YANG compiler (module loading,
// revision resolution) is out of scope per spec.md §1 and is supplied
// externally at boot through internal/schema.
type SchemaNode interface {
	Name() string
	IsList() bool
	IsLeaf() bool
	IsContainer() bool
	Mandatory() bool
	Child(name string) SchemaNode
}

// Node is one element of a ConfigTree: labeled, ordered among its
// siblings, and navigable in both directions.
type Node struct {
	Name     string
	Value    string // leaf/leaf-list value; empty for containers/lists
	Key      string // list-entry key value, set only on list-entry nodes
	Schema   SchemaNode
	parent   *Node
	children []*Node
}

// NewTree returns an empty root node named "config", matching the
// on-disk root element documented in spec.md §6.
func NewTree() *Node {
	return &Node{Name: "config"}
}

func NewNode(name string) *Node {
	return &Node{Name: name}
}

func (n *Node) Parent() *Node { return n.parent }

func (n *Node) Children() []*Node {
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// AddChild appends child to n's child list, the order children were
// inserted in is preserved -- lists are ordered collections per the YANG
// data model.
func (n *Node) AddChild(child *Node) *Node {
	child.parent = n
	n.children = append(n.children, child)
	return child
}

// RemoveChild detaches the first child matching name (and key, if
// non-empty) from n.
func (n *Node) RemoveChild(name, key string) bool {
	for i, c := range n.children {
		if c.Name == name && (key == "" || c.Key == key) {
			n.children = append(n.children[:i], n.children[i+1:]...)
			c.parent = nil
			return true
		}
	}
	return false
}

// Child returns the first direct child matching name and, for list
// entries, key.
func (n *Node) Child(name, key string) *Node {
	for _, c := range n.children {
		if c.Name == name && (key == "" || c.Key == key) {
			return c
		}
	}
	return nil
}

// Path returns the slash-separated path from the root to n, the YANG
// path keying used throughout the Transaction Engine's diff.
func (n *Node) Path() string {
	if n.parent == nil {
		return "/" + n.Name
	}
	seg := n.Name
	if n.Key != "" {
		seg += "[" + n.Key + "]"
	}
	return n.parent.Path() + "/" + seg
}

// Clone deep-copies the subtree rooted at n, detached from any parent.
// Transactions always operate on clones so that a caller's tree is never
// mutated out from under it (the core owns the diff's intermediate
// trees exclusively, per spec.md §3's ownership rules).
func (n *Node) Clone() *Node {
	c := &Node{Name: n.Name, Value: n.Value, Key: n.Key, Schema: n.Schema}
	for _, ch := range n.children {
		cc := ch.Clone()
		cc.parent = c
		c.children = append(c.children, cc)
	}
	return c
}

// Filter is a predicate used by Apply.
type Filter func(*Node) bool

// Apply walks the subtree rooted at n in document order, invoking fn on
// every node for which filter returns true (or every node, if filter is
// nil). This is the primitive the schema-population pass (binding a
// freshly parsed tree to its SchemaSpec) is built on.
func Apply(n *Node, filter Filter, fn func(*Node)) {
	if filter == nil || filter(n) {
		fn(n)
	}
	for _, c := range n.children {
		Apply(c, filter, fn)
	}
}

// Equal reports whether two trees are semantically identical: same
// shape, names, keys and leaf values, irrespective of slice capacity or
// schema pointer identity. Used to satisfy invariant I4 -- "byte-for-
// byte-semantically-identical" restoration after a failed commit -- and
// to detect the "source equals target" edge case in spec.md §4.5.
func Equal(a, b *Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Name != b.Name || a.Value != b.Value || a.Key != b.Key {
		return false
	}
	if len(a.children) != len(b.children) {
		return false
	}
	ac := sortedChildren(a)
	bc := sortedChildren(b)
	for i := range ac {
		if !Equal(ac[i], bc[i]) {
			return false
		}
	}
	return true
}

func sortedChildren(n *Node) []*Node {
	out := append([]*Node(nil), n.children...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// String renders the tree as an indented debug form; it is not the wire
// XML encoding (that codec is an out-of-scope external collaborator per
// spec.md §1) but is stable enough for tests and logs.
func (n *Node) String() string {
	var b strings.Builder
	var walk func(*Node, int)
	walk = func(n *Node, depth int) {
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString(n.Name)
		if n.Key != "" {
			fmt.Fprintf(&b, "[%s]", n.Key)
		}
		if n.Value != "" {
			fmt.Fprintf(&b, " = %s", n.Value)
		}
		b.WriteByte('\n')
		for _, c := range n.children {
			walk(c, depth+1)
		}
	}
	walk(n, 0)
	return b.String()
}
