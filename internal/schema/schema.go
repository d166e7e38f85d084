// Copyright (c) 2024, configd authors. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package schema models the SchemaSpec entity from spec.md §3: a loaded
// YANG module set, immutable after boot, shared freely across the
// primary worker and any reader goroutines. Compiling YANG source text
// into this representation -- module loading, revision resolution,
// extension statement parsing -- is explicitly out of scope (spec.md
// §1: "the XML tree library, XPath evaluator ... assumed available";
// "YANG file loading"); this package only carries the compiled-form data
// structure that internal/validator and internal/xom consume.
package schema

import "github.com/danos/configd/internal/xom"

// Kind enumerates the handful of YANG node kinds the Validator needs to
// distinguish.
type Kind int

const (
	KindContainer Kind = iota
	KindList
	KindLeaf
	KindLeafList
	KindChoice
	KindCase
)

// Node is a compiled schema node, implementing xom.SchemaNode.
type Node struct {
	NodeName     string
	NodeKind     Kind
	IsMandatory  bool
	TypeName     string   // leaf type, e.g. "int8", "string"
	LeafrefPath  string   // non-empty for a leafref leaf
	MustExprs    []string // "must" constraint expressions; carried only, the Validator does not evaluate them
	ChoiceCases  []string // for KindChoice: names of the mutually exclusive cases
	children     map[string]*Node
	childOrder   []string
}

func NewNode(name string, kind Kind) *Node {
	return &Node{NodeName: name, NodeKind: kind, children: map[string]*Node{}}
}

func (n *Node) Name() string       { return n.NodeName }
func (n *Node) IsList() bool       { return n.NodeKind == KindList }
func (n *Node) IsLeaf() bool       { return n.NodeKind == KindLeaf || n.NodeKind == KindLeafList }
func (n *Node) IsContainer() bool  { return n.NodeKind == KindContainer }
func (n *Node) Mandatory() bool    { return n.IsMandatory }

func (n *Node) Child(name string) xom.SchemaNode {
	c, ok := n.children[name]
	if !ok {
		return nil
	}
	return c
}

// AddChild registers child under n, preserving insertion order so choice
// case exclusivity and required-leaf checks can walk children
// deterministically.
func (n *Node) AddChild(child *Node) *Node {
	if n.children == nil {
		n.children = map[string]*Node{}
	}
	if _, exists := n.children[child.NodeName]; !exists {
		n.childOrder = append(n.childOrder, child.NodeName)
	}
	n.children[child.NodeName] = child
	return child
}

func (n *Node) Children() []*Node {
	out := make([]*Node, 0, len(n.childOrder))
	for _, name := range n.childOrder {
		out = append(out, n.children[name])
	}
	return out
}

// ModuleFingerprint is a single module's name -> revision pair, the unit
// the module-state annotation (spec.md I5) is built from.
type ModuleFingerprint struct {
	Module   string
	Revision string
}

// ExtensionCallback is invoked once per unknown YANG extension statement
// encountered during schema load (spec.md §4.4); it may mutate the
// schema tree it is handed.
type ExtensionCallback func(extensionName string, node *Node) error

// Spec is the immutable-after-boot SchemaSpec entity.
type Spec struct {
	Root       *Node
	Modules    []ModuleFingerprint
	Features   map[string]bool
	extensions []ExtensionCallback
}

func NewSpec(root *Node, modules []ModuleFingerprint, features map[string]bool) *Spec {
	if features == nil {
		features = map[string]bool{}
	}
	return &Spec{Root: root, Modules: modules, Features: features}
}

// RegisterExtension records a callback invoked during schema load for
// unknown statements; call only before the Spec is published (boot
// time) -- after that the Spec is shared freely per spec.md §5's
// "SchemaSpec is immutable after boot" guarantee and must not be
// mutated.
func (s *Spec) RegisterExtension(cb ExtensionCallback) {
	s.extensions = append(s.extensions, cb)
}

func (s *Spec) Extensions() []ExtensionCallback {
	return s.extensions
}

// Fingerprint renders the module set as the on-disk sidecar format
// described in SPEC_FULL.md §8: module name -> revision.
func (s *Spec) Fingerprint() map[string]string {
	out := make(map[string]string, len(s.Modules))
	for _, m := range s.Modules {
		out[m.Module] = m.Revision
	}
	return out
}

// Matches reports whether a persisted fingerprint still matches the live
// schema -- spec.md I5's "module-state annotation ... either matches the
// live schema or triggers an upgrade hook".
func (s *Spec) Matches(persisted map[string]string) bool {
	live := s.Fingerprint()
	if len(live) != len(persisted) {
		return false
	}
	for mod, rev := range live {
		if persisted[mod] != rev {
			return false
		}
	}
	return true
}
