// Copyright (c) 2024, configd authors. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package xom

import "strings"

// Eval implements the reduced XPath subset the core actually needs: a
// '/'-separated sequence of step names, each optionally keyed with
// "[key]" for list entries, rooted at n. The full XPath grammar
// (predicates with arbitrary expressions, axes, functions) is an
// out-of-scope external collaborator per spec.md §1; this subset covers
// the read(db, xpath_filter?) use in spec.md §4.1 and the leafref
// resolution check the Validator performs structurally rather than
// through a general evaluator.
//
// No suitable pack library provides an XPath evaluator over this custom
// tree type (none of the retrieved repos embed one), so this reduced
// form is hand-written rather than adapted from a dependency; see
// DESIGN.md.
func Eval(n *Node, expr string) []*Node {
	expr = strings.TrimPrefix(expr, "/")
	if expr == "" {
		return []*Node{n}
	}
	steps := strings.Split(expr, "/")
	cur := []*Node{n}
	for _, step := range steps {
		name, key := splitStep(step)
		var next []*Node
		for _, c := range cur {
			for _, ch := range c.children {
				if ch.Name == name && (key == "" || ch.Key == key) {
					next = append(next, ch)
				}
			}
		}
		cur = next
		if len(cur) == 0 {
			return nil
		}
	}
	return cur
}

// First returns the first match of Eval, or nil.
func First(n *Node, expr string) *Node {
	m := Eval(n, expr)
	if len(m) == 0 {
		return nil
	}
	return m[0]
}

func splitStep(step string) (name, key string) {
	i := strings.IndexByte(step, '[')
	if i < 0 {
		return step, ""
	}
	j := strings.IndexByte(step, ']')
	if j < 0 || j < i {
		return step, ""
	}
	return step[:i], step[i+1 : j]
}
