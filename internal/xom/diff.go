// Copyright (c) 2024, configd authors. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package xom

// ChangeKind classifies one entry of a Diff, mirroring rpc.NodeStatus
// from the retrieved danos-configd sources (rpc/rpc.go's UNCHANGED /
// CHANGED / ADDED / DELETED), renamed to the vocabulary spec.md §3 uses
// for Transaction.diff ("additions, deletions, value changes").
type ChangeKind int

const (
	Unchanged ChangeKind = iota
	Added
	Removed
	Changed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Changed:
		return "changed"
	default:
		return "unchanged"
	}
}

// Change is one keyed entry of a Diff.
type Change struct {
	Path     string
	Kind     ChangeKind
	OldValue string
	NewValue string
}

// Diff is the transaction's body (spec.md §3, §4.5 step 2): the set of
// additions, deletions and value changes between a source and a target
// tree, keyed by YANG path.
type Diff struct {
	Changes []Change
}

func (d *Diff) Empty() bool { return len(d.Changes) == 0 }

// ComputeDiff walks source and target in lock-step by child identity
// (name, and key for list entries) and records every path that exists
// in one but not the other, or whose leaf value differs. It is the one
// place the Transaction Engine's DIFFED state depends on.
func ComputeDiff(source, target *Node) *Diff {
	d := &Diff{}
	diffNodes(source, target, d)
	return d
}

func diffNodes(src, tgt *Node, d *Diff) {
	srcChildren := indexChildren(src)
	tgtChildren := indexChildren(tgt)

	for key, sc := range srcChildren {
		tc, ok := tgtChildren[key]
		if !ok {
			d.Changes = append(d.Changes, Change{Path: sc.Path(), Kind: Added, NewValue: sc.Value})
			continue
		}
		if sc.Value != tc.Value {
			d.Changes = append(d.Changes, Change{Path: sc.Path(), Kind: Changed, OldValue: tc.Value, NewValue: sc.Value})
		}
		diffNodes(sc, tc, d)
	}
	for key, tc := range tgtChildren {
		if _, ok := srcChildren[key]; !ok {
			d.Changes = append(d.Changes, Change{Path: tc.Path(), Kind: Removed, OldValue: tc.Value})
		}
	}
}

func indexChildren(n *Node) map[string]*Node {
	out := make(map[string]*Node, len(n.children))
	for _, c := range n.children {
		k := c.Name
		if c.Key != "" {
			k += "[" + c.Key + "]"
		}
		out[k] = c
	}
	return out
}

// Merge applies src onto a clone of dst according to a NETCONF default-
// operation, following the shape of db_merge() in the clixon original
// (original_source/apps/backend/backend_startup.c): read source, then
// write into target with the given operation, preserving existing list
// identity in the target (spec.md §4.1's merge semantics).
type Operation string

const (
	OpMerge   Operation = "merge"
	OpReplace Operation = "replace"
	OpCreate  Operation = "create"
	OpDelete  Operation = "delete"
	OpRemove  Operation = "remove"
	OpNone    Operation = "none"
)

// Merge returns a new tree that is dst with src merged/replaced/created/
// deleted/removed into it per op, without mutating either input.
// It returns a nil tree and an error if op is "delete" and the targeted
// content is absent -- spec.md §4.1: "a delete op on absent content is an error,
// remove is not".
func Merge(dst, src *Node, op Operation) (*Node, error) {
	result := dst.Clone()
	switch op {
	case OpReplace:
		return src.Clone(), nil
	case OpCreate:
		if err := mergeCreate(result, src); err != nil {
			return nil, err
		}
	case OpDelete:
		if err := mergeDelete(result, src, true); err != nil {
			return nil, err
		}
	case OpRemove:
		_ = mergeDelete(result, src, false)
	case OpNone:
		// nothing to do; target retains its current content
	case OpMerge:
		mergeInto(result, src)
	default:
		mergeInto(result, src)
	}
	return result, nil
}

func mergeInto(dst, src *Node) {
	for _, sc := range src.children {
		dc := dst.Child(sc.Name, sc.Key)
		if dc == nil {
			dst.AddChild(sc.Clone())
			continue
		}
		if sc.children == nil {
			dc.Value = sc.Value
			continue
		}
		mergeInto(dc, sc)
	}
}

func mergeCreate(dst, src *Node) error {
	for _, sc := range src.children {
		if dst.Child(sc.Name, sc.Key) != nil {
			return dataExistsErr(sc.Path())
		}
		dst.AddChild(sc.Clone())
	}
	return nil
}

func mergeDelete(dst, src *Node, mustExist bool) error {
	for _, sc := range src.children {
		if dst.Child(sc.Name, sc.Key) == nil {
			if mustExist {
				return dataMissingErr(sc.Path())
			}
			continue
		}
		dst.RemoveChild(sc.Name, sc.Key)
	}
	return nil
}

// dataExistsErr/dataMissingErr are declared as vars so internal/datastore
// can swap in mgmterror-backed errors without xom importing mgmterror
// (xom is a leaf package per spec.md §4.2, used by every other
// component; it must not depend back on them).
var (
	dataExistsErrFn  func(path string) error
	dataMissingErrFn func(path string) error
)

func dataExistsErr(path string) error {
	if dataExistsErrFn != nil {
		return dataExistsErrFn(path)
	}
	return errString("data already exists: " + path)
}

func dataMissingErr(path string) error {
	if dataMissingErrFn != nil {
		return dataMissingErrFn(path)
	}
	return errString("data does not exist: " + path)
}

// SetErrorFactories lets a higher layer (internal/datastore) install
// mgmterror-typed constructors so Merge's errors carry proper NETCONF
// error-tags instead of plain strings.
func SetErrorFactories(exists, missing func(path string) error) {
	dataExistsErrFn = exists
	dataMissingErrFn = missing
}

type errString string

func (e errString) Error() string { return string(e) }
