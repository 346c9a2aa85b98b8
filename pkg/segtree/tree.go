// Package segtree implements the hierarchical segment tree shared by the
// route registry and the action registry: a tree of path segments with
// static, single-param, and catch-all children, walked left to right to
// match a normalized request path. The route registry instantiates it
// with exclusive child slots (a node may have static children or a param
// child, never both); the action registry instantiates it without that
// constraint, since overlapping before/after patterns are permitted.
//
// Mutation is persistent: Insert never mutates an existing node in place.
// It returns a new root built by cloning only the nodes on the insertion
// path and structurally sharing every untouched subtree, so a reader
// holding a reference to the old root never observes a partial write.
package segtree

import "errors"

// ErrChildConflict is returned when an insert would populate both a
// param child and a static child at the same node of an exclusive tree,
// or bind a different param/catch-all name at a position
// one is already bound at.
var ErrChildConflict = errors.New("segment conflicts with an existing sibling of a different kind")

// ErrCatchAllConflict is returned when an insert would give an exclusive
// tree's node both a terminal payload and a catch-all child, which makes
// matching the parent path ambiguous (it could stop there or descend into
// the catch-all with zero remaining segments).
var ErrCatchAllConflict = errors.New("catch-all child conflicts with a terminal payload at the same node")

// Node is one position in the segment tree. The zero value is an empty,
// non-exclusive node ready to use.
type Node[T any] struct {
	static       map[string]*Node[T]
	param        *Node[T]
	paramName    string
	catchAll     *Node[T]
	catchAllName string

	payload    T
	hasPayload bool

	exclusive bool
}

// NewNode creates an empty root node. exclusive selects the route-style
// mutual-exclusion invariant between static and param children.
func NewNode[T any](exclusive bool) *Node[T] {
	return &Node[T]{exclusive: exclusive}
}

// HasPayload reports whether this exact node carries a payload (a
// terminal route, or a before/after action bucket).
func (n *Node[T]) HasPayload() bool {
	return n != nil && n.hasPayload
}

// Payload returns the payload stored at this node, if any.
func (n *Node[T]) Payload() (T, bool) {
	if n == nil {
		var zero T
		return zero, false
	}
	return n.payload, n.hasPayload
}

// StaticChild returns the existing static child named name, or nil.
func (n *Node[T]) StaticChild(name string) *Node[T] {
	if n == nil {
		return nil
	}
	return n.static[name]
}

// ParamChild returns the existing param child, its bound name, and whether
// one exists.
func (n *Node[T]) ParamChild() (*Node[T], string, bool) {
	if n == nil || n.param == nil {
		return nil, "", false
	}
	return n.param, n.paramName, true
}

// CatchAllChild returns the existing catch-all child, its bound name, and
// whether one exists.
func (n *Node[T]) CatchAllChild() (*Node[T], string, bool) {
	if n == nil || n.catchAll == nil {
		return nil, "", false
	}
	return n.catchAll, n.catchAllName, true
}

// Merge computes the new payload to store at the terminal node of an
// Insert, given the existing payload (if any). It returns an error to
// abort the insert (e.g. a duplicate-registration error raised by the
// caller).
type Merge[T any] func(existing T, hasExisting bool) (T, error)

// Insert walks (creating as needed) the path described by segs from root,
// then applies merge at the terminal node. It returns the new tree root;
// root itself, and every node off the insertion path, are left untouched.
func Insert[T any](root *Node[T], segs []Segment, merge Merge[T]) (*Node[T], error) {
	if root == nil {
		root = &Node[T]{}
	}
	return insertAt(root, segs, 0, merge)
}

func insertAt[T any](n *Node[T], segs []Segment, idx int, merge Merge[T]) (*Node[T], error) {
	clone := *n

	if idx == len(segs) {
		if clone.exclusive && clone.catchAll != nil {
			return nil, ErrCatchAllConflict
		}
		newPayload, err := merge(clone.payload, clone.hasPayload)
		if err != nil {
			return nil, err
		}
		clone.payload = newPayload
		clone.hasPayload = true
		return &clone, nil
	}

	seg := segs[idx]
	switch seg.Kind {
	case Static:
		if clone.exclusive && clone.param != nil {
			return nil, ErrChildConflict
		}
		child := clone.static[seg.Text]
		if child == nil {
			child = &Node[T]{exclusive: clone.exclusive}
		}
		newChild, err := insertAt(child, segs, idx+1, merge)
		if err != nil {
			return nil, err
		}
		newStatic := make(map[string]*Node[T], len(clone.static)+1)
		for k, v := range clone.static {
			newStatic[k] = v
		}
		newStatic[seg.Text] = newChild
		clone.static = newStatic

	case Param:
		if clone.exclusive && len(clone.static) > 0 {
			return nil, ErrChildConflict
		}
		if clone.exclusive && clone.param != nil && clone.paramName != seg.Text {
			return nil, ErrChildConflict
		}
		child := clone.param
		if child == nil {
			child = &Node[T]{exclusive: clone.exclusive}
		}
		newChild, err := insertAt(child, segs, idx+1, merge)
		if err != nil {
			return nil, err
		}
		clone.param = newChild
		clone.paramName = seg.Text

	case CatchAll:
		if clone.exclusive && clone.hasPayload {
			return nil, ErrCatchAllConflict
		}
		if clone.exclusive && clone.catchAll != nil && clone.catchAllName != seg.Text {
			return nil, ErrChildConflict
		}
		child := clone.catchAll
		if child == nil {
			child = &Node[T]{exclusive: clone.exclusive}
		}
		// CatchAll is always the pattern's last segment (ParsePattern
		// enforces this), so it always terminates the insertion itself.
		newChild, err := insertAt(child, segs, idx+1, merge)
		if err != nil {
			return nil, err
		}
		clone.catchAll = newChild
		clone.catchAllName = seg.Text
	}

	return &clone, nil
}

// MatchStep is one node visited while walking a path, in traversal order
// from root to the deepest matched node. It is used by callers (the
// route registry) that need every node along the path, not just the
// final match, to collect the parameters bound on the way.
type MatchStep[T any] struct {
	Node       *Node[T]
	ParamName  string // set if this node was reached via a param or catch-all child
	ParamValue string
	IsCatchAll bool
}

// Walk traverses root against pathSegs, preferring a static match, then a
// single-param match, then a catch-all match at each position, and
// returns every node visited (including root) in root-to-leaf order. A
// branch that dead-ends — deeper segments unmatched, or a terminal node
// with no payload — is abandoned and the next-priority alternative at the
// last junction is tried, so a catch-all can pick up a path whose static
// prefix exists but leads nowhere. A catch-all consumes all remaining
// segments, including zero of them (value "/"). On failure only the root
// step is returned.
func Walk[T any](root *Node[T], pathSegs []string) []MatchStep[T] {
	steps := []MatchStep[T]{{Node: root}}
	if rest, ok := walkFrom(root, pathSegs, 0); ok {
		return append(steps, rest...)
	}
	return steps
}

func walkFrom[T any](n *Node[T], segs []string, i int) ([]MatchStep[T], bool) {
	if i == len(segs) {
		if n.HasPayload() {
			return nil, true
		}
		if child, name, ok := n.CatchAllChild(); ok && child.HasPayload() {
			return []MatchStep[T]{{Node: child, ParamName: name, ParamValue: "/", IsCatchAll: true}}, true
		}
		return nil, false
	}
	if child := n.StaticChild(segs[i]); child != nil {
		if rest, ok := walkFrom(child, segs, i+1); ok {
			return append([]MatchStep[T]{{Node: child}}, rest...), true
		}
	}
	if child, name, ok := n.ParamChild(); ok {
		if rest, deeper := walkFrom(child, segs, i+1); deeper {
			return append([]MatchStep[T]{{Node: child, ParamName: name, ParamValue: segs[i]}}, rest...), true
		}
	}
	if child, name, ok := n.CatchAllChild(); ok && child.HasPayload() {
		return []MatchStep[T]{{Node: child, ParamName: name, ParamValue: JoinCatchAll(segs[i:]), IsCatchAll: true}}, true
	}
	return nil, false
}

// Matched reports whether steps (as returned by Walk against a path of
// pathSegsLen segments) landed on a payload-carrying node after fully
// consuming the path: either every segment was matched by a static/param
// child, or the walk ended by entering a catch-all child (which consumes
// the remainder, possibly empty).
func Matched[T any](steps []MatchStep[T], pathSegsLen int) bool {
	if len(steps) == 0 {
		return false
	}
	last := steps[len(steps)-1]
	if !last.Node.HasPayload() {
		return false
	}
	if last.IsCatchAll {
		return true
	}
	return len(steps)-1 == pathSegsLen
}
