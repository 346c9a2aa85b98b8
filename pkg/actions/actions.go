// Package actions implements the action registry: before
// and after actions bound to path patterns, matched against a concrete
// request path and returned in the traversal order the exchange
// orchestrator must run them in.
//
// Unlike the route registry, action patterns are not mutually exclusive:
// a static, a param, and a catch-all pattern may all be registered at the
// same tree position, and a concrete path can satisfy more than one of
// them at once (e.g. both "/files/:name" and "/files/*rest" match
// "/files/report.pdf"). Matching therefore fans out at every node instead
// of picking one child.
package actions

import (
	"errors"
	"reflect"

	"github.com/flowhttp/server/pkg/httpapi"
	"github.com/flowhttp/server/pkg/segtree"
)

var (
	ErrActionPatternInvalid = errors.New("action pattern is invalid")
	ErrActionNonUnique      = errors.New("this function is already registered as an action on this pattern")
)

type regBefore struct {
	fn      httpapi.BeforeFunc
	pattern string
}

type regAfter struct {
	fn      httpapi.AfterFunc
	pattern string
}

type actionNode struct {
	befores []regBefore
	afters  []regAfter
}

func funcIdentity(v any) uintptr {
	return reflect.ValueOf(v).Pointer()
}

// Registry is an immutable snapshot of registered before/after actions.
// The zero value is not usable; use NewRegistry.
type Registry struct {
	root *segtree.Node[*actionNode]
}

func NewRegistry() *Registry {
	return &Registry{root: segtree.NewNode[*actionNode](false)}
}

// AddBefore returns a new Registry with fn bound as a before action on
// pattern.
func (reg *Registry) AddBefore(pattern string, fn httpapi.BeforeFunc) (*Registry, error) {
	segs, err := segtree.ParsePattern(pattern, false)
	if err != nil {
		return nil, errors.Join(ErrActionPatternInvalid, err)
	}
	newID := funcIdentity(fn)
	newRoot, err := segtree.Insert(reg.root, segs, func(existing *actionNode, has bool) (*actionNode, error) {
		var node actionNode
		if has {
			node = *existing
			for _, b := range node.befores {
				if funcIdentity(b.fn) == newID {
					return nil, ErrActionNonUnique
				}
			}
			node.befores = append(append([]regBefore{}, node.befores...), regBefore{fn: fn, pattern: pattern})
		} else {
			node.befores = []regBefore{{fn: fn, pattern: pattern}}
		}
		return &node, nil
	})
	if err != nil {
		return nil, err
	}
	return &Registry{root: newRoot}, nil
}

// AddAfter returns a new Registry with fn bound as an after action on
// pattern.
func (reg *Registry) AddAfter(pattern string, fn httpapi.AfterFunc) (*Registry, error) {
	segs, err := segtree.ParsePattern(pattern, false)
	if err != nil {
		return nil, errors.Join(ErrActionPatternInvalid, err)
	}
	newID := funcIdentity(fn)
	newRoot, err := segtree.Insert(reg.root, segs, func(existing *actionNode, has bool) (*actionNode, error) {
		var node actionNode
		if has {
			node = *existing
			for _, a := range node.afters {
				if funcIdentity(a.fn) == newID {
					return nil, ErrActionNonUnique
				}
			}
			node.afters = append(append([]regAfter{}, node.afters...), regAfter{fn: fn, pattern: pattern})
		} else {
			node.afters = []regAfter{{fn: fn, pattern: pattern}}
		}
		return &node, nil
	})
	if err != nil {
		return nil, err
	}
	return &Registry{root: newRoot}, nil
}

// Match returns the before and after actions applicable to path, in the
// order the exchange orchestrator must run them: before actions run
// root-to-leaf, and at each node in catch-all, param, static order;
// after actions run the exact reverse.
func (reg *Registry) Match(path string) (before []httpapi.BeforeFunc, after []httpapi.AfterFunc, err error) {
	segs, err := segtree.NormalizePath(path)
	if err != nil {
		return nil, nil, err
	}

	var befores []regBefore
	var afters []regAfter
	collect(reg.root, segs, 0, &befores, &afters)

	before = make([]httpapi.BeforeFunc, len(befores))
	for i, b := range befores {
		before[i] = b.fn
	}
	after = make([]httpapi.AfterFunc, len(afters))
	// afters are collected in the same root-to-leaf, catch-all/param/static
	// order as befores; reverse them for after-action semantics.
	for i, a := range afters {
		after[len(afters)-1-i] = a.fn
	}

	return before, after, nil
}

// collect gathers every action bucket whose pattern matches all of
// segs[idx:] from n downward, in the most-generic-first traversal order:
// at each node the catch-all bucket (it matches any remainder, including
// an empty one), then everything under the param child, then everything
// under the matching static child. A node's own bucket is yielded only
// when the path ends exactly there, which also makes it the most
// specific — and therefore last — match of its subtree.
func collect(n *segtree.Node[*actionNode], segs []string, idx int, befores *[]regBefore, afters *[]regAfter) {
	if n == nil {
		return
	}

	if child, _, ok := n.CatchAllChild(); ok {
		if payload, ok := child.Payload(); ok {
			collectFromNode(payload, befores, afters)
		}
	}

	if idx >= len(segs) {
		if payload, ok := n.Payload(); ok {
			collectFromNode(payload, befores, afters)
		}
		return
	}

	if child, _, ok := n.ParamChild(); ok {
		collect(child, segs, idx+1, befores, afters)
	}
	if child := n.StaticChild(segs[idx]); child != nil {
		collect(child, segs, idx+1, befores, afters)
	}
}

func collectFromNode(an *actionNode, befores *[]regBefore, afters *[]regAfter) {
	if an == nil {
		return
	}
	*befores = append(*befores, an.befores...)
	*afters = append(*afters, an.afters...)
}
