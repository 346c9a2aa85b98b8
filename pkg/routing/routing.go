// Package routing implements the route registry: an
// immutable, persistent index of registered routes keyed by path
// pattern, with content-negotiated handler resolution for a matched
// route.
package routing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/flowhttp/server/internal/errs"
	"github.com/flowhttp/server/pkg/httpapi"
	"github.com/flowhttp/server/pkg/segtree"
)

// Registration errors. These are distinct from the per-exchange errs.Kind
// taxonomy: they are returned synchronously from AddRoute, at startup or
// while a route is registered dynamically, never surfaced to a client.
var (
	ErrRoutePatternInvalid = errors.New("route pattern is invalid")
	ErrRouteCollision      = errors.New("route pattern collides with an existing route of different shape")
	ErrHandlerCollision    = errors.New("a handler for this method/consumes/produces already exists on this route")

	// ErrMediaTypeNotAccepted and ErrAmbiguousHandler are the outcomes of
	// Accept negotiation; ResolveHandler translates them into errs.Error
	// values (KindMediaTypeNotAccepted, KindAmbiguousHandler) before
	// returning.
	ErrMediaTypeNotAccepted = errors.New("no handler produces a representation the client will accept")
	ErrAmbiguousHandler     = errors.New("two or more handlers tied for the best Accept score")
)

// Handler is one method/consumes/produces binding on a route.
type Handler struct {
	Method   string
	Consumes string
	Produces string
	Fn       httpapi.HandlerFunc
}

type routeEntry struct {
	pattern  string
	segs     []segtree.Segment
	handlers []Handler
}

// Registry is an immutable snapshot of registered routes. The zero value
// is not usable; use NewRegistry.
type Registry struct {
	root *segtree.Node[*routeEntry]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{root: segtree.NewNode[*routeEntry](true)}
}

// AddRoute returns a new Registry with h bound to pattern, leaving the
// receiver (and any other holder of it) unchanged.
func (reg *Registry) AddRoute(pattern string, h Handler) (*Registry, error) {
	segs, err := segtree.ParsePattern(pattern, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRoutePatternInvalid, pattern, err)
	}

	newRoot, err := segtree.Insert(reg.root, segs, func(existing *routeEntry, has bool) (*routeEntry, error) {
		var oldHandlers []Handler
		if has {
			oldHandlers = existing.handlers
		}
		consumesSeen := map[string]bool{h.Consumes: true}
		for _, eh := range oldHandlers {
			if eh.Method != h.Method {
				continue
			}
			if eh.Consumes == h.Consumes && eh.Produces == h.Produces {
				return nil, ErrHandlerCollision
			}
			if eh.Produces == h.Produces {
				consumesSeen[eh.Consumes] = true
			}
		}
		// A Nothing handler plus a NothingAndAll handler already cover
		// everything "*/*" would, so completing the trio leaves two
		// handlers matching every request body state.
		if consumesSeen[Nothing] && consumesSeen[NothingAndAll] && consumesSeen[AnyType] {
			return nil, fmt.Errorf("%w: %s + %s make %s redundant", ErrHandlerCollision, Nothing, NothingAndAll, AnyType)
		}
		newHandlers := make([]Handler, len(oldHandlers)+1)
		copy(newHandlers, oldHandlers)
		newHandlers[len(oldHandlers)] = h
		return &routeEntry{pattern: pattern, segs: segs, handlers: newHandlers}, nil
	})
	if err != nil {
		if errors.Is(err, segtree.ErrChildConflict) || errors.Is(err, segtree.ErrCatchAllConflict) {
			return nil, fmt.Errorf("%w: %s: %v", ErrRouteCollision, pattern, err)
		}
		return nil, err
	}

	return &Registry{root: newRoot}, nil
}

// Match is a route lookup result: the matched route's registered
// handlers and the path parameters bound while walking to it.
type Match struct {
	Pattern  string
	Handlers []Handler
	Params   map[string]string
}

// Lookup normalizes path and walks the registry for a matching route. It
// reports false if no route matches.
func (reg *Registry) Lookup(path string) (*Match, bool) {
	segs, err := segtree.NormalizePath(path)
	if err != nil {
		return nil, false
	}

	steps := segtree.Walk(reg.root, segs)
	if !segtree.Matched(steps, len(segs)) {
		return nil, false
	}

	leaf := steps[len(steps)-1].Node
	entry, ok := leaf.Payload()
	if !ok {
		return nil, false
	}

	params := make(map[string]string)
	for _, s := range steps {
		if s.ParamName != "" {
			params[s.ParamName] = s.ParamValue
		}
	}

	return &Match{Pattern: entry.pattern, Handlers: entry.handlers, Params: params}, true
}

// ResolveHandler runs the three-stage negotiation (method, then Content-Type,
// then Accept) over a matched route's handlers, returning a typed error
// from the errs taxonomy at whichever stage eliminates every candidate.
func ResolveHandler(m *Match, method, contentType, acceptHeader string) (*Handler, error) {
	var byMethod []Handler
	methodSet := make(map[string]bool)
	var allowed []string
	for _, h := range m.Handlers {
		if !methodSet[h.Method] {
			methodSet[h.Method] = true
			allowed = append(allowed, h.Method)
		}
		if h.Method == method {
			byMethod = append(byMethod, h)
		}
	}
	if len(byMethod) == 0 {
		return nil, errs.NewField(errs.KindMethodNotAllowed, strings.Join(allowed, ", "), "no handler on this route serves "+method)
	}

	var byConsumes []Handler
	for _, h := range byMethod {
		if matchesConsumes(h.Consumes, contentType) {
			byConsumes = append(byConsumes, h)
		}
	}
	if len(byConsumes) == 0 {
		return nil, errs.New(errs.KindMediaTypeUnsupported, "no handler accepts this request's Content-Type")
	}

	winner, err := negotiateProduces(byConsumes, acceptHeader)
	if err != nil {
		switch {
		case errors.Is(err, ErrMediaTypeNotAccepted):
			return nil, errs.New(errs.KindMediaTypeNotAccepted, err.Error())
		case errors.Is(err, ErrAmbiguousHandler):
			return nil, errs.New(errs.KindAmbiguousHandler, err.Error())
		default:
			return nil, err
		}
	}
	return winner, nil
}
