// Package headers implements the ordered, case-insensitive multimap used
// by both the request head parser and the response builder: a
// vector-of-pairs preserving insertion order and original case, plus a
// case-folded index for lookup.
package headers

import (
	"errors"
	"strings"
)

// ErrDuplicateName is returned by AddUnique when a header differing only
// in letter case is already present.
var ErrDuplicateName = errors.New("header name already present (case-insensitively)")

// Pair is one stored header, preserving the case it was set/added with.
type Pair struct {
	Name  string
	Value string
}

// Headers is an ordered, case-insensitive multimap of header name/value
// pairs. The zero value is ready to use.
type Headers struct {
	pairs []Pair
	index map[string][]int
}

func (h *Headers) ensureIndex() {
	if h.index == nil {
		h.index = make(map[string][]int)
	}
}

// Add appends a new pair, preserving any existing same-name pairs. This is
// the request-parsing behavior: duplicate case-insensitive names are
// retained.
func (h *Headers) Add(name, value string) {
	h.ensureIndex()
	key := strings.ToLower(name)
	h.index[key] = append(h.index[key], len(h.pairs))
	h.pairs = append(h.pairs, Pair{Name: name, Value: value})
}

// AddUnique appends a new pair, but fails if a header differing only in
// case is already present. This is the response-builder behavior.
func (h *Headers) AddUnique(name, value string) error {
	key := strings.ToLower(name)
	if _, ok := h.index[key]; ok {
		return ErrDuplicateName
	}
	h.Add(name, value)
	return nil
}

// Set removes every existing pair matching name case-insensitively and
// inserts value as the sole pair for that name, at the position of the
// first removed pair (or at the end, if none existed).
func (h *Headers) Set(name, value string) {
	h.ensureIndex()
	key := strings.ToLower(name)
	idxs, ok := h.index[key]
	if !ok {
		h.Add(name, value)
		return
	}
	first := idxs[0]
	h.pairs[first] = Pair{Name: name, Value: value}
	h.removeIndices(idxs[1:])
	h.reindex()
}

// Del removes every pair matching name case-insensitively.
func (h *Headers) Del(name string) {
	key := strings.ToLower(name)
	idxs, ok := h.index[key]
	if !ok {
		return
	}
	h.removeIndices(idxs)
	h.reindex()
}

func (h *Headers) removeIndices(idxs []int) {
	if len(idxs) == 0 {
		return
	}
	remove := make(map[int]struct{}, len(idxs))
	for _, i := range idxs {
		remove[i] = struct{}{}
	}
	kept := h.pairs[:0:0]
	for i, p := range h.pairs {
		if _, gone := remove[i]; gone {
			continue
		}
		kept = append(kept, p)
	}
	h.pairs = kept
}

func (h *Headers) reindex() {
	h.index = make(map[string][]int, len(h.pairs))
	for i, p := range h.pairs {
		key := strings.ToLower(p.Name)
		h.index[key] = append(h.index[key], i)
	}
}

// Get returns the value of the first pair matching name case-insensitively.
func (h *Headers) Get(name string) (string, bool) {
	idxs, ok := h.index[strings.ToLower(name)]
	if !ok || len(idxs) == 0 {
		return "", false
	}
	return h.pairs[idxs[0]].Value, true
}

// Values returns every value matching name case-insensitively, in
// insertion order.
func (h *Headers) Values(name string) []string {
	idxs, ok := h.index[strings.ToLower(name)]
	if !ok {
		return nil
	}
	values := make([]string, len(idxs))
	for i, idx := range idxs {
		values[i] = h.pairs[idx].Value
	}
	return values
}

// Has reports whether any pair matches name case-insensitively.
func (h *Headers) Has(name string) bool {
	idxs, ok := h.index[strings.ToLower(name)]
	return ok && len(idxs) > 0
}

// Len returns the total number of stored pairs.
func (h *Headers) Len() int {
	return len(h.pairs)
}

// Each calls fn for every pair, in insertion order.
func (h *Headers) Each(fn func(name, value string)) {
	for _, p := range h.pairs {
		fn(p.Name, p.Value)
	}
}

// Clone returns a deep copy safe to mutate independently.
func (h *Headers) Clone() *Headers {
	clone := &Headers{
		pairs: make([]Pair, len(h.pairs)),
		index: make(map[string][]int, len(h.index)),
	}
	copy(clone.pairs, h.pairs)
	for k, v := range h.index {
		idxs := make([]int, len(v))
		copy(idxs, v)
		clone.index[k] = idxs
	}
	return clone
}
