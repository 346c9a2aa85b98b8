package routing

import (
	"strconv"
	"strings"
)

// Media-type sentinels a handler's Consumes or Produces field may hold,
// beyond an ordinary "type/subtype" value.
const (
	// Nothing marks a handler that consumes or produces no body; on the
	// produces side it matches only when the request carries no Accept
	// header at all.
	Nothing = "<nothing>"
	// NothingAndAll marks a handler that carries no body but, unlike
	// Nothing, also tolerates an explicit "Accept: */*" (produces side)
	// or any request body (consumes side).
	NothingAndAll = "<nothing-and-all>"
	// AnyType is the wildcard "*/*", matching every concrete media type.
	AnyType = "*/*"
)

// mediaRange is a parsed "type/subtype; k=v; ..." value. Either side may
// be "*".
type mediaRange struct {
	typ, subtype string
	params       map[string]string
}

// parseMediaRange splits a media type or range into its parts, folding
// the type, subtype, and parameter names to lower case. The q parameter
// is excluded: it is negotiation metadata, not part of the media type.
func parseMediaRange(s string) (mediaRange, bool) {
	fields := strings.Split(s, ";")
	typ, subtype, ok := strings.Cut(strings.TrimSpace(fields[0]), "/")
	if !ok || typ == "" || subtype == "" {
		return mediaRange{}, false
	}
	mr := mediaRange{typ: strings.ToLower(typ), subtype: strings.ToLower(subtype)}
	for _, f := range fields[1:] {
		k, v, ok := strings.Cut(strings.TrimSpace(f), "=")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "q" {
			continue
		}
		if mr.params == nil {
			mr.params = make(map[string]string)
		}
		mr.params[k] = strings.TrimSpace(v)
	}
	return mr, true
}

// rangeIncludes reports whether the range r covers the concrete (or
// narrower range) c: "*/*" covers everything, "type/*" covers its type,
// and an exact pair covers itself.
func rangeIncludes(r, c mediaRange) bool {
	if r.typ != "*" && r.typ != c.typ {
		return false
	}
	if r.subtype != "*" && r.subtype != c.subtype {
		return false
	}
	return true
}

// paramsSuperset reports whether have carries every parameter of want
// with the same value.
func paramsSuperset(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

type acceptEntry struct {
	mr mediaRange
	q  float64
}

func parseAccept(header string) []acceptEntry {
	if strings.TrimSpace(header) == "" {
		return nil
	}
	var entries []acceptEntry
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		q := 1.0
		for _, param := range strings.Split(part, ";")[1:] {
			param = strings.TrimSpace(param)
			if v, ok := strings.CutPrefix(param, "q="); ok {
				if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
					q = parsed
				}
			}
		}
		mr, ok := parseMediaRange(part)
		if !ok {
			continue
		}
		entries = append(entries, acceptEntry{mr: mr, q: q})
	}
	return entries
}

// score is the specificity tuple a candidate handler earns against the
// request's Accept header, compared lexicographically: q first, then the
// specificity rank of the handler's Produces declaration, then its
// media-type parameter count.
//
// Ranks order the produces declarations from most to least specific:
// Nothing (eligible only against an absent Accept header) above a
// concrete type/subtype, above a wildcarded range, above NothingAndAll.
// This encodes both asserted orderings: <nothing> beats <nothing-and-all>
// when the peer accepts nothing, and */* beats <nothing-and-all> when the
// peer negotiates content.
type score struct {
	q      float64
	rank   int
	params int
}

func (s score) better(o score) bool {
	if s.q != o.q {
		return s.q > o.q
	}
	if s.rank != o.rank {
		return s.rank > o.rank
	}
	return s.params > o.params
}

func (s score) equal(o score) bool {
	return s.q == o.q && s.rank == o.rank && s.params == o.params
}

const (
	rankNothingAndAll = 1
	rankWildcard      = 2
	rankConcrete      = 3
	rankNothing       = 4
)

// scoreProduces computes the Accept score for a handler whose Produces
// field is produces, and whether it is eligible at all (q > 0).
func scoreProduces(produces string, entries []acceptEntry, headerPresent bool) (score, bool) {
	switch produces {
	case Nothing:
		if headerPresent {
			return score{}, false
		}
		return score{q: 1, rank: rankNothing}, true
	case NothingAndAll:
		if !headerPresent {
			return score{q: 1, rank: rankNothingAndAll}, true
		}
		for _, e := range entries {
			if e.mr.typ == "*" && e.mr.subtype == "*" && e.q > 0 {
				return score{q: e.q, rank: rankNothingAndAll}, true
			}
		}
		return score{}, false
	}

	if produces == "" {
		// An undeclared Produces (the zero value) is treated as "*/*",
		// mirroring how matchesConsumes treats an empty Consumes.
		produces = AnyType
	}

	mr, ok := parseMediaRange(produces)
	if !ok {
		return score{}, false
	}
	rank := rankConcrete
	if mr.typ == "*" || mr.subtype == "*" {
		rank = rankWildcard
	}

	if !headerPresent {
		return score{q: 1, rank: rank, params: len(mr.params)}, true
	}

	best := -1.0
	for _, e := range entries {
		if !rangeIncludes(e.mr, mr) && !rangeIncludes(mr, e.mr) {
			continue
		}
		if e.q > best {
			best = e.q
		}
	}
	if best <= 0 {
		return score{}, false
	}
	return score{q: best, rank: rank, params: len(mr.params)}, true
}

// negotiateProduces picks the handler with the best Accept score.
// ErrMediaTypeNotAccepted is returned if none is eligible;
// ErrAmbiguousHandler if two or more tie on the full specificity tuple.
func negotiateProduces(handlers []Handler, acceptHeader string) (*Handler, error) {
	entries := parseAccept(acceptHeader)
	headerPresent := strings.TrimSpace(acceptHeader) != ""

	var winner *Handler
	var winning score
	tied := false
	for i := range handlers {
		s, ok := scoreProduces(handlers[i].Produces, entries, headerPresent)
		if !ok {
			continue
		}
		switch {
		case winner == nil || s.better(winning):
			winner, winning, tied = &handlers[i], s, false
		case s.equal(winning):
			tied = true
		}
	}
	if winner == nil {
		return nil, ErrMediaTypeNotAccepted
	}
	if tied {
		return nil, ErrAmbiguousHandler
	}
	return winner, nil
}

// matchesConsumes reports whether a handler's Consumes media-range
// accepts the request's Content-Type. An empty Consumes (the zero value,
// used by handlers that never declared one) matches anything, body or no
// body alike. Nothing matches only a body-less request; NothingAndAll
// matches a body-less request and every concrete type, which is what
// makes declaring both Nothing and NothingAndAll redundant with "*/*" on
// one route. A concrete range matches when it covers the request type and
// the request's media-type parameters are a superset of the range's.
func matchesConsumes(consumes, contentType string) bool {
	noBody := strings.TrimSpace(contentType) == ""

	switch consumes {
	case "":
		return true
	case Nothing:
		return noBody
	case NothingAndAll:
		return true
	}

	if noBody {
		return false
	}

	ct, ok := parseMediaRange(contentType)
	if !ok {
		return false
	}
	want, ok := parseMediaRange(consumes)
	if !ok {
		return false
	}
	return rangeIncludes(want, ct) && paramsSuperset(ct.params, want.params)
}
