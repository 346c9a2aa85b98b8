package segtree

import (
	"net/url"
	"strings"
)

// NormalizePath reduces a raw request-target path to its matching segment
// sequence:
//
//  1. Collapse runs of '/' to one.
//  2. Strip all trailing '/'.
//  3. Percent-decode each segment.
//  4. Resolve dot-segments ('.' removed, '..' pops the previous segment).
//  5. Split by '/'.
//
// An empty input path normalizes to the root (an empty segment slice), the
// same as "/".
func NormalizePath(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}

	collapsed := collapseSlashes(raw)
	collapsed = strings.TrimRight(collapsed, "/")
	collapsed = strings.TrimPrefix(collapsed, "/")
	if collapsed == "" {
		return nil, nil
	}

	rawParts := strings.Split(collapsed, "/")
	resolved := make([]string, 0, len(rawParts))
	for _, part := range rawParts {
		decoded, err := url.PathUnescape(part)
		if err != nil {
			return nil, err
		}
		switch decoded {
		case ".":
			// Drop: refers to the current segment.
		case "..":
			if len(resolved) > 0 {
				resolved = resolved[:len(resolved)-1]
			}
		default:
			resolved = append(resolved, decoded)
		}
	}

	return resolved, nil
}

func collapseSlashes(s string) string {
	if !strings.Contains(s, "//") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	prevSlash := false
	for _, r := range s {
		if r == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// JoinCatchAll renders the value bound to a catch-all parameter from the
// decoded remainder segments: always begins with '/', and is the bare "/"
// when remainder is empty.
func JoinCatchAll(remainder []string) string {
	if len(remainder) == 0 {
		return "/"
	}
	return "/" + strings.Join(remainder, "/")
}
