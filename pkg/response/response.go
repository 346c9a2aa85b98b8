// Package response implements the response builder and validator:
// an immutable, persistent builder that accumulates
// status, headers, and body, then validates the whole at Build time
// against the framing invariants that would otherwise corrupt the wire
// protocol.
package response

import (
	"io"
	"strings"

	"github.com/flowhttp/server/internal/errs"
	"github.com/flowhttp/server/pkg/headers"
)

// Response is a fully validated, ready-to-write response. Once built it
// is never mutated; a handler that needs a different response builds a
// new one.
type Response struct {
	StatusCode int
	Reason     string
	Headers    *headers.Headers
	Body       io.Reader
	// BodyLen is the exact body length in bytes, or -1 if unknown (the
	// channel writer falls back to chunked framing in that case).
	BodyLen int64
}

// Builder accumulates response state with persistent value semantics:
// every mutating method returns a new Builder and leaves its receiver —
// and any earlier Builder derived from the same chain — untouched, so a
// before-action can hand the same partial Builder to several branches
// without them observing each other's changes. Construct one with New.
type Builder struct {
	statusCode int
	reason     string
	headers    *headers.Headers
	body       io.Reader
	bodyLen    int64
	buildErr   error
}

// New starts a builder for the given status code, defaulting to its
// canonical reason phrase.
func New(statusCode int) Builder {
	return Builder{
		statusCode: statusCode,
		reason:     ReasonPhrase(statusCode),
		headers:    &headers.Headers{},
		bodyLen:    -1,
	}
}

// Status returns a builder for a different status code, resetting the
// reason phrase to the new code's canonical one.
func (b Builder) Status(statusCode int) Builder {
	b.statusCode = statusCode
	b.reason = ReasonPhrase(statusCode)
	return b
}

// Reason overrides the default reason phrase.
func (b Builder) Reason(reason string) Builder {
	b.reason = reason
	return b
}

func (b Builder) fail(err error) Builder {
	b.buildErr = err
	return b
}

func validField(s string) bool {
	return s == strings.TrimSpace(s)
}

// Header adds a response header. A name differing only in letter case
// from one already added is rejected: the header is not added, the
// failure is recorded, and Build returns it. Leading or trailing
// whitespace in the name or value is likewise rejected.
func (b Builder) Header(name, value string) Builder {
	if b.buildErr != nil {
		return b
	}
	if !validField(name) || !validField(value) {
		return b.fail(errs.New(errs.KindIllegalResponseBody, "header name or value has leading or trailing whitespace"))
	}
	h := b.headers.Clone()
	if err := h.AddUnique(name, value); err != nil {
		return b.fail(errs.Wrap(errs.KindIllegalResponseBody, err))
	}
	b.headers = h
	return b
}

// SetHeader replaces any existing header matching name
// case-insensitively, or adds it if absent.
func (b Builder) SetHeader(name, value string) Builder {
	if b.buildErr != nil {
		return b
	}
	if !validField(name) || !validField(value) {
		return b.fail(errs.New(errs.KindIllegalResponseBody, "header name or value has leading or trailing whitespace"))
	}
	h := b.headers.Clone()
	h.Set(name, value)
	b.headers = h
	return b
}

// RemoveHeader drops every header matching name case-insensitively.
func (b Builder) RemoveHeader(name string) Builder {
	if b.buildErr != nil {
		return b
	}
	h := b.headers.Clone()
	h.Del(name)
	b.headers = h
	return b
}

// AppendToken appends token to the comma-separated value of name,
// creating the header if it does not exist yet.
func (b Builder) AppendToken(name, token string) Builder {
	if b.buildErr != nil {
		return b
	}
	if !validField(name) || !validField(token) {
		return b.fail(errs.New(errs.KindIllegalResponseBody, "header name or value has leading or trailing whitespace"))
	}
	h := b.headers.Clone()
	if existing, ok := h.Get(name); ok && existing != "" {
		h.Set(name, existing+", "+token)
	} else {
		h.Set(name, token)
	}
	b.headers = h
	return b
}

// Body attaches a body reader. length is the exact number of bytes r
// will yield, or -1 if unknown ahead of time (forcing chunked framing).
func (b Builder) Body(r io.Reader, length int64) Builder {
	b.body = r
	b.bodyLen = length
	return b
}

// NoBody detaches any attached body and drops the Content-Type header
// that described it.
func (b Builder) NoBody() Builder {
	if b.buildErr != nil {
		return b
	}
	b.body = nil
	b.bodyLen = -1
	h := b.headers.Clone()
	h.Del("Content-Type")
	b.headers = h
	return b
}

// Build validates the accumulated state and returns the finished
// Response. Build-time invariants enforced here:
//   - an informational (1xx) response may not carry Connection: close
//   - a bodyless status (1xx, 204, 304) may not carry Content-Length or
//     a body
func (b Builder) Build() (*Response, error) {
	if b.buildErr != nil {
		return nil, b.buildErr
	}

	if isInformational(b.statusCode) {
		if conn, ok := b.headers.Get("Connection"); ok && strings.EqualFold(conn, "close") {
			return nil, errs.New(errs.KindIllegalResponseBody, "1xx response may not close the connection")
		}
	}

	if isBodyless(b.statusCode) {
		if b.headers.Has("Content-Length") {
			return nil, errs.New(errs.KindIllegalResponseBody, "bodyless status may not carry Content-Length")
		}
		if b.body != nil {
			return nil, errs.New(errs.KindIllegalResponseBody, "bodyless status may not carry a body")
		}
	}

	resp := &Response{
		StatusCode: b.statusCode,
		Reason:     b.reason,
		Headers:    b.headers.Clone(),
		Body:       b.body,
		BodyLen:    b.bodyLen,
	}
	if resp.Body == nil {
		resp.BodyLen = 0
	}
	return resp, nil
}
