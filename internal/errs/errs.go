// Package errs defines the runtime error taxonomy shared by the head
// parser, body reader, route registry, and exchange orchestrator. Each Kind
// maps to exactly one canonical HTTP status, per the error handling design:
// parse and negotiation failures are modeled as typed values the
// orchestrator pattern-matches on, not as panics.
package errs

import "fmt"

// Kind identifies a runtime error surfaced while processing one exchange.
// Kind is distinct from the build-time registration errors returned by the
// route and action registries (RoutePatternInvalid, RouteCollision,
// HandlerCollision, ActionPatternInvalid, ActionNonUnique), which are plain
// sentinel-wrapped errors local to those packages.
type Kind int

const (
	// KindParse covers malformed start lines and headers.
	KindParse Kind = iota
	// KindVersionUnsupported covers HTTP versions outside {0.9,1.0,1.1,2,3}
	// or versions accepted by the parser but not implemented for dispatch.
	KindVersionUnsupported
	// KindRouteNotFound means no route matched the request path.
	KindRouteNotFound
	// KindMethodNotAllowed means a route matched but no handler serves the
	// request method.
	KindMethodNotAllowed
	// KindMediaTypeUnsupported means the request's Content-Type matches no
	// handler's consumes media-range.
	KindMediaTypeUnsupported
	// KindMediaTypeNotAccepted means no handler's produces media-type
	// scores above zero against the request's Accept header.
	KindMediaTypeNotAccepted
	// KindAmbiguousHandler means two or more handlers tied for the highest
	// Accept score; this indicates a server bug, not a client error.
	KindAmbiguousHandler
	// KindBadHeader covers an unparsable or contradictory Content-Length /
	// Transfer-Encoding header.
	KindBadHeader
	// KindIllegalResponseBody covers a framing invariant violated by a
	// response the application tried to build or write.
	KindIllegalResponseBody
	// KindTimeout covers an idle or write timeout firing mid-exchange.
	KindTimeout
)

// StatusCode returns the canonical HTTP status associated with k, per the
// error handling design. For KindTimeout it returns 408, which only applies
// while no response has been written yet: callers must check that first
// (once a response is out, the connection is simply closed).
func (k Kind) StatusCode() int {
	switch k {
	case KindParse:
		return 400
	case KindVersionUnsupported:
		return 505
	case KindRouteNotFound:
		return 404
	case KindMethodNotAllowed:
		return 405
	case KindMediaTypeUnsupported:
		return 415
	case KindMediaTypeNotAccepted:
		return 406
	case KindAmbiguousHandler:
		return 500
	case KindBadHeader:
		return 400
	case KindIllegalResponseBody:
		return 500
	case KindTimeout:
		return 408
	default:
		return 500
	}
}

// ClosesConnection reports whether an error of this kind always terminates
// the connection once its response has been written, independent of the
// client's Connection header.
func (k Kind) ClosesConnection() bool {
	switch k {
	case KindParse, KindVersionUnsupported, KindBadHeader, KindIllegalResponseBody:
		return true
	default:
		return false
	}
}

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse"
	case KindVersionUnsupported:
		return "version-unsupported"
	case KindRouteNotFound:
		return "route-not-found"
	case KindMethodNotAllowed:
		return "method-not-allowed"
	case KindMediaTypeUnsupported:
		return "media-type-unsupported"
	case KindMediaTypeNotAccepted:
		return "media-type-not-accepted"
	case KindAmbiguousHandler:
		return "ambiguous-handler"
	case KindBadHeader:
		return "bad-header"
	case KindIllegalResponseBody:
		return "illegal-response-body"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is a typed, wrapped error carrying its dispatch Kind and, for head
// parser errors, the raw offending field value.
type Error struct {
	Kind  Kind
	Field string
	Err   error
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf("%s", msg)}
}

func NewField(kind Kind, field, msg string) *Error {
	return &Error{Kind: kind, Field: field, Err: fmt.Errorf("%s", msg)}
}

func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %v (field: %q)", e.Kind, e.Err, e.Field)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
