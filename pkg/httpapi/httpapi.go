// Package httpapi defines the request/handler/action vocabulary shared
// by the route registry, the action registry, and the exchange
// orchestrator, so none of those packages need to import each other
// directly.
package httpapi

import (
	"github.com/flowhttp/server/pkg/httpbody"
	"github.com/flowhttp/server/pkg/httphead"
	"github.com/flowhttp/server/pkg/response"
)

// Request is the per-exchange view a handler or action operates on.
// Params is populated by route matching before a handler runs; before
// actions run ahead of route matching and see it empty. Attrs is a
// per-exchange scratch map a before action can leave values in for the
// handler and after actions to pick up.
type Request struct {
	Head   *httphead.Head
	Body   *httpbody.Reader
	Path   string
	Params map[string]string
	Attrs  map[string]any
}

// Param returns a matched path parameter by name.
func (r *Request) Param(name string) (string, bool) {
	v, ok := r.Params[name]
	return v, ok
}

// SetAttr stores a per-exchange attribute.
func (r *Request) SetAttr(name string, value any) {
	if r.Attrs == nil {
		r.Attrs = make(map[string]any)
	}
	r.Attrs[name] = value
}

// Attr returns a per-exchange attribute stored by an earlier action.
func (r *Request) Attr(name string) (any, bool) {
	v, ok := r.Attrs[name]
	return v, ok
}

// HandlerFunc serves one request, producing the response to send (or an
// error for the exchange orchestrator's exception chain to handle).
type HandlerFunc func(*Request) (*response.Response, error)

// BeforeFunc runs ahead of handler resolution. Returning a non-nil
// response short-circuits the exchange: the handler (and any remaining
// before actions) is skipped and that response is sent directly.
type BeforeFunc func(*Request) (*response.Response, error)

// AfterFunc runs once a response (from a handler, a before short-circuit,
// or the exception chain handling an error the handler returned) has been
// produced, and may replace it. An error raised before the handler ran
// skips after actions. Returning nil, nil leaves resp unchanged.
type AfterFunc func(req *Request, resp *response.Response) (*response.Response, error)

// ExceptionFunc is one link in the exception-handler chain: given the
// error raised while processing an exchange, it either produces the
// response to send or calls next to defer to the remaining chain.
type ExceptionFunc func(err error, next func(error) (*response.Response, error)) (*response.Response, error)
