// Package exchange implements the exchange orchestrator:
// the per-connection state machine that drives one HTTP/1.x connection
// through however many request/response exchanges its keep-alive
// semantics allow, wiring together the head parser, body reader, action
// registry, route registry, response builder, and channel writer.
package exchange

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/flowhttp/server/internal/errs"
	"github.com/flowhttp/server/pkg/actions"
	"github.com/flowhttp/server/pkg/channel"
	"github.com/flowhttp/server/pkg/httpapi"
	"github.com/flowhttp/server/pkg/httpbody"
	"github.com/flowhttp/server/pkg/httphead"
	"github.com/flowhttp/server/pkg/logging"
	"github.com/flowhttp/server/pkg/response"
	"github.com/flowhttp/server/pkg/routing"
)

// State names a position in one exchange's lifecycle: Idle before a
// head has started arriving, then ParsingHead, RunningBefore,
// ResolvingHandler, InHandler, RunningAfter, Writing, DrainingBody (the
// orchestrator discards whatever the handler left unread before the
// next exchange), Erroring (an error from any earlier state is being
// turned into a response), and Closing.
type State int

const (
	StateIdle State = iota
	StateParsingHead
	StateRunningBefore
	StateResolvingHandler
	StateInHandler
	StateRunningAfter
	StateWriting
	StateDrainingBody
	StateErroring
	StateClosing
)

// EventSink receives lifecycle notifications for metrics or logging.
// Emission is synchronous on the connection's goroutine, so
// implementations must not block.
type EventSink interface {
	// RequestHeadReceived fires once a head has parsed, with the bytes it
	// occupied on the wire and the time since the exchange started waiting
	// for it (any idle wait before its first byte included).
	RequestHeadReceived(method, path string, headBytes int, elapsed time.Duration)
	// ResponseSent fires after the final response of an exchange has been
	// written, with the bytes put on the wire and the time from the start
	// of the exchange (idle wait for the head included) to the last
	// response byte.
	ResponseSent(statusCode int, bytesWritten int64, elapsed time.Duration)
	HTTPServerStarted(addr string)
	HTTPServerStopped()
}

type noopSink struct{}

func (noopSink) RequestHeadReceived(string, string, int, time.Duration) {}
func (noopSink) ResponseSent(int, int64, time.Duration)                 {}
func (noopSink) HTTPServerStarted(string)                               {}
func (noopSink) HTTPServerStopped()                                     {}

// RegistrySource returns the currently active route and action
// registries. The exchange orchestrator calls it once per request,
// letting the server swap in a new registry between requests without
// locking each individual lookup.
type RegistrySource func() (*routing.Registry, *actions.Registry)

// Config configures an Orchestrator.
type Config struct {
	Registries                   RegistrySource
	Exceptions                   []httpapi.ExceptionFunc
	MaxHeadSize                  int
	DiscardRejectedInformational bool
	// IdleTimeout bounds how long a connection may wait for the next
	// request (or the rest of a head already in progress) before it is
	// closed. Reset at the start of every exchange. New replaces zero or a
	// negative value with 90s.
	IdleTimeout time.Duration
	// WriteTimeout bounds a single response write, applied freshly
	// before every write to the channel (interim and final alike). New
	// replaces zero or a negative value with 30s.
	WriteTimeout time.Duration
	// MaxErrorResponses caps the number of 4xx/5xx final responses one
	// connection may receive before it is forced closed instead of kept
	// alive, even if the client asked to keep it open. Zero means
	// unbounded.
	MaxErrorResponses int
	Logger            logging.Logger
	EventSink         EventSink
}

// Orchestrator drives exchanges for one accepted connection at a time.
type Orchestrator struct {
	cfg Config
}

// connState tracks the per-connection counters the orchestrator needs
// across exchanges but that don't belong in Config: currently just the
// running count of error responses, for MaxErrorResponses.
type connState struct {
	errorResponses int
}

// New creates an Orchestrator from cfg, filling in defaults for an
// absent Logger or EventSink.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.EventSink == nil {
		cfg.EventSink = noopSink{}
	}
	if cfg.MaxHeadSize <= 0 {
		cfg.MaxHeadSize = 64 * 1024
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 90 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	return &Orchestrator{cfg: cfg}
}

// ServeConnection runs exchanges on conn until the connection closes or
// keep-alive ends, then closes conn itself.
func (o *Orchestrator) ServeConnection(conn net.Conn) {
	defer conn.Close()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	cs := &connState{}

	for {
		_ = conn.SetReadDeadline(time.Now().Add(o.cfg.IdleTimeout))
		keepAlive, err := o.runOne(conn, r, w, cs)
		if err != nil {
			o.cfg.Logger.WithError(err).Debug("exchange terminated")
			return
		}
		if !keepAlive {
			return
		}
		if o.cfg.MaxErrorResponses > 0 && cs.errorResponses >= o.cfg.MaxErrorResponses {
			o.cfg.Logger.WithField("count", cs.errorResponses).
				Debug("closing connection: error response cap reached")
			return
		}
	}
}

// runOne drives a single request/response exchange. It returns whether
// the connection should be kept open for another exchange.
func (o *Orchestrator) runOne(conn net.Conn, r *bufio.Reader, w *bufio.Writer, cs *connState) (keepAlive bool, err error) {
	started := time.Now()

	parser := httphead.NewParser(r, o.cfg.MaxHeadSize)
	head, parseErr := parser.Parse()
	if parseErr != nil {
		if errors.Is(parseErr, io.EOF) {
			return false, parseErr
		}
		// The peer's version is unknown when the head never parsed;
		// assume 1.1 for the error response framing.
		cw := channel.New(w, 1, 1, true, o.cfg.DiscardRejectedInformational, o.cfg.Logger)
		resp := o.handleError(timeoutAware(parseErr))
		cs.errorResponses++
		o.setWriteDeadline(conn)
		n, _ := cw.Write(resp)
		o.cfg.EventSink.ResponseSent(resp.StatusCode, n, time.Since(started))
		return false, nil
	}

	o.cfg.EventSink.RequestHeadReceived(head.Method, head.RawTarget, parser.BytesRead(), time.Since(started))

	cw := channel.New(w, head.Major, head.Minor, head.HasMinor, o.cfg.DiscardRejectedInformational, o.cfg.Logger)
	keepAlive = wantsKeepAlive(head, defaultKeepAlive(head))

	// The query string never participates in routing.
	path, _, _ := strings.Cut(head.RawTarget, "?")

	contentType, _ := head.Headers.Get("Content-Type")
	accept, _ := head.Headers.Get("Accept")

	mode, length, bodyErr := httpbody.ResolveMode(head.Method, &head.Headers, false)
	if bodyErr != nil {
		resp := o.handleError(bodyErr)
		cs.errorResponses++
		o.setWriteDeadline(conn)
		n, _ := cw.Write(resp)
		o.cfg.EventSink.ResponseSent(resp.StatusCode, n, time.Since(started))
		return false, nil
	}

	body := httpbody.NewReader(r, mode, length)
	if httpbody.ExpectsContinue(&head.Headers, head.Major, head.Minor, head.HasMinor) {
		// Emitted lazily: the client is only told to proceed once the
		// handler actually reads the body. A body the handler left unread
		// is not drained: the final response is already written, so this
		// hook's write fails, Discard fails, and the connection is closed.
		body.OnFirstRead(func() error {
			contResp, buildErr := response.New(100).Build()
			if buildErr != nil {
				return buildErr
			}
			o.setWriteDeadline(conn)
			_, werr := cw.Write(contResp)
			return werr
		})
	}

	req := &httpapi.Request{Head: head, Body: body, Path: path}

	routes, actionReg := o.cfg.Registries()

	var befores []httpapi.BeforeFunc
	var afters []httpapi.AfterFunc
	if actionReg != nil {
		befores, afters, _ = actionReg.Match(path)
	}

	var resp *response.Response
	var exchangeErr error
	handlerReached := false

	for _, before := range befores {
		shortCircuit, berr := before(req)
		if berr != nil {
			exchangeErr = berr
			break
		}
		if shortCircuit != nil {
			resp = shortCircuit
			break
		}
	}

	if resp == nil && exchangeErr == nil {
		switch {
		case head.Major > 1:
			// The parser admits HTTP/2 and HTTP/3 version lines, but
			// nothing behind this point implements their framing.
			exchangeErr = errs.New(errs.KindVersionUnsupported, "HTTP version not implemented for dispatch")
		case routes == nil:
			exchangeErr = errs.New(errs.KindRouteNotFound, "no routes registered")
		default:
			if m, ok := routes.Lookup(path); ok {
				req.Params = m.Params
				handler, herr := routing.ResolveHandler(m, head.Method, contentType, accept)
				if herr != nil {
					exchangeErr = herr
				} else {
					handlerReached = true
					resp, exchangeErr = handler.Fn(req)
				}
			} else {
				exchangeErr = errs.New(errs.KindRouteNotFound, "no route matches "+path)
			}
		}
	}

	if exchangeErr != nil {
		exchangeErr = timeoutAware(exchangeErr)
		resp = o.handleError(exchangeErr)
		keepAlive = keepAlive && !closesConnection(exchangeErr)
	}

	// After actions run for every response a handler or before action
	// produced, and for errors raised inside the handler itself; an
	// error surfaced before the handler ran skips them.
	if exchangeErr == nil || handlerReached {
		for _, after := range afters {
			newResp, aerr := after(req, resp)
			if aerr != nil {
				// An after-action fault bypasses the exception chain
				// entirely: the connection is closed rather than risk
				// sending a response built from inconsistent state.
				return false, aerr
			}
			if newResp != nil {
				resp = newResp
			}
		}
	}

	if resp == nil {
		resp, _ = response.New(204).Build()
	}
	if resp.StatusCode >= 400 {
		cs.errorResponses++
	}

	o.setWriteDeadline(conn)
	n, werr := cw.Write(resp)
	o.cfg.EventSink.ResponseSent(resp.StatusCode, n, time.Since(started))
	if werr != nil {
		return false, werr
	}
	if cw.Corrupted() {
		return false, nil
	}

	if drainErr := body.Discard(); drainErr != nil {
		return false, nil
	}

	return keepAlive, nil
}

// handleError runs the exception-handler chain over err, falling back to
// a minimal status-only response derived from its errs.Kind if no
// exception handler claims it.
func (o *Orchestrator) handleError(err error) *response.Response {
	var next func(error) (*response.Response, error)
	idx := 0
	next = func(e error) (*response.Response, error) {
		if idx >= len(o.cfg.Exceptions) {
			return defaultErrorResponse(e), nil
		}
		handler := o.cfg.Exceptions[idx]
		idx++
		return handler(e, next)
	}
	resp, rerr := next(err)
	if rerr != nil || resp == nil {
		return defaultErrorResponse(err)
	}
	return resp
}

func defaultErrorResponse(err error) *response.Response {
	kind := errs.KindIllegalResponseBody
	var e *errs.Error
	if errors.As(err, &e) {
		kind = e.Kind
	}
	msg := err.Error()
	builder := response.New(kind.StatusCode()).
		Header("Content-Type", "text/plain; charset=utf-8").
		Body(strings.NewReader(msg), int64(len(msg)))
	if kind == errs.KindMethodNotAllowed && e != nil && e.Field != "" {
		builder = builder.Header("Allow", e.Field)
	}
	resp, buildErr := builder.Build()
	if buildErr != nil {
		resp, _ = response.New(kind.StatusCode()).Build()
	}
	return resp
}

func closesConnection(err error) bool {
	var e *errs.Error
	if errors.As(err, &e) {
		return e.Kind.ClosesConnection()
	}
	return false
}

func defaultKeepAlive(head *httphead.Head) bool {
	if head.Major > 1 {
		return true
	}
	return head.Major == 1 && head.HasMinor && head.Minor >= 1
}

func wantsKeepAlive(head *httphead.Head, def bool) bool {
	conn, ok := head.Headers.Get("Connection")
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(conn)) {
	case "close":
		return false
	case "keep-alive":
		return true
	default:
		return def
	}
}

// setWriteDeadline applies the configured write timeout freshly before a
// write, kept separate from the idle-read deadline so a slow-reading peer
// mid-response doesn't borrow time from the next exchange's idle budget.
func (o *Orchestrator) setWriteDeadline(conn net.Conn) {
	_ = conn.SetWriteDeadline(time.Now().Add(o.cfg.WriteTimeout))
}

// timeoutAware reclassifies a read timeout firing mid-head as
// errs.KindTimeout so it surfaces as 408 rather than a generic 400: the
// idle deadline expired before the client finished sending a request, not
// because it sent something malformed.
func timeoutAware(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return errs.Wrap(errs.KindTimeout, err)
	}
	return err
}
