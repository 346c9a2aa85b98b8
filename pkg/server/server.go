// Package server assembles the head parser, body reader, route registry,
// action registry, response builder, and channel writer behind one
// embeddable front door: register routes and actions, then Serve a
// listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	units "github.com/docker/go-units"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/flowhttp/server/pkg/actions"
	"github.com/flowhttp/server/pkg/exchange"
	"github.com/flowhttp/server/pkg/httpapi"
	"github.com/flowhttp/server/pkg/logging"
	"github.com/flowhttp/server/pkg/routing"
)

// ErrServerClosed is returned by Serve once Shutdown has stopped it
// gracefully, mirroring net/http.ErrServerClosed so a caller can tell a
// clean stop from a real listener failure.
var ErrServerClosed = errors.New("server: server closed")

// ErrAlreadyServing is returned by Serve if the Server is already running
// on another listener.
var ErrAlreadyServing = errors.New("server: already serving")

// ConfigError reports an invalid Config field, raised by New rather than
// deferred to the first request.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("server: invalid %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Config configures a Server.
//
// Default settings satisfy most embedders; only override a field once
// you understand what it trades away.
type Config struct {
	// MaxRequestHeadSize bounds the bytes the head parser
	// buffers before failing with HeadTooLarge.
	//
	// Default: 8192.
	MaxRequestHeadSize int

	// DiscardRejectedInformational controls how a 1xx response is dropped
	// when the peer's declared HTTP version predates 1.1 and cannot
	// understand interim responses: silently (true) or with a logged
	// warning (false). The response is never written either way.
	//
	// Default: true. Pass a pointer so the zero value (nil) can be told
	// apart from an explicit false.
	DiscardRejectedInformational *bool

	// IdleConnectionTimeout bounds how long a connection may sit idle —
	// between exchanges, or mid-head — before it is closed.
	//
	// Default: 90s.
	IdleConnectionTimeout time.Duration

	// WriteTimeout bounds a single response write, independent of
	// IdleConnectionTimeout; it protects the writer against a slow-reading
	// peer once a response is in flight.
	//
	// Default: 30s.
	WriteTimeout time.Duration

	// MaxErrorResponses caps the number of error responses one connection
	// may receive before it is forced closed, so a client that keeps
	// sending malformed requests on a kept-alive connection cannot wedge a
	// goroutine indefinitely. 0 means unbounded.
	MaxErrorResponses int

	// MaxConcurrentConnections bounds how many accepted connections may be
	// served at once. Additional accepts block (not fail) until a slot
	// frees up. 0 means unbounded — the Go-native rendering of the
	// "OS-thread-per-connection or cooperative tasks" choice left open by
	// the design: goroutines are always used, this just bounds how many
	// run at once.
	MaxConcurrentConnections int

	// Exceptions is the user-supplied exception-handler chain consulted
	// for parse and negotiation errors. It is never consulted for
	// after-action or channel-writer faults, which always close the
	// connection (prevents infinite loops through a misbehaving handler).
	Exceptions []httpapi.ExceptionFunc

	// Logger receives per-connection diagnostics.
	//
	// Default: a discarding logger.
	Logger logging.Logger

	// EventSink receives RequestHeadReceived / ResponseSent /
	// HttpServerStarted / HttpServerStopped notifications. Emission is
	// synchronous on the connection's goroutine; implementations must not
	// block. metrics.Sink is the bundled Prometheus-backed implementation.
	//
	// Default: a no-op sink.
	EventSink exchange.EventSink
}

// WARNING: a negative duration or count is always rejected regardless of
// which field carries it; New never silently clamps a misconfiguration.
func (cfg *Config) validate() error {
	if cfg.MaxRequestHeadSize < 0 {
		return &ConfigError{Field: "MaxRequestHeadSize", Err: fmt.Errorf("must not be negative (got %s)", units.HumanSize(float64(cfg.MaxRequestHeadSize)))}
	}
	if cfg.IdleConnectionTimeout < 0 {
		return &ConfigError{Field: "IdleConnectionTimeout", Err: fmt.Errorf("must not be negative (got %s)", cfg.IdleConnectionTimeout)}
	}
	if cfg.WriteTimeout < 0 {
		return &ConfigError{Field: "WriteTimeout", Err: fmt.Errorf("must not be negative (got %s)", cfg.WriteTimeout)}
	}
	if cfg.MaxErrorResponses < 0 {
		return &ConfigError{Field: "MaxErrorResponses", Err: fmt.Errorf("must not be negative (got %d)", cfg.MaxErrorResponses)}
	}
	if cfg.MaxConcurrentConnections < 0 {
		return &ConfigError{Field: "MaxConcurrentConnections", Err: fmt.Errorf("must not be negative (got %d)", cfg.MaxConcurrentConnections)}
	}
	return nil
}

func boolOrDefault(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// noopEventSink is the default EventSink when Config.EventSink is nil; it
// lets Serve call sink methods unconditionally rather than nil-checking on
// every event.
type noopEventSink struct{}

func (noopEventSink) RequestHeadReceived(string, string, int, time.Duration) {}
func (noopEventSink) ResponseSent(int, int64, time.Duration)                 {}
func (noopEventSink) HTTPServerStarted(string)                               {}
func (noopEventSink) HTTPServerStopped()                                     {}

// Server is the assembled facade wiring every subsystem together. The
// zero value is not usable; construct one with New.
type Server struct {
	cfg Config

	mu         sync.RWMutex
	routes     *routing.Registry
	actionsReg *actions.Registry

	orchestrator *exchange.Orchestrator

	sem *semaphore.Weighted

	serveMu  sync.Mutex
	listener net.Listener
	stopping chan struct{}

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
}

// New validates cfg, fills in its defaults, and returns an empty Server
// ready for route and action registration.
func New(cfg Config) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.MaxRequestHeadSize == 0 {
		cfg.MaxRequestHeadSize = 8192
	}
	if cfg.IdleConnectionTimeout == 0 {
		cfg.IdleConnectionTimeout = 90 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.EventSink == nil {
		cfg.EventSink = noopEventSink{}
	}

	s := &Server{
		cfg:        cfg,
		routes:     routing.NewRegistry(),
		actionsReg: actions.NewRegistry(),
		conns:      make(map[net.Conn]struct{}),
	}
	if cfg.MaxConcurrentConnections > 0 {
		s.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrentConnections))
	}

	s.orchestrator = exchange.New(exchange.Config{
		Registries:                   s.currentRegistries,
		Exceptions:                   cfg.Exceptions,
		MaxHeadSize:                  cfg.MaxRequestHeadSize,
		DiscardRejectedInformational: boolOrDefault(cfg.DiscardRejectedInformational, true),
		IdleTimeout:                  cfg.IdleConnectionTimeout,
		WriteTimeout:                 cfg.WriteTimeout,
		MaxErrorResponses:            cfg.MaxErrorResponses,
		Logger:                       cfg.Logger,
		EventSink:                    cfg.EventSink,
	})

	return s, nil
}

func (s *Server) currentRegistries() (*routing.Registry, *actions.Registry) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.routes, s.actionsReg
}

// Route registers handlers on pattern, returning a registration error
// (ErrRoutePatternInvalid, ErrRouteCollision, ErrHandlerCollision) rather
// than panicking, so an embedder can decide how to treat a misconfigured
// route table. On error no handler from this call is registered.
func (s *Server) Route(pattern string, hs ...routing.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg := s.routes
	for _, h := range hs {
		next, err := reg.AddRoute(pattern, h)
		if err != nil {
			return err
		}
		reg = next
	}
	s.routes = reg
	return nil
}

// Before registers fn as a before-action on pattern.
func (s *Server) Before(pattern string, fn httpapi.BeforeFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := s.actionsReg.AddBefore(pattern, fn)
	if err != nil {
		return err
	}
	s.actionsReg = next
	return nil
}

// After registers fn as an after-action on pattern.
func (s *Server) After(pattern string, fn httpapi.AfterFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := s.actionsReg.AddAfter(pattern, fn)
	if err != nil {
		return err
	}
	s.actionsReg = next
	return nil
}

// Serve runs the accept loop — one goroutine per connection, supervised
// by an errgroup.Group — until ln is closed or Shutdown is called. It
// always returns a non-nil error: ErrServerClosed on a graceful Shutdown,
// the Accept error otherwise.
func (s *Server) Serve(ln net.Listener) error {
	s.serveMu.Lock()
	if s.listener != nil {
		s.serveMu.Unlock()
		return ErrAlreadyServing
	}
	s.listener = ln
	s.stopping = make(chan struct{})
	s.serveMu.Unlock()

	s.cfg.EventSink.HTTPServerStarted(ln.Addr().String())
	defer s.cfg.EventSink.HTTPServerStopped()

	group, groupCtx := errgroup.WithContext(context.Background())

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stopping:
				_ = group.Wait()
				return ErrServerClosed
			default:
				_ = group.Wait()
				return err
			}
		}

		if s.sem != nil {
			if err := s.sem.Acquire(groupCtx, 1); err != nil {
				conn.Close()
				continue
			}
		}

		s.trackConn(conn, true)
		group.Go(func() error {
			defer s.trackConn(conn, false)
			defer func() {
				if s.sem != nil {
					s.sem.Release(1)
				}
			}()
			s.orchestrator.ServeConnection(conn)
			return nil
		})
	}
}

func (s *Server) trackConn(conn net.Conn, add bool) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// Shutdown stops accepting new connections and waits for in-flight
// exchanges to reach Idle or Closing, up to ctx's deadline, then
// hard-closes whatever connections remain — the direct rendering of the
// design's "graceful-stop signal ... waits ... then hard-closes".
func (s *Server) Shutdown(ctx context.Context) error {
	s.serveMu.Lock()
	ln := s.listener
	stopping := s.stopping
	s.serveMu.Unlock()

	if ln == nil {
		return nil
	}
	close(stopping)
	if err := ln.Close(); err != nil {
		return err
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.activeConns() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			s.closeAllConns()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Server) activeConns() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

func (s *Server) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}
