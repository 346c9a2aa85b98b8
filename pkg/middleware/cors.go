// Package middleware provides ready-made before/after actions for the
// action registry, starting with CORS: a before action intercepting
// preflight OPTIONS requests and an after action stamping
// Access-Control-Allow-Origin onto every other response.
package middleware

import (
	"os"
	"strings"

	"github.com/flowhttp/server/pkg/httpapi"
	"github.com/flowhttp/server/pkg/response"
)

// CORS builds the before and after action pair implementing CORS for
// allowedOrigins. If allowedOrigins is empty, it falls back to the
// FLOWHTTP_ORIGINS environment variable; if that is unset too, CORS headers
// are never added and preflight requests fall through to ordinary
// routing (producing whatever 404/405 the route registry would anyway).
func CORS(allowedOrigins []string) (httpapi.BeforeFunc, httpapi.AfterFunc) {
	if len(allowedOrigins) == 0 {
		allowedOrigins = allowedOriginsFromEnv()
	}

	if allowedOrigins == nil {
		noop := func(*httpapi.Request) (*response.Response, error) { return nil, nil }
		noopAfter := func(*httpapi.Request, *response.Response) (*response.Response, error) { return nil, nil }
		return noop, noopAfter
	}

	allowAll := len(allowedOrigins) == 1 && allowedOrigins[0] == "*"
	allowedSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowedSet[o] = struct{}{}
	}
	allowed := func(origin string) bool {
		if origin == "" {
			return false
		}
		if allowAll {
			return true
		}
		_, ok := allowedSet[origin]
		return ok
	}

	before := func(req *httpapi.Request) (*response.Response, error) {
		if req.Head.Method != "OPTIONS" {
			return nil, nil
		}
		origin, _ := req.Head.Headers.Get("Origin")
		if !allowed(origin) {
			return nil, nil
		}
		return response.New(204).
			Header("Access-Control-Allow-Origin", origin).
			Header("Access-Control-Allow-Credentials", "true").
			Header("Access-Control-Allow-Methods", "GET, POST, DELETE").
			Header("Access-Control-Allow-Headers", "*").
			Build()
	}

	after := func(req *httpapi.Request, resp *response.Response) (*response.Response, error) {
		if resp == nil {
			return nil, nil
		}
		origin, _ := req.Head.Headers.Get("Origin")
		if !allowed(origin) || resp.Headers.Has("Access-Control-Allow-Origin") {
			return nil, nil
		}
		return rebuildWithHeader(resp, "Access-Control-Allow-Origin", origin)
	}

	return before, after
}

// rebuildWithHeader returns a new Response carrying every header and
// body of resp plus one addition, preserving the builder's immutability
// contract instead of mutating resp in place.
func rebuildWithHeader(resp *response.Response, name, value string) (*response.Response, error) {
	b := response.New(resp.StatusCode).Reason(resp.Reason)
	resp.Headers.Each(func(n, v string) {
		b = b.Header(n, v)
	})
	b = b.Header(name, value)
	if resp.Body != nil {
		b = b.Body(resp.Body, resp.BodyLen)
	}
	return b.Build()
}

func allowedOriginsFromEnv() (origins []string) {
	envOrigins := os.Getenv("FLOWHTTP_ORIGINS")
	if envOrigins == "" {
		return nil
	}
	for _, o := range strings.Split(envOrigins, ",") {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		return nil
	}
	return origins
}
