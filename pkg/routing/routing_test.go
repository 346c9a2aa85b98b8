package routing

import (
	"testing"

	"github.com/flowhttp/server/internal/errs"
	"github.com/stretchr/testify/require"
)

func TestAddAndLookupStaticRoute(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg, err := reg.AddRoute("/hello", Handler{Method: "GET", Produces: Nothing})
	require.NoError(t, err)

	m, ok := reg.Lookup("/hello")
	require.True(t, ok)
	require.Equal(t, "/hello", m.Pattern)
}

func TestLookupParam(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg, err := reg.AddRoute("/greet/:name", Handler{Method: "GET"})
	require.NoError(t, err)

	m, ok := reg.Lookup("/greet/Ada")
	require.True(t, ok)
	require.Equal(t, "Ada", m.Params["name"])
}

func TestAddRouteCollisionStaticParam(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg, err := reg.AddRoute("/foo", Handler{Method: "GET"})
	require.NoError(t, err)

	_, err = reg.AddRoute("/:x", Handler{Method: "GET"})
	require.ErrorIs(t, err, ErrRouteCollision)
}

func TestAddRouteHandlerCollision(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg, err := reg.AddRoute("/foo", Handler{Method: "GET"})
	require.NoError(t, err)

	_, err = reg.AddRoute("/foo", Handler{Method: "GET"})
	require.ErrorIs(t, err, ErrHandlerCollision)
}

func TestResolveHandlerMethodNotAllowed(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg, err := reg.AddRoute("/foo", Handler{Method: "GET"})
	require.NoError(t, err)
	m, _ := reg.Lookup("/foo")

	_, err = ResolveHandler(m, "POST", "", "")
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, errs.KindMethodNotAllowed, e.Kind)
}

func TestResolveHandlerMediaTypeUnsupported(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg, err := reg.AddRoute("/foo", Handler{Method: "POST", Consumes: "application/json"})
	require.NoError(t, err)
	m, _ := reg.Lookup("/foo")

	_, err = ResolveHandler(m, "POST", "text/plain", "")
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, errs.KindMediaTypeUnsupported, e.Kind)
}

func TestResolveHandlerNegotiatesProduces(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg, err := reg.AddRoute("/foo", Handler{Method: "GET", Produces: "application/json"})
	require.NoError(t, err)
	reg, err = reg.AddRoute("/foo", Handler{Method: "GET", Produces: "text/html"})
	require.NoError(t, err)
	m, _ := reg.Lookup("/foo")

	h, err := ResolveHandler(m, "GET", "", "text/html, application/json;q=0.5")
	require.NoError(t, err)
	require.Equal(t, "text/html", h.Produces)
}

func TestResolveHandlerNothingConsumesMatchesOnlyNoBody(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg, err := reg.AddRoute("/unload", Handler{Method: "POST", Consumes: Nothing, Produces: NothingAndAll})
	require.NoError(t, err)
	m, _ := reg.Lookup("/unload")

	h, err := ResolveHandler(m, "POST", "", "")
	require.NoError(t, err)
	require.Equal(t, Nothing, h.Consumes)

	_, err = ResolveHandler(m, "POST", "application/json", "")
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, errs.KindMediaTypeUnsupported, e.Kind)
}

func TestResolveHandlerNothingAndAllConsumesMatchesEither(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg, err := reg.AddRoute("/unload", Handler{Method: "POST", Consumes: NothingAndAll, Produces: NothingAndAll})
	require.NoError(t, err)
	m, _ := reg.Lookup("/unload")

	_, err = ResolveHandler(m, "POST", "", "")
	require.NoError(t, err)
	_, err = ResolveHandler(m, "POST", "application/json", "")
	require.NoError(t, err)
}

func TestResolveHandlerMethodNotAllowedReportsAllow(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg, err := reg.AddRoute("/foo", Handler{Method: "GET"})
	require.NoError(t, err)
	reg, err = reg.AddRoute("/foo", Handler{Method: "POST"})
	require.NoError(t, err)
	m, _ := reg.Lookup("/foo")

	_, err = ResolveHandler(m, "DELETE", "", "")
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, errs.KindMethodNotAllowed, e.Kind)
	require.Contains(t, e.Field, "GET")
	require.Contains(t, e.Field, "POST")
}

func TestResolveHandlerAmbiguous(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg, err := reg.AddRoute("/foo", Handler{Method: "GET", Produces: "application/json"})
	require.NoError(t, err)
	reg, err = reg.AddRoute("/foo", Handler{Method: "GET", Produces: "text/html"})
	require.NoError(t, err)
	m, _ := reg.Lookup("/foo")

	_, err = ResolveHandler(m, "GET", "", "*/*")
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, errs.KindAmbiguousHandler, e.Kind)
}

func TestAddRouteCollisionParamName(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg, err := reg.AddRoute("/a/:id", Handler{Method: "GET"})
	require.NoError(t, err)

	_, err = reg.AddRoute("/a/:other", Handler{Method: "GET"})
	require.ErrorIs(t, err, ErrRouteCollision)
}

func TestAddRouteRejectsRedundantConsumesTrio(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg, err := reg.AddRoute("/r", Handler{Method: "POST", Consumes: Nothing, Produces: "text/plain"})
	require.NoError(t, err)
	reg, err = reg.AddRoute("/r", Handler{Method: "POST", Consumes: NothingAndAll, Produces: "text/plain"})
	require.NoError(t, err)

	_, err = reg.AddRoute("/r", Handler{Method: "POST", Consumes: AnyType, Produces: "text/plain"})
	require.ErrorIs(t, err, ErrHandlerCollision)
}

func TestResolveHandlerNothingBeatsNothingAndAllWithoutAccept(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg, err := reg.AddRoute("/s", Handler{Method: "GET", Produces: Nothing})
	require.NoError(t, err)
	reg, err = reg.AddRoute("/s", Handler{Method: "GET", Produces: NothingAndAll})
	require.NoError(t, err)
	m, _ := reg.Lookup("/s")

	h, err := ResolveHandler(m, "GET", "", "")
	require.NoError(t, err)
	require.Equal(t, Nothing, h.Produces)
}

func TestResolveHandlerWildcardBeatsNothingAndAllWithAccept(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg, err := reg.AddRoute("/s", Handler{Method: "GET", Produces: AnyType})
	require.NoError(t, err)
	reg, err = reg.AddRoute("/s", Handler{Method: "GET", Produces: NothingAndAll})
	require.NoError(t, err)
	m, _ := reg.Lookup("/s")

	h, err := ResolveHandler(m, "GET", "", "*/*")
	require.NoError(t, err)
	require.Equal(t, AnyType, h.Produces)
}

func TestResolveHandlerConcreteBeatsWildcardAtEqualQ(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg, err := reg.AddRoute("/s", Handler{Method: "GET", Produces: "text/plain"})
	require.NoError(t, err)
	reg, err = reg.AddRoute("/s", Handler{Method: "GET", Produces: "text/*"})
	require.NoError(t, err)
	m, _ := reg.Lookup("/s")

	h, err := ResolveHandler(m, "GET", "", "text/plain")
	require.NoError(t, err)
	require.Equal(t, "text/plain", h.Produces)
}

func TestResolveHandlerQualityOutranksSpecificity(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg, err := reg.AddRoute("/r", Handler{Method: "GET", Consumes: AnyType, Produces: "text/plain"})
	require.NoError(t, err)
	reg, err = reg.AddRoute("/r", Handler{Method: "GET", Consumes: AnyType, Produces: "text/html"})
	require.NoError(t, err)
	m, _ := reg.Lookup("/r")

	h, err := ResolveHandler(m, "GET", "application/json", "text/html;q=0.9, text/plain;q=0.5")
	require.NoError(t, err)
	require.Equal(t, "text/html", h.Produces)
}

func TestResolveHandlerConsumesParamSuperset(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg, err := reg.AddRoute("/u", Handler{Method: "POST", Consumes: "text/plain; charset=utf-8", Produces: NothingAndAll})
	require.NoError(t, err)
	m, _ := reg.Lookup("/u")

	_, err = ResolveHandler(m, "POST", "text/plain; charset=utf-8; format=flowed", "")
	require.NoError(t, err)

	_, err = ResolveHandler(m, "POST", "text/plain", "")
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, errs.KindMediaTypeUnsupported, e.Kind)
}

func TestLookupCatchAll(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg, err := reg.AddRoute("/*p", Handler{Method: "GET"})
	require.NoError(t, err)

	m, ok := reg.Lookup("/")
	require.True(t, ok)
	require.Equal(t, "/", m.Params["p"])

	m, ok = reg.Lookup("/anything/here")
	require.True(t, ok)
	require.Equal(t, "/anything/here", m.Params["p"])
}

func TestLookupParamDoesNotMatchRoot(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg, err := reg.AddRoute("/:p", Handler{Method: "GET"})
	require.NoError(t, err)

	_, ok := reg.Lookup("/foo")
	require.True(t, ok)
	_, ok = reg.Lookup("/")
	require.False(t, ok)
}
