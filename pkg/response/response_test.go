package response

import (
	"strings"
	"testing"

	"github.com/flowhttp/server/internal/errs"
	"github.com/stretchr/testify/require"
)

func TestBuildSimple(t *testing.T) {
	t.Parallel()
	resp, err := New(200).Header("Content-Type", "text/plain").Build()
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	require.Equal(t, "OK", resp.Reason)
	v, ok := resp.Headers.Get("Content-Type")
	require.True(t, ok)
	require.Equal(t, "text/plain", v)
}

func TestBuildUnknownStatusReason(t *testing.T) {
	t.Parallel()
	resp, err := New(499).Build()
	require.NoError(t, err)
	require.Equal(t, "Unknown", resp.Reason)
}

func TestBuildRejectsContentLengthOn204(t *testing.T) {
	t.Parallel()
	_, err := New(204).Header("Content-Length", "0").Build()
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, errs.KindIllegalResponseBody, e.Kind)
}

func TestBuildRejectsBodyOn304(t *testing.T) {
	t.Parallel()
	_, err := New(304).Body(strings.NewReader("x"), 1).Build()
	require.Error(t, err)
}

func TestBuildRejectsConnectionCloseOn1xx(t *testing.T) {
	t.Parallel()
	_, err := New(103).Header("Connection", "close").Build()
	require.Error(t, err)
}

func TestBuildRejectsDuplicateHeaderCaseInsensitive(t *testing.T) {
	t.Parallel()
	_, err := New(200).Header("X-A", "1").Header("x-a", "2").Build()
	require.Error(t, err)
}

func TestBuildRejectsHeaderValueWithSurroundingWhitespace(t *testing.T) {
	t.Parallel()
	_, err := New(200).Header("X-A", " 1").Build()
	require.Error(t, err)
}

func TestBuildDefaultsBodyLenToZeroWithNoBody(t *testing.T) {
	t.Parallel()
	resp, err := New(200).Build()
	require.NoError(t, err)
	require.Equal(t, int64(0), resp.BodyLen)
}

func TestBuilderIsPersistent(t *testing.T) {
	t.Parallel()
	base := New(200).Header("X-A", "1")
	withB := base.Header("X-B", "2")
	withC := base.Header("X-C", "3")

	respB, err := withB.Build()
	require.NoError(t, err)
	respC, err := withC.Build()
	require.NoError(t, err)

	require.False(t, respB.Headers.Has("X-C"))
	require.False(t, respC.Headers.Has("X-B"))

	respBase, err := base.Build()
	require.NoError(t, err)
	require.Equal(t, 1, respBase.Headers.Len())
}

func TestRemoveHeader(t *testing.T) {
	t.Parallel()
	resp, err := New(200).Header("X-A", "1").RemoveHeader("x-a").Build()
	require.NoError(t, err)
	require.False(t, resp.Headers.Has("X-A"))
}

func TestAppendToken(t *testing.T) {
	t.Parallel()
	resp, err := New(200).Header("Vary", "Accept").AppendToken("Vary", "Origin").Build()
	require.NoError(t, err)
	v, _ := resp.Headers.Get("Vary")
	require.Equal(t, "Accept, Origin", v)

	resp, err = New(200).AppendToken("Vary", "Accept").Build()
	require.NoError(t, err)
	v, _ = resp.Headers.Get("Vary")
	require.Equal(t, "Accept", v)
}

func TestNoBodyClearsContentType(t *testing.T) {
	t.Parallel()
	resp, err := New(200).
		Header("Content-Type", "text/plain").
		Body(strings.NewReader("x"), 1).
		NoBody().
		Build()
	require.NoError(t, err)
	require.False(t, resp.Headers.Has("Content-Type"))
	require.Nil(t, resp.Body)
}

func TestHeaderRejectsNameWithSurroundingWhitespace(t *testing.T) {
	t.Parallel()
	_, err := New(200).Header(" X-A", "1").Build()
	require.Error(t, err)
}
