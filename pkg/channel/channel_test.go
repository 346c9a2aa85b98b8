package channel

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/flowhttp/server/pkg/response"
	"github.com/stretchr/testify/require"
)

func TestWriteSimpleResponse(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	cw := New(w, 1, 1, true, false, nil)

	resp, err := response.New(200).Header("X-A", "1").Build()
	require.NoError(t, err)

	n, err := cw.Write(resp)
	require.NoError(t, err)
	require.Positive(t, n)

	out := buf.String()
	require.True(t, strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n"))
	require.Contains(t, out, "X-A: 1\r\n")
	require.Contains(t, out, "Content-Length: 0\r\n")
}

func TestWriteKnownLengthBody(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	cw := New(w, 1, 1, true, false, nil)

	resp, err := response.New(200).Body(strings.NewReader("hello"), 5).Build()
	require.NoError(t, err)

	_, err = cw.Write(resp)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "Content-Length: 5\r\n\r\nhello")
}

func TestWriteChunkedBodyUnknownLength(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	cw := New(w, 1, 1, true, false, nil)

	resp, err := response.New(200).Body(strings.NewReader("hello"), -1).Build()
	require.NoError(t, err)

	_, err = cw.Write(resp)
	require.NoError(t, err)
	out := buf.String()
	require.Contains(t, out, "Transfer-Encoding: chunked\r\n")
	require.Contains(t, out, "5\r\nhello\r\n0\r\n\r\n")
}

func TestWriteAfterFinalResponseFails(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	cw := New(w, 1, 1, true, false, nil)

	resp, err := response.New(200).Build()
	require.NoError(t, err)
	_, err = cw.Write(resp)
	require.NoError(t, err)

	_, err = cw.Write(resp)
	require.ErrorIs(t, err, ErrFinalResponseSent)
}

func TestDuplicate100ContinueIsSilentlyDropped(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	cw := New(w, 1, 1, true, false, nil)

	resp, err := response.New(100).Build()
	require.NoError(t, err)

	n1, err := cw.Write(resp)
	require.NoError(t, err)
	require.Positive(t, n1)

	n2, err := cw.Write(resp)
	require.NoError(t, err)
	require.Zero(t, n2)
}

func TestInformationalDiscardedForOldPeer(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	cw := New(w, 1, 0, true, true, nil)

	resp, err := response.New(103).Build()
	require.NoError(t, err)

	n, err := cw.Write(resp)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, buf.String())
}

func TestWriteOmitsContentLengthOnBodylessStatus(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	cw := New(w, 1, 1, true, false, nil)

	resp, err := response.New(204).Build()
	require.NoError(t, err)
	_, err = cw.Write(resp)
	require.NoError(t, err)
	require.NotContains(t, buf.String(), "Content-Length")
}

func TestInformationalSuppressedForOldPeerEvenWithoutDiscard(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	cw := New(w, 1, 0, true, false, nil)

	resp, err := response.New(103).Build()
	require.NoError(t, err)
	n, err := cw.Write(resp)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, buf.String())
}

func TestWriteAfterCorruptionFails(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	cw := New(w, 1, 1, true, false, nil)

	resp, err := response.New(200).Body(failingReader{}, -1).Build()
	require.NoError(t, err)
	_, err = cw.Write(resp)
	require.Error(t, err)
	require.True(t, cw.Corrupted())

	ok, err := response.New(200).Build()
	require.NoError(t, err)
	_, err = cw.Write(ok)
	require.ErrorIs(t, err, ErrIllegalState)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("stream broke") }
