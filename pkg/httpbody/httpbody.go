// Package httpbody implements the request body reader: a
// lazily-consumed byte sequence over chunked or length-delimited framing,
// plus the 100-Continue interaction with the client.
package httpbody

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/flowhttp/server/internal/errs"
	"github.com/flowhttp/server/pkg/headers"
)

// Mode identifies how a request body is framed on the wire.
type Mode int

const (
	// ModeEmpty means the request carries no body at all.
	ModeEmpty Mode = iota
	// ModeChunked means the body is framed as chunked transfer-coding.
	ModeChunked
	// ModeLength means the body is exactly Content-Length bytes.
	ModeLength
)

// Chunk extension and trailer parsing are intentionally not implemented;
// chunk extensions are skipped verbatim and trailers are discarded, per
// the minimal body-reading contract.

// ResolveMode applies the framing precedence: a bodyless status or
// request method overrides any headers; otherwise Transfer-Encoding:
// chunked wins over Content-Length; otherwise an absent/zero
// Content-Length means no body.
func ResolveMode(method string, h *headers.Headers, bodylessStatus bool) (Mode, int64, error) {
	if bodylessStatus || method == "HEAD" || method == "CONNECT" {
		return ModeEmpty, 0, nil
	}

	te, hasTE := h.Get("Transfer-Encoding")
	if hasTE {
		codings := splitCommaList(te)
		for i, c := range codings {
			c = strings.ToLower(strings.TrimSpace(c))
			if c == "chunked" {
				if i != len(codings)-1 {
					return ModeEmpty, 0, errs.New(errs.KindBadHeader, "chunked must be the final transfer-coding")
				}
				return ModeChunked, 0, nil
			}
		}
		return ModeEmpty, 0, errs.New(errs.KindBadHeader, "unsupported transfer-coding")
	}

	clValues := h.Values("Content-Length")
	if len(clValues) == 0 {
		return ModeEmpty, 0, nil
	}
	if len(clValues) > 1 {
		return ModeEmpty, 0, errs.New(errs.KindBadHeader, "multiple Content-Length values")
	}
	n, err := strconv.ParseInt(strings.TrimSpace(clValues[0]), 10, 64)
	if err != nil || n < 0 {
		return ModeEmpty, 0, errs.New(errs.KindBadHeader, "invalid Content-Length")
	}
	if n == 0 {
		return ModeEmpty, 0, nil
	}
	return ModeLength, n, nil
}

func splitCommaList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Reader is a lazily-consumed request body. Nothing is read from the
// underlying connection until Read is first called, which lets a handler
// that never touches the body leave it for the exchange orchestrator to
// drain or discard.
type Reader struct {
	r    *bufio.Reader
	mode Mode

	// length-delimited state
	remaining int64

	// chunked state
	chunkRemaining int64
	chunkDone      bool
	atChunkStart   bool

	onFirstRead func() error
	firstDone   bool

	closed bool
}

// OnFirstRead registers fn to run once, before the first byte of the
// body is pulled from the connection. The exchange orchestrator uses it
// to emit the 100 Continue interim response lazily: a client that sent
// "Expect: 100-continue" is only told to proceed when someone actually
// asks for the body. An error from fn is returned by that Read, and no
// body byte is read.
func (b *Reader) OnFirstRead(fn func() error) {
	b.onFirstRead = fn
}

// NewReader constructs a Reader for the given mode. length is ignored
// unless mode is ModeLength.
func NewReader(r *bufio.Reader, mode Mode, length int64) *Reader {
	br := &Reader{r: r, mode: mode}
	switch mode {
	case ModeLength:
		br.remaining = length
	case ModeChunked:
		br.atChunkStart = true
	}
	return br
}

// Read implements io.Reader. It returns io.EOF once the framed body is
// fully consumed, exactly like a normal byte stream.
func (b *Reader) Read(p []byte) (int, error) {
	if b.closed {
		return 0, io.ErrClosedPipe
	}
	if !b.firstDone {
		b.firstDone = true
		if b.onFirstRead != nil && b.mode != ModeEmpty {
			if err := b.onFirstRead(); err != nil {
				return 0, err
			}
		}
	}
	switch b.mode {
	case ModeEmpty:
		return 0, io.EOF
	case ModeLength:
		return b.readLength(p)
	case ModeChunked:
		return b.readChunked(p)
	default:
		return 0, io.EOF
	}
}

func (b *Reader) readLength(p []byte) (int, error) {
	if b.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}
	n, err := b.r.Read(p)
	b.remaining -= int64(n)
	if err == nil && b.remaining == 0 {
		err = io.EOF
	}
	return n, err
}

func (b *Reader) readChunked(p []byte) (int, error) {
	if b.chunkDone {
		return 0, io.EOF
	}
	if b.chunkRemaining == 0 {
		size, err := b.readChunkSize()
		if err != nil {
			return 0, err
		}
		if size == 0 {
			if err := b.discardTrailers(); err != nil {
				return 0, err
			}
			b.chunkDone = true
			return 0, io.EOF
		}
		b.chunkRemaining = size
	}

	if int64(len(p)) > b.chunkRemaining {
		p = p[:b.chunkRemaining]
	}
	n, err := b.r.Read(p)
	b.chunkRemaining -= int64(n)
	if err != nil {
		return n, err
	}
	if b.chunkRemaining == 0 {
		if err := b.expectCRLF(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (b *Reader) readChunkSize() (int64, error) {
	line, err := b.readLine()
	if err != nil {
		return 0, err
	}
	if semi := strings.IndexByte(line, ';'); semi >= 0 {
		line = line[:semi]
	}
	size, err := strconv.ParseInt(strings.TrimSpace(line), 16, 64)
	if err != nil || size < 0 {
		return 0, errs.New(errs.KindBadHeader, "invalid chunk size")
	}
	return size, nil
}

func (b *Reader) discardTrailers() error {
	for {
		line, err := b.readLine()
		if err != nil {
			return err
		}
		if line == "" {
			return nil
		}
	}
}

func (b *Reader) expectCRLF() error {
	line, err := b.readLine()
	if err != nil {
		return err
	}
	if line != "" {
		return errs.New(errs.KindBadHeader, "malformed chunk terminator")
	}
	return nil
}

func (b *Reader) readLine() (string, error) {
	line, err := b.r.ReadString('\n')
	if err != nil {
		if err == io.EOF {
			return "", errs.New(errs.KindBadHeader, "unexpected end of stream in chunked body")
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Discard reads and discards the remainder of the body, for the
// orchestrator to call on a handler that never consumed it before
// starting the next exchange on the same connection.
func (b *Reader) Discard() error {
	_, err := io.Copy(io.Discard, b)
	if err == io.EOF {
		return nil
	}
	return err
}

// Close marks the reader unusable. It does not drain the underlying
// stream; callers that need the connection left in a reusable state
// must call Discard first.
func (b *Reader) Close() error {
	b.closed = true
	return nil
}

// ExpectsContinue reports whether the request head requires a
// 100-Continue interim response before the body is read, per the
// "Expect: 100-continue" request header.
func ExpectsContinue(h *headers.Headers, major, minor int, hasMinor bool) bool {
	if major < 1 || (major == 1 && hasMinor && minor == 0) {
		return false
	}
	val, ok := h.Get("Expect")
	if !ok {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(val), "100-continue")
}
