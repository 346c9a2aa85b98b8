// Package channel implements the channel writer: the
// final stage that serializes a built response onto the wire, deciding
// message framing and guarding against writing to a connection already
// corrupted by a previous failed write or already closed by a final
// response.
package channel

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/flowhttp/server/pkg/logging"
	"github.com/flowhttp/server/pkg/response"
)

// ErrIllegalState is returned once a prior write has failed mid-stream;
// the channel is considered corrupted and the connection must be closed
// rather than reused.
var ErrIllegalState = errors.New("channel is corrupted by a previous write failure")

// ErrFinalResponseSent is returned by Write if a final (non-1xx) response
// has already been written on this Writer.
var ErrFinalResponseSent = errors.New("a final response has already been written on this channel")

// Writer serializes responses onto conn in order. It is not safe for
// concurrent use; the exchange orchestrator owns it exclusively for the
// lifetime of one connection.
type Writer struct {
	w                   *bufio.Writer
	httpMajor           int
	httpMinor           int
	hasMinor            bool
	discardRejectedInfo bool
	log                 logging.Logger

	corrupted    bool
	finalSent    bool
	continueSent bool
}

// New creates a Writer for a connection speaking the given HTTP version.
// A 1xx response is never written to a peer whose declared version
// predates 1.1; discardRejectedInformational controls whether that
// suppression is silent (true) or logged (false). A nil log discards.
func New(w *bufio.Writer, major, minor int, hasMinor bool, discardRejectedInformational bool, log logging.Logger) *Writer {
	if log == nil {
		log = logging.Discard()
	}
	return &Writer{w: w, httpMajor: major, httpMinor: minor, hasMinor: hasMinor, discardRejectedInfo: discardRejectedInformational, log: log}
}

// acceptsInformational reports whether the peer's declared version
// understands 1xx interim responses at all (HTTP/1.1 and later).
func (cw *Writer) acceptsInformational() bool {
	if cw.httpMajor > 1 {
		return true
	}
	return cw.httpMajor == 1 && cw.hasMinor && cw.httpMinor >= 1
}

// Write serializes resp onto the connection, returning the number of
// bytes written. It reports (0, nil) for a 1xx response silently
// discarded because the peer cannot understand it.
func (cw *Writer) Write(resp *response.Response) (int64, error) {
	if cw.corrupted {
		return 0, ErrIllegalState
	}
	if cw.finalSent {
		return 0, ErrFinalResponseSent
	}

	informational := resp.StatusCode >= 100 && resp.StatusCode <= 199

	if informational {
		if resp.StatusCode == 100 && cw.continueSent {
			return 0, nil
		}
		if !cw.acceptsInformational() {
			if !cw.discardRejectedInfo {
				cw.log.WithField("status", resp.StatusCode).
					Warn("suppressing interim response: peer predates HTTP/1.1")
			}
			return 0, nil
		}
		if resp.StatusCode == 100 {
			cw.continueSent = true
		}
	}

	n, err := cw.writeResponse(resp)
	if err != nil {
		cw.corrupted = true
		return n, err
	}
	if !informational {
		cw.finalSent = true
	}
	return n, nil
}

func (cw *Writer) writeResponse(resp *response.Response) (int64, error) {
	var total int64

	statusLine := fmt.Sprintf("HTTP/%s %d %s\r\n", cw.versionString(), resp.StatusCode, resp.Reason)
	n, err := io.WriteString(cw.w, statusLine)
	total += int64(n)
	if err != nil {
		return total, err
	}

	chunked := resp.Body != nil && resp.BodyLen < 0

	resp.Headers.Each(func(name, value string) {
		if err != nil {
			return
		}
		var wn int
		wn, err = fmt.Fprintf(cw.w, "%s: %s\r\n", name, value)
		total += int64(wn)
	})
	if err != nil {
		return total, err
	}

	switch {
	case resp.Body == nil:
		if !forbidsContentLength(resp.StatusCode) {
			n, err = io.WriteString(cw.w, "Content-Length: 0\r\n")
		} else {
			n = 0
		}
	case chunked:
		n, err = io.WriteString(cw.w, "Transfer-Encoding: chunked\r\n")
	default:
		n, err = fmt.Fprintf(cw.w, "Content-Length: %d\r\n", resp.BodyLen)
	}
	total += int64(n)
	if err != nil {
		return total, err
	}

	n, err = io.WriteString(cw.w, "\r\n")
	total += int64(n)
	if err != nil {
		return total, err
	}

	if resp.Body == nil {
		return total, cw.w.Flush()
	}

	if chunked {
		bn, err := cw.writeChunked(resp.Body)
		total += bn
		if err != nil {
			return total, err
		}
	} else {
		bn, err := io.CopyN(cw.w, resp.Body, resp.BodyLen)
		total += bn
		if err != nil {
			return total, err
		}
	}

	return total, cw.w.Flush()
}

func (cw *Writer) writeChunked(body io.Reader) (int64, error) {
	var total int64
	buf := make([]byte, 32*1024)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			wn, err := fmt.Fprintf(cw.w, "%x\r\n", n)
			total += int64(wn)
			if err != nil {
				return total, err
			}
			wn2, err := cw.w.Write(buf[:n])
			total += int64(wn2)
			if err != nil {
				return total, err
			}
			wn3, err := io.WriteString(cw.w, "\r\n")
			total += int64(wn3)
			if err != nil {
				return total, err
			}
		}
		if readErr == io.EOF {
			wn, err := io.WriteString(cw.w, "0\r\n\r\n")
			total += int64(wn)
			return total, err
		}
		if readErr != nil {
			return total, readErr
		}
	}
}

// forbidsContentLength reports whether the framing rules bar a
// Content-Length header on this status (1xx, 204, 304).
func forbidsContentLength(code int) bool {
	return (code >= 100 && code <= 199) || code == 204 || code == 304
}

func (cw *Writer) versionString() string {
	if !cw.hasMinor {
		return fmt.Sprintf("%d", cw.httpMajor)
	}
	return fmt.Sprintf("%d.%d", cw.httpMajor, cw.httpMinor)
}

// Corrupted reports whether a prior write failed and the underlying
// connection must be closed rather than kept alive.
func (cw *Writer) Corrupted() bool { return cw.corrupted }
