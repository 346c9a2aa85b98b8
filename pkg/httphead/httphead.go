// Package httphead implements the request head parser: a
// byte-level state machine decoding the start line and headers of an
// HTTP/1.x request into a structured, immutable Head value.
package httphead

import (
	"bufio"
	"fmt"
	"io"

	"github.com/flowhttp/server/internal/errs"
	"github.com/flowhttp/server/pkg/headers"
)

// Head is the parsed, immutable request head.
type Head struct {
	// Method is the non-empty request method token, exactly as received.
	Method string
	// RawTarget is the request-target exactly as received, unparsed.
	RawTarget string
	// Major and Minor are the HTTP version numbers. Minor is meaningless
	// (and always 0) when HasMinor is false (versions 2 and 3).
	Major, Minor int
	HasMinor     bool
	// Headers is the ordered, case-preserving header multimap. Duplicate
	// case-insensitive names are retained, per request-parsing semantics.
	Headers headers.Headers
}

// parse errors, one per way a request head can be malformed.
var (
	errMethodEmpty     = errs.New(errs.KindParse, "method token is empty")
	errNoSlash         = errs.New(errs.KindParse, "missing '/' after HTTP version name")
	errNotHTTPName     = errs.New(errs.KindParse, "version name is not \"HTTP\"")
	errBadMajor        = errs.New(errs.KindParse, "major version is not a valid number")
	errBadMinor        = errs.New(errs.KindParse, "minor version is not a valid number")
	errMinorRequired   = errs.New(errs.KindParse, "minor version is required for this major version")
	errMinorUnexpected = errs.New(errs.KindParse, "minor version is not allowed for this major version")
	errHeaderNameEmpty = errs.New(errs.KindParse, "header name is empty")
	errHeadTooLarge    = errs.New(errs.KindParse, "request head exceeds the configured maximum size")
	errUnexpectedEOF   = errs.New(errs.KindParse, "unexpected end of stream while parsing the request head")

	// errMajorUnsupported is raised for a version line that parses
	// cleanly but names a (major, minor) combination outside the
	// supported set {0.9, 1.0, 1.1, 2, 3} — kept separate from the
	// parse-error kinds above per the design ("unknown combinations
	// yield a distinct 'version not supported' error").
	errMajorUnsupported = errs.New(errs.KindVersionUnsupported, "HTTP version is not supported")
)

const (
	sp    = ' '
	cr    = '\r'
	lf    = '\n'
	colon = ':'
)

// Parser decodes one request head from a byte stream.
type Parser struct {
	r       *bufio.Reader
	maxSize int
	read    int
}

// NewParser creates a Parser reading from r, rejecting heads larger than
// maxSize bytes (the HeadTooLarge error).
func NewParser(r *bufio.Reader, maxSize int) *Parser {
	return &Parser{r: r, maxSize: maxSize}
}

// BytesRead returns how many bytes of the stream Parse has consumed so
// far, for the RequestHeadReceived event.
func (p *Parser) BytesRead() int {
	return p.read
}

func (p *Parser) readByte() (byte, error) {
	if p.maxSize > 0 && p.read >= p.maxSize {
		return 0, errHeadTooLarge
	}
	b, err := p.r.ReadByte()
	if err != nil {
		if err == io.EOF {
			if p.read == 0 {
				// Clean close before any byte of a head: not a parse
				// error, the peer just ended the keep-alive session.
				return 0, io.EOF
			}
			return 0, errUnexpectedEOF
		}
		return 0, err
	}
	p.read++
	return b, nil
}

func (p *Parser) expect(want byte) error {
	b, err := p.readByte()
	if err != nil {
		return err
	}
	if b != want {
		return errUnexpectedEOF
	}
	return nil
}

// Parse decodes one request head. A nil Head is returned alongside any
// error.
func (p *Parser) Parse() (*Head, error) {
	head := &Head{}

	method, err := p.readToken(sp)
	if err != nil {
		return nil, err
	}
	if method == "" {
		return nil, errMethodEmpty
	}
	head.Method = method

	target, err := p.readToken(sp)
	if err != nil {
		return nil, err
	}
	head.RawTarget = target

	if err := p.parseVersion(head); err != nil {
		return nil, err
	}

	if err := p.expectCRLF(); err != nil {
		return nil, err
	}

	if err := p.parseHeaders(head); err != nil {
		return nil, err
	}

	return head, nil
}

// readToken reads bytes up to (and consuming) the delimiter d, forbidding
// CR/LF from appearing before it.
func (p *Parser) readToken(d byte) (string, error) {
	var buf []byte
	for {
		b, err := p.readByte()
		if err != nil {
			return "", err
		}
		if b == d {
			return string(buf), nil
		}
		if b == cr || b == lf {
			return "", errUnexpectedEOF
		}
		buf = append(buf, b)
	}
}

func (p *Parser) expectCRLF() error {
	if err := p.expect(cr); err != nil {
		return err
	}
	return p.expect(lf)
}

func (p *Parser) parseVersion(head *Head) error {
	want := [4]byte{'H', 'T', 'T', 'P'}
	for _, w := range want {
		b, err := p.readByte()
		if err != nil {
			return err
		}
		if b != w {
			return errNotHTTPName
		}
	}
	slash, err := p.readByte()
	if err != nil {
		return err
	}
	if slash != '/' {
		return errNoSlash
	}

	major, err := p.readDigits()
	if err != nil {
		return err
	}
	majorVal, ok := atoiDigits(major)
	if !ok {
		return fmt.Errorf("%w: %q", errBadMajor, major)
	}
	head.Major = majorVal

	// Peek whether a '.' (minor separator) follows.
	next, err := p.r.Peek(1)
	hasDot := err == nil && len(next) == 1 && next[0] == '.'

	minorRequired := majorVal == 0 || majorVal == 1
	if hasDot && !minorRequired {
		return errMinorUnexpected
	}
	if !hasDot && minorRequired {
		return errMinorRequired
	}

	if hasDot {
		if _, err := p.readByte(); err != nil { // consume '.'
			return err
		}
		minor, err := p.readDigits()
		if err != nil {
			return err
		}
		minorVal, ok := atoiDigits(minor)
		if !ok {
			return fmt.Errorf("%w: %q", errBadMinor, minor)
		}
		head.Minor = minorVal
		head.HasMinor = true
	}

	if !isSupportedVersion(head.Major, head.Minor, head.HasMinor) {
		return fmt.Errorf("%w: %d.%d", errMajorUnsupported, head.Major, head.Minor)
	}

	return nil
}

func isSupportedVersion(major, minor int, hasMinor bool) bool {
	switch {
	case major == 0:
		return hasMinor && minor == 9
	case major == 1:
		return hasMinor && (minor == 0 || minor == 1)
	case major == 2, major == 3:
		return !hasMinor
	default:
		return false
	}
}

func (p *Parser) readDigits() (string, error) {
	var buf []byte
	for {
		b, err := p.r.Peek(1)
		if err != nil || len(b) == 0 || b[0] < '0' || b[0] > '9' {
			return string(buf), nil
		}
		actual, err := p.readByte()
		if err != nil {
			return "", err
		}
		buf = append(buf, actual)
	}
}

func atoiDigits(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, c := range []byte(s) {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

func (p *Parser) parseHeaders(head *Head) error {
	for {
		next, err := p.r.Peek(1)
		if err != nil {
			if err == io.EOF {
				return errUnexpectedEOF
			}
			return err
		}
		if next[0] == cr {
			// Blank line: end of headers.
			return p.expectCRLF()
		}

		name, err := p.readToken(colon)
		if err != nil {
			return err
		}
		if name == "" {
			return errHeaderNameEmpty
		}

		if err := p.skipOWS(); err != nil {
			return err
		}

		value, err := p.readHeaderValue()
		if err != nil {
			return err
		}

		if err := p.expectCRLF(); err != nil {
			return err
		}

		head.Headers.Add(name, value)
	}
}

func (p *Parser) skipOWS() error {
	for {
		b, err := p.r.Peek(1)
		if err != nil || len(b) == 0 || (b[0] != ' ' && b[0] != '\t') {
			return nil
		}
		if _, err := p.readByte(); err != nil {
			return err
		}
	}
}

// readHeaderValue reads up to (not consuming) CR, then trims trailing
// optional whitespace.
func (p *Parser) readHeaderValue() (string, error) {
	var buf []byte
	for {
		b, err := p.r.Peek(1)
		if err != nil {
			if err == io.EOF {
				return "", errUnexpectedEOF
			}
			return "", err
		}
		if b[0] == cr {
			break
		}
		actual, err := p.readByte()
		if err != nil {
			return "", err
		}
		buf = append(buf, actual)
	}
	end := len(buf)
	for end > 0 && (buf[end-1] == ' ' || buf[end-1] == '\t') {
		end--
	}
	return string(buf[:end]), nil
}
