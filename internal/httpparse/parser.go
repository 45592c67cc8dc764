// Package httpparse implements an incremental, pull-based HTTP/1.x
// parser: callers feed bytes into the parser's own ring.Buffer and
// repeatedly call Next to drain whatever complete events that data
// makes available, without the parser ever copying the
// request/response/header text itself. Event taxonomy (request/
// response/field/body_start/body_chunk/body_end/trailer_end) and
// state-cluster naming (request-line/response-line/field/chunk)
// follow the original C source this was ported from; the
// field-splitting conventions (trim CRLF, split on first ':',
// lower-case the name) follow a simpler reference scanner whose
// read-to-completion design was otherwise unsuited to incremental use.
package httpparse

import (
	"strconv"
	"strings"

	"github.com/kalamay/crux"
	"github.com/kalamay/crux/internal/ring"
)

// Limits bounds parser resource consumption, the ambient config type
// for this package.
type Limits struct {
	MaxFieldLine int // longest method/target/header-name/header-value token
	MaxHeaders   int // most header (or trailer) fields per message
	MaxBody      int // largest total body size, chunked or not
}

// DefaultLimits returns generous bounds suitable for a demo server.
func DefaultLimits() Limits {
	return Limits{MaxFieldLine: 8192, MaxHeaders: 100, MaxBody: 8 << 20}
}

// EventKind enumerates the events the parser can return from Next.
type EventKind int

const (
	EventNone EventKind = iota
	EventRequest
	EventResponse
	EventField
	EventBodyStart
	EventBodyChunk
	EventBodyEnd
	EventTrailerEnd
)

func (k EventKind) String() string {
	switch k {
	case EventRequest:
		return "request"
	case EventResponse:
		return "response"
	case EventField:
		return "field"
	case EventBodyStart:
		return "body-start"
	case EventBodyChunk:
		return "body-chunk"
	case EventBodyEnd:
		return "body-end"
	case EventTrailerEnd:
		return "trailer-end"
	default:
		return "none"
	}
}

// Event is one parser notification. Off/Len (and, for two-part
// tokens, Off2/Len2) of a Request, Response or Field event index into
// the byte slice returned by Parser.Window at the moment the event is
// returned; they are invalidated by the parser's next Feed or Next
// call, matching the zero-copy contract of the ring.Buffer they're
// drawn from.
type Event struct {
	Kind EventKind

	Off, Len   int // request method / response reason / field name
	Off2, Len2 int // request target / field value

	Version int // 0 for HTTP/1.0, 1 for HTTP/1.1
	Status  int // response status code

	ContentLength int64 // set on BodyStart for a non-chunked body
	Chunked       bool  // set on BodyStart

	// Len doubles as the chunk payload size on a BodyChunk event; the
	// payload itself is never captured by an Event; read it via Window
	// and release it with ConsumeBody.
}

type mode int

const (
	modeRequest mode = iota
	modeResponse
)

type state int

const (
	stMethod state = iota
	stTarget
	stReqVersion
	stReqVersionDigit
	stReqCR
	stReqLF

	stRespVersion
	stRespVersionDigit
	stRespSP1
	stRespStatus
	stRespReason
	stRespLF

	stHeaderFieldStart
	stHeaderName
	stHeaderValueStart
	stHeaderValue
	stHeaderLF
	stHeadersEndLF

	stChunkSize
	stChunkExt
	stChunkSizeLF
	stChunkDataPending
	stChunkDataCR
	stChunkDataLF

	stBodyRawPending
	stBodyEndPending
	stTrailerEndPending

	stDone
)

const maxNoProgress = 64

// Parser is the byte-at-a-time HTTP/1.x state machine. It owns its
// input buffer; callers Feed bytes into it and drain Next until it
// reports no progress, at which point more bytes are needed.
type Parser struct {
	limits  Limits
	mode    mode
	headers *HeaderMap

	buf *ring.Buffer
	pos int

	cs       state
	tokStart int
	verIdx   int

	methodOff, methodLen int
	targetOff, targetLen int
	nameOff, nameLen     int
	valueOff, valueLen   int
	version              int
	status               int

	trailers    bool
	chunked     bool
	haveCL      bool
	contentLen  int64
	chunkSize   uint64
	remaining   int64
	bodyTotal   int64
	headerCount int

	lastLen    int
	noProgress int
}

// NewRequest constructs a Parser for request-line + headers + body.
func NewRequest(limits Limits, headers *HeaderMap) (*Parser, error) {
	return newParser(modeRequest, limits, headers)
}

// NewResponse constructs a Parser for response-line + headers + body.
func NewResponse(limits Limits, headers *HeaderMap) (*Parser, error) {
	return newParser(modeResponse, limits, headers)
}

func newParser(m mode, limits Limits, headers *HeaderMap) (*Parser, error) {
	buf, err := ring.New(4096)
	if err != nil {
		return nil, err
	}
	p := &Parser{limits: limits, mode: m, headers: headers, buf: buf}
	if m == modeRequest {
		p.cs = stMethod
	} else {
		p.cs = stRespVersion
	}
	return p, nil
}

// Close releases the parser's buffer.
func (p *Parser) Close() error { return p.buf.Close() }

// Feed appends data to the parser's internal buffer.
func (p *Parser) Feed(data []byte) error {
	return p.buf.Add(data)
}

// Window returns the parser's current unconsumed byte window, the
// slice Event offsets index into.
func (p *Parser) Window() []byte { return p.buf.Data() }

// PendingBody returns the number of raw body bytes the caller must
// read from Window and release via ConsumeBody before calling Next
// again. Zero means Next can be called directly.
func (p *Parser) PendingBody() int64 {
	if p.cs == stChunkDataPending || p.cs == stBodyRawPending {
		return p.remaining
	}
	return 0
}

// ConsumeBody releases n raw body bytes (n may be less than
// PendingBody(), for a partial release) from the front of the
// buffer, advancing the parser past the payload it never parses
// itself. Once the full pending amount has been released, Next
// resumes scanning (the trailing CRLF for a chunk, or straight to
// BodyEnd for a non-chunked body).
func (p *Parser) ConsumeBody(n int64) error {
	if n <= 0 || n > p.remaining {
		return crux.NewRangeError("httpparse.ConsumeBody", "n must be in (0, PendingBody()]")
	}
	if err := p.buf.Trim(int(n)); err != nil {
		return err
	}
	p.remaining -= n
	if p.remaining > 0 {
		return nil
	}
	if p.cs == stChunkDataPending {
		p.cs = stChunkDataCR
	} else {
		p.cs = stBodyEndPending
	}
	return nil
}

func isToken(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	}
	switch b {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}

func isHex(b byte) bool {
	return b >= '0' && b <= '9' || b >= 'a' && b <= 'f' || b >= 'A' && b <= 'F'
}

func hexVal(b byte) uint64 {
	switch {
	case b >= '0' && b <= '9':
		return uint64(b - '0')
	case b >= 'a' && b <= 'f':
		return uint64(b-'a') + 10
	default:
		return uint64(b-'A') + 10
	}
}

func syntaxErr(op string) error {
	return crux.NewHTTPError(op, crux.HTTPSyntax, "malformed input")
}

func sizeErr(op string) error {
	return crux.NewHTTPError(op, crux.HTTPSize, "limit exceeded")
}

// Next scans as far as the buffered data allows and returns the next
// complete event. ok is false when more data is needed (call Feed and
// try again), and it is also false whenever err is non-nil.
func (p *Parser) Next() (Event, bool, error) {
	const op = "httpparse.Next"

	for {
		// the end-of-message events consume no input, so they are
		// delivered even when the buffer holds no further bytes.
		switch p.cs {
		case stBodyEndPending:
			p.cs = stTrailerEndPending
			return Event{Kind: EventBodyEnd}, true, nil
		case stTrailerEndPending:
			p.cs = stDone
			return Event{Kind: EventTrailerEnd}, true, nil
		}

		data := p.buf.Data()
		if p.pos >= len(data) {
			if len(data) == p.lastLen {
				p.noProgress++
				if p.noProgress > maxNoProgress {
					return Event{}, false, crux.NewHTTPError(op, crux.HTTPTooShort, "no progress")
				}
			} else {
				p.lastLen = len(data)
				p.noProgress = 0
			}
			return Event{}, false, nil
		}
		p.noProgress = 0

		b := data[p.pos]

		switch p.cs {
		case stMethod:
			if b == ' ' {
				if p.pos == p.tokStart {
					return Event{}, false, syntaxErr(op)
				}
				p.methodOff, p.methodLen = p.tokStart, p.pos-p.tokStart
				p.pos++
				p.tokStart = p.pos
				p.cs = stTarget
				continue
			}
			if !isToken(b) {
				return Event{}, false, syntaxErr(op)
			}
			if p.pos-p.tokStart >= p.limits.MaxFieldLine {
				return Event{}, false, sizeErr(op)
			}
			p.pos++

		case stTarget:
			if b == ' ' {
				p.targetOff, p.targetLen = p.tokStart, p.pos-p.tokStart
				p.pos++
				p.tokStart = p.pos
				p.verIdx = 0
				p.cs = stReqVersion
				continue
			}
			if b == '\r' || b == '\n' {
				return Event{}, false, syntaxErr(op)
			}
			if p.pos-p.tokStart >= p.limits.MaxFieldLine {
				return Event{}, false, sizeErr(op)
			}
			p.pos++

		case stReqVersion:
			const prefix = "HTTP/1."
			if b != prefix[p.verIdx] {
				return Event{}, false, syntaxErr(op)
			}
			p.verIdx++
			p.pos++
			if p.verIdx == len(prefix) {
				p.cs = stReqVersionDigit
			}

		case stReqVersionDigit:
			switch b {
			case '0':
				p.version = 0
			case '1':
				p.version = 1
			default:
				return Event{}, false, syntaxErr(op)
			}
			p.pos++
			p.cs = stReqCR

		case stReqCR:
			if b != '\r' {
				return Event{}, false, syntaxErr(op)
			}
			p.pos++
			p.cs = stReqLF

		case stReqLF:
			if b != '\n' {
				return Event{}, false, syntaxErr(op)
			}
			p.pos++
			ev := Event{Kind: EventRequest, Off: p.methodOff, Len: p.methodLen, Off2: p.targetOff, Len2: p.targetLen, Version: p.version}
			p.cs = stHeaderFieldStart
			return p.finishToken(ev)

		case stRespVersion:
			const prefix = "HTTP/1."
			if b != prefix[p.verIdx] {
				return Event{}, false, syntaxErr(op)
			}
			p.verIdx++
			p.pos++
			if p.verIdx == len(prefix) {
				p.cs = stRespVersionDigit
			}

		case stRespVersionDigit:
			switch b {
			case '0':
				p.version = 0
			case '1':
				p.version = 1
			default:
				return Event{}, false, syntaxErr(op)
			}
			p.pos++
			p.cs = stRespSP1

		case stRespSP1:
			if b != ' ' {
				return Event{}, false, syntaxErr(op)
			}
			p.pos++
			p.status = 0
			p.cs = stRespStatus

		case stRespStatus:
			if b == ' ' {
				p.pos++
				p.tokStart = p.pos
				p.cs = stRespReason
				continue
			}
			if b < '0' || b > '9' {
				return Event{}, false, syntaxErr(op)
			}
			p.status = p.status*10 + int(b-'0')
			p.pos++

		case stRespReason:
			if b == '\r' {
				p.nameOff, p.nameLen = p.tokStart, p.pos-p.tokStart
				p.pos++
				p.cs = stRespLF
				continue
			}
			if p.pos-p.tokStart >= p.limits.MaxFieldLine {
				return Event{}, false, sizeErr(op)
			}
			p.pos++

		case stRespLF:
			if b != '\n' {
				return Event{}, false, syntaxErr(op)
			}
			p.pos++
			ev := Event{Kind: EventResponse, Off: p.nameOff, Len: p.nameLen, Version: p.version, Status: p.status}
			p.cs = stHeaderFieldStart
			return p.finishToken(ev)

		case stHeaderFieldStart:
			if b == '\r' {
				p.pos++
				p.cs = stHeadersEndLF
				continue
			}
			p.tokStart = p.pos
			p.cs = stHeaderName
			continue

		case stHeaderName:
			if b == ':' {
				p.nameOff, p.nameLen = p.tokStart, p.pos-p.tokStart
				p.pos++
				p.cs = stHeaderValueStart
				continue
			}
			if b == '\r' || b == '\n' {
				return Event{}, false, syntaxErr(op)
			}
			if p.pos-p.tokStart >= p.limits.MaxFieldLine {
				return Event{}, false, sizeErr(op)
			}
			p.pos++

		case stHeaderValueStart:
			if b == ' ' || b == '\t' {
				p.pos++
				continue
			}
			p.tokStart = p.pos
			p.cs = stHeaderValue
			continue

		case stHeaderValue:
			if b == '\r' {
				end := p.pos
				for end > p.tokStart && (data[end-1] == ' ' || data[end-1] == '\t') {
					end--
				}
				p.valueOff, p.valueLen = p.tokStart, end-p.tokStart
				p.pos++
				p.cs = stHeaderLF
				continue
			}
			if p.pos-p.tokStart >= p.limits.MaxFieldLine {
				return Event{}, false, sizeErr(op)
			}
			p.pos++

		case stHeaderLF:
			if b != '\n' {
				return Event{}, false, syntaxErr(op)
			}
			p.pos++
			p.headerCount++
			if p.headerCount > p.limits.MaxHeaders {
				return Event{}, false, sizeErr(op)
			}
			if err := p.scrapeHeader(data); err != nil {
				return Event{}, false, err
			}
			ev := Event{Kind: EventField, Off: p.nameOff, Len: p.nameLen, Off2: p.valueOff, Len2: p.valueLen}
			p.cs = stHeaderFieldStart
			return p.finishToken(ev)

		case stHeadersEndLF:
			if b != '\n' {
				return Event{}, false, syntaxErr(op)
			}
			p.pos++
			return p.finishToken(p.startBody())

		case stChunkSize:
			if isHex(b) {
				p.chunkSize = p.chunkSize*16 + hexVal(b)
				p.pos++
				continue
			}
			if b == ';' {
				p.pos++
				p.cs = stChunkExt
				continue
			}
			if b == '\r' {
				p.pos++
				p.cs = stChunkSizeLF
				continue
			}
			return Event{}, false, syntaxErr(op)

		case stChunkExt:
			if b == '\r' {
				p.pos++
				p.cs = stChunkSizeLF
				continue
			}
			p.pos++

		case stChunkSizeLF:
			if b != '\n' {
				return Event{}, false, syntaxErr(op)
			}
			p.pos++
			if p.chunkSize == 0 {
				p.chunkSize = 0
				ev := Event{Kind: EventBodyEnd}
				p.trailers = true
				p.cs = stHeaderFieldStart
				return p.finishToken(ev)
			}
			p.remaining = int64(p.chunkSize)
			p.bodyTotal += p.remaining
			if p.bodyTotal > int64(p.limits.MaxBody) {
				return Event{}, false, sizeErr(op)
			}
			ev := Event{Kind: EventBodyChunk, Len: int(p.remaining)}
			p.chunkSize = 0
			p.cs = stChunkDataPending
			return p.finishToken(ev)

		case stChunkDataCR:
			if b != '\r' {
				return Event{}, false, syntaxErr(op)
			}
			p.pos++
			p.cs = stChunkDataLF

		case stChunkDataLF:
			if b != '\n' {
				return Event{}, false, syntaxErr(op)
			}
			p.pos++
			p.chunkSize = 0
			if err := p.buf.Trim(p.pos); err != nil {
				return Event{}, false, err
			}
			p.pos = 0
			p.cs = stChunkSize
			continue

		case stBodyRawPending, stChunkDataPending:
			// body payload is read and released via Window/ConsumeBody,
			// never scanned by Next itself.
			return Event{}, false, nil

		case stDone:
			return Event{}, false, nil

		default:
			return Event{}, false, syntaxErr(op)
		}
	}
}

// finishToken returns the event produced by completing a token. For
// Request, Response and Field events the consumed prefix stays
// buffered so the event's offsets still index Window; for every other
// event it trims the consumed prefix off the buffer and resets the
// scan cursor.
func (p *Parser) finishToken(ev Event) (Event, bool, error) {
	switch ev.Kind {
	case EventRequest, EventResponse, EventField:
		return ev, true, nil
	}
	if err := p.buf.Trim(p.pos); err != nil {
		return Event{}, false, err
	}
	p.pos = 0
	return ev, true, nil
}

// startBody decides the BodyStart event (and follow-on state) once
// headers (or trailers) have finished.
func (p *Parser) startBody() Event {
	if p.trailers {
		p.cs = stDone
		return Event{Kind: EventTrailerEnd}
	}
	switch {
	case p.chunked:
		p.cs = stChunkSize
		return Event{Kind: EventBodyStart, Chunked: true}
	case p.haveCL && p.contentLen > 0:
		p.remaining = p.contentLen
		p.cs = stBodyRawPending
		return Event{Kind: EventBodyStart, ContentLength: p.contentLen}
	default:
		p.cs = stBodyEndPending
		return Event{Kind: EventBodyStart}
	}
}

func (p *Parser) scrapeHeader(data []byte) error {
	name := strings.ToLower(string(data[p.nameOff : p.nameOff+p.nameLen]))
	value := string(data[p.valueOff : p.valueOff+p.valueLen])

	switch name {
	case "content-length":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n < 0 {
			return crux.NewHTTPError("httpparse.scrapeHeader", crux.HTTPSyntax, "bad content-length")
		}
		if n > int64(p.limits.MaxBody) {
			return sizeErr("httpparse.scrapeHeader")
		}
		p.haveCL = true
		p.contentLen = n
	case "transfer-encoding":
		if strings.EqualFold(value, "chunked") {
			p.chunked = true
		}
	}

	if p.headers != nil {
		p.headers.Add(string(data[p.nameOff:p.nameOff+p.nameLen]), value)
	}
	return nil
}
