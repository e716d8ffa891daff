// Package http implements the HTTP/1.1 request/response codec of the
// toolkit: canonical-serialization-backed message types, an incremental
// header/body parser with Content-Length framing, cookie parsing, and the
// server/client protocol layers that bind the codec to a session.
//
// The codec is deliberately hand-engineered over the session engine rather
// than delegated to net/http: the serialization buffer IS the message, so a
// built request goes to the wire byte-exact and a received request can be
// re-emitted unchanged.
package http

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/WhileEndless/go-netserver/pkg/bytebuf"
	"github.com/WhileEndless/go-netserver/pkg/constants"
	"github.com/WhileEndless/go-netserver/pkg/errors"
)

// Header is one (name, value) pair. Insertion order is preserved.
type Header struct {
	Name  string
	Value string
}

// Cookie is one (name, value) pair parsed from a Cookie header.
type Cookie struct {
	Name  string
	Value string
}

// Request is an HTTP request backed by its canonical on-wire serialization:
// the cache buffer always holds the exact bytes as progressively built or
// as received, and the body is a region inside it.
type Request struct {
	method   string
	url      string
	protocol string
	headers  []Header
	cookies  []Cookie

	bodyOffset         int
	bodySize           int
	bodyLength         int
	bodyLengthProvided bool

	cache *bytebuf.Buffer

	// Incremental parsing state.
	headerDone  bool
	bodyDone    bool
	errorFlag   bool
	parsedUntil int
}

// NewRequest creates an empty request.
func NewRequest() *Request {
	return &Request{cache: bytebuf.New()}
}

// Method returns the request method.
func (r *Request) Method() string { return r.method }

// URL returns the request target.
func (r *Request) URL() string { return r.url }

// Protocol returns the protocol version token (e.g. "HTTP/1.1").
func (r *Request) Protocol() string { return r.protocol }

// Headers returns the ordered header list.
func (r *Request) Headers() []Header { return r.headers }

// Header returns the first header value with the given name,
// compared case-insensitively per RFC 7230.
func (r *Request) Header(name string) (string, bool) {
	for _, h := range r.headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// Cookies returns the parsed cookies in order of appearance.
func (r *Request) Cookies() []Cookie { return r.cookies }

// Cookie returns the named cookie value.
func (r *Request) Cookie(name string) (string, bool) {
	for _, c := range r.cookies {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// Body returns the body region of the serialization.
func (r *Request) Body() []byte {
	if r.bodyOffset >= r.cache.Size() {
		return nil
	}
	end := r.bodyOffset + r.bodySize
	if end > r.cache.Size() {
		end = r.cache.Size()
	}
	return r.cache.Data()[r.bodyOffset:end]
}

// BodyString returns the body as a string.
func (r *Request) BodyString() string { return string(r.Body()) }

// BodyLength returns the declared Content-Length (0 when absent).
func (r *Request) BodyLength() int { return r.bodyLength }

// BodyLengthProvided reports whether a Content-Length header was present.
func (r *Request) BodyLengthProvided() bool { return r.bodyLengthProvided }

// Cache returns the canonical serialization buffer.
func (r *Request) Cache() *bytebuf.Buffer { return r.cache }

// IsErrorSet reports whether parsing flagged the request as malformed.
func (r *Request) IsErrorSet() bool { return r.errorFlag }

// HeaderReceived reports whether the header block has been fully parsed.
func (r *Request) HeaderReceived() bool { return r.headerDone }

// BodyReceived reports whether the body is complete.
func (r *Request) BodyReceived() bool { return r.bodyDone }

// IsPendingHeader reports that bytes arrived but the header block has not
// terminated yet.
func (r *Request) IsPendingHeader() bool {
	return !r.errorFlag && !r.headerDone && r.cache.Size() > 0
}

// IsPendingBody reports that the header is parsed but the body is short.
func (r *Request) IsPendingBody() bool {
	return !r.errorFlag && r.headerDone && !r.bodyDone
}

// Clear resets the request for reuse.
func (r *Request) Clear() {
	r.method = ""
	r.url = ""
	r.protocol = ""
	r.headers = r.headers[:0]
	r.cookies = r.cookies[:0]
	r.bodyOffset = 0
	r.bodySize = 0
	r.bodyLength = 0
	r.bodyLengthProvided = false
	r.headerDone = false
	r.bodyDone = false
	r.errorFlag = false
	r.parsedUntil = 0
	r.cache.Clear()
}

// --- construction ---

// SetBegin starts a request with the given method and target using
// HTTP/1.1.
func (r *Request) SetBegin(method, url string) *Request {
	return r.SetBeginProto(method, url, "HTTP/1.1")
}

// SetBeginProto starts a request with an explicit protocol token.
func (r *Request) SetBeginProto(method, url, protocol string) *Request {
	r.Clear()
	r.method = method
	r.url = url
	r.protocol = protocol
	r.cache.AppendString(method)
	r.cache.AppendString(" ")
	r.cache.AppendString(url)
	r.cache.AppendString(" ")
	r.cache.AppendString(protocol)
	r.cache.AppendString("\r\n")
	return r
}

// SetHeader appends a header line and records it.
func (r *Request) SetHeader(name, value string) *Request {
	r.cache.AppendString(name)
	r.cache.AppendString(": ")
	r.cache.AppendString(value)
	r.cache.AppendString("\r\n")
	r.headers = append(r.headers, Header{name, value})
	return r
}

// SetCookie writes a Cookie header with a single pair and records both the
// header and the cookie.
func (r *Request) SetCookie(name, value string) *Request {
	r.SetHeader("Cookie", name+"="+value)
	r.cookies = append(r.cookies, Cookie{name, value})
	return r
}

// AddCookie appends "; name=value" to the Cookie header written by the
// preceding SetCookie call.
func (r *Request) AddCookie(name, value string) *Request {
	// Reopen the last header line: drop the trailing CRLF, extend, close.
	_ = r.cache.Remove(r.cache.Size()-2, 2)
	r.cache.AppendString("; ")
	r.cache.AppendString(name)
	r.cache.AppendString("=")
	r.cache.AppendString(value)
	r.cache.AppendString("\r\n")
	if n := len(r.headers); n > 0 {
		r.headers[n-1].Value += "; " + name + "=" + value
	}
	r.cookies = append(r.cookies, Cookie{name, value})
	return r
}

// SetBody writes the Content-Length header, the header terminator, and the
// body bytes.
func (r *Request) SetBody(body []byte) *Request {
	r.SetHeader("Content-Length", strconv.Itoa(len(body)))
	r.cache.AppendString("\r\n")
	r.bodyOffset = r.cache.Size()
	r.cache.Append(body)
	r.bodySize = len(body)
	r.bodyLength = len(body)
	r.bodyLengthProvided = true
	r.headerDone = true
	r.bodyDone = true
	return r
}

// SetBodyString writes a UTF-8 text body.
func (r *Request) SetBodyString(body string) *Request {
	return r.SetBody([]byte(body))
}

// SetEmptyBody terminates the header block with no body.
func (r *Request) SetEmptyBody() *Request {
	return r.SetBody(nil)
}

// MakeGetRequest builds a complete GET request.
func MakeGetRequest(url string) *Request {
	return NewRequest().SetBegin("GET", url).SetEmptyBody()
}

// MakeHeadRequest builds a complete HEAD request.
func MakeHeadRequest(url string) *Request {
	return NewRequest().SetBegin("HEAD", url).SetEmptyBody()
}

// MakePostRequest builds a complete POST request with a text body.
func MakePostRequest(url, body string) *Request {
	return NewRequest().SetBegin("POST", url).SetBodyString(body)
}

// --- incremental parsing ---

// methodHasNoBody reports methods whose requests never carry a body.
func methodHasNoBody(method string) bool {
	switch method {
	case "HEAD", "GET", "OPTIONS", "TRACE":
		return true
	}
	return false
}

// ReceiveHeader consumes bytes and reports whether the header block has
// terminated. Malformed input sets the error flag (also reported true so
// the caller inspects IsErrorSet).
func (r *Request) ReceiveHeader(data []byte) bool {
	r.cache.Append(data)
	if r.headerDone || r.errorFlag {
		return true
	}

	if r.cache.Size() > constants.MaxHeaderBytes {
		r.errorFlag = true
		return true
	}

	// Search forward from where the last scan ended, backing off three
	// bytes so a CRLFCRLF split across reads is still found.
	start := r.parsedUntil - 3
	if start < 0 {
		start = 0
	}
	idx := bytes.Index(r.cache.Data()[start:], []byte("\r\n\r\n"))
	if idx < 0 {
		r.parsedUntil = r.cache.Size()
		return false
	}

	terminator := start + idx
	if !r.parseHeaderBlock(r.cache.Data()[:terminator+4]) {
		r.errorFlag = true
		return true
	}

	r.headerDone = true
	r.bodyOffset = terminator + 4
	r.bodySize = r.cache.Size() - r.bodyOffset
	r.updateBodyState()
	return true
}

// ReceiveBody consumes bytes after the header and reports body completion.
func (r *Request) ReceiveBody(data []byte) bool {
	r.cache.Append(data)
	if r.errorFlag {
		return true
	}
	r.bodySize = r.cache.Size() - r.bodyOffset
	r.updateBodyState()
	return r.bodyDone
}

// FinalizeBody completes a request whose length was never declared; the
// session calls it at disconnect so a pending body is still delivered.
func (r *Request) FinalizeBody() {
	if r.headerDone && !r.bodyDone {
		r.bodyLength = r.bodySize
		r.bodyDone = true
	}
}

// updateBodyState applies the framing rules: bodyless methods complete
// immediately; declared lengths complete once enough bytes arrived (excess
// belongs to the next pipelined request); undeclared lengths stay pending.
func (r *Request) updateBodyState() {
	if methodHasNoBody(r.method) {
		r.bodyLength = 0
		r.bodySize = 0
		r.bodyDone = true
		return
	}
	if r.bodyLengthProvided {
		if r.bodySize >= r.bodyLength {
			r.bodySize = r.bodyLength
			r.bodyDone = true
		}
		return
	}
	// No Content-Length: pending until disconnect finalizes it.
}

// TotalSize returns the on-wire size of the completed request. Bytes in the
// cache beyond it belong to the next pipelined request.
func (r *Request) TotalSize() int {
	return r.bodyOffset + r.bodySize
}

// parseHeaderBlock parses the request line and headers out of block
// (which includes the terminating CRLFCRLF). Returns false on malformed
// input.
func (r *Request) parseHeaderBlock(block []byte) bool {
	// Request line: method SP url SP protocol CRLF
	lineEnd := bytes.Index(block, []byte("\r\n"))
	if lineEnd < 0 {
		return false
	}
	line := block[:lineEnd]

	sp1 := bytes.IndexByte(line, ' ')
	if sp1 <= 0 {
		return false
	}
	sp2 := bytes.IndexByte(line[sp1+1:], ' ')
	if sp2 < 0 {
		return false
	}
	sp2 += sp1 + 1

	r.method = string(line[:sp1])
	r.url = string(line[sp1+1 : sp2])
	r.protocol = string(line[sp2+1:])
	if r.url == "" || r.protocol == "" {
		return false
	}

	rest := block[lineEnd+2:]
	headers, cookies, ok := parseHeaderLines(rest)
	if !ok {
		return false
	}
	r.headers = headers
	r.cookies = cookies

	for _, h := range headers {
		if strings.EqualFold(h.Name, "Content-Length") {
			length, ok := parseDecimal(h.Value)
			if !ok || length > constants.MaxContentLength {
				return false
			}
			r.bodyLength = length
			r.bodyLengthProvided = true
		}
	}
	return true
}

// parseHeaderLines parses "name: value\r\n" lines up to the blank line,
// collecting cookies along the way. Empty names or values are malformed.
func parseHeaderLines(block []byte) ([]Header, []Cookie, bool) {
	var headers []Header
	var cookies []Cookie

	for {
		lineEnd := bytes.Index(block, []byte("\r\n"))
		if lineEnd < 0 {
			return nil, nil, false
		}
		if lineEnd == 0 {
			// Blank line: end of headers.
			return headers, cookies, true
		}
		line := block[:lineEnd]
		block = block[lineEnd+2:]

		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			return nil, nil, false
		}
		name := string(line[:colon])
		value := strings.TrimLeft(string(line[colon+1:]), " \t")
		if value == "" {
			return nil, nil, false
		}
		headers = append(headers, Header{name, value})

		if strings.EqualFold(name, "Cookie") {
			cookies = append(cookies, parseCookies(value)...)
		}
	}
}

// parseCookies splits a Cookie header value on ';' and '=' with whitespace
// discarded around each token.
func parseCookies(value string) []Cookie {
	var out []Cookie
	for _, segment := range strings.Split(value, ";") {
		eq := strings.Index(segment, "=")
		if eq < 0 {
			continue
		}
		name := strings.TrimSpace(segment[:eq])
		val := strings.TrimSpace(segment[eq+1:])
		if name == "" {
			continue
		}
		out = append(out, Cookie{name, val})
	}
	return out
}

// parseDecimal parses a digits-only decimal integer.
func parseDecimal(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
		if n < 0 {
			return 0, false
		}
	}
	return n, true
}

// errRequestMalformed is the error surfaced with OnReceivedRequestError.
func errRequestMalformed() error {
	return errors.NewProtocolError("malformed HTTP request", nil)
}
