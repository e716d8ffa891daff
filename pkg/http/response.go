package http

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/WhileEndless/go-netserver/pkg/bytebuf"
	"github.com/WhileEndless/go-netserver/pkg/constants"
	"github.com/WhileEndless/go-netserver/pkg/errors"
)

// errResponseMalformed is the error surfaced with OnReceivedResponseError.
func errResponseMalformed() error {
	return errors.NewProtocolError("malformed HTTP response", nil)
}

// Response is an HTTP response backed by its canonical on-wire
// serialization, mirroring Request.
type Response struct {
	protocol     string
	statusCode   int
	statusPhrase string
	headers      []Header

	bodyOffset         int
	bodySize           int
	bodyLength         int
	bodyLengthProvided bool

	cache *bytebuf.Buffer

	headerDone  bool
	bodyDone    bool
	errorFlag   bool
	parsedUntil int
}

// NewResponse creates an empty response.
func NewResponse() *Response {
	return &Response{cache: bytebuf.New()}
}

// Protocol returns the protocol version token.
func (r *Response) Protocol() string { return r.protocol }

// Status returns the status code.
func (r *Response) Status() int { return r.statusCode }

// StatusPhrase returns the reason phrase.
func (r *Response) StatusPhrase() string { return r.statusPhrase }

// Headers returns the ordered header list.
func (r *Response) Headers() []Header { return r.headers }

// Header returns the first header value with the given name,
// compared case-insensitively.
func (r *Response) Header(name string) (string, bool) {
	for _, h := range r.headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// Body returns the body region of the serialization.
func (r *Response) Body() []byte {
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
func (r *Response) BodyString() string { return string(r.Body()) }

// BodyLength returns the declared Content-Length (0 when absent).
func (r *Response) BodyLength() int { return r.bodyLength }

// BodyLengthProvided reports whether a Content-Length header was present.
func (r *Response) BodyLengthProvided() bool { return r.bodyLengthProvided }

// Cache returns the canonical serialization buffer.
func (r *Response) Cache() *bytebuf.Buffer { return r.cache }

// IsErrorSet reports whether parsing flagged the response as malformed.
func (r *Response) IsErrorSet() bool { return r.errorFlag }

// HeaderReceived reports whether the header block has been fully parsed.
func (r *Response) HeaderReceived() bool { return r.headerDone }

// BodyReceived reports whether the body is complete.
func (r *Response) BodyReceived() bool { return r.bodyDone }

// IsPendingHeader reports that bytes arrived but the header block has not
// terminated.
func (r *Response) IsPendingHeader() bool {
	return !r.errorFlag && !r.headerDone && r.cache.Size() > 0
}

// IsPendingBody reports that the header is parsed but the body is short.
func (r *Response) IsPendingBody() bool {
	return !r.errorFlag && r.headerDone && !r.bodyDone
}

// Clear resets the response for reuse.
func (r *Response) Clear() {
	r.protocol = ""
	r.statusCode = 0
	r.statusPhrase = ""
	r.headers = r.headers[:0]
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

// SetBegin starts a response with the given status and its canonical
// phrase, using HTTP/1.1.
func (r *Response) SetBegin(status int) *Response {
	return r.SetBeginPhrase(status, StatusPhrase(status))
}

// SetBeginPhrase starts a response with an explicit reason phrase.
func (r *Response) SetBeginPhrase(status int, phrase string) *Response {
	r.Clear()
	r.protocol = "HTTP/1.1"
	r.statusCode = status
	r.statusPhrase = phrase
	r.cache.AppendString("HTTP/1.1 ")
	r.cache.AppendString(strconv.Itoa(status))
	r.cache.AppendString(" ")
	r.cache.AppendString(phrase)
	r.cache.AppendString("\r\n")
	return r
}

// SetHeader appends a header line and records it.
func (r *Response) SetHeader(name, value string) *Response {
	r.cache.AppendString(name)
	r.cache.AppendString(": ")
	r.cache.AppendString(value)
	r.cache.AppendString("\r\n")
	r.headers = append(r.headers, Header{name, value})
	return r
}

// SetContentType writes a Content-Type header inferred from a file
// extension (e.g. ".html").
func (r *Response) SetContentType(extension string) *Response {
	return r.SetHeader("Content-Type", ContentTypeForExtension(extension))
}

// SetBody writes the Content-Length header, the header terminator, and the
// body bytes.
func (r *Response) SetBody(body []byte) *Response {
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
func (r *Response) SetBodyString(body string) *Response {
	return r.SetBody([]byte(body))
}

// SetEmptyBody terminates the header block with no body.
func (r *Response) SetEmptyBody() *Response {
	return r.SetBody(nil)
}

// MakeOKResponse builds a 200 response with no body.
func MakeOKResponse() *Response {
	return NewResponse().SetBegin(200).SetEmptyBody()
}

// MakeErrorResponse builds an error response with a plain-text reason body.
func MakeErrorResponse(status int, reason string) *Response {
	if reason == "" {
		reason = StatusPhrase(status)
	}
	return NewResponse().
		SetBegin(status).
		SetHeader("Content-Type", "text/plain").
		SetBodyString(reason)
}

// --- incremental parsing ---

// ReceiveHeader consumes bytes and reports whether the header block has
// terminated. Malformed input sets the error flag.
func (r *Response) ReceiveHeader(data []byte) bool {
	r.cache.Append(data)
	if r.headerDone || r.errorFlag {
		return true
	}

	if r.cache.Size() > constants.MaxHeaderBytes {
		r.errorFlag = true
		return true
	}

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
func (r *Response) ReceiveBody(data []byte) bool {
	r.cache.Append(data)
	if r.errorFlag {
		return true
	}
	r.bodySize = r.cache.Size() - r.bodyOffset
	r.updateBodyState()
	return r.bodyDone
}

// FinalizeBody completes a response whose length was never declared; the
// client calls it at disconnect so the accumulated body is delivered.
func (r *Response) FinalizeBody() {
	if r.headerDone && !r.bodyDone {
		r.bodyLength = r.bodySize
		r.bodyDone = true
	}
}

// updateBodyState applies the framing rules: status codes that forbid a
// body complete immediately, declared lengths complete once satisfied,
// undeclared lengths stay pending until disconnect.
func (r *Response) updateBodyState() {
	if r.statusCode == 101 || r.statusCode == 204 || r.statusCode == 304 ||
		(r.statusCode >= 100 && r.statusCode < 200) {
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
}

// TotalSize returns the on-wire size of the completed response.
func (r *Response) TotalSize() int {
	return r.bodyOffset + r.bodySize
}

// parseHeaderBlock parses the status line and headers.
func (r *Response) parseHeaderBlock(block []byte) bool {
	lineEnd := bytes.Index(block, []byte("\r\n"))
	if lineEnd < 0 {
		return false
	}
	line := block[:lineEnd]

	sp1 := bytes.IndexByte(line, ' ')
	if sp1 <= 0 {
		return false
	}
	r.protocol = string(line[:sp1])
	if !strings.HasPrefix(r.protocol, "HTTP/") {
		return false
	}

	rest := line[sp1+1:]
	sp2 := bytes.IndexByte(rest, ' ')
	var codeStr string
	if sp2 < 0 {
		codeStr = string(rest)
		r.statusPhrase = ""
	} else {
		codeStr = string(rest[:sp2])
		r.statusPhrase = string(rest[sp2+1:])
	}
	code, ok := parseDecimal(codeStr)
	if !ok || code < 100 || code > 999 {
		return false
	}
	r.statusCode = code

	headers, _, ok := parseHeaderLines(block[lineEnd+2:])
	if !ok {
		return false
	}
	r.headers = headers

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
