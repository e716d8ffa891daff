package http_test

import (
	"testing"

	"github.com/WhileEndless/go-netserver/pkg/http"
)

func TestRequestBuildParseRoundTrip(t *testing.T) {
	built := http.NewRequest().
		SetBegin("POST", "/api/items").
		SetHeader("Host", "example.com").
		SetHeader("X-Token", "abc123").
		SetBodyString("payload-bytes")

	parsed := http.NewRequest()
	if !parsed.ReceiveHeader(built.Cache().Data()) {
		t.Fatalf("header not detected")
	}
	if parsed.IsErrorSet() {
		t.Fatalf("unexpected parse error")
	}
	if !parsed.BodyReceived() {
		t.Fatalf("body not complete")
	}

	if parsed.Method() != "POST" {
		t.Fatalf("expected method POST, got %q", parsed.Method())
	}
	if parsed.URL() != "/api/items" {
		t.Fatalf("expected URL /api/items, got %q", parsed.URL())
	}
	if parsed.Protocol() != "HTTP/1.1" {
		t.Fatalf("expected protocol HTTP/1.1, got %q", parsed.Protocol())
	}
	if v, ok := parsed.Header("Host"); !ok || v != "example.com" {
		t.Fatalf("Host header mismatch: %q", v)
	}
	if v, ok := parsed.Header("X-Token"); !ok || v != "abc123" {
		t.Fatalf("X-Token header mismatch: %q", v)
	}
	if parsed.BodyString() != "payload-bytes" {
		t.Fatalf("body mismatch: %q", parsed.BodyString())
	}
	if parsed.BodyLength() != len("payload-bytes") {
		t.Fatalf("body length mismatch: %d", parsed.BodyLength())
	}
	if !parsed.BodyLengthProvided() {
		t.Fatalf("expected Content-Length to be recorded")
	}
}

func TestRequestCookieParsing(t *testing.T) {
	raw := []byte("GET / HTTP/1.1\r\nCookie: a=1; b=2 ;c=3\r\n\r\n")

	req := http.NewRequest()
	req.ReceiveHeader(raw)
	if req.IsErrorSet() {
		t.Fatalf("unexpected parse error")
	}

	cookies := req.Cookies()
	expected := []http.Cookie{{"a", "1"}, {"b", "2"}, {"c", "3"}}
	if len(cookies) != len(expected) {
		t.Fatalf("expected %d cookies, got %d", len(expected), len(cookies))
	}
	for i, want := range expected {
		if cookies[i] != want {
			t.Fatalf("cookie %d: expected %v, got %v", i, want, cookies[i])
		}
	}
}

func TestRequestSetCookieAddCookie(t *testing.T) {
	req := http.NewRequest().
		SetBegin("GET", "/").
		SetCookie("session", "s1")
	req.AddCookie("theme", "dark")
	req.SetEmptyBody()

	parsed := http.NewRequest()
	parsed.ReceiveHeader(req.Cache().Data())
	if parsed.IsErrorSet() {
		t.Fatalf("unexpected parse error")
	}
	if v, ok := parsed.Cookie("session"); !ok || v != "s1" {
		t.Fatalf("session cookie mismatch: %q", v)
	}
	if v, ok := parsed.Cookie("theme"); !ok || v != "dark" {
		t.Fatalf("theme cookie mismatch: %q", v)
	}
}

func TestRequestHeaderCaseInsensitive(t *testing.T) {
	raw := []byte("POST / HTTP/1.1\r\ncontent-length: 4\r\n\r\nbody")

	req := http.NewRequest()
	req.ReceiveHeader(raw)
	if req.IsErrorSet() {
		t.Fatalf("unexpected parse error")
	}
	if !req.BodyLengthProvided() || req.BodyLength() != 4 {
		t.Fatalf("lowercase content-length not recognized")
	}
	if !req.BodyReceived() {
		t.Fatalf("body should be complete")
	}
	if req.BodyString() != "body" {
		t.Fatalf("body mismatch: %q", req.BodyString())
	}
}

func TestRequestSplitHeaderTerminator(t *testing.T) {
	raw := []byte("GET /path HTTP/1.1\r\nHost: h\r\n\r\n")

	// Feed the request one byte at a time; the CRLFCRLF spans reads.
	req := http.NewRequest()
	done := false
	for i := range raw {
		done = req.ReceiveHeader(raw[i : i+1])
		if done && i < len(raw)-1 {
			t.Fatalf("header detected early at byte %d", i)
		}
	}
	if !done {
		t.Fatalf("header not detected")
	}
	if req.URL() != "/path" {
		t.Fatalf("URL mismatch: %q", req.URL())
	}
	if !req.BodyReceived() {
		t.Fatalf("GET body should complete with the header")
	}
}

func TestRequestMalformed(t *testing.T) {
	cases := []string{
		"BAD REQUEST\r\n\r\n",                          // no protocol token
		"GET / HTTP/1.1\r\nNoColonHere\r\n\r\n",        // header without colon
		"GET / HTTP/1.1\r\nEmpty:\r\n\r\n",             // empty header value
		"POST / HTTP/1.1\r\nContent-Length: 12x\r\n\r\n", // non-digit length
	}
	for _, raw := range cases {
		req := http.NewRequest()
		req.ReceiveHeader([]byte(raw))
		if !req.IsErrorSet() {
			t.Fatalf("expected error flag for %q", raw)
		}
	}
}

func TestRequestBodylessMethods(t *testing.T) {
	for _, method := range []string{"GET", "HEAD", "OPTIONS", "TRACE"} {
		raw := []byte(method + " / HTTP/1.1\r\nContent-Length: 5\r\n\r\nextra")
		req := http.NewRequest()
		req.ReceiveHeader(raw)
		if req.IsErrorSet() {
			t.Fatalf("%s: unexpected error", method)
		}
		if !req.BodyReceived() {
			t.Fatalf("%s: body should always be complete", method)
		}
		if len(req.Body()) != 0 {
			t.Fatalf("%s: body should be empty", method)
		}
	}
}

func TestRequestIncrementalBody(t *testing.T) {
	req := http.NewRequest()
	req.ReceiveHeader([]byte("POST / HTTP/1.1\r\nContent-Length: 10\r\n\r\n12345"))
	if req.BodyReceived() {
		t.Fatalf("body complete too early")
	}
	if !req.IsPendingBody() {
		t.Fatalf("expected pending body")
	}
	if !req.ReceiveBody([]byte("67890")) {
		t.Fatalf("body should be complete")
	}
	if req.BodyString() != "1234567890" {
		t.Fatalf("body mismatch: %q", req.BodyString())
	}
}

func TestRequestFinalizeBody(t *testing.T) {
	req := http.NewRequest()
	req.ReceiveHeader([]byte("POST / HTTP/1.1\r\nHost: h\r\n\r\npartial"))
	if req.BodyReceived() {
		t.Fatalf("body without Content-Length should stay pending")
	}
	req.FinalizeBody()
	if !req.BodyReceived() {
		t.Fatalf("finalize should complete the body")
	}
	if req.BodyString() != "partial" {
		t.Fatalf("body mismatch: %q", req.BodyString())
	}
}
