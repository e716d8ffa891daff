package http_test

import (
	"strings"
	"testing"

	"github.com/WhileEndless/go-netserver/pkg/http"
)

func TestResponseBuildParseRoundTrip(t *testing.T) {
	built := http.NewResponse().
		SetBegin(200).
		SetHeader("Content-Type", "text/plain").
		SetBodyString("hello")

	parsed := http.NewResponse()
	parsed.ReceiveHeader(built.Cache().Data())
	if parsed.IsErrorSet() {
		t.Fatalf("unexpected parse error")
	}
	if parsed.Status() != 200 {
		t.Fatalf("expected status 200, got %d", parsed.Status())
	}
	if parsed.StatusPhrase() != "OK" {
		t.Fatalf("expected phrase OK, got %q", parsed.StatusPhrase())
	}
	if v, _ := parsed.Header("Content-Type"); v != "text/plain" {
		t.Fatalf("content type mismatch: %q", v)
	}
	if parsed.BodyString() != "hello" {
		t.Fatalf("body mismatch: %q", parsed.BodyString())
	}
}

func TestResponseStatusPhrases(t *testing.T) {
	cases := map[int]string{
		200: "OK",
		400: "Bad Request",
		404: "Not Found",
		101: "Switching Protocols",
		500: "Internal Server Error",
	}
	for code, phrase := range cases {
		if got := http.StatusPhrase(code); got != phrase {
			t.Fatalf("status %d: expected %q, got %q", code, phrase, got)
		}
	}
	if got := http.StatusPhrase(799); got != "Unknown" {
		t.Fatalf("expected Unknown for unlisted code, got %q", got)
	}
}

func TestResponseStatusLine(t *testing.T) {
	resp := http.NewResponse().SetBegin(404).SetEmptyBody()
	serialized := string(resp.Cache().Data())
	if !strings.HasPrefix(serialized, "HTTP/1.1 404 Not Found\r\n") {
		t.Fatalf("bad status line: %q", serialized)
	}
}

func TestMakeErrorResponse(t *testing.T) {
	resp := http.MakeErrorResponse(400, "missing header")
	if resp.Status() != 400 {
		t.Fatalf("expected 400, got %d", resp.Status())
	}
	if resp.BodyString() != "missing header" {
		t.Fatalf("reason mismatch: %q", resp.BodyString())
	}

	parsed := http.NewResponse()
	parsed.ReceiveHeader(resp.Cache().Data())
	if parsed.IsErrorSet() || parsed.Status() != 400 {
		t.Fatalf("error response did not round-trip")
	}
}

func TestResponse101HasNoBody(t *testing.T) {
	raw := []byte("HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\n\r\n")
	resp := http.NewResponse()
	resp.ReceiveHeader(raw)
	if resp.IsErrorSet() {
		t.Fatalf("unexpected parse error")
	}
	if !resp.BodyReceived() {
		t.Fatalf("101 should complete at the header")
	}
}

func TestResponseMalformedStatusLine(t *testing.T) {
	for _, raw := range []string{
		"NOTHTTP 200 OK\r\n\r\n",
		"HTTP/1.1 abc OK\r\n\r\n",
	} {
		resp := http.NewResponse()
		resp.ReceiveHeader([]byte(raw))
		if !resp.IsErrorSet() {
			t.Fatalf("expected error flag for %q", raw)
		}
	}
}

func TestContentTypeForPath(t *testing.T) {
	cases := map[string]string{
		"/www/index.html": "text/html",
		"/www/app.json":   "application/json",
		"/www/logo.png":   "image/png",
		"/www/unknown.zzz": "application/octet-stream",
		"/www/noext":      "application/octet-stream",
	}
	for path, want := range cases {
		got := http.ContentTypeForPath(path)
		// Platform mime databases may append charset parameters.
		if !strings.HasPrefix(got, want) {
			t.Fatalf("%s: expected %q, got %q", path, want, got)
		}
	}
}
