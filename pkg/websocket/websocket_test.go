package websocket_test

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/WhileEndless/go-netserver/pkg/http"
	"github.com/WhileEndless/go-netserver/pkg/session"
	"github.com/WhileEndless/go-netserver/pkg/transport"
	"github.com/WhileEndless/go-netserver/pkg/websocket"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// echoServer records every received message and echoes it back as TEXT.
type echoServer struct {
	srv *websocket.Server

	mu       sync.Mutex
	messages []string
	sessions []*session.Session
}

func startEchoServer(t *testing.T) (*echoServer, int) {
	t.Helper()

	es := &echoServer{}
	cb := websocket.ServerCallbacks{
		Engine: websocket.EngineCallbacks{
			OnConnected: func(s *session.Session) {
				es.mu.Lock()
				es.sessions = append(es.sessions, s)
				es.mu.Unlock()
			},
			OnReceived: func(s *session.Session, opcode byte, payload []byte) {
				es.mu.Lock()
				es.messages = append(es.messages, string(payload))
				es.mu.Unlock()
				es.srv.SendText(s, payload)
			},
		},
	}
	es.srv = websocket.NewServer("127.0.0.1:0", session.ServerOptions{}, cb)
	if err := es.srv.Start(); err != nil {
		t.Fatalf("server start failed: %v", err)
	}
	t.Cleanup(func() { _ = es.srv.Stop() })

	_, portStr, err := net.SplitHostPort(es.srv.ListenAddress())
	if err != nil {
		t.Fatalf("bad listen address: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return es, port
}

func clientConfig(port int) transport.Config {
	return transport.Config{
		Host:        "127.0.0.1",
		Port:        port,
		ConnTimeout: 5 * time.Second,
	}
}

// wsClient wraps a test client with recorded state.
type wsClient struct {
	cli *websocket.Client

	mu        sync.Mutex
	connected bool
	messages  []string
	closed    bool
	status    int
	reason    []byte
}

func connectClient(t *testing.T, port int) *wsClient {
	t.Helper()

	wc := &wsClient{}
	cb := websocket.ClientCallbacks{
		Engine: websocket.EngineCallbacks{
			OnConnected: func(s *session.Session) {
				wc.mu.Lock()
				wc.connected = true
				wc.mu.Unlock()
			},
			OnReceived: func(s *session.Session, opcode byte, payload []byte) {
				wc.mu.Lock()
				wc.messages = append(wc.messages, string(payload))
				wc.mu.Unlock()
			},
			OnClose: func(s *session.Session, status int, reason []byte) {
				wc.mu.Lock()
				wc.closed = true
				wc.status = status
				wc.reason = append([]byte(nil), reason...)
				wc.mu.Unlock()
			},
		},
	}
	wc.cli = websocket.NewClient(clientConfig(port), "/", session.Options{}, cb)
	if err := wc.cli.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	waitFor(t, "handshake", func() bool {
		wc.mu.Lock()
		defer wc.mu.Unlock()
		return wc.connected
	})
	return wc
}

func TestWebSocketEcho(t *testing.T) {
	es, port := startEchoServer(t)
	wc := connectClient(t, port)
	defer wc.cli.Disconnect()

	if !wc.cli.SendText([]byte("hello")) {
		t.Fatalf("send failed")
	}

	waitFor(t, "server message", func() bool {
		es.mu.Lock()
		defer es.mu.Unlock()
		return len(es.messages) == 1 && es.messages[0] == "hello"
	})
	waitFor(t, "client echo", func() bool {
		wc.mu.Lock()
		defer wc.mu.Unlock()
		return len(wc.messages) == 1 && wc.messages[0] == "hello"
	})
}

func TestWebSocketServerPush(t *testing.T) {
	es, port := startEchoServer(t)
	wc := connectClient(t, port)
	defer wc.cli.Disconnect()

	es.mu.Lock()
	s := es.sessions[0]
	es.mu.Unlock()

	if !es.srv.SendText(s, []byte("world")) {
		t.Fatalf("server send failed")
	}
	waitFor(t, "pushed message", func() bool {
		wc.mu.Lock()
		defer wc.mu.Unlock()
		return len(wc.messages) == 1 && wc.messages[0] == "world"
	})
}

func TestWebSocketFragmentedMessage(t *testing.T) {
	es, port := startEchoServer(t)
	wc := connectClient(t, port)
	defer wc.cli.Disconnect()

	if !wc.cli.SendFragment(websocket.OpText, false, []byte("foo")) {
		t.Fatalf("first fragment failed")
	}
	if !wc.cli.SendFragment(websocket.OpContinuation, true, []byte("bar")) {
		t.Fatalf("final fragment failed")
	}

	waitFor(t, "reassembled message", func() bool {
		es.mu.Lock()
		defer es.mu.Unlock()
		return len(es.messages) == 1 && es.messages[0] == "foobar"
	})
}

func TestWebSocketClose(t *testing.T) {
	es, port := startEchoServer(t)
	wc := connectClient(t, port)

	es.mu.Lock()
	s := es.sessions[0]
	es.mu.Unlock()

	if !es.srv.SendClose(s, websocket.CloseGoingAway, []byte("bye")) {
		t.Fatalf("server close failed")
	}

	waitFor(t, "client close callback", func() bool {
		wc.mu.Lock()
		defer wc.mu.Unlock()
		return wc.closed
	})

	wc.mu.Lock()
	if wc.status != websocket.CloseGoingAway {
		t.Fatalf("expected status 1001, got %d", wc.status)
	}
	if !bytes.Equal(wc.reason, []byte("bye")) {
		t.Fatalf("expected reason %q, got %q", "bye", wc.reason)
	}
	wc.mu.Unlock()

	waitFor(t, "both sides disconnected", func() bool {
		cs := wc.cli.Session()
		return cs != nil && cs.State() == session.StateDisconnected &&
			es.srv.Inner().Inner().ConnectedSessions() == 0
	})
}

func TestWebSocketMulticast(t *testing.T) {
	es, port := startEchoServer(t)
	a := connectClient(t, port)
	defer a.cli.Disconnect()
	b := connectClient(t, port)
	defer b.cli.Disconnect()

	waitFor(t, "two upgraded sessions", func() bool {
		es.mu.Lock()
		defer es.mu.Unlock()
		return len(es.sessions) == 2
	})

	if n := es.srv.MulticastText([]byte("blast")); n != 2 {
		t.Fatalf("expected multicast to 2 sessions, got %d", n)
	}
	for _, wc := range []*wsClient{a, b} {
		waitFor(t, "multicast delivery", func() bool {
			wc.mu.Lock()
			defer wc.mu.Unlock()
			return len(wc.messages) == 1 && wc.messages[0] == "blast"
		})
	}
}

func TestWebSocketUpgradeFallThrough(t *testing.T) {
	// A plain HTTP request on a WebSocket port reaches the HTTP hook.
	var mu sync.Mutex
	var plain []string

	cb := websocket.ServerCallbacks{
		OnReceivedRequest: func(s *session.Session, req *http.Request) {
			mu.Lock()
			plain = append(plain, req.Method()+" "+req.URL())
			mu.Unlock()
			http.SendResponseAsync(s, http.MakeErrorResponse(404, "no such route"))
		},
	}
	srv := websocket.NewServer("127.0.0.1:0", session.ServerOptions{}, cb)
	if err := srv.Start(); err != nil {
		t.Fatalf("server start failed: %v", err)
	}
	defer srv.Stop()

	_, portStr, _ := net.SplitHostPort(srv.ListenAddress())
	port, _ := strconv.Atoi(portStr)

	var respMu sync.Mutex
	var status int
	hcb := http.ClientCallbacks{
		OnReceivedResponse: func(s *session.Session, resp *http.Response) {
			respMu.Lock()
			status = resp.Status()
			respMu.Unlock()
		},
	}
	hc := http.NewClient(clientConfig(port), session.Options{}, hcb)
	if _, err := hc.Connect(context.Background()); err != nil {
		t.Fatalf("http connect failed: %v", err)
	}
	defer hc.Disconnect()

	hc.SendRequest(http.MakeGetRequest("/page"))

	waitFor(t, "plain HTTP dispatch", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(plain) == 1 && plain[0] == "GET /page"
	})
	waitFor(t, "404 response", func() bool {
		respMu.Lock()
		defer respMu.Unlock()
		return status == 404
	})
}

func TestWebSocketUpgradeRejected(t *testing.T) {
	srv := websocket.NewServer("127.0.0.1:0", session.ServerOptions{}, websocket.ServerCallbacks{})
	if err := srv.Start(); err != nil {
		t.Fatalf("server start failed: %v", err)
	}
	defer srv.Stop()

	_, portStr, _ := net.SplitHostPort(srv.ListenAddress())
	port, _ := strconv.Atoi(portStr)

	var respMu sync.Mutex
	var status int
	hcb := http.ClientCallbacks{
		OnReceivedResponse: func(s *session.Session, resp *http.Response) {
			respMu.Lock()
			status = resp.Status()
			respMu.Unlock()
		},
	}
	hc := http.NewClient(clientConfig(port), session.Options{}, hcb)
	if _, err := hc.Connect(context.Background()); err != nil {
		t.Fatalf("http connect failed: %v", err)
	}
	defer hc.Disconnect()

	// Upgrade attempt with a bad version must be rejected with 400.
	req := http.NewRequest().
		SetBegin("GET", "/").
		SetHeader("Host", "127.0.0.1").
		SetHeader("Connection", "Upgrade").
		SetHeader("Upgrade", "websocket").
		SetHeader("Sec-WebSocket-Key", "AQIDBAUGBwgJCgsMDQ4PEA==").
		SetHeader("Sec-WebSocket-Version", "12").
		SetEmptyBody()
	hc.SendRequest(req)

	waitFor(t, "400 rejection", func() bool {
		respMu.Lock()
		defer respMu.Unlock()
		return status == 400
	})
}
