package session

import (
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/WhileEndless/go-netserver/pkg/bytebuf"
	"github.com/WhileEndless/go-netserver/pkg/errors"
)

// State is a session's position in its lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateHandshaking
	StateHandshaked
	StateDisconnecting
)

// String returns the lifecycle state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateHandshaking:
		return "handshaking"
	case StateHandshaked:
		return "handshaked"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Session is the per-connection object bundling the socket, buffers, and
// state. Reads are driven by a dedicated reader goroutine; writes are
// coalesced through a main/flush double buffer drained by a writer
// goroutine. Both goroutines exit on disconnect.
type Session struct {
	id     uuid.UUID
	server *Server // nil for client-side sessions
	opts   Options
	cb     Callbacks

	conn net.Conn

	// Receive side. The buffer is owned by the reader goroutine.
	recvBuf []byte

	// Send side. sendMu guards the main/flush pair and their swap; writeMu
	// serializes socket writes between the synchronous Send path and the
	// writer goroutine. Neither lock is ever held across the other.
	sendMu     sync.Mutex
	sendMain   *bytebuf.Buffer
	sendFlush  *bytebuf.Buffer
	sendSignal chan struct{}
	writeMu    sync.Mutex

	stopCh chan struct{}
	wg     sync.WaitGroup

	state         atomic.Int32
	disconnecting atomic.Bool
	sending       atomic.Bool
	receiving     atomic.Bool

	bytesReceived atomic.Int64
	bytesSent     atomic.Int64
	bytesPending  atomic.Int64
	bytesSending  atomic.Int64

	// userData carries protocol-layer state (HTTP request assembly,
	// WebSocket engine). Written during session setup and from session
	// callbacks only, which the reader goroutine serializes.
	userData any
}

// SetUserData attaches protocol-layer state to the session.
func (s *Session) SetUserData(v any) { s.userData = v }

// UserData returns the protocol-layer state attached to the session.
func (s *Session) UserData() any { return s.userData }

// newSession wires a session around an established connection. server is
// nil for client-side sessions.
func newSession(server *Server, conn net.Conn, opts Options, cb Callbacks) *Session {
	opts = opts.withDefaults()
	s := &Session{
		id:         uuid.New(),
		server:     server,
		opts:       opts,
		cb:         cb,
		conn:       conn,
		recvBuf:    make([]byte, opts.ReceiveBufferSize),
		sendMain:   bytebuf.NewWithCapacity(opts.SendBufferSize),
		sendFlush:  bytebuf.NewWithCapacity(opts.SendBufferSize),
		sendSignal: make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

// ID returns the session's unique 128-bit identifier.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Conn exposes the underlying stream. Protocol layers use it for direct
// synchronous reads; applications normally should not.
func (s *Session) Conn() net.Conn {
	return s.conn
}

// Server returns the owning server, or nil for client-side sessions.
func (s *Session) Server() *Server {
	return s.server
}

// Options returns the session options.
func (s *Session) Options() Options {
	return s.opts
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// IsConnected reports whether the session is usable for I/O.
func (s *Session) IsConnected() bool {
	st := s.State()
	return st == StateConnected || st == StateHandshaking || st == StateHandshaked
}

// BytesReceived returns the total bytes received.
func (s *Session) BytesReceived() int64 { return s.bytesReceived.Load() }

// BytesSent returns the total bytes written to the socket.
func (s *Session) BytesSent() int64 { return s.bytesSent.Load() }

// BytesPending returns the bytes queued but not yet handed to the socket.
func (s *Session) BytesPending() int64 { return s.bytesPending.Load() }

// BytesSending returns the bytes currently in an in-flight write.
func (s *Session) BytesSending() int64 { return s.bytesSending.Load() }

// start transitions the session to its steady state and launches the I/O
// goroutines. handshake, when non-nil, runs between OnConnecting and
// OnConnected (TLS transports use it).
func (s *Session) start(handshake func() error) error {
	s.cb.fireConnecting(s)

	if handshake != nil {
		s.state.Store(int32(StateHandshaking))
		s.cb.fireHandshaking(s)
		if err := handshake(); err != nil {
			s.state.Store(int32(StateDisconnected))
			s.conn.Close()
			if s.server != nil {
				s.server.unregister(s)
			}
			return err
		}
		s.state.Store(int32(StateHandshaked))
		s.cb.fireHandshaked(s)
	}

	s.state.Store(int32(StateConnected))
	s.cb.fireConnected(s)

	s.wg.Add(1)
	go s.sendLoop()
	s.ReceiveAsync()
	return nil
}

// ReceiveAsync primes the asynchronous read cycle. The first call launches
// the reader goroutine; subsequent calls are no-ops. Sessions created by a
// server or client have this called for them.
func (s *Session) ReceiveAsync() {
	if !s.receiving.CompareAndSwap(false, true) {
		return
	}
	s.wg.Add(1)
	go s.receiveLoop()
}

// Receive performs a synchronous read into buf, returning the bytes read.
// It is only meaningful when the asynchronous read cycle has not been
// primed; with the reader goroutine active the two would race for socket
// data.
func (s *Session) Receive(buf []byte) (int, error) {
	if !s.IsConnected() {
		return 0, errors.NewIOError("read", net.ErrClosed)
	}
	n, err := s.conn.Read(buf)
	if n > 0 {
		s.bytesReceived.Add(int64(n))
		if s.server != nil {
			s.server.bytesReceived.Add(int64(n))
		}
	}
	if err != nil {
		if errors.IsDisconnectError(err) {
			s.Disconnect()
			return n, nil
		}
		s.cb.fireError(s, errors.NewIOError("read", err))
		s.Disconnect()
		return n, err
	}
	return n, nil
}

// receiveLoop drives the asynchronous read cycle: read, dispatch, grow.
func (s *Session) receiveLoop() {
	defer s.wg.Done()

	for {
		n, err := s.conn.Read(s.recvBuf)
		if n > 0 {
			s.bytesReceived.Add(int64(n))
			if s.server != nil {
				s.server.bytesReceived.Add(int64(n))
			}
			s.cb.fireReceived(s, s.recvBuf[:n])

			// A completely filled buffer means the peer likely had more to
			// give; double the capacity before the next read.
			if n == len(s.recvBuf) {
				grown := 2 * len(s.recvBuf)
				if s.opts.ReceiveBufferLimit > 0 && grown > s.opts.ReceiveBufferLimit {
					if len(s.recvBuf) < s.opts.ReceiveBufferLimit {
						grown = s.opts.ReceiveBufferLimit
					} else {
						s.cb.fireError(s, errors.NewNoBufferSpaceError("receive", s.opts.ReceiveBufferLimit))
						s.Disconnect()
						return
					}
				}
				s.recvBuf = make([]byte, grown)
			}
		}
		if err != nil {
			if !errors.IsDisconnectError(err) && !s.disconnecting.Load() {
				s.cb.fireError(s, errors.NewIOError("read", err))
			}
			s.Disconnect()
			return
		}
	}
}

// Send synchronously writes data to the socket, bypassing the send queue.
// Returns the number of bytes written, or 0 on failure. Synchronous and
// asynchronous sends are serialized against each other, but no ordering is
// promised between the two paths.
func (s *Session) Send(data []byte) int {
	if !s.IsConnected() || len(data) == 0 {
		return 0
	}

	s.writeMu.Lock()
	written := 0
	for written < len(data) {
		n, err := s.conn.Write(data[written:])
		written += n
		if err != nil {
			s.writeMu.Unlock()
			if !errors.IsDisconnectError(err) {
				s.cb.fireError(s, errors.NewIOError("write", err))
			}
			s.Disconnect()
			return 0
		}
	}
	s.writeMu.Unlock()

	s.bytesSent.Add(int64(written))
	if s.server != nil {
		s.server.bytesSent.Add(int64(written))
	}
	s.cb.fireSent(s, int64(written), s.bytesPending.Load())
	return written
}

// SendAsync enqueues data for transmission. It returns false when the
// session is disconnected or when the send buffer limit would be exceeded;
// the latter also surfaces a no_buffer_space error through OnError.
// Bytes enqueued by successive calls are transmitted in call order.
func (s *Session) SendAsync(data []byte) bool {
	if !s.IsConnected() {
		return false
	}
	if len(data) == 0 {
		return true
	}

	s.sendMu.Lock()
	if s.opts.SendBufferLimit > 0 && s.sendMain.Size()+len(data) > s.opts.SendBufferLimit {
		s.sendMu.Unlock()
		s.cb.fireError(s, errors.NewNoBufferSpaceError("send", s.opts.SendBufferLimit))
		return false
	}
	s.sendMain.Append(data)
	s.sending.Store(true)
	s.sendMu.Unlock()

	s.bytesPending.Add(int64(len(data)))

	// Wake the writer; a pending wakeup already covers us.
	select {
	case s.sendSignal <- struct{}{}:
	default:
	}
	return true
}

// SendAsyncString enqueues the UTF-8 bytes of text.
func (s *Session) SendAsyncString(text string) bool {
	return s.SendAsync([]byte(text))
}

// sendLoop drains the send queue. Each wakeup swaps main into flush when
// flush is empty, writes the flush buffer out, and repeats until both
// buffers drain, at which point OnEmpty fires.
func (s *Session) sendLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case <-s.sendSignal:
			if !s.trySend() {
				return
			}
		}
	}
}

// trySend pushes queued bytes to the socket until the queue drains or the
// session dies. Returns false when the session should stop sending.
func (s *Session) trySend() bool {
	for {
		s.sendMu.Lock()
		if s.sendFlush.Empty() {
			// Swap the producer buffer into flush position.
			s.sendMain, s.sendFlush = s.sendFlush, s.sendMain
		}
		if s.sendFlush.Empty() {
			// Both buffers drained.
			s.sending.Store(false)
			s.sendMu.Unlock()
			s.cb.fireEmpty(s)
			return true
		}
		chunk := s.sendFlush.Data()[s.sendFlush.Offset():]
		s.sendMu.Unlock()

		s.bytesSending.Store(int64(len(chunk)))

		s.writeMu.Lock()
		n, err := s.conn.Write(chunk)
		s.writeMu.Unlock()

		if n > 0 {
			s.bytesSending.Store(0)
			s.bytesSent.Add(int64(n))
			s.bytesPending.Add(int64(-n))
			if s.server != nil {
				s.server.bytesSent.Add(int64(n))
			}

			s.sendMu.Lock()
			s.sendFlush.Shift(n)
			if s.sendFlush.Offset() == s.sendFlush.Size() {
				s.sendFlush.Clear()
			}
			s.sendMu.Unlock()

			s.cb.fireSent(s, int64(n), s.bytesPending.Load())
		}
		if err != nil {
			if !errors.IsDisconnectError(err) && !s.disconnecting.Load() {
				s.cb.fireError(s, errors.NewIOError("write", err))
			}
			s.Disconnect()
			return false
		}
	}
}

// Disconnect tears the session down: the stream is shut down (gracefully
// for TLS), the socket closed, both send buffers cleared, and the
// disconnect callbacks fired. It is idempotent — the first call returns
// true, any further call returns false — and safe to call from any
// callback or goroutine.
func (s *Session) Disconnect() bool {
	if !s.disconnecting.CompareAndSwap(false, true) {
		return false
	}

	s.state.Store(int32(StateDisconnecting))
	s.cb.fireDisconnecting(s)

	// TLS graceful shutdown is best-effort; failures are swallowed.
	if tlsConn, ok := s.conn.(*tls.Conn); ok {
		_ = tlsConn.CloseWrite()
	}
	_ = s.conn.Close()
	close(s.stopCh)

	s.sendMu.Lock()
	pending := int64(s.sendMain.Size() + s.sendFlush.Size() - s.sendFlush.Offset())
	s.sendMain.Clear()
	s.sendFlush.Clear()
	s.sendMu.Unlock()
	s.bytesPending.Add(-pending)
	s.bytesSending.Store(0)
	s.sending.Store(false)

	s.state.Store(int32(StateDisconnected))
	s.cb.fireDisconnected(s)

	if s.server != nil {
		s.server.unregister(s)
	}
	return true
}

// wait blocks until the session's I/O goroutines exit. Must not be called
// from a session callback.
func (s *Session) wait() {
	s.wg.Wait()
}
