// Package websocket implements RFC 6455 on top of the HTTP layer: the
// upgrade handshake on both sides, a frame encoder with client-side
// masking, and an incremental frame decoder with control-frame handling.
package websocket

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/WhileEndless/go-netserver/pkg/bytebuf"
	"github.com/WhileEndless/go-netserver/pkg/constants"
	"github.com/WhileEndless/go-netserver/pkg/session"
)

// GUID is the handshake magic of RFC 6455 §1.3.
const GUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// Opcodes per RFC 6455 §5.2.
const (
	OpContinuation byte = 0x0
	OpText         byte = 0x1
	OpBinary       byte = 0x2
	OpClose        byte = 0x8
	OpPing         byte = 0x9
	OpPong         byte = 0xA
)

// Close status codes.
const (
	CloseNormal        = 1000
	CloseGoingAway     = 1001
	CloseProtocolError = 1002
)

const (
	finBit  = 0x80
	maskBit = 0x80
)

// AcceptKey computes the Sec-WebSocket-Accept value for a
// Sec-WebSocket-Key: base64(sha1(key ++ GUID)).
func AcceptKey(key string) string {
	sum := sha1.Sum([]byte(key + GUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Mask XORs payload in place with the 4-byte key, starting the key rotation
// at keyOffset. Applying it twice restores the original bytes.
func Mask(payload []byte, key [4]byte, keyOffset int) {
	for i := range payload {
		payload[i] ^= key[(keyOffset+i)%4]
	}
}

// EngineCallbacks bundles the hooks of one WebSocket endpoint.
type EngineCallbacks struct {
	// OnConnected fires once the upgrade handshake completes.
	OnConnected func(s *session.Session)

	// OnReceived fires for every complete (possibly reassembled) TEXT or
	// BINARY message. The payload aliases the engine's final buffer and is
	// only valid until the hook returns.
	OnReceived func(s *session.Session, opcode byte, payload []byte)

	// OnPing fires for a PING frame. When nil the engine answers with a
	// PONG carrying the same payload.
	OnPing func(s *session.Session, payload []byte)

	// OnPong fires for a PONG frame.
	OnPong func(s *session.Session, payload []byte)

	// OnClose fires for a CLOSE frame with the parsed status (default 1000)
	// and reason bytes. The engine echoes the close and disconnects after
	// the hook returns.
	OnClose func(s *session.Session, status int, reason []byte)

	// OnError fires for protocol violations before the engine disconnects.
	OnError func(s *session.Session, err error)
}

// Engine holds the per-session WebSocket state: the send-side frame
// construction buffer and mask, and the receive-side frame/message
// accumulation buffers. The send lock serializes frame construction so the
// preallocated send buffer is safe to reuse; the receive lock is held
// during frame accumulation and dispatch.
type Engine struct {
	client bool
	cb     EngineCallbacks

	sendMu   sync.Mutex
	sendBuf  *bytebuf.Buffer
	sendMask [4]byte

	recvMu      sync.Mutex
	frameBuf    *bytebuf.Buffer
	finalBuf    *bytebuf.Buffer
	headerSize  int
	payloadSize int
	opcode      byte // message opcode preserved across continuations
	masked      bool
	recvMask    [4]byte

	handshaked    bool
	nonce         [16]byte
	closeSent     atomic.Bool
	closeReceived bool
	errored       bool
}

// newEngine creates an engine for one endpoint; client engines mask their
// outgoing frames with a fresh random key per frame.
func newEngine(client bool, cb EngineCallbacks) *Engine {
	e := &Engine{
		client:   client,
		cb:       cb,
		sendBuf:  bytebuf.NewWithCapacity(constants.WSSendBufferSize),
		frameBuf: bytebuf.New(),
		finalBuf: bytebuf.New(),
	}
	if client {
		// Handshake nonce; a per-engine crypto/rand draw, never a shared
		// process-wide generator.
		_, _ = rand.Read(e.nonce[:])
	}
	return e
}

// IsHandshaked reports whether the upgrade handshake has completed.
func (e *Engine) IsHandshaked() bool { return e.handshaked }

// --- frame encoding ---

// buildFrame assembles one frame into the send buffer and returns its
// bytes. Caller holds sendMu. For close frames status is prepended as two
// network-order bytes ahead of payload; the mask (client side) covers them
// too.
func (e *Engine) buildFrame(opcode byte, fin bool, payload []byte, status int) []byte {
	e.sendBuf.Clear()

	withStatus := opcode == OpClose
	total := len(payload)
	if withStatus {
		total += 2
	}

	b0 := opcode & 0x0F
	if fin {
		b0 |= finBit
	}
	e.sendBuf.AppendByte(b0)

	var b1 byte
	if e.client {
		b1 = maskBit
	}
	switch {
	case total <= 125:
		e.sendBuf.AppendByte(b1 | byte(total))
	case total <= 0xFFFF:
		e.sendBuf.AppendByte(b1 | 126)
		var ext [2]byte
		binary.BigEndian.PutUint16(ext[:], uint16(total))
		e.sendBuf.Append(ext[:])
	default:
		e.sendBuf.AppendByte(b1 | 127)
		var ext [8]byte
		binary.BigEndian.PutUint64(ext[:], uint64(total))
		e.sendBuf.Append(ext[:])
	}

	if e.client {
		// Fresh random mask per frame.
		_, _ = rand.Read(e.sendMask[:])
		e.sendBuf.Append(e.sendMask[:])
	} else {
		// Server-to-client frames go unmasked; keep the key zeroed.
		e.sendMask = [4]byte{}
	}

	payloadStart := e.sendBuf.Size()
	if withStatus {
		var st [2]byte
		binary.BigEndian.PutUint16(st[:], uint16(status))
		e.sendBuf.Append(st[:])
	}
	e.sendBuf.Append(payload)

	if e.client {
		Mask(e.sendBuf.Data()[payloadStart:], e.sendMask, 0)
	}

	return e.sendBuf.Data()
}

// sendFrame builds and enqueues one frame on the session.
func (e *Engine) sendFrame(s *session.Session, opcode byte, fin bool, payload []byte, status int) bool {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	frame := e.buildFrame(opcode, fin, payload, status)
	return s.SendAsync(frame)
}

// SendText enqueues a single-frame TEXT message.
func (e *Engine) SendText(s *session.Session, payload []byte) bool {
	return e.sendFrame(s, OpText, true, payload, 0)
}

// SendBinary enqueues a single-frame BINARY message.
func (e *Engine) SendBinary(s *session.Session, payload []byte) bool {
	return e.sendFrame(s, OpBinary, true, payload, 0)
}

// SendFragment enqueues one fragment of a message. The first fragment
// carries the message opcode, the rest OpContinuation; the last sets fin.
func (e *Engine) SendFragment(s *session.Session, opcode byte, fin bool, payload []byte) bool {
	return e.sendFrame(s, opcode, fin, payload, 0)
}

// SendPing enqueues a PING control frame (payload capped at 125 bytes).
func (e *Engine) SendPing(s *session.Session, payload []byte) bool {
	if len(payload) > constants.WSMaxControlPayload {
		payload = payload[:constants.WSMaxControlPayload]
	}
	return e.sendFrame(s, OpPing, true, payload, 0)
}

// SendPong enqueues a PONG control frame.
func (e *Engine) SendPong(s *session.Session, payload []byte) bool {
	if len(payload) > constants.WSMaxControlPayload {
		payload = payload[:constants.WSMaxControlPayload]
	}
	return e.sendFrame(s, OpPong, true, payload, 0)
}

// SendClose enqueues a CLOSE frame with the given status and reason. Only
// the first close per session goes out.
func (e *Engine) SendClose(s *session.Session, status int, reason []byte) bool {
	if !e.closeSent.CompareAndSwap(false, true) {
		return false
	}
	if 2+len(reason) > constants.WSMaxControlPayload {
		reason = reason[:constants.WSMaxControlPayload-2]
	}
	return e.sendFrame(s, OpClose, true, reason, status)
}

// --- frame decoding ---

// RequiredReceiveFrameSize returns how many more bytes the decoder needs to
// finish the frame in flight, so synchronous clients can read exactly that.
func (e *Engine) RequiredReceiveFrameSize() int {
	e.recvMu.Lock()
	defer e.recvMu.Unlock()

	size := e.frameBuf.Size()
	if size < 2 {
		return 2 - size
	}
	if e.headerSize > 0 {
		return e.headerSize + e.payloadSize - size
	}

	// The first two bytes pin the header layout; the payload length is
	// known immediately for the short form, after the extended bytes
	// otherwise.
	buf := e.frameBuf.Data()
	length7 := int(buf[1] & 0x7F)
	header := 2
	payload := -1
	switch length7 {
	case 126:
		header += 2
		if size >= 4 {
			payload = int(binary.BigEndian.Uint16(buf[2:4]))
		}
	case 127:
		header += 8
		if size >= 10 {
			payload = int(binary.BigEndian.Uint64(buf[2:10]))
		}
	default:
		payload = length7
	}
	if buf[1]&maskBit != 0 {
		header += 4
	}
	if payload < 0 {
		return header - size
	}
	return header + payload - size
}

// ProcessReceived consumes raw bytes from the session, extracting every
// complete frame. Multiple frames per read are handled; a trailing partial
// frame stays buffered for the next read.
func (e *Engine) ProcessReceived(s *session.Session, data []byte) {
	e.recvMu.Lock()
	defer e.recvMu.Unlock()

	e.frameBuf.Append(data)

	for !e.errored {
		if !e.parseFrameHeader(s) {
			return
		}
		if e.frameBuf.Size() < e.headerSize+e.payloadSize {
			return
		}
		e.dispatchFrame(s)
		if e.closeReceived {
			return
		}
	}
}

// parseFrameHeader derives headerSize/payloadSize from the buffered bytes.
// Returns false while the header is still incomplete. Caller holds recvMu.
func (e *Engine) parseFrameHeader(s *session.Session) bool {
	if e.headerSize > 0 {
		return true
	}
	if e.frameBuf.Size() < 2 {
		return false
	}

	buf := e.frameBuf.Data()
	e.masked = buf[1]&maskBit != 0
	length7 := int(buf[1] & 0x7F)

	header := 2
	switch length7 {
	case 126:
		header += 2
	case 127:
		header += 8
	}
	if e.masked {
		header += 4
	}
	if e.frameBuf.Size() < header {
		return false
	}

	payload := length7
	switch length7 {
	case 126:
		payload = int(binary.BigEndian.Uint16(buf[2:4]))
	case 127:
		length64 := binary.BigEndian.Uint64(buf[2:10])
		if length64 > uint64(constants.MaxContentLength) {
			e.protocolError(s, "frame payload length too large")
			return false
		}
		payload = int(length64)
	}

	if e.masked {
		copy(e.recvMask[:], buf[header-4:header])
	}

	e.headerSize = header
	e.payloadSize = payload
	return true
}

// dispatchFrame consumes one complete frame from the front of the frame
// buffer. Caller holds recvMu.
func (e *Engine) dispatchFrame(s *session.Session) {
	buf := e.frameBuf.Data()
	b0 := buf[0]
	fin := b0&finBit != 0
	opcode := b0 & 0x0F

	payload := buf[e.headerSize : e.headerSize+e.payloadSize]
	if e.masked {
		Mask(payload, e.recvMask, 0)
	}

	switch opcode {
	case OpPing, OpPong, OpClose:
		// Control frames are never fragmented and carry at most 125 bytes;
		// they may interleave between the fragments of a message.
		if !fin || e.payloadSize > constants.WSMaxControlPayload {
			e.protocolError(s, "malformed control frame")
			return
		}
		e.dispatchControl(s, opcode, payload)
	case OpContinuation, OpText, OpBinary:
		if opcode != OpContinuation {
			e.opcode = opcode
		}
		e.finalBuf.Append(payload)
		if fin {
			message := e.finalBuf.Data()
			if e.cb.OnReceived != nil {
				e.cb.OnReceived(s, e.opcode, message)
			}
			e.finalBuf.Clear()
		}
	default:
		e.protocolError(s, "unknown opcode")
		return
	}

	// Drop the consumed frame; anything left is the next frame.
	_ = e.frameBuf.Remove(0, e.headerSize+e.payloadSize)
	e.headerSize = 0
	e.payloadSize = 0
}

// dispatchControl handles PING/PONG/CLOSE payloads. Caller holds recvMu.
func (e *Engine) dispatchControl(s *session.Session, opcode byte, payload []byte) {
	switch opcode {
	case OpPing:
		if e.cb.OnPing != nil {
			e.cb.OnPing(s, payload)
		} else {
			pong := make([]byte, len(payload))
			copy(pong, payload)
			e.SendPong(s, pong)
		}
	case OpPong:
		if e.cb.OnPong != nil {
			e.cb.OnPong(s, payload)
		}
	case OpClose:
		e.closeReceived = true
		status := CloseNormal
		var reason []byte
		if len(payload) >= 2 {
			status = int(binary.BigEndian.Uint16(payload[:2]))
			reason = payload[2:]
		}
		if e.cb.OnClose != nil {
			e.cb.OnClose(s, status, reason)
		}
		// Echo the close and tear the transport down.
		if e.closeSent.CompareAndSwap(false, true) {
			e.sendFrame(s, OpClose, true, nil, status)
		}
		s.Disconnect()
	}
}

// protocolError surfaces a framing violation and disconnects. The decoder
// stops consuming input once errored.
func (e *Engine) protocolError(s *session.Session, message string) {
	e.errored = true
	if e.cb.OnError != nil {
		e.cb.OnError(s, newProtocolError(message))
	}
	s.Disconnect()
}
