package bytebuf_test

import (
	"bytes"
	"testing"

	"github.com/WhileEndless/go-netserver/pkg/bytebuf"
)

func TestBufferRoundTrip(t *testing.T) {
	buf := bytebuf.New()

	data := []byte("hello, world")
	buf.Clear()
	buf.Append(data)

	if buf.Size() != len(data) {
		t.Fatalf("expected size %d, got %d", len(data), buf.Size())
	}

	s, err := buf.ExtractString(0, buf.Size())
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if s != string(data) {
		t.Fatalf("expected %q, got %q", data, s)
	}
	if !bytes.Equal(buf.Data(), data) {
		t.Fatalf("data mismatch")
	}
}

func TestBufferGrowth(t *testing.T) {
	buf := bytebuf.New()

	total := 0
	lastCap := 0
	for i := 0; i < 100; i++ {
		chunk := bytes.Repeat([]byte{byte(i)}, i+1)
		buf.Append(chunk)
		total += len(chunk)

		if buf.Capacity() < total {
			t.Fatalf("capacity %d below total appended %d", buf.Capacity(), total)
		}
		if buf.Capacity() < lastCap {
			t.Fatalf("capacity shrank from %d to %d", lastCap, buf.Capacity())
		}
		lastCap = buf.Capacity()
	}
	if buf.Size() != total {
		t.Fatalf("expected size %d, got %d", total, buf.Size())
	}
}

func TestBufferReserveDoubling(t *testing.T) {
	buf := bytebuf.NewWithCapacity(16)
	if buf.Capacity() != 16 {
		t.Fatalf("expected capacity 16, got %d", buf.Capacity())
	}

	// Requesting slightly more than current doubles instead.
	if err := buf.Reserve(17); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if buf.Capacity() != 32 {
		t.Fatalf("expected doubled capacity 32, got %d", buf.Capacity())
	}

	// Requesting far more than double allocates the request.
	if err := buf.Reserve(1000); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if buf.Capacity() != 1000 {
		t.Fatalf("expected capacity 1000, got %d", buf.Capacity())
	}
}

func TestBufferClear(t *testing.T) {
	buf := bytebuf.NewWithData([]byte("abcdef"))
	buf.Shift(3)

	buf.Clear()
	if buf.Size() != 0 || buf.Offset() != 0 {
		t.Fatalf("expected size and offset 0, got %d/%d", buf.Size(), buf.Offset())
	}
	if buf.Capacity() == 0 {
		t.Fatalf("clear should retain capacity")
	}
}

func TestBufferResizeClampsOffset(t *testing.T) {
	buf := bytebuf.NewWithData([]byte("abcdef"))
	buf.Shift(5)

	if err := buf.Resize(3); err != nil {
		t.Fatalf("resize failed: %v", err)
	}
	if buf.Size() != 3 {
		t.Fatalf("expected size 3, got %d", buf.Size())
	}
	if buf.Offset() != 3 {
		t.Fatalf("expected offset clamped to 3, got %d", buf.Offset())
	}
}

func TestBufferRemoveCursorSemantics(t *testing.T) {
	// Cursor after the removed region shifts down by its length.
	buf := bytebuf.NewWithData([]byte("0123456789"))
	buf.Shift(8)
	if err := buf.Remove(2, 3); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if got := string(buf.Data()); got != "0156789" {
		t.Fatalf("expected %q, got %q", "0156789", got)
	}
	if buf.Offset() != 5 {
		t.Fatalf("expected offset 5, got %d", buf.Offset())
	}

	// Cursor inside the removed region clamps to its start.
	buf = bytebuf.NewWithData([]byte("0123456789"))
	buf.Shift(4)
	if err := buf.Remove(2, 5); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if buf.Offset() != 2 {
		t.Fatalf("expected offset 2, got %d", buf.Offset())
	}

	// Cursor before the removed region is unchanged.
	buf = bytebuf.NewWithData([]byte("0123456789"))
	buf.Shift(1)
	if err := buf.Remove(4, 4); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if buf.Offset() != 1 {
		t.Fatalf("expected offset 1, got %d", buf.Offset())
	}
}

func TestBufferRemoveOutOfRange(t *testing.T) {
	buf := bytebuf.NewWithData([]byte("abc"))
	if err := buf.Remove(2, 5); err == nil {
		t.Fatalf("expected error for out-of-range remove")
	}
	if err := buf.Remove(-1, 1); err == nil {
		t.Fatalf("expected error for negative offset")
	}
	if _, err := buf.ExtractString(1, 10); err == nil {
		t.Fatalf("expected error for out-of-range extract")
	}
	if err := buf.Reserve(-1); err == nil {
		t.Fatalf("expected error for negative capacity")
	}
}

func TestBufferShiftUnshift(t *testing.T) {
	buf := bytebuf.NewWithData([]byte("abcdef"))

	buf.Shift(4)
	if buf.Offset() != 4 {
		t.Fatalf("expected offset 4, got %d", buf.Offset())
	}
	buf.Unshift(2)
	if buf.Offset() != 2 {
		t.Fatalf("expected offset 2, got %d", buf.Offset())
	}
	buf.Shift(100)
	if buf.Offset() != buf.Size() {
		t.Fatalf("expected offset clamped to size, got %d", buf.Offset())
	}
	buf.Unshift(100)
	if buf.Offset() != 0 {
		t.Fatalf("expected offset clamped to 0, got %d", buf.Offset())
	}
}

func TestBufferAppendForms(t *testing.T) {
	buf := bytebuf.New()
	buf.AppendString("ab")
	buf.AppendByte('c')
	if _, err := buf.AppendRange([]byte("xxdeyy"), 2, 2); err != nil {
		t.Fatalf("append range failed: %v", err)
	}
	if got := string(buf.Data()); got != "abcde" {
		t.Fatalf("expected %q, got %q", "abcde", got)
	}
	if _, err := buf.AppendRange([]byte("ab"), 1, 5); err == nil {
		t.Fatalf("expected error for out-of-range append")
	}
}
