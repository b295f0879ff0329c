package ws

import (
	"io"
	"net"
	"testing"
	"time"
)

// A peer that never drains its receive side must not block writers forever:
// the write deadline turns the stalled write into a timeout error.
func TestWriteMessageTimesOutOnStalledPeer(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	c := &Connection{
		ID:           "stalled",
		Conn:         serverSide,
		WriteTimeout: 50 * time.Millisecond,
	}

	start := time.Now()
	err := c.WriteMessage([]byte(`{"type":"ping"}`))
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected write to a stalled peer to fail")
	}
	netErr, ok := err.(net.Error)
	if !ok || !netErr.Timeout() {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("write took %v, deadline did not bound it", elapsed)
	}
}

func TestWriteMessageSucceedsWithReader(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	go io.Copy(io.Discard, clientSide)

	c := &Connection{
		ID:           "healthy",
		Conn:         serverSide,
		WriteTimeout: time.Second,
	}

	// Two writes in a row: the deadline is cleared after each frame and
	// must not poison the next one.
	for i := 0; i < 2; i++ {
		if err := c.WriteMessage([]byte(`{"type":"pong"}`)); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}
}

func TestWritePingTimesOutOnStalledPeer(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	c := &Connection{
		ID:           "stalled",
		Conn:         serverSide,
		WriteTimeout: 50 * time.Millisecond,
	}

	if err := c.WritePing(); err == nil {
		t.Fatal("expected ping to a stalled peer to fail")
	}
}
