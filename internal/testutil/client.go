package testutil

import (
	"net"
	"testing"
	"time"

	"github.com/openotp/gateway/internal/wire"
)

// FramedClient is a simple framed-protocol test client for integration
// testing against a running acceptor or a pipe end.
type FramedClient struct {
	conn *wire.FramedConn
	t    *testing.T
}

// NewFramedClient dials the given address and returns a test client.
//
// Precondition: addr must be a valid "host:port" string with a listening
// server.
// Postcondition: Returns a connected FramedClient or fails the test.
func NewFramedClient(t *testing.T, addr string) *FramedClient {
	t.Helper()
	start := time.Now()

	raw, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", addr, err, time.Since(start))
	}

	t.Cleanup(func() {
		raw.Close()
	})

	return &FramedClient{
		conn: wire.NewFramedConn(raw, 5*time.Second, 5*time.Second),
		t:    t,
	}
}

// WrapFramedClient builds a test client over an existing connection,
// typically one end of a net.Pipe.
func WrapFramedClient(t *testing.T, raw net.Conn) *FramedClient {
	t.Helper()
	t.Cleanup(func() {
		raw.Close()
	})
	return &FramedClient{
		conn: wire.NewFramedConn(raw, 5*time.Second, 5*time.Second),
		t:    t,
	}
}

// Send writes one datagram, failing the test on error.
func (c *FramedClient) Send(dg *wire.Datagram) {
	c.t.Helper()
	if err := c.conn.WriteDatagram(dg); err != nil {
		c.t.Fatalf("writing frame: %v", err)
	}
}

// ReadFrame reads the next frame, failing the test on error.
func (c *FramedClient) ReadFrame() []byte {
	c.t.Helper()
	frame, err := c.conn.ReadFrame()
	if err != nil {
		c.t.Fatalf("reading frame: %v", err)
	}
	return frame
}

// ExpectType reads frames until one with the given message type arrives,
// returning an iterator positioned after the type tag. Unexpected frames
// are logged and skipped.
func (c *FramedClient) ExpectType(msgType uint16) *wire.Iterator {
	c.t.Helper()
	for {
		frame := c.ReadFrame()
		it := wire.NewIterator(frame)
		got, err := it.ReadUint16()
		if err != nil {
			c.t.Fatalf("frame without type tag: %v", err)
		}
		if got == msgType {
			return it
		}
		c.t.Logf("skipping frame of type %d while waiting for %d", got, msgType)
	}
}
