package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// FramedConn wraps a TCP connection with the client link framing: every
// datagram is preceded by a little-endian uint16 length.
// Reads are single-goroutine; writes are safe for concurrent use.
type FramedConn struct {
	raw     net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex

	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewFramedConn wraps a raw TCP connection.
//
// Precondition: raw must be a valid, open network connection.
// Postcondition: Returns a FramedConn ready for reading and writing.
func NewFramedConn(raw net.Conn, readTimeout, writeTimeout time.Duration) *FramedConn {
	return &FramedConn{
		raw:          raw,
		reader:       bufio.NewReaderSize(raw, 4096),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

// ReadFrame reads the next length-prefixed datagram payload.
//
// Postcondition: Returns the payload bytes (possibly empty), or an error
// (including io.EOF on clean remote close).
func (c *FramedConn) ReadFrame() ([]byte, error) {
	if c.readTimeout > 0 {
		_ = c.raw.SetReadDeadline(time.Now().Add(c.readTimeout))
	}

	var prefix [2]byte
	if _, err := io.ReadFull(c.reader, prefix[:]); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint16(prefix[:])

	payload := make([]byte, length)
	if _, err := io.ReadFull(c.reader, payload); err != nil {
		return nil, fmt.Errorf("reading %d-byte frame body: %w", length, err)
	}
	return payload, nil
}

// WriteFrame writes one length-prefixed datagram.
//
// Precondition: payload must fit in a uint16 length.
// Postcondition: The complete frame is written, or an error is returned.
func (c *FramedConn) WriteFrame(payload []byte) error {
	if len(payload) > 0xFFFF {
		return fmt.Errorf("frame too large: %d bytes", len(payload))
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}

	var prefix [2]byte
	binary.LittleEndian.PutUint16(prefix[:], uint16(len(payload)))
	if _, err := c.raw.Write(prefix[:]); err != nil {
		return fmt.Errorf("writing frame length: %w", err)
	}
	if _, err := c.raw.Write(payload); err != nil {
		return fmt.Errorf("writing frame body: %w", err)
	}
	return nil
}

// WriteDatagram writes a built datagram as one frame.
func (c *FramedConn) WriteDatagram(dg *Datagram) error {
	return c.WriteFrame(dg.Bytes())
}

// RemoteAddr returns the remote network address.
func (c *FramedConn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

// Close closes the underlying connection.
func (c *FramedConn) Close() error {
	return c.raw.Close()
}
