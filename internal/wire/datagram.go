// Package wire implements the little-endian datagram format shared by the
// client link and the internal message bus: a builder for outbound
// datagrams, an iterator for inbound payloads, and the length-prefixed
// framing used on TCP transports.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Channel is a numeric bus address. Sessions, accounts, distributed
// objects, and well-known services each occupy one.
type Channel uint64

// Datagram is an append-only builder for an outbound message payload.
// The zero value is ready to use.
type Datagram struct {
	buf []byte
}

// NewDatagram returns an empty datagram with a small preallocated buffer.
func NewDatagram() *Datagram {
	return &Datagram{buf: make([]byte, 0, 64)}
}

// AddUint8 appends a single byte.
func (d *Datagram) AddUint8(v uint8) {
	d.buf = append(d.buf, v)
}

// AddBool appends a boolean encoded as a uint8 (0 or 1).
func (d *Datagram) AddBool(v bool) {
	if v {
		d.AddUint8(1)
	} else {
		d.AddUint8(0)
	}
}

// AddUint16 appends a little-endian uint16.
func (d *Datagram) AddUint16(v uint16) {
	d.buf = binary.LittleEndian.AppendUint16(d.buf, v)
}

// AddUint32 appends a little-endian uint32.
func (d *Datagram) AddUint32(v uint32) {
	d.buf = binary.LittleEndian.AppendUint32(d.buf, v)
}

// AddInt32 appends a little-endian int32.
func (d *Datagram) AddInt32(v int32) {
	d.buf = binary.LittleEndian.AppendUint32(d.buf, uint32(v))
}

// AddUint64 appends a little-endian uint64.
func (d *Datagram) AddUint64(v uint64) {
	d.buf = binary.LittleEndian.AppendUint64(d.buf, v)
}

// AddChannel appends a bus channel (uint64).
func (d *Datagram) AddChannel(c Channel) {
	d.AddUint64(uint64(c))
}

// AddString appends a uint16 length prefix followed by the raw bytes of s.
//
// Precondition: len(s) must fit in a uint16.
func (d *Datagram) AddString(s string) {
	d.AddUint16(uint16(len(s)))
	d.buf = append(d.buf, s...)
}

// AddBytes appends raw bytes with no length prefix.
func (d *Datagram) AddBytes(b []byte) {
	d.buf = append(d.buf, b...)
}

// AddBlob appends a uint16 length prefix followed by the raw bytes of b.
func (d *Datagram) AddBlob(b []byte) {
	d.AddUint16(uint16(len(b)))
	d.buf = append(d.buf, b...)
}

// AddServerHeader appends the internal bus routing header: recipient
// count, recipient channels, sender channel, and the 16-bit message type.
//
// Precondition: recipients must be non-empty and shorter than 256 entries.
func (d *Datagram) AddServerHeader(recipients []Channel, sender Channel, msgType uint16) {
	d.AddUint8(uint8(len(recipients)))
	for _, ch := range recipients {
		d.AddChannel(ch)
	}
	d.AddChannel(sender)
	d.AddUint16(msgType)
}

// Tell returns the current write position, for later overwrite via Seek
// patterns (reserve a count field, fill it in once known).
func (d *Datagram) Tell() int {
	return len(d.buf)
}

// WriteUint16At overwrites the two bytes at pos with a little-endian v.
//
// Precondition: pos+2 must be within the datagram.
func (d *Datagram) WriteUint16At(pos int, v uint16) {
	binary.LittleEndian.PutUint16(d.buf[pos:pos+2], v)
}

// Bytes returns the accumulated payload. The slice is owned by the
// datagram; callers must not retain it across further Add calls.
func (d *Datagram) Bytes() []byte {
	return d.buf
}

// Len returns the payload length in bytes.
func (d *Datagram) Len() int {
	return len(d.buf)
}

// Iterator reads typed values sequentially from a datagram payload.
// All reads return an explicit error on truncation; a malformed payload
// must never panic the caller.
type Iterator struct {
	buf []byte
	pos int
}

// NewIterator returns an iterator positioned at the start of payload.
func NewIterator(payload []byte) *Iterator {
	return &Iterator{buf: payload}
}

func (it *Iterator) need(n int) error {
	if it.pos+n > len(it.buf) {
		return fmt.Errorf("datagram truncated: need %d bytes at offset %d, have %d", n, it.pos, len(it.buf)-it.pos)
	}
	return nil
}

// ReadUint8 reads a single byte.
func (it *Iterator) ReadUint8() (uint8, error) {
	if err := it.need(1); err != nil {
		return 0, err
	}
	v := it.buf[it.pos]
	it.pos++
	return v, nil
}

// ReadUint16 reads a little-endian uint16.
func (it *Iterator) ReadUint16() (uint16, error) {
	if err := it.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(it.buf[it.pos:])
	it.pos += 2
	return v, nil
}

// ReadUint32 reads a little-endian uint32.
func (it *Iterator) ReadUint32() (uint32, error) {
	if err := it.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(it.buf[it.pos:])
	it.pos += 4
	return v, nil
}

// ReadInt32 reads a little-endian int32.
func (it *Iterator) ReadInt32() (int32, error) {
	v, err := it.ReadUint32()
	return int32(v), err
}

// ReadUint64 reads a little-endian uint64.
func (it *Iterator) ReadUint64() (uint64, error) {
	if err := it.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(it.buf[it.pos:])
	it.pos += 8
	return v, nil
}

// ReadChannel reads a bus channel (uint64).
func (it *Iterator) ReadChannel() (Channel, error) {
	v, err := it.ReadUint64()
	return Channel(v), err
}

// ReadString reads a uint16 length prefix followed by that many bytes.
func (it *Iterator) ReadString() (string, error) {
	n, err := it.ReadUint16()
	if err != nil {
		return "", err
	}
	if err := it.need(int(n)); err != nil {
		return "", err
	}
	s := string(it.buf[it.pos : it.pos+int(n)])
	it.pos += int(n)
	return s, nil
}

// ReadBlob reads a uint16 length prefix followed by that many raw bytes.
// The returned slice aliases the payload.
func (it *Iterator) ReadBlob() ([]byte, error) {
	n, err := it.ReadUint16()
	if err != nil {
		return nil, err
	}
	if err := it.need(int(n)); err != nil {
		return nil, err
	}
	b := it.buf[it.pos : it.pos+int(n)]
	it.pos += int(n)
	return b, nil
}

// ReadBytes reads exactly n raw bytes. The returned slice aliases the
// payload.
func (it *Iterator) ReadBytes(n int) ([]byte, error) {
	if err := it.need(n); err != nil {
		return nil, err
	}
	b := it.buf[it.pos : it.pos+n]
	it.pos += n
	return b, nil
}

// ReadRemaining returns everything from the current position to the end
// of the payload and advances to the end.
func (it *Iterator) ReadRemaining() []byte {
	b := it.buf[it.pos:]
	it.pos = len(it.buf)
	return b
}

// Remaining returns the number of unread bytes.
func (it *Iterator) Remaining() int {
	return len(it.buf) - it.pos
}

// Tell returns the current read position.
func (it *Iterator) Tell() int {
	return it.pos
}

// Seek moves the read position to pos.
//
// Precondition: pos must be within the payload.
func (it *Iterator) Seek(pos int) {
	if pos < 0 || pos > len(it.buf) {
		return
	}
	it.pos = pos
}
