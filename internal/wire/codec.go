// Package wire provides the big-endian byte-buffer primitives every payload
// parser in the stack is built from. No other package makes byte-order
// assumptions; if a field layout changes, it changes here or in the parser
// reading through here, nowhere else.
package wire

import (
	"encoding/binary"
	"fmt"
)

// ErrShortBuffer indicates a read past the end of the buffer. Parsers treat it
// as "record truncated", never as a reason to panic.
var ErrShortBuffer = fmt.Errorf("wire: short buffer")

// ReadUint8 reads a single byte at offset.
func ReadUint8(buf []byte, offset int) (uint8, error) {
	if offset < 0 || offset+1 > len(buf) {
		return 0, fmt.Errorf("%w: need 1 byte at offset %d, have %d", ErrShortBuffer, offset, len(buf))
	}
	return buf[offset], nil
}

// ReadUint16 reads a big-endian uint16 at offset.
func ReadUint16(buf []byte, offset int) (uint16, error) {
	if offset < 0 || offset+2 > len(buf) {
		return 0, fmt.Errorf("%w: need 2 bytes at offset %d, have %d", ErrShortBuffer, offset, len(buf))
	}
	return binary.BigEndian.Uint16(buf[offset:]), nil
}

// ReadInt16 reads a big-endian signed 16-bit value at offset.
func ReadInt16(buf []byte, offset int) (int16, error) {
	v, err := ReadUint16(buf, offset)
	return int16(v), err
}

// ReadUint32 reads a big-endian uint32 at offset.
func ReadUint32(buf []byte, offset int) (uint32, error) {
	if offset < 0 || offset+4 > len(buf) {
		return 0, fmt.Errorf("%w: need 4 bytes at offset %d, have %d", ErrShortBuffer, offset, len(buf))
	}
	return binary.BigEndian.Uint32(buf[offset:]), nil
}

// Slice returns buf[offset : offset+length] after bounds checking.
// The returned slice aliases buf; callers that retain it must copy.
func Slice(buf []byte, offset, length int) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > len(buf) {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortBuffer, length, offset, len(buf))
	}
	return buf[offset : offset+length], nil
}

// AppendUint8 appends a single byte to dst.
func AppendUint8(dst []byte, v uint8) []byte {
	return append(dst, v)
}

// AppendUint16 appends v to dst in big-endian order.
func AppendUint16(dst []byte, v uint16) []byte {
	return binary.BigEndian.AppendUint16(dst, v)
}

// AppendInt16 appends v to dst in big-endian order.
func AppendInt16(dst []byte, v int16) []byte {
	return binary.BigEndian.AppendUint16(dst, uint16(v))
}

// AppendUint32 appends v to dst in big-endian order.
func AppendUint32(dst []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(dst, v)
}
