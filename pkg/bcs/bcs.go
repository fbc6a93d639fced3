// Package bcs implements the subset of Binary Canonical Serialization used by the relay:
// little-endian fixed-width integers, ULEB128 lengths and enum tags, length-prefixed
// byte vectors and strings.
package bcs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrUnexpectedEOF = errors.New("bcs: unexpected end of input")
	ErrOverflow      = errors.New("bcs: uleb128 overflow")
	ErrTrailingBytes = errors.New("bcs: trailing bytes")
)

// Marshaler is implemented by types that know their own BCS layout.
type Marshaler interface {
	MarshalBCS(e *Encoder)
}

// Marshal encodes m into a fresh buffer.
func Marshal(m Marshaler) []byte {
	e := NewEncoder()
	m.MarshalBCS(e)
	return e.Bytes()
}

// Encoder appends BCS values to an internal buffer.
type Encoder struct {
	buf bytes.Buffer
}

func NewEncoder() *Encoder {
	return &Encoder{}
}

// Bytes returns the encoded output.
func (e *Encoder) Bytes() []byte {
	out := make([]byte, e.buf.Len())
	copy(out, e.buf.Bytes())
	return out
}

func (e *Encoder) U8(v uint8) *Encoder {
	e.buf.WriteByte(v)
	return e
}

func (e *Encoder) Bool(v bool) *Encoder {
	if v {
		return e.U8(1)
	}
	return e.U8(0)
}

func (e *Encoder) U16(v uint16) *Encoder {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	e.buf.Write(b[:])
	return e
}

func (e *Encoder) U32(v uint32) *Encoder {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
	return e
}

func (e *Encoder) U64(v uint64) *Encoder {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
	return e
}

// ULEB128 writes an unsigned LEB128 value; used for lengths and enum variant tags.
func (e *Encoder) ULEB128(v uint64) *Encoder {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			e.buf.WriteByte(b | 0x80)
			continue
		}
		e.buf.WriteByte(b)
		return e
	}
}

// Variant writes an enum tag.
func (e *Encoder) Variant(idx uint32) *Encoder {
	return e.ULEB128(uint64(idx))
}

// Fixed writes raw bytes with no length prefix (fixed-size arrays such as addresses).
func (e *Encoder) Fixed(b []byte) *Encoder {
	e.buf.Write(b)
	return e
}

// ByteVec writes a length-prefixed byte vector.
func (e *Encoder) ByteVec(b []byte) *Encoder {
	e.ULEB128(uint64(len(b)))
	e.buf.Write(b)
	return e
}

func (e *Encoder) String(s string) *Encoder {
	return e.ByteVec([]byte(s))
}

func (e *Encoder) U64Vec(vs []uint64) *Encoder {
	e.ULEB128(uint64(len(vs)))
	for _, v := range vs {
		e.U64(v)
	}
	return e
}

// Decoder reads BCS values sequentially.
type Decoder struct {
	b   []byte
	off int
}

func NewDecoder(b []byte) *Decoder {
	return &Decoder{b: b}
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.b) - d.off
}

// Done fails if input is left over.
func (d *Decoder) Done() error {
	if d.Remaining() != 0 {
		return fmt.Errorf("%w: %d", ErrTrailingBytes, d.Remaining())
	}
	return nil
}

func (d *Decoder) take(n int) ([]byte, error) {
	if n < 0 || d.Remaining() < n {
		return nil, ErrUnexpectedEOF
	}
	out := d.b[d.off : d.off+n]
	d.off += n
	return out, nil
}

func (d *Decoder) U8() (uint8, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Decoder) Bool() (bool, error) {
	v, err := d.U8()
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("bcs: invalid bool %d", v)
	}
}

func (d *Decoder) U16() (uint16, error) {
	b, err := d.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (d *Decoder) U32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (d *Decoder) U64() (uint64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (d *Decoder) ULEB128() (uint64, error) {
	var v uint64
	var shift uint
	for {
		b, err := d.U8()
		if err != nil {
			return 0, err
		}
		if shift >= 64 || (shift == 63 && b > 1) {
			return 0, ErrOverflow
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
	}
}

func (d *Decoder) Variant() (uint32, error) {
	v, err := d.ULEB128()
	if err != nil {
		return 0, err
	}
	if v > 1<<31 {
		return 0, ErrOverflow
	}
	return uint32(v), nil
}

// Fixed reads n raw bytes.
func (d *Decoder) Fixed(n int) ([]byte, error) {
	b, err := d.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// Len reads a vector length and bounds it by the remaining input.
func (d *Decoder) Len() (int, error) {
	n, err := d.ULEB128()
	if err != nil {
		return 0, err
	}
	if n > uint64(d.Remaining()) {
		return 0, ErrUnexpectedEOF
	}
	return int(n), nil
}

func (d *Decoder) ByteVec() ([]byte, error) {
	n, err := d.Len()
	if err != nil {
		return nil, err
	}
	return d.Fixed(n)
}

func (d *Decoder) String() (string, error) {
	b, err := d.ByteVec()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *Decoder) U64Vec() ([]uint64, error) {
	n, err := d.Len()
	if err != nil {
		return nil, err
	}
	out := make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		v, err := d.U64()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
