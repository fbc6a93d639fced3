package bcs

import (
	"bytes"
	"errors"
	"testing"
)

func TestULEB128(t *testing.T) {
	cases := map[uint64][]byte{
		0:     {0x00},
		1:     {0x01},
		127:   {0x7f},
		128:   {0x80, 0x01},
		300:   {0xac, 0x02},
		16384: {0x80, 0x80, 0x01},
	}
	for v, want := range cases {
		got := NewEncoder().ULEB128(v).Bytes()
		if !bytes.Equal(got, want) {
			t.Fatalf("uleb128(%d) = %x, want %x", v, got, want)
		}
		back, err := NewDecoder(got).ULEB128()
		if err != nil || back != v {
			t.Fatalf("decode uleb128(%x) = %d, %v", got, back, err)
		}
	}
}

func TestIntegersAreLittleEndian(t *testing.T) {
	got := NewEncoder().U16(0x0102).U32(0x01020304).U64(1).Bytes()
	want := []byte{0x02, 0x01, 0x04, 0x03, 0x02, 0x01, 1, 0, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x, want %x", got, want)
	}
}

func TestVectorsAndStrings(t *testing.T) {
	e := NewEncoder().String("pm").U64Vec([]uint64{3000, 7000}).ByteVec([]byte{0xaa})
	d := NewDecoder(e.Bytes())

	s, err := d.String()
	if err != nil || s != "pm" {
		t.Fatalf("string: %q %v", s, err)
	}
	vs, err := d.U64Vec()
	if err != nil || len(vs) != 2 || vs[0] != 3000 || vs[1] != 7000 {
		t.Fatalf("u64 vec: %v %v", vs, err)
	}
	b, err := d.ByteVec()
	if err != nil || !bytes.Equal(b, []byte{0xaa}) {
		t.Fatalf("byte vec: %x %v", b, err)
	}
	if err := d.Done(); err != nil {
		t.Fatalf("done: %v", err)
	}
}

func TestDecoderRejectsShortInput(t *testing.T) {
	if _, err := NewDecoder([]byte{1, 2, 3}).U64(); !errors.Is(err, ErrUnexpectedEOF) {
		t.Fatalf("expected eof, got %v", err)
	}
	// declared length larger than the input
	if _, err := NewDecoder([]byte{0x05, 0x01}).ByteVec(); !errors.Is(err, ErrUnexpectedEOF) {
		t.Fatalf("expected eof, got %v", err)
	}
	if _, err := NewDecoder([]byte{2}).Bool(); err == nil {
		t.Fatalf("expected invalid bool error")
	}
}
