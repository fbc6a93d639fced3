package sui

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

const (
	AddressLength = 32
	DigestLength  = 32
)

// Address is a 32-byte account or object identifier.
type Address [AddressLength]byte

// ParseAddress accepts 0x-prefixed or bare hex, left-padding short forms such as 0x2.
func ParseAddress(s string) (Address, error) {
	var a Address
	h := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if h == "" || len(h) > AddressLength*2 {
		return a, fmt.Errorf("sui: invalid address %q", s)
	}
	if len(h)%2 == 1 {
		h = "0" + h
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return a, fmt.Errorf("sui: invalid address %q: %w", s, err)
	}
	copy(a[AddressLength-len(b):], b)
	return a, nil
}

// MustParseAddress panics on malformed input; for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) IsZero() bool {
	return a == Address{}
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(b []byte) error {
	v, err := ParseAddress(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Digest is a 32-byte hash rendered in base58, used for transaction and object digests.
type Digest [DigestLength]byte

func ParseDigest(s string) (Digest, error) {
	var d Digest
	b, err := base58.Decode(s)
	if err != nil {
		return d, fmt.Errorf("sui: invalid digest %q: %w", s, err)
	}
	if len(b) != DigestLength {
		return d, fmt.Errorf("sui: digest %q has %d bytes", s, len(b))
	}
	copy(d[:], b)
	return d, nil
}

func (d Digest) String() string {
	return base58.Encode(d[:])
}

func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Digest) UnmarshalText(b []byte) error {
	v, err := ParseDigest(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}
