package sui

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// SchemeEd25519 is the only signature scheme the relay accepts.
const SchemeEd25519 byte = 0x00

var (
	ErrUnsupportedScheme = errors.New("sui: unsupported signature scheme")
	ErrInvalidSignature  = errors.New("sui: signature does not verify")
)

// Signature is the serialized flag || signature || public key form.
type Signature struct {
	Scheme    byte
	Sig       []byte
	PublicKey ed25519.PublicKey
}

// ParseSignature decodes the base64 wire form.
func ParseSignature(s string) (Signature, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Signature{}, fmt.Errorf("sui: signature is not base64: %w", err)
	}
	if len(raw) == 0 {
		return Signature{}, fmt.Errorf("sui: empty signature")
	}
	if raw[0] != SchemeEd25519 {
		return Signature{}, fmt.Errorf("%w: flag 0x%02x", ErrUnsupportedScheme, raw[0])
	}
	if len(raw) != 1+ed25519.SignatureSize+ed25519.PublicKeySize {
		return Signature{}, fmt.Errorf("sui: ed25519 signature has %d bytes", len(raw))
	}
	return Signature{
		Scheme:    raw[0],
		Sig:       append([]byte(nil), raw[1:1+ed25519.SignatureSize]...),
		PublicKey: append(ed25519.PublicKey(nil), raw[1+ed25519.SignatureSize:]...),
	}, nil
}

func (s Signature) Bytes() []byte {
	out := make([]byte, 0, 1+len(s.Sig)+len(s.PublicKey))
	out = append(out, s.Scheme)
	out = append(out, s.Sig...)
	return append(out, s.PublicKey...)
}

// String returns the base64 wire form.
func (s Signature) String() string {
	return base64.StdEncoding.EncodeToString(s.Bytes())
}

// Signer returns the address derived from the embedded public key.
func (s Signature) Signer() Address {
	return AddressFromPublicKey(s.PublicKey)
}

// Verify checks the signature against the intent digest of txBytes.
func (s Signature) Verify(txBytes []byte) error {
	if s.Scheme != SchemeEd25519 {
		return ErrUnsupportedScheme
	}
	digest := SigningDigest(txBytes)
	if !ed25519.Verify(s.PublicKey, digest[:], s.Sig) {
		return ErrInvalidSignature
	}
	return nil
}

// SignTransaction signs txBytes with an ed25519 key.
func SignTransaction(key ed25519.PrivateKey, txBytes []byte) Signature {
	digest := SigningDigest(txBytes)
	return Signature{
		Scheme:    SchemeEd25519,
		Sig:       ed25519.Sign(key, digest[:]),
		PublicKey: key.Public().(ed25519.PublicKey),
	}
}

// AddressFromPublicKey derives blake2b256(flag || pk).
func AddressFromPublicKey(pk ed25519.PublicKey) Address {
	h, _ := blake2b.New256(nil)
	h.Write([]byte{SchemeEd25519})
	h.Write(pk)
	var a Address
	copy(a[:], h.Sum(nil))
	return a
}
