package models

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// PCRs are the enclave image measurements (SHA-384, 48 bytes each).
type PCRs struct {
	PCR0 HexBytes `json:"pcr0"`
	PCR1 HexBytes `json:"pcr1"`
	PCR2 HexBytes `json:"pcr2"`
}

func (p PCRs) Equal(o PCRs) bool {
	return bytes.Equal(p.PCR0, o.PCR0) && bytes.Equal(p.PCR1, o.PCR1) && bytes.Equal(p.PCR2, o.PCR2)
}

// Digest is sha256(pcr0 || pcr1 || pcr2), the value rotation tokens commit to.
func (p PCRs) Digest() string {
	h := sha256.New()
	h.Write(p.PCR0)
	h.Write(p.PCR1)
	h.Write(p.PCR2)
	return hex.EncodeToString(h.Sum(nil))
}

func (p PCRs) Empty() bool {
	return len(p.PCR0) == 0 && len(p.PCR1) == 0 && len(p.PCR2) == 0
}

// AttestationRecord is one accepted set of measurements. Version increases by one per rotation.
type AttestationRecord struct {
	Version      uint64    `json:"version"`
	PCRs         PCRs      `json:"pcrs"`
	ActivatedAt  time.Time `json:"activated_at"`
	RotatedBy    string    `json:"rotated_by,omitempty"`
	AnchorDigest string    `json:"anchor_digest,omitempty"`
}

type RotationResult struct {
	Previous     AttestationRecord `json:"previous"`
	Current      AttestationRecord `json:"current"`
	AnchorDigest string            `json:"anchor_digest,omitempty"`
}

// EnclaveBinding ties an enclave signing key to the record version it was attested under.
type EnclaveBinding struct {
	PublicKey     HexBytes  `json:"public_key"`
	RecordVersion uint64    `json:"record_version"`
	ModuleID      string    `json:"module_id"`
	RegisteredAt  time.Time `json:"registered_at"`
}

func (b EnclaveBinding) Key() ed25519.PublicKey {
	return ed25519.PublicKey(b.PublicKey)
}

// HexBytes marshals as a lowercase hex string.
type HexBytes []byte

func (h HexBytes) String() string {
	return hex.EncodeToString(h)
}

func (h HexBytes) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(h)), nil
}

func (h *HexBytes) UnmarshalText(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	out, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	*h = out
	return nil
}
