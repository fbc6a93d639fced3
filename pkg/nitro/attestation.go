// Package nitro verifies AWS Nitro Enclaves attestation documents (COSE_Sign1, ES384)
// against a pinned root certificate.
package nitro

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha512"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/fxamacker/cbor/v2"
)

const algES384 = -35

var (
	ErrMalformed        = errors.New("nitro: malformed attestation document")
	ErrBadCertChain     = errors.New("nitro: certificate chain does not verify")
	ErrBadDocSignature  = errors.New("nitro: document signature does not verify")
	ErrUnsupportedAlg   = errors.New("nitro: unsupported signing algorithm")
	ErrMissingPublicKey = errors.New("nitro: document carries no public key")
)

// Document is the attested payload.
type Document struct {
	ModuleID    string          `cbor:"module_id"`
	Digest      string          `cbor:"digest"`
	Timestamp   uint64          `cbor:"timestamp"`
	PCRs        map[uint][]byte `cbor:"pcrs"`
	Certificate []byte          `cbor:"certificate"`
	CABundle    [][]byte        `cbor:"cabundle"`
	PublicKey   []byte          `cbor:"public_key,omitempty"`
	UserData    []byte          `cbor:"user_data,omitempty"`
	Nonce       []byte          `cbor:"nonce,omitempty"`
}

// PCR returns the measurement at index i, or nil.
func (d *Document) PCR(i uint) []byte {
	return d.PCRs[i]
}

type coseSign1 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected cbor.RawMessage
	Payload     []byte
	Signature   []byte
}

type protectedHeader struct {
	Alg int `cbor:"1,keyasint"`
}

// VerifierOption configures Verifier.
type VerifierOption func(*Verifier)

// WithClock overrides the time used for certificate validity checks.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		v.now = now
	}
}

// WithDocumentTime validates the chain at the document's own timestamp instead of now.
func WithDocumentTime() VerifierOption {
	return func(v *Verifier) {
		v.useDocTime = true
	}
}

// Verifier checks documents against a pinned root.
type Verifier struct {
	roots      *x509.CertPool
	now        func() time.Time
	useDocTime bool
}

// NewVerifier creates a Verifier trusting the given roots.
func NewVerifier(roots *x509.CertPool, opts ...VerifierOption) *Verifier {
	v := &Verifier{roots: roots, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// NewVerifierFromPEM parses a PEM root certificate.
func NewVerifierFromPEM(rootPEM []byte, opts ...VerifierOption) (*Verifier, error) {
	block, _ := pem.Decode(rootPEM)
	if block == nil {
		return nil, fmt.Errorf("nitro: root certificate is not PEM")
	}
	root, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("nitro: parse root: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(root)
	return NewVerifier(pool, opts...), nil
}

// Verify decodes raw, validates the certificate chain and the COSE signature, and returns
// the attested document.
func (v *Verifier) Verify(raw []byte) (*Document, error) {
	var msg coseSign1
	if err := cbor.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var hdr protectedHeader
	if err := cbor.Unmarshal(msg.Protected, &hdr); err != nil {
		return nil, fmt.Errorf("%w: protected header: %v", ErrMalformed, err)
	}
	if hdr.Alg != algES384 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedAlg, hdr.Alg)
	}

	var doc Document
	if err := cbor.Unmarshal(msg.Payload, &doc); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformed, err)
	}
	if len(doc.Certificate) == 0 || len(doc.CABundle) == 0 {
		return nil, fmt.Errorf("%w: missing certificates", ErrMalformed)
	}

	leaf, err := v.verifyChain(&doc)
	if err != nil {
		return nil, err
	}

	pub, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: leaf key is not ecdsa", ErrBadDocSignature)
	}
	sigStructure, err := cbor.Marshal([]interface{}{"Signature1", msg.Protected, []byte{}, msg.Payload})
	if err != nil {
		return nil, fmt.Errorf("nitro: encode sig structure: %w", err)
	}
	if len(msg.Signature) != 96 {
		return nil, fmt.Errorf("%w: signature has %d bytes", ErrBadDocSignature, len(msg.Signature))
	}
	digest := sha512.Sum384(sigStructure)
	r := new(big.Int).SetBytes(msg.Signature[:48])
	s := new(big.Int).SetBytes(msg.Signature[48:])
	if !ecdsa.Verify(pub, digest[:], r, s) {
		return nil, ErrBadDocSignature
	}

	if len(doc.PublicKey) == 0 {
		return nil, ErrMissingPublicKey
	}
	return &doc, nil
}

func (v *Verifier) verifyChain(doc *Document) (*x509.Certificate, error) {
	leaf, err := x509.ParseCertificate(doc.Certificate)
	if err != nil {
		return nil, fmt.Errorf("%w: leaf: %v", ErrBadCertChain, err)
	}
	intermediates := x509.NewCertPool()
	// cabundle[0] is the root; it must match the pinned root rather than be trusted as sent.
	for i, der := range doc.CABundle[1:] {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("%w: cabundle[%d]: %v", ErrBadCertChain, i+1, err)
		}
		intermediates.AddCert(cert)
	}

	at := v.now()
	if v.useDocTime && doc.Timestamp > 0 {
		at = time.UnixMilli(int64(doc.Timestamp))
	}
	chains, err := leaf.Verify(x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		CurrentTime:   at,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCertChain, err)
	}
	root := chains[0][len(chains[0])-1]
	if !bytes.Equal(root.Raw, doc.CABundle[0]) {
		return nil, fmt.Errorf("%w: bundle root differs from pinned root", ErrBadCertChain)
	}
	return leaf, nil
}
