// Package nitrotest issues attestation documents signed by a throwaway root, for tests of
// code that consumes nitro.Verifier.
package nitrotest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha512"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"time"

	"TeeRelay/pkg/nitro"

	"github.com/fxamacker/cbor/v2"
)

// Authority is a root plus one enclave leaf certificate.
type Authority struct {
	RootPEM []byte
	rootDER []byte
	leafDER []byte
	leafKey *ecdsa.PrivateKey
}

func NewAuthority() (*Authority, error) {
	rootKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, err
	}
	rootTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "nitrotest-root"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey)
	if err != nil {
		return nil, err
	}
	root, err := x509.ParseCertificate(rootDER)
	if err != nil {
		return nil, err
	}

	leafKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, err
	}
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "nitrotest-enclave"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, root, &leafKey.PublicKey, rootKey)
	if err != nil {
		return nil, err
	}

	return &Authority{
		RootPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: rootDER}),
		rootDER: rootDER,
		leafDER: leafDER,
		leafKey: leafKey,
	}, nil
}

// Verifier trusts this authority's root.
func (a *Authority) Verifier() (*nitro.Verifier, error) {
	return nitro.NewVerifierFromPEM(a.RootPEM)
}

// Document returns a signed COSE_Sign1 attestation carrying pcrs and publicKey.
func (a *Authority) Document(moduleID string, pcrs map[uint][]byte, publicKey []byte) ([]byte, error) {
	doc := nitro.Document{
		ModuleID:    moduleID,
		Digest:      "SHA384",
		Timestamp:   uint64(time.Now().UnixMilli()),
		PCRs:        pcrs,
		Certificate: a.leafDER,
		CABundle:    [][]byte{a.rootDER},
		PublicKey:   publicKey,
	}
	payload, err := cbor.Marshal(doc)
	if err != nil {
		return nil, err
	}
	protected, err := cbor.Marshal(map[int]int{1: -35})
	if err != nil {
		return nil, err
	}
	toSign, err := cbor.Marshal([]interface{}{"Signature1", protected, []byte{}, payload})
	if err != nil {
		return nil, err
	}
	digest := sha512.Sum384(toSign)
	r, s, err := ecdsa.Sign(rand.Reader, a.leafKey, digest[:])
	if err != nil {
		return nil, err
	}
	sig := make([]byte, 96)
	r.FillBytes(sig[:48])
	s.FillBytes(sig[48:])

	return cbor.Marshal([]interface{}{protected, map[int]interface{}{}, payload, sig})
}
