package nitro

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha512"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

type testPKI struct {
	rootDER []byte
	rootPEM []byte
	leafDER []byte
	leafKey *ecdsa.PrivateKey
}

func newTestPKI(t *testing.T) testPKI {
	t.Helper()
	rootKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	rootTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test-root"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey)
	require.NoError(t, err)
	root, err := x509.ParseCertificate(rootDER)
	require.NoError(t, err)

	leafKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "test-enclave"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, root, &leafKey.PublicKey, rootKey)
	require.NoError(t, err)

	return testPKI{
		rootDER: rootDER,
		rootPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: rootDER}),
		leafDER: leafDER,
		leafKey: leafKey,
	}
}

func signDocument(t *testing.T, pki testPKI, doc Document) []byte {
	t.Helper()
	payload, err := cbor.Marshal(doc)
	require.NoError(t, err)
	protected, err := cbor.Marshal(map[int]int{1: algES384})
	require.NoError(t, err)

	sigStructure, err := cbor.Marshal([]interface{}{"Signature1", protected, []byte{}, payload})
	require.NoError(t, err)
	digest := sha512.Sum384(sigStructure)
	r, s, err := ecdsa.Sign(rand.Reader, pki.leafKey, digest[:])
	require.NoError(t, err)
	sig := make([]byte, 96)
	r.FillBytes(sig[:48])
	s.FillBytes(sig[48:])

	raw, err := cbor.Marshal(coseSign1{
		Protected:   protected,
		Unprotected: cbor.RawMessage{0xa0},
		Payload:     payload,
		Signature:   sig,
	})
	require.NoError(t, err)
	return raw
}

func testDocument(pki testPKI) Document {
	return Document{
		ModuleID:    "i-0abc-enc01",
		Digest:      "SHA384",
		Timestamp:   uint64(time.Now().UnixMilli()),
		PCRs:        map[uint][]byte{0: make([]byte, 48), 1: {1, 2, 3}, 2: {4, 5, 6}},
		Certificate: pki.leafDER,
		CABundle:    [][]byte{pki.rootDER},
		PublicKey:   make([]byte, 32),
	}
}

func TestVerifyAcceptsWellFormedDocument(t *testing.T) {
	pki := newTestPKI(t)
	v, err := NewVerifierFromPEM(pki.rootPEM)
	require.NoError(t, err)

	doc, err := v.Verify(signDocument(t, pki, testDocument(pki)))
	require.NoError(t, err)
	require.Equal(t, "i-0abc-enc01", doc.ModuleID)
	require.Equal(t, []byte{1, 2, 3}, doc.PCR(1))
	require.Len(t, doc.PublicKey, 32)
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	pki := newTestPKI(t)
	v, err := NewVerifierFromPEM(pki.rootPEM)
	require.NoError(t, err)

	raw := signDocument(t, pki, testDocument(pki))
	var msg coseSign1
	require.NoError(t, cbor.Unmarshal(raw, &msg))

	other := testDocument(pki)
	other.PCRs[1] = []byte{9, 9, 9}
	msg.Payload, err = cbor.Marshal(other)
	require.NoError(t, err)
	tampered, err := cbor.Marshal(msg)
	require.NoError(t, err)

	_, err = v.Verify(tampered)
	if !errors.Is(err, ErrBadDocSignature) {
		t.Fatalf("expected ErrBadDocSignature, got %v", err)
	}
}

func TestVerifyRejectsForeignRoot(t *testing.T) {
	pki := newTestPKI(t)
	foreign := newTestPKI(t)
	v, err := NewVerifierFromPEM(foreign.rootPEM)
	require.NoError(t, err)

	_, err = v.Verify(signDocument(t, pki, testDocument(pki)))
	require.ErrorIs(t, err, ErrBadCertChain)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	pki := newTestPKI(t)
	v, err := NewVerifierFromPEM(pki.rootPEM)
	require.NoError(t, err)

	_, err = v.Verify([]byte{0x01, 0x02})
	require.ErrorIs(t, err, ErrMalformed)
}
