package sponsor

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"TeeRelay/internal/domain/models"
	"TeeRelay/internal/domain/relayerr"
	"TeeRelay/internal/service/txbuilder"
	"TeeRelay/internal/service/verifier"
	"TeeRelay/pkg/cache"
	xhttp "TeeRelay/pkg/http"
	"TeeRelay/pkg/sui"

	"github.com/stretchr/testify/require"
)

type oneKey struct{ pub ed25519.PublicKey }

func (o oneKey) IsTrusted(k ed25519.PublicKey) bool { return o.pub.Equal(k) }
func (o oneKey) TrustedKeys() []models.EnclaveBinding {
	return []models.EnclaveBinding{{PublicKey: models.HexBytes(o.pub)}}
}

var (
	account = sui.MustParseAddress("0xacc")
	gasSeq  atomic.Uint64
)

// builtPayload runs a withdraw quote through verify and build with gas owned by owner. Each
// call pays with a different gas coin version, so no two payloads share bytes.
func builtPayload(t *testing.T, owner sui.Address) *txbuilder.Payload {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	q := &models.Quote{
		Scope:       models.ScopeWithdraw,
		TimestampMs: uint64(time.Now().UnixMilli()),
		Balance:     &models.BalanceQuote{Account: account, Amount: 10, BalanceBefore: 30, BalanceAfter: 20},
	}
	msg, err := q.SignedBytes()
	require.NoError(t, err)
	q.Signature = ed25519.Sign(priv, msg)

	vq, err := verifier.New(oneKey{pub}, verifier.NewMemorySpentSet(10, time.Hour)).Verify(context.Background(), q, pub)
	require.NoError(t, err)

	coin, err := sui.ParseTypeTag("0x2::sui::SUI")
	require.NoError(t, err)
	b := txbuilder.New(txbuilder.Layout{
		VaultPackage: sui.MustParseAddress("0x88"),
		CoinType:     coin,
		Vault:        sui.Shared(sui.MustParseAddress("0xe2"), 1, true),
		VaultLedger:  sui.Shared(sui.MustParseAddress("0xe3"), 1, true),
	})
	p, err := b.Build(vq, models.ActionWithdraw, models.BuildParams{Sender: account, Amount: 10}, models.GasPlan{
		Payment: []sui.ObjectRef{{ObjectID: sui.MustParseAddress("0x6a5"), Version: gasSeq.Add(1)}},
		Owner:   owner,
		Price:   1000,
		Budget:  1_000_000,
	})
	require.NoError(t, err)
	return p
}

func newLocal(t *testing.T) *Local {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	s, err := NewLocal(hex.EncodeToString(priv.Seed()), nil)
	require.NoError(t, err)
	return s
}

func TestLocalSignsOnlyAsGasOwner(t *testing.T) {
	s := newLocal(t)

	sig, err := s.SignSponsored(context.Background(), builtPayload(t, s.Address()))
	require.NoError(t, err)
	parsed, err := sui.ParseSignature(sig.Signature)
	require.NoError(t, err)
	require.Equal(t, s.Address(), parsed.Signer())

	_, err = s.SignSponsored(context.Background(), builtPayload(t, sui.MustParseAddress("0xdead")))
	require.True(t, errors.Is(err, relayerr.SponsorDenied))
}

func TestGasStationSendsKeyInHeader(t *testing.T) {
	remote := newLocal(t)
	payload := builtPayload(t, remote.Address())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(HeaderAccessKey) != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req signRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TxBytes != payload.Base64() {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		sig, _ := remote.SignSponsored(r.Context(), payload)
		_ = json.NewEncoder(w).Encode(sig)
	}))
	defer srv.Close()

	g := NewGasStation(srv.URL, "secret", xhttp.NewClient(xhttp.WithTimeout(time.Second)))
	sig, err := g.SignSponsored(context.Background(), payload)
	require.NoError(t, err)
	require.Equal(t, payload.Digest().String(), sig.Digest)

	g = NewGasStation(srv.URL, "wrong", xhttp.NewClient(xhttp.WithTimeout(time.Second)))
	_, err = g.SignSponsored(context.Background(), payload)
	require.True(t, errors.Is(err, relayerr.SponsorDenied))
}

func TestGasStationSignatureForOtherBytesIsRejected(t *testing.T) {
	remote := newLocal(t)
	payload := builtPayload(t, remote.Address())
	other := builtPayload(t, remote.Address())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig, _ := remote.SignSponsored(r.Context(), other)
		sig.Digest = ""
		_ = json.NewEncoder(w).Encode(sig)
	}))
	defer srv.Close()

	_, err := NewGasStation(srv.URL, "k", xhttp.NewClient()).SignSponsored(context.Background(), payload)
	require.True(t, errors.Is(err, relayerr.SignatureMismatch))
}

func TestGasStationDownIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := newLocal(t)
	_, err := NewGasStation(srv.URL, "k", xhttp.NewClient()).SignSponsored(context.Background(), builtPayload(t, s.Address()))
	require.True(t, errors.Is(err, relayerr.SponsorUnavailable))
	e, _ := relayerr.As(err)
	require.True(t, e.Retryable())
}

func TestBudgetDeniesOverLimit(t *testing.T) {
	s := newLocal(t)
	b := NewBudgeted(s, cache.NewMemoryCache(), 2)

	for i := 0; i < 2; i++ {
		_, err := b.SignSponsored(context.Background(), builtPayload(t, s.Address()))
		require.NoError(t, err)
	}
	_, err := b.SignSponsored(context.Background(), builtPayload(t, s.Address()))
	require.True(t, errors.Is(err, relayerr.SponsorDenied))
}
