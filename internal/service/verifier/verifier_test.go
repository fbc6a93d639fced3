package verifier

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"TeeRelay/internal/domain/models"
	"TeeRelay/internal/domain/relayerr"
	"TeeRelay/pkg/cache"

	"github.com/stretchr/testify/require"
)

type staticTrust struct{ keys []ed25519.PublicKey }

func (s staticTrust) IsTrusted(k ed25519.PublicKey) bool {
	for _, t := range s.keys {
		if t.Equal(k) {
			return true
		}
	}
	return false
}

func (s staticTrust) TrustedKeys() []models.EnclaveBinding {
	out := make([]models.EnclaveBinding, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, models.EnclaveBinding{PublicKey: models.HexBytes(k), RecordVersion: 1})
	}
	return out
}

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func signedBet(t *testing.T, key ed25519.PrivateKey, amount uint64) *models.Quote {
	t.Helper()
	q := &models.Quote{
		Scope:       models.ScopePlaceBet,
		TimestampMs: uint64(now.UnixMilli()),
		Bet: &models.BetQuote{
			Shares:       71_000,
			NewProbs:     []uint64{3000, 7000},
			PoolID:       3,
			Outcome:      1,
			DebitAmount:  amount,
			CreditAmount: amount,
		},
	}
	msg, err := q.SignedBytes()
	require.NoError(t, err)
	q.Signature = ed25519.Sign(key, msg)
	return q
}

func newKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub, priv
}

func newVerifier(trusted ...ed25519.PublicKey) *Verifier {
	return New(staticTrust{keys: trusted}, NewMemorySpentSet(1000, time.Hour), WithClock(func() time.Time { return now }))
}

func TestVerifyThenVerifyIsReplay(t *testing.T) {
	pub, priv := newKey(t)
	v := newVerifier(pub)
	q := signedBet(t, priv, 50_000_000)

	vq, err := v.Verify(context.Background(), q, pub)
	require.NoError(t, err)
	require.Equal(t, models.ScopePlaceBet, vq.Scope())

	_, err = v.Verify(context.Background(), q, pub)
	require.True(t, errors.Is(err, relayerr.ReplayedQuote), "got %v", err)
}

func TestPrecheckDoesNotSpend(t *testing.T) {
	pub, priv := newKey(t)
	for name, v := range map[string]*Verifier{
		"memory": newVerifier(pub),
		"cache": New(staticTrust{keys: []ed25519.PublicKey{pub}}, NewCacheSpentSet(cache.NewMemoryCache()),
			WithClock(func() time.Time { return now })),
	} {
		t.Run(name, func(t *testing.T) {
			q := signedBet(t, priv, 50_000_000)
			require.NoError(t, v.Precheck(context.Background(), q, pub))
			require.NoError(t, v.Precheck(context.Background(), q, pub))

			_, err := v.Verify(context.Background(), q, pub)
			require.NoError(t, err)

			err = v.Precheck(context.Background(), q, pub)
			require.True(t, errors.Is(err, relayerr.ReplayedQuote), "got %v", err)
		})
	}
}

func TestPrecheckRejectsLikeVerify(t *testing.T) {
	pub, priv := newKey(t)
	otherPub, otherPriv := newKey(t)
	v := newVerifier(pub)

	q := signedBet(t, priv, 5)
	q.Bet.DebitAmount = 6
	require.True(t, errors.Is(v.Precheck(context.Background(), q, pub), relayerr.BadSignature))
	require.True(t, errors.Is(v.Precheck(context.Background(), signedBet(t, otherPriv, 5), otherPub), relayerr.UntrustedEnclave))
}

func TestConsumeIsOnce(t *testing.T) {
	pub, priv := newKey(t)
	vq, err := newVerifier(pub).Verify(context.Background(), signedBet(t, priv, 1), pub)
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := vq.Consume(); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
}

func TestTamperedQuoteIsBadSignature(t *testing.T) {
	pub, priv := newKey(t)
	q := signedBet(t, priv, 50)
	q.Bet.DebitAmount = 51

	_, err := newVerifier(pub).Verify(context.Background(), q, pub)
	require.True(t, errors.Is(err, relayerr.BadSignature))
}

func TestSignatureCheckedBeforeBinding(t *testing.T) {
	trusted, _ := newKey(t)
	otherPub, otherPriv := newKey(t)
	v := newVerifier(trusted)

	// valid signature from an unattested enclave
	_, err := v.Verify(context.Background(), signedBet(t, otherPriv, 5), otherPub)
	require.True(t, errors.Is(err, relayerr.UntrustedEnclave))

	// bad signature and unattested key: signature wins
	q := signedBet(t, otherPriv, 5)
	q.Signature[0] ^= 0xff
	_, err = v.Verify(context.Background(), q, otherPub)
	require.True(t, errors.Is(err, relayerr.BadSignature))
}

func TestVerifyWithoutKeyFindsAttestedSigner(t *testing.T) {
	pub, priv := newKey(t)
	other, _ := newKey(t)
	vq, err := newVerifier(other, pub).Verify(context.Background(), signedBet(t, priv, 9), nil)
	require.NoError(t, err)
	require.True(t, vq.EnclaveKey().Equal(pub))
}

func TestStaleQuoteRejected(t *testing.T) {
	pub, priv := newKey(t)
	q := signedBet(t, priv, 5)
	v := New(staticTrust{keys: []ed25519.PublicKey{pub}}, NewMemorySpentSet(10, time.Hour),
		WithWindow(time.Minute, time.Second),
		WithClock(func() time.Time { return now.Add(2 * time.Minute) }))

	_, err := v.Verify(context.Background(), q, pub)
	require.True(t, errors.Is(err, relayerr.ReplayedQuote))
}

func TestConcurrentVerifyAdmitsOne(t *testing.T) {
	pub, priv := newKey(t)
	v := New(staticTrust{keys: []ed25519.PublicKey{pub}}, NewCacheSpentSet(cache.NewMemoryCache()),
		WithClock(func() time.Time { return now }))
	q := signedBet(t, priv, 77)

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := v.Verify(context.Background(), q, pub); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), ok.Load())
}

func TestMemorySpentSetFailsClosedWhenFull(t *testing.T) {
	s := NewMemorySpentSet(2, time.Hour)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	for _, k := range []string{"a", "b"} {
		fresh, err := s.MarkSpent(ctx, k, time.Minute)
		require.NoError(t, err)
		require.True(t, fresh)
	}
	_, err := s.MarkSpent(ctx, "c", time.Minute)
	require.ErrorIs(t, err, ErrSpentSetFull)

	s.now = func() time.Time { return now.Add(2 * time.Minute) }
	fresh, err := s.MarkSpent(ctx, "c", time.Minute)
	require.NoError(t, err)
	require.True(t, fresh)
}
