// Package verifier turns an enclave quote into a single-use proof that it was signed by an
// attested enclave and has not been used before.
package verifier

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"TeeRelay/internal/domain/models"
	"TeeRelay/internal/domain/relayerr"
	"TeeRelay/internal/domain/repository"
	"TeeRelay/pkg/logger"
	"TeeRelay/pkg/util"
)

// TrustSource answers which enclave keys are bound to the current attestation record.
type TrustSource interface {
	IsTrusted(key ed25519.PublicKey) bool
	TrustedKeys() []models.EnclaveBinding
}

// VerifiedQuote can only be produced by Verifier.Verify. Consume hands out the quote once.
type VerifiedQuote struct {
	quote      *models.Quote
	enclaveKey ed25519.PublicKey
	verifiedAt time.Time
	consumed   atomic.Bool
}

// Consume marks the proof used. A second call fails with REPLAYED_QUOTE.
func (v *VerifiedQuote) Consume() (*models.Quote, error) {
	if v == nil || v.quote == nil {
		return nil, relayerr.New(relayerr.CodeBadSignature, "quote was not verified")
	}
	if !v.consumed.CompareAndSwap(false, true) {
		return nil, relayerr.New(relayerr.CodeReplayedQuote, "verified quote already consumed")
	}
	return v.quote, nil
}

// Scope is readable without consuming.
func (v *VerifiedQuote) Scope() models.IntentScope {
	return v.quote.Scope
}

func (v *VerifiedQuote) EnclaveKey() ed25519.PublicKey {
	return v.enclaveKey
}

func (v *VerifiedQuote) VerifiedAt() time.Time {
	return v.verifiedAt
}

// Verifier checks signature, then enclave binding, then single use, in that order.
type Verifier struct {
	trust   TrustSource
	spent   repository.SpentSet
	window  time.Duration
	skew    time.Duration
	now     func() time.Time
	log     *logger.Logger
	metrics repository.Metrics
}

type Option func(*Verifier)

// WithWindow sets how old a quote may be and how far in the future its timestamp may sit.
func WithWindow(window, skew time.Duration) Option {
	return func(v *Verifier) {
		if window > 0 {
			v.window = window
		}
		if skew >= 0 {
			v.skew = skew
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

func WithLogger(l *logger.Logger) Option {
	return func(v *Verifier) { v.log = l }
}

func WithMetrics(m repository.Metrics) Option {
	return func(v *Verifier) { v.metrics = m }
}

func New(trust TrustSource, spent repository.SpentSet, opts ...Option) *Verifier {
	v := &Verifier{
		trust:  trust,
		spent:  spent,
		window: 5 * time.Minute,
		skew:   30 * time.Second,
		now:    time.Now,
		log:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Window is how long a spent mark must be kept.
func (v *Verifier) Window() time.Duration {
	return v.window + v.skew
}

// Verify checks q. When enclaveKey is nil the quote must verify under one of the keys bound
// to the current record.
func (v *Verifier) Verify(ctx context.Context, q *models.Quote, enclaveKey ed25519.PublicKey) (*VerifiedQuote, error) {
	vq, err := v.verify(ctx, q, enclaveKey)
	if v.metrics != nil {
		code := "OK"
		if err != nil {
			code = string(relayerr.CodeOf(err))
		}
		v.metrics.RecordOutcome("verify_quote", code)
	}
	return vq, err
}

// Precheck runs every check Verify does without marking the quote spent. A quote that passes
// may still lose the race to mark it; only Verify proves single use.
func (v *Verifier) Precheck(ctx context.Context, q *models.Quote, enclaveKey ed25519.PublicKey) error {
	key, err := v.authenticate(q, enclaveKey)
	if err != nil {
		return err
	}
	spent, err := v.spent.IsSpent(ctx, replayKey(key, q))
	if err != nil {
		return relayerr.Wrap(relayerr.CodeNetworkError, "replay store unavailable", err)
	}
	if spent {
		return relayerr.New(relayerr.CodeReplayedQuote, "quote already used").
			WithParam("subject", q.Subject())
	}
	return nil
}

func (v *Verifier) verify(ctx context.Context, q *models.Quote, enclaveKey ed25519.PublicKey) (*VerifiedQuote, error) {
	key, err := v.authenticate(q, enclaveKey)
	if err != nil {
		return nil, err
	}

	// 3. single use
	now := v.now()
	fresh, err := v.spent.MarkSpent(ctx, replayKey(key, q), v.Window())
	if err != nil {
		if errors.Is(err, ErrSpentSetFull) {
			v.log.Error("spent set saturated, refusing quotes", logger.Error(err))
		}
		return nil, relayerr.Wrap(relayerr.CodeNetworkError, "replay store unavailable", err)
	}
	if !fresh {
		return nil, relayerr.New(relayerr.CodeReplayedQuote, "quote already used").
			WithParam("subject", q.Subject())
	}

	v.log.Debug("quote verified",
		logger.String("scope", q.Scope.String()),
		logger.String("subject", q.Subject()),
		logger.Uint64("timestamp_ms", q.TimestampMs),
	)
	return &VerifiedQuote{quote: q, enclaveKey: key, verifiedAt: now}, nil
}

// authenticate checks signature, binding and the validity window, and returns the signing key.
func (v *Verifier) authenticate(q *models.Quote, enclaveKey ed25519.PublicKey) (ed25519.PublicKey, error) {
	if q == nil {
		return nil, relayerr.New(relayerr.CodeBadSignature, "no quote")
	}
	msg, err := q.SignedBytes()
	if err != nil {
		return nil, relayerr.Wrap(relayerr.CodeBadSignature, "quote cannot be re-encoded", err)
	}
	if len(q.Signature) != ed25519.SignatureSize {
		return nil, relayerr.Newf(relayerr.CodeBadSignature, "signature has %d bytes", len(q.Signature))
	}

	// 1. signature
	key, err := v.signer(msg, q.Signature, enclaveKey)
	if err != nil {
		return nil, err
	}

	// 2. binding
	if !v.trust.IsTrusted(key) {
		return nil, relayerr.New(relayerr.CodeUntrustedEnclave, "enclave key is not bound to the current attestation").
			WithParam("enclave_key", models.HexBytes(key).String())
	}

	if !util.WithinWindow(util.FromUnixMilli(q.TimestampMs), v.now(), v.window, v.skew) {
		return nil, relayerr.Newf(relayerr.CodeReplayedQuote, "quote timestamp %d is outside the %s validity window", q.TimestampMs, v.window)
	}
	return key, nil
}

func (v *Verifier) signer(msg, sig []byte, enclaveKey ed25519.PublicKey) (ed25519.PublicKey, error) {
	if enclaveKey != nil {
		if len(enclaveKey) != ed25519.PublicKeySize {
			return nil, relayerr.Newf(relayerr.CodeBadSignature, "enclave key has %d bytes", len(enclaveKey))
		}
		if !ed25519.Verify(enclaveKey, msg, sig) {
			return nil, relayerr.New(relayerr.CodeBadSignature, "quote signature does not verify")
		}
		return enclaveKey, nil
	}
	for _, b := range v.trust.TrustedKeys() {
		if k := b.Key(); len(k) == ed25519.PublicKeySize && ed25519.Verify(k, msg, sig) {
			return k, nil
		}
	}
	return nil, relayerr.New(relayerr.CodeBadSignature, "quote signature does not verify under any attested enclave key")
}

// replayKey is enclave key + scope + subject + timestamp.
func replayKey(key ed25519.PublicKey, q *models.Quote) string {
	return fmt.Sprintf("%x|%d|%s|%d", []byte(key), q.Scope, q.Subject(), q.TimestampMs)
}
