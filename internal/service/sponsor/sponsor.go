// Package sponsor obtains the gas owner's signature over a built transaction.
package sponsor

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"

	"TeeRelay/internal/domain/models"
	"TeeRelay/internal/domain/relayerr"
	"TeeRelay/internal/service/txbuilder"
	"TeeRelay/pkg/logger"
	"TeeRelay/pkg/sui"
)

// Signer signs sponsored transactions and nothing else.
type Signer interface {
	SignSponsored(ctx context.Context, payload *txbuilder.Payload) (models.SponsorSignature, error)
}

// checkSponsorSignature makes sure what came back is the gas owner's signature over exactly
// these bytes.
func checkSponsorSignature(payload *txbuilder.Payload, sig models.SponsorSignature) error {
	parsed, err := sui.ParseSignature(sig.Signature)
	if err != nil {
		return relayerr.Wrap(relayerr.CodeSignatureMismatch, "sponsor signature is malformed", err)
	}
	if parsed.Signer() != payload.GasOwner() {
		return relayerr.Newf(relayerr.CodeSignatureMismatch, "sponsor signed as %s, gas owner is %s", parsed.Signer(), payload.GasOwner())
	}
	if err := parsed.Verify(payload.Bytes()); err != nil {
		return relayerr.Wrap(relayerr.CodeSignatureMismatch, "sponsor signature does not cover the built transaction", err)
	}
	if sig.Digest != "" && sig.Digest != payload.Digest().String() {
		return relayerr.Newf(relayerr.CodeSignatureMismatch, "sponsor reported digest %s, built %s", sig.Digest, payload.Digest())
	}
	return nil
}

// Local signs with a key held by the relay process.
type Local struct {
	key     ed25519.PrivateKey
	address sui.Address
	log     *logger.Logger
}

// NewLocal parses a hex ed25519 seed or full private key.
func NewLocal(secret string, l *logger.Logger) (*Local, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(secret), "0x"))
	if err != nil {
		return nil, fmt.Errorf("sponsor key is not hex: %w", err)
	}
	var key ed25519.PrivateKey
	switch len(raw) {
	case ed25519.SeedSize:
		key = ed25519.NewKeyFromSeed(raw)
	case ed25519.PrivateKeySize:
		key = ed25519.PrivateKey(raw)
	default:
		return nil, fmt.Errorf("sponsor key has %d bytes", len(raw))
	}
	if l == nil {
		l = logger.Nop()
	}
	return &Local{
		key:     key,
		address: sui.AddressFromPublicKey(key.Public().(ed25519.PublicKey)),
		log:     l,
	}, nil
}

func (s *Local) Address() sui.Address {
	return s.address
}

func (s *Local) SignSponsored(ctx context.Context, payload *txbuilder.Payload) (models.SponsorSignature, error) {
	if err := ctx.Err(); err != nil {
		return models.SponsorSignature{}, relayerr.Wrap(relayerr.CodeSponsorUnavailable, "sponsor request cancelled", err)
	}
	if payload == nil {
		return models.SponsorSignature{}, relayerr.New(relayerr.CodeSponsorDenied, "no payload")
	}
	if payload.GasOwner() != s.address {
		return models.SponsorSignature{}, relayerr.Newf(relayerr.CodeSponsorDenied, "gas owner %s is not this sponsor", payload.GasOwner())
	}
	sig := sui.SignTransaction(s.key, payload.Bytes())
	s.log.Debug("sponsored locally", logger.String("digest", payload.Digest().String()))
	return models.SponsorSignature{Signature: sig.String(), Digest: payload.Digest().String()}, nil
}
