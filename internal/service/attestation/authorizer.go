package attestation

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"TeeRelay/internal/domain/models"
	"TeeRelay/internal/domain/relayerr"
	"TeeRelay/pkg/cache"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const rotateSubject = "attestation:rotate"

// RotationClaims is what the governance key signs to approve one rotation.
type RotationClaims struct {
	PCRs        string `json:"pcrs"`
	PrevVersion uint64 `json:"prev_version"`
	jwt.RegisteredClaims
}

// Authorizer checks governance-signed rotation tokens. Each token id is accepted once.
type Authorizer struct {
	key   ed25519.PublicKey
	spent cache.Service
	now   func() time.Time
}

func NewAuthorizer(governanceKey ed25519.PublicKey, spent cache.Service) *Authorizer {
	return &Authorizer{key: governanceKey, spent: spent, now: time.Now}
}

// Authorize returns the token's subject when it approves moving from prevVersion to pcrs.
func (a *Authorizer) Authorize(ctx context.Context, token string, pcrs models.PCRs, prevVersion uint64) (string, error) {
	if len(a.key) != ed25519.PublicKeySize {
		return "", relayerr.New(relayerr.CodeUnauthorized, "no governance key configured")
	}

	var claims RotationClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return a.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithSubject(rotateSubject),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", relayerr.Wrap(relayerr.CodeUnauthorized, "rotation token rejected", err)
	}

	if claims.PCRs != pcrs.Digest() {
		return "", relayerr.New(relayerr.CodeUnauthorized, "rotation token approves different measurements")
	}
	if claims.PrevVersion != prevVersion {
		return "", relayerr.Newf(relayerr.CodeUnauthorized,
			"rotation token was issued against version %d, current is %d", claims.PrevVersion, prevVersion)
	}
	if claims.ID == "" {
		return "", relayerr.New(relayerr.CodeUnauthorized, "rotation token has no jti")
	}

	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl < time.Second {
		ttl = time.Second
	}
	fresh, err := a.spent.TryLock(ctx, cache.Key("rotation_jti", claims.ID), ttl)
	if err != nil {
		return "", relayerr.Wrap(relayerr.CodeUnauthorized, "cannot record token use", err)
	}
	if !fresh {
		return "", relayerr.New(relayerr.CodeUnauthorized, "rotation token already used")
	}

	issuer := claims.Issuer
	if issuer == "" {
		issuer = "governance"
	}
	return issuer, nil
}

// MintRotationToken signs a rotation approval. relayctl and tests use it.
func MintRotationToken(key ed25519.PrivateKey, issuer string, pcrs models.PCRs, prevVersion uint64, ttl time.Duration) (string, error) {
	if len(key) != ed25519.PrivateKeySize {
		return "", errors.New("governance key must be an ed25519 private key")
	}
	now := time.Now()
	claims := RotationClaims{
		PCRs:        pcrs.Digest(),
		PrevVersion: prevVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   rotateSubject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign rotation token: %w", err)
	}
	return s, nil
}
