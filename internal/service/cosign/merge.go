// Package cosign pairs the sender's and the sponsor's signatures over one transaction.
package cosign

import (
	"TeeRelay/internal/domain/models"
	"TeeRelay/internal/domain/relayerr"
	"TeeRelay/pkg/sui"
)

// Merge verifies both signatures against payload independently and returns them ordered
// [sender, sponsor]. Each signature must also come from the address the transaction names
// for its role.
func Merge(payload models.TransactionPayload, sponsorSig, senderSig string) (models.SignatureBundle, error) {
	if payload.IsZero() {
		return models.SignatureBundle{}, relayerr.New(relayerr.CodeSignatureMismatch, "empty transaction")
	}
	sender, err := check("sender", payload, senderSig, payload.Sender())
	if err != nil {
		return models.SignatureBundle{}, err
	}
	sponsor, err := check("sponsor", payload, sponsorSig, payload.GasOwner())
	if err != nil {
		return models.SignatureBundle{}, err
	}
	return models.SignatureBundle{Sender: sender, Sponsor: sponsor}, nil
}

func check(role string, payload models.TransactionPayload, encoded string, want sui.Address) (sui.Signature, error) {
	sig, err := sui.ParseSignature(encoded)
	if err != nil {
		return sui.Signature{}, relayerr.Wrap(relayerr.CodeSignatureMismatch, role+" signature is malformed", err).
			WithParam("role", role)
	}
	if got := sig.Signer(); got != want {
		return sui.Signature{}, relayerr.Newf(relayerr.CodeSignatureMismatch, "%s signature is from %s, transaction expects %s", role, got, want).
			WithParam("role", role)
	}
	if err := sig.Verify(payload.Bytes()); err != nil {
		return sui.Signature{}, relayerr.Wrap(relayerr.CodeSignatureMismatch, role+" signature does not cover these bytes", err).
			WithParam("role", role)
	}
	return sig, nil
}
