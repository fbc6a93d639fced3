package ledger

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"TeeRelay/internal/domain/models"
	"TeeRelay/internal/domain/relayerr"
	"TeeRelay/pkg/logger"
	"TeeRelay/pkg/sui"
)

// Anchor publishes accepted measurements through enclave::update_pcrs. The anchor key owns
// the enclave cap and pays its own gas.
type Anchor struct {
	client *Client
	key    ed25519.PrivateKey
	owner  sui.Address
	pkg    sui.Address
	config sui.ObjectArg
	cap    sui.Address
	price  uint64
	budget uint64
	log    *logger.Logger
}

func NewAnchor(client *Client, key ed25519.PrivateKey, pkg sui.Address, config sui.ObjectArg, capID sui.Address, price, budget uint64, l *logger.Logger) *Anchor {
	if l == nil {
		l = logger.Nop()
	}
	return &Anchor{
		client: client,
		key:    key,
		owner:  sui.AddressFromPublicKey(key.Public().(ed25519.PublicKey)),
		pkg:    pkg,
		config: config,
		cap:    capID,
		price:  price,
		budget: budget,
		log:    l,
	}
}

func (a *Anchor) AnchorPCRs(ctx context.Context, pcrs models.PCRs) (string, error) {
	refs, err := a.client.GetObjectRefs(ctx, []sui.Address{a.cap})
	if err != nil {
		return "", fmt.Errorf("resolve enclave cap: %w", err)
	}
	coins, err := a.client.GetCoins(ctx, a.owner, gasCoinType, 20)
	if err != nil {
		return "", fmt.Errorf("list anchor gas: %w", err)
	}
	var gas *sui.ObjectRef
	for i := range coins {
		if coins[i].Balance >= a.budget {
			gas = &coins[i].Ref
			break
		}
	}
	if gas == nil {
		return "", relayerr.Newf(relayerr.CodeSponsorUnavailable, "anchor key %s has no coin covering %d", a.owner, a.budget)
	}

	ptb := sui.NewPTB()
	ptb.MoveCall(a.pkg, "enclave", "update_pcrs", nil,
		ptb.Object(a.config),
		ptb.Object(sui.Owned(refs[0])),
		ptb.PureBytes(pcrs.PCR0),
		ptb.PureBytes(pcrs.PCR1),
		ptb.PureBytes(pcrs.PCR2),
	)
	tx := sui.TransactionData{
		Kind:   ptb.Finish(),
		Sender: a.owner,
		Gas:    sui.GasData{Payment: []sui.ObjectRef{*gas}, Owner: a.owner, Price: a.price, Budget: a.budget},
	}
	raw := tx.Bytes()
	sig := sui.SignTransaction(a.key, raw)

	res, err := a.client.Execute(ctx, raw, []string{sig.String()})
	if err != nil {
		return "", fmt.Errorf("submit update_pcrs: %w", err)
	}
	if res.Status != "success" {
		return "", relayerr.Newf(relayerr.CodeSubmissionRejected, "update_pcrs failed: %s", FailureReason(res)).
			WithParam("digest", res.Digest)
	}
	a.log.Info("measurements anchored", logger.String("digest", res.Digest), logger.String("pcrs", pcrs.Digest()))
	return res.Digest, nil
}
