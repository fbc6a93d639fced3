// Package txbuilder encodes a verified enclave quote and the caller's parameters into the exact
// transaction bytes the sponsor and the sender both sign.
package txbuilder

import (
	"math"
	"slices"

	"TeeRelay/internal/domain/models"
	"TeeRelay/internal/domain/relayerr"
	"TeeRelay/internal/domain/repository"
	"TeeRelay/internal/service/verifier"
	"TeeRelay/pkg/logger"
	"TeeRelay/pkg/sui"
)

// Payload is a transaction built from a verified quote. Only this package constructs one and
// the sponsor signs nothing else.
type Payload struct {
	tx     models.TransactionPayload
	action models.Action
	scope  models.IntentScope
	ts     uint64
}

func (p *Payload) Transaction() models.TransactionPayload { return p.tx }
func (p *Payload) Action() models.Action                  { return p.action }
func (p *Payload) Scope() models.IntentScope              { return p.scope }
func (p *Payload) Bytes() []byte                          { return p.tx.Bytes() }
func (p *Payload) Base64() string                         { return p.tx.Base64() }
func (p *Payload) Digest() sui.Digest                     { return p.tx.Digest() }
func (p *Payload) Sender() sui.Address                    { return p.tx.Sender() }
func (p *Payload) GasOwner() sui.Address                  { return p.tx.GasOwner() }

// QuoteTimestamp is the timestamp of the quote the payload was built from.
func (p *Payload) QuoteTimestamp() uint64 { return p.ts }

type Builder struct {
	layout  Layout
	log     *logger.Logger
	metrics repository.Metrics
}

type Option func(*Builder)

func WithLogger(l *logger.Logger) Option {
	return func(b *Builder) { b.log = l }
}

func WithMetrics(m repository.Metrics) Option {
	return func(b *Builder) { b.metrics = m }
}

func New(layout Layout, opts ...Option) *Builder {
	b := &Builder{layout: layout, log: logger.Nop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build consumes vq and encodes action. Every request parameter must equal what the quote
// committed to; nothing is substituted.
func (b *Builder) Build(vq *verifier.VerifiedQuote, action models.Action, params models.BuildParams, gas models.GasPlan) (*Payload, error) {
	p, err := b.build(vq, action, params, gas)
	if b.metrics != nil {
		code := "OK"
		if err != nil {
			code = string(relayerr.CodeOf(err))
		}
		b.metrics.RecordOutcome("build_"+string(action), code)
	}
	return p, err
}

func (b *Builder) build(vq *verifier.VerifiedQuote, action models.Action, params models.BuildParams, gas models.GasPlan) (*Payload, error) {
	want, ok := action.Scope()
	if !ok {
		return nil, relayerr.Newf(relayerr.CodeParameterMismatch, "unknown action %q", action).WithParam("field", "action")
	}
	if vq == nil {
		return nil, relayerr.New(relayerr.CodeBadSignature, "quote was not verified")
	}
	if vq.Scope() != want {
		return nil, relayerr.Mismatch("action", action, vq.Scope())
	}
	q, err := vq.Consume()
	if err != nil {
		return nil, err
	}
	if len(gas.Payment) == 0 || gas.Owner.IsZero() {
		return nil, relayerr.New(relayerr.CodeSponsorUnavailable, "no gas payment reserved")
	}

	tx, err := b.encode(q, action, params, gas)
	if err != nil {
		return nil, err
	}
	payload := &Payload{
		tx:     models.NewTransactionPayload(tx),
		action: action,
		scope:  q.Scope,
		ts:     q.TimestampMs,
	}
	b.log.Info("sponsored transaction built",
		logger.String("action", string(action)),
		logger.String("sender", params.Sender.String()),
		logger.String("digest", payload.Digest().String()),
		logger.Uint64("quote_ts", q.TimestampMs),
	)
	return payload, nil
}

// encode is deterministic in its inputs.
func (b *Builder) encode(q *models.Quote, action models.Action, params models.BuildParams, gas models.GasPlan) (sui.TransactionData, error) {
	ptb := sui.NewPTB()
	var err error
	switch action {
	case models.ActionPlaceBet:
		err = b.placeBet(ptb, q, params)
	case models.ActionDeposit:
		err = b.deposit(ptb, q, params, gas)
	case models.ActionWithdraw:
		err = b.withdraw(ptb, q, params)
	default:
		err = relayerr.Newf(relayerr.CodeParameterMismatch, "unknown action %q", action).WithParam("field", "action")
	}
	if err != nil {
		return sui.TransactionData{}, err
	}
	return sui.TransactionData{
		Kind:   ptb.Finish(),
		Sender: params.Sender,
		Gas: sui.GasData{
			Payment: slices.Clone(gas.Payment),
			Owner:   gas.Owner,
			Price:   gas.Price,
			Budget:  gas.Budget,
		},
	}, nil
}

func (b *Builder) placeBet(ptb *sui.PTB, q *models.Quote, p models.BuildParams) error {
	bet := q.Bet
	if bet == nil {
		return relayerr.New(relayerr.CodeParameterMismatch, "quote carries no bet")
	}
	switch {
	case p.Maker == p.Sender:
		// both balance writes would land on one account and the second would win
		return relayerr.New(relayerr.CodeParameterMismatch, "maker and sender are the same account").
			WithParam("field", "maker")
	case p.PoolID != bet.PoolID:
		return relayerr.Mismatch("pool_id", p.PoolID, bet.PoolID)
	case p.Outcome != bet.Outcome:
		return relayerr.Mismatch("outcome", p.Outcome, bet.Outcome)
	case p.Amount != bet.DebitAmount:
		return relayerr.Mismatch("amount", p.Amount, bet.DebitAmount)
	case int(bet.Outcome) >= len(bet.NewProbs):
		return relayerr.Newf(relayerr.CodeParameterMismatch, "outcome %d is outside the %d quoted probabilities", bet.Outcome, len(bet.NewProbs)).
			WithParam("field", "outcome")
	case p.CurrentProbs != nil && len(p.CurrentProbs) != len(bet.NewProbs):
		// the quote signs only the post-trade vector, so the prior can be checked by shape only
		return relayerr.Mismatch("current_probs", len(p.CurrentProbs), len(bet.NewProbs))
	}

	if bet.DebitAmount > p.UserPrior {
		return relayerr.Mismatch("user_prior_balance", p.UserPrior, bet.DebitAmount)
	}
	userNew := p.UserPrior - bet.DebitAmount
	if p.UserNewBalance != nil && *p.UserNewBalance != userNew {
		return relayerr.Mismatch("user_new_balance", *p.UserNewBalance, userNew)
	}
	if bet.CreditAmount > math.MaxUint64-p.MakerPrior {
		return relayerr.Mismatch("maker_prior_balance", p.MakerPrior, bet.CreditAmount)
	}
	makerNew := p.MakerPrior + bet.CreditAmount
	if p.MakerNewBalance != nil && *p.MakerNewBalance != makerNew {
		return relayerr.Mismatch("maker_new_balance", *p.MakerNewBalance, makerNew)
	}

	l := b.layout
	ptb.MoveCall(l.PMPackage, "pm", "submit_bet", []sui.TypeTag{l.Witness},
		ptb.Object(l.Enclave),
		ptb.PureU64(bet.Shares),
		ptb.PureU64Vec(bet.NewProbs),
		ptb.PureU64(bet.PoolID),
		ptb.PureU8(bet.Outcome),
		ptb.PureU64(bet.DebitAmount),
		ptb.PureU64(bet.CreditAmount),
		ptb.PureU64(q.TimestampMs),
		ptb.PureBytes(q.Signature),
	)
	ptb.MoveCall(l.VaultPackage, "vault", "set_withdrawable_balance", nil,
		ptb.Object(l.VaultLedger), ptb.PureAddress(p.Sender), ptb.PureU64(userNew))
	ptb.MoveCall(l.VaultPackage, "vault", "set_withdrawable_balance", nil,
		ptb.Object(l.VaultLedger), ptb.PureAddress(p.Maker), ptb.PureU64(makerNew))
	ptb.MoveCall(l.WorldPackage, "world", "update_prob", nil,
		ptb.Object(l.World), ptb.PureU64(bet.PoolID), ptb.PureU64Vec(bet.NewProbs))
	return nil
}

func (b *Builder) checkBalance(q *models.Quote, p models.BuildParams) (*models.BalanceQuote, error) {
	bal := q.Balance
	if bal == nil {
		return nil, relayerr.Newf(relayerr.CodeParameterMismatch, "%s quote carries no balance", q.Scope)
	}
	switch {
	case p.Sender != bal.Account:
		return nil, relayerr.Mismatch("sender", p.Sender, bal.Account)
	case p.Amount != bal.Amount:
		return nil, relayerr.Mismatch("amount", p.Amount, bal.Amount)
	case p.BalanceBefore != nil && *p.BalanceBefore != bal.BalanceBefore:
		return nil, relayerr.Mismatch("balance_before", *p.BalanceBefore, bal.BalanceBefore)
	case p.BalanceAfter != nil && *p.BalanceAfter != bal.BalanceAfter:
		return nil, relayerr.Mismatch("balance_after", *p.BalanceAfter, bal.BalanceAfter)
	}
	return bal, nil
}

func (b *Builder) deposit(ptb *sui.PTB, q *models.Quote, p models.BuildParams, gas models.GasPlan) error {
	bal, err := b.checkBalance(q, p)
	if err != nil {
		return err
	}
	if len(p.Coins) == 0 {
		return relayerr.New(relayerr.CodeParameterMismatch, "deposit needs at least one funding coin").
			WithParam("field", "coin_object_ids")
	}
	seen := make(map[sui.Address]struct{}, len(p.Coins)+len(gas.Payment))
	for _, g := range gas.Payment {
		seen[g.ObjectID] = struct{}{}
	}
	for _, c := range p.Coins {
		if _, dup := seen[c.ObjectID]; dup {
			return relayerr.Newf(relayerr.CodeParameterMismatch, "coin %s is listed twice or is a gas coin", c.ObjectID).
				WithParam("field", "coin_object_ids")
		}
		seen[c.ObjectID] = struct{}{}
	}

	l := b.layout
	first := ptb.Object(sui.Owned(p.Coins[0]))
	if len(p.Coins) > 1 {
		rest := make([]sui.Argument, 0, len(p.Coins)-1)
		for _, c := range p.Coins[1:] {
			rest = append(rest, ptb.Object(sui.Owned(c)))
		}
		ptb.MergeCoins(first, rest...)
	}
	coin := ptb.SplitCoin(first, ptb.PureU64(bal.Amount))
	ptb.MoveCall(l.VaultPackage, "vault", "deposit", []sui.TypeTag{l.CoinType},
		ptb.Object(l.Vault), ptb.Object(l.VaultLedger), coin)
	return nil
}

func (b *Builder) withdraw(ptb *sui.PTB, q *models.Quote, p models.BuildParams) error {
	bal, err := b.checkBalance(q, p)
	if err != nil {
		return err
	}
	l := b.layout
	ptb.MoveCall(l.VaultPackage, "vault", "withdraw", []sui.TypeTag{l.CoinType},
		ptb.Object(l.Vault), ptb.Object(l.VaultLedger), ptb.PureU64(bal.Amount))
	return nil
}
