package usecase

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"TeeRelay/internal/domain/models"
	"TeeRelay/internal/domain/relayerr"
	domrepo "TeeRelay/internal/domain/repository"
	"TeeRelay/internal/service/cosign"
	"TeeRelay/internal/service/enclave"
	"TeeRelay/internal/service/sponsor"
	"TeeRelay/internal/service/txbuilder"
	"TeeRelay/internal/service/verifier"
	"TeeRelay/pkg/logger"
	"TeeRelay/pkg/sui"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrRateLimited is returned when a sender exceeds its build allowance.
var ErrRateLimited = errors.New("build rate limit exceeded")

// InputError is a malformed request field, detected before any quote is verified.
type InputError struct {
	Field   string
	Message string
}

func (e *InputError) Error() string { return e.Field + ": " + e.Message }

func inputErr(field, format string, a ...interface{}) *InputError {
	return &InputError{Field: field, Message: fmt.Sprintf(format, a...)}
}

type QuoteVerifier interface {
	Precheck(ctx context.Context, q *models.Quote, enclaveKey ed25519.PublicKey) error
	Verify(ctx context.Context, q *models.Quote, enclaveKey ed25519.PublicKey) (*verifier.VerifiedQuote, error)
}

type TxBuilder interface {
	Build(vq *verifier.VerifiedQuote, action models.Action, params models.BuildParams, gas models.GasPlan) (*txbuilder.Payload, error)
}

type GasReserver interface {
	Reserve(ctx context.Context) (models.GasPlan, error)
	Release(ctx context.Context, plan models.GasPlan)
}

type TxSubmitter interface {
	Submit(ctx context.Context, payload models.TransactionPayload, bundle models.SignatureBundle) (*models.ExecutionResult, error)
}

type EnclaveForwarder interface {
	Forward(ctx context.Context, endpoint enclave.Endpoint, payload json.RawMessage, poolID *uint64) (*enclave.Response, error)
}

type Limiter interface {
	Allow(key string) bool
}

// RelayService runs the two public flows: build (verify quote, build, sponsor-sign) and
// execute (merge signatures, submit). It holds no per-request state.
type RelayService struct {
	enclave   EnclaveForwarder
	verifier  QuoteVerifier
	builder   TxBuilder
	gas       GasReserver
	sponsor   sponsor.Signer
	submitter TxSubmitter
	ledger    domrepo.Ledger

	vaultLedger sui.Address
	gasOwner    sui.Address

	limiter Limiter
	events  domrepo.EventPublisher
	metrics domrepo.Metrics
	log     *logger.Logger
}

type RelayDeps struct {
	Enclave   EnclaveForwarder
	Verifier  QuoteVerifier
	Builder   TxBuilder
	Gas       GasReserver
	Sponsor   sponsor.Signer
	Submitter TxSubmitter
	Ledger    domrepo.Ledger

	// VaultLedger is the object holding withdrawable balances.
	VaultLedger sui.Address
	// GasOwner, when set, is the only gas owner the relay submits for.
	GasOwner sui.Address

	Limiter Limiter
	Events  domrepo.EventPublisher
	Metrics domrepo.Metrics
	Logger  *logger.Logger
}

func NewRelayService(d RelayDeps) *RelayService {
	s := &RelayService{
		enclave:     d.Enclave,
		verifier:    d.Verifier,
		builder:     d.Builder,
		gas:         d.Gas,
		sponsor:     d.Sponsor,
		submitter:   d.Submitter,
		ledger:      d.Ledger,
		vaultLedger: d.VaultLedger,
		gasOwner:    d.GasOwner,
		limiter:     d.Limiter,
		events:      d.Events,
		metrics:     d.Metrics,
		log:         d.Logger,
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	return s
}

// TeeProxy forwards a named operation to the enclave and returns its body untouched.
func (s *RelayService) TeeProxy(ctx context.Context, req *models.TeeProxyRequest) (*enclave.Response, error) {
	start := time.Now()
	res, err := s.enclave.Forward(ctx, enclave.Endpoint(req.Endpoint), req.Payload, req.PoolID)
	s.observe("tee_proxy", start, err)
	return res, err
}

// BuildSponsoredTx verifies the quote, builds the transaction it authorizes and returns it
// with the sponsor's signature. Chain reads happen before verification so an unreachable
// node does not burn the quote.
func (s *RelayService) BuildSponsoredTx(ctx context.Context, req *models.BuildSponsoredTxRequest) (*models.BuildSponsoredTxResponse, error) {
	start := time.Now()
	resp, err := s.build(ctx, req)
	s.observe("build_sponsored_tx", start, err)
	return resp, err
}

func (s *RelayService) build(ctx context.Context, req *models.BuildSponsoredTxRequest) (*models.BuildSponsoredTxResponse, error) {
	action := models.Action(req.Action)
	if _, ok := action.Scope(); !ok {
		return nil, inputErr("action", "unsupported action %q", req.Action)
	}
	sender, err := sui.ParseAddress(req.Sender)
	if err != nil {
		return nil, inputErr("sender", "%v", err)
	}
	if s.limiter != nil && !s.limiter.Allow(sender.String()) {
		return nil, ErrRateLimited
	}
	q, err := models.ParseQuote(req.Quote)
	if err != nil {
		return nil, inputErr("quote", "%v", err)
	}
	key, err := parseEnclaveKey(req.EnclavePublicKey)
	if err != nil {
		return nil, err
	}

	params, err := s.resolveParams(ctx, action, sender, req)
	if err != nil {
		return nil, err
	}

	// every fallible chain read happens before the quote is spent
	if err := s.verifier.Precheck(ctx, q, key); err != nil {
		return nil, err
	}
	gas, err := s.gas.Reserve(ctx)
	if err != nil {
		return nil, err
	}
	vq, err := s.verifier.Verify(ctx, q, key)
	if err != nil {
		s.gas.Release(context.WithoutCancel(ctx), gas)
		return nil, err
	}
	s.publish(ctx, &models.RelayEvent{
		Type:   models.EventQuoteVerified,
		Sender: sender.String(),
		Action: string(action),
		Attributes: map[string]string{
			"scope":        q.Scope.String(),
			"timestamp_ms": fmt.Sprint(q.TimestampMs),
			"enclave_key":  hex.EncodeToString(vq.EnclaveKey()),
		},
	})

	payload, err := s.builder.Build(vq, action, params, gas)
	if err != nil {
		s.gas.Release(context.WithoutCancel(ctx), gas)
		return nil, err
	}
	sig, err := s.sponsor.SignSponsored(ctx, payload)
	if err != nil {
		s.gas.Release(context.WithoutCancel(ctx), gas)
		return nil, err
	}

	digest := payload.Digest().String()
	s.publish(ctx, &models.RelayEvent{
		Type:   models.EventTxBuilt,
		Digest: digest,
		Sender: sender.String(),
		Action: string(action),
		Attributes: map[string]string{
			"gas_owner": payload.GasOwner().String(),
		},
	})
	return &models.BuildSponsoredTxResponse{
		TxBytes:          payload.Base64(),
		SponsorSignature: sig.Signature,
		Digest:           digest,
		Sender:           sender.String(),
		GasOwner:         payload.GasOwner().String(),
		Action:           string(action),
	}, nil
}

// resolveParams turns the request into BuildParams, reading prior balances and coin refs
// from the chain. It never looks at the quote.
func (s *RelayService) resolveParams(ctx context.Context, action models.Action, sender sui.Address, req *models.BuildSponsoredTxRequest) (models.BuildParams, error) {
	p := models.BuildParams{
		Sender:        sender,
		BalanceBefore: req.BalanceBefore,
		BalanceAfter:  req.BalanceAfter,
	}
	if req.Amount == nil {
		return p, inputErr("amount", "amount is required")
	}
	p.Amount = *req.Amount

	switch action {
	case models.ActionPlaceBet:
		if req.PoolID == nil || req.Outcome == nil {
			return p, inputErr("pool_id", "pool_id and outcome are required for place_bet")
		}
		maker, err := sui.ParseAddress(req.Maker)
		if err != nil {
			return p, inputErr("maker", "%v", err)
		}
		p.Maker = maker
		p.PoolID = *req.PoolID
		p.Outcome = *req.Outcome
		p.CurrentProbs = req.CurrentProbs
		p.UserNewBalance = req.UserNewBalance
		p.MakerNewBalance = req.MakerNewBalance

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			p.UserPrior, err = s.ledger.WithdrawableBalance(gctx, s.vaultLedger, sender)
			return err
		})
		g.Go(func() (err error) {
			p.MakerPrior, err = s.ledger.WithdrawableBalance(gctx, s.vaultLedger, maker)
			return err
		})
		if err := g.Wait(); err != nil {
			return p, err
		}

	case models.ActionDeposit:
		if len(req.CoinObjectIDs) == 0 {
			return p, inputErr("coin_object_ids", "at least one coin is required for deposit")
		}
		ids := make([]sui.Address, len(req.CoinObjectIDs))
		for i, raw := range req.CoinObjectIDs {
			id, err := sui.ParseAddress(raw)
			if err != nil {
				return p, inputErr("coin_object_ids", "coin %d: %v", i, err)
			}
			ids[i] = id
		}
		refs, err := s.ledger.GetObjectRefs(ctx, ids)
		if err != nil {
			return p, err
		}
		p.Coins = refs
	}
	return p, nil
}

// ExecuteSponsoredTx merges the two signatures over the submitted bytes and hands them to the
// ledger. Resubmitting the same bytes returns the recorded result.
func (s *RelayService) ExecuteSponsoredTx(ctx context.Context, req *models.ExecuteSponsoredTxRequest) (*models.ExecutionResult, error) {
	start := time.Now()
	res, err := s.execute(ctx, req)
	s.observe("execute_sponsored_tx", start, err)
	return res, err
}

func (s *RelayService) execute(ctx context.Context, req *models.ExecuteSponsoredTxRequest) (*models.ExecutionResult, error) {
	payload, err := models.DecodePayload(req.TxBytes)
	if err != nil {
		return nil, inputErr("tx_bytes", "%v", err)
	}
	if !s.gasOwner.IsZero() && payload.GasOwner() != s.gasOwner {
		return nil, relayerr.Newf(relayerr.CodeSponsorDenied, "gas owner %s is not this relay's sponsor", payload.GasOwner())
	}
	bundle, err := cosign.Merge(payload, req.SponsorSignature, req.SenderSignature)
	if err != nil {
		return nil, err
	}

	digest := payload.Digest().String()
	res, err := s.submitter.Submit(ctx, payload, bundle)
	if err != nil {
		s.publish(ctx, &models.RelayEvent{
			Type:   models.EventTxFailed,
			Digest: digest,
			Sender: payload.Sender().String(),
			Code:   string(relayerr.CodeOf(err)),
			Detail: err.Error(),
		})
		return nil, err
	}
	s.publish(ctx, &models.RelayEvent{
		Type:   models.EventTxExecuted,
		Digest: res.Digest,
		Sender: payload.Sender().String(),
		Code:   res.Status,
		Attributes: map[string]string{
			"gas_owner":  payload.GasOwner().String(),
			"checkpoint": res.Checkpoint,
		},
	})
	return res, nil
}

func (s *RelayService) publish(ctx context.Context, ev *models.RelayEvent) {
	if s.events == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.OccurredAt = time.Now().UTC()
	if err := s.events.PublishEvent(ctx, ev); err != nil {
		s.log.Warn("publish relay event", logger.String("type", string(ev.Type)), logger.Error(err))
	}
}

func (s *RelayService) observe(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	code := "OK"
	if err != nil {
		code = string(relayerr.CodeOf(err))
		switch {
		case errors.Is(err, ErrRateLimited):
			code = "RATE_LIMITED"
		case code == "":
			code = "INVALID_REQUEST"
		}
	}
	s.metrics.RecordOutcome(op, code)
	s.metrics.RecordLatency(op, time.Since(start).Seconds())
}

func parseEnclaveKey(s string) (ed25519.PublicKey, error) {
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
	if err != nil {
		return nil, inputErr("enclave_public_key", "not hex: %v", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, inputErr("enclave_public_key", "has %d bytes, want %d", len(b), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(b), nil
}
