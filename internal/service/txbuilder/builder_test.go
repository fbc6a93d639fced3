package txbuilder

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"TeeRelay/internal/domain/models"
	"TeeRelay/internal/domain/relayerr"
	"TeeRelay/internal/service/verifier"
	"TeeRelay/pkg/bcs"
	"TeeRelay/pkg/sui"

	"github.com/stretchr/testify/require"
)

type oneKey struct{ pub ed25519.PublicKey }

func (o oneKey) IsTrusted(k ed25519.PublicKey) bool { return o.pub.Equal(k) }
func (o oneKey) TrustedKeys() []models.EnclaveBinding {
	return []models.EnclaveBinding{{PublicKey: models.HexBytes(o.pub), RecordVersion: 1}}
}

var (
	now    = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)
	user   = sui.MustParseAddress("0xa11ce")
	maker  = sui.MustParseAddress("0xb0b")
	sponsr = sui.MustParseAddress("0x5e")
)

func testLayout(t *testing.T) Layout {
	t.Helper()
	witness, err := sui.ParseTypeTag("0x77::pm::PM")
	require.NoError(t, err)
	coin, err := sui.ParseTypeTag("0x99::usdc::USDC")
	require.NoError(t, err)
	return Layout{
		PMPackage:    sui.MustParseAddress("0x77"),
		VaultPackage: sui.MustParseAddress("0x88"),
		WorldPackage: sui.MustParseAddress("0x66"),
		Witness:      witness,
		CoinType:     coin,
		Enclave:      sui.Shared(sui.MustParseAddress("0xe1"), 10, false),
		Vault:        sui.Shared(sui.MustParseAddress("0xe2"), 11, true),
		VaultLedger:  sui.Shared(sui.MustParseAddress("0xe3"), 12, true),
		World:        sui.Shared(sui.MustParseAddress("0xe4"), 13, true),
	}
}

func gasPlan() models.GasPlan {
	return models.GasPlan{
		Payment: []sui.ObjectRef{{ObjectID: sui.MustParseAddress("0x6a5"), Version: 4}},
		Owner:   sponsr,
		Price:   1000,
		Budget:  50_000_000,
	}
}

type fixture struct {
	v    *verifier.Verifier
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
	ts   uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	v := verifier.New(oneKey{pub}, verifier.NewMemorySpentSet(100, time.Hour),
		verifier.WithClock(func() time.Time { return now }))
	return &fixture{v: v, pub: pub, priv: priv, ts: uint64(now.UnixMilli())}
}

func (f *fixture) sign(t *testing.T, q *models.Quote) *models.Quote {
	t.Helper()
	f.ts++
	q.TimestampMs = f.ts
	msg, err := q.SignedBytes()
	require.NoError(t, err)
	q.Signature = ed25519.Sign(f.priv, msg)
	return q
}

func (f *fixture) verify(t *testing.T, q *models.Quote) *verifier.VerifiedQuote {
	t.Helper()
	vq, err := f.v.Verify(context.Background(), q, f.pub)
	require.NoError(t, err)
	return vq
}

// bet of 50 on outcome 1 moving probabilities from [0.5,0.5] to [0.3,0.7]
func betQuote() *models.Quote {
	return &models.Quote{
		Scope: models.ScopePlaceBet,
		Bet: &models.BetQuote{
			Shares:       83_333,
			NewProbs:     []uint64{3000, 7000},
			PoolID:       7,
			Outcome:      1,
			DebitAmount:  50_000_000,
			CreditAmount: 50_000_000,
		},
	}
}

func betParams(amount uint64) models.BuildParams {
	userNew, makerNew := uint64(150_000_000), uint64(550_000_000)
	return models.BuildParams{
		Sender:          user,
		Maker:           maker,
		PoolID:          7,
		Outcome:         1,
		Amount:          amount,
		CurrentProbs:    []uint64{5000, 5000},
		UserPrior:       200_000_000,
		MakerPrior:      500_000_000,
		UserNewBalance:  &userNew,
		MakerNewBalance: &makerNew,
	}
}

func TestPlaceBetEncodesFourCalls(t *testing.T) {
	f := newFixture(t)
	b := New(testLayout(t))
	q := f.sign(t, betQuote())

	p, err := b.Build(f.verify(t, q), models.ActionPlaceBet, betParams(50_000_000), gasPlan())
	require.NoError(t, err)
	require.Equal(t, user, p.Sender())
	require.Equal(t, sponsr, p.GasOwner())
	require.Equal(t, q.TimestampMs, p.QuoteTimestamp())

	tx, err := sui.DecodeTransactionData(p.Bytes())
	require.NoError(t, err)
	cmds := tx.Kind.Commands
	require.Len(t, cmds, 4)
	targets := make([]string, 0, len(cmds))
	for _, c := range cmds {
		require.Equal(t, sui.CmdMoveCall, c.Kind)
		targets = append(targets, c.MoveCall.Module+"::"+c.MoveCall.Function)
	}
	require.Equal(t, []string{"pm::submit_bet", "vault::set_withdrawable_balance", "vault::set_withdrawable_balance", "world::update_prob"}, targets)
	require.Len(t, cmds[0].MoveCall.Arguments, 9)
	require.Len(t, cmds[0].MoveCall.TypeArguments, 1)

	// ledger object is shared by both balance updates
	require.Equal(t, cmds[1].MoveCall.Arguments[0], cmds[2].MoveCall.Arguments[0])
}

func TestPlaceBetAmountMismatch(t *testing.T) {
	f := newFixture(t)
	b := New(testLayout(t))
	vq := f.verify(t, f.sign(t, betQuote()))

	_, err := b.Build(vq, models.ActionPlaceBet, betParams(51_000_000), gasPlan())
	require.True(t, errors.Is(err, relayerr.ParameterMismatch), "got %v", err)
	e, ok := relayerr.As(err)
	require.True(t, ok)
	require.Equal(t, "amount", e.Params["field"])
}

func TestPlaceBetRejectsWrongBalances(t *testing.T) {
	f := newFixture(t)
	b := New(testLayout(t))

	params := betParams(50_000_000)
	wrong := uint64(160_000_000)
	params.UserNewBalance = &wrong
	_, err := b.Build(f.verify(t, f.sign(t, betQuote())), models.ActionPlaceBet, params, gasPlan())
	require.True(t, errors.Is(err, relayerr.ParameterMismatch))

	params = betParams(50_000_000)
	params.UserPrior = 10
	params.UserNewBalance = nil
	_, err = b.Build(f.verify(t, f.sign(t, betQuote())), models.ActionPlaceBet, params, gasPlan())
	require.True(t, errors.Is(err, relayerr.ParameterMismatch))
}

func TestPlaceBetWritesRequestAccounts(t *testing.T) {
	f := newFixture(t)
	b := New(testLayout(t))

	p, err := b.Build(f.verify(t, f.sign(t, betQuote())), models.ActionPlaceBet, betParams(50_000_000), gasPlan())
	require.NoError(t, err)
	tx, err := sui.DecodeTransactionData(p.Bytes())
	require.NoError(t, err)

	pure := func(cmd, arg int) []byte {
		a := tx.Kind.Commands[cmd].MoveCall.Arguments[arg]
		require.Equal(t, sui.ArgInput, a.Kind)
		return tx.Kind.Inputs[a.Index].Pure
	}
	require.Equal(t, user[:], pure(1, 1))
	require.Equal(t, maker[:], pure(2, 1))
	// submit_bet argument 5 is the debit, which equals the requested amount
	require.Equal(t, bcs.NewEncoder().U64(50_000_000).Bytes(), pure(0, 5))
}

func TestPlaceBetRejectsSelfTrade(t *testing.T) {
	f := newFixture(t)
	b := New(testLayout(t))

	params := betParams(50_000_000)
	params.Maker = params.Sender
	_, err := b.Build(f.verify(t, f.sign(t, betQuote())), models.ActionPlaceBet, params, gasPlan())
	require.True(t, errors.Is(err, relayerr.ParameterMismatch))
	e, ok := relayerr.As(err)
	require.True(t, ok)
	require.Equal(t, "maker", e.Params["field"])
}

func TestPlaceBetChecksProbabilityShape(t *testing.T) {
	f := newFixture(t)
	b := New(testLayout(t))

	params := betParams(50_000_000)
	params.CurrentProbs = []uint64{3000, 3000, 4000}
	_, err := b.Build(f.verify(t, f.sign(t, betQuote())), models.ActionPlaceBet, params, gasPlan())
	require.True(t, errors.Is(err, relayerr.ParameterMismatch))
	e, ok := relayerr.As(err)
	require.True(t, ok)
	require.Equal(t, "current_probs", e.Params["field"])

	// an outcome past the end of the signed vector cannot settle
	q := betQuote()
	q.Bet.Outcome = 2
	params = betParams(50_000_000)
	params.Outcome = 2
	_, err = b.Build(f.verify(t, f.sign(t, q)), models.ActionPlaceBet, params, gasPlan())
	require.True(t, errors.Is(err, relayerr.ParameterMismatch))
}

func TestBuildTwiceIsReplay(t *testing.T) {
	f := newFixture(t)
	b := New(testLayout(t))
	vq := f.verify(t, f.sign(t, betQuote()))

	_, err := b.Build(vq, models.ActionPlaceBet, betParams(50_000_000), gasPlan())
	require.NoError(t, err)
	_, err = b.Build(vq, models.ActionPlaceBet, betParams(50_000_000), gasPlan())
	require.True(t, errors.Is(err, relayerr.ReplayedQuote))
}

func TestEncodeIsDeterministic(t *testing.T) {
	f := newFixture(t)
	b := New(testLayout(t))
	q := f.sign(t, betQuote())

	first, err := b.encode(q, models.ActionPlaceBet, betParams(50_000_000), gasPlan())
	require.NoError(t, err)
	second, err := b.encode(q, models.ActionPlaceBet, betParams(50_000_000), gasPlan())
	require.NoError(t, err)
	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Fatalf("encoding differs between identical calls")
	}
}

func TestActionMustMatchScope(t *testing.T) {
	f := newFixture(t)
	b := New(testLayout(t))
	vq := f.verify(t, f.sign(t, betQuote()))

	_, err := b.Build(vq, models.ActionWithdraw, models.BuildParams{Sender: user}, gasPlan())
	require.True(t, errors.Is(err, relayerr.ParameterMismatch))

	// the mismatched attempt did not use up the proof
	_, err = b.Build(vq, models.ActionPlaceBet, betParams(50_000_000), gasPlan())
	require.NoError(t, err)
}

func balanceQuote(scope models.IntentScope, amount, before, after uint64) *models.Quote {
	return &models.Quote{
		Scope: scope,
		Balance: &models.BalanceQuote{
			Account:       user,
			Amount:        amount,
			BalanceBefore: before,
			BalanceAfter:  after,
		},
	}
}

func TestDepositMergesAndSplits(t *testing.T) {
	f := newFixture(t)
	b := New(testLayout(t))
	vq := f.verify(t, f.sign(t, balanceQuote(models.ScopeDeposit, 25, 100, 125)))

	before, after := uint64(100), uint64(125)
	params := models.BuildParams{
		Sender: user,
		Amount: 25,
		Coins: []sui.ObjectRef{
			{ObjectID: sui.MustParseAddress("0xc1"), Version: 1},
			{ObjectID: sui.MustParseAddress("0xc2"), Version: 2},
		},
		BalanceBefore: &before,
		BalanceAfter:  &after,
	}
	p, err := b.Build(vq, models.ActionDeposit, params, gasPlan())
	require.NoError(t, err)

	tx, err := sui.DecodeTransactionData(p.Bytes())
	require.NoError(t, err)
	cmds := tx.Kind.Commands
	require.Len(t, cmds, 3)
	require.Equal(t, sui.CmdMergeCoins, cmds[0].Kind)
	require.Equal(t, sui.CmdSplitCoins, cmds[1].Kind)
	require.Equal(t, "deposit", cmds[2].MoveCall.Function)
}

func TestDepositRejectsGasCoinAsFunding(t *testing.T) {
	f := newFixture(t)
	b := New(testLayout(t))
	vq := f.verify(t, f.sign(t, balanceQuote(models.ScopeDeposit, 25, 100, 125)))

	params := models.BuildParams{Sender: user, Amount: 25, Coins: gasPlan().Payment}
	_, err := b.Build(vq, models.ActionDeposit, params, gasPlan())
	require.True(t, errors.Is(err, relayerr.ParameterMismatch))
}

func TestWithdrawChecksQuotedBalances(t *testing.T) {
	f := newFixture(t)
	b := New(testLayout(t))

	after := uint64(99)
	_, err := b.Build(f.verify(t, f.sign(t, balanceQuote(models.ScopeWithdraw, 40, 100, 60))),
		models.ActionWithdraw, models.BuildParams{Sender: user, Amount: 40, BalanceAfter: &after}, gasPlan())
	require.True(t, errors.Is(err, relayerr.ParameterMismatch))

	p, err := b.Build(f.verify(t, f.sign(t, balanceQuote(models.ScopeWithdraw, 40, 100, 60))),
		models.ActionWithdraw, models.BuildParams{Sender: user, Amount: 40}, gasPlan())
	require.NoError(t, err)
	require.Equal(t, models.ActionWithdraw, p.Action())
}
