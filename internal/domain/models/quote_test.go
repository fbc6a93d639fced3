package models

import (
	"testing"

	"TeeRelay/pkg/bcs"

	"github.com/stretchr/testify/require"
)

func TestBetSignedBytesLayout(t *testing.T) {
	q := &Quote{
		Scope:       ScopePlaceBet,
		TimestampMs: 1_700_000_000_000,
		Bet: &BetQuote{
			Shares:       83_333,
			NewProbs:     []uint64{3000, 7000},
			PoolID:       7,
			Outcome:      1,
			DebitAmount:  50_000_000,
			CreditAmount: 49_000_000,
		},
	}
	msg, err := q.SignedBytes()
	require.NoError(t, err)

	d := bcs.NewDecoder(msg)
	intent, err := d.U8()
	require.NoError(t, err)
	require.Equal(t, uint8(ScopePlaceBet), intent)
	ts, err := d.U64()
	require.NoError(t, err)
	require.Equal(t, q.TimestampMs, ts)

	// shares, new_probs, pool_id, outcome, debit_amount, credit_amount
	shares, err := d.U64()
	require.NoError(t, err)
	require.Equal(t, uint64(83_333), shares)
	probs, err := d.U64Vec()
	require.NoError(t, err)
	require.Equal(t, []uint64{3000, 7000}, probs)
	pool, err := d.U64()
	require.NoError(t, err)
	require.Equal(t, uint64(7), pool)
	outcome, err := d.U8()
	require.NoError(t, err)
	require.Equal(t, uint8(1), outcome)
	debit, err := d.U64()
	require.NoError(t, err)
	require.Equal(t, uint64(50_000_000), debit)
	credit, err := d.U64()
	require.NoError(t, err)
	require.Equal(t, uint64(49_000_000), credit)
	require.NoError(t, d.Done())
}

func TestResolvePayoutUserIsString(t *testing.T) {
	q := &Quote{
		Scope:       ScopeResolve,
		TimestampMs: 5,
		Resolve: &ResolveQuote{
			Success:        true,
			PoolID:         3,
			WinningOutcome: 0,
			Payouts:        []Payout{{User: "0xa11ce", Amount: 10}},
			TotalPayout:    10,
		},
	}
	msg, err := q.SignedBytes()
	require.NoError(t, err)

	d := bcs.NewDecoder(msg)
	_, err = d.U8()
	require.NoError(t, err)
	_, err = d.U64()
	require.NoError(t, err)
	_, err = d.Bool()
	require.NoError(t, err)
	_, err = d.U64()
	require.NoError(t, err)
	_, err = d.U8()
	require.NoError(t, err)
	n, err := d.Len()
	require.NoError(t, err)
	require.Equal(t, 1, n)
	who, err := d.String()
	require.NoError(t, err)
	require.Equal(t, "0xa11ce", who)
	amount, err := d.U64()
	require.NoError(t, err)
	require.Equal(t, uint64(10), amount)
	total, err := d.U64()
	require.NoError(t, err)
	require.Equal(t, uint64(10), total)
	require.NoError(t, d.Done())
}

func TestBetSubjectIgnoresAccounts(t *testing.T) {
	q := &Quote{Scope: ScopePlaceBet, Bet: &BetQuote{PoolID: 7, Outcome: 1}}
	require.Equal(t, "pool:7:outcome:1", q.Subject())
}
