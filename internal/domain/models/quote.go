package models

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"TeeRelay/pkg/bcs"
	"TeeRelay/pkg/sui"
)

// IntentScope tags what a quote authorizes. Values are shared with the on-chain verifier.
type IntentScope uint8

const (
	ScopePlaceBet IntentScope = 0
	ScopeResolve  IntentScope = 1
	ScopeDeposit  IntentScope = 2
	ScopeWithdraw IntentScope = 3
)

func (s IntentScope) String() string {
	switch s {
	case ScopePlaceBet:
		return "place_bet"
	case ScopeResolve:
		return "resolve"
	case ScopeDeposit:
		return "deposit"
	case ScopeWithdraw:
		return "withdraw"
	default:
		return fmt.Sprintf("scope(%d)", uint8(s))
	}
}

// BetQuote is the enclave's pricing of a trade. Probabilities are scaled by 1e4, amounts by
// 1e6 and shares by 1e3. DebitAmount is what the user pays; the quote names neither the user
// nor the maker, so those come from the request.
type BetQuote struct {
	Shares       uint64   `json:"shares"`
	NewProbs     []uint64 `json:"new_probs"`
	PoolID       uint64   `json:"pool_id"`
	Outcome      uint8    `json:"outcome"`
	DebitAmount  uint64   `json:"debit_amount"`
	CreditAmount uint64   `json:"credit_amount"`
}

// MarshalBCS writes the fields in the order the enclave and pm::submit_bet serialize them.
func (b *BetQuote) MarshalBCS(e *bcs.Encoder) {
	e.U64(b.Shares)
	e.U64Vec(b.NewProbs)
	e.U64(b.PoolID).U8(b.Outcome)
	e.U64(b.DebitAmount).U64(b.CreditAmount)
}

// BalanceQuote prices a vault deposit or withdrawal.
type BalanceQuote struct {
	Account       sui.Address `json:"account"`
	Amount        uint64      `json:"amount"`
	BalanceBefore uint64      `json:"balance_before"`
	BalanceAfter  uint64      `json:"balance_after"`
}

func (b *BalanceQuote) MarshalBCS(e *bcs.Encoder) {
	e.Fixed(b.Account[:]).U64(b.Amount).U64(b.BalanceBefore).U64(b.BalanceAfter)
}

// Payout names the winner as the enclave prints it, so it is signed as a string.
type Payout struct {
	User   string `json:"user"`
	Amount uint64 `json:"amount"`
}

// ResolveQuote settles a pool. The relay verifies it but never sponsors it.
type ResolveQuote struct {
	Success        bool     `json:"success"`
	PoolID         uint64   `json:"pool_id"`
	WinningOutcome uint8    `json:"winning_outcome"`
	Payouts        []Payout `json:"payouts"`
	TotalPayout    uint64   `json:"total_payout"`
}

func (r *ResolveQuote) MarshalBCS(e *bcs.Encoder) {
	e.Bool(r.Success).U64(r.PoolID).U8(r.WinningOutcome)
	e.ULEB128(uint64(len(r.Payouts)))
	for _, p := range r.Payouts {
		e.String(p.User).U64(p.Amount)
	}
	e.U64(r.TotalPayout)
}

// Quote is an enclave-signed statement. Exactly one of Bet, Balance, Resolve is set, matching
// Scope.
type Quote struct {
	Scope       IntentScope
	TimestampMs uint64
	Bet         *BetQuote
	Balance     *BalanceQuote
	Resolve     *ResolveQuote
	Signature   []byte
}

// SignedBytes rebuilds the exact message the enclave signed:
// BCS(IntentMessage{intent, timestamp_ms, data}).
func (q *Quote) SignedBytes() ([]byte, error) {
	e := bcs.NewEncoder()
	e.U8(uint8(q.Scope)).U64(q.TimestampMs)
	switch q.Scope {
	case ScopePlaceBet:
		if q.Bet == nil {
			return nil, fmt.Errorf("place_bet quote has no bet data")
		}
		q.Bet.MarshalBCS(e)
	case ScopeDeposit, ScopeWithdraw:
		if q.Balance == nil {
			return nil, fmt.Errorf("%s quote has no balance data", q.Scope)
		}
		q.Balance.MarshalBCS(e)
	case ScopeResolve:
		if q.Resolve == nil {
			return nil, fmt.Errorf("resolve quote has no resolve data")
		}
		q.Resolve.MarshalBCS(e)
	default:
		return nil, fmt.Errorf("unknown intent scope %d", q.Scope)
	}
	return e.Bytes(), nil
}

// Subject identifies what the quote is about; it is part of the single-use key.
func (q *Quote) Subject() string {
	switch {
	case q.Bet != nil:
		return fmt.Sprintf("pool:%d:outcome:%d", q.Bet.PoolID, q.Bet.Outcome)
	case q.Balance != nil:
		return fmt.Sprintf("account:%s", q.Balance.Account)
	case q.Resolve != nil:
		return fmt.Sprintf("pool:%d:resolve", q.Resolve.PoolID)
	default:
		return "none"
	}
}

// enclaveQuote is the JSON shape the enclave returns.
type enclaveQuote struct {
	Response struct {
		Intent      *uint8          `json:"intent"`
		TimestampMs *uint64         `json:"timestamp_ms"`
		Data        json.RawMessage `json:"data"`
	} `json:"response"`
	Signature string `json:"signature"`
}

// ParseQuote decodes an enclave response body into a Quote. Unknown JSON fields are dropped;
// only the fields covered by the signature are kept.
func ParseQuote(raw []byte) (*Quote, error) {
	var wire enclaveQuote
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	if wire.Response.Intent == nil || wire.Response.TimestampMs == nil || len(wire.Response.Data) == 0 {
		return nil, fmt.Errorf("quote is missing response.intent, response.timestamp_ms or response.data")
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(wire.Signature, "0x"))
	if err != nil {
		return nil, fmt.Errorf("quote signature is not hex: %w", err)
	}

	q := &Quote{
		Scope:       IntentScope(*wire.Response.Intent),
		TimestampMs: *wire.Response.TimestampMs,
		Signature:   sig,
	}
	switch q.Scope {
	case ScopePlaceBet:
		q.Bet = &BetQuote{}
		err = json.Unmarshal(wire.Response.Data, q.Bet)
	case ScopeDeposit, ScopeWithdraw:
		q.Balance = &BalanceQuote{}
		err = json.Unmarshal(wire.Response.Data, q.Balance)
	case ScopeResolve:
		q.Resolve = &ResolveQuote{}
		err = json.Unmarshal(wire.Response.Data, q.Resolve)
	default:
		return nil, fmt.Errorf("unknown intent scope %d", q.Scope)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s data: %w", q.Scope, err)
	}
	return q, nil
}

// MarshalJSON emits the same shape ParseQuote accepts.
func (q *Quote) MarshalJSON() ([]byte, error) {
	var data interface{}
	switch {
	case q.Bet != nil:
		data = q.Bet
	case q.Balance != nil:
		data = q.Balance
	case q.Resolve != nil:
		data = q.Resolve
	}
	return json.Marshal(map[string]interface{}{
		"response": map[string]interface{}{
			"intent":       uint8(q.Scope),
			"timestamp_ms": q.TimestampMs,
			"data":         data,
		},
		"signature": hex.EncodeToString(q.Signature),
	})
}
