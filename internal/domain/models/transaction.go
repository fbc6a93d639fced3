package models

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"TeeRelay/pkg/sui"
)

// Action is what a sponsored transaction does.
type Action string

const (
	ActionPlaceBet Action = "place_bet"
	ActionDeposit  Action = "deposit"
	ActionWithdraw Action = "withdraw"
)

// Scope is the quote scope an action requires.
func (a Action) Scope() (IntentScope, bool) {
	switch a {
	case ActionPlaceBet:
		return ScopePlaceBet, true
	case ActionDeposit:
		return ScopeDeposit, true
	case ActionWithdraw:
		return ScopeWithdraw, true
	}
	return 0, false
}

// BuildParams are the caller's transaction parameters. The builder checks every one of them
// against the quote and never substitutes.
type BuildParams struct {
	Sender sui.Address

	// place_bet
	Maker           sui.Address
	PoolID          uint64
	Outcome         uint8
	Amount          uint64
	CurrentProbs    []uint64
	UserPrior       uint64
	MakerPrior      uint64
	UserNewBalance  *uint64
	MakerNewBalance *uint64

	// deposit
	Coins []sui.ObjectRef

	// deposit, withdraw
	BalanceBefore *uint64
	BalanceAfter  *uint64
}

// GasPlan is the sponsor's gas for one transaction.
type GasPlan struct {
	Payment []sui.ObjectRef
	Owner   sui.Address
	Price   uint64
	Budget  uint64
}

// TransactionPayload is the exact byte string both signers sign, with the fields the relay
// reads from it.
type TransactionPayload struct {
	raw    []byte
	data   *sui.TransactionData
	digest sui.Digest
}

// NewTransactionPayload encodes tx.
func NewTransactionPayload(tx sui.TransactionData) TransactionPayload {
	raw := tx.Bytes()
	return TransactionPayload{raw: raw, data: &tx, digest: sui.TransactionDigest(raw)}
}

// DecodePayload parses client-supplied base64 transaction bytes.
func DecodePayload(b64 string) (TransactionPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return TransactionPayload{}, fmt.Errorf("tx bytes are not base64: %w", err)
	}
	data, err := sui.DecodeTransactionData(raw)
	if err != nil {
		return TransactionPayload{}, err
	}
	return TransactionPayload{raw: raw, data: data, digest: sui.TransactionDigest(raw)}, nil
}

// Bytes returns a copy of the signed bytes.
func (p TransactionPayload) Bytes() []byte {
	return append([]byte(nil), p.raw...)
}

func (p TransactionPayload) Base64() string {
	return base64.StdEncoding.EncodeToString(p.raw)
}

func (p TransactionPayload) Digest() sui.Digest {
	return p.digest
}

func (p TransactionPayload) Sender() sui.Address {
	if p.data == nil {
		return sui.Address{}
	}
	return p.data.Sender
}

func (p TransactionPayload) GasOwner() sui.Address {
	if p.data == nil {
		return sui.Address{}
	}
	return p.data.Gas.Owner
}

func (p TransactionPayload) GasPayment() []sui.ObjectRef {
	if p.data == nil {
		return nil
	}
	return p.data.Gas.Payment
}

func (p TransactionPayload) IsZero() bool {
	return len(p.raw) == 0
}

// SponsorSignature is the gas owner's signature and the digest the sponsor computed.
type SponsorSignature struct {
	Signature string `json:"signature"`
	Digest    string `json:"digest"`
}

// SignatureBundle is ordered [sender, sponsor].
type SignatureBundle struct {
	Sender  sui.Signature
	Sponsor sui.Signature
}

func (b SignatureBundle) Encoded() []string {
	return []string{b.Sender.String(), b.Sponsor.String()}
}

// ExecutionResult is the ledger's terminal answer for a transaction.
type ExecutionResult struct {
	Digest        string          `json:"digest"`
	Status        string          `json:"status"`
	Effects       json.RawMessage `json:"effects,omitempty"`
	Events        json.RawMessage `json:"events,omitempty"`
	ObjectChanges json.RawMessage `json:"objectChanges,omitempty"`
	Checkpoint    string          `json:"checkpoint,omitempty"`
}

// Coin is an owned gas or payment coin.
type Coin struct {
	Ref     sui.ObjectRef
	Balance uint64
}
