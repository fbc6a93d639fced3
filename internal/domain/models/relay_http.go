package models

import "encoding/json"

// Requests and responses of the relay HTTP surface.

type TeeProxyRequest struct {
	Endpoint string          `json:"endpoint" default:"process_data" validate:"required,oneof=process_data resolve health_check get_attestation positions"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	PoolID   *uint64         `json:"pool_id,omitempty"`
}

type BuildSponsoredTxRequest struct {
	Action           string          `json:"action" default:"place_bet" validate:"required,oneof=place_bet deposit withdraw"`
	Sender           string          `json:"sender" validate:"required,hexadecimal"`
	Quote            json.RawMessage `json:"quote" validate:"required"`
	EnclavePublicKey string          `json:"enclave_public_key,omitempty" validate:"omitempty,hexadecimal"`
	Amount           *uint64         `json:"amount" validate:"required"`

	PoolID          *uint64  `json:"pool_id,omitempty" validate:"required_if=Action place_bet"`
	Outcome         *uint8   `json:"outcome,omitempty" validate:"required_if=Action place_bet"`
	Maker           string   `json:"maker,omitempty" validate:"required_if=Action place_bet"`
	CurrentProbs    []uint64 `json:"current_probs,omitempty" validate:"required_if=Action place_bet"`
	UserNewBalance  *uint64  `json:"user_new_balance,omitempty"`
	MakerNewBalance *uint64  `json:"maker_new_balance,omitempty"`

	CoinObjectIDs []string `json:"coin_object_ids,omitempty" validate:"required_if=Action deposit"`
	BalanceBefore *uint64  `json:"balance_before,omitempty"`
	BalanceAfter  *uint64  `json:"balance_after,omitempty"`
}

type BuildSponsoredTxResponse struct {
	TxBytes          string `json:"tx_bytes"`
	SponsorSignature string `json:"sponsor_signature"`
	Digest           string `json:"digest"`
	Sender           string `json:"sender"`
	GasOwner         string `json:"gas_owner"`
	Action           string `json:"action"`
}

type ExecuteSponsoredTxRequest struct {
	TxBytes          string `json:"tx_bytes" validate:"required,base64"`
	SponsorSignature string `json:"sponsor_signature" validate:"required,base64"`
	SenderSignature  string `json:"sender_signature" validate:"required,base64"`
}

type RotateAttestationRequest struct {
	PCR0          string `json:"pcr0" validate:"required,hexadecimal"`
	PCR1          string `json:"pcr1" validate:"required,hexadecimal"`
	PCR2          string `json:"pcr2" validate:"required,hexadecimal"`
	Authorization string `json:"authorization" validate:"required,jwt"`
}

type RegisterEnclaveRequest struct {
	Document string `json:"document" validate:"required,base64"`
}

type AttestationHistoryRequest struct {
	Limit int `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=500"`
}

type EventsRequest struct {
	Digest string `query:"digest" json:"digest"`
	Limit  int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}
