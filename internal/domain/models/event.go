package models

import "time"

type EventType string

const (
	EventQuoteVerified      EventType = "quote.verified"
	EventTxBuilt            EventType = "tx.built"
	EventTxExecuted         EventType = "tx.executed"
	EventTxFailed           EventType = "tx.failed"
	EventTxConfirmed        EventType = "tx.confirmed"
	EventAttestationRotated EventType = "attestation.rotated"
	EventEnclaveRegistered  EventType = "enclave.registered"
)

// RelayEvent is one audit record. It is published to Kafka, stored in ClickHouse and pushed
// to feed subscribers.
type RelayEvent struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	OccurredAt time.Time         `json:"occurred_at"`
	Digest     string            `json:"digest,omitempty"`
	Sender     string            `json:"sender,omitempty"`
	Action     string            `json:"action,omitempty"`
	Code       string            `json:"code,omitempty"`
	Detail     string            `json:"detail,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Key partitions events by digest, falling back to the event id.
func (e *RelayEvent) Key() string {
	if e.Digest != "" {
		return e.Digest
	}
	return e.ID
}
