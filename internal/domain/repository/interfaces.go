package repository

import (
	"context"
	"time"

	"TeeRelay/internal/domain/models"
	"TeeRelay/pkg/sui"
)

// SpentSet records single-use keys. MarkSpent returns false when key was already marked and
// is still inside its window. The check and the mark are one atomic step. IsSpent only reads.
type SpentSet interface {
	MarkSpent(ctx context.Context, key string, ttl time.Duration) (bool, error)
	IsSpent(ctx context.Context, key string) (bool, error)
}

// Ledger is the chain the relay submits to.
type Ledger interface {
	Execute(ctx context.Context, txBytes []byte, signatures []string) (*models.ExecutionResult, error)
	WaitForTransaction(ctx context.Context, digest string) (*models.ExecutionResult, error)
	GetCoins(ctx context.Context, owner sui.Address, coinType string, limit int) ([]models.Coin, error)
	GetObjectRefs(ctx context.Context, ids []sui.Address) ([]sui.ObjectRef, error)
	WithdrawableBalance(ctx context.Context, ledgerID sui.Address, account sui.Address) (uint64, error)
}

// AttestationStore persists every accepted attestation record.
type AttestationStore interface {
	SaveRecord(ctx context.Context, rec models.AttestationRecord) error
	History(ctx context.Context, limit int) ([]models.AttestationRecord, error)
}

// Anchor publishes accepted measurements on chain. It returns the anchoring tx digest.
type Anchor interface {
	AnchorPCRs(ctx context.Context, pcrs models.PCRs) (string, error)
}

// EventPublisher fans relay events out to the audit stream.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev *models.RelayEvent) error
}

// AuditStorage is the durable event sink.
type AuditStorage interface {
	Init(ctx context.Context) error
	StoreEvents(ctx context.Context, evs []*models.RelayEvent) error
	Query(ctx context.Context, digest string, limit int) ([]*models.RelayEvent, error)
	Health(ctx context.Context) error
	Close() error
}

// ConfirmationQueue schedules a later finality check for a digest.
type ConfirmationQueue interface {
	EnqueueConfirmation(ctx context.Context, digest string) error
}

type Metrics interface {
	RecordOutcome(op, code string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	SetAttestationVersion(v uint64)
}
