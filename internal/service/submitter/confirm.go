package submitter

import (
	"context"
	"fmt"
	"time"

	"TeeRelay/internal/domain/models"
	"TeeRelay/internal/domain/repository"
	"TeeRelay/pkg/logger"
	"TeeRelay/pkg/queue"

	"github.com/google/uuid"
)

// JobTypeConfirm is the queue message type of a pending finality check.
const JobTypeConfirm = "tx.confirm"

type ConfirmRequest struct {
	Digest string `json:"digest"`
}

// QueueConfirmer schedules confirmations on a job queue.
type QueueConfirmer struct {
	pub queue.Publisher
}

func NewQueueConfirmer(pub queue.Publisher) *QueueConfirmer {
	return &QueueConfirmer{pub: pub}
}

func (q *QueueConfirmer) EnqueueConfirmation(ctx context.Context, digest string) error {
	return q.pub.PublishMessage(ctx, JobTypeConfirm, ConfirmRequest{Digest: digest})
}

// ConfirmJob polls the ledger for a digest that timed out during Submit. A still-unknown
// digest returns an error so the queue retries with backoff.
type ConfirmJob struct {
	ledger    repository.Ledger
	submitter *Submitter
	events    repository.EventPublisher
	log       *logger.Logger
}

func NewConfirmJob(l repository.Ledger, s *Submitter, events repository.EventPublisher, lg *logger.Logger) *ConfirmJob {
	if lg == nil {
		lg = logger.Nop()
	}
	return &ConfirmJob{ledger: l, submitter: s, events: events, log: lg}
}

func (j *ConfirmJob) Name() string { return "confirm_transaction" }
func (j *ConfirmJob) Type() string { return JobTypeConfirm }

func (j *ConfirmJob) Handle(ctx context.Context, payload interface{}) error {
	req, err := queue.ParsePayload[ConfirmRequest](payload)
	if err != nil {
		return err
	}
	if req.Digest == "" {
		return fmt.Errorf("confirmation without digest")
	}

	res, err := j.ledger.WaitForTransaction(ctx, req.Digest)
	if err != nil {
		return fmt.Errorf("confirm %s: %w", req.Digest, err)
	}
	if j.submitter != nil {
		j.submitter.Record(ctx, res)
	}

	ev := &models.RelayEvent{
		ID:         uuid.NewString(),
		Type:       models.EventTxConfirmed,
		OccurredAt: time.Now().UTC(),
		Digest:     res.Digest,
		Code:       res.Status,
	}
	if res.Status != statusSuccess {
		ev.Type = models.EventTxFailed
		ev.Detail = "confirmed with status " + res.Status
	}
	if j.events != nil {
		if err := j.events.PublishEvent(ctx, ev); err != nil {
			j.log.Warn("publish confirmation event", logger.String("digest", res.Digest), logger.Error(err))
		}
	}
	j.log.Info("transaction confirmed", logger.String("digest", res.Digest), logger.String("status", res.Status))
	return nil
}
