package usecase

import (
	"context"
	"encoding/json"
	"time"

	"TeeRelay/internal/domain/models"
	domrepo "TeeRelay/internal/domain/repository"
	pkgkafka "TeeRelay/pkg/kafka"
)

// AuditHandler consumes relay events from Kafka and writes them to audit storage.
type AuditHandler struct {
	topic   string
	storage domrepo.AuditStorage
	metrics domrepo.Metrics
}

func NewAuditHandler(topic string, storage domrepo.AuditStorage, metrics domrepo.Metrics) *AuditHandler {
	return &AuditHandler{topic: topic, storage: storage, metrics: metrics}
}

func (h *AuditHandler) Topic() string { return h.topic }

func (h *AuditHandler) Handle(ctx context.Context, b []byte) error {
	var ev models.RelayEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		h.metrics.RecordError("audit_unmarshal")
		return err
	}
	if !ev.OccurredAt.IsZero() {
		h.metrics.RecordLatency("audit_e2e", time.Since(ev.OccurredAt).Seconds())
	}

	start := time.Now()
	err := h.storage.StoreEvents(ctx, []*models.RelayEvent{&ev})
	h.metrics.RecordLatency("audit_insert", time.Since(start).Seconds())
	if err != nil {
		h.metrics.RecordError("audit_store")
		return err
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*AuditHandler)(nil)
