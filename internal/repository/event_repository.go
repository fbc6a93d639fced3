package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"TeeRelay/internal/domain/models"
	"TeeRelay/internal/domain/repository"
	pkgch "TeeRelay/pkg/clickhouse"
	pkgkafka "TeeRelay/pkg/kafka"
)

const eventColumns = "id, type, occurred_at, digest, sender, action, code, detail, attributes"

// EventSchema creates the audit table.
func EventSchema(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.relay_events (
			id String,
			type LowCardinality(String),
			occurred_at DateTime64(3, 'UTC'),
			digest String,
			sender String,
			action LowCardinality(String),
			code LowCardinality(String),
			detail String,
			attributes String
		) ENGINE = ReplacingMergeTree
		ORDER BY (digest, occurred_at, id)
		TTL toDateTime(occurred_at) + INTERVAL 180 DAY`, database),
	}
}

// ClickHouseAuditStorage implements AuditStorage on the relay_events table. Rows are keyed by
// event id so a redelivered Kafka record collapses on merge.
type ClickHouseAuditStorage struct {
	ch    *pkgch.Client
	db    *sql.DB
	table string
	init  []string
}

func NewClickHouseAuditStorage(ch *pkgch.Client, database string) *ClickHouseAuditStorage {
	return &ClickHouseAuditStorage{
		ch:    ch,
		db:    ch.DB(),
		table: database + ".relay_events",
		init:  EventSchema(database),
	}
}

func (s *ClickHouseAuditStorage) Init(ctx context.Context) error {
	return s.ch.InitSchema(ctx, s.init)
}

func (s *ClickHouseAuditStorage) StoreEvents(ctx context.Context, evs []*models.RelayEvent) error {
	rows := make([][]any, 0, len(evs))
	for _, ev := range evs {
		if ev == nil || ev.ID == "" {
			continue
		}
		attrs := "{}"
		if len(ev.Attributes) > 0 {
			b, err := json.Marshal(ev.Attributes)
			if err != nil {
				return fmt.Errorf("encode attributes of %s: %w", ev.ID, err)
			}
			attrs = string(b)
		}
		rows = append(rows, []any{
			ev.ID,
			string(ev.Type),
			ev.OccurredAt.UTC(),
			ev.Digest,
			ev.Sender,
			ev.Action,
			ev.Code,
			ev.Detail,
			attrs,
		})
	}
	q := fmt.Sprintf("INSERT INTO %s (%s)", s.table, eventColumns)
	if err := s.ch.InsertBatch(ctx, q, rows); err != nil {
		return fmt.Errorf("store events: %w", err)
	}
	return nil
}

// Query returns the newest events, only those of digest when it is set.
func (s *ClickHouseAuditStorage) Query(ctx context.Context, digest string, limit int) ([]*models.RelayEvent, error) {
	var (
		where []string
		args  []any
	)
	if digest != "" {
		where = append(where, "digest = ?")
		args = append(args, digest)
	}
	q := fmt.Sprintf("SELECT %s FROM %s", eventColumns, s.table)
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY occurred_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []*models.RelayEvent
	for rows.Next() {
		var (
			ev    models.RelayEvent
			typ   string
			attrs string
		)
		if err := rows.Scan(&ev.ID, &typ, &ev.OccurredAt, &ev.Digest, &ev.Sender, &ev.Action, &ev.Code, &ev.Detail, &attrs); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = models.EventType(typ)
		if attrs != "" && attrs != "{}" {
			if err := json.Unmarshal([]byte(attrs), &ev.Attributes); err != nil {
				return nil, fmt.Errorf("decode attributes of %s: %w", ev.ID, err)
			}
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (s *ClickHouseAuditStorage) Health(ctx context.Context) error {
	return s.ch.Health(ctx)
}

// Close is a no-op; the client is owned by the app.
func (s *ClickHouseAuditStorage) Close() error {
	return nil
}

// KafkaEventPublisher implements EventPublisher on the relay events topic, keyed by digest.
type KafkaEventPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaEventPublisher(producer *pkgkafka.Producer, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

func (p *KafkaEventPublisher) PublishEvent(ctx context.Context, ev *models.RelayEvent) error {
	return p.producer.Publish(ctx, p.topic, []byte(ev.Key()), ev)
}

func (p *KafkaEventPublisher) PublishEvents(ctx context.Context, evs []*models.RelayEvent) error {
	if len(evs) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(evs))
	for i, ev := range evs {
		msgs[i] = pkgkafka.Message{
			Key:     []byte(ev.Key()),
			Value:   ev,
			Headers: map[string]string{"event_type": string(ev.Type)},
		}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

var (
	_ repository.AuditStorage   = (*ClickHouseAuditStorage)(nil)
	_ repository.EventPublisher = (*KafkaEventPublisher)(nil)
)
