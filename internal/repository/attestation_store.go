package repository

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"TeeRelay/internal/domain/models"
	domrepo "TeeRelay/internal/domain/repository"
	pkgch "TeeRelay/pkg/clickhouse"
	applogger "TeeRelay/pkg/logger"
)

// AttestationSchema creates the rotation history table.
func AttestationSchema(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.attestation_records (
			version UInt64,
			pcr0 String,
			pcr1 String,
			pcr2 String,
			activated_at DateTime64(3, 'UTC'),
			rotated_by String,
			anchor_digest String
		) ENGINE = ReplacingMergeTree
		ORDER BY version`, database),
	}
}

// CHAttestationStore implements AttestationStore backed by ClickHouse.
type CHAttestationStore struct {
	ch    *pkgch.Client
	db    *sql.DB
	table string
	l     *applogger.Logger
}

func NewCHAttestationStore(ch *pkgch.Client, database string) *CHAttestationStore {
	return &CHAttestationStore{ch: ch, db: ch.DB(), table: database + ".attestation_records", l: applogger.Nop()}
}

// SetLogger injects a structured logger.
func (s *CHAttestationStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHAttestationStore) Init(ctx context.Context, database string) error {
	return s.ch.InitSchema(ctx, AttestationSchema(database))
}

func (s *CHAttestationStore) SaveRecord(ctx context.Context, rec models.AttestationRecord) error {
	q := fmt.Sprintf("INSERT INTO %s (version, pcr0, pcr1, pcr2, activated_at, rotated_by, anchor_digest) VALUES (?, ?, ?, ?, ?, ?, ?)", s.table)
	_, err := s.db.ExecContext(ctx, q,
		rec.Version,
		hex.EncodeToString(rec.PCRs.PCR0),
		hex.EncodeToString(rec.PCRs.PCR1),
		hex.EncodeToString(rec.PCRs.PCR2),
		rec.ActivatedAt.UTC(),
		rec.RotatedBy,
		rec.AnchorDigest,
	)
	if err != nil {
		s.l.Error("clickhouse save_record error", applogger.Uint64("version", rec.Version), applogger.Error(err))
		return fmt.Errorf("save attestation record: %w", err)
	}
	return nil
}

// History returns records newest first.
func (s *CHAttestationStore) History(ctx context.Context, limit int) ([]models.AttestationRecord, error) {
	start := time.Now()
	const qtpl = `
        SELECT version, pcr0, pcr1, pcr2, activated_at, rotated_by, anchor_digest
        FROM %s FINAL
        ORDER BY version DESC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(qtpl, s.table), limit)
	if err != nil {
		s.l.Error("clickhouse history query error", applogger.Error(err))
		return nil, fmt.Errorf("attestation history: %w", err)
	}
	defer rows.Close()

	var out []models.AttestationRecord
	for rows.Next() {
		var (
			rec              models.AttestationRecord
			pcr0, pcr1, pcr2 string
		)
		if err := rows.Scan(&rec.Version, &pcr0, &pcr1, &pcr2, &rec.ActivatedAt, &rec.RotatedBy, &rec.AnchorDigest); err != nil {
			return nil, fmt.Errorf("scan attestation record: %w", err)
		}
		if rec.PCRs, err = decodePCRs(pcr0, pcr1, pcr2); err != nil {
			return nil, fmt.Errorf("record %d: %w", rec.Version, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.l.Debug("attestation history loaded", applogger.Int("rows", len(out)), applogger.Duration("took", time.Since(start)))
	return out, nil
}

func decodePCRs(pcr0, pcr1, pcr2 string) (models.PCRs, error) {
	var p models.PCRs
	for _, f := range []struct {
		dst *models.HexBytes
		src string
	}{{&p.PCR0, pcr0}, {&p.PCR1, pcr1}, {&p.PCR2, pcr2}} {
		if err := f.dst.UnmarshalText([]byte(f.src)); err != nil {
			return models.PCRs{}, fmt.Errorf("decode pcr: %w", err)
		}
	}
	return p, nil
}

var _ domrepo.AttestationStore = (*CHAttestationStore)(nil)
