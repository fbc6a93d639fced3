package repository

import (
	"context"
	"testing"
	"time"

	"TeeRelay/internal/domain/models"
	pkgch "TeeRelay/pkg/clickhouse"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestStoreEventsInsertsOneBlock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO relay.relay_events")
	prep.ExpectExec().
		WithArgs("e1", "tx.executed", at, "D1", "0xa", "place_bet", "OK", "", `{"gas_owner":"0xb"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs("e2", "tx.failed", at, "D2", "", "", "SUBMISSION_REJECTED", "MoveAbort", "{}").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s := NewClickHouseAuditStorage(pkgch.NewClientFromDB(db), "relay")
	err = s.StoreEvents(context.Background(), []*models.RelayEvent{
		{ID: "e1", Type: models.EventTxExecuted, OccurredAt: at, Digest: "D1", Sender: "0xa", Action: "place_bet", Code: "OK",
			Attributes: map[string]string{"gas_owner": "0xb"}},
		nil,
		{ID: "e2", Type: models.EventTxFailed, OccurredAt: at, Digest: "D2", Code: "SUBMISSION_REJECTED", Detail: "MoveAbort"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryEventsByDigest(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "type", "occurred_at", "digest", "sender", "action", "code", "detail", "attributes"}).
		AddRow("e1", "tx.executed", at, "D1", "0xa", "withdraw", "OK", "", `{"k":"v"}`)
	mock.ExpectQuery("SELECT .* FROM relay.relay_events WHERE digest = \\? ORDER BY occurred_at DESC LIMIT \\?").
		WithArgs("D1", 10).
		WillReturnRows(rows)

	evs, err := NewClickHouseAuditStorage(pkgch.NewClientFromDB(db), "relay").Query(context.Background(), "D1", 10)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, models.EventTxExecuted, evs[0].Type)
	require.Equal(t, "v", evs[0].Attributes["k"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttestationRecordRoundTrip(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := models.AttestationRecord{
		Version:      2,
		PCRs:         models.PCRs{PCR0: []byte{0xaa}, PCR1: []byte{0xbb}, PCR2: []byte{0xcc}},
		ActivatedAt:  at,
		RotatedBy:    "governance",
		AnchorDigest: "D9",
	}
	mock.ExpectExec("INSERT INTO relay.attestation_records").
		WithArgs(uint64(2), "aa", "bb", "cc", at, "governance", "D9").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT version, pcr0, pcr1, pcr2, activated_at, rotated_by, anchor_digest").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"version", "pcr0", "pcr1", "pcr2", "activated_at", "rotated_by", "anchor_digest"}).
			AddRow(int64(2), "aa", "bb", "cc", at, "governance", "D9"))

	s := NewCHAttestationStore(pkgch.NewClientFromDB(db), "relay")
	require.NoError(t, s.SaveRecord(context.Background(), rec))

	got, err := s.History(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	if !got[0].PCRs.Equal(rec.PCRs) || got[0].Version != 2 {
		t.Fatalf("unexpected record: %+v", got[0])
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryRejectsCorruptPCR(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT version").
		WillReturnRows(sqlmock.NewRows([]string{"version", "pcr0", "pcr1", "pcr2", "activated_at", "rotated_by", "anchor_digest"}).
			AddRow(int64(3), "zz", "bb", "cc", time.Now(), "", ""))

	_, err = NewCHAttestationStore(pkgch.NewClientFromDB(db), "relay").History(context.Background(), 5)
	require.ErrorContains(t, err, "record 3")
}
