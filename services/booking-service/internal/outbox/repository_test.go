package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
)

var outboxCols = []string{"id", "event_id", "aggregate_type", "aggregate_id", "event_type", "payload", "traceparent", "tracestate", "created_at"}

func newMockRepo(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	return NewRepository(mock), mock
}

func TestRepositoryDrainMarksPublished(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows(outboxCols).
			AddRow(int64(4), "e-4", "booking", "b-1", EventHoldCreated, []byte(`{}`), "", "", now).
			AddRow(int64(5), "e-5", "booking", "b-1", EventConfirmed, []byte(`{}`), "", "", now))
	mock.ExpectExec("UPDATE outbox_events").
		WithArgs([]int64{4, 5}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectCommit()

	var sent []Record
	n, err := repo.Drain(context.Background(), 10, func(_ context.Context, records []Record) error {
		sent = records
		return nil
	})
	if err != nil || n != 2 {
		t.Fatalf("drain: n=%d err=%v", n, err)
	}
	if sent[1].EventID != "e-5" || sent[1].Event.EventType != EventConfirmed {
		t.Fatalf("unexpected records: %+v", sent)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRepositoryDrainRollsBackWhenSendFails(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows(outboxCols).
			AddRow(int64(4), "e-4", "booking", "b-1", EventHoldCreated, []byte(`{}`), "", "", now))
	mock.ExpectRollback()

	boom := errors.New("kafka unavailable")
	_, err := repo.Drain(context.Background(), 10, func(context.Context, []Record) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected send error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRepositoryInsertCarriesTraceContext(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs("booking", "b-1", EventCancelled, []byte(`{"a":1}`), "00-abc-def-01", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := mock.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	evt := Event{AggregateType: "booking", AggregateID: "b-1", EventType: EventCancelled, Payload: []byte(`{"a":1}`)}
	evt.Trace.Parent = "00-abc-def-01"
	if err := repo.Insert(ctx, tx, evt); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
