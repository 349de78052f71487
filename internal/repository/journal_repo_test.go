package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"valve_dashboard/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
)

func ctx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return c
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

var journalColumns = []string{"id", "occurred_at", "type", "device_id", "message", "meta"}

func TestAppend_Success_WithDefaults(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	repo := NewJournalSQLite(db)

	mock.ExpectExec(regexp.QuoteMeta(insertEventSQL)).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "COMMAND", "7", "valve open requested", `{"target":"open"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Append(ctx(t), models.SessionEvent{
		Type:        "  command ",
		DeviceID:    "7",
		Description: "valve open requested",
		Metadata:    map[string]any{"target": "open"},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("mock expectations: %v", err)
	}
}

func TestAppend_FormatsOccurredAtAsFixedWidthUTC(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	repo := NewJournalSQLite(db)

	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3*3600))
	mock.ExpectExec(regexp.QuoteMeta(insertEventSQL)).
		WithArgs("e1", "2025-01-02T00:04:05.000000000Z", "MOUNT", "", "mounted", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Append(ctx(t), models.SessionEvent{EventID: "e1", OccurredAt: at, Type: "mount", Description: "mounted"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("mock expectations: %v", err)
	}
}

func TestAppend_DBError(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	repo := NewJournalSQLite(db)

	mock.ExpectExec("INSERT INTO session_events").WillReturnError(errors.New("down"))

	err := repo.Append(ctx(t), models.SessionEvent{Type: "poll_fail", Description: "x"})
	if err == nil || !strings.Contains(err.Error(), "down") {
		t.Fatalf("expected error, got %v", err)
	}
}

func TestList_NoFilters_And_MetadataParsing(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	repo := NewJournalSQLite(db)

	js, _ := json.Marshal(map[string]any{"target": "open"})
	rows := sqlmock.NewRows(journalColumns).
		AddRow("1", "2025-01-01T10:00:00.000000000Z", "COMMAND", "3", "m1", string(js)).
		AddRow("2", "2025-01-01T11:00:00.000000000Z", "POLL_FAIL", "", "m2", nil).
		AddRow("3", "2025-01-01T12:00:00.000000000Z", "COMMAND_FAIL", "3", "m3", "{broken")

	mock.ExpectQuery(regexp.QuoteMeta(selectEventsSQL + " ORDER BY occurred_at ASC")).WillReturnRows(rows)

	got, err := repo.List(ctx(t), JournalFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("want 3, got %d", len(got))
	}
	if b, _ := json.Marshal(got[0].Metadata); string(b) != string(js) {
		t.Fatalf("metadata mismatch: %s vs %s", b, js)
	}
	if got[1].Metadata != nil {
		t.Fatalf("expected nil meta, got %#v", got[1].Metadata)
	}
	if got[2].Metadata != "{broken" {
		t.Fatalf("malformed meta must be kept raw, got %#v", got[2].Metadata)
	}
	if got[0].OccurredAt.Hour() != 10 || got[0].OccurredAt.Location() != time.UTC {
		t.Fatalf("unexpected occurred_at: %v", got[0].OccurredAt)
	}
}

func TestList_WithFilters_OrderAndArgs(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	repo := NewJournalSQLite(db)

	from := time.Date(2025, 1, 1, 11, 0, 0, 0, time.UTC)
	to := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	query := selectEventsSQL + ` WHERE occurred_at >= ? AND occurred_at <= ? AND type = ? AND device_id = ? ORDER BY occurred_at ASC`

	mock.ExpectQuery(regexp.QuoteMeta(query)).
		WithArgs("2025-01-01T11:00:00.000000000Z", "2025-01-01T12:00:00.000000000Z", "COMMAND_FAIL", "9").
		WillReturnRows(sqlmock.NewRows(journalColumns).
			AddRow("2", "2025-01-01T11:30:00.000000000Z", "COMMAND_FAIL", "9", "relay fault", nil))

	got, err := repo.List(ctx(t), JournalFilter{From: from, To: to, Type: " command_fail ", DeviceID: "9"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].Description != "relay fault" {
		t.Fatalf("unexpected results: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("mock expectations: %v", err)
	}
}

func TestList_BadTimestampFails(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	repo := NewJournalSQLite(db)

	mock.ExpectQuery(regexp.QuoteMeta(selectEventsSQL)).
		WillReturnRows(sqlmock.NewRows(journalColumns).AddRow("x", "yesterday", "MOUNT", "", "msg", nil))

	if _, err := repo.List(ctx(t), JournalFilter{}); err == nil {
		t.Fatalf("expected parse error, got nil")
	}
}
