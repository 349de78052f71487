package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"valve_dashboard/internal/models"
	"valve_dashboard/internal/repository"
)

// fakeJournal is a minimal stub that satisfies repository.JournalRepo.
type fakeJournal struct {
	got      repository.JournalFilter
	appended []models.SessionEvent

	events    []models.SessionEvent
	err       error
	appendErr error

	calls int
}

func (f *fakeJournal) List(ctx context.Context, jf repository.JournalFilter) ([]models.SessionEvent, error) {
	f.calls++
	f.got = jf
	return f.events, f.err
}

func (f *fakeJournal) Append(ctx context.Context, e models.SessionEvent) error {
	f.appended = append(f.appended, e)
	return f.appendErr
}

func Test_journalFilter(t *testing.T) {
	t.Parallel()

	plus2 := time.FixedZone("UTC+2", 2*3600)

	tests := []struct {
		name    string
		in      LogFilter
		want    repository.JournalFilter
		wantErr error
	}{
		{
			name: "empty filter lists everything",
			in:   LogFilter{},
			want: repository.JournalFilter{},
		},
		{
			name: "type and device are canonicalized",
			in:   LogFilter{Type: " poll_fail ", DeviceID: " 7 "},
			want: repository.JournalFilter{Type: models.EventPollFail, DeviceID: "7"},
		},
		{
			name: "bounds are stored in UTC",
			in: LogFilter{
				From: time.Date(2025, time.September, 10, 10, 0, 0, 0, plus2),
				To:   time.Date(2025, time.September, 10, 12, 0, 0, 0, time.UTC),
			},
			want: repository.JournalFilter{
				From: time.Date(2025, time.September, 10, 8, 0, 0, 0, time.UTC),
				To:   time.Date(2025, time.September, 10, 12, 0, 0, 0, time.UTC),
			},
		},
		{
			name:    "type outside the journal is unknown",
			in:      LogFilter{Type: "MODE_CHANGE"},
			wantErr: errUnknownEventType,
		},
		{
			name: "from after to",
			in: LogFilter{
				From: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
				To:   time.Date(2025, 1, 1, 23, 0, 0, 0, time.UTC),
			},
			wantErr: errInvalidTimeRange,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := journalFilter(tc.in)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v; want %v", err, tc.wantErr)
			}
			if tc.wantErr != nil {
				return
			}
			if got.Type != tc.want.Type || got.DeviceID != tc.want.DeviceID ||
				!got.From.Equal(tc.want.From) || !got.To.Equal(tc.want.To) {
				t.Fatalf("got %+v; want %+v", got, tc.want)
			}
			if !got.From.IsZero() && got.From.Location() != time.UTC {
				t.Fatalf("from not in UTC: %v", got.From.Location())
			}
		})
	}
}

func TestEventLogService_List(t *testing.T) {
	t.Parallel()

	frepo := &fakeJournal{events: []models.SessionEvent{{EventID: "1", Type: models.EventCommandFail, DeviceID: "3"}}}
	svc := NewEventLogService(frepo, nil)

	out, err := svc.List(context.Background(), LogFilter{Type: "command_fail", DeviceID: "3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].EventID != "1" {
		t.Fatalf("unexpected events: %+v", out)
	}
	if frepo.got.Type != models.EventCommandFail || frepo.got.DeviceID != "3" {
		t.Fatalf("repo filter = %+v", frepo.got)
	}
}

func TestEventLogService_List_InvalidFilterSkipsJournal(t *testing.T) {
	t.Parallel()

	frepo := &fakeJournal{}
	svc := NewEventLogService(frepo, nil)

	_, err := svc.List(context.Background(), LogFilter{Type: "STOP"})
	if !IsValidation(err) {
		t.Fatalf("expected a validation error; got %v", err)
	}
	if frepo.calls != 0 {
		t.Fatalf("journal should not be queried, calls=%d", frepo.calls)
	}
}

func TestEventLogService_List_RepoErrorPropagation(t *testing.T) {
	t.Parallel()

	frepo := &fakeJournal{err: errors.New("db down")}
	svc := NewEventLogService(frepo, nil)

	_, err := svc.List(context.Background(), LogFilter{})
	if !errors.Is(err, frepo.err) {
		t.Fatalf("expected repo error to propagate; got %v", err)
	}
	if IsValidation(err) {
		t.Fatalf("repo error must not read as a validation error")
	}
}

func TestEventLogService_Record_SwallowsAppendError(t *testing.T) {
	t.Parallel()

	frepo := &fakeJournal{appendErr: errors.New("disk full")}
	svc := NewEventLogService(frepo, nil)

	svc.Record(context.Background(), models.SessionEvent{Type: models.EventCommand, DeviceID: "1"})

	if len(frepo.appended) != 1 || frepo.appended[0].Type != models.EventCommand {
		t.Fatalf("expected one append attempt, got %+v", frepo.appended)
	}
}
