package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"valve_dashboard/internal/logger"
	"valve_dashboard/internal/models"
	"valve_dashboard/internal/repository"
)

var (
	errInvalidTimeRange = errors.New("invalid time range: From must be <= To")
	errUnknownEventType = errors.New("unknown event type")
)

// EventLogService is the session journal: the engine records into it and
// the local API reads it back.
type EventLogService struct {
	journal repository.JournalRepo
	log     *logger.Logger
}

func NewEventLogService(journal repository.JournalRepo, log *logger.Logger) *EventLogService {
	return &EventLogService{journal: journal, log: logger.OrNop(log)}
}

// journalFilter canonicalizes f for the repository: UTC bounds, upper-case
// type, trimmed device id.
func journalFilter(f LogFilter) (repository.JournalFilter, error) {
	out := repository.JournalFilter{
		Type:     strings.ToUpper(strings.TrimSpace(f.Type)),
		DeviceID: strings.TrimSpace(f.DeviceID),
	}
	if !f.From.IsZero() {
		out.From = f.From.UTC()
	}
	if !f.To.IsZero() {
		out.To = f.To.UTC()
	}
	if out.Type != "" && !models.KnownEventType(out.Type) {
		return repository.JournalFilter{}, fmt.Errorf("%w: %q", errUnknownEventType, f.Type)
	}
	if !out.From.IsZero() && !out.To.IsZero() && out.From.After(out.To) {
		return repository.JournalFilter{}, errInvalidTimeRange
	}
	return out, nil
}

func (s *EventLogService) List(ctx context.Context, f LogFilter) ([]models.SessionEvent, error) {
	jf, err := journalFilter(f)
	if err != nil {
		return nil, err
	}
	return s.journal.List(ctx, jf)
}

// Record appends e to the journal. A failed append is logged and dropped:
// the journal must never block a command or a poll.
func (s *EventLogService) Record(ctx context.Context, e models.SessionEvent) {
	if err := s.journal.Append(ctx, e); err != nil {
		s.log.Warnw("journal_append_failed", "type", e.Type, "device", e.DeviceID, "err", err)
	}
}
