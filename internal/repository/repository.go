package repository

import (
	"context"
	"database/sql"
	"time"

	"valve_dashboard/internal/models"
)

// JournalFilter narrows a journal listing. Zero values mean "no bound".
type JournalFilter struct {
	From     time.Time // inclusive
	To       time.Time // inclusive
	Type     string
	DeviceID string
}

type JournalRepo interface {
	Append(ctx context.Context, e models.SessionEvent) error
	List(ctx context.Context, f JournalFilter) ([]models.SessionEvent, error)
}

type Repository struct {
	JournalRepo JournalRepo
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		JournalRepo: NewJournalSQLite(db),
	}
}
