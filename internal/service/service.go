package service

import (
	"context"
	"time"

	"valve_dashboard/internal/models"
	"valve_dashboard/internal/session"
	"valve_dashboard/internal/valve"
)

// Dashboard exposes the mounted session: its view model and valve commands.
type Dashboard interface {
	View(ctx context.Context) (session.View, error)
	Retry(ctx context.Context) error
	Reload(ctx context.Context) error
	// Toggle and Command return the state right after the command was
	// accepted, or the final state when wait is set.
	Toggle(ctx context.Context, id string, wait bool) (valve.State, error)
	Command(ctx context.Context, id string, target valve.Position, wait bool) (valve.State, error)
}

// Devices passes detail, history and stats requests through to the backend.
type Devices interface {
	Get(ctx context.Context, id string) (models.Device, error)
	Status(ctx context.Context, id string) (models.DeviceStatus, error)
	History(ctx context.Context, id string) ([]models.ValveControl, error)
	Stats(ctx context.Context, id string, f StatsFilter) (models.SensorStats, error)
}

// EventLog is the session journal: append from the engine, filtered reads
// for the API.
type EventLog interface {
	List(ctx context.Context, f LogFilter) ([]models.SessionEvent, error)
	Record(ctx context.Context, e models.SessionEvent)
}

// LogFilter supports journal filtering by time range, type and device.
type LogFilter struct {
	From     time.Time
	To       time.Time
	Type     string
	DeviceID string
}

// StatsFilter bounds a stats request. Dates are passed to the backend as
// given (YYYY-MM-DD or RFC 3339).
type StatsFilter struct {
	StartDate string
	EndDate   string
}

type Service struct {
	Dashboard
	Devices
	EventLog
}

func NewService(dash Dashboard, devices Devices, log EventLog) *Service {
	return &Service{
		Dashboard: dash,
		Devices:   devices,
		EventLog:  log,
	}
}
