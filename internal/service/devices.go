package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"valve_dashboard/internal/models"
	"valve_dashboard/internal/transport"
)

var (
	errEmptyDeviceID    = errors.New("device id is required")
	errInvalidStatsDate = errors.New("invalid date: want YYYY-MM-DD or RFC 3339")
	errInvalidDateRange = errors.New("invalid date range: start_date must be <= end_date")
)

type DeviceService struct {
	client transport.Client
}

func NewDeviceService(client transport.Client) *DeviceService {
	return &DeviceService{client: client}
}

func normalizeID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errEmptyDeviceID
	}
	return id, nil
}

func (s *DeviceService) Get(ctx context.Context, id string) (models.Device, error) {
	id, err := normalizeID(id)
	if err != nil {
		return models.Device{}, err
	}
	return s.client.GetDevice(ctx, id)
}

func (s *DeviceService) Status(ctx context.Context, id string) (models.DeviceStatus, error) {
	id, err := normalizeID(id)
	if err != nil {
		return nil, err
	}
	return s.client.GetDeviceStatus(ctx, id)
}

func (s *DeviceService) History(ctx context.Context, id string) ([]models.ValveControl, error) {
	id, err := normalizeID(id)
	if err != nil {
		return nil, err
	}
	return s.client.ValveHistory(ctx, id)
}

func (s *DeviceService) Stats(ctx context.Context, id string, f StatsFilter) (models.SensorStats, error) {
	id, err := normalizeID(id)
	if err != nil {
		return models.SensorStats{}, err
	}
	start, err := parseStatsDate(f.StartDate)
	if err != nil {
		return models.SensorStats{}, fmt.Errorf("start_date: %w", err)
	}
	end, err := parseStatsDate(f.EndDate)
	if err != nil {
		return models.SensorStats{}, fmt.Errorf("end_date: %w", err)
	}
	if !start.IsZero() && !end.IsZero() && start.After(end) {
		return models.SensorStats{}, errInvalidDateRange
	}
	return s.client.ReadingStats(ctx, id, transport.StatsFilter{
		StartDate: strings.TrimSpace(f.StartDate),
		EndDate:   strings.TrimSpace(f.EndDate),
	})
}

func parseStatsDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, errInvalidStatsDate
}

// IsValidation reports whether err came from request validation rather
// than the backend.
func IsValidation(err error) bool {
	return errors.Is(err, errEmptyDeviceID) ||
		errors.Is(err, errInvalidStatsDate) ||
		errors.Is(err, errInvalidDateRange) ||
		errors.Is(err, errInvalidTimeRange) ||
		errors.Is(err, errUnknownEventType)
}
