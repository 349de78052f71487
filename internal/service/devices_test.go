package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"valve_dashboard/internal/models"
	"valve_dashboard/internal/transport"
)

// stubClient records the ids and filters it is called with.
type stubClient struct {
	gotID     string
	gotFilter transport.StatsFilter
	stats     models.SensorStats
	err       error
	calls     int
}

func (s *stubClient) ListDevices(ctx context.Context) (json.RawMessage, error) {
	return json.RawMessage(`[]`), nil
}

func (s *stubClient) GetDevice(ctx context.Context, id string) (models.Device, error) {
	s.calls++
	s.gotID = id
	return models.Device{ID: id, Name: "Tank"}, s.err
}

func (s *stubClient) GetDeviceStatus(ctx context.Context, id string) (models.DeviceStatus, error) {
	s.calls++
	s.gotID = id
	return models.DeviceStatus{"is_online": true}, s.err
}

func (s *stubClient) OpenValve(ctx context.Context, id string) error  { return s.err }
func (s *stubClient) CloseValve(ctx context.Context, id string) error { return s.err }

func (s *stubClient) LatestReading(ctx context.Context, id string) (json.RawMessage, error) {
	return nil, transport.ErrNotFound
}

func (s *stubClient) ReadingStats(ctx context.Context, id string, f transport.StatsFilter) (models.SensorStats, error) {
	s.calls++
	s.gotID = id
	s.gotFilter = f
	return s.stats, s.err
}

func (s *stubClient) ValveHistory(ctx context.Context, id string) ([]models.ValveControl, error) {
	s.calls++
	s.gotID = id
	return []models.ValveControl{{ID: 1, Status: "open"}}, s.err
}

func TestDeviceService_TrimsAndRequiresID(t *testing.T) {
	t.Parallel()

	c := &stubClient{}
	svc := NewDeviceService(c)

	if _, err := svc.Get(context.Background(), "  "); !errors.Is(err, errEmptyDeviceID) {
		t.Fatalf("expected errEmptyDeviceID, got %v", err)
	}
	if c.calls != 0 {
		t.Fatalf("client must not be called for an empty id")
	}

	d, err := svc.Get(context.Background(), " 12 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.gotID != "12" || d.ID != "12" {
		t.Fatalf("id not trimmed: got %q", c.gotID)
	}
}

func TestDeviceService_PassesBackendErrorsThrough(t *testing.T) {
	t.Parallel()

	c := &stubClient{err: transport.ErrNotFound}
	svc := NewDeviceService(c)

	if _, err := svc.Status(context.Background(), "9"); !errors.Is(err, transport.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.History(context.Background(), "9"); !errors.Is(err, transport.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeviceService_Stats(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      StatsFilter
		wantErr error
		want    transport.StatsFilter
	}{
		{name: "no bounds", in: StatsFilter{}},
		{
			name: "date only",
			in:   StatsFilter{StartDate: "2025-01-01", EndDate: " 2025-01-31 "},
			want: transport.StatsFilter{StartDate: "2025-01-01", EndDate: "2025-01-31"},
		},
		{
			name: "rfc3339",
			in:   StatsFilter{StartDate: "2025-01-01T10:00:00+02:00"},
			want: transport.StatsFilter{StartDate: "2025-01-01T10:00:00+02:00"},
		},
		{name: "bad date", in: StatsFilter{EndDate: "tomorrow"}, wantErr: errInvalidStatsDate},
		{name: "reversed", in: StatsFilter{StartDate: "2025-02-01", EndDate: "2025-01-01"}, wantErr: errInvalidDateRange},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := &stubClient{stats: models.SensorStats{DeviceID: "4", TotalReadings: 3}}
			svc := NewDeviceService(c)

			got, err := svc.Stats(context.Background(), "4", tc.in)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v; got %v", tc.wantErr, err)
			}
			if tc.wantErr != nil {
				if c.calls != 0 {
					t.Fatalf("client must not be called on validation error")
				}
				if !IsValidation(err) {
					t.Fatalf("IsValidation(%v) = false", err)
				}
				return
			}
			if c.gotFilter != tc.want {
				t.Fatalf("filter: got %+v; want %+v", c.gotFilter, tc.want)
			}
			if got.TotalReadings != 3 {
				t.Fatalf("unexpected stats %+v", got)
			}
		})
	}
}
