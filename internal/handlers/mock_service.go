package handlers

import (
	"context"

	"valve_dashboard/internal/models"
	"valve_dashboard/internal/service"
	"valve_dashboard/internal/session"
	"valve_dashboard/internal/valve"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

type mockDashboard struct {
	view    session.View
	viewErr error

	retryErr  error
	reloadErr error
	retries   int
	reloads   int

	state      valve.State
	commandErr error
	lastID     string
	lastTarget valve.Position
	lastWait   bool
	toggles    int
}

func (m *mockDashboard) View(ctx context.Context) (session.View, error) {
	return m.view, m.viewErr
}

func (m *mockDashboard) Retry(ctx context.Context) error {
	m.retries++
	return m.retryErr
}

func (m *mockDashboard) Reload(ctx context.Context) error {
	m.reloads++
	return m.reloadErr
}

func (m *mockDashboard) Toggle(ctx context.Context, id string, wait bool) (valve.State, error) {
	m.toggles++
	m.lastID = id
	m.lastWait = wait
	return m.state, m.commandErr
}

func (m *mockDashboard) Command(ctx context.Context, id string, target valve.Position, wait bool) (valve.State, error) {
	m.lastID = id
	m.lastTarget = target
	m.lastWait = wait
	return m.state, m.commandErr
}

type mockDevices struct {
	device  models.Device
	status  models.DeviceStatus
	history []models.ValveControl
	stats   models.SensorStats
	err     error

	lastID     string
	lastFilter service.StatsFilter
}

func (m *mockDevices) Get(ctx context.Context, id string) (models.Device, error) {
	m.lastID = id
	return m.device, m.err
}

func (m *mockDevices) Status(ctx context.Context, id string) (models.DeviceStatus, error) {
	m.lastID = id
	return m.status, m.err
}

func (m *mockDevices) History(ctx context.Context, id string) ([]models.ValveControl, error) {
	m.lastID = id
	return m.history, m.err
}

func (m *mockDevices) Stats(ctx context.Context, id string, f service.StatsFilter) (models.SensorStats, error) {
	m.lastID = id
	m.lastFilter = f
	return m.stats, m.err
}

type mockEventLog struct {
	resp       []models.SessionEvent
	err        error
	lastFilter service.LogFilter
	calls      int
}

func (m *mockEventLog) List(ctx context.Context, f service.LogFilter) ([]models.SessionEvent, error) {
	m.calls++
	m.lastFilter = f
	return m.resp, m.err
}

func (m *mockEventLog) Record(ctx context.Context, e models.SessionEvent) {}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, nil)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}
