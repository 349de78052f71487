package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"valve_dashboard/internal/models"
	"valve_dashboard/internal/sensor"
	"valve_dashboard/internal/supervisor"
	"valve_dashboard/internal/transport"
	"valve_dashboard/internal/valve"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// ---- Test doubles ----

// fakeClient serves list and sensor fetches from queues of gated
// responses. An empty queue falls back to the default response.
type fakeClient struct {
	mu sync.Mutex

	listDefault json.RawMessage
	listQueue   []chan listReply
	listCalls   int

	latest      map[string]json.RawMessage
	latestErr   error
	latestGate  chan struct{}
	latestCalls int

	openErr error
	opened  []string
}

type listReply struct {
	body json.RawMessage
	err  error
}

func newFakeClient(list string) *fakeClient {
	return &fakeClient{listDefault: json.RawMessage(list), latest: map[string]json.RawMessage{}}
}

// gateList makes the next list fetch block until the returned channel
// receives its reply.
func (f *fakeClient) gateList() chan listReply {
	ch := make(chan listReply, 1)
	f.mu.Lock()
	f.listQueue = append(f.listQueue, ch)
	f.mu.Unlock()
	return ch
}

func (f *fakeClient) ListDevices(ctx context.Context) (json.RawMessage, error) {
	f.mu.Lock()
	f.listCalls++
	if len(f.listQueue) == 0 {
		body := f.listDefault
		f.mu.Unlock()
		return body, nil
	}
	ch := f.listQueue[0]
	f.listQueue = f.listQueue[1:]
	f.mu.Unlock()

	r := <-ch
	return r.body, r.err
}

func (f *fakeClient) LatestReading(ctx context.Context, id string) (json.RawMessage, error) {
	f.mu.Lock()
	f.latestCalls++
	gate := f.latestGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latestErr != nil {
		return nil, f.latestErr
	}
	body, ok := f.latest[id]
	if !ok {
		return nil, transport.ErrNotFound
	}
	return body, nil
}

func (f *fakeClient) OpenValve(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, id)
	return f.openErr
}

func (f *fakeClient) CloseValve(ctx context.Context, id string) error { return nil }

func (f *fakeClient) GetDevice(ctx context.Context, id string) (models.Device, error) {
	return models.Device{}, transport.ErrNotFound
}

func (f *fakeClient) GetDeviceStatus(ctx context.Context, id string) (models.DeviceStatus, error) {
	return nil, transport.ErrNotFound
}

func (f *fakeClient) ReadingStats(ctx context.Context, id string, _ transport.StatsFilter) (models.SensorStats, error) {
	return models.SensorStats{}, nil
}

func (f *fakeClient) ValveHistory(ctx context.Context, id string) ([]models.ValveControl, error) {
	return nil, nil
}

func (f *fakeClient) calls() (list, latest int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls, f.latestCalls
}

type journal struct {
	mu     sync.Mutex
	events []models.SessionEvent
}

func (j *journal) Record(_ context.Context, e models.SessionEvent) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
}

func (j *journal) types() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, 0, len(j.events))
	for _, e := range j.events {
		out = append(out, e.Type)
	}
	return out
}

func (j *journal) count(typ string) int {
	n := 0
	for _, t := range j.types() {
		if t == typ {
			n++
		}
	}
	return n
}

// newDashboard mounts a dashboard whose intervals never tick during a
// test; extra polls are issued with Retry.
func newDashboard(t *testing.T, c *fakeClient) (*Dashboard, *journal) {
	t.Helper()
	j := &journal{}
	d, err := New(Deps{
		Client:          c,
		Journal:         j,
		DevicesInterval: time.Hour,
		SensorInterval:  time.Hour,
	})
	require.NoError(t, err)
	require.NoError(t, d.Mount(context.Background()))
	t.Cleanup(d.Unmount)
	return d, j
}

func view(t *testing.T, d *Dashboard) View {
	t.Helper()
	v, err := d.View(time.Now())
	require.NoError(t, err)
	return v
}

func waitState(t *testing.T, d *Dashboard, want ListState) View {
	t.Helper()
	var v View
	require.Eventually(t, func() bool {
		v = view(t, d)
		return v.State == want
	}, waitFor, tick, "list state never became %s", want)
	return v
}

const oneTank = `{"results":[{"id":1,"name":"Tank A","device_id":"esp-1","is_online":true}]}`

// ---- Tests ----

func TestNew_RequiresClient(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)
}

func TestMount_LoadsDevicesIntoCards(t *testing.T) {
	c := newFakeClient(oneTank)
	d, j := newDashboard(t, c)

	v := waitState(t, d, ListReady)
	require.Len(t, v.Devices, 1)
	card := v.Devices[0].Card
	require.NotNil(t, card)
	assert.Equal(t, "Tank A", card.Device.Name)
	assert.True(t, card.Device.IsOnline)
	assert.Equal(t, valve.PhaseClosed, card.Valve.Phase)
	assert.True(t, card.CanToggle)
	assert.Equal(t, uint64(1), v.Generation)
	assert.Contains(t, j.types(), models.EventMount)

	require.ErrorIs(t, d.Mount(context.Background()), ErrAlreadyMounted)
}

func TestSensorNotFound_ShowsWaitingWithoutError(t *testing.T) {
	c := newFakeClient(oneTank)
	d, _ := newDashboard(t, c)

	require.Eventually(t, func() bool {
		v := view(t, d)
		return len(v.Devices) == 1 && v.Devices[0].Card.Sensor.Kind == sensor.KindWaiting
	}, waitFor, tick)
	v := view(t, d)
	assert.Empty(t, v.Error)
	assert.Equal(t, ListReady, v.State)
}

func TestSensorReading_ShowsFresh(t *testing.T) {
	c := newFakeClient(oneTank)
	c.latest["1"] = json.RawMessage(`{"flow_rate":2.5,"total_volume":10,"timestamp":"2025-01-01T00:00:00Z"}`)
	d, _ := newDashboard(t, c)

	require.Eventually(t, func() bool {
		v := view(t, d)
		return len(v.Devices) == 1 && v.Devices[0].Card.Sensor.Kind == sensor.KindFresh
	}, waitFor, tick)
	r := view(t, d).Devices[0].Card.Sensor.Reading
	require.NotNil(t, r)
	assert.InDelta(t, 2.5, r.FlowRate, 1e-9)
}

// A poll that started before a toggle and completes after the command was
// acknowledged must not reset the valve.
func TestToggle_ConcurrentPollDoesNotResetValve(t *testing.T) {
	c := newFakeClient(oneTank)
	d, _ := newDashboard(t, c)
	waitState(t, d, ListReady)

	slow := c.gateList()
	require.NoError(t, d.Retry())
	require.Eventually(t, func() bool { l, _ := c.calls(); return l == 2 }, waitFor, tick)

	done, err := d.Toggle(context.Background(), "1")
	require.NoError(t, err)
	st, err := d.ValveState("1")
	require.NoError(t, err)
	if st.Phase != valve.PhaseOpen { // may already be acknowledged
		assert.Equal(t, valve.PhasePending, st.Phase)
		assert.Equal(t, valve.Open, st.Target)
	}
	final := <-done
	assert.Equal(t, valve.PhaseOpen, final.Phase)

	slow <- listReply{body: json.RawMessage(oneTank)}
	require.Eventually(t, func() bool { return d.current().list.LastApplied() == 2 }, waitFor, tick)

	st, err = d.ValveState("1")
	require.NoError(t, err)
	assert.Equal(t, valve.PhaseOpen, st.Phase)
	assert.Equal(t, valve.Open, st.Commanded)
}

func TestToggle_Rejections(t *testing.T) {
	c := newFakeClient(`[{"id":"a","name":"Offline","is_online":false}]`)
	d, _ := newDashboard(t, c)
	waitState(t, d, ListReady)

	_, err := d.Toggle(context.Background(), "a")
	require.ErrorIs(t, err, valve.ErrDeviceOffline)
	assert.False(t, view(t, d).Devices[0].Card.CanToggle)

	_, err = d.Toggle(context.Background(), "missing")
	require.ErrorIs(t, err, ErrUnknownDevice)

	c.mu.Lock()
	assert.Empty(t, c.opened)
	c.mu.Unlock()
}

func TestCommand_FailureKeepsCause(t *testing.T) {
	c := newFakeClient(oneTank)
	c.openErr = &transport.RejectedError{StatusCode: 500, Message: "relay fault"}
	d, j := newDashboard(t, c)
	waitState(t, d, ListReady)

	done, err := d.Command(context.Background(), "1", valve.Open)
	require.NoError(t, err)
	final := <-done
	assert.Equal(t, valve.PhaseError, final.Phase)
	assert.Equal(t, "relay fault", final.LastError)
	assert.Equal(t, 1, j.count(models.EventCommandFail))
}

func TestListFailure_ThenHeal(t *testing.T) {
	c := newFakeClient(oneTank)
	d, j := newDashboard(t, c)
	waitState(t, d, ListReady)

	failed := c.gateList()
	require.NoError(t, d.Retry())
	failed <- listReply{err: transport.ErrNetworkUnavailable}
	v := waitState(t, d, ListError)
	assert.Equal(t, "failed to load devices: backend unreachable", v.Error)
	assert.Empty(t, v.Devices)

	// Machines survive a failed poll, but the device reads as offline.
	_, err := d.Toggle(context.Background(), "1")
	require.ErrorIs(t, err, valve.ErrDeviceOffline)

	require.NoError(t, d.Retry())
	v = waitState(t, d, ListReady)
	assert.Empty(t, v.Error)
	assert.Len(t, v.Devices, 1)
	assert.Equal(t, 1, j.count(models.EventPollFail))
	assert.Equal(t, 1, j.count(models.EventPollHealed))
}

func TestRemovedDevice_DropsUnit(t *testing.T) {
	c := newFakeClient(`[{"id":1,"name":"A","is_online":true},{"id":2,"name":"B","is_online":true}]`)
	d, _ := newDashboard(t, c)
	v := waitState(t, d, ListReady)
	require.Len(t, v.Devices, 2)

	next := c.gateList()
	require.NoError(t, d.Retry())
	next <- listReply{body: json.RawMessage(`[{"id":2,"name":"B","is_online":true}]`)}

	require.Eventually(t, func() bool { return len(view(t, d).Devices) == 1 }, waitFor, tick)
	_, err := d.ValveState("1")
	require.ErrorIs(t, err, ErrUnknownDevice)
	_, err = d.ValveState("2")
	require.NoError(t, err)
}

func (s *state) unitCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.units)
}

func TestRemovedDuringOutage_DropsUnitAndRestartsClosed(t *testing.T) {
	const both = `[{"id":1,"name":"A","is_online":true},{"id":2,"name":"B","is_online":true}]`
	c := newFakeClient(both)
	d, _ := newDashboard(t, c)
	waitState(t, d, ListReady)

	done, err := d.Command(context.Background(), "1", valve.Open)
	require.NoError(t, err)
	require.Equal(t, valve.PhaseOpen, (<-done).Phase)

	failed := c.gateList()
	require.NoError(t, d.Retry())
	failed <- listReply{err: transport.ErrNetworkUnavailable}
	waitState(t, d, ListError)
	assert.Equal(t, 2, d.current().unitCount(), "units outlive a failed poll")

	healed := c.gateList()
	require.NoError(t, d.Retry())
	healed <- listReply{body: json.RawMessage(`[{"id":2,"name":"B","is_online":true}]`)}
	require.Eventually(t, func() bool {
		_, err := d.ValveState("1")
		return errors.Is(err, ErrUnknownDevice)
	}, waitFor, tick)
	assert.Equal(t, 1, d.current().unitCount())

	require.NoError(t, d.Retry())
	require.Eventually(t, func() bool { return len(view(t, d).Devices) == 2 }, waitFor, tick)
	st, err := d.ValveState("1")
	require.NoError(t, err)
	assert.Equal(t, valve.PhaseClosed, st.Phase)
	assert.Equal(t, valve.Closed, st.Commanded)
}

// Fetches issued before Unmount must not mutate anything once they return.
func TestUnmount_DiscardsInFlightFetches(t *testing.T) {
	c := newFakeClient(oneTank)
	j := &journal{}
	d, err := New(Deps{Client: c, Journal: j, DevicesInterval: time.Hour, SensorInterval: time.Hour})
	require.NoError(t, err)

	first := c.gateList()
	require.NoError(t, d.Mount(context.Background()))
	s := d.current()
	require.Eventually(t, func() bool { l, _ := c.calls(); return l == 1 }, waitFor, tick)

	d.Unmount()
	first <- listReply{body: json.RawMessage(oneTank)}
	s.list.Wait()

	snap := s.reg.Snapshot()
	assert.True(t, snap.Loading)
	assert.Empty(t, snap.Devices)
	assert.Empty(t, s.units)
	assert.False(t, s.list.Alive())

	_, err = d.View(time.Now())
	require.ErrorIs(t, err, ErrNotMounted)
	require.ErrorIs(t, d.Retry(), ErrNotMounted)
	assert.Equal(t, 1, j.count(models.EventUnmount))
}

func TestUnmount_DiscardsInFlightSensorFetch(t *testing.T) {
	c := newFakeClient(oneTank)
	c.latest["1"] = json.RawMessage(`{"flow_rate":1}`)
	gate := make(chan struct{})
	c.latestGate = gate

	d, err := New(Deps{Client: c, DevicesInterval: time.Hour, SensorInterval: time.Hour})
	require.NoError(t, err)
	require.NoError(t, d.Mount(context.Background()))
	s := d.current()

	require.Eventually(t, func() bool { _, n := c.calls(); return n == 1 }, waitFor, tick)
	u := s.lookup("1")
	require.NotNil(t, u)

	d.Unmount()
	close(gate)
	u.cycle.Wait()

	assert.Equal(t, sensor.KindLoading, u.tracker.View(time.Now()).Kind)
}

func TestCardFault_IsContainedUntilReload(t *testing.T) {
	c := newFakeClient(`[{"id":1,"name":"A","is_online":true},{"id":2,"name":"B","is_online":true}]`)
	d, j := newDashboard(t, c)
	d.renderCard = func(dev models.Device, u *unit, now time.Time) (Card, error) {
		if dev.ID == "2" {
			panic("bad card")
		}
		return buildCard(dev, u, now)
	}

	v := waitState(t, d, ListReady)
	require.Len(t, v.Devices, 2)
	assert.NotNil(t, v.Devices[0].Card)
	require.NotNil(t, v.Devices[1].Fallback)
	assert.Equal(t, supervisor.ActionReload, v.Devices[1].Fallback.Action)
	assert.Equal(t, "device:2", v.Devices[1].Fallback.Boundary)
	assert.Nil(t, v.Fallback)

	// Stays faulted on later renders, reported once.
	view(t, d)
	assert.Equal(t, 1, j.count(models.EventRenderFault))

	d.renderCard = buildCard
	require.NoError(t, d.Reload(context.Background()))
	v = waitState(t, d, ListReady)
	assert.Equal(t, uint64(2), v.Generation)
	for _, cv := range v.Devices {
		assert.NotNil(t, cv.Card, cv.ID)
	}
}

func TestDashboardFault_ReplacesWholeView(t *testing.T) {
	c := newFakeClient(oneTank)
	d, j := newDashboard(t, c)
	waitState(t, d, ListReady)

	s := d.current()
	// Faulting the root boundary directly, as a failing render would.
	_, fb := supervisor.Guard(s.root, func() (View, error) { return View{}, errors.New("layout broke") })
	require.NotNil(t, fb)

	v := view(t, d)
	require.NotNil(t, v.Fallback)
	assert.Equal(t, "dashboard", v.Fallback.Boundary)
	assert.Empty(t, v.Devices)
	assert.Equal(t, 1, j.count(models.EventRenderFault))
}
