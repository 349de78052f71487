// Package session owns the state of one mounted dashboard: the device
// registry, its poll cycles, and the per-device valve machines, sensor
// trackers and containment boundaries.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"valve_dashboard/internal/logger"
	"valve_dashboard/internal/models"
	"valve_dashboard/internal/poller"
	"valve_dashboard/internal/registry"
	"valve_dashboard/internal/sensor"
	"valve_dashboard/internal/supervisor"
	"valve_dashboard/internal/transport"
	"valve_dashboard/internal/valve"
)

var (
	ErrNotMounted     = errors.New("dashboard is not mounted")
	ErrAlreadyMounted = errors.New("dashboard is already mounted")
	ErrUnknownDevice  = errors.New("unknown device")
)

const (
	DefaultDevicesInterval = 10 * time.Second
	DefaultSensorInterval  = 5 * time.Second
)

// Deps are the collaborators shared by every session of a Dashboard.
type Deps struct {
	Client          transport.Client
	Journal         valve.Recorder
	Clock           poller.Clock
	DevicesInterval time.Duration
	SensorInterval  time.Duration
	Log             *logger.Logger
}

// Dashboard is the mount point for sessions. At most one session is live;
// Reload swaps it for a fresh one.
type Dashboard struct {
	deps Deps
	log  *logger.Logger

	mu  sync.RWMutex
	cur *state
	gen uint64

	// renderCard is replaceable in tests to inject render faults.
	renderCard func(dev models.Device, u *unit, now time.Time) (Card, error)
}

// New validates deps and returns an unmounted dashboard.
func New(deps Deps) (*Dashboard, error) {
	if deps.Client == nil {
		return nil, errors.New("session: nil transport client")
	}
	if deps.Clock == nil {
		deps.Clock = poller.RealClock{}
	}
	if deps.DevicesInterval == 0 {
		deps.DevicesInterval = DefaultDevicesInterval
	}
	if deps.SensorInterval == 0 {
		deps.SensorInterval = DefaultSensorInterval
	}
	if deps.DevicesInterval < 0 || deps.SensorInterval < 0 {
		return nil, fmt.Errorf("%w: devices=%s sensor=%s", poller.ErrInvalidInterval, deps.DevicesInterval, deps.SensorInterval)
	}
	if deps.Journal == nil {
		deps.Journal = nopRecorder{}
	}
	return &Dashboard{
		deps:       deps,
		log:        logger.OrNop(deps.Log).Named("session"),
		renderCard: buildCard,
	}, nil
}

// Mount starts a session: the device-list cycle begins immediately and
// sensor cycles follow as devices appear.
func (d *Dashboard) Mount(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cur != nil {
		return ErrAlreadyMounted
	}
	return d.mountLocked(ctx)
}

func (d *Dashboard) mountLocked(ctx context.Context) error {
	d.gen++
	s, err := newState(d, d.gen)
	if err != nil {
		return err
	}
	if err := s.start(ctx); err != nil {
		return err
	}
	d.cur = s
	d.deps.Journal.Record(ctx, models.SessionEvent{
		OccurredAt:  d.deps.Clock.Now().UTC(),
		Type:        models.EventMount,
		Description: "dashboard mounted",
		Metadata:    map[string]any{"generation": s.gen},
	})
	d.log.Infow("dashboard_mounted", "generation", s.gen)
	return nil
}

// Unmount tears the session down. Once it returns no poll result issued by
// that session mutates anything. Commands already sent still complete on
// their machines.
func (d *Dashboard) Unmount() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unmountLocked()
}

func (d *Dashboard) unmountLocked() {
	s := d.cur
	if s == nil {
		return
	}
	d.cur = nil
	s.stop()
	d.deps.Journal.Record(context.Background(), models.SessionEvent{
		OccurredAt:  d.deps.Clock.Now().UTC(),
		Type:        models.EventUnmount,
		Description: "dashboard unmounted",
		Metadata:    map[string]any{"generation": s.gen},
	})
	d.log.Infow("dashboard_unmounted", "generation", s.gen)
}

// Reload replaces the current session with a fresh one. Faulted
// boundaries, valve states and readings start over.
func (d *Dashboard) Reload(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unmountLocked()
	return d.mountLocked(ctx)
}

// Retry asks for an immediate device-list poll.
func (d *Dashboard) Retry() error {
	s := d.current()
	if s == nil || !s.list.Trigger() {
		return ErrNotMounted
	}
	return nil
}

// Toggle flips the valve of device id.
func (d *Dashboard) Toggle(ctx context.Context, id string) (<-chan valve.State, error) {
	u, err := d.unit(id)
	if err != nil {
		return nil, err
	}
	return u.machine.Toggle(ctx)
}

// Command drives the valve of device id to target.
func (d *Dashboard) Command(ctx context.Context, id string, target valve.Position) (<-chan valve.State, error) {
	u, err := d.unit(id)
	if err != nil {
		return nil, err
	}
	return u.machine.Command(ctx, target)
}

// ValveState returns the current valve state of device id.
func (d *Dashboard) ValveState(id string) (valve.State, error) {
	u, err := d.unit(id)
	if err != nil {
		return valve.State{}, err
	}
	return u.machine.State(), nil
}

// Generation is the number of sessions mounted so far.
func (d *Dashboard) Generation() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.gen
}

func (d *Dashboard) current() *state {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cur
}

func (d *Dashboard) unit(id string) (*unit, error) {
	s := d.current()
	if s == nil {
		return nil, ErrNotMounted
	}
	u := s.lookup(id)
	if u == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	return u, nil
}

// unit is everything the session keeps per device id.
type unit struct {
	machine  *valve.Machine
	tracker  *sensor.Tracker
	cycle    *poller.Cycle[json.RawMessage]
	boundary *supervisor.Boundary
}

// state is one mounted session.
type state struct {
	d   *Dashboard
	gen uint64
	log *logger.Logger

	reg  *registry.Registry
	list *poller.Cycle[json.RawMessage]
	root *supervisor.Boundary

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	alive   bool
	failing bool
	units   map[string]*unit
}

func newState(d *Dashboard, gen uint64) (*state, error) {
	log := d.log.Named(fmt.Sprintf("gen%d", gen))
	reg, err := registry.New(log.Named("registry"))
	if err != nil {
		return nil, fmt.Errorf("init registry: %w", err)
	}
	s := &state{
		d:     d,
		gen:   gen,
		log:   log,
		reg:   reg,
		units: map[string]*unit{},
	}
	s.root = supervisor.NewBoundary("dashboard", supervisor.SinkFunc(s.reportFault))
	return s, nil
}

func (s *state) start(parent context.Context) error {
	s.ctx, s.cancel = context.WithCancel(parent)

	s.mu.Lock()
	s.alive = true
	s.mu.Unlock()

	list, err := poller.Start(s.ctx, poller.Options{
		Name:     "devices",
		Interval: s.d.deps.DevicesInterval,
		Clock:    s.d.deps.Clock,
		Log:      s.log,
	}, s.d.deps.Client.ListDevices, s.applyList)
	if err != nil {
		s.cancel()
		return fmt.Errorf("start device poll: %w", err)
	}
	s.list = list
	return nil
}

// applyList is the only path that writes the registry. It runs under the
// list cycle's lock, so completions never interleave.
func (s *state) applyList(r poller.Result[json.RawMessage]) {
	var events []models.SessionEvent

	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return
	}
	at := r.CompletedAt.UTC()
	if r.Err != nil {
		s.reg.ApplyFailure(r.Err, at)
		if !s.failing {
			s.failing = true
			s.log.Warnw("device_poll_failed", "seq", r.Seq, "err", r.Err)
			events = append(events, models.SessionEvent{
				OccurredAt:  at,
				Type:        models.EventPollFail,
				Description: transport.Cause(r.Err),
			})
		}
		s.mu.Unlock()
		s.record(events)
		return
	}

	diff := s.reg.ApplySuccess(r.Value, at)
	if s.failing {
		s.failing = false
		events = append(events, models.SessionEvent{
			OccurredAt:  at,
			Type:        models.EventPollHealed,
			Description: "device list recovered",
		})
	}
	// Units outlive a failed poll, so diff.Removed (taken against the emptied
	// registry) can miss them. Reconcile against the new id set instead.
	present := make(map[string]struct{}, len(diff.Added)+len(diff.Retained))
	for _, ids := range [][]string{diff.Added, diff.Retained} {
		for _, id := range ids {
			present[id] = struct{}{}
		}
	}
	var dropped []string
	for id := range s.units {
		if _, ok := present[id]; !ok {
			s.dropUnitLocked(id)
			dropped = append(dropped, id)
		}
	}
	for _, id := range diff.Added {
		if _, ok := s.units[id]; ok {
			continue
		}
		if err := s.addUnitLocked(id); err != nil {
			s.log.Errorw("sensor_poll_start_failed", "device", id, "err", err)
		}
	}
	if !diff.Empty() || len(dropped) > 0 {
		s.log.Debugw("device_set_changed", "added", diff.Added, "removed", dropped)
	}
	s.mu.Unlock()
	s.record(events)
}

func (s *state) addUnitLocked(id string) error {
	tracker := sensor.NewTracker(id, s.log.Named("sensor"))
	cycle, err := poller.Start(s.ctx, poller.Options{
		Name:     "sensor:" + id,
		Interval: s.d.deps.SensorInterval,
		Clock:    s.d.deps.Clock,
		Log:      s.log,
	}, func(ctx context.Context) (json.RawMessage, error) {
		return s.d.deps.Client.LatestReading(ctx, id)
	}, func(r poller.Result[json.RawMessage]) {
		tracker.Apply(r.Value, r.Err, r.CompletedAt)
	})
	if err != nil {
		return err
	}
	s.units[id] = &unit{
		machine: valve.NewMachine(id, valve.MachineDeps{
			Commander: s.d.deps.Client,
			Presence:  s.reg,
			Journal:   s.d.deps.Journal,
			Now:       s.d.deps.Clock.Now,
			Log:       s.log.Named("valve"),
		}),
		tracker:  tracker,
		cycle:    cycle,
		boundary: supervisor.NewBoundary("device:"+id, supervisor.SinkFunc(s.reportFault)),
	}
	return nil
}

func (s *state) dropUnitLocked(id string) {
	u, ok := s.units[id]
	if !ok {
		return
	}
	delete(s.units, id)
	u.cycle.Cancel()
}

func (s *state) lookup(id string) *unit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.units[id]
}

// stop cancels every cycle of the session. Results that arrive later are
// discarded by the cycles themselves and by the alive flag.
func (s *state) stop() {
	s.mu.Lock()
	s.alive = false
	units := s.units
	s.units = map[string]*unit{}
	s.mu.Unlock()

	s.list.Cancel()
	for _, u := range units {
		u.cycle.Cancel()
	}
	s.cancel()
}

func (s *state) reportFault(f *supervisor.RenderFault) {
	s.log.Errorw("render_fault", "boundary", f.Boundary, "panicked", f.Panicked, "err", f.Err)
	s.d.deps.Journal.Record(context.Background(), models.SessionEvent{
		OccurredAt:  s.d.deps.Clock.Now().UTC(),
		Type:        models.EventRenderFault,
		Description: f.Error(),
		Metadata:    map[string]any{"boundary": f.Boundary, "panicked": f.Panicked},
	})
}

func (s *state) record(events []models.SessionEvent) {
	ctx := context.WithoutCancel(s.ctx)
	for _, e := range events {
		s.d.deps.Journal.Record(ctx, e)
	}
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, models.SessionEvent) {}
