package valve

import (
	"context"
	"fmt"
	"sync"
	"time"

	"valve_dashboard/internal/logger"
	"valve_dashboard/internal/models"
	"valve_dashboard/internal/transport"
)

// Commander sends valve commands to the backend.
type Commander interface {
	OpenValve(ctx context.Context, id string) error
	CloseValve(ctx context.Context, id string) error
}

// Presence answers whether a device is currently reported online.
type Presence interface {
	IsOnline(id string) bool
}

// Recorder receives journal entries for commands and their outcomes.
type Recorder interface {
	Record(ctx context.Context, e models.SessionEvent)
}

// Machine owns the ValveCommandState of one device.
type Machine struct {
	deviceID string
	cmd      Commander
	presence Presence
	journal  Recorder
	now      func() time.Time
	log      *logger.Logger

	mu    sync.Mutex
	state State

	inflight sync.WaitGroup
}

// MachineDeps groups a machine's collaborators. Journal, Now and Log are
// optional.
type MachineDeps struct {
	Commander Commander
	Presence  Presence
	Journal   Recorder
	Now       func() time.Time
	Log       *logger.Logger
}

// NewMachine returns a machine in the initial Closed state.
func NewMachine(deviceID string, deps MachineDeps) *Machine {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Machine{
		deviceID: deviceID,
		cmd:      deps.Commander,
		presence: deps.Presence,
		journal:  deps.Journal,
		now:      now,
		log:      logger.OrNop(deps.Log),
		state:    Initial(now().UTC()),
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Toggle commands the opposite of the commanded position. After a failure
// this re-attempts the failed target, since Commanded did not move.
func (m *Machine) Toggle(ctx context.Context) (<-chan State, error) {
	return m.command(ctx, func(s State) Position { return s.Commanded.Opposite() })
}

// Command moves the machine to Pending(target) and sends the command in the
// background. It is rejected without a network call while a command is in
// flight or the device is offline. The returned channel receives the final
// state once and is then closed. The command is not cancelled when ctx is.
func (m *Machine) Command(ctx context.Context, target Position) (<-chan State, error) {
	return m.command(ctx, func(State) Position { return target })
}

// command picks the target from the state it transitions, under one lock.
func (m *Machine) command(ctx context.Context, pick func(State) Position) (<-chan State, error) {
	online := m.presence != nil && m.presence.IsOnline(m.deviceID)

	m.mu.Lock()
	target := pick(m.state)
	next, err := Transition(m.state, Event{Kind: EventRequest, Target: target, Online: online, At: m.now().UTC()})
	if err != nil {
		m.mu.Unlock()
		m.log.Debugw("valve_command_rejected", "device", m.deviceID, "target", target, "err", err)
		return nil, err
	}
	m.state = next
	m.inflight.Add(1)
	m.mu.Unlock()

	cmdCtx := context.WithoutCancel(ctx)
	m.record(cmdCtx, models.EventCommand, fmt.Sprintf("valve %s requested", target), map[string]any{"target": target})

	done := make(chan State, 1)
	go m.send(cmdCtx, target, done)
	return done, nil
}

func (m *Machine) send(ctx context.Context, target Position, done chan<- State) {
	defer m.inflight.Done()
	defer close(done)

	err := m.call(ctx, target)

	ev := Event{Kind: EventSucceeded, At: m.now().UTC()}
	if err != nil {
		ev = Event{Kind: EventFailed, Cause: transport.Cause(err), At: ev.At}
	}

	m.mu.Lock()
	next, terr := Transition(m.state, ev)
	if terr == nil {
		m.state = next
	}
	final := m.state
	m.mu.Unlock()

	if terr != nil {
		m.log.Errorw("valve_transition_failed", "device", m.deviceID, "err", terr)
	}
	if err != nil {
		m.log.Warnw("valve_command_failed", "device", m.deviceID, "target", target, "err", err)
		m.record(ctx, models.EventCommandFail, final.LastError, map[string]any{"target": target})
	} else {
		m.log.Infow("valve_command_acknowledged", "device", m.deviceID, "target", target)
		m.record(ctx, models.EventCommandOK, fmt.Sprintf("valve %s", target), map[string]any{"target": target})
	}
	done <- final
}

// call sends the command, turning a panicking commander into a failure.
func (m *Machine) call(ctx context.Context, target Position) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("valve command panicked: %v", r)
		}
	}()
	if target == Open {
		return m.cmd.OpenValve(ctx, m.deviceID)
	}
	return m.cmd.CloseValve(ctx, m.deviceID)
}

func (m *Machine) record(ctx context.Context, typ, desc string, meta map[string]any) {
	if m.journal == nil {
		return
	}
	m.journal.Record(ctx, models.SessionEvent{
		OccurredAt:  m.now().UTC(),
		Type:        typ,
		DeviceID:    m.deviceID,
		Description: desc,
		Metadata:    meta,
	})
}

// Wait blocks until no command is in flight.
func (m *Machine) Wait() { m.inflight.Wait() }

// DeviceID returns the id of the device this machine controls.
func (m *Machine) DeviceID() string { return m.deviceID }
