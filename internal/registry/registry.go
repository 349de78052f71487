package registry

import (
	"encoding/json"
	"sync"
	"time"

	"valve_dashboard/internal/logger"
	"valve_dashboard/internal/models"
	"valve_dashboard/internal/transport"
)

const errLoadDevicesPrefix = "failed to load devices: "

// Diff describes how a successful poll changed the set of device ids.
type Diff struct {
	Added    []string
	Removed  []string
	Retained []string
}

// Empty reports whether the poll added or removed nothing.
func (d Diff) Empty() bool { return len(d.Added) == 0 && len(d.Removed) == 0 }

// Snapshot is a copy of the registry's view state.
type Snapshot struct {
	Devices   []models.Device `json:"devices"`
	Loading   bool            `json:"loading"`         // no poll has completed yet
	Error     string          `json:"error,omitempty"` // last poll failed
	UpdatedAt time.Time       `json:"updated_at"`
}

// Registry holds the reconciled device list. Only the reconciliation path
// (ApplySuccess/ApplyFailure) writes to it.
type Registry struct {
	validator *recordValidator
	log       *logger.Logger

	mu        sync.RWMutex
	devices   []models.Device
	index     map[string]int
	loaded    bool
	errMsg    string
	updatedAt time.Time
}

// New returns an empty registry in the loading state.
func New(log *logger.Logger) (*Registry, error) {
	v, err := newRecordValidator()
	if err != nil {
		return nil, err
	}
	return &Registry{
		validator: v,
		log:       logger.OrNop(log),
		index:     map[string]int{},
	}, nil
}

// Reconcile turns a raw payload into the validated, de-duplicated device
// sequence in received order. It never fails; unusable records are dropped.
func (r *Registry) Reconcile(payload []byte) []models.Device {
	decoded := Decode(payload)
	if decoded.Shape == ShapeInvalid {
		r.log.Warnw("device_payload_invalid", "bytes", len(payload))
		return []models.Device{}
	}

	out := make([]models.Device, 0, len(decoded.Records))
	seen := make(map[string]struct{}, len(decoded.Records))
	for i, raw := range decoded.Records {
		d, ok := r.record(raw)
		if !ok {
			r.log.Debugw("device_record_dropped", "shape", decoded.Shape.String(), "index", i)
			continue
		}
		if _, dup := seen[d.ID]; dup {
			r.log.Debugw("device_record_duplicate", "id", d.ID, "index", i)
			continue
		}
		seen[d.ID] = struct{}{}
		out = append(out, d)
	}
	return out
}

func (r *Registry) record(raw json.RawMessage) (models.Device, bool) {
	if err := r.validator.Validate(raw); err != nil {
		return models.Device{}, false
	}
	d, err := toDevice(raw)
	if err != nil {
		return models.Device{}, false
	}
	return d, true
}

// ApplySuccess replaces the device list wholesale with the reconciled
// payload and clears any previous error.
func (r *Registry) ApplySuccess(payload []byte, at time.Time) Diff {
	next := r.Reconcile(payload)

	r.mu.Lock()
	defer r.mu.Unlock()

	nextIndex := make(map[string]int, len(next))
	var diff Diff
	for i, d := range next {
		nextIndex[d.ID] = i
		if _, ok := r.index[d.ID]; ok {
			diff.Retained = append(diff.Retained, d.ID)
		} else {
			diff.Added = append(diff.Added, d.ID)
		}
	}
	for _, d := range r.devices {
		if _, ok := nextIndex[d.ID]; !ok {
			diff.Removed = append(diff.Removed, d.ID)
		}
	}

	if r.errMsg != "" {
		r.log.Infow("device_poll_recovered", "devices", len(next))
	}
	r.devices = next
	r.index = nextIndex
	r.loaded = true
	r.errMsg = ""
	r.updatedAt = at
	return diff
}

// ApplyFailure empties the list and records a displayable error. The next
// successful poll clears it.
func (r *Registry) ApplyFailure(err error, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.devices = nil
	r.index = map[string]int{}
	r.loaded = true
	r.errMsg = errLoadDevicesPrefix + transport.Cause(err)
	r.updatedAt = at
}

// Snapshot returns a copy of the current state.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]models.Device, len(r.devices))
	copy(devices, r.devices)
	return Snapshot{
		Devices:   devices,
		Loading:   !r.loaded,
		Error:     r.errMsg,
		UpdatedAt: r.updatedAt,
	}
}

// Lookup returns the device with the given id from the last successful poll.
func (r *Registry) Lookup(id string) (models.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[id]
	if !ok {
		return models.Device{}, false
	}
	return r.devices[i], true
}

// IsOnline reports the device's online flag; unknown devices are offline.
func (r *Registry) IsOnline(id string) bool {
	d, ok := r.Lookup(id)
	return ok && d.IsOnline
}
