package session

import (
	"errors"
	"time"

	"valve_dashboard/internal/models"
	"valve_dashboard/internal/sensor"
	"valve_dashboard/internal/supervisor"
	"valve_dashboard/internal/valve"
)

// ListState is the device list's display state.
type ListState string

const (
	ListLoading ListState = "loading"
	ListError   ListState = "error"
	ListEmpty   ListState = "empty"
	ListReady   ListState = "ready"
)

// Card is one device's rendered state.
type Card struct {
	Device models.Device `json:"device"`
	Valve  valve.State   `json:"valve"`
	Sensor sensor.View   `json:"sensor"`
	// CanToggle is false while a command is in flight or the device is offline.
	CanToggle bool `json:"can_toggle"`
}

// CardView holds either a card or the fallback of its faulted boundary.
type CardView struct {
	ID       string               `json:"id"`
	Card     *Card                `json:"card,omitempty"`
	Fallback *supervisor.Fallback `json:"fallback,omitempty"`
}

// View is the dashboard view model at one instant.
type View struct {
	Generation uint64               `json:"generation"`
	State      ListState            `json:"state"`
	Error      string               `json:"error,omitempty"`
	Devices    []CardView           `json:"devices"`
	UpdatedAt  time.Time            `json:"updated_at"`
	RenderedAt time.Time            `json:"rendered_at"`
	Fallback   *supervisor.Fallback `json:"fallback,omitempty"`
}

var errMissingUnit = errors.New("device state not initialised")

// View renders the current session. Each card renders inside its own
// boundary and the whole list inside the dashboard boundary, so a faulted
// card only replaces itself.
func (d *Dashboard) View(now time.Time) (View, error) {
	s := d.current()
	if s == nil {
		return View{}, ErrNotMounted
	}

	v, fb := supervisor.Guard(s.root, func() (View, error) {
		return s.render(now)
	})
	if fb != nil {
		return View{Generation: s.gen, RenderedAt: now.UTC(), Devices: []CardView{}, Fallback: fb}, nil
	}
	return v, nil
}

func (s *state) render(now time.Time) (View, error) {
	// The registry and the unit set change together under s.mu.
	s.mu.RLock()
	snap := s.reg.Snapshot()
	units := make(map[string]*unit, len(snap.Devices))
	for _, dev := range snap.Devices {
		units[dev.ID] = s.units[dev.ID]
	}
	s.mu.RUnlock()

	v := View{
		Generation: s.gen,
		Error:      snap.Error,
		UpdatedAt:  snap.UpdatedAt,
		RenderedAt: now.UTC(),
		Devices:    make([]CardView, 0, len(snap.Devices)),
	}
	switch {
	case snap.Loading:
		v.State = ListLoading
	case snap.Error != "":
		v.State = ListError
	case len(snap.Devices) == 0:
		v.State = ListEmpty
	default:
		v.State = ListReady
	}

	for _, dev := range snap.Devices {
		u := units[dev.ID]
		if u == nil {
			continue // sensor cycle failed to start
		}
		cv := CardView{ID: dev.ID}
		card, fb := supervisor.Guard(u.boundary, func() (Card, error) {
			return s.d.renderCard(dev, u, now)
		})
		if fb != nil {
			cv.Fallback = fb
		} else {
			cv.Card = &card
		}
		v.Devices = append(v.Devices, cv)
	}
	return v, nil
}

func buildCard(dev models.Device, u *unit, now time.Time) (Card, error) {
	if u.machine == nil || u.tracker == nil {
		return Card{}, errMissingUnit
	}
	st := u.machine.State()
	return Card{
		Device:    dev,
		Valve:     st,
		Sensor:    u.tracker.View(now),
		CanToggle: dev.IsOnline && !st.Pending,
	}, nil
}
