package sensor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"valve_dashboard/internal/logger"
	"valve_dashboard/internal/models"
	"valve_dashboard/internal/transport"
)

// Kind classifies the latest sensor fetch outcome.
type Kind string

const (
	KindLoading    Kind = "loading"    // first fetch not completed
	KindWaiting    Kind = "waiting"    // backend has no reading yet
	KindFresh      Kind = "fresh"      // reading available
	KindSuppressed Kind = "suppressed" // transient outage, retried next cycle
)

// View is the derived display state at a given instant.
type View struct {
	Kind     Kind                  `json:"kind"`
	Reading  *models.SensorReading `json:"reading,omitempty"`
	Age      time.Duration         `json:"age_ns,omitempty"`
	AgeLabel string                `json:"age,omitempty"`
}

// Tracker owns one device's SensorSnapshot. Only Apply writes to it.
type Tracker struct {
	deviceID string
	log      *logger.Logger

	mu      sync.RWMutex
	kind    Kind
	reading *models.SensorReading
}

// NewTracker returns a tracker in the loading state.
func NewTracker(deviceID string, log *logger.Logger) *Tracker {
	return &Tracker{deviceID: deviceID, log: logger.OrNop(log), kind: KindLoading}
}

// Apply records one fetch outcome.
//
// A 404, an empty body or an unusable reading mean "no reading yet". Any
// other failure keeps the last good reading and is never shown as an error.
func (t *Tracker) Apply(body json.RawMessage, err error, fetchedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case err == nil:
		r, perr := parseReading(body)
		if perr != nil {
			t.log.Debugw("sensor_reading_unusable", "device", t.deviceID, "err", perr)
			t.kind, t.reading = KindWaiting, nil
			return
		}
		r.FetchedAt = fetchedAt.UTC()
		t.kind, t.reading = KindFresh, &r
	case transport.IsNotFound(err):
		t.kind, t.reading = KindWaiting, nil
	default:
		t.log.Debugw("sensor_fetch_suppressed", "device", t.deviceID, "err", err)
		t.kind = KindSuppressed
	}
}

// View derives the display state at now. Age is recomputed on every call.
func (t *Tracker) View(now time.Time) View {
	t.mu.RLock()
	defer t.mu.RUnlock()

	v := View{Kind: t.kind}
	if t.reading != nil {
		r := *t.reading
		v.Reading = &r
		v.Age = Age(now, r.FetchedAt)
		v.AgeLabel = AgeLabel(v.Age)
	}
	return v
}

// Age is now - fetchedAt, floored at zero.
func Age(now, fetchedAt time.Time) time.Duration {
	if d := now.Sub(fetchedAt); d > 0 {
		return d
	}
	return 0
}

// AgeLabel renders an age as whole seconds below a minute, else whole
// minutes.
func AgeLabel(age time.Duration) string {
	secs := int64(age / time.Second)
	if secs < 60 {
		return fmt.Sprintf("%ds ago", secs)
	}
	return fmt.Sprintf("%dm ago", secs/60)
}

type wireReading struct {
	FlowRate    *float64 `json:"flow_rate"`
	TotalVolume *float64 `json:"total_volume"`
	Timestamp   *string  `json:"timestamp"`
}

// parseReading accepts {flow_rate, total_volume, timestamp}. flow_rate is
// required and non-negative; a missing total_volume reads as zero.
func parseReading(body json.RawMessage) (models.SensorReading, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return models.SensorReading{}, fmt.Errorf("%w: empty body", transport.ErrMalformedPayload)
	}
	var w wireReading
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return models.SensorReading{}, fmt.Errorf("%w: %v", transport.ErrMalformedPayload, err)
	}
	if w.FlowRate == nil {
		return models.SensorReading{}, fmt.Errorf("%w: missing flow_rate", transport.ErrMalformedPayload)
	}
	if *w.FlowRate < 0 {
		return models.SensorReading{}, fmt.Errorf("%w: negative flow_rate %v", transport.ErrMalformedPayload, *w.FlowRate)
	}

	r := models.SensorReading{FlowRate: *w.FlowRate}
	if w.TotalVolume != nil {
		r.TotalVolume = *w.TotalVolume
	}
	if w.Timestamp != nil {
		if ts, err := time.Parse(time.RFC3339Nano, *w.Timestamp); err == nil {
			r.Timestamp = ts.UTC()
		}
	}
	return r, nil
}
