package models

import "time"

// Journal event types.
const (
	EventMount       = "MOUNT"
	EventUnmount     = "UNMOUNT"
	EventCommand     = "COMMAND"
	EventCommandOK   = "COMMAND_OK"
	EventCommandFail = "COMMAND_FAIL"
	EventPollFail    = "POLL_FAIL"
	EventPollHealed  = "POLL_HEALED"
	EventRenderFault = "RENDER_FAULT"
)

var eventTypes = map[string]struct{}{
	EventMount: {}, EventUnmount: {},
	EventCommand: {}, EventCommandOK: {}, EventCommandFail: {},
	EventPollFail: {}, EventPollHealed: {},
	EventRenderFault: {},
}

// KnownEventType reports whether t is one of the journal event types.
func KnownEventType(t string) bool {
	_, ok := eventTypes[t]
	return ok
}

// SessionEvent is a single entry of the in-session journal.
type SessionEvent struct {
	EventID     string    `json:"event_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Type        string    `json:"type"`
	DeviceID    string    `json:"device_id,omitempty"`
	Description string    `json:"description"` // human-readable
	Metadata    any       `json:"metadata,omitempty"`
}
