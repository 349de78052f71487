package models

import "time"

// Device is one valve actuator as reported by the backend device list.
type Device struct {
	ID        string    `json:"id"`         // opaque, stable across polls
	Name      string    `json:"name"`       // display name
	DeviceID  string    `json:"device_id"`  // physical identifier, e.g. ESP32 MAC
	IPAddress string    `json:"ip_address"` // network address
	IsOnline  bool      `json:"is_online"`
	CreatedAt time.Time `json:"created_at"` // registration time
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// DeviceStatus is the loose status document returned by /devices/{id}/status/.
// The backend proxies whatever the device answers, so unknown keys are kept.
type DeviceStatus map[string]any
