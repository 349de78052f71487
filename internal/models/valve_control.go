package models

import "time"

// ValveControl is one entry of the backend's valve command history.
type ValveControl struct {
	ID         int       `json:"id"`
	Device     int       `json:"device"`
	DeviceName string    `json:"device_name"`
	Status     string    `json:"status"` // open | closed
	Timestamp  time.Time `json:"timestamp"`
	Duration   *int      `json:"duration,omitempty"` // seconds
}
