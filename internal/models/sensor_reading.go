package models

import "time"

// SensorReading is the latest flow-sensor sample for a device.
type SensorReading struct {
	FlowRate    float64   `json:"flow_rate"`    // L/min
	TotalVolume float64   `json:"total_volume"` // L, cumulative
	Timestamp   time.Time `json:"timestamp"`    // backend reading time
	FetchedAt   time.Time `json:"fetched_at"`   // client receive time
}

// SensorStats is the aggregate returned by /sensor-readings/stats/.
type SensorStats struct {
	DeviceID      string  `json:"device_id"`
	CurrentVolume float64 `json:"current_volume"`
	AvgFlowRate   float64 `json:"avg_flow_rate"`
	MaxFlowRate   float64 `json:"max_flow_rate"`
	MinFlowRate   float64 `json:"min_flow_rate"`
	TotalReadings int     `json:"total_readings"`
	PeriodStart   *string `json:"period_start"`
	PeriodEnd     *string `json:"period_end"`
}
