package db

import (
	"time"
)

// Device represents a telemetry source in the database
type Device struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	LastSeen time.Time `json:"last_seen"`
}

// Reading represents a single measurement in the database.
// SohMeasurementTime is the producer's own timestamp for the battery
// state-of-health value and is stored verbatim; IngestedAt is assigned
// by the server and is the ordering key.
type Reading struct {
	ID                 int64     `json:"id"`
	DeviceID           string    `json:"device_id"`
	Voltage            float64   `json:"voltage"`
	Current            float64   `json:"current"`
	BatterySoh         float64   `json:"battery_soh"`
	SohMeasurementTime *string   `json:"soh_measurement_time"`
	IngestedAt         time.Time `json:"ingested_at"`
}
