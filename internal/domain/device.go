package domain

import "time"

// DeviceState is the last-known state of a tablet device, refreshed on
// every heartbeat before the ETA side-computation runs.
type DeviceState struct {
	DeviceID     string    `json:"deviceId"`
	VehicleNo    string    `json:"vehicleNo,omitempty"`
	DriverName   string    `json:"driverName,omitempty"`
	RouteID      string    `json:"routeId,omitempty"`
	DiaID        string    `json:"diaId,omitempty"`
	DelayMinutes int       `json:"delayMinutes"`
	LastSeen     time.Time `json:"lastSeen"`
}
