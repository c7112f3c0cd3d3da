package domain

// Heartbeat is a periodic report from a driver tablet. It is transient
// input: the device state it carries is persisted by the device layer,
// but the heartbeat itself is not stored.
type Heartbeat struct {
	DeviceID      string  `json:"deviceId" validate:"required"`
	VehicleNo     string  `json:"vehicleNo,omitempty"`
	DriverName    string  `json:"driverName,omitempty"`
	RouteID       string  `json:"routeId,omitempty"`
	DiaID         string  `json:"diaId,omitempty"` // schedule id, decimal string
	DelayMinutes  float64 `json:"delayMinutes,omitempty"`
	CurrentStopID string  `json:"currentStopId,omitempty"`
}

// VehicleKey is the identity used to merge this vehicle's predictions
// into a stop's arrival list. Devices that report without a vehicle
// number fall back to the device id; changing this fallback would
// duplicate or lose entries for inconsistently reporting vehicles.
func (h Heartbeat) VehicleKey() string {
	if h.VehicleNo != "" {
		return h.VehicleNo
	}
	return h.DeviceID
}
