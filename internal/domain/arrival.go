package domain

import "github.com/busfleet/backend/pkg/timeutil"

// MaxArrivalsPerStop bounds the arrival list stored for one stop.
const MaxArrivalsPerStop = 3

// ArrivalEntry is one vehicle's prediction for one stop.
type ArrivalEntry struct {
	VehicleNo       string `json:"vehicleNo"`
	ScheduledTime   string `json:"scheduledTime"`
	EstimatedTime   string `json:"estimatedTime"`
	DelayMinutes    int    `json:"delayMinutes"`
	IsApproaching   bool   `json:"isApproaching"`
	ApproachingDesc string `json:"approachingDesc,omitempty"`
	IsPassed        bool   `json:"isPassed"`
	UpdatedAt       int64  `json:"updatedAt"` // epoch millis
}

// StopArrivalRecord is the persisted prediction list for one
// (routeId, stopId) pair. Invariants: len(Arrivals) <= MaxArrivalsPerStop,
// no entry has IsPassed set, entries are sorted ascending by EstimatedTime
// with at most one entry per vehicle.
type StopArrivalRecord struct {
	RouteID   string         `json:"routeId"`
	StopID    string         `json:"stopId"`
	StopName  string         `json:"stopName"`
	Arrivals  []ArrivalEntry `json:"arrivals"`
	UpdatedAt int64          `json:"updatedAt"` // epoch millis
}

// LessEstimatedLexical orders arrival entries by their "HH:MM" estimate
// as plain strings. This is the ordering persisted records and clients
// rely on; it mis-orders estimates that wrap past midnight ("00:05"
// sorts before "23:58" even when it is the later arrival).
func LessEstimatedLexical(a, b ArrivalEntry) bool {
	return a.EstimatedTime < b.EstimatedTime
}

// LessEstimatedFrom returns a wrap-aware comparator ordering entries by
// minutes remaining from the given reference minute-of-day. Swap it in
// for LessEstimatedLexical if cross-midnight ordering must be correct.
func LessEstimatedFrom(refMinutes int) func(a, b ArrivalEntry) bool {
	remaining := func(hhmm string) int {
		m := timeutil.TimeToMinutes(hhmm)
		if m < 0 {
			return 1 << 30
		}
		return ((m - refMinutes) % 1440 + 1440) % 1440
	}
	return func(a, b ArrivalEntry) bool {
		return remaining(a.EstimatedTime) < remaining(b.EstimatedTime)
	}
}
