package domain

import "context"

// TimetableProvider returns the ordered stop visits for one vehicle run.
// An unknown schedule/route combination yields an empty slice, not an
// error.
type TimetableProvider interface {
	GetTimetable(ctx context.Context, scheduleID int, routeID string) ([]TimetableEntry, error)
}

// ArrivalStore persists the current prediction list per (routeId, stopId).
type ArrivalStore interface {
	// GetArrivals returns the record for a stop, or nil when no
	// predictions have been written yet (a valid, non-error state).
	GetArrivals(ctx context.Context, routeID, stopID string) (*StopArrivalRecord, error)

	// UpsertArrivals fully replaces the record for its key, creating
	// it if absent. Idempotent.
	UpsertArrivals(ctx context.Context, rec StopArrivalRecord) error

	// ListArrivalsByRoute returns all records for a route, for clients
	// reconciling via polling fallback.
	ListArrivalsByRoute(ctx context.Context, routeID string) ([]StopArrivalRecord, error)
}

// DeviceRepository tracks last-known device state.
type DeviceRepository interface {
	UpsertDeviceState(ctx context.Context, st DeviceState) error
	GetDeviceState(ctx context.Context, deviceID string) (*DeviceState, error)
}

// MessageRepository logs operator messages.
type MessageRepository interface {
	SaveMessage(ctx context.Context, m Message) (Message, error)
	ListMessages(ctx context.Context, deviceID string, limit int) ([]Message, error)
}

// Repository is the full persistence surface the server wires up.
// This follows the Dependency Inversion Principle - domain defines the interface
type Repository interface {
	TimetableProvider
	ArrivalStore
	DeviceRepository
	MessageRepository

	// Health checks backing-store connectivity.
	Health(ctx context.Context) error
}
