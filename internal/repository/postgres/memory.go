package postgres

import (
	"context"
	"sort"
	"sync"

	"github.com/busfleet/backend/internal/domain"
)

// MemoryRepository implements domain.Repository in process memory. It
// backs demo mode when no database is configured and doubles as the
// test fixture for the services.
type MemoryRepository struct {
	mu         sync.RWMutex
	timetables map[timetableKey][]domain.TimetableEntry
	arrivals   map[stopKey]domain.StopArrivalRecord
	devices    map[string]domain.DeviceState
	messages   []domain.Message
	nextMsgID  int64
}

type timetableKey struct {
	scheduleID int
	routeID    string
}

type stopKey struct {
	routeID string
	stopID  string
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		timetables: make(map[timetableKey][]domain.TimetableEntry),
		arrivals:   make(map[stopKey]domain.StopArrivalRecord),
		devices:    make(map[string]domain.DeviceState),
		nextMsgID:  1,
	}
}

// SetTimetable seeds the entries returned for one schedule+route run.
func (r *MemoryRepository) SetTimetable(scheduleID int, routeID string, entries []domain.TimetableEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timetables[timetableKey{scheduleID, routeID}] = entries
}

// GetTimetable returns the seeded run, or empty when unknown.
func (r *MemoryRepository) GetTimetable(ctx context.Context, scheduleID int, routeID string) ([]domain.TimetableEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.timetables[timetableKey{scheduleID, routeID}]
	out := make([]domain.TimetableEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// GetArrivals returns the stored record for a stop, nil when absent.
func (r *MemoryRepository) GetArrivals(ctx context.Context, routeID, stopID string) (*domain.StopArrivalRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.arrivals[stopKey{routeID, stopID}]
	if !ok {
		return nil, nil
	}
	cp := rec
	cp.Arrivals = append([]domain.ArrivalEntry(nil), rec.Arrivals...)
	return &cp, nil
}

// UpsertArrivals fully replaces the record for its key.
func (r *MemoryRepository) UpsertArrivals(ctx context.Context, rec domain.StopArrivalRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.Arrivals = append([]domain.ArrivalEntry(nil), rec.Arrivals...)
	r.arrivals[stopKey{rec.RouteID, rec.StopID}] = rec
	return nil
}

// ListArrivalsByRoute returns all records for a route ordered by stop id.
func (r *MemoryRepository) ListArrivalsByRoute(ctx context.Context, routeID string) ([]domain.StopArrivalRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var records []domain.StopArrivalRecord
	for key, rec := range r.arrivals {
		if key.routeID == routeID {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].StopID < records[j].StopID })
	return records, nil
}

// UpsertDeviceState refreshes a device's last-known state.
func (r *MemoryRepository) UpsertDeviceState(ctx context.Context, st domain.DeviceState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[st.DeviceID] = st
	return nil
}

// GetDeviceState returns last-known state for one device, nil when unknown.
func (r *MemoryRepository) GetDeviceState(ctx context.Context, deviceID string) (*domain.DeviceState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.devices[deviceID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

// SaveMessage persists an operator message and assigns its id.
func (r *MemoryRepository) SaveMessage(ctx context.Context, m domain.Message) (domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m.ID = r.nextMsgID
	r.nextMsgID++
	r.messages = append(r.messages, m)
	return m, nil
}

// ListMessages returns recent messages, newest first.
func (r *MemoryRepository) ListMessages(ctx context.Context, deviceID string, limit int) ([]domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Message
	for i := len(r.messages) - 1; i >= 0 && len(out) < limit; i-- {
		m := r.messages[i]
		if m.DeviceID == "" || m.DeviceID == deviceID {
			out = append(out, m)
		}
	}
	return out, nil
}

// Health always returns nil in memory mode.
func (r *MemoryRepository) Health(ctx context.Context) error {
	return nil
}
