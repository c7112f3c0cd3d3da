package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/busfleet/backend/internal/domain"
)

// PostgresRepository implements domain.Repository
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// GetTimetable returns the ordered stop visits for one schedule+route run.
func (r *PostgresRepository) GetTimetable(ctx context.Context, scheduleID int, routeID string) ([]domain.TimetableEntry, error) {
	query := `
		SELECT stop_id, COALESCE(stop_name, ''), COALESCE(hhmm, '')
		FROM timetable_entries
		WHERE dia_id = $1 AND route_id = $2
		ORDER BY seq
	`

	rows, err := r.pool.Query(ctx, query, scheduleID, routeID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query timetable: %w", err)
	}
	defer rows.Close()

	var entries []domain.TimetableEntry
	for rows.Next() {
		var e domain.TimetableEntry
		if err := rows.Scan(&e.StopID, &e.StopName, &e.HHMM); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan timetable row: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// GetArrivals returns the arrival record for a stop, nil when absent.
func (r *PostgresRepository) GetArrivals(ctx context.Context, routeID, stopID string) (*domain.StopArrivalRecord, error) {
	query := `
		SELECT route_id, stop_id, stop_name, arrivals, updated_at
		FROM stop_arrivals
		WHERE route_id = $1 AND stop_id = $2
	`

	rec, err := scanArrivalRecord(r.pool.QueryRow(ctx, query, routeID, stopID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query arrivals: %w", err)
	}
	return rec, nil
}

// UpsertArrivals fully replaces the arrival record for its key.
func (r *PostgresRepository) UpsertArrivals(ctx context.Context, rec domain.StopArrivalRecord) error {
	arrivals, err := json.Marshal(rec.Arrivals)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal arrivals: %w", err)
	}

	query := `
		INSERT INTO stop_arrivals (route_id, stop_id, stop_name, arrivals, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (route_id, stop_id) DO UPDATE SET
			stop_name = EXCLUDED.stop_name,
			arrivals = EXCLUDED.arrivals,
			updated_at = EXCLUDED.updated_at
	`

	if _, err := r.pool.Exec(ctx, query, rec.RouteID, rec.StopID, rec.StopName, arrivals, rec.UpdatedAt); err != nil {
		return fmt.Errorf("postgres: failed to upsert arrivals: %w", err)
	}
	return nil
}

// ListArrivalsByRoute returns every stop's arrival record for a route.
func (r *PostgresRepository) ListArrivalsByRoute(ctx context.Context, routeID string) ([]domain.StopArrivalRecord, error) {
	query := `
		SELECT route_id, stop_id, stop_name, arrivals, updated_at
		FROM stop_arrivals
		WHERE route_id = $1
		ORDER BY stop_id
	`

	rows, err := r.pool.Query(ctx, query, routeID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query route arrivals: %w", err)
	}
	defer rows.Close()

	var records []domain.StopArrivalRecord
	for rows.Next() {
		rec, err := scanArrivalRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan arrivals row: %w", err)
		}
		records = append(records, *rec)
	}

	return records, rows.Err()
}

// UpsertDeviceState refreshes a device's last-known state.
func (r *PostgresRepository) UpsertDeviceState(ctx context.Context, st domain.DeviceState) error {
	query := `
		INSERT INTO device_states (
			device_id, vehicle_no, driver_name, route_id, dia_id, delay_minutes, last_seen
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (device_id) DO UPDATE SET
			vehicle_no = EXCLUDED.vehicle_no,
			driver_name = EXCLUDED.driver_name,
			route_id = EXCLUDED.route_id,
			dia_id = EXCLUDED.dia_id,
			delay_minutes = EXCLUDED.delay_minutes,
			last_seen = EXCLUDED.last_seen
	`

	_, err := r.pool.Exec(ctx, query,
		st.DeviceID, st.VehicleNo, st.DriverName, st.RouteID, st.DiaID, st.DelayMinutes, st.LastSeen,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to upsert device state: %w", err)
	}
	return nil
}

// GetDeviceState returns last-known state for one device, nil when unknown.
func (r *PostgresRepository) GetDeviceState(ctx context.Context, deviceID string) (*domain.DeviceState, error) {
	query := `
		SELECT device_id, vehicle_no, driver_name, route_id, dia_id, delay_minutes, last_seen
		FROM device_states
		WHERE device_id = $1
	`

	var st domain.DeviceState
	err := r.pool.QueryRow(ctx, query, deviceID).Scan(
		&st.DeviceID, &st.VehicleNo, &st.DriverName, &st.RouteID, &st.DiaID, &st.DelayMinutes, &st.LastSeen,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query device state: %w", err)
	}
	return &st, nil
}

// SaveMessage persists an operator message.
func (r *PostgresRepository) SaveMessage(ctx context.Context, m domain.Message) (domain.Message, error) {
	query := `
		INSERT INTO messages (device_id, sender, body, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	if err := r.pool.QueryRow(ctx, query, m.DeviceID, m.Sender, m.Body, m.CreatedAt).Scan(&m.ID); err != nil {
		return domain.Message{}, fmt.Errorf("postgres: failed to save message: %w", err)
	}
	return m, nil
}

// ListMessages returns recent messages, newest first. An empty deviceID
// lists fleet-wide messages only.
func (r *PostgresRepository) ListMessages(ctx context.Context, deviceID string, limit int) ([]domain.Message, error) {
	query := `
		SELECT id, device_id, sender, body, created_at
		FROM messages
		WHERE device_id = $1 OR device_id = ''
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.DeviceID, &m.Sender, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan message row: %w", err)
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// Health checks database connectivity
func (r *PostgresRepository) Health(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: health check failed: %w", err)
	}
	return nil
}

func scanArrivalRecord(row pgx.Row) (*domain.StopArrivalRecord, error) {
	var rec domain.StopArrivalRecord
	var arrivals []byte
	if err := row.Scan(&rec.RouteID, &rec.StopID, &rec.StopName, &arrivals, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if len(arrivals) > 0 {
		if err := json.Unmarshal(arrivals, &rec.Arrivals); err != nil {
			return nil, err
		}
	}
	return &rec, nil
}
