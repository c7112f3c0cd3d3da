package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/busfleet/backend/internal/domain"
	"github.com/busfleet/backend/internal/sse"
	"github.com/busfleet/backend/pkg/timeutil"
)

// ArrivalUpdatedPayload is the body of an arrival_updated push event.
type ArrivalUpdatedPayload struct {
	RouteID      string   `json:"routeId"`
	VehicleNo    string   `json:"vehicleNo"`
	DelayMinutes int      `json:"delayMinutes"`
	UpdatedStops []string `json:"updatedStops"`
	TS           int64    `json:"ts"`
}

// ETAService turns heartbeat reports into per-stop arrival predictions.
// Each call is stateless: it loads the run's timetable, classifies stops
// as passed/approaching/upcoming, merges this vehicle's estimates into
// each stop's stored list and publishes one push event for the whole
// update.
type ETAService struct {
	timetables domain.TimetableProvider
	arrivals   domain.ArrivalStore
	broadcast  Broadcaster
	log        zerolog.Logger

	// now is swappable for tests.
	now func() time.Time

	// stopLocks serializes the read-merge-write cycle per
	// (routeId, stopId) key so concurrent heartbeats for the same stop
	// cannot clobber each other's merge.
	stopLocks sync.Map // string -> *sync.Mutex
}

// NewETAService creates a new ETA calculator.
func NewETAService(timetables domain.TimetableProvider, arrivals domain.ArrivalStore, broadcast Broadcaster, log zerolog.Logger) *ETAService {
	return &ETAService{
		timetables: timetables,
		arrivals:   arrivals,
		broadcast:  broadcast,
		log:        log.With().Str("component", "eta").Logger(),
		now:        time.Now,
	}
}

// UpdateArrivalsFromHeartbeat recomputes predictions for every stop on
// the run reported by hb. Heartbeats without a route or a parseable
// schedule id, and runs with no timetable, are benign no-ops. Store and
// timetable errors propagate to the caller unretried; the heartbeat
// handler treats them as non-fatal to the heartbeat acknowledgement.
func (s *ETAService) UpdateArrivalsFromHeartbeat(ctx context.Context, hb domain.Heartbeat) error {
	if hb.RouteID == "" || hb.DiaID == "" {
		return nil
	}
	scheduleID, err := strconv.Atoi(hb.DiaID)
	if err != nil {
		return nil
	}

	entries, err := s.timetables.GetTimetable(ctx, scheduleID, hb.RouteID)
	if err != nil {
		return fmt.Errorf("eta: load timetable for dia %d route %s: %w", scheduleID, hb.RouteID, err)
	}
	if len(entries) == 0 {
		return nil
	}

	now := s.now()
	nowMin := now.Hour()*60 + now.Minute()
	nowMillis := now.UnixMilli()
	delay := int(math.Round(hb.DelayMinutes))
	vehicle := hb.VehicleKey()

	passedIdx := passedIndex(entries, hb.CurrentStopID, delay, nowMin)

	var updated []string
	for i, e := range entries {
		schedMin := timeutil.TimeToMinutes(e.HHMM)
		if schedMin == timeutil.NoTime {
			continue
		}

		entry := domain.ArrivalEntry{
			VehicleNo:     vehicle,
			ScheduledTime: e.HHMM,
			EstimatedTime: timeutil.MinutesToTime(schedMin + delay),
			DelayMinutes:  delay,
			IsPassed:      i <= passedIdx,
			UpdatedAt:     nowMillis,
		}
		if !entry.IsPassed && i == passedIdx+1 {
			entry.IsApproaching = true
			entry.ApproachingDesc = fmt.Sprintf("Arriving next (%d min behind schedule)", delay)
		}

		if err := s.mergeStop(ctx, hb.RouteID, e.StopID, e.DisplayName(), entry, nowMillis); err != nil {
			return fmt.Errorf("eta: update stop %s on route %s: %w", e.StopID, hb.RouteID, err)
		}
		updated = append(updated, e.StopID)
	}

	if len(updated) == 0 {
		return nil
	}

	s.log.Debug().
		Str("route", hb.RouteID).
		Str("vehicle", vehicle).
		Int("delay", delay).
		Int("stops", len(updated)).
		Msg("arrivals updated")

	// One event per heartbeat, however many stops were touched.
	s.broadcast.Broadcast(sse.EventArrivalUpdated, ArrivalUpdatedPayload{
		RouteID:      hb.RouteID,
		VehicleNo:    vehicle,
		DelayMinutes: delay,
		UpdatedStops: updated,
		TS:           nowMillis,
	})
	return nil
}

// passedIndex locates the last stop already visited, or -1 for none.
// A currentStopId hint overrides the time scan entirely, even when the
// hinted stop is not on the timetable. Without a hint, a single forward
// pass advances past every entry whose delay-adjusted time is at or
// before now and stops at the first one still in the future.
func passedIndex(entries []domain.TimetableEntry, currentStopID string, delay, nowMin int) int {
	if currentStopID != "" {
		for i, e := range entries {
			if e.StopID == currentStopID {
				return i
			}
		}
		return -1
	}

	idx := -1
	for i, e := range entries {
		m := timeutil.TimeToMinutes(e.HHMM)
		if m == timeutil.NoTime {
			continue
		}
		if m+delay > nowMin {
			break
		}
		idx = i
	}
	return idx
}

// mergeStop folds one vehicle's new estimate into the stored arrival
// list for a stop: replace-or-append by vehicle key, drop passed
// entries, sort by estimated time, keep the earliest three.
func (s *ETAService) mergeStop(ctx context.Context, routeID, stopID, stopName string, entry domain.ArrivalEntry, nowMillis int64) error {
	mu := s.lockFor(routeID, stopID)
	mu.Lock()
	defer mu.Unlock()

	existing, err := s.arrivals.GetArrivals(ctx, routeID, stopID)
	if err != nil {
		return err
	}

	var arrivals []domain.ArrivalEntry
	if existing != nil {
		arrivals = existing.Arrivals
	}

	replaced := false
	for i := range arrivals {
		if arrivals[i].VehicleNo == entry.VehicleNo {
			arrivals[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		arrivals = append(arrivals, entry)
	}

	kept := arrivals[:0]
	for _, a := range arrivals {
		if !a.IsPassed {
			kept = append(kept, a)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return domain.LessEstimatedLexical(kept[i], kept[j])
	})
	if len(kept) > domain.MaxArrivalsPerStop {
		kept = kept[:domain.MaxArrivalsPerStop]
	}

	return s.arrivals.UpsertArrivals(ctx, domain.StopArrivalRecord{
		RouteID:   routeID,
		StopID:    stopID,
		StopName:  stopName,
		Arrivals:  kept,
		UpdatedAt: nowMillis,
	})
}

func (s *ETAService) lockFor(routeID, stopID string) *sync.Mutex {
	key := routeID + "|" + stopID
	if mu, ok := s.stopLocks.Load(key); ok {
		return mu.(*sync.Mutex)
	}
	mu, _ := s.stopLocks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
