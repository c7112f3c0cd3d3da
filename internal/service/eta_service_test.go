package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/busfleet/backend/internal/domain"
	"github.com/busfleet/backend/internal/repository/postgres"
)

type capturedEvent struct {
	name    string
	payload any
}

type fakeBroadcaster struct {
	events []capturedEvent
}

func (f *fakeBroadcaster) Broadcast(event string, payload any) {
	f.events = append(f.events, capturedEvent{event, payload})
}

func (f *fakeBroadcaster) BroadcastDevice(deviceID, event string, payload any) {
	f.events = append(f.events, capturedEvent{event, payload})
}

func newTestETA(t *testing.T, clock time.Time) (*ETAService, *postgres.MemoryRepository, *fakeBroadcaster) {
	t.Helper()
	repo := postgres.NewMemoryRepository()
	bc := &fakeBroadcaster{}
	svc := NewETAService(repo, repo, bc, zerolog.Nop())
	svc.now = func() time.Time { return clock }
	return svc, repo, bc
}

func at(hhmm string) time.Time {
	tm, err := time.Parse("15:04", hhmm)
	if err != nil {
		panic(err)
	}
	return time.Date(2024, 6, 3, tm.Hour(), tm.Minute(), 0, 0, time.Local)
}

func threeStopRun() []domain.TimetableEntry {
	return []domain.TimetableEntry{
		{StopID: "A", StopName: "Alpha", HHMM: "08:00"},
		{StopID: "B", StopName: "Bravo", HHMM: "08:10"},
		{StopID: "C", StopName: "Charlie", HHMM: "08:20"},
	}
}

func TestHeartbeatWithoutRouteIsNoOp(t *testing.T) {
	svc, repo, bc := newTestETA(t, at("08:07"))
	repo.SetTimetable(12, "r1", threeStopRun())

	heartbeats := []domain.Heartbeat{
		{DeviceID: "d1", DiaID: "12"},                  // no route
		{DeviceID: "d1", RouteID: "r1"},                // no dia
		{DeviceID: "d1", RouteID: "r1", DiaID: "12x"},  // non-numeric dia
		{DeviceID: "d1", RouteID: "r1", DiaID: "999"},  // empty timetable
		{DeviceID: "d1", RouteID: "none", DiaID: "12"}, // unknown route
	}
	for _, hb := range heartbeats {
		if err := svc.UpdateArrivalsFromHeartbeat(context.Background(), hb); err != nil {
			t.Fatalf("expected silent no-op, got %v", err)
		}
	}

	if len(bc.events) != 0 {
		t.Errorf("expected no broadcasts, got %d", len(bc.events))
	}
	if rec, _ := repo.GetArrivals(context.Background(), "r1", "A"); rec != nil {
		t.Errorf("expected no store mutations, found record for stop A")
	}
}

func TestDelayedRunClassifiesStops(t *testing.T) {
	// Timetable A@08:00 B@08:10 C@08:20, delay 5, now 08:07:
	// A's estimate 08:05 is in the past, B's 08:15 is the next stop.
	svc, repo, bc := newTestETA(t, at("08:07"))
	repo.SetTimetable(12, "r1", threeStopRun())

	hb := domain.Heartbeat{DeviceID: "d1", VehicleNo: "bus-7", RouteID: "r1", DiaID: "12", DelayMinutes: 5}
	if err := svc.UpdateArrivalsFromHeartbeat(context.Background(), hb); err != nil {
		t.Fatal(err)
	}

	// A was passed: written, then excluded from its own list.
	recA, _ := repo.GetArrivals(context.Background(), "r1", "A")
	if recA == nil {
		t.Fatal("stop A should have a record")
	}
	if len(recA.Arrivals) != 0 {
		t.Errorf("passed stop A should hold no arrivals, got %d", len(recA.Arrivals))
	}

	recB, _ := repo.GetArrivals(context.Background(), "r1", "B")
	if recB == nil || len(recB.Arrivals) != 1 {
		t.Fatalf("stop B should hold one arrival, got %+v", recB)
	}
	b := recB.Arrivals[0]
	if !b.IsApproaching {
		t.Error("stop B should be approaching")
	}
	if b.EstimatedTime != "08:15" {
		t.Errorf("stop B estimate = %q, want 08:15", b.EstimatedTime)
	}
	if b.ApproachingDesc == "" {
		t.Error("approaching stop should carry a description")
	}
	if recB.StopName != "Bravo" {
		t.Errorf("stop B name = %q, want Bravo", recB.StopName)
	}

	recC, _ := repo.GetArrivals(context.Background(), "r1", "C")
	if recC == nil || len(recC.Arrivals) != 1 {
		t.Fatalf("stop C should hold one arrival, got %+v", recC)
	}
	c := recC.Arrivals[0]
	if c.IsApproaching || c.IsPassed {
		t.Errorf("stop C should be a plain upcoming stop, got %+v", c)
	}
	if c.EstimatedTime != "08:25" {
		t.Errorf("stop C estimate = %q, want 08:25", c.EstimatedTime)
	}

	// Exactly one broadcast per heartbeat, covering every touched stop.
	if len(bc.events) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(bc.events))
	}
	payload, ok := bc.events[0].payload.(ArrivalUpdatedPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", bc.events[0].payload)
	}
	wantStops := []string{"A", "B", "C"}
	if len(payload.UpdatedStops) != len(wantStops) {
		t.Fatalf("updatedStops = %v, want %v", payload.UpdatedStops, wantStops)
	}
	for i, s := range wantStops {
		if payload.UpdatedStops[i] != s {
			t.Errorf("updatedStops[%d] = %q, want %q", i, payload.UpdatedStops[i], s)
		}
	}
	if payload.VehicleNo != "bus-7" || payload.DelayMinutes != 5 {
		t.Errorf("payload = %+v", payload)
	}
}

func TestCurrentStopHintOverridesTimeScan(t *testing.T) {
	// At 23:00 every estimate is long past, but the hint pins the
	// vehicle at stop A so B stays approaching.
	svc, repo, _ := newTestETA(t, at("23:00"))
	repo.SetTimetable(12, "r1", threeStopRun())

	hb := domain.Heartbeat{DeviceID: "d1", VehicleNo: "bus-7", RouteID: "r1", DiaID: "12", CurrentStopID: "A"}
	if err := svc.UpdateArrivalsFromHeartbeat(context.Background(), hb); err != nil {
		t.Fatal(err)
	}

	recB, _ := repo.GetArrivals(context.Background(), "r1", "B")
	if recB == nil || len(recB.Arrivals) != 1 || !recB.Arrivals[0].IsApproaching {
		t.Fatalf("stop B should be approaching under the hint, got %+v", recB)
	}

	// An off-timetable hint means nothing is passed.
	svc2, repo2, _ := newTestETA(t, at("23:00"))
	repo2.SetTimetable(12, "r1", threeStopRun())
	hb.CurrentStopID = "unknown-stop"
	if err := svc2.UpdateArrivalsFromHeartbeat(context.Background(), hb); err != nil {
		t.Fatal(err)
	}
	recA, _ := repo2.GetArrivals(context.Background(), "r1", "A")
	if recA == nil || len(recA.Arrivals) != 1 || !recA.Arrivals[0].IsApproaching {
		t.Fatalf("with an unmatched hint, stop A should be approaching, got %+v", recA)
	}
}

func TestRepeatedHeartbeatsMergeByVehicle(t *testing.T) {
	svc, repo, _ := newTestETA(t, at("07:00"))
	repo.SetTimetable(12, "r1", threeStopRun())
	ctx := context.Background()

	hb := domain.Heartbeat{DeviceID: "d1", VehicleNo: "bus-7", RouteID: "r1", DiaID: "12", DelayMinutes: 2}
	if err := svc.UpdateArrivalsFromHeartbeat(ctx, hb); err != nil {
		t.Fatal(err)
	}
	hb.DelayMinutes = 9
	if err := svc.UpdateArrivalsFromHeartbeat(ctx, hb); err != nil {
		t.Fatal(err)
	}

	rec, _ := repo.GetArrivals(ctx, "r1", "B")
	if rec == nil || len(rec.Arrivals) != 1 {
		t.Fatalf("same vehicle must not duplicate, got %+v", rec)
	}
	if got := rec.Arrivals[0].EstimatedTime; got != "08:19" {
		t.Errorf("latest estimate should win, got %q want 08:19", got)
	}
}

func TestVehicleKeyFallsBackToDeviceID(t *testing.T) {
	svc, repo, _ := newTestETA(t, at("07:00"))
	repo.SetTimetable(12, "r1", threeStopRun())
	ctx := context.Background()

	hb := domain.Heartbeat{DeviceID: "d1", RouteID: "r1", DiaID: "12"}
	if err := svc.UpdateArrivalsFromHeartbeat(ctx, hb); err != nil {
		t.Fatal(err)
	}

	rec, _ := repo.GetArrivals(ctx, "r1", "A")
	if rec == nil || len(rec.Arrivals) != 1 || rec.Arrivals[0].VehicleNo != "d1" {
		t.Fatalf("vehicle key should fall back to device id, got %+v", rec)
	}
}

func TestArrivalListSortedAndBounded(t *testing.T) {
	svc, repo, _ := newTestETA(t, at("07:00"))
	repo.SetTimetable(12, "r1", []domain.TimetableEntry{{StopID: "X", StopName: "Cross", HHMM: "08:00"}})
	ctx := context.Background()

	report := func(vehicle string, delay float64) {
		t.Helper()
		hb := domain.Heartbeat{DeviceID: vehicle, VehicleNo: vehicle, RouteID: "r1", DiaID: "12", DelayMinutes: delay}
		if err := svc.UpdateArrivalsFromHeartbeat(ctx, hb); err != nil {
			t.Fatal(err)
		}
	}

	// Three vehicles arrive out of call order: 08:12, 08:09, 08:20.
	report("v1", 12)
	report("v2", 9)
	report("v3", 20)

	rec, _ := repo.GetArrivals(ctx, "r1", "X")
	if rec == nil {
		t.Fatal("missing record")
	}
	want := []string{"08:09", "08:12", "08:20"}
	for i, w := range want {
		if rec.Arrivals[i].EstimatedTime != w {
			t.Fatalf("arrivals not sorted: got %+v", rec.Arrivals)
		}
	}

	// A fourth, earlier vehicle displaces the latest of the three.
	report("v4", 5)
	rec, _ = repo.GetArrivals(ctx, "r1", "X")
	if len(rec.Arrivals) != domain.MaxArrivalsPerStop {
		t.Fatalf("list must stay bounded at %d, got %d", domain.MaxArrivalsPerStop, len(rec.Arrivals))
	}
	want = []string{"08:05", "08:09", "08:12"}
	for i, w := range want {
		if rec.Arrivals[i].EstimatedTime != w {
			t.Fatalf("displacement wrong: got %+v", rec.Arrivals)
		}
	}
	for _, a := range rec.Arrivals {
		if a.IsPassed {
			t.Fatalf("stored list must never hold passed entries: %+v", a)
		}
	}
}

func TestPassedIndexStopsAtFirstFutureTime(t *testing.T) {
	entries := []domain.TimetableEntry{
		{StopID: "A", HHMM: "08:00"},
		{StopID: "B", HHMM: ""}, // unauthored time, skipped
		{StopID: "C", HHMM: "08:10"},
		{StopID: "D", HHMM: "08:20"},
	}

	tests := []struct {
		name     string
		nowMin   int
		delay    int
		expected int
	}{
		{name: "before the run", nowMin: 7*60 + 0, delay: 0, expected: -1},
		{name: "between A and C", nowMin: 8*60 + 5, delay: 0, expected: 0},
		{name: "exactly at C", nowMin: 8*60 + 10, delay: 0, expected: 2},
		{name: "after the run", nowMin: 9 * 60, delay: 0, expected: 3},
		{name: "delay shifts the boundary", nowMin: 8*60 + 5, delay: 10, expected: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := passedIndex(entries, "", tt.delay, tt.nowMin); got != tt.expected {
				t.Errorf("passedIndex = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestEstimatedTimeOrderingComparators(t *testing.T) {
	late := domain.ArrivalEntry{EstimatedTime: "23:58"}
	wrapped := domain.ArrivalEntry{EstimatedTime: "00:05"}

	// The persisted ordering is plain string comparison, which puts a
	// wrapped estimate first even though it arrives later.
	if !domain.LessEstimatedLexical(wrapped, late) {
		t.Error("lexical comparator should order 00:05 before 23:58")
	}

	// The wrap-aware comparator orders by minutes remaining from now.
	less := domain.LessEstimatedFrom(23*60 + 50)
	if !less(late, wrapped) {
		t.Error("wrap-aware comparator should order 23:58 before 00:05")
	}
}
