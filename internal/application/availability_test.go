package application

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/example/classroom-booking/internal/scheduler"
	"github.com/example/classroom-booking/internal/testfixtures"
)

func mustSlot(t *testing.T, value string) scheduler.TimeSlot {
	t.Helper()
	s, err := scheduler.ParseTimeSlot(value)
	if err != nil {
		t.Fatalf("ParseTimeSlot(%q): %v", value, err)
	}
	return s
}

func TestAvailabilityCache_LoadOccupancyExpandsHours(t *testing.T) {
	t.Parallel()

	source := &occupancySourceStub{}
	source.setSlots("INS201", []OccupiedSlot{
		{Date: mustDate("2025-12-01"), Slot: mustSlot(t, "10-12"), Status: StatusPending},
		{Date: mustDate("2025-12-01"), Slot: mustSlot(t, "15-16"), Status: StatusApproved},
		{Date: mustDate("2025-12-02"), Slot: mustSlot(t, "9-10"), Status: StatusRejected},
		{Date: mustDate("2025-12-03"), Slot: mustSlot(t, "9-10"), Status: StatusCancelled},
		{Date: mustDate("2025-12-04"), Slot: mustSlot(t, "13-14")},
		{Date: mustDate("2026-03-01"), Slot: mustSlot(t, "8-9"), Status: StatusApproved},
	})
	cache := NewAvailabilityCache(source, fixedNow(testfixtures.ReferenceTime()), 14)

	occupancy, err := cache.LoadWindow(context.Background(), "INS201")
	if err != nil {
		t.Fatalf("LoadWindow failed: %v", err)
	}

	if got := occupancy.Hours(mustDate("2025-12-01")); !reflect.DeepEqual(got, []int{10, 11, 15}) {
		t.Fatalf("unexpected hours for 2025-12-01: %v", got)
	}
	if occupancy.Has(mustDate("2025-12-01"), 12) {
		t.Fatalf("end hour must stay free")
	}
	for _, date := range []string{"2025-12-02", "2025-12-03"} {
		if len(occupancy.Hours(mustDate(date))) != 0 {
			t.Fatalf("inactive reservation on %s must not occupy hours", date)
		}
	}
	if !occupancy.Has(mustDate("2025-12-04"), 13) {
		t.Fatalf("row without status must count as active")
	}
	if len(occupancy.Hours(mustDate("2026-03-01"))) != 0 {
		t.Fatalf("rows outside the requested window must be dropped")
	}

	if !cache.IsOccupied("INS201", mustDate("2025-12-01"), 10) || !cache.IsOccupied("INS201", mustDate("2025-12-01"), 11) {
		t.Fatalf("expected hours 10 and 11 cached as occupied")
	}
	if cache.AnyOccupied("INS201", mustDate("2025-12-01"), mustSlot(t, "12-15")) {
		t.Fatalf("12-15 must not collide with 10-12 or 15-16")
	}
	if !cache.AnyOccupied("INS201", mustDate("2025-12-01"), mustSlot(t, "11-13")) {
		t.Fatalf("11-13 must collide with 10-12")
	}

	from, to := cache.Window()
	call := source.calls[0]
	if call.from != from || call.to != to || call.from != mustDate("2025-11-20") || call.to != mustDate("2025-12-04") {
		t.Fatalf("unexpected fetch range %s..%s", call.from, call.to)
	}
}

func TestAvailabilityCache_DefaultWindowIsSixMonths(t *testing.T) {
	t.Parallel()

	cache := NewAvailabilityCache(&occupancySourceStub{}, fixedNow(testfixtures.ReferenceTime()), 0)
	from, to := cache.Window()
	if from != mustDate("2025-11-20") || to != mustDate("2026-05-20") {
		t.Fatalf("unexpected default window %s..%s", from, to)
	}
}

func TestAvailabilityCache_Validation(t *testing.T) {
	t.Parallel()

	source := &occupancySourceStub{}
	cache := NewAvailabilityCache(source, fixedNow(testfixtures.ReferenceTime()), 14)

	tests := []struct {
		name     string
		room     string
		from, to scheduler.Date
		field    string
	}{
		{name: "missing room", room: " ", from: mustDate("2025-12-01"), to: mustDate("2025-12-02"), field: "classroom"},
		{name: "missing range", room: "INS201", field: "date_range"},
		{name: "inverted range", room: "INS201", from: mustDate("2025-12-02"), to: mustDate("2025-12-01"), field: "date_range"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := cache.LoadOccupancy(context.Background(), tt.room, tt.from, tt.to)
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if _, ok := vErr.FieldErrors[tt.field]; !ok {
				t.Fatalf("expected %s field error, got %v", tt.field, vErr.FieldErrors)
			}
		})
	}
	if source.callCount() != 0 {
		t.Fatalf("invalid loads must not reach the source")
	}
}

func TestAvailabilityCache_FailedLoadKeepsPreviousMap(t *testing.T) {
	t.Parallel()

	source := &occupancySourceStub{}
	source.setSlots("INS201", []OccupiedSlot{{Date: mustDate("2025-12-01"), Slot: mustSlot(t, "10-12"), Status: StatusApproved}})
	cache := NewAvailabilityCache(source, fixedNow(testfixtures.ReferenceTime()), 14)

	if _, err := cache.LoadWindow(context.Background(), "INS201"); err != nil {
		t.Fatalf("LoadWindow failed: %v", err)
	}
	source.setErr(errors.Join(ErrConnectivity, errNetworkDown))
	if err := cache.Refresh(context.Background(), "INS201"); !errors.Is(err, ErrConnectivity) {
		t.Fatalf("expected connectivity error, got %v", err)
	}
	if !cache.IsOccupied("INS201", mustDate("2025-12-01"), 10) {
		t.Fatalf("failed refresh must keep the previous occupancy")
	}
}

func TestAvailabilityCache_RefreshSkipsUnloadedRooms(t *testing.T) {
	t.Parallel()

	source := &occupancySourceStub{}
	cache := NewAvailabilityCache(source, fixedNow(testfixtures.ReferenceTime()), 14)
	if err := cache.Refresh(context.Background(), "ECG101"); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if source.callCount() != 0 {
		t.Fatalf("expected no fetch for a room never loaded")
	}
}

func TestAvailabilityCache_DropsResponseForDeselectedRoom(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	source := &occupancySourceStub{gates: map[string]chan struct{}{"INS201": gate}}
	source.setSlots("INS201", []OccupiedSlot{{Date: mustDate("2025-12-01"), Slot: mustSlot(t, "10-12"), Status: StatusApproved}})
	cache := NewAvailabilityCache(source, fixedNow(testfixtures.ReferenceTime()), 14)

	cache.Select("INS201")
	done := make(chan error, 1)
	go func() {
		_, err := cache.LoadWindow(context.Background(), "INS201")
		done <- err
	}()
	waitForCalls(t, source, 1)

	cache.Select("ECG101")
	close(gate)

	if err := <-done; !errors.Is(err, ErrStaleResponse) {
		t.Fatalf("expected ErrStaleResponse, got %v", err)
	}
	if _, ok := cache.Occupancy("INS201"); ok {
		t.Fatalf("stale response must not populate the cache")
	}
}

func TestAvailabilityCache_DropsOlderOfOverlappingLoads(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	source := &occupancySourceStub{gates: map[string]chan struct{}{"INS201": gate}}
	source.setSlots("INS201", []OccupiedSlot{{Date: mustDate("2025-12-01"), Slot: mustSlot(t, "10-12"), Status: StatusApproved}})
	cache := NewAvailabilityCache(source, fixedNow(testfixtures.ReferenceTime()), 14)

	older := make(chan error, 1)
	go func() {
		_, err := cache.LoadOccupancy(context.Background(), "INS201", mustDate("2025-11-20"), mustDate("2025-12-10"))
		older <- err
	}()
	waitForCalls(t, source, 1)

	source.mu.Lock()
	delete(source.gates, "INS201")
	source.mu.Unlock()

	if _, err := cache.LoadOccupancy(context.Background(), "INS201", mustDate("2025-11-20"), mustDate("2025-12-20")); err != nil {
		t.Fatalf("newer load failed: %v", err)
	}
	close(gate)

	if err := <-older; !errors.Is(err, ErrStaleResponse) {
		t.Fatalf("expected older load to be dropped, got %v", err)
	}
	if !cache.IsOccupied("INS201", mustDate("2025-12-01"), 10) {
		t.Fatalf("newer load must remain cached")
	}
}

func TestAvailabilityCache_ConcurrentLoadsShareOneFetch(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	source := &occupancySourceStub{gates: map[string]chan struct{}{"INS201": gate}}
	cache := NewAvailabilityCache(source, fixedNow(testfixtures.ReferenceTime()), 14)

	const callers = 3
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			_, err := cache.LoadWindow(context.Background(), "INS201")
			results <- err
		}()
	}
	waitForCalls(t, source, 1)
	// Let the remaining callers join the in-flight fetch.
	time.Sleep(20 * time.Millisecond)
	close(gate)

	for i := 0; i < callers; i++ {
		if err := <-results; err != nil && !errors.Is(err, ErrStaleResponse) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := source.callCount(); got != 1 {
		t.Fatalf("expected one shared fetch, got %d", got)
	}
}

func TestAvailabilityCache_CancelledCallerDoesNotFailJoinedLoad(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	source := &occupancySourceStub{gates: map[string]chan struct{}{"INS201": gate}}
	source.setSlots("INS201", []OccupiedSlot{{Date: mustDate("2025-12-01"), Slot: mustSlot(t, "10-12"), Status: StatusApproved}})
	cache := NewAvailabilityCache(source, fixedNow(testfixtures.ReferenceTime()), 14)
	from, to := cache.Window()

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	errA := make(chan error, 1)
	go func() {
		_, err := cache.LoadOccupancy(ctxA, "INS201", from, to)
		errA <- err
	}()
	waitForCalls(t, source, 1)

	errB := make(chan error, 1)
	go func() {
		_, err := cache.LoadOccupancy(context.Background(), "INS201", from, to)
		errB <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled for the cancelled caller, got %v", err)
	}
	close(gate)

	if err := <-errB; err != nil {
		t.Fatalf("expected joined caller to succeed, got %v", err)
	}
	if !cache.IsOccupied("INS201", mustDate("2025-12-01"), 10) {
		t.Fatalf("expected the shared load to be cached")
	}
	if got := source.callCount(); got != 1 {
		t.Fatalf("expected one shared fetch, got %d", got)
	}
}

func TestAvailabilityCache_MarkOccupiedAndFreeHours(t *testing.T) {
	t.Parallel()

	cache := NewAvailabilityCache(&occupancySourceStub{}, fixedNow(testfixtures.ReferenceTime()), 14)
	date := mustDate("2025-12-01")
	cache.MarkOccupied("INS202", date, mustSlot(t, "9-11"))

	if got := cache.FreeHours("INS202", date, 8, 12); !reflect.DeepEqual(got, []int{8, 11}) {
		t.Fatalf("unexpected free hours: %v", got)
	}
	if got := cache.FreeHours("ECG101", date, 20, 30); !reflect.DeepEqual(got, []int{20, 21, 22, 23}) {
		t.Fatalf("expected close clamped to the end of day, got %v", got)
	}

	cache.Forget()
	if cache.IsOccupied("INS202", date, 9) {
		t.Fatalf("Forget must drop cached rooms")
	}
}

func TestAvailabilityCache_OccupancyReturnsCopy(t *testing.T) {
	t.Parallel()

	cache := NewAvailabilityCache(&occupancySourceStub{}, fixedNow(testfixtures.ReferenceTime()), 14)
	date := mustDate("2025-12-01")
	cache.MarkOccupied("INS201", date, mustSlot(t, "10-11"))

	occupancy, ok := cache.Occupancy("INS201")
	if !ok {
		t.Fatalf("expected cached occupancy")
	}
	occupancy[date][15] = struct{}{}
	if cache.IsOccupied("INS201", date, 15) {
		t.Fatalf("mutating the returned map must not affect the cache")
	}
}

func waitForCalls(t *testing.T, source *occupancySourceStub, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for source.callCount() < n {
		select {
		case <-deadline:
			t.Fatalf("expected %d fetches, got %d", n, source.callCount())
		case <-time.After(2 * time.Millisecond):
		}
	}
}
