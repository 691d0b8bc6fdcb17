package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/classroom-booking/internal/testfixtures"
)

type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *steppingClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newViewsFixture(session Session) (*ReservationViews, *listerStub, *historyStub, *steppingClock) {
	clock := &steppingClock{now: testfixtures.ReferenceTime()}
	lister := &listerStub{items: map[bool][]Reservation{
		false: {
			{ID: "7", Classroom: "INS201", Date: mustDate("2025-12-01"), Status: StatusPending, Requester: session.AccountID},
			{ID: "42", Classroom: "INS202", Date: mustDate("2025-12-02"), Status: StatusPending, Requester: session.AccountID},
		},
		true: {
			{ID: "42", Classroom: "INS202", Date: mustDate("2025-12-02"), Status: StatusPending},
			{ID: "43", Classroom: "ECG101", Date: mustDate("2025-12-03"), Status: StatusPending},
		},
	}}
	history := &historyStub{}
	views := NewReservationViews(staticSessions{session: session}, lister, history, time.Minute, clock.Now)
	return views, lister, history, clock
}

func TestReservationViews_MyReservationsUsesTTL(t *testing.T) {
	t.Parallel()

	views, lister, _, clock := newViewsFixture(memberSession)
	ctx := context.Background()

	first, err := views.MyReservations(ctx, false)
	if err != nil {
		t.Fatalf("MyReservations failed: %v", err)
	}
	if len(first.Items) != 2 || first.Stale || first.Provisional {
		t.Fatalf("unexpected list: %+v", first)
	}
	if got := lister.calls[0]; got.ViewAll || got.Limit != 200 {
		t.Fatalf("unexpected query: %+v", got)
	}

	clock.Advance(30 * time.Second)
	if _, err := views.MyReservations(ctx, false); err != nil {
		t.Fatalf("MyReservations failed: %v", err)
	}
	if lister.callCount() != 1 {
		t.Fatalf("expected cached answer within TTL, got %d fetches", lister.callCount())
	}

	if _, err := views.MyReservations(ctx, true); err != nil {
		t.Fatalf("forced MyReservations failed: %v", err)
	}
	if lister.callCount() != 2 {
		t.Fatalf("expected force to bypass TTL, got %d fetches", lister.callCount())
	}

	clock.Advance(2 * time.Minute)
	if _, err := views.MyReservations(ctx, false); err != nil {
		t.Fatalf("MyReservations failed: %v", err)
	}
	if lister.callCount() != 3 {
		t.Fatalf("expected refetch after TTL, got %d fetches", lister.callCount())
	}
}

func TestReservationViews_AccessControl(t *testing.T) {
	t.Parallel()

	anonymous, _, _, _ := newViewsFixture(Session{})
	if _, err := anonymous.MyReservations(context.Background(), false); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}

	member, lister, _, _ := newViewsFixture(memberSession)
	if _, err := member.PendingRequests(context.Background(), false); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if lister.callCount() != 0 {
		t.Fatalf("denied views must not fetch")
	}

	admin, adminLister, _, _ := newViewsFixture(adminSession)
	list, err := admin.PendingRequests(context.Background(), false)
	if err != nil {
		t.Fatalf("PendingRequests failed: %v", err)
	}
	if len(list.Items) != 2 {
		t.Fatalf("expected two pending items, got %d", len(list.Items))
	}
	if got := adminLister.calls[0]; !got.ViewAll || got.Status != StatusPending {
		t.Fatalf("unexpected pending query: %+v", got)
	}
}

func TestReservationViews_ConcurrentReadsShareOneFetch(t *testing.T) {
	t.Parallel()

	views, lister, _, _ := newViewsFixture(memberSession)
	lister.started = make(chan struct{}, 1)
	lister.release = make(chan struct{})

	const readers = 4
	var wg sync.WaitGroup
	results := make(chan ReservationList, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			list, err := views.MyReservations(context.Background(), false)
			if err != nil {
				t.Errorf("MyReservations failed: %v", err)
				return
			}
			results <- list
		}()
	}

	<-lister.started
	time.Sleep(20 * time.Millisecond)
	close(lister.release)
	wg.Wait()
	close(results)

	if got := lister.callCount(); got != 1 {
		t.Fatalf("expected one fetch for concurrent readers, got %d", got)
	}
	for list := range results {
		if len(list.Items) != 2 {
			t.Fatalf("every reader must see the fetched list, got %+v", list)
		}
	}
}

func TestReservationViews_CancelledReaderDoesNotFailJoinedReader(t *testing.T) {
	t.Parallel()

	views, lister, history, _ := newViewsFixture(memberSession)
	lister.started = make(chan struct{}, 1)
	lister.release = make(chan struct{})

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	errA := make(chan error, 1)
	go func() {
		_, err := views.MyReservations(ctxA, false)
		errA <- err
	}()
	<-lister.started

	type result struct {
		list ReservationList
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		list, err := views.MyReservations(context.Background(), false)
		resB <- result{list: list, err: err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled for the cancelled reader, got %v", err)
	}
	close(lister.release)

	got := <-resB
	if got.err != nil {
		t.Fatalf("expected joined reader to succeed, got %v", got.err)
	}
	if len(got.list.Items) != 2 || got.list.Stale {
		t.Fatalf("expected the fetched list, got %+v", got.list)
	}
	if got := lister.callCount(); got != 1 {
		t.Fatalf("expected one shared fetch, got %d", got)
	}
	if _, err := history.LoadHistory(context.Background(), memberSession.AccountID); err != nil {
		t.Fatalf("expected history persisted after the cancelled reader left, got %v", err)
	}
}

func TestReservationViews_ConnectivityFallback(t *testing.T) {
	t.Parallel()

	t.Run("serves cached snapshot as stale", func(t *testing.T) {
		t.Parallel()
		views, lister, _, clock := newViewsFixture(memberSession)
		if _, err := views.MyReservations(context.Background(), false); err != nil {
			t.Fatalf("MyReservations failed: %v", err)
		}
		clock.Advance(2 * time.Minute)
		lister.setErr(errors.Join(ErrConnectivity, errNetworkDown))

		list, err := views.MyReservations(context.Background(), false)
		if err != nil {
			t.Fatalf("expected fallback, got %v", err)
		}
		if !list.Stale || list.StaleReason == "" || len(list.Items) != 2 {
			t.Fatalf("expected stale snapshot, got %+v", list)
		}
	})

	t.Run("falls back to persisted history after restart", func(t *testing.T) {
		t.Parallel()
		views, lister, history, _ := newViewsFixture(memberSession)
		if _, err := views.MyReservations(context.Background(), false); err != nil {
			t.Fatalf("MyReservations failed: %v", err)
		}
		if _, err := history.LoadHistory(context.Background(), memberSession.AccountID); err != nil {
			t.Fatalf("expected history persisted, got %v", err)
		}

		restarted := NewReservationViews(staticSessions{session: memberSession}, lister, history, time.Minute, fixedNow(testfixtures.ReferenceTime()))
		lister.setErr(errors.Join(ErrConnectivity, errNetworkDown))
		list, err := restarted.MyReservations(context.Background(), false)
		if err != nil {
			t.Fatalf("expected history fallback, got %v", err)
		}
		if !list.Stale || len(list.Items) != 2 {
			t.Fatalf("expected stale history, got %+v", list)
		}
	})

	t.Run("forced reads surface the failure", func(t *testing.T) {
		t.Parallel()
		views, lister, _, _ := newViewsFixture(memberSession)
		if _, err := views.MyReservations(context.Background(), false); err != nil {
			t.Fatalf("MyReservations failed: %v", err)
		}
		lister.setErr(errors.Join(ErrConnectivity, errNetworkDown))
		if _, err := views.MyReservations(context.Background(), true); !errors.Is(err, ErrConnectivity) {
			t.Fatalf("expected connectivity error, got %v", err)
		}
	})

	t.Run("server rejections are not masked", func(t *testing.T) {
		t.Parallel()
		views, lister, _, clock := newViewsFixture(memberSession)
		if _, err := views.MyReservations(context.Background(), false); err != nil {
			t.Fatalf("MyReservations failed: %v", err)
		}
		clock.Advance(2 * time.Minute)
		lister.setErr(&RejectedError{Status: 500, Message: "server error"})
		var rejected *RejectedError
		if _, err := views.MyReservations(context.Background(), false); !errors.As(err, &rejected) {
			t.Fatalf("expected RejectedError, got %v", err)
		}
	})
}

func TestReservationViews_ApplyReviewPatchesBothViews(t *testing.T) {
	t.Parallel()

	views, lister, _, _ := newViewsFixture(adminSession)
	ctx := context.Background()
	if _, err := views.MyReservations(ctx, false); err != nil {
		t.Fatalf("MyReservations failed: %v", err)
	}
	if _, err := views.PendingRequests(ctx, false); err != nil {
		t.Fatalf("PendingRequests failed: %v", err)
	}

	views.ApplyReview("42", StatusApproved)

	pending, err := views.PendingRequests(ctx, false)
	if err != nil {
		t.Fatalf("PendingRequests failed: %v", err)
	}
	if len(pending.Items) != 1 || pending.Items[0].ID != "43" || !pending.Provisional {
		t.Fatalf("expected 42 removed from pending, got %+v", pending)
	}

	mine, err := views.MyReservations(ctx, false)
	if err != nil {
		t.Fatalf("MyReservations failed: %v", err)
	}
	var found bool
	for _, item := range mine.Items {
		if item.ID == "42" {
			found = true
			if item.Status != StatusApproved {
				t.Fatalf("expected 42 approved in history, got %s", item.Status)
			}
		}
	}
	if !found || !mine.Provisional {
		t.Fatalf("expected provisional history carrying 42, got %+v", mine)
	}
	if lister.callCount() != 2 {
		t.Fatalf("local patches must not refetch, got %d fetches", lister.callCount())
	}

	if got, ok := views.Lookup("43"); !ok || got.Classroom != "ECG101" {
		t.Fatalf("expected Lookup to find 43, got %+v %v", got, ok)
	}
}

func TestReservationViews_FetchStartedBeforePatchIsNotStored(t *testing.T) {
	t.Parallel()

	views, lister, _, _ := newViewsFixture(adminSession)
	ctx := context.Background()
	if _, err := views.PendingRequests(ctx, false); err != nil {
		t.Fatalf("PendingRequests failed: %v", err)
	}

	lister.mu.Lock()
	lister.started = make(chan struct{}, 1)
	lister.release = make(chan struct{})
	lister.mu.Unlock()

	done := make(chan ReservationList, 1)
	go func() {
		list, err := views.PendingRequests(ctx, true)
		if err != nil {
			t.Errorf("PendingRequests failed: %v", err)
		}
		done <- list
	}()
	<-lister.started
	views.Remove("42")
	close(lister.release)

	raced := <-done
	if !raced.Provisional {
		t.Fatalf("a fetch overtaken by a local patch must be marked provisional")
	}

	lister.mu.Lock()
	lister.started, lister.release = nil, nil
	lister.mu.Unlock()

	// The entry was expired, so the next read fetches a confirmed list.
	confirmed, err := views.PendingRequests(ctx, false)
	if err != nil {
		t.Fatalf("PendingRequests failed: %v", err)
	}
	if confirmed.Provisional || lister.callCount() != 3 {
		t.Fatalf("expected confirmed refetch, got %+v after %d fetches", confirmed, lister.callCount())
	}
}

func TestReservationViews_InvalidateAndReset(t *testing.T) {
	t.Parallel()

	views, lister, _, _ := newViewsFixture(adminSession)
	ctx := context.Background()
	_, _ = views.MyReservations(ctx, false)
	_, _ = views.PendingRequests(ctx, false)

	views.InvalidateMine()
	_, _ = views.MyReservations(ctx, false)
	_, _ = views.PendingRequests(ctx, false)
	if lister.callCount() != 3 {
		t.Fatalf("expected only own history refetched, got %d fetches", lister.callCount())
	}

	views.InvalidatePending()
	_, _ = views.PendingRequests(ctx, false)
	if lister.callCount() != 4 {
		t.Fatalf("expected pending refetched, got %d fetches", lister.callCount())
	}

	views.Reset()
	if _, ok := views.Lookup("7"); ok {
		t.Fatalf("Reset must drop cached lists")
	}
}
