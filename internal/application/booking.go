package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/example/classroom-booking/internal/scheduler"
)

// ReservationBackend performs the reservation mutations against the server.
type ReservationBackend interface {
	CreateReservation(ctx context.Context, draft Draft) (Reservation, error)
	CancelReservation(ctx context.Context, id string) (Reservation, error)
	UpdateReservationStatus(ctx context.Context, id string, status Status) (Reservation, error)
}

// Phase is the state of a booking attempt.
type Phase int

const (
	PhaseSelecting Phase = iota
	PhaseSubmitting
	PhaseConfirmed
	PhaseRejectedByServer
	PhaseNetworkFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseSelecting:
		return "selecting"
	case PhaseSubmitting:
		return "submitting"
	case PhaseConfirmed:
		return "confirmed"
	case PhaseRejectedByServer:
		return "rejected_by_server"
	case PhaseNetworkFailed:
		return "network_failed"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Attempt records how one submission ended.
type Attempt struct {
	Draft       Draft
	Phase       Phase
	Reservation Reservation
	Err         error
	StartedAt   time.Time
	FinishedAt  time.Time
}

// BookingOrchestrator drives submit, cancel and review, and keeps the
// availability and reservation view caches coherent afterwards.
type BookingOrchestrator struct {
	sessions     sessionSource
	backend      ReservationBackend
	availability *AvailabilityCache
	views        *ReservationViews
	now          func() time.Time
	logger       *slog.Logger

	mu    sync.Mutex
	phase Phase
	last  Attempt
}

// NewBookingOrchestrator constructs a BookingOrchestrator. availability and
// views may be nil, in which case the corresponding reconciliation is skipped.
func NewBookingOrchestrator(sessions sessionSource, backend ReservationBackend, availability *AvailabilityCache, views *ReservationViews, now func() time.Time) *BookingOrchestrator {
	return NewBookingOrchestratorWithLogger(sessions, backend, availability, views, now, nil)
}

// NewBookingOrchestratorWithLogger constructs a BookingOrchestrator with a specified logger.
func NewBookingOrchestratorWithLogger(sessions sessionSource, backend ReservationBackend, availability *AvailabilityCache, views *ReservationViews, now func() time.Time, logger *slog.Logger) *BookingOrchestrator {
	if now == nil {
		now = time.Now
	}
	return &BookingOrchestrator{
		sessions:     sessions,
		backend:      backend,
		availability: availability,
		views:        views,
		now:          now,
		logger:       defaultLogger(logger),
	}
}

func (o *BookingOrchestrator) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, o.logger, "BookingOrchestrator", operation, attrs...)
}

// Phase returns the current state. Between submissions it is always PhaseSelecting.
func (o *BookingOrchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// LastAttempt returns the outcome of the most recent submission.
func (o *BookingOrchestrator) LastAttempt() Attempt {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// Submit sends draft to the server. Local checks run first and fail without a
// network call; the server is asked exactly once.
func (o *BookingOrchestrator) Submit(ctx context.Context, draft Draft) (attempt Attempt, err error) {
	if o == nil {
		err = fmt.Errorf("BookingOrchestrator is nil")
		return
	}
	if o.backend == nil {
		err = fmt.Errorf("reservation backend not configured")
		return
	}

	draft.Classroom = strings.TrimSpace(draft.Classroom)
	attempt = Attempt{Draft: draft, Phase: PhaseSelecting, StartedAt: o.now()}

	logger := o.loggerWith(ctx, "Submit",
		"classroom", draft.Classroom,
		"date", draft.Date.String(),
		"time_slot", draft.Slot.String(),
	)
	defer func() {
		attempt.Err = err
		if err != nil {
			logger.ErrorContext(ctx, "reservation submit failed", "error", err, "error_kind", ErrorKind(err), "phase", attempt.Phase.String())
			return
		}
		logger.With("reservation_id", attempt.Reservation.ID).InfoContext(ctx, "reservation submitted")
	}()

	var session Session
	session, err = o.sessions.CurrentSession(ctx)
	if err != nil {
		return
	}
	if session.Anonymous() {
		err = ErrNotAuthenticated
		return
	}

	if vErr := o.validateDraft(draft); vErr.HasErrors() {
		err = vErr
		return
	}
	if o.availability != nil && o.availability.AnyOccupied(draft.Classroom, draft.Date, draft.Slot) {
		err = ErrSlotOccupied
		return
	}
	if conflicts := o.ownConflicts(session, draft); len(conflicts) > 0 {
		logger.DebugContext(ctx, "draft overlaps own reservation", "reservation_id", conflicts[0].WithBookingID, "hours", conflicts[0].Hours)
		err = ErrSlotOccupied
		return
	}

	if err = o.begin(); err != nil {
		return
	}
	attempt.Phase = PhaseSubmitting
	defer func() {
		attempt.Err = err
		attempt.FinishedAt = o.now()
		o.finish(attempt)
	}()

	var created Reservation
	created, err = o.backend.CreateReservation(ctx, draft)
	if err != nil {
		attempt.Phase = submitFailurePhase(err)
		if attempt.Phase == PhaseRejectedByServer {
			// A raced slot must stop being offered.
			o.reloadRoom(ctx, logger, draft.Classroom)
		}
		return
	}

	created = completeFromDraft(created, draft)
	attempt.Phase = PhaseConfirmed
	attempt.Reservation = created

	if o.availability != nil {
		o.availability.MarkOccupied(created.Classroom, created.Date, created.Slot)
	}
	o.reloadRoom(ctx, logger, created.Classroom)
	if o.views != nil {
		o.views.InvalidateMine()
		if session.IsAdmin {
			o.views.InvalidatePending()
		}
	}
	return
}

// Cancel withdraws a pending or approved reservation owned by the user.
func (o *BookingOrchestrator) Cancel(ctx context.Context, reservation Reservation) (updated Reservation, err error) {
	if o == nil {
		err = fmt.Errorf("BookingOrchestrator is nil")
		return
	}
	if o.backend == nil {
		err = fmt.Errorf("reservation backend not configured")
		return
	}

	logger := o.loggerWith(ctx, "Cancel", "reservation_id", reservation.ID, "status", string(reservation.Status))
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "reservation cancel failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "reservation cancelled")
	}()

	if reservation.ID == "" || reservation.Origin == OriginLocalDraft || !reservation.Status.Cancellable() {
		err = ErrNotCancellable
		return
	}

	updated, err = o.backend.CancelReservation(ctx, reservation.ID)
	if err != nil {
		return
	}
	if updated.ID == "" {
		updated = reservation
	}
	updated.Status = StatusCancelled
	if updated.Classroom == "" {
		updated.Classroom = reservation.Classroom
	}

	if o.views != nil {
		o.views.PatchStatus(reservation.ID, StatusCancelled)
		o.views.Remove(reservation.ID)
	}
	o.refreshLoadedRoom(ctx, logger, updated.Classroom)
	return
}

// Review approves or rejects a pending reservation. Admin only. Both cached
// views are patched locally; the patch stays provisional until the next fetch.
func (o *BookingOrchestrator) Review(ctx context.Context, id string, decision Status) (updated Reservation, err error) {
	if o == nil {
		err = fmt.Errorf("BookingOrchestrator is nil")
		return
	}
	if o.backend == nil {
		err = fmt.Errorf("reservation backend not configured")
		return
	}

	id = strings.TrimSpace(id)
	logger := o.loggerWith(ctx, "Review", "reservation_id", id, "decision", string(decision))
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "reservation review failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "reservation reviewed")
	}()

	var session Session
	session, err = o.sessions.CurrentSession(ctx)
	if err != nil {
		return
	}
	if session.Anonymous() {
		err = ErrNotAuthenticated
		return
	}
	if !session.IsAdmin {
		err = ErrUnauthorized
		return
	}

	vErr := &ValidationError{}
	if id == "" {
		vErr.add("id", "reservation id is required")
	}
	if decision != StatusApproved && decision != StatusRejected {
		vErr.add("status", "decision must be approved or rejected")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	var known Reservation
	if o.views != nil {
		known, _ = o.views.Lookup(id)
	}

	updated, err = o.backend.UpdateReservationStatus(ctx, id, decision)
	if err != nil {
		return
	}
	if updated.ID == "" {
		updated.ID = id
	}
	if updated.Classroom == "" {
		updated.Classroom = known.Classroom
	}
	updated.Status = decision

	if o.views != nil {
		o.views.ApplyReview(id, decision)
	}
	if decision == StatusRejected {
		o.refreshLoadedRoom(ctx, logger, updated.Classroom)
	}
	return
}

func (o *BookingOrchestrator) validateDraft(draft Draft) *ValidationError {
	vErr := &ValidationError{}
	if draft.Classroom == "" {
		vErr.add("classroom", "classroom is required")
	}
	if draft.Date.IsZero() {
		vErr.add("date", "date is required")
	} else if draft.Date.Before(scheduler.DateOf(o.now())) {
		vErr.add("date", "date must not be in the past")
	}
	if !draft.Slot.Valid() {
		vErr.add("time_slot", "time slot is invalid")
	}
	return vErr
}

// ownConflicts checks draft against the cached own history, which may know
// about reservations the occupancy map has not loaded yet.
func (o *BookingOrchestrator) ownConflicts(session Session, draft Draft) []scheduler.Conflict {
	if o.views == nil {
		return nil
	}
	mine := o.views.CachedMine(session.AccountID)
	existing := make([]scheduler.Booking, 0, len(mine))
	for _, reservation := range mine {
		existing = append(existing, reservation.Booking())
	}
	return scheduler.DetectConflicts(existing, draft.Booking())
}

func (o *BookingOrchestrator) begin() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.phase == PhaseSubmitting {
		return ErrSubmissionInProgress
	}
	o.phase = PhaseSubmitting
	return nil
}

func (o *BookingOrchestrator) finish(attempt Attempt) {
	o.mu.Lock()
	o.phase = PhaseSelecting
	o.last = attempt
	o.mu.Unlock()
}

// reloadRoom reloads occupancy for room, loading the default window when the
// room was never loaded.
func (o *BookingOrchestrator) reloadRoom(ctx context.Context, logger *slog.Logger, room string) {
	if o.availability == nil || room == "" {
		return
	}
	var err error
	if _, loaded := o.availability.Occupancy(room); loaded {
		err = o.availability.Refresh(ctx, room)
	} else {
		_, err = o.availability.LoadWindow(ctx, room)
	}
	logReloadError(ctx, logger, room, err)
}

func (o *BookingOrchestrator) refreshLoadedRoom(ctx context.Context, logger *slog.Logger, room string) {
	if o.availability == nil || room == "" {
		return
	}
	logReloadError(ctx, logger, room, o.availability.Refresh(ctx, room))
}

func logReloadError(ctx context.Context, logger *slog.Logger, room string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrStaleResponse):
		logger.DebugContext(ctx, "occupancy reload dropped for unselected room", "room", room)
	default:
		logger.WarnContext(ctx, "occupancy reload failed", "room", room, "error", err, "error_kind", ErrorKind(err))
	}
}

func submitFailurePhase(err error) Phase {
	switch {
	case errors.Is(err, ErrConnectivity),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return PhaseNetworkFailed
	}
	return PhaseRejectedByServer
}

func completeFromDraft(created Reservation, draft Draft) Reservation {
	if created.Classroom == "" {
		created.Classroom = draft.Classroom
	}
	if created.Date.IsZero() {
		created.Date = draft.Date
	}
	if !created.Slot.Valid() {
		created.Slot = draft.Slot
	}
	if created.Reason == "" {
		created.Reason = draft.Reason
	}
	if created.Status == "" {
		created.Status = StatusPending
	}
	created.Origin = OriginServer
	return created
}
