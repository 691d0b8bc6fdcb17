package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/example/classroom-booking/internal/application"
	"github.com/example/classroom-booking/internal/scheduler"
)

var (
	_ application.CatalogBackend     = (*Client)(nil)
	_ application.ReservationBackend = (*Client)(nil)
	_ application.ReservationLister  = (*Client)(nil)
	_ application.OccupancySource    = (*Client)(nil)
	_ application.BlacklistBackend   = (*Client)(nil)
)

const (
	maxClassroomPages   = 100
	maxReservationLimit = 500
)

// Requester sends a request with the current session's credentials.
// application.SessionManager implements it.
type Requester interface {
	AuthenticatedRequest(ctx context.Context, req application.Request) (application.Response, error)
}

// Client is the typed backend client. Public reads go out without a token;
// everything else goes through the Requester.
type Client struct {
	public Sender
	authed Requester
	logger *slog.Logger
}

// NewClient constructs a Client.
func NewClient(public Sender, authed Requester, logger *slog.Logger) *Client {
	return &Client{public: public, authed: authed, logger: defaultLogger(logger)}
}

// ListBuildings returns every building.
func (c *Client) ListBuildings(ctx context.Context) ([]application.Building, error) {
	var out []buildingDTO
	if err := c.publicCall(ctx, application.Request{Method: http.MethodGet, Path: "/api/rooms/classrooms/buildings/"}, &out); err != nil {
		return nil, err
	}
	buildings := make([]application.Building, 0, len(out))
	for _, b := range out {
		buildings = append(buildings, b.toApplication())
	}
	return buildings, nil
}

// ListClassrooms returns every classroom matching filter, following the
// listing's next links until the last page.
func (c *Client) ListClassrooms(ctx context.Context, filter application.ClassroomFilter) ([]application.Classroom, error) {
	req := application.Request{
		Method: http.MethodGet,
		Path:   "/api/rooms/classrooms/",
		Query:  classroomQuery(filter),
	}

	var classrooms []application.Classroom
	seen := make(map[string]bool)
	for page := 0; page < maxClassroomPages; page++ {
		resp, err := c.public.Send(ctx, req, "")
		if err != nil {
			return nil, err
		}
		if !resp.OK() {
			return nil, rejection(resp)
		}
		decoded, err := decodeClassroomPage(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("decode classroom page: %w", err)
		}
		for _, dto := range decoded.Results {
			classrooms = append(classrooms, dto.toApplication())
		}
		if decoded.Next == nil || *decoded.Next == "" {
			return classrooms, nil
		}

		next, err := nextPageRequest(*decoded.Next)
		if err != nil {
			return nil, err
		}
		key := next.Path + "?" + next.Query.Encode()
		if seen[key] {
			return nil, fmt.Errorf("classroom pagination loops at %s", key)
		}
		seen[key] = true
		req = next
	}
	return nil, fmt.Errorf("classroom listing exceeded %d pages", maxClassroomPages)
}

// nextPageRequest turns an absolute next link into a request relative to the
// transport's base URL, so a backend that reports its own host differently
// is still reached through the configured one.
func nextPageRequest(link string) (application.Request, error) {
	parsed, err := url.Parse(link)
	if err != nil {
		return application.Request{}, fmt.Errorf("invalid next link %q: %w", link, err)
	}
	return application.Request{
		Method: http.MethodGet,
		Path:   parsed.Path,
		Query:  parsed.Query(),
	}, nil
}

func classroomQuery(filter application.ClassroomFilter) url.Values {
	q := url.Values{}
	if v := strings.TrimSpace(filter.Building); v != "" {
		q.Set("building", v)
	}
	if v := strings.TrimSpace(filter.Search); v != "" {
		q.Set("search", v)
	}
	if filter.MinCapacity > 0 {
		q.Set("min_capacity", strconv.Itoa(filter.MinCapacity))
	}
	for name, on := range map[string]bool{
		"has_projector":  filter.HasProjector,
		"has_whiteboard": filter.HasWhiteboard,
		"has_mic":        filter.HasMic,
		"has_network":    filter.HasNetwork,
	} {
		if on {
			q.Set(name, "true")
		}
	}
	return q
}

// CreateClassroom adds a classroom.
func (c *Client) CreateClassroom(ctx context.Context, input application.ClassroomInput) (application.Classroom, error) {
	var out classroomDTO
	if err := c.authedCall(ctx, application.Request{
		Method: http.MethodPost,
		Path:   "/api/rooms/classrooms/",
		Body:   classroomFromInput(input),
	}, &out); err != nil {
		return application.Classroom{}, err
	}
	return out.toApplication(), nil
}

// UpdateClassroom patches the classroom identified by roomCode.
func (c *Client) UpdateClassroom(ctx context.Context, roomCode string, input application.ClassroomInput) (application.Classroom, error) {
	var out classroomDTO
	if err := c.authedCall(ctx, application.Request{
		Method: http.MethodPatch,
		Path:   "/api/rooms/classrooms/" + url.PathEscape(roomCode) + "/",
		Body:   classroomFromInput(input),
	}, &out); err != nil {
		return application.Classroom{}, err
	}
	return out.toApplication(), nil
}

// DeleteClassroom removes the classroom identified by roomCode.
func (c *Client) DeleteClassroom(ctx context.Context, roomCode string) error {
	return c.authedCall(ctx, application.Request{
		Method: http.MethodDelete,
		Path:   "/api/rooms/classrooms/" + url.PathEscape(roomCode) + "/",
	}, nil)
}

// ListReservations returns the caller's reservations, or everyone's when
// query.ViewAll is set and the caller is staff.
func (c *Client) ListReservations(ctx context.Context, query application.ReservationQuery) ([]application.Reservation, error) {
	q := url.Values{}
	if query.ViewAll {
		q.Set("view_all", "true")
	}
	if query.Status != "" {
		q.Set("status", string(query.Status))
	}
	if query.Limit > 0 {
		q.Set("limit", strconv.Itoa(min(query.Limit, maxReservationLimit)))
	}

	var out []reservationDTO
	if err := c.authedCall(ctx, application.Request{Method: http.MethodGet, Path: "/api/reservations/", Query: q}, &out); err != nil {
		return nil, err
	}

	reservations := make([]application.Reservation, 0, len(out))
	for _, dto := range out {
		reservation, err := dto.toApplication()
		if err != nil {
			clientLogger(ctx, c.logger, "Client", "ListReservations").WarnContext(ctx, "skipping malformed reservation", "error", err)
			continue
		}
		reservations = append(reservations, reservation)
	}
	return reservations, nil
}

// CreateReservation submits draft. The answer carries the classroom as a
// numeric key, so Classroom is left empty for the caller to fill.
func (c *Client) CreateReservation(ctx context.Context, draft application.Draft) (application.Reservation, error) {
	var out reservationDTO
	if err := c.authedCall(ctx, application.Request{
		Method: http.MethodPost,
		Path:   "/api/reservations/",
		Body: createReservationRequest{
			Classroom: draft.Classroom,
			Date:      draft.Date.String(),
			TimeSlot:  draft.Slot.String(),
			Reason:    draft.Reason,
		},
	}, &out); err != nil {
		return application.Reservation{}, err
	}
	return out.toApplication()
}

// CancelReservation cancels one of the caller's reservations.
func (c *Client) CancelReservation(ctx context.Context, id string) (application.Reservation, error) {
	var out cancelResponse
	if err := c.authedCall(ctx, application.Request{
		Method: http.MethodDelete,
		Path:   "/api/reservations/" + url.PathEscape(id) + "/cancel/",
	}, &out); err != nil {
		return application.Reservation{}, err
	}
	if out.Reservation.ID == "" {
		return application.Reservation{ID: id, Status: application.StatusCancelled, Origin: application.OriginServer}, nil
	}
	return out.Reservation.toApplication()
}

// UpdateReservationStatus approves or rejects a pending reservation.
func (c *Client) UpdateReservationStatus(ctx context.Context, id string, status application.Status) (application.Reservation, error) {
	var out reservationDTO
	if err := c.authedCall(ctx, application.Request{
		Method: http.MethodPatch,
		Path:   "/api/reservations/" + url.PathEscape(id) + "/status/",
		Body:   statusRequest{Status: string(status)},
	}, &out); err != nil {
		return application.Reservation{}, err
	}
	if out.ID == "" {
		return application.Reservation{ID: id, Status: status, Origin: application.OriginServer}, nil
	}
	return out.toApplication()
}

// OccupiedSlots returns the active reservations of room between from and to
// inclusive. Both bounds are always sent so the server default window never
// applies.
func (c *Client) OccupiedSlots(ctx context.Context, room string, from, to scheduler.Date) ([]application.OccupiedSlot, error) {
	q := url.Values{}
	q.Set("classroom", room)
	q.Set("date_from", from.String())
	q.Set("date_to", to.String())

	var out []occupiedDTO
	if err := c.publicCall(ctx, application.Request{Method: http.MethodGet, Path: "/api/reservations/occupied/", Query: q}, &out); err != nil {
		return nil, err
	}

	slots := make([]application.OccupiedSlot, 0, len(out))
	for _, row := range out {
		date, dateErr := scheduler.ParseDate(row.Date)
		slot, slotErr := scheduler.ParseTimeSlot(row.TimeSlot)
		if dateErr != nil || slotErr != nil {
			clientLogger(ctx, c.logger, "Client", "OccupiedSlots", "room", room).WarnContext(ctx, "skipping malformed occupied slot",
				"date", row.Date, "time_slot", row.TimeSlot)
			continue
		}
		slots = append(slots, application.OccupiedSlot{
			Date:   date,
			Slot:   slot,
			Status: application.Status(strings.ToLower(row.Status)),
		})
	}
	return slots, nil
}

// ListUsers returns accounts split by blacklist membership.
func (c *Client) ListUsers(ctx context.Context) (application.UserDirectory, error) {
	var out userDirectoryResponse
	if err := c.authedCall(ctx, application.Request{Method: http.MethodGet, Path: "/api/blacklist/users/"}, &out); err != nil {
		return application.UserDirectory{}, err
	}
	dir := application.UserDirectory{
		Normal:      make([]application.User, 0, len(out.Normal)),
		Blacklisted: make([]application.User, 0, len(out.Blacklisted)),
	}
	for _, u := range out.Normal {
		dir.Normal = append(dir.Normal, u.toApplication())
	}
	for _, u := range out.Blacklisted {
		dir.Blacklisted = append(dir.Blacklisted, u.toApplication())
	}
	return dir, nil
}

// Ban adds the user to the blacklist.
func (c *Client) Ban(ctx context.Context, userID, reason string) error {
	id, err := numericUserID(userID)
	if err != nil {
		return err
	}
	return c.authedCall(ctx, application.Request{
		Method: http.MethodPost,
		Path:   "/api/blacklist/ban/",
		Body:   banRequest{UserID: id, Reason: reason},
	}, nil)
}

// Unban removes the user from the blacklist.
func (c *Client) Unban(ctx context.Context, userID string) error {
	id, err := numericUserID(userID)
	if err != nil {
		return err
	}
	return c.authedCall(ctx, application.Request{
		Method: http.MethodPost,
		Path:   "/api/blacklist/unban/",
		Body:   banRequest{UserID: id},
	}, nil)
}

// IsBlacklisted reports whether the signed-in user is banned from booking.
func (c *Client) IsBlacklisted(ctx context.Context) (bool, error) {
	var out blacklistCheckResponse
	if err := c.authedCall(ctx, application.Request{Method: http.MethodGet, Path: "/api/blacklist/check/"}, &out); err != nil {
		return false, err
	}
	return out.Blacklisted, nil
}

func numericUserID(userID string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(userID))
	if err != nil || id <= 0 {
		vErr := &application.ValidationError{FieldErrors: map[string]string{"user_id": "user id must be a positive number"}}
		return 0, vErr
	}
	return id, nil
}

func (c *Client) publicCall(ctx context.Context, req application.Request, out any) error {
	if c == nil || c.public == nil {
		return fmt.Errorf("client not configured")
	}
	resp, err := c.public.Send(ctx, req, "")
	return c.finish(ctx, req, resp, err, out)
}

func (c *Client) authedCall(ctx context.Context, req application.Request, out any) error {
	if c == nil || c.authed == nil {
		return fmt.Errorf("client not configured")
	}
	resp, err := c.authed.AuthenticatedRequest(ctx, req)
	return c.finish(ctx, req, resp, err, out)
}

func (c *Client) finish(ctx context.Context, req application.Request, resp application.Response, err error, out any) error {
	if err != nil {
		return err
	}
	if !resp.OK() {
		err := rejection(resp)
		clientLogger(ctx, c.logger, "Client", req.Method+" "+req.Path,
			"status", resp.StatusCode, "request_id", resp.RequestID,
		).InfoContext(ctx, "request rejected", "error", err)
		return err
	}
	if err := resp.Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", req.Method, req.Path, err)
	}
	return nil
}
