package application

import (
	"encoding/json"
	"io"
	"net/url"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/example/classroom-booking/internal/scheduler"
)

// Session is the identity held by this client. A zero Session is anonymous.
type Session struct {
	AccountID    string
	DisplayName  string
	IsAdmin      bool
	AccessToken  string
	RefreshToken string
}

// Anonymous reports whether no user is signed in.
func (s Session) Anonymous() bool {
	return s.AccessToken == "" && s.AccountID == ""
}

// SessionRecord is the persisted form of a session. IsAdmin is never stored;
// it is derived from the access token every time the record is read.
type SessionRecord struct {
	AccountID    string
	DisplayName  string
	AccessToken  string
	RefreshToken string
	Revision     int64
	UpdatedAt    time.Time
}

// Status is the lifecycle state of a reservation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether the status is one of the four known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Active reports whether the reservation still holds its hours.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusApproved
}

// Cancellable reports whether the owner may still cancel.
func (s Status) Cancellable() bool {
	return s.Active()
}

// Building is a booking target grouping classrooms.
type Building struct {
	Code           string
	Name           string
	ClassroomCount int
}

// Classroom is a bookable room.
type Classroom struct {
	RoomCode      string
	Building      string
	Name          string
	Capacity      int
	HasProjector  bool
	HasWhiteboard bool
	HasNetwork    bool
	HasMic        bool
}

// ClassroomFilter carries the server-side search parameters for room listings.
type ClassroomFilter struct {
	Building      string
	Search        string
	MinCapacity   int
	HasProjector  bool
	HasWhiteboard bool
	HasMic        bool
	HasNetwork    bool
}

// ClassroomInput captures caller provided classroom fields for the editor.
type ClassroomInput struct {
	RoomCode      string
	Building      string
	Name          string
	Capacity      int
	HasProjector  bool
	HasWhiteboard bool
	HasNetwork    bool
	HasMic        bool
}

// RecordOrigin tells server-confirmed reservations apart from local drafts.
type RecordOrigin int

const (
	// OriginServer marks a record decoded from a backend response.
	OriginServer RecordOrigin = iota
	// OriginLocalDraft marks a provisional record built from a Draft.
	OriginLocalDraft
)

// Reservation is the single canonical reservation shape. Backend payloads and
// local drafts are both normalised into it on receipt.
type Reservation struct {
	ID        string
	Classroom string
	Date      scheduler.Date
	Slot      scheduler.TimeSlot
	Reason    string
	Status    Status
	CreatedAt time.Time
	Requester string
	Origin    RecordOrigin
}

// Booking converts the reservation for conflict checks.
func (r Reservation) Booking() scheduler.Booking {
	return scheduler.Booking{
		ID:     r.ID,
		Room:   r.Classroom,
		Date:   r.Date,
		Slot:   r.Slot,
		Active: r.Status.Active(),
	}
}

// Draft is a booking the user is about to submit.
type Draft struct {
	LocalID   uuid.UUID
	Classroom string
	Date      scheduler.Date
	Slot      scheduler.TimeSlot
	Reason    string
}

// NewDraft returns a draft with a fresh local identifier.
func NewDraft(classroom string, date scheduler.Date, slot scheduler.TimeSlot, reason string) Draft {
	return Draft{
		LocalID:   uuid.New(),
		Classroom: classroom,
		Date:      date,
		Slot:      slot,
		Reason:    reason,
	}
}

// Booking converts the draft into a conflict check candidate.
func (d Draft) Booking() scheduler.Booking {
	return scheduler.Booking{Room: d.Classroom, Date: d.Date, Slot: d.Slot, Active: true}
}

// Provisional renders the draft as a pending reservation that has not been confirmed.
func (d Draft) Provisional(requester string, createdAt time.Time) Reservation {
	return Reservation{
		ID:        "draft-" + d.LocalID.String(),
		Classroom: d.Classroom,
		Date:      d.Date,
		Slot:      d.Slot,
		Reason:    d.Reason,
		Status:    StatusPending,
		CreatedAt: createdAt,
		Requester: requester,
		Origin:    OriginLocalDraft,
	}
}

// OccupiedSlot is one row of the occupied-slots answer.
type OccupiedSlot struct {
	Date   scheduler.Date
	Slot   scheduler.TimeSlot
	Status Status
}

// ReservationQuery narrows reservation listings.
type ReservationQuery struct {
	ViewAll bool
	Status  Status
	Limit   int
}

// User is an account as seen by the blacklist administration panel.
type User struct {
	ID        string
	Username  string
	Email     string
	FirstName string
	LastName  string
}

// UserDirectory partitions accounts by blacklist membership.
type UserDirectory struct {
	Normal      []User
	Blacklisted []User
}

// Occupancy maps each date to the set of occupied hours.
type Occupancy map[scheduler.Date]map[int]struct{}

// Has reports whether hour is occupied on date.
func (o Occupancy) Has(date scheduler.Date, hour int) bool {
	hours, ok := o[date]
	if !ok {
		return false
	}
	_, occupied := hours[hour]
	return occupied
}

// Hours lists the occupied hours of date in ascending order.
func (o Occupancy) Hours(date scheduler.Date) []int {
	hours := o[date]
	if len(hours) == 0 {
		return nil
	}
	out := make([]int, 0, len(hours))
	for h := range hours {
		out = append(out, h)
	}
	sort.Ints(out)
	return out
}

func (o Occupancy) add(date scheduler.Date, slot scheduler.TimeSlot) {
	hours, ok := o[date]
	if !ok {
		hours = make(map[int]struct{}, slot.End-slot.Start)
		o[date] = hours
	}
	for _, h := range slot.Hours() {
		hours[h] = struct{}{}
	}
}

func (o Occupancy) clone() Occupancy {
	if o == nil {
		return nil
	}
	out := make(Occupancy, len(o))
	for date, hours := range o {
		copied := make(map[int]struct{}, len(hours))
		for h := range hours {
			copied[h] = struct{}{}
		}
		out[date] = copied
	}
	return out
}

// Request is a transport-neutral description of one backend call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// Response is what the transport observed for a Request.
type Response struct {
	StatusCode int
	Body       []byte
	RequestID  string
}

// OK reports a 2xx status.
func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the JSON body into v. An empty body leaves v untouched.
func (r Response) Decode(v any) error {
	if len(r.Body) == 0 || v == nil {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil && err != io.EOF {
		return err
	}
	return nil
}
