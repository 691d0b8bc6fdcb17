package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"
)

var (
	accountCounter     uint64
	reservationCounter uint64
)

var referenceTime = time.Date(2025, time.November, 20, 9, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ----------------------------- Account fixtures -----------------------------

// AccountFixture is a backend account known to the fake server.
type AccountFixture struct {
	ID       int
	Account  string
	Name     string
	Password string
	IsStaff  bool
}

// AccountOption configures the generated account fixture.
type AccountOption func(*AccountFixture)

// NewAccountFixture returns a deterministic account fixture with optional overrides.
func NewAccountFixture(opts ...AccountOption) AccountFixture {
	idx := atomic.AddUint64(&accountCounter, 1)
	fixture := AccountFixture{
		ID:       int(idx),
		Account:  fmt.Sprintf("user%03d@mail.example.edu", idx),
		Name:     fmt.Sprintf("User %03d", idx),
		Password: "secret123",
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithAccount overrides the login name.
func WithAccount(account string) AccountOption {
	return func(f *AccountFixture) {
		f.Account = account
	}
}

// WithAccountName overrides the display name.
func WithAccountName(name string) AccountOption {
	return func(f *AccountFixture) {
		f.Name = name
	}
}

// WithPassword overrides the password.
func WithPassword(password string) AccountOption {
	return func(f *AccountFixture) {
		f.Password = password
	}
}

// WithStaff marks the account as an administrator.
func WithStaff() AccountOption {
	return func(f *AccountFixture) {
		f.IsStaff = true
	}
}

// ----------------------------- Catalog fixtures -----------------------------

// BuildingFixture is a building row.
type BuildingFixture struct {
	Code string
	Name string
}

// ClassroomFixture is a classroom row.
type ClassroomFixture struct {
	ID            int
	RoomCode      string
	Building      string
	Name          string
	Capacity      int
	HasProjector  bool
	HasWhiteboard bool
	HasNetwork    bool
	HasMic        bool
}

// DefaultBuildings returns the buildings seeded into a new fake backend.
func DefaultBuildings() []BuildingFixture {
	return []BuildingFixture{
		{Code: "INS", Name: "資工系館"},
		{Code: "ECG", Name: "電機二館"},
	}
}

// DefaultClassrooms returns the classrooms seeded into a new fake backend.
func DefaultClassrooms() []ClassroomFixture {
	return []ClassroomFixture{
		{ID: 1, RoomCode: "INS201", Building: "INS", Name: "INS201 Lecture", Capacity: 60, HasProjector: true, HasWhiteboard: true, HasNetwork: true},
		{ID: 2, RoomCode: "INS202", Building: "INS", Name: "INS202 Seminar", Capacity: 20, HasWhiteboard: true},
		{ID: 3, RoomCode: "ECG101", Building: "ECG", Name: "ECG101 Hall", Capacity: 120, HasProjector: true, HasMic: true, HasNetwork: true},
	}
}

// --------------------------- Reservation fixtures ---------------------------

// ReservationFixture is a reservation row in wire form.
type ReservationFixture struct {
	ID        int
	Classroom string
	Account   string
	Date      string
	TimeSlot  string
	Reason    string
	Status    string
	CreatedAt time.Time
}

// ReservationOption configures the generated reservation fixture.
type ReservationOption func(*ReservationFixture)

// NewReservationFixture returns a deterministic pending reservation.
func NewReservationFixture(opts ...ReservationOption) ReservationFixture {
	idx := atomic.AddUint64(&reservationCounter, 1)
	fixture := ReservationFixture{
		ID:        int(idx),
		Classroom: "INS201",
		Date:      referenceTime.AddDate(0, 0, 11).Format("2006-01-02"),
		TimeSlot:  "10-12",
		Reason:    fmt.Sprintf("meeting %03d", idx),
		Status:    "pending",
		CreatedAt: referenceTime.Add(time.Duration(idx) * time.Minute),
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithReservationID overrides the identifier.
func WithReservationID(id int) ReservationOption {
	return func(f *ReservationFixture) {
		f.ID = id
	}
}

// WithReservationRoom overrides the classroom.
func WithReservationRoom(room string) ReservationOption {
	return func(f *ReservationFixture) {
		f.Classroom = room
	}
}

// WithReservationOwner sets the owning account.
func WithReservationOwner(account string) ReservationOption {
	return func(f *ReservationFixture) {
		f.Account = account
	}
}

// WithReservationSlot sets the date and time slot.
func WithReservationSlot(date, timeSlot string) ReservationOption {
	return func(f *ReservationFixture) {
		f.Date = date
		f.TimeSlot = timeSlot
	}
}

// WithReservationStatus overrides the status.
func WithReservationStatus(status string) ReservationOption {
	return func(f *ReservationFixture) {
		f.Status = status
	}
}
