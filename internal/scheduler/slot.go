package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidTimeSlot is returned when a slot does not satisfy 0 <= start < end <= 24.
var ErrInvalidTimeSlot = errors.New("scheduler: invalid time slot")

// HoursPerDay bounds every slot end.
const HoursPerDay = 24

// TimeSlot is a half-open hour range [Start, End) within one calendar day.
type TimeSlot struct {
	Start int
	End   int
}

// NewTimeSlot validates the bounds and returns the slot.
func NewTimeSlot(start, end int) (TimeSlot, error) {
	slot := TimeSlot{Start: start, End: end}
	if !slot.Valid() {
		return TimeSlot{}, fmt.Errorf("%w: %d-%d", ErrInvalidTimeSlot, start, end)
	}
	return slot, nil
}

// HourSlot returns the one-hour slot starting at hour.
func HourSlot(hour int) TimeSlot {
	return TimeSlot{Start: hour, End: hour + 1}
}

// ParseTimeSlot decodes the wire form "<start>-<end>".
func ParseTimeSlot(value string) (TimeSlot, error) {
	startText, endText, ok := strings.Cut(strings.TrimSpace(value), "-")
	if !ok {
		return TimeSlot{}, fmt.Errorf("%w: %q", ErrInvalidTimeSlot, value)
	}
	start, err := strconv.Atoi(strings.TrimSpace(startText))
	if err != nil {
		return TimeSlot{}, fmt.Errorf("%w: %q", ErrInvalidTimeSlot, value)
	}
	end, err := strconv.Atoi(strings.TrimSpace(endText))
	if err != nil {
		return TimeSlot{}, fmt.Errorf("%w: %q", ErrInvalidTimeSlot, value)
	}
	return NewTimeSlot(start, end)
}

// Valid reports whether 0 <= Start < End <= 24.
func (t TimeSlot) Valid() bool {
	return t.Start >= 0 && t.Start < t.End && t.End <= HoursPerDay
}

// String encodes the slot in its wire form, e.g. "9-11".
func (t TimeSlot) String() string {
	return strconv.Itoa(t.Start) + "-" + strconv.Itoa(t.End)
}

// Contains reports whether hour falls inside the half-open range.
func (t TimeSlot) Contains(hour int) bool {
	return hour >= t.Start && hour < t.End
}

// Overlaps reports whether the two ranges share at least one hour.
// Adjacent slots such as 14-15 and 15-16 do not overlap.
func (t TimeSlot) Overlaps(other TimeSlot) bool {
	return !(other.End <= t.Start || other.Start >= t.End)
}

// Hours expands the slot into the individual hours it covers.
func (t TimeSlot) Hours() []int {
	if !t.Valid() {
		return nil
	}
	hours := make([]int, 0, t.End-t.Start)
	for h := t.Start; h < t.End; h++ {
		hours = append(hours, h)
	}
	return hours
}

// MarshalText implements encoding.TextMarshaler.
func (t TimeSlot) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d-%d", ErrInvalidTimeSlot, t.Start, t.End)
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TimeSlot) UnmarshalText(text []byte) error {
	parsed, err := ParseTimeSlot(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
