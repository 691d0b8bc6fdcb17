package scheduler

// Booking is the minimal shape of a reservation needed for conflict checks.
type Booking struct {
	ID     string
	Room   string
	Date   Date
	Slot   TimeSlot
	Active bool
}

// Conflict details an overlap between a candidate and an existing booking.
type Conflict struct {
	WithBookingID string
	Room          string
	Date          Date
	Hours         []int
}

// DetectConflicts returns every active booking in the same room and date whose
// slot overlaps the candidate. Inactive bookings never conflict.
func DetectConflicts(existing []Booking, candidate Booking) []Conflict {
	if !candidate.Slot.Valid() {
		return nil
	}

	var conflicts []Conflict
	for _, booking := range existing {
		if !booking.Active {
			continue
		}
		if booking.ID != "" && booking.ID == candidate.ID {
			continue
		}
		if booking.Room != candidate.Room || booking.Date != candidate.Date {
			continue
		}
		if !booking.Slot.Overlaps(candidate.Slot) {
			continue
		}
		conflicts = append(conflicts, Conflict{
			WithBookingID: booking.ID,
			Room:          booking.Room,
			Date:          booking.Date,
			Hours:         sharedHours(booking.Slot, candidate.Slot),
		})
	}
	return conflicts
}

func sharedHours(a, b TimeSlot) []int {
	start := max(a.Start, b.Start)
	end := min(a.End, b.End)
	if start >= end {
		return nil
	}
	hours := make([]int, 0, end-start)
	for h := start; h < end; h++ {
		hours = append(hours, h)
	}
	return hours
}
