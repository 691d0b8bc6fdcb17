package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/example/classroom-booking/internal/scheduler"
)

// OccupancySource fetches the occupied slots of one room for an inclusive date range.
type OccupancySource interface {
	OccupiedSlots(ctx context.Context, room string, from, to scheduler.Date) ([]OccupiedSlot, error)
}

const defaultOccupancyMonths = 6

// AvailabilityCache answers per-room occupancy questions from the last
// successful load. Loads replace a room's map wholesale; failed loads leave it
// as it was.
type AvailabilityCache struct {
	source     OccupancySource
	now        func() time.Time
	windowDays int
	logger     *slog.Logger

	loads singleflight.Group

	mu       sync.Mutex
	selected string
	issued   map[string]uint64
	rooms    map[string]*roomOccupancy
}

type roomOccupancy struct {
	occupancy Occupancy
	seq       uint64
	from      scheduler.Date
	to        scheduler.Date
	loadedAt  time.Time
}

// NewAvailabilityCache constructs an AvailabilityCache. A non-positive
// windowDays selects a window of six calendar months.
func NewAvailabilityCache(source OccupancySource, now func() time.Time, windowDays int) *AvailabilityCache {
	return NewAvailabilityCacheWithLogger(source, now, windowDays, nil)
}

// NewAvailabilityCacheWithLogger constructs an AvailabilityCache with a specified logger.
func NewAvailabilityCacheWithLogger(source OccupancySource, now func() time.Time, windowDays int, logger *slog.Logger) *AvailabilityCache {
	if now == nil {
		now = time.Now
	}
	return &AvailabilityCache{
		source:     source,
		now:        now,
		windowDays: windowDays,
		logger:     defaultLogger(logger),
		issued:     make(map[string]uint64),
		rooms:      make(map[string]*roomOccupancy),
	}
}

func (c *AvailabilityCache) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, c.logger, "AvailabilityCache", operation, attrs...)
}

// Window returns the default load range starting today.
func (c *AvailabilityCache) Window() (scheduler.Date, scheduler.Date) {
	today := scheduler.DateOf(c.now())
	if c.windowDays > 0 {
		return today, today.AddDays(c.windowDays)
	}
	return today, today.AddMonths(defaultOccupancyMonths)
}

// Select records the room the user is looking at. Loads for any other room
// that complete afterwards are dropped as stale.
func (c *AvailabilityCache) Select(room string) {
	c.mu.Lock()
	c.selected = strings.TrimSpace(room)
	c.mu.Unlock()
}

// Selected returns the currently selected room.
func (c *AvailabilityCache) Selected() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// LoadWindow loads the default window for room.
func (c *AvailabilityCache) LoadWindow(ctx context.Context, room string) (Occupancy, error) {
	from, to := c.Window()
	return c.LoadOccupancy(ctx, room, from, to)
}

// LoadOccupancy fetches the occupied slots of room in [from, to], drops
// inactive rows, expands each slot into hours and replaces the cached map.
func (c *AvailabilityCache) LoadOccupancy(ctx context.Context, room string, from, to scheduler.Date) (occupancy Occupancy, err error) {
	if c == nil {
		err = fmt.Errorf("AvailabilityCache is nil")
		return
	}
	if c.source == nil {
		err = fmt.Errorf("occupancy source not configured")
		return
	}

	room = strings.TrimSpace(room)
	logger := c.loggerWith(ctx, "LoadOccupancy", "room", room, "from", from.String(), "to", to.String())
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "occupancy load failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.DebugContext(ctx, "occupancy loaded", "dates", len(occupancy))
	}()

	vErr := &ValidationError{}
	if room == "" {
		vErr.add("classroom", "classroom is required")
	}
	if from.IsZero() || to.IsZero() {
		vErr.add("date_range", "date range is required")
	} else if to.Before(from) {
		vErr.add("date_range", "date_to must not be before date_from")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	c.mu.Lock()
	c.issued[room]++
	seq := c.issued[room]
	c.mu.Unlock()

	key := room + "|" + from.String() + "|" + to.String()
	slots, err := shareFlight(ctx, &c.loads, key, func(ctx context.Context) ([]OccupiedSlot, error) {
		return c.source.OccupiedSlots(ctx, room, from, to)
	})
	if err != nil {
		return nil, err
	}
	built := buildOccupancy(slots, from, to)

	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.rooms[room]
	if (c.selected != "" && c.selected != room) || (current != nil && current.seq > seq) {
		err = ErrStaleResponse
		return nil, err
	}
	c.rooms[room] = &roomOccupancy{
		occupancy: built,
		seq:       seq,
		from:      from,
		to:        to,
		loadedAt:  c.now(),
	}
	return built.clone(), nil
}

// Refresh reloads room over the range of its previous load. Rooms that were
// never loaded are left alone.
func (c *AvailabilityCache) Refresh(ctx context.Context, room string) error {
	c.mu.Lock()
	current, ok := c.rooms[room]
	var from, to scheduler.Date
	if ok {
		from, to = current.from, current.to
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if from.IsZero() {
		from, to = c.Window()
	}
	_, err := c.LoadOccupancy(ctx, room, from, to)
	return err
}

// IsOccupied reports whether hour on date is taken in room.
func (c *AvailabilityCache) IsOccupied(room string, date scheduler.Date, hour int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := c.rooms[room]
	if !ok {
		return false
	}
	return current.occupancy.Has(date, hour)
}

// AnyOccupied reports whether any hour of slot on date is taken in room.
func (c *AvailabilityCache) AnyOccupied(room string, date scheduler.Date, slot scheduler.TimeSlot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := c.rooms[room]
	if !ok {
		return false
	}
	for _, h := range slot.Hours() {
		if current.occupancy.Has(date, h) {
			return true
		}
	}
	return false
}

// Occupancy returns a copy of the cached map for room.
func (c *AvailabilityCache) Occupancy(room string) (Occupancy, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := c.rooms[room]
	if !ok {
		return nil, false
	}
	return current.occupancy.clone(), true
}

// MarkOccupied records a freshly confirmed booking. The entry is provisional
// until the next load replaces the map.
func (c *AvailabilityCache) MarkOccupied(room string, date scheduler.Date, slot scheduler.TimeSlot) {
	if !slot.Valid() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := c.rooms[room]
	if !ok {
		current = &roomOccupancy{occupancy: make(Occupancy)}
		c.rooms[room] = current
	}
	current.occupancy.add(date, slot)
}

// FreeHours lists the bookable start hours of date in [open, close).
func (c *AvailabilityCache) FreeHours(room string, date scheduler.Date, open, close int) []int {
	open = max(open, 0)
	close = min(close, scheduler.HoursPerDay)

	c.mu.Lock()
	defer c.mu.Unlock()
	var occupancy Occupancy
	if current, ok := c.rooms[room]; ok {
		occupancy = current.occupancy
	}

	var free []int
	for h := open; h < close; h++ {
		if !occupancy.Has(date, h) {
			free = append(free, h)
		}
	}
	return free
}

// Forget drops every cached room.
func (c *AvailabilityCache) Forget() {
	c.mu.Lock()
	c.rooms = make(map[string]*roomOccupancy)
	c.mu.Unlock()
}

func buildOccupancy(slots []OccupiedSlot, from, to scheduler.Date) Occupancy {
	occupancy := make(Occupancy)
	for _, slot := range slots {
		if slot.Status != "" && !slot.Status.Active() {
			continue
		}
		if !slot.Slot.Valid() || !slot.Date.Within(from, to) {
			continue
		}
		occupancy.add(slot.Date, slot.Slot)
	}
	return occupancy
}
