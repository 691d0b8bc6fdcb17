package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"
)

// CatalogBackend exposes the building and classroom endpoints.
type CatalogBackend interface {
	ListBuildings(ctx context.Context) ([]Building, error)
	ListClassrooms(ctx context.Context, filter ClassroomFilter) ([]Classroom, error)
	CreateClassroom(ctx context.Context, input ClassroomInput) (Classroom, error)
	UpdateClassroom(ctx context.Context, roomCode string, input ClassroomInput) (Classroom, error)
	DeleteClassroom(ctx context.Context, roomCode string) error
}

// Directory is the result of loading the browse page. Each list fails
// independently; a failed list is empty and carries its error.
type Directory struct {
	Buildings      []Building
	BuildingsErr   error
	Classrooms     []Classroom
	ClassroomsErr  error
	SelectedFilter ClassroomFilter
}

// CatalogService coordinates building and classroom browsing plus the admin editor.
type CatalogService struct {
	sessions sessionSource
	backend  CatalogBackend
	logger   *slog.Logger
}

// NewCatalogService constructs a CatalogService with the provided dependencies.
func NewCatalogService(sessions sessionSource, backend CatalogBackend) *CatalogService {
	return NewCatalogServiceWithLogger(sessions, backend, nil)
}

// NewCatalogServiceWithLogger constructs a CatalogService with a specified logger.
func NewCatalogServiceWithLogger(sessions sessionSource, backend CatalogBackend, logger *slog.Logger) *CatalogService {
	return &CatalogService{
		sessions: sessions,
		backend:  backend,
		logger:   defaultLogger(logger),
	}
}

func (s *CatalogService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "CatalogService", operation, attrs...)
}

// ListBuildings returns every building.
func (s *CatalogService) ListBuildings(ctx context.Context) (buildings []Building, err error) {
	if s == nil || s.backend == nil {
		err = fmt.Errorf("catalog backend not configured")
		return
	}
	logger := s.loggerWith(ctx, "ListBuildings")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to list buildings", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.DebugContext(ctx, "buildings listed", "result_count", len(buildings))
	}()

	buildings, err = s.backend.ListBuildings(ctx)
	return
}

// FilterBuildings keeps the buildings whose code or name contains query,
// ignoring case. An empty query keeps everything.
func FilterBuildings(buildings []Building, query string) []Building {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		out := make([]Building, len(buildings))
		copy(out, buildings)
		return out
	}
	var out []Building
	for _, b := range buildings {
		if strings.Contains(strings.ToLower(b.Code), query) || strings.Contains(strings.ToLower(b.Name), query) {
			out = append(out, b)
		}
	}
	return out
}

// ListClassrooms returns the classrooms matching filter. Filtering happens on the server.
func (s *CatalogService) ListClassrooms(ctx context.Context, filter ClassroomFilter) (classrooms []Classroom, err error) {
	if s == nil || s.backend == nil {
		err = fmt.Errorf("catalog backend not configured")
		return
	}
	filter.Building = strings.TrimSpace(filter.Building)
	filter.Search = strings.TrimSpace(filter.Search)

	logger := s.loggerWith(ctx, "ListClassrooms", "building", filter.Building, "search", filter.Search)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to list classrooms", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.DebugContext(ctx, "classrooms listed", "result_count", len(classrooms))
	}()

	if filter.MinCapacity < 0 {
		vErr := &ValidationError{}
		vErr.add("min_capacity", "minimum capacity must not be negative")
		err = vErr
		return
	}

	classrooms, err = s.backend.ListClassrooms(ctx, filter)
	return
}

// LoadDirectory loads the building list and the classroom list for filter
// concurrently. A failure of one list does not affect the other.
func (s *CatalogService) LoadDirectory(ctx context.Context, filter ClassroomFilter) Directory {
	dir := Directory{SelectedFilter: filter}

	// Each list records its own failure, so the group never short-circuits.
	var g errgroup.Group
	g.Go(func() error {
		buildings, err := s.ListBuildings(ctx)
		if err != nil {
			dir.BuildingsErr = err
			return nil
		}
		dir.Buildings = buildings
		return nil
	})
	g.Go(func() error {
		classrooms, err := s.ListClassrooms(ctx, filter)
		if err != nil {
			dir.ClassroomsErr = err
			return nil
		}
		dir.Classrooms = classrooms
		return nil
	})
	// Errors travel in Directory, so Wait only joins the two loads.
	_ = g.Wait()
	return dir
}

// CreateClassroom adds a classroom. Admin only.
func (s *CatalogService) CreateClassroom(ctx context.Context, input ClassroomInput) (classroom Classroom, err error) {
	input = normalizeClassroomInput(input)
	logger := s.loggerWith(ctx, "CreateClassroom", "room_code", input.RoomCode)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create classroom", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "classroom created")
	}()

	if err = s.requireAdmin(ctx); err != nil {
		return
	}
	if vErr := validateClassroomInput(input, true); vErr.HasErrors() {
		err = vErr
		return
	}
	classroom, err = s.backend.CreateClassroom(ctx, input)
	return
}

// UpdateClassroom patches an existing classroom. Admin only.
func (s *CatalogService) UpdateClassroom(ctx context.Context, roomCode string, input ClassroomInput) (classroom Classroom, err error) {
	roomCode = strings.TrimSpace(roomCode)
	input = normalizeClassroomInput(input)
	logger := s.loggerWith(ctx, "UpdateClassroom", "room_code", roomCode)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update classroom", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "classroom updated")
	}()

	if err = s.requireAdmin(ctx); err != nil {
		return
	}
	vErr := validateClassroomInput(input, false)
	if roomCode == "" {
		vErr.add("room_code", "room code is required")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}
	classroom, err = s.backend.UpdateClassroom(ctx, roomCode, input)
	return
}

// DeleteClassroom removes a classroom. Admin only.
func (s *CatalogService) DeleteClassroom(ctx context.Context, roomCode string) (err error) {
	roomCode = strings.TrimSpace(roomCode)
	logger := s.loggerWith(ctx, "DeleteClassroom", "room_code", roomCode)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to delete classroom", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "classroom deleted")
	}()

	if err = s.requireAdmin(ctx); err != nil {
		return
	}
	if roomCode == "" {
		vErr := &ValidationError{}
		vErr.add("room_code", "room code is required")
		err = vErr
		return
	}
	err = s.backend.DeleteClassroom(ctx, roomCode)
	return
}

func (s *CatalogService) requireAdmin(ctx context.Context) error {
	if s == nil || s.backend == nil {
		return fmt.Errorf("catalog backend not configured")
	}
	return requireAdmin(ctx, s.sessions)
}

func requireAdmin(ctx context.Context, sessions sessionSource) error {
	if sessions == nil {
		return ErrNotAuthenticated
	}
	session, err := sessions.CurrentSession(ctx)
	if err != nil {
		return err
	}
	if session.Anonymous() {
		return ErrNotAuthenticated
	}
	if !session.IsAdmin {
		return ErrUnauthorized
	}
	return nil
}

func normalizeClassroomInput(input ClassroomInput) ClassroomInput {
	input.RoomCode = strings.TrimSpace(input.RoomCode)
	input.Building = strings.TrimSpace(input.Building)
	input.Name = strings.TrimSpace(input.Name)
	return input
}

// validateClassroomInput checks the editor form. Updates are partial, so only
// a full create requires the identifying fields.
func validateClassroomInput(input ClassroomInput, create bool) *ValidationError {
	vErr := &ValidationError{}
	if create {
		if input.RoomCode == "" {
			vErr.add("room_code", "room code is required")
		}
		if input.Building == "" {
			vErr.add("building", "building is required")
		}
		if input.Capacity <= 0 {
			vErr.add("capacity", "capacity must be positive")
		}
	} else if input.Capacity < 0 {
		vErr.add("capacity", "capacity must not be negative")
	}
	return vErr
}
