package http

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/example/classroom-booking/internal/application"
	"github.com/example/classroom-booking/internal/scheduler"
)

type loginRequest struct {
	Account        string `json:"account"`
	Password       string `json:"password"`
	RecaptchaToken string `json:"recaptcha_token,omitempty"`
}

type loginResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	User    struct {
		ID      json.Number `json:"id"`
		Account string      `json:"account"`
		Name    string      `json:"name"`
	} `json:"user"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type refreshResponse struct {
	Access string `json:"access"`
}

type registerRequest struct {
	Name     string `json:"name"`
	Account  string `json:"account"`
	Password string `json:"password"`
	Code     string `json:"code"`
}

type accountRequest struct {
	Account string `json:"account"`
}

type passwordResetRequest struct {
	Account  string `json:"account"`
	Password string `json:"password"`
	Code     string `json:"code"`
}

type buildingDTO struct {
	Code           string `json:"code"`
	Name           string `json:"name"`
	ClassroomCount int    `json:"classroom_count"`
}

func (b buildingDTO) toApplication() application.Building {
	return application.Building{Code: b.Code, Name: b.Name, ClassroomCount: b.ClassroomCount}
}

type classroomDTO struct {
	ID            json.Number `json:"id,omitempty"`
	RoomCode      string      `json:"room_code"`
	Building      string      `json:"building"`
	Name          string      `json:"name"`
	Capacity      int         `json:"capacity"`
	HasProjector  bool        `json:"has_projector"`
	HasWhiteboard bool        `json:"has_whiteboard"`
	HasNetwork    bool        `json:"has_network"`
	HasMic        bool        `json:"has_mic"`
}

func (c classroomDTO) toApplication() application.Classroom {
	return application.Classroom{
		RoomCode:      c.RoomCode,
		Building:      c.Building,
		Name:          c.Name,
		Capacity:      c.Capacity,
		HasProjector:  c.HasProjector,
		HasWhiteboard: c.HasWhiteboard,
		HasNetwork:    c.HasNetwork,
		HasMic:        c.HasMic,
	}
}

func classroomFromInput(in application.ClassroomInput) classroomDTO {
	return classroomDTO{
		RoomCode:      in.RoomCode,
		Building:      in.Building,
		Name:          in.Name,
		Capacity:      in.Capacity,
		HasProjector:  in.HasProjector,
		HasWhiteboard: in.HasWhiteboard,
		HasNetwork:    in.HasNetwork,
		HasMic:        in.HasMic,
	}
}

// classroomPage is the paginated listing shape. The listing endpoint may
// also answer with a bare array, see decodeClassroomPage.
type classroomPage struct {
	Count    int            `json:"count"`
	Next     *string        `json:"next"`
	Previous *string        `json:"previous"`
	Results  []classroomDTO `json:"results"`
}

func decodeClassroomPage(body []byte) (classroomPage, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var items []classroomDTO
		if err := json.Unmarshal(body, &items); err != nil {
			return classroomPage{}, err
		}
		return classroomPage{Count: len(items), Results: items}, nil
	}
	var page classroomPage
	if err := json.Unmarshal(body, &page); err != nil {
		return classroomPage{}, err
	}
	return page, nil
}

type createReservationRequest struct {
	Classroom string `json:"classroom"`
	Date      string `json:"date"`
	TimeSlot  string `json:"time_slot"`
	Reason    string `json:"reason"`
}

type statusRequest struct {
	Status string `json:"status"`
}

// reservationDTO covers both serializer shapes. In listings classroom is the
// room code and username is present; in create, status and cancel answers
// classroom is the numeric primary key and user is the numeric account id.
type reservationDTO struct {
	ID        json.Number     `json:"id"`
	Classroom json.RawMessage `json:"classroom"`
	Username  string          `json:"username"`
	Date      string          `json:"date"`
	TimeSlot  string          `json:"time_slot"`
	Reason    string          `json:"reason"`
	Status    string          `json:"status"`
	CreatedAt string          `json:"created_at"`
}

func (r reservationDTO) toApplication() (application.Reservation, error) {
	id := r.ID.String()
	if id == "" {
		return application.Reservation{}, fmt.Errorf("reservation without id")
	}
	out := application.Reservation{
		ID:        id,
		Classroom: roomCode(r.Classroom),
		Reason:    r.Reason,
		Status:    application.Status(strings.ToLower(r.Status)),
		Requester: r.Username,
		Origin:    application.OriginServer,
	}
	if r.Date != "" {
		date, err := scheduler.ParseDate(r.Date)
		if err != nil {
			return application.Reservation{}, fmt.Errorf("reservation %s: %w", id, err)
		}
		out.Date = date
	}
	if r.TimeSlot != "" {
		slot, err := scheduler.ParseTimeSlot(r.TimeSlot)
		if err != nil {
			return application.Reservation{}, fmt.Errorf("reservation %s: %w", id, err)
		}
		out.Slot = slot
	}
	if r.CreatedAt != "" {
		if created, err := time.Parse(time.RFC3339Nano, r.CreatedAt); err == nil {
			out.CreatedAt = created
		}
	}
	return out, nil
}

// roomCode returns the classroom when the payload carries the code. A numeric
// primary key yields "" and callers fill the room from what they sent.
func roomCode(raw json.RawMessage) string {
	var code string
	if err := json.Unmarshal(raw, &code); err == nil {
		if _, numeric := strconv.Atoi(code); numeric != nil {
			return code
		}
	}
	return ""
}

type cancelResponse struct {
	Message     string         `json:"message"`
	Reservation reservationDTO `json:"reservation"`
}

type occupiedDTO struct {
	Date     string `json:"date"`
	TimeSlot string `json:"time_slot"`
	Status   string `json:"status"`
}

type userDTO struct {
	ID        json.Number `json:"id"`
	Username  string      `json:"username"`
	Email     string      `json:"email"`
	FirstName string      `json:"first_name"`
	LastName  string      `json:"last_name"`
}

func (u userDTO) toApplication() application.User {
	return application.User{
		ID:        u.ID.String(),
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

type userDirectoryResponse struct {
	Normal      []userDTO `json:"normal_users"`
	Blacklisted []userDTO `json:"blacklisted_users"`
}

type banRequest struct {
	UserID int    `json:"user_id"`
	Reason string `json:"reason,omitempty"`
}

type blacklistCheckResponse struct {
	Blacklisted bool `json:"blacklisted"`
}
