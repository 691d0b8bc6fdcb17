package testfixtures

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/classroom-booking/internal/scheduler"
)

const (
	// VerificationCode is the one-time code the fake backend accepts.
	VerificationCode = "123456"

	classroomPageSize = 20
)

// Backend is an in-process stand-in for the reservation REST service. It
// implements the endpoints the client consumes with the same status codes and
// error bodies, and enforces that active reservations never overlap.
type Backend struct {
	URL    string
	server *httptest.Server

	mu           sync.Mutex
	now          func() time.Time
	accounts     map[string]*AccountFixture
	buildings    []BuildingFixture
	classrooms   []ClassroomFixture
	reservations []ReservationFixture
	blacklist    map[int]string
	access       map[string]string
	refresh      map[string]string
	tokenSeq     int
	nextID       int
	calls        map[string]int
	codesSent    map[string]int
	failRefresh  bool
}

// NewBackend starts a fake backend seeded with DefaultBuildings and
// DefaultClassrooms. The server is closed when the test finishes.
func NewBackend(t testing.TB, now func() time.Time) *Backend {
	t.Helper()
	if now == nil {
		now = ReferenceTime
	}
	b := &Backend{
		now:        now,
		accounts:   make(map[string]*AccountFixture),
		buildings:  DefaultBuildings(),
		classrooms: DefaultClassrooms(),
		blacklist:  make(map[int]string),
		access:     make(map[string]string),
		refresh:    make(map[string]string),
		nextID:     1000,
		calls:      make(map[string]int),
		codesSent:  make(map[string]int),
	}
	b.server = httptest.NewServer(b.routes())
	b.URL = b.server.URL
	t.Cleanup(b.server.Close)
	return b
}

// Close stops the server early, making every further request fail to connect.
func (b *Backend) Close() {
	b.server.Close()
}

// AddAccount registers an account.
func (b *Backend) AddAccount(account AccountFixture) {
	b.mu.Lock()
	defer b.mu.Unlock()
	stored := account
	b.accounts[account.Account] = &stored
}

// AddReservation inserts a reservation row as-is.
func (b *Backend) AddReservation(r ReservationFixture) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reservations = append(b.reservations, r)
}

// Reservation returns the stored row with id.
func (b *Backend) Reservation(id int) (ReservationFixture, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.reservations {
		if r.ID == id {
			return r, true
		}
	}
	return ReservationFixture{}, false
}

// Reservations returns every stored row.
func (b *Backend) Reservations() []ReservationFixture {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ReservationFixture, len(b.reservations))
	copy(out, b.reservations)
	return out
}

// IssueTokens returns a fresh access/refresh pair for account, as a login would.
func (b *Backend) IssueTokens(account string) (string, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, ok := b.accounts[account]
	if !ok {
		return "", ""
	}
	return b.issueAccessLocked(acc), b.issueRefreshLocked(acc)
}

// ExpireAccessTokens invalidates every issued access token.
func (b *Backend) ExpireAccessTokens() {
	b.mu.Lock()
	b.access = make(map[string]string)
	b.mu.Unlock()
}

// FailRefresh makes every refresh attempt answer 401.
func (b *Backend) FailRefresh(fail bool) {
	b.mu.Lock()
	b.failRefresh = fail
	b.mu.Unlock()
}

// Calls returns how many times "METHOD /path/" was requested. Path parameters
// appear as in the route pattern, e.g. "PATCH /api/reservations/{id}/status/".
func (b *Backend) Calls(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[route]
}

// CodesSent returns how many verification or reset codes were mailed to account.
func (b *Backend) CodesSent(account string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.codesSent[account]
}

// Blacklisted reports whether the account with id is banned.
func (b *Backend) Blacklisted(id int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.blacklist[id]
	return ok
}

func (b *Backend) routes() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		route := strings.TrimSuffix(pattern, "{$}")
		mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			b.mu.Lock()
			b.calls[route]++
			b.mu.Unlock()
			h(w, r)
		})
	}

	handle("POST /api/auth/login/", b.handleLogin)
	handle("POST /api/auth/refresh/", b.handleRefresh)
	handle("POST /api/auth/register/", b.handleRegister)
	handle("POST /api/auth/send_verification_email/", b.handleSendCode)
	handle("POST /api/auth/send_change_pwd/", b.handleSendCode)
	handle("POST /api/auth/verify_change_pwd/", b.handleVerifyChangePassword)

	handle("GET /api/rooms/classrooms/buildings/", b.handleBuildings)
	handle("GET /api/rooms/classrooms/{$}", b.handleListClassrooms)
	handle("POST /api/rooms/classrooms/{$}", b.staffOnly(b.handleCreateClassroom))
	handle("PATCH /api/rooms/classrooms/{code}/", b.staffOnly(b.handleUpdateClassroom))
	handle("DELETE /api/rooms/classrooms/{code}/", b.staffOnly(b.handleDeleteClassroom))

	handle("GET /api/reservations/{$}", b.authenticated(b.handleListReservations))
	handle("POST /api/reservations/{$}", b.authenticated(b.handleCreateReservation))
	handle("GET /api/reservations/occupied/", b.handleOccupied)
	handle("PATCH /api/reservations/{id}/status/", b.authenticated(b.handleUpdateStatus))
	handle("DELETE /api/reservations/{id}/cancel/", b.authenticated(b.handleCancel))

	handle("GET /api/blacklist/check/", b.authenticated(b.handleBlacklistCheck))
	handle("GET /api/blacklist/users/", b.staffOnly(b.handleBlacklistUsers))
	handle("POST /api/blacklist/ban/", b.staffOnly(b.handleBan))
	handle("POST /api/blacklist/unban/", b.staffOnly(b.handleUnban))
	return mux
}

type accountHandler func(w http.ResponseWriter, r *http.Request, acc AccountFixture)

func (b *Backend) authenticated(next accountHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		b.mu.Lock()
		account, known := b.access[token]
		acc := b.accounts[account]
		b.mu.Unlock()
		if !ok || !known || acc == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"detail": "Given token not valid for any token type",
				"code":   "token_not_valid",
			})
			return
		}
		next(w, r, *acc)
	}
}

func (b *Backend) staffOnly(next accountHandler) http.HandlerFunc {
	return b.authenticated(func(w http.ResponseWriter, r *http.Request, acc AccountFixture) {
		if !acc.IsStaff {
			writeJSON(w, http.StatusForbidden, map[string]any{"detail": "You do not have permission to perform this action."})
			return
		}
		next(w, r, acc)
	})
}

func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Account  string `json:"account"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, ok := b.accounts[body.Account]
	if !ok || acc.Password != body.Password {
		writeJSON(w, http.StatusBadRequest, map[string]any{"non_field_errors": []string{"帳號或密碼錯誤"}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access":  b.issueAccessLocked(acc),
		"refresh": b.issueRefreshLocked(acc),
		"user":    map[string]any{"id": acc.ID, "account": acc.Account, "name": acc.Name},
	})
}

func (b *Backend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Refresh string `json:"refresh"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	account, ok := b.refresh[body.Refresh]
	acc := b.accounts[account]
	if b.failRefresh || !ok || acc == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Token is invalid or expired", "code": "token_not_valid"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"access": b.issueAccessLocked(acc)})
}

func (b *Backend) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Account  string `json:"account"`
		Password string `json:"password"`
		Code     string `json:"code"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.accounts[body.Account]; exists {
		writeJSON(w, http.StatusBadRequest, map[string]any{"account": []string{"此帳號已被註冊"}})
		return
	}
	if body.Code != VerificationCode {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": []string{"驗證碼錯誤或已過期"}})
		return
	}
	b.nextID++
	acc := &AccountFixture{ID: b.nextID, Account: body.Account, Name: body.Name, Password: body.Password}
	b.accounts[acc.Account] = acc
	writeJSON(w, http.StatusCreated, map[string]any{"id": acc.ID, "account": acc.Account, "name": acc.Name})
}

func (b *Backend) handleSendCode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Account string `json:"account"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Account == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "請輸入帳號"})
		return
	}
	b.mu.Lock()
	b.codesSent[body.Account]++
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"message": "驗證碼已寄出"})
}

func (b *Backend) handleVerifyChangePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Account  string `json:"account"`
		Password string `json:"password"`
		Code     string `json:"code"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, ok := b.accounts[body.Account]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "帳號不存在"})
		return
	}
	if body.Code != VerificationCode {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "驗證碼錯誤或已過期"})
		return
	}
	acc.Password = body.Password
	writeJSON(w, http.StatusOK, map[string]any{"message": "密碼已更新"})
}

func (b *Backend) handleBuildings(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]map[string]any, 0, len(b.buildings))
	for _, building := range b.buildings {
		count := 0
		for _, c := range b.classrooms {
			if c.Building == building.Code {
				count++
			}
		}
		out = append(out, map[string]any{"code": building.Code, "name": building.Name, "classroom_count": count})
	}
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) handleListClassrooms(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	minCapacity, _ := strconv.Atoi(q.Get("min_capacity"))
	search := strings.ToLower(q.Get("search"))
	flag := func(name string) bool { return strings.EqualFold(q.Get(name), "true") }

	b.mu.Lock()
	var matched []ClassroomFixture
	for _, c := range b.classrooms {
		switch {
		case q.Get("building") != "" && c.Building != q.Get("building"):
		case search != "" && !strings.Contains(strings.ToLower(c.RoomCode), search) && !strings.Contains(strings.ToLower(c.Name), search):
		case c.Capacity < minCapacity:
		case flag("has_projector") && !c.HasProjector:
		case flag("has_whiteboard") && !c.HasWhiteboard:
		case flag("has_mic") && !c.HasMic:
		case flag("has_network") && !c.HasNetwork:
		default:
			matched = append(matched, c)
		}
	}
	b.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Building != matched[j].Building {
			return matched[i].Building < matched[j].Building
		}
		return matched[i].RoomCode < matched[j].RoomCode
	})

	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	start := min((page-1)*classroomPageSize, len(matched))
	end := min(start+classroomPageSize, len(matched))

	results := make([]map[string]any, 0, end-start)
	for _, c := range matched[start:end] {
		results = append(results, classroomJSON(c))
	}

	pageURL := func(p int) any {
		if p < 1 || (p-1)*classroomPageSize >= len(matched) {
			return nil
		}
		next := r.URL.Query()
		next.Set("page", strconv.Itoa(p))
		return "http://" + r.Host + r.URL.Path + "?" + next.Encode()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(matched),
		"next":     pageURL(page + 1),
		"previous": pageURL(page - 1),
		"results":  results,
	})
}

type classroomBody struct {
	RoomCode      *string `json:"room_code"`
	Building      *string `json:"building"`
	Name          *string `json:"name"`
	Capacity      *int    `json:"capacity"`
	HasProjector  *bool   `json:"has_projector"`
	HasWhiteboard *bool   `json:"has_whiteboard"`
	HasNetwork    *bool   `json:"has_network"`
	HasMic        *bool   `json:"has_mic"`
}

func (body classroomBody) apply(c *ClassroomFixture) {
	if body.RoomCode != nil {
		c.RoomCode = *body.RoomCode
	}
	if body.Building != nil {
		c.Building = *body.Building
	}
	if body.Name != nil {
		c.Name = *body.Name
	}
	if body.Capacity != nil {
		c.Capacity = *body.Capacity
	}
	if body.HasProjector != nil {
		c.HasProjector = *body.HasProjector
	}
	if body.HasWhiteboard != nil {
		c.HasWhiteboard = *body.HasWhiteboard
	}
	if body.HasNetwork != nil {
		c.HasNetwork = *body.HasNetwork
	}
	if body.HasMic != nil {
		c.HasMic = *body.HasMic
	}
}

func (b *Backend) handleCreateClassroom(w http.ResponseWriter, r *http.Request, _ AccountFixture) {
	var body classroomBody
	if !decodeBody(w, r, &body) {
		return
	}
	var c ClassroomFixture
	body.apply(&c)
	if c.RoomCode == "" || c.Building == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"room_code": []string{"This field is required."}})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.classrooms {
		if existing.RoomCode == c.RoomCode {
			writeJSON(w, http.StatusBadRequest, map[string]any{"room_code": []string{"classroom with this room code already exists."}})
			return
		}
	}
	b.nextID++
	c.ID = b.nextID
	b.classrooms = append(b.classrooms, c)
	writeJSON(w, http.StatusCreated, classroomJSON(c))
}

func (b *Backend) handleUpdateClassroom(w http.ResponseWriter, r *http.Request, _ AccountFixture) {
	var body classroomBody
	if !decodeBody(w, r, &body) {
		return
	}
	code := r.PathValue("code")

	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.classrooms {
		if b.classrooms[i].RoomCode == code {
			body.apply(&b.classrooms[i])
			writeJSON(w, http.StatusOK, classroomJSON(b.classrooms[i]))
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Not found."})
}

func (b *Backend) handleDeleteClassroom(w http.ResponseWriter, r *http.Request, _ AccountFixture) {
	code := r.PathValue("code")

	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.classrooms {
		if b.classrooms[i].RoomCode == code {
			b.classrooms = append(b.classrooms[:i], b.classrooms[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Not found."})
}

func (b *Backend) handleListReservations(w http.ResponseWriter, r *http.Request, acc AccountFixture) {
	q := r.URL.Query()
	viewAll := strings.EqualFold(q.Get("view_all"), "true")
	status := q.Get("status")
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil {
		limit = 200
	}
	limit = max(1, min(limit, 500))

	b.mu.Lock()
	var matched []ReservationFixture
	for _, res := range b.reservations {
		if !(acc.IsStaff && viewAll) && res.Account != acc.Account {
			continue
		}
		if status != "" && res.Status != status {
			continue
		}
		matched = append(matched, res)
	}
	b.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]map[string]any, 0, len(matched))
	for _, res := range matched {
		out = append(out, reservationListJSON(res))
	}
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) handleCreateReservation(w http.ResponseWriter, r *http.Request, acc AccountFixture) {
	var body struct {
		Classroom string `json:"classroom"`
		Date      string `json:"date"`
		TimeSlot  string `json:"time_slot"`
		Reason    string `json:"reason"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, banned := b.blacklist[acc.ID]; banned {
		writeJSON(w, http.StatusForbidden, map[string]any{"detail": "你已被列入黑名單，無法預約。"})
		return
	}
	switch {
	case body.Classroom == "":
		writeJSON(w, http.StatusBadRequest, map[string]any{"classroom": "請選擇教室"})
		return
	case body.Date == "":
		writeJSON(w, http.StatusBadRequest, map[string]any{"date": "請選擇日期"})
		return
	case body.TimeSlot == "":
		writeJSON(w, http.StatusBadRequest, map[string]any{"time_slot": "請選擇時段"})
		return
	}

	classroom, ok := b.classroomLocked(body.Classroom)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"classroom": "教室不存在，請重新選擇"})
		return
	}
	date, err := scheduler.ParseDate(body.Date)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"date": "日期格式錯誤，應為 YYYY-MM-DD"})
		return
	}
	if date.Before(scheduler.DateOf(b.now())) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"date": "不能預約過去的日期"})
		return
	}
	slot, err := scheduler.ParseTimeSlot(body.TimeSlot)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"time_slot": "時段格式錯誤"})
		return
	}

	candidate := scheduler.Booking{Room: classroom.RoomCode, Date: date, Slot: slot, Active: true}
	if conflicts := scheduler.DetectConflicts(b.bookingsLocked(), candidate); len(conflicts) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"detail": fmt.Sprintf("教室 %s 在 %s %s 已被預約，請選擇其他時段", classroom.RoomCode, body.Date, body.TimeSlot),
		})
		return
	}

	b.nextID++
	res := ReservationFixture{
		ID:        b.nextID,
		Classroom: classroom.RoomCode,
		Account:   acc.Account,
		Date:      date.String(),
		TimeSlot:  slot.String(),
		Reason:    body.Reason,
		Status:    "pending",
		CreatedAt: b.now(),
	}
	b.reservations = append(b.reservations, res)
	writeJSON(w, http.StatusCreated, b.reservationDetailLocked(res))
}

func (b *Backend) handleOccupied(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	room := q.Get("classroom")
	if room == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "缺少必填參數：classroom"})
		return
	}
	from := scheduler.DateOf(b.now())
	if v := q.Get("date_from"); v != "" {
		parsed, err := scheduler.ParseDate(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "date_from 格式錯誤"})
			return
		}
		from = parsed
	}
	to := from.AddDays(14)
	if v := q.Get("date_to"); v != "" {
		parsed, err := scheduler.ParseDate(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "date_to 格式錯誤"})
			return
		}
		to = parsed
	}

	b.mu.Lock()
	var matched []ReservationFixture
	for _, res := range b.reservations {
		if res.Classroom != room || (res.Status != "pending" && res.Status != "approved") {
			continue
		}
		date, err := scheduler.ParseDate(res.Date)
		if err != nil || !date.Within(from, to) {
			continue
		}
		matched = append(matched, res)
	}
	b.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Date != matched[j].Date {
			return matched[i].Date < matched[j].Date
		}
		return matched[i].TimeSlot < matched[j].TimeSlot
	})
	out := make([]map[string]any, 0, len(matched))
	for _, res := range matched {
		out = append(out, map[string]any{"date": res.Date, "time_slot": res.TimeSlot, "status": res.Status, "user": res.Account})
	}
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) handleUpdateStatus(w http.ResponseWriter, r *http.Request, acc AccountFixture) {
	if !acc.IsStaff {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "只有管理員可以審核預約"})
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	res := b.reservationLocked(r.PathValue("id"))
	if res == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "預約不存在"})
		return
	}
	if body.Status != "approved" && body.Status != "rejected" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "狀態必須是 approved 或 rejected"})
		return
	}
	if res.Status == "approved" || res.Status == "rejected" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "此預約已經審核完成"})
		return
	}
	res.Status = body.Status
	writeJSON(w, http.StatusOK, b.reservationDetailLocked(*res))
}

func (b *Backend) handleCancel(w http.ResponseWriter, r *http.Request, acc AccountFixture) {
	b.mu.Lock()
	defer b.mu.Unlock()
	res := b.reservationLocked(r.PathValue("id"))
	if res == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "預約不存在"})
		return
	}
	if res.Account != acc.Account {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "只能取消自己的預約"})
		return
	}
	if res.Status != "pending" && res.Status != "approved" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "此預約狀態無法取消"})
		return
	}
	res.Status = "cancelled"
	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "預約已成功取消",
		"reservation": b.reservationDetailLocked(*res),
	})
}

func (b *Backend) handleBlacklistCheck(w http.ResponseWriter, r *http.Request, acc AccountFixture) {
	b.mu.Lock()
	_, banned := b.blacklist[acc.ID]
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"blacklisted": banned})
}

func (b *Backend) handleBlacklistUsers(w http.ResponseWriter, r *http.Request, _ AccountFixture) {
	b.mu.Lock()
	accounts := make([]*AccountFixture, 0, len(b.accounts))
	for _, acc := range b.accounts {
		accounts = append(accounts, acc)
	}
	normal := make([]map[string]any, 0)
	banned := make([]map[string]any, 0)
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	for _, acc := range accounts {
		row := map[string]any{"id": acc.ID, "username": acc.Account, "email": acc.Account, "first_name": acc.Name, "last_name": ""}
		if _, ok := b.blacklist[acc.ID]; ok {
			banned = append(banned, row)
		} else {
			normal = append(normal, row)
		}
	}
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"normal_users": normal, "blacklisted_users": banned})
}

func (b *Backend) handleBan(w http.ResponseWriter, r *http.Request, _ AccountFixture) {
	var body struct {
		UserID json.Number `json:"user_id"`
		Reason string      `json:"reason"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	id, err := body.UserID.Int64()
	if err != nil || id == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "user_id is required"})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.accountByIDLocked(int(id)) == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "User not found"})
		return
	}
	if _, exists := b.blacklist[int(id)]; exists {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "User already blacklisted"})
		return
	}
	b.blacklist[int(id)] = body.Reason
	writeJSON(w, http.StatusCreated, map[string]any{"detail": "banned"})
}

func (b *Backend) handleUnban(w http.ResponseWriter, r *http.Request, _ AccountFixture) {
	var body struct {
		UserID json.Number `json:"user_id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	id, err := body.UserID.Int64()
	if err != nil || id == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "user_id is required"})
		return
	}
	b.mu.Lock()
	delete(b.blacklist, int(id))
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"detail": "unbanned"})
}

func (b *Backend) issueAccessLocked(acc *AccountFixture) string {
	b.tokenSeq++
	token := AccessTokenWithID(acc.Account, acc.IsStaff, b.now().Add(5*time.Minute), strconv.Itoa(b.tokenSeq))
	b.access[token] = acc.Account
	return token
}

func (b *Backend) issueRefreshLocked(acc *AccountFixture) string {
	b.tokenSeq++
	token := RefreshTokenWithID(acc.Account, strconv.Itoa(b.tokenSeq))
	b.refresh[token] = acc.Account
	return token
}

func (b *Backend) classroomLocked(code string) (ClassroomFixture, bool) {
	for _, c := range b.classrooms {
		if c.RoomCode == code {
			return c, true
		}
	}
	return ClassroomFixture{}, false
}

func (b *Backend) accountByIDLocked(id int) *AccountFixture {
	for _, acc := range b.accounts {
		if acc.ID == id {
			return acc
		}
	}
	return nil
}

func (b *Backend) reservationLocked(id string) *ReservationFixture {
	n, err := strconv.Atoi(id)
	if err != nil {
		return nil
	}
	for i := range b.reservations {
		if b.reservations[i].ID == n {
			return &b.reservations[i]
		}
	}
	return nil
}

func (b *Backend) bookingsLocked() []scheduler.Booking {
	out := make([]scheduler.Booking, 0, len(b.reservations))
	for _, res := range b.reservations {
		date, err := scheduler.ParseDate(res.Date)
		if err != nil {
			continue
		}
		slot, err := scheduler.ParseTimeSlot(res.TimeSlot)
		if err != nil {
			continue
		}
		out = append(out, scheduler.Booking{
			ID:     strconv.Itoa(res.ID),
			Room:   res.Classroom,
			Date:   date,
			Slot:   slot,
			Active: res.Status == "pending" || res.Status == "approved",
		})
	}
	return out
}

// reservationDetailLocked renders the full serializer shape, where classroom
// is the numeric primary key.
func (b *Backend) reservationDetailLocked(res ReservationFixture) map[string]any {
	classroom, _ := b.classroomLocked(res.Classroom)
	user := 0
	if acc, ok := b.accounts[res.Account]; ok {
		user = acc.ID
	}
	return map[string]any{
		"id":         res.ID,
		"classroom":  classroom.ID,
		"user":       user,
		"date":       res.Date,
		"time_slot":  res.TimeSlot,
		"reason":     res.Reason,
		"status":     res.Status,
		"created_at": res.CreatedAt.Format(time.RFC3339),
	}
}

func reservationListJSON(res ReservationFixture) map[string]any {
	return map[string]any{
		"id":         res.ID,
		"classroom":  res.Classroom,
		"username":   res.Account,
		"date":       res.Date,
		"time_slot":  res.TimeSlot,
		"reason":     res.Reason,
		"status":     res.Status,
		"created_at": res.CreatedAt.Format(time.RFC3339),
	}
}

func classroomJSON(c ClassroomFixture) map[string]any {
	return map[string]any{
		"id":             c.ID,
		"room_code":      c.RoomCode,
		"name":           c.Name,
		"building":       c.Building,
		"capacity":       c.Capacity,
		"has_projector":  c.HasProjector,
		"has_whiteboard": c.HasWhiteboard,
		"has_network":    c.HasNetwork,
		"has_mic":        c.HasMic,
		"is_active":      true,
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "JSON parse error"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
