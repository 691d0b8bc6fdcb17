package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/example/classroom-booking/internal/application"
	"github.com/example/classroom-booking/internal/config"
	"github.com/example/classroom-booking/internal/logging"
	"github.com/example/classroom-booking/internal/testfixtures"
)

var cheapSealParams = application.Argon2idParams{Memory: 1024, Iterations: 1, Parallelism: 1}

type testApp struct {
	*app
	out *bytes.Buffer
}

func newTestApp(t *testing.T, baseURL, dbPath, secret string) *testApp {
	t.Helper()

	cfg := config.Config{
		APIBaseURL:    baseURL,
		StorageSecret: secret,
		SQLitePath:    dbPath,
		HTTPTimeout:   5 * time.Second,
		CacheTTL:      time.Minute,
		OpenHour:      8,
		CloseHour:     21,
	}
	out := &bytes.Buffer{}
	params := cheapSealParams
	a, err := newApp(context.Background(), cfg, logging.New(slog.LevelError, io.Discard), out, appOptions{
		now:        testfixtures.ReferenceTime,
		sealParams: &params,
	})
	if err != nil {
		t.Fatalf("newApp failed: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return &testApp{app: a, out: out}
}

// run executes one command and returns what it printed.
func (a *testApp) run(t *testing.T, args ...string) string {
	t.Helper()
	a.out.Reset()
	if err := a.Run(context.Background(), args); err != nil {
		t.Fatalf("%s failed: %v\noutput: %s", strings.Join(args, " "), err, a.out.String())
	}
	return a.out.String()
}

func expectContains(t *testing.T, got string, wants ...string) {
	t.Helper()
	for _, want := range wants {
		if !strings.Contains(got, want) {
			t.Fatalf("expected output to contain %q, got:\n%s", want, got)
		}
	}
}

type fixtureAccounts struct {
	member testfixtures.AccountFixture
	staff  testfixtures.AccountFixture
}

func newBackend(t *testing.T) (*testfixtures.Backend, fixtureAccounts) {
	t.Helper()
	backend := testfixtures.NewBackend(t, nil)
	accounts := fixtureAccounts{
		member: testfixtures.NewAccountFixture(testfixtures.WithAccountName("Member")),
		staff:  testfixtures.NewAccountFixture(testfixtures.WithStaff()),
	}
	backend.AddAccount(accounts.member)
	backend.AddAccount(accounts.staff)
	return backend, accounts
}

func TestBooking_MemberFlow(t *testing.T) {
	t.Parallel()

	backend, accounts := newBackend(t)
	a := newTestApp(t, backend.URL, filepath.Join(t.TempDir(), "client.db"), "local-secret")

	expectContains(t, a.run(t, "whoami"), "not signed in")
	expectContains(t, a.run(t, "login", "-account", accounts.member.Account, "-password", accounts.member.Password),
		"signed in as "+accounts.member.Account+" (Member)")

	expectContains(t, a.run(t, "reserve", "-room", "INS201", "-date", "2025-12-01", "-slot", "10-12", "-reason", "study group"),
		"INS201 2025-12-01 10-12 (pending)")
	stored := backend.Reservations()
	if len(stored) != 1 {
		t.Fatalf("expected one reservation on the server, got %d", len(stored))
	}
	id := fmt.Sprint(stored[0].ID)

	expectContains(t, a.run(t, "occupancy", "-room", "INS201", "-date", "2025-12-01"), "free: 08:00 09:00 12:00")
	expectContains(t, a.run(t, "occupancy", "-room", "INS201"), "2025-12-01\t10:00 11:00")

	a.out.Reset()
	err := a.Run(context.Background(), []string{"reserve", "-room", "INS201", "-date", "2025-12-01", "-slot", "11-13"})
	if !errors.Is(err, application.ErrSlotOccupied) {
		t.Fatalf("expected the local occupancy check to refuse, got %v", err)
	}
	if calls := backend.Calls("POST /api/reservations/"); calls != 1 {
		t.Fatalf("expected the refused draft to stay local, got %d creates", calls)
	}

	expectContains(t, a.run(t, "history"), id, "INS201", "pending", "study group")
	expectContains(t, a.run(t, "cancel", "-id", id), "reservation "+id+" cancelled")
	if got, _ := backend.Reservation(stored[0].ID); got.Status != "cancelled" {
		t.Fatalf("expected server-side cancel, got %q", got.Status)
	}
	expectContains(t, a.run(t, "occupancy", "-room", "INS201", "-date", "2025-12-01"), "08:00 09:00 10:00 11:00 12:00")

	expectContains(t, a.run(t, "logout"), "signed out")
	expectContains(t, a.run(t, "whoami"), "not signed in")
}

func TestBooking_SessionSurvivesRestart(t *testing.T) {
	t.Parallel()

	backend, accounts := newBackend(t)
	dbPath := filepath.Join(t.TempDir(), "client.db")

	first := newTestApp(t, backend.URL, dbPath, "local-secret")
	first.run(t, "login", "-account", accounts.staff.Account, "-password", accounts.staff.Password)
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	storage := testfixtures.OpenSQLite(t, dbPath)
	state, err := storage.LoadSession(context.Background())
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if !strings.HasPrefix(state.AccessToken, "$xc20p$") || !strings.HasPrefix(state.RefreshToken, "$xc20p$") {
		t.Fatalf("expected tokens sealed at rest, got %q / %q", state.AccessToken, state.RefreshToken)
	}

	second := newTestApp(t, backend.URL, dbPath, "local-secret")
	expectContains(t, second.run(t, "whoami"), accounts.staff.Account, "[admin]")

	rotated := newTestApp(t, backend.URL, dbPath, "another-secret")
	expectContains(t, rotated.run(t, "whoami"), "not signed in")
}

func TestBooking_HistoryOffline(t *testing.T) {
	t.Parallel()

	backend, accounts := newBackend(t)
	dbPath := filepath.Join(t.TempDir(), "client.db")
	backend.AddReservation(testfixtures.NewReservationFixture(
		testfixtures.WithReservationID(77),
		testfixtures.WithReservationOwner(accounts.member.Account),
		testfixtures.WithReservationStatus("approved"),
	))

	online := newTestApp(t, backend.URL, dbPath, "local-secret")
	online.run(t, "login", "-account", accounts.member.Account, "-password", accounts.member.Password)
	expectContains(t, online.run(t, "history"), "77", "approved")
	_ = online.Close()

	backend.Close()
	offline := newTestApp(t, backend.URL, dbPath, "local-secret")
	expectContains(t, offline.run(t, "history"), "(offline", "77", "approved")
	expectContains(t, offline.run(t, "whoami"), accounts.member.Account)

	offline.out.Reset()
	if err := offline.Run(context.Background(), []string{"history", "-force"}); !errors.Is(err, application.ErrConnectivity) {
		t.Fatalf("expected a forced refresh to report the outage, got %v", err)
	}
}

func TestBooking_AdminFlow(t *testing.T) {
	t.Parallel()

	backend, accounts := newBackend(t)
	backend.AddReservation(testfixtures.NewReservationFixture(
		testfixtures.WithReservationID(41),
		testfixtures.WithReservationOwner(accounts.member.Account),
	))
	a := newTestApp(t, backend.URL, filepath.Join(t.TempDir(), "client.db"), "local-secret")

	a.run(t, "login", "-account", accounts.member.Account, "-password", accounts.member.Password)
	a.out.Reset()
	if err := a.Run(context.Background(), []string{"pending"}); !errors.Is(err, application.ErrUnauthorized) {
		t.Fatalf("expected members to be refused the queue, got %v", err)
	}

	a.run(t, "login", "-account", accounts.staff.Account, "-password", accounts.staff.Password)
	expectContains(t, a.run(t, "pending"), "41", accounts.member.Account)
	expectContains(t, a.run(t, "review", "-id", "41", "-decision", "approve"), "reservation 41 approved")
	expectContains(t, a.run(t, "pending"), "no reservations")

	memberID := fmt.Sprint(accounts.member.ID)
	expectContains(t, a.run(t, "users"), "active (2)", "blacklisted (0)")
	expectContains(t, a.run(t, "ban", "-user", memberID, "-reason", "no-show"), "blacklisted")
	expectContains(t, a.run(t, "users"), "blacklisted (1)", accounts.member.Account)

	a.run(t, "login", "-account", accounts.member.Account, "-password", accounts.member.Password)
	a.out.Reset()
	err := a.Run(context.Background(), []string{"reserve", "-room", "INS201", "-date", "2025-12-01", "-slot", "14-15"})
	if !errors.Is(err, application.ErrUnauthorized) {
		t.Fatalf("expected a blacklisted member to be refused, got %v", err)
	}
	if got := backend.Calls("POST /api/reservations/"); got != 0 {
		t.Fatalf("blacklisted member must not reach the create endpoint, got %d calls", got)
	}
	if got := backend.Calls("GET /api/blacklist/check/"); got != 1 {
		t.Fatalf("expected one blacklist check, got %d", got)
	}

	a.run(t, "login", "-account", accounts.staff.Account, "-password", accounts.staff.Password)
	a.run(t, "unban", "-user", memberID)
	if backend.Blacklisted(accounts.member.ID) {
		t.Fatalf("expected the member to be unbanned")
	}

	expectContains(t, a.run(t, "room-create", "-code", "LIB101", "-building", "LIB", "-name", "Reading", "-capacity", "12", "-projector"),
		"classroom LIB101 created")
	expectContains(t, a.run(t, "room-update", "-room", "LIB101", "-capacity", "20"), "Reading, 20 seats, projector")
	expectContains(t, a.run(t, "rooms", "-building", "LIB"), "LIB101", "20 seats")
	expectContains(t, a.run(t, "room-delete", "-code", "LIB101"), "deleted")
	expectContains(t, a.run(t, "rooms", "-building", "LIB"), "no classrooms match")
}

func TestBooking_Catalog(t *testing.T) {
	t.Parallel()

	backend, _ := newBackend(t)
	a := newTestApp(t, backend.URL, filepath.Join(t.TempDir(), "client.db"), "local-secret")

	out := a.run(t, "buildings", "-q", "ins")
	expectContains(t, out, "INS\t資工系館\t2 rooms")
	if strings.Contains(out, "ECG") {
		t.Fatalf("expected the filter to drop ECG, got:\n%s", out)
	}
	expectContains(t, a.run(t, "rooms", "-projector"), "ECG101", "電機二館", "INS201", "projector")
}

func TestBooking_AccountCommands(t *testing.T) {
	t.Parallel()

	backend, _ := newBackend(t)
	a := newTestApp(t, backend.URL, filepath.Join(t.TempDir(), "client.db"), "local-secret")
	const account = "fresh@mail.example.edu"

	a.run(t, "send-code", "-account", account)
	a.run(t, "register", "-name", "Fresh", "-account", account, "-password", "secret123", "-code", testfixtures.VerificationCode)
	a.run(t, "send-code", "-account", account, "-reset")
	if backend.CodesSent(account) != 2 {
		t.Fatalf("expected two mailed codes, got %d", backend.CodesSent(account))
	}
	expectContains(t, a.run(t, "reset-password", "-account", account, "-password", "changed1", "-code", testfixtures.VerificationCode), "password updated")
	expectContains(t, a.run(t, "login", "-account", account, "-password", "changed1"), "signed in as "+account)

	a.out.Reset()
	err := a.Run(context.Background(), []string{"register", "-name", "X", "-account", "x@mail.example.edu", "-password", "secret123", "-confirm", "other123", "-code", "1"})
	var vErr *application.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected a local validation error, got %v", err)
	}
}

func TestBooking_Usage(t *testing.T) {
	t.Parallel()

	backend, _ := newBackend(t)
	a := newTestApp(t, backend.URL, filepath.Join(t.TempDir(), "client.db"), "local-secret")
	ctx := context.Background()

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "no command", args: nil},
		{name: "unknown command", args: []string{"teleport"}, want: "teleport"},
		{name: "missing flags", args: []string{"reserve", "-room", "INS201"}, want: "-date, -slot"},
		{name: "bad decision", args: []string{"review", "-id", "1", "-decision", "maybe"}, want: "approve or reject"},
		{name: "undefined flag", args: []string{"whoami", "-verbose"}},
	}
	for _, tt := range tests {
		a.out.Reset()
		err := a.Run(ctx, tt.args)
		if !errors.Is(err, errUsage) {
			t.Fatalf("%s: expected errUsage, got %v", tt.name, err)
		}
		if tt.want != "" && !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("%s: expected %q in %v", tt.name, tt.want, err)
		}
	}

	a.out.Reset()
	if err := a.Run(ctx, []string{"login", "-h"}); err != nil {
		t.Fatalf("expected -h to succeed, got %v", err)
	}
	expectContains(t, a.out.String(), "-account")
}
