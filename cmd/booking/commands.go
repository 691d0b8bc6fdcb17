package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/example/classroom-booking/internal/application"
	"github.com/example/classroom-booking/internal/logging"
	"github.com/example/classroom-booking/internal/scheduler"
)

// errUsage is returned for an unknown command or bad flags.
var errUsage = errors.New("usage error")

type command struct {
	summary string
	run     func(a *app, ctx context.Context, args []string) error
}

var commands = map[string]command{
	"login":          {"sign in with -account and -password", (*app).login},
	"logout":         {"forget the stored session", (*app).logout},
	"whoami":         {"show the signed-in account", (*app).whoami},
	"buildings":      {"list buildings, optionally filtered with -q", (*app).buildings},
	"rooms":          {"list classrooms matching the filter flags", (*app).rooms},
	"occupancy":      {"show occupied or free hours of -room", (*app).occupancy},
	"reserve":        {"book -room on -date for -slot", (*app).reserve},
	"cancel":         {"cancel one of your reservations by -id", (*app).cancel},
	"history":        {"list your reservations", (*app).history},
	"pending":        {"list reservations awaiting review (admin)", (*app).pending},
	"review":         {"approve or reject a pending reservation (admin)", (*app).review},
	"users":          {"list accounts by blacklist membership (admin)", (*app).users},
	"ban":            {"blacklist -user (admin)", (*app).ban},
	"unban":          {"remove -user from the blacklist (admin)", (*app).unban},
	"register":       {"create an account with a mailed -code", (*app).register},
	"send-code":      {"mail a verification or (-reset) password reset code", (*app).sendCode},
	"reset-password": {"set a new password with a mailed -code", (*app).resetPassword},
	"room-create":    {"add a classroom (admin)", (*app).roomCreate},
	"room-update":    {"change a classroom (admin)", (*app).roomUpdate},
	"room-delete":    {"remove a classroom (admin)", (*app).roomDelete},
}

// Run dispatches args[0] to its command.
func (a *app) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		a.usage()
		return errUsage
	}
	cmd, ok := commands[args[0]]
	if !ok {
		a.usage()
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
	ctx = logging.ContextWithLogger(ctx, a.logger.With("command", args[0]))
	if err := a.sessions.Sync(ctx); err != nil {
		return err
	}
	if err := cmd.run(a, ctx, args[1:]); err != nil && !errors.Is(err, flag.ErrHelp) {
		return err
	}
	return nil
}

func (a *app) usage() {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(a.out, "usage: booking <command> [flags]")
	for _, name := range names {
		fmt.Fprintf(a.out, "  %-15s %s\n", name, commands[name].summary)
	}
}

func (a *app) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.out)
	return fs
}

func parse(fs *flag.FlagSet, args []string, required ...string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	var missing []string
	for _, name := range required {
		if strings.TrimSpace(fs.Lookup(name).Value.String()) == "" {
			missing = append(missing, "-"+name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s requires %s", errUsage, fs.Name(), strings.Join(missing, ", "))
	}
	return nil
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := a.flags("login")
	account := fs.String("account", "", "account email")
	password := fs.String("password", "", "password")
	botToken := fs.String("bot-token", "", "bot-check token, when the server asks for one")
	if err := parse(fs, args, "account", "password"); err != nil {
		return err
	}

	session, err := a.sessions.Login(ctx, application.LoginParams{Account: *account, Password: *password, BotCheckToken: *botToken})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "signed in as %s%s\n", describe(session), adminSuffix(session))
	return nil
}

func (a *app) logout(ctx context.Context, args []string) error {
	if err := parse(a.flags("logout"), args); err != nil {
		return err
	}
	if err := a.sessions.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "signed out")
	return nil
}

func (a *app) whoami(ctx context.Context, args []string) error {
	if err := parse(a.flags("whoami"), args); err != nil {
		return err
	}
	session, err := a.sessions.CurrentSession(ctx)
	if err != nil {
		return err
	}
	if session.Anonymous() {
		fmt.Fprintln(a.out, "not signed in")
		return nil
	}
	fmt.Fprintf(a.out, "%s%s\n", describe(session), adminSuffix(session))
	return nil
}

func describe(session application.Session) string {
	if session.DisplayName == "" || session.DisplayName == session.AccountID {
		return session.AccountID
	}
	return fmt.Sprintf("%s (%s)", session.AccountID, session.DisplayName)
}

func adminSuffix(session application.Session) string {
	if session.IsAdmin {
		return " [admin]"
	}
	return ""
}

func (a *app) buildings(ctx context.Context, args []string) error {
	fs := a.flags("buildings")
	query := fs.String("q", "", "substring of the building code or name")
	if err := parse(fs, args); err != nil {
		return err
	}
	all, err := a.catalog.ListBuildings(ctx)
	if err != nil {
		return err
	}
	for _, b := range application.FilterBuildings(all, *query) {
		fmt.Fprintf(a.out, "%s\t%s\t%d rooms\n", b.Code, b.Name, b.ClassroomCount)
	}
	return nil
}

func classroomFilterFlags(fs *flag.FlagSet) *application.ClassroomFilter {
	filter := &application.ClassroomFilter{}
	fs.StringVar(&filter.Building, "building", "", "building code")
	fs.StringVar(&filter.Search, "search", "", "room code or name substring")
	fs.IntVar(&filter.MinCapacity, "min-capacity", 0, "minimum seats")
	fs.BoolVar(&filter.HasProjector, "projector", false, "require a projector")
	fs.BoolVar(&filter.HasWhiteboard, "whiteboard", false, "require a whiteboard")
	fs.BoolVar(&filter.HasMic, "mic", false, "require a microphone")
	fs.BoolVar(&filter.HasNetwork, "network", false, "require a network connection")
	return filter
}

func (a *app) rooms(ctx context.Context, args []string) error {
	fs := a.flags("rooms")
	filter := classroomFilterFlags(fs)
	if err := parse(fs, args); err != nil {
		return err
	}

	dir := a.catalog.LoadDirectory(ctx, *filter)
	if dir.ClassroomsErr != nil {
		return dir.ClassroomsErr
	}
	names := make(map[string]string, len(dir.Buildings))
	for _, b := range dir.Buildings {
		names[b.Code] = b.Name
	}
	if dir.BuildingsErr != nil {
		fmt.Fprintf(a.out, "(building names unavailable: %v)\n", dir.BuildingsErr)
	}
	for _, c := range dir.Classrooms {
		building := c.Building
		if name := names[c.Building]; name != "" {
			building += " " + name
		}
		fmt.Fprintf(a.out, "%s\t%s\t%s\t%d seats\t%s\n", c.RoomCode, c.Name, building, c.Capacity, equipment(c))
	}
	if len(dir.Classrooms) == 0 {
		fmt.Fprintln(a.out, "no classrooms match")
	}
	return nil
}

func equipment(c application.Classroom) string {
	var parts []string
	for _, item := range []struct {
		on   bool
		name string
	}{
		{c.HasProjector, "projector"},
		{c.HasWhiteboard, "whiteboard"},
		{c.HasMic, "mic"},
		{c.HasNetwork, "network"},
	} {
		if item.on {
			parts = append(parts, item.name)
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ",")
}

func (a *app) occupancy(ctx context.Context, args []string) error {
	fs := a.flags("occupancy")
	room := fs.String("room", "", "classroom code")
	day := fs.String("date", "", "show free hours of this YYYY-MM-DD date")
	if err := parse(fs, args, "room"); err != nil {
		return err
	}

	a.availability.Select(*room)
	occupancy, err := a.availability.LoadWindow(ctx, *room)
	if err != nil {
		return err
	}

	if *day != "" {
		date, err := scheduler.ParseDate(*day)
		if err != nil {
			return err
		}
		free := a.availability.FreeHours(*room, date, a.cfg.OpenHour, a.cfg.CloseHour)
		fmt.Fprintf(a.out, "%s %s free: %s\n", *room, date, joinHours(free))
		return nil
	}

	dates := make([]scheduler.Date, 0, len(occupancy))
	for date := range occupancy {
		dates = append(dates, date)
	}
	slices.SortFunc(dates, scheduler.Date.Compare)
	from, to := a.availability.Window()
	fmt.Fprintf(a.out, "%s occupied between %s and %s:\n", *room, from, to)
	for _, date := range dates {
		fmt.Fprintf(a.out, "  %s\t%s\n", date, joinHours(occupancy.Hours(date)))
	}
	if len(dates) == 0 {
		fmt.Fprintln(a.out, "  nothing booked")
	}
	return nil
}

func joinHours(hours []int) string {
	if len(hours) == 0 {
		return "none"
	}
	parts := make([]string, len(hours))
	for i, h := range hours {
		parts[i] = fmt.Sprintf("%02d:00", h)
	}
	return strings.Join(parts, " ")
}

func (a *app) reserve(ctx context.Context, args []string) error {
	fs := a.flags("reserve")
	room := fs.String("room", "", "classroom code")
	day := fs.String("date", "", "YYYY-MM-DD")
	slotText := fs.String("slot", "", "hours as START-END, e.g. 10-12")
	reason := fs.String("reason", "", "purpose of the booking")
	if err := parse(fs, args, "room", "date", "slot"); err != nil {
		return err
	}
	date, err := scheduler.ParseDate(*day)
	if err != nil {
		return err
	}
	slot, err := scheduler.ParseTimeSlot(*slotText)
	if err != nil {
		return err
	}

	banned, err := a.blacklist.CheckSelf(ctx)
	switch {
	case errors.Is(err, application.ErrNotAuthenticated):
		return err
	case err != nil:
		a.logger.WarnContext(ctx, "blacklist check failed", "error", err)
	case banned:
		return fmt.Errorf("%w: this account is blacklisted and cannot book", application.ErrUnauthorized)
	}

	// Local occupancy is advisory; the server still has the final word.
	a.availability.Select(*room)
	if _, err := a.availability.LoadWindow(ctx, *room); err != nil {
		a.logger.WarnContext(ctx, "occupancy unavailable, submitting without local check", "room", *room, "error", err)
	}

	attempt, err := a.booking.Submit(ctx, application.NewDraft(*room, date, slot, *reason))
	if err != nil {
		return fmt.Errorf("%s: %w", attempt.Phase, err)
	}
	r := attempt.Reservation
	fmt.Fprintf(a.out, "reservation %s: %s %s %s (%s)\n", r.ID, r.Classroom, r.Date, r.Slot, r.Status)
	return nil
}

func (a *app) cancel(ctx context.Context, args []string) error {
	fs := a.flags("cancel")
	id := fs.String("id", "", "reservation id")
	if err := parse(fs, args, "id"); err != nil {
		return err
	}

	list, err := a.views.MyReservations(ctx, false)
	if err != nil {
		return err
	}
	var target application.Reservation
	for _, r := range list.Items {
		if r.ID == strings.TrimSpace(*id) {
			target = r
			break
		}
	}
	if target.ID == "" {
		return fmt.Errorf("reservation %s is not in your history: %w", *id, application.ErrNotFound)
	}

	updated, err := a.booking.Cancel(ctx, target)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "reservation %s %s\n", updated.ID, updated.Status)
	return nil
}

func (a *app) history(ctx context.Context, args []string) error {
	fs := a.flags("history")
	force := fs.Bool("force", false, "skip the cache")
	if err := parse(fs, args); err != nil {
		return err
	}
	list, err := a.views.MyReservations(ctx, *force)
	if err != nil {
		return err
	}
	a.printList(list)
	return nil
}

func (a *app) pending(ctx context.Context, args []string) error {
	fs := a.flags("pending")
	force := fs.Bool("force", false, "skip the cache")
	if err := parse(fs, args); err != nil {
		return err
	}
	list, err := a.views.PendingRequests(ctx, *force)
	if err != nil {
		return err
	}
	a.printList(list)
	return nil
}

func (a *app) printList(list application.ReservationList) {
	if list.Stale {
		fmt.Fprintf(a.out, "(offline: showing the list fetched at %s)\n", list.FetchedAt.Format("2006-01-02 15:04"))
	}
	for _, r := range list.Items {
		line := fmt.Sprintf("%s\t%s\t%s %s\t%s", r.ID, r.Classroom, r.Date, r.Slot, r.Status)
		if r.Requester != "" {
			line += "\t" + r.Requester
		}
		if r.Reason != "" {
			line += "\t" + r.Reason
		}
		fmt.Fprintln(a.out, line)
	}
	if len(list.Items) == 0 {
		fmt.Fprintln(a.out, "no reservations")
	}
}

func (a *app) review(ctx context.Context, args []string) error {
	fs := a.flags("review")
	id := fs.String("id", "", "reservation id")
	decision := fs.String("decision", "", "approve or reject")
	if err := parse(fs, args, "id", "decision"); err != nil {
		return err
	}

	var status application.Status
	switch strings.ToLower(strings.TrimSpace(*decision)) {
	case "approve", "approved":
		status = application.StatusApproved
	case "reject", "rejected":
		status = application.StatusRejected
	default:
		return fmt.Errorf("%w: -decision must be approve or reject", errUsage)
	}

	// Loading the queue lets the review learn the classroom it frees.
	if _, err := a.views.PendingRequests(ctx, false); err != nil {
		a.logger.WarnContext(ctx, "pending queue unavailable", "error", err)
	}
	updated, err := a.booking.Review(ctx, *id, status)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "reservation %s %s\n", updated.ID, updated.Status)
	return nil
}

func (a *app) users(ctx context.Context, args []string) error {
	if err := parse(a.flags("users"), args); err != nil {
		return err
	}
	dir, err := a.blacklist.ListUsers(ctx)
	if err != nil {
		return err
	}
	printUsers := func(title string, users []application.User) {
		fmt.Fprintf(a.out, "%s (%d):\n", title, len(users))
		for _, u := range users {
			fmt.Fprintf(a.out, "  %s\t%s\t%s\n", u.ID, u.Username, strings.TrimSpace(u.FirstName+" "+u.LastName))
		}
	}
	printUsers("active", dir.Normal)
	printUsers("blacklisted", dir.Blacklisted)
	return nil
}

func (a *app) ban(ctx context.Context, args []string) error {
	fs := a.flags("ban")
	user := fs.String("user", "", "user id")
	reason := fs.String("reason", "", "why the user is banned")
	if err := parse(fs, args, "user"); err != nil {
		return err
	}
	if err := a.blacklist.Ban(ctx, *user, *reason); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "user %s blacklisted\n", *user)
	return nil
}

func (a *app) unban(ctx context.Context, args []string) error {
	fs := a.flags("unban")
	user := fs.String("user", "", "user id")
	if err := parse(fs, args, "user"); err != nil {
		return err
	}
	if err := a.blacklist.Unban(ctx, *user); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "user %s removed from the blacklist\n", *user)
	return nil
}

func (a *app) register(ctx context.Context, args []string) error {
	fs := a.flags("register")
	var params application.RegisterParams
	fs.StringVar(&params.Name, "name", "", "display name")
	fs.StringVar(&params.Account, "account", "", "account email")
	fs.StringVar(&params.Password, "password", "", "password")
	fs.StringVar(&params.ConfirmPassword, "confirm", "", "password again (defaults to -password)")
	fs.StringVar(&params.Code, "code", "", "code from the verification mail")
	if err := parse(fs, args); err != nil {
		return err
	}
	if params.ConfirmPassword == "" {
		params.ConfirmPassword = params.Password
	}
	if err := a.accounts.Register(ctx, params); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "account %s registered\n", strings.ToLower(strings.TrimSpace(params.Account)))
	return nil
}

func (a *app) sendCode(ctx context.Context, args []string) error {
	fs := a.flags("send-code")
	account := fs.String("account", "", "account email")
	reset := fs.Bool("reset", false, "send a password reset code instead")
	if err := parse(fs, args); err != nil {
		return err
	}
	send := a.accounts.SendVerificationCode
	if *reset {
		send = a.accounts.SendPasswordResetCode
	}
	if err := send(ctx, *account); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "code sent to %s\n", strings.TrimSpace(*account))
	return nil
}

func (a *app) resetPassword(ctx context.Context, args []string) error {
	fs := a.flags("reset-password")
	var params application.PasswordResetParams
	fs.StringVar(&params.Account, "account", "", "account email")
	fs.StringVar(&params.Password, "password", "", "new password")
	fs.StringVar(&params.ConfirmPassword, "confirm", "", "new password again (defaults to -password)")
	fs.StringVar(&params.Code, "code", "", "code from the reset mail")
	if err := parse(fs, args); err != nil {
		return err
	}
	if params.ConfirmPassword == "" {
		params.ConfirmPassword = params.Password
	}
	if err := a.accounts.ApplyPasswordReset(ctx, params); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "password updated")
	return nil
}

func classroomInputFlags(fs *flag.FlagSet, input *application.ClassroomInput) {
	fs.StringVar(&input.RoomCode, "code", input.RoomCode, "room code")
	fs.StringVar(&input.Building, "building", input.Building, "building code")
	fs.StringVar(&input.Name, "name", input.Name, "display name")
	fs.IntVar(&input.Capacity, "capacity", input.Capacity, "seats")
	fs.BoolVar(&input.HasProjector, "projector", input.HasProjector, "has a projector")
	fs.BoolVar(&input.HasWhiteboard, "whiteboard", input.HasWhiteboard, "has a whiteboard")
	fs.BoolVar(&input.HasMic, "mic", input.HasMic, "has a microphone")
	fs.BoolVar(&input.HasNetwork, "network", input.HasNetwork, "has a network connection")
}

func (a *app) roomCreate(ctx context.Context, args []string) error {
	fs := a.flags("room-create")
	var input application.ClassroomInput
	classroomInputFlags(fs, &input)
	if err := parse(fs, args); err != nil {
		return err
	}
	created, err := a.catalog.CreateClassroom(ctx, input)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "classroom %s created\n", created.RoomCode)
	return nil
}

// roomUpdate starts from the current classroom so that flags left out keep
// their values.
func (a *app) roomUpdate(ctx context.Context, args []string) error {
	fs := a.flags("room-update")
	target := fs.String("room", "", "code of the classroom to change")
	var changes application.ClassroomInput
	classroomInputFlags(fs, &changes)
	if err := parse(fs, args, "room"); err != nil {
		return err
	}

	current, err := a.findClassroom(ctx, *target)
	if err != nil {
		return err
	}
	input := application.ClassroomInput{
		RoomCode:      current.RoomCode,
		Building:      current.Building,
		Name:          current.Name,
		Capacity:      current.Capacity,
		HasProjector:  current.HasProjector,
		HasWhiteboard: current.HasWhiteboard,
		HasMic:        current.HasMic,
		HasNetwork:    current.HasNetwork,
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "code":
			input.RoomCode = changes.RoomCode
		case "building":
			input.Building = changes.Building
		case "name":
			input.Name = changes.Name
		case "capacity":
			input.Capacity = changes.Capacity
		case "projector":
			input.HasProjector = changes.HasProjector
		case "whiteboard":
			input.HasWhiteboard = changes.HasWhiteboard
		case "mic":
			input.HasMic = changes.HasMic
		case "network":
			input.HasNetwork = changes.HasNetwork
		}
	})

	updated, err := a.catalog.UpdateClassroom(ctx, *target, input)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "classroom %s updated: %s, %d seats, %s\n", updated.RoomCode, updated.Name, updated.Capacity, equipment(updated))
	return nil
}

func (a *app) findClassroom(ctx context.Context, code string) (application.Classroom, error) {
	code = strings.TrimSpace(code)
	matches, err := a.catalog.ListClassrooms(ctx, application.ClassroomFilter{Search: code})
	if err != nil {
		return application.Classroom{}, err
	}
	for _, c := range matches {
		if strings.EqualFold(c.RoomCode, code) {
			return c, nil
		}
	}
	return application.Classroom{}, fmt.Errorf("classroom %s: %w", code, application.ErrNotFound)
}

func (a *app) roomDelete(ctx context.Context, args []string) error {
	fs := a.flags("room-delete")
	code := fs.String("code", "", "room code")
	if err := parse(fs, args, "code"); err != nil {
		return err
	}
	if err := a.catalog.DeleteClassroom(ctx, *code); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "classroom %s deleted\n", strings.TrimSpace(*code))
	return nil
}
