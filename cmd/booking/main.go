package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/example/classroom-booking/internal/application"
	"github.com/example/classroom-booking/internal/config"
	httptransport "github.com/example/classroom-booking/internal/http"
	"github.com/example/classroom-booking/internal/logging"
	"github.com/example/classroom-booking/internal/persistence"
	"github.com/example/classroom-booking/internal/persistence/sqlite"
	"github.com/example/classroom-booking/internal/persistence/sqlite/migration"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logging.New(slog.LevelInfo, os.Stderr).Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, os.Stderr)

	app, err := newApp(ctx, cfg, logger, os.Stdout, appOptions{})
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := app.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	if err := app.Run(ctx, os.Args[1:]); err != nil {
		logger.Error("command failed", "error", err, "error_kind", application.ErrorKind(err))
		app.Close()
		os.Exit(1)
	}
}

type appOptions struct {
	now        func() time.Time
	sealParams *application.Argon2idParams
}

// app holds the wired services for one process.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	out    io.Writer
	now    func() time.Time

	storage      *sqlite.Storage
	sessions     *application.SessionManager
	catalog      *application.CatalogService
	accounts     *application.AccountService
	blacklist    *application.BlacklistService
	availability *application.AvailabilityCache
	views        *application.ReservationViews
	booking      *application.BookingOrchestrator
	closed       bool
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, out io.Writer, opts appOptions) (*app, error) {
	now := opts.now
	if now == nil {
		now = time.Now
	}
	sealParams := application.DefaultArgon2idParams
	if opts.sealParams != nil {
		sealParams = *opts.sealParams
	}

	storage, err := sqlite.OpenWithConfig(migration.DefaultSQLiteConfig(cfg.SQLitePath), logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	fail := func(err error) (*app, error) {
		_ = storage.Close()
		return nil, err
	}
	if err := storage.Migrate(ctx); err != nil {
		return fail(fmt.Errorf("apply migrations: %w", err))
	}

	salt, err := storage.KeySalt(ctx)
	if err != nil {
		return fail(fmt.Errorf("load key salt: %w", err))
	}
	sealer, err := application.NewTokenSealer(cfg.StorageSecret, salt, sealParams)
	if err != nil {
		return fail(err)
	}

	transport, err := httptransport.NewTransport(cfg.APIBaseURL, &http.Client{Timeout: cfg.HTTPTimeout}, logger)
	if err != nil {
		return fail(err)
	}
	authClient := httptransport.NewAuthClient(transport, logger)
	sessions := application.NewSessionManagerWithLogger(newSessionStoreAdapter(storage, sealer, logger), authClient, transport, now, logger)
	client := httptransport.NewClient(transport, sessions, logger)

	availability := application.NewAvailabilityCacheWithLogger(client, now, cfg.OccupancyWindowDays, logger)
	views := application.NewReservationViewsWithLogger(sessions, client, newHistoryStoreAdapter(storage), cfg.CacheTTL, now, logger)

	a := &app{
		cfg:          cfg,
		logger:       logger,
		out:          out,
		now:          now,
		storage:      storage,
		sessions:     sessions,
		catalog:      application.NewCatalogServiceWithLogger(sessions, client, logger),
		accounts:     application.NewAccountServiceWithLogger(authClient, logger),
		blacklist:    application.NewBlacklistServiceWithLogger(sessions, client, logger),
		availability: availability,
		views:        views,
		booking:      application.NewBookingOrchestratorWithLogger(sessions, client, availability, views, now, logger),
	}
	if err := a.followSession(ctx); err != nil {
		return fail(fmt.Errorf("load session: %w", err))
	}
	return a, nil
}

// followSession drops cached lists whenever the signed-in account changes,
// whether by a command in this process or, seen through Sync, in another one.
func (a *app) followSession(ctx context.Context) error {
	current, err := a.sessions.CurrentSession(ctx)
	if err != nil {
		return err
	}
	var mu sync.Mutex
	account := current.AccountID
	a.sessions.Subscribe(func(session application.Session) {
		mu.Lock()
		changed := session.AccountID != account
		account = session.AccountID
		mu.Unlock()
		if changed {
			a.logger.Debug("account changed, dropping cached lists", "account", session.AccountID)
			a.views.Reset()
			a.availability.Forget()
		}
	})
	return a.sessions.Sync(ctx)
}

// Close releases the storage handle. It is safe to call more than once.
func (a *app) Close() error {
	if a == nil || a.closed {
		return nil
	}
	a.closed = true
	return a.storage.Close()
}

type sessionStoreAdapter struct {
	repo   persistence.SessionRepository
	sealer *application.TokenSealer
	logger *slog.Logger
}

func newSessionStoreAdapter(repo persistence.SessionRepository, sealer *application.TokenSealer, logger *slog.Logger) *sessionStoreAdapter {
	return &sessionStoreAdapter{repo: repo, sealer: sealer, logger: logger}
}

func (a *sessionStoreAdapter) LoadSession(ctx context.Context) (application.SessionRecord, error) {
	state, err := a.repo.LoadSession(ctx)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return application.SessionRecord{}, application.ErrNotFound
		}
		return application.SessionRecord{}, err
	}
	access, accessErr := a.sealer.Open(state.AccessToken)
	refresh, refreshErr := a.sealer.Open(state.RefreshToken)
	if err := errors.Join(accessErr, refreshErr); err != nil {
		// Tokens sealed under another secret are unusable; the caller sees a
		// signed-out session until the next login overwrites them.
		a.logger.WarnContext(ctx, "stored session cannot be opened", "error", err, "revision", state.Revision)
		return application.SessionRecord{Revision: state.Revision, UpdatedAt: state.UpdatedAt}, nil
	}
	return application.SessionRecord{
		AccountID:    state.AccountID,
		DisplayName:  state.DisplayName,
		AccessToken:  access,
		RefreshToken: refresh,
		Revision:     state.Revision,
		UpdatedAt:    state.UpdatedAt,
	}, nil
}

func (a *sessionStoreAdapter) SaveSession(ctx context.Context, record application.SessionRecord) (application.SessionRecord, error) {
	access, err := a.sealer.Seal(record.AccessToken)
	if err != nil {
		return application.SessionRecord{}, err
	}
	refresh, err := a.sealer.Seal(record.RefreshToken)
	if err != nil {
		return application.SessionRecord{}, err
	}
	saved, err := a.repo.SaveSession(ctx, persistence.SessionState{
		AccountID:    record.AccountID,
		DisplayName:  record.DisplayName,
		AccessToken:  access,
		RefreshToken: refresh,
		UpdatedAt:    record.UpdatedAt,
	})
	if err != nil {
		return application.SessionRecord{}, err
	}
	record.Revision = saved.Revision
	record.UpdatedAt = saved.UpdatedAt
	return record, nil
}

func (a *sessionStoreAdapter) ClearSession(ctx context.Context) (application.SessionRecord, error) {
	cleared, err := a.repo.ClearSession(ctx)
	if err != nil {
		return application.SessionRecord{}, err
	}
	return application.SessionRecord{Revision: cleared.Revision, UpdatedAt: cleared.UpdatedAt}, nil
}

type historyStoreAdapter struct {
	repo persistence.HistoryRepository
}

func newHistoryStoreAdapter(repo persistence.HistoryRepository) *historyStoreAdapter {
	return &historyStoreAdapter{repo: repo}
}

func (a *historyStoreAdapter) LoadHistory(ctx context.Context, account string) (application.HistorySnapshot, error) {
	stored, err := a.repo.LoadHistory(ctx, account)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return application.HistorySnapshot{}, application.ErrNotFound
		}
		return application.HistorySnapshot{}, err
	}
	var items []application.Reservation
	if err := json.Unmarshal(stored.Payload, &items); err != nil {
		return application.HistorySnapshot{}, fmt.Errorf("decode history snapshot: %w", err)
	}
	return application.HistorySnapshot{Items: items, FetchedAt: stored.FetchedAt}, nil
}

func (a *historyStoreAdapter) SaveHistory(ctx context.Context, account string, snapshot application.HistorySnapshot) error {
	payload, err := json.Marshal(snapshot.Items)
	if err != nil {
		return fmt.Errorf("encode history snapshot: %w", err)
	}
	return a.repo.SaveHistory(ctx, persistence.HistorySnapshot{
		Account:   account,
		Payload:   payload,
		ItemCount: len(snapshot.Items),
		FetchedAt: snapshot.FetchedAt,
	})
}
