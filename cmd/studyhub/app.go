package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/studyhub/study-hub/config"
	"github.com/studyhub/study-hub/internal/application/command"
	"github.com/studyhub/study-hub/internal/application/eventhandler"
	"github.com/studyhub/study-hub/internal/application/query"
	"github.com/studyhub/study-hub/internal/domain/assistant"
	"github.com/studyhub/study-hub/internal/domain/flashcard"
	"github.com/studyhub/study-hub/internal/domain/identity"
	"github.com/studyhub/study-hub/internal/domain/notification"
	"github.com/studyhub/study-hub/internal/domain/progress"
	"github.com/studyhub/study-hub/internal/domain/shared"
	"github.com/studyhub/study-hub/internal/domain/task"
	"github.com/studyhub/study-hub/internal/domain/timer"
	"github.com/studyhub/study-hub/internal/infrastructure/auth"
	"github.com/studyhub/study-hub/internal/infrastructure/external/gemini"
	"github.com/studyhub/study-hub/internal/infrastructure/messaging"
	"github.com/studyhub/study-hub/internal/infrastructure/metrics"
	"github.com/studyhub/study-hub/internal/infrastructure/persistence/memory"
	"github.com/studyhub/study-hub/internal/infrastructure/persistence/postgres"
	"github.com/studyhub/study-hub/internal/infrastructure/persistence/redis"
	"github.com/studyhub/study-hub/internal/infrastructure/scheduler"
	"github.com/studyhub/study-hub/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/studyhub/study-hub/internal/interface/http"
	"github.com/studyhub/study-hub/internal/interface/http/handlers"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPLICATION CONTAINER
// Everything serve and worker share. build wires components in dependency
// order and close releases them in reverse.
// ══════════════════════════════════════════════════════════════════════════════

// progressBackend is a progress repository the maintenance jobs can scan.
type progressBackend interface {
	progress.Repository
	progress.UserLister
	progress.WeeklyResetter
}

type eventBus interface {
	shared.EventBus
	Close() error
}

type app struct {
	cfg *config.Config
	log *slog.Logger

	registry *prometheus.Registry
	health   *handlers.CompositeHealthChecker

	db    *postgres.Connection
	cache *redis.Cache

	backend progressBackend
	store   *messaging.ObservableStore
	tasks   task.Repository
	decks   flashcard.Repository
	users   identity.UserRepository
	revoked identity.RevocationList
	feed    notification.Feed

	bus        eventBus
	dispatcher *messaging.Dispatcher

	metrics   command.Metrics
	recorder  *command.ProgressRecorder
	generator assistant.Generator

	closers []func(ctx context.Context) error
}

func (a *app) onClose(fn func(ctx context.Context) error) {
	a.closers = append(a.closers, fn)
}

// close runs the registered closers last-in first-out and joins their errors.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// build wires the shared components. On error everything opened so far is closed.
func build(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *app, err error) {
	a := &app{
		cfg:      cfg,
		log:      log,
		registry: metrics.NewRegistry(),
		health:   handlers.NewCompositeHealthChecker(cfg.App.Version),
	}
	if cfg.HTTP.HealthCheckTimeout > 0 {
		a.health.SetTimeout(cfg.HTTP.HealthCheckTimeout)
	}
	defer func() {
		if err != nil {
			_ = a.close(context.Background())
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 1. STORAGE
	// ─────────────────────────────────────────────────────────────────────────
	if err := a.openStorage(ctx); err != nil {
		return nil, err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. REDIS (optional)
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.RedisEnabled() {
		if err := a.openRedis(ctx); err != nil {
			return nil, err
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	if err := a.openBus(); err != nil {
		return nil, err
	}
	a.store = messaging.NewObservableStore(a.backend, a.bus, log)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. PROGRESS RECORDER
	// ─────────────────────────────────────────────────────────────────────────
	a.metrics = command.NopMetrics{}
	if cfg.Features.IsEnabled(config.FeatureMetrics, nil) {
		a.metrics = metrics.NewProgress(a.registry)
	}
	a.recorder = command.NewProgressRecorder(a.store, a.tasks, a.bus, a.metrics, log)

	// ─────────────────────────────────────────────────────────────────────────
	// 5. EVENT HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	if err := a.startDispatcher(); err != nil {
		return nil, err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. TEXT GENERATOR
	// ─────────────────────────────────────────────────────────────────────────
	a.generator = a.newGenerator()

	return a, nil
}

func (a *app) openStorage(ctx context.Context) error {
	switch a.cfg.Storage.Driver {
	case config.StoragePostgres:
		a.log.Info("connecting to database...")
		conn, err := openDatabase(ctx, a.cfg.Database)
		if err != nil {
			return err
		}
		a.db = conn
		a.onClose(func(context.Context) error {
			a.log.Info("closing database connection...")
			conn.Close()
			return nil
		})
		a.health.AddDetailedCheck("postgres", true, poolCheck(conn))

		if a.cfg.Database.AutoMigrate {
			n, err := postgres.NewMigrator(conn).Migrate(ctx)
			if err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			a.log.Info("database schema is up to date", "applied", n)
		}

		a.backend = postgres.NewProgressRepository(conn)
		a.tasks = postgres.NewTaskRepository(conn)
		a.decks = postgres.NewDeckRepository(conn)
		a.users = postgres.NewUserRepository(conn)
		a.revoked = memory.NewRevocationList()
		a.feed = memory.NewFeedStore(a.cfg.Storage.FeedSize)
		a.log.Info("database connection established")

	case config.StorageMemory:
		a.backend = memory.NewProgressStore()
		a.tasks = memory.NewTaskStore()
		a.decks = memory.NewDeckStore()
		a.users = memory.NewUserStore()
		a.revoked = memory.NewRevocationList()
		a.feed = memory.NewFeedStore(a.cfg.Storage.FeedSize)
		a.log.Warn("using in-memory storage, data is lost on restart")

	default:
		return fmt.Errorf("unknown storage driver %q", a.cfg.Storage.Driver)
	}
	return nil
}

// poolCheck pings the database and reports pool usage.
func poolCheck(conn *postgres.Connection) handlers.DetailedCheckFunc {
	return func(ctx context.Context) (string, error) {
		status, err := conn.Health(ctx)
		if err != nil {
			return "", err
		}
		if !status.Healthy {
			return "", errors.New(status.Error)
		}
		return status.Summary(), nil
	}
}

func openDatabase(ctx context.Context, db config.DatabaseConfig) (*postgres.Connection, error) {
	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = db.URL
	pgCfg.Host = db.Host
	pgCfg.Port = db.Port
	pgCfg.Database = db.Name
	pgCfg.User = db.User
	pgCfg.Password = db.Password
	pgCfg.SSLMode = db.SSLMode
	if db.MaxConns > 0 {
		pgCfg.MaxConns = db.MaxConns
	}
	if db.MinConns > 0 {
		pgCfg.MinConns = db.MinConns
	}
	if db.MaxConnLifetime > 0 {
		pgCfg.MaxConnLifetime = db.MaxConnLifetime
	}
	if db.MaxConnIdleTime > 0 {
		pgCfg.MaxConnIdleTime = db.MaxConnIdleTime
	}
	if db.ConnectTimeout > 0 {
		pgCfg.ConnectTimeout = db.ConnectTimeout
	}

	conn, err := postgres.NewConnection(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return conn, nil
}

// openRedis layers the cache, the shared feed and the revocation list over
// the primary storage.
func (a *app) openRedis(ctx context.Context) error {
	rc := a.cfg.Redis
	redisCfg := redis.DefaultConfig()
	redisCfg.URL = rc.URL
	redisCfg.Host = rc.Host
	redisCfg.Port = rc.Port
	redisCfg.Password = rc.Password
	redisCfg.DB = rc.DB
	redisCfg.PoolSize = rc.PoolSize
	redisCfg.MinIdleConns = rc.MinIdleConns
	redisCfg.DialTimeout = rc.DialTimeout
	redisCfg.ReadTimeout = rc.ReadTimeout
	redisCfg.WriteTimeout = rc.WriteTimeout

	a.log.Info("connecting to Redis...")
	cache, err := redis.NewCache(ctx, redisCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.cache = cache
	a.onClose(func(context.Context) error {
		a.log.Info("closing redis connection...")
		return cache.Close()
	})
	a.health.AddCheck("redis", false, handlers.NewPingCheck(cache))

	a.backend = redis.NewProgressCache(a.backend, cache, rc.ProgressTTL, a.log)
	a.feed = redis.NewFeed(cache, a.cfg.Storage.FeedSize)
	a.revoked = redis.NewRevocationList(cache)
	a.log.Info("Redis connection established")
	return nil
}

func (a *app) openBus() error {
	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.Logger = a.log
	busCfg.Metrics = messaging.NewBusMetrics(a.registry)

	if a.cache != nil && a.cfg.Features.IsEnabled(config.FeatureRedisEvents, nil) {
		bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         redis.NewPubSub(a.cache.Client()),
			LocalBusConfig: busCfg,
			Logger:         a.log,
		})
		if err != nil {
			return fmt.Errorf("failed to start redis event bus: %w", err)
		}
		a.bus = bus
		a.log.Info("domain events are shared through redis")
	} else {
		a.bus = messaging.NewInMemoryEventBus(busCfg)
	}

	bus := a.bus
	a.onClose(func(context.Context) error {
		a.log.Info("closing event bus...")
		return bus.Close()
	})
	return nil
}

func (a *app) startDispatcher() error {
	dcfg := messaging.DefaultDispatcherConfig(a.bus)
	dcfg.Logger = a.log
	d := messaging.NewDispatcher(dcfg)
	d.Use(messaging.RecoveryMiddleware(a.log))
	d.Use(messaging.LoggingMiddleware(a.log))

	var feed notification.Feed
	if a.cfg.Features.IsEnabled(config.FeatureMilestoneFeed, nil) {
		feed = a.feed
	}

	registered := eventhandler.NewOnUserRegisteredHandler(a.store, feed, a.log)
	if err := d.Register(shared.EventUserRegistered, "create_default_progress", registered.Handle); err != nil {
		return err
	}
	if feed != nil {
		milestones := eventhandler.NewOnProgressMilestoneHandler(feed, a.log)
		for _, et := range milestones.EventTypes() {
			if err := d.Register(et, "record_milestone", milestones.Handle); err != nil {
				return err
			}
		}
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}
	a.dispatcher = d
	a.onClose(func(context.Context) error {
		d.Stop()
		if n := d.DeadLetterQueue().Size(); n > 0 {
			a.log.Warn("dead letters left at shutdown", "count", n)
		}
		return nil
	})
	return nil
}

// newGenerator returns nil when no API key is set or both assistant
// features are off. The assistant then falls back to canned replies.
func (a *app) newGenerator() assistant.Generator {
	if !a.cfg.Features.IsEnabled(config.FeatureAssistantChat, nil) &&
		!a.cfg.Features.IsEnabled(config.FeatureAssistantFlashcards, nil) {
		return nil
	}

	g := a.cfg.Gemini
	gcfg := gemini.DefaultClientConfig(g.APIKey)
	if g.BaseURL != "" {
		gcfg.BaseURL = g.BaseURL
	}
	if g.Model != "" {
		gcfg.Model = g.Model
	}
	if g.Temperature > 0 {
		gcfg.Temperature = g.Temperature
	}
	if g.MaxOutputTokens > 0 {
		gcfg.MaxOutputTokens = g.MaxOutputTokens
	}
	if g.Timeout > 0 {
		gcfg.Timeout = g.Timeout
	}
	if g.RequestsPerSecond > 0 {
		gcfg.RequestsPerSecond = g.RequestsPerSecond
	}
	gcfg.Logger = a.log

	client, err := gemini.NewClient(gcfg)
	if err != nil {
		if errors.Is(err, gemini.ErrNotConfigured) {
			a.log.Warn("GEMINI_API_KEY is not set, the assistant uses fallback replies")
		} else {
			a.log.Error("failed to create gemini client", "error", err)
		}
		return nil
	}
	return client
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPONENTS
// ══════════════════════════════════════════════════════════════════════════════

func (a *app) newAuth() (*auth.Provider, error) {
	acfg := auth.DefaultConfig(a.cfg.Auth.Secret)
	if a.cfg.Auth.Issuer != "" {
		acfg.Issuer = a.cfg.Auth.Issuer
	}
	if a.cfg.Auth.SessionTTL > 0 {
		acfg.SessionTTL = a.cfg.Auth.SessionTTL
	}
	if a.cfg.Auth.ResetTTL > 0 {
		acfg.ResetTTL = a.cfg.Auth.ResetTTL
	}
	if a.cfg.Auth.BcryptCost > 0 {
		acfg.BcryptCost = a.cfg.Auth.BcryptCost
	}
	return auth.NewProvider(acfg, auth.Deps{
		Users:     a.users,
		Revoked:   a.revoked,
		Publisher: a.bus,
		Logger:    a.log,
	})
}

func (a *app) timerSettings() timer.Settings {
	t := a.cfg.Timer
	return timer.Settings{
		Pomodoro:       t.Pomodoro,
		ShortBreak:     t.ShortBreak,
		LongBreak:      t.LongBreak,
		LongBreakEvery: t.LongBreakEvery,
	}
}

// newTimers creates the registry of running timers. Closing it flushes
// unrecorded study time, so it closes before the bus and the storage.
func (a *app) newTimers(sessions *command.CompleteSessionHandler) *timer.Registry {
	runnerCfg := timer.DefaultRunnerConfig()
	runnerCfg.Settings = a.timerSettings()
	if a.cfg.Timer.FlushInterval > 0 {
		runnerCfg.FlushInterval = a.cfg.Timer.FlushInterval
	}
	runnerCfg.Logger = a.log

	sink := &command.TimerSink{
		Study:    command.NewRecordStudyTimeHandler(a.recorder),
		Sessions: sessions,
	}
	reg := timer.NewRegistry(sink, runnerCfg, sessionCounter(a.store))
	a.onClose(func(ctx context.Context) error {
		a.log.Info("stopping timers...", "running", reg.Len())
		return reg.Close(ctx)
	})
	return reg
}

// sessionCounter seeds a new timer with the user's completed pomodoros so the
// long break keeps its rhythm across restarts.
func sessionCounter(store progress.Repository) timer.SessionCounter {
	return func(ctx context.Context, userID string) (int, error) {
		p, err := store.Get(ctx, userID)
		if errors.Is(err, progress.ErrProgressNotFound) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		return p.Sessions, nil
	}
}

// newScheduler registers the weekly reset and the achievement reconciliation.
func (a *app) newScheduler() (*scheduler.Scheduler, error) {
	sc := a.cfg.Scheduler
	s := scheduler.New(scheduler.Config{
		Logger:     a.log,
		Timezone:   a.cfg.App.Location,
		JobTimeout: sc.JobTimeout,
		Metrics:    scheduler.NewMetrics(a.registry),
	})

	weekly, err := scheduler.ParseCron(sc.WeeklyResetCron)
	if err != nil {
		return nil, fmt.Errorf("weekly reset schedule: %w", err)
	}
	reset := command.NewResetWeeklyGoalsHandler(a.backend, a.log)
	if err := s.Register(jobs.NewWeeklyResetJob(reset, a.log), weekly); err != nil {
		return nil, err
	}

	reconcile := command.NewReconcileAchievementsHandler(a.backend, a.recorder, a.log)
	job := jobs.NewReconcileAchievementsJob(reconcile, sc.ReconcileLookback, a.log)
	if err := s.Register(job, scheduler.Every(sc.ReconcileInterval)); err != nil {
		return nil, err
	}

	s.OnJobError(func(name string, err error) {
		a.log.Error("scheduled job failed", "job", name, "error", err)
	})
	return s, nil
}

func (a *app) newServer(authProvider identity.Provider, timers *timer.Registry) (*httpapi.Server, error) {
	ff := a.cfg.Features
	hc := a.cfg.HTTP

	srvCfg := httpapi.DefaultConfig()
	srvCfg.Host = hc.Host
	srvCfg.Port = hc.Port
	srvCfg.ReadTimeout = hc.ReadTimeout
	srvCfg.WriteTimeout = hc.WriteTimeout
	srvCfg.IdleTimeout = hc.IdleTimeout
	if hc.MaxBodyBytes > 0 {
		srvCfg.MaxBodyBytes = hc.MaxBodyBytes
	}
	srvCfg.AllowedOrigins = hc.AllowedOrigins
	srvCfg.RateLimitPerMinute = hc.RateLimitPerMinute
	srvCfg.RateLimitBurst = hc.RateLimitBurst
	if hc.StreamHeartbeat > 0 {
		srvCfg.StreamHeartbeat = hc.StreamHeartbeat
	}
	srvCfg.EnableMetrics = ff.IsEnabled(config.FeatureMetrics, nil)
	srvCfg.Version = a.cfg.App.Version

	var chatGen assistant.Generator
	if ff.IsEnabled(config.FeatureAssistantChat, nil) {
		chatGen = a.generator
	}

	listTasks := query.NewListTasksHandler(a.tasks, a.log)
	deps := httpapi.Dependencies{
		Auth:             authProvider,
		CreateTask:       command.NewCreateTaskHandler(a.tasks, a.store, a.bus),
		ChangeTaskStatus: command.NewChangeTaskStatusHandler(a.tasks, a.recorder, a.bus),
		DeleteTask:       command.NewDeleteTaskHandler(a.tasks, a.store, a.bus),
		AddSubject:       command.NewAddSubjectHandler(a.store),
		SetWeeklyGoal:    command.NewSetWeeklyGoalHandler(a.store),
		DeleteDeck:       command.NewDeleteDeckHandler(a.decks),
		Chat:             command.NewChatHandler(assistant.NewService(chatGen, a.log)),
		ListTasks:        listTasks,
		ListDecks:        query.NewListDecksHandler(a.decks, a.log),
		Dashboard:        query.NewGetDashboardHandler(a.store, listTasks, a.log),
		Feed:             query.NewGetFeedHandler(a.feed),
		Timers:           timers,
		Metrics:          metrics.NewHTTP(a.registry),
		Gatherer:         a.registry,
		Health:           a.health,
		Logger:           a.log,
	}
	if ff.IsEnabled(config.FeatureAssistantFlashcards, nil) {
		deps.GenerateDeck = command.NewGenerateDeckHandler(assistant.NewService(a.generator, a.log), a.decks, a.tasks, a.bus)
	}
	if ff.IsEnabled(config.FeatureProgressStream, nil) {
		deps.Progress = a.store
	}
	return httpapi.NewServer(srvCfg, deps)
}
