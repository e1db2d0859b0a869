package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/classhub/progression-engine/config"
	"github.com/classhub/progression-engine/internal/application/command"
	"github.com/classhub/progression-engine/internal/application/engine"
	"github.com/classhub/progression-engine/internal/application/query"
	"github.com/classhub/progression-engine/internal/application/saga"
	"github.com/classhub/progression-engine/internal/domain/badge"
	"github.com/classhub/progression-engine/internal/domain/group"
	"github.com/classhub/progression-engine/internal/domain/ledger"
	"github.com/classhub/progression-engine/internal/domain/notification"
	"github.com/classhub/progression-engine/internal/domain/reward"
	"github.com/classhub/progression-engine/internal/domain/shared"
	"github.com/classhub/progression-engine/internal/domain/stats"
	"github.com/classhub/progression-engine/internal/domain/xp"
	"github.com/classhub/progression-engine/internal/infrastructure/messaging"
	"github.com/classhub/progression-engine/internal/infrastructure/metrics"
	"github.com/classhub/progression-engine/internal/infrastructure/persistence/memory"
	"github.com/classhub/progression-engine/internal/infrastructure/persistence/postgres"
	rediscache "github.com/classhub/progression-engine/internal/infrastructure/persistence/redis"
	"github.com/classhub/progression-engine/internal/interface/http/handlers"
	"github.com/classhub/progression-engine/pkg/circuitbreaker"
	"github.com/classhub/progression-engine/pkg/logger"
	"github.com/classhub/progression-engine/pkg/tracing"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPLICATION WIRING
// Storage, cache, notification transports, engine and handlers, built once
// per process from config.
// ══════════════════════════════════════════════════════════════════════════════

// App holds the wired components.
type App struct {
	Config     *config.Config
	Log        *logger.Logger
	Metrics    *metrics.Metrics
	Health     *handlers.CompositeHealthChecker
	Dispatcher *messaging.Dispatcher

	Store    stats.Store
	Settings xp.SettingsRepository
	Groups   group.Repository

	AwardBits      *command.AwardBitsHandler
	AwardGroupBits *command.AwardGroupBitsHandler
	AdjustStats    *command.AdjustStatsHandler
	ConsumeShield  *command.ConsumeShieldHandler
	GroupChanged   *command.RecordGroupMultiplierChangeHandler
	Progress       *query.GetProgressHandler
	History        *query.WalletHistoryHandler

	catalog         catalogWriter
	db              *postgres.Connection
	cache           *rediscache.Cache
	shutdownTracing tracing.ShutdownFunc
}

// catalogWriter covers the write side of badges and groups, which the
// domain repositories leave to each backend.
type catalogWriter struct {
	saveBadge     func(ctx context.Context, b badge.Badge) error
	saveGroup     func(ctx context.Context, g group.Group) error
	setMultiplier func(ctx context.Context, groupID string, value float64) (float64, error)
}

// NewApp wires every component for cfg.
func NewApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if log == nil {
		log = logger.Nop()
	}
	clock := shared.SystemClock{}
	app := &App{
		Config:  cfg,
		Log:     log,
		Metrics: metrics.New(),
		Health:  handlers.NewCompositeHealthChecker(cfg.App.Version),
	}
	var m engine.Metrics = engine.NopMetrics{}
	if cfg.Observability.MetricsEnabled {
		m = app.Metrics
	}

	tc := cfg.Observability.Tracing
	shutdown, err := tracing.Setup(ctx, tracing.Config{
		Enabled:      tc.Enabled,
		ServiceName:  cfg.App.Name,
		Environment:  string(cfg.App.Environment),
		Version:      cfg.App.Version,
		OTLPEndpoint: tc.OTLPEndpoint,
		OTLPInsecure: tc.OTLPInsecure,
		Output:       os.Stderr,
		SampleRatio:  tc.SampleRatio,
	})
	if err != nil {
		return nil, err
	}
	app.shutdownTracing = shutdown

	var (
		ledgerRepo    ledger.Repository
		balances      stats.BalanceProjection
		catalog       badge.Catalog
		notifications notification.Repository
		guard         command.IdempotencyGuard = memory.NewIdempotencyGuard(clock)
	)

	// ─── Storage ────────────────────────────────────────────────────────────

	switch cfg.Engine.Storage {
	case config.StoragePostgres:
		conn, err := postgres.NewConnection(ctx, postgresConfig(cfg.Database))
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		app.db = conn
		app.Health.AddCheck("postgres", handlers.PingCheck(conn))

		st := postgres.NewStatsStore(conn, clock, log)
		groups := postgres.NewGroupRepository(conn)
		badges := postgres.NewBadgeRepository(conn)
		app.Store, ledgerRepo, balances = st, st, st
		app.Groups = groups
		app.Settings = postgres.NewSettingsRepository(conn, cfg.DefaultXPSettings())
		catalog = badges
		notifications = postgres.NewNotificationRepository(conn)
		app.catalog = catalogWriter{
			saveBadge:     badges.Save,
			saveGroup:     groups.Save,
			setMultiplier: groups.SetMultiplier,
		}
	default:
		st := memory.NewStore(clock)
		groups := memory.NewGroupRepository()
		badges := memory.NewBadgeCatalog()
		app.Store, ledgerRepo, balances = st, st, st
		app.Groups = groups
		app.Settings = memory.NewSettingsRepository(cfg.DefaultXPSettings())
		catalog = badges
		notifications = memory.NewNotificationRepository()
		app.catalog = catalogWriter{
			saveBadge: func(_ context.Context, b badge.Badge) error { return badges.Add(b) },
			saveGroup: func(_ context.Context, g group.Group) error {
				groups.Put(g)
				return nil
			},
			setMultiplier: func(_ context.Context, id string, v float64) (float64, error) {
				return groups.SetMultiplier(id, v)
			},
		}
	}

	// ─── Redis ──────────────────────────────────────────────────────────────

	var source reward.MultiplierSource = reward.RepositorySource{Groups: app.Groups}
	var invalidator command.GroupCacheInvalidator
	if cfg.Redis.Enabled {
		cache, err := rediscache.NewCache(redisConfig(cfg.Redis))
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		app.cache = cache
		app.Health.AddCheck("redis", handlers.PingCheck(cache))

		groupCache := rediscache.NewGroupMultiplierCache(cache, source, cfg.Redis.GroupCacheTTL, log)
		source, invalidator = groupCache, groupCache
		guard = rediscache.NewIdempotencyGuard(cache)
	}

	// ─── Notifications ──────────────────────────────────────────────────────

	app.Dispatcher = messaging.NewDispatcher(messaging.Config{
		Async:          cfg.Notifications.Async,
		Workers:        cfg.Notifications.Workers,
		HandlerTimeout: 5 * time.Second,
		DeadLetterSize: 100,
		Logger:         log,
	})
	app.Dispatcher.Use(messaging.LoggingMiddleware(log))
	if cfg.Notifications.Log {
		if err := app.Dispatcher.SubscribeAll("log", messaging.NewLogSink(log).Publish); err != nil {
			app.Close()
			return nil, err
		}
	}
	sinks := messaging.FanOut{app.Dispatcher}
	if cfg.Notifications.PubSub && app.cache != nil {
		breaker := circuitbreaker.NotificationSinkBreaker(func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		})
		sinks = append(sinks, messaging.NewBreakerSink(rediscache.NewPubSubSink(app.cache), breaker))
	}

	// ─── Engine ─────────────────────────────────────────────────────────────

	resolver := reward.NewResolver(source, cfg.Aggregation())
	opts := engine.Options{FixedPoint: cfg.Engine.FixedPointBadges, MaxPasses: cfg.Engine.MaxBadgePasses}
	ledgerWriter := engine.NewLedgerWriter(nil, m)
	xpEngine := engine.NewXPEngine(m)
	badges := engine.NewBadgeEvaluator(engine.BadgeEvaluatorDeps{
		Catalog:       catalog,
		Notifications: notifications,
		Resolver:      resolver,
		Ledger:        ledgerWriter,
		XP:            xpEngine,
		Options:       opts,
		Metrics:       m,
		Logger:        log,
	})
	levelUps := engine.NewLevelUpRewardDistributor(resolver, ledgerWriter, xpEngine, badges, m, log)
	progression := engine.NewProgression(xpEngine, badges, levelUps, nil, opts, log)

	flow := saga.NewRewardFlow(saga.RewardFlowDeps{
		Store:       app.Store,
		Settings:    app.Settings,
		Resolver:    resolver,
		Progression: progression,
		Deliverer:   engine.NewDeliverer(notifications, sinks, m, log),
		Clock:       clock,
		Metrics:     m,
		Logger:      log,
	})

	// ─── Handlers ───────────────────────────────────────────────────────────

	ttl := cfg.Engine.IdempotencyTTL
	concurrency := cfg.Engine.BulkConcurrency
	app.AwardBits = command.NewAwardBitsHandler(flow, ledgerWriter, guard, ttl, log)
	app.AwardGroupBits = command.NewAwardGroupBitsHandler(app.Groups, app.AwardBits, concurrency, log)
	app.AdjustStats = command.NewAdjustStatsHandler(flow, ledgerWriter, guard, ttl, log)
	app.ConsumeShield = command.NewConsumeShieldHandler(flow, log)
	app.GroupChanged = command.NewRecordGroupMultiplierChangeHandler(app.Groups, flow, invalidator, concurrency, log)
	app.Progress = query.NewGetProgressHandler(app.Store, app.Settings, resolver, clock)
	app.History = query.NewWalletHistoryHandler(ledgerRepo, balances)

	log.Debug("application wired",
		logger.String("storage", cfg.Engine.Storage),
		logger.Bool("redis", app.cache != nil),
		logger.String("group_aggregation", string(cfg.Aggregation())),
	)
	return app, nil
}

// Close releases connections. Pending async notifications are drained first.
func (a *App) Close() {
	if a.Dispatcher != nil {
		if err := a.Dispatcher.Close(); err != nil {
			a.Log.Warn("dispatcher close failed", logger.Err(err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.Log.Warn("redis close failed", logger.Err(err))
		}
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdownTracing(ctx); err != nil {
			a.Log.Warn("tracing shutdown failed", logger.Err(err))
		}
	}
}

// SetGroupMultiplier stores a new multiplier and returns the previous one.
func (a *App) SetGroupMultiplier(ctx context.Context, groupID string, value float64) (float64, error) {
	return a.catalog.setMultiplier(ctx, groupID, value)
}

func postgresConfig(c config.DatabaseConfig) postgres.Config {
	pc := postgres.DefaultConfig()
	pc.URL = c.URL
	pc.Host = c.Host
	pc.Port = c.Port
	pc.Database = c.Name
	pc.User = c.User
	pc.Password = c.Password
	pc.SSLMode = c.SSLMode
	pc.MaxConns = int32(c.MaxConns)
	pc.MinConns = int32(c.MinConns)
	pc.MaxConnLifetime = c.ConnMaxLifetime
	pc.MaxConnIdleTime = c.ConnMaxIdleTime
	pc.ConnectTimeout = c.ConnectTimeout
	return pc
}

func redisConfig(c config.RedisConfig) rediscache.Config {
	rc := rediscache.DefaultConfig()
	rc.Host = c.Host
	rc.Port = c.Port
	rc.Password = c.Password
	rc.DB = c.DB
	rc.PoolSize = c.PoolSize
	rc.MinIdleConns = c.MinIdleConns
	rc.DialTimeout = c.DialTimeout
	rc.ReadTimeout = c.ReadTimeout
	rc.WriteTimeout = c.WriteTimeout
	return rc
}

// ══════════════════════════════════════════════════════════════════════════════
// SEED
// ══════════════════════════════════════════════════════════════════════════════

// Seed is catalog state loaded before a command runs. With memory storage
// it is the only way to give a one-shot command badges and groups.
type Seed struct {
	// Settings by classroom id.
	Settings map[string]xp.Settings `json:"settings"`
	Badges   []badge.Badge          `json:"badges"`
	Groups   []group.Group          `json:"groups"`
}

// LoadSeed reads a seed file.
func LoadSeed(path string) (*Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	var s Seed
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode seed %s: %w", path, err)
	}
	return &s, nil
}

// ApplySeed saves settings, badges and groups in that order.
func (a *App) ApplySeed(ctx context.Context, s *Seed) error {
	for classroomID, settings := range s.Settings {
		if err := a.Settings.Save(ctx, classroomID, settings.Normalize()); err != nil {
			return fmt.Errorf("settings for %s: %w", classroomID, err)
		}
	}
	for _, b := range s.Badges {
		if err := a.catalog.saveBadge(ctx, b); err != nil {
			return fmt.Errorf("badge %s: %w", b.ID, err)
		}
	}
	for _, g := range s.Groups {
		if err := a.catalog.saveGroup(ctx, g); err != nil {
			return fmt.Errorf("group %s: %w", g.ID, err)
		}
	}
	a.Log.Info("seed applied",
		logger.Int("settings", len(s.Settings)),
		logger.Int("badges", len(s.Badges)),
		logger.Int("groups", len(s.Groups)),
	)
	return nil
}
