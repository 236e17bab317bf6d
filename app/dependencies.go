package app

import (
	"context"
	"fmt"
	"time"

	"github.com/upb/hitl-control-plane/auth"
	"github.com/upb/hitl-control-plane/config"
	"github.com/upb/hitl-control-plane/handlers"
	"github.com/upb/hitl-control-plane/internal/observability"
	"github.com/upb/hitl-control-plane/middleware"
	"github.com/upb/hitl-control-plane/repositories"
	"github.com/upb/hitl-control-plane/repositories/sqlstore"
	"github.com/upb/hitl-control-plane/services/hitl"
	"github.com/upb/hitl-control-plane/services/notify"
	"github.com/upb/hitl-control-plane/services/skills"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics

	// Repository Factory
	RepoFactory *sqlstore.RepositoryFactory

	// Repositories
	PendingActions repositories.PendingActionRepository
	AuditEvents    repositories.AuditRepository
	JobNotes       repositories.JobNoteRepository

	// Notifications
	Hub        *notify.Hub
	Dispatcher *notify.Dispatcher // nil when no notifier is configured

	// Services
	HITL     *hitl.Service
	Sweeper  *hitl.Sweeper
	Skills   *skills.Registry
	Executor *skills.Executor

	// Auth, nil when AUTH_JWT_SECRET is unset
	AuthMiddleware *middleware.AuthMiddleware

	// Handlers
	HealthHandler *handlers.HealthHandler
	HITLHandler   *handlers.HITLHandler
	AuditHandler  *handlers.AuditHandler
	SkillsHandler *handlers.SkillsHandler

	now func() time.Time
}

// Option customises dependency construction
type Option func(*Dependencies)

// WithClock overrides the time source shared by stores and skills
func WithClock(now func() time.Time) Option {
	return func(d *Dependencies) {
		d.now = now
	}
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Dependencies, error) {
	deps := &Dependencies{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewMetrics(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(deps)
	}

	// Initialize both stores
	if err := deps.initDatabase(ctx); err != nil {
		deps.closeStores()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initRepositories()
	deps.initNotifications(cfg)
	deps.initServices(cfg)

	if err := deps.initSkills(); err != nil {
		deps.closeStores()
		return nil, fmt.Errorf("failed to initialize skills: %w", err)
	}

	if err := deps.initAuth(cfg); err != nil {
		deps.closeStores()
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	deps.initHandlers()

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase opens both stores and ensures their schemas
func (d *Dependencies) initDatabase(ctx context.Context) error {
	d.RepoFactory = sqlstore.NewRepositoryFactory(d.Config, d.Logger, sqlstore.WithClock(d.now))

	for name, err := range d.RepoFactory.HealthCheck(ctx) {
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	d.Logger.Info("database connections established",
		zap.String("hitl_store", d.Config.HITLDatabase.LogString()),
		zap.String("audit_store", d.Config.AuditDatabase.LogString()))

	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	repos := d.RepoFactory.NewRepositories()

	d.PendingActions = repos.PendingActions
	d.AuditEvents = repos.AuditEvents
	d.JobNotes = repos.JobNotes

	d.Logger.Info("repositories initialized")
}

// initNotifications sets up the operator websocket hub and, when a bot
// token and approval channel are configured, the Discord dispatcher.
func (d *Dependencies) initNotifications(cfg *config.Config) {
	d.Hub = notify.NewHub(d.Logger.With(zap.String("component", "hub")))

	if !cfg.Notifications.Discord.Enabled() || cfg.HITL.ApprovalChannelID == "" {
		d.Logger.Warn("discord notifier not configured, approval requests will only be broadcast")
		return
	}

	notifier := notify.NewDiscordNotifier(cfg.Notifications.Discord, cfg.HITL.ApprovalChannelID)
	d.Dispatcher = notify.NewDispatcher(notifier, d.Logger.With(zap.String("component", "dispatcher")), d.Metrics, notify.Config{
		BufferSize:  cfg.Notifications.BufferSize,
		WorkerCount: cfg.Notifications.WorkerCount,
		SendTimeout: cfg.Notifications.Discord.Timeout,
	})
	d.Logger.Info("discord notifier configured",
		zap.String("channel_id", cfg.HITL.ApprovalChannelID))
}

// initServices wires the approval workflow and its expiry sweeper
func (d *Dependencies) initServices(cfg *config.Config) {
	var queue hitl.NotificationQueue
	if d.Dispatcher != nil {
		queue = d.Dispatcher
	}

	d.HITL = hitl.NewService(
		d.PendingActions,
		d.AuditEvents,
		d.Hub,
		queue,
		d.Metrics,
		d.Logger.With(zap.String("component", "hitl")),
		hitl.Options{
			OperatorRoleIDs: cfg.HITL.OperatorRoleIDs,
			DefaultExpiry:   cfg.HITL.DefaultExpiry,
		},
	)

	d.Sweeper = hitl.NewSweeper(
		d.PendingActions,
		d.AuditEvents,
		d.Metrics,
		d.Logger.With(zap.String("component", "sweeper")),
		cfg.HITL.SweepInterval,
	)

	if len(cfg.HITL.OperatorRoleIDs) == 0 {
		d.Logger.Warn("no operator roles configured, any sender may decide HITL actions")
	}
}

// initSkills registers the built-in skills behind the approval policy
func (d *Dependencies) initSkills() error {
	registry, err := skills.NewRegistry(skills.Builtin(skills.BuiltinDeps{
		Audit: d.AuditEvents,
		HITL:  d.HITL,
		Notes: d.JobNotes,
		Now:   d.now,
	})...)
	if err != nil {
		return fmt.Errorf("failed to register skills: %w", err)
	}
	d.Skills = registry

	d.Executor = skills.NewExecutor(
		d.Skills,
		d.HITL,
		d.AuditEvents,
		d.Metrics,
		d.Logger.With(zap.String("component", "skills")),
	)

	d.Logger.Info("skills registered", zap.Int("count", len(d.Skills.List())))
	return nil
}

func (d *Dependencies) initAuth(cfg *config.Config) error {
	if cfg.Auth.JWTSecret == "" {
		d.Logger.Warn("AUTH_JWT_SECRET not set, API authentication disabled")
		return nil
	}

	validator, err := auth.NewHMACValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, auth.WithClock(d.now))
	if err != nil {
		return err
	}
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger, middleware.WithDenialAudit(d.AuditEvents))
	d.Logger.Info("bearer token authentication enabled")
	return nil
}

func (d *Dependencies) initHandlers() {
	d.HealthHandler = handlers.NewHealthHandler(d.RepoFactory, d.Logger)
	d.HITLHandler = handlers.NewHITLHandler(d.HITL, d.Hub, d.Logger)
	d.AuditHandler = handlers.NewAuditHandler(d.AuditEvents, d.Logger)
	d.SkillsHandler = handlers.NewSkillsHandler(d.Executor, d.Skills, d.Logger)
}

// Start launches the notification workers and the expiry sweeper. The
// sweeper stops when ctx is cancelled.
func (d *Dependencies) Start(ctx context.Context) error {
	if d.Dispatcher != nil {
		if err := d.Dispatcher.Start(); err != nil {
			return fmt.Errorf("failed to start notification dispatcher: %w", err)
		}
	}
	go d.Sweeper.Run(ctx)
	return nil
}

func (d *Dependencies) closeStores() {
	if d.RepoFactory != nil {
		_ = d.RepoFactory.Close()
	}
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Hub != nil {
		d.Hub.Close()
	}

	if d.Dispatcher != nil {
		timeout := 5 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.Dispatcher.Stop(timeout); err != nil {
			d.Logger.Warn("notification dispatcher stop", zap.Error(err))
		}
	}

	// Close database connections
	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connections closed")
		}
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
