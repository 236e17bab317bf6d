package sqlstore

import (
	"context"
	"errors"
	"time"

	"github.com/upb/hitl-control-plane/config"
	"github.com/upb/hitl-control-plane/repositories"
	"go.uber.org/zap"
)

// Option configures a repository
type Option func(*options)

type options struct {
	clock func() time.Time
}

// WithClock replaces time.Now as the source of timestamps
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// RepositoryFactory owns the two independent stores: the hitl store
// (pending actions and job notes) and the audit trail.
type RepositoryFactory struct {
	hitlDB  *DB
	auditDB *DB
	logger  *zap.Logger
	opts    []Option
}

// NewRepositoryFactory creates store handles. No connection is opened until
// a repository is first used.
func NewRepositoryFactory(cfg *config.Config, logger *zap.Logger, opts ...Option) *RepositoryFactory {
	return &RepositoryFactory{
		hitlDB:  NewDB(cfg.HITLDatabase, HITLSchema, logger.With(zap.String("store", "hitl"))),
		auditDB: NewDB(cfg.AuditDatabase, AuditSchema, logger.With(zap.String("store", "audit"))),
		logger:  logger,
		opts:    opts,
	}
}

// NewRepositories creates all repository instances
func (f *RepositoryFactory) NewRepositories() *repositories.Repositories {
	return &repositories.Repositories{
		PendingActions: NewPendingActionRepository(f.hitlDB, f.logger, f.opts...),
		AuditEvents:    NewAuditRepository(f.auditDB, f.logger, f.opts...),
		JobNotes:       NewJobNoteRepository(f.hitlDB, f.logger, f.opts...),
	}
}

// HITLDB returns the pending action and job note store handle
func (f *RepositoryFactory) HITLDB() *DB {
	return f.hitlDB
}

// AuditDB returns the audit store handle
func (f *RepositoryFactory) AuditDB() *DB {
	return f.auditDB
}

// HealthCheck checks both stores
func (f *RepositoryFactory) HealthCheck(ctx context.Context) map[string]error {
	return map[string]error{
		"hitl_store":  f.hitlDB.HealthCheck(ctx),
		"audit_store": f.auditDB.HealthCheck(ctx),
	}
}

// Close closes both stores
func (f *RepositoryFactory) Close() error {
	return errors.Join(f.hitlDB.Close(), f.auditDB.Close())
}
