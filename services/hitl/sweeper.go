package hitl

import (
	"context"
	"fmt"
	"time"

	"github.com/upb/hitl-control-plane/internal/observability"
	"github.com/upb/hitl-control-plane/models"
	"github.com/upb/hitl-control-plane/repositories"
	"go.uber.org/zap"
)

// SystemActor is recorded as the actor of events the gateway raises itself
const SystemActor = "system"

// Sweeper periodically expires overdue pending actions
type Sweeper struct {
	actions  repositories.PendingActionRepository
	audit    repositories.AuditRepository
	metrics  *observability.Metrics
	logger   *zap.Logger
	interval time.Duration
}

// NewSweeper creates a sweeper. A non-positive interval disables Run.
func NewSweeper(
	actions repositories.PendingActionRepository,
	audit repositories.AuditRepository,
	metrics *observability.Metrics,
	logger *zap.Logger,
	interval time.Duration,
) *Sweeper {
	return &Sweeper{
		actions:  actions,
		audit:    audit,
		metrics:  metrics,
		logger:   logger,
		interval: interval,
	}
}

// Run sweeps on every tick until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("expiry sweeper disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("expiry sweeper started", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("expiry sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce expires every overdue action and records one audit event when
// anything changed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	n, err := s.actions.Expire(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to expire pending actions: %w", err)
	}
	if n == 0 {
		return 0, nil
	}

	s.metrics.RecordExpired(n)
	params := models.NewAuditEvent(models.AuditEventHITLExpired, SystemActor).
		WithDetail(fmt.Sprintf("%d pending action(s) expired", n))
	if _, err := s.audit.Log(ctx, *params); err != nil {
		s.logger.Error("failed to write audit event",
			zap.String("event_type", string(params.EventType)),
			zap.Error(err))
	}

	s.logger.Info("expired pending actions", zap.Int64("count", n))
	return n, nil
}
