package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/hitl-control-plane/models"
	"github.com/upb/hitl-control-plane/repositories"
	"go.uber.org/zap"
)

const pendingActionColumns = `id, skill_name, action_type, proposed_data, requested_by,
	requested_at, expires_at, status, decided_by, decided_at, reject_reason,
	session_key, channel_id`

// PendingActionRepository implements the repositories.PendingActionRepository
// interface. Every transition out of pending is a conditional update on
// status = 'pending', so concurrent accept/reject/expire calls resolve in
// favour of whichever commits first.
type PendingActionRepository struct {
	db     *DB
	tm     *TransactionManager
	logger *zap.Logger
	clock  func() time.Time
}

// NewPendingActionRepository creates a new pending action repository
func NewPendingActionRepository(db *DB, logger *zap.Logger, opts ...Option) repositories.PendingActionRepository {
	o := applyOptions(opts)
	return &PendingActionRepository{
		db:     db,
		tm:     NewTransactionManager(db, logger),
		logger: logger,
		clock:  o.clock,
	}
}

// Create inserts a new pending action
func (r *PendingActionRepository) Create(ctx context.Context, params models.CreatePendingActionParams) (*models.PendingAction, error) {
	data, err := json.Marshal(params.ProposedData)
	if err != nil {
		return nil, fmt.Errorf("failed to encode proposed data: %w", err)
	}

	expiresIn := models.DefaultActionExpiry
	if params.ExpiresIn != nil {
		expiresIn = *params.ExpiresIn
	}

	now := dbTime(r.clock())
	action := &models.PendingAction{
		ID:           uuid.NewString(),
		SkillName:    params.SkillName,
		ActionType:   params.ActionType,
		ProposedData: json.RawMessage(data),
		RequestedBy:  params.RequestedBy,
		RequestedAt:  now,
		ExpiresAt:    dbTime(now.Add(expiresIn)),
		Status:       models.ActionStatusPending,
		SessionKey:   params.SessionKey,
		ChannelID:    params.ChannelID,
	}

	query := `
		INSERT INTO pending_actions (
			id, skill_name, action_type, proposed_data, requested_by,
			requested_at, expires_at, status, session_key, channel_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	executor, err := GetExecutor(ctx, r.db)
	if err != nil {
		return nil, err
	}

	_, err = executor.ExecContext(ctx, query,
		action.ID,
		action.SkillName,
		string(action.ActionType),
		string(data),
		action.RequestedBy,
		action.RequestedAt,
		action.ExpiresAt,
		string(action.Status),
		action.SessionKey,
		action.ChannelID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pending action: %w", err)
	}

	r.logger.Info("pending action created",
		zap.String("id", action.ID),
		zap.String("skill_name", action.SkillName),
		zap.String("action_type", string(action.ActionType)),
		zap.Time("expires_at", action.ExpiresAt))
	return action, nil
}

// Get retrieves a pending action by ID
func (r *PendingActionRepository) Get(ctx context.Context, id string) (*models.PendingAction, error) {
	executor, err := GetExecutor(ctx, r.db)
	if err != nil {
		return nil, err
	}

	row := executor.QueryRowContext(ctx, "SELECT "+pendingActionColumns+" FROM pending_actions WHERE id = $1", id)
	action, err := scanPendingAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return action, err
}

// List expires overdue actions, then returns matches newest first
func (r *PendingActionRepository) List(ctx context.Context, q models.PendingActionQuery) ([]*models.PendingAction, error) {
	if _, err := r.Expire(ctx); err != nil {
		return nil, err
	}

	var (
		conditions []string
		args       []interface{}
	)
	where := func(clause string, arg interface{}) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if q.Status != nil {
		where("status = $%d", string(*q.Status))
	}
	if q.SkillName != nil {
		where("skill_name = $%d", *q.SkillName)
	}
	if q.RequestedBy != nil {
		where("requested_by = $%d", *q.RequestedBy)
	}

	var b strings.Builder
	b.WriteString("SELECT " + pendingActionColumns + " FROM pending_actions")
	if len(conditions) > 0 {
		b.WriteString(" WHERE " + strings.Join(conditions, " AND "))
	}
	b.WriteString(" ORDER BY requested_at DESC")
	if q.Limit != nil {
		args = append(args, *q.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}

	executor, err := GetExecutor(ctx, r.db)
	if err != nil {
		return nil, err
	}

	rows, err := executor.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending actions: %w", err)
	}
	defer rows.Close()

	actions := []*models.PendingAction{}
	for rows.Next() {
		action, err := scanPendingAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending actions: %w", err)
	}

	return actions, nil
}

// Accept moves a pending action to accepted
func (r *PendingActionRepository) Accept(ctx context.Context, id, decidedBy string) (*models.PendingAction, error) {
	return r.decide(ctx, id, models.ActionStatusAccepted, decidedBy, nil)
}

// Reject moves a pending action to rejected, recording an optional reason
func (r *PendingActionRepository) Reject(ctx context.Context, id, decidedBy string, reason *string) (*models.PendingAction, error) {
	return r.decide(ctx, id, models.ActionStatusRejected, decidedBy, reason)
}

func (r *PendingActionRepository) decide(ctx context.Context, id string, status models.ActionStatus, decidedBy string, reason *string) (*models.PendingAction, error) {
	var action *models.PendingAction

	err := r.tm.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		executor, err := GetExecutor(txCtx, r.db)
		if err != nil {
			return err
		}

		query := `
			UPDATE pending_actions
			SET status = $1, decided_by = $2, decided_at = $3, reject_reason = $4
			WHERE id = $5 AND status = 'pending'
		`
		result, err := executor.ExecContext(txCtx, query,
			string(status), decidedBy, dbTime(r.clock()), reason, id)
		if err != nil {
			return fmt.Errorf("failed to %s pending action: %w", transitionVerb(status), err)
		}

		changed, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}

		action, err = r.Get(txCtx, id)
		if err != nil {
			return err
		}

		if changed > 0 {
			r.logger.Info("pending action decided",
				zap.String("id", id),
				zap.String("status", string(status)),
				zap.String("decided_by", decidedBy))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return action, nil
}

func transitionVerb(status models.ActionStatus) string {
	if status == models.ActionStatusAccepted {
		return "accept"
	}
	return "reject"
}

// Expire moves every overdue pending action to expired
func (r *PendingActionRepository) Expire(ctx context.Context) (int64, error) {
	executor, err := GetExecutor(ctx, r.db)
	if err != nil {
		return 0, err
	}

	query := `
		UPDATE pending_actions
		SET status = 'expired'
		WHERE status = 'pending' AND expires_at <= $1
	`
	result, err := executor.ExecContext(ctx, query, dbTime(r.clock()))
	if err != nil {
		return 0, fmt.Errorf("failed to expire pending actions: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if count > 0 {
		r.logger.Info("pending actions expired", zap.Int64("count", count))
	}
	return count, nil
}

func scanPendingAction(s rowScanner) (*models.PendingAction, error) {
	var (
		action       models.PendingAction
		actionType   string
		status       string
		proposedData []byte
		decidedBy    sql.NullString
		decidedAt    sql.NullTime
		rejectReason sql.NullString
		sessionKey   sql.NullString
		channelID    sql.NullString
	)

	err := s.Scan(
		&action.ID,
		&action.SkillName,
		&actionType,
		&proposedData,
		&action.RequestedBy,
		&action.RequestedAt,
		&action.ExpiresAt,
		&status,
		&decidedBy,
		&decidedAt,
		&rejectReason,
		&sessionKey,
		&channelID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan pending action: %w", err)
	}

	action.ActionType = models.ActionType(actionType)
	action.Status = models.ActionStatus(status)
	action.ProposedData = json.RawMessage(proposedData)
	action.RequestedAt = action.RequestedAt.UTC()
	action.ExpiresAt = action.ExpiresAt.UTC()
	action.DecidedBy = nullableString(decidedBy)
	action.DecidedAt = nullableTime(decidedAt)
	action.RejectReason = nullableString(rejectReason)
	action.SessionKey = nullableString(sessionKey)
	action.ChannelID = nullableString(channelID)
	return &action, nil
}
