package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/hitl-control-plane/models"
	"github.com/upb/hitl-control-plane/repositories"
	"go.uber.org/zap"
)

// DefaultAuditQueryLimit applies when a query carries no positive limit
const DefaultAuditQueryLimit = 100

const auditColumns = `id, event_type, actor, skill_name, action_id, detail, timestamp, session_key, channel_id`

// AuditRepository implements the repositories.AuditRepository interface
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
	clock  func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger, opts ...Option) repositories.AuditRepository {
	o := applyOptions(opts)
	return &AuditRepository{
		db:     db,
		logger: logger,
		clock:  o.clock,
	}
}

// Log appends a new audit event
func (r *AuditRepository) Log(ctx context.Context, params models.CreateAuditEventParams) (*models.AuditEvent, error) {
	event := &models.AuditEvent{
		ID:         uuid.NewString(),
		EventType:  params.EventType,
		Actor:      params.Actor,
		SkillName:  params.SkillName,
		ActionID:   params.ActionID,
		Detail:     params.Detail,
		Timestamp:  r.nextTimestamp(),
		SessionKey: params.SessionKey,
		ChannelID:  params.ChannelID,
	}

	query := `
		INSERT INTO audit_log (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	executor, err := GetExecutor(ctx, r.db)
	if err != nil {
		return nil, err
	}

	_, err = executor.ExecContext(ctx, query,
		event.ID,
		string(event.EventType),
		event.Actor,
		event.SkillName,
		event.ActionID,
		event.Detail,
		event.Timestamp,
		event.SessionKey,
		event.ChannelID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert audit event: %w", err)
	}

	r.logger.Debug("audit event logged",
		zap.String("id", event.ID),
		zap.String("event_type", string(event.EventType)))
	return event, nil
}

// nextTimestamp never returns a value earlier than the previous one
func (r *AuditRepository) nextTimestamp() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := dbTime(r.clock())
	if now.Before(r.last) {
		now = r.last
	}
	r.last = now
	return now
}

// Query returns matching events newest first
func (r *AuditRepository) Query(ctx context.Context, q models.AuditQuery) ([]*models.AuditEvent, error) {
	var (
		conditions []string
		args       []interface{}
	)
	where := func(clause string, arg interface{}) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if q.EventType != nil {
		where("event_type = $%d", string(*q.EventType))
	}
	if q.Actor != nil {
		where("actor = $%d", *q.Actor)
	}
	if q.SkillName != nil {
		where("skill_name = $%d", *q.SkillName)
	}
	if q.Since != nil {
		where("timestamp > $%d", dbTime(*q.Since))
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultAuditQueryLimit
	}
	args = append(args, limit)

	var b strings.Builder
	b.WriteString("SELECT " + auditColumns + " FROM audit_log")
	if len(conditions) > 0 {
		b.WriteString(" WHERE " + strings.Join(conditions, " AND "))
	}
	fmt.Fprintf(&b, " ORDER BY timestamp DESC LIMIT $%d", len(args))

	executor, err := GetExecutor(ctx, r.db)
	if err != nil {
		return nil, err
	}

	rows, err := executor.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	events := []*models.AuditEvent{}
	for rows.Next() {
		event, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}

	return events, nil
}

// GetByID retrieves an audit event by ID
func (r *AuditRepository) GetByID(ctx context.Context, id string) (*models.AuditEvent, error) {
	executor, err := GetExecutor(ctx, r.db)
	if err != nil {
		return nil, err
	}

	row := executor.QueryRowContext(ctx, "SELECT "+auditColumns+" FROM audit_log WHERE id = $1", id)
	event, err := scanAuditEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return event, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuditEvent(s rowScanner) (*models.AuditEvent, error) {
	var (
		event      models.AuditEvent
		eventType  string
		skillName  sql.NullString
		actionID   sql.NullString
		sessionKey sql.NullString
		channelID  sql.NullString
	)

	err := s.Scan(
		&event.ID,
		&eventType,
		&event.Actor,
		&skillName,
		&actionID,
		&event.Detail,
		&event.Timestamp,
		&sessionKey,
		&channelID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan audit event: %w", err)
	}

	event.EventType = models.AuditEventType(eventType)
	event.Timestamp = event.Timestamp.UTC()
	event.SkillName = nullableString(skillName)
	event.ActionID = nullableString(actionID)
	event.SessionKey = nullableString(sessionKey)
	event.ChannelID = nullableString(channelID)
	return &event, nil
}
