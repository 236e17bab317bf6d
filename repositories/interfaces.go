package repositories

import (
	"context"

	"github.com/upb/hitl-control-plane/models"
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// AuditRepository is the append-only audit trail. There is deliberately no
// update or delete method.
type AuditRepository interface {
	// Log assigns an id and timestamp and persists the event immediately
	Log(ctx context.Context, params models.CreateAuditEventParams) (*models.AuditEvent, error)

	// Query returns events newest first. Limit defaults to 100 when <= 0.
	Query(ctx context.Context, q models.AuditQuery) ([]*models.AuditEvent, error)

	// GetByID returns nil, nil when the event does not exist
	GetByID(ctx context.Context, id string) (*models.AuditEvent, error)
}

// PendingActionRepository is the HITL approval state machine.
// Lookups of unknown ids return nil, nil rather than an error.
type PendingActionRepository interface {
	// Create inserts a new pending action
	Create(ctx context.Context, params models.CreatePendingActionParams) (*models.PendingAction, error)

	// Get retrieves an action by id
	Get(ctx context.Context, id string) (*models.PendingAction, error)

	// List sweeps expired actions, then filters, newest first
	List(ctx context.Context, q models.PendingActionQuery) ([]*models.PendingAction, error)

	// Accept moves a pending action to accepted. Terminal rows are returned unchanged.
	Accept(ctx context.Context, id, decidedBy string) (*models.PendingAction, error)

	// Reject moves a pending action to rejected. Terminal rows are returned unchanged.
	Reject(ctx context.Context, id, decidedBy string, reason *string) (*models.PendingAction, error)

	// Expire moves every overdue pending action to expired and returns the count
	Expire(ctx context.Context) (int64, error)
}

// JobNoteRepository stores worker notes. Transcripts arrive scrubbed.
type JobNoteRepository interface {
	// Create assigns an id and timestamp and persists the note
	Create(ctx context.Context, params models.CreateJobNoteParams) (*models.JobNote, error)

	// List returns notes newest first, optionally for one job
	List(ctx context.Context, q models.JobNoteQuery) ([]*models.JobNote, error)
}

// Repositories holds all repository instances
type Repositories struct {
	PendingActions PendingActionRepository
	AuditEvents    AuditRepository
	JobNotes       JobNoteRepository
}
