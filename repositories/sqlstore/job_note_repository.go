package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/hitl-control-plane/models"
	"github.com/upb/hitl-control-plane/repositories"
	"go.uber.org/zap"
)

const jobNoteColumns = `id, job_id, worker_name, transcript, scrubbed, pii_found, created_at`

// JobNoteRepository implements the repositories.JobNoteRepository interface
type JobNoteRepository struct {
	db     *DB
	logger *zap.Logger
	clock  func() time.Time
}

// NewJobNoteRepository creates a new job note repository
func NewJobNoteRepository(db *DB, logger *zap.Logger, opts ...Option) repositories.JobNoteRepository {
	o := applyOptions(opts)
	return &JobNoteRepository{
		db:     db,
		logger: logger,
		clock:  o.clock,
	}
}

// Create inserts a note and returns it as stored
func (r *JobNoteRepository) Create(ctx context.Context, params models.CreateJobNoteParams) (*models.JobNote, error) {
	note := &models.JobNote{
		ID:         uuid.NewString(),
		JobID:      params.JobID,
		WorkerName: params.WorkerName,
		Transcript: params.Transcript,
		Scrubbed:   params.Scrubbed,
		PIIFound:   params.PIIFound,
		CreatedAt:  dbTime(r.clock()),
	}

	executor, err := GetExecutor(ctx, r.db)
	if err != nil {
		return nil, err
	}

	_, err = executor.ExecContext(ctx, `
		INSERT INTO job_notes (`+jobNoteColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		note.ID,
		note.JobID,
		note.WorkerName,
		note.Transcript,
		note.Scrubbed,
		note.PIIFound,
		note.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert job note: %w", err)
	}

	r.logger.Debug("job note created",
		zap.String("id", note.ID),
		zap.Bool("pii_found", note.PIIFound))
	return note, nil
}

// List returns notes newest first
func (r *JobNoteRepository) List(ctx context.Context, q models.JobNoteQuery) ([]*models.JobNote, error) {
	var (
		b    strings.Builder
		args []interface{}
	)
	b.WriteString("SELECT " + jobNoteColumns + " FROM job_notes")
	if q.JobID != nil {
		args = append(args, *q.JobID)
		fmt.Fprintf(&b, " WHERE job_id = $%d", len(args))
	}

	limit := q.Limit
	if limit <= 0 {
		limit = models.DefaultJobNoteLimit
	}
	args = append(args, limit)
	fmt.Fprintf(&b, " ORDER BY created_at DESC LIMIT $%d", len(args))

	executor, err := GetExecutor(ctx, r.db)
	if err != nil {
		return nil, err
	}

	rows, err := executor.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query job notes: %w", err)
	}
	defer rows.Close()

	notes := []*models.JobNote{}
	for rows.Next() {
		note, err := scanJobNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, note)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job notes: %w", err)
	}

	return notes, nil
}

func scanJobNote(s rowScanner) (*models.JobNote, error) {
	var (
		note       models.JobNote
		jobID      sql.NullString
		workerName sql.NullString
	)

	err := s.Scan(
		&note.ID,
		&jobID,
		&workerName,
		&note.Transcript,
		&note.Scrubbed,
		&note.PIIFound,
		&note.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan job note: %w", err)
	}

	note.JobID = nullableString(jobID)
	note.WorkerName = nullableString(workerName)
	note.CreatedAt = note.CreatedAt.UTC()
	return &note, nil
}
