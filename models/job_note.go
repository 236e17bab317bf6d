package models

import "time"

// DefaultJobNoteLimit applies when a note query carries no positive limit
const DefaultJobNoteLimit = 50

// JobNote is a worker's note against a job. Transcript is stored already
// scrubbed.
type JobNote struct {
	ID         string    `json:"id" db:"id"`
	JobID      *string   `json:"job_id,omitempty" db:"job_id"`
	WorkerName *string   `json:"worker_name,omitempty" db:"worker_name"`
	Transcript string    `json:"transcript" db:"transcript"`
	Scrubbed   bool      `json:"scrubbed" db:"scrubbed"`
	PIIFound   bool      `json:"pii_found" db:"pii_found"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the JobNote model
func (JobNote) TableName() string {
	return "job_notes"
}

// CreateJobNoteParams carries the fields for a new job note
type CreateJobNoteParams struct {
	JobID      *string
	WorkerName *string
	Transcript string
	Scrubbed   bool
	PIIFound   bool
}

// JobNoteQuery filters job notes. A nil JobID lists every job.
type JobNoteQuery struct {
	JobID *string
	Limit int
}
