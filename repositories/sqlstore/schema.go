package sqlstore

// AuditSchema creates the append-only audit_log table
func AuditSchema(d Dialect) []string {
	ts := timestampType(d)
	return []string{
		`CREATE TABLE IF NOT EXISTS audit_log (
			id          TEXT PRIMARY KEY,
			event_type  TEXT NOT NULL,
			actor       TEXT NOT NULL,
			skill_name  TEXT,
			action_id   TEXT,
			detail      TEXT NOT NULL,
			timestamp   ` + ts + ` NOT NULL,
			session_key TEXT,
			channel_id  TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_event_type ON audit_log(event_type)`,
	}
}

// PendingActionSchema creates the pending_actions table
func PendingActionSchema(d Dialect) []string {
	ts := timestampType(d)
	data := "TEXT"
	if d == DialectPostgres {
		data = "JSONB"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS pending_actions (
			id            TEXT PRIMARY KEY,
			skill_name    TEXT NOT NULL,
			action_type   TEXT NOT NULL,
			proposed_data ` + data + ` NOT NULL,
			requested_by  TEXT NOT NULL,
			requested_at  ` + ts + ` NOT NULL,
			expires_at    ` + ts + ` NOT NULL,
			status        TEXT NOT NULL DEFAULT 'pending',
			decided_by    TEXT,
			decided_at    ` + ts + `,
			reject_reason TEXT,
			session_key   TEXT,
			channel_id    TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_actions_status ON pending_actions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_actions_requested_at ON pending_actions(requested_at)`,
	}
}

// JobNoteSchema creates the job_notes table
func JobNoteSchema(d Dialect) []string {
	ts := timestampType(d)
	return []string{
		`CREATE TABLE IF NOT EXISTS job_notes (
			id          TEXT PRIMARY KEY,
			job_id      TEXT,
			worker_name TEXT,
			transcript  TEXT NOT NULL,
			scrubbed    BOOLEAN NOT NULL DEFAULT FALSE,
			pii_found   BOOLEAN NOT NULL DEFAULT FALSE,
			created_at  ` + ts + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_job_notes_job_id ON job_notes(job_id)`,
	}
}

// HITLSchema is everything the hitl store holds: pending actions and the
// job notes that approved skills write.
func HITLSchema(d Dialect) []string {
	return append(PendingActionSchema(d), JobNoteSchema(d)...)
}

// timestampType picks a column type the driver scans back into time.Time
func timestampType(d Dialect) string {
	if d == DialectPostgres {
		return "TIMESTAMPTZ"
	}
	return "TIMESTAMP"
}
