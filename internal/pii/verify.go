package pii

import (
	"context"
	"fmt"

	"github.com/upb/hitl-control-plane/models"
)

const (
	// DefaultVerifyLimit is used when a caller passes a non-positive limit.
	DefaultVerifyLimit = 100
	snippetRunes       = 120
)

// AuditReader is the read side of the audit store.
type AuditReader interface {
	Query(ctx context.Context, q models.AuditQuery) ([]*models.AuditEvent, error)
}

// Violation describes one audit event whose detail still contains PII. The
// snippet is cut from the redacted detail so the report cannot leak values.
type Violation struct {
	AuditEventID string     `json:"audit_event_id"`
	Field        string     `json:"field"`
	Categories   []Category `json:"categories"`
	Snippet      string     `json:"snippet"`
}

// VerifyResult summarises a scan of the audit log.
type VerifyResult struct {
	Scanned    int         `json:"scanned"`
	Violations []Violation `json:"violations"`
	Clean      bool        `json:"clean"`
}

// TextCheck is the result of checking a single string.
type TextCheck struct {
	Clean      bool       `json:"clean"`
	Categories []Category `json:"categories"`
}

// VerifyNoPIIInAuditLog scans the most recent audit events and reports every
// detail field the scrubber would still redact.
func VerifyNoPIIInAuditLog(ctx context.Context, reader AuditReader, limit int) (VerifyResult, error) {
	if limit <= 0 {
		limit = DefaultVerifyLimit
	}

	events, err := reader.Query(ctx, models.AuditQuery{Limit: limit})
	if err != nil {
		return VerifyResult{}, fmt.Errorf("failed to read audit log: %w", err)
	}

	violations := make([]Violation, 0)
	for _, ev := range events {
		if ev.Detail == "" {
			continue
		}
		res := Scrub(ev.Detail)
		if !res.HasPII {
			continue
		}
		violations = append(violations, Violation{
			AuditEventID: ev.ID,
			Field:        "detail",
			Categories:   res.Categories(),
			Snippet:      snippet(res.Scrubbed),
		})
	}

	return VerifyResult{
		Scanned:    len(events),
		Violations: violations,
		Clean:      len(violations) == 0,
	}, nil
}

// VerifyTextClean checks a string before it leaves the process.
func VerifyTextClean(text string) TextCheck {
	res := Scrub(text)
	cats := res.Categories()
	if cats == nil {
		cats = []Category{}
	}
	return TextCheck{Clean: !res.HasPII, Categories: cats}
}

func snippet(s string) string {
	runes := []rune(s)
	if len(runes) <= snippetRunes {
		return s
	}
	return string(runes[:snippetRunes]) + "..."
}
