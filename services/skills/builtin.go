package skills

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/upb/hitl-control-plane/internal/pii"
	"github.com/upb/hitl-control-plane/models"
	"github.com/upb/hitl-control-plane/repositories"
	"github.com/upb/hitl-control-plane/services"
	"github.com/upb/hitl-control-plane/services/hitl"
)

// Built-in skill names
const (
	SkillAuditLog      = "audit-log"
	SkillFieldReport   = "field-report"
	SkillHITLApprove   = "hitl-approve"
	SkillInquiryTriage = "inquiry-triage"
	SkillQuoteDraft    = "quote-draft"
	SkillVoiceNote     = "voice-note"
)

const (
	// GSTRate is the Australian goods and services tax applied to quotes
	GSTRate = 0.10

	auditLogDefaultLimit = 20
	auditLogMaxLimit     = 50
)

var (
	urgencyKeywords     = []string{"urgent", "emergency", "asap", "flooding", "gas leak", "burst"}
	complaintKeywords   = []string{"complaint", "unhappy", "poor", "bad", "refund", "dissatisfied"}
	invoiceKeywords     = []string{"invoice", "bill", "payment", "overdue", "receipt"}
	existingJobKeywords = []string{"job", "booking", "appointment", "scheduled", "technician"}
)

// BuiltinDeps are the stores the built-in skills read and write
type BuiltinDeps struct {
	Audit repositories.AuditRepository
	HITL  *hitl.Service
	Notes repositories.JobNoteRepository
	Now   func() time.Time
}

// Builtin returns the trade-business skill set
func Builtin(deps BuiltinDeps) []Skill {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	b := &builtins{deps: deps}

	return []Skill{
		{
			Metadata: models.SkillMetadata{
				Name:        SkillAuditLog,
				Description: "Query the audit log. Lists recent events with an optional event type filter.",
				ReadOnly:    true,
			},
			Handler: b.auditLog,
		},
		{
			Metadata: models.SkillMetadata{
				Name:        SkillFieldReport,
				Description: "Submit a structured field report from a site visit. Requires approval before filing.",
			},
			Handler: b.fieldReport,
		},
		{
			Metadata: models.SkillMetadata{
				Name:        SkillHITLApprove,
				Description: "Approve or reject a pending HITL action. Operator use only.",
			},
			Handler: b.hitlApprove,
		},
		{
			Metadata: models.SkillMetadata{
				Name:         SkillInquiryTriage,
				Description:  "Triage an inbound client inquiry and route it to the correct queue.",
				ClientFacing: true,
			},
			Handler: b.inquiryTriage,
		},
		{
			Metadata: models.SkillMetadata{
				Name:         SkillQuoteDraft,
				Description:  "Prepare a draft quote for a job. Held for approval before it is sent to the client.",
				Financial:    true,
				ClientFacing: true,
			},
			Handler: b.quoteDraft,
		},
		{
			Metadata: models.SkillMetadata{
				Name:        SkillVoiceNote,
				Description: "Save a voice note transcript as a job note. Requires approval before saving.",
			},
			Handler: b.voiceNote,
		},
	}
}

type builtins struct {
	deps BuiltinDeps
}

func (b *builtins) auditLog(ctx context.Context, args map[string]interface{}, _ Context) (Result, error) {
	limit := auditLogDefaultLimit
	if n, ok := numberArg(args, "limit"); ok {
		limit = clamp(int(n), 1, auditLogMaxLimit)
	}

	q := models.AuditQuery{Limit: limit}
	filter := "all"
	if raw := stringArg(args, "event_type"); raw != "" {
		et := models.AuditEventType(raw)
		if !et.Valid() {
			return Result{OK: false, Message: fmt.Sprintf("unknown event_type %q", raw)}, nil
		}
		q.EventType = &et
		filter = raw
	}

	if b.deps.Audit == nil {
		return Result{}, services.NewDomainError(services.ErrorTypeInternal, "audit store not configured", nil)
	}
	events, err := b.deps.Audit.Query(ctx, q)
	if err != nil {
		return Result{}, services.WrapInternal("failed to query audit log", err)
	}

	return Result{
		OK:      true,
		Message: fmt.Sprintf("Found %d audit event(s) (event_type=%s, limit=%d)", len(events), filter, limit),
		Data: map[string]interface{}{
			"events":     events,
			"count":      len(events),
			"limit":      limit,
			"event_type": filter,
		},
	}, nil
}

func (b *builtins) fieldReport(_ context.Context, args map[string]interface{}, _ Context) (Result, error) {
	jobID := stringArg(args, "job_id")
	if jobID == "" {
		return Result{OK: false, Message: "job_id is required"}, nil
	}
	worker := stringArg(args, "worker_name")
	if worker == "" {
		return Result{OK: false, Message: "worker_name is required"}, nil
	}
	description := stringArg(args, "work_description")
	if description == "" {
		return Result{OK: false, Message: "work_description is required"}, nil
	}

	found := false
	scrub := func(s string) string {
		res := pii.Scrub(s)
		found = found || res.HasPII
		return res.Scrubbed
	}

	report := map[string]interface{}{
		"job_id":           jobID,
		"worker_name":      worker,
		"site_address":     stringArg(args, "site_address"),
		"work_description": scrub(description),
		"completed":        boolArg(args, "completed"),
	}
	if v := stringArg(args, "materials_used"); v != "" {
		report["materials_used"] = scrub(v)
	}
	if v := stringArg(args, "issues_found"); v != "" {
		report["issues_found"] = scrub(v)
	}
	if hours, ok := numberArg(args, "time_on_site_hours"); ok {
		report["time_on_site_hours"] = hours
	}

	piiMsg := ""
	if found {
		piiMsg = " (PII scrubbed from report)"
	}
	completion := "Job in progress."
	if boolArg(args, "completed") {
		completion = "Job marked complete."
	}

	return Result{
		OK:      true,
		Message: fmt.Sprintf("Field report submitted for job %s%s. %s", jobID, piiMsg, completion),
		Data:    map[string]interface{}{"report": report},
	}, nil
}

func (b *builtins) hitlApprove(ctx context.Context, args map[string]interface{}, sc Context) (Result, error) {
	if b.deps.HITL == nil {
		return Result{}, services.NewDomainError(services.ErrorTypeInternal, "approval store not configured", nil)
	}
	if !b.deps.HITL.IsOperator(sc.SenderRoles) {
		return Result{OK: false, Message: "Only Office Operator or Admin roles may approve or reject HITL actions"}, nil
	}

	actionID := stringArg(args, "action_id")
	if actionID == "" {
		return Result{OK: false, Message: "action_id is required"}, nil
	}
	decision := strings.ToLower(stringArg(args, "decision"))
	if decision != "accept" && decision != "reject" {
		return Result{OK: false, Message: `decision must be "accept" or "reject"`}, nil
	}

	req := hitl.DecisionRequest{
		ID:          actionID,
		DecidedBy:   actorOf(sc),
		SenderRoles: sc.SenderRoles,
	}
	target := models.ActionStatusAccepted
	if decision == "reject" {
		target = models.ActionStatusRejected
		if reason := stringArg(args, "reason"); reason != "" {
			req.Reason = &reason
		}
	}

	var (
		action *models.PendingAction
		err    error
	)
	if target == models.ActionStatusAccepted {
		action, err = b.deps.HITL.Accept(ctx, req)
	} else {
		action, err = b.deps.HITL.Reject(ctx, req)
	}

	unresolved := Result{OK: false, Message: fmt.Sprintf("Action %s not found or already resolved", actionID)}
	switch {
	case errors.Is(err, services.ErrActionNotFound):
		return unresolved, nil
	case err != nil:
		return Result{}, err
	case action.Status != target || models.StringValue(action.DecidedBy) != req.DecidedBy:
		return unresolved, nil
	}

	msg := fmt.Sprintf("Action %s %s by %s", actionID, target, req.DecidedBy)
	if target == models.ActionStatusRejected {
		msg += ". Reason: " + stringOr(req.Reason, "none")
	}
	return Result{OK: true, Message: msg, Data: map[string]interface{}{"action": action}}, nil
}

func (b *builtins) inquiryTriage(_ context.Context, args map[string]interface{}, _ Context) (Result, error) {
	text := stringArg(args, "inquiry_text")
	if text == "" {
		return Result{OK: false, Message: "inquiry_text is required"}, nil
	}
	sender := stringArg(args, "sender_name")
	if sender == "" {
		sender = "Unknown"
	}

	scrubbed := pii.Scrub(text)
	category := categorizeInquiry(text)
	priority := prioritizeInquiry(text)

	contact := stringArg(args, "sender_contact")
	if scrubbed.HasPII || pii.HasPII(contact) {
		contact = "[CONTACT SCRUBBED]"
	}

	assignee := "office_operator"
	switch category {
	case "complaint":
		assignee = "manager"
	case "invoice":
		assignee = "accounts"
	}

	triage := map[string]interface{}{
		"original_text":      scrubbed.Scrubbed,
		"sender_name":        sender,
		"sender_contact":     contact,
		"category":           category,
		"priority":           priority,
		"suggested_assignee": assignee,
		"triaged_at":         b.deps.Now().UTC().Format(time.RFC3339),
	}

	urgency := ""
	if priority == "urgent" {
		urgency = " **URGENT**"
	}
	piiMsg := ""
	if scrubbed.HasPII {
		piiMsg = " (PII scrubbed)"
	}

	return Result{
		OK:      true,
		Message: fmt.Sprintf("Inquiry triaged%s as %q%s. Suggested assignee: %s.", urgency, category, piiMsg, assignee),
		Data:    map[string]interface{}{"triage": triage},
	}, nil
}

type quoteLineItem struct {
	Description string  `json:"description"`
	Qty         float64 `json:"qty"`
	UnitPrice   float64 `json:"unit_price"`
	LineTotal   float64 `json:"line_total"`
}

func (b *builtins) quoteDraft(_ context.Context, args map[string]interface{}, _ Context) (Result, error) {
	client := stringArg(args, "client_name")
	if client == "" {
		return Result{OK: false, Message: "client_name is required"}, nil
	}
	description := stringArg(args, "job_description")
	if description == "" {
		return Result{OK: false, Message: "job_description is required"}, nil
	}

	scrubbed := pii.Scrub(description)

	raw, _ := args["line_items"].([]interface{})
	items := make([]quoteLineItem, 0, len(raw))
	subtotal := 0.0
	for _, r := range raw {
		m, _ := r.(map[string]interface{})
		item := quoteLineItem{Description: "Service", Qty: 1}
		if d := stringArg(m, "description"); d != "" {
			item.Description = d
		}
		if q, ok := numberArg(m, "qty"); ok {
			item.Qty = q
		}
		if p, ok := numberArg(m, "unit_price"); ok {
			item.UnitPrice = p
		}
		item.LineTotal = item.Qty * item.UnitPrice
		subtotal += item.LineTotal
		items = append(items, item)
	}
	gst := subtotal * GSTRate
	total := subtotal + gst

	draft := map[string]interface{}{
		"client_name":     client,
		"job_description": scrubbed.Scrubbed,
		"line_items":      items,
		"subtotal":        subtotal,
		"gst":             gst,
		"total":           total,
		"currency":        "AUD",
		"created_at":      b.deps.Now().UTC().Format(time.RFC3339),
		"status":          "draft",
	}

	piiMsg := ""
	if scrubbed.HasPII {
		piiMsg = " (PII scrubbed from description)"
	}

	return Result{
		OK:      true,
		Message: fmt.Sprintf("Quote draft prepared for %s%s. Total: AUD %.2f (incl. GST).", client, piiMsg, total),
		Data:    map[string]interface{}{"draft": draft},
	}, nil
}

func (b *builtins) voiceNote(ctx context.Context, args map[string]interface{}, _ Context) (Result, error) {
	transcript := stringArg(args, "transcript")
	if transcript == "" {
		return Result{OK: false, Message: "transcript is required"}, nil
	}
	if b.deps.Notes == nil {
		return Result{}, services.NewDomainError(services.ErrorTypeInternal, "job note store is not configured", nil)
	}

	scrubbed := pii.Scrub(transcript)
	note, err := b.deps.Notes.Create(ctx, models.CreateJobNoteParams{
		JobID:      models.StringPtr(stringArg(args, "job_id")),
		WorkerName: models.StringPtr(stringArg(args, "worker_name")),
		Transcript: scrubbed.Scrubbed,
		Scrubbed:   scrubbed.HasPII,
		PIIFound:   scrubbed.HasPII,
	})
	if err != nil {
		return Result{}, services.WrapInternal("failed to save job note", err)
	}

	piiMsg := ""
	if scrubbed.HasPII {
		piiMsg = fmt.Sprintf(" (%d PII items scrubbed)", len(scrubbed.Matches))
	}

	return Result{
		OK:      true,
		Message: fmt.Sprintf("Job note saved%s. Note ID: %s", piiMsg, note.ID),
		Data:    map[string]interface{}{"note": note},
	}, nil
}

func categorizeInquiry(text string) string {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, complaintKeywords):
		return "complaint"
	case containsAny(lower, invoiceKeywords):
		return "invoice"
	case containsAny(lower, existingJobKeywords):
		return "existing_job"
	}
	return "new_job"
}

func prioritizeInquiry(text string) string {
	if containsAny(strings.ToLower(text), urgencyKeywords) {
		return "urgent"
	}
	return "normal"
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func stringArg(args map[string]interface{}, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

func numberArg(args map[string]interface{}, key string) (float64, bool) {
	switch n := args[key].(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func boolArg(args map[string]interface{}, key string) bool {
	b, _ := args[key].(bool)
	return b
}

func stringOr(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
