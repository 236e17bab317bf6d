package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/hitl-control-plane/config"
	"github.com/upb/hitl-control-plane/models"
	"github.com/upb/hitl-control-plane/repositories"
	"go.uber.org/zap"
)

var pendingActionColumnNames = []string{
	"id", "skill_name", "action_type", "proposed_data", "requested_by",
	"requested_at", "expires_at", "status", "decided_by", "decided_at",
	"reject_reason", "session_key", "channel_id",
}

func newPendingRepo(t *testing.T) (repositories.PendingActionRepository, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	db := newSQLiteDB(t, "hitl.db", PendingActionSchema)
	return NewPendingActionRepository(db, zap.NewNop(), WithClock(clock.Now)), clock
}

func duration(d time.Duration) *time.Duration {
	return &d
}

func sendInvoice() models.CreatePendingActionParams {
	return models.CreatePendingActionParams{
		SkillName:    "send_invoice",
		ActionType:   models.ActionTypeFinancial,
		ProposedData: map[string]interface{}{"amount": 100},
		RequestedBy:  "u1",
	}
}

func TestPendingActionRepository_Accept_SQL(t *testing.T) {
	db, mock := newMockDB(t)
	clock := newFakeClock()
	repo := NewPendingActionRepository(db, zap.NewNop(), WithClock(clock.Now))

	now := clock.Now()
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE pending_actions\s+SET status = \$1, decided_by = \$2, decided_at = \$3, reject_reason = \$4\s+WHERE id = \$5 AND status = 'pending'`).
		WithArgs("accepted", "approver", now, nil, "a1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .+ FROM pending_actions WHERE id = \$1`).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows(pendingActionColumnNames).AddRow(
			"a1", "send_invoice", "financial", []byte(`{"amount":100}`), "u1",
			now.Add(-time.Minute), now.Add(time.Hour), "accepted", "approver", now,
			nil, nil, nil))
	mock.ExpectCommit()

	action, err := repo.Accept(context.Background(), "a1", "approver")
	require.NoError(t, err)
	require.NotNil(t, action)
	assert.Equal(t, models.ActionStatusAccepted, action.Status)
	assert.Equal(t, "approver", models.StringValue(action.DecidedBy))
	require.NotNil(t, action.DecidedAt)
	assert.True(t, now.Equal(*action.DecidedAt))
	assert.Nil(t, action.RejectReason)
	assert.JSONEq(t, `{"amount":100}`, string(action.ProposedData))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingActionRepository_Reject_RollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPendingActionRepository(db, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE pending_actions`).WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	action, err := repo.Reject(context.Background(), "a1", "op", nil)
	assert.Error(t, err)
	assert.Nil(t, action)
	assert.Contains(t, err.Error(), "failed to reject pending action")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingActionRepository_Expire_SQL(t *testing.T) {
	db, mock := newMockDB(t)
	clock := newFakeClock()
	repo := NewPendingActionRepository(db, zap.NewNop(), WithClock(clock.Now))

	mock.ExpectExec(`UPDATE pending_actions\s+SET status = 'expired'\s+WHERE status = 'pending' AND expires_at <= \$1`).
		WithArgs(clock.Now()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.Expire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingActionRepository_CreateThenAccept(t *testing.T) {
	ctx := context.Background()
	repo, _ := newPendingRepo(t)

	created, err := repo.Create(ctx, sendInvoice())
	require.NoError(t, err)
	assert.Equal(t, models.ActionStatusPending, created.Status)
	assert.Equal(t, created.RequestedAt.Add(models.DefaultActionExpiry), created.ExpiresAt)
	assert.Nil(t, created.DecidedBy)
	assert.Nil(t, created.SessionKey)

	accepted, err := repo.Accept(ctx, created.ID, "approver")
	require.NoError(t, err)
	require.NotNil(t, accepted)
	assert.Equal(t, models.ActionStatusAccepted, accepted.Status)
	assert.Equal(t, "approver", models.StringValue(accepted.DecidedBy))
	assert.NotNil(t, accepted.DecidedAt)
	assert.JSONEq(t, `{"amount":100}`, string(accepted.ProposedData))
}

func TestPendingActionRepository_GetRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo, _ := newPendingRepo(t)

	params := sendInvoice()
	params.SessionKey = models.StringPtr("sess-1")
	params.ChannelID = models.StringPtr("chan-1")
	params.ExpiresIn = duration(90 * time.Minute)

	created, err := repo.Create(ctx, params)
	require.NoError(t, err)

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, models.ActionTypeFinancial, got.ActionType)
	assert.True(t, created.RequestedAt.Equal(got.RequestedAt))
	assert.True(t, created.ExpiresAt.Equal(got.ExpiresAt))
	assert.Equal(t, 90*time.Minute, got.ExpiresAt.Sub(got.RequestedAt))
	assert.Equal(t, "sess-1", models.StringValue(got.SessionKey))
	assert.Equal(t, "chan-1", models.StringValue(got.ChannelID))
	assert.Nil(t, got.DecidedAt)
}

func TestPendingActionRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	repo, _ := newPendingRepo(t)

	got, err := repo.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	accepted, err := repo.Accept(ctx, "missing", "op")
	require.NoError(t, err)
	assert.Nil(t, accepted)

	rejected, err := repo.Reject(ctx, "missing", "op", models.StringPtr("no"))
	require.NoError(t, err)
	assert.Nil(t, rejected)
}

func TestPendingActionRepository_NegativeExpiry(t *testing.T) {
	ctx := context.Background()
	repo, _ := newPendingRepo(t)

	params := sendInvoice()
	params.ExpiresIn = duration(-1000 * time.Millisecond)
	created, err := repo.Create(ctx, params)
	require.NoError(t, err)
	assert.True(t, created.ExpiresAt.Before(created.RequestedAt))

	pending := models.ActionStatusPending
	actions, err := repo.List(ctx, models.PendingActionQuery{Status: &pending})
	require.NoError(t, err)
	assert.Empty(t, actions)

	all, err := repo.List(ctx, models.PendingActionQuery{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, created.ID, all[0].ID)
	assert.Equal(t, models.ActionStatusExpired, all[0].Status)
	assert.Nil(t, all[0].DecidedBy)
}

func TestPendingActionRepository_TerminalTransitionsAreNoOps(t *testing.T) {
	ctx := context.Background()
	repo, clock := newPendingRepo(t)

	accepted, err := repo.Create(ctx, sendInvoice())
	require.NoError(t, err)
	rejected, err := repo.Create(ctx, sendInvoice())
	require.NoError(t, err)

	first, err := repo.Accept(ctx, accepted.ID, "op-1")
	require.NoError(t, err)
	_, err = repo.Reject(ctx, rejected.ID, "op-1", models.StringPtr("too expensive"))
	require.NoError(t, err)

	clock.Advance(time.Hour)

	again, err := repo.Reject(ctx, accepted.ID, "op-2", models.StringPtr("changed my mind"))
	require.NoError(t, err)
	assert.Equal(t, first, again)

	reAccept, err := repo.Accept(ctx, rejected.ID, "op-2")
	require.NoError(t, err)
	assert.Equal(t, models.ActionStatusRejected, reAccept.Status)
	assert.Equal(t, "op-1", models.StringValue(reAccept.DecidedBy))
	assert.Equal(t, "too expensive", models.StringValue(reAccept.RejectReason))
}

func TestPendingActionRepository_ExpiryExclusivity(t *testing.T) {
	ctx := context.Background()
	repo, clock := newPendingRepo(t)

	short := sendInvoice()
	short.ExpiresIn = duration(time.Minute)

	a, err := repo.Create(ctx, short)
	require.NoError(t, err)
	b, err := repo.Create(ctx, short)
	require.NoError(t, err)
	c, err := repo.Create(ctx, short)
	require.NoError(t, err)

	_, err = repo.Accept(ctx, a.ID, "op")
	require.NoError(t, err)
	_, err = repo.Reject(ctx, b.ID, "op", nil)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)

	n, err := repo.Expire(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.Expire(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	for id, want := range map[string]models.ActionStatus{
		a.ID: models.ActionStatusAccepted,
		b.ID: models.ActionStatusRejected,
		c.ID: models.ActionStatusExpired,
	} {
		got, err := repo.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, id)
	}

	expired, err := repo.Accept(ctx, c.ID, "late-op")
	require.NoError(t, err)
	assert.Equal(t, models.ActionStatusExpired, expired.Status)
	assert.Nil(t, expired.DecidedBy)
}

func TestPendingActionRepository_ExpiresExactlyAtDeadline(t *testing.T) {
	ctx := context.Background()
	repo, clock := newPendingRepo(t)

	params := sendInvoice()
	params.ExpiresIn = duration(time.Minute)
	_, err := repo.Create(ctx, params)
	require.NoError(t, err)

	clock.Advance(time.Minute - time.Millisecond)
	n, err := repo.Expire(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	clock.Advance(time.Millisecond)
	n, err = repo.Expire(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPendingActionRepository_ListFiltersAndOrder(t *testing.T) {
	ctx := context.Background()
	repo, clock := newPendingRepo(t)

	create := func(skill, requester string) *models.PendingAction {
		t.Helper()
		p := sendInvoice()
		p.SkillName = skill
		p.RequestedBy = requester
		a, err := repo.Create(ctx, p)
		require.NoError(t, err)
		clock.Advance(time.Second)
		return a
	}

	oldest := create("quote-draft", "u1")
	middle := create("inquiry-triage", "u2")
	newest := create("quote-draft", "u2")

	all, err := repo.List(ctx, models.PendingActionQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{newest.ID, middle.ID, oldest.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	skill := "quote-draft"
	bySkill, err := repo.List(ctx, models.PendingActionQuery{SkillName: &skill})
	require.NoError(t, err)
	assert.Len(t, bySkill, 2)

	requester := "u2"
	limit := 1
	limited, err := repo.List(ctx, models.PendingActionQuery{RequestedBy: &requester, Limit: &limit})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, newest.ID, limited[0].ID)
}

func TestPendingActionRepository_RawJSONProposedData(t *testing.T) {
	ctx := context.Background()
	repo, _ := newPendingRepo(t)

	params := sendInvoice()
	params.ProposedData = json.RawMessage(`{"to":"[EMAIL]","lines":[1,2]}`)
	created, err := repo.Create(ctx, params)
	require.NoError(t, err)

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"to":"[EMAIL]","lines":[1,2]}`, string(got.ProposedData))
}

func TestPendingActionRepository_UnencodableProposedData(t *testing.T) {
	repo, _ := newPendingRepo(t)

	params := sendInvoice()
	params.ProposedData = make(chan int)
	_, err := repo.Create(context.Background(), params)
	assert.Error(t, err)
}

func TestDB_OpensLazily(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "hitl.db")
	db := NewDB(config.DatabaseConfig{Driver: config.DriverSQLite, DSN: path, BusyTimeout: time.Second},
		PendingActionSchema, zap.NewNop())
	t.Cleanup(func() { _ = db.Close() })

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, db.HealthCheck(context.Background()))

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestTransactions_DoNotCrossStores(t *testing.T) {
	ctx := context.Background()
	hitlDB := newSQLiteDB(t, "hitl.db", PendingActionSchema)
	auditDB := newSQLiteDB(t, "audit.db", AuditSchema)
	actions := NewPendingActionRepository(hitlDB, zap.NewNop())
	audit := NewAuditRepository(auditDB, zap.NewNop())
	tm := NewTransactionManager(hitlDB, zap.NewNop())

	boom := errors.New("boom")
	var eventID string
	err := tm.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		_, err := actions.Create(txCtx, sendInvoice())
		require.NoError(t, err)

		ev, err := audit.Log(txCtx, *models.NewAuditEvent(models.AuditEventHITLSubmitted, "u1"))
		require.NoError(t, err)
		eventID = ev.ID
		return boom
	})
	assert.ErrorIs(t, err, boom)

	all, err := actions.List(ctx, models.PendingActionQuery{})
	require.NoError(t, err)
	assert.Empty(t, all)

	ev, err := audit.GetByID(ctx, eventID)
	require.NoError(t, err)
	assert.NotNil(t, ev)
}
