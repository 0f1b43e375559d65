package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwellscope/listing-cli/internal/model"
)

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *PostgresStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPostgresWithPool(mock)
}

func TestGuardedTransition_Wins(t *testing.T) {
	mock, st := newMockStore(t)

	mock.ExpectExec(`UPDATE sessions SET status`).
		WithArgs("STATS_RUNNING", pgxmock.AnyArg(), "sess-1", "user-1",
			[]string{"CONFIRMED", "STATS_FAILED", "STATS_NEEDS_CONFIRMATION"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, err := st.GuardedTransition(context.Background(), "sess-1", "user-1",
		[]model.Status{model.StatusConfirmed, model.StatusStatsFailed, model.StatusStatsNeedsConfirmation},
		model.StatusStatsRunning)

	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGuardedTransition_Loses(t *testing.T) {
	mock, st := newMockStore(t)

	// Second caller: the row already moved out of the from-set, zero
	// rows match, the guard reports false and nothing else happens.
	mock.ExpectExec(`UPDATE sessions SET status`).
		WithArgs("STATS_RUNNING", pgxmock.AnyArg(), "sess-1", "user-1",
			[]string{"CONFIRMED", "STATS_FAILED", "STATS_NEEDS_CONFIRMATION"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := st.GuardedTransition(context.Background(), "sess-1", "user-1",
		[]model.Status{model.StatusConfirmed, model.StatusStatsFailed, model.StatusStatsNeedsConfirmation},
		model.StatusStatsRunning)

	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGuardedTransition_WrongOwnerLoses(t *testing.T) {
	mock, st := newMockStore(t)

	mock.ExpectExec(`UPDATE sessions SET status`).
		WithArgs("CONFIRMED", pgxmock.AnyArg(), "sess-1", "intruder",
			[]string{"NEEDS_CONFIRMATION"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := st.GuardedTransition(context.Background(), "sess-1", "intruder",
		[]model.Status{model.StatusNeedsConfirmation}, model.StatusConfirmed)

	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeQuota_Success(t *testing.T) {
	mock, st := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE usage_counters SET used = used \+ 1`).
		WithArgs("user-1", "extract", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"used", "quota_limit"}).AddRow(3, 50))
	mock.ExpectExec(`INSERT INTO ledger_entries`).
		WithArgs(pgxmock.AnyArg(), "user-1", "extract", -1, "usage", "debit", 1, "", "sess-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	counter, ok, err := st.ConsumeQuota(context.Background(), "user-1", model.ActionExtract, "sess-1")

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, counter.Used)
	assert.Equal(t, 50, counter.Limit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeQuota_Exhausted(t *testing.T) {
	mock, st := newMockStore(t)

	// No row clears used < quota_limit: the update returns nothing, the
	// transaction writes nothing, and the current standing is read back.
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE usage_counters SET used = used \+ 1`).
		WithArgs("user-1", "stats", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"used", "quota_limit"}))
	mock.ExpectQuery(`SELECT user_id, action, used, quota_limit, updated_at FROM usage_counters`).
		WithArgs("user-1", "stats").
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "action", "used", "quota_limit", "updated_at"}).
			AddRow("user-1", "stats", 25, 25, time.Now()))
	mock.ExpectRollback()

	counter, ok, err := st.ConsumeQuota(context.Background(), "user-1", model.ActionStats, "sess-1")

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 25, counter.Used)
	assert.Equal(t, 25, counter.Limit)
	assert.Equal(t, 0, counter.Remaining())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendAdjustment_Grant(t *testing.T) {
	mock, st := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE usage_counters`).
		WithArgs("user-1", "extract", 10, 0, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"used", "quota_limit"}).AddRow(3, 60))
	mock.ExpectExec(`INSERT INTO ledger_entries`).
		WithArgs(pgxmock.AnyArg(), "user-1", "extract", 10, "purchase", "credit", 10,
			"topup", "pur-42", "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	counter, err := st.AppendAdjustment(context.Background(), model.LedgerEntry{
		UserID:     "user-1",
		Action:     model.ActionExtract,
		Delta:      10,
		Reason:     model.ReasonPurchase,
		Direction:  model.DirectionCredit,
		Amount:     10,
		Note:       "topup",
		PurchaseID: "pur-42",
	}, 10, 0)

	require.NoError(t, err)
	assert.Equal(t, 60, counter.Limit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureCounters_ReportsCreatedActions(t *testing.T) {
	mock, st := newMockStore(t)

	// extract already exists; the other three are created.
	for i, action := range model.AllActions {
		affected := int64(1)
		if i == 0 {
			affected = 0
		}
		mock.ExpectExec(`INSERT INTO usage_counters`).
			WithArgs("user-1", string(action), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", affected))
	}

	created, err := st.EnsureCounters(context.Background(), "user-1")

	require.NoError(t, err)
	assert.Equal(t, []model.Action{model.ActionStats, model.ActionEvaluate, model.ActionVideo}, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUsageTotals_SumsUsageAndRefunds(t *testing.T) {
	mock, st := newMockStore(t)

	// Both reasons feed the reconciliation sum; a consume (-1) followed
	// by its refund (+1) nets to zero.
	mock.ExpectQuery(`SELECT action, COALESCE\(SUM\(delta\), 0\) FROM ledger_entries`).
		WithArgs("user-1", []string{"usage", "refund"}).
		WillReturnRows(pgxmock.NewRows([]string{"action", "coalesce"}).
			AddRow("extract", -2).
			AddRow("stats", 0))

	totals, err := st.UsageTotals(context.Background(), "user-1")

	require.NoError(t, err)
	assert.Equal(t, -2, totals[model.ActionExtract])
	assert.Equal(t, 0, totals[model.ActionStats])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListLedger_FiltersAndDefaultLimit(t *testing.T) {
	mock, st := newMockStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT id, user_id, action, delta, reason`).
		WithArgs("user-1", "stats", "refund", 100).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "user_id", "action", "delta", "reason", "direction", "amount",
			"note", "purchase_id", "session_id", "created_at",
		}).AddRow("led-1", "user-1", "stats", 1, "refund", "credit", 1,
			"ai failed", "", "sess-1", now))

	entries, err := st.ListLedger(context.Background(), "user-1", LedgerFilter{
		Action: model.ActionStats,
		Reason: model.ReasonRefund,
	})

	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.ReasonRefund, entries[0].Reason)
	assert.Equal(t, "sess-1", entries[0].SessionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrGetSession_ReturnsExisting(t *testing.T) {
	mock, st := newMockStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT id, user_id, listing_url`).
		WithArgs("user-1", "12345").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "user_id", "listing_url", "listing_id", "status", "created_at", "updated_at", "last_extracted_at",
		}).AddRow("sess-1", "user-1", "https://example.com/properties/12345", "12345",
			"NEEDS_CONFIRMATION", now, now, nil))

	sess, created, err := st.CreateOrGetSession(context.Background(),
		"user-1", "https://example.com/properties/12345", "12345")

	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "sess-1", sess.ID)
	assert.Equal(t, model.StatusNeedsConfirmation, sess.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrGetSession_CapReached(t *testing.T) {
	mock, st := newMockStore(t)

	mock.ExpectQuery(`SELECT id, user_id, listing_url`).
		WithArgs("user-1", "999").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM sessions`).
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(model.MaxSessionsPerUser))

	_, _, err := st.CreateOrGetSession(context.Background(),
		"user-1", "https://example.com/properties/999", "999")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionCap)
	assert.NoError(t, mock.ExpectationsWereMet())
}
