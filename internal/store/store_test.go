// internal/store/store_test.go
package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/renew-cli/api/schemas"
)

func newMockedStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mock.ExpectPing()
	st, err := New(context.Background(), mock, zap.NewNop())
	require.NoError(t, err)
	return st, mock
}

func sampleReport() *schemas.RunReport {
	started := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	return &schemas.RunReport{
		RunID:      "11111111-2222-3333-4444-555555555555",
		Phase:      schemas.PhaseVerified,
		FinalState: schemas.PageState{Kind: schemas.StateComplete},
		Attempts: []schemas.AttemptRecord{
			{StrategyName: "direct_callback", AttemptIndex: 1, Outcome: schemas.OutcomeError, Offset: 1500 * time.Microsecond},
			{StrategyName: "main_document_click", AttemptIndex: 1, Outcome: schemas.OutcomeSuccess, Offset: 2500 * time.Microsecond},
		},
		StartedAt:  started,
		FinishedAt: started.Add(12 * time.Second),
		Notes:      "expiry: 2027-03-14",
	}
}

func TestPersistRun(t *testing.T) {
	st, mock := newMockedStore(t)
	report := sampleReport()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO runs").
		WithArgs(
			report.RunID,
			string(report.Phase),
			string(report.FinalState.Kind),
			report.FinalState.Detail,
			report.Notes,
			report.StartedAt.UTC(),
			report.FinishedAt.UTC(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(
		pgx.Identifier{"run_attempts"},
		[]string{"run_id", "strategy", "attempt_index", "outcome", "offset_us"},
	).WillReturnResult(2)
	mock.ExpectCommit()

	require.NoError(t, st.PersistRun(context.Background(), report))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistRunWithoutAttemptsSkipsCopy(t *testing.T) {
	st, mock := newMockedStore(t)
	report := sampleReport()
	report.Attempts = nil

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO runs").
		WithArgs(
			report.RunID,
			string(report.Phase),
			string(report.FinalState.Kind),
			report.FinalState.Detail,
			report.Notes,
			report.StartedAt.UTC(),
			report.FinishedAt.UTC(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, st.PersistRun(context.Background(), report))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistRunRollsBackOnInsertFailure(t *testing.T) {
	st, mock := newMockedStore(t)
	report := sampleReport()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO runs").
		WithArgs(
			report.RunID,
			string(report.Phase),
			string(report.FinalState.Kind),
			report.FinalState.Detail,
			report.Notes,
			report.StartedAt.UTC(),
			report.FinishedAt.UTC(),
		).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := st.PersistRun(context.Background(), report)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAttemptsByRunID(t *testing.T) {
	st, mock := newMockedStore(t)

	rows := pgxmock.NewRows([]string{"strategy", "attempt_index", "outcome", "offset_us"}).
		AddRow("direct_callback", 1, "error", int64(1500)).
		AddRow("main_document_click", 1, "success", int64(2500))
	mock.ExpectQuery("SELECT strategy, attempt_index, outcome, offset_us").
		WithArgs("run-1").
		WillReturnRows(rows)

	attempts, err := st.GetAttemptsByRunID(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, "direct_callback", attempts[0].StrategyName)
	assert.Equal(t, schemas.OutcomeError, attempts[0].Outcome)
	assert.Equal(t, 1500*time.Microsecond, attempts[0].Offset)
	assert.Equal(t, schemas.OutcomeSuccess, attempts[1].Outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}
