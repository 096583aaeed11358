// Package store persists the run journal to PostgreSQL. Journaling is
// optional: when no DSN is configured the rest of the program never
// constructs a Store.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/renew-cli/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store writes run reports and their attempt records.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// PersistRun records a finished run and its attempt log in one transaction.
func (s *Store) PersistRun(ctx context.Context, report *schemas.RunReport) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	const insertRun = `
        INSERT INTO runs (id, phase, final_state, final_detail, notes, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7);
    `
	_, err = tx.Exec(ctx, insertRun,
		report.RunID,
		string(report.Phase),
		string(report.FinalState.Kind),
		report.FinalState.Detail,
		report.Notes,
		report.StartedAt.UTC(),
		report.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if len(report.Attempts) > 0 {
		if err := s.persistAttempts(ctx, tx, report.RunID, report.Attempts); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) persistAttempts(ctx context.Context, tx pgx.Tx, runID string, attempts []schemas.AttemptRecord) error {
	rows := make([][]interface{}, len(attempts))
	for i, a := range attempts {
		rows[i] = []interface{}{
			runID, a.StrategyName, a.AttemptIndex, string(a.Outcome), a.Offset.Microseconds(),
		}
	}

	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"run_attempts"},
		[]string{"run_id", "strategy", "attempt_index", "outcome", "offset_us"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy attempt records: %w", err)
	}
	if int(copyCount) != len(attempts) {
		return fmt.Errorf("mismatch in copied attempt count: expected %d, got %d", len(attempts), copyCount)
	}

	return nil
}

// GetAttemptsByRunID returns the attempt log for one run in insertion order.
func (s *Store) GetAttemptsByRunID(ctx context.Context, runID string) ([]schemas.AttemptRecord, error) {
	const query = `
        SELECT strategy, attempt_index, outcome, offset_us
        FROM run_attempts
        WHERE run_id = $1
        ORDER BY attempt_index ASC, offset_us ASC;
    `
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempt records: %w", err)
	}
	defer rows.Close()

	var attempts []schemas.AttemptRecord
	for rows.Next() {
		var a schemas.AttemptRecord
		var outcome string
		var offsetUS int64

		if err := rows.Scan(&a.StrategyName, &a.AttemptIndex, &outcome, &offsetUS); err != nil {
			return nil, fmt.Errorf("failed to scan attempt row: %w", err)
		}
		a.Outcome = schemas.Outcome(outcome)
		a.Offset = microsToDuration(offsetUS)
		attempts = append(attempts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return attempts, nil
}

func microsToDuration(us int64) time.Duration {
	return time.Duration(us) * time.Microsecond
}
