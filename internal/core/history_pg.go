package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// historySchema creates the run history table. Diagnostics and events are
// stored as jsonb so the rule list can change shape without migrations.
const historySchema = `
CREATE TABLE IF NOT EXISTS cleaning_runs (
	id           uuid PRIMARY KEY,
	session_id   text        NOT NULL,
	source_name  text        NOT NULL DEFAULT '',
	rule_count   integer     NOT NULL,
	applied      integer     NOT NULL,
	skipped      integer     NOT NULL,
	failed       integer     NOT NULL,
	disabled     integer     NOT NULL,
	rows_in      integer     NOT NULL,
	rows_out     integer     NOT NULL,
	diagnostics  jsonb       NOT NULL DEFAULT '[]',
	events       jsonb       NOT NULL DEFAULT '[]',
	client_ip    text        NOT NULL DEFAULT '',
	user_agent   text        NOT NULL DEFAULT '',
	started_at   timestamptz NOT NULL,
	duration_ms  bigint      NOT NULL
);
CREATE INDEX IF NOT EXISTS cleaning_runs_started_at_idx ON cleaning_runs (started_at DESC);
`

const runColumns = `id, session_id, source_name, rule_count, applied, skipped, failed, disabled,
	rows_in, rows_out, diagnostics, events, client_ip, user_agent, started_at, duration_ms`

// pgxQuerier is the subset of *pgxpool.Pool used by PGHistory.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ pgxQuerier = (*pgxpool.Pool)(nil)

// PGHistory stores runs in PostgreSQL.
type PGHistory struct {
	db pgxQuerier
}

// NewPGHistory creates the history table if needed and returns the store.
func NewPGHistory(ctx context.Context, pool *pgxpool.Pool) (*PGHistory, error) {
	if _, err := pool.Exec(ctx, historySchema); err != nil {
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &PGHistory{db: pool}, nil
}

func (h *PGHistory) Record(ctx context.Context, run RunRecord) error {
	_, err := h.db.Exec(ctx,
		`INSERT INTO cleaning_runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		run.ID, run.SessionID, run.SourceName, run.RuleCount,
		run.Applied, run.Skipped, run.Failed, run.Disabled,
		run.RowsIn, run.RowsOut, nonNil(run.Diagnostics), nonNil(run.Events),
		run.Client.IP, run.Client.UserAgent, run.StartedAt, run.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (h *PGHistory) Recent(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := h.db.Query(ctx,
		`SELECT `+runColumns+` FROM cleaning_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	return out, nil
}

func (h *PGHistory) Get(ctx context.Context, id string) (RunRecord, error) {
	row := h.db.QueryRow(ctx, `SELECT `+runColumns+` FROM cleaning_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

func (h *PGHistory) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := h.db.Exec(ctx, `DELETE FROM cleaning_runs WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanRun(row pgx.Row) (RunRecord, error) {
	var (
		run        RunRecord
		durationMS int64
	)
	err := row.Scan(
		&run.ID, &run.SessionID, &run.SourceName, &run.RuleCount,
		&run.Applied, &run.Skipped, &run.Failed, &run.Disabled,
		&run.RowsIn, &run.RowsOut, &run.Diagnostics, &run.Events,
		&run.Client.IP, &run.Client.UserAgent, &run.StartedAt, &durationMS,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RunRecord{}, err
		}
		return RunRecord{}, fmt.Errorf("scan run: %w", err)
	}
	run.Duration = time.Duration(durationMS) * time.Millisecond
	return run, nil
}

// nonNil keeps jsonb columns as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
