package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lherron/dsmerge/internal/errs"
	"github.com/lherron/dsmerge/internal/manifest"
	"github.com/lherron/dsmerge/internal/merge"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

const timeFormat = "2006-01-02T15:04:05Z"

// RunStore records merge runs. It implements merge.Recorder.
type RunStore struct {
	store *Store
}

var _ merge.Recorder = (*RunStore)(nil)

// Run is one row of merge_runs.
type Run struct {
	UUID       string     `json:"uuid"`
	DestDir    string     `json:"dest_dir"`
	Mode       string     `json:"mode"`
	Policy     string     `json:"policy"`
	Strict     bool       `json:"strict"`
	Status     string     `json:"status"`
	NumCases   int        `json:"num_cases"`
	Collisions int        `json:"collisions"`
	OpsTotal   int        `json:"ops_total"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// CaseRecord is one row of merge_cases.
type CaseRecord struct {
	DestCaseID           string `json:"dest_case_id"`
	OriginDatasetID      string `json:"origin_dataset_id"`
	OriginDatasetDirname string `json:"origin_dataset_dirname"`
	OriginCaseID         string `json:"origin_case_id"`
}

// Begin inserts a running row for the run.
func (rs *RunStore) Begin(ctx context.Context, info merge.RunInfo) error {
	_, err := rs.store.db.ExecContext(ctx, `
		INSERT INTO merge_runs (uuid, dest_dir, mode, policy, strict, status, ops_total, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, info.RunID, info.DestDir, string(info.Mode), string(info.Policy), info.Strict, StatusRunning,
		info.OpsTotal, time.Now().UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", info.RunID, err)
	}
	return nil
}

// Finish marks the run succeeded and stores every manifest case. The
// dataset is already published, so cancellation of ctx is ignored.
func (rs *RunStore) Finish(ctx context.Context, res *merge.Result, m *manifest.Manifest) error {
	ctx = context.WithoutCancel(ctx)
	return rs.store.withTx(ctx, func(tx *sql.Tx) error {
		finished := res.FinishedAt
		if finished.IsZero() {
			finished = time.Now().UTC()
		}
		result, err := tx.ExecContext(ctx, `
			UPDATE merge_runs
			SET status = ?, num_cases = ?, collisions = ?, finished_at = ?
			WHERE uuid = ?
		`, StatusSucceeded, res.Cases, len(res.Collisions), finished.UTC().Format(timeFormat), res.RunID)
		if err != nil {
			return fmt.Errorf("failed to update run %s: %w", res.RunID, err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return errs.NewNotFoundError("run", res.RunID)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO merge_cases (run_uuid, seq, dest_case_id, origin_dataset_id, origin_dataset_dirname, origin_case_id)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare case insert: %w", err)
		}
		defer stmt.Close()

		for i, id := range m.CaseIDs() {
			e := m.Cases[id]
			if _, err := stmt.ExecContext(ctx, res.RunID, i, id, e.OriginDatasetID, e.OriginDatasetDirname, e.OriginCaseID); err != nil {
				return fmt.Errorf("failed to insert case %s: %w", id, err)
			}
		}
		return nil
	})
}

// Fail marks the run failed with cause. It runs even when ctx was canceled
// so interrupted runs are not left as running.
func (rs *RunStore) Fail(ctx context.Context, runID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := rs.store.db.ExecContext(context.WithoutCancel(ctx), `
		UPDATE merge_runs SET status = ?, error = ?, finished_at = ? WHERE uuid = ?
	`, StatusFailed, msg, time.Now().UTC().Format(timeFormat), runID)
	if err != nil {
		return fmt.Errorf("failed to mark run %s failed: %w", runID, err)
	}
	return nil
}

const runColumns = `uuid, dest_dir, mode, policy, strict, status, num_cases, collisions, ops_total, started_at, finished_at, error`

// List returns the most recent runs first. limit <= 0 returns all runs.
func (rs *RunStore) List(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM merge_runs ORDER BY started_at DESC, rowid DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := rs.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// Get returns one run by uuid or uuid prefix.
func (rs *RunStore) Get(ctx context.Context, uuid string) (*Run, error) {
	rows, err := rs.store.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM merge_runs WHERE uuid = ? OR uuid LIKE ? || '%' ORDER BY uuid LIMIT 2`, uuid, uuid)
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", uuid, err)
	}
	defer rows.Close()

	var found []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		if r.UUID == uuid {
			return r, nil
		}
		found = append(found, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	switch len(found) {
	case 0:
		return nil, errs.NewNotFoundError("run", uuid)
	case 1:
		return found[0], nil
	default:
		return nil, errs.NewValidationError("uuid", uuid, fmt.Sprintf("prefix %q matches more than one run", uuid))
	}
}

// Cases returns the recorded cases of a run in assignment order.
func (rs *RunStore) Cases(ctx context.Context, uuid string) ([]CaseRecord, error) {
	rows, err := rs.store.db.QueryContext(ctx, `
		SELECT dest_case_id, origin_dataset_id, origin_dataset_dirname, origin_case_id
		FROM merge_cases WHERE run_uuid = ? ORDER BY seq
	`, uuid)
	if err != nil {
		return nil, fmt.Errorf("failed to list cases for run %s: %w", uuid, err)
	}
	defer rows.Close()

	var cases []CaseRecord
	for rows.Next() {
		var c CaseRecord
		if err := rows.Scan(&c.DestCaseID, &c.OriginDatasetID, &c.OriginDatasetDirname, &c.OriginCaseID); err != nil {
			return nil, fmt.Errorf("failed to scan case: %w", err)
		}
		cases = append(cases, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cases: %w", err)
	}
	return cases, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		r          Run
		startedAt  string
		finishedAt sql.NullString
		errText    sql.NullString
	)
	if err := row.Scan(&r.UUID, &r.DestDir, &r.Mode, &r.Policy, &r.Strict, &r.Status,
		&r.NumCases, &r.Collisions, &r.OpsTotal, &startedAt, &finishedAt, &errText); err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	t, err := time.Parse(timeFormat, startedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid started_at %q for run %s: %w", startedAt, r.UUID, err)
	}
	r.StartedAt = t
	if finishedAt.Valid {
		t, err := time.Parse(timeFormat, finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("invalid finished_at %q for run %s: %w", finishedAt.String, r.UUID, err)
		}
		r.FinishedAt = &t
	}
	r.Error = errText.String
	return &r, nil
}
