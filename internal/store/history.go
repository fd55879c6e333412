package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/datallboy/gotubedl/internal/domain"
)

func (s *PersistentStore) CreateRun(ctx context.Context, run *domain.Run) error {
	var dbo runDBO
	dbo.FromDomain(run)

	query := s.rebind(`INSERT INTO runs (id, status, successful, elapsed_ms, started_at, finished_at)
              VALUES (?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		dbo.ID, dbo.Status, dbo.Successful, dbo.ElapsedMS, dbo.StartedAt, dbo.FinishedAt)
	if err != nil {
		return fmt.Errorf("create run %s: %w", run.ID, err)
	}
	return nil
}

func (s *PersistentStore) UpdateRunStatus(ctx context.Context, id string, status domain.RunStatus) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE runs SET status = ? WHERE id = ?`), string(status), id)
	if err != nil {
		return err
	}
	return expectRow(res, id)
}

// FinishRun stores the final counters of a run.
func (s *PersistentStore) FinishRun(ctx context.Context, id string, status domain.RunStatus, successful int, elapsed time.Duration, finishedAt time.Time) error {
	query := s.rebind(`UPDATE runs SET status = ?, successful = ?, elapsed_ms = ?, finished_at = ? WHERE id = ?`)

	res, err := s.db.ExecContext(ctx, query,
		string(status), int64(successful), elapsed.Milliseconds(), unixMilli(finishedAt), id)
	if err != nil {
		return err
	}
	return expectRow(res, id)
}

func (s *PersistentStore) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	query := s.rebind(`
			SELECT id, status, successful, elapsed_ms, started_at, finished_at
			FROM runs
			WHERE id = ? LIMIT 1`)

	var dbo runDBO
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&dbo.ID, &dbo.Status, &dbo.Successful, &dbo.ElapsedMS, &dbo.StartedAt, &dbo.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return dbo.ToDomain(), nil
}

// ListRuns returns the most recent runs first.
func (s *PersistentStore) ListRuns(ctx context.Context, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	query := s.rebind(`
			SELECT id, status, successful, elapsed_ms, started_at, finished_at
			FROM runs
			ORDER BY started_at DESC, id DESC
			LIMIT ?`)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		var dbo runDBO
		if err := rows.Scan(&dbo.ID, &dbo.Status, &dbo.Successful, &dbo.ElapsedMS, &dbo.StartedAt, &dbo.FinishedAt); err != nil {
			return nil, err
		}
		runs = append(runs, dbo.ToDomain())
	}
	return runs, rows.Err()
}

// AddItems records newly queued items. Rows already present are left untouched.
func (s *PersistentStore) AddItems(ctx context.Context, runID string, items []domain.WorkItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`
			INSERT INTO items (run_id, row_index, url, status, filename, updated_at)
			VALUES (?, ?, ?, ?, '', ?)
			ON CONFLICT (run_id, row_index) DO NOTHING`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, item := range items {
		if _, err := stmt.ExecContext(ctx, runID, int64(item.RowIndex), item.URL, domain.StatusQueued, now); err != nil {
			return fmt.Errorf("add item %s: %w", item, err)
		}
	}

	return tx.Commit()
}

// DeleteItems removes rows that never made it into the run.
func (s *PersistentStore) DeleteItems(ctx context.Context, runID string, items []domain.WorkItem) error {
	query := s.rebind(`DELETE FROM items WHERE run_id = ? AND row_index = ?`)
	for _, item := range items {
		if _, err := s.db.ExecContext(ctx, query, runID, int64(item.RowIndex)); err != nil {
			return err
		}
	}
	return nil
}

// UpdateItem sets the last known status of a row. An empty filename keeps the stored one.
func (s *PersistentStore) UpdateItem(ctx context.Context, runID string, row int, status, filename string) error {
	query := s.rebind(`
			UPDATE items
			SET status = ?, filename = COALESCE(NULLIF(?, ''), filename), updated_at = ?
			WHERE run_id = ? AND row_index = ?`)

	_, err := s.db.ExecContext(ctx, query, status, filename, time.Now().UnixMilli(), runID, int64(row))
	return err
}

func (s *PersistentStore) ListItems(ctx context.Context, runID string) ([]*domain.ItemRecord, error) {
	query := s.rebind(`
			SELECT run_id, row_index, url, status, filename, updated_at
			FROM items
			WHERE run_id = ?
			ORDER BY row_index`)

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*domain.ItemRecord
	for rows.Next() {
		var dbo itemDBO
		if err := rows.Scan(&dbo.RunID, &dbo.RowIndex, &dbo.URL, &dbo.Status, &dbo.Filename, &dbo.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, dbo.ToDomain())
	}
	return items, rows.Err()
}

func expectRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
