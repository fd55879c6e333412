package store

import (
	"time"

	"github.com/datallboy/gotubedl/internal/domain"
)

// runDBO maps to the runs table
type runDBO struct {
	ID         string `db:"id"`
	Status     string `db:"status"`
	Successful int64  `db:"successful"`
	ElapsedMS  int64  `db:"elapsed_ms"`
	StartedAt  int64  `db:"started_at"`
	FinishedAt int64  `db:"finished_at"`
}

// Mapper: DBO to Domain Run
func (r *runDBO) ToDomain() *domain.Run {
	run := &domain.Run{
		ID:         r.ID,
		Status:     domain.RunStatus(r.Status),
		Successful: int(r.Successful),
		Elapsed:    time.Duration(r.ElapsedMS) * time.Millisecond,
		StartedAt:  time.UnixMilli(r.StartedAt),
	}
	if r.FinishedAt > 0 {
		run.FinishedAt = time.UnixMilli(r.FinishedAt)
	}
	return run
}

// Mapper: Domain Run to DBO
func (r *runDBO) FromDomain(run *domain.Run) {
	r.ID = run.ID
	r.Status = string(run.Status)
	r.Successful = int64(run.Successful)
	r.ElapsedMS = run.Elapsed.Milliseconds()
	r.StartedAt = unixMilli(run.StartedAt)
	r.FinishedAt = unixMilli(run.FinishedAt)
}

// itemDBO maps to the items table
type itemDBO struct {
	RunID     string `db:"run_id"`
	RowIndex  int64  `db:"row_index"`
	URL       string `db:"url"`
	Status    string `db:"status"`
	Filename  string `db:"filename"`
	UpdatedAt int64  `db:"updated_at"`
}

func (i *itemDBO) ToDomain() *domain.ItemRecord {
	return &domain.ItemRecord{
		RunID:     i.RunID,
		RowIndex:  int(i.RowIndex),
		URL:       i.URL,
		Status:    i.Status,
		Filename:  i.Filename,
		UpdatedAt: time.UnixMilli(i.UpdatedAt),
	}
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
