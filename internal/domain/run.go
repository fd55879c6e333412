package domain

import (
	"time"
)

type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusClosing  RunStatus = "closing"
	RunStatusClosed   RunStatus = "closed"
	RunStatusFinished RunStatus = "finished"
)

// RunStatusFor maps a lifecycle signal onto the persisted run status.
func RunStatusFor(sig Signal) RunStatus {
	switch sig {
	case SignalClosing:
		return RunStatusClosing
	case SignalClosed:
		return RunStatusClosed
	case SignalFinished:
		return RunStatusFinished
	default:
		return RunStatusRunning
	}
}

// Run is the history record of one Manager lifetime
type Run struct {
	ID         string        `json:"id"`
	Status     RunStatus     `json:"status"`
	Successful int           `json:"successful"`
	Elapsed    time.Duration `json:"elapsed"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitzero"`
}

// ItemRecord is the last known state of one work item within a run
type ItemRecord struct {
	RunID     string    `json:"run_id"`
	RowIndex  int       `json:"index"`
	URL       string    `json:"url"`
	Status    string    `json:"status"`
	Filename  string    `json:"filename,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
