package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/datallboy/gotubedl/internal/domain"
	"github.com/datallboy/gotubedl/internal/infra/config"
)

func newTestStore(t *testing.T) *PersistentStore {
	t.Helper()
	s, err := NewPersistentStore(config.StoreConfig{
		Driver:     config.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "data", "history.db"),
	})
	if err != nil {
		t.Fatalf("NewPersistentStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRebind(t *testing.T) {
	tests := []struct {
		driver   string
		query    string
		expected string
	}{
		{config.DriverSQLite, "SELECT ? , ?", "SELECT ? , ?"},
		{config.DriverPostgres, "SELECT ? , ?", "SELECT $1 , $2"},
		{config.DriverPostgres, "SELECT 1", "SELECT 1"},
	}

	for _, tt := range tests {
		s := &PersistentStore{driver: tt.driver}
		if got := s.rebind(tt.query); got != tt.expected {
			t.Errorf("rebind(%q) on %s = %q, expected %q", tt.query, tt.driver, got, tt.expected)
		}
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.RunMigrations(); err != nil {
		t.Errorf("Expected second migration run to be a no-op, got %v", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	started := time.Now().Truncate(time.Millisecond)
	if err := s.CreateRun(ctx, &domain.Run{ID: "run1", Status: domain.RunStatusRunning, StartedAt: started}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if err := s.UpdateRunStatus(ctx, "run1", domain.RunStatusClosing); err != nil {
		t.Fatalf("UpdateRunStatus: %v", err)
	}
	if err := s.FinishRun(ctx, "run1", domain.RunStatusClosed, 3, 1500*time.Millisecond, started.Add(2*time.Second)); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	run, err := s.GetRun(ctx, "run1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != domain.RunStatusClosed {
		t.Errorf("Expected closed, got %s", run.Status)
	}
	if run.Successful != 3 {
		t.Errorf("Expected 3 successful, got %d", run.Successful)
	}
	if run.Elapsed != 1500*time.Millisecond {
		t.Errorf("Expected 1.5s elapsed, got %s", run.Elapsed)
	}
	if !run.StartedAt.Equal(started) {
		t.Errorf("Expected started %s, got %s", started, run.StartedAt)
	}
	if run.FinishedAt.IsZero() {
		t.Error("Expected finished timestamp")
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.GetRun(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := s.UpdateRunStatus(context.Background(), "missing", domain.RunStatusClosed); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		run := &domain.Run{ID: id, Status: domain.RunStatusFinished, StartedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.CreateRun(ctx, run); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "c" || runs[1].ID != "b" {
		t.Errorf("Expected [c b], got [%s %s]", runs[0].ID, runs[1].ID)
	}
}

func TestItems(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.CreateRun(ctx, &domain.Run{ID: "run1", Status: domain.RunStatusRunning, StartedAt: time.Now()})

	work := domain.NewWorkItems([]string{"https://a", "https://b"}, 4)
	if err := s.AddItems(ctx, "run1", work); err != nil {
		t.Fatalf("AddItems: %v", err)
	}
	// Adding again leaves the rows alone
	if err := s.AddItems(ctx, "run1", work[:1]); err != nil {
		t.Fatalf("AddItems twice: %v", err)
	}

	if err := s.UpdateItem(ctx, "run1", 4, domain.StatusDownloading, "clip.mp4"); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateItem(ctx, "run1", 4, domain.StatusFinished, ""); err != nil {
		t.Fatal(err)
	}

	items, err := s.ListItems(ctx, "run1")
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	if items[0].RowIndex != 4 || items[0].Status != domain.StatusFinished || items[0].Filename != "clip.mp4" {
		t.Errorf("Unexpected first item %+v", items[0])
	}
	if items[1].URL != "https://b" || items[1].Status != domain.StatusQueued {
		t.Errorf("Unexpected second item %+v", items[1])
	}
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	rec := NewRecorder(s, "run1", nil)

	if err := rec.Begin(ctx, domain.NewWorkItems([]string{"https://a"}, 0)); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := rec.Track(ctx, domain.NewWorkItems([]string{"https://b"}, 1)); err != nil {
		t.Fatalf("Track: %v", err)
	}

	rec.OnStatus(domain.StatusEvent{RowIndex: 0, Status: domain.StatusDownloading, Filename: "a", Extension: ".mp4"})
	rec.OnStatus(domain.StatusEvent{RowIndex: 0, Status: domain.StatusDownloading, Percent: "50%"})
	rec.OnStatus(domain.StatusEvent{RowIndex: 0, Status: domain.StatusFinished})
	rec.OnSignal("run1", domain.SignalFinished)
	rec.OnSignal("other", domain.SignalClosed)

	if err := rec.Finish(ctx, domain.RunStatusFinished, 1, time.Second); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	run, _ := s.GetRun(ctx, "run1")
	if run.Status != domain.RunStatusFinished || run.Successful != 1 {
		t.Errorf("Unexpected run %+v", run)
	}

	items, _ := s.ListItems(ctx, "run1")
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	if items[0].Status != domain.StatusFinished || items[0].Filename != "a.mp4" {
		t.Errorf("Unexpected recorded item %+v", items[0])
	}
	if items[1].Status != domain.StatusQueued {
		t.Errorf("Expected untouched item to stay queued, got %s", items[1].Status)
	}
}
