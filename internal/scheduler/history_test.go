package scheduler

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoadHistory(t *testing.T) {
	tmpDir := t.TempDir()
	historyPath := filepath.Join(tmpDir, "scheduler_history.json")

	history := map[string]*JobHistory{
		"router-cleanup": {
			JobID:        "router-cleanup",
			LastRun:      time.Now(),
			LastStatus:   "success",
			LastDuration: 1234,
			RunCount:     5,
			SuccessCount: 4,
			FailureCount: 1,
		},
		"storage-purge": {
			JobID:        "storage-purge",
			LastRun:      time.Now().Add(-1 * time.Hour),
			LastStatus:   "failure",
			LastDuration: 5678,
			RunCount:     10,
			SuccessCount: 8,
			FailureCount: 2,
		},
	}

	if err := SaveHistory(historyPath, history); err != nil {
		t.Fatalf("SaveHistory: %v", err)
	}

	if _, err := os.Stat(historyPath); os.IsNotExist(err) {
		t.Fatal("history file was not created")
	}

	loaded, err := LoadHistory(historyPath)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}

	if len(loaded) != len(history) {
		t.Errorf("got %d history entries, want %d", len(loaded), len(history))
	}

	for jobID, want := range history {
		got, ok := loaded[jobID]
		if !ok {
			t.Errorf("job %s not found in loaded history", jobID)
			continue
		}
		if got.LastStatus != want.LastStatus {
			t.Errorf("LastStatus for %s: got %s, want %s", jobID, got.LastStatus, want.LastStatus)
		}
		if got.RunCount != want.RunCount {
			t.Errorf("RunCount for %s: got %d, want %d", jobID, got.RunCount, want.RunCount)
		}
	}
}

func TestLoadHistory_FileNotExists(t *testing.T) {
	tmpDir := t.TempDir()
	history, err := LoadHistory(filepath.Join(tmpDir, "nonexistent.json"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("got %d entries, want 0", len(history))
	}
}

func TestUpdateHistory(t *testing.T) {
	s := &Scheduler{history: make(map[string]*JobHistory)}

	s.updateHistory(JobResult{
		JobID:     "router-cleanup",
		StartTime: time.Now(),
		EndTime:   time.Now().Add(time.Second),
		Success:   true,
	})

	h, ok := s.history["router-cleanup"]
	if !ok {
		t.Fatal("history entry was not created")
	}
	if h.LastStatus != "success" {
		t.Errorf("LastStatus = %s, want success", h.LastStatus)
	}
	if h.RunCount != 1 || h.SuccessCount != 1 || h.FailureCount != 0 {
		t.Errorf("counts = %+v, want run=1 success=1 failure=0", h)
	}

	s.updateHistory(JobResult{
		JobID:     "router-cleanup",
		StartTime: time.Now(),
		EndTime:   time.Now().Add(time.Second),
		Success:   false,
	})

	if h.RunCount != 2 || h.SuccessCount != 1 || h.FailureCount != 1 {
		t.Errorf("counts after failure = %+v, want run=2 success=1 failure=1", h)
	}
	if h.LastStatus != "failure" {
		t.Errorf("LastStatus = %s, want failure", h.LastStatus)
	}
}
