package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs a fixed set of named maintenance jobs on cron schedules.
type Scheduler struct {
	jobs           []Job
	maxConcurrent  int
	cron           *cron.Cron
	history        map[string]*JobHistory
	historyPath    string
	runningJobs    map[string]bool
	mu             sync.RWMutex
	concurrencySem chan struct{}
	ctx            context.Context
	cancel         context.CancelFunc
}

// NewScheduler creates a scheduler for the given jobs. historyPath may be
// empty, in which case run history is kept in memory only.
func NewScheduler(jobs []Job, historyPath string, maxConcurrent int) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}

	var history map[string]*JobHistory
	if historyPath != "" {
		h, err := LoadHistory(historyPath)
		if err != nil {
			log.Printf("WARN: failed to load scheduler history from %s: %v", historyPath, err)
			h = make(map[string]*JobHistory)
		}
		history = h
	} else {
		history = make(map[string]*JobHistory)
	}

	return &Scheduler{
		jobs:           jobs,
		maxConcurrent:  maxConcurrent,
		history:        history,
		historyPath:    historyPath,
		runningJobs:    make(map[string]bool),
		concurrencySem: make(chan struct{}, maxConcurrent),
	}
}

// Start schedules all jobs and blocks until ctx is cancelled, then stops
// cleanly. Intended to be run in its own goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	defer s.cancel()

	s.cron = cron.New()

	scheduled := 0
	for _, job := range s.jobs {
		j := job
		if _, err := s.cron.AddFunc(j.Schedule, func() { s.runWithConcurrency(j) }); err != nil {
			log.Printf("ERROR: failed to schedule job %q (%s): %v", j.ID, j.Schedule, err)
			continue
		}
		scheduled++
		log.Printf("INFO: job %q scheduled: %s", j.ID, j.Schedule)
	}

	if scheduled == 0 {
		log.Printf("WARN: scheduler has no jobs to run")
		<-s.ctx.Done()
		return
	}

	s.cron.Start()
	log.Printf("INFO: scheduler running %d jobs (max concurrent: %d)", scheduled, s.maxConcurrent)

	<-s.ctx.Done()
	log.Printf("INFO: scheduler stopping")
	s.Stop()
}

// Stop drains running jobs and persists history.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		cronCtx := s.cron.Stop()
		<-cronCtx.Done()
		log.Printf("INFO: all scheduled jobs completed")
	}

	if s.historyPath == "" {
		return
	}
	if err := SaveHistory(s.historyPath, s.history); err != nil {
		log.Printf("ERROR: failed to save scheduler history: %v", err)
	} else {
		log.Printf("INFO: scheduler history saved to %s", s.historyPath)
	}
}

func (s *Scheduler) runWithConcurrency(job Job) {
	s.mu.Lock()
	if s.runningJobs[job.ID] {
		s.mu.Unlock()
		log.Printf("WARN: job %q skipped: previous run still in progress", job.ID)
		return
	}
	s.mu.Unlock()

	select {
	case s.concurrencySem <- struct{}{}:
		defer func() { <-s.concurrencySem }()
	default:
		log.Printf("WARN: job %q skipped: max concurrent jobs reached (%d)", job.ID, s.maxConcurrent)
		return
	}

	s.mu.Lock()
	s.runningJobs[job.ID] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.runningJobs, job.ID)
		s.mu.Unlock()
	}()

	result := JobResult{JobID: job.ID, StartTime: time.Now()}
	result.Err = job.Run()
	result.EndTime = time.Now()
	result.Success = result.Err == nil

	if result.Success {
		log.Printf("INFO: job %q completed in %s", job.ID, result.EndTime.Sub(result.StartTime))
	} else {
		log.Printf("ERROR: job %q failed: %v", job.ID, result.Err)
	}

	s.updateHistory(result)
}

// GetHistory returns a copy of the current job history.
func (s *Scheduler) GetHistory() map[string]*JobHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*JobHistory, len(s.history))
	for k, v := range s.history {
		cp := *v
		out[k] = &cp
	}
	return out
}
