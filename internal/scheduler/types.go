// Package scheduler runs the node's periodic maintenance jobs (seen-cache
// cleanup, expired-message purge, and anything else that needs to happen on
// a fixed schedule outside the orchestrator's own heartbeat/gateway timers)
// under a single cron.Cron instance.
package scheduler

import "time"

// JobResult captures the outcome of a single maintenance job run.
type JobResult struct {
	JobID     string
	StartTime time.Time
	EndTime   time.Time
	Success   bool
	Err       error
}

// JobHistory tracks historical execution data for a job.
type JobHistory struct {
	JobID        string    `json:"job_id"`
	LastRun      time.Time `json:"last_run"`
	LastStatus   string    `json:"last_status"` // "success", "failure"
	LastDuration int64     `json:"last_duration_ms"`
	RunCount     int       `json:"run_count"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
}

// Job is a named, schedulable unit of maintenance work. Funcs should be
// idempotent and fast; long-running jobs should manage their own
// cancellation since the scheduler does not interrupt a running job.
type Job struct {
	ID       string
	Schedule string // standard cron expression, e.g. "@every 1m"
	Run      func() error
}
