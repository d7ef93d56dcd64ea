package scheduler

import (
	"context"
	"time"
)

// Job is a unit of periodic work
// ⭐ SSOT: 스케줄 작업 인터페이스는 여기서만 정의
type Job interface {
	Name() string
	Run(ctx context.Context) error
	// Schedule is a cron expression with a seconds field, e.g. "@every 3s"
	Schedule() string
}

// JobResult is the outcome of one run, retries included
type JobResult struct {
	JobName   string        `json:"job_name"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Attempts  int           `json:"attempts"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

const maxHistory = 100

// JobHistory keeps the last maxHistory results plus counters that survive trimming
type JobHistory struct {
	Results             []JobResult
	TotalRuns           int
	TotalFailures       int
	ConsecutiveFailures int
	LastSuccess         *time.Time
	LastFailure         *time.Time
}

// Add records a result
func (h *JobHistory) Add(r JobResult) {
	h.Results = append(h.Results, r)
	if len(h.Results) > maxHistory {
		h.Results = h.Results[len(h.Results)-maxHistory:]
	}

	h.TotalRuns++
	at := r.StartTime
	if r.Success {
		h.ConsecutiveFailures = 0
		h.LastSuccess = &at
		return
	}
	h.TotalFailures++
	h.ConsecutiveFailures++
	h.LastFailure = &at
}

// Latest returns up to n most recent results, oldest first
func (h *JobHistory) Latest(n int) []JobResult {
	if n > len(h.Results) {
		n = len(h.Results)
	}
	if n <= 0 {
		return []JobResult{}
	}
	return h.Results[len(h.Results)-n:]
}

// SuccessRate is computed over the retained window (0.0 - 1.0)
func (h *JobHistory) SuccessRate() float64 {
	if len(h.Results) == 0 {
		return 0
	}
	ok := 0
	for _, r := range h.Results {
		if r.Success {
			ok++
		}
	}
	return float64(ok) / float64(len(h.Results))
}

func (h *JobHistory) clone() *JobHistory {
	c := *h
	c.Results = append([]JobResult(nil), h.Results...)
	return &c
}

// JobStats is the per-job summary served by /api/exit/status
type JobStats struct {
	JobName             string     `json:"job_name"`
	Schedule            string     `json:"schedule"`
	TotalRuns           int        `json:"total_runs"`
	FailureCount        int        `json:"failure_count"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	SuccessRate         float64    `json:"success_rate"`
	LastRun             *time.Time `json:"last_run,omitempty"`
	LastDuration        string     `json:"last_duration,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	LastFailure         *time.Time `json:"last_failure,omitempty"`
}

func (h *JobHistory) stats(name, schedule string) JobStats {
	st := JobStats{
		JobName:             name,
		Schedule:            schedule,
		TotalRuns:           h.TotalRuns,
		FailureCount:        h.TotalFailures,
		ConsecutiveFailures: h.ConsecutiveFailures,
		SuccessRate:         h.SuccessRate(),
		LastSuccess:         h.LastSuccess,
		LastFailure:         h.LastFailure,
	}
	if latest := h.Latest(1); len(latest) == 1 {
		last := latest[0]
		st.LastRun = &last.StartTime
		st.LastDuration = last.Duration.String()
		st.LastError = last.Error
	}
	return st
}
