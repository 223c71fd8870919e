package metrics

import (
	"sync"
	"time"

	"github.com/deusflow/newsdesk/internal/pipeline"
)

type Metrics struct {
	mu sync.RWMutex

	// Counters
	Runs            int64
	DryRuns         int64
	FailedRuns      int64
	ArticlesSeen    int64
	Summarized      int64
	Cached          int64
	Skipped         int64
	EntryErrors     int64
	RefreshRejected int64

	// Timings
	LastProcessingTime    time.Duration
	AverageProcessingTime time.Duration
	TotalProcessingTime   time.Duration
	ProcessingCount       int64

	// Status
	LastRunID     string
	LastRunTime   time.Time
	LastErrorTime time.Time
	LastError     string
	IsHealthy     bool
}

var Global = New()

func New() *Metrics {
	return &Metrics{IsHealthy: true}
}

var _ pipeline.Recorder = (*Metrics)(nil)

// RecordRun folds a finished (or aborted) ingest run into the counters.
func (m *Metrics) RecordRun(res pipeline.Result, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// dry runs store nothing, so they stay out of the article counters
	if res.DryRun {
		m.DryRuns++
	} else {
		m.Runs++
		m.ArticlesSeen += int64(res.Seen)
		m.Summarized += int64(res.Summarized)
		m.Cached += int64(res.Cached)
		m.Skipped += int64(res.Skipped)
		m.EntryErrors += int64(res.Errors)

		if !res.FinishedAt.IsZero() {
			m.recordProcessingTime(res.FinishedAt.Sub(res.StartedAt))
		}
	}

	m.LastRunID = res.RunID
	m.LastRunTime = res.FinishedAt
	if err != nil {
		m.FailedRuns++
		m.LastError = err.Error()
		m.LastErrorTime = res.FinishedAt
		m.IsHealthy = false
		return
	}
	m.IsHealthy = true
}

// IncrementRefreshRejected counts /refresh calls turned away by the guard.
func (m *Metrics) IncrementRefreshRejected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RefreshRejected++
}

func (m *Metrics) recordProcessingTime(duration time.Duration) {
	m.LastProcessingTime = duration
	m.TotalProcessingTime += duration
	m.ProcessingCount++

	if m.ProcessingCount > 0 {
		m.AverageProcessingTime = m.TotalProcessingTime / time.Duration(m.ProcessingCount)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"runs":                       m.Runs,
		"dry_runs":                   m.DryRuns,
		"failed_runs":                m.FailedRuns,
		"articles_seen":              m.ArticlesSeen,
		"summarized":                 m.Summarized,
		"cached":                     m.Cached,
		"skipped":                    m.Skipped,
		"entry_errors":               m.EntryErrors,
		"refresh_rejected":           m.RefreshRejected,
		"last_processing_time_ms":    m.LastProcessingTime.Milliseconds(),
		"average_processing_time_ms": m.AverageProcessingTime.Milliseconds(),
		"last_run_id":                m.LastRunID,
		"last_run_time":              formatTime(m.LastRunTime),
		"last_error_time":            formatTime(m.LastErrorTime),
		"last_error":                 m.LastError,
		"is_healthy":                 m.IsHealthy,
	}
}
