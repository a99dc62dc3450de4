package scheduler

import (
	"time"

	"github.com/rte-labs/rte100/internal/pipeline"
)

// IngestJob ingests any new run files into the snapshot table every day.
type IngestJob struct {
	pipeline *pipeline.Pipeline
	runsDir  string
}

// NewIngestJob creates the daily ingestion job.
func NewIngestJob(p *pipeline.Pipeline, runsDir string) *IngestJob {
	return &IngestJob{pipeline: p, runsDir: runsDir}
}

// Name returns the job name.
func (j *IngestJob) Name() string { return "daily_ingest" }

// Run ingests pending run files.
func (j *IngestJob) Run() error {
	return j.pipeline.UpdateSnapshots(j.runsDir)
}

// RebalanceJob runs the weekly rebalance for the current date.
type RebalanceJob struct {
	pipeline *pipeline.Pipeline
	now      func() time.Time
}

// NewRebalanceJob creates the weekly rebalance job.
func NewRebalanceJob(p *pipeline.Pipeline) *RebalanceJob {
	return &RebalanceJob{pipeline: p, now: time.Now}
}

// Name returns the job name.
func (j *RebalanceJob) Name() string { return "weekly_rebalance" }

// Run rebalances as of today in UTC.
func (j *RebalanceJob) Run() error {
	now := j.now().UTC()
	date := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return j.pipeline.RunRebalance(date)
}
