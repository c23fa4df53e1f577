package orchestration

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OrchestrationMetrics defines metrics operations needed by the orchestrator.
type OrchestrationMetrics interface {
	// Job lifecycle metrics.
	IncJobsCreated(ctx context.Context)
	IncJobsCompleted(ctx context.Context)
	IncJobsFailed(ctx context.Context)
	IncJobsReclaimed(ctx context.Context)
	IncActiveJobConflicts(ctx context.Context)

	// Stage metrics.
	IncStageRetries(ctx context.Context, stage string)
	ObserveStageDuration(ctx context.Context, stage string, duration time.Duration)
	ObserveJobDuration(ctx context.Context, duration time.Duration)
	ObserveFindingsPerJob(ctx context.Context, count int)
}

// orchestrationMetrics implements OrchestrationMetrics.
type orchestrationMetrics struct {
	// Job lifecycle metrics.
	jobsCreated        metric.Int64Counter
	jobsCompleted      metric.Int64Counter
	jobsFailed         metric.Int64Counter
	jobsReclaimed      metric.Int64Counter
	activeJobConflicts metric.Int64Counter

	// Stage metrics.
	stageRetries   metric.Int64Counter
	stageDuration  metric.Float64Histogram
	jobDuration    metric.Float64Histogram
	findingsPerJob metric.Int64Histogram
}

const namespace = "pipeline"

// NewOrchestrationMetrics creates a new orchestration metrics instance.
func NewOrchestrationMetrics(mp metric.MeterProvider) (*orchestrationMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(orchestrationMetrics)
	var err error

	if m.jobsCreated, err = meter.Int64Counter(
		"jobs_created_total",
		metric.WithDescription("Total number of jobs created for ready studies"),
	); err != nil {
		return nil, err
	}

	if m.jobsCompleted, err = meter.Int64Counter(
		"jobs_completed_total",
		metric.WithDescription("Total number of jobs whose report was accepted by the archive"),
	); err != nil {
		return nil, err
	}

	if m.jobsFailed, err = meter.Int64Counter(
		"jobs_failed_total",
		metric.WithDescription("Total number of jobs that reached the terminal failure state"),
	); err != nil {
		return nil, err
	}

	if m.jobsReclaimed, err = meter.Int64Counter(
		"jobs_reclaimed_total",
		metric.WithDescription("Total number of stale in-flight jobs reclaimed by recovery"),
	); err != nil {
		return nil, err
	}

	if m.activeJobConflicts, err = meter.Int64Counter(
		"active_job_conflicts_total",
		metric.WithDescription("Total number of job creations dropped because the study already had an active job"),
	); err != nil {
		return nil, err
	}

	if m.stageRetries, err = meter.Int64Counter(
		"stage_retries_total",
		metric.WithDescription("Total number of stage retries"),
	); err != nil {
		return nil, err
	}

	if m.stageDuration, err = meter.Float64Histogram(
		"stage_duration_seconds",
		metric.WithDescription("Time spent in each pipeline stage"),
	); err != nil {
		return nil, err
	}

	if m.jobDuration, err = meter.Float64Histogram(
		"job_duration_seconds",
		metric.WithDescription("Time from job creation to a terminal state"),
	); err != nil {
		return nil, err
	}

	if m.findingsPerJob, err = meter.Int64Histogram(
		"findings_per_job",
		metric.WithDescription("Number of findings persisted per completed analysis"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *orchestrationMetrics) IncJobsCreated(ctx context.Context) {
	m.jobsCreated.Add(ctx, 1)
}

func (m *orchestrationMetrics) IncJobsCompleted(ctx context.Context) {
	m.jobsCompleted.Add(ctx, 1)
}

func (m *orchestrationMetrics) IncJobsFailed(ctx context.Context) {
	m.jobsFailed.Add(ctx, 1)
}

func (m *orchestrationMetrics) IncJobsReclaimed(ctx context.Context) {
	m.jobsReclaimed.Add(ctx, 1)
}

func (m *orchestrationMetrics) IncActiveJobConflicts(ctx context.Context) {
	m.activeJobConflicts.Add(ctx, 1)
}

func (m *orchestrationMetrics) IncStageRetries(ctx context.Context, stage string) {
	m.stageRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

func (m *orchestrationMetrics) ObserveStageDuration(ctx context.Context, stage string, duration time.Duration) {
	m.stageDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}

func (m *orchestrationMetrics) ObserveJobDuration(ctx context.Context, duration time.Duration) {
	m.jobDuration.Record(ctx, duration.Seconds())
}

func (m *orchestrationMetrics) ObserveFindingsPerJob(ctx context.Context, count int) {
	m.findingsPerJob.Record(ctx, int64(count))
}
