// Package orchestration drives ready studies through the analysis pipeline.
// It creates jobs, admits them to a bounded worker pool, executes the
// analyze, report, and deliver stages, applies the retry policy, and
// reclaims jobs abandoned by crashed workers.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/pacsight/internal/domain/events"
	"github.com/ahrav/pacsight/internal/domain/imaging"
	"github.com/ahrav/pacsight/internal/domain/pipeline"
	"github.com/ahrav/pacsight/pkg/common/logger"
)

const (
	defaultWorkers         = 4
	defaultQueueSize       = 256
	defaultJobTimeout      = 10 * time.Minute
	defaultLeaseDuration   = 5 * time.Minute
	defaultReclaimInterval = time.Minute
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithWorkers sets the number of concurrent pipeline workers.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithQueueSize sets the capacity of the bounded work queue.
func WithQueueSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithJobTimeout bounds a single worker pass over a job, retries included.
func WithJobTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.jobTimeout = d
		}
	}
}

// WithLeaseDuration sets how long a worker's claim on a job lasts before
// recovery may reclaim it.
func WithLeaseDuration(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.leaseDuration = d
		}
	}
}

// WithReclaimInterval sets how often the recovery loop scans for stale jobs.
func WithReclaimInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.reclaimInterval = d
		}
	}
}

// Orchestrator owns the job lifecycle for ready studies. Exactly one
// non-terminal job per study is enforced by the store's conditional insert,
// so running several orchestrators against the same database is safe.
type Orchestrator struct {
	jobRepo     pipeline.JobRepository
	findingRepo pipeline.FindingRepository
	reportRepo  pipeline.ReportRepository
	studyRepo   imaging.StudyRepository

	analyzer  pipeline.Analyzer
	builder   pipeline.ReportBuilder
	deliverer pipeline.ReportDeliverer

	eventBus  events.EventBus
	publisher events.DomainEventPublisher

	queue *workQueue

	workers         int
	queueSize       int
	jobTimeout      time.Duration
	leaseDuration   time.Duration
	reclaimInterval time.Duration
	retryInterval   time.Duration

	logger  *logger.Logger
	metrics OrchestrationMetrics
	tracer  trace.Tracer
}

// NewOrchestrator assembles the pipeline coordinator from its stage
// implementations and storage.
func NewOrchestrator(
	jobRepo pipeline.JobRepository,
	findingRepo pipeline.FindingRepository,
	reportRepo pipeline.ReportRepository,
	studyRepo imaging.StudyRepository,
	analyzer pipeline.Analyzer,
	builder pipeline.ReportBuilder,
	deliverer pipeline.ReportDeliverer,
	eventBus events.EventBus,
	publisher events.DomainEventPublisher,
	log *logger.Logger,
	metrics OrchestrationMetrics,
	tracer trace.Tracer,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		jobRepo:         jobRepo,
		findingRepo:     findingRepo,
		reportRepo:      reportRepo,
		studyRepo:       studyRepo,
		analyzer:        analyzer,
		builder:         builder,
		deliverer:       deliverer,
		eventBus:        eventBus,
		publisher:       publisher,
		workers:         defaultWorkers,
		queueSize:       defaultQueueSize,
		jobTimeout:      defaultJobTimeout,
		leaseDuration:   defaultLeaseDuration,
		reclaimInterval: defaultReclaimInterval,
		retryInterval:   2 * time.Second,
		logger:          log.With("component", "orchestrator"),
		metrics:         metrics,
		tracer:          tracer,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.queue = newWorkQueue(o.runJob, log, o.workers, o.queueSize, o.jobTimeout)
	return o
}

// Run subscribes to study-ready events, resumes persisted work, and drives
// the recovery loop until ctx is canceled. It blocks; callers run it in its
// own goroutine or errgroup.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.eventBus.Subscribe(ctx, []events.EventType{events.EventTypeStudyReady}, o.handleStudyReady); err != nil {
		return fmt.Errorf("subscribing to study ready events: %w", err)
	}

	if err := o.resumePersistedWork(ctx); err != nil {
		return fmt.Errorf("resuming persisted work: %w", err)
	}

	o.logger.Info(ctx, "orchestrator started",
		"workers", o.workers,
		"lease_duration", o.leaseDuration.String(),
		"reclaim_interval", o.reclaimInterval.String())

	ticker := time.NewTicker(o.reclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.recoverUnprocessedStudies(ctx)
			o.reclaimStaleJobs(ctx)
		}
	}
}

// Shutdown drains the work queue. Jobs that do not finish before ctx expires
// keep their persisted lease and are reclaimed after it lapses.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.queue.shutdown(ctx)
}

// resumePersistedWork repopulates the work queue from the store after a
// restart: queued jobs are re-admitted, ready studies that never got a job
// are enqueued, and stale in-flight jobs reclaimed.
func (o *Orchestrator) resumePersistedWork(ctx context.Context) error {
	queued, err := o.jobRepo.ListQueued(ctx)
	if err != nil {
		return fmt.Errorf("listing queued jobs: %w", err)
	}
	for _, job := range queued {
		o.queue.enqueue(ctx, job)
	}
	if len(queued) > 0 {
		o.logger.Info(ctx, "resumed queued jobs", "count", len(queued))
	}

	o.recoverUnprocessedStudies(ctx)
	o.reclaimStaleJobs(ctx)
	return nil
}

// recoverUnprocessedStudies enqueues Ready studies that have no non-terminal
// job. The study-ready signal only lives in process memory, so a crash between
// the durable promotion and job creation leaves a study only this sweep can
// see.
func (o *Orchestrator) recoverUnprocessedStudies(ctx context.Context) {
	studies, err := o.studyRepo.FindUnprocessedReadyStudies(ctx)
	if err != nil {
		o.logger.Error(ctx, "failed to list unprocessed ready studies", "error", err)
		return
	}

	for _, study := range studies {
		if err := o.EnqueueStudy(ctx, study.StudyInstanceUID()); err != nil {
			o.logger.Error(ctx, "failed to enqueue recovered study",
				"study_instance_uid", study.StudyInstanceUID(), "error", err)
		}
	}
	if len(studies) > 0 {
		o.logger.Info(ctx, "recovered unprocessed ready studies", "count", len(studies))
	}
}

func (o *Orchestrator) handleStudyReady(ctx context.Context, evt events.EventEnvelope) error {
	ready, ok := evt.Payload.(imaging.StudyReadyEvent)
	if !ok {
		return fmt.Errorf("expected StudyReadyEvent payload, got %T", evt.Payload)
	}
	return o.EnqueueStudy(ctx, ready.StudyInstanceUID)
}

// EnqueueStudy creates a job for a ready study and admits it to the work
// queue. A study that already has a non-terminal job is skipped; the ready
// signal was duplicated, not lost.
func (o *Orchestrator) EnqueueStudy(ctx context.Context, studyUID string) error {
	ctx, span := o.tracer.Start(ctx, "orchestrator.enqueue_study",
		trace.WithAttributes(attribute.String("study_instance_uid", studyUID)))
	defer span.End()

	now := time.Now().UTC()
	job := pipeline.NewJob(studyUID, now)
	// Persist the job directly in Queued. A job stored as Received would be
	// invisible to both the resume query and the stale-lease sweep if the
	// process died before a second write, while the unique index kept the
	// study from ever getting another job.
	if err := job.UpdateStatus(pipeline.JobStatusQueued, now); err != nil {
		return fmt.Errorf("queueing job %s: %w", job.JobID(), err)
	}

	if err := o.jobRepo.CreateJob(ctx, job); err != nil {
		if errors.Is(err, pipeline.ErrActiveJobExists) {
			span.AddEvent("active_job_exists")
			o.metrics.IncActiveJobConflicts(ctx)
			o.logger.Debug(ctx, "study already has an active job, skipping", "study_instance_uid", studyUID)
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating job for study %s: %w", studyUID, err)
	}
	o.metrics.IncJobsCreated(ctx)

	if err := o.publisher.PublishDomainEvent(ctx, pipeline.NewJobEnqueuedEvent(job), events.WithKey(studyUID)); err != nil {
		// The job is durable in Queued; a lost signal only costs latency.
		o.logger.Error(ctx, "failed to publish job enqueued event", "job_id", job.JobID().String(), "error", err)
	}

	span.AddEvent("job_enqueued", trace.WithAttributes(attribute.String("job_id", job.JobID().String())))
	o.logger.Info(ctx, "job enqueued", "job_id", job.JobID().String(), "study_instance_uid", studyUID)

	o.queue.enqueue(ctx, job)
	return nil
}

// runJob executes pipeline stages for a job until it reaches a terminal
// state, a retry budget decision ends the pass, or the stage context expires.
// The job's current status selects the next stage, so a reclaimed job resumes
// exactly where its previous worker stopped.
func (o *Orchestrator) runJob(ctx context.Context, job *pipeline.Job) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.run_job",
		trace.WithAttributes(
			attribute.String("job_id", job.JobID().String()),
			attribute.String("study_instance_uid", job.StudyUID()),
			attribute.String("status", job.Status().String()),
		))
	defer span.End()

	retryDelay := backoff.NewExponentialBackOff()
	retryDelay.InitialInterval = o.retryInterval
	retryDelay.MaxInterval = time.Minute
	retryDelay.MaxElapsedTime = 0 // the attempt budget bounds retries, not wall time

	for {
		if ctx.Err() != nil {
			// Lease stays persisted; recovery resumes the job after it lapses.
			o.logger.Warn(ctx, "job pass interrupted", "job_id", job.JobID().String(), "status", job.Status().String())
			return
		}

		var stageErr error
		switch job.Status() {
		case pipeline.JobStatusQueued:
			claimed, err := o.claimJob(ctx, job)
			if err != nil || !claimed {
				return
			}
			continue

		case pipeline.JobStatusAnalyzing:
			stageErr = o.runAnalysis(ctx, job)

		case pipeline.JobStatusReporting:
			stageErr = o.runReporting(ctx, job)

		case pipeline.JobStatusDelivering:
			stageErr = o.runDelivery(ctx, job)

		case pipeline.JobStatusDone:
			o.finishJob(ctx, job)
			return

		case pipeline.JobStatusFailed:
			return

		default:
			o.logger.Error(ctx, "job in unexpected state, dropping", "job_id", job.JobID().String(), "status", job.Status().String())
			return
		}

		if stageErr == nil {
			continue
		}

		if !o.prepareRetry(ctx, job, stageErr) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay.NextBackOff()):
		}
	}
}

// claimJob transitions a queued job to Analyzing with a fresh lease. A false
// return means another worker already holds the job.
func (o *Orchestrator) claimJob(ctx context.Context, job *pipeline.Job) (bool, error) {
	leaseUntil := time.Now().UTC().Add(o.leaseDuration)
	claimed, err := o.jobRepo.ClaimQueued(ctx, job, leaseUntil)
	if err != nil {
		o.logger.Error(ctx, "failed to claim job", "job_id", job.JobID().String(), "error", err)
		return false, err
	}
	if !claimed {
		o.logger.Debug(ctx, "job claimed elsewhere, skipping", "job_id", job.JobID().String())
		return false, nil
	}

	if err := job.UpdateStatus(pipeline.JobStatusAnalyzing, time.Now().UTC()); err != nil {
		return false, err
	}
	job.Claim(leaseUntil)
	return true, nil
}

func (o *Orchestrator) runAnalysis(ctx context.Context, job *pipeline.Job) error {
	started := time.Now()
	findings, err := o.analyzer.AnalyzeStudy(ctx, job)
	o.metrics.ObserveStageDuration(ctx, "analysis", time.Since(started))
	if err != nil {
		return err
	}

	if err := job.UpdateStatus(pipeline.JobStatusReporting, time.Now().UTC()); err != nil {
		return err
	}
	if err := o.jobRepo.CompleteAnalysis(ctx, job, findings); err != nil {
		return fmt.Errorf("persisting analysis for job %s: %w", job.JobID(), err)
	}

	o.metrics.ObserveFindingsPerJob(ctx, len(findings))
	o.logger.Info(ctx, "analysis complete",
		"job_id", job.JobID().String(),
		"study_instance_uid", job.StudyUID(),
		"num_findings", len(findings))
	return nil
}

func (o *Orchestrator) runReporting(ctx context.Context, job *pipeline.Job) error {
	started := time.Now()

	findings, err := o.findingRepo.ListJobFindings(ctx, job.JobID())
	if err != nil {
		return pipeline.NewStageError(pipeline.ErrKindTemplate, fmt.Errorf("loading findings for job %s: %w", job.JobID(), err))
	}

	report, err := o.builder.BuildReport(ctx, job, findings)
	o.metrics.ObserveStageDuration(ctx, "reporting", time.Since(started))
	if err != nil {
		return err
	}

	if err := job.UpdateStatus(pipeline.JobStatusDelivering, time.Now().UTC()); err != nil {
		return err
	}
	if err := o.reportRepo.SaveReport(ctx, report, job); err != nil {
		return pipeline.NewStageError(pipeline.ErrKindTemplate, fmt.Errorf("persisting report for job %s: %w", job.JobID(), err))
	}

	o.logger.Info(ctx, "report built", "job_id", job.JobID().String(), "report_id", report.ReportID().String())
	return nil
}

func (o *Orchestrator) runDelivery(ctx context.Context, job *pipeline.Job) error {
	report, err := o.reportRepo.GetJobReport(ctx, job.JobID())
	if err != nil {
		return fmt.Errorf("loading report for job %s: %w", job.JobID(), err)
	}

	started := time.Now()
	response, err := o.deliverer.DeliverReport(ctx, job, report)
	o.metrics.ObserveStageDuration(ctx, "delivery", time.Since(started))
	if err != nil {
		se := pipeline.AsStageError(err)
		if !se.Retryable() || !o.hasRetryBudget(job) {
			// Record the archive's last word before the generic failure path
			// moves the job to Failed.
			now := time.Now().UTC()
			if markErr := report.MarkFailed(response, now); markErr == nil {
				if persistErr := o.reportRepo.UpdateReportDelivery(ctx, report, job); persistErr != nil {
					o.logger.Error(ctx, "failed to persist delivery failure", "job_id", job.JobID().String(), "error", persistErr)
				}
			}
		}
		return err
	}

	now := time.Now().UTC()
	if err := report.MarkSent(response, now); err != nil {
		return err
	}
	if err := job.UpdateStatus(pipeline.JobStatusDone, now); err != nil {
		return err
	}
	if err := o.reportRepo.UpdateReportDelivery(ctx, report, job); err != nil {
		return fmt.Errorf("persisting delivery for job %s: %w", job.JobID(), err)
	}

	return nil
}

// hasRetryBudget reports whether one more failure would still leave budget.
func (o *Orchestrator) hasRetryBudget(job *pipeline.Job) bool {
	return job.Attempts()+1 < pipeline.MaxAttempts
}

// prepareRetry applies the retry policy to a stage failure. It returns true
// when the caller should continue the stage loop after a backoff delay.
// Analysis retries route back through Queued; delivery retries stay in
// Delivering with a refreshed lease. Report building is never retried.
func (o *Orchestrator) prepareRetry(ctx context.Context, job *pipeline.Job, stageErr error) bool {
	se := pipeline.AsStageError(stageErr)
	now := time.Now().UTC()
	stage := job.Status()

	if !se.Retryable() || stage == pipeline.JobStatusReporting {
		o.failJob(ctx, job, se.Error())
		return false
	}

	if !job.RecordFailure(se.Error(), now) {
		o.logger.Warn(ctx, "retry budget exhausted",
			"job_id", job.JobID().String(),
			"attempts", job.Attempts(),
			"error", se.Error())
		o.failJob(ctx, job, se.Error())
		return false
	}

	var target pipeline.JobStatus
	switch stage {
	case pipeline.JobStatusAnalyzing:
		target = pipeline.JobStatusQueued
	case pipeline.JobStatusDelivering:
		target = pipeline.JobStatusDelivering
	default:
		o.failJob(ctx, job, se.Error())
		return false
	}

	if err := job.UpdateStatus(target, now); err != nil {
		o.logger.Error(ctx, "invalid retry transition", "job_id", job.JobID().String(), "error", err)
		o.failJob(ctx, job, se.Error())
		return false
	}
	if target == pipeline.JobStatusQueued {
		job.Release()
	} else {
		job.Claim(now.Add(o.leaseDuration))
	}
	if err := o.jobRepo.UpdateJob(ctx, job); err != nil {
		o.logger.Error(ctx, "failed to persist retry state", "job_id", job.JobID().String(), "error", err)
		return false
	}

	o.metrics.IncStageRetries(ctx, stageName(stage))
	o.logger.Warn(ctx, "stage failed, retrying",
		"job_id", job.JobID().String(),
		"stage", stageName(stage),
		"attempt", job.Attempts(),
		"error", se.Error())
	return true
}

// failJob moves a job to its terminal failure state and closes the study so
// a later instance can reopen it for a fresh attempt.
func (o *Orchestrator) failJob(ctx context.Context, job *pipeline.Job, detail string) {
	now := time.Now().UTC()
	if err := job.Fail(detail, now); err != nil {
		o.logger.Error(ctx, "failed to mark job failed", "job_id", job.JobID().String(), "error", err)
		return
	}
	if err := o.jobRepo.UpdateJob(ctx, job); err != nil {
		o.logger.Error(ctx, "failed to persist failed job", "job_id", job.JobID().String(), "error", err)
		return
	}

	o.metrics.IncJobsFailed(ctx)
	o.metrics.ObserveJobDuration(ctx, now.Sub(job.CreatedAt()))
	o.logger.Error(ctx, "job failed",
		"job_id", job.JobID().String(),
		"study_instance_uid", job.StudyUID(),
		"attempts", job.Attempts(),
		"error", detail)

	o.closeStudy(ctx, job.StudyUID())

	if err := o.publisher.PublishDomainEvent(ctx, pipeline.NewJobFailedEvent(job), events.WithKey(job.StudyUID())); err != nil {
		o.logger.Error(ctx, "failed to publish job failed event", "job_id", job.JobID().String(), "error", err)
	}
}

// finishJob records a successful terminal state and closes the study.
func (o *Orchestrator) finishJob(ctx context.Context, job *pipeline.Job) {
	o.metrics.IncJobsCompleted(ctx)
	if completedAt, ok := job.CompletedAt(); ok {
		o.metrics.ObserveJobDuration(ctx, completedAt.Sub(job.CreatedAt()))
	}

	findingCount := 0
	if findings, err := o.findingRepo.ListJobFindings(ctx, job.JobID()); err == nil {
		findingCount = len(findings)
	}

	o.logger.Info(ctx, "job completed",
		"job_id", job.JobID().String(),
		"study_instance_uid", job.StudyUID(),
		"num_findings", findingCount)

	o.closeStudy(ctx, job.StudyUID())

	if err := o.publisher.PublishDomainEvent(ctx, pipeline.NewJobCompletedEvent(job, findingCount), events.WithKey(job.StudyUID())); err != nil {
		o.logger.Error(ctx, "failed to publish job completed event", "job_id", job.JobID().String(), "error", err)
	}
}

// closeStudy moves the study from Ready to Closed. Losing the conditional
// write is benign: a new instance already reopened the study to Collecting.
func (o *Orchestrator) closeStudy(ctx context.Context, studyUID string) {
	now := time.Now().UTC()
	closed, err := o.studyRepo.UpdateStudyStatus(ctx, studyUID, imaging.StudyStatusReady, imaging.StudyStatusClosed, now)
	if err != nil {
		o.logger.Error(ctx, "failed to close study", "study_instance_uid", studyUID, "error", err)
		return
	}
	if !closed {
		o.logger.Debug(ctx, "study no longer ready, leaving state unchanged", "study_instance_uid", studyUID)
	}
}

// reclaimStaleJobs refreshes leases on abandoned in-flight jobs and feeds
// them back to the worker pool.
func (o *Orchestrator) reclaimStaleJobs(ctx context.Context) {
	now := time.Now().UTC()
	jobs, err := o.jobRepo.ReclaimStale(ctx, now, now.Add(o.leaseDuration))
	if err != nil {
		o.logger.Error(ctx, "failed to reclaim stale jobs", "error", err)
		return
	}

	for _, job := range jobs {
		o.metrics.IncJobsReclaimed(ctx)
		o.logger.Warn(ctx, "reclaimed stale job",
			"job_id", job.JobID().String(),
			"study_instance_uid", job.StudyUID(),
			"status", job.Status().String())
		o.queue.enqueue(ctx, job)
	}
}

func stageName(s pipeline.JobStatus) string {
	switch s {
	case pipeline.JobStatusAnalyzing:
		return "analysis"
	case pipeline.JobStatusReporting:
		return "reporting"
	case pipeline.JobStatusDelivering:
		return "delivery"
	default:
		return "queue"
	}
}
