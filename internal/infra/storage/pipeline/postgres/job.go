package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/pacsight/internal/db"
	"github.com/ahrav/pacsight/internal/domain/pipeline"
	"github.com/ahrav/pacsight/internal/infra/storage"
)

// jobStore implements pipeline.JobRepository using PostgreSQL as the backing
// store. Every stage transition is a single durable write so the pipeline can
// resume from persisted state after a full process restart.
var _ pipeline.JobRepository = (*jobStore)(nil)

type jobStore struct {
	q      *db.Queries
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewJobStore creates a new PostgreSQL-backed job repository with tracing
// capabilities.
func NewJobStore(pool *pgxpool.Pool, tracer trace.Tracer) *jobStore {
	return &jobStore{
		q:      db.New(pool),
		db:     pool,
		tracer: tracer,
	}
}

// defaultDBAttributes defines standard OpenTelemetry attributes for database operations.
var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

// CreateJob persists a new job. A partial unique index on the study keeps at
// most one non-terminal job per study; losing that race surfaces as
// ErrActiveJobExists with nothing written.
func (r *jobStore) CreateJob(ctx context.Context, job *pipeline.Job) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", job.JobID().String()),
		attribute.String("study_instance_uid", job.StudyUID()),
		attribute.String("status", string(job.Status())),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.create_job", dbAttrs, func(ctx context.Context) error {
		rowsAffected, err := r.q.CreateJob(ctx, db.CreateJobParams{
			JobID:            pgtype.UUID{Bytes: job.JobID(), Valid: true},
			StudyInstanceUid: job.StudyUID(),
			Status:           db.JobStatus(job.Status()),
			Attempts:         int32(job.Attempts()),
			LastError:        job.LastError(),
			CreatedAt:        pgtype.Timestamptz{Time: job.CreatedAt(), Valid: true},
		})
		if err != nil {
			return fmt.Errorf("CreateJob insert error: %w", err)
		}
		if rowsAffected == 0 {
			return pipeline.ErrActiveJobExists
		}

		return nil
	})
}

// UpdateJob persists a job's current state, attempt counter, error detail, and
// lease.
func (r *jobStore) UpdateJob(ctx context.Context, job *pipeline.Job) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", job.JobID().String()),
		attribute.String("status", string(job.Status())),
		attribute.Int("attempts", job.Attempts()),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.update_job", dbAttrs, func(ctx context.Context) error {
		rowsAffected, err := r.q.UpdateJob(ctx, updateJobParams(job))
		if err != nil {
			return fmt.Errorf("UpdateJob query error: %w", err)
		}
		if rowsAffected == 0 {
			return pipeline.ErrJobNotFound
		}

		return nil
	})
}

// ClaimQueued atomically transitions a job from Queued to Analyzing and sets
// the worker lease. It returns false when another worker got there first.
func (r *jobStore) ClaimQueued(ctx context.Context, job *pipeline.Job, leaseUntil time.Time) (bool, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", job.JobID().String()),
		attribute.String("lease_until", leaseUntil.Format(time.RFC3339)),
	)

	var claimed bool
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.claim_queued_job", dbAttrs, func(ctx context.Context) error {
		rowsAffected, err := r.q.ClaimQueuedJob(ctx, db.ClaimQueuedJobParams{
			JobID:          pgtype.UUID{Bytes: job.JobID(), Valid: true},
			LeaseExpiresAt: pgtype.Timestamptz{Time: leaseUntil, Valid: true},
			UpdatedAt:      pgtype.Timestamptz{Time: time.Now().UTC(), Valid: true},
		})
		if err != nil {
			return fmt.Errorf("ClaimQueuedJob query error: %w", err)
		}

		claimed = rowsAffected > 0
		if !claimed {
			trace.SpanFromContext(ctx).SetAttributes(attribute.Bool("claim_lost", true))
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	return claimed, nil
}

// ReclaimStale refreshes the lease on in-flight jobs whose lease expired at or
// before now and returns them for resumption.
func (r *jobStore) ReclaimStale(ctx context.Context, now time.Time, leaseUntil time.Time) ([]*pipeline.Job, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("cutoff", now.Format(time.RFC3339)),
	)

	var jobs []*pipeline.Job
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.reclaim_stale_jobs", dbAttrs, func(ctx context.Context) error {
		rows, err := r.q.ReclaimStaleJobs(ctx, db.ReclaimStaleJobsParams{
			LeaseExpiresAt:   pgtype.Timestamptz{Time: now, Valid: true},
			LeaseExpiresAt_2: pgtype.Timestamptz{Time: leaseUntil, Valid: true},
		})
		if err != nil {
			return fmt.Errorf("ReclaimStaleJobs query error: %w", err)
		}

		jobs = make([]*pipeline.Job, 0, len(rows))
		for _, row := range rows {
			jobs = append(jobs, jobFromRow(row))
		}

		span := trace.SpanFromContext(ctx)
		span.SetAttributes(attribute.Int("num_reclaimed", len(jobs)))
		return nil
	})
	if err != nil {
		return nil, err
	}

	return jobs, nil
}

// CompleteAnalysis persists the finding batch together with the job's
// Analyzing to Reporting transition in one transaction. A crash between the
// two writes could otherwise leave findings for a job that replays analysis.
func (r *jobStore) CompleteAnalysis(ctx context.Context, job *pipeline.Job, findings []pipeline.Finding) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", job.JobID().String()),
		attribute.Int("num_findings", len(findings)),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.complete_analysis", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		tx, err := r.db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction error: %w", err)
		}
		defer tx.Rollback(ctx)

		qtx := r.q.WithTx(tx)

		if len(findings) > 0 {
			rows := make([]db.BulkInsertFindingsParams, len(findings))
			for i, f := range findings {
				params, err := findingParams(f, i)
				if err != nil {
					return err
				}
				rows[i] = params
			}

			inserted, err := qtx.BulkInsertFindings(ctx, rows)
			if err != nil {
				return fmt.Errorf("bulk insert findings error: %w", err)
			}
			if inserted != int64(len(findings)) {
				return fmt.Errorf("bulk insert findings returned %d rows, expected %d", inserted, len(findings))
			}
		}

		rowsAffected, err := qtx.UpdateJob(ctx, updateJobParams(job))
		if err != nil {
			return fmt.Errorf("UpdateJob query error: %w", err)
		}
		if rowsAffected == 0 {
			return pipeline.ErrJobNotFound
		}

		return tx.Commit(ctx)
	})
}

// GetJob retrieves a job by its identifier.
func (r *jobStore) GetJob(ctx context.Context, jobID uuid.UUID) (*pipeline.Job, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", jobID.String()),
	)

	var job *pipeline.Job
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.get_job", dbAttrs, func(ctx context.Context) error {
		row, err := r.q.GetJob(ctx, pgtype.UUID{Bytes: jobID, Valid: true})
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return pipeline.ErrJobNotFound
			}
			return fmt.Errorf("GetJob query error: %w", err)
		}

		job = jobFromRow(row)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return job, nil
}

// ListQueued returns all jobs waiting in Queued, oldest first.
func (r *jobStore) ListQueued(ctx context.Context) ([]*pipeline.Job, error) {
	var jobs []*pipeline.Job
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.list_queued_jobs", defaultDBAttributes, func(ctx context.Context) error {
		rows, err := r.q.ListQueuedJobs(ctx)
		if err != nil {
			return fmt.Errorf("ListQueuedJobs query error: %w", err)
		}

		jobs = make([]*pipeline.Job, 0, len(rows))
		for _, row := range rows {
			jobs = append(jobs, jobFromRow(row))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return jobs, nil
}

// ListStudyJobs returns all jobs for a study, newest first.
func (r *jobStore) ListStudyJobs(ctx context.Context, studyUID string) ([]*pipeline.Job, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("study_instance_uid", studyUID),
	)

	var jobs []*pipeline.Job
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.list_study_jobs", dbAttrs, func(ctx context.Context) error {
		rows, err := r.q.ListStudyJobs(ctx, studyUID)
		if err != nil {
			return fmt.Errorf("ListStudyJobs query error: %w", err)
		}

		jobs = make([]*pipeline.Job, 0, len(rows))
		for _, row := range rows {
			jobs = append(jobs, jobFromRow(row))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return jobs, nil
}

// CountJobsByStatus returns the number of jobs in each state.
func (r *jobStore) CountJobsByStatus(ctx context.Context) (map[pipeline.JobStatus]int, error) {
	var counts map[pipeline.JobStatus]int
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.count_jobs_by_status", defaultDBAttributes, func(ctx context.Context) error {
		rows, err := r.q.CountJobsByStatus(ctx)
		if err != nil {
			return fmt.Errorf("CountJobsByStatus query error: %w", err)
		}

		counts = make(map[pipeline.JobStatus]int, len(rows))
		for _, row := range rows {
			counts[pipeline.JobStatus(row.Status)] = int(row.Count)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return counts, nil
}

// RecentFailures returns the most recent terminally failed jobs.
func (r *jobStore) RecentFailures(ctx context.Context, limit int) ([]*pipeline.Job, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.Int("limit", limit),
	)

	var jobs []*pipeline.Job
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.recent_failures", dbAttrs, func(ctx context.Context) error {
		rows, err := r.q.ListRecentFailures(ctx, int32(limit))
		if err != nil {
			return fmt.Errorf("ListRecentFailures query error: %w", err)
		}

		jobs = make([]*pipeline.Job, 0, len(rows))
		for _, row := range rows {
			jobs = append(jobs, jobFromRow(row))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return jobs, nil
}

func updateJobParams(job *pipeline.Job) db.UpdateJobParams {
	completedAt, hasCompletedAt := job.CompletedAt()
	lease := job.LeaseExpiresAt()

	return db.UpdateJobParams{
		JobID:          pgtype.UUID{Bytes: job.JobID(), Valid: true},
		Status:         db.JobStatus(job.Status()),
		Attempts:       int32(job.Attempts()),
		LastError:      job.LastError(),
		LeaseExpiresAt: pgtype.Timestamptz{Time: lease, Valid: !lease.IsZero()},
		UpdatedAt:      pgtype.Timestamptz{Time: job.UpdatedAt(), Valid: true},
		CompletedAt:    pgtype.Timestamptz{Time: completedAt, Valid: hasCompletedAt},
	}
}

func findingParams(f pipeline.Finding, ordinal int) (db.BulkInsertFindingsParams, error) {
	var measurements []byte
	if f.Measurements() != nil {
		raw, err := json.Marshal(f.Measurements())
		if err != nil {
			return db.BulkInsertFindingsParams{}, fmt.Errorf("marshal finding measurements: %w", err)
		}
		measurements = raw
	}

	loc := f.Location()
	return db.BulkInsertFindingsParams{
		FindingID:    pgtype.UUID{Bytes: f.FindingID(), Valid: true},
		JobID:        pgtype.UUID{Bytes: f.JobID(), Valid: true},
		Ordinal:      int32(ordinal),
		Category:     f.Category(),
		Confidence:   f.Confidence(),
		Severity:     db.FindingSeverity(f.Severity()),
		LocX:         int32(loc.X),
		LocY:         int32(loc.Y),
		LocZ:         int32(loc.Z),
		LocWidth:     int32(loc.Width),
		LocHeight:    int32(loc.Height),
		LocDepth:     int32(loc.Depth),
		Description:  f.Description(),
		Measurements: measurements,
	}, nil
}

func jobFromRow(row db.Job) *pipeline.Job {
	return pipeline.ReconstructJob(
		uuid.UUID(row.JobID.Bytes),
		row.StudyInstanceUid,
		pipeline.JobStatus(row.Status),
		int(row.Attempts),
		row.LastError,
		row.LeaseExpiresAt.Time,
		row.CreatedAt.Time,
		row.UpdatedAt.Time,
		row.CompletedAt.Time,
	)
}
