package postgres

import (
	"context"
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

// reportStore implements pipeline.ReportRepository using PostgreSQL as the
// backing store. Report writes are transactional with the owning job's state
// so a report row can never exist for a job that did not reach its stage.
var _ pipeline.ReportRepository = (*reportStore)(nil)

type reportStore struct {
	q      *db.Queries
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewReportStore creates a new PostgreSQL-backed report repository with
// tracing capabilities.
func NewReportStore(pool *pgxpool.Pool, tracer trace.Tracer) *reportStore {
	return &reportStore{
		q:      db.New(pool),
		db:     pool,
		tracer: tracer,
	}
}

// SaveReport persists a freshly built report together with the job's
// Reporting to Delivering transition in one transaction.
func (r *reportStore) SaveReport(ctx context.Context, report *pipeline.Report, job *pipeline.Job) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("report_id", report.ReportID().String()),
		attribute.String("job_id", job.JobID().String()),
		attribute.String("format", report.Format()),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.save_report", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		tx, err := r.db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction error: %w", err)
		}
		defer tx.Rollback(ctx)

		qtx := r.q.WithTx(tx)

		err = qtx.CreateReport(ctx, db.CreateReportParams{
			ReportID:        pgtype.UUID{Bytes: report.ReportID(), Valid: true},
			JobID:           pgtype.UUID{Bytes: report.JobID(), Valid: true},
			Format:          report.Format(),
			PayloadPath:     report.PayloadPath(),
			Status:          db.ReportStatus(report.Status()),
			ArchiveResponse: report.ArchiveResponse(),
			CreatedAt:       pgtype.Timestamptz{Time: report.CreatedAt(), Valid: true},
		})
		if err != nil {
			return fmt.Errorf("CreateReport insert error: %w", err)
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

// UpdateReportDelivery persists a delivery outcome together with the job's
// state in one transaction.
func (r *reportStore) UpdateReportDelivery(ctx context.Context, report *pipeline.Report, job *pipeline.Job) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("report_id", report.ReportID().String()),
		attribute.String("job_id", job.JobID().String()),
		attribute.String("report_status", string(report.Status())),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.update_report_delivery", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		tx, err := r.db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction error: %w", err)
		}
		defer tx.Rollback(ctx)

		qtx := r.q.WithTx(tx)

		sentAt := report.SentAt()
		rowsAffected, err := qtx.UpdateReportDelivery(ctx, db.UpdateReportDeliveryParams{
			ReportID:        pgtype.UUID{Bytes: report.ReportID(), Valid: true},
			Status:          db.ReportStatus(report.Status()),
			ArchiveResponse: report.ArchiveResponse(),
			SentAt:          pgtype.Timestamptz{Time: sentAt, Valid: !sentAt.IsZero()},
		})
		if err != nil {
			return fmt.Errorf("UpdateReportDelivery query error: %w", err)
		}
		if rowsAffected == 0 {
			return pipeline.ErrReportNotFound
		}

		rowsAffected, err = qtx.UpdateJob(ctx, updateJobParams(job))
		if err != nil {
			return fmt.Errorf("UpdateJob query error: %w", err)
		}
		if rowsAffected == 0 {
			return pipeline.ErrJobNotFound
		}

		return tx.Commit(ctx)
	})
}

// GetJobReport retrieves the report generated for a job.
func (r *reportStore) GetJobReport(ctx context.Context, jobID uuid.UUID) (*pipeline.Report, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", jobID.String()),
	)

	var report *pipeline.Report
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.get_job_report", dbAttrs, func(ctx context.Context) error {
		row, err := r.q.GetJobReport(ctx, pgtype.UUID{Bytes: jobID, Valid: true})
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return pipeline.ErrReportNotFound
			}
			return fmt.Errorf("GetJobReport query error: %w", err)
		}

		report = pipeline.ReconstructReport(
			uuid.UUID(row.ReportID.Bytes),
			uuid.UUID(row.JobID.Bytes),
			row.Format,
			row.PayloadPath,
			pipeline.ReportStatus(row.Status),
			row.ArchiveResponse,
			row.SentAt.Time,
			row.CreatedAt.Time,
		)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return report, nil
}
