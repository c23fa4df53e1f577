package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/pacsight/internal/db"
	"github.com/ahrav/pacsight/internal/domain/imaging"
	"github.com/ahrav/pacsight/internal/infra/storage"
)

// studyStore implements imaging.StudyRepository using PostgreSQL as the
// backing store. Status writes are conditional on the expected current state
// so concurrent assemblers cannot double-promote a study.
var _ imaging.StudyRepository = (*studyStore)(nil)

type studyStore struct {
	q      *db.Queries
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewStudyStore creates a new PostgreSQL-backed study repository with tracing
// capabilities.
func NewStudyStore(pool *pgxpool.Pool, tracer trace.Tracer) *studyStore {
	return &studyStore{
		q:      db.New(pool),
		db:     pool,
		tracer: tracer,
	}
}

// GetStudy retrieves a study by its identifier.
func (r *studyStore) GetStudy(ctx context.Context, studyInstanceUID string) (*imaging.Study, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("study_instance_uid", studyInstanceUID),
	)

	var study *imaging.Study
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.get_study", dbAttrs, func(ctx context.Context) error {
		row, err := r.q.GetStudy(ctx, studyInstanceUID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return imaging.ErrStudyNotFound
			}
			return fmt.Errorf("GetStudy query error: %w", err)
		}

		study = studyFromRow(row)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return study, nil
}

// UpdateStudyStatus persists a study's state transition. It returns false when
// the study was no longer in the expected state and nothing was written.
func (r *studyStore) UpdateStudyStatus(
	ctx context.Context,
	studyInstanceUID string,
	from, to imaging.StudyStatus,
	now time.Time,
) (bool, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("study_instance_uid", studyInstanceUID),
		attribute.String("from_status", string(from)),
		attribute.String("to_status", string(to)),
	)

	var updated bool
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.update_study_status", dbAttrs, func(ctx context.Context) error {
		rowsAffected, err := r.q.UpdateStudyStatus(ctx, db.UpdateStudyStatusParams{
			StudyInstanceUid: studyInstanceUID,
			Status:           db.StudyStatus(from),
			Status_2:         db.StudyStatus(to),
			UpdatedAt:        pgtype.Timestamptz{Time: now, Valid: true},
		})
		if err != nil {
			return fmt.Errorf("UpdateStudyStatus query error: %w", err)
		}

		updated = rowsAffected > 0
		if !updated {
			trace.SpanFromContext(ctx).SetAttributes(attribute.Bool("status_conflict", true))
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	return updated, nil
}

// FindIdleStudies returns Collecting studies whose last instance arrived at or
// before the cutoff.
func (r *studyStore) FindIdleStudies(ctx context.Context, cutoff time.Time) ([]*imaging.Study, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("cutoff", cutoff.Format(time.RFC3339)),
	)

	var studies []*imaging.Study
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.find_idle_studies", dbAttrs, func(ctx context.Context) error {
		rows, err := r.q.FindIdleStudies(ctx, pgtype.Timestamptz{Time: cutoff, Valid: true})
		if err != nil {
			return fmt.Errorf("FindIdleStudies query error: %w", err)
		}

		studies = make([]*imaging.Study, 0, len(rows))
		for _, row := range rows {
			studies = append(studies, studyFromRow(row))
		}

		span := trace.SpanFromContext(ctx)
		span.SetAttributes(attribute.Int("num_studies", len(studies)))
		return nil
	})
	if err != nil {
		return nil, err
	}

	return studies, nil
}

// FindUnprocessedReadyStudies returns Ready studies with no non-terminal job.
func (r *studyStore) FindUnprocessedReadyStudies(ctx context.Context) ([]*imaging.Study, error) {
	var studies []*imaging.Study
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.find_unprocessed_ready_studies", defaultDBAttributes, func(ctx context.Context) error {
		rows, err := r.q.FindUnprocessedReadyStudies(ctx)
		if err != nil {
			return fmt.Errorf("FindUnprocessedReadyStudies query error: %w", err)
		}

		studies = make([]*imaging.Study, 0, len(rows))
		for _, row := range rows {
			studies = append(studies, studyFromRow(row))
		}

		span := trace.SpanFromContext(ctx)
		span.SetAttributes(attribute.Int("num_studies", len(studies)))
		return nil
	})
	if err != nil {
		return nil, err
	}

	return studies, nil
}

func studyFromRow(row db.Study) *imaging.Study {
	return imaging.ReconstructStudy(
		row.StudyInstanceUid,
		row.PatientID,
		imaging.Modality(row.Modality),
		imaging.StudyStatus(row.Status),
		int(row.InstanceCount),
		row.LastInstanceAt.Time,
		row.CreatedAt.Time,
		row.UpdatedAt.Time,
	)
}
