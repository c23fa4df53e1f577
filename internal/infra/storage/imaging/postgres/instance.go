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

// instanceStore implements imaging.InstanceRepository using PostgreSQL as the
// backing store. Recording an instance and refreshing its owning study happen
// in one transaction so the assembly view can never observe an instance
// without its study row.
var _ imaging.InstanceRepository = (*instanceStore)(nil)

type instanceStore struct {
	q      *db.Queries
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewInstanceStore creates a new PostgreSQL-backed instance repository with
// tracing capabilities.
func NewInstanceStore(pool *pgxpool.Pool, tracer trace.Tracer) *instanceStore {
	return &instanceStore{
		q:      db.New(pool),
		db:     pool,
		tracer: tracer,
	}
}

// defaultDBAttributes defines standard OpenTelemetry attributes for database operations.
var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

// RecordInstance persists a received instance and upserts its study record in
// the same transaction. Replayed instances are detected by the primary key
// and leave both tables untouched.
func (r *instanceStore) RecordInstance(ctx context.Context, instance imaging.Instance) (bool, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("sop_instance_uid", instance.SOPInstanceUID()),
		attribute.String("study_instance_uid", instance.StudyInstanceUID()),
		attribute.String("modality", instance.Modality().String()),
	)

	var created bool
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.record_instance", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		tx, err := r.db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction error: %w", err)
		}
		defer tx.Rollback(ctx)

		qtx := r.q.WithTx(tx)

		// The study row must exist before the instance insert: the foreign
		// key on instances.study_instance_uid is checked per statement.
		err = qtx.EnsureStudy(ctx, db.EnsureStudyParams{
			StudyInstanceUid: instance.StudyInstanceUID(),
			PatientID:        instance.PatientID(),
			Modality:         db.Modality(instance.Modality()),
			LastInstanceAt:   pgtype.Timestamptz{Time: instance.ReceivedAt(), Valid: true},
		})
		if err != nil {
			return fmt.Errorf("EnsureStudy error: %w", err)
		}

		rowsAffected, err := qtx.CreateInstance(ctx, db.CreateInstanceParams{
			SopInstanceUid:    instance.SOPInstanceUID(),
			SeriesInstanceUid: instance.SeriesInstanceUID(),
			StudyInstanceUid:  instance.StudyInstanceUID(),
			PatientID:         instance.PatientID(),
			Modality:          db.Modality(instance.Modality()),
			PayloadPath:       instance.PayloadPath(),
			SizeBytes:         instance.SizeBytes(),
			ReceivedAt:        pgtype.Timestamptz{Time: instance.ReceivedAt(), Valid: true},
		})
		if err != nil {
			return fmt.Errorf("CreateInstance insert error: %w", err)
		}

		// A replayed instance identifier must not grow the count or reset the
		// study's idle window.
		if rowsAffected == 0 {
			created = false
			return tx.Commit(ctx)
		}

		err = qtx.BumpStudyOnInstance(ctx, db.BumpStudyOnInstanceParams{
			StudyInstanceUid: instance.StudyInstanceUID(),
			LastInstanceAt:   pgtype.Timestamptz{Time: instance.ReceivedAt(), Valid: true},
		})
		if err != nil {
			return fmt.Errorf("BumpStudyOnInstance error: %w", err)
		}

		created = true
		return tx.Commit(ctx)
	})
	if err != nil {
		return false, err
	}

	return created, nil
}

// GetInstance retrieves a single instance by its identifier.
func (r *instanceStore) GetInstance(ctx context.Context, sopInstanceUID string) (imaging.Instance, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("sop_instance_uid", sopInstanceUID),
	)

	var instance imaging.Instance
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.get_instance", dbAttrs, func(ctx context.Context) error {
		row, err := r.q.GetInstance(ctx, sopInstanceUID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("instance not found: %s", sopInstanceUID)
			}
			return fmt.Errorf("GetInstance query error: %w", err)
		}

		instance = instanceFromRow(row)
		return nil
	})
	if err != nil {
		return imaging.Instance{}, err
	}

	return instance, nil
}

// ListStudyInstances returns a study's instances ordered by receipt time then
// identifier.
func (r *instanceStore) ListStudyInstances(ctx context.Context, studyInstanceUID string) ([]imaging.Instance, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("study_instance_uid", studyInstanceUID),
	)

	var instances []imaging.Instance
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.list_study_instances", dbAttrs, func(ctx context.Context) error {
		rows, err := r.q.ListStudyInstances(ctx, studyInstanceUID)
		if err != nil {
			return fmt.Errorf("ListStudyInstances query error: %w", err)
		}

		instances = make([]imaging.Instance, 0, len(rows))
		for _, row := range rows {
			instances = append(instances, instanceFromRow(row))
		}

		span := trace.SpanFromContext(ctx)
		span.SetAttributes(attribute.Int("num_instances", len(instances)))
		return nil
	})
	if err != nil {
		return nil, err
	}

	return instances, nil
}

func instanceFromRow(row db.Instance) imaging.Instance {
	return imaging.ReconstructInstance(
		row.SopInstanceUid,
		row.SeriesInstanceUid,
		row.StudyInstanceUid,
		row.PatientID,
		imaging.Modality(row.Modality),
		row.PayloadPath,
		row.SizeBytes,
		row.ReceivedAt.Time,
	)
}
