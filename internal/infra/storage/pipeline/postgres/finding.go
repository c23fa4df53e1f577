package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/pacsight/internal/db"
	"github.com/ahrav/pacsight/internal/domain/pipeline"
	"github.com/ahrav/pacsight/internal/infra/storage"
)

// findingStore implements pipeline.FindingRepository using PostgreSQL as the
// backing store. It is read-only: finding batches are written through the job
// store so they stay atomic with the job transition.
var _ pipeline.FindingRepository = (*findingStore)(nil)

type findingStore struct {
	q      *db.Queries
	tracer trace.Tracer
}

// NewFindingStore creates a new PostgreSQL-backed finding repository with
// tracing capabilities.
func NewFindingStore(pool *pgxpool.Pool, tracer trace.Tracer) *findingStore {
	return &findingStore{
		q:      db.New(pool),
		tracer: tracer,
	}
}

// ListJobFindings returns a job's findings in creation order.
func (r *findingStore) ListJobFindings(ctx context.Context, jobID uuid.UUID) ([]pipeline.Finding, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", jobID.String()),
	)

	var findings []pipeline.Finding
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.list_job_findings", dbAttrs, func(ctx context.Context) error {
		rows, err := r.q.ListJobFindings(ctx, pgtype.UUID{Bytes: jobID, Valid: true})
		if err != nil {
			return fmt.Errorf("ListJobFindings query error: %w", err)
		}

		findings = make([]pipeline.Finding, 0, len(rows))
		for _, row := range rows {
			f, err := findingFromRow(row)
			if err != nil {
				return err
			}
			findings = append(findings, f)
		}

		span := trace.SpanFromContext(ctx)
		span.SetAttributes(attribute.Int("num_findings", len(findings)))
		return nil
	})
	if err != nil {
		return nil, err
	}

	return findings, nil
}

func findingFromRow(row db.Finding) (pipeline.Finding, error) {
	var measurements map[string]any
	if len(row.Measurements) > 0 {
		if err := json.Unmarshal(row.Measurements, &measurements); err != nil {
			return pipeline.Finding{}, fmt.Errorf("unmarshal finding measurements: %w", err)
		}
	}

	return pipeline.ReconstructFinding(
		uuid.UUID(row.FindingID.Bytes),
		uuid.UUID(row.JobID.Bytes),
		row.Category,
		row.Confidence,
		pipeline.Location{
			X:      int(row.LocX),
			Y:      int(row.LocY),
			Z:      int(row.LocZ),
			Width:  int(row.LocWidth),
			Height: int(row.LocHeight),
			Depth:  int(row.LocDepth),
		},
		pipeline.Severity(row.Severity),
		row.Description,
		measurements,
	), nil
}
