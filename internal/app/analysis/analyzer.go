package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/pacsight/internal/domain/imaging"
	"github.com/ahrav/pacsight/internal/domain/pipeline"
	"github.com/ahrav/pacsight/pkg/common/logger"
)

// Sentinel errors engines use to signal their failure mode.
var (
	// ErrEngineUnavailable means the engine process could not be reached.
	ErrEngineUnavailable = errors.New("analysis engine unavailable")

	// ErrInputRejected means the engine deemed the study input malformed.
	ErrInputRejected = errors.New("analysis engine rejected input")
)

// DefaultConfidenceThreshold drops findings the engine itself is unsure of.
const DefaultConfidenceThreshold = 0.8

var _ pipeline.Analyzer = (*Analyzer)(nil)

// Analyzer implements pipeline.Analyzer: it loads a study's instances in their
// stable order, submits them to the engine under a timeout, and converts the
// raw output into validated domain findings.
type Analyzer struct {
	instanceRepo imaging.InstanceRepository
	engine       Engine

	timeout             time.Duration
	confidenceThreshold float64

	logger *logger.Logger
	tracer trace.Tracer
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithConfidenceThreshold overrides the minimum confidence a raw finding
// needs before it is kept.
func WithConfidenceThreshold(threshold float64) Option {
	return func(a *Analyzer) { a.confidenceThreshold = threshold }
}

// NewAnalyzer creates an analyzer around the given engine.
func NewAnalyzer(
	instanceRepo imaging.InstanceRepository,
	engine Engine,
	timeout time.Duration,
	log *logger.Logger,
	tracer trace.Tracer,
	opts ...Option,
) *Analyzer {
	a := &Analyzer{
		instanceRepo:        instanceRepo,
		engine:              engine,
		timeout:             timeout,
		confidenceThreshold: DefaultConfidenceThreshold,
		logger:              log.With("component", "analyzer"),
		tracer:              tracer,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AnalyzeStudy scores the job's study. Failures come back as StageErrors so
// the orchestrator can apply the retry policy without inspecting causes.
func (a *Analyzer) AnalyzeStudy(ctx context.Context, job *pipeline.Job) ([]pipeline.Finding, error) {
	ctx, span := a.tracer.Start(ctx, "analyzer.analyze_study",
		trace.WithAttributes(
			attribute.String("job_id", job.JobID().String()),
			attribute.String("study_instance_uid", job.StudyUID()),
		))
	defer span.End()

	instances, err := a.instanceRepo.ListStudyInstances(ctx, job.StudyUID())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, pipeline.NewStageError(pipeline.ErrKindTransport, fmt.Errorf("loading study instances: %w", err))
	}
	if len(instances) == 0 {
		err := fmt.Errorf("study %s has no instances", job.StudyUID())
		span.RecordError(err)
		return nil, pipeline.NewStageError(pipeline.ErrKindEngineRejected, err)
	}
	span.SetAttributes(attribute.Int("num_instances", len(instances)))

	req := ScoreRequest{
		StudyInstanceUID: job.StudyUID(),
		Modality:         instances[0].Modality().String(),
		Instances:        make([]InstanceRef, len(instances)),
	}
	for i, inst := range instances {
		req.Instances[i] = InstanceRef{
			SOPInstanceUID: inst.SOPInstanceUID(),
			PayloadPath:    inst.PayloadPath(),
		}
	}

	scoreCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	span.AddEvent("engine_scoring_started")
	raw, err := a.engine.ScoreStudy(scoreCtx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, classifyEngineError(err)
	}
	span.AddEvent("engine_scoring_completed", trace.WithAttributes(
		attribute.Int("num_raw_findings", len(raw)),
	))

	findings := make([]pipeline.Finding, 0, len(raw))
	for _, rf := range raw {
		if rf.Confidence < a.confidenceThreshold {
			continue
		}

		severity := pipeline.ParseSeverity(rf.Severity)
		if severity == "" {
			severity = pipeline.SeverityLow
		}

		f, err := pipeline.NewFinding(
			job.JobID(),
			rf.Category,
			rf.Confidence,
			pipeline.Location{X: rf.X, Y: rf.Y, Z: rf.Z, Width: rf.Width, Height: rf.Height, Depth: rf.Depth},
			severity,
			rf.Description,
			rf.Measurements,
		)
		if err != nil {
			// Out-of-range output is an engine defect, not a transient fault.
			span.RecordError(err)
			return nil, pipeline.NewStageError(pipeline.ErrKindEngineRejected, fmt.Errorf("engine produced invalid finding: %w", err))
		}
		findings = append(findings, f)
	}

	span.SetAttributes(attribute.Int("num_findings", len(findings)))
	a.logger.Info(ctx, "study analyzed",
		"job_id", job.JobID().String(),
		"study_instance_uid", job.StudyUID(),
		"num_findings", len(findings),
		"num_below_threshold", len(raw)-len(findings))
	return findings, nil
}

func classifyEngineError(err error) *pipeline.StageError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return pipeline.NewStageError(pipeline.ErrKindEngineTimeout, err)
	case errors.Is(err, ErrInputRejected):
		return pipeline.NewStageError(pipeline.ErrKindEngineRejected, err)
	case errors.Is(err, ErrEngineUnavailable):
		return pipeline.NewStageError(pipeline.ErrKindEngineUnavailable, err)
	default:
		return pipeline.NewStageError(pipeline.ErrKindEngineUnavailable, err)
	}
}
