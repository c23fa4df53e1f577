// Package reporting turns a job's finding batch into a structured report
// artifact ready for delivery to the originating archive.
package reporting

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/pacsight/internal/domain/pipeline"
	"github.com/ahrav/pacsight/pkg/common/logger"
)

const (
	// FormatSRJSON tags the structured-report JSON rendition.
	FormatSRJSON = "sr-json"

	// TemplateVersion is embedded in every artifact; bumping it changes the
	// document shape, so identical findings plus an identical version always
	// serialize to an identical document.
	TemplateVersion = "1.2"
)

// document is the serialized report shape. It deliberately excludes wall
// clock fields so a rebuilt report for the same findings is byte-identical.
type document struct {
	Resource         string            `json:"resource"`
	TemplateVersion  string            `json:"template_version"`
	JobID            string            `json:"job_id"`
	StudyInstanceUID string            `json:"study_instance_uid"`
	Summary          summary           `json:"summary"`
	Findings         []documentFinding `json:"findings"`
}

type summary struct {
	FindingCount      int     `json:"finding_count"`
	OverallConfidence float64 `json:"overall_confidence"`
	Impression        string  `json:"impression"`
}

type documentFinding struct {
	Category     string            `json:"category"`
	Confidence   float64           `json:"confidence"`
	Severity     string            `json:"severity"`
	Location     pipeline.Location `json:"location"`
	Description  string            `json:"description,omitempty"`
	Measurements map[string]any    `json:"measurements,omitempty"`
}

var _ pipeline.ReportBuilder = (*Builder)(nil)

// Builder implements pipeline.ReportBuilder by rendering findings into an
// sr-json artifact on disk. Building is deterministic and never retried:
// any failure is a template defect and therefore terminal.
type Builder struct {
	reportsDir string

	logger *logger.Logger
	tracer trace.Tracer
}

// NewBuilder creates a builder writing artifacts under reportsDir.
func NewBuilder(reportsDir string, log *logger.Logger, tracer trace.Tracer) *Builder {
	return &Builder{
		reportsDir: reportsDir,
		logger:     log.With("component", "report_builder"),
		tracer:     tracer,
	}
}

// BuildReport renders the findings and returns a pending report artifact.
func (b *Builder) BuildReport(ctx context.Context, job *pipeline.Job, findings []pipeline.Finding) (*pipeline.Report, error) {
	ctx, span := b.tracer.Start(ctx, "report_builder.build_report",
		trace.WithAttributes(
			attribute.String("job_id", job.JobID().String()),
			attribute.String("study_instance_uid", job.StudyUID()),
			attribute.Int("num_findings", len(findings)),
		))
	defer span.End()

	doc := document{
		Resource:         "StructuredReport",
		TemplateVersion:  TemplateVersion,
		JobID:            job.JobID().String(),
		StudyInstanceUID: job.StudyUID(),
		Summary: summary{
			FindingCount:      len(findings),
			OverallConfidence: pipeline.OverallConfidence(findings),
			Impression:        impression(findings),
		},
		Findings: make([]documentFinding, 0, len(findings)),
	}

	for _, f := range findings {
		doc.Findings = append(doc.Findings, documentFinding{
			Category:     f.Category(),
			Confidence:   f.Confidence(),
			Severity:     f.Severity().String(),
			Location:     f.Location(),
			Description:  f.Description(),
			Measurements: f.Measurements(),
		})
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, pipeline.NewStageError(pipeline.ErrKindTemplate, fmt.Errorf("marshal report document: %w", err))
	}

	path := filepath.Join(b.reportsDir, job.JobID().String()+".json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, pipeline.NewStageError(pipeline.ErrKindTemplate, fmt.Errorf("write report artifact: %w", err))
	}

	report := pipeline.NewReport(job.JobID(), FormatSRJSON, path, time.Now().UTC())
	span.AddEvent("report_built", trace.WithAttributes(
		attribute.String("report_id", report.ReportID().String()),
		attribute.Int("size_bytes", len(raw)),
	))
	b.logger.Info(ctx, "report built",
		"job_id", job.JobID().String(),
		"report_id", report.ReportID().String(),
		"num_findings", len(findings))
	return report, nil
}

func impression(findings []pipeline.Finding) string {
	if len(findings) == 0 {
		return "No abnormality detected above the reporting threshold."
	}

	high := 0
	for _, f := range findings {
		if f.Severity() == pipeline.SeverityHigh {
			high++
		}
	}
	if high > 0 {
		return fmt.Sprintf("%d finding(s), %d high severity. Radiologist review advised.", len(findings), high)
	}
	return fmt.Sprintf("%d finding(s) detected. Routine review recommended.", len(findings))
}
