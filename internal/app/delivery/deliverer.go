// Package delivery transmits finished report artifacts to the originating
// archive and classifies transmission failures for the retry policy.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/pacsight/internal/domain/pipeline"
	"github.com/ahrav/pacsight/pkg/common/logger"
)

// ErrArchiveRejected signals the archive permanently refused the artifact.
// Archive clients wrap this sentinel so the deliverer can tell a refusal
// apart from a transient transport fault.
var ErrArchiveRejected = errors.New("archive rejected report")

// DefaultSendTimeout bounds a single store attempt against the archive.
const DefaultSendTimeout = 30 * time.Second

// ArchiveClient sends a report payload to the archive. The returned response
// is the archive's raw reply text and is surfaced even when err is non-nil so
// the outcome can be recorded verbatim.
type ArchiveClient interface {
	StoreReport(ctx context.Context, studyUID, format string, payload []byte) (response string, err error)
}

var _ pipeline.ReportDeliverer = (*Deliverer)(nil)

// Deliverer implements pipeline.ReportDeliverer on top of an archive client.
// It only classifies outcomes; whether a failed send is retried is the
// orchestrator's decision.
type Deliverer struct {
	client      ArchiveClient
	sendTimeout time.Duration

	logger *logger.Logger
	tracer trace.Tracer
}

// NewDeliverer creates a Deliverer. A non-positive sendTimeout falls back to
// DefaultSendTimeout.
func NewDeliverer(client ArchiveClient, sendTimeout time.Duration, log *logger.Logger, tracer trace.Tracer) *Deliverer {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Deliverer{
		client:      client,
		sendTimeout: sendTimeout,
		logger:      log.With("component", "report_deliverer"),
		tracer:      tracer,
	}
}

// DeliverReport reads the serialized artifact and sends it to the archive.
// The archive's raw response is returned on success and on failure alike.
func (d *Deliverer) DeliverReport(ctx context.Context, job *pipeline.Job, report *pipeline.Report) (string, error) {
	ctx, span := d.tracer.Start(ctx, "report_deliverer.deliver_report",
		trace.WithAttributes(
			attribute.String("job_id", job.JobID().String()),
			attribute.String("report_id", report.ReportID().String()),
			attribute.String("format", report.Format()),
		))
	defer span.End()

	payload, err := os.ReadFile(report.PayloadPath())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", pipeline.NewStageError(pipeline.ErrKindTransport, fmt.Errorf("read report artifact: %w", err))
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	response, err := d.client.StoreReport(sendCtx, job.StudyUID(), report.Format(), payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return response, classifyDeliveryError(err)
	}

	span.AddEvent("report_delivered", trace.WithAttributes(
		attribute.Int("payload_bytes", len(payload)),
	))
	d.logger.Info(ctx, "report delivered",
		"job_id", job.JobID().String(),
		"report_id", report.ReportID().String(),
		"study_instance_uid", job.StudyUID())
	return response, nil
}

// classifyDeliveryError maps archive client failures onto the stage error
// taxonomy. Only an explicit refusal is terminal; everything else is assumed
// transient.
func classifyDeliveryError(err error) *pipeline.StageError {
	if errors.Is(err, ErrArchiveRejected) {
		return pipeline.NewStageError(pipeline.ErrKindArchiveRejected, err)
	}
	return pipeline.NewStageError(pipeline.ErrKindTransport, err)
}
