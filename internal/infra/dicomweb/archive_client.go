package dicomweb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/pacsight/internal/app/delivery"
	"github.com/ahrav/pacsight/internal/config"
	"github.com/ahrav/pacsight/pkg/common/logger"
)

// maxResponseBytes caps how much of the archive's reply is recorded.
const maxResponseBytes = 4 << 10

var _ delivery.ArchiveClient = (*ArchiveClient)(nil)

// ArchiveClient stores finished reports to the originating archive over HTTP.
// Status codes decide classification: 2xx is acceptance, 4xx a permanent
// refusal, everything else a transient transport fault.
type ArchiveClient struct {
	cfg     config.ArchiveConfig
	aeTitle string
	client  *http.Client

	logger *logger.Logger
	tracer trace.Tracer
}

// NewArchiveClient creates a client for the configured archive. aeTitle is
// the calling node's title, sent with every request.
func NewArchiveClient(cfg config.ArchiveConfig, aeTitle string, log *logger.Logger, tracer trace.Tracer) *ArchiveClient {
	return &ArchiveClient{
		cfg:     cfg,
		aeTitle: aeTitle,
		client:  &http.Client{Timeout: cfg.SendTimeout},
		logger:  log.With("component", "archive_client"),
		tracer:  tracer,
	}
}

// StoreReport posts a report payload for a study. The returned response text
// is the archive's status line plus a body excerpt, surfaced on failure too
// so the outcome can be recorded verbatim.
func (c *ArchiveClient) StoreReport(ctx context.Context, studyUID, format string, payload []byte) (string, error) {
	ctx, span := c.tracer.Start(ctx, "archive_client.store_report",
		trace.WithAttributes(
			attribute.String("study_instance_uid", studyUID),
			attribute.String("called_ae_title", c.cfg.AETitle),
			attribute.Int("payload_bytes", len(payload)),
		))
	defer span.End()

	url := fmt.Sprintf("http://%s:%d/studies/%s/reports", c.cfg.Host, c.cfg.Port, studyUID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building archive request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Report-Format", format)
	req.Header.Set("X-Calling-AE-Title", c.aeTitle)
	req.Header.Set("X-Called-AE-Title", c.cfg.AETitle)

	resp, err := c.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("sending report to archive: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	response := resp.Status
	if excerpt := strings.TrimSpace(string(body)); excerpt != "" {
		response = fmt.Sprintf("%s: %s", resp.Status, excerpt)
	}

	span.SetAttributes(attribute.Int("status_code", resp.StatusCode))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return response, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		span.SetStatus(codes.Error, response)
		return response, fmt.Errorf("archive refused report (%s): %w", resp.Status, delivery.ErrArchiveRejected)
	default:
		span.SetStatus(codes.Error, response)
		return response, fmt.Errorf("archive returned %s", resp.Status)
	}
}
