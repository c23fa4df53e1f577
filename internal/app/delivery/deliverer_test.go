package delivery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/pacsight/internal/domain/pipeline"
	"github.com/ahrav/pacsight/internal/infra/storage"
	"github.com/ahrav/pacsight/pkg/common/logger"
)

type mockArchiveClient struct{ mock.Mock }

func (m *mockArchiveClient) StoreReport(ctx context.Context, studyUID, format string, payload []byte) (string, error) {
	args := m.Called(ctx, studyUID, format, payload)
	return args.String(0), args.Error(1)
}

func setupDelivererTest(t *testing.T, client ArchiveClient) (*Deliverer, *pipeline.Job, *pipeline.Report) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"resource":"StructuredReport"}`), 0o644))

	job := pipeline.NewJob("1.2.840.113619.2.55.3", time.Now().UTC())
	report := pipeline.NewReport(job.JobID(), "sr-json", path, time.Now().UTC())

	log := logger.New(os.Stderr, logger.LevelError, "deliverer-test", nil)
	return NewDeliverer(client, time.Second, log, storage.NoOpTracer()), job, report
}

func TestDeliverReportSendsPayload(t *testing.T) {
	t.Parallel()

	client := new(mockArchiveClient)
	deliverer, job, report := setupDelivererTest(t, client)

	client.On("StoreReport", mock.Anything, job.StudyUID(), "sr-json",
		[]byte(`{"resource":"StructuredReport"}`)).
		Return("HTTP/1.1 200 OK: report stored", nil)

	resp, err := deliverer.DeliverReport(context.Background(), job, report)
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK: report stored", resp)
	client.AssertExpectations(t)
}

func TestDeliverReportClassifiesRejection(t *testing.T) {
	t.Parallel()

	client := new(mockArchiveClient)
	deliverer, job, report := setupDelivererTest(t, client)

	client.On("StoreReport", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("HTTP/1.1 422 Unprocessable Entity", fmt.Errorf("store report: %w", ErrArchiveRejected))

	resp, err := deliverer.DeliverReport(context.Background(), job, report)
	require.Error(t, err)

	// The raw response still comes back so it can be recorded for audit.
	assert.Equal(t, "HTTP/1.1 422 Unprocessable Entity", resp)

	stageErr := pipeline.AsStageError(err)
	assert.Equal(t, pipeline.ErrKindArchiveRejected, stageErr.Kind)
	assert.False(t, stageErr.Retryable())
}

func TestDeliverReportClassifiesTransportFault(t *testing.T) {
	t.Parallel()

	client := new(mockArchiveClient)
	deliverer, job, report := setupDelivererTest(t, client)

	client.On("StoreReport", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("dial tcp 10.0.0.9:11111: connection refused"))

	_, err := deliverer.DeliverReport(context.Background(), job, report)
	require.Error(t, err)

	stageErr := pipeline.AsStageError(err)
	assert.Equal(t, pipeline.ErrKindTransport, stageErr.Kind)
	assert.True(t, stageErr.Retryable())
}

func TestDeliverReportMissingArtifact(t *testing.T) {
	t.Parallel()

	client := new(mockArchiveClient)
	deliverer, job, report := setupDelivererTest(t, client)
	require.NoError(t, os.Remove(report.PayloadPath()))

	_, err := deliverer.DeliverReport(context.Background(), job, report)
	require.Error(t, err)
	assert.Equal(t, pipeline.ErrKindTransport, pipeline.AsStageError(err).Kind)
	client.AssertNotCalled(t, "StoreReport", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
