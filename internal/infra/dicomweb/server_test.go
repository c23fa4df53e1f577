package dicomweb

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/pacsight/internal/app/receiving"
	"github.com/ahrav/pacsight/internal/config"
	"github.com/ahrav/pacsight/internal/infra/storage"
	"github.com/ahrav/pacsight/pkg/common/logger"
)

type mockReceiver struct{ mock.Mock }

func (m *mockReceiver) ReceiveInstance(ctx context.Context, cmd receiving.ReceiveInstanceCommand) (bool, error) {
	args := m.Called(ctx, cmd)
	return args.Bool(0), args.Error(1)
}

func setupTransferTest(t *testing.T, cfg config.ServerConfig) (*Server, *mockReceiver, string) {
	t.Helper()

	receiver := new(mockReceiver)
	storageDir := t.TempDir()
	log := logger.New(os.Stderr, logger.LevelError, "transfer-test", nil)
	return NewServer(cfg, storageDir, receiver, log, storage.NoOpTracer()), receiver, storageDir
}

func uploadRequest(t *testing.T, studyUID, metadata string, payload []byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("metadata", metadata))
	part, err := mw.CreateFormFile("payload", "instance.dcm")
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/studies/"+studyUID+"/instances", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestStoreInstanceWritesPayloadAndReceives(t *testing.T) {
	t.Parallel()

	s, receiver, _ := setupTransferTest(t, config.ServerConfig{})
	const studyUID = "1.2.840.113619.2.55.51"

	payload := []byte("DICM instance bytes")
	receiver.On("ReceiveInstance", mock.Anything, mock.MatchedBy(func(cmd receiving.ReceiveInstanceCommand) bool {
		return cmd.StudyInstanceUID == studyUID &&
			cmd.SOPInstanceUID == "1.2.3.100" &&
			cmd.PatientID == "PAT-7" &&
			cmd.Modality == "CT" &&
			cmd.SizeBytes == int64(len(payload))
	})).Return(true, nil)

	meta := `{"sop_instance_uid":"1.2.3.100","series_instance_uid":"1.2.3.10","patient_id":"PAT-7","modality":"CT"}`
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, uploadRequest(t, studyUID, meta, payload))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"created":true}`, rec.Body.String())

	var cmd receiving.ReceiveInstanceCommand
	for _, call := range receiver.Calls {
		cmd = call.Arguments.Get(1).(receiving.ReceiveInstanceCommand)
	}
	stored, err := os.ReadFile(cmd.PayloadPath)
	require.NoError(t, err)
	assert.Equal(t, payload, stored)
}

func TestStoreInstanceValidationRejection(t *testing.T) {
	t.Parallel()

	s, receiver, _ := setupTransferTest(t, config.ServerConfig{})
	receiver.On("ReceiveInstance", mock.Anything, mock.Anything).
		Return(false, &receiving.ValidationError{Field: "Modality", Reason: "unsupported"})

	meta := `{"sop_instance_uid":"1.2.3.101","series_instance_uid":"1.2.3.10","patient_id":"PAT-7","modality":"US"}`
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, uploadRequest(t, "1.2.840.1", meta, []byte("x")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStoreInstanceInternalError(t *testing.T) {
	t.Parallel()

	s, receiver, _ := setupTransferTest(t, config.ServerConfig{})
	receiver.On("ReceiveInstance", mock.Anything, mock.Anything).
		Return(false, errors.New("db down"))

	meta := `{"sop_instance_uid":"1.2.3.102","series_instance_uid":"1.2.3.10","patient_id":"PAT-7","modality":"CT"}`
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, uploadRequest(t, "1.2.840.1", meta, []byte("x")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStoreInstanceMalformedMetadata(t *testing.T) {
	t.Parallel()

	s, receiver, _ := setupTransferTest(t, config.ServerConfig{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, uploadRequest(t, "1.2.840.1", "{not json", []byte("x")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	receiver.AssertNotCalled(t, "ReceiveInstance", mock.Anything, mock.Anything)
}

func TestStoreInstanceRejectsPathEscapingIdentifiers(t *testing.T) {
	t.Parallel()

	s, receiver, storageDir := setupTransferTest(t, config.ServerConfig{})

	// Identifiers become path components; anything outside the UID grammar
	// must be rejected before a single byte lands on disk.
	meta := `{"sop_instance_uid":"../../escape","series_instance_uid":"1.2.3.10","patient_id":"PAT-7","modality":"CT"}`
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, uploadRequest(t, "1.2.840.1", meta, []byte("x")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	receiver.AssertNotCalled(t, "ReceiveInstance", mock.Anything, mock.Anything)

	_, err := os.Stat(filepath.Join(filepath.Dir(storageDir), "escape.dcm"))
	assert.True(t, os.IsNotExist(err))
	entries, err := os.ReadDir(storageDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStoreInstanceRateLimited(t *testing.T) {
	t.Parallel()

	s, receiver, _ := setupTransferTest(t, config.ServerConfig{RateLimit: 1, RateBurst: 1})
	receiver.On("ReceiveInstance", mock.Anything, mock.Anything).Return(true, nil)

	meta := `{"sop_instance_uid":"1.2.3.103","series_instance_uid":"1.2.3.10","patient_id":"PAT-7","modality":"CT"}`

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, uploadRequest(t, "1.2.840.1", meta, []byte("x")))
	require.Equal(t, http.StatusOK, rec.Code)

	// The burst is spent; the next upload inside the same second is shed.
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, uploadRequest(t, "1.2.840.1", meta, []byte("x")))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
