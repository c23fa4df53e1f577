// Package dicomweb implements the HTTP transfer surface: an inbound listener
// that accepts instance uploads from modalities and archives, and an outbound
// client that stores finished reports back to the originating archive.
package dicomweb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ahrav/pacsight/internal/app/receiving"
	"github.com/ahrav/pacsight/internal/config"
	"github.com/ahrav/pacsight/pkg/common/logger"
)

// InstanceReceiver admits a validated instance into the pipeline.
type InstanceReceiver interface {
	ReceiveInstance(ctx context.Context, cmd receiving.ReceiveInstanceCommand) (created bool, err error)
}

// Server is the inbound transfer listener. Uploads are written to local
// storage before the receive command runs, so a crash after the write at
// worst leaves an orphaned file, never a dangling database row.
type Server struct {
	cfg        config.ServerConfig
	storageDir string
	receiver   InstanceReceiver
	limiter    *rate.Limiter
	router     *chi.Mux

	logger *logger.Logger
	tracer trace.Tracer
}

// NewServer creates the transfer listener writing payloads under storageDir.
func NewServer(cfg config.ServerConfig, storageDir string, receiver InstanceReceiver, log *logger.Logger, tracer trace.Tracer) *Server {
	s := &Server{
		cfg:        cfg,
		storageDir: storageDir,
		receiver:   receiver,
		logger:     log.With("component", "transfer_server"),
		tracer:     tracer,
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Post("/studies/{studyInstanceUID}/instances", s.handleStoreInstance)
	s.router = r

	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// instanceMetadata is the JSON part accompanying an upload.
type instanceMetadata struct {
	SOPInstanceUID    string `json:"sop_instance_uid"`
	SeriesInstanceUID string `json:"series_instance_uid"`
	PatientID         string `json:"patient_id"`
	Modality          string `json:"modality"`
}

type storeResponse struct {
	Created bool `json:"created"`
}

func (s *Server) handleStoreInstance(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "transfer_server.store_instance")
	defer span.End()

	if s.limiter != nil && !s.limiter.Allow() {
		http.Error(w, "too many uploads", http.StatusTooManyRequests)
		return
	}

	if s.cfg.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	}
	if err := r.ParseMultipartForm(4 << 20); err != nil {
		http.Error(w, "malformed upload", http.StatusBadRequest)
		return
	}

	var meta instanceMetadata
	if err := json.Unmarshal([]byte(r.FormValue("metadata")), &meta); err != nil {
		http.Error(w, "malformed metadata", http.StatusBadRequest)
		return
	}

	payload, _, err := r.FormFile("payload")
	if err != nil {
		http.Error(w, "missing payload", http.StatusBadRequest)
		return
	}
	defer payload.Close()

	studyUID := chi.URLParam(r, "studyInstanceUID")
	// Both identifiers become path components below. Reject anything outside
	// the UID grammar before touching the filesystem; the full command
	// validation still runs in the receiver.
	if !receiving.IsValidUID(studyUID) || !receiving.IsValidUID(meta.SOPInstanceUID) {
		http.Error(w, "invalid instance identifier", http.StatusBadRequest)
		return
	}

	path, size, err := s.writePayload(studyUID, meta.SOPInstanceUID, payload)
	if err != nil {
		s.logger.Error(ctx, "failed to store payload", "sop_instance_uid", meta.SOPInstanceUID, "error", err)
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}

	created, err := s.receiver.ReceiveInstance(ctx, receiving.ReceiveInstanceCommand{
		SOPInstanceUID:    meta.SOPInstanceUID,
		SeriesInstanceUID: meta.SeriesInstanceUID,
		StudyInstanceUID:  studyUID,
		PatientID:         meta.PatientID,
		Modality:          meta.Modality,
		PayloadPath:       path,
		SizeBytes:         size,
	})
	if err != nil {
		var ve *receiving.ValidationError
		if errors.As(err, &ve) {
			// The payload file is orphaned on purpose; rejected uploads are
			// kept for inspection and cleaned up out of band.
			http.Error(w, ve.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Error(ctx, "failed to receive instance", "sop_instance_uid", meta.SOPInstanceUID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(storeResponse{Created: created})
}

// writePayload streams the upload to disk under storageDir/<study>/<sop>.dcm.
func (s *Server) writePayload(studyUID, sopUID string, payload io.Reader) (string, int64, error) {
	dir := filepath.Join(s.storageDir, studyUID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("creating study dir: %w", err)
	}

	path := filepath.Join(dir, sopUID+".dcm")
	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("creating payload file: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, payload)
	if err != nil {
		return "", 0, fmt.Errorf("writing payload: %w", err)
	}
	return path, size, nil
}

// Start runs the listener until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(shutdownCtx, "failed to shutdown server", "error", err)
		}
	}()

	s.logger.Info(ctx, "starting server",
		"addr", server.Addr,
		"ae_title", s.cfg.AETitle,
		"service", "transfer",
	)

	return server.ListenAndServe()
}
