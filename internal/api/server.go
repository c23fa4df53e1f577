// Package api exposes the observability HTTP surface: health probes, study
// and job lookups, pipeline state counts, and recent failures. It is
// read-only; instances arrive through the transfer listener, never here.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/pacsight/internal/config"
	"github.com/ahrav/pacsight/internal/domain/imaging"
	"github.com/ahrav/pacsight/internal/domain/pipeline"
	"github.com/ahrav/pacsight/pkg/common/logger"
	"github.com/ahrav/pacsight/pkg/common/otel"
)

const defaultFailureLimit = 20

type Server struct {
	cfg    *config.Config
	logger *logger.Logger
	router *chi.Mux
	tracer trace.Tracer

	pool        *pgxpool.Pool
	studyRepo   imaging.StudyRepository
	jobRepo     pipeline.JobRepository
	findingRepo pipeline.FindingRepository
	reportRepo  pipeline.ReportRepository
}

func NewServer(
	cfg *config.Config,
	log *logger.Logger,
	tracer trace.Tracer,
	pool *pgxpool.Pool,
	studyRepo imaging.StudyRepository,
	jobRepo pipeline.JobRepository,
	findingRepo pipeline.FindingRepository,
	reportRepo pipeline.ReportRepository,
) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(tracingMiddleware(tracer))
	r.Use(loggerMiddleware(log))
	r.Use(middleware.Recoverer)

	s := &Server{
		cfg:         cfg,
		logger:      log,
		router:      r,
		tracer:      tracer,
		pool:        pool,
		studyRepo:   studyRepo,
		jobRepo:     jobRepo,
		findingRepo: findingRepo,
		reportRepo:  reportRepo,
	}

	s.routes()
	return s
}

func tracingMiddleware(tracer trace.Tracer) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracer.Start(r.Context(), fmt.Sprintf("http.%s %s", r.Method, r.URL.Path))
			defer span.End()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func loggerMiddleware(log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				ctx := r.Context()
				log.Info(ctx, "Request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration", time.Since(start),
					"trace_id", otel.GetTraceID(ctx),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func (s *Server) routes() {
	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/readiness", s.handleReadiness)

		r.Get("/studies/{studyInstanceUID}", s.handleGetStudy)
		r.Get("/jobs/stats", s.handleJobStats)
		r.Get("/jobs/failures", s.handleRecentFailures)
		r.Get("/jobs/{jobID}", s.handleGetJob)
	})
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.pool != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.pool.Ping(ctx); err != nil {
			s.logger.Error(r.Context(), "readiness check failed", "error", err)
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

type jobSummary struct {
	JobID       string     `json:"job_id"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type studyResponse struct {
	StudyInstanceUID string       `json:"study_instance_uid"`
	PatientID        string       `json:"patient_id"`
	Modality         string       `json:"modality"`
	Status           string       `json:"status"`
	InstanceCount    int          `json:"instance_count"`
	LastInstanceAt   time.Time    `json:"last_instance_at"`
	Jobs             []jobSummary `json:"jobs"`
}

func (s *Server) handleGetStudy(w http.ResponseWriter, r *http.Request) {
	studyUID := chi.URLParam(r, "studyInstanceUID")

	study, err := s.studyRepo.GetStudy(r.Context(), studyUID)
	if err != nil {
		if errors.Is(err, imaging.ErrStudyNotFound) {
			http.Error(w, "study not found", http.StatusNotFound)
			return
		}
		s.logger.Error(r.Context(), "failed to load study", "study_instance_uid", studyUID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	jobs, err := s.jobRepo.ListStudyJobs(r.Context(), studyUID)
	if err != nil {
		s.logger.Error(r.Context(), "failed to list study jobs", "study_instance_uid", studyUID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := studyResponse{
		StudyInstanceUID: study.StudyInstanceUID(),
		PatientID:        study.PatientID(),
		Modality:         study.Modality().String(),
		Status:           study.Status().String(),
		InstanceCount:    study.InstanceCount(),
		LastInstanceAt:   study.LastInstanceAt(),
		Jobs:             make([]jobSummary, 0, len(jobs)),
	}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, newJobSummary(job))
	}

	s.respond(w, r, http.StatusOK, resp)
}

type reportSummary struct {
	ReportID        string     `json:"report_id"`
	Format          string     `json:"format"`
	Status          string     `json:"status"`
	ArchiveResponse string     `json:"archive_response,omitempty"`
	SentAt          *time.Time `json:"sent_at,omitempty"`
}

type jobResponse struct {
	jobSummary
	StudyInstanceUID string         `json:"study_instance_uid"`
	FindingCount     int            `json:"finding_count"`
	Report           *reportSummary `json:"report,omitempty"`
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}

	job, err := s.jobRepo.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, pipeline.ErrJobNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		s.logger.Error(r.Context(), "failed to load job", "job_id", jobID.String(), "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := jobResponse{
		jobSummary:       newJobSummary(job),
		StudyInstanceUID: job.StudyUID(),
	}

	if findings, err := s.findingRepo.ListJobFindings(r.Context(), jobID); err == nil {
		resp.FindingCount = len(findings)
	}

	report, err := s.reportRepo.GetJobReport(r.Context(), jobID)
	switch {
	case err == nil:
		rs := reportSummary{
			ReportID:        report.ReportID().String(),
			Format:          report.Format(),
			Status:          report.Status().String(),
			ArchiveResponse: report.ArchiveResponse(),
		}
		if sentAt := report.SentAt(); !sentAt.IsZero() {
			rs.SentAt = &sentAt
		}
		resp.Report = &rs
	case errors.Is(err, pipeline.ErrReportNotFound):
		// The job has not reached the reporting stage.
	default:
		s.logger.Error(r.Context(), "failed to load report", "job_id", jobID.String(), "error", err)
	}

	s.respond(w, r, http.StatusOK, resp)
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.jobRepo.CountJobsByStatus(r.Context())
	if err != nil {
		s.logger.Error(r.Context(), "failed to count jobs", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := make(map[string]int, len(counts))
	for status, count := range counts {
		resp[status.String()] = count
	}

	s.respond(w, r, http.StatusOK, resp)
}

func (s *Server) handleRecentFailures(w http.ResponseWriter, r *http.Request) {
	limit := defaultFailureLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	jobs, err := s.jobRepo.RecentFailures(r.Context(), limit)
	if err != nil {
		s.logger.Error(r.Context(), "failed to list recent failures", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		resp = append(resp, jobResponse{
			jobSummary:       newJobSummary(job),
			StudyInstanceUID: job.StudyUID(),
		})
	}

	s.respond(w, r, http.StatusOK, resp)
}

func newJobSummary(job *pipeline.Job) jobSummary {
	summary := jobSummary{
		JobID:     job.JobID().String(),
		Status:    job.Status().String(),
		Attempts:  job.Attempts(),
		LastError: job.LastError(),
		CreatedAt: job.CreatedAt(),
	}
	if completedAt, ok := job.CompletedAt(); ok {
		summary.CompletedAt = &completedAt
	}
	return summary
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error(r.Context(), "failed to encode response", "error", err)
	}
}

func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", s.cfg.API.Host, s.cfg.API.Port),
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
		"service", "api",
	)

	return server.ListenAndServe()
}
