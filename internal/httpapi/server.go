// internal/httpapi/server.go
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/camkeep/camkeep/internal/dvr"
	"github.com/camkeep/camkeep/internal/job"
	"github.com/camkeep/camkeep/internal/manager"
	"github.com/camkeep/camkeep/pkg/schema"
)

// Recorder is the DVR surface the API needs.
type Recorder interface {
	Cameras(ctx context.Context) ([]schema.Camera, error)
	CameraByID(ctx context.Context, id int) (schema.Camera, error)
	Search(ctx context.Context, cam schema.Camera, start, end time.Time) (schema.SearchResult, error)
}

// Jobs is the manager surface the API needs.
type Jobs interface {
	Submit(ctx context.Context, req manager.SubmitRequest) (job.Record, error)
	GetByID(id string) (job.Record, error)
	ListActive() []job.Record
}

// Options configures the API handler.
type Options struct {
	Recorder Recorder
	Jobs     Jobs
	// Token enables bearer authentication on all routes when non-empty.
	Token  string
	Logger *slog.Logger
}

// Server serves the capture API.
type Server struct {
	recorder Recorder
	jobs     Jobs
	token    string
	logger   *slog.Logger
}

// New validates the options and builds a Server.
func New(opts Options) (*Server, error) {
	if opts.Recorder == nil {
		return nil, errors.New("httpapi: Recorder is required")
	}
	if opts.Jobs == nil {
		return nil, errors.New("httpapi: Jobs is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		recorder: opts.Recorder,
		jobs:     opts.Jobs,
		token:    opts.Token,
		logger:   logger,
	}, nil
}

// Routes builds the chi router with all API endpoints mounted.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if s.token != "" {
		r.Use(s.requireBearer)
	}

	r.Get("/cameras", s.handleCameras)
	r.Post("/search", s.handleSearch)
	r.Post("/download", s.handleDownload)
	r.Get("/jobs", s.handleJobs)
	r.Get("/jobs/{id}", s.handleJobByID)
	return r
}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
			s.writeError(w, http.StatusUnauthorized, errors.New("invalid or missing bearer token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCameras(w http.ResponseWriter, r *http.Request) {
	cams, err := s.recorder.Cameras(r.Context())
	if err != nil {
		s.writeRecorderError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cams)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req schema.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.search(r.Context(), req.CameraID, req.StartTime, req.EndTime)
	if err != nil {
		s.writeRecorderError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req schema.DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	// Re-run the search so the job captures the recorder-adjusted window
	// even when the client submits a stale or widened range.
	res, err := s.search(r.Context(), req.CameraID, req.StartTime, req.EndTime)
	if err != nil {
		s.writeRecorderError(w, err)
		return
	}

	rec, err := s.jobs.Submit(r.Context(), manager.SubmitRequest{
		CameraID:    res.CameraID,
		URI:         res.RTSPURI,
		StartTime:   res.StartTime,
		EndTime:     res.EndTime,
		Filename:    req.Filename,
		CallbackURI: req.CallbackURI,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, rec)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.jobs.ListActive())
}

func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	rec, err := s.jobs.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) search(ctx context.Context, cameraID int, start, end time.Time) (schema.SearchResult, error) {
	cam, err := s.recorder.CameraByID(ctx, cameraID)
	if err != nil {
		return schema.SearchResult{}, err
	}
	return s.recorder.Search(ctx, cam, start, end)
}

// writeRecorderError maps DVR failures onto API status codes.
func (s *Server) writeRecorderError(w http.ResponseWriter, err error) {
	var respErr *dvr.ResponseError
	switch {
	case errors.Is(err, dvr.ErrCameraNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, dvr.ErrInvalidRange):
		s.writeError(w, http.StatusConflict, err)
	case errors.Is(err, dvr.ErrRangeNotFound):
		s.writeError(w, http.StatusRequestedRangeNotSatisfiable, err)
	case errors.As(err, &respErr):
		s.writeError(w, http.StatusBadGateway, err)
	default:
		s.writeError(w, http.StatusBadGateway, err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	s.writeJSON(w, status, schema.ErrorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("write response", "error", err)
	}
}
