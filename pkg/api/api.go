// Package api is the operational REST surface of §6: job listing/inspection,
// manual retry, review claim/resolve, and a reconciliation trigger, routed
// with go-chi in the style of the teacher's pkg/api router construction.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/justLukaBB/creditor-email-matcher/pkg/jobs"
	"github.com/justLukaBB/creditor-email-matcher/pkg/models"
	"github.com/justLukaBB/creditor-email-matcher/pkg/outbox"
	"github.com/justLukaBB/creditor-email-matcher/pkg/review"
	apperrors "github.com/justLukaBB/creditor-email-matcher/pkg/shared/errors"
)

type Server struct {
	jobs   *jobs.Repository
	review *review.Repository
	outbox *outbox.Store
	logger *zap.Logger
}

func NewServer(j *jobs.Repository, r *review.Repository, o *outbox.Store, logger *zap.Logger) *Server {
	return &Server{jobs: j, review: r, outbox: o, logger: logger}
}

// Router builds the chi mux, with permissive CORS for the internal review
// dashboard (the teacher's pkg/api default policy).
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/jobs", s.listJobs)
	r.Get("/jobs/{id}", s.getJob)
	r.Post("/jobs/{id}/retry", s.retryJob)

	r.Post("/review/claim", s.claimReview)
	r.Post("/review/{id}/resolve", s.resolveReview)

	r.Post("/reconciliation/run", s.runReconciliation)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	return r
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	status := models.ProcessingStatus(r.URL.Query().Get("status"))
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	result, err := s.jobs.List(r.Context(), status, limit, offset)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) retryJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.jobs.ManualRetry(r.Context(), id); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": id, "status": string(models.StatusQueued)})
}

type claimRequest struct {
	Reviewer string `json:"reviewer"`
}

func (s *Server) claimReview(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reviewer == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reviewer is required"})
		return
	}
	item, err := s.review.Claim(r.Context(), req.Reviewer)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if item == nil {
		writeJSON(w, http.StatusNoContent, nil)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type resolveRequest struct {
	Resolution    models.ReviewResolution  `json:"resolution"`
	CorrectedData json.RawMessage          `json:"corrected_data,omitempty"`
	Predicted     map[string]float64       `json:"predicted_dimensions"`
	Bucket        models.ConfidenceBucket  `json:"overall_bucket"`
	DocumentType  models.DocumentType      `json:"document_type"`
}

func (s *Server) resolveReview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed json body"})
		return
	}
	err := s.review.Resolve(r.Context(), id, req.Resolution, req.CorrectedData, req.Predicted, req.Bucket, req.DocumentType)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "resolution": string(req.Resolution)})
}

func (s *Server) runReconciliation(w http.ResponseWriter, r *http.Request) {
	window := 48 * time.Hour
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	report, err := s.outbox.Reconcile(ctx, window)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if apperrors.ClassOf(err) == apperrors.KindBusiness {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
