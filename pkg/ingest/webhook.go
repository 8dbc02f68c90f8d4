// Package ingest is the webhook ingestor of §4.E: a thin, contract-only
// layer that validates an inbound payload, creates the IncomingJob, and
// enqueues it. It deliberately does no parsing or classification itself —
// that is the three-agent pipeline's job.
package ingest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/justLukaBB/creditor-email-matcher/pkg/jobs"
	"github.com/justLukaBB/creditor-email-matcher/pkg/metrics"
	"github.com/justLukaBB/creditor-email-matcher/pkg/models"
	"github.com/justLukaBB/creditor-email-matcher/pkg/shared/logging"
)

// Payload is the inbound webhook shape (§3.1, §6): a provider-agnostic
// envelope around one creditor-response email.
type Payload struct {
	WebhookID   string                        `json:"webhook_id" validate:"required"`
	TicketID    string                        `json:"ticket_id"`
	FromEmail   string                        `json:"from_email" validate:"required,email"`
	Subject     string                        `json:"subject"`
	BodyText    string                        `json:"body_text"`
	BodyHTML    string                        `json:"body_html"`
	Headers     map[string]string             `json:"headers"`
	Attachments []models.AttachmentDescriptor `json:"attachments"`
}

// Handler is the HTTP entry point the webhook-service process mounts.
type Handler struct {
	repo      *jobs.Repository
	validator *validator.Validate
	logger    *zap.Logger
}

func NewHandler(repo *jobs.Repository, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, validator: validator.New(), logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		metrics.WebhookRequestsTotal.WithLabelValues("malformed").Inc()
		h.writeError(w, http.StatusBadRequest, "malformed json body")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		metrics.WebhookRequestsTotal.WithLabelValues("invalid").Inc()
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	job, err := h.repo.Create(ctx, models.IncomingJob{
		WebhookID:   payload.WebhookID,
		TicketID:    payload.TicketID,
		FromEmail:   payload.FromEmail,
		Subject:     payload.Subject,
		BodyText:    payload.BodyText,
		BodyHTML:    payload.BodyHTML,
		Headers:     payload.Headers,
		Attachments: payload.Attachments,
	})
	if errors.Is(err, jobs.ErrDuplicateWebhookDelivery) {
		// At-least-once delivery (§4.E): this webhook_id was already
		// accepted. Answer with the existing job's id and status, flagged
		// as a duplicate, instead of re-enqueueing or erroring.
		metrics.WebhookRequestsTotal.WithLabelValues("duplicate").Inc()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"job_id": job.ID, "status": string(job.ProcessingStatus), "duplicate": "true",
		})
		return
	}
	if err != nil {
		metrics.WebhookRequestsTotal.WithLabelValues("error").Inc()
		h.logger.Error("failed to create incoming job", logging.NewFields().Component("ingest").Error(err).ToZap()...)
		h.writeError(w, http.StatusInternalServerError, "failed to accept webhook")
		return
	}

	if err := h.repo.Enqueue(ctx, job.ID); err != nil {
		metrics.WebhookRequestsTotal.WithLabelValues("error").Inc()
		h.logger.Error("failed to enqueue incoming job", logging.JobFields("enqueue", job.ID).Error(err).ToZap()...)
		h.writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}

	metrics.WebhookRequestsTotal.WithLabelValues("accepted").Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"job_id": job.ID, "status": string(models.StatusQueued)})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
