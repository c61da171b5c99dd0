package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/meshgen/internal/api/response"
	"github.com/kiranshivaraju/meshgen/internal/reconcile"
	"github.com/kiranshivaraju/meshgen/internal/store"
	"github.com/kiranshivaraju/meshgen/internal/webhook"
	"github.com/kiranshivaraju/meshgen/pkg/models"
)

const maxWebhookBody = 1 << 20

// ExternalJobLookup resolves a provider task id to a stored job.
type ExternalJobLookup interface {
	GetJobByExternalID(ctx context.Context, externalJobID string) (*models.Job, error)
}

type webhookAck struct {
	Status string `json:"status"`
}

// NewWebhookHandler returns an http.HandlerFunc for POST /api/v1/webhooks/provider.
// An authenticated, well-formed delivery is answered 200 even when the job is
// unknown or the write fails; both are logged.
func NewWebhookHandler(jobs ExternalJobLookup, rec Reconciler, secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, http.StatusRequestEntityTooLarge, "INVALID_PAYLOAD", "Payload too large", nil)
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_PAYLOAD", "Could not read body", nil)
			return
		}

		if err := webhook.Verify(secret, body, r.Header.Get(webhook.SignatureHeader)); err != nil {
			slog.Warn("webhook rejected", "reason", "signature", "remote_addr", r.RemoteAddr)
			response.Error(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "Invalid webhook signature", nil)
			return
		}

		ev, err := webhook.Parse(body)
		if err != nil {
			slog.Warn("webhook rejected", "reason", "payload", "error", err)
			response.Error(w, http.StatusBadRequest, "INVALID_PAYLOAD", "Malformed webhook payload", nil)
			return
		}

		log := slog.With("external_job_id", ev.ExternalJobID, "provider_status", ev.Status)
		ctx := detach(r)

		job, err := jobs.GetJobByExternalID(ctx, ev.ExternalJobID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				log.Warn("webhook for unknown job")
				response.JSON(w, webhookAck{Status: "ignored"})
				return
			}
			log.Error("webhook job lookup failed", "error", err)
			response.JSON(w, webhookAck{Status: "accepted"})
			return
		}

		res, err := rec.Apply(ctx, job.ID, reconcile.Observation{
			ProviderStatus: ev.Status,
			Progress:       ev.Progress,
			OutputURL:      ev.OutputURL,
			ErrorText:      ev.Error,
		})
		if err != nil {
			log.Error("webhook reconcile failed", "job_id", job.ID, "error", err)
			response.JSON(w, webhookAck{Status: "accepted"})
			return
		}

		log.Info("webhook applied", "job_id", job.ID, "api_status", res.Job.APIStatus)
		response.JSON(w, webhookAck{Status: "applied"})
	}
}
