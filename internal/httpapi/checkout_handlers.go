package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/vladislavdragonenkov/storefront/internal/checkout"
)

const maxWebhookBodyBytes = 64 << 10

type webhookResponse struct {
	Received bool `json:"received"`
}

func (s *Server) handleCreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())

	var req checkout.IntentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, s.logger, err)
		return
	}

	resp, err := s.checkout.CreatePaymentIntent(r.Context(), identity, req, r.Header.Get(headerIdempotencyKey))
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleStripeWebhook проверяет подпись до разбора тела и всегда отвечает 2xx
// на события, которые не меняют заказ.
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.logger.WithField("limit", maxWebhookBodyBytes).Warn("webhook body too large")
		}
		respondError(w, r, s.logger, err)
		return
	}

	event, err := s.reconcile.ParseEvent(payload, r.Header.Get(headerStripeSig))
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	if _, err := s.reconcile.Handle(r.Context(), event); err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, webhookResponse{Received: true})
}
