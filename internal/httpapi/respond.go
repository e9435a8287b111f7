package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const maxJSONBodyBytes = 1 << 20

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// statusCoder — ошибка, которая сама знает свой HTTP-статус.
type statusCoder interface {
	HTTPStatus() int
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Warn("failed to encode response")
	}
}

// respondError пишет {"error": ...}. Внутренние ошибки логируются и наружу не раскрываются.
func respondError(w http.ResponseWriter, r *http.Request, logger *log.Entry, err error) {
	status := statusFromError(err)
	resp := errorResponse{Error: err.Error()}

	var validation *checkout.ValidationError
	if errors.As(err, &validation) {
		resp.Fields = validation.Fields
	}

	if status >= http.StatusInternalServerError {
		logger.WithError(err).WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
		resp = errorResponse{Error: http.StatusText(status)}
	}
	respondJSON(w, status, resp)
}

func statusFromError(err error) int {
	var coder statusCoder
	if errors.As(err, &coder) && coder.HTTPStatus() >= http.StatusBadRequest {
		return coder.HTTPStatus()
	}
	var validation *checkout.ValidationError
	var tooLarge *http.MaxBytesError

	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrInvalidArgument),
		errors.As(err, &validation),
		errors.Is(err, domain.ErrInvalidSignature),
		errors.Is(err, domain.ErrMalformedEvent):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case domain.IsNotFound(err), errors.Is(err, cart.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicate),
		errors.Is(err, cart.ErrCartBusy),
		errors.Is(err, domain.ErrReferenced),
		errors.Is(err, domain.ErrInvalidTransition),
		domain.IsIdempotencyConflict(err),
		domain.IsVersionConflict(err):
		return http.StatusConflict
	case errors.Is(err, cart.ErrQuantityOutOfRange):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return fmt.Errorf("%w: invalid JSON body: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}
