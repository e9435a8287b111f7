package checkoutsvc

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	idempotencyKeyPrefix = "checkout:"
	idempotencyTTL       = 24 * time.Hour
	// Окно, в котором одинаковые корзины без Idempotency-Key считаются одним запросом.
	dedupWindow = 10 * time.Minute
)

// ReplayedError — ошибка, сохранённая при первой обработке запроса с тем же ключом.
type ReplayedError struct {
	Status  int
	Message string
}

func (e *ReplayedError) Error() string {
	return e.Message
}

// HTTPStatus возвращает исходный HTTP-статус ошибки.
func (e *ReplayedError) HTTPStatus() int {
	return e.Status
}

type idempotencyErrorPayload struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

type hashedItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Color     string `json:"color"`
}

type hashedRequest struct {
	UserID string       `json:"userId"`
	Amount string       `json:"amount"`
	Items  []hashedItem `json:"items"`
	Window int64        `json:"window,omitempty"`
}

// idempotencyKeyFor возвращает ключ и хеш запроса. Без явного ключа ключом служит хеш корзины
// в пределах текущего окна дедупликации.
func idempotencyKeyFor(userID, key string, req checkout.IntentRequest, now time.Time) (string, string, error) {
	canonical := hashedRequest{
		UserID: userID,
		Amount: req.Amount.StringFixed(2),
		Items:  make([]hashedItem, 0, len(req.Items)),
	}
	for _, item := range req.Items {
		canonical.Items = append(canonical.Items, hashedItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price.StringFixed(2),
			Size:      item.Size,
			Color:     item.Color,
		})
	}
	sort.Slice(canonical.Items, func(i, j int) bool {
		a, b := canonical.Items[i], canonical.Items[j]
		if a.ProductID != b.ProductID {
			return a.ProductID < b.ProductID
		}
		if a.Size != b.Size {
			return a.Size < b.Size
		}
		return a.Color < b.Color
	})

	requestHash, err := hashJSON(canonical)
	if err != nil {
		return "", "", err
	}

	key = strings.TrimSpace(key)
	if key != "" {
		return idempotencyKeyPrefix + userID + ":" + key, requestHash, nil
	}

	canonical.Window = now.Truncate(dedupWindow).Unix()
	windowHash, err := hashJSON(canonical)
	if err != nil {
		return "", "", err
	}
	return idempotencyKeyPrefix + userID + ":auto:" + windowHash, requestHash, nil
}

func hashJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (s *Service) replay(createErr error, record domain.IdempotencyRecord) (checkout.IntentResponse, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return checkout.IntentResponse{}, createErr
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone:
			var resp checkout.IntentResponse
			if err := json.Unmarshal(record.ResponseBody, &resp); err != nil || resp.OrderID == "" {
				s.logger.WithError(err).WithField("idempotency_key", record.Key).Warn("failed to decode cached checkout response")
				return checkout.IntentResponse{}, errors.New("failed to decode cached checkout response")
			}
			s.logger.WithFields(log.Fields{
				"idempotency_key": record.Key,
				"order_id":        resp.OrderID,
			}).Info("checkout request replayed")
			return resp, nil
		case domain.IdempotencyStatusProcessing:
			return checkout.IntentResponse{}, fmt.Errorf("%w: request is still processing", createErr)
		case domain.IdempotencyStatusFailed:
			return checkout.IntentResponse{}, decodeFailure(record)
		default:
			return checkout.IntentResponse{}, fmt.Errorf("unknown idempotency status %q", record.Status)
		}
	default:
		s.logger.WithError(createErr).Warn("failed to create idempotency record")
		return checkout.IntentResponse{}, fmt.Errorf("create idempotency record: %w", createErr)
	}
}

// consumed сообщает, что сохранённый успешный ответ ссылается на заказ, который уже не ждёт оплаты.
func (s *Service) consumed(claimErr error, record domain.IdempotencyRecord) bool {
	if !errors.Is(claimErr, domain.ErrIdempotencyKeyAlreadyExists) || record.Status != domain.IdempotencyStatusDone {
		return false
	}
	var resp checkout.IntentResponse
	if err := json.Unmarshal(record.ResponseBody, &resp); err != nil || resp.OrderID == "" {
		return false
	}

	order, err := s.orders.Get(resp.OrderID)
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		return true
	case err != nil:
		s.logger.WithError(err).WithField("order_id", resp.OrderID).Warn("failed to check order behind idempotency key")
		return false
	}
	return order.PaymentStatus != domain.PaymentStatusPending || order.Status != domain.OrderStatusPending
}

func (s *Service) release(key string) {
	if err := s.idem.Release(key); err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to release idempotency key")
	}
}

func (s *Service) cacheSuccess(key string, resp checkout.IntentResponse) {
	data, err := json.Marshal(resp)
	if err == nil {
		err = s.idem.MarkDone(key, data, http.StatusOK)
	}
	if err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent success response")
	}
}

func (s *Service) cacheFailure(key string, runErr error) {
	status := failureStatus(runErr)
	message := runErr.Error()
	if status == http.StatusInternalServerError {
		message = "failed to create payment intent"
	}

	payload, err := json.Marshal(idempotencyErrorPayload{Status: status, Message: message})
	if err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to encode idempotency failure payload")
		payload = nil
	}
	if err := s.idem.MarkFailed(key, payload, status); err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotency failure response")
	}
}

func decodeFailure(record domain.IdempotencyRecord) error {
	const fallback = "previous request with the same idempotency key failed"

	replayed := &ReplayedError{Status: record.HTTPStatus, Message: fallback}
	var payload idempotencyErrorPayload
	if len(record.ResponseBody) > 0 && json.Unmarshal(record.ResponseBody, &payload) == nil {
		if payload.Status > 0 {
			replayed.Status = payload.Status
		}
		if payload.Message != "" {
			replayed.Message = payload.Message
		}
	}
	if replayed.Status < http.StatusBadRequest {
		replayed.Status = http.StatusInternalServerError
	}
	return replayed
}

func failureStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsNotFound(err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
