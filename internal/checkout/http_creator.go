package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	intentPath            = "/api/checkout/payment-intent"
	defaultRequestTimeout = 10 * time.Second
	maxErrorBody          = 4 << 10
)

// HTTPIntentCreator вызывает POST /api/checkout/payment-intent витрины.
type HTTPIntentCreator struct {
	baseURL        string
	token          string
	idempotencyKey string
	client         *http.Client
}

// NewHTTPIntentCreator создаёт клиент. token — bearer-токен покупателя;
// idempotencyKey — ключ попытки checkout (пустой: сервер вычислит его из содержимого корзины).
func NewHTTPIntentCreator(baseURL, token, idempotencyKey string, client *http.Client) *HTTPIntentCreator {
	if client == nil {
		client = &http.Client{
			Timeout:   defaultRequestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &HTTPIntentCreator{
		baseURL:        strings.TrimRight(baseURL, "/"),
		token:          token,
		idempotencyKey: idempotencyKey,
		client:         client,
	}
}

// StatusError — неуспешный ответ сервера.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("create payment intent: status %d: %s", e.StatusCode, e.Message)
}

func (c *HTTPIntentCreator) CreateIntent(ctx context.Context, req IntentRequest) (IntentResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return IntentResponse{}, fmt.Errorf("marshal intent request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+intentPath, bytes.NewReader(body))
	if err != nil {
		return IntentResponse{}, fmt.Errorf("build intent request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", c.idempotencyKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return IntentResponse{}, fmt.Errorf("call intent endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var payload struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if json.Unmarshal(raw, &payload) != nil || payload.Error == "" {
			payload.Error = strings.TrimSpace(string(raw))
		}
		return IntentResponse{}, &StatusError{StatusCode: resp.StatusCode, Message: payload.Error}
	}

	var out IntentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return IntentResponse{}, fmt.Errorf("decode intent response: %w", err)
	}
	if out.ClientSecret == "" || out.OrderID == "" {
		return IntentResponse{}, fmt.Errorf("intent response is missing clientSecret or orderId")
	}
	return out, nil
}

var _ IntentCreator = (*HTTPIntentCreator)(nil)
