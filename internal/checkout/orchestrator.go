// Package checkout ведёт покупателя от корзины до подтверждённой оплаты.
// Данные карты сюда не попадают: оплату подтверждает платёжный провайдер по client secret.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// State — шаг checkout.
type State string

const (
	StateCollectingAddress           State = "collecting_address"
	StateCreatingIntent              State = "creating_intent"
	StateAwaitingPaymentConfirmation State = "awaiting_payment_confirmation"
	StateConfirmed                   State = "confirmed"
	StateFailed                      State = "failed"
	StateRedirected                  State = "redirected"
)

const (
	// CartPath — страница корзины, куда возвращаем при пустой корзине или ошибке.
	CartPath    = "/cart"
	successPath = "/checkout/success"

	msgInitFailed      = "Failed to initialize checkout"
	msgPaymentPending  = "Payment is being processed"
	msgPaymentFallback = "Payment failed"
)

var (
	// ErrInvalidState — операция недоступна на текущем шаге.
	ErrInvalidState = errors.New("checkout: operation not allowed in current state")
	// ErrAddressRequired — подтверждение оплаты без заполненного адреса.
	ErrAddressRequired = errors.New("checkout: shipping address is required")
)

// Cart — то, что checkout читает и меняет в корзине.
type Cart interface {
	Items() []domain.CartLineItem
	Total() decimal.Decimal
	ClearCart()
}

// Notifier показывает уведомления пользователю.
type Notifier interface {
	Success(message string)
	Error(message string)
	Info(message string)
}

// Navigator переводит пользователя на другую страницу.
type Navigator interface {
	Navigate(path string)
}

// IntentItem — снимок строки корзины для создания заказа.
type IntentItem struct {
	LineID    string          `json:"lineId,omitempty"`
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Size      string          `json:"size"`
	Color     string          `json:"color"`
}

// IntentRequest — тело запроса на создание заказа и payment intent.
type IntentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Items  []IntentItem    `json:"items"`
}

// IntentResponse — client secret для подтверждения оплаты и id созданного заказа.
type IntentResponse struct {
	ClientSecret string `json:"clientSecret"`
	OrderID      string `json:"orderId"`
}

// IntentCreator создаёт заказ в статусе pending и payment intent.
type IntentCreator interface {
	CreateIntent(ctx context.Context, req IntentRequest) (IntentResponse, error)
}

// Orchestrator — конечный автомат одного checkout.
// Переходы: CollectingAddress -> CreatingIntent -> AwaitingPaymentConfirmation -> Confirmed | Failed,
// плюс Redirected при пустой корзине или ошибке создания intent. Из Failed можно повторить оплату.
type Orchestrator struct {
	cart      Cart
	creator   IntentCreator
	confirmer domain.PaymentConfirmer
	notifier  Notifier
	navigator Navigator
	logger    *log.Entry

	mu           sync.Mutex
	state        State
	clientSecret string
	orderID      string
	address      string
}

// NewOrchestrator создаёт checkout в состоянии CollectingAddress.
func NewOrchestrator(cart Cart, creator IntentCreator, confirmer domain.PaymentConfirmer, notifier Notifier, navigator Navigator, logger *log.Entry) *Orchestrator {
	if logger == nil {
		logger = log.WithField("component", "checkout")
	}
	return &Orchestrator{
		cart:      cart,
		creator:   creator,
		confirmer: confirmer,
		notifier:  notifier,
		navigator: navigator,
		logger:    logger,
		state:     StateCollectingAddress,
	}
}

// State возвращает текущий шаг.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// OrderID возвращает id заказа, созданного на шаге CreatingIntent.
func (o *Orchestrator) OrderID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.orderID
}

// ClientSecret возвращает client secret для платёжного UI.
func (o *Orchestrator) ClientSecret() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.clientSecret
}

// Address возвращает собранный адрес доставки.
func (o *Orchestrator) Address() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.address
}

// Start вызывается при открытии страницы checkout.
// Пустая корзина возвращает пользователя в корзину без обращения к серверу.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateCollectingAddress {
		o.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrInvalidState, o.state)
	}

	items := o.cart.Items()
	if len(items) == 0 {
		o.state = StateRedirected
		o.mu.Unlock()
		o.navigator.Navigate(CartPath)
		return nil
	}
	o.state = StateCreatingIntent
	o.mu.Unlock()

	req := IntentRequest{Amount: o.cart.Total(), Items: snapshot(items)}
	resp, err := o.creator.CreateIntent(ctx, req)

	o.mu.Lock()
	if err != nil {
		o.state = StateRedirected
		o.mu.Unlock()

		o.logger.WithError(err).Error("failed to create payment intent")
		o.notifier.Error(msgInitFailed)
		o.navigator.Navigate(CartPath)
		return err
	}
	o.clientSecret = resp.ClientSecret
	o.orderID = resp.OrderID
	o.state = StateAwaitingPaymentConfirmation
	o.mu.Unlock()

	o.logger.WithField("order_id", resp.OrderID).Info("checkout initialized")
	return nil
}

// SubmitAddress проверяет и сохраняет адрес доставки.
// Доступно до подтверждения оплаты, в том числе для исправления после неудачной попытки.
func (o *Orchestrator) SubmitAddress(addr Address) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case StateCollectingAddress, StateAwaitingPaymentConfirmation, StateFailed:
	default:
		return fmt.Errorf("%w: submit address in %s", ErrInvalidState, o.state)
	}

	if err := addr.Validate(); err != nil {
		return err
	}
	o.address = addr.Compose()
	return nil
}

// ConfirmPayment подтверждает оплату у провайдера.
// При succeeded корзина очищается и пользователь уходит на страницу успеха;
// при ошибке корзина сохраняется и шаг становится Failed.
func (o *Orchestrator) ConfirmPayment(ctx context.Context, name, email string) (State, error) {
	o.mu.Lock()
	if o.state != StateAwaitingPaymentConfirmation && o.state != StateFailed {
		state := o.state
		o.mu.Unlock()
		return state, fmt.Errorf("%w: confirm payment in %s", ErrInvalidState, state)
	}
	if o.address == "" {
		state := o.state
		o.mu.Unlock()
		return state, ErrAddressRequired
	}
	o.state = StateAwaitingPaymentConfirmation
	secret, orderID := o.clientSecret, o.orderID
	billing := domain.BillingDetails{Name: name, Email: email, Address: o.address}
	o.mu.Unlock()

	confirmation, err := o.confirmer.ConfirmPayment(ctx, secret, billing)
	if err != nil {
		o.setState(StateFailed)

		o.logger.WithError(err).WithField("order_id", orderID).Warn("payment confirmation failed")
		o.notifier.Error(providerMessage(err))
		return StateFailed, err
	}

	if confirmation.Status != domain.IntentStatusSucceeded {
		o.logger.WithFields(log.Fields{
			"order_id": orderID,
			"status":   confirmation.Status,
		}).Info("payment not yet settled")
		o.notifier.Info(msgPaymentPending)
		return StateAwaitingPaymentConfirmation, nil
	}

	o.cart.ClearCart()
	o.setState(StateConfirmed)
	o.navigator.Navigate(successPath + "?orderId=" + url.QueryEscape(orderID))
	return StateConfirmed, nil
}

func (o *Orchestrator) setState(state State) {
	o.mu.Lock()
	o.state = state
	o.mu.Unlock()
}

func snapshot(items []domain.CartLineItem) []IntentItem {
	result := make([]IntentItem, 0, len(items))
	for _, item := range items {
		result = append(result, IntentItem{
			LineID:    item.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
			Size:      item.Size,
			Color:     item.Color.Name,
		})
	}
	return result
}

// ProviderError — ошибка провайдера с сообщением для покупателя.
type ProviderError interface {
	error
	UserMessage() string
}

func providerMessage(err error) string {
	var pe ProviderError
	if errors.As(err, &pe) && pe.UserMessage() != "" {
		return pe.UserMessage()
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return msgPaymentFallback
}
