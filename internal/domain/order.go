package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AddressPlaceholder записывается в заказ при создании, пока покупатель не уточнил адрес.
const AddressPlaceholder = "To be updated"

// PaymentStatus описывает состояние оплаты заказа.
type PaymentStatus string

const (
	// PaymentStatusPending — intent создан, результат оплаты ещё неизвестен.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusPaid — провайдер подтвердил списание.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusFailed — провайдер сообщил об ошибке оплаты.
	PaymentStatusFailed PaymentStatus = "failed"
)

// Valid проверяет, что статус оплаты относится к поддерживаемым значениям.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed:
		return true
	default:
		return false
	}
}

// OrderStatus описывает жизненный цикл заказа в магазине.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан на старте checkout, оплата не завершена.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing — оплата получена, заказ передан в обработку.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — заказ доставлен.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled — заказ отменён (например, после неуспешной оплаты).
	OrderStatusCancelled OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
	// Повторная успешная оплата после неуспешной попытки по тому же intent.
	OrderStatusCancelled: {OrderStatusProcessing},
}

// Valid проверяет, что статус заказа относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo сообщает, разрешён ли переход s -> next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// OrderItem — снимок позиции корзины на момент оформления заказа.
// Поля копируются и не зависят от последующих правок каталога.
type OrderItem struct {
	ID        string
	ProductID string
	Quantity  int
	Price     decimal.Decimal
	Size      string
	Color     string
	// CartLineID — строка корзины, из которой взята позиция; пусто для заказов без корзины.
	CartLineID string
	CreatedAt  time.Time
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID              string
	UserID          string
	Total           decimal.Decimal
	PaymentStatus   PaymentStatus
	Status          OrderStatus
	Address         string
	PaymentIntentID string
	Items           []OrderItem
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ItemsTotal возвращает сумму price*quantity по всем позициям.
func (o *Order) ItemsTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range o.Items {
		sum = sum.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return sum
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUserIDRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if !o.Total.IsPositive() {
		errs = append(errs, ErrAmountInvalid)
	}

	for _, item := range o.Items {
		if item.ProductID == "" {
			errs = append(errs, ErrItemProductRequired)
		}
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.Price.IsNegative() {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}
	// Total включает доставку, поэтому он не может быть меньше суммы позиций.
	if len(o.Items) > 0 && o.Total.LessThan(o.ItemsTotal()) {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// MarkPaid переводит заказ в paid/processing и фиксирует идентификатор intent.
// Повторный вызов для уже оплаченного заказа ничего не меняет.
func (o *Order) MarkPaid(intentID string, now time.Time) bool {
	if o.PaymentStatus == PaymentStatusPaid {
		if intentID == "" || o.PaymentIntentID == intentID {
			return false
		}
		o.PaymentIntentID = intentID
		o.UpdatedAt = now
		return true
	}

	o.PaymentStatus = PaymentStatusPaid
	o.Status = OrderStatusProcessing
	if intentID != "" {
		o.PaymentIntentID = intentID
	}
	o.UpdatedAt = now
	return true
}

// MarkPaymentFailed переводит заказ в failed/cancelled.
// Для оплаченного заказа возвращает ErrOrderAlreadyPaid.
func (o *Order) MarkPaymentFailed(now time.Time) (bool, error) {
	switch {
	case o.PaymentStatus == PaymentStatusPaid:
		return false, ErrOrderAlreadyPaid
	case o.PaymentStatus == PaymentStatusFailed && o.Status == OrderStatusCancelled:
		return false, nil
	}

	o.PaymentStatus = PaymentStatusFailed
	o.Status = OrderStatusCancelled
	o.UpdatedAt = now
	return true, nil
}

// ToMinorUnits переводит сумму в минимальные единицы валюты (центы) с округлением.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// OrderListFilter задаёт параметры выборки заказов пользователя.
type OrderListFilter struct {
	Status OrderStatus
	Limit  int
	Offset int
}
