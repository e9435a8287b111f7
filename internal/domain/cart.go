package domain

import (
	"github.com/shopspring/decimal"
)

const (
	// MinLineQuantity — минимальное количество в строке корзины.
	MinLineQuantity = 1
	// MaxLineQuantity — максимальное количество, которое можно выставить через UpdateQuantity.
	MaxLineQuantity = 10
)

// LineColor — цвет, выбранный покупателем для строки корзины.
type LineColor struct {
	Name string `json:"name"`
	Hex  string `json:"hex"`
}

// CartLineItem — одна строка корзины (товар + размер + цвет).
type CartLineItem struct {
	ID        string          `json:"id"`
	ProductID string          `json:"productId"`
	Title     string          `json:"title"`
	Price     decimal.Decimal `json:"price"`
	Image     string          `json:"image"`
	Quantity  int             `json:"quantity"`
	Size      string          `json:"size"`
	Color     LineColor       `json:"color"`
	Brand     string          `json:"brand"`
}

// SameLine сообщает, описывают ли две строки одну логическую позицию.
func (i CartLineItem) SameLine(other CartLineItem) bool {
	return i.ProductID == other.ProductID &&
		i.Size == other.Size &&
		i.Color.Name == other.Color.Name
}

// LineTotal возвращает price*quantity.
func (i CartLineItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// CartLineRef ссылается на оплаченную часть строки корзины.
type CartLineRef struct {
	LineID   string `json:"line_id"`
	Quantity int    `json:"quantity"`
}

// QuantityInRange проверяет границы количества для обновления строки.
func QuantityInRange(quantity int) bool {
	return quantity >= MinLineQuantity && quantity <= MaxLineQuantity
}
