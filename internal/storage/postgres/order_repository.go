package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	orderColumns     = `id, user_id, total, payment_status, status, address, payment_intent_id, version, created_at, updated_at`
	orderItemColumns = `id, order_id, product_id, quantity, price, size, color, cart_line_id, created_at`

	insertOrderSQL = `INSERT INTO orders (` + orderColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	selectOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	// $2 = '' отключает фильтр по статусу.
	userOrdersFilter = `FROM orders WHERE user_id = $1 AND ($2 = '' OR status = $2)`
	countUserSQL     = `SELECT COUNT(*) ` + userOrdersFilter
	pageUserSQL      = `SELECT ` + orderColumns + ` ` + userOrdersFilter + `
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`

	selectItemsSQL = `SELECT ` + orderItemColumns + ` FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY created_at, id`

	// Позиции после создания не меняются, поэтому Save трогает только шапку заказа.
	saveOrderSQL = `UPDATE orders
		SET payment_status = $3, status = $4, address = $5, payment_intent_id = $6,
		    updated_at = $7, version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING version`
	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

// Create пишет заказ и все его позиции одной транзакцией.
func (r *orderRepository) Create(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, insertOrderSQL,
			order.ID, order.UserID, order.Total, string(order.PaymentStatus), string(order.Status),
			order.Address, order.PaymentIntentID, order.Version, order.CreatedAt, order.UpdatedAt)
		switch {
		case isUniqueViolation(err):
			return domain.ErrOrderVersionConflict
		case err != nil:
			return fmt.Errorf("insert order %s: %w", order.ID, err)
		}

		if len(order.Items) == 0 {
			return nil
		}
		query, args := insertItemsQuery(order.ID, order.Items)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert items of %s: %w", order.ID, err)
		}
		return nil
	})
}

// insertItemsQuery собирает многострочный INSERT для позиций заказа.
func insertItemsQuery(orderID string, items []domain.OrderItem) (string, []any) {
	const perRow = 9
	var sb strings.Builder
	sb.WriteString(`INSERT INTO order_items (` + orderItemColumns + `) VALUES `)

	args := make([]any, 0, len(items)*perRow)
	for i, item := range items {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * perRow
		sb.WriteByte('(')
		for col := 1; col <= perRow; col++ {
			if col > 1 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", n+col)
		}
		sb.WriteByte(')')
		args = append(args, item.ID, orderID, item.ProductID, item.Quantity, item.Price, item.Size, item.Color, item.CartLineID, item.CreatedAt)
	}
	return sb.String(), args
}

func (r *orderRepository) Get(id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, selectOrderSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("select order %s: %w", id, err)
	}

	orders := []domain.Order{order}
	if err := r.attachItems(ctx, orders); err != nil {
		return domain.Order{}, err
	}
	return orders[0], nil
}

// ListByUser возвращает страницу заказов (новые первыми) и общее число
// заказов пользователя под фильтром. Limit <= 0 отдаёт все.
func (r *orderRepository) ListByUser(userID string, filter domain.OrderListFilter) ([]domain.Order, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	status := string(filter.Status)
	var total int
	if err := r.db.QueryRowContext(ctx, countUserSQL, userID, status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders of %s: %w", userID, err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = total
	}
	orders := make([]domain.Order, 0, min(limit, total))
	if total == 0 {
		return orders, 0, nil
	}

	rows, err := r.db.QueryContext(ctx, pageUserSQL, userID, status, limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders of %s: %w", userID, err)
	}
	defer rows.Close()

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list orders of %s: %w", userID, err)
	}

	if err := r.attachItems(ctx, orders); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// Save применяет изменения, только если версия в базе совпадает с order.Version.
func (r *orderRepository) Save(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var version int64
	err := r.db.QueryRowContext(ctx, saveOrderSQL,
		order.ID, order.Version,
		string(order.PaymentStatus), string(order.Status), order.Address, order.PaymentIntentID,
		order.UpdatedAt,
	).Scan(&version)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update order %s: %w", order.ID, err)
	}

	// Ни одна строка не подошла: либо заказа нет, либо версия устарела.
	var exists bool
	if err := r.db.QueryRowContext(ctx, orderExistsSQL, order.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check order %s: %w", order.ID, err)
	}
	if !exists {
		return domain.ErrOrderNotFound
	}
	return domain.ErrOrderVersionConflict
}

// attachItems подгружает позиции всех заказов одним запросом.
func (r *orderRepository) attachItems(ctx context.Context, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	index := make(map[string]int, len(orders))
	ids := make([]string, len(orders))
	for i, order := range orders {
		index[order.ID] = i
		ids[i] = order.ID
	}

	rows, err := r.db.QueryContext(ctx, selectItemsSQL, ids)
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item    domain.OrderItem
			orderID string
		)
		if err := rows.Scan(&item.ID, &orderID, &item.ProductID, &item.Quantity,
			&item.Price, &item.Size, &item.Color, &item.CartLineID, &item.CreatedAt); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		if i, ok := index[orderID]; ok {
			orders[i].Items = append(orders[i].Items, item)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	return nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order                 domain.Order
		paymentStatus, status string
	)
	err := row.Scan(&order.ID, &order.UserID, &order.Total, &paymentStatus, &status,
		&order.Address, &order.PaymentIntentID, &order.Version, &order.CreatedAt, &order.UpdatedAt)
	order.PaymentStatus = domain.PaymentStatus(paymentStatus)
	order.Status = domain.OrderStatus(status)
	return order, err
}

var _ domain.OrderRepository = (*orderRepository)(nil)
