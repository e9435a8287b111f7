package account

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	DefaultOrdersLimit = 10
	MaxOrdersLimit     = 50
)

// ProfileInput — частичное обновление профиля: nil-поле не меняется.
type ProfileInput struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Phone     *string `json:"phone"`
}

// OrderPage — страница истории заказов.
type OrderPage struct {
	Orders  []domain.Order
	Total   int
	HasMore bool
}

// OrderDetails — заказ вместе с его таймлайном.
type OrderDetails struct {
	Order    domain.Order
	Timeline []domain.TimelineEvent
}

// Service — профиль покупателя и история его заказов.
type Service struct {
	users    domain.UserRepository
	orders   domain.OrderRepository
	timeline domain.TimelineRepository
	logger   *log.Entry
}

// NewService создаёт сервис аккаунта. timeline может быть nil.
func NewService(users domain.UserRepository, orders domain.OrderRepository, timeline domain.TimelineRepository, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "account-service")
	}
	return &Service{users: users, orders: orders, timeline: timeline, logger: logger}
}

// Sync создаёт или обновляет пользователя по данным провайдера идентификации.
func (s *Service) Sync(identity domain.Identity) (domain.User, error) {
	if identity.UserID == "" {
		return domain.User{}, domain.ErrUnauthorized
	}
	user, err := s.users.Upsert(identity)
	if err != nil {
		return domain.User{}, fmt.Errorf("sync user: %w", err)
	}
	s.logger.WithField("user_id", user.ID).Debug("user synced")
	return user, nil
}

func (s *Service) Profile(userID string) (domain.User, error) {
	if userID == "" {
		return domain.User{}, domain.ErrUnauthorized
	}
	return s.users.Get(userID)
}

func (s *Service) UpdateProfile(userID string, in ProfileInput) (domain.User, error) {
	user, err := s.Profile(userID)
	if err != nil {
		return domain.User{}, err
	}

	if in.Phone != nil {
		phone := strings.TrimSpace(*in.Phone)
		if phone != "" && !domain.ValidPhone(phone) {
			return domain.User{}, fmt.Errorf("%w: invalid phone number", domain.ErrInvalidArgument)
		}
		user.Phone = phone
	}
	if in.FirstName != nil {
		user.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		user.LastName = strings.TrimSpace(*in.LastName)
	}

	if err := s.users.Update(user); err != nil {
		return domain.User{}, err
	}
	return s.users.Get(userID)
}

func (s *Service) UpdateAddress(userID, address string) (domain.User, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return domain.User{}, fmt.Errorf("%w: address is required", domain.ErrInvalidArgument)
	}
	user, err := s.Profile(userID)
	if err != nil {
		return domain.User{}, err
	}
	user.Address = address
	if err := s.users.Update(user); err != nil {
		return domain.User{}, err
	}
	return s.users.Get(userID)
}

// ListOrders возвращает заказы пользователя, новые первыми.
func (s *Service) ListOrders(userID string, filter domain.OrderListFilter) (OrderPage, error) {
	if userID == "" {
		return OrderPage{}, domain.ErrUnauthorized
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return OrderPage{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidArgument, filter.Status)
	}
	if filter.Offset < 0 {
		return OrderPage{}, fmt.Errorf("%w: offset must be non-negative", domain.ErrInvalidArgument)
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = DefaultOrdersLimit
	case filter.Limit > MaxOrdersLimit:
		filter.Limit = MaxOrdersLimit
	}

	orders, total, err := s.orders.ListByUser(userID, filter)
	if err != nil {
		return OrderPage{}, fmt.Errorf("list orders: %w", err)
	}
	return OrderPage{
		Orders:  orders,
		Total:   total,
		HasMore: filter.Offset+len(orders) < total,
	}, nil
}

// GetOrder возвращает заказ пользователя. Чужой заказ неотличим от отсутствующего.
func (s *Service) GetOrder(userID, orderID string) (OrderDetails, error) {
	if userID == "" {
		return OrderDetails{}, domain.ErrUnauthorized
	}
	order, err := s.orders.Get(orderID)
	if err != nil {
		return OrderDetails{}, err
	}
	if order.UserID != userID {
		return OrderDetails{}, domain.ErrOrderNotFound
	}

	details := OrderDetails{Order: order, Timeline: []domain.TimelineEvent{}}
	if s.timeline != nil {
		events, err := s.timeline.List(orderID)
		if err != nil {
			s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to load order timeline")
		} else {
			details.Timeline = events
		}
	}
	return details, nil
}
