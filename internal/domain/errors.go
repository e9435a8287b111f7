package domain

import "errors"

var (
	// ErrInvalidArgument — общая ошибка валидации входных данных.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnauthorized — запрос без аутентифицированного пользователя.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden — пользователь аутентифицирован, но прав недостаточно.
	ErrForbidden = errors.New("forbidden")
	// ErrDuplicate — запись с таким уникальным ключом уже существует.
	ErrDuplicate = errors.New("already exists")
	// ErrReferenced — справочник нельзя удалить, пока на него ссылаются товары.
	ErrReferenced = errors.New("record is referenced by products")

	// Ошибка отсутствующего идентификатора пользователя в заказе.
	ErrUserIDRequired = errors.New("user_id is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка неположительной суммы заказа.
	ErrAmountInvalid = errors.New("amount must be greater than zero")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка отсутствующего товара в позиции заказа.
	ErrItemProductRequired = errors.New("item product_id is required")
	// Ошибка, если сумма заказа меньше суммы позиций.
	ErrAmountMismatch = errors.New("order amount is less than items sum")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrOrderAlreadyPaid — попытка перевести оплаченный заказ в failed.
	ErrOrderAlreadyPaid = errors.New("order is already paid")
	// ErrInvalidTransition — переход статуса заказа не разрешён.
	ErrInvalidTransition = errors.New("invalid order status transition")

	// ErrUserNotFound возвращается, если пользователь ещё не синхронизирован.
	ErrUserNotFound = errors.New("user not found")
	// ErrProductNotFound возвращается, если товар не найден.
	ErrProductNotFound = errors.New("product not found")
	// ErrBrandNotFound возвращается, если бренд не найден.
	ErrBrandNotFound = errors.New("brand not found")
	// ErrCategoryNotFound возвращается, если категория не найдена.
	ErrCategoryNotFound = errors.New("category not found")
	// ErrSizeNotFound возвращается, если размер не найден.
	ErrSizeNotFound = errors.New("size not found")
	// ErrColorNotFound возвращается, если цвет не найден.
	ErrColorNotFound = errors.New("color not found")

	// ErrInvalidSignature — подпись webhook-события не прошла проверку.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedEvent — событие подписано корректно, но не содержит нужных полей.
	ErrMalformedEvent = errors.New("malformed webhook event")
	// ErrPaymentProvider — ошибка при обращении к платёжному провайдеру.
	ErrPaymentProvider = errors.New("payment provider error")

	// ErrIdempotencyKeyRequired — пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой хеш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже использован (см. сохранённую запись).
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ использован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound — записи с таким ключом нет.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsIdempotencyConflict сообщает, что ключ уже занят (с тем же или другим запросом).
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// IsNotFound объединяет все ошибки «запись не найдена».
func IsNotFound(err error) bool {
	for _, target := range []error{
		ErrOrderNotFound,
		ErrUserNotFound,
		ErrProductNotFound,
		ErrBrandNotFound,
		ErrCategoryNotFound,
		ErrSizeNotFound,
		ErrColorNotFound,
		ErrIdempotencyKeyNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
