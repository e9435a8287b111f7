package domain

import (
	"regexp"
	"time"
)

var phonePattern = regexp.MustCompile(`^\+?[\d\s-]{10,}$`)

// Identity — данные пользователя из токена провайдера идентификации.
type Identity struct {
	UserID    string
	Email     string
	FirstName string
	LastName  string
	ImageURL  string
}

// User — профиль покупателя, синхронизированный с провайдером идентификации.
type User struct {
	ID               string
	Email            string
	FirstName        string
	LastName         string
	ImageURL         string
	Phone            string
	Address          string
	StripeCustomerID string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// FullName склеивает имя и фамилию.
func (u User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}

// ValidPhone проверяет телефон: необязательный "+", затем не менее 10 цифр, пробелов или дефисов.
func ValidPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}
