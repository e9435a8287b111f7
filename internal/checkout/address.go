package checkout

import (
	"fmt"
	"sort"
	"strings"
)

// Address — адрес доставки из формы checkout.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// ValidationError перечисляет незаполненные обязательные поля.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("invalid address: %s", strings.Join(names, ", "))
}

// Validate проверяет обязательные поля: line1, city, state, postalCode.
func (a Address) Validate() error {
	fields := make(map[string]string)
	required := []struct {
		name  string
		value string
	}{
		{"line1", a.Line1},
		{"city", a.City},
		{"state", a.State},
		{"postalCode", a.PostalCode},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			fields[field.name] = "is required"
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Compose собирает адрес в одну строку: "line1, line2, city, state postalCode, country".
// Пустые необязательные части пропускаются.
func (a Address) Compose() string {
	regionParts := make([]string, 0, 2)
	for _, part := range []string{a.State, a.PostalCode} {
		if part = strings.TrimSpace(part); part != "" {
			regionParts = append(regionParts, part)
		}
	}

	parts := make([]string, 0, 5)
	for _, part := range []string{a.Line1, a.Line2, a.City, strings.Join(regionParts, " "), a.Country} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, ", ")
}
