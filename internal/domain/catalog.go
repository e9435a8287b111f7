package domain

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Brand — бренд товара.
type Brand struct {
	ID          string
	Name        string
	Slug        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Category — категория каталога.
type Category struct {
	ID        string
	Name      string
	Slug      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Size — размер из справочника (тип: clothing, shoes и т.п.).
type Size struct {
	ID        string
	Name      string
	Type      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Color — цвет из справочника.
type Color struct {
	ID        string
	Name      string
	Hex       string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Product — товар каталога. Brand, Category, Sizes и Colors заполняются при чтении.
type Product struct {
	ID          string
	Title       string
	Description string
	Price       decimal.Decimal
	Images      []string
	BrandID     string
	CategoryID  string
	SizeIDs     []string
	ColorIDs    []string
	Featured    bool
	Archived    bool
	Stock       int

	Brand    *Brand
	Category *Category
	Sizes    []Size
	Colors   []Color

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProductFilter — параметры выборки товаров для витрины и админки.
type ProductFilter struct {
	BrandSlug       string
	CategorySlug    string
	FeaturedOnly    bool
	IncludeArchived bool
}

var (
	slugInvalidChars = regexp.MustCompile(`[^a-z0-9]+`)
	hexColorPattern  = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)
)

// Slugify строит URL-slug из названия: "Nike Air" -> "nike-air".
func Slugify(name string) string {
	slug := slugInvalidChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	return strings.Trim(slug, "-")
}

// ValidHex проверяет формат цвета #RGB или #RRGGBB.
func ValidHex(hex string) bool {
	return hexColorPattern.MatchString(hex)
}
