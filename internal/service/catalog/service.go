package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// ProductInput — поля товара, которые задаёт администратор.
type ProductInput struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Images      []string        `json:"images"`
	BrandID     string          `json:"brandId"`
	CategoryID  string          `json:"categoryId"`
	SizeIDs     []string        `json:"sizeIds"`
	ColorIDs    []string        `json:"colorIds"`
	Featured    bool            `json:"featured"`
	Archived    bool            `json:"archived"`
	Stock       int             `json:"stock"`
}

type BrandInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type CategoryInput struct {
	Name string `json:"name"`
}

type SizeInput struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type ColorInput struct {
	Name string `json:"name"`
	Hex  string `json:"hex"`
}

// Service — витрина каталога и административные операции над справочниками.
type Service struct {
	repo   domain.CatalogRepository
	logger *log.Entry
	now    func() time.Time
	newID  func() string
}

// NewService создаёт сервис каталога.
func NewService(repo domain.CatalogRepository, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "catalog-service")
	}
	return &Service{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

func (s *Service) ListProducts(filter domain.ProductFilter) ([]domain.Product, error) {
	return s.repo.ListProducts(filter)
}

// GetProduct возвращает товар. Архивные товары видны только при includeArchived.
func (s *Service) GetProduct(id string, includeArchived bool) (domain.Product, error) {
	product, err := s.repo.GetProduct(id)
	if err != nil {
		return domain.Product{}, err
	}
	if product.Archived && !includeArchived {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

func (s *Service) CreateProduct(in ProductInput) (domain.Product, error) {
	if err := validateProduct(in); err != nil {
		return domain.Product{}, err
	}

	now := s.now()
	product := productFromInput(in)
	product.ID = s.newID()
	product.CreatedAt = now
	product.UpdatedAt = now

	if err := s.repo.CreateProduct(product); err != nil {
		return domain.Product{}, err
	}
	s.logger.WithField("product_id", product.ID).Info("product created")
	return s.repo.GetProduct(product.ID)
}

func (s *Service) UpdateProduct(id string, in ProductInput) (domain.Product, error) {
	if err := validateProduct(in); err != nil {
		return domain.Product{}, err
	}
	existing, err := s.repo.GetProduct(id)
	if err != nil {
		return domain.Product{}, err
	}

	product := productFromInput(in)
	product.ID = existing.ID
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = s.now()

	if err := s.repo.UpdateProduct(product); err != nil {
		return domain.Product{}, err
	}
	s.logger.WithField("product_id", id).Info("product updated")
	return s.repo.GetProduct(id)
}

func (s *Service) DeleteProduct(id string) error {
	if err := s.repo.DeleteProduct(id); err != nil {
		return err
	}
	s.logger.WithField("product_id", id).Info("product deleted")
	return nil
}

func (s *Service) ListBrands() ([]domain.Brand, error) {
	return s.repo.ListBrands()
}

func (s *Service) CreateBrand(in BrandInput) (domain.Brand, error) {
	name, slug, err := nameAndSlug(in.Name)
	if err != nil {
		return domain.Brand{}, err
	}
	now := s.now()
	brand := domain.Brand{ID: s.newID(), Name: name, Slug: slug, Description: strings.TrimSpace(in.Description), CreatedAt: now, UpdatedAt: now}
	if err := s.repo.CreateBrand(brand); err != nil {
		return domain.Brand{}, err
	}
	return brand, nil
}

func (s *Service) UpdateBrand(id string, in BrandInput) (domain.Brand, error) {
	name, slug, err := nameAndSlug(in.Name)
	if err != nil {
		return domain.Brand{}, err
	}
	brand, err := s.repo.GetBrand(id)
	if err != nil {
		return domain.Brand{}, err
	}
	brand.Name, brand.Slug, brand.Description = name, slug, strings.TrimSpace(in.Description)
	brand.UpdatedAt = s.now()
	if err := s.repo.UpdateBrand(brand); err != nil {
		return domain.Brand{}, err
	}
	return brand, nil
}

func (s *Service) DeleteBrand(id string) error {
	return s.repo.DeleteBrand(id)
}

func (s *Service) ListCategories() ([]domain.Category, error) {
	return s.repo.ListCategories()
}

func (s *Service) CreateCategory(in CategoryInput) (domain.Category, error) {
	name, slug, err := nameAndSlug(in.Name)
	if err != nil {
		return domain.Category{}, err
	}
	now := s.now()
	category := domain.Category{ID: s.newID(), Name: name, Slug: slug, CreatedAt: now, UpdatedAt: now}
	if err := s.repo.CreateCategory(category); err != nil {
		return domain.Category{}, err
	}
	return category, nil
}

func (s *Service) UpdateCategory(id string, in CategoryInput) (domain.Category, error) {
	name, slug, err := nameAndSlug(in.Name)
	if err != nil {
		return domain.Category{}, err
	}
	category, err := s.repo.GetCategory(id)
	if err != nil {
		return domain.Category{}, err
	}
	category.Name, category.Slug = name, slug
	category.UpdatedAt = s.now()
	if err := s.repo.UpdateCategory(category); err != nil {
		return domain.Category{}, err
	}
	return category, nil
}

func (s *Service) DeleteCategory(id string) error {
	return s.repo.DeleteCategory(id)
}

func (s *Service) ListSizes() ([]domain.Size, error) {
	return s.repo.ListSizes()
}

func (s *Service) CreateSize(in SizeInput) (domain.Size, error) {
	if err := validateSize(in); err != nil {
		return domain.Size{}, err
	}
	now := s.now()
	size := domain.Size{ID: s.newID(), Name: strings.TrimSpace(in.Name), Type: strings.TrimSpace(in.Type), CreatedAt: now, UpdatedAt: now}
	if err := s.repo.CreateSize(size); err != nil {
		return domain.Size{}, err
	}
	return size, nil
}

func (s *Service) UpdateSize(id string, in SizeInput) (domain.Size, error) {
	if err := validateSize(in); err != nil {
		return domain.Size{}, err
	}
	size, err := s.repo.GetSize(id)
	if err != nil {
		return domain.Size{}, err
	}
	size.Name, size.Type = strings.TrimSpace(in.Name), strings.TrimSpace(in.Type)
	size.UpdatedAt = s.now()
	if err := s.repo.UpdateSize(size); err != nil {
		return domain.Size{}, err
	}
	return size, nil
}

func (s *Service) DeleteSize(id string) error {
	return s.repo.DeleteSize(id)
}

func (s *Service) ListColors() ([]domain.Color, error) {
	return s.repo.ListColors()
}

func (s *Service) CreateColor(in ColorInput) (domain.Color, error) {
	if err := validateColor(in); err != nil {
		return domain.Color{}, err
	}
	now := s.now()
	color := domain.Color{ID: s.newID(), Name: strings.TrimSpace(in.Name), Hex: strings.TrimSpace(in.Hex), CreatedAt: now, UpdatedAt: now}
	if err := s.repo.CreateColor(color); err != nil {
		return domain.Color{}, err
	}
	return color, nil
}

func (s *Service) UpdateColor(id string, in ColorInput) (domain.Color, error) {
	if err := validateColor(in); err != nil {
		return domain.Color{}, err
	}
	color, err := s.repo.GetColor(id)
	if err != nil {
		return domain.Color{}, err
	}
	color.Name, color.Hex = strings.TrimSpace(in.Name), strings.TrimSpace(in.Hex)
	color.UpdatedAt = s.now()
	if err := s.repo.UpdateColor(color); err != nil {
		return domain.Color{}, err
	}
	return color, nil
}

func (s *Service) DeleteColor(id string) error {
	return s.repo.DeleteColor(id)
}

func validateProduct(in ProductInput) error {
	switch {
	case strings.TrimSpace(in.Title) == "":
		return fmt.Errorf("%w: title is required", domain.ErrInvalidArgument)
	case !in.Price.IsPositive():
		return fmt.Errorf("%w: price must be greater than zero", domain.ErrInvalidArgument)
	case in.CategoryID == "":
		return fmt.Errorf("%w: categoryId is required", domain.ErrInvalidArgument)
	case in.BrandID == "":
		return fmt.Errorf("%w: brandId is required", domain.ErrInvalidArgument)
	case in.Stock < 0:
		return fmt.Errorf("%w: stock must be non-negative", domain.ErrInvalidArgument)
	}
	return nil
}

func validateSize(in SizeInput) error {
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.Type) == "" {
		return fmt.Errorf("%w: name and type are required", domain.ErrInvalidArgument)
	}
	return nil
}

func validateColor(in ColorInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name is required", domain.ErrInvalidArgument)
	}
	if !domain.ValidHex(strings.TrimSpace(in.Hex)) {
		return fmt.Errorf("%w: hex must look like #RRGGBB", domain.ErrInvalidArgument)
	}
	return nil
}

func nameAndSlug(raw string) (string, string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", "", fmt.Errorf("%w: name is required", domain.ErrInvalidArgument)
	}
	slug := domain.Slugify(name)
	if slug == "" {
		return "", "", fmt.Errorf("%w: name must contain letters or digits", domain.ErrInvalidArgument)
	}
	return name, slug, nil
}

func productFromInput(in ProductInput) domain.Product {
	return domain.Product{
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Price:       in.Price,
		Images:      append([]string(nil), in.Images...),
		BrandID:     in.BrandID,
		CategoryID:  in.CategoryID,
		SizeIDs:     append([]string(nil), in.SizeIDs...),
		ColorIDs:    append([]string(nil), in.ColorIDs...),
		Featured:    in.Featured,
		Archived:    in.Archived,
		Stock:       in.Stock,
	}
}
