package memory

import (
	"sort"
	"strings"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// catalogRepositoryInMemory держит товары и справочники в памяти.
// Связи (бренд, категория, размеры, цвета) раскрываются при чтении товара.
type catalogRepositoryInMemory struct {
	mu         sync.RWMutex
	products   map[string]domain.Product
	brands     map[string]domain.Brand
	categories map[string]domain.Category
	sizes      map[string]domain.Size
	colors     map[string]domain.Color
}

// NewCatalogRepository создаёт in-memory реализацию CatalogRepository.
func NewCatalogRepository() domain.CatalogRepository {
	return &catalogRepositoryInMemory{
		products:   make(map[string]domain.Product),
		brands:     make(map[string]domain.Brand),
		categories: make(map[string]domain.Category),
		sizes:      make(map[string]domain.Size),
		colors:     make(map[string]domain.Color),
	}
}

func (r *catalogRepositoryInMemory) ListProducts(filter domain.ProductFilter) ([]domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Product, 0, len(r.products))
	for _, product := range r.products {
		if product.Archived && !filter.IncludeArchived {
			continue
		}
		if filter.FeaturedOnly && !product.Featured {
			continue
		}
		if filter.BrandSlug != "" && r.brands[product.BrandID].Slug != filter.BrandSlug {
			continue
		}
		if filter.CategorySlug != "" && r.categories[product.CategoryID].Slug != filter.CategorySlug {
			continue
		}
		result = append(result, r.expand(product))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (r *catalogRepositoryInMemory) GetProduct(id string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return r.expand(product), nil
}

func (r *catalogRepositoryInMemory) CreateProduct(product domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.products[product.ID]; exists {
		return domain.ErrDuplicate
	}
	if err := r.checkRefs(product); err != nil {
		return err
	}
	r.products[product.ID] = stripProduct(product)
	return nil
}

func (r *catalogRepositoryInMemory) UpdateProduct(product domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.products[product.ID]
	if !ok {
		return domain.ErrProductNotFound
	}
	if err := r.checkRefs(product); err != nil {
		return err
	}
	product.CreatedAt = current.CreatedAt
	r.products[product.ID] = stripProduct(product)
	return nil
}

func (r *catalogRepositoryInMemory) DeleteProduct(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.products[id]; !ok {
		return domain.ErrProductNotFound
	}
	delete(r.products, id)
	return nil
}

func (r *catalogRepositoryInMemory) ListBrands() ([]domain.Brand, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Brand, 0, len(r.brands))
	for _, brand := range r.brands {
		result = append(result, brand)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (r *catalogRepositoryInMemory) GetBrand(id string) (domain.Brand, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	brand, ok := r.brands[id]
	if !ok {
		return domain.Brand{}, domain.ErrBrandNotFound
	}
	return brand, nil
}

func (r *catalogRepositoryInMemory) CreateBrand(brand domain.Brand) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.brands {
		if existing.ID == brand.ID || sameName(existing.Name, brand.Name) || existing.Slug == brand.Slug {
			return domain.ErrDuplicate
		}
	}
	r.brands[brand.ID] = brand
	return nil
}

func (r *catalogRepositoryInMemory) UpdateBrand(brand domain.Brand) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.brands[brand.ID]
	if !ok {
		return domain.ErrBrandNotFound
	}
	for _, existing := range r.brands {
		if existing.ID != brand.ID && (sameName(existing.Name, brand.Name) || existing.Slug == brand.Slug) {
			return domain.ErrDuplicate
		}
	}
	brand.CreatedAt = current.CreatedAt
	r.brands[brand.ID] = brand
	return nil
}

func (r *catalogRepositoryInMemory) DeleteBrand(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.brands[id]; !ok {
		return domain.ErrBrandNotFound
	}
	for _, product := range r.products {
		if product.BrandID == id {
			return domain.ErrReferenced
		}
	}
	delete(r.brands, id)
	return nil
}

func (r *catalogRepositoryInMemory) ListCategories() ([]domain.Category, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Category, 0, len(r.categories))
	for _, category := range r.categories {
		result = append(result, category)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (r *catalogRepositoryInMemory) GetCategory(id string) (domain.Category, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	category, ok := r.categories[id]
	if !ok {
		return domain.Category{}, domain.ErrCategoryNotFound
	}
	return category, nil
}

func (r *catalogRepositoryInMemory) CreateCategory(category domain.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.categories {
		if existing.ID == category.ID || sameName(existing.Name, category.Name) || existing.Slug == category.Slug {
			return domain.ErrDuplicate
		}
	}
	r.categories[category.ID] = category
	return nil
}

func (r *catalogRepositoryInMemory) UpdateCategory(category domain.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.categories[category.ID]
	if !ok {
		return domain.ErrCategoryNotFound
	}
	for _, existing := range r.categories {
		if existing.ID != category.ID && (sameName(existing.Name, category.Name) || existing.Slug == category.Slug) {
			return domain.ErrDuplicate
		}
	}
	category.CreatedAt = current.CreatedAt
	r.categories[category.ID] = category
	return nil
}

func (r *catalogRepositoryInMemory) DeleteCategory(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.categories[id]; !ok {
		return domain.ErrCategoryNotFound
	}
	for _, product := range r.products {
		if product.CategoryID == id {
			return domain.ErrReferenced
		}
	}
	delete(r.categories, id)
	return nil
}

func (r *catalogRepositoryInMemory) ListSizes() ([]domain.Size, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Size, 0, len(r.sizes))
	for _, size := range r.sizes {
		result = append(result, size)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Type != result[j].Type {
			return result[i].Type < result[j].Type
		}
		return result[i].Name < result[j].Name
	})
	return result, nil
}

func (r *catalogRepositoryInMemory) GetSize(id string) (domain.Size, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	size, ok := r.sizes[id]
	if !ok {
		return domain.Size{}, domain.ErrSizeNotFound
	}
	return size, nil
}

func (r *catalogRepositoryInMemory) CreateSize(size domain.Size) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sizes[size.ID]; exists {
		return domain.ErrDuplicate
	}
	r.sizes[size.ID] = size
	return nil
}

func (r *catalogRepositoryInMemory) UpdateSize(size domain.Size) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sizes[size.ID]
	if !ok {
		return domain.ErrSizeNotFound
	}
	size.CreatedAt = current.CreatedAt
	r.sizes[size.ID] = size
	return nil
}

func (r *catalogRepositoryInMemory) DeleteSize(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sizes[id]; !ok {
		return domain.ErrSizeNotFound
	}
	delete(r.sizes, id)
	for productID, product := range r.products {
		product.SizeIDs = without(product.SizeIDs, id)
		r.products[productID] = product
	}
	return nil
}

func (r *catalogRepositoryInMemory) ListColors() ([]domain.Color, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Color, 0, len(r.colors))
	for _, color := range r.colors {
		result = append(result, color)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (r *catalogRepositoryInMemory) GetColor(id string) (domain.Color, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	color, ok := r.colors[id]
	if !ok {
		return domain.Color{}, domain.ErrColorNotFound
	}
	return color, nil
}

func (r *catalogRepositoryInMemory) CreateColor(color domain.Color) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.colors[color.ID]; exists {
		return domain.ErrDuplicate
	}
	r.colors[color.ID] = color
	return nil
}

func (r *catalogRepositoryInMemory) UpdateColor(color domain.Color) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.colors[color.ID]
	if !ok {
		return domain.ErrColorNotFound
	}
	color.CreatedAt = current.CreatedAt
	r.colors[color.ID] = color
	return nil
}

func (r *catalogRepositoryInMemory) DeleteColor(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.colors[id]; !ok {
		return domain.ErrColorNotFound
	}
	delete(r.colors, id)
	for productID, product := range r.products {
		product.ColorIDs = without(product.ColorIDs, id)
		r.products[productID] = product
	}
	return nil
}

// checkRefs проверяет, что товар ссылается на существующие справочники. Вызывается под r.mu.
func (r *catalogRepositoryInMemory) checkRefs(product domain.Product) error {
	if _, ok := r.brands[product.BrandID]; !ok {
		return domain.ErrBrandNotFound
	}
	if _, ok := r.categories[product.CategoryID]; !ok {
		return domain.ErrCategoryNotFound
	}
	for _, id := range product.SizeIDs {
		if _, ok := r.sizes[id]; !ok {
			return domain.ErrSizeNotFound
		}
	}
	for _, id := range product.ColorIDs {
		if _, ok := r.colors[id]; !ok {
			return domain.ErrColorNotFound
		}
	}
	return nil
}

// expand заполняет связанные справочники. Вызывается под r.mu.
func (r *catalogRepositoryInMemory) expand(product domain.Product) domain.Product {
	product = stripProduct(product)
	if brand, ok := r.brands[product.BrandID]; ok {
		product.Brand = &brand
	}
	if category, ok := r.categories[product.CategoryID]; ok {
		product.Category = &category
	}
	for _, id := range product.SizeIDs {
		if size, ok := r.sizes[id]; ok {
			product.Sizes = append(product.Sizes, size)
		}
	}
	for _, id := range product.ColorIDs {
		if color, ok := r.colors[id]; ok {
			product.Colors = append(product.Colors, color)
		}
	}
	return product
}

// stripProduct копирует срезы и сбрасывает раскрытые связи.
func stripProduct(product domain.Product) domain.Product {
	product.Images = append([]string(nil), product.Images...)
	product.SizeIDs = append([]string(nil), product.SizeIDs...)
	product.ColorIDs = append([]string(nil), product.ColorIDs...)
	product.Brand = nil
	product.Category = nil
	product.Sizes = nil
	product.Colors = nil
	return product
}

func sameName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func without(ids []string, id string) []string {
	result := ids[:0:0]
	for _, candidate := range ids {
		if candidate != id {
			result = append(result, candidate)
		}
	}
	return result
}

var _ domain.CatalogRepository = (*catalogRepositoryInMemory)(nil)
