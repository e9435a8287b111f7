package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const slowQueryThreshold = 200 * time.Millisecond

type brandRow struct {
	ID          string `gorm:"primaryKey"`
	Name        string
	Slug        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (brandRow) TableName() string { return "brands" }

type categoryRow struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	Slug      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (categoryRow) TableName() string { return "categories" }

type sizeRow struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	Type      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (sizeRow) TableName() string { return "sizes" }

type colorRow struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	Hex       string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (colorRow) TableName() string { return "colors" }

type productRow struct {
	ID          string `gorm:"primaryKey"`
	Title       string
	Description string
	Price       decimal.Decimal `gorm:"type:numeric(12,2)"`
	Images      []string        `gorm:"serializer:json"`
	BrandID     string
	CategoryID  string
	Featured    bool
	Archived    bool
	Stock       int
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Brand    *brandRow    `gorm:"foreignKey:BrandID"`
	Category *categoryRow `gorm:"foreignKey:CategoryID"`
	Sizes    []sizeRow    `gorm:"many2many:product_sizes;joinForeignKey:ProductID;joinReferences:SizeID"`
	Colors   []colorRow   `gorm:"many2many:product_colors;joinForeignKey:ProductID;joinReferences:ColorID"`
}

func (productRow) TableName() string { return "products" }

type productSizeRow struct {
	ProductID string `gorm:"primaryKey"`
	SizeID    string `gorm:"primaryKey"`
}

func (productSizeRow) TableName() string { return "product_sizes" }

type productColorRow struct {
	ProductID string `gorm:"primaryKey"`
	ColorID   string `gorm:"primaryKey"`
}

func (productColorRow) TableName() string { return "product_colors" }

// productColumns — изменяемые колонки товара при обновлении.
var productColumns = []string{
	"title", "description", "price", "images", "brand_id", "category_id",
	"featured", "archived", "stock", "updated_at",
}

type catalogRepository struct {
	db *gorm.DB
}

// NewCatalogRepository создаёт каталог поверх GORM, используя пул соединений Store.
// Схему ведут SQL-миграции, AutoMigrate не вызывается.
func NewCatalogRepository(store *Store) (domain.CatalogRepository, error) {
	db, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: store.DB()}), &gorm.Config{
		Logger: gormlogger.New(log.WithField("component", "gorm"), gormlogger.Config{
			SlowThreshold:             slowQueryThreshold,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm: %w", err)
	}
	return &catalogRepository{db: db}, nil
}

func (r *catalogRepository) ListProducts(filter domain.ProductFilter) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := r.db.WithContext(ctx).
		Model(&productRow{}).
		Preload("Brand").
		Preload("Category").
		Preload("Sizes").
		Preload("Colors")

	if !filter.IncludeArchived {
		query = query.Where("products.archived = ?", false)
	}
	if filter.FeaturedOnly {
		query = query.Where("products.featured = ?", true)
	}
	if filter.BrandSlug != "" {
		query = query.Joins("JOIN brands fb ON fb.id = products.brand_id").Where("fb.slug = ?", filter.BrandSlug)
	}
	if filter.CategorySlug != "" {
		query = query.Joins("JOIN categories fc ON fc.id = products.category_id").Where("fc.slug = ?", filter.CategorySlug)
	}

	var rows []productRow
	if err := query.Order("products.created_at DESC").Order("products.id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	products := make([]domain.Product, 0, len(rows))
	for _, row := range rows {
		products = append(products, row.toDomain())
	}
	return products, nil
}

func (r *catalogRepository) GetProduct(id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var row productRow
	err := r.db.WithContext(ctx).
		Preload("Brand").
		Preload("Category").
		Preload("Sizes").
		Preload("Colors").
		First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Product{}, domain.ErrProductNotFound
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("get product: %w", err)
	}
	return row.toDomain(), nil
}

func (r *catalogRepository) CreateProduct(product domain.Product) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	row := productFromDomain(product)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&row).Error; err != nil {
			return err
		}
		return replaceProductLinks(tx, product.ID, product.SizeIDs, product.ColorIDs)
	})
	if err != nil {
		return mapCatalogWriteError("create product", err)
	}
	return nil
}

func (r *catalogRepository) UpdateProduct(product domain.Product) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	row := productFromDomain(product)
	row.UpdatedAt = time.Now().UTC()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&productRow{}).
			Where("id = ?", product.ID).
			Omit(clause.Associations).
			Select(productColumns).
			Updates(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrProductNotFound
		}
		return replaceProductLinks(tx, product.ID, product.SizeIDs, product.ColorIDs)
	})
	if err != nil {
		return mapCatalogWriteError("update product", err)
	}
	return nil
}

func (r *catalogRepository) DeleteProduct(id string) error {
	return deleteRow[productRow](r, id, domain.ErrProductNotFound)
}

func (r *catalogRepository) ListBrands() ([]domain.Brand, error) {
	rows, err := listRows[brandRow](r, "name ASC")
	if err != nil {
		return nil, err
	}
	brands := make([]domain.Brand, 0, len(rows))
	for _, row := range rows {
		brands = append(brands, domain.Brand(row))
	}
	return brands, nil
}

func (r *catalogRepository) GetBrand(id string) (domain.Brand, error) {
	row, err := getRow[brandRow](r, id, domain.ErrBrandNotFound)
	return domain.Brand(row), err
}

func (r *catalogRepository) CreateBrand(brand domain.Brand) error {
	row := brandRow(brand)
	return createRow(r, &row)
}

func (r *catalogRepository) UpdateBrand(brand domain.Brand) error {
	row := brandRow(brand)
	return updateRow(r, brand.ID, &row, domain.ErrBrandNotFound, "name", "slug", "description", "updated_at")
}

func (r *catalogRepository) DeleteBrand(id string) error {
	return deleteRow[brandRow](r, id, domain.ErrBrandNotFound)
}

func (r *catalogRepository) ListCategories() ([]domain.Category, error) {
	rows, err := listRows[categoryRow](r, "name ASC")
	if err != nil {
		return nil, err
	}
	categories := make([]domain.Category, 0, len(rows))
	for _, row := range rows {
		categories = append(categories, domain.Category(row))
	}
	return categories, nil
}

func (r *catalogRepository) GetCategory(id string) (domain.Category, error) {
	row, err := getRow[categoryRow](r, id, domain.ErrCategoryNotFound)
	return domain.Category(row), err
}

func (r *catalogRepository) CreateCategory(category domain.Category) error {
	row := categoryRow(category)
	return createRow(r, &row)
}

func (r *catalogRepository) UpdateCategory(category domain.Category) error {
	row := categoryRow(category)
	return updateRow(r, category.ID, &row, domain.ErrCategoryNotFound, "name", "slug", "updated_at")
}

func (r *catalogRepository) DeleteCategory(id string) error {
	return deleteRow[categoryRow](r, id, domain.ErrCategoryNotFound)
}

func (r *catalogRepository) ListSizes() ([]domain.Size, error) {
	rows, err := listRows[sizeRow](r, "type ASC, name ASC")
	if err != nil {
		return nil, err
	}
	sizes := make([]domain.Size, 0, len(rows))
	for _, row := range rows {
		sizes = append(sizes, domain.Size(row))
	}
	return sizes, nil
}

func (r *catalogRepository) GetSize(id string) (domain.Size, error) {
	row, err := getRow[sizeRow](r, id, domain.ErrSizeNotFound)
	return domain.Size(row), err
}

func (r *catalogRepository) CreateSize(size domain.Size) error {
	row := sizeRow(size)
	return createRow(r, &row)
}

func (r *catalogRepository) UpdateSize(size domain.Size) error {
	row := sizeRow(size)
	return updateRow(r, size.ID, &row, domain.ErrSizeNotFound, "name", "type", "updated_at")
}

// DeleteSize удаляет размер; связи с товарами снимаются каскадом.
func (r *catalogRepository) DeleteSize(id string) error {
	return deleteRow[sizeRow](r, id, domain.ErrSizeNotFound)
}

func (r *catalogRepository) ListColors() ([]domain.Color, error) {
	rows, err := listRows[colorRow](r, "name ASC")
	if err != nil {
		return nil, err
	}
	colors := make([]domain.Color, 0, len(rows))
	for _, row := range rows {
		colors = append(colors, domain.Color(row))
	}
	return colors, nil
}

func (r *catalogRepository) GetColor(id string) (domain.Color, error) {
	row, err := getRow[colorRow](r, id, domain.ErrColorNotFound)
	return domain.Color(row), err
}

func (r *catalogRepository) CreateColor(color domain.Color) error {
	row := colorRow(color)
	return createRow(r, &row)
}

func (r *catalogRepository) UpdateColor(color domain.Color) error {
	row := colorRow(color)
	return updateRow(r, color.ID, &row, domain.ErrColorNotFound, "name", "hex", "updated_at")
}

func (r *catalogRepository) DeleteColor(id string) error {
	return deleteRow[colorRow](r, id, domain.ErrColorNotFound)
}

func listRows[T any](r *catalogRepository, order string) ([]T, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var rows []T
	if err := r.db.WithContext(ctx).Order(order).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list %T: %w", *new(T), err)
	}
	return rows, nil
}

func getRow[T any](r *catalogRepository, id string, notFound error) (T, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var row T
	err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return row, notFound
	}
	if err != nil {
		return row, fmt.Errorf("get %T: %w", row, err)
	}
	return row, nil
}

func createRow[T any](r *catalogRepository, row *T) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return mapCatalogWriteError(fmt.Sprintf("create %T", *row), err)
	}
	return nil
}

func updateRow[T any](r *catalogRepository, id string, row *T, notFound error, columns ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res := r.db.WithContext(ctx).Model(new(T)).Where("id = ?", id).Select(columns).Updates(row)
	if res.Error != nil {
		return mapCatalogWriteError(fmt.Sprintf("update %T", *row), res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound
	}
	return nil
}

func deleteRow[T any](r *catalogRepository, id string, notFound error) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res := r.db.WithContext(ctx).Delete(new(T), "id = ?", id)
	if res.Error != nil {
		if isForeignKeyViolation(res.Error) {
			return domain.ErrReferenced
		}
		return fmt.Errorf("delete %T: %w", *new(T), res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound
	}
	return nil
}

func replaceProductLinks(tx *gorm.DB, productID string, sizeIDs, colorIDs []string) error {
	if err := tx.Where("product_id = ?", productID).Delete(&productSizeRow{}).Error; err != nil {
		return err
	}
	if err := tx.Where("product_id = ?", productID).Delete(&productColorRow{}).Error; err != nil {
		return err
	}

	sizes := make([]productSizeRow, 0, len(sizeIDs))
	for _, id := range uniqueIDs(sizeIDs) {
		sizes = append(sizes, productSizeRow{ProductID: productID, SizeID: id})
	}
	if len(sizes) > 0 {
		if err := tx.Create(&sizes).Error; err != nil {
			return err
		}
	}

	colors := make([]productColorRow, 0, len(colorIDs))
	for _, id := range uniqueIDs(colorIDs) {
		colors = append(colors, productColorRow{ProductID: productID, ColorID: id})
	}
	if len(colors) > 0 {
		if err := tx.Create(&colors).Error; err != nil {
			return err
		}
	}
	return nil
}

// mapCatalogWriteError переводит ошибки ограничений PostgreSQL в доменные.
func mapCatalogWriteError(op string, err error) error {
	if domain.IsNotFound(err) {
		return err
	}

	code, constraint := pgErrorCode(err)
	switch code {
	case pgUniqueViolation:
		return domain.ErrDuplicate
	case pgForeignKeyViolation:
		switch {
		case strings.Contains(constraint, "brand_id"):
			return domain.ErrBrandNotFound
		case strings.Contains(constraint, "category_id"):
			return domain.ErrCategoryNotFound
		case strings.Contains(constraint, "size_id"):
			return domain.ErrSizeNotFound
		case strings.Contains(constraint, "color_id"):
			return domain.ErrColorNotFound
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}

func productFromDomain(product domain.Product) productRow {
	images := product.Images
	if images == nil {
		images = []string{}
	}
	return productRow{
		ID:          product.ID,
		Title:       product.Title,
		Description: product.Description,
		Price:       product.Price,
		Images:      images,
		BrandID:     product.BrandID,
		CategoryID:  product.CategoryID,
		Featured:    product.Featured,
		Archived:    product.Archived,
		Stock:       product.Stock,
		CreatedAt:   product.CreatedAt,
		UpdatedAt:   product.UpdatedAt,
	}
}

func (row productRow) toDomain() domain.Product {
	product := domain.Product{
		ID:          row.ID,
		Title:       row.Title,
		Description: row.Description,
		Price:       row.Price,
		Images:      row.Images,
		BrandID:     row.BrandID,
		CategoryID:  row.CategoryID,
		Featured:    row.Featured,
		Archived:    row.Archived,
		Stock:       row.Stock,
		SizeIDs:     make([]string, 0, len(row.Sizes)),
		ColorIDs:    make([]string, 0, len(row.Colors)),
		Sizes:       make([]domain.Size, 0, len(row.Sizes)),
		Colors:      make([]domain.Color, 0, len(row.Colors)),
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if row.Brand != nil {
		brand := domain.Brand(*row.Brand)
		product.Brand = &brand
	}
	if row.Category != nil {
		category := domain.Category(*row.Category)
		product.Category = &category
	}
	for _, size := range row.Sizes {
		product.SizeIDs = append(product.SizeIDs, size.ID)
		product.Sizes = append(product.Sizes, domain.Size(size))
	}
	for _, color := range row.Colors {
		product.ColorIDs = append(product.ColorIDs, color.ID)
		product.Colors = append(product.Colors, domain.Color(color))
	}
	return product
}

var _ domain.CatalogRepository = (*catalogRepository)(nil)
