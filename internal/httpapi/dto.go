package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type userResponse struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	FirstName        string    `json:"firstName"`
	LastName         string    `json:"lastName"`
	ImageURL         string    `json:"imageUrl"`
	Phone            string    `json:"phone"`
	Address          string    `json:"address"`
	StripeCustomerID string    `json:"stripeCustomerId,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func toUserResponse(user domain.User) userResponse {
	return userResponse{
		ID:               user.ID,
		Email:            user.Email,
		FirstName:        user.FirstName,
		LastName:         user.LastName,
		ImageURL:         user.ImageURL,
		Phone:            user.Phone,
		Address:          user.Address,
		StripeCustomerID: user.StripeCustomerID,
		CreatedAt:        user.CreatedAt,
		UpdatedAt:        user.UpdatedAt,
	}
}

type orderItemResponse struct {
	ID        string          `json:"id"`
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Size      string          `json:"size"`
	Color     string          `json:"color"`
}

type orderResponse struct {
	ID              string               `json:"id"`
	UserID          string               `json:"userId"`
	Total           decimal.Decimal      `json:"total"`
	PaymentStatus   domain.PaymentStatus `json:"paymentStatus"`
	OrderStatus     domain.OrderStatus   `json:"orderStatus"`
	Address         string               `json:"address"`
	PaymentIntentID string               `json:"paymentIntentId,omitempty"`
	Items           []orderItemResponse  `json:"items"`
	Timeline        []timelineResponse   `json:"timeline,omitempty"`
	CreatedAt       time.Time            `json:"createdAt"`
	UpdatedAt       time.Time            `json:"updatedAt"`
}

type timelineResponse struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

func toOrderResponse(order domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			ID:        item.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
			Size:      item.Size,
			Color:     item.Color,
		})
	}
	return orderResponse{
		ID:              order.ID,
		UserID:          order.UserID,
		Total:           order.Total,
		PaymentStatus:   order.PaymentStatus,
		OrderStatus:     order.Status,
		Address:         order.Address,
		PaymentIntentID: order.PaymentIntentID,
		Items:           items,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
}

type brandResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type categoryResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"createdAt"`
}

type sizeResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type colorResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Hex  string `json:"hex"`
}

type productResponse struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Price       decimal.Decimal   `json:"price"`
	Images      []string          `json:"images"`
	BrandID     string            `json:"brandId"`
	CategoryID  string            `json:"categoryId"`
	Featured    bool              `json:"featured"`
	Archived    bool              `json:"archived"`
	Stock       int               `json:"stock"`
	Brand       *brandResponse    `json:"brand,omitempty"`
	Category    *categoryResponse `json:"category,omitempty"`
	Sizes       []sizeResponse    `json:"sizes"`
	Colors      []colorResponse   `json:"colors"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

func toBrandResponse(brand domain.Brand) brandResponse {
	return brandResponse{ID: brand.ID, Name: brand.Name, Slug: brand.Slug, Description: brand.Description, CreatedAt: brand.CreatedAt}
}

func toCategoryResponse(category domain.Category) categoryResponse {
	return categoryResponse{ID: category.ID, Name: category.Name, Slug: category.Slug, CreatedAt: category.CreatedAt}
}

func toSizeResponse(size domain.Size) sizeResponse {
	return sizeResponse{ID: size.ID, Name: size.Name, Type: size.Type}
}

func toColorResponse(color domain.Color) colorResponse {
	return colorResponse{ID: color.ID, Name: color.Name, Hex: color.Hex}
}

func toProductResponse(product domain.Product) productResponse {
	resp := productResponse{
		ID:          product.ID,
		Title:       product.Title,
		Description: product.Description,
		Price:       product.Price,
		Images:      product.Images,
		BrandID:     product.BrandID,
		CategoryID:  product.CategoryID,
		Featured:    product.Featured,
		Archived:    product.Archived,
		Stock:       product.Stock,
		Sizes:       mapSlice(product.Sizes, toSizeResponse),
		Colors:      mapSlice(product.Colors, toColorResponse),
		CreatedAt:   product.CreatedAt,
		UpdatedAt:   product.UpdatedAt,
	}
	if resp.Images == nil {
		resp.Images = []string{}
	}
	if product.Brand != nil {
		brand := toBrandResponse(*product.Brand)
		resp.Brand = &brand
	}
	if product.Category != nil {
		category := toCategoryResponse(*product.Category)
		resp.Category = &category
	}
	return resp
}

func mapSlice[T, R any](items []T, convert func(T) R) []R {
	result := make([]R, 0, len(items))
	for _, item := range items {
		result = append(result, convert(item))
	}
	return result
}
