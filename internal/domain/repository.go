package domain

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если запись с таким ID уже существует.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id string) (Order, error)
	// ListByUser возвращает страницу заказов пользователя (новые первыми) и общее количество.
	ListByUser(userID string, filter OrderListFilter) ([]Order, int, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(order Order) error
}

// UserRepository описывает хранилище профилей покупателей.
type UserRepository interface {
	// Upsert создаёт пользователя или обновляет данные из провайдера идентификации,
	// не затирая телефон, адрес и идентификатор клиента платёжного провайдера.
	Upsert(identity Identity) (User, error)
	Get(id string) (User, error)
	Update(user User) error
}

// CatalogRepository описывает хранилище справочников и товаров.
type CatalogRepository interface {
	ListProducts(filter ProductFilter) ([]Product, error)
	GetProduct(id string) (Product, error)
	CreateProduct(product Product) error
	UpdateProduct(product Product) error
	DeleteProduct(id string) error

	ListBrands() ([]Brand, error)
	GetBrand(id string) (Brand, error)
	CreateBrand(brand Brand) error
	UpdateBrand(brand Brand) error
	DeleteBrand(id string) error

	ListCategories() ([]Category, error)
	GetCategory(id string) (Category, error)
	CreateCategory(category Category) error
	UpdateCategory(category Category) error
	DeleteCategory(id string) error

	ListSizes() ([]Size, error)
	GetSize(id string) (Size, error)
	CreateSize(size Size) error
	UpdateSize(size Size) error
	DeleteSize(id string) error

	ListColors() ([]Color, error)
	GetColor(id string) (Color, error)
	CreateColor(color Color) error
	UpdateColor(color Color) error
	DeleteColor(id string) error
}
