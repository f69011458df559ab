package domain

import (
	"context"
	"time"
)

// Page — параметры постраничной выборки.
type Page struct {
	Number int
	Limit  int
}

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// Normalize подставляет значения по умолчанию и ограничивает размер страницы.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

// Offset возвращает число пропускаемых записей.
func (p Page) Offset() int {
	p = p.Normalize()
	return (p.Number - 1) * p.Limit
}

// PageInfo — метаданные страницы для ответа клиенту.
type PageInfo struct {
	Total       int
	Pages       int
	CurrentPage int
	Limit       int
}

// NewPageInfo считает число страниц по общему количеству записей.
func NewPageInfo(page Page, total int) PageInfo {
	page = page.Normalize()
	pages := 0
	if total > 0 {
		pages = (total + page.Limit - 1) / page.Limit
	}
	return PageInfo{Total: total, Pages: pages, CurrentPage: page.Number, Limit: page.Limit}
}

// ProductRepository описывает хранилище товаров.
type ProductRepository interface {
	Create(ctx context.Context, product Product) error
	Get(ctx context.Context, id string) (Product, error)
	// GetForUpdate читает товар и блокирует строку до конца транзакции: резервы ждут правки карточки.
	GetForUpdate(ctx context.Context, id string) (Product, error)
	// GetMany возвращает найденные товары по id; отсутствующие просто не попадают в результат.
	GetMany(ctx context.Context, ids []string) (map[string]Product, error)
	// Update правит карточку товара; Sold не меняется.
	Update(ctx context.Context, product Product) error
	List(ctx context.Context, filter ProductFilter, page Page) ([]Product, int, error)
	// ReserveStock условно списывает остаток: stock -= qty, sold += qty при stock >= qty.
	ReserveStock(ctx context.Context, id string, qty int) error
	// ReleaseStock возвращает остаток: stock += qty, sold -= qty при sold >= qty.
	ReleaseStock(ctx context.Context, id string, qty int) error
}

// CartRepository хранит корзины клиентов.
type CartRepository interface {
	// Get возвращает корзину или ErrNotFound.
	Get(ctx context.Context, customerID string) (Cart, error)
	// Save создаёт корзину (Version == 0 и записи нет) или обновляет с проверкой версии.
	Save(ctx context.Context, cart Cart) (Cart, error)
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ вместе с позициями и историей.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	List(ctx context.Context, filter OrderFilter, page Page) ([]Order, int, error)
	// Update сохраняет заказ при совпадении версии и дописывает новые записи истории.
	// Статус и история пишутся одной операцией.
	Update(ctx context.Context, order Order) (Order, error)
	// Claim назначает курьера при status == Ready и пустом курьере.
	Claim(ctx context.Context, orderID, courierID string, entry TrackingEntry) (Order, error)
}

// CourierRepository хранит профили курьеров и их счётчики.
type CourierRepository interface {
	Create(ctx context.Context, courier Courier) error
	Get(ctx context.Context, id string) (Courier, error)
	// RecordClaim: курьер занят, totalDeliveries++, stats.totalOrders++.
	RecordClaim(ctx context.Context, id string, at time.Time) error
	// RecordDelivery: заработок += earning, курьер свободен, stats.completed++.
	RecordDelivery(ctx context.Context, id string, earning int64, at time.Time) error
	// RecordCancellation: курьер свободен, stats.cancelled++.
	RecordCancellation(ctx context.Context, id string, at time.Time) error
	UpdateLocation(ctx context.Context, id string, point GeoPoint, at time.Time) error
	SetAvailability(ctx context.Context, id string, update CourierAvailability, at time.Time) (Courier, error)
}

// Tx — набор репозиториев в рамках одной транзакции.
type Tx interface {
	Products() ProductRepository
	Carts() CartRepository
	Orders() OrderRepository
	Couriers() CourierRepository
	Outbox() OutboxRepository
}

// UnitOfWork выполняет fn атомарно: при ошибке ни одно изменение не применяется.
type UnitOfWork interface {
	Tx
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
