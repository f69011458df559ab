// Package catalog — карточки товаров мерчантов, публичная витрина и сводка мерчанта.
package catalog

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/sanitize"
)

const (
	maxNameLen        = 200
	maxDescriptionLen = 4000
	maxImages         = 5

	dashboardPageLimit = domain.MaxPageLimit
)

// ProductInput — поля новой карточки товара.
type ProductInput struct {
	Name        string
	Description string
	Category    string
	SKU         string
	Price       int64
	Stock       int
	// Status по умолчанию Active.
	Status    domain.ProductStatus
	ImageURLs []string
}

// ProductPatch — частичное обновление карточки; nil-поля не меняются.
type ProductPatch struct {
	Name        *string
	Description *string
	Category    *string
	SKU         *string
	Price       *int64
	Stock       *int
	Status      *domain.ProductStatus
	ImageURLs   []string
}

// ProductQuery — фильтр витрины и списка мерчанта.
type ProductQuery struct {
	Category string
	Status   domain.ProductStatus
	Page     domain.Page
}

// ProductPage — страница товаров.
type ProductPage struct {
	Products []domain.Product
	domain.PageInfo
}

// MerchantDashboard — сводка мерчанта по товарам и заказам.
type MerchantDashboard struct {
	TotalProducts   int
	ActiveProducts  int
	TotalOrders     int
	PendingOrders   int
	CompletedOrders int
	// TotalRevenue — сумма TotalAmount доставленных заказов с позициями мерчанта.
	TotalRevenue int64
}

// Service управляет каталогом.
type Service struct {
	uow         domain.UnitOfWork
	clock       domain.Clock
	newID       domain.IDGenerator
	names       *sanitize.Text
	description *sanitize.Text
	logger      *log.Entry
}

// Option настраивает Service.
type Option func(*Service)

// WithClock подменяет источник времени.
func WithClock(clock domain.Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithIDGenerator подменяет генератор идентификаторов товаров.
func WithIDGenerator(gen domain.IDGenerator) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService конструирует сервис каталога.
func NewService(uow domain.UnitOfWork, opts ...Option) *Service {
	s := &Service{
		uow:         uow,
		clock:       time.Now,
		newID:       uuid.NewString,
		names:       sanitize.NewText(maxNameLen),
		description: sanitize.NewText(maxDescriptionLen),
		logger:      log.WithField("component", "catalog-service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateProduct создаёт карточку товара мерчанта.
func (s *Service) CreateProduct(ctx context.Context, merchantID string, in ProductInput) (domain.Product, error) {
	if err := validateImages(in.ImageURLs); err != nil {
		return domain.Product{}, err
	}
	status := in.Status
	if status == "" {
		status = domain.ProductStatusActive
	}

	now := s.clock().UTC()
	product := domain.Product{
		ID:          s.newID(),
		MerchantID:  strings.TrimSpace(merchantID),
		Name:        s.names.Clean(in.Name),
		Description: s.description.Clean(in.Description),
		Category:    s.names.Clean(in.Category),
		SKU:         strings.TrimSpace(in.SKU),
		Price:       in.Price,
		Stock:       in.Stock,
		Status:      status,
		ImageURLs:   append([]string(nil), in.ImageURLs...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := product.Validate(); err != nil {
		return domain.Product{}, err
	}
	if err := s.uow.Products().Create(ctx, product); err != nil {
		return domain.Product{}, err
	}

	s.logger.WithFields(log.Fields{
		"product_id":  product.ID,
		"merchant_id": product.MerchantID,
	}).Info("product created")
	return product, nil
}

// UpdateProduct правит карточку своего товара. Sold мерчанту недоступен.
func (s *Service) UpdateProduct(ctx context.Context, merchantID, productID string, patch ProductPatch) (domain.Product, error) {
	if patch.ImageURLs != nil {
		if err := validateImages(patch.ImageURLs); err != nil {
			return domain.Product{}, err
		}
	}

	var updated domain.Product
	err := s.uow.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		product, err := owned(ctx, tx, merchantID, productID)
		if err != nil {
			return err
		}

		if patch.Name != nil {
			product.Name = s.names.Clean(*patch.Name)
		}
		if patch.Description != nil {
			product.Description = s.description.Clean(*patch.Description)
		}
		if patch.Category != nil {
			product.Category = s.names.Clean(*patch.Category)
		}
		if patch.SKU != nil {
			product.SKU = strings.TrimSpace(*patch.SKU)
		}
		if patch.Price != nil {
			product.Price = *patch.Price
		}
		if patch.Stock != nil {
			product.Stock = *patch.Stock
		}
		if patch.Status != nil {
			product.Status = *patch.Status
		}
		if patch.ImageURLs != nil {
			product.ImageURLs = append([]string(nil), patch.ImageURLs...)
		}
		product.UpdatedAt = s.clock().UTC()

		if err := product.Validate(); err != nil {
			return err
		}
		if err := tx.Products().Update(ctx, product); err != nil {
			return err
		}
		updated = product
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}
	return updated, nil
}

// ArchiveProduct снимает товар с витрины. Исторические заказы хранят свои снимки позиций.
func (s *Service) ArchiveProduct(ctx context.Context, merchantID, productID string) (domain.Product, error) {
	archived := domain.ProductStatusArchived
	product, err := s.UpdateProduct(ctx, merchantID, productID, ProductPatch{Status: &archived})
	if err != nil {
		return domain.Product{}, err
	}
	s.logger.WithField("product_id", productID).Info("product archived")
	return product, nil
}

// GetProduct возвращает активный товар для витрины.
func (s *Service) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	product, err := s.uow.Products().Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	if !product.Purchasable() {
		return domain.Product{}, fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	}
	return product, nil
}

// BrowseProducts — публичная витрина: только активные товары.
func (s *Service) BrowseProducts(ctx context.Context, query ProductQuery) (ProductPage, error) {
	filter := domain.ProductFilter{Status: domain.ProductStatusActive, Category: strings.TrimSpace(query.Category)}
	return s.list(ctx, filter, query.Page)
}

// ListMerchantProducts возвращает товары мерчанта в любом статусе.
func (s *Service) ListMerchantProducts(ctx context.Context, merchantID string, query ProductQuery) (ProductPage, error) {
	if strings.TrimSpace(merchantID) == "" {
		return ProductPage{}, domain.Validationf("merchant_id is required")
	}
	if query.Status != "" && !query.Status.Valid() {
		return ProductPage{}, domain.Validationf("unknown product status %q", query.Status)
	}
	filter := domain.ProductFilter{
		MerchantID: merchantID,
		Status:     query.Status,
		Category:   strings.TrimSpace(query.Category),
	}
	return s.list(ctx, filter, query.Page)
}

// Dashboard собирает сводку мерчанта.
func (s *Service) Dashboard(ctx context.Context, merchantID string) (MerchantDashboard, error) {
	if strings.TrimSpace(merchantID) == "" {
		return MerchantDashboard{}, domain.Validationf("merchant_id is required")
	}

	var dash MerchantDashboard
	one := domain.Page{Number: 1, Limit: 1}
	_, total, err := s.uow.Products().List(ctx, domain.ProductFilter{MerchantID: merchantID}, one)
	if err != nil {
		return MerchantDashboard{}, fmt.Errorf("count products: %w", err)
	}
	dash.TotalProducts = total
	_, active, err := s.uow.Products().List(ctx, domain.ProductFilter{
		MerchantID: merchantID,
		Status:     domain.ProductStatusActive,
	}, one)
	if err != nil {
		return MerchantDashboard{}, fmt.Errorf("count active products: %w", err)
	}
	dash.ActiveProducts = active

	filter := domain.OrderFilter{MerchantID: merchantID}
	for page := (domain.Page{Number: 1, Limit: dashboardPageLimit}); ; page.Number++ {
		orders, total, err := s.uow.Orders().List(ctx, filter, page)
		if err != nil {
			return MerchantDashboard{}, fmt.Errorf("list merchant orders: %w", err)
		}
		dash.TotalOrders = total
		for _, o := range orders {
			switch o.Status {
			case domain.OrderStatusPending:
				dash.PendingOrders++
			case domain.OrderStatusDelivered:
				dash.CompletedOrders++
				dash.TotalRevenue += o.TotalAmount
			}
		}
		if len(orders) < page.Limit || page.Number*page.Limit >= total {
			break
		}
	}
	return dash, nil
}

func (s *Service) list(ctx context.Context, filter domain.ProductFilter, page domain.Page) (ProductPage, error) {
	page = page.Normalize()
	products, total, err := s.uow.Products().List(ctx, filter, page)
	if err != nil {
		return ProductPage{}, fmt.Errorf("list products: %w", err)
	}
	return ProductPage{Products: products, PageInfo: domain.NewPageInfo(page, total)}, nil
}

// owned читает товар под блокировкой строки, чтобы параллельный резерв не потерялся при записи stock.
func owned(ctx context.Context, tx domain.Tx, merchantID, productID string) (domain.Product, error) {
	product, err := tx.Products().GetForUpdate(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	if product.MerchantID != merchantID {
		return domain.Product{}, fmt.Errorf("%w: product %s belongs to another merchant", domain.ErrUnauthorized, productID)
	}
	return product, nil
}

func validateImages(urls []string) error {
	if len(urls) > maxImages {
		return domain.Validationf("at most %d images allowed", maxImages)
	}
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || raw == "" {
			return domain.Validationf("invalid image url %q", raw)
		}
		if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
			return domain.Validationf("image url %q must be http(s) or a relative path", raw)
		}
	}
	return nil
}
