// Package cart ведёт корзины клиентов и пересчитывает их итоги по живым ценам каталога.
package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
)

const (
	opAdd    = "add"
	opRemove = "remove"
	opUpdate = "update"
	opClear  = "clear"
)

// Service управляет корзинами.
type Service struct {
	uow     domain.UnitOfWork
	clock   domain.Clock
	metrics *metrics.MarketplaceMetrics
	logger  *log.Entry
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

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.MarketplaceMetrics) Option {
	return func(s *Service) {
		s.metrics = m
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

// NewService конструирует сервис корзин.
func NewService(uow domain.UnitOfWork, opts ...Option) *Service {
	s := &Service{
		uow:    uow,
		clock:  time.Now,
		logger: log.WithField("component", "cart-service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetCart возвращает корзину клиента, создавая пустую при первом обращении.
func (s *Service) GetCart(ctx context.Context, customerID string) (domain.Cart, error) {
	if err := requireCustomer(customerID); err != nil {
		return domain.Cart{}, err
	}

	var result domain.Cart
	err := s.uow.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		cart, found, err := s.load(ctx, tx, customerID)
		if err != nil {
			return err
		}
		if !found {
			if cart, err = tx.Carts().Save(ctx, cart); err != nil {
				return fmt.Errorf("create cart: %w", err)
			}
		}
		result, err = recompute(ctx, tx, cart)
		return err
	})
	return result, err
}

// AddItem добавляет товар; если строка уже есть, количества складываются.
// Остаток сверяется с добавляемым количеством, сумма по строке проверяется при оформлении заказа.
func (s *Service) AddItem(ctx context.Context, customerID, productID string, qty int) (domain.Cart, error) {
	if err := requireLine(customerID, productID, qty); err != nil {
		return domain.Cart{}, err
	}

	return s.mutate(ctx, customerID, opAdd, func(ctx context.Context, tx domain.Tx, cart *domain.Cart, now time.Time) error {
		product, err := purchasable(ctx, tx, productID)
		if err != nil {
			return err
		}

		if product.Stock < qty {
			return &domain.InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Requested:   qty,
				Available:   product.Stock,
			}
		}

		if idx := cart.Find(productID); idx >= 0 {
			cart.Items[idx].Quantity += qty
			return nil
		}
		cart.Items = append(cart.Items, domain.CartItem{
			ProductID:  productID,
			Quantity:   qty,
			PriceAtAdd: product.Price,
			AddedAt:    now,
		})
		return nil
	})
}

// UpdateQuantity выставляет количество строки: не меньше 1 и не больше живого остатка.
func (s *Service) UpdateQuantity(ctx context.Context, customerID, productID string, qty int) (domain.Cart, error) {
	if err := requireLine(customerID, productID, qty); err != nil {
		return domain.Cart{}, err
	}

	return s.mutate(ctx, customerID, opUpdate, func(ctx context.Context, tx domain.Tx, cart *domain.Cart, _ time.Time) error {
		idx := cart.Find(productID)
		if idx < 0 {
			return fmt.Errorf("%w: %s", domain.ErrCartItemNotFound, productID)
		}
		product, err := purchasable(ctx, tx, productID)
		if err != nil {
			return err
		}
		if product.Stock < qty {
			return &domain.InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Requested:   qty,
				Available:   product.Stock,
			}
		}
		cart.Items[idx].Quantity = qty
		return nil
	})
}

// RemoveItem удаляет строку товара.
func (s *Service) RemoveItem(ctx context.Context, customerID, productID string) (domain.Cart, error) {
	if err := requireCustomer(customerID); err != nil {
		return domain.Cart{}, err
	}
	if strings.TrimSpace(productID) == "" {
		return domain.Cart{}, domain.Validationf("product_id is required")
	}

	return s.mutate(ctx, customerID, opRemove, func(_ context.Context, _ domain.Tx, cart *domain.Cart, _ time.Time) error {
		if !cart.Remove(productID) {
			return fmt.Errorf("%w: %s", domain.ErrCartItemNotFound, productID)
		}
		return nil
	})
}

// Clear удаляет все строки корзины.
func (s *Service) Clear(ctx context.Context, customerID string) (domain.Cart, error) {
	if err := requireCustomer(customerID); err != nil {
		return domain.Cart{}, err
	}

	return s.mutate(ctx, customerID, opClear, func(_ context.Context, _ domain.Tx, cart *domain.Cart, _ time.Time) error {
		cart.Items = nil
		return nil
	})
}

type mutation func(ctx context.Context, tx domain.Tx, cart *domain.Cart, now time.Time) error

// mutate загружает корзину, применяет изменение, сохраняет с проверкой версии и пересчитывает итоги.
func (s *Service) mutate(ctx context.Context, customerID, op string, fn mutation) (domain.Cart, error) {
	var result domain.Cart
	err := s.uow.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		cart, _, err := s.load(ctx, tx, customerID)
		if err != nil {
			return err
		}

		now := s.clock().UTC()
		if err := fn(ctx, tx, &cart, now); err != nil {
			return err
		}
		cart.UpdatedAt = now

		saved, err := tx.Carts().Save(ctx, cart)
		if err != nil {
			return fmt.Errorf("save cart: %w", err)
		}
		result, err = recompute(ctx, tx, saved)
		return err
	})
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"customer_id": customerID,
			"op":          op,
		}).Debug("cart mutation rejected")
		return domain.Cart{}, err
	}

	s.metrics.RecordCartMutation(op)
	return result, nil
}

func (s *Service) load(ctx context.Context, tx domain.Tx, customerID string) (domain.Cart, bool, error) {
	cart, err := tx.Carts().Get(ctx, customerID)
	if err == nil {
		return cart, true, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Cart{}, false, fmt.Errorf("load cart: %w", err)
	}
	now := s.clock().UTC()
	return domain.Cart{CustomerID: customerID, CreatedAt: now, UpdatedAt: now}, false, nil
}

func recompute(ctx context.Context, tx domain.Tx, cart domain.Cart) (domain.Cart, error) {
	products, err := tx.Products().GetMany(ctx, cart.ProductIDs())
	if err != nil {
		return domain.Cart{}, fmt.Errorf("load cart products: %w", err)
	}
	cart.Recompute(products)
	return cart, nil
}

func purchasable(ctx context.Context, tx domain.Tx, productID string) (domain.Product, error) {
	product, err := tx.Products().Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	if !product.Purchasable() {
		return domain.Product{}, fmt.Errorf("%w: %s is not available", domain.ErrProductNotFound, productID)
	}
	return product, nil
}

func requireCustomer(customerID string) error {
	if strings.TrimSpace(customerID) == "" {
		return domain.Validationf("customer_id is required")
	}
	return nil
}

func requireLine(customerID, productID string, qty int) error {
	if err := requireCustomer(customerID); err != nil {
		return err
	}
	if strings.TrimSpace(productID) == "" {
		return domain.Validationf("product_id is required")
	}
	if qty < 1 {
		return domain.Validationf("quantity must be at least 1")
	}
	return nil
}
