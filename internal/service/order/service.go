// Package order реализует оформление заказа и его жизненный цикл.
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
	"github.com/vladislavdragonenkov/marketplace/internal/sanitize"
	"github.com/vladislavdragonenkov/marketplace/internal/service/inventory"
)

const (
	orderNumberPrefix = "ORD-"

	noteOrderPlaced = "Order placed successfully"
	noteClaimed     = "Assigned to delivery partner"
	noReasonGiven   = "No reason provided"
)

// Service — единственная точка входа для изменения заказов.
type Service struct {
	uow            domain.UnitOfWork
	ledgers        inventory.Factory
	clock          domain.Clock
	newID          domain.IDGenerator
	newOrderNumber func(at time.Time) string
	text           *sanitize.Text
	metrics        *metrics.MarketplaceMetrics
	logger         *log.Entry
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

// WithIDGenerator подменяет генератор идентификаторов заказов.
func WithIDGenerator(gen domain.IDGenerator) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithOrderNumberGenerator подменяет генератор номеров заказов.
func WithOrderNumberGenerator(gen func(at time.Time) string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newOrderNumber = gen
		}
	}
}

// WithLedgerFactory подменяет складской учёт (например, на ledger с инъекцией отказов).
func WithLedgerFactory(factory inventory.Factory) Option {
	return func(s *Service) {
		if factory != nil {
			s.ledgers = factory
		}
	}
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.MarketplaceMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLogger задаёт логгер сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSanitizer задаёт очистку заметок и причин отмены.
func WithSanitizer(text *sanitize.Text) Option {
	return func(s *Service) {
		if text != nil {
			s.text = text
		}
	}
}

// NewService конструирует сервис заказов.
func NewService(uow domain.UnitOfWork, opts ...Option) *Service {
	s := &Service{
		uow:            uow,
		clock:          time.Now,
		newID:          uuid.NewString,
		newOrderNumber: NewOrderNumber,
		text:           sanitize.NewText(sanitize.DefaultMaxLen),
		logger:         log.WithField("component", "order-service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ledgers == nil {
		s.ledgers = inventory.NewFactory(s.metrics, s.logger.WithField("component", "inventory"))
	}
	return s
}

// NewOrderNumber возвращает номер вида ORD-<ULID>: уникальный и упорядоченный по времени.
func NewOrderNumber(at time.Time) string {
	return orderNumberPrefix + ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String()
}

// CreateOrder превращает корзину клиента в заказ одной транзакцией:
// резерв остатков, история, очистка корзины и событие в outbox применяются вместе или не применяются вовсе.
func (s *Service) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error) {
	started := s.clock()
	if err := cmd.Validate(); err != nil {
		s.metrics.RecordCheckoutFailure(string(domain.KindOf(err)))
		return domain.Order{}, err
	}

	var created domain.Order
	err := s.uow.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		cart, err := tx.Carts().Get(ctx, cmd.CustomerID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrEmptyCart
			}
			return fmt.Errorf("load cart: %w", err)
		}
		if cart.Empty() {
			return domain.ErrEmptyCart
		}

		products, err := tx.Products().GetMany(ctx, cart.ProductIDs())
		if err != nil {
			return fmt.Errorf("load cart products: %w", err)
		}

		items := make([]domain.LineItem, 0, len(cart.Items))
		var subtotal int64
		for _, line := range cart.Items {
			product, ok := products[line.ProductID]
			if !ok || !product.Purchasable() {
				return fmt.Errorf("%w: %s", domain.ErrProductNotFound, line.ProductID)
			}
			if product.Stock < line.Quantity {
				return &domain.InsufficientStockError{
					ProductID:   product.ID,
					ProductName: product.Name,
					Requested:   line.Quantity,
					Available:   product.Stock,
				}
			}
			lineTotal := int64(line.Quantity) * product.Price
			items = append(items, domain.LineItem{
				ProductID:  product.ID,
				MerchantID: product.MerchantID,
				Name:       product.Name,
				Quantity:   line.Quantity,
				UnitPrice:  product.Price,
				LineTotal:  lineTotal,
			})
			subtotal += lineTotal
		}

		now := s.clock().UTC()
		totals := domain.ComputeTotals(subtotal, 0)
		billing := cmd.ShippingAddress
		if cmd.BillingAddress != nil {
			billing = *cmd.BillingAddress
		}

		order := domain.Order{
			ID:                   s.newID(),
			OrderNumber:          s.newOrderNumber(now),
			CustomerID:           cmd.CustomerID,
			Items:                items,
			ShippingAddress:      cmd.ShippingAddress,
			BillingAddress:       billing,
			PaymentMethod:        cmd.PaymentMethod,
			PaymentStatus:        domain.PaymentStatusPending,
			Subtotal:             totals.Subtotal,
			Tax:                  totals.Tax,
			DeliveryFee:          totals.DeliveryFee,
			Discount:             totals.Discount,
			TotalAmount:          totals.Total,
			DeliveryInstructions: s.text.Clean(cmd.DeliveryInstructions),
			CreatedAt:            now,
		}
		order.AppendTracking(domain.OrderStatusPending, now, noteOrderPlaced, nil)
		if errs := order.ValidateInvariants(); len(errs) > 0 {
			return errors.Join(errs...)
		}

		ledger := s.ledgers(tx)
		for _, item := range order.Items {
			if err := ledger.ReserveStock(ctx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}

		if err := tx.Orders().Create(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		cart.Items = nil
		cart.UpdatedAt = now
		if _, err := tx.Carts().Save(ctx, cart); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}

		actor := domain.Actor{ID: cmd.CustomerID, Role: domain.RoleCustomer}
		if err := enqueue(ctx, tx, domain.EventOrderCreated, order, "", actor, now); err != nil {
			return err
		}

		created, err = tx.Orders().Get(ctx, order.ID)
		return err
	})
	if err != nil {
		s.metrics.RecordCheckoutFailure(string(domain.KindOf(err)))
		s.logger.WithError(err).WithField("customer_id", cmd.CustomerID).Warn("checkout failed")
		return domain.Order{}, err
	}

	s.metrics.RecordOrderCreated(s.clock().Sub(started))
	s.logger.WithFields(log.Fields{
		"order_id":     created.ID,
		"order_number": created.OrderNumber,
		"customer_id":  created.CustomerID,
		"total":        created.TotalAmount,
	}).Info("order created")
	return created, nil
}

func enqueue(ctx context.Context, tx domain.Tx, eventType string, order domain.Order, from domain.OrderStatus, actor domain.Actor, at time.Time) error {
	msg, err := domain.NewOrderOutboxMessage(eventType, order, from, actor, at)
	if err != nil {
		return fmt.Errorf("build %s event: %w", eventType, err)
	}
	if _, err := tx.Outbox().Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("enqueue %s event: %w", eventType, err)
	}
	return nil
}
