package integration

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/marketplace/internal/service/cart"
	"github.com/vladislavdragonenkov/marketplace/internal/service/catalog"
	"github.com/vladislavdragonenkov/marketplace/internal/service/courier"
	"github.com/vladislavdragonenkov/marketplace/internal/service/order"
	"github.com/vladislavdragonenkov/marketplace/internal/service/outbox"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/memory"
)

const (
	merchantID = "merchant-1"
	customerID = "customer-1"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OutboxMessage
}

func (p *recordingPublisher) Publish(msg domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, msg)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make([]string, 0, len(p.events))
	for _, e := range p.events {
		result = append(result, e.EventType)
	}
	return result
}

// OrderLifecycleTestSuite проверяет сквозной путь заказа: каталог, корзина, заказ, курьер и outbox.
type OrderLifecycleTestSuite struct {
	suite.Suite

	store     *memory.Store
	orders    *order.Service
	carts     *cart.Service
	catalog   *catalog.Service
	couriers  *courier.Service
	publisher *recordingPublisher
	worker    *outbox.Worker
}

func TestOrderLifecycleSuite(t *testing.T) {
	suite.Run(t, new(OrderLifecycleTestSuite))
}

func (s *OrderLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel)
	logger := baseLogger.WithField("component", "integration-test")

	s.store = memory.NewStore()
	s.orders = order.NewService(s.store, order.WithLogger(logger))
	s.carts = cart.NewService(s.store, cart.WithLogger(logger))
	s.catalog = catalog.NewService(s.store, catalog.WithLogger(logger))
	s.couriers = courier.NewService(s.store, courier.WithLogger(logger))
	s.publisher = &recordingPublisher{}
	s.worker = outbox.NewWorker(s.store.Outbox(), s.publisher, outbox.WithLogger(logger))
}

func (s *OrderLifecycleTestSuite) createProduct(stock int) domain.Product {
	product, err := s.catalog.CreateProduct(context.Background(), merchantID, catalog.ProductInput{
		Name:     "Green tea",
		Category: "Drinks",
		Price:    400,
		Stock:    stock,
	})
	s.Require().NoError(err)
	return product
}

func (s *OrderLifecycleTestSuite) checkout(customer, productID string, qty int) domain.Order {
	ctx := context.Background()
	_, err := s.carts.AddItem(ctx, customer, productID, qty)
	s.Require().NoError(err)

	created, err := s.orders.CreateOrder(ctx, order.CreateOrderCommand{
		CustomerID: customer,
		ShippingAddress: domain.Address{
			Name:   "Ann",
			Phone:  "+100000",
			Street: "Main st. 1",
			City:   "Springfield",
		},
		PaymentMethod: domain.PaymentMethodCOD,
	})
	s.Require().NoError(err)
	return created
}

func (s *OrderLifecycleTestSuite) merchantMoves(orderID string, targets ...domain.OrderStatus) {
	for _, target := range targets {
		_, err := s.orders.TransitionOrder(context.Background(), order.TransitionCommand{
			OrderID: orderID,
			Actor:   domain.Actor{ID: merchantID, Role: domain.RoleMerchant},
			Target:  target,
		})
		s.Require().NoError(err, "merchant transition to %s", target)
	}
}

func (s *OrderLifecycleTestSuite) registerCourier(id string) {
	_, err := s.couriers.Register(context.Background(), id, courier.RegisterInput{
		Name:        "Bob",
		Phone:       "+200000",
		VehicleType: "bike",
	})
	s.Require().NoError(err)
}

func (s *OrderLifecycleTestSuite) stock(productID string) int {
	product, err := s.catalog.GetProduct(context.Background(), productID)
	s.Require().NoError(err)
	return product.Stock
}

func (s *OrderLifecycleTestSuite) TestDeliveredLifecycle() {
	ctx := context.Background()
	product := s.createProduct(10)

	// 1. Клиент оформляет заказ из корзины
	created := s.checkout(customerID, product.ID, 2)
	s.Require().Equal(domain.OrderStatusPending, created.Status)
	s.Require().Equal(created.Subtotal+created.Tax+created.DeliveryFee-created.Discount, created.TotalAmount)
	s.Require().Equal(8, s.stock(product.ID))

	cartAfter, err := s.carts.GetCart(ctx, customerID)
	s.Require().NoError(err)
	s.Require().Empty(cartAfter.Items)

	// 2. Мерчант готовит заказ
	s.merchantMoves(created.ID, domain.OrderStatusConfirmed, domain.OrderStatusPreparing, domain.OrderStatusReady)

	// 3. Курьер забирает и доставляет
	s.registerCourier("courier-1")
	dashboard, err := s.couriers.Dashboard(ctx, "courier-1")
	s.Require().NoError(err)
	s.Require().Equal(1, dashboard.AvailableOrders)

	claimed, err := s.orders.ClaimOrder(ctx, created.ID, "courier-1")
	s.Require().NoError(err)
	s.Require().Equal(domain.OrderStatusOutForDelivery, claimed.Status)
	s.Require().Equal("courier-1", claimed.CourierID)

	delivered, err := s.orders.TransitionOrder(ctx, order.TransitionCommand{
		OrderID: created.ID,
		Actor:   domain.Actor{ID: "courier-1", Role: domain.RoleCourier},
		Target:  domain.OrderStatusDelivered,
	})
	s.Require().NoError(err)
	s.Require().Equal(domain.OrderStatusDelivered, delivered.Status)
	s.Require().NotNil(delivered.DeliveredAt)

	// 4. История: Pending, Confirmed, Preparing, Ready, Out for Delivery, Delivered
	viewed, err := s.orders.GetOrder(ctx, domain.Actor{ID: customerID, Role: domain.RoleCustomer}, created.ID)
	s.Require().NoError(err)
	s.Require().Len(viewed.Tracking, 6)
	s.Require().Equal(domain.OrderStatusPending, viewed.Tracking[0].Status)
	s.Require().Equal(domain.OrderStatusDelivered, viewed.Tracking[5].Status)

	dashboard, err = s.couriers.Dashboard(ctx, "courier-1")
	s.Require().NoError(err)
	s.Require().Equal(1, dashboard.CompletedOrders)
	s.Require().Zero(dashboard.AvailableOrders)
	s.Require().Positive(dashboard.TotalEarnings)

	// 5. Outbox доставляет все события заказа
	s.worker.ProcessOnce(ctx)
	s.Require().ElementsMatch([]string{
		domain.EventOrderCreated,
		domain.EventOrderStatusChanged,
		domain.EventOrderStatusChanged,
		domain.EventOrderStatusChanged,
		domain.EventOrderClaimed,
		domain.EventOrderDelivered,
	}, s.publisher.types())
	s.Require().Empty(s.store.AllPending())
}

func (s *OrderLifecycleTestSuite) TestCustomerCancellation_ReleasesStock() {
	ctx := context.Background()
	product := s.createProduct(5)

	created := s.checkout(customerID, product.ID, 3)
	s.Require().Equal(2, s.stock(product.ID))
	s.merchantMoves(created.ID, domain.OrderStatusConfirmed)

	cancelled, err := s.orders.CancelOrder(ctx, order.CancelCommand{
		OrderID: created.ID,
		Actor:   domain.Actor{ID: customerID, Role: domain.RoleCustomer},
		Reason:  "Changed my mind",
	})
	s.Require().NoError(err)
	s.Require().Equal(domain.OrderStatusCancelled, cancelled.Status)
	s.Require().Equal("Changed my mind", cancelled.CancellationReason)
	s.Require().Equal(5, s.stock(product.ID))

	// Повторная отмена: Cancelled терминален
	_, err = s.orders.CancelOrder(ctx, order.CancelCommand{
		OrderID: created.ID,
		Actor:   domain.Actor{ID: customerID, Role: domain.RoleCustomer},
	})
	s.Require().ErrorIs(err, domain.ErrInvalidTransition)
	s.Require().Equal(5, s.stock(product.ID))

	s.worker.ProcessOnce(ctx)
	s.Require().Contains(s.publisher.types(), domain.EventOrderCancelled)
}

func (s *OrderLifecycleTestSuite) TestConcurrentCheckout_NeverOversells() {
	product := s.createProduct(3)

	const buyers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			ctx := context.Background()
			if _, err := s.carts.AddItem(ctx, id, product.ID, 1); err != nil {
				mu.Lock()
				rejected++
				mu.Unlock()
				return
			}
			_, err := s.orders.CreateOrder(ctx, order.CreateOrderCommand{
				CustomerID: id,
				ShippingAddress: domain.Address{
					Name:   "Buyer",
					Phone:  "+300000",
					Street: "Side st. 2",
					City:   "Shelbyville",
				},
				PaymentMethod: domain.PaymentMethodCOD,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				var stockErr *domain.InsufficientStockError
				if !errors.As(err, &stockErr) {
					s.T().Errorf("unexpected checkout error: %v", err)
				}
				rejected++
				return
			}
			succeeded++
		}("buyer-" + string(rune('a'+i)))
	}
	wg.Wait()

	s.Require().Equal(3, succeeded)
	s.Require().Equal(buyers-3, rejected)
	s.Require().Zero(s.stock(product.ID))
}

func (s *OrderLifecycleTestSuite) TestConcurrentClaim_SingleWinner() {
	ctx := context.Background()
	product := s.createProduct(5)
	created := s.checkout(customerID, product.ID, 1)
	s.merchantMoves(created.ID, domain.OrderStatusConfirmed, domain.OrderStatusPreparing, domain.OrderStatusReady)

	couriers := []string{"courier-a", "courier-b", "courier-c"}
	for _, id := range couriers {
		s.registerCourier(id)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		losses  int
	)
	for _, id := range couriers {
		wg.Add(1)
		go func(courierID string) {
			defer wg.Done()
			_, err := s.orders.ClaimOrder(ctx, created.ID, courierID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if !errors.Is(err, domain.ErrAlreadyClaimed) {
					s.T().Errorf("unexpected claim error: %v", err)
				}
				losses++
				return
			}
			winners = append(winners, courierID)
		}(id)
	}
	wg.Wait()

	s.Require().Len(winners, 1)
	s.Require().Equal(len(couriers)-1, losses)

	viewed, err := s.orders.GetOrder(ctx, domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}, created.ID)
	s.Require().NoError(err)
	s.Require().Equal(winners[0], viewed.CourierID)
}

func TestOutboxToKafka_PublishesEnvelopes(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	catalogSvc := catalog.NewService(store)
	cartSvc := cart.NewService(store)
	orderSvc := order.NewService(store)

	product, err := catalogSvc.CreateProduct(ctx, merchantID, catalog.ProductInput{Name: "Coffee", Price: 300, Stock: 2})
	require.NoError(t, err)
	_, err = cartSvc.AddItem(ctx, customerID, product.ID, 1)
	require.NoError(t, err)
	created, err := orderSvc.CreateOrder(ctx, order.CreateOrderCommand{
		CustomerID: customerID,
		ShippingAddress: domain.Address{
			Name:   "Ann",
			Phone:  "+100000",
			Street: "Main st. 1",
			City:   "Springfield",
		},
		PaymentMethod: domain.PaymentMethodCOD,
	})
	require.NoError(t, err)

	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var envelope kafka.Envelope
		if err := json.Unmarshal(val, &envelope); err != nil {
			return err
		}
		if envelope.EventType != domain.EventOrderCreated || envelope.AggregateID != created.ID {
			return errors.New("unexpected envelope " + envelope.EventType)
		}
		return nil
	})

	producer := kafka.NewProducer(sp)
	defer func() { require.NoError(t, producer.Close()) }()

	worker := outbox.NewWorker(store.Outbox(), kafka.NewOutboxPublisher(producer, ""))
	worker.ProcessOnce(ctx)

	require.Empty(t, store.AllPending())
}
