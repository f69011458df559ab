package order

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// GetOrder возвращает заказ, если участник имеет к нему доступ.
// Курьер видит назначенные ему заказы и свободные готовые.
func (s *Service) GetOrder(ctx context.Context, actor domain.Actor, orderID string) (domain.Order, error) {
	if err := validateActor(orderID, actor); err != nil {
		return domain.Order{}, err
	}

	order, err := s.uow.Orders().Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if actor.Role == domain.RoleCourier && order.Status == domain.OrderStatusReady && order.CourierID == "" {
		return order, nil
	}
	if err := authorize(actor, order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// ListOrders возвращает заказы, видимые участнику: свои для клиента, с его позициями для мерчанта,
// назначенные для курьера, все для админа. Новые первыми.
func (s *Service) ListOrders(ctx context.Context, actor domain.Actor, query ListQuery) (OrderPage, error) {
	if err := query.Validate(); err != nil {
		return OrderPage{}, err
	}

	filter := domain.OrderFilter{Status: query.Status}
	switch actor.Role {
	case domain.RoleCustomer:
		filter.CustomerID = actor.ID
	case domain.RoleMerchant:
		filter.MerchantID = actor.ID
	case domain.RoleCourier:
		filter.CourierID = actor.ID
	case domain.RoleAdmin:
	default:
		return OrderPage{}, fmt.Errorf("%w: unknown role %q", domain.ErrUnauthorized, actor.Role)
	}
	if actor.Role != domain.RoleAdmin && actor.ID == "" {
		return OrderPage{}, domain.Validationf("actor id is required")
	}

	return s.list(ctx, filter, query.Page)
}

// ListAvailable возвращает готовые заказы без курьера.
func (s *Service) ListAvailable(ctx context.Context, page domain.Page) (OrderPage, error) {
	return s.list(ctx, domain.OrderFilter{Status: domain.OrderStatusReady, Unassigned: true}, page)
}

func (s *Service) list(ctx context.Context, filter domain.OrderFilter, page domain.Page) (OrderPage, error) {
	page = page.Normalize()
	orders, total, err := s.uow.Orders().List(ctx, filter, page)
	if err != nil {
		return OrderPage{}, fmt.Errorf("list orders: %w", err)
	}
	return OrderPage{Orders: orders, PageInfo: domain.NewPageInfo(page, total)}, nil
}
