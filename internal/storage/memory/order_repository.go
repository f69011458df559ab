package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// orderRepositoryInMemory — in-memory реализация OrderRepository поверх Store.
type orderRepositoryInMemory struct {
	view
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r orderRepositoryInMemory) Create(_ context.Context, order domain.Order) error {
	defer r.lock()()

	if _, exists := r.s.orders[order.ID]; exists {
		return fmt.Errorf("%w: order %s already exists", domain.ErrVersionConflict, order.ID)
	}
	if order.Version == 0 {
		order.Version = 1
	}
	r.record(snapshot(r.s.orders, order.ID))
	r.s.orders[order.ID] = order.Clone()
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r orderRepositoryInMemory) Get(_ context.Context, id string) (domain.Order, error) {
	defer r.lock()()

	order, ok := r.s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// List возвращает страницу заказов по фильтру, новые первыми.
func (r orderRepositoryInMemory) List(_ context.Context, filter domain.OrderFilter, page domain.Page) ([]domain.Order, int, error) {
	defer r.lock()()

	var matched []domain.Order
	for _, order := range r.s.orders {
		if filter.Match(order) {
			matched = append(matched, order)
		}
	}
	slices.SortFunc(matched, func(a, b domain.Order) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID, a.ID))
	})
	return paginate(matched, page, domain.Order.Clone), len(matched), nil
}

// Update переносит изменяемые поля заказа, проверяя версию (optimistic locking).
// Уже сохранённая история не переписывается, дописываются только новые записи.
func (r orderRepositoryInMemory) Update(_ context.Context, order domain.Order) (domain.Order, error) {
	defer r.lock()()

	current, ok := r.s.orders[order.ID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.Order{}, domain.ErrVersionConflict
	}
	if len(order.Tracking) < len(current.Tracking) {
		return domain.Order{}, fmt.Errorf("%w: tracking history cannot shrink", domain.ErrValidation)
	}

	next := current.Clone()
	next.Status = order.Status
	next.PaymentStatus = order.PaymentStatus
	next.CourierID = order.CourierID
	next.CancellationReason = order.CancellationReason
	next.CancelledBy = order.CancelledBy
	next.DeliveredAt = order.DeliveredAt
	next.UpdatedAt = order.UpdatedAt
	next.Tracking = append(next.Tracking, order.Tracking[len(current.Tracking):]...)
	next.Version++

	r.record(snapshot(r.s.orders, order.ID))
	r.s.orders[order.ID] = next.Clone()
	return next, nil
}

// Claim атомарно назначает курьера на заказ в статусе Ready без курьера.
func (r orderRepositoryInMemory) Claim(_ context.Context, orderID, courierID string, entry domain.TrackingEntry) (domain.Order, error) {
	defer r.lock()()

	current, ok := r.s.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if current.CourierID != "" {
		return domain.Order{}, domain.ErrAlreadyClaimed
	}
	if current.Status != domain.OrderStatusReady {
		return domain.Order{}, fmt.Errorf("%w: order is %s", domain.ErrInvalidTransition, current.Status)
	}

	next := current.Clone()
	next.CourierID = courierID
	next.AppendTracking(entry.Status, entry.Timestamp, entry.Note, entry.Location)
	next.Version++

	r.record(snapshot(r.s.orders, orderID))
	r.s.orders[orderID] = next.Clone()
	return next, nil
}

var _ domain.OrderRepository = orderRepositoryInMemory{}
