package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type courierRepositoryInMemory struct {
	view
}

func cloneCourier(c domain.Courier) domain.Courier {
	if c.Location != nil {
		loc := *c.Location
		c.Location = &loc
	}
	return c
}

func (r courierRepositoryInMemory) Create(_ context.Context, courier domain.Courier) error {
	defer r.lock()()

	if _, exists := r.s.couriers[courier.ID]; exists {
		return fmt.Errorf("%w: courier %s already exists", domain.ErrVersionConflict, courier.ID)
	}
	r.record(snapshot(r.s.couriers, courier.ID))
	r.s.couriers[courier.ID] = cloneCourier(courier)
	return nil
}

func (r courierRepositoryInMemory) Get(_ context.Context, id string) (domain.Courier, error) {
	defer r.lock()()

	c, ok := r.s.couriers[id]
	if !ok {
		return domain.Courier{}, domain.ErrCourierNotFound
	}
	return cloneCourier(c), nil
}

func (r courierRepositoryInMemory) RecordClaim(_ context.Context, id string, at time.Time) error {
	_, err := r.modify(id, func(c *domain.Courier) {
		c.Available = false
		c.TotalDeliveries++
		c.Stats.TotalOrders++
		c.UpdatedAt = at
	})
	return err
}

func (r courierRepositoryInMemory) RecordDelivery(_ context.Context, id string, earning int64, at time.Time) error {
	_, err := r.modify(id, func(c *domain.Courier) {
		c.Available = true
		c.TotalEarnings += earning
		c.Stats.CompletedOrders++
		c.UpdatedAt = at
	})
	return err
}

func (r courierRepositoryInMemory) RecordCancellation(_ context.Context, id string, at time.Time) error {
	_, err := r.modify(id, func(c *domain.Courier) {
		c.Available = true
		c.Stats.CancelledOrders++
		c.UpdatedAt = at
	})
	return err
}

func (r courierRepositoryInMemory) UpdateLocation(_ context.Context, id string, point domain.GeoPoint, at time.Time) error {
	_, err := r.modify(id, func(c *domain.Courier) {
		c.Location = &domain.CourierLocation{GeoPoint: point, UpdatedAt: at}
		c.UpdatedAt = at
	})
	return err
}

func (r courierRepositoryInMemory) SetAvailability(_ context.Context, id string, update domain.CourierAvailability, at time.Time) (domain.Courier, error) {
	return r.modify(id, func(c *domain.Courier) {
		if update.Online != nil {
			c.Online = *update.Online
		}
		if update.Available != nil {
			c.Available = *update.Available
		}
		c.UpdatedAt = at
	})
}

func (r courierRepositoryInMemory) modify(id string, fn func(c *domain.Courier)) (domain.Courier, error) {
	defer r.lock()()

	c, ok := r.s.couriers[id]
	if !ok {
		return domain.Courier{}, domain.ErrCourierNotFound
	}
	r.record(snapshot(r.s.couriers, id))
	c = cloneCourier(c)
	fn(&c)
	r.s.couriers[id] = c
	return cloneCourier(c), nil
}

var _ domain.CourierRepository = courierRepositoryInMemory{}
