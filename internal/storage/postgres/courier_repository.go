package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type courierRepository struct {
	q dbtx
}

func (r *courierRepository) Create(ctx context.Context, courier domain.Courier) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO couriers (
			id, name, phone, vehicle_type, online, available, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		courier.ID, courier.Name, courier.Phone, courier.VehicleType,
		courier.Online, courier.Available, courier.CreatedAt, courier.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: courier %s already exists", domain.ErrVersionConflict, courier.ID)
		}
		return fmt.Errorf("insert courier: %w", err)
	}
	return nil
}

func (r *courierRepository) Get(ctx context.Context, id string) (domain.Courier, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		c          domain.Courier
		lat, lng   sql.NullFloat64
		locationAt sql.NullTime
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT id, name, phone, vehicle_type, online, available, total_deliveries, total_earnings,
		       total_orders, completed_orders, cancelled_orders, lat, lng, location_updated_at,
		       created_at, updated_at
		FROM couriers
		WHERE id = $1
	`, id).Scan(
		&c.ID, &c.Name, &c.Phone, &c.VehicleType, &c.Online, &c.Available, &c.TotalDeliveries, &c.TotalEarnings,
		&c.Stats.TotalOrders, &c.Stats.CompletedOrders, &c.Stats.CancelledOrders, &lat, &lng, &locationAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Courier{}, domain.ErrCourierNotFound
		}
		return domain.Courier{}, fmt.Errorf("select courier: %w", err)
	}
	if lat.Valid && lng.Valid {
		c.Location = &domain.CourierLocation{
			GeoPoint:  domain.GeoPoint{Lat: lat.Float64, Lng: lng.Float64},
			UpdatedAt: locationAt.Time.UTC(),
		}
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

func (r *courierRepository) RecordClaim(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, id, `
		UPDATE couriers
		SET available = FALSE,
		    total_deliveries = total_deliveries + 1,
		    total_orders = total_orders + 1,
		    updated_at = $2
		WHERE id = $1
	`, at)
}

func (r *courierRepository) RecordDelivery(ctx context.Context, id string, earning int64, at time.Time) error {
	return r.exec(ctx, id, `
		UPDATE couriers
		SET available = TRUE,
		    total_earnings = total_earnings + $3,
		    completed_orders = completed_orders + 1,
		    updated_at = $2
		WHERE id = $1
	`, at, earning)
}

func (r *courierRepository) RecordCancellation(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, id, `
		UPDATE couriers
		SET available = TRUE,
		    cancelled_orders = cancelled_orders + 1,
		    updated_at = $2
		WHERE id = $1
	`, at)
}

func (r *courierRepository) UpdateLocation(ctx context.Context, id string, point domain.GeoPoint, at time.Time) error {
	return r.exec(ctx, id, `
		UPDATE couriers
		SET lat = $3,
		    lng = $4,
		    location_updated_at = $2,
		    updated_at = $2
		WHERE id = $1
	`, at, point.Lat, point.Lng)
}

func (r *courierRepository) SetAvailability(ctx context.Context, id string, update domain.CourierAvailability, at time.Time) (domain.Courier, error) {
	var online, available sql.NullBool
	if update.Online != nil {
		online = sql.NullBool{Bool: *update.Online, Valid: true}
	}
	if update.Available != nil {
		available = sql.NullBool{Bool: *update.Available, Valid: true}
	}

	err := r.exec(ctx, id, `
		UPDATE couriers
		SET online = COALESCE($3, online),
		    available = COALESCE($4, available),
		    updated_at = $2
		WHERE id = $1
	`, at, online, available)
	if err != nil {
		return domain.Courier{}, err
	}
	return r.Get(ctx, id)
}

func (r *courierRepository) exec(ctx context.Context, id, query string, at time.Time, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, query, append([]any{id, at}, args...)...)
	if err != nil {
		return fmt.Errorf("update courier: %w", err)
	}
	return expectAffected(res, domain.ErrCourierNotFound)
}

var _ domain.CourierRepository = (*courierRepository)(nil)
