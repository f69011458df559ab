package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type orderRepository struct {
	q dbtx
}

const orderColumns = `o.id, o.order_number, o.customer_id, o.shipping_address, o.billing_address,
	o.payment_method, o.payment_status, o.subtotal, o.tax, o.delivery_fee, o.discount, o.total_amount,
	o.delivery_instructions, o.courier_id, o.status, o.cancellation_reason, o.cancelled_by,
	o.delivered_at, o.version, o.created_at, o.updated_at`

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	shipping, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("encode shipping address: %w", err)
	}
	billing, err := json.Marshal(order.BillingAddress)
	if err != nil {
		return fmt.Errorf("encode billing address: %w", err)
	}
	if order.Version == 0 {
		order.Version = 1
	}

	return atomically(ctx, r.q, func(q dbtx) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO orders (
				id, order_number, customer_id, shipping_address, billing_address,
				payment_method, payment_status, subtotal, tax, delivery_fee, discount, total_amount,
				delivery_instructions, courier_id, status, cancellation_reason, cancelled_by,
				delivered_at, version, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
		`,
			order.ID, order.OrderNumber, order.CustomerID, shipping, billing,
			string(order.PaymentMethod), string(order.PaymentStatus),
			order.Subtotal, order.Tax, order.DeliveryFee, order.Discount, order.TotalAmount,
			order.DeliveryInstructions, nullString(order.CourierID), string(order.Status),
			order.CancellationReason, string(order.CancelledBy),
			nullTime(order.DeliveredAt), order.Version, order.CreatedAt, order.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: order %s already exists", domain.ErrVersionConflict, order.ID)
			}
			return fmt.Errorf("insert order: %w", err)
		}

		for i, item := range order.Items {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO order_items (
					order_id, position, product_id, merchant_id, name, quantity, unit_price, line_total
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			`,
				order.ID, i, item.ProductID, item.MerchantID, item.Name, item.Quantity, item.UnitPrice, item.LineTotal,
			); err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}

		return insertTracking(ctx, q, order.ID, 0, order.Tracking)
	})
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return loadOrder(ctx, r.q, id)
}

func (r *orderRepository) List(ctx context.Context, filter domain.OrderFilter, page domain.Page) ([]domain.Order, int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	where := newWhereBuilder()
	if filter.CustomerID != "" {
		where.add("o.customer_id = %s", filter.CustomerID)
	}
	if filter.MerchantID != "" {
		where.add("EXISTS (SELECT 1 FROM order_items i WHERE i.order_id = o.id AND i.merchant_id = %s)", filter.MerchantID)
	}
	if filter.CourierID != "" {
		where.add("o.courier_id = %s", filter.CourierID)
	}
	if filter.Status != "" {
		where.add("o.status = %s", string(filter.Status))
	}
	if filter.Unassigned {
		where.addRaw("o.courier_id IS NULL")
	}

	var total int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders o`+where.sql(), where.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	page = page.Normalize()
	args := append(append([]any(nil), where.args...), page.Limit, page.Offset())
	rows, err := r.q.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM orders o%s ORDER BY o.created_at DESC, o.id DESC LIMIT $%d OFFSET $%d`,
		orderColumns, where.sql(), len(where.args)+1, len(where.args)+2,
	), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}

	orders := make([]domain.Order, 0, page.Limit)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, 0, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, 0, fmt.Errorf("iterate order rows: %w", err)
	}
	rows.Close()

	// Позиции и историю грузим после закрытия курсора: внутри транзакции он единственный.
	for i := range orders {
		if err := loadOrderChildren(ctx, r.q, &orders[i]); err != nil {
			return nil, 0, err
		}
	}

	return orders, total, nil
}

// Update меняет изменяемые поля при совпадении версии и дописывает новые записи истории
// в той же транзакции.
func (r *orderRepository) Update(ctx context.Context, order domain.Order) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var updated domain.Order
	err := atomically(ctx, r.q, func(q dbtx) error {
		res, err := q.ExecContext(ctx, `
			UPDATE orders
			SET status = $3,
			    payment_status = $4,
			    courier_id = $5,
			    cancellation_reason = $6,
			    cancelled_by = $7,
			    delivered_at = $8,
			    updated_at = $9,
			    version = version + 1
			WHERE id = $1
			  AND version = $2
		`,
			order.ID, order.Version, string(order.Status), string(order.PaymentStatus),
			nullString(order.CourierID), order.CancellationReason, string(order.CancelledBy),
			nullTime(order.DeliveredAt), order.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			exists, err := orderExists(ctx, q, order.ID)
			if err != nil {
				return err
			}
			if !exists {
				return domain.ErrOrderNotFound
			}
			return domain.ErrVersionConflict
		}

		stored, err := trackingCount(ctx, q, order.ID)
		if err != nil {
			return err
		}
		if len(order.Tracking) < stored {
			return fmt.Errorf("%w: tracking history cannot shrink", domain.ErrValidation)
		}
		if err := insertTracking(ctx, q, order.ID, stored, order.Tracking[stored:]); err != nil {
			return err
		}

		updated, err = loadOrder(ctx, q, order.ID)
		return err
	})
	if err != nil {
		return domain.Order{}, err
	}
	return updated, nil
}

// Claim — условный UPDATE: курьер назначается, только если заказ Ready и свободен.
func (r *orderRepository) Claim(ctx context.Context, orderID, courierID string, entry domain.TrackingEntry) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var claimed domain.Order
	err := atomically(ctx, r.q, func(q dbtx) error {
		res, err := q.ExecContext(ctx, `
			UPDATE orders
			SET courier_id = $2,
			    status = $3,
			    updated_at = $4,
			    version = version + 1
			WHERE id = $1
			  AND status = $5
			  AND courier_id IS NULL
		`, orderID, courierID, string(entry.Status), entry.Timestamp, string(domain.OrderStatusReady))
		if err != nil {
			return fmt.Errorf("claim order: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			current, err := loadOrder(ctx, q, orderID)
			if err != nil {
				return err
			}
			if current.CourierID != "" {
				return domain.ErrAlreadyClaimed
			}
			return fmt.Errorf("%w: order is %s", domain.ErrInvalidTransition, current.Status)
		}

		stored, err := trackingCount(ctx, q, orderID)
		if err != nil {
			return err
		}
		if err := insertTracking(ctx, q, orderID, stored, []domain.TrackingEntry{entry}); err != nil {
			return err
		}

		claimed, err = loadOrder(ctx, q, orderID)
		return err
	})
	if err != nil {
		return domain.Order{}, err
	}
	return claimed, nil
}

func loadOrder(ctx context.Context, q dbtx, id string) (domain.Order, error) {
	order, err := scanOrder(q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders o WHERE o.id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	if err := loadOrderChildren(ctx, q, &order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o                      domain.Order
		shipping, billing      []byte
		paymentMethod, payment string
		status, cancelledBy    string
		courierID              sql.NullString
		deliveredAt            sql.NullTime
	)
	if err := row.Scan(
		&o.ID, &o.OrderNumber, &o.CustomerID, &shipping, &billing,
		&paymentMethod, &payment, &o.Subtotal, &o.Tax, &o.DeliveryFee, &o.Discount, &o.TotalAmount,
		&o.DeliveryInstructions, &courierID, &status, &o.CancellationReason, &cancelledBy,
		&deliveredAt, &o.Version, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}

	if err := json.Unmarshal(shipping, &o.ShippingAddress); err != nil {
		return domain.Order{}, fmt.Errorf("decode shipping address: %w", err)
	}
	if err := json.Unmarshal(billing, &o.BillingAddress); err != nil {
		return domain.Order{}, fmt.Errorf("decode billing address: %w", err)
	}
	o.PaymentMethod = domain.PaymentMethod(paymentMethod)
	o.PaymentStatus = domain.PaymentStatus(payment)
	o.Status = domain.OrderStatus(status)
	o.CancelledBy = domain.Role(cancelledBy)
	o.CourierID = courierID.String
	if deliveredAt.Valid {
		at := deliveredAt.Time.UTC()
		o.DeliveredAt = &at
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, nil
}

func loadOrderChildren(ctx context.Context, q dbtx, order *domain.Order) error {
	items, err := q.QueryContext(ctx, `
		SELECT product_id, merchant_id, name, quantity, unit_price, line_total
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC
	`, order.ID)
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	order.Items = order.Items[:0]
	for items.Next() {
		var item domain.LineItem
		if err := items.Scan(&item.ProductID, &item.MerchantID, &item.Name, &item.Quantity, &item.UnitPrice, &item.LineTotal); err != nil {
			items.Close()
			return fmt.Errorf("scan order item: %w", err)
		}
		order.Items = append(order.Items, item)
	}
	if err := items.Err(); err != nil {
		items.Close()
		return fmt.Errorf("iterate order items: %w", err)
	}
	items.Close()

	tracking, err := q.QueryContext(ctx, `
		SELECT status, note, lat, lng, occurred_at
		FROM order_tracking
		WHERE order_id = $1
		ORDER BY seq ASC
	`, order.ID)
	if err != nil {
		return fmt.Errorf("load order tracking: %w", err)
	}
	defer tracking.Close()

	order.Tracking = order.Tracking[:0]
	for tracking.Next() {
		var (
			entry    domain.TrackingEntry
			status   string
			lat, lng sql.NullFloat64
		)
		if err := tracking.Scan(&status, &entry.Note, &lat, &lng, &entry.Timestamp); err != nil {
			return fmt.Errorf("scan tracking entry: %w", err)
		}
		entry.Status = domain.OrderStatus(status)
		entry.Timestamp = entry.Timestamp.UTC()
		if lat.Valid && lng.Valid {
			entry.Location = &domain.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
		}
		order.Tracking = append(order.Tracking, entry)
	}
	if err := tracking.Err(); err != nil {
		return fmt.Errorf("iterate tracking entries: %w", err)
	}
	return nil
}

func insertTracking(ctx context.Context, q dbtx, orderID string, startSeq int, entries []domain.TrackingEntry) error {
	for i, entry := range entries {
		var lat, lng sql.NullFloat64
		if entry.Location != nil {
			lat = sql.NullFloat64{Float64: entry.Location.Lat, Valid: true}
			lng = sql.NullFloat64{Float64: entry.Location.Lng, Valid: true}
		}
		if _, err := q.ExecContext(ctx, `
			INSERT INTO order_tracking (order_id, seq, status, note, lat, lng, occurred_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, orderID, startSeq+i, string(entry.Status), entry.Note, lat, lng, entry.Timestamp); err != nil {
			return fmt.Errorf("insert tracking entry: %w", err)
		}
	}
	return nil
}

func trackingCount(ctx context.Context, q dbtx, orderID string) (int, error) {
	var count int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM order_tracking WHERE order_id = $1`, orderID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count tracking entries: %w", err)
	}
	return count, nil
}

func orderExists(ctx context.Context, q dbtx, orderID string) (bool, error) {
	var id string
	err := q.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func nullTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *value, Valid: true}
}

var _ domain.OrderRepository = (*orderRepository)(nil)
