package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type cartRepository struct {
	q dbtx
}

func (r *cartRepository) Get(ctx context.Context, customerID string) (domain.Cart, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	cart := domain.Cart{CustomerID: customerID}
	err := r.q.QueryRowContext(ctx, `
		SELECT version, created_at, updated_at
		FROM carts
		WHERE customer_id = $1
	`, customerID).Scan(&cart.Version, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Cart{}, fmt.Errorf("%w: cart of %s", domain.ErrNotFound, customerID)
		}
		return domain.Cart{}, fmt.Errorf("select cart: %w", err)
	}
	cart.CreatedAt = cart.CreatedAt.UTC()
	cart.UpdatedAt = cart.UpdatedAt.UTC()

	rows, err := r.q.QueryContext(ctx, `
		SELECT product_id, quantity, price_at_add, added_at
		FROM cart_items
		WHERE customer_id = $1
		ORDER BY position ASC
	`, customerID)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("load cart items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.PriceAtAdd, &item.AddedAt); err != nil {
			return domain.Cart{}, fmt.Errorf("scan cart item: %w", err)
		}
		item.AddedAt = item.AddedAt.UTC()
		cart.Items = append(cart.Items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.Cart{}, fmt.Errorf("iterate cart items: %w", err)
	}

	return cart, nil
}

// Save переписывает позиции корзины целиком под проверкой версии.
func (r *cartRepository) Save(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	err := atomically(ctx, r.q, func(q dbtx) error {
		var (
			res sql.Result
			err error
		)
		if cart.Version == 0 {
			res, err = q.ExecContext(ctx, `
				INSERT INTO carts (customer_id, version, created_at, updated_at)
				VALUES ($1, 1, $2, $3)
				ON CONFLICT (customer_id) DO NOTHING
			`, cart.CustomerID, cart.CreatedAt, cart.UpdatedAt)
		} else {
			res, err = q.ExecContext(ctx, `
				UPDATE carts
				SET version = version + 1,
				    updated_at = $3
				WHERE customer_id = $1
				  AND version = $2
			`, cart.CustomerID, cart.Version, cart.UpdatedAt)
		}
		if err != nil {
			return fmt.Errorf("save cart: %w", err)
		}
		if err := expectAffected(res, domain.ErrVersionConflict); err != nil {
			return err
		}

		if _, err := q.ExecContext(ctx, `DELETE FROM cart_items WHERE customer_id = $1`, cart.CustomerID); err != nil {
			return fmt.Errorf("clear cart items: %w", err)
		}
		for i, item := range cart.Items {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO cart_items (customer_id, position, product_id, quantity, price_at_add, added_at)
				VALUES ($1,$2,$3,$4,$5,$6)
			`, cart.CustomerID, i, item.ProductID, item.Quantity, item.PriceAtAdd, item.AddedAt); err != nil {
				return fmt.Errorf("insert cart item: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.Cart{}, err
	}

	saved := cart.Clone()
	saved.Version++
	return saved, nil
}

var _ domain.CartRepository = (*cartRepository)(nil)
