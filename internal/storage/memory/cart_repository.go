package memory

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type cartRepositoryInMemory struct {
	view
}

func (r cartRepositoryInMemory) Get(_ context.Context, customerID string) (domain.Cart, error) {
	defer r.lock()()

	cart, ok := r.s.carts[customerID]
	if !ok {
		return domain.Cart{}, fmt.Errorf("%w: cart of %s", domain.ErrNotFound, customerID)
	}
	return cart.Clone(), nil
}

// Save создаёт корзину с версией 1 или обновляет её с проверкой версии.
func (r cartRepositoryInMemory) Save(_ context.Context, cart domain.Cart) (domain.Cart, error) {
	defer r.lock()()

	current, exists := r.s.carts[cart.CustomerID]
	switch {
	case !exists && cart.Version != 0:
		return domain.Cart{}, domain.ErrVersionConflict
	case exists && current.Version != cart.Version:
		return domain.Cart{}, domain.ErrVersionConflict
	}
	if exists {
		cart.CreatedAt = current.CreatedAt
	}

	r.record(snapshot(r.s.carts, cart.CustomerID))
	cart.Version++
	stored := cart.Clone()
	r.s.carts[cart.CustomerID] = stored
	return stored.Clone(), nil
}

var _ domain.CartRepository = cartRepositoryInMemory{}
