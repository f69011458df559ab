package cart_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/service/cart"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/memory"
)

const customerID = "customer-1"

func newService(t *testing.T) (*cart.Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	for _, p := range []domain.Product{
		{ID: "p-a", MerchantID: "m-1", Name: "Tea", Price: 10, Stock: 5, Status: domain.ProductStatusActive},
		{ID: "p-b", MerchantID: "m-2", Name: "Cup", Price: 40, Stock: 2, Status: domain.ProductStatusActive},
		{ID: "p-draft", MerchantID: "m-2", Name: "Soon", Price: 1, Stock: 9, Status: domain.ProductStatusDraft},
	} {
		require.NoError(t, store.Products().Create(context.Background(), p))
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return cart.NewService(store, cart.WithClock(func() time.Time { return now })), store
}

func TestGetCartCreatesEmptyCart(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	c, err := svc.GetCart(ctx, customerID)
	require.NoError(t, err)
	require.True(t, c.Empty())
	require.Zero(t, c.TotalPrice)

	_, err = store.Carts().Get(ctx, customerID)
	require.NoError(t, err)
}

func TestAddItemSumsQuantities(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, customerID, "p-a", 2)
	require.NoError(t, err)
	c, err := svc.AddItem(ctx, customerID, "p-a", 3)
	require.NoError(t, err)

	require.Len(t, c.Items, 1)
	require.Equal(t, 5, c.Items[0].Quantity)
	require.Equal(t, int64(50), c.TotalPrice)
	require.Equal(t, 5, c.TotalItems)
	require.Equal(t, "Tea", c.Items[0].Name)
}

func TestAddItemChecksRequestedQuantity(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, customerID, "p-b", 3)
	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, 3, stockErr.Requested)
	require.Equal(t, 2, stockErr.Available)

	_, err = svc.AddItem(ctx, customerID, "p-b", 2)
	require.NoError(t, err)
	c, err := svc.AddItem(ctx, customerID, "p-b", 2)
	require.NoError(t, err)
	require.Equal(t, 4, c.Items[0].Quantity)
	require.Equal(t, 4, c.TotalItems)
}

func TestAddItemUnknownOrInactiveProduct(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, customerID, "missing", 1)
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	_, err = svc.AddItem(ctx, customerID, "p-draft", 1)
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	_, err = svc.AddItem(ctx, customerID, "p-a", 0)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestUpdateQuantityBounds(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, customerID, "p-a", 1)
	require.NoError(t, err)

	c, err := svc.UpdateQuantity(ctx, customerID, "p-a", 4)
	require.NoError(t, err)
	require.Equal(t, int64(40), c.TotalPrice)

	_, err = svc.UpdateQuantity(ctx, customerID, "p-a", 6)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	_, err = svc.UpdateQuantity(ctx, customerID, "p-a", 0)
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.UpdateQuantity(ctx, customerID, "p-b", 1)
	require.ErrorIs(t, err, domain.ErrCartItemNotFound)
}

func TestRemoveAndClear(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, customerID, "p-a", 1)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, customerID, "p-b", 1)
	require.NoError(t, err)

	c, err := svc.RemoveItem(ctx, customerID, "p-a")
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	require.Equal(t, int64(40), c.TotalPrice)

	_, err = svc.RemoveItem(ctx, customerID, "p-a")
	require.ErrorIs(t, err, domain.ErrNotFound)

	c, err = svc.Clear(ctx, customerID)
	require.NoError(t, err)
	require.True(t, c.Empty())
	require.Zero(t, c.TotalItems)
}

func TestTotalsFollowLivePrices(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, customerID, "p-a", 3)
	require.NoError(t, err)

	p, err := store.Products().Get(ctx, "p-a")
	require.NoError(t, err)
	p.Price = 12
	require.NoError(t, store.Products().Update(ctx, p))

	c, err := svc.GetCart(ctx, customerID)
	require.NoError(t, err)
	require.Equal(t, int64(36), c.TotalPrice)
	require.Equal(t, int64(10), c.Items[0].PriceAtAdd)
	require.Equal(t, int64(12), c.Items[0].Price)
}
