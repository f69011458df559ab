package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/memory"
)

func seedProduct(t *testing.T, store *memory.Store, id string, stock int) {
	t.Helper()
	now := time.Now().UTC()
	err := store.Products().Create(context.Background(), domain.Product{
		ID:         id,
		MerchantID: "merchant-1",
		Name:       "Product " + id,
		Price:      10,
		Stock:      stock,
		Status:     domain.ProductStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	require.NoError(t, err)
}

func TestStore_WithinTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedProduct(t, store, "p-a", 7)

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		require.NoError(t, tx.Products().ReserveStock(ctx, "p-a", 3))
		_, err := tx.Outbox().Enqueue(ctx, domain.OutboxMessage{EventType: domain.EventOrderCreated})
		require.NoError(t, err)
		_, err = tx.Carts().Save(ctx, domain.Cart{CustomerID: "customer-1"})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	p, err := store.Products().Get(ctx, "p-a")
	require.NoError(t, err)
	require.Equal(t, 7, p.Stock)
	require.Equal(t, 0, p.Sold)
	require.Empty(t, store.AllPending())

	_, err = store.Carts().Get(ctx, "customer-1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_WithinTxRollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedProduct(t, store, "p-a", 2)

	require.Panics(t, func() {
		_ = store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			require.NoError(t, tx.Products().ReserveStock(ctx, "p-a", 2))
			panic("boom")
		})
	})

	p, err := store.Products().Get(ctx, "p-a")
	require.NoError(t, err)
	require.Equal(t, 2, p.Stock)
}

func TestStore_WithinTxCommits(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedProduct(t, store, "p-a", 5)

	err := store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Products().ReserveStock(ctx, "p-a", 5)
	})
	require.NoError(t, err)

	p, err := store.Products().Get(ctx, "p-a")
	require.NoError(t, err)
	require.Equal(t, 0, p.Stock)
	require.Equal(t, 5, p.Sold)
}

func TestProductRepository_ReserveNeverGoesNegative(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedProduct(t, store, "p-a", 3)

	err := store.Products().ReserveStock(ctx, "p-a", 4)
	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, 3, stockErr.Available)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	require.ErrorIs(t, store.Products().ReserveStock(ctx, "missing", 1), domain.ErrProductNotFound)
	require.ErrorIs(t, store.Products().ReleaseStock(ctx, "p-a", 1), domain.ErrValidation)
}

func TestProductRepository_UpdateKeepsSold(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedProduct(t, store, "p-a", 3)
	require.NoError(t, store.Products().ReserveStock(ctx, "p-a", 2))

	p, err := store.Products().Get(ctx, "p-a")
	require.NoError(t, err)
	p.Sold = 100
	p.Stock = 9
	p.MerchantID = "other"
	require.NoError(t, store.Products().Update(ctx, p))

	got, err := store.Products().Get(ctx, "p-a")
	require.NoError(t, err)
	require.Equal(t, 2, got.Sold)
	require.Equal(t, 9, got.Stock)
	require.Equal(t, "merchant-1", got.MerchantID)
}

func TestCartRepository_SaveChecksVersion(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Carts()

	saved, err := repo.Save(ctx, domain.Cart{CustomerID: "customer-1"})
	require.NoError(t, err)
	require.EqualValues(t, 1, saved.Version)

	saved.Items = append(saved.Items, domain.CartItem{ProductID: "p-a", Quantity: 1})
	next, err := repo.Save(ctx, saved)
	require.NoError(t, err)
	require.EqualValues(t, 2, next.Version)

	_, err = repo.Save(ctx, saved)
	require.ErrorIs(t, err, domain.ErrVersionConflict)
}

func TestCourierRepository_Counters(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Couriers()
	now := time.Now().UTC()
	require.NoError(t, repo.Create(ctx, domain.Courier{ID: "courier-1", Available: true, Online: true}))

	require.NoError(t, repo.RecordClaim(ctx, "courier-1", now))
	require.NoError(t, repo.RecordDelivery(ctx, "courier-1", 50, now))
	require.NoError(t, repo.RecordClaim(ctx, "courier-1", now))
	require.NoError(t, repo.RecordCancellation(ctx, "courier-1", now))
	require.NoError(t, repo.UpdateLocation(ctx, "courier-1", domain.GeoPoint{Lat: 1, Lng: 2}, now))

	c, err := repo.Get(ctx, "courier-1")
	require.NoError(t, err)
	require.True(t, c.Available)
	require.Equal(t, 2, c.TotalDeliveries)
	require.EqualValues(t, 50, c.TotalEarnings)
	require.Equal(t, domain.CourierStats{TotalOrders: 2, CompletedOrders: 1, CancelledOrders: 1}, c.Stats)
	require.NotNil(t, c.Location)

	offline := false
	c, err = repo.SetAvailability(ctx, "courier-1", domain.CourierAvailability{Online: &offline}, now)
	require.NoError(t, err)
	require.False(t, c.Online)

	require.ErrorIs(t, repo.RecordClaim(ctx, "missing", now), domain.ErrCourierNotFound)
}
