package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type productRepositoryInMemory struct {
	view
}

func cloneProduct(p domain.Product) domain.Product {
	p.ImageURLs = append([]string(nil), p.ImageURLs...)
	return p
}

// Create сохраняет новый товар, если ID ещё не занят.
func (r productRepositoryInMemory) Create(_ context.Context, product domain.Product) error {
	defer r.lock()()

	if _, exists := r.s.products[product.ID]; exists {
		return fmt.Errorf("%w: product %s already exists", domain.ErrVersionConflict, product.ID)
	}
	r.record(snapshot(r.s.products, product.ID))
	r.s.products[product.ID] = cloneProduct(product)
	return nil
}

func (r productRepositoryInMemory) Get(_ context.Context, id string) (domain.Product, error) {
	defer r.lock()()

	p, ok := r.s.products[id]
	if !ok {
		return domain.Product{}, fmt.Errorf("%w: %s", domain.ErrProductNotFound, id)
	}
	return cloneProduct(p), nil
}

// GetForUpdate совпадает с Get: транзакция памяти и так держит общий мьютекс.
func (r productRepositoryInMemory) GetForUpdate(ctx context.Context, id string) (domain.Product, error) {
	return r.Get(ctx, id)
}

func (r productRepositoryInMemory) GetMany(_ context.Context, ids []string) (map[string]domain.Product, error) {
	defer r.lock()()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := r.s.products[id]; ok {
			result[id] = cloneProduct(p)
		}
	}
	return result, nil
}

// Update правит карточку; Sold, владелец и дата создания берутся из хранилища.
func (r productRepositoryInMemory) Update(_ context.Context, product domain.Product) error {
	defer r.lock()()

	current, ok := r.s.products[product.ID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrProductNotFound, product.ID)
	}
	product.MerchantID = current.MerchantID
	product.Sold = current.Sold
	product.CreatedAt = current.CreatedAt

	r.record(snapshot(r.s.products, product.ID))
	r.s.products[product.ID] = cloneProduct(product)
	return nil
}

func (r productRepositoryInMemory) List(_ context.Context, filter domain.ProductFilter, page domain.Page) ([]domain.Product, int, error) {
	defer r.lock()()

	matched := make([]domain.Product, 0)
	for _, p := range r.s.products {
		if filter.Match(p) {
			matched = append(matched, p)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	return paginate(matched, page, cloneProduct), total, nil
}

func (r productRepositoryInMemory) ReserveStock(_ context.Context, id string, qty int) error {
	if qty <= 0 {
		return domain.Validationf("reserve quantity must be positive")
	}
	defer r.lock()()

	p, ok := r.s.products[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrProductNotFound, id)
	}
	if p.Stock < qty {
		return &domain.InsufficientStockError{
			ProductID:   p.ID,
			ProductName: p.Name,
			Requested:   qty,
			Available:   p.Stock,
		}
	}

	r.record(snapshot(r.s.products, id))
	p.Stock -= qty
	p.Sold += qty
	r.s.products[id] = p
	return nil
}

func (r productRepositoryInMemory) ReleaseStock(_ context.Context, id string, qty int) error {
	if qty <= 0 {
		return domain.Validationf("release quantity must be positive")
	}
	defer r.lock()()

	p, ok := r.s.products[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrProductNotFound, id)
	}
	if p.Sold < qty {
		return domain.Validationf("release of %d exceeds sold %d for product %s", qty, p.Sold, id)
	}

	r.record(snapshot(r.s.products, id))
	p.Stock += qty
	p.Sold -= qty
	r.s.products[id] = p
	return nil
}

// paginate вырезает страницу и клонирует элементы.
func paginate[T any](items []T, page domain.Page, clone func(T) T) []T {
	page = page.Normalize()
	offset := page.Offset()
	if offset >= len(items) {
		return []T{}
	}
	end := offset + page.Limit
	if end > len(items) {
		end = len(items)
	}
	result := make([]T, 0, end-offset)
	for _, item := range items[offset:end] {
		result = append(result, clone(item))
	}
	return result
}

var _ domain.ProductRepository = productRepositoryInMemory{}
