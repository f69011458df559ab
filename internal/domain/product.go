package domain

import (
	"strings"
	"time"
)

// ProductStatus — мягкий жизненный цикл товара в каталоге.
type ProductStatus string

const (
	ProductStatusActive   ProductStatus = "Active"
	ProductStatusInactive ProductStatus = "Inactive"
	ProductStatusDraft    ProductStatus = "Draft"
	ProductStatusArchived ProductStatus = "Archived"
)

// Valid проверяет, что статус известен.
func (s ProductStatus) Valid() bool {
	switch s {
	case ProductStatusActive, ProductStatusInactive, ProductStatusDraft, ProductStatusArchived:
		return true
	default:
		return false
	}
}

// Product — товар мерчанта. Stock и Sold после создания двигает только складской учёт
// (резерв при оформлении и возврат при отмене); мерчант может выставить Stock при правке.
type Product struct {
	ID          string
	MerchantID  string
	Name        string
	Description string
	Category    string
	SKU         string
	// Price — цена за единицу в целых единицах валюты магазина.
	Price     int64
	Stock     int
	Sold      int
	Status    ProductStatus
	ImageURLs []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Purchasable сообщает, можно ли положить товар в корзину.
func (p Product) Purchasable() bool {
	return p.Status == ProductStatusActive
}

// Validate проверяет поля карточки товара.
func (p Product) Validate() error {
	switch {
	case strings.TrimSpace(p.MerchantID) == "":
		return Validationf("merchant_id is required")
	case strings.TrimSpace(p.Name) == "":
		return Validationf("product name is required")
	case p.Price < 0:
		return Validationf("price must be non-negative")
	case p.Stock < 0:
		return Validationf("stock must be non-negative")
	case p.Sold < 0:
		return Validationf("sold must be non-negative")
	case !p.Status.Valid():
		return Validationf("unknown product status %q", p.Status)
	}
	return nil
}

// ProductFilter задаёт выборку товаров.
type ProductFilter struct {
	MerchantID string
	Status     ProductStatus
	Category   string
}

// Match применяет фильтр к товару (используется in-memory хранилищем).
func (f ProductFilter) Match(p Product) bool {
	if f.MerchantID != "" && p.MerchantID != f.MerchantID {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.Category != "" && !strings.EqualFold(p.Category, f.Category) {
		return false
	}
	return true
}
