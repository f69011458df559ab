package inventory

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
)

// Ledger — журнал остатков поверх ProductRepository. Других путей изменить stock/sold у кода заказов нет.
type Ledger struct {
	products domain.ProductRepository
	metrics  *metrics.MarketplaceMetrics
	logger   *log.Entry
}

// NewLedger создаёт ledger для конкретного репозитория (обычно привязанного к транзакции).
func NewLedger(products domain.ProductRepository, m *metrics.MarketplaceMetrics, logger *log.Entry) *Ledger {
	if logger == nil {
		logger = log.WithField("component", "inventory")
	}
	return &Ledger{products: products, metrics: m, logger: logger}
}

// ReserveStock переводит qty единиц из stock в sold или возвращает *domain.InsufficientStockError.
func (l *Ledger) ReserveStock(ctx context.Context, productID string, qty int) error {
	if err := l.products.ReserveStock(ctx, productID, qty); err != nil {
		var stockErr *domain.InsufficientStockError
		if errors.As(err, &stockErr) {
			l.metrics.RecordStockRejected()
			l.logger.WithFields(log.Fields{
				"product_id": productID,
				"requested":  stockErr.Requested,
				"available":  stockErr.Available,
			}).Info("stock reservation rejected")
		}
		return err
	}
	l.metrics.RecordStockReserved(qty)
	return nil
}

// ReleaseStock возвращает qty единиц из sold в stock.
func (l *Ledger) ReleaseStock(ctx context.Context, productID string, qty int) error {
	if err := l.products.ReleaseStock(ctx, productID, qty); err != nil {
		return err
	}
	l.metrics.RecordStockReleased(qty)
	return nil
}

// Factory строит ledger поверх репозиториев транзакции.
type Factory func(tx domain.Tx) domain.InventoryLedger

// NewFactory возвращает фабрику стандартных ledger'ов.
func NewFactory(m *metrics.MarketplaceMetrics, logger *log.Entry) Factory {
	return func(tx domain.Tx) domain.InventoryLedger {
		return NewLedger(tx.Products(), m, logger)
	}
}

var _ domain.InventoryLedger = (*Ledger)(nil)
