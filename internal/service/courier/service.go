// Package courier — профиль курьера, его геопозиция, доступность и сводка.
package courier

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/sanitize"
)

// RegisterInput — данные профиля курьера. ID берётся из токена.
type RegisterInput struct {
	Name        string
	Phone       string
	VehicleType string
}

// Dashboard — сводка курьера.
type Dashboard struct {
	TotalOrders     int
	CompletedOrders int
	CancelledOrders int
	TotalEarnings   int64
	// AvailableOrders — готовые заказы без курьера на данный момент.
	AvailableOrders int
}

// Service управляет профилями курьеров.
type Service struct {
	uow    domain.UnitOfWork
	clock  domain.Clock
	text   *sanitize.Text
	logger *log.Entry
}

// Option настраивает Service.
type Option func(*Service)

// WithClock подменяет источник времени.
func WithClock(clock domain.Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService конструирует сервис курьеров.
func NewService(uow domain.UnitOfWork, opts ...Option) *Service {
	s := &Service{
		uow:    uow,
		clock:  time.Now,
		text:   sanitize.NewText(100),
		logger: log.WithField("component", "courier-service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register создаёт профиль курьера: онлайн и свободен.
func (s *Service) Register(ctx context.Context, courierID string, in RegisterInput) (domain.Courier, error) {
	if strings.TrimSpace(courierID) == "" {
		return domain.Courier{}, domain.Validationf("courier id is required")
	}
	name := s.text.Clean(in.Name)
	if name == "" {
		return domain.Courier{}, domain.Validationf("courier name is required")
	}

	now := s.clock().UTC()
	courier := domain.Courier{
		ID:          courierID,
		Name:        name,
		Phone:       strings.TrimSpace(in.Phone),
		VehicleType: s.text.Clean(in.VehicleType),
		Online:      true,
		Available:   true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.uow.Couriers().Create(ctx, courier); err != nil {
		return domain.Courier{}, err
	}
	s.logger.WithField("courier_id", courierID).Info("courier registered")
	return courier, nil
}

// Profile возвращает профиль курьера.
func (s *Service) Profile(ctx context.Context, courierID string) (domain.Courier, error) {
	return s.uow.Couriers().Get(ctx, courierID)
}

// UpdateLocation сохраняет текущие координаты курьера.
func (s *Service) UpdateLocation(ctx context.Context, courierID string, point domain.GeoPoint) error {
	if !point.Valid() {
		return domain.Validationf("latitude or longitude out of range")
	}
	return s.uow.Couriers().UpdateLocation(ctx, courierID, point, s.clock().UTC())
}

// SetAvailability меняет флаги online/available; отсутствующие флаги не трогаются.
func (s *Service) SetAvailability(ctx context.Context, courierID string, update domain.CourierAvailability) (domain.Courier, error) {
	if update.Online == nil && update.Available == nil {
		return domain.Courier{}, domain.Validationf("online or available flag is required")
	}
	courier, err := s.uow.Couriers().SetAvailability(ctx, courierID, update, s.clock().UTC())
	if err != nil {
		return domain.Courier{}, err
	}
	s.logger.WithFields(log.Fields{
		"courier_id": courierID,
		"online":     courier.Online,
		"available":  courier.Available,
	}).Info("courier availability changed")
	return courier, nil
}

// Dashboard собирает счётчики курьера и число свободных заказов.
func (s *Service) Dashboard(ctx context.Context, courierID string) (Dashboard, error) {
	courier, err := s.uow.Couriers().Get(ctx, courierID)
	if err != nil {
		return Dashboard{}, err
	}
	_, available, err := s.uow.Orders().List(ctx, domain.OrderFilter{
		Status:     domain.OrderStatusReady,
		Unassigned: true,
	}, domain.Page{Number: 1, Limit: 1})
	if err != nil {
		return Dashboard{}, fmt.Errorf("count available orders: %w", err)
	}
	return Dashboard{
		TotalOrders:     courier.Stats.TotalOrders,
		CompletedOrders: courier.Stats.CompletedOrders,
		CancelledOrders: courier.Stats.CancelledOrders,
		TotalEarnings:   courier.TotalEarnings,
		AvailableOrders: available,
	}, nil
}
