package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// transitionRequest — внутреннее представление перехода для всех ролей, кроме админа.
type transitionRequest struct {
	orderID  string
	actor    domain.Actor
	target   domain.OrderStatus
	note     string
	location *domain.GeoPoint
	reason   string
}

// TransitionOrder переводит заказ по ролевой таблице. Курьерский переход Ready→Out for Delivery
// выполняется как захват заказа, переход от имени админа — как override.
func (s *Service) TransitionOrder(ctx context.Context, cmd TransitionCommand) (domain.Order, error) {
	if err := cmd.Validate(); err != nil {
		return domain.Order{}, err
	}

	switch {
	case cmd.Actor.Role == domain.RoleAdmin:
		target := cmd.Target
		return s.AdminUpdateOrder(ctx, AdminUpdateCommand{
			OrderID: cmd.OrderID,
			AdminID: cmd.Actor.ID,
			Status:  &target,
			Note:    cmd.Note,
		})
	case cmd.Actor.Role == domain.RoleCourier && cmd.Target == domain.OrderStatusOutForDelivery:
		return s.ClaimOrder(ctx, cmd.OrderID, cmd.Actor.ID)
	}

	return s.transition(ctx, transitionRequest{
		orderID:  cmd.OrderID,
		actor:    cmd.Actor,
		target:   cmd.Target,
		note:     cmd.Note,
		location: cmd.Location,
	})
}

// CancelOrder отменяет заказ: возвращает остатки и освобождает курьера.
func (s *Service) CancelOrder(ctx context.Context, cmd CancelCommand) (domain.Order, error) {
	if err := cmd.Validate(); err != nil {
		return domain.Order{}, err
	}
	if cmd.Actor.Role == domain.RoleAdmin {
		target := domain.OrderStatusCancelled
		return s.AdminUpdateOrder(ctx, AdminUpdateCommand{
			OrderID: cmd.OrderID,
			AdminID: cmd.Actor.ID,
			Status:  &target,
			Note:    cmd.Reason,
		})
	}
	return s.transition(ctx, transitionRequest{
		orderID: cmd.OrderID,
		actor:   cmd.Actor,
		target:  domain.OrderStatusCancelled,
		reason:  cmd.Reason,
	})
}

func (s *Service) transition(ctx context.Context, req transitionRequest) (domain.Order, error) {
	var (
		updated domain.Order
		from    domain.OrderStatus
	)
	err := s.uow.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		order, err := tx.Orders().Get(ctx, req.orderID)
		if err != nil {
			return err
		}
		from = order.Status

		if !domain.CanTransition(req.actor.Role, from, req.target) {
			return fmt.Errorf("%w: %s cannot move order from %q to %q",
				domain.ErrInvalidTransition, req.actor.Role, from, req.target)
		}
		if err := authorize(req.actor, order); err != nil {
			return err
		}

		now := s.clock().UTC()
		reason := s.text.Clean(req.reason)
		note := s.text.Clean(req.note)
		if note == "" {
			note = defaultNote(req.actor.Role, req.target, reason)
		}
		order.AppendTracking(req.target, now, note, req.location)

		if err := s.applySideEffects(ctx, tx, &order, from, req.actor.Role, reason, now); err != nil {
			return err
		}

		updated, err = tx.Orders().Update(ctx, order)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		return enqueue(ctx, tx, eventFor(req.target), updated, from, req.actor, now)
	})
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": req.orderID,
			"role":     req.actor.Role,
			"target":   req.target,
		}).Info("order transition rejected")
		return domain.Order{}, err
	}

	s.observeTransition(updated, from, req.actor.Role)
	return updated, nil
}

// ClaimOrder назначает курьера на готовый заказ. Из двух одновременных захватов успешен ровно один.
func (s *Service) ClaimOrder(ctx context.Context, orderID, courierID string) (domain.Order, error) {
	if err := validateActor(orderID, domain.Actor{ID: courierID, Role: domain.RoleCourier}); err != nil {
		return domain.Order{}, err
	}

	var claimed domain.Order
	err := s.uow.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.Couriers().Get(ctx, courierID); err != nil {
			return err
		}

		now := s.clock().UTC()
		entry := domain.TrackingEntry{
			Status:    domain.OrderStatusOutForDelivery,
			Timestamp: now,
			Note:      noteClaimed,
		}
		order, err := tx.Orders().Claim(ctx, orderID, courierID, entry)
		if err != nil {
			return err
		}
		if err := tx.Couriers().RecordClaim(ctx, courierID, now); err != nil {
			return fmt.Errorf("record claim: %w", err)
		}

		claimed = order
		actor := domain.Actor{ID: courierID, Role: domain.RoleCourier}
		return enqueue(ctx, tx, domain.EventOrderClaimed, order, domain.OrderStatusReady, actor, now)
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyClaimed) {
			s.metrics.RecordClaimConflict()
		}
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id":   orderID,
			"courier_id": courierID,
		}).Info("order claim rejected")
		return domain.Order{}, err
	}

	s.metrics.RecordTransition(string(domain.OrderStatusOutForDelivery), string(domain.RoleCourier))
	s.metrics.RecordDeliveryStarted()
	s.logger.WithFields(log.Fields{
		"order_id":   claimed.ID,
		"courier_id": courierID,
	}).Info("order claimed")
	return claimed, nil
}

// AdminUpdateOrder выставляет статус и/или статус оплаты в обход ролевой таблицы.
// Смена статуса всё равно пишет одну запись истории и выполняет побочные эффекты отмены и доставки.
// Delivered и Cancelled остаются конечными: для них меняется только статус оплаты.
func (s *Service) AdminUpdateOrder(ctx context.Context, cmd AdminUpdateCommand) (domain.Order, error) {
	if err := cmd.Validate(); err != nil {
		return domain.Order{}, err
	}

	var (
		updated domain.Order
		from    domain.OrderStatus
	)
	admin := domain.Actor{ID: cmd.AdminID, Role: domain.RoleAdmin}
	err := s.uow.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		order, err := tx.Orders().Get(ctx, cmd.OrderID)
		if err != nil {
			return err
		}
		from = order.Status
		now := s.clock().UTC()

		if cmd.Status != nil && *cmd.Status != from {
			// Доставка и отмена уже провели остатки и расчёт с курьером; из них не выходит даже админ.
			if from.Terminal() {
				return fmt.Errorf("%w: %s order is final", domain.ErrInvalidTransition, from)
			}
			note := s.text.Clean(cmd.Note)
			if note == "" {
				note = defaultNote(domain.RoleAdmin, *cmd.Status, "")
			}
			order.AppendTracking(*cmd.Status, now, note, nil)
			if err := s.applySideEffects(ctx, tx, &order, from, domain.RoleAdmin, s.text.Clean(cmd.Note), now); err != nil {
				return err
			}
		}
		if cmd.PaymentStatus != nil {
			order.PaymentStatus = *cmd.PaymentStatus
			order.UpdatedAt = now
		}

		updated, err = tx.Orders().Update(ctx, order)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		return enqueue(ctx, tx, domain.EventOrderOverridden, updated, from, admin, now)
	})
	if err != nil {
		s.logger.WithError(err).WithField("order_id", cmd.OrderID).Warn("admin order update failed")
		return domain.Order{}, err
	}

	if updated.Status != from {
		s.observeTransition(updated, from, domain.RoleAdmin)
	}
	s.logger.WithFields(log.Fields{
		"order_id":       updated.ID,
		"admin_id":       cmd.AdminID,
		"status":         updated.Status,
		"payment_status": updated.PaymentStatus,
	}).Info("order updated by admin")
	return updated, nil
}

// applySideEffects выполняет действия, привязанные к входу в Cancelled и Delivered.
func (s *Service) applySideEffects(
	ctx context.Context,
	tx domain.Tx,
	order *domain.Order,
	from domain.OrderStatus,
	role domain.Role,
	reason string,
	now time.Time,
) error {
	if order.Status == from {
		return nil
	}

	switch order.Status {
	case domain.OrderStatusCancelled:
		ledger := s.ledgers(tx)
		for _, item := range order.Items {
			if err := ledger.ReleaseStock(ctx, item.ProductID, item.Quantity); err != nil {
				return fmt.Errorf("release stock for %s: %w", item.ProductID, err)
			}
		}
		if order.CourierID != "" {
			if err := tx.Couriers().RecordCancellation(ctx, order.CourierID, now); err != nil {
				return fmt.Errorf("record courier cancellation: %w", err)
			}
		}
		order.CancellationReason = reason
		order.CancelledBy = role

	case domain.OrderStatusDelivered:
		if order.CourierID != "" {
			if err := tx.Couriers().RecordDelivery(ctx, order.CourierID, domain.CourierEarning(*order), now); err != nil {
				return fmt.Errorf("record courier delivery: %w", err)
			}
		}
		deliveredAt := now
		order.DeliveredAt = &deliveredAt
		order.PaymentStatus = domain.PaymentStatusPaid
	}
	return nil
}

func (s *Service) observeTransition(order domain.Order, from domain.OrderStatus, role domain.Role) {
	s.metrics.RecordTransition(string(order.Status), string(role))
	switch order.Status {
	case domain.OrderStatusCancelled:
		s.metrics.RecordCancellation(string(role))
	case domain.OrderStatusDelivered:
		if order.CourierID != "" {
			s.metrics.RecordDeliveryFinished(domain.CourierEarning(order))
		}
	}
	s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"from":     from,
		"to":       order.Status,
		"role":     role,
	}).Info("order status changed")
}

// authorize проверяет, что участник связан с заказом.
func authorize(actor domain.Actor, order domain.Order) error {
	var allowed bool
	switch actor.Role {
	case domain.RoleAdmin:
		allowed = true
	case domain.RoleCustomer:
		allowed = order.CustomerID == actor.ID
	case domain.RoleMerchant:
		allowed = order.HasMerchant(actor.ID)
	case domain.RoleCourier:
		allowed = order.CourierID == actor.ID
	}
	if !allowed {
		return fmt.Errorf("%w: %s %s has no access to order %s", domain.ErrUnauthorized, actor.Role, actor.ID, order.ID)
	}
	return nil
}

func defaultNote(role domain.Role, target domain.OrderStatus, reason string) string {
	switch role {
	case domain.RoleCustomer:
		if reason == "" {
			reason = noReasonGiven
		}
		return "Order cancelled by customer: " + reason
	case domain.RoleMerchant:
		return fmt.Sprintf("Merchant updated order to %s", target)
	case domain.RoleCourier:
		if target == domain.OrderStatusOutForDelivery {
			return noteClaimed
		}
		return fmt.Sprintf("Order status updated to %s", target)
	default:
		return fmt.Sprintf("Status updated by admin to %s", target)
	}
}

func eventFor(target domain.OrderStatus) string {
	switch target {
	case domain.OrderStatusCancelled:
		return domain.EventOrderCancelled
	case domain.OrderStatusDelivered:
		return domain.EventOrderDelivered
	default:
		return domain.EventOrderStatusChanged
	}
}
