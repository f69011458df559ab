package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/service/idempotency"
	"github.com/vladislavdragonenkov/marketplace/internal/service/order"
)

const headerIdempotentReplay = "Idempotent-Replayed"

func (h *handlers) createOrder(c echo.Context) error {
	var req createOrderRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	actor := actorFrom(c)
	cmd := order.CreateOrderCommand{
		CustomerID:           actor.ID,
		ShippingAddress:      req.ShippingAddress,
		BillingAddress:       req.BillingAddress,
		PaymentMethod:        domain.PaymentMethod(req.PaymentMethod),
		DeliveryInstructions: req.DeliveryInstructions,
	}

	key := c.Request().Header.Get(headerIdempotencyKey)
	resp, err := h.guard.Execute(c.Request().Context(), actor.ID, key, req, func(ctx context.Context) (idempotency.Response, error) {
		created, err := h.orders.CreateOrder(ctx, cmd)
		if err != nil {
			status, body := classify(err)
			payload, _ := json.Marshal(body)
			return idempotency.Response{Status: status, Body: payload}, err
		}
		payload, err := json.Marshal(map[string]any{
			"success": true,
			"message": "Order created successfully",
			"order":   toOrderDTO(created),
		})
		if err != nil {
			return idempotency.Response{}, err
		}
		return idempotency.Response{Status: http.StatusCreated, Body: payload}, nil
	})
	if err != nil {
		return err
	}

	if resp.Replayed {
		c.Response().Header().Set(headerIdempotentReplay, "true")
	}
	return c.JSONBlob(resp.Status, resp.Body)
}

func (h *handlers) getOrder(c echo.Context) error {
	o, err := h.orders.GetOrder(c.Request().Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, map[string]any{"order": toOrderDTO(o)})
}

// listActorOrders отдаёт заказы, видимые роли вызывающего.
func (h *handlers) listActorOrders(c echo.Context) error {
	page, err := pageFrom(c)
	if err != nil {
		return err
	}
	status, err := statusFilter(c)
	if err != nil {
		return err
	}

	result, err := h.orders.ListOrders(c.Request().Context(), actorFrom(c), order.ListQuery{Status: status, Page: page})
	if err != nil {
		return err
	}
	return paged(c, "orders", toOrderDTOs(result.Orders), result.PageInfo)
}

func (h *handlers) listAvailableOrders(c echo.Context) error {
	page, err := pageFrom(c)
	if err != nil {
		return err
	}
	result, err := h.orders.ListAvailable(c.Request().Context(), page)
	if err != nil {
		return err
	}
	return paged(c, "orders", toOrderDTOs(result.Orders), result.PageInfo)
}

func (h *handlers) cancelOrder(c echo.Context) error {
	var req cancelRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	o, err := h.orders.CancelOrder(c.Request().Context(), order.CancelCommand{
		OrderID: c.Param("id"),
		Actor:   actorFrom(c),
		Reason:  req.Reason,
	})
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, map[string]any{
		"message": "Order cancelled successfully",
		"order":   toOrderDTO(o),
	})
}

// transitionOrder — смена статуса мерчантом или курьером.
func (h *handlers) transitionOrder(c echo.Context) error {
	var req statusRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	actor := actorFrom(c)
	target := domain.OrderStatus(strings.TrimSpace(req.Status))

	var (
		o   domain.Order
		err error
	)
	if target == domain.OrderStatusCancelled {
		o, err = h.orders.CancelOrder(c.Request().Context(), order.CancelCommand{
			OrderID: c.Param("id"),
			Actor:   actor,
			Reason:  req.Note,
		})
	} else {
		o, err = h.orders.TransitionOrder(c.Request().Context(), order.TransitionCommand{
			OrderID:  c.Param("id"),
			Actor:    actor,
			Target:   target,
			Note:     req.Note,
			Location: req.Location,
		})
	}
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, map[string]any{
		"message": "Order status updated successfully",
		"order":   toOrderDTO(o),
	})
}

func (h *handlers) claimOrder(c echo.Context) error {
	o, err := h.orders.ClaimOrder(c.Request().Context(), c.Param("id"), actorFrom(c).ID)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, map[string]any{
		"message": "Order accepted for delivery",
		"order":   toOrderDTO(o),
	})
}

func (h *handlers) adminUpdateOrder(c echo.Context) error {
	var req adminUpdateRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	cmd := order.AdminUpdateCommand{
		OrderID: c.Param("id"),
		AdminID: actorFrom(c).ID,
		Note:    req.Note,
	}
	if req.OrderStatus != nil {
		status := domain.OrderStatus(strings.TrimSpace(*req.OrderStatus))
		cmd.Status = &status
	}
	if req.PaymentStatus != nil {
		status := domain.PaymentStatus(strings.TrimSpace(*req.PaymentStatus))
		cmd.PaymentStatus = &status
	}

	o, err := h.orders.AdminUpdateOrder(c.Request().Context(), cmd)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, map[string]any{
		"message": "Order updated successfully",
		"order":   toOrderDTO(o),
	})
}
