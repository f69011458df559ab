package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (h *handlers) getCart(c echo.Context) error {
	cart, err := h.carts.GetCart(c.Request().Context(), actorFrom(c).ID)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, map[string]any{"cart": toCartDTO(cart)})
}

func (h *handlers) addCartItem(c echo.Context) error {
	var req addItemRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	cart, err := h.carts.AddItem(c.Request().Context(), actorFrom(c).ID, req.ProductID, req.Quantity)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, map[string]any{"cart": toCartDTO(cart)})
}

func (h *handlers) updateCartItem(c echo.Context) error {
	var req updateQuantityRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	cart, err := h.carts.UpdateQuantity(c.Request().Context(), actorFrom(c).ID, c.Param("productId"), req.Quantity)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, map[string]any{"cart": toCartDTO(cart)})
}

func (h *handlers) removeCartItem(c echo.Context) error {
	cart, err := h.carts.RemoveItem(c.Request().Context(), actorFrom(c).ID, c.Param("productId"))
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, map[string]any{"cart": toCartDTO(cart)})
}

func (h *handlers) clearCart(c echo.Context) error {
	cart, err := h.carts.Clear(c.Request().Context(), actorFrom(c).ID)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, map[string]any{"cart": toCartDTO(cart)})
}
