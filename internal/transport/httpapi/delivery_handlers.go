package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/service/courier"
)

func (h *handlers) registerCourier(c echo.Context) error {
	var req courierProfileRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	profile, err := h.couriers.Register(c.Request().Context(), actorFrom(c).ID, courier.RegisterInput{
		Name:        req.Name,
		Phone:       req.Phone,
		VehicleType: req.VehicleType,
	})
	if err != nil {
		return err
	}
	return ok(c, http.StatusCreated, map[string]any{"deliveryBoy": toCourierDTO(profile)})
}

func (h *handlers) courierProfile(c echo.Context) error {
	profile, err := h.couriers.Profile(c.Request().Context(), actorFrom(c).ID)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, map[string]any{"deliveryBoy": toCourierDTO(profile)})
}

func (h *handlers) updateCourierLocation(c echo.Context) error {
	var req domain.GeoPoint
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.couriers.UpdateLocation(c.Request().Context(), actorFrom(c).ID, req); err != nil {
		return err
	}
	return ok(c, http.StatusOK, map[string]any{"message": "Location updated"})
}

func (h *handlers) setCourierAvailability(c echo.Context) error {
	var req availabilityRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	profile, err := h.couriers.SetAvailability(c.Request().Context(), actorFrom(c).ID, domain.CourierAvailability{
		Online:    req.IsOnline,
		Available: req.IsAvailable,
	})
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, map[string]any{"deliveryBoy": toCourierDTO(profile)})
}

func (h *handlers) courierDashboard(c echo.Context) error {
	dashboard, err := h.couriers.Dashboard(c.Request().Context(), actorFrom(c).ID)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, map[string]any{"dashboard": toCourierDashboardDTO(dashboard)})
}
