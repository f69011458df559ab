package httpapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/service/catalog"
)

func (h *handlers) browseProducts(c echo.Context) error {
	page, err := pageFrom(c)
	if err != nil {
		return err
	}
	result, err := h.catalog.BrowseProducts(c.Request().Context(), catalog.ProductQuery{
		Category: strings.TrimSpace(c.QueryParam("category")),
		Page:     page,
	})
	if err != nil {
		return err
	}
	return paged(c, "products", toProductDTOs(result.Products), result.PageInfo)
}

func (h *handlers) getProduct(c echo.Context) error {
	product, err := h.catalog.GetProduct(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, map[string]any{"product": toProductDTO(product)})
}

func (h *handlers) listMerchantProducts(c echo.Context) error {
	page, err := pageFrom(c)
	if err != nil {
		return err
	}
	query := catalog.ProductQuery{
		Category: strings.TrimSpace(c.QueryParam("category")),
		Page:     page,
	}
	if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
		query.Status = domain.ProductStatus(raw)
	}

	result, err := h.catalog.ListMerchantProducts(c.Request().Context(), actorFrom(c).ID, query)
	if err != nil {
		return err
	}
	return paged(c, "products", toProductDTOs(result.Products), result.PageInfo)
}

func (h *handlers) createProduct(c echo.Context) error {
	var req productRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	product, err := h.catalog.CreateProduct(c.Request().Context(), actorFrom(c).ID, req.input())
	if err != nil {
		return err
	}
	return ok(c, http.StatusCreated, map[string]any{"product": toProductDTO(product)})
}

func (h *handlers) updateProduct(c echo.Context) error {
	var req productRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	product, err := h.catalog.UpdateProduct(c.Request().Context(), actorFrom(c).ID, c.Param("id"), req.patch())
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, map[string]any{"product": toProductDTO(product)})
}

func (h *handlers) archiveProduct(c echo.Context) error {
	product, err := h.catalog.ArchiveProduct(c.Request().Context(), actorFrom(c).ID, c.Param("id"))
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, map[string]any{
		"message": "Product archived",
		"product": toProductDTO(product),
	})
}

func (h *handlers) merchantDashboard(c echo.Context) error {
	dashboard, err := h.catalog.Dashboard(c.Request().Context(), actorFrom(c).ID)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, map[string]any{"dashboard": toMerchantDashboardDTO(dashboard)})
}
