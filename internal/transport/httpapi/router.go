// Package httpapi — HTTP-шлюзы ролей маркетплейса поверх echo.
package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/health"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
	"github.com/vladislavdragonenkov/marketplace/internal/service/cart"
	"github.com/vladislavdragonenkov/marketplace/internal/service/catalog"
	"github.com/vladislavdragonenkov/marketplace/internal/service/courier"
	"github.com/vladislavdragonenkov/marketplace/internal/service/idempotency"
	"github.com/vladislavdragonenkov/marketplace/internal/service/order"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	maxBodyLimit         = "1M"
)

// Deps — зависимости HTTP-слоя.
type Deps struct {
	Orders   *order.Service
	Carts    *cart.Service
	Catalog  *catalog.Service
	Couriers *courier.Service
	Guard    *idempotency.Guard
	Tokens   TokenParser
	Health   *health.Registry
	Metrics  *metrics.MarketplaceMetrics
	Logger   *log.Entry
}

type handlers struct {
	orders   *order.Service
	carts    *cart.Service
	catalog  *catalog.Service
	couriers *courier.Service
	guard    *idempotency.Guard
	logger   *log.Entry
}

// NewRouter собирает echo с middleware и маршрутами всех ролей.
func NewRouter(d Deps) *echo.Echo {
	logger := d.Logger
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(requestLogger(logger, d.Metrics))
	e.Use(echomw.BodyLimit(maxBodyLimit))

	h := &handlers{
		orders:   d.Orders,
		carts:    d.Carts,
		catalog:  d.Catalog,
		couriers: d.Couriers,
		guard:    d.Guard,
		logger:   logger,
	}

	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	if d.Health != nil {
		e.GET("/health/ready", echo.WrapHandler(http.HandlerFunc(d.Health.Ready)))
	} else {
		e.GET("/health/ready", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	}

	api := e.Group("/api")
	api.GET("/products", h.browseProducts)
	api.GET("/products/:id", h.getProduct)

	authn := authenticate(d.Tokens)

	asCustomer := []echo.MiddlewareFunc{authn, requireRole(domain.RoleCustomer)}
	api.GET("/cart", h.getCart, asCustomer...)
	api.POST("/cart", h.addCartItem, asCustomer...)
	api.DELETE("/cart", h.clearCart, asCustomer...)
	api.PUT("/cart/items/:productId", h.updateCartItem, asCustomer...)
	api.DELETE("/cart/items/:productId", h.removeCartItem, asCustomer...)
	api.POST("/orders", h.createOrder, asCustomer...)
	api.GET("/orders", h.listActorOrders, asCustomer...)
	api.GET("/orders/:id", h.getOrder, asCustomer...)
	api.PUT("/orders/:id/cancel", h.cancelOrder, asCustomer...)

	merchant := api.Group("/merchant", authn, requireRole(domain.RoleMerchant))
	merchant.GET("/products", h.listMerchantProducts)
	merchant.POST("/products", h.createProduct)
	merchant.PUT("/products/:id", h.updateProduct)
	merchant.DELETE("/products/:id", h.archiveProduct)
	merchant.GET("/orders", h.listActorOrders)
	merchant.PUT("/orders/:id/status", h.transitionOrder)
	merchant.GET("/dashboard", h.merchantDashboard)

	delivery := api.Group("/delivery", authn, requireRole(domain.RoleCourier))
	delivery.POST("/profile", h.registerCourier)
	delivery.GET("/me", h.courierProfile)
	delivery.GET("/orders/available", h.listAvailableOrders)
	delivery.GET("/orders/mine", h.listActorOrders)
	delivery.GET("/orders/:id", h.getOrder)
	delivery.POST("/orders/:id/accept", h.claimOrder)
	delivery.PUT("/orders/:id/status", h.transitionOrder)
	delivery.PUT("/location", h.updateCourierLocation)
	delivery.PUT("/status", h.setCourierAvailability)
	delivery.GET("/dashboard", h.courierDashboard)

	admin := api.Group("/admin", authn, requireRole(domain.RoleAdmin))
	admin.GET("/orders", h.listActorOrders)
	admin.GET("/orders/:id", h.getOrder)
	admin.PUT("/orders/:id", h.adminUpdateOrder)

	return e
}

func pageFrom(c echo.Context) (domain.Page, error) {
	page := domain.Page{}
	if raw := strings.TrimSpace(c.QueryParam("page")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return domain.Page{}, domain.Validationf("page must be an integer")
		}
		page.Number = n
	}
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return domain.Page{}, domain.Validationf("limit must be an integer")
		}
		page.Limit = n
	}
	return page.Normalize(), nil
}

// statusFilter читает ?status=; "all" и пустое значение снимают фильтр.
func statusFilter(c echo.Context) (domain.OrderStatus, error) {
	raw := strings.TrimSpace(c.QueryParam("status"))
	if raw == "" || strings.EqualFold(raw, "all") {
		return "", nil
	}
	status := domain.OrderStatus(raw)
	if !status.Valid() {
		return "", domain.Validationf("unknown order status %q", raw)
	}
	return status, nil
}

func bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return domain.Validationf("malformed request body")
	}
	return nil
}

func ok(c echo.Context, status int, fields map[string]any) error {
	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["success"] = true
	return c.JSON(status, body)
}

func paged(c echo.Context, key string, items any, info domain.PageInfo) error {
	p := toPagination(info)
	return ok(c, http.StatusOK, map[string]any{
		key:           items,
		"total":       p.Total,
		"pages":       p.Pages,
		"currentPage": p.CurrentPage,
		"limit":       p.Limit,
	})
}
