package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/marketplace/internal/auth"
	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/service/cart"
	"github.com/vladislavdragonenkov/marketplace/internal/service/catalog"
	"github.com/vladislavdragonenkov/marketplace/internal/service/courier"
	"github.com/vladislavdragonenkov/marketplace/internal/service/idempotency"
	"github.com/vladislavdragonenkov/marketplace/internal/service/order"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/memory"
	"github.com/vladislavdragonenkov/marketplace/internal/transport/httpapi"
)

type RouterSuite struct {
	suite.Suite

	store  *memory.Store
	router *echo.Echo

	customer string
	merchant string
	courier  string
	admin    string
	stranger string
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.store = memory.NewStore()
	tokens, err := auth.NewTokens("test-secret", nil)
	s.Require().NoError(err)

	s.router = httpapi.NewRouter(httpapi.Deps{
		Orders:   order.NewService(s.store),
		Carts:    cart.NewService(s.store),
		Catalog:  catalog.NewService(s.store),
		Couriers: courier.NewService(s.store),
		Guard:    idempotency.NewGuard(memory.NewIdempotencyRepository()),
		Tokens:   tokens,
	})

	s.customer = s.issue(tokens, "customer-1", domain.RoleCustomer)
	s.stranger = s.issue(tokens, "customer-2", domain.RoleCustomer)
	s.merchant = s.issue(tokens, "merchant-1", domain.RoleMerchant)
	s.courier = s.issue(tokens, "courier-1", domain.RoleCourier)
	s.admin = s.issue(tokens, "admin-1", domain.RoleAdmin)
}

func (s *RouterSuite) issue(tokens *auth.Tokens, id string, role domain.Role) string {
	raw, err := tokens.Issue(domain.Actor{ID: id, Role: role}, time.Hour)
	s.Require().NoError(err)
	return raw
}

func (s *RouterSuite) do(method, path, token string, body any, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		s.Require().NoError(err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	}
	return rec, decoded
}

func (s *RouterSuite) createProduct(price, stock int) string {
	rec, body := s.do(http.MethodPost, "/api/merchant/products", s.merchant, map[string]any{
		"name":     "Tea",
		"category": "Drinks",
		"price":    price,
		"stock":    stock,
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	return body["product"].(map[string]any)["id"].(string)
}

func (s *RouterSuite) checkout(productID string, qty int) string {
	rec, _ := s.do(http.MethodPost, "/api/cart", s.customer, map[string]any{"productId": productID, "quantity": qty})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	rec, body := s.do(http.MethodPost, "/api/orders", s.customer, orderBody("Springfield"))
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	return body["order"].(map[string]any)["id"].(string)
}

func orderBody(city string) map[string]any {
	return map[string]any{
		"shippingAddress": map[string]any{
			"name":   "Ann",
			"phone":  "+100000",
			"street": "Main st. 1",
			"city":   city,
		},
		"paymentMethod": "COD",
	}
}

func errorKind(body map[string]any) string {
	errBody, _ := body["error"].(map[string]any)
	kind, _ := errBody["kind"].(string)
	return kind
}

func (s *RouterSuite) TestHealthLive() {
	rec, _ := s.do(http.MethodGet, "/health/live", "", nil)
	s.Equal(http.StatusOK, rec.Code)
}

func (s *RouterSuite) TestBrowseProducts_PublicWithPagination() {
	s.createProduct(100, 5)
	s.createProduct(200, 5)

	rec, body := s.do(http.MethodGet, "/api/products?limit=1&category=drinks", "", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal(true, body["success"])
	s.EqualValues(2, body["total"])
	s.EqualValues(2, body["pages"])
	s.EqualValues(1, body["currentPage"])
	s.Len(body["products"], 1)
}

func (s *RouterSuite) TestGetProduct_MissingIsNotFound() {
	rec, body := s.do(http.MethodGet, "/api/products/no-such-product", "", nil)
	s.Equal(http.StatusNotFound, rec.Code)
	s.Equal("product_not_found", errorKind(body))
}

func (s *RouterSuite) TestAuthentication() {
	rec, body := s.do(http.MethodGet, "/api/cart", "", nil)
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Equal("unauthorized", errorKind(body))
	s.Equal(false, body["success"])

	rec, _ = s.do(http.MethodGet, "/api/cart", "garbage", nil)
	s.Equal(http.StatusUnauthorized, rec.Code)

	rec, body = s.do(http.MethodGet, "/api/cart", s.merchant, nil)
	s.Equal(http.StatusForbidden, rec.Code)
	s.Equal("unauthorized", errorKind(body))

	rec, _ = s.do(http.MethodGet, "/api/admin/orders", s.customer, nil)
	s.Equal(http.StatusForbidden, rec.Code)
}

func (s *RouterSuite) TestCheckout_ComputesTotalsAndClearsCart() {
	productID := s.createProduct(100, 5)
	orderID := s.checkout(productID, 2)

	rec, body := s.do(http.MethodGet, "/api/orders/"+orderID, s.customer, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	o := body["order"].(map[string]any)
	s.EqualValues(200, o["subtotal"])
	s.EqualValues(10, o["tax"])
	s.EqualValues(50, o["deliveryFee"])
	s.EqualValues(260, o["totalAmount"])
	s.Equal("Pending", o["orderStatus"])
	s.Len(o["trackingHistory"], 1)

	rec, body = s.do(http.MethodGet, "/api/cart", s.customer, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Empty(body["cart"].(map[string]any)["items"])

	product, err := s.store.Products().Get(context.Background(), productID)
	s.Require().NoError(err)
	s.Equal(3, product.Stock)
	s.Equal(2, product.Sold)
}

func (s *RouterSuite) TestCheckout_EmptyCart() {
	rec, body := s.do(http.MethodPost, "/api/orders", s.customer, orderBody("Springfield"))
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal("empty_cart", errorKind(body))
}

func (s *RouterSuite) TestCheckout_InsufficientStockAfterStockDrop() {
	productID := s.createProduct(100, 5)
	rec, _ := s.do(http.MethodPost, "/api/cart", s.customer, map[string]any{"productId": productID, "quantity": 4})
	s.Require().Equal(http.StatusOK, rec.Code)

	rec, _ = s.do(http.MethodPut, "/api/merchant/products/"+productID, s.merchant, map[string]any{"stock": 1})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	rec, body := s.do(http.MethodPost, "/api/orders", s.customer, orderBody("Springfield"))
	s.Equal(http.StatusConflict, rec.Code)
	s.Equal("insufficient_stock", errorKind(body))
	s.Contains(body["error"].(map[string]any)["message"], "Tea")
}

func (s *RouterSuite) TestCheckout_IdempotencyKey() {
	productID := s.createProduct(100, 5)
	rec, _ := s.do(http.MethodPost, "/api/cart", s.customer, map[string]any{"productId": productID, "quantity": 1})
	s.Require().Equal(http.StatusOK, rec.Code)

	first, firstBody := s.do(http.MethodPost, "/api/orders", s.customer, orderBody("Springfield"), "Idempotency-Key", "k-1")
	s.Require().Equal(http.StatusCreated, first.Code, first.Body.String())

	second, secondBody := s.do(http.MethodPost, "/api/orders", s.customer, orderBody("Springfield"), "Idempotency-Key", "k-1")
	s.Require().Equal(http.StatusCreated, second.Code)
	s.Equal("true", second.Header().Get("Idempotent-Replayed"))
	s.Equal(firstBody["order"].(map[string]any)["id"], secondBody["order"].(map[string]any)["id"])

	third, thirdBody := s.do(http.MethodPost, "/api/orders", s.customer, orderBody("Shelbyville"), "Idempotency-Key", "k-1")
	s.Equal(http.StatusConflict, third.Code)
	s.Equal("conflict", errorKind(thirdBody))

	orders, total, err := s.store.Orders().List(context.Background(), domain.OrderFilter{CustomerID: "customer-1"}, domain.Page{})
	s.Require().NoError(err)
	s.Equal(1, total)
	s.Len(orders, 1)
}

func (s *RouterSuite) TestLifecycle_MerchantCourierCustomer() {
	productID := s.createProduct(100, 5)
	orderID := s.checkout(productID, 1)

	for _, status := range []string{"Confirmed", "Preparing", "Ready"} {
		rec, _ := s.do(http.MethodPut, "/api/merchant/orders/"+orderID+"/status", s.merchant, map[string]any{"status": status})
		s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	}

	rec, _ := s.do(http.MethodPost, "/api/delivery/profile", s.courier, map[string]any{"name": "Bob", "phone": "+200"})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	rec, body := s.do(http.MethodGet, "/api/delivery/orders/available", s.courier, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.EqualValues(1, body["total"])

	rec, _ = s.do(http.MethodPost, "/api/delivery/orders/"+orderID+"/accept", s.courier, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	rec, body = s.do(http.MethodPost, "/api/delivery/orders/"+orderID+"/accept", s.courier, nil)
	s.Equal(http.StatusConflict, rec.Code)
	s.Equal("already_claimed", errorKind(body))

	rec, _ = s.do(http.MethodPut, "/api/delivery/orders/"+orderID+"/status", s.courier, map[string]any{
		"status":   "Delivered",
		"location": map[string]any{"lat": 10.5, "lng": 20.25},
	})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	rec, body = s.do(http.MethodGet, "/api/orders/"+orderID, s.customer, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	o := body["order"].(map[string]any)
	s.Equal("Delivered", o["orderStatus"])
	s.Equal("Paid", o["paymentStatus"])
	s.Len(o["trackingHistory"], 6)

	rec, body = s.do(http.MethodGet, "/api/delivery/dashboard", s.courier, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	dashboard := body["dashboard"].(map[string]any)
	s.EqualValues(1, dashboard["completedOrders"])
	s.EqualValues(50, dashboard["totalEarnings"])

	rec, body = s.do(http.MethodGet, "/api/merchant/dashboard", s.merchant, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.EqualValues(155, body["dashboard"].(map[string]any)["totalRevenue"])
}

func (s *RouterSuite) TestTransition_InvalidForRole() {
	productID := s.createProduct(100, 5)
	orderID := s.checkout(productID, 1)

	rec, body := s.do(http.MethodPut, "/api/merchant/orders/"+orderID+"/status", s.merchant, map[string]any{"status": "Delivered"})
	s.Equal(http.StatusConflict, rec.Code)
	s.Equal("invalid_transition", errorKind(body))
}

func (s *RouterSuite) TestOrderAccess_ForeignCustomer() {
	productID := s.createProduct(100, 5)
	orderID := s.checkout(productID, 1)

	rec, body := s.do(http.MethodGet, "/api/orders/"+orderID, s.stranger, nil)
	s.Equal(http.StatusForbidden, rec.Code)
	s.Equal("unauthorized", errorKind(body))

	rec, body = s.do(http.MethodGet, "/api/orders/missing", s.customer, nil)
	s.Equal(http.StatusNotFound, rec.Code)
	s.Equal("not_found", errorKind(body))
}

func (s *RouterSuite) TestCustomerCancel_RestoresStock() {
	productID := s.createProduct(100, 5)
	orderID := s.checkout(productID, 2)

	rec, body := s.do(http.MethodPut, "/api/orders/"+orderID+"/cancel", s.customer, map[string]any{"reason": "changed <b>my</b> mind"})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	o := body["order"].(map[string]any)
	s.Equal("Cancelled", o["orderStatus"])
	s.Equal("changed my mind", o["cancellationReason"])

	product, err := s.store.Products().Get(context.Background(), productID)
	s.Require().NoError(err)
	s.Equal(5, product.Stock)
	s.Equal(0, product.Sold)
}

func (s *RouterSuite) TestAdminUpdate_PaymentStatusAndListing() {
	productID := s.createProduct(100, 5)
	orderID := s.checkout(productID, 1)

	rec, body := s.do(http.MethodPut, "/api/admin/orders/"+orderID, s.admin, map[string]any{"paymentStatus": "Refunded"})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	s.Equal("Refunded", body["order"].(map[string]any)["paymentStatus"])

	rec, body = s.do(http.MethodPut, "/api/admin/orders/"+orderID, s.admin, map[string]any{"orderStatus": "Teleported"})
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal("validation_error", errorKind(body))

	rec, body = s.do(http.MethodGet, "/api/admin/orders?status=Pending", s.admin, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.EqualValues(1, body["total"])

	rec, _ = s.do(http.MethodGet, "/api/admin/orders?page=x", s.admin, nil)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *RouterSuite) TestCart_UpdateAndRemove() {
	productID := s.createProduct(30, 5)
	rec, _ := s.do(http.MethodPost, "/api/cart", s.customer, map[string]any{"productId": productID, "quantity": 1})
	s.Require().Equal(http.StatusOK, rec.Code)

	rec, body := s.do(http.MethodPut, "/api/cart/items/"+productID, s.customer, map[string]any{"quantity": 3})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	s.EqualValues(90, body["cart"].(map[string]any)["totalPrice"])

	rec, body = s.do(http.MethodPut, "/api/cart/items/"+productID, s.customer, map[string]any{"quantity": 9})
	s.Equal(http.StatusConflict, rec.Code)
	s.Equal("insufficient_stock", errorKind(body))

	rec, body = s.do(http.MethodDelete, "/api/cart/items/"+productID, s.customer, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.EqualValues(0, body["cart"].(map[string]any)["totalItems"])
}
