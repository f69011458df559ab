package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/auth"
	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const (
	idempotencyHeader = "Idempotency-Key"
	maxErrorBody      = 512
)

// statusError — ответ API вне диапазона 2xx.
type statusError struct {
	endpoint string
	status   int
	body     string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.endpoint, e.status, e.body)
}

// statusOf сводит ошибку сценария к HTTP-коду для отчёта.
func statusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.status
	}
	return 0
}

type apiResponse struct {
	Order struct {
		ID string `json:"id"`
	} `json:"order"`
	Product struct {
		ID    string `json:"id"`
		Stock int    `json:"stock"`
	} `json:"product"`
}

type apiClient struct {
	baseURL  string
	http     *http.Client
	tokens   *auth.Tokens
	tokenTTL time.Duration
	timeout  time.Duration
	rec      *recorder
}

func newAPIClient(opts options, tokens *auth.Tokens, rec *recorder) *apiClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = opts.connections
	transport.MaxIdleConnsPerHost = opts.connections

	return &apiClient{
		baseURL:  strings.TrimRight(opts.baseURL, "/"),
		http:     &http.Client{Transport: transport},
		tokens:   tokens,
		tokenTTL: opts.duration + time.Hour,
		timeout:  opts.timeout,
		rec:      rec,
	}
}

func (c *apiClient) token(id string, role domain.Role) (string, error) {
	return c.tokens.Issue(domain.Actor{ID: id, Role: role}, c.tokenTTL)
}

func (c *apiClient) call(endpoint, method, path, token string, body any, headers map[string]string) (apiResponse, error) {
	var decoded apiResponse

	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return decoded, fmt.Errorf("%s: encode body: %w", endpoint, err)
		}
		payload = bytes.NewReader(raw)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return decoded, fmt.Errorf("%s: build request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.rec.call(endpoint, time.Since(start), 0)
		return decoded, fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	c.rec.call(endpoint, time.Since(start), resp.StatusCode)
	if err != nil {
		return decoded, fmt.Errorf("%s: read body: %w", endpoint, err)
	}
	if !isSuccess(resp.StatusCode) {
		if len(raw) > maxErrorBody {
			raw = raw[:maxErrorBody]
		}
		return decoded, &statusError{endpoint: endpoint, status: resp.StatusCode, body: string(raw)}
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return decoded, fmt.Errorf("%s: decode body: %w", endpoint, err)
		}
	}
	return decoded, nil
}

// createProduct заводит товар, на который идёт нагрузка.
func (c *apiClient) createProduct(merchantToken string, price int64, stock int) (string, error) {
	resp, err := c.call("CreateProduct", http.MethodPost, "/api/merchant/products", merchantToken, map[string]any{
		"name":     "Load test item",
		"category": "loadtest",
		"price":    price,
		"stock":    stock,
	}, nil)
	if err != nil {
		return "", err
	}
	if resp.Product.ID == "" {
		return "", errors.New("create product returned empty id")
	}
	return resp.Product.ID, nil
}

func (c *apiClient) getProduct(token, productID string) (apiResponse, error) {
	return c.call("GetProduct", http.MethodGet, "/api/products/"+productID, token, nil, nil)
}

func (c *apiClient) browseProducts(token string) error {
	_, err := c.call("BrowseProducts", http.MethodGet, "/api/products?page=1", token, nil, nil)
	return err
}

func (c *apiClient) addToCart(token, productID string, quantity int) error {
	_, err := c.call("AddToCart", http.MethodPost, "/api/cart", token, map[string]any{
		"productId": productID,
		"quantity":  quantity,
	}, nil)
	return err
}

func (c *apiClient) createOrder(token, key string) (string, error) {
	resp, err := c.call("CreateOrder", http.MethodPost, "/api/orders", token, map[string]any{
		"shippingAddress": map[string]any{
			"name":   "Load Test",
			"phone":  "+10000000000",
			"street": "Load st. 1",
			"city":   "Loadville",
		},
		"paymentMethod": "COD",
	}, map[string]string{idempotencyHeader: key})
	if err != nil {
		return "", err
	}
	return resp.Order.ID, nil
}

func (c *apiClient) cancelOrder(token, orderID string) error {
	_, err := c.call("CancelOrder", http.MethodPut, "/api/orders/"+orderID+"/cancel", token, map[string]any{
		"reason": "load-cancel",
	}, nil)
	return err
}
