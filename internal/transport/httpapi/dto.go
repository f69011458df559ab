package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/service/catalog"
	"github.com/vladislavdragonenkov/marketplace/internal/service/courier"
)

type errorBody struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

type errorResponse struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

type pagination struct {
	Total       int `json:"total"`
	Pages       int `json:"pages"`
	CurrentPage int `json:"currentPage"`
	Limit       int `json:"limit"`
}

func toPagination(info domain.PageInfo) pagination {
	return pagination{
		Total:       info.Total,
		Pages:       info.Pages,
		CurrentPage: info.CurrentPage,
		Limit:       info.Limit,
	}
}

// Requests.

type addItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type createOrderRequest struct {
	ShippingAddress      domain.Address  `json:"shippingAddress"`
	BillingAddress       *domain.Address `json:"billingAddress,omitempty"`
	PaymentMethod        string          `json:"paymentMethod"`
	DeliveryInstructions string          `json:"deliveryInstructions,omitempty"`
}

type statusRequest struct {
	Status   string           `json:"status"`
	Note     string           `json:"note,omitempty"`
	Location *domain.GeoPoint `json:"location,omitempty"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type adminUpdateRequest struct {
	OrderStatus   *string `json:"orderStatus,omitempty"`
	PaymentStatus *string `json:"paymentStatus,omitempty"`
	Note          string  `json:"note,omitempty"`
}

type productRequest struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Category    *string  `json:"category"`
	SKU         *string  `json:"sku"`
	Price       *int64   `json:"price"`
	Stock       *int     `json:"stock"`
	Status      *string  `json:"status"`
	Images      []string `json:"images"`
}

func (r productRequest) input() catalog.ProductInput {
	in := catalog.ProductInput{ImageURLs: r.Images}
	if r.Name != nil {
		in.Name = *r.Name
	}
	if r.Description != nil {
		in.Description = *r.Description
	}
	if r.Category != nil {
		in.Category = *r.Category
	}
	if r.SKU != nil {
		in.SKU = *r.SKU
	}
	if r.Price != nil {
		in.Price = *r.Price
	}
	if r.Stock != nil {
		in.Stock = *r.Stock
	}
	if r.Status != nil {
		in.Status = domain.ProductStatus(*r.Status)
	}
	return in
}

func (r productRequest) patch() catalog.ProductPatch {
	patch := catalog.ProductPatch{
		Name:        r.Name,
		Description: r.Description,
		Category:    r.Category,
		SKU:         r.SKU,
		Price:       r.Price,
		Stock:       r.Stock,
		ImageURLs:   r.Images,
	}
	if r.Status != nil {
		status := domain.ProductStatus(*r.Status)
		patch.Status = &status
	}
	return patch
}

type courierProfileRequest struct {
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	VehicleType string `json:"vehicleType"`
}

type availabilityRequest struct {
	IsOnline    *bool `json:"isOnline"`
	IsAvailable *bool `json:"isAvailable"`
}

// Responses.

type productDTO struct {
	ID          string    `json:"id"`
	MerchantID  string    `json:"merchantId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	SKU         string    `json:"sku,omitempty"`
	Price       int64     `json:"price"`
	Stock       int       `json:"stock"`
	Sold        int       `json:"sold"`
	Status      string    `json:"status"`
	Images      []string  `json:"images,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toProductDTO(p domain.Product) productDTO {
	return productDTO{
		ID:          p.ID,
		MerchantID:  p.MerchantID,
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		SKU:         p.SKU,
		Price:       p.Price,
		Stock:       p.Stock,
		Sold:        p.Sold,
		Status:      string(p.Status),
		Images:      p.ImageURLs,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func toProductDTOs(products []domain.Product) []productDTO {
	out := make([]productDTO, 0, len(products))
	for _, p := range products {
		out = append(out, toProductDTO(p))
	}
	return out
}

type cartItemDTO struct {
	ProductID  string    `json:"productId"`
	Name       string    `json:"name"`
	MerchantID string    `json:"merchantId"`
	Quantity   int       `json:"quantity"`
	Price      int64     `json:"price"`
	PriceAtAdd int64     `json:"priceAtAdd"`
	Available  int       `json:"available"`
	AddedAt    time.Time `json:"addedAt"`
}

type cartDTO struct {
	CustomerID string        `json:"customerId"`
	Items      []cartItemDTO `json:"items"`
	TotalPrice int64         `json:"totalPrice"`
	TotalItems int           `json:"totalItems"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

func toCartDTO(cart domain.Cart) cartDTO {
	items := make([]cartItemDTO, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, cartItemDTO{
			ProductID:  item.ProductID,
			Name:       item.Name,
			MerchantID: item.MerchantID,
			Quantity:   item.Quantity,
			Price:      item.Price,
			PriceAtAdd: item.PriceAtAdd,
			Available:  item.Available,
			AddedAt:    item.AddedAt,
		})
	}
	return cartDTO{
		CustomerID: cart.CustomerID,
		Items:      items,
		TotalPrice: cart.TotalPrice,
		TotalItems: cart.TotalItems,
		UpdatedAt:  cart.UpdatedAt,
	}
}

type lineItemDTO struct {
	ProductID  string `json:"productId"`
	MerchantID string `json:"merchantId"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	Price      int64  `json:"price"`
	Total      int64  `json:"total"`
}

type trackingDTO struct {
	Status    string           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Note      string           `json:"note,omitempty"`
	Location  *domain.GeoPoint `json:"location,omitempty"`
}

type orderDTO struct {
	ID                   string         `json:"id"`
	OrderNumber          string         `json:"orderNumber"`
	CustomerID           string         `json:"customerId"`
	Items                []lineItemDTO  `json:"items"`
	ShippingAddress      domain.Address `json:"shippingAddress"`
	BillingAddress       domain.Address `json:"billingAddress"`
	PaymentMethod        string         `json:"paymentMethod"`
	PaymentStatus        string         `json:"paymentStatus"`
	Subtotal             int64          `json:"subtotal"`
	Tax                  int64          `json:"tax"`
	DeliveryFee          int64          `json:"deliveryFee"`
	Discount             int64          `json:"discount"`
	TotalAmount          int64          `json:"totalAmount"`
	OrderStatus          string         `json:"orderStatus"`
	DeliveryInstructions string         `json:"deliveryInstructions,omitempty"`
	CourierID            string         `json:"courierId,omitempty"`
	Tracking             []trackingDTO  `json:"trackingHistory"`
	CancellationReason   string         `json:"cancellationReason,omitempty"`
	CancelledBy          string         `json:"cancelledBy,omitempty"`
	DeliveredAt          *time.Time     `json:"deliveredAt,omitempty"`
	CreatedAt            time.Time      `json:"createdAt"`
	UpdatedAt            time.Time      `json:"updatedAt"`
}

func toOrderDTO(o domain.Order) orderDTO {
	items := make([]lineItemDTO, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, lineItemDTO{
			ProductID:  item.ProductID,
			MerchantID: item.MerchantID,
			Name:       item.Name,
			Quantity:   item.Quantity,
			Price:      item.UnitPrice,
			Total:      item.LineTotal,
		})
	}
	tracking := make([]trackingDTO, 0, len(o.Tracking))
	for _, entry := range o.Tracking {
		tracking = append(tracking, trackingDTO{
			Status:    string(entry.Status),
			Timestamp: entry.Timestamp,
			Note:      entry.Note,
			Location:  entry.Location,
		})
	}
	return orderDTO{
		ID:                   o.ID,
		OrderNumber:          o.OrderNumber,
		CustomerID:           o.CustomerID,
		Items:                items,
		ShippingAddress:      o.ShippingAddress,
		BillingAddress:       o.BillingAddress,
		PaymentMethod:        string(o.PaymentMethod),
		PaymentStatus:        string(o.PaymentStatus),
		Subtotal:             o.Subtotal,
		Tax:                  o.Tax,
		DeliveryFee:          o.DeliveryFee,
		Discount:             o.Discount,
		TotalAmount:          o.TotalAmount,
		OrderStatus:          string(o.Status),
		DeliveryInstructions: o.DeliveryInstructions,
		CourierID:            o.CourierID,
		Tracking:             tracking,
		CancellationReason:   o.CancellationReason,
		CancelledBy:          string(o.CancelledBy),
		DeliveredAt:          o.DeliveredAt,
		CreatedAt:            o.CreatedAt,
		UpdatedAt:            o.UpdatedAt,
	}
}

func toOrderDTOs(orders []domain.Order) []orderDTO {
	out := make([]orderDTO, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderDTO(o))
	}
	return out
}

type locationDTO struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type courierDTO struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Phone           string       `json:"phone"`
	VehicleType     string       `json:"vehicleType,omitempty"`
	IsOnline        bool         `json:"isOnline"`
	IsAvailable     bool         `json:"isAvailable"`
	TotalDeliveries int          `json:"totalDeliveries"`
	TotalEarnings   int64        `json:"totalEarnings"`
	CurrentLocation *locationDTO `json:"currentLocation,omitempty"`
}

func toCourierDTO(c domain.Courier) courierDTO {
	dto := courierDTO{
		ID:              c.ID,
		Name:            c.Name,
		Phone:           c.Phone,
		VehicleType:     c.VehicleType,
		IsOnline:        c.Online,
		IsAvailable:     c.Available,
		TotalDeliveries: c.TotalDeliveries,
		TotalEarnings:   c.TotalEarnings,
	}
	if c.Location != nil {
		dto.CurrentLocation = &locationDTO{Lat: c.Location.Lat, Lng: c.Location.Lng, UpdatedAt: c.Location.UpdatedAt}
	}
	return dto
}

type courierDashboardDTO struct {
	TotalOrders     int   `json:"totalOrders"`
	CompletedOrders int   `json:"completedOrders"`
	CancelledOrders int   `json:"cancelledOrders"`
	TotalEarnings   int64 `json:"totalEarnings"`
	AvailableOrders int   `json:"availableOrders"`
}

func toCourierDashboardDTO(d courier.Dashboard) courierDashboardDTO {
	return courierDashboardDTO{
		TotalOrders:     d.TotalOrders,
		CompletedOrders: d.CompletedOrders,
		CancelledOrders: d.CancelledOrders,
		TotalEarnings:   d.TotalEarnings,
		AvailableOrders: d.AvailableOrders,
	}
}

type merchantDashboardDTO struct {
	TotalProducts   int   `json:"totalProducts"`
	ActiveProducts  int   `json:"activeProducts"`
	TotalOrders     int   `json:"totalOrders"`
	PendingOrders   int   `json:"pendingOrders"`
	CompletedOrders int   `json:"completedOrders"`
	TotalRevenue    int64 `json:"totalRevenue"`
}

func toMerchantDashboardDTO(d catalog.MerchantDashboard) merchantDashboardDTO {
	return merchantDashboardDTO{
		TotalProducts:   d.TotalProducts,
		ActiveProducts:  d.ActiveProducts,
		TotalOrders:     d.TotalOrders,
		PendingOrders:   d.PendingOrders,
		CompletedOrders: d.CompletedOrders,
		TotalRevenue:    d.TotalRevenue,
	}
}
