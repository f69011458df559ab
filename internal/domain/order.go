package domain

import (
	"strings"
	"time"
)

// OrderStatus описывает жизненный цикл заказа маркетплейса.
type OrderStatus string

const (
	// OrderStatusPending — заказ оформлен, мерчант ещё не подтвердил.
	OrderStatusPending OrderStatus = "Pending"
	// OrderStatusConfirmed — мерчант принял заказ.
	OrderStatusConfirmed OrderStatus = "Confirmed"
	// OrderStatusPreparing — заказ собирается.
	OrderStatusPreparing OrderStatus = "Preparing"
	// OrderStatusReady — заказ готов и ждёт курьера.
	OrderStatusReady OrderStatus = "Ready"
	// OrderStatusOutForDelivery — курьер забрал заказ.
	OrderStatusOutForDelivery OrderStatus = "Out for Delivery"
	// OrderStatusDelivered — заказ вручён (терминальный).
	OrderStatusDelivered OrderStatus = "Delivered"
	// OrderStatusCancelled — заказ отменён (терминальный).
	OrderStatusCancelled OrderStatus = "Cancelled"
)

// Valid проверяет, что статус известен.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusPreparing, OrderStatusReady,
		OrderStatusOutForDelivery, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что из статуса нет переходов.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// PaymentStatus отслеживается, но не проводится.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "Pending"
	PaymentStatusPaid     PaymentStatus = "Paid"
	PaymentStatusFailed   PaymentStatus = "Failed"
	PaymentStatusRefunded PaymentStatus = "Refunded"
)

// Valid проверяет, что статус оплаты известен.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	default:
		return false
	}
}

// PaymentMethod — способ оплаты, выбранный клиентом.
type PaymentMethod string

const (
	PaymentMethodCOD    PaymentMethod = "COD"
	PaymentMethodCard   PaymentMethod = "Card"
	PaymentMethodUPI    PaymentMethod = "UPI"
	PaymentMethodWallet PaymentMethod = "Wallet"
)

// Valid проверяет, что способ оплаты известен.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCOD, PaymentMethodCard, PaymentMethodUPI, PaymentMethodWallet:
		return true
	default:
		return false
	}
}

// GeoPoint — координаты.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid проверяет диапазоны широты и долготы.
func (g GeoPoint) Valid() bool {
	return g.Lat >= -90 && g.Lat <= 90 && g.Lng >= -180 && g.Lng <= 180
}

// Address — снимок адреса на момент оформления.
type Address struct {
	Name        string    `json:"name"`
	Phone       string    `json:"phone"`
	Street      string    `json:"street"`
	City        string    `json:"city"`
	State       string    `json:"state"`
	Zip         string    `json:"zip"`
	Country     string    `json:"country"`
	Coordinates *GeoPoint `json:"coordinates,omitempty"`
}

// Validate проверяет обязательные поля адреса доставки.
func (a Address) Validate() error {
	missing := make([]string, 0, 4)
	if strings.TrimSpace(a.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(a.Phone) == "" {
		missing = append(missing, "phone")
	}
	if strings.TrimSpace(a.Street) == "" {
		missing = append(missing, "street")
	}
	if strings.TrimSpace(a.City) == "" {
		missing = append(missing, "city")
	}
	if len(missing) > 0 {
		return Validationf("address fields required: %s", strings.Join(missing, ", "))
	}
	if a.Coordinates != nil && !a.Coordinates.Valid() {
		return Validationf("address coordinates out of range")
	}
	return nil
}

// LineItem — неизменяемый снимок позиции заказа.
type LineItem struct {
	ProductID  string
	MerchantID string
	Name       string
	Quantity   int
	UnitPrice  int64
	LineTotal  int64
}

// TrackingEntry — запись истории статусов. История только дописывается.
type TrackingEntry struct {
	Status    OrderStatus
	Timestamp time.Time
	Note      string
	Location  *GeoPoint
}

// Order агрегирует состояние заказа, позиции и историю.
type Order struct {
	ID                   string
	OrderNumber          string
	CustomerID           string
	Items                []LineItem
	ShippingAddress      Address
	BillingAddress       Address
	PaymentMethod        PaymentMethod
	PaymentStatus        PaymentStatus
	Subtotal             int64
	Tax                  int64
	DeliveryFee          int64
	Discount             int64
	TotalAmount          int64
	DeliveryInstructions string
	CourierID            string
	Status               OrderStatus
	Tracking             []TrackingEntry
	CancellationReason   string
	CancelledBy          Role
	DeliveredAt          *time.Time
	Version              int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// AppendTracking добавляет запись в историю и меняет статус одним шагом.
func (o *Order) AppendTracking(status OrderStatus, at time.Time, note string, location *GeoPoint) {
	o.Status = status
	o.Tracking = append(o.Tracking, TrackingEntry{
		Status:    status,
		Timestamp: at,
		Note:      note,
		Location:  location,
	})
	o.UpdatedAt = at
}

// LastTracking возвращает последнюю запись истории.
func (o *Order) LastTracking() (TrackingEntry, bool) {
	if len(o.Tracking) == 0 {
		return TrackingEntry{}, false
	}
	return o.Tracking[len(o.Tracking)-1], true
}

// HasMerchant сообщает, есть ли в заказе позиция мерчанта.
func (o *Order) HasMerchant(merchantID string) bool {
	for _, item := range o.Items {
		if item.MerchantID == merchantID {
			return true
		}
	}
	return false
}

// Clone возвращает глубокую копию заказа.
func (o Order) Clone() Order {
	o.Items = append([]LineItem(nil), o.Items...)
	o.Tracking = append([]TrackingEntry(nil), o.Tracking...)
	if o.DeliveredAt != nil {
		at := *o.DeliveredAt
		o.DeliveredAt = &at
	}
	return o
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, Validationf("customer_id is required"))
	}
	if o.OrderNumber == "" {
		errs = append(errs, Validationf("order number is required"))
	}
	if len(o.Items) == 0 {
		errs = append(errs, Validationf("order must contain at least one item"))
	}
	if !o.Status.Valid() {
		errs = append(errs, Validationf("unknown order status %q", o.Status))
	}

	var subtotal int64
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, Validationf("item %s quantity must be positive", item.ProductID))
		}
		if item.UnitPrice < 0 {
			errs = append(errs, Validationf("item %s price must be non-negative", item.ProductID))
		}
		if item.LineTotal != int64(item.Quantity)*item.UnitPrice {
			errs = append(errs, Validationf("item %s line total mismatch", item.ProductID))
		}
		subtotal += item.LineTotal
	}
	if subtotal != o.Subtotal {
		errs = append(errs, Validationf("subtotal does not match items sum"))
	}
	if o.TotalAmount != o.Subtotal+o.Tax+o.DeliveryFee-o.Discount {
		errs = append(errs, Validationf("total amount does not match breakdown"))
	}

	return errs
}

// OrderFilter задаёт выборку заказов для ролевых списков.
type OrderFilter struct {
	CustomerID string
	MerchantID string
	CourierID  string
	Status     OrderStatus
	// Unassigned ограничивает выборку заказами без курьера.
	Unassigned bool
}

// Match применяет фильтр к заказу (используется in-memory хранилищем).
func (f OrderFilter) Match(o Order) bool {
	if f.CustomerID != "" && o.CustomerID != f.CustomerID {
		return false
	}
	if f.MerchantID != "" && !o.HasMerchant(f.MerchantID) {
		return false
	}
	if f.CourierID != "" && o.CourierID != f.CourierID {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.Unassigned && o.CourierID != "" {
		return false
	}
	return true
}
