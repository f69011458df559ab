package order

import (
	"strings"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// CreateOrderCommand — оформление заказа из корзины клиента.
type CreateOrderCommand struct {
	CustomerID      string
	ShippingAddress domain.Address
	// BillingAddress по умолчанию совпадает с адресом доставки.
	BillingAddress       *domain.Address
	PaymentMethod        domain.PaymentMethod
	DeliveryInstructions string
}

// Validate проверяет команду до обращения к хранилищу.
func (c CreateOrderCommand) Validate() error {
	if strings.TrimSpace(c.CustomerID) == "" {
		return domain.Validationf("customer_id is required")
	}
	if err := c.ShippingAddress.Validate(); err != nil {
		return err
	}
	if c.BillingAddress != nil {
		if err := c.BillingAddress.Validate(); err != nil {
			return err
		}
	}
	if !c.PaymentMethod.Valid() {
		return domain.Validationf("unknown payment method %q", c.PaymentMethod)
	}
	return nil
}

// TransitionCommand — перевод заказа в новый статус от имени участника.
type TransitionCommand struct {
	OrderID  string
	Actor    domain.Actor
	Target   domain.OrderStatus
	Note     string
	Location *domain.GeoPoint
}

// Validate проверяет команду перехода.
func (c TransitionCommand) Validate() error {
	if err := validateActor(c.OrderID, c.Actor); err != nil {
		return err
	}
	if !c.Target.Valid() {
		return domain.Validationf("unknown target status %q", c.Target)
	}
	if c.Location != nil && !c.Location.Valid() {
		return domain.Validationf("location out of range")
	}
	return nil
}

// CancelCommand — отмена заказа клиентом, мерчантом или курьером.
type CancelCommand struct {
	OrderID string
	Actor   domain.Actor
	Reason  string
}

// Validate проверяет команду отмены.
func (c CancelCommand) Validate() error {
	return validateActor(c.OrderID, c.Actor)
}

// AdminUpdateCommand — ручная правка статуса и/или статуса оплаты администратором.
type AdminUpdateCommand struct {
	OrderID       string
	AdminID       string
	Status        *domain.OrderStatus
	PaymentStatus *domain.PaymentStatus
	Note          string
}

// Validate проверяет команду администратора.
func (c AdminUpdateCommand) Validate() error {
	if strings.TrimSpace(c.OrderID) == "" {
		return domain.Validationf("order_id is required")
	}
	if c.Status == nil && c.PaymentStatus == nil {
		return domain.Validationf("status or payment status is required")
	}
	if c.Status != nil && !c.Status.Valid() {
		return domain.Validationf("unknown order status %q", *c.Status)
	}
	if c.PaymentStatus != nil && !c.PaymentStatus.Valid() {
		return domain.Validationf("unknown payment status %q", *c.PaymentStatus)
	}
	return nil
}

// ListQuery — фильтр ролевых списков заказов.
type ListQuery struct {
	Status domain.OrderStatus
	Page   domain.Page
}

// Validate проверяет фильтр статуса.
func (q ListQuery) Validate() error {
	if q.Status != "" && !q.Status.Valid() {
		return domain.Validationf("unknown order status %q", q.Status)
	}
	return nil
}

// OrderPage — страница заказов с метаданными.
type OrderPage struct {
	Orders []domain.Order
	domain.PageInfo
}

func validateActor(orderID string, actor domain.Actor) error {
	switch {
	case strings.TrimSpace(orderID) == "":
		return domain.Validationf("order_id is required")
	case strings.TrimSpace(actor.ID) == "":
		return domain.Validationf("actor id is required")
	case !actor.Role.Valid():
		return domain.Validationf("unknown actor role %q", actor.Role)
	}
	return nil
}
