package domain

// Role — тип участника, от имени которого выполняется операция.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleMerchant Role = "merchant"
	RoleCourier  Role = "courier"
	RoleAdmin    Role = "admin"
)

// Valid проверяет, что роль известна.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleMerchant, RoleCourier, RoleAdmin:
		return true
	default:
		return false
	}
}

// Actor — кто выполняет операцию (из провайдера идентичности).
type Actor struct {
	ID   string
	Role Role
}

// roleTransitions — ролевая таблица переходов: (роль, текущий статус) -> допустимые цели.
// Мерчант не отменяет заказ после Ready. Админ сюда не входит: он работает через override.
var roleTransitions = map[Role]map[OrderStatus][]OrderStatus{
	RoleMerchant: {
		OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
		OrderStatusConfirmed: {OrderStatusPreparing, OrderStatusCancelled},
		OrderStatusPreparing: {OrderStatusReady, OrderStatusCancelled},
	},
	RoleCourier: {
		OrderStatusReady:          {OrderStatusOutForDelivery},
		OrderStatusOutForDelivery: {OrderStatusDelivered, OrderStatusCancelled},
	},
	RoleCustomer: {
		OrderStatusPending:   {OrderStatusCancelled},
		OrderStatusConfirmed: {OrderStatusCancelled},
	},
}

// CanTransition сообщает, может ли роль перевести заказ из from в to.
func CanTransition(role Role, from, to OrderStatus) bool {
	for _, target := range AllowedTargets(role, from) {
		if target == to {
			return true
		}
	}
	return false
}

// AllowedTargets возвращает цели, доступные роли из статуса from.
func AllowedTargets(role Role, from OrderStatus) []OrderStatus {
	byStatus, ok := roleTransitions[role]
	if !ok {
		return nil
	}
	return byStatus[from]
}
