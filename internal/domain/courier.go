package domain

import "time"

// CourierLocation — последняя известная позиция курьера.
type CourierLocation struct {
	GeoPoint
	UpdatedAt time.Time
}

// CourierStats — счётчики по заказам курьера.
type CourierStats struct {
	TotalOrders     int
	CompletedOrders int
	CancelledOrders int
}

// Courier — профиль курьера в части, нужной жизненному циклу заказа.
type Courier struct {
	ID              string
	Name            string
	Phone           string
	VehicleType     string
	Online          bool
	Available       bool
	TotalDeliveries int
	TotalEarnings   int64
	Location        *CourierLocation
	Stats           CourierStats
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CourierAvailability — частичное обновление флагов курьера.
type CourierAvailability struct {
	Online    *bool
	Available *bool
}
