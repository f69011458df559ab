package domain

const (
	// TaxPercent — налог в процентах от subtotal.
	TaxPercent = 5
	// FreeDeliveryThreshold — при subtotal строго больше порога доставка бесплатна.
	FreeDeliveryThreshold int64 = 500
	// FlatDeliveryFee — фиксированная стоимость доставки ниже порога.
	FlatDeliveryFee int64 = 50
	// FallbackCourierEarning — начисление курьеру, если у заказа нет сохранённой стоимости доставки.
	FallbackCourierEarning int64 = 50
)

// Totals — разбивка суммы заказа.
type Totals struct {
	Subtotal    int64
	Tax         int64
	DeliveryFee int64
	Discount    int64
	Total       int64
}

// ComputeTotals считает налог (5%, округление половины вверх), доставку и итог.
func ComputeTotals(subtotal, discount int64) Totals {
	tax := (subtotal*TaxPercent + 50) / 100
	fee := FlatDeliveryFee
	if subtotal > FreeDeliveryThreshold {
		fee = 0
	}
	return Totals{
		Subtotal:    subtotal,
		Tax:         tax,
		DeliveryFee: fee,
		Discount:    discount,
		Total:       subtotal + tax + fee - discount,
	}
}

// CourierEarning возвращает начисление курьеру за доставку заказа.
// Сохранённая стоимость доставки главнее; фиксированное значение только при её отсутствии
// у заказа с платной доставкой (нулевая стоимость при subtotal выше порога — честный ноль).
func CourierEarning(o Order) int64 {
	if o.DeliveryFee > 0 {
		return o.DeliveryFee
	}
	if o.Subtotal > FreeDeliveryThreshold {
		return 0
	}
	return FallbackCourierEarning
}
