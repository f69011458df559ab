package domain

import "time"

// CartItem — строка корзины.
type CartItem struct {
	ProductID string
	Quantity  int
	// PriceAtAdd — цена на момент добавления; итоги считаются по живой цене (Price).
	PriceAtAdd int64
	AddedAt    time.Time

	// Заполняются при пересчёте из каталога, в хранилище не пишутся.
	Name       string
	MerchantID string
	Price      int64
	Available  int
}

// Cart принадлежит одному клиенту. TotalPrice и TotalItems производные и
// пересчитываются через Recompute после каждого изменения и чтения.
type Cart struct {
	CustomerID string
	Items      []CartItem
	TotalPrice int64
	TotalItems int
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Find возвращает индекс строки с товаром или -1.
func (c *Cart) Find(productID string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// Remove удаляет строку товара; false, если строки не было.
func (c *Cart) Remove(productID string) bool {
	idx := c.Find(productID)
	if idx < 0 {
		return false
	}
	c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	return true
}

// Empty сообщает, что в корзине нет строк.
func (c *Cart) Empty() bool {
	return len(c.Items) == 0
}

// Recompute пересчитывает итоги по текущим ценам каталога.
// Строки, чей товар исчез из каталога, учитываются по нулевой цене.
func (c *Cart) Recompute(products map[string]Product) {
	var (
		total int64
		count int
	)
	for i := range c.Items {
		item := &c.Items[i]
		if p, ok := products[item.ProductID]; ok {
			item.Name = p.Name
			item.MerchantID = p.MerchantID
			item.Price = p.Price
			item.Available = p.Stock
		} else {
			item.Price = 0
			item.Available = 0
		}
		total += int64(item.Quantity) * item.Price
		count += item.Quantity
	}
	c.TotalPrice = total
	c.TotalItems = count
}

// ProductIDs возвращает идентификаторы товаров корзины в порядке строк.
func (c *Cart) ProductIDs() []string {
	ids := make([]string, 0, len(c.Items))
	for _, item := range c.Items {
		ids = append(ids, item.ProductID)
	}
	return ids
}

// Clone возвращает копию, не разделяющую срез строк.
func (c Cart) Clone() Cart {
	c.Items = append([]CartItem(nil), c.Items...)
	return c
}
