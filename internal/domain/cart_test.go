package domain

import "testing"

func TestCartRecomputeUsesLivePrices(t *testing.T) {
	cart := Cart{
		CustomerID: "customer-1",
		Items: []CartItem{
			{ProductID: "p-a", Quantity: 3, PriceAtAdd: 20},
			{ProductID: "p-b", Quantity: 1, PriceAtAdd: 40},
		},
	}
	products := map[string]Product{
		"p-a": {ID: "p-a", Name: "A", Price: 25, Stock: 10},
		"p-b": {ID: "p-b", Name: "B", Price: 40, Stock: 5},
	}

	cart.Recompute(products)

	if cart.TotalPrice != 3*25+40 {
		t.Fatalf("unexpected total price %d", cart.TotalPrice)
	}
	if cart.TotalItems != 4 {
		t.Fatalf("unexpected total items %d", cart.TotalItems)
	}
	if cart.Items[0].PriceAtAdd != 20 {
		t.Fatal("price-at-add must stay untouched")
	}

	delete(products, "p-b")
	cart.Recompute(products)
	if cart.TotalPrice != 75 {
		t.Fatalf("missing product must not contribute, got %d", cart.TotalPrice)
	}
}

func TestCartRemove(t *testing.T) {
	cart := Cart{Items: []CartItem{{ProductID: "p-a"}, {ProductID: "p-b"}}}

	if !cart.Remove("p-a") {
		t.Fatal("expected p-a removed")
	}
	if cart.Remove("p-a") {
		t.Fatal("second remove must report false")
	}
	if cart.Find("p-b") != 0 {
		t.Fatal("expected p-b to shift to index 0")
	}
}

func TestPageNormalize(t *testing.T) {
	p := Page{Number: 0, Limit: 1000}.Normalize()
	if p.Number != 1 || p.Limit != MaxPageLimit {
		t.Fatalf("unexpected page %+v", p)
	}
	if off := (Page{Number: 3, Limit: 10}).Offset(); off != 20 {
		t.Fatalf("unexpected offset %d", off)
	}
}

func TestNewPageInfo(t *testing.T) {
	info := NewPageInfo(Page{Number: 2, Limit: 10}, 21)
	if info.Pages != 3 || info.CurrentPage != 2 || info.Total != 21 {
		t.Fatalf("unexpected page info: %+v", info)
	}
	if empty := NewPageInfo(Page{}, 0); empty.Pages != 0 || empty.CurrentPage != 1 {
		t.Fatalf("unexpected empty page info: %+v", empty)
	}
}
