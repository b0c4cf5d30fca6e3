package domain

import (
	"time"
)

// InventoryItem tracks a user's stock level for one product.
type InventoryItem struct {
	ProductID   int64     `json:"product_id"`
	UserID      string    `json:"user_id"`
	ProductName string    `json:"product_name"`
	Stock       int       `json:"stock"`
	SafetyStock int       `json:"safety_stock_level"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// LowStock reports whether the item is at or below its safety stock level.
func (i *InventoryItem) LowStock() bool {
	return i.Stock <= i.SafetyStock
}

// GroceryItem is one catalog entry used for restock recommendations.
type GroceryItem struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	SubCategory string  `json:"sub_category"`
	Price       float64 `json:"price"`
	Rating      float64 `json:"rating,omitempty"`
}
