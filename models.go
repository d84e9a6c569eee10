package main

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          int             `json:"id"`
	Title       string          `json:"title"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Stock       int             `json:"stock"`
	Image       *string         `json:"image"` // NULLable, path under /uploads
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ImageURL returns the stored image path or "" when the product has none.
func (p Product) ImageURL() string {
	if p.Image == nil {
		return ""
	}
	return *p.Image
}

// CartProduct is the read-only projection returned to the cart page.
type CartProduct struct {
	ID       int             `json:"id"`
	Title    string          `json:"title"`
	Price    decimal.Decimal `json:"price"`
	Image    *string         `json:"image"`
	Category string          `json:"category"`
}

// ProductInput carries the raw admin form values before validation.
type ProductInput struct {
	Title       string `form:"title"`
	Price       string `form:"price"`
	Description string `form:"description"`
	Category    string `form:"category"`
	Stock       string `form:"stock"`

	// StockSeen is the stock the edit form displayed. Edits only apply
	// while the row still holds it.
	StockSeen string `form:"stock_seen"`
}

// LineItem is one client-supplied cart line. Title, Price and Category are
// whatever the browser had cached; only ProductID and Quantity are trusted.
type LineItem struct {
	ProductID int             `json:"id"`
	Title     string          `json:"title"`
	Price     decimal.Decimal `json:"price"`
	Category  string          `json:"category"`
	Quantity  int             `json:"quantity"`
}

type OrderRequest struct {
	CustomerName  string     `json:"nome"`
	PaymentMethod string     `json:"pagamento"`
	Notes         string     `json:"observacoes"`
	Items         []LineItem `json:"itens"`
}

type OrderResult struct {
	OrderID    string          `json:"orderId"`
	Summary    string          `json:"summary"`
	Total      decimal.Decimal `json:"total"`
	HandoffURL string          `json:"whatsappUrl"`
}

// StockShortage describes one product that cannot cover the requested quantity.
type StockShortage struct {
	ProductID int    `json:"id"`
	Title     string `json:"title"`
	Available int    `json:"estoqueDisponivel"`
	Requested int    `json:"quantidadeSolicitada"`
}
