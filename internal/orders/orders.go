package orders

import (
	"context"
	"errors"
	"time"
)

// Domain errors.
var (
	ErrNotFound          = errors.New("order not found")
	ErrInvalidInput      = errors.New("invalid order input")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Status is the order lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// ParseStatus validates a raw status string.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusPaid, StatusShipped, StatusDelivered, StatusCancelled:
		return Status(s), nil
	}
	return "", ErrInvalidInput
}

// transitions holds the allowed forward edges of the lifecycle.
// Cancellation is only reachable before shipment.
var transitions = map[Status][]Status{
	StatusPending: {StatusPaid, StatusCancelled},
	StatusPaid:    {StatusShipped, StatusCancelled},
	StatusShipped: {StatusDelivered},
}

// CanTransition reports whether the lifecycle allows moving from one
// status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Item is one purchased line of an order. UnitCents is the price at
// purchase time; later catalog edits never rewrite history.
type Item struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	UnitCents int64  `json:"unit_cents"`
	Quantity  int    `json:"quantity"`
}

// Order is a completed checkout.
type Order struct {
	ID            string    `json:"id"`
	CustomerID    string    `json:"customer_id,omitempty"`
	CustomerEmail string    `json:"customer_email"`
	Status        Status    `json:"status"`
	Items         []Item    `json:"items"`
	TotalCents    int64     `json:"total_cents"`
	Currency      string    `json:"currency"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Sort keys accepted by Filter.
const (
	SortByCreatedAt = "created_at"
	SortByTotal     = "total"
)

// Filter narrows and orders List results.
type Filter struct {
	Status        Status
	CustomerEmail string
	SortBy        string // created_at (default) or total
	Ascending     bool
	Limit         int
}

// Stats summarizes orders for the admin dashboard.
type Stats struct {
	TotalOrders   int             `json:"total_orders"`
	RevenueCents  int64           `json:"revenue_cents"`
	CountByStatus map[Status]int  `json:"count_by_status"`
	TopProducts   []ProductVolume `json:"top_products,omitempty"`
}

// ProductVolume is units sold per product.
type ProductVolume struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Units     int    `json:"units"`
}

// CustomerSummary aggregates a shopper's order history.
type CustomerSummary struct {
	Email       string    `json:"email"`
	Orders      int       `json:"orders"`
	SpentCents  int64     `json:"spent_cents"`
	LastOrderAt time.Time `json:"last_order_at"`
}

// Service defines order operations.
type Service interface {
	Create(ctx context.Context, o Order) (Order, error)
	Get(ctx context.Context, id string) (Order, error)
	List(ctx context.Context, f Filter) ([]Order, error)
	UpdateStatus(ctx context.Context, id string, to Status) (Order, error)
	Summary(ctx context.Context) (Stats, error)
	Customers(ctx context.Context) ([]CustomerSummary, error)
}

func validate(o Order) error {
	if o.CustomerEmail == "" {
		return ErrInvalidInput
	}
	if len(o.Items) == 0 {
		return ErrInvalidInput
	}
	if o.Currency == "" {
		return ErrInvalidInput
	}
	for _, it := range o.Items {
		if it.ProductID == "" || it.Quantity <= 0 || it.UnitCents < 0 {
			return ErrInvalidInput
		}
	}
	return nil
}

// Total computes the order total from its items.
func Total(items []Item) int64 {
	var sum int64
	for _, it := range items {
		sum += it.UnitCents * int64(it.Quantity)
	}
	return sum
}
