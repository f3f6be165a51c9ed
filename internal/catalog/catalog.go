package catalog

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Domain errors.
var (
	ErrNotFound     = errors.New("product not found")
	ErrInvalidInput = errors.New("invalid product input")
	ErrConflict     = errors.New("product conflict")
)

// Product is a single storefront catalog entry. Prices are integer
// minor units (cents) to avoid float drift.
type Product struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	PriceCents  int64     `json:"price_cents"`
	Currency    string    `json:"currency"`
	Category    string    `json:"category,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	Stock       int       `json:"stock"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Filter narrows List results. Zero values mean "no constraint".
type Filter struct {
	Category   string
	Query      string
	ActiveOnly bool
	Limit      int
}

// Update carries partial product changes. Nil fields are untouched.
type Update struct {
	Name        *string
	Description *string
	PriceCents  *int64
	Category    *string
	ImageURL    *string
	Stock       *int
	Active      *bool
}

// Service defines catalog operations.
type Service interface {
	Create(ctx context.Context, p Product) (Product, error)
	Get(ctx context.Context, id string) (Product, error)
	List(ctx context.Context, f Filter) ([]Product, error)
	Update(ctx context.Context, id string, u Update) (Product, error)
	Delete(ctx context.Context, id string) error
	// AdjustStock atomically changes stock by delta; it fails when the
	// result would go negative.
	AdjustStock(ctx context.Context, id string, delta int) (Product, error)
}

func validate(p Product) error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrInvalidInput
	}
	if p.PriceCents <= 0 {
		return ErrInvalidInput
	}
	if p.Currency == "" {
		return ErrInvalidInput
	}
	if p.Stock < 0 {
		return ErrInvalidInput
	}
	return nil
}

func matches(p Product, f Filter) bool {
	if f.ActiveOnly && !p.Active {
		return false
	}
	if f.Category != "" && !strings.EqualFold(p.Category, f.Category) {
		return false
	}
	if f.Query != "" {
		q := strings.ToLower(f.Query)
		if !strings.Contains(strings.ToLower(p.Name), q) &&
			!strings.Contains(strings.ToLower(p.Description), q) {
			return false
		}
	}
	return true
}
