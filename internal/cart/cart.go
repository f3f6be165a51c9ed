package cart

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"verano.shop/internal/catalog"
	"verano.shop/internal/orders"
)

// Domain errors.
var (
	ErrNotFound     = errors.New("cart not found")
	ErrEmptyCart    = errors.New("cart is empty")
	ErrInvalidInput = errors.New("invalid cart input")
	ErrOutOfStock   = errors.New("insufficient stock")
)

// Line is one product in a cart.
type Line struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Cart is an anonymous shopping session keyed by an opaque token.
type Cart struct {
	ID        string    `json:"id"`
	Lines     []Line    `json:"lines"`
	Wishlist  []string  `json:"wishlist,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type record struct {
	lines    map[string]int
	wishlist map[string]struct{}
	created  time.Time
	updated  time.Time
}

// Service manages carts and turns them into orders at checkout.
type Service struct {
	mu       sync.RWMutex
	carts    map[string]*record
	products catalog.Service
	orders   orders.Service
	now      func() time.Time
}

// NewService wires a cart service over the given catalog and order book.
func NewService(products catalog.Service, book orders.Service) *Service {
	return &Service{
		carts:    make(map[string]*record),
		products: products,
		orders:   book,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create opens a new empty cart and returns it.
func (s *Service) Create(ctx context.Context) (Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	now := s.now()
	s.carts[id] = &record{
		lines:    make(map[string]int),
		wishlist: make(map[string]struct{}),
		created:  now,
		updated:  now,
	}
	return s.snapshotLocked(id)
}

// Get returns the cart for the given token.
func (s *Service) Get(ctx context.Context, id string) (Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(id)
}

// AddItem puts quantity units of a product into the cart. The product
// must exist, be active, and have enough stock to cover the new line.
func (s *Service) AddItem(ctx context.Context, id, productID string, quantity int) (Cart, error) {
	if quantity <= 0 || productID == "" {
		return Cart{}, ErrInvalidInput
	}
	p, err := s.products.Get(ctx, productID)
	if err != nil {
		return Cart{}, err
	}
	if !p.Active {
		return Cart{}, catalog.ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.carts[id]
	if !ok {
		return Cart{}, ErrNotFound
	}
	if rec.lines[productID]+quantity > p.Stock {
		return Cart{}, ErrOutOfStock
	}
	rec.lines[productID] += quantity
	rec.updated = s.now()
	return s.snapshotLocked(id)
}

// RemoveItem drops a product line entirely.
func (s *Service) RemoveItem(ctx context.Context, id, productID string) (Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.carts[id]
	if !ok {
		return Cart{}, ErrNotFound
	}
	if _, ok := rec.lines[productID]; !ok {
		return Cart{}, ErrInvalidInput
	}
	delete(rec.lines, productID)
	rec.updated = s.now()
	return s.snapshotLocked(id)
}

// ToggleWishlist adds the product to the wishlist, or removes it when
// already present. Returns the resulting membership.
func (s *Service) ToggleWishlist(ctx context.Context, id, productID string) (bool, error) {
	if productID == "" {
		return false, ErrInvalidInput
	}
	if _, err := s.products.Get(ctx, productID); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.carts[id]
	if !ok {
		return false, ErrNotFound
	}
	if _, ok := rec.wishlist[productID]; ok {
		delete(rec.wishlist, productID)
		rec.updated = s.now()
		return false, nil
	}
	rec.wishlist[productID] = struct{}{}
	rec.updated = s.now()
	return true, nil
}

// Checkout converts the cart into a pending order, decrements catalog
// stock, and empties the cart. Prices are captured at checkout time.
func (s *Service) Checkout(ctx context.Context, id, email string) (orders.Order, error) {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return orders.Order{}, ErrInvalidInput
	}

	s.mu.Lock()
	rec, ok := s.carts[id]
	if !ok {
		s.mu.Unlock()
		return orders.Order{}, ErrNotFound
	}
	if len(rec.lines) == 0 {
		s.mu.Unlock()
		return orders.Order{}, ErrEmptyCart
	}
	lines := make(map[string]int, len(rec.lines))
	for pid, qty := range rec.lines {
		lines[pid] = qty
	}
	s.mu.Unlock()

	// Reserve stock first so a failed checkout cannot oversell. On any
	// later failure the reservations are rolled back.
	items := make([]orders.Item, 0, len(lines))
	reserved := make([]orders.Item, 0, len(lines))
	rollback := func() {
		for _, it := range reserved {
			_, _ = s.products.AdjustStock(ctx, it.ProductID, it.Quantity)
		}
	}
	currency := ""
	pids := make([]string, 0, len(lines))
	for pid := range lines {
		pids = append(pids, pid)
	}
	sort.Strings(pids)
	for _, pid := range pids {
		qty := lines[pid]
		p, err := s.products.AdjustStock(ctx, pid, -qty)
		if err != nil {
			rollback()
			if errors.Is(err, catalog.ErrInvalidInput) {
				return orders.Order{}, ErrOutOfStock
			}
			return orders.Order{}, err
		}
		it := orders.Item{ProductID: pid, Name: p.Name, UnitCents: p.PriceCents, Quantity: qty}
		items = append(items, it)
		reserved = append(reserved, it)
		currency = p.Currency
	}

	placed, err := s.orders.Create(ctx, orders.Order{
		CustomerEmail: email,
		Currency:      currency,
		Items:         items,
	})
	if err != nil {
		rollback()
		return orders.Order{}, err
	}

	s.mu.Lock()
	if rec, ok := s.carts[id]; ok {
		rec.lines = make(map[string]int)
		rec.updated = s.now()
	}
	s.mu.Unlock()
	return placed, nil
}

// snapshotLocked renders a stable copy of the cart. Callers hold mu.
func (s *Service) snapshotLocked(id string) (Cart, error) {
	rec, ok := s.carts[id]
	if !ok {
		return Cart{}, ErrNotFound
	}
	out := Cart{
		ID:        id,
		Lines:     make([]Line, 0, len(rec.lines)),
		CreatedAt: rec.created,
		UpdatedAt: rec.updated,
	}
	for pid, qty := range rec.lines {
		out.Lines = append(out.Lines, Line{ProductID: pid, Quantity: qty})
	}
	sort.Slice(out.Lines, func(i, j int) bool { return out.Lines[i].ProductID < out.Lines[j].ProductID })
	for pid := range rec.wishlist {
		out.Wishlist = append(out.Wishlist, pid)
	}
	sort.Strings(out.Wishlist)
	return out, nil
}
