package orders

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"verano.shop/internal/ids"
)

// InMemory implements Service with in-process concurrency safety.
type InMemory struct {
	mu    sync.RWMutex
	items map[string]*Order
	now   func() time.Time
}

// NewInMemory creates an empty order book.
func NewInMemory() *InMemory {
	return &InMemory{
		items: make(map[string]*Order),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemory) Create(ctx context.Context, o Order) (Order, error) {
	if err := validate(o); err != nil {
		return Order{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.ID == "" {
		o.ID = ids.New()
	}
	if o.Status == "" {
		o.Status = StatusPending
	}
	o.TotalCents = Total(o.Items)
	now := s.now()
	o.CreatedAt = now
	o.UpdatedAt = now
	cp := o
	cp.Items = append([]Item(nil), o.Items...)
	s.items[o.ID] = &cp
	return o, nil
}

func (s *InMemory) Get(ctx context.Context, id string) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.items[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return copyOrder(o), nil
}

func (s *InMemory) List(ctx context.Context, f Filter) ([]Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Order, 0, len(s.items))
	for _, o := range s.items {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.CustomerEmail != "" && !strings.EqualFold(o.CustomerEmail, f.CustomerEmail) {
			continue
		}
		out = append(out, copyOrder(o))
	}
	sortOrders(out, f)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *InMemory) UpdateStatus(ctx context.Context, id string, to Status) (Order, error) {
	if _, err := ParseStatus(string(to)); err != nil {
		return Order{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.items[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	if !CanTransition(o.Status, to) {
		return Order{}, ErrInvalidTransition
	}
	o.Status = to
	o.UpdatedAt = s.now()
	return copyOrder(o), nil
}

func (s *InMemory) Summary(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{CountByStatus: make(map[Status]int)}
	units := make(map[string]*ProductVolume)
	for _, o := range s.items {
		stats.TotalOrders++
		stats.CountByStatus[o.Status]++
		if o.Status != StatusCancelled {
			stats.RevenueCents += o.TotalCents
		}
		for _, it := range o.Items {
			pv, ok := units[it.ProductID]
			if !ok {
				pv = &ProductVolume{ProductID: it.ProductID, Name: it.Name}
				units[it.ProductID] = pv
			}
			pv.Units += it.Quantity
		}
	}
	for _, pv := range units {
		stats.TopProducts = append(stats.TopProducts, *pv)
	}
	sort.Slice(stats.TopProducts, func(i, j int) bool {
		if stats.TopProducts[i].Units == stats.TopProducts[j].Units {
			return stats.TopProducts[i].ProductID < stats.TopProducts[j].ProductID
		}
		return stats.TopProducts[i].Units > stats.TopProducts[j].Units
	})
	if len(stats.TopProducts) > 5 {
		stats.TopProducts = stats.TopProducts[:5]
	}
	return stats, nil
}

func (s *InMemory) Customers(ctx context.Context) ([]CustomerSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byEmail := make(map[string]*CustomerSummary)
	for _, o := range s.items {
		key := strings.ToLower(o.CustomerEmail)
		cs, ok := byEmail[key]
		if !ok {
			cs = &CustomerSummary{Email: key}
			byEmail[key] = cs
		}
		cs.Orders++
		if o.Status != StatusCancelled {
			cs.SpentCents += o.TotalCents
		}
		if o.CreatedAt.After(cs.LastOrderAt) {
			cs.LastOrderAt = o.CreatedAt
		}
	}
	out := make([]CustomerSummary, 0, len(byEmail))
	for _, cs := range byEmail {
		out = append(out, *cs)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SpentCents == out[j].SpentCents {
			return out[i].Email < out[j].Email
		}
		return out[i].SpentCents > out[j].SpentCents
	})
	return out, nil
}

func copyOrder(o *Order) Order {
	out := *o
	out.Items = append([]Item(nil), o.Items...)
	return out
}

func sortOrders(out []Order, f Filter) {
	less := func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	}
	if f.SortBy == SortByTotal {
		less = func(i, j int) bool {
			if out[i].TotalCents == out[j].TotalCents {
				return out[i].ID < out[j].ID
			}
			return out[i].TotalCents < out[j].TotalCents
		}
	}
	if f.Ascending {
		sort.Slice(out, less)
		return
	}
	sort.Slice(out, func(i, j int) bool { return less(j, i) })
}
