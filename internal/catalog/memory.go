package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"verano.shop/internal/ids"
)

// InMemory implements Service with in-process concurrency safety.
// NOTE: Replace with durable storage (Postgres) in deployments.
type InMemory struct {
	mu    sync.RWMutex
	items map[string]*Product
	now   func() time.Time
}

// NewInMemory creates an empty catalog.
func NewInMemory() *InMemory {
	return &InMemory{
		items: make(map[string]*Product),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemory) Create(ctx context.Context, p Product) (Product, error) {
	p.Name = strings.TrimSpace(p.Name)
	if err := validate(p); err != nil {
		return Product{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = ids.New()
	} else if _, ok := s.items[p.ID]; ok {
		return Product{}, ErrConflict
	}
	now := s.now()
	p.CreatedAt = now
	p.UpdatedAt = now
	cp := p
	s.items[p.ID] = &cp
	return p, nil
}

func (s *InMemory) Get(ctx context.Context, id string) (Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.items[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	return *p, nil
}

func (s *InMemory) List(ctx context.Context, f Filter) ([]Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Product, 0, len(s.items))
	for _, p := range s.items {
		if matches(*p, f) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *InMemory) Update(ctx context.Context, id string, u Update) (Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.items[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	next := *p
	if u.Name != nil {
		next.Name = strings.TrimSpace(*u.Name)
	}
	if u.Description != nil {
		next.Description = *u.Description
	}
	if u.PriceCents != nil {
		next.PriceCents = *u.PriceCents
	}
	if u.Category != nil {
		next.Category = *u.Category
	}
	if u.ImageURL != nil {
		next.ImageURL = *u.ImageURL
	}
	if u.Stock != nil {
		next.Stock = *u.Stock
	}
	if u.Active != nil {
		next.Active = *u.Active
	}
	if err := validate(next); err != nil {
		return Product{}, err
	}
	next.UpdatedAt = s.now()
	*p = next
	return next, nil
}

func (s *InMemory) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *InMemory) AdjustStock(ctx context.Context, id string, delta int) (Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	if p.Stock+delta < 0 {
		return Product{}, ErrInvalidInput
	}
	p.Stock += delta
	p.UpdatedAt = s.now()
	return *p, nil
}
