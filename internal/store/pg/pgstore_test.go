package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"verano.shop/internal/catalog"
	"verano.shop/internal/orders"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func productRows(p catalog.Product) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "description", "price_cents", "currency",
		"category", "image_url", "stock", "active", "created_at", "updated_at",
	}).AddRow(p.ID, p.Name, p.Description, p.PriceCents, p.Currency,
		p.Category, p.ImageURL, p.Stock, p.Active, time.Now(), time.Now())
}

func TestProbe(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("select id from products limit 1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("p1"))
	if err := s.Probe(context.Background()); err != nil {
		t.Fatalf("probe: %v", err)
	}

	// An empty table still counts as reachable.
	mock.ExpectQuery("select id from products limit 1").WillReturnError(sql.ErrNoRows)
	if err := s.Probe(context.Background()); err != nil {
		t.Fatalf("probe on empty table: %v", err)
	}

	mock.ExpectQuery("select id from products limit 1").WillReturnError(errors.New("connection refused"))
	if err := s.Probe(context.Background()); err == nil {
		t.Fatal("expected probe failure")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCatalogCreate(t *testing.T) {
	s, mock := newMockStore(t)

	want := catalog.Product{
		ID: "p1", Name: "Mug", PriceCents: 1200, Currency: "USD", Stock: 5, Active: true,
	}
	mock.ExpectQuery("insert into products").
		WithArgs(sqlmock.AnyArg(), "Mug", "", int64(1200), "USD", "", "", 5, true).
		WillReturnRows(productRows(want))

	got, err := s.Catalog().Create(context.Background(), catalog.Product{
		Name: "  Mug  ", PriceCents: 1200, Currency: "USD", Stock: 5, Active: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got.ID != "p1" || got.Name != "Mug" {
		t.Fatalf("unexpected product: %+v", got)
	}

	if _, err := s.Catalog().Create(context.Background(), catalog.Product{Name: "NoPrice", Currency: "USD"}); !errors.Is(err, catalog.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCatalogGetNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("select (.+) from products where id=").
		WithArgs("missing").WillReturnError(sql.ErrNoRows)

	if _, err := s.Catalog().Get(context.Background(), "missing"); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCatalogAdjustStockOversell(t *testing.T) {
	s, mock := newMockStore(t)

	// Guarded update matches no row, product exists: oversell.
	mock.ExpectQuery("update products set stock").
		WithArgs("p1", -10).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("select (.+) from products where id=").
		WithArgs("p1").
		WillReturnRows(productRows(catalog.Product{ID: "p1", Name: "Mug", PriceCents: 1200, Currency: "USD", Stock: 2, Active: true}))

	if _, err := s.Catalog().AdjustStock(context.Background(), "p1", -10); !errors.Is(err, catalog.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func orderRows(o orders.Order) *sqlmock.Rows {
	items, _ := json.Marshal(o.Items)
	return sqlmock.NewRows([]string{
		"id", "customer_id", "customer_email", "status", "items",
		"total_cents", "currency", "created_at", "updated_at",
	}).AddRow(o.ID, nil, o.CustomerEmail, string(o.Status), items,
		o.TotalCents, o.Currency, time.Now(), time.Now())
}

func TestOrdersCreate(t *testing.T) {
	s, mock := newMockStore(t)

	in := orders.Order{
		CustomerEmail: "a@example.com",
		Currency:      "USD",
		Items: []orders.Item{
			{ProductID: "p1", Name: "Mug", UnitCents: 1200, Quantity: 2},
		},
	}
	want := in
	want.ID = "o1"
	want.Status = orders.StatusPending
	want.TotalCents = 2400

	mock.ExpectQuery("insert into orders").
		WithArgs(sqlmock.AnyArg(), nil, "a@example.com", orders.StatusPending,
			sqlmock.AnyArg(), int64(2400), "USD").
		WillReturnRows(orderRows(want))

	got, err := s.Orders().Create(context.Background(), in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got.TotalCents != 2400 || len(got.Items) != 1 {
		t.Fatalf("unexpected order: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOrdersUpdateStatus(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select status from orders where id=(.+) for update").
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("pending"))
	mock.ExpectQuery("update orders set status=").
		WithArgs("o1", "paid").
		WillReturnRows(orderRows(orders.Order{
			ID: "o1", CustomerEmail: "a@example.com", Status: orders.StatusPaid,
			TotalCents: 500, Currency: "USD",
		}))
	mock.ExpectCommit()

	got, err := s.Orders().UpdateStatus(context.Background(), "o1", orders.StatusPaid)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if got.Status != orders.StatusPaid {
		t.Fatalf("unexpected status: %s", got.Status)
	}

	// Illegal transition never reaches the update.
	mock.ExpectBegin()
	mock.ExpectQuery("select status from orders where id=(.+) for update").
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("delivered"))
	mock.ExpectRollback()

	if _, err := s.Orders().UpdateStatus(context.Background(), "o1", orders.StatusPaid); !errors.Is(err, orders.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOrdersCustomers(t *testing.T) {
	s, mock := newMockStore(t)

	now := time.Now()
	mock.ExpectQuery("select lower\\(customer_email\\)").
		WillReturnRows(sqlmock.NewRows([]string{"lower", "count", "spent", "max"}).
			AddRow("a@example.com", 2, int64(3000), now).
			AddRow("b@example.com", 1, int64(0), now))

	got, err := s.Orders().Customers(context.Background())
	if err != nil {
		t.Fatalf("customers: %v", err)
	}
	if len(got) != 2 || got[0].Email != "a@example.com" || got[0].SpentCents != 3000 {
		t.Fatalf("unexpected customers: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
