package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"verano.shop/internal/ids"
	"verano.shop/internal/orders"
)

// Orders is the order-facing view of Store.
type Orders struct {
	db *sql.DB
}

var _ orders.Service = (*Orders)(nil)

const orderColumns = `id, customer_id, customer_email, status, items, total_cents, currency, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (orders.Order, error) {
	var (
		o        orders.Order
		customer sql.NullString
		rawItems []byte
	)
	if err := row.Scan(&o.ID, &customer, &o.CustomerEmail, &o.Status, &rawItems,
		&o.TotalCents, &o.Currency, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return orders.Order{}, err
	}
	if customer.Valid {
		o.CustomerID = customer.String
	}
	if len(rawItems) > 0 {
		if err := json.Unmarshal(rawItems, &o.Items); err != nil {
			return orders.Order{}, fmt.Errorf("decode order items: %w", err)
		}
	}
	return o, nil
}

func (st *Orders) Create(ctx context.Context, o orders.Order) (orders.Order, error) {
	if o.CustomerEmail == "" || len(o.Items) == 0 || o.Currency == "" {
		return orders.Order{}, orders.ErrInvalidInput
	}
	for _, it := range o.Items {
		if it.ProductID == "" || it.Quantity <= 0 || it.UnitCents < 0 {
			return orders.Order{}, orders.ErrInvalidInput
		}
	}
	if o.ID == "" {
		o.ID = ids.New()
	}
	if o.Status == "" {
		o.Status = orders.StatusPending
	}
	o.TotalCents = orders.Total(o.Items)
	rawItems, err := json.Marshal(o.Items)
	if err != nil {
		return orders.Order{}, fmt.Errorf("encode order items: %w", err)
	}

	var customer any
	if o.CustomerID != "" {
		customer = o.CustomerID
	}
	row := st.db.QueryRowContext(ctx, `
		insert into orders (id, customer_id, customer_email, status, items, total_cents, currency)
		values ($1,$2,$3,$4,$5,$6,$7)
		returning `+orderColumns,
		o.ID, customer, o.CustomerEmail, o.Status, rawItems, o.TotalCents, o.Currency)
	out, err := scanOrder(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return orders.Order{}, fmt.Errorf("order %s already exists", o.ID)
		}
		return orders.Order{}, err
	}
	return out, nil
}


func (st *Orders) Get(ctx context.Context, id string) (orders.Order, error) {
	row := st.db.QueryRowContext(ctx, `select `+orderColumns+` from orders where id=$1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return orders.Order{}, orders.ErrNotFound
	}
	if err != nil {
		return orders.Order{}, err
	}
	return o, nil
}

func (st *Orders) List(ctx context.Context, f orders.Filter) ([]orders.Order, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.CustomerEmail != "" {
		args = append(args, f.CustomerEmail)
		where = append(where, fmt.Sprintf("lower(customer_email) = lower($%d)", len(args)))
	}
	q := `select ` + orderColumns + ` from orders`
	if len(where) > 0 {
		q += " where " + strings.Join(where, " and ")
	}
	col := "created_at"
	if f.SortBy == orders.SortByTotal {
		col = "total_cents"
	}
	dir := "desc"
	if f.Ascending {
		dir = "asc"
	}
	q += fmt.Sprintf(" order by %s %s, id", col, dir)
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" limit $%d", len(args))
	}

	rows, err := st.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}


func (st *Orders) UpdateStatus(ctx context.Context, id string, to orders.Status) (orders.Order, error) {
	if _, err := orders.ParseStatus(string(to)); err != nil {
		return orders.Order{}, err
	}
	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return orders.Order{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var current orders.Status
	err = tx.QueryRowContext(ctx, `select status from orders where id=$1 for update`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return orders.Order{}, orders.ErrNotFound
	}
	if err != nil {
		return orders.Order{}, err
	}
	if !orders.CanTransition(current, to) {
		return orders.Order{}, orders.ErrInvalidTransition
	}

	row := tx.QueryRowContext(ctx, `
		update orders set status=$2, updated_at=now() where id=$1
		returning `+orderColumns, id, string(to))
	o, err := scanOrder(row)
	if err != nil {
		return orders.Order{}, err
	}
	if err := tx.Commit(); err != nil {
		return orders.Order{}, err
	}
	return o, nil
}

func (st *Orders) Summary(ctx context.Context) (orders.Stats, error) {
	stats := orders.Stats{CountByStatus: make(map[orders.Status]int)}

	rows, err := st.db.QueryContext(ctx, `
		select status, count(*), coalesce(sum(total_cents), 0)
		from orders group by status`)
	if err != nil {
		return orders.Stats{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			st    orders.Status
			count int
			total int64
		)
		if err := rows.Scan(&st, &count, &total); err != nil {
			return orders.Stats{}, err
		}
		stats.CountByStatus[st] = count
		stats.TotalOrders += count
		if st != orders.StatusCancelled {
			stats.RevenueCents += total
		}
	}
	if err := rows.Err(); err != nil {
		return orders.Stats{}, err
	}

	top, err := st.db.QueryContext(ctx, `
		select item->>'product_id', max(item->>'name'), sum((item->>'quantity')::int) as units
		from orders, jsonb_array_elements(items) as item
		group by 1 order by units desc, 1 limit 5`)
	if err != nil {
		return orders.Stats{}, err
	}
	defer top.Close()
	for top.Next() {
		var pv orders.ProductVolume
		if err := top.Scan(&pv.ProductID, &pv.Name, &pv.Units); err != nil {
			return orders.Stats{}, err
		}
		stats.TopProducts = append(stats.TopProducts, pv)
	}
	return stats, top.Err()
}

func (st *Orders) Customers(ctx context.Context) ([]orders.CustomerSummary, error) {
	rows, err := st.db.QueryContext(ctx, `
		select lower(customer_email),
		       count(*),
		       coalesce(sum(total_cents) filter (where status <> 'cancelled'), 0) as spent,
		       max(created_at)
		from orders
		group by 1
		order by spent desc, 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.CustomerSummary
	for rows.Next() {
		var cs orders.CustomerSummary
		if err := rows.Scan(&cs.Email, &cs.Orders, &cs.SpentCents, &cs.LastOrderAt); err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}
