package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"verano.shop/internal/catalog"
	"verano.shop/internal/ids"
)

// Catalog is the product-facing view of Store.
type Catalog struct {
	db *sql.DB
}

var _ catalog.Service = (*Catalog)(nil)

const productColumns = `id, name, description, price_cents, currency, category, image_url, stock, active, created_at, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (catalog.Product, error) {
	var p catalog.Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.PriceCents, &p.Currency,
		&p.Category, &p.ImageURL, &p.Stock, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (c *Catalog) Create(ctx context.Context, p catalog.Product) (catalog.Product, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" || p.PriceCents <= 0 || p.Currency == "" || p.Stock < 0 {
		return catalog.Product{}, catalog.ErrInvalidInput
	}
	if p.ID == "" {
		p.ID = ids.New()
	}
	row := c.db.QueryRowContext(ctx, `
		insert into products (id, name, description, price_cents, currency, category, image_url, stock, active)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		returning `+productColumns,
		p.ID, p.Name, p.Description, p.PriceCents, p.Currency, p.Category, p.ImageURL, p.Stock, p.Active)
	out, err := scanProduct(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return catalog.Product{}, catalog.ErrConflict
		}
		return catalog.Product{}, err
	}
	return out, nil
}

func (c *Catalog) Get(ctx context.Context, id string) (catalog.Product, error) {
	row := c.db.QueryRowContext(ctx, `select `+productColumns+` from products where id=$1`, id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Product{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Product{}, err
	}
	return p, nil
}

func (c *Catalog) List(ctx context.Context, f catalog.Filter) ([]catalog.Product, error) {
	var (
		where []string
		args  []any
	)
	if f.ActiveOnly {
		where = append(where, "active")
	}
	if f.Category != "" {
		args = append(args, f.Category)
		where = append(where, fmt.Sprintf("lower(category) = lower($%d)", len(args)))
	}
	if f.Query != "" {
		args = append(args, "%"+strings.ToLower(f.Query)+"%")
		where = append(where, fmt.Sprintf("(lower(name) like $%d or lower(description) like $%d)", len(args), len(args)))
	}
	q := `select ` + productColumns + ` from products`
	if len(where) > 0 {
		q += " where " + strings.Join(where, " and ")
	}
	q += " order by created_at desc, id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" limit $%d", len(args))
	}

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (c *Catalog) Update(ctx context.Context, id string, u catalog.Update) (catalog.Product, error) {
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" {
			return catalog.Product{}, catalog.ErrInvalidInput
		}
		set("name", name)
	}
	if u.Description != nil {
		set("description", *u.Description)
	}
	if u.PriceCents != nil {
		if *u.PriceCents <= 0 {
			return catalog.Product{}, catalog.ErrInvalidInput
		}
		set("price_cents", *u.PriceCents)
	}
	if u.Category != nil {
		set("category", *u.Category)
	}
	if u.ImageURL != nil {
		set("image_url", *u.ImageURL)
	}
	if u.Stock != nil {
		if *u.Stock < 0 {
			return catalog.Product{}, catalog.ErrInvalidInput
		}
		set("stock", *u.Stock)
	}
	if u.Active != nil {
		set("active", *u.Active)
	}
	if len(sets) == 0 {
		return c.Get(ctx, id)
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, id)

	row := c.db.QueryRowContext(ctx,
		fmt.Sprintf(`update products set %s where id = $%d returning %s`,
			strings.Join(sets, ", "), len(args), productColumns),
		args...)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Product{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Product{}, err
	}
	return p, nil
}

func (c *Catalog) Delete(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `delete from products where id=$1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func (c *Catalog) AdjustStock(ctx context.Context, id string, delta int) (catalog.Product, error) {
	// The stock check and the write happen in one statement so two
	// concurrent checkouts cannot both claim the last unit.
	row := c.db.QueryRowContext(ctx, `
		update products set stock = stock + $2, updated_at = now()
		where id = $1 and stock + $2 >= 0
		returning `+productColumns, id, delta)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := c.Get(ctx, id); errors.Is(getErr, catalog.ErrNotFound) {
			return catalog.Product{}, catalog.ErrNotFound
		}
		return catalog.Product{}, catalog.ErrInvalidInput
	}
	if err != nil {
		return catalog.Product{}, err
	}
	return p, nil
}
