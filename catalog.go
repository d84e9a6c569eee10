package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Catalog is the product table.
type Catalog interface {
	ListProducts(ctx context.Context) ([]Product, error)
	GetProduct(ctx context.Context, id int) (Product, bool, error)
	ResolveCart(ctx context.Context, ids []int) ([]CartProduct, error)
	InsertProduct(ctx context.Context, p *Product) error
	// UpdateProduct writes p only while the row's stock still equals
	// expectedStock, otherwise it returns ErrStaleEdit.
	UpdateProduct(ctx context.Context, p *Product, expectedStock int) error
	DeleteProduct(ctx context.Context, id int) error
}

type sqlCatalog struct {
	db *sql.DB
}

func NewSQLCatalog(db *sql.DB) Catalog {
	return &sqlCatalog{db: db}
}

const productColumns = `id, title, price, description, category, stock, image, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Title, &p.Price, &p.Description, &p.Category, &p.Stock, &p.Image, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *sqlCatalog) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM produtos ORDER BY id`)
	if err != nil {
		return nil, persistenceError("list products", err)
	}
	defer rows.Close()

	products := []Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, persistenceError("scan product", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("list products", err)
	}
	return products, nil
}

func (s *sqlCatalog) GetProduct(ctx context.Context, id int) (Product, bool, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM produtos WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Product{}, false, nil
	}
	if err != nil {
		return Product{}, false, persistenceError(fmt.Sprintf("get product %d", id), err)
	}
	return p, true, nil
}

// ResolveCart returns the current data for the ids that still exist.
// Unknown ids are dropped silently.
func (s *sqlCatalog) ResolveCart(ctx context.Context, ids []int) ([]CartProduct, error) {
	out := []CartProduct{}
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, price, image, category FROM produtos WHERE id IN (`+placeholders+`) ORDER BY id`, args...)
	if err != nil {
		return nil, persistenceError("resolve cart", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cp CartProduct
		if err := rows.Scan(&cp.ID, &cp.Title, &cp.Price, &cp.Image, &cp.Category); err != nil {
			return nil, persistenceError("scan cart product", err)
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("resolve cart", err)
	}
	return out, nil
}

func (s *sqlCatalog) InsertProduct(ctx context.Context, p *Product) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO produtos (title, price, description, category, stock, image, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, NOW(), NOW())`,
		p.Title, p.Price, p.Description, p.Category, p.Stock, p.Image)
	if err != nil {
		return persistenceError("insert product", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return persistenceError("insert product", err)
	}
	p.ID = int(id)
	return nil
}

func (s *sqlCatalog) UpdateProduct(ctx context.Context, p *Product, expectedStock int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE produtos
		SET title = ?, price = ?, description = ?, category = ?, stock = ?, image = ?, updated_at = NOW()
		WHERE id = ? AND stock = ?`,
		p.Title, p.Price, p.Description, p.Category, p.Stock, p.Image, p.ID, expectedStock)
	if err != nil {
		return persistenceError(fmt.Sprintf("update product %d", p.ID), err)
	}
	err = requireAffected(res, p.ID)
	if !errors.Is(err, ErrProductNotFound) {
		return err
	}

	// no row matched: either it is gone or a checkout moved its stock
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM produtos WHERE id = ?)`, p.ID).Scan(&exists); err != nil {
		return persistenceError(fmt.Sprintf("update product %d", p.ID), err)
	}
	if exists {
		return fmt.Errorf("%w: product %d", ErrStaleEdit, p.ID)
	}
	return &ProductNotFoundError{ID: p.ID}
}

func (s *sqlCatalog) DeleteProduct(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM produtos WHERE id = ?`, id)
	if err != nil {
		return persistenceError(fmt.Sprintf("delete product %d", id), err)
	}
	return requireAffected(res, id)
}

// requireAffected turns a statement that matched no row into ProductNotFound.
// The DSN sets clientFoundRows so an UPDATE that changes nothing still counts.
func requireAffected(res sql.Result, id int) error {
	n, err := res.RowsAffected()
	if err != nil {
		return persistenceError(fmt.Sprintf("product %d", id), err)
	}
	if n == 0 {
		return &ProductNotFoundError{ID: id}
	}
	return nil
}
