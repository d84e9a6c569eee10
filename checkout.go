package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

// StockStore opens the transactions the checkout runs in.
type StockStore interface {
	BeginStockTx(ctx context.Context) (StockTx, error)
}

// StockTx is a single checkout transaction. LockProduct must hold an
// exclusive row lock until Commit or Rollback.
type StockTx interface {
	LockProduct(ctx context.Context, id int) (Product, bool, error)
	DecrementStock(ctx context.Context, id, quantity int) error
	Commit() error
	Rollback() error
}

// maxLineQuantity caps the units of one product a single order may ask for,
// whether on one line or summed across lines.
const maxLineQuantity = 10000

// CheckoutEngine validates an order against live stock, reserves it
// all-or-nothing and produces the hand-off link for the shop's chat.
type CheckoutEngine struct {
	store  StockStore
	phone  string
	newID  func() string
	orders metric.Int64Counter
}

func NewCheckoutEngine(store StockStore, phone string) *CheckoutEngine {
	return newCheckoutEngine(store, phone, meter)
}

func newCheckoutEngine(store StockStore, phone string, m metric.Meter) *CheckoutEngine {
	counter, err := m.Int64Counter("storefront.checkout.orders",
		metric.WithDescription("Checkout submissions by outcome"))
	if err != nil {
		log.Printf("⚠️ checkout counter unavailable: %v", err)
	}
	return &CheckoutEngine{
		store:  store,
		phone:  phone,
		newID:  uuid.NewString,
		orders: counter,
	}
}

func (r OrderRequest) validate() error {
	if strings.TrimSpace(r.CustomerName) == "" {
		return invalidRequest("customer name is required")
	}
	if strings.TrimSpace(r.PaymentMethod) == "" {
		return invalidRequest("payment method is required")
	}
	if len(r.Items) == 0 {
		return invalidRequest("order has no items")
	}
	for i, it := range r.Items {
		if it.ProductID <= 0 {
			return invalidRequest("item %d has no product id", i+1)
		}
		if it.Quantity <= 0 {
			return invalidRequest("item %d has a non-positive quantity", i+1)
		}
		if it.Quantity > maxLineQuantity {
			return invalidRequest("item %d asks for more than %d units", i+1, maxLineQuantity)
		}
	}
	return nil
}

// SubmitOrder is not idempotent: submitting the same request twice
// decrements stock twice.
func (e *CheckoutEngine) SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	ctx, span := tracer.Start(ctx, "checkout.SubmitOrder")
	defer span.End()

	res, err := e.submit(ctx, req)
	outcome := "placed"
	switch {
	case err == nil:
		span.SetAttributes(attribute.String("order.id", res.OrderID))
	case errors.Is(err, ErrInsufficientStock):
		outcome = "insufficient_stock"
	case errors.Is(err, ErrProductNotFound):
		outcome = "product_not_found"
	case errors.Is(err, ErrInvalidRequest):
		outcome = "invalid"
	default:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if e.orders != nil {
		e.orders.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
	return res, err
}

func (e *CheckoutEngine) submit(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if err := req.validate(); err != nil {
		return OrderResult{}, err
	}

	// Sum quantities per product and lock in ascending id order so two
	// orders sharing products always acquire their locks in the same order.
	requested := make(map[int]int, len(req.Items))
	assertedTitle := make(map[int]string, len(req.Items))
	for _, it := range req.Items {
		if requested[it.ProductID] > maxLineQuantity-it.Quantity {
			return OrderResult{}, invalidRequest("product %d asks for more than %d units", it.ProductID, maxLineQuantity)
		}
		requested[it.ProductID] += it.Quantity
		if _, ok := assertedTitle[it.ProductID]; !ok {
			assertedTitle[it.ProductID] = it.Title
		}
	}
	ids := make([]int, 0, len(requested))
	for id := range requested {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	tx, err := e.store.BeginStockTx(ctx)
	if err != nil {
		return OrderResult{}, persistenceError("begin checkout", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Printf("⚠️ checkout rollback failed: %v", rbErr)
		}
	}()

	locked := make(map[int]Product, len(ids))
	var shortages []StockShortage
	for _, id := range ids {
		p, found, err := tx.LockProduct(ctx, id)
		if err != nil {
			return OrderResult{}, persistenceError(fmt.Sprintf("lock product %d", id), err)
		}
		if !found {
			return OrderResult{}, &ProductNotFoundError{ID: id, Title: assertedTitle[id]}
		}
		locked[id] = p
		if p.Stock < requested[id] {
			shortages = append(shortages, StockShortage{
				ProductID: id,
				Title:     p.Title,
				Available: p.Stock,
				Requested: requested[id],
			})
		}
	}
	if len(shortages) > 0 {
		return OrderResult{}, &InsufficientStockError{Items: shortages}
	}

	for _, id := range ids {
		if err := tx.DecrementStock(ctx, id, requested[id]); err != nil {
			return OrderResult{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return OrderResult{}, persistenceError("commit checkout", err)
	}
	committed = true

	lines := make([]summaryLine, 0, len(req.Items))
	for _, it := range req.Items {
		p := locked[it.ProductID]
		lines = append(lines, summaryLine{
			Title:    p.Title,
			Category: p.Category,
			Price:    p.Price,
			Quantity: it.Quantity,
		})
	}
	summary, total := buildOrderSummary(req.CustomerName, req.PaymentMethod, req.Notes, lines)

	return OrderResult{
		OrderID:    e.newID(),
		Summary:    summary,
		Total:      total,
		HandoffURL: handoffLink(e.phone, summary),
	}, nil
}

// =========================
// MySQL stock transactions
// =========================

type sqlStockStore struct {
	db *sql.DB
}

func NewSQLStockStore(db *sql.DB) StockStore {
	return &sqlStockStore{db: db}
}

func (s *sqlStockStore) BeginStockTx(ctx context.Context) (StockTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqlStockTx{tx: tx}, nil
}

type sqlStockTx struct {
	tx *sql.Tx
}

func (t *sqlStockTx) LockProduct(ctx context.Context, id int) (Product, bool, error) {
	var p Product
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, title, price, description, category, stock, image, created_at, updated_at
		FROM produtos WHERE id = ? FOR UPDATE`, id).
		Scan(&p.ID, &p.Title, &p.Price, &p.Description, &p.Category, &p.Stock, &p.Image, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Product{}, false, nil
	}
	if err != nil {
		return Product{}, false, err
	}
	return p, true, nil
}

// DecrementStock updates in place instead of writing back a value read earlier.
func (t *sqlStockTx) DecrementStock(ctx context.Context, id, quantity int) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE produtos SET stock = stock - ?, updated_at = NOW()
		WHERE id = ? AND stock >= ?`, quantity, id, quantity)
	if err != nil {
		return persistenceError(fmt.Sprintf("decrement product %d", id), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistenceError(fmt.Sprintf("decrement product %d", id), err)
	}
	if n == 0 {
		return fmt.Errorf("%w: product %d changed while locked", ErrInsufficientStock, id)
	}
	return nil
}

func (t *sqlStockTx) Commit() error   { return t.tx.Commit() }
func (t *sqlStockTx) Rollback() error { return t.tx.Rollback() }
