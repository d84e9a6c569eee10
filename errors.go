package main

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidPrice      = errors.New("invalid price")
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrPersistence       = errors.New("persistence failure")
	ErrAssetIO           = errors.New("asset i/o failure")
	ErrStaleEdit         = errors.New("product changed since the form was loaded")
)

// ProductNotFoundError identifies the product a request referenced but the
// catalog does not hold. Title is the client-asserted title, when known.
type ProductNotFoundError struct {
	ID    int
	Title string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ID)
}

func (e *ProductNotFoundError) Unwrap() error { return ErrProductNotFound }

// InsufficientStockError lists every product whose stock could not cover the
// order, not just the first one found.
type InsufficientStockError struct {
	Items []StockShortage
}

func (e *InsufficientStockError) Error() string {
	ids := make([]string, 0, len(e.Items))
	for _, it := range e.Items {
		ids = append(ids, fmt.Sprintf("%d (%d/%d)", it.ProductID, it.Available, it.Requested))
	}
	return "insufficient stock for products " + strings.Join(ids, ", ")
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

func invalidRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
