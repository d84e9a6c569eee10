package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"mime/multipart"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory catalog whose checkout transactions hold a real
// per-row lock until commit or rollback.
type memStore struct {
	mu        sync.Mutex
	products  map[int]*memRow
	nextID    int
	lockLog   []int
	commits   int
	rollbacks int

	insertErr error
	updateErr error
}

type memRow struct {
	lock sync.Mutex
	p    Product
}

func newMemStore(products ...Product) *memStore {
	s := &memStore{products: make(map[int]*memRow), nextID: 1}
	for _, p := range products {
		s.put(p)
	}
	return s
}

func (s *memStore) put(p Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.nextID
	}
	if p.ID >= s.nextID {
		s.nextID = p.ID + 1
	}
	s.products[p.ID] = &memRow{p: p}
}

func (s *memStore) stock(id int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id].p.Stock
}

func (s *memStore) ListProducts(ctx context.Context) ([]Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Product{}
	for _, r := range s.products {
		out = append(out, r.p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) GetProduct(ctx context.Context, id int) (Product, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.products[id]
	if !ok {
		return Product{}, false, nil
	}
	return r.p, true, nil
}

func (s *memStore) ResolveCart(ctx context.Context, ids []int) ([]CartProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []CartProduct{}
	for _, id := range ids {
		if r, ok := s.products[id]; ok {
			out = append(out, CartProduct{ID: r.p.ID, Title: r.p.Title, Price: r.p.Price, Image: r.p.Image, Category: r.p.Category})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) InsertProduct(ctx context.Context, p *Product) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.mu.Lock()
	p.ID = s.nextID
	s.nextID++
	p.CreatedAt, p.UpdatedAt = time.Now(), time.Now()
	s.products[p.ID] = &memRow{p: *p}
	s.mu.Unlock()
	return nil
}

func (s *memStore) UpdateProduct(ctx context.Context, p *Product, expectedStock int) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.products[p.ID]
	if !ok {
		return &ProductNotFoundError{ID: p.ID}
	}
	if r.p.Stock != expectedStock {
		return ErrStaleEdit
	}
	r.p = *p
	return nil
}

func (s *memStore) DeleteProduct(ctx context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[id]; !ok {
		return &ProductNotFoundError{ID: id}
	}
	delete(s.products, id)
	return nil
}

func (s *memStore) BeginStockTx(ctx context.Context) (StockTx, error) {
	return &memTx{s: s, held: map[int]*memRow{}, pending: map[int]int{}}, nil
}

type memTx struct {
	s       *memStore
	held    map[int]*memRow
	pending map[int]int
	done    bool
}

func (t *memTx) LockProduct(ctx context.Context, id int) (Product, bool, error) {
	if t.done {
		return Product{}, false, sql.ErrTxDone
	}
	t.s.mu.Lock()
	row, ok := t.s.products[id]
	t.s.mu.Unlock()
	if !ok {
		return Product{}, false, nil
	}
	if _, mine := t.held[id]; !mine {
		row.lock.Lock()
		t.held[id] = row
		t.s.mu.Lock()
		t.s.lockLog = append(t.s.lockLog, id)
		t.s.mu.Unlock()
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p := row.p
	p.Stock -= t.pending[id]
	return p, true, nil
}

func (t *memTx) DecrementStock(ctx context.Context, id, quantity int) error {
	row, ok := t.held[id]
	if !ok {
		return fmt.Errorf("product %d decremented without lock", id)
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if row.p.Stock-t.pending[id] < quantity {
		return fmt.Errorf("%w: product %d", ErrInsufficientStock, id)
	}
	t.pending[id] += quantity
	return nil
}

func (t *memTx) Commit() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.s.mu.Lock()
	for id, qty := range t.pending {
		t.held[id].p.Stock -= qty
	}
	t.s.commits++
	t.s.mu.Unlock()
	t.release()
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.s.mu.Lock()
	t.s.rollbacks++
	t.s.mu.Unlock()
	t.release()
	return nil
}

func (t *memTx) release() {
	for _, row := range t.held {
		row.lock.Unlock()
	}
	t.held = nil
	t.done = true
}

// memImages records image operations instead of touching disk.
type memImages struct {
	mu        sync.Mutex
	saved     []string
	deleted   []string
	saveErr   error
	deleteErr error
}

func (m *memImages) Save(ctx context.Context, file *multipart.FileHeader) (string, error) {
	if m.saveErr != nil {
		return "", m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	path := fmt.Sprintf("/uploads/img-%d-%s", len(m.saved)+1, file.Filename)
	m.saved = append(m.saved, path)
	return path, nil
}

func (m *memImages) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, path)
	return m.deleteErr
}

type memUsers struct {
	mu    sync.Mutex
	users map[string]AdminUser
	err   error
}

func newMemUsers() *memUsers {
	return &memUsers{users: map[string]AdminUser{}}
}

func (m *memUsers) FindAdminByLogin(ctx context.Context, login string) (AdminUser, bool, error) {
	if m.err != nil {
		return AdminUser{}, false, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[login]
	return u, ok, nil
}

func (m *memUsers) CreateAdmin(ctx context.Context, login, hash string) (AdminUser, error) {
	if m.err != nil {
		return AdminUser{}, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[login]; ok {
		return AdminUser{}, errors.New("duplicate login")
	}
	u := AdminUser{ID: len(m.users) + 1, Login: login, PasswordHash: hash}
	m.users[login] = u
	return u, nil
}

func strPtr(s string) *string { return &s }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fileHeader builds a real multipart upload for the given file name.
func fileHeader(t *testing.T, name, content string) *multipart.FileHeader {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("image", name)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	form, err := multipart.NewReader(&body, w.Boundary()).ReadForm(1 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { form.RemoveAll() })
	return form.File["image"][0]
}
