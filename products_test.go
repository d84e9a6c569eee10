package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validInput() ProductInput {
	return ProductInput{
		Title:       "Maçã",
		Price:       "8,90",
		Description: "Fuji",
		Category:    "Frutas",
		Stock:       "12",
	}
}

func TestProductService_CreateWithImage(t *testing.T) {
	store, images := newMemStore(), &memImages{}
	svc := NewProductService(store, images)

	p, err := svc.Create(context.Background(), validInput(), fileHeader(t, "maca.jpg", "jpg"))
	require.NoError(t, err)

	assert.Equal(t, 1, p.ID)
	assert.Equal(t, "8.90", p.Price.StringFixed(2))
	require.NotNil(t, p.Image)
	assert.Equal(t, images.saved[0], *p.Image)

	stored, found, err := store.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 12, stored.Stock)
}

func TestProductService_CreateValidation(t *testing.T) {
	svc := NewProductService(newMemStore(), &memImages{})

	bad := validInput()
	bad.Price = "abc"
	_, err := svc.Create(context.Background(), bad, nil)
	assert.ErrorIs(t, err, ErrInvalidPrice)

	bad = validInput()
	bad.Title = "  "
	_, err = svc.Create(context.Background(), bad, nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	bad = validInput()
	bad.Stock = "-1"
	_, err = svc.Create(context.Background(), bad, nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestProductService_CreateInsertFailureDiscardsImage(t *testing.T) {
	store, images := newMemStore(), &memImages{}
	store.insertErr = persistenceError("insert product", errors.New("disk full"))
	svc := NewProductService(store, images)

	_, err := svc.Create(context.Background(), validInput(), fileHeader(t, "maca.jpg", "jpg"))
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, images.saved, images.deleted)
}

func TestProductService_EditReplacesImage(t *testing.T) {
	store, images := newMemStore(Product{ID: 4, Title: "Old", Price: dec("1"), Description: "d", Category: "c", Stock: 1, Image: strPtr("/uploads/old.png")}), &memImages{}
	svc := NewProductService(store, images)

	in := validInput()
	in.Price = "1.234,50"
	p, err := svc.Edit(context.Background(), 4, in, fileHeader(t, "new.png", "png"))
	require.NoError(t, err)

	assert.Equal(t, "Maçã", p.Title)
	assert.Equal(t, "1234.50", p.Price.StringFixed(2))
	assert.Equal(t, images.saved[0], *p.Image)
	assert.Equal(t, []string{"/uploads/old.png"}, images.deleted)
}

func TestProductService_EditKeepsImageWithoutUpload(t *testing.T) {
	store, images := newMemStore(Product{ID: 4, Title: "Old", Price: dec("1"), Description: "d", Category: "c", Stock: 1, Image: strPtr("/uploads/old.png")}), &memImages{}
	svc := NewProductService(store, images)

	p, err := svc.Edit(context.Background(), 4, validInput(), nil)
	require.NoError(t, err)
	assert.Equal(t, "/uploads/old.png", *p.Image)
	assert.Empty(t, images.deleted)
}

func TestProductService_EditFailureKeepsPreviousImage(t *testing.T) {
	store, images := newMemStore(Product{ID: 4, Title: "Old", Price: dec("1"), Description: "d", Category: "c", Stock: 1, Image: strPtr("/uploads/old.png")}), &memImages{}
	store.updateErr = persistenceError("update product 4", errors.New("gone away"))
	svc := NewProductService(store, images)

	_, err := svc.Edit(context.Background(), 4, validInput(), fileHeader(t, "new.png", "png"))
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, images.saved, images.deleted, "only the new upload is discarded")
}

func TestProductService_EditMissing(t *testing.T) {
	svc := NewProductService(newMemStore(), &memImages{})

	_, err := svc.Edit(context.Background(), 9, validInput(), nil)
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestProductService_EditRejectsFormWithOutdatedStock(t *testing.T) {
	store, images := newMemStore(Product{ID: 4, Title: "Old", Price: dec("1"), Description: "d", Category: "c", Stock: 3}), &memImages{}
	svc := NewProductService(store, images)

	in := validInput()
	in.StockSeen = "5"
	_, err := svc.Edit(context.Background(), 4, in, fileHeader(t, "new.png", "png"))
	assert.ErrorIs(t, err, ErrStaleEdit)
	assert.Empty(t, images.saved)
	assert.Equal(t, 3, store.stock(4))

	in.StockSeen = "três"
	_, err = svc.Edit(context.Background(), 4, in, nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

// checkoutOnRead lets a checkout commit right after Edit has read the row.
type checkoutOnRead struct {
	*memStore
	afterRead func()
}

func (c *checkoutOnRead) GetProduct(ctx context.Context, id int) (Product, bool, error) {
	p, found, err := c.memStore.GetProduct(ctx, id)
	c.afterRead()
	return p, found, err
}

func TestProductService_EditDoesNotUndoConcurrentCheckout(t *testing.T) {
	for name, stockSeen := range map[string]string{"with form stock": "2", "without form stock": ""} {
		t.Run(name, func(t *testing.T) {
			store, images := newMemStore(Product{ID: 4, Title: "Old", Price: dec("1"), Description: "d", Category: "c", Stock: 2}), &memImages{}
			engine := NewCheckoutEngine(store, "5511999999999")
			catalog := &checkoutOnRead{memStore: store, afterRead: func() {
				_, err := engine.SubmitOrder(context.Background(), order(LineItem{ProductID: 4, Quantity: 2}))
				require.NoError(t, err)
			}}
			svc := NewProductService(catalog, images)

			in := validInput()
			in.Stock = "2"
			in.StockSeen = stockSeen
			_, err := svc.Edit(context.Background(), 4, in, fileHeader(t, "new.png", "png"))
			assert.ErrorIs(t, err, ErrStaleEdit)
			assert.Equal(t, 0, store.stock(4), "sold units must stay sold")
			assert.Equal(t, images.saved, images.deleted)
		})
	}
}

func TestProductService_DeleteRemovesImageAndRow(t *testing.T) {
	store, images := newMemStore(Product{ID: 2, Title: "P", Image: strPtr("/uploads/p.png")}), &memImages{}
	svc := NewProductService(store, images)

	require.NoError(t, svc.Delete(context.Background(), 2))
	assert.Equal(t, []string{"/uploads/p.png"}, images.deleted)
	_, found, _ := store.GetProduct(context.Background(), 2)
	assert.False(t, found)
}

func TestProductService_DeleteSurvivesImageFailure(t *testing.T) {
	store := newMemStore(Product{ID: 2, Title: "P", Image: strPtr("/uploads/p.png")})
	images := &memImages{deleteErr: ErrAssetIO}
	svc := NewProductService(store, images)

	require.NoError(t, svc.Delete(context.Background(), 2))
	_, found, _ := store.GetProduct(context.Background(), 2)
	assert.False(t, found)
}

func TestProductService_DeleteMissing(t *testing.T) {
	images := &memImages{}
	svc := NewProductService(newMemStore(), images)

	err := svc.Delete(context.Background(), 5)
	assert.ErrorIs(t, err, ErrProductNotFound)
	assert.Empty(t, images.deleted)
}
