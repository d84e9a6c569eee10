package main

import (
	"context"
	"fmt"
	"log"
	"mime/multipart"
	"strconv"
	"strings"
)

// ProductService runs the admin catalog mutations and keeps each product's
// image file in step with its row.
type ProductService struct {
	catalog Catalog
	images  ImageStore
}

func NewProductService(catalog Catalog, images ImageStore) *ProductService {
	return &ProductService{catalog: catalog, images: images}
}

// apply validates the form and copies it onto p.
func (in ProductInput) apply(p *Product) error {
	title := strings.TrimSpace(in.Title)
	description := strings.TrimSpace(in.Description)
	category := strings.TrimSpace(in.Category)
	if title == "" {
		return invalidRequest("title is required")
	}
	if description == "" {
		return invalidRequest("description is required")
	}
	if category == "" {
		return invalidRequest("category is required")
	}
	stock, err := strconv.Atoi(strings.TrimSpace(in.Stock))
	if err != nil || stock < 0 {
		return invalidRequest("stock must be a non-negative integer")
	}
	price, err := NormalizePrice(in.Price)
	if err != nil {
		return err
	}

	p.Title = title
	p.Description = description
	p.Category = category
	p.Stock = stock
	p.Price = price
	return nil
}

func (s *ProductService) Create(ctx context.Context, in ProductInput, image *multipart.FileHeader) (Product, error) {
	var p Product
	if err := in.apply(&p); err != nil {
		return Product{}, err
	}

	if image != nil {
		imagePath, err := s.images.Save(ctx, image)
		if err != nil {
			return Product{}, err
		}
		p.Image = &imagePath
	}

	if err := s.catalog.InsertProduct(ctx, &p); err != nil {
		s.discardImage(ctx, p.Image)
		return Product{}, err
	}
	return p, nil
}

// Edit overwrites every field, unless the stock moved since the form showed
// in.StockSeen (or, without it, since the row was read here). The previous
// image is only removed once the row points at the new one.
func (s *ProductService) Edit(ctx context.Context, id int, in ProductInput, image *multipart.FileHeader) (Product, error) {
	p, found, err := s.catalog.GetProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if !found {
		return Product{}, &ProductNotFoundError{ID: id}
	}
	expectedStock := p.Stock
	if seen := strings.TrimSpace(in.StockSeen); seen != "" {
		if expectedStock, err = strconv.Atoi(seen); err != nil {
			return Product{}, invalidRequest("stock_seen must be an integer")
		}
		if expectedStock != p.Stock {
			return Product{}, fmt.Errorf("%w: product %d", ErrStaleEdit, id)
		}
	}
	if err := in.apply(&p); err != nil {
		return Product{}, err
	}

	previous := p.Image
	if image != nil {
		imagePath, err := s.images.Save(ctx, image)
		if err != nil {
			return Product{}, err
		}
		p.Image = &imagePath
	}

	if err := s.catalog.UpdateProduct(ctx, &p, expectedStock); err != nil {
		if image != nil {
			s.discardImage(ctx, p.Image)
		}
		return Product{}, err
	}
	if image != nil {
		s.discardImage(ctx, previous)
	}
	return p, nil
}

func (s *ProductService) Delete(ctx context.Context, id int) error {
	p, found, err := s.catalog.GetProduct(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return &ProductNotFoundError{ID: id}
	}
	s.discardImage(ctx, p.Image)
	return s.catalog.DeleteProduct(ctx, id)
}

// discardImage deletes an image best-effort; failures are only logged.
func (s *ProductService) discardImage(ctx context.Context, imagePath *string) {
	if imagePath == nil || *imagePath == "" {
		return
	}
	if err := s.images.Delete(ctx, *imagePath); err != nil {
		log.Printf("⚠️ failed to delete image %s: %v", *imagePath, err)
	}
}
