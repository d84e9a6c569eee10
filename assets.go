package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const uploadsURLPrefix = "/uploads"

// ImageStore owns the files behind Product.Image.
type ImageStore interface {
	// Save stores the upload and returns the public path to record on the product.
	Save(ctx context.Context, file *multipart.FileHeader) (string, error)
	// Delete removes the file behind a path returned by Save. A path that no
	// longer exists is not an error.
	Delete(ctx context.Context, publicPath string) error
}

var allowedImageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

type diskImageStore struct {
	dir string
}

func NewDiskImageStore(dir string) (ImageStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create upload dir: %w", ErrAssetIO, err)
	}
	return &diskImageStore{dir: dir}, nil
}

func (s *diskImageStore) Save(ctx context.Context, file *multipart.FileHeader) (string, error) {
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !allowedImageExts[ext] {
		return "", invalidRequest("unsupported image type %q", ext)
	}

	src, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("%w: open upload: %w", ErrAssetIO, err)
	}
	defer src.Close()

	name := uuid.NewString() + ext
	dst, err := os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("%w: create %s: %w", ErrAssetIO, name, err)
	}
	if _, err = io.Copy(dst, src); err == nil {
		err = dst.Close()
	} else {
		dst.Close()
	}
	if err != nil {
		os.Remove(filepath.Join(s.dir, name))
		return "", fmt.Errorf("%w: write %s: %w", ErrAssetIO, name, err)
	}
	return path.Join(uploadsURLPrefix, name), nil
}

func (s *diskImageStore) Delete(ctx context.Context, publicPath string) error {
	name, ok := strings.CutPrefix(publicPath, uploadsURLPrefix+"/")
	if !ok || name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("%w: refusing to delete %q", ErrAssetIO, publicPath)
	}
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: delete %s: %w", ErrAssetIO, name, err)
	}
	return nil
}
