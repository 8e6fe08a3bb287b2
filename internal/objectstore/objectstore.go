// Package objectstore stores uploaded document binaries. PDFs go to Cloudflare R2
// through its S3-compatible API and images go to Cloudinary.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"

	"nuvex-backend-go/internal/models"
)

// Backend names persisted on each document.
const (
	BackendR2         = "r2"
	BackendCloudinary = "cloudinary"
)

// ErrUnsupportedType is returned for content types no backend accepts.
var ErrUnsupportedType = errors.New("unsupported content type")

// PutInput describes one object to upload.
type PutInput struct {
	AccountID   string
	ClientID    string
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// StoredObject is the result of a successful upload.
type StoredObject struct {
	Backend    string
	Key        string
	URL        string
	PreviewURL string
	Checksum   string
}

// Backend is one object storage provider.
type Backend interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (*StoredObject, error)
	Delete(ctx context.Context, key string) error
	// URL returns a retrievable URL for key. storedURL is the URL recorded at upload time.
	URL(ctx context.Context, key, storedURL string) (string, error)
}

// Router picks the backend for a document by its content type.
type Router struct {
	pdf    Backend
	images Backend
}

// NewRouter creates a router sending PDFs to pdf and JPEG/PNG images to images.
func NewRouter(pdf, images Backend) *Router {
	return &Router{pdf: pdf, images: images}
}

// Put uploads the object to the backend for its content type.
func (r *Router) Put(ctx context.Context, in PutInput) (*StoredObject, error) {
	backend, name, err := r.forContentType(in.ContentType)
	if err != nil {
		return nil, err
	}
	key := objectKey(in, uuid.NewString())
	obj, err := backend.Put(ctx, key, in.Body, in.Size, in.ContentType)
	if err != nil {
		return nil, err
	}
	obj.Backend = name
	return obj, nil
}

// Delete removes the object from the backend it was stored in.
func (r *Router) Delete(ctx context.Context, backendName, key string) error {
	backend, err := r.byName(backendName)
	if err != nil {
		return err
	}
	return backend.Delete(ctx, key)
}

// DownloadURL returns a fresh retrievable URL for the object.
func (r *Router) DownloadURL(ctx context.Context, backendName, key, storedURL string) (string, error) {
	backend, err := r.byName(backendName)
	if err != nil {
		return "", err
	}
	return backend.URL(ctx, key, storedURL)
}

func (r *Router) forContentType(contentType string) (Backend, string, error) {
	switch contentType {
	case models.FileTypePDF:
		return r.pdf, BackendR2, nil
	case models.FileTypeJPEG, models.FileTypePNG:
		return r.images, BackendCloudinary, nil
	default:
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
}

func (r *Router) byName(name string) (Backend, error) {
	switch name {
	case BackendR2:
		return r.pdf, nil
	case BackendCloudinary:
		return r.images, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", name)
	}
}

// objectKey builds "pdfs/{account}/{client}/{id}-{name}.pdf" style keys. The random id
// keeps two uploads with the same name apart.
func objectKey(in PutInput, id string) string {
	prefix := "images"
	ext := ".png"
	switch in.ContentType {
	case models.FileTypePDF:
		prefix, ext = "pdfs", ".pdf"
	case models.FileTypeJPEG:
		ext = ".jpg"
	}
	name := sanitizeName(in.Name)
	if name == "" {
		name = "document"
	}
	return path.Join(prefix, in.AccountID, in.ClientID, id+"-"+name+ext)
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteByte('-')
		}
	}
	return b.String()
}
