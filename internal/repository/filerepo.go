// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/file-vault/internal/model"
)

// FileRepository persists stored file records. Implementations rely on the
// backend's single-row atomicity; callers add no locking of their own.
type FileRepository interface {
	// Create inserts f and sets f.ID to the identifier assigned by the backend.
	Create(ctx context.Context, f *model.StoredFile) error

	// Get loads one record including ciphertext and nonce.
	// Returns errs.ErrNotFound when the id is unknown.
	Get(ctx context.Context, id int64) (*model.StoredFile, error)

	// List returns records without ciphertext or nonce, newest upload first.
	// An empty ownerID lists every record.
	List(ctx context.Context, ownerID string) ([]model.StoredFile, error)

	// Delete removes the record permanently. Returns errs.ErrNotFound when
	// nothing was removed.
	Delete(ctx context.Context, id int64) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}
