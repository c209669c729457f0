package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/file-vault/internal/errs"
	"github.com/and161185/file-vault/internal/model"
)

// FileRepo implements FileRepository using PostgreSQL.
type FileRepo struct{ db *DB }

// NewFileRepo constructs a file repository.
func NewFileRepo(db *DB) *FileRepo { return &FileRepo{db: db} }

// Create inserts a record and stores the generated id into f.ID.
func (r *FileRepo) Create(ctx context.Context, f *model.StoredFile) error {
	const q = `
INSERT INTO secure_files
  (storage_name, original_file_name, content_type, file_size, ciphertext, nonce, uploaded_at, download_key, owner_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING id`
	var id int64
	err := r.db.Pool.QueryRow(ctx, q,
		f.StorageName, f.OriginalFileName, f.ContentType, f.FileSize,
		f.Ciphertext, f.Nonce, f.UploadedAt, f.DownloadKey, nullable(f.OwnerID),
	).Scan(&id)
	if err != nil {
		return err
	}
	f.ID = id
	return nil
}

// Get returns a single record by id, ciphertext included.
func (r *FileRepo) Get(ctx context.Context, id int64) (*model.StoredFile, error) {
	const q = `
SELECT id, storage_name, original_file_name, content_type, file_size, ciphertext, nonce, uploaded_at, download_key, COALESCE(owner_id, '')
FROM secure_files WHERE id=$1`
	var f model.StoredFile
	err := r.db.Pool.QueryRow(ctx, q, id).Scan(
		&f.ID, &f.StorageName, &f.OriginalFileName, &f.ContentType, &f.FileSize,
		&f.Ciphertext, &f.Nonce, &f.UploadedAt, &f.DownloadKey, &f.OwnerID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

// List returns metadata of all records, or of one owner's records, newest first.
func (r *FileRepo) List(ctx context.Context, ownerID string) ([]model.StoredFile, error) {
	const (
		all = `
SELECT id, storage_name, original_file_name, content_type, file_size, uploaded_at, download_key, COALESCE(owner_id, '')
FROM secure_files
ORDER BY uploaded_at DESC, id DESC`
		byOwner = `
SELECT id, storage_name, original_file_name, content_type, file_size, uploaded_at, download_key, COALESCE(owner_id, '')
FROM secure_files
WHERE owner_id=$1
ORDER BY uploaded_at DESC, id DESC`
	)

	var (
		rows pgx.Rows
		err  error
	)
	if ownerID == "" {
		rows, err = r.db.Pool.Query(ctx, all)
	} else {
		rows, err = r.db.Pool.Query(ctx, byOwner, ownerID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.StoredFile{}
	for rows.Next() {
		var f model.StoredFile
		if err = rows.Scan(&f.ID, &f.StorageName, &f.OriginalFileName, &f.ContentType,
			&f.FileSize, &f.UploadedAt, &f.DownloadKey, &f.OwnerID); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Delete removes the record; zero affected rows means it did not exist.
func (r *FileRepo) Delete(ctx context.Context, id int64) error {
	const q = `DELETE FROM secure_files WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Ping checks database connectivity.
func (r *FileRepo) Ping(ctx context.Context) error { return r.db.Pool.Ping(ctx) }

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
