// Package sqlite contains a SQLite-backed FileRepository using the pure Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/and161185/file-vault/internal/errs"
	"github.com/and161185/file-vault/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS secure_files (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	storage_name       TEXT    NOT NULL UNIQUE,
	original_file_name TEXT    NOT NULL,
	content_type       TEXT    NOT NULL,
	file_size          INTEGER NOT NULL CHECK (file_size > 0),
	ciphertext         BLOB    NOT NULL,
	nonce              TEXT    NOT NULL,
	uploaded_at        INTEGER NOT NULL,
	download_key       TEXT    NOT NULL,
	owner_id           TEXT
);
CREATE INDEX IF NOT EXISTS idx_secure_files_uploaded ON secure_files(uploaded_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_secure_files_owner ON secure_files(owner_id);
`

// FileRepo stores records in a single SQLite table. uploaded_at holds Unix
// nanoseconds in UTC.
type FileRepo struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*FileRepo, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("sqlite: create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: init schema: %w", err)
	}
	return &FileRepo{db: db}, nil
}

// Close closes the database.
func (r *FileRepo) Close() error { return r.db.Close() }

// Create inserts f and sets f.ID.
func (r *FileRepo) Create(ctx context.Context, f *model.StoredFile) error {
	res, err := r.db.ExecContext(ctx, `
INSERT INTO secure_files
 (storage_name, original_file_name, content_type, file_size, ciphertext, nonce, uploaded_at, download_key, owner_id)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.StorageName, f.OriginalFileName, f.ContentType, f.FileSize, f.Ciphertext, f.Nonce,
		f.UploadedAt.UTC().UnixNano(), f.DownloadKey, nullable(f.OwnerID))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	f.ID = id
	return nil
}

// Get returns the full record including ciphertext.
func (r *FileRepo) Get(ctx context.Context, id int64) (*model.StoredFile, error) {
	var (
		f     model.StoredFile
		at    int64
		owner sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
SELECT id, storage_name, original_file_name, content_type, file_size, ciphertext, nonce, uploaded_at, download_key, owner_id
FROM secure_files WHERE id = ?`, id).Scan(
		&f.ID, &f.StorageName, &f.OriginalFileName, &f.ContentType, &f.FileSize,
		&f.Ciphertext, &f.Nonce, &at, &f.DownloadKey, &owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	f.UploadedAt = time.Unix(0, at).UTC()
	f.OwnerID = owner.String
	return &f, nil
}

// List returns summaries without ciphertext, newest first.
func (r *FileRepo) List(ctx context.Context, ownerID string) ([]model.StoredFile, error) {
	const cols = `SELECT id, storage_name, original_file_name, content_type, file_size, uploaded_at, download_key, owner_id FROM secure_files`
	const order = ` ORDER BY uploaded_at DESC, id DESC`

	var (
		rows *sql.Rows
		err  error
	)
	if ownerID == "" {
		rows, err = r.db.QueryContext(ctx, cols+order)
	} else {
		rows, err = r.db.QueryContext(ctx, cols+` WHERE owner_id = ?`+order, ownerID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.StoredFile, 0)
	for rows.Next() {
		var (
			f     model.StoredFile
			at    int64
			owner sql.NullString
		)
		if err := rows.Scan(&f.ID, &f.StorageName, &f.OriginalFileName, &f.ContentType,
			&f.FileSize, &at, &f.DownloadKey, &owner); err != nil {
			return nil, err
		}
		f.UploadedAt = time.Unix(0, at).UTC()
		f.OwnerID = owner.String
		out = append(out, f)
	}
	return out, rows.Err()
}

// Delete removes the record. ErrNotFound when nothing was deleted.
func (r *FileRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM secure_files WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Ping checks the database connection.
func (r *FileRepo) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
