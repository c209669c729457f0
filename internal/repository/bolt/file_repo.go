// Package bolt contains a bbolt-backed FileRepository for single-node deployments.
package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.etcd.io/bbolt"

	"github.com/and161185/file-vault/internal/errs"
	"github.com/and161185/file-vault/internal/model"
)

var bucketFiles = []byte("secure_files")

// FileRepo persists records in one bucket keyed by big-endian id.
type FileRepo struct {
	db *bbolt.DB
}

// Open opens or creates the database at path. The parent directory is
// created if it does not exist.
func Open(path string) (*FileRepo, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("bolt: create directory: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("bolt: open: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketFiles)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt: create bucket: %w", err)
	}
	return &FileRepo{db: db}, nil
}

// Close closes the underlying database.
func (r *FileRepo) Close() error { return r.db.Close() }

// Create stores f under the next bucket sequence and sets f.ID.
func (r *FileRepo) Create(ctx context.Context, f *model.StoredFile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		rec := *f
		rec.ID = int64(seq)
		data, err := encodeGob(rec)
		if err != nil {
			return fmt.Errorf("bolt: encode record: %w", err)
		}
		if err := b.Put(idKey(rec.ID), data); err != nil {
			return err
		}
		f.ID = rec.ID
		return nil
	})
}

// Get loads a record by id.
func (r *FileRepo) Get(ctx context.Context, id int64) (*model.StoredFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var f model.StoredFile
	err := r.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketFiles).Get(idKey(id))
		if data == nil {
			return errs.ErrNotFound
		}
		return decodeGob(data, &f)
	})
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// List scans the bucket, filters by owner and orders newest first.
func (r *FileRepo) List(ctx context.Context, ownerID string) ([]model.StoredFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []model.StoredFile{}
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFiles).ForEach(func(_, v []byte) error {
			var f model.StoredFile
			if err := decodeGob(v, &f); err != nil {
				return fmt.Errorf("bolt: decode record: %w", err)
			}
			if ownerID != "" && f.OwnerID != ownerID {
				return nil
			}
			out = append(out, f.Summary())
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].UploadedAt.After(out[j].UploadedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Delete removes the record in a single write transaction.
func (r *FileRepo) Delete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		k := idKey(id)
		if b.Get(k) == nil {
			return errs.ErrNotFound
		}
		return b.Delete(k)
	})
}

// Ping verifies a read transaction can be opened.
func (r *FileRepo) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.View(func(*bbolt.Tx) error { return nil })
}

func idKey(id int64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(id))
	return k
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
