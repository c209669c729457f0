// Package service contains the file custody service: upload, authorized
// retrieval, listing and deletion of encrypted file records.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/file-vault/internal/crypto"
	"github.com/and161185/file-vault/internal/errs"
	"github.com/and161185/file-vault/internal/model"
	"github.com/and161185/file-vault/internal/repository"
)

// DefaultContentType is stored when the uploader supplies no MIME type.
const DefaultContentType = "application/octet-stream"

// FileService defines the lifecycle of stored file records.
type FileService interface {
	// Upload encrypts content and persists a new record with a fresh download key.
	Upload(ctx context.Context, content []byte, originalName, contentType, ownerID string) (*model.StoredFile, error)
	// Retrieve checks key and owner, then returns the decrypted content.
	Retrieve(ctx context.Context, id int64, suppliedKey, callerID string) (*model.Download, error)
	// GetDownloadKey returns the stored key of a record.
	GetDownloadKey(ctx context.Context, id int64) (string, error)
	// List returns record summaries, newest first, optionally for one owner.
	List(ctx context.Context, ownerID string) ([]model.StoredFile, error)
	// Delete removes a record after the owner check.
	Delete(ctx context.Context, id int64, callerID string) error
}

// Cipher is the encryption engine used by the service.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, string, error)
	Decrypt(ciphertext []byte, nonce string) ([]byte, error)
}

type FileServiceImpl struct {
	repo       repository.FileRepository
	cipher     Cipher
	ownerCheck bool
	now        func() time.Time
	newKey     func() (string, error)
	newName    func() (string, error)
	log        *zap.Logger
}

// Option configures FileServiceImpl.
type Option func(*FileServiceImpl)

// WithOwnerCheck toggles the owner identity check on Retrieve and Delete.
// It is on by default.
func WithOwnerCheck(on bool) Option { return func(s *FileServiceImpl) { s.ownerCheck = on } }

// WithClock overrides the upload timestamp source.
func WithClock(now func() time.Time) Option { return func(s *FileServiceImpl) { s.now = now } }

// WithKeyGenerator overrides download key generation.
func WithKeyGenerator(gen func() (string, error)) Option {
	return func(s *FileServiceImpl) { s.newKey = gen }
}

// WithLogger sets the logger for lifecycle events.
func WithLogger(l *zap.Logger) Option { return func(s *FileServiceImpl) { s.log = l } }

// NewFileService constructs FileService over a repository and an encryption engine.
func NewFileService(repo repository.FileRepository, c Cipher, opts ...Option) *FileServiceImpl {
	s := &FileServiceImpl{
		repo:       repo,
		cipher:     c,
		ownerCheck: true,
		now:        func() time.Time { return time.Now().UTC() },
		newKey:     crypto.GenerateDownloadKey,
		newName:    newStorageName,
		log:        zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func newStorageName() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Upload validates the payload, encrypts it and stores the record.
// The returned record carries the repository-assigned ID.
func (s *FileServiceImpl) Upload(ctx context.Context, content []byte, originalName, contentType, ownerID string) (*model.StoredFile, error) {
	if len(content) == 0 {
		return nil, errs.ErrEmptyPayload
	}
	name, err := s.newName()
	if err != nil {
		return nil, fmt.Errorf("storage name: %w", err)
	}
	key, err := s.newKey()
	if err != nil {
		return nil, fmt.Errorf("download key: %w", err)
	}
	ct, nonce, err := s.cipher.Encrypt(content)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}
	if originalName == "" {
		originalName = name
	}
	if contentType == "" {
		contentType = DefaultContentType
	}

	f := &model.StoredFile{
		StorageName:      name,
		OriginalFileName: originalName,
		ContentType:      contentType,
		FileSize:         int64(len(content)),
		Ciphertext:       ct,
		Nonce:            nonce,
		UploadedAt:       s.now(),
		DownloadKey:      key,
		OwnerID:          ownerID,
	}
	if err := s.repo.Create(ctx, f); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	s.log.Info("file stored", zap.Int64("id", f.ID), zap.Int64("size", f.FileSize))
	return f, nil
}

// Retrieve returns plaintext only after the key and owner checks pass.
// A decryption failure is returned as errs.ErrAuthenticationFailure.
func (s *FileServiceImpl) Retrieve(ctx context.Context, id int64, suppliedKey, callerID string) (*model.Download, error) {
	f, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !crypto.KeysEqual(f.DownloadKey, suppliedKey) {
		return nil, errs.ErrUnauthorized
	}
	if err := s.authorizeOwner(f, callerID); err != nil {
		return nil, err
	}
	pt, err := s.cipher.Decrypt(f.Ciphertext, f.Nonce)
	if err != nil {
		s.log.Warn("decrypt failed", zap.Int64("id", id), zap.Error(err))
		return nil, err
	}
	return &model.Download{Content: pt, FileName: f.OriginalFileName, ContentType: f.ContentType}, nil
}

// GetDownloadKey lets the transport pre-check a key before privileged operations.
func (s *FileServiceImpl) GetDownloadKey(ctx context.Context, id int64) (string, error) {
	f, err := s.repo.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return f.DownloadKey, nil
}

// List returns summaries without ciphertext.
func (s *FileServiceImpl) List(ctx context.Context, ownerID string) ([]model.StoredFile, error) {
	fs, err := s.repo.List(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	for i := range fs {
		fs[i] = fs[i].Summary()
	}
	return fs, nil
}

// Delete removes the record permanently once the owner check passes.
func (s *FileServiceImpl) Delete(ctx context.Context, id int64, callerID string) error {
	f, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorizeOwner(f, callerID); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("file deleted", zap.Int64("id", id))
	return nil
}

// authorizeOwner fails when owner checks are on, the record has an owner and
// the caller is someone else.
func (s *FileServiceImpl) authorizeOwner(f *model.StoredFile, callerID string) error {
	if !s.ownerCheck || f.OwnerID == "" {
		return nil
	}
	if f.OwnerID != callerID {
		return errs.ErrUnauthorized
	}
	return nil
}
