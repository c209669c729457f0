// Package crypto implements the server-side file encryption engine and download keys.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/and161185/file-vault/internal/errs"
)

// AES-256-GCM parameters.
const (
	KeyLen   = 32
	NonceLen = 12
	TagLen   = 16
)

// KeyDerivation selects how the deployment secret becomes the AES key.
type KeyDerivation string

const (
	// KDFPad right-pads the secret with zeros to 32 bytes, truncating longer
	// secrets. Not a real KDF; kept for compatibility with existing ciphertext.
	KDFPad KeyDerivation = "pad"
	// KDFHKDF derives the key with HKDF-SHA256.
	KDFHKDF KeyDerivation = "hkdf"
)

const hkdfInfo = "file-vault aes-256-gcm"

// ParseKeyDerivation maps a config string to a KeyDerivation. Empty means KDFPad.
func ParseKeyDerivation(s string) (KeyDerivation, error) {
	switch KeyDerivation(s) {
	case "", KDFPad:
		return KDFPad, nil
	case KDFHKDF:
		return KDFHKDF, nil
	default:
		return "", fmt.Errorf("%w: unknown key derivation %q", errs.ErrInvalidArgument, s)
	}
}

// Engine encrypts and decrypts file payloads with one deployment-wide key.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	aead cipher.AEAD
}

// NewEngine builds an Engine from the deployment secret.
func NewEngine(secret []byte, kdf KeyDerivation) (*Engine, error) {
	if len(secret) == 0 {
		return nil, errors.New("crypto: empty secret")
	}
	key, err := deriveKey(secret, kdf)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCMWithTagSize(block, TagLen)
	if err != nil {
		return nil, err
	}
	return &Engine{aead: aead}, nil
}

func deriveKey(secret []byte, kdf KeyDerivation) ([]byte, error) {
	switch kdf {
	case "", KDFPad:
		return PadKey(secret), nil
	case KDFHKDF:
		r := hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo))
		key := make([]byte, KeyLen)
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, err
		}
		return key, nil
	default:
		return nil, fmt.Errorf("%w: unknown key derivation %q", errs.ErrInvalidArgument, kdf)
	}
}

// PadKey returns the first 32 bytes of secret, zero-padded when shorter.
func PadKey(secret []byte) []byte {
	key := make([]byte, KeyLen)
	copy(key, secret)
	return key
}

// Encrypt seals plaintext under a fresh random nonce. The nonce is returned
// base64-encoded for storage in a text column.
func (e *Engine) Encrypt(plaintext []byte) ([]byte, string, error) {
	nonce, err := RandBytes(NonceLen)
	if err != nil {
		return nil, "", err
	}
	ct := e.aead.Seal(nil, nonce, plaintext, nil)
	return ct, base64.StdEncoding.EncodeToString(nonce), nil
}

// Decrypt opens ciphertext produced by Encrypt. Any tag, key or nonce problem
// yields errs.ErrAuthenticationFailure and no plaintext.
func (e *Engine) Decrypt(ciphertext []byte, nonce string) ([]byte, error) {
	n, err := base64.StdEncoding.DecodeString(nonce)
	if err != nil || len(n) != NonceLen {
		return nil, errs.ErrAuthenticationFailure
	}
	pt, err := e.aead.Open(nil, n, ciphertext, nil)
	if err != nil {
		return nil, errs.ErrAuthenticationFailure
	}
	return pt, nil
}

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}
