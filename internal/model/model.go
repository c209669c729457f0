// Package model defines domain entities used by services and repositories.
package model

import "time"

// StoredFile is one uploaded file: metadata plus its ciphertext.
type StoredFile struct {
	ID               int64     // assigned by the repository on Create
	StorageName      string    // internal unique name, never shown as download filename
	OriginalFileName string    // user-supplied display name
	ContentType      string    // MIME type as supplied by the uploader
	FileSize         int64     // plaintext length in bytes
	Ciphertext       []byte    // AEAD output, tag appended
	Nonce            string    // base64 nonce used for Ciphertext
	UploadedAt       time.Time // immutable creation time
	DownloadKey      string    // 6-char [A-Z0-9] secret, set once
	OwnerID          string    // empty when the upload had no owner
}

// Summary returns a copy without ciphertext and nonce, safe for listings.
func (f StoredFile) Summary() StoredFile {
	f.Ciphertext = nil
	f.Nonce = ""
	return f
}

// Download is the result of an authorized retrieval.
type Download struct {
	Content     []byte
	FileName    string
	ContentType string
}
