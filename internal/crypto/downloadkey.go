package crypto

import (
	"crypto/rand"
	"crypto/subtle"
)

// Download keys are 6 characters from [A-Z0-9]: about 31 bits of entropy.
// That is brute-forceable against an unthrottled endpoint; callers treat the
// key as a convenience secret, not a credential.
const (
	DownloadKeyLen      = 6
	DownloadKeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// largest multiple of 36 that fits in a byte; bytes at or above it are rejected
const maxUnbiased = 256 - 256%len(DownloadKeyAlphabet)

// GenerateDownloadKey returns a fresh key with each character drawn
// independently and uniformly from DownloadKeyAlphabet.
func GenerateDownloadKey() (string, error) {
	out := make([]byte, 0, DownloadKeyLen)
	buf := make([]byte, 2*DownloadKeyLen)
	for len(out) < DownloadKeyLen {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= maxUnbiased {
				continue
			}
			out = append(out, DownloadKeyAlphabet[int(b)%len(DownloadKeyAlphabet)])
			if len(out) == DownloadKeyLen {
				break
			}
		}
	}
	return string(out), nil
}

// KeysEqual compares two download keys in constant time.
func KeysEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
