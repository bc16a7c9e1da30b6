// Package cryptoutil encrypts mailbox refresh credentials at rest.
package cryptoutil

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
)

// ErrInvalidKey is returned when the configured master key is not exactly
// 32 raw bytes once base64-decoded.
var ErrInvalidKey = errors.New("cryptoutil: encryption key must decode to 32 bytes")

// Box encrypts and decrypts mailbox refresh credentials with AES-256-GCM.
// A mailbox-scoped subkey is derived from the master key via HKDF so that
// no two mailboxes ever reuse the same AEAD key, even if a nonce were ever
// to collide.
type Box struct {
	master []byte
}

// NewBox builds a Box from the base64-encoded 32-byte master key.
func NewBox(masterKeyB64 string) (*Box, error) {
	raw, err := base64.StdEncoding.DecodeString(masterKeyB64)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: decode master key: %w", err)
	}
	if len(raw) != 32 {
		return nil, ErrInvalidKey
	}
	return &Box{master: raw}, nil
}

// Seal encrypts plaintext under a subkey derived for mailboxID, returning
// nonce||ciphertext.
func (b *Box) Seal(mailboxID string, plaintext []byte) ([]byte, error) {
	gcm, err := b.aead(mailboxID)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cryptoutil: nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a nonce||ciphertext blob produced by Seal for mailboxID.
func (b *Box) Open(mailboxID string, blob []byte) ([]byte, error) {
	gcm, err := b.aead(mailboxID)
	if err != nil {
		return nil, err
	}
	if len(blob) < gcm.NonceSize() {
		return nil, errors.New("cryptoutil: ciphertext too short")
	}
	nonce, ct := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ct, nil)
}

func (b *Box) aead(mailboxID string) (cipher.AEAD, error) {
	subkey := make([]byte, 32)
	kdf := hkdf.New(sha256.New, b.master, nil, []byte("oss-journal-mailbox:"+mailboxID))
	if _, err := io.ReadFull(kdf, subkey); err != nil {
		return nil, fmt.Errorf("cryptoutil: derive subkey: %w", err)
	}
	block, err := aes.NewCipher(subkey)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: new cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
