// Package vault encrypts provider tokens at rest.
//
// Ciphertexts are base64(nonce || tag || ciphertext) using AES-256-GCM with a
// 96-bit nonce and a 128-bit tag. The AES key is derived from the process
// master key with HKDF-SHA256.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/apperr"
)

const (
	nonceSize = 12
	tagSize   = 16
	keySize   = 32
	hkdfInfo  = "noc-orquestrador/provider-token/v1"
)

// ErrInvalidSecret is returned when a ciphertext is malformed, truncated,
// tampered with or sealed under another key.
var ErrInvalidSecret = errors.New("vault: invalid secret")

type Vault struct {
	aead cipher.AEAD
	rand io.Reader
}

// New derives the encryption key from masterKey.
func New(masterKey string) (*Vault, error) {
	if masterKey == "" {
		return nil, apperr.Configuration("vault", "master key is empty")
	}
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(masterKey), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("vault: derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	return &Vault{aead: aead, rand: rand.Reader}, nil
}

// Encrypt seals plain under a fresh random nonce.
func (v *Vault) Encrypt(plain string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(v.rand, nonce); err != nil {
		return "", apperr.Wrap(apperr.KindCrypto, "vault encrypt", err)
	}
	sealed := v.aead.Seal(nil, nonce, []byte(plain), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	out := make([]byte, 0, nonceSize+tagSize+len(ct))
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, ct...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a value produced by Encrypt.
func (v *Vault) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil || len(raw) < nonceSize+tagSize+1 {
		return "", invalid()
	}
	nonce, tag, ct := raw[:nonceSize], raw[nonceSize:nonceSize+tagSize], raw[nonceSize+tagSize:]

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)
	plain, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", invalid()
	}
	return string(plain), nil
}

func invalid() error {
	return &apperr.Error{Kind: apperr.KindCrypto, Op: "vault decrypt", Message: ErrInvalidSecret.Error(), Err: ErrInvalidSecret}
}

// Hint returns a display-safe fragment of secret: first4...last4, or all
// asterisks for secrets of 8 characters or fewer.
func Hint(secret string) string {
	r := []rune(secret)
	if len(r) <= 8 {
		return strings.Repeat("*", len(r))
	}
	return string(r[:4]) + "..." + string(r[len(r)-4:])
}
