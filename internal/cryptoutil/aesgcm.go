// Package cryptoutil provides the AES-256-GCM encrypt/decrypt helpers and
// HKDF key derivation used wherever this module needs to hold a
// server-side key itself (upload-service envelope keys, embed key
// wrapping) — never for chat/message content, which is always encrypted
// client-side before it reaches the server.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// EncryptedPrefix marks a string as AES-256-GCM ciphertext produced by this
// package, mirroring the "enc:" convention used elsewhere in the pack for
// at-rest encrypted fields.
const EncryptedPrefix = "enc:"

// Encrypt seals plaintext under key (must be 32 bytes) and returns
// "enc:<base64(nonce||ciphertext)>".
func Encrypt(key, plaintext []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("creating GCM: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. It is an error to call it on a value without
// the EncryptedPrefix.
func Decrypt(key []byte, value string) ([]byte, error) {
	if !IsEncrypted(value) {
		return nil, fmt.Errorf("value is not in enc: form")
	}
	raw, err := base64.StdEncoding.DecodeString(value[len(EncryptedPrefix):])
	if err != nil {
		return nil, fmt.Errorf("decoding base64: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	if len(raw) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ct := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	return plaintext, nil
}

// IsEncrypted reports whether value carries the enc: prefix.
func IsEncrypted(value string) bool {
	return len(value) > len(EncryptedPrefix) && value[:len(EncryptedPrefix)] == EncryptedPrefix
}

// EncryptRaw is like Encrypt but returns the detached nonce and ciphertext,
// used by the Upload Service where the nonce must be shared across image
// variants encrypted under one AES key.
func EncryptRaw(key, plaintext []byte) (nonce, ciphertext []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("creating GCM: %w", err)
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}
	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return nonce, ciphertext, nil
}

// EncryptRawWithNonce is like EncryptRaw but takes a caller-supplied nonce,
// used to seal sibling variants of one file under the nonce EncryptRaw
// already minted for the first variant (upload-service image/PDF
// variants). Callers must never reuse the nonce across distinct files.
func EncryptRawWithNonce(key, nonce, plaintext []byte) (ciphertext []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes", gcm.NonceSize())
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nil
}

// DecryptRaw reverses EncryptRaw given the same key and nonce.
func DecryptRaw(key, nonce, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// NewAESKey generates a fresh random 256-bit key.
func NewAESKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return key, nil
}

// DeriveKey derives a 32-byte key from secret and a context-specific info
// string via HKDF-SHA256, so one secret can yield distinct keys per context
// without a fresh random key for each.
func DeriveKey(secret, salt []byte, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, salt, []byte(info))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	return key, nil
}
