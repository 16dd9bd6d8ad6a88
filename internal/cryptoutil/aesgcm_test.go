package cryptoutil

import (
	"bytes"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := NewAESKey()
	if err != nil {
		t.Fatalf("NewAESKey: %v", err)
	}
	plaintext := []byte("vault key id: transit/keys/user-42")

	sealed, err := Encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !IsEncrypted(sealed) {
		t.Error("Encrypt output should carry the enc: prefix")
	}

	got, err := Decrypt(key, sealed)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Decrypt = %q, want %q", got, plaintext)
	}
}

func TestDecryptRejectsUnprefixedValue(t *testing.T) {
	key, _ := NewAESKey()
	if _, err := Decrypt(key, "not-encrypted"); err == nil {
		t.Error("Decrypt should reject a value without the enc: prefix")
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	key1, _ := NewAESKey()
	key2, _ := NewAESKey()
	sealed, err := Encrypt(key1, []byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := Decrypt(key2, sealed); err == nil {
		t.Error("Decrypt with the wrong key should fail")
	}
}

func TestEncryptRawSharedNonceAcrossVariants(t *testing.T) {
	key, _ := NewAESKey()
	nonce, ct1, err := EncryptRaw(key, []byte("original bytes"))
	if err != nil {
		t.Fatalf("EncryptRaw: %v", err)
	}
	ct2, err := EncryptRawWithNonce(key, nonce, []byte("preview bytes"))
	if err != nil {
		t.Fatalf("EncryptRawWithNonce: %v", err)
	}

	got1, err := DecryptRaw(key, nonce, ct1)
	if err != nil || !bytes.Equal(got1, []byte("original bytes")) {
		t.Errorf("DecryptRaw(variant 1) = (%q, %v), want (\"original bytes\", nil)", got1, err)
	}
	got2, err := DecryptRaw(key, nonce, ct2)
	if err != nil || !bytes.Equal(got2, []byte("preview bytes")) {
		t.Errorf("DecryptRaw(variant 2) = (%q, %v), want (\"preview bytes\", nil)", got2, err)
	}
}

func TestEncryptRawWithNonceRejectsWrongSize(t *testing.T) {
	key, _ := NewAESKey()
	if _, err := EncryptRawWithNonce(key, []byte("short"), []byte("data")); err == nil {
		t.Error("EncryptRawWithNonce should reject a nonce of the wrong size")
	}
}

func TestDeriveKeyIsDeterministic(t *testing.T) {
	secret := []byte("server secret")
	salt := []byte("per-user salt")

	k1, err := DeriveKey(secret, salt, "embed-wrap")
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	k2, err := DeriveKey(secret, salt, "embed-wrap")
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Error("DeriveKey should be deterministic for the same secret/salt/info")
	}

	k3, err := DeriveKey(secret, salt, "different-info")
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	if bytes.Equal(k1, k3) {
		t.Error("DeriveKey should differ when info differs")
	}
	if len(k1) != 32 {
		t.Errorf("DeriveKey length = %d, want 32", len(k1))
	}
}
