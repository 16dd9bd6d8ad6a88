package models

import (
	"testing"

	"github.com/google/uuid"
)

func TestHashStringIsDeterministicAndLowercaseHex(t *testing.T) {
	h1 := HashString("user-id-1")
	h2 := HashString("user-id-1")
	if h1 != h2 {
		t.Error("HashString should be deterministic for the same input")
	}
	if HashString("user-id-1") == HashString("user-id-2") {
		t.Error("HashString should differ for different inputs")
	}
	if len(h1) != 64 {
		t.Errorf("len(hash) = %d, want 64 (hex-encoded SHA-256)", len(h1))
	}
}

func TestUserIDHashMatchesHashString(t *testing.T) {
	id := uuid.New()
	if UserIDHash(id) != HashString(id.String()) {
		t.Error("UserIDHash should just be HashString(id.String())")
	}
}

func TestCanTransitionEmbedStatus(t *testing.T) {
	cases := []struct {
		from, to EmbedStatus
		want     bool
	}{
		{EmbedInProgress, EmbedFinished, true},
		{EmbedInProgress, EmbedFailed, true},
		{EmbedInProgress, EmbedCancelled, true},
		{EmbedInProgress, EmbedInProgress, true},
		{EmbedFinished, EmbedInProgress, false},
		{EmbedFinished, EmbedFailed, false},
		{EmbedCancelled, EmbedInProgress, false},
		{EmbedFailed, EmbedFinished, false},
	}
	for _, c := range cases {
		if got := CanTransitionEmbedStatus(c.from, c.to); got != c.want {
			t.Errorf("CanTransitionEmbedStatus(%q, %q) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestEmbedKeyWrapperValidate(t *testing.T) {
	chatID := "hashed-chat-id"
	cases := []struct {
		name    string
		wrapper EmbedKeyWrapper
		wantErr bool
	}{
		{"master is always valid", EmbedKeyWrapper{KeyType: KeyTypeMaster}, false},
		{"chat with id is valid", EmbedKeyWrapper{KeyType: KeyTypeChat, HashedChatID: &chatID}, false},
		{"chat without id is invalid", EmbedKeyWrapper{KeyType: KeyTypeChat}, true},
		{"chat with empty id is invalid", EmbedKeyWrapper{KeyType: KeyTypeChat, HashedChatID: new(string)}, true},
		{"unknown key type is invalid", EmbedKeyWrapper{KeyType: "bogus"}, true},
	}
	for _, c := range cases {
		err := c.wrapper.Validate()
		if (err != nil) != c.wantErr {
			t.Errorf("%s: Validate() error = %v, wantErr %v", c.name, err, c.wantErr)
		}
	}
}

func TestUploadRecordS3Key(t *testing.T) {
	rec := UploadRecord{
		StorageKeyOriginal: "orig.bin",
		StorageKeyFull:     "full.jpg",
	}
	if got := rec.S3Key(VariantFull); got != "full.jpg" {
		t.Errorf("S3Key(full) = %q, want %q", got, "full.jpg")
	}
	if got := rec.S3Key(VariantPreview); got != "orig.bin" {
		t.Errorf("S3Key(preview) should fall back to original when ungenerated, got %q", got)
	}
	if got := rec.S3Key(VariantOriginal); got != "orig.bin" {
		t.Errorf("S3Key(original) = %q, want %q", got, "orig.bin")
	}
}
