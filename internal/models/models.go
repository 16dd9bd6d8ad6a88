// Package models holds the shared domain types every other package in this
// module operates on. Fields mirror the wire contract in SPEC_FULL.md's
// External Interfaces section; anything prefixed encrypted_/hashed_ is
// opaque ciphertext or a SHA-256 hash as far as this package is concerned —
// no type in here ever holds plaintext chat content.
package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the minimal server-side identity record. Authentication and
// profile management live outside this core (an external identity
// provider); all this module needs is the owner reference and the Transit
// key used to wrap server-side-accessible artifacts.
type User struct {
	ID         uuid.UUID `json:"id"`
	VaultKeyID string    `json:"vault_key_id"`
}

// UserIDHash returns SHA256(user_id) hex-encoded, the only user reference
// ever stored alongside ciphertext.
func UserIDHash(id uuid.UUID) string {
	return sha256Hex(id.String())
}

// Chat is a conversation container owned by exactly one user.
type Chat struct {
	ID                     uuid.UUID `json:"id"`
	HashedUserID           string    `json:"hashed_user_id"`
	EncryptedTitle         string    `json:"encrypted_title"`
	EncryptedChatKey       string    `json:"encrypted_chat_key"`
	EncryptedActiveFocusID *string   `json:"encrypted_active_focus_id,omitempty"`
	EncryptedCategory      string    `json:"encrypted_category"`
	EncryptedSummary       string    `json:"encrypted_summary"`
	EncryptedTagList       string    `json:"encrypted_tag_list"`
	LastMessageTimestamp   time.Time `json:"last_message_timestamp"`
	Pinned                bool      `json:"pinned"`
	IsShared              bool      `json:"is_shared"`
	IsPrivate             bool      `json:"is_private"`

	MessagesV int64 `json:"messages_v"`
	TitleV    int64 `json:"title_v"`
	FocusV    int64 `json:"focus_v"`
}

// ChatVersionComponent names one of the chat's monotonic counters.
type ChatVersionComponent string

const (
	VersionMessages ChatVersionComponent = "messages_v"
	VersionTitle    ChatVersionComponent = "title_v"
	VersionFocus    ChatVersionComponent = "focus_v"
)

// MessageRole is one of the three roles the server is allowed to read.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message belongs to exactly one chat. Only Role and CreatedAt are ever
// plaintext on the server; EncryptedContent is opaque ciphertext.
type Message struct {
	ID               uuid.UUID   `json:"id"`
	HashedMessageID  string      `json:"hashed_message_id"`
	HashedChatID     string      `json:"hashed_chat_id"`
	HashedUserID     string      `json:"hashed_user_id"`
	Role             MessageRole `json:"role"`
	EncryptedContent string      `json:"encrypted_content"`
	CreatedAt        time.Time   `json:"created_at"`
}

// EncryptionMode determines whether the server can ever decrypt an embed.
type EncryptionMode string

const (
	EncryptionClient EncryptionMode = "client"
	EncryptionVault  EncryptionMode = "vault"
)

// EmbedStatus is the one-way lifecycle of a generated artifact, except the
// single permitted backward transition in_progress -> cancelled.
type EmbedStatus string

const (
	EmbedInProgress EmbedStatus = "in_progress"
	EmbedFinished   EmbedStatus = "finished"
	EmbedFailed     EmbedStatus = "failed"
	EmbedCancelled  EmbedStatus = "cancelled"
)

// CanTransitionEmbedStatus reports whether from -> to is a legal status
// transition: forward-only, except in_progress -> cancelled.
func CanTransitionEmbedStatus(from, to EmbedStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case EmbedInProgress:
		return to == EmbedFinished || to == EmbedFailed || to == EmbedCancelled
	default:
		return false
	}
}

// ShareMode indicates who else can see an embed beyond its owner.
type ShareMode string

const (
	ShareNone    ShareMode = "none"
	SharePrivate ShareMode = "private"
	ShareChat    ShareMode = "chat"
)

// Embed is an artifact referenced from inside a message.
type Embed struct {
	ID               uuid.UUID      `json:"id"`
	EncryptionMode   EncryptionMode `json:"encryption_mode"`
	EncryptedContent string         `json:"encrypted_content"`
	HashedUserID     string         `json:"hashed_user_id"`
	HashedChatID     string         `json:"hashed_chat_id"`
	HashedMessageID  string         `json:"hashed_message_id"`
	ShareMode        ShareMode      `json:"share_mode"`
	ParentEmbedID    *uuid.UUID     `json:"parent_embed_id,omitempty"`
	VersionNumber    int            `json:"version_number"`
	ContentHash      string         `json:"content_hash"`
	Status           EmbedStatus    `json:"status"`
	TextLengthChars  int            `json:"text_length_chars"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// EmbedKeyType distinguishes the two access paths a wrapper can serve.
type EmbedKeyType string

const (
	KeyTypeMaster EmbedKeyType = "master"
	KeyTypeChat   EmbedKeyType = "chat"
)

// EmbedKeyWrapper links one embed to one access path. Multiple wrappers may
// exist per embed; they are append-only.
type EmbedKeyWrapper struct {
	HashedEmbedID     string       `json:"hashed_embed_id"`
	KeyType           EmbedKeyType `json:"key_type"`
	HashedChatID      *string      `json:"hashed_chat_id,omitempty"`
	EncryptedEmbedKey string       `json:"encrypted_embed_key"`
	HashedUserID      string       `json:"hashed_user_id"`
	CreatedAt         time.Time    `json:"created_at"`
}

// Validate rejects a wrapper with an unrecognised key_type or a missing
// chat id on a chat-scoped wrapper, independently of its siblings in the
// same store_embed_keys request.
func (w EmbedKeyWrapper) Validate() error {
	switch w.KeyType {
	case KeyTypeMaster:
		return nil
	case KeyTypeChat:
		if w.HashedChatID == nil || *w.HashedChatID == "" {
			return errInvalidWrapper("chat-scoped wrapper missing hashed_chat_id")
		}
		return nil
	default:
		return errInvalidWrapper("unrecognised key_type: " + string(w.KeyType))
	}
}

// UploadVariant names one rendered form of an uploaded image. Non-image
// uploads (PDFs) only ever have VariantOriginal.
type UploadVariant string

const (
	VariantOriginal UploadVariant = "original"
	VariantFull     UploadVariant = "full"
	VariantPreview  UploadVariant = "preview"
)

// UploadRecord is the durable trace of one admitted file, written by the
// Upload Service's narrow internal API call rather than directly — the
// service never touches the main data store (§4.8). Keyed per user so two
// users uploading identical bytes never collide on one Vault-wrapped key.
type UploadRecord struct {
	UserIDHash         string    `json:"user_id_hash"`
	ContentHash        string    `json:"content_hash"`
	EmbedID            uuid.UUID `json:"embed_id"`
	MimeType           string    `json:"mime_type"`
	SizeBytes          int64     `json:"size_bytes"`
	StorageKeyOriginal string    `json:"storage_key_original"`
	StorageKeyFull     string    `json:"storage_key_full,omitempty"`
	StorageKeyPreview  string    `json:"storage_key_preview,omitempty"`
	VaultWrappedAESKey string    `json:"vault_wrapped_aes_key"`
	AESNonceB64        string    `json:"aes_nonce_b64"`
	ScanClean          bool      `json:"scan_clean"`
	AIGenerated        *bool     `json:"ai_generated,omitempty"`
	PageCount          *int      `json:"page_count,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// S3Key picks the storage key for one rendered variant, falling back to the
// original when a variant was never generated (non-image uploads).
func (r UploadRecord) S3Key(variant UploadVariant) string {
	switch variant {
	case VariantFull:
		if r.StorageKeyFull != "" {
			return r.StorageKeyFull
		}
	case VariantPreview:
		if r.StorageKeyPreview != "" {
			return r.StorageKeyPreview
		}
	}
	return r.StorageKeyOriginal
}

// TaskStatus is the runner's lifecycle for one unit of AI work.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskStreaming TaskStatus = "streaming"
	TaskDone      TaskStatus = "completed"
	TaskCancelled TaskStatus = "cancelled"
	TaskFailed    TaskStatus = "failed"
)

// Task is a unit of AI work; TaskID doubles as the assistant message id.
type Task struct {
	TaskID  uuid.UUID  `json:"task_id"`
	ChatID  uuid.UUID  `json:"chat_id"`
	UserID  uuid.UUID  `json:"user_id"`
	AppTag  string     `json:"app_tag"`
	Status  TaskStatus `json:"status"`
	Revoked bool       `json:"revoked"`
	// ContinuationMessageID is set when this task replaces a prior task's
	// assistant bubble rather than starting a new one — e.g. the focus-mode
	// rejection race's client-wins path (§4.3, §8 seed test 4).
	ContinuationMessageID *uuid.UUID `json:"continuation_message_id,omitempty"`
}

// UsageEntry is an immutable billing record.
type UsageEntry struct {
	ID                    uuid.UUID  `json:"id"`
	UserIDHash            string     `json:"user_id_hash"`
	AppID                 string     `json:"app_id"`
	SkillID               string     `json:"skill_id"`
	EncryptedCreditsCosts string     `json:"encrypted_credits_costs_total"`
	EncryptedModelUsed    string     `json:"encrypted_model_used"`
	EncryptedInputTokens  string     `json:"encrypted_input_tokens"`
	EncryptedOutputTokens string     `json:"encrypted_output_tokens"`
	CreatedAt             time.Time  `json:"created_at"`
	ChatID                *uuid.UUID `json:"chat_id,omitempty"`
	MessageID             *uuid.UUID `json:"message_id,omitempty"`
	APIKeyHash            *string    `json:"api_key_hash,omitempty"`
}

// DeviceKey identifies one of a user's connections.
type DeviceKey struct {
	UserID            uuid.UUID
	DeviceFingerprint string
}
