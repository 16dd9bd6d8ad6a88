// Package provider is the Provider Streaming Adapter (§4.4): one Go
// interface every upstream LLM provider implements, and a single tagged
// union (StreamChunk) every provider's output is normalized into before
// reaching the Task Runner. Grounded on eugener-gandalf's gjson-based SSE
// decoding and the teacher's provider-agnostic message shape in
// internal/models.
package provider

import (
	"context"
)

// ChunkType is the tag of the StreamChunk union.
type ChunkType string

const (
	ChunkText               ChunkType = "text"
	ChunkThinking           ChunkType = "thinking"
	ChunkThinkingSignature  ChunkType = "thinking_signature"
	ChunkToolCall           ChunkType = "tool_call"
	ChunkThinkingRedacted   ChunkType = "thinking_redacted"
	ChunkUsage              ChunkType = "usage"
)

// ToolCall is one invocation a model asked the skill fabric to perform.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments string          `json:"arguments"`
}

// Usage is the terminal accounting chunk; exactly one is emitted at the
// end of every stream, after any text/tool_call chunks (§4.4 ordering
// guarantee).
type Usage struct {
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Model        string `json:"model"`
}

// StreamChunk is the single sum type every provider's heterogeneous SSE
// stream is normalized into. Only one of the typed fields is populated,
// matching ChunkType.
type StreamChunk struct {
	Type ChunkType

	Text               string
	ThinkingDelta      string
	ThinkingSignature  string // base64, a continuation token carried verbatim across turns
	ToolCall           *ToolCall
	Usage              *Usage
}

// Message is the provider-agnostic chat turn the runner builds history
// from; providers translate it to their own wire format internally.
type Message struct {
	Role    string
	Content string
	// ToolCallID links a tool-result message back to the ToolCall.ID that
	// requested it; empty for plain user/assistant/system turns.
	ToolCallID string
}

// StreamRequest bundles everything a provider needs to start a
// completion stream.
type StreamRequest struct {
	Model       string
	Messages    []Message
	Tools       []ToolSchema
	MaxTokens   int
	// PriorSignature carries forward a thinking_signature from an earlier
	// turn, required by providers with extended-thinking continuation.
	PriorSignature string
}

// ToolSchema is the provider-facing declaration of one callable skill
// request shape, built from the Skill Execution Fabric's YAML manifests.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Provider is implemented once per upstream LLM vendor. Stream must close
// the returned channel when the upstream stream ends, whether
// successfully or on error, and must stop sending as soon as ctx is
// cancelled (whole-task revoke, §4.3).
type Provider interface {
	Name() string
	Stream(ctx context.Context, req StreamRequest) (<-chan StreamChunk, <-chan error)
}

// Registry resolves a model name to the provider that serves it.
type Registry struct {
	byModel map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{byModel: make(map[string]Provider)}
}

func (r *Registry) Register(modelPrefix string, p Provider) {
	r.byModel[modelPrefix] = p
}

func (r *Registry) Resolve(model string) (Provider, bool) {
	p, ok := r.byModel[model]
	return p, ok
}
