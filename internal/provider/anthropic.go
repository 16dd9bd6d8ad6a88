package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/openmates/core/internal/apperr"
)

var logger = log.New(os.Stdout, "[provider] ", log.LstdFlags)

// AnthropicProvider streams Claude completions over SSE. Event field
// extraction uses gjson rather than full unmarshal into vendor structs,
// following eugener-gandalf's SSE decoding approach — event shapes vary
// per type and a handful of gjson.Get calls is simpler than a struct per
// event.
type AnthropicProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		apiKey:  apiKey,
		baseURL: "https://api.anthropic.com/v1/messages",
		client:  &http.Client{},
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Stream(ctx context.Context, req StreamRequest) (<-chan StreamChunk, <-chan error) {
	chunks := make(chan StreamChunk, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		body, err := buildAnthropicBody(req)
		if err != nil {
			errs <- apperr.Wrap(apperr.InvalidRequest, "building request body", err)
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
		if err != nil {
			errs <- apperr.Wrap(apperr.Infrastructure, "building http request", err)
			return
		}
		httpReq.Header.Set("content-type", "application/json")
		httpReq.Header.Set("x-api-key", p.apiKey)
		httpReq.Header.Set("anthropic-version", "2023-06-01")

		resp, err := p.client.Do(httpReq)
		if err != nil {
			errs <- apperr.Wrap(apperr.ProviderTransient, "transport", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := retryAfterOrDefault(resp.Header.Get("retry-after"))
			errs <- apperr.WrapRateLimited("provider rate limited", wait, fmt.Errorf("status %d", resp.StatusCode))
			return
		}
		if resp.StatusCode >= 400 {
			kind := apperr.ProviderPermanent
			if resp.StatusCode >= 500 {
				kind = apperr.ProviderTransient
			}
			errs <- apperr.New(kind, fmt.Sprintf("provider status %d", resp.StatusCode))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		var toolName, toolID string
		var toolArgs strings.Builder

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "" {
				continue
			}

			evtType := gjson.Get(data, "type").String()
			switch evtType {
			case "content_block_delta":
				deltaType := gjson.Get(data, "delta.type").String()
				switch deltaType {
				case "text_delta":
					chunks <- StreamChunk{Type: ChunkText, Text: gjson.Get(data, "delta.text").String()}
				case "thinking_delta":
					chunks <- StreamChunk{Type: ChunkThinking, ThinkingDelta: gjson.Get(data, "delta.thinking").String()}
				case "signature_delta":
					chunks <- StreamChunk{Type: ChunkThinkingSignature, ThinkingSignature: gjson.Get(data, "delta.signature").String()}
				case "input_json_delta":
					toolArgs.WriteString(gjson.Get(data, "delta.partial_json").String())
				}
			case "content_block_start":
				if gjson.Get(data, "content_block.type").String() == "tool_use" {
					toolName = gjson.Get(data, "content_block.name").String()
					toolID = gjson.Get(data, "content_block.id").String()
					toolArgs.Reset()
				}
				if gjson.Get(data, "content_block.type").String() == "redacted_thinking" {
					chunks <- StreamChunk{Type: ChunkThinkingRedacted}
				}
			case "content_block_stop":
				if toolName != "" {
					chunks <- StreamChunk{Type: ChunkToolCall, ToolCall: &ToolCall{
						ID: toolID, Name: toolName, Arguments: toolArgs.String(),
					}}
					toolName, toolID = "", ""
					toolArgs.Reset()
				}
			case "message_delta":
				out := int(gjson.Get(data, "usage.output_tokens").Int())
				chunks <- StreamChunk{Type: ChunkUsage, Usage: &Usage{
					OutputTokens: out,
					Model:        req.Model,
				}}
			case "message_start":
				in := int(gjson.Get(data, "message.usage.input_tokens").Int())
				if in > 0 {
					logger.Printf("stream start, input_tokens=%d", in)
				}
			}

			select {
			case <-ctx.Done():
				return
			default:
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- apperr.Wrap(apperr.ProviderTransient, "reading stream", err)
		}
	}()

	return chunks, errs
}

func retryAfterOrDefault(header string) time.Duration {
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func buildAnthropicBody(req StreamRequest) ([]byte, error) {
	type msg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	msgs := make([]msg, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, msg{Role: m.Role, Content: m.Content})
	}
	payload := map[string]interface{}{
		"model":      req.Model,
		"messages":   msgs,
		"max_tokens": req.MaxTokens,
		"stream":     true,
	}
	if len(req.Tools) > 0 {
		var tools []map[string]interface{}
		for _, t := range req.Tools {
			tools = append(tools, map[string]interface{}{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": t.Parameters,
			})
		}
		payload["tools"] = tools
	}
	return json.Marshal(payload)
}
