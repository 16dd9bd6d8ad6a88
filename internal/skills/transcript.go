package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// TranscriptSkill fetches one or more YouTube video transcripts, grounded
// on original_source's videos app transcript skill: a single invocation
// carries a "requests" array so multiple videos are processed in one tool
// call, and results are grouped back by request id (§8 seed test 3).
type TranscriptSkill struct {
	fetch func(ctx context.Context, videoID string, lang string) (string, error)
}

func NewTranscriptSkill(fetch func(ctx context.Context, videoID, lang string) (string, error)) *TranscriptSkill {
	return &TranscriptSkill{fetch: fetch}
}

func (s *TranscriptSkill) ID() string { return "transcript" }

type transcriptRequestItem struct {
	ID        string   `json:"id"`
	URL       string   `json:"url"`
	Languages []string `json:"languages,omitempty"`
}

type transcriptParams struct {
	Requests []transcriptRequestItem `json:"requests"`
}

// transcriptResult is one successful transcript fetch; the "type" field
// lets the client render it the same way other embed types are rendered.
type transcriptResult struct {
	Type       string `json:"type"`
	URL        string `json:"url"`
	Transcript string `json:"transcript"`
	Language   string `json:"language,omitempty"`
}

// transcriptGroup is one request's results, grouped by id so the caller
// can match each response back to the request that produced it without
// repeating the id on every result.
type transcriptGroup struct {
	ID      string              `json:"id"`
	Results []transcriptResult `json:"results"`
}

type transcriptResponse struct {
	Results []transcriptGroup `json:"results"`
	Error   string            `json:"error,omitempty"`
}

// Execute runs every request in the batch and returns a single JSON
// object grouping results by request id. A request that fails (invalid
// URL, rejected Shorts link, fetch error) contributes an empty results
// list for its id; the first such failure's error is surfaced in the
// response's top-level "error" field — the batch as a whole never fails
// outright for one bad URL among several (§4.5, §8 seed test 3).
func (s *TranscriptSkill) Execute(ctx context.Context, raw json.RawMessage) (string, error) {
	var p transcriptParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", fmt.Errorf("decoding transcript params: %w", err)
	}
	if len(p.Requests) == 0 {
		return "", fmt.Errorf("requests array must contain at least one request")
	}

	resp := transcriptResponse{Results: make([]transcriptGroup, 0, len(p.Requests))}
	var firstErr string

	for _, r := range p.Requests {
		group := transcriptGroup{ID: r.ID, Results: []transcriptResult{}}

		videoID, err := extractYouTubeVideoID(r.URL)
		if err != nil {
			if firstErr == "" {
				firstErr = fmt.Sprintf("URL '%s' (id: %s): %s", r.URL, r.ID, err.Error())
			}
			resp.Results = append(resp.Results, group)
			continue
		}

		lang := "en"
		if len(r.Languages) > 0 && r.Languages[0] != "" {
			lang = r.Languages[0]
		}
		transcript, err := s.fetch(ctx, videoID, lang)
		if err != nil {
			if firstErr == "" {
				firstErr = fmt.Sprintf("URL '%s' (id: %s): %s", r.URL, r.ID, err.Error())
			}
			resp.Results = append(resp.Results, group)
			continue
		}

		group.Results = append(group.Results, transcriptResult{
			Type:       "transcript_result",
			URL:        r.URL,
			Transcript: transcript,
			Language:   lang,
		})
		resp.Results = append(resp.Results, group)
	}

	resp.Error = firstErr
	out, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("encoding transcript response: %w", err)
	}
	return string(out), nil
}

// extractYouTubeVideoID validates a YouTube URL and extracts its video
// id, rejecting Shorts links outright. Grounded on original_source's
// TranscriptRequestItem.validate_youtube_url: only youtube.com/watch?v=ID
// and youtu.be/ID (11-character id) are accepted.
func extractYouTubeVideoID(rawURL string) (string, error) {
	if rawURL == "" {
		return "", fmt.Errorf("url is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid YouTube URL: '%s' - error parsing URL: %v", rawURL, err)
	}
	host := strings.ToLower(parsed.Hostname())

	if strings.Contains(host, "youtube") && strings.Contains(parsed.Path, "/shorts/") {
		return "", fmt.Errorf("invalid YouTube URL: '%s' - YouTube Shorts URLs are not supported. Please use a regular YouTube video URL (youtube.com/watch?v=VIDEO_ID or youtu.be/VIDEO_ID)", rawURL)
	}

	if strings.Contains(host, "youtube") {
		if videoID := parsed.Query().Get("v"); videoID != "" {
			return videoID, nil
		}
	}

	if strings.Contains(host, "youtu.be") {
		videoID := strings.SplitN(strings.TrimPrefix(parsed.Path, "/"), "/", 2)[0]
		if len(videoID) == 11 {
			return videoID, nil
		}
	}

	return "", fmt.Errorf("invalid YouTube URL: '%s' - could not extract video id. Supported formats: youtube.com/watch?v=VIDEO_ID, youtu.be/VIDEO_ID. YouTube Shorts URLs are not supported", rawURL)
}
