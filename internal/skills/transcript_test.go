package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func stubFetch(transcripts map[string]string) func(ctx context.Context, videoID, lang string) (string, error) {
	return func(ctx context.Context, videoID, lang string) (string, error) {
		t, ok := transcripts[videoID]
		if !ok {
			return "", fmt.Errorf("no transcript for %s", videoID)
		}
		return t, nil
	}
}

func TestTranscriptSkillRejectsShortsURLButKeepsValidResult(t *testing.T) {
	// §8 seed test 3: one valid watch URL and one rejected Shorts URL in
	// the same batch; the valid request still produces a result, the
	// rejected one gets an empty results list and names itself in the
	// top-level error.
	skill := NewTranscriptSkill(stubFetch(map[string]string{
		"valid11char": "[00:00:00.000] hello world",
	}))

	params, err := json.Marshal(transcriptParams{
		Requests: []transcriptRequestItem{
			{ID: "a", URL: "https://youtu.be/valid11char"},
			{ID: "b", URL: "https://www.youtube.com/shorts/x"},
		},
	})
	if err != nil {
		t.Fatalf("marshaling params: %v", err)
	}

	out, err := skill.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	var resp transcriptResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("unmarshaling response: %v", err)
	}

	if len(resp.Results) != 2 {
		t.Fatalf("got %d result groups, want 2", len(resp.Results))
	}

	if resp.Results[0].ID != "a" || len(resp.Results[0].Results) != 1 {
		t.Fatalf("group 'a' = %+v, want one transcript result", resp.Results[0])
	}
	if resp.Results[0].Results[0].Type != "transcript_result" {
		t.Errorf("result type = %q, want %q", resp.Results[0].Results[0].Type, "transcript_result")
	}

	if resp.Results[1].ID != "b" || len(resp.Results[1].Results) != 0 {
		t.Fatalf("group 'b' = %+v, want empty results", resp.Results[1])
	}

	if resp.Error == "" {
		t.Fatal("expected a top-level error naming the rejected Shorts URL")
	}
	if !strings.Contains(resp.Error, "shorts/x") || !strings.Contains(resp.Error, "id: b") || !strings.Contains(resp.Error, "Shorts URLs are not supported") {
		t.Errorf("error %q does not name the offending id/URL clearly", resp.Error)
	}
}

func TestExtractYouTubeVideoIDAcceptedFormats(t *testing.T) {
	cases := []struct {
		url     string
		wantID  string
		wantErr bool
	}{
		{url: "https://www.youtube.com/watch?v=dQw4w9WgXcQ", wantID: "dQw4w9WgXcQ"},
		{url: "https://youtu.be/dQw4w9WgXcQ", wantID: "dQw4w9WgXcQ"},
		{url: "https://m.youtube.com/watch?v=dQw4w9WgXcQ", wantID: "dQw4w9WgXcQ"},
		{url: "https://www.youtube.com/shorts/dQw4w9WgXcQ", wantErr: true},
		{url: "not a url at all", wantErr: true},
		{url: "", wantErr: true},
	}
	for _, c := range cases {
		id, err := extractYouTubeVideoID(c.url)
		if c.wantErr {
			if err == nil {
				t.Errorf("extractYouTubeVideoID(%q) = %q, want error", c.url, id)
			}
			continue
		}
		if err != nil {
			t.Errorf("extractYouTubeVideoID(%q) unexpected error: %v", c.url, err)
			continue
		}
		if id != c.wantID {
			t.Errorf("extractYouTubeVideoID(%q) = %q, want %q", c.url, id, c.wantID)
		}
	}
}

func TestTranscriptSkillEmptyRequestsIsAnError(t *testing.T) {
	skill := NewTranscriptSkill(stubFetch(nil))
	_, err := skill.Execute(context.Background(), json.RawMessage(`{"requests":[]}`))
	if err == nil {
		t.Fatal("expected an error for an empty requests array")
	}
}
