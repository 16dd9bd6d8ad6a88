package modelselect

import (
	"reflect"
	"testing"
)

func TestParseOverridesBasic(t *testing.T) {
	overrides, text := ParseOverrides("@ai-model:claude-3-opus summarize this please")
	if len(overrides) != 1 {
		t.Fatalf("got %d overrides, want 1", len(overrides))
	}
	if overrides[0].Kind != DirectiveAIModel || overrides[0].Value != "claude-3-opus" {
		t.Errorf("override = %+v, want {ai-model claude-3-opus}", overrides[0])
	}
	if text != "summarize this please" {
		t.Errorf("text = %q, want %q", text, "summarize this please")
	}
}

func TestParseOverridesMultipleDirectives(t *testing.T) {
	overrides, text := ParseOverrides("@mate:research @skill:transcript fetch the video summary")
	if len(overrides) != 2 {
		t.Fatalf("got %d overrides, want 2", len(overrides))
	}
	if overrides[0].Kind != DirectiveMate || overrides[0].Value != "research" {
		t.Errorf("override[0] = %+v", overrides[0])
	}
	if overrides[1].Kind != DirectiveSkill || overrides[1].Value != "transcript" {
		t.Errorf("override[1] = %+v", overrides[1])
	}
	if text != "fetch the video summary" {
		t.Errorf("text = %q", text)
	}
}

func TestParseOverridesUnknownDirectiveIsLiteralText(t *testing.T) {
	overrides, text := ParseOverrides("@unknown:value hello")
	if len(overrides) != 0 {
		t.Fatalf("got %d overrides, want 0 for an unrecognised directive", len(overrides))
	}
	if text != "@unknown:value hello" {
		t.Errorf("text = %q, want the input unchanged", text)
	}
}

func TestParseOverridesEscapedAt(t *testing.T) {
	_, text := ParseOverrides(`reach me \@ support@example.com`)
	if text != "reach me @ support@example.com" {
		t.Errorf("text = %q, want escaped @ to unescape and bare @ to pass through", text)
	}
}

func TestParseOverridesNoDirectives(t *testing.T) {
	overrides, text := ParseOverrides("just plain text")
	if len(overrides) != 0 {
		t.Errorf("got %d overrides, want 0", len(overrides))
	}
	if text != "just plain text" {
		t.Errorf("text = %q, want unchanged", text)
	}
}

func TestComposeParseRoundTrip(t *testing.T) {
	overrides := []Override{
		{Kind: DirectiveFocus, Value: "research"},
		{Kind: DirectiveBestModel, Value: "premium"},
	}
	text := "what's the latest on quantum computing?"

	composed := Compose(overrides, text)
	gotOverrides, gotText := ParseOverrides(composed)

	if !reflect.DeepEqual(gotOverrides, overrides) {
		t.Errorf("round trip overrides = %+v, want %+v", gotOverrides, overrides)
	}
	if gotText != text {
		t.Errorf("round trip text = %q, want %q", gotText, text)
	}
}

func TestFind(t *testing.T) {
	overrides := []Override{
		{Kind: DirectiveMate, Value: "research"},
		{Kind: DirectiveSkill, Value: "transcript"},
	}
	if v, ok := Find(overrides, DirectiveSkill); !ok || v != "transcript" {
		t.Errorf("Find(skill) = (%q, %v), want (\"transcript\", true)", v, ok)
	}
	if _, ok := Find(overrides, DirectiveAIModel); ok {
		t.Error("Find(ai-model) should report false when absent")
	}
}
