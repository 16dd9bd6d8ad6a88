// Package modelselect implements the Model Selector & Override Parser
// (§4.10): the "@directive:value" grammar users can prefix a message
// with, and the leaderboard-driven model selection algorithm that picks a
// model when no override short-circuits it. Grounded on
// original_source's override_parser.py and model_selector.py, reworked
// into an explicit Go scanner instead of a regex pipeline.
package modelselect

import (
	"strings"
)

// DirectiveKind is one of the five recognised @-prefixed directives.
type DirectiveKind string

const (
	DirectiveAIModel   DirectiveKind = "ai-model"
	DirectiveBestModel DirectiveKind = "best-model"
	DirectiveMate      DirectiveKind = "mate"
	DirectiveSkill     DirectiveKind = "skill"
	DirectiveFocus     DirectiveKind = "focus"
)

var knownDirectives = map[string]DirectiveKind{
	"ai-model":   DirectiveAIModel,
	"best-model": DirectiveBestModel,
	"mate":       DirectiveMate,
	"skill":      DirectiveSkill,
	"focus":      DirectiveFocus,
}

// Override is one parsed "@directive:value" token.
type Override struct {
	Kind  DirectiveKind
	Value string
}

// ParseOverrides scans text for "@directive:value" tokens and returns the
// overrides found plus the text with those tokens removed. A literal "@"
// is produced by escaping it as "\@", which this parser unescapes back to
// "@" in the returned text without treating it as a directive.
//
// Round-trip law: ParseOverrides(Compose(overrides, text)) reproduces
// (overrides, text) — Compose is this parser's inverse, used by callers
// that need to re-serialize an edited override set.
func ParseOverrides(input string) ([]Override, string) {
	var overrides []Override
	var out strings.Builder
	i := 0
	n := len(input)

	for i < n {
		c := input[i]
		if c == '\\' && i+1 < n && input[i+1] == '@' {
			out.WriteByte('@')
			i += 2
			continue
		}
		if c != '@' {
			out.WriteByte(c)
			i++
			continue
		}

		// Try to parse a directive starting at i.
		rest := input[i+1:]
		colon := strings.IndexByte(rest, ':')
		if colon < 0 {
			out.WriteByte(c)
			i++
			continue
		}
		name := strings.ToLower(rest[:colon])
		kind, ok := knownDirectives[name]
		if !ok {
			out.WriteByte(c)
			i++
			continue
		}

		valueStart := colon + 1
		valueEnd := valueStart
		for valueEnd < len(rest) && !isDirectiveBoundary(rest[valueEnd]) {
			valueEnd++
		}
		value := rest[valueStart:valueEnd]

		overrides = append(overrides, Override{Kind: kind, Value: value})
		i += 1 + valueEnd
	}

	return overrides, strings.TrimSpace(out.String())
}

func isDirectiveBoundary(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '@'
}

// Compose is ParseOverrides's inverse: it re-serializes an override set as
// leading "@directive:value" tokens followed by the plain text, escaping
// any literal "@" already present in text.
func Compose(overrides []Override, text string) string {
	var b strings.Builder
	for _, o := range overrides {
		b.WriteString("@")
		b.WriteString(string(o.Kind))
		b.WriteString(":")
		b.WriteString(o.Value)
		b.WriteString(" ")
	}
	b.WriteString(strings.ReplaceAll(text, "@", "\\@"))
	return b.String()
}

// Find returns the value of the first override of the given kind, if any.
func Find(overrides []Override, kind DirectiveKind) (string, bool) {
	for _, o := range overrides {
		if o.Kind == kind {
			return o.Value, true
		}
	}
	return "", false
}
