// Package llm implements the LLM Source capability (C7): three call shapes
// (fast, deep, extract) over whatever model provider is wired underneath,
// plus the tolerant-JSON and META-block extraction rules every caller of
// Extract depends on.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Message is one turn in a conversation, independent of provider wire format.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Usage reports token accounting for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Response is the result of a fast or deep call.
type Response struct {
	Text  string
	Usage Usage
}

// FallbackVisibleText is substituted when a response's visible text (after
// stripping any META block) is empty.
const FallbackVisibleText = "(no response)"

// Source is the capability the core consumes. fast routes to a cheap,
// quick model for chat-like tasks; deep routes to a more capable model for
// judging and reasoning inference; extract additionally parses the
// response as JSON into out, tolerating the formatting a model commonly
// produces despite being told to emit strict JSON.
type Source interface {
	Fast(ctx context.Context, systemPrompt string, messages []Message) (Response, error)
	Deep(ctx context.Context, systemPrompt string, messages []Message) (Response, error)
	Extract(ctx context.Context, systemPrompt string, messages []Message, out any) error
}

var metaBlockPattern = regexp.MustCompile(`(?s)<!--\s*META\s*(.*?)\s*META\s*-->`)
var htmlCommentPattern = regexp.MustCompile(`(?s)<!--.*?-->`)

// SplitMeta separates a response's visible text from an optional trailing
// `<!-- META { ... } META -->` block. If the block is present, the visible
// text is everything before it; the meta payload is the raw JSON-ish text
// inside. If absent, the visible text is the whole response with any HTML
// comments stripped. Empty visible text is replaced with FallbackVisibleText.
func SplitMeta(response string) (visible string, meta string, hasMeta bool) {
	if loc := metaBlockPattern.FindStringSubmatchIndex(response); loc != nil {
		visible = strings.TrimSpace(response[:loc[0]])
		meta = strings.TrimSpace(response[loc[2]:loc[3]])
		hasMeta = true
	} else {
		visible = strings.TrimSpace(htmlCommentPattern.ReplaceAllString(response, ""))
	}
	if visible == "" {
		visible = FallbackVisibleText
	}
	return visible, meta, hasMeta
}

var lineCommentPattern = regexp.MustCompile(`(?m)//[^\n]*$`)
var trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)

// TolerantJSON cleans up the most common ways a model fails to emit strict
// JSON — `//` line comments and trailing commas before a closing brace or
// bracket — then parses the result into out.
func TolerantJSON(raw string, out any) error {
	cleaned := lineCommentPattern.ReplaceAllString(raw, "")
	cleaned = trailingCommaPattern.ReplaceAllString(cleaned, "$1")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return fmt.Errorf("llm: empty extraction payload")
	}
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return fmt.Errorf("llm: parse extraction payload: %w", err)
	}
	return nil
}
