// Package anthropic adapts github.com/anthropics/anthropic-sdk-go to
// llm.Source's fast/deep/extract call shapes.
package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	"github.com/marketpulse/monitor/internal/llm"
)

const defaultMaxTokens int64 = 1024

// Config selects the fast and deep models plus optional prompt-prefix
// caching of the system prompt.
type Config struct {
	APIKey         string
	FastModel      string
	DeepModel      string
	CacheSystem    bool
	RequestTimeout time.Duration
	BaseURL        string // override for testing; empty uses the SDK's default endpoint
}

// Client implements llm.Source.
type Client struct {
	sdk       sdk.Client
	fastModel string
	deepModel string
	cacheSys  bool
	maxTokens int64
	log       zerolog.Logger
}

// New builds a Client. httpClient may be nil to use http.DefaultClient.
func New(cfg Config, httpClient *http.Client, log zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	fast := cfg.FastModel
	if fast == "" {
		fast = "claude-3-5-haiku-latest"
	}
	deep := cfg.DeepModel
	if deep == "" {
		deep = string(sdk.ModelClaude3_7SonnetLatest)
	}
	return &Client{
		sdk:       sdk.NewClient(opts...),
		fastModel: fast,
		deepModel: deep,
		cacheSys:  cfg.CacheSystem,
		maxTokens: defaultMaxTokens,
		log:       log.With().Str("component", "llm.anthropic").Logger(),
	}
}

// Fast implements llm.Source.
func (c *Client) Fast(ctx context.Context, systemPrompt string, messages []llm.Message) (llm.Response, error) {
	return c.call(ctx, c.fastModel, systemPrompt, messages)
}

// Deep implements llm.Source.
func (c *Client) Deep(ctx context.Context, systemPrompt string, messages []llm.Message) (llm.Response, error) {
	return c.call(ctx, c.deepModel, systemPrompt, messages)
}

// Extract implements llm.Source: a deep call whose caller is responsible
// for instructing the model to emit a single JSON object; the response is
// parsed tolerantly via llm.TolerantJSON after stripping any META block.
func (c *Client) Extract(ctx context.Context, systemPrompt string, messages []llm.Message, out any) error {
	resp, err := c.call(ctx, c.deepModel, systemPrompt, messages)
	if err != nil {
		return err
	}
	visible, _, _ := llm.SplitMeta(resp.Text)
	return llm.TolerantJSON(visible, out)
}

func (c *Client) call(ctx context.Context, model, systemPrompt string, messages []llm.Message) (llm.Response, error) {
	if len(messages) == 0 {
		return llm.Response{}, fmt.Errorf("llm/anthropic: messages required")
	}

	var system []sdk.TextBlockParam
	if strings.TrimSpace(systemPrompt) != "" {
		block := sdk.TextBlockParam{Text: systemPrompt}
		if c.cacheSys {
			block.CacheControl = sdk.CacheControlEphemeralParam{TTL: sdk.CacheControlEphemeralTTLTTL5m}
		}
		system = append(system, block)
	}

	converted := make([]sdk.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch strings.ToLower(m.Role) {
		case "assistant":
			converted = append(converted, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			converted = append(converted, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		Messages:  converted,
		System:    system,
		MaxTokens: c.maxTokens,
	}

	start := time.Now()
	resp, err := c.sdk.Messages.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		c.log.Error().Err(err).Str("model", model).Dur("duration", dur).Msg("anthropic call failed")
		return llm.Response{}, fmt.Errorf("llm/anthropic: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(sdk.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}

	promptTokens := int(resp.Usage.CacheCreationInputTokens + resp.Usage.CacheReadInputTokens + resp.Usage.InputTokens)
	completionTokens := int(resp.Usage.OutputTokens)
	c.log.Debug().Str("model", model).Dur("duration", dur).Int("prompt_tokens", promptTokens).Int("completion_tokens", completionTokens).Msg("anthropic call ok")

	return llm.Response{
		Text:  sb.String(),
		Usage: llm.Usage{PromptTokens: promptTokens, CompletionTokens: completionTokens},
	}, nil
}
