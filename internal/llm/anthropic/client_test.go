package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/monitor/internal/llm"
)

func minimalUsage() sdk.Usage {
	return sdk.Usage{InputTokens: 10, OutputTokens: 5}
}

func jsonMessageServer(t *testing.T, text string) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		w.Header().Set("Content-Type", "application/json")
		resp := sdk.Message{
			ID:         "msg_1",
			Type:       constant.Message("message"),
			Role:       constant.Assistant("assistant"),
			StopReason: sdk.StopReasonEndTurn,
			Content:    []sdk.ContentBlockUnion{{Type: "text", Text: text}},
			Usage:      minimalUsage(),
		}
		b, err := json.Marshal(resp)
		require.NoError(t, err)
		_, _ = w.Write(b)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFast_ReturnsAssembledText(t *testing.T) {
	srv := jsonMessageServer(t, "stay disciplined")
	c := New(Config{APIKey: "k", BaseURL: srv.URL}, srv.Client(), zerolog.Nop())

	resp, err := c.Fast(context.Background(), "system prompt", []llm.Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "stay disciplined", resp.Text)
	assert.Equal(t, 10, resp.Usage.PromptTokens)
	assert.Equal(t, 5, resp.Usage.CompletionTokens)
}

func TestDeep_RequestsTheDeepModel(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		resp := sdk.Message{
			Type: constant.Message("message"), Role: constant.Assistant("assistant"),
			StopReason: sdk.StopReasonEndTurn,
			Content:    []sdk.ContentBlockUnion{{Type: "text", Text: "ok"}},
			Usage:      minimalUsage(),
		}
		b, _ := json.Marshal(resp)
		_, _ = w.Write(b)
	}))
	t.Cleanup(srv.Close)

	c := New(Config{APIKey: "k", DeepModel: "claude-sonnet-test", BaseURL: srv.URL}, srv.Client(), zerolog.Nop())
	_, err := c.Deep(context.Background(), "", []llm.Message{{Role: "user", Content: "go deep"}})
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-test", gotBody["model"])
}

func TestCall_RejectsEmptyMessages(t *testing.T) {
	c := New(Config{APIKey: "k"}, http.DefaultClient, zerolog.Nop())
	_, err := c.Fast(context.Background(), "sys", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "messages required")
}

func TestExtract_ParsesJSONFromResponseText(t *testing.T) {
	srv := jsonMessageServer(t, `{"confidence": 0.8, "direction": "long"}`)
	c := New(Config{APIKey: "k", BaseURL: srv.URL}, srv.Client(), zerolog.Nop())

	var out struct {
		Confidence float64 `json:"confidence"`
		Direction  string  `json:"direction"`
	}
	err := c.Extract(context.Background(), "extract", []llm.Message{{Role: "user", Content: "go"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, 0.8, out.Confidence)
	assert.Equal(t, "long", out.Direction)
}

func TestNew_DefaultsModelsWhenUnset(t *testing.T) {
	c := New(Config{APIKey: "k"}, nil, zerolog.Nop())
	assert.Equal(t, "claude-3-5-haiku-latest", c.fastModel)
	assert.NotEmpty(t, c.deepModel)
}
