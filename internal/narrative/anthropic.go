package narrative

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const DefaultAnthropicModel = "claude-3-5-sonnet-20240620"

type AnthropicConfig struct {
	APIKey string
	// BaseURL overrides the API root, e.g. for a proxy. Empty uses the SDK
	// default.
	BaseURL string
	Model   string
	// Options are appended after the key and base URL.
	Options []option.RequestOption
}

// AnthropicModel generates through the Anthropic Messages API.
type AnthropicModel struct {
	apiKey string
	model  string
	client anthropic.Client
}

func NewAnthropicModel(cfg AnthropicConfig) *AnthropicModel {
	if cfg.Model == "" {
		cfg.Model = DefaultAnthropicModel
	}
	key := strings.TrimSpace(cfg.APIKey)
	opts := []option.RequestOption{option.WithAPIKey(key)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	opts = append(opts, cfg.Options...)
	return &AnthropicModel{
		apiKey: key,
		model:  cfg.Model,
		client: anthropic.NewClient(opts...),
	}
}

func (m *AnthropicModel) Name() string     { return "anthropic:" + m.model }
func (m *AnthropicModel) Configured() bool { return m.apiKey != "" }

func (m *AnthropicModel) Complete(ctx context.Context, r Request) (string, error) {
	if !m.Configured() {
		return "", errors.New("anthropic: api key not configured")
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.model),
		MaxTokens: int64(r.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(r.User)),
		},
	}
	if r.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: r.System}}
	}

	msg, err := m.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("anthropic: status %d: %w", apiErr.StatusCode, err)
		}
		return "", fmt.Errorf("anthropic: messages: %w", err)
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if msg.StopReason == anthropic.StopReasonMaxTokens {
		slog.Warn("anthropic: completion hit max_tokens", "model", m.model, "max_tokens", r.MaxTokens)
	}
	return out.String(), nil
}
