package narrative

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiModel generates through the Google GenAI SDK. The client is created on
// first use.
type GeminiModel struct {
	apiKey string
	model  string

	once    sync.Once
	client  *genai.Client
	initErr error
}

func NewGeminiModel(apiKey, model string) *GeminiModel {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiModel{apiKey: strings.TrimSpace(apiKey), model: model}
}

func (m *GeminiModel) Name() string     { return "gemini:" + m.model }
func (m *GeminiModel) Configured() bool { return m.apiKey != "" }

func (m *GeminiModel) Complete(ctx context.Context, r Request) (string, error) {
	if !m.Configured() {
		return "", errors.New("gemini: api key not configured")
	}
	m.once.Do(func() {
		m.client, m.initErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  m.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	if m.initErr != nil {
		return "", fmt.Errorf("gemini: create client: %w", m.initErr)
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(r.System, genai.RoleUser),
		MaxOutputTokens:   int32(r.MaxTokens),
	}
	contents := []*genai.Content{genai.NewContentFromText(r.User, genai.RoleUser)}

	result, err := m.client.Models.GenerateContent(ctx, m.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini: generate: %w", err)
	}
	return result.Text(), nil
}
