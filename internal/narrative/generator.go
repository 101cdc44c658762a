// Package narrative turns a person's check-in messages into a journey payload
// by prompting a hosted text-generation model.
package narrative

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/you/recurse-review/internal/core"
)

// DefaultMaxTokens bounds the model's output.
const DefaultMaxTokens = 4096

const headLen = 200

// Request is one completion call.
type Request struct {
	System    string
	User      string
	MaxTokens int
}

// Model is a hosted text-generation backend.
type Model interface {
	Name() string
	// Configured reports whether credentials are present. Generator checks it
	// before sending anything.
	Configured() bool
	Complete(ctx context.Context, req Request) (string, error)
}

type Generator struct {
	model     Model
	maxTokens int
}

func NewGenerator(model Model, maxTokens int) *Generator {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Generator{model: model, maxTokens: maxTokens}
}

// Generate returns the candidate journey payload for person. The cards
// structure is not validated here; readers repair it with journey.Parse.
func (g *Generator) Generate(ctx context.Context, messages []core.Message, person string) (string, error) {
	const op = "generate journey"
	if g == nil || g.model == nil || !g.model.Configured() {
		return "", core.EP(core.KindConfiguration, op, person, errors.New("generation model credentials are not configured"))
	}

	user, err := UserPrompt(person, messages)
	if err != nil {
		return "", core.EP(core.KindGeneration, op, person, err)
	}

	slog.Info("narrative: requesting journey", "person", person, "messages", len(messages), "model", g.model.Name())
	text, err := g.model.Complete(ctx, Request{System: systemPrompt, User: user, MaxTokens: g.maxTokens})
	if err != nil {
		return "", core.EP(core.KindGeneration, op, person, err)
	}

	payload := ExtractPayload(text)
	if payload == "" {
		return "", core.EP(core.KindGeneration, op, person, errors.New("model returned an empty response"))
	}
	if !LooksLikePayload(payload) {
		slog.Warn("narrative: output may not be a journey object", "person", person, "head", head(payload))
	}
	slog.Info("narrative: journey generated", "person", person, "bytes", len(payload))
	return payload, nil
}

// ExtractPayload trims the response and removes a surrounding Markdown code
// fence, with or without a language tag.
func ExtractPayload(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		if tag := strings.TrimSpace(s[:nl]); !strings.ContainsAny(tag, "{<") {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// LooksLikePayload is the loose check for an object literal or a bare markup
// fragment.
func LooksLikePayload(s string) bool {
	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		return true
	}
	return strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">")
}

func head(s string) string {
	if len(s) <= headLen {
		return s
	}
	return s[:headLen]
}
