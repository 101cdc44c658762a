// Package journey decodes stored journey payloads. Historical writers stored the
// payload as plain JSON, as a JSON string holding JSON, and as JSON whose HTML
// fragments carried unescaped or over-escaped quotes, so decoding walks an
// ordered list of textual repairs before giving up.
package journey

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Journey is the renderable narrative: an ordered list of markup fragments.
type Journey struct {
	Cards []string `json:"cards"`
}

// Empty returns the default journey rendered when nothing can be recovered.
func Empty() Journey {
	return Journey{Cards: []string{}}
}

// Strategy names the normalization that produced a successful decode.
type Strategy string

const (
	StrategyNone                 Strategy = ""
	StrategyEmpty                Strategy = "empty"
	StrategyDirect               Strategy = "direct"
	StrategyUnescapeQuotes       Strategy = "unescape_quotes"
	StrategyBackslashesAndQuotes Strategy = "unescape_backslashes_quotes"
	StrategyBackslashes          Strategy = "normalize_backslashes"
	StrategySingleQuotes         Strategy = "unescape_single_quotes"
	StrategyNewlines             Strategy = "escape_newlines"
	StrategyRequoteCards         Strategy = "requote_cards"
	StrategyCombined             Strategy = "combined"
)

// maxUnwrap bounds how many JSON string layers are peeled off a payload.
const maxUnwrap = 3

const logSnippetLen = 256

var (
	errRecoveryExhausted = errors.New("journey: recovery exhausted")
	errNotObject         = errors.New("journey: payload is not an object")
	errNoCards           = errors.New("journey: cards missing or not an array")
	errCardNotString     = errors.New("journey: card is not a string")
)

type transform struct {
	name  Strategy
	apply func(string) string
}

// transforms are applied independently to the original input, in order.
var transforms = []transform{
	{StrategyUnescapeQuotes, unescapeQuotes},
	{StrategyBackslashesAndQuotes, func(s string) string { return unescapeQuotes(normalizeBackslashes(s)) }},
	{StrategyBackslashes, normalizeBackslashes},
	{StrategySingleQuotes, func(s string) string { return strings.ReplaceAll(s, `\'`, `'`) }},
	{StrategyNewlines, escapeControlInStrings},
	{StrategyRequoteCards, requoteCards},
	{StrategyCombined, combined},
}

// Parse never fails: unrecoverable input yields Empty().
func Parse(raw string) Journey {
	j, _, err := ParseWithStrategy(raw)
	if err != nil {
		slog.Warn("journey: unrecoverable payload, rendering empty journey",
			"raw", snippet(raw),
			"err", err,
		)
		return Empty()
	}
	return j
}

// ParseWithStrategy reports which normalization recovered raw. On failure it
// returns Empty() and an error wrapping the last decode error.
func ParseWithStrategy(raw string) (Journey, Strategy, error) {
	if strings.TrimSpace(raw) == "" {
		return Empty(), StrategyEmpty, nil
	}

	j, lastErr := decode(raw, 0)
	if lastErr == nil {
		return j, StrategyDirect, nil
	}

	for _, t := range transforms {
		candidate := t.apply(raw)
		if candidate == raw {
			continue
		}
		j, err := decode(candidate, 0)
		if err == nil {
			return j, t.name, nil
		}
		lastErr = err
	}

	return Empty(), StrategyNone, fmt.Errorf("%w: %v", errRecoveryExhausted, lastErr)
}

// Canonical serializes j in the single encoding new writers should use.
func Canonical(j Journey) string {
	if j.Cards == nil {
		j.Cards = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(j); err != nil {
		return `{"cards":[]}`
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// DecodeCards strictly decodes a submitted journey. Cards may be bare
// strings or objects carrying the fragment in "html".
func DecodeCards(data []byte) (Journey, error) {
	var in struct {
		Cards []json.RawMessage `json:"cards"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return Journey{}, fmt.Errorf("journey: decode: %w", err)
	}
	if in.Cards == nil {
		return Journey{}, errNoCards
	}
	j := Journey{Cards: make([]string, 0, len(in.Cards))}
	for i, raw := range in.Cards {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			j.Cards = append(j.Cards, s)
			continue
		}
		var obj struct {
			HTML *string `json:"html"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil || obj.HTML == nil {
			return Journey{}, fmt.Errorf("card %d: %w", i, errCardNotString)
		}
		j.Cards = append(j.Cards, *obj.HTML)
	}
	return j, nil
}

func decode(text string, depth int) (Journey, error) {
	var v any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &v); err != nil {
		return Journey{}, err
	}
	switch val := v.(type) {
	case string:
		if depth >= maxUnwrap {
			return Journey{}, errNotObject
		}
		return decode(val, depth+1)
	case map[string]any:
		return validate(val)
	default:
		return Journey{}, errNotObject
	}
}

func validate(obj map[string]any) (Journey, error) {
	rawCards, ok := obj["cards"].([]any)
	if !ok {
		return Journey{}, errNoCards
	}
	cards := make([]string, 0, len(rawCards))
	for _, c := range rawCards {
		s, ok := c.(string)
		if !ok {
			return Journey{}, errCardNotString
		}
		cards = append(cards, s)
	}
	return Journey{Cards: cards}, nil
}

func unescapeQuotes(s string) string {
	return strings.ReplaceAll(s, `\"`, `"`)
}

func normalizeBackslashes(s string) string {
	return strings.ReplaceAll(s, `\\`, `\`)
}

func combined(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return escapeControlInStrings(unescapeQuotes(normalizeBackslashes(s)))
}

// escapeControlInStrings re-escapes raw newlines, carriage returns and tabs that
// appear inside JSON string literals and leaves structural whitespace alone.
func escapeControlInStrings(s string) string {
	var (
		b        strings.Builder
		inString bool
		escaped  bool
	)
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case escaped:
			escaped = false
			b.WriteRune(r)
		case inString && r == '\\':
			escaped = true
			b.WriteRune(r)
		case r == '"':
			inString = !inString
			b.WriteRune(r)
		case inString && r == '\n':
			b.WriteString(`\n`)
		case inString && r == '\r':
			b.WriteString(`\r`)
		case inString && r == '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// requoteCards handles `{"cards":["<div class="x">..</div>", ...]}` where the
// fragments were written without escaping their attribute quotes. Fragments are
// split on the `", "` boundary between array items.
func requoteCards(s string) string {
	trimmed := strings.TrimSpace(s)
	start := strings.Index(trimmed, "[")
	end := strings.LastIndex(trimmed, "]")
	if start < 0 || end <= start {
		return s
	}
	head := strings.TrimSpace(trimmed[:start])
	tail := strings.TrimSpace(trimmed[end+1:])
	if !strings.HasPrefix(head, "{") || !strings.HasSuffix(strings.TrimSpace(strings.TrimSuffix(head, ":")), `"cards"`) || tail != "}" {
		return s
	}

	inner := strings.TrimSpace(trimmed[start+1 : end])
	if len(inner) < 2 || inner[0] != '"' || inner[len(inner)-1] != '"' {
		return s
	}
	inner = inner[1 : len(inner)-1]

	parts := splitCardItems(inner)
	cards := make([]string, 0, len(parts))
	for _, p := range parts {
		cards = append(cards, strings.ReplaceAll(p, `\"`, `"`))
	}
	return Canonical(Journey{Cards: cards})
}

func splitCardItems(inner string) []string {
	var (
		out   []string
		start int
	)
	for i := 0; i < len(inner); i++ {
		if inner[i] != '"' {
			continue
		}
		j := i + 1
		for j < len(inner) && (inner[j] == ' ' || inner[j] == '\n' || inner[j] == '\r' || inner[j] == '\t') {
			j++
		}
		if j >= len(inner) || inner[j] != ',' {
			continue
		}
		j++
		for j < len(inner) && (inner[j] == ' ' || inner[j] == '\n' || inner[j] == '\r' || inner[j] == '\t') {
			j++
		}
		if j < len(inner) && inner[j] == '"' {
			out = append(out, inner[start:i])
			start = j + 1
			i = j
		}
	}
	return append(out, inner[start:])
}

func snippet(s string) string {
	if len(s) <= logSnippetLen {
		return s
	}
	return s[:logSnippetLen] + "..."
}
