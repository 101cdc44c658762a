package zulip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/you/recurse-review/internal/core"
)

const (
	DefaultRealm     = "https://recurse.zulipchat.com"
	DefaultStream    = "checkins"
	DefaultNumBefore = 1000
	defaultUserAgent = "RecurseReviewApp/1.0"
)

var (
	messagesPath = "/api/v1/messages"
	usersMePath  = "/api/v1/users/me"
)

// Credentials authenticate against the Zulip REST API with basic auth.
type Credentials struct {
	Email  string
	APIKey string
}

// Valid reports whether both halves are present.
func (c Credentials) Valid() bool {
	return strings.TrimSpace(c.Email) != "" && strings.TrimSpace(c.APIKey) != ""
}

// CredentialsProvider returns the credentials to use for the next request.
type CredentialsProvider interface {
	ZulipCredentials() Credentials
}

// StaticCredentials is a CredentialsProvider that never changes.
type StaticCredentials Credentials

func (s StaticCredentials) ZulipCredentials() Credentials { return Credentials(s) }

type Config struct {
	Realm     string
	Stream    string
	NumBefore int
	UserAgent string
}

// Result is one bounded fetch of a person's check-in topic.
type Result struct {
	Messages  []core.Message
	AvatarURL string
}

type Client struct {
	cfg   Config
	creds CredentialsProvider
	HTTP  *http.Client
}

type messagesResponse struct {
	Result   string       `json:"result"`
	Msg      string       `json:"msg"`
	Messages []apiMessage `json:"messages"`
}

type apiMessage struct {
	ID             int64   `json:"id"`
	Timestamp      int64   `json:"timestamp"`
	Content        string  `json:"content"`
	SenderID       int64   `json:"sender_id"`
	SenderFullName string  `json:"sender_full_name"`
	AvatarURL      *string `json:"avatar_url"`
}

type narrowTerm struct {
	Operator string `json:"operator"`
	Operand  string `json:"operand"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("zulip: status %d %s", e.StatusCode, e.Status)
	}
	return fmt.Sprintf("zulip: status %d %s: %s", e.StatusCode, e.Status, e.Body)
}

// APIError is returned when the body reports result != "success".
type APIError struct {
	Msg string
}

func (e *APIError) Error() string { return "zulip: " + e.Msg }

func New(cfg Config, creds CredentialsProvider) *Client {
	if strings.TrimSpace(cfg.Realm) == "" {
		cfg.Realm = DefaultRealm
	}
	cfg.Realm = strings.TrimSuffix(strings.TrimSpace(cfg.Realm), "/")
	if strings.TrimSpace(cfg.Stream) == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.NumBefore <= 0 {
		cfg.NumBefore = DefaultNumBefore
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	return &Client{
		cfg:   cfg,
		creds: creds,
		HTTP:  &http.Client{},
	}
}

// Fetch runs FetchMessages with the provider's current credentials.
func (c *Client) Fetch(ctx context.Context, person string) (Result, error) {
	var creds Credentials
	if c.creds != nil {
		creds = c.creds.ZulipCredentials()
	}
	return c.FetchMessages(ctx, person, creds)
}

// FetchMessages returns up to NumBefore of the newest messages in the
// configured stream whose topic equals person.
func (c *Client) FetchMessages(ctx context.Context, person string, creds Credentials) (Result, error) {
	const op = "fetch messages"
	if !creds.Valid() {
		return Result{}, core.EP(core.KindConfiguration, op, person,
			errors.New("zulip credentials (email, api key) are not configured"))
	}

	endpoint, err := c.messagesURL(person)
	if err != nil {
		return Result{}, core.EP(core.KindSourceFetch, op, person, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}, core.EP(core.KindSourceFetch, op, person, fmt.Errorf("build request: %w", err))
	}
	req.SetBasicAuth(creds.Email, creds.APIKey)
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return Result{}, core.EP(core.KindSourceFetch, op, person, fmt.Errorf("do request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		serr := &StatusError{
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
			Body:       strings.TrimSpace(string(body)),
		}
		log.Printf("zulip: fetch topic=%q failed: %v", person, serr)
		return Result{}, core.EP(core.KindSourceFetch, op, person, serr)
	}

	var parsed messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, core.EP(core.KindSourceFetch, op, person, fmt.Errorf("decode response: %w", err))
	}
	if parsed.Result != "success" {
		msg := strings.TrimSpace(parsed.Msg)
		if msg == "" {
			msg = "result=" + parsed.Result
		}
		return Result{}, core.EP(core.KindSourceFetch, op, person, &APIError{Msg: msg})
	}

	messages := convertMessages(parsed.Messages)
	avatar := ExtractAvatar(messages, person)
	log.Printf("zulip: fetched %d messages for topic=%q", len(messages), person)
	return Result{Messages: messages, AvatarURL: avatar}, nil
}

// ValidateCredentials asks the server who creds belong to and returns the
// account's full name.
func (c *Client) ValidateCredentials(ctx context.Context, creds Credentials) (string, error) {
	if !creds.Valid() {
		return "", errors.New("zulip: credentials incomplete")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Realm+usersMePath, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(creds.Email, creds.APIKey)
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("validate status %d", resp.StatusCode)
	}
	var v struct {
		Result   string `json:"result"`
		Msg      string `json:"msg"`
		FullName string `json:"full_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if v.Result != "success" {
		return "", &APIError{Msg: v.Msg}
	}
	return v.FullName, nil
}

func (c *Client) messagesURL(person string) (string, error) {
	narrow, err := json.Marshal([]narrowTerm{
		{Operator: "stream", Operand: c.cfg.Stream},
		{Operator: "topic", Operand: person},
	})
	if err != nil {
		return "", fmt.Errorf("encode narrow: %w", err)
	}
	params := url.Values{}
	params.Set("anchor", "newest")
	params.Set("num_before", strconv.Itoa(c.cfg.NumBefore))
	params.Set("num_after", "0")
	params.Set("narrow", string(narrow))
	params.Set("apply_markdown", "false")
	return c.cfg.Realm + messagesPath + "?" + params.Encode(), nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func convertMessages(in []apiMessage) []core.Message {
	out := make([]core.Message, 0, len(in))
	for _, m := range in {
		msg := core.Message{
			ID:         m.ID,
			Timestamp:  m.Timestamp,
			Content:    m.Content,
			SenderID:   m.SenderID,
			SenderName: m.SenderFullName,
		}
		if m.AvatarURL != nil {
			msg.AvatarURL = strings.TrimSpace(*m.AvatarURL)
		}
		out = append(out, msg)
	}
	return out
}

// ExtractAvatar prefers the first message sent by person, then the first
// message overall. No messages means no avatar.
func ExtractAvatar(messages []core.Message, person string) string {
	if len(messages) == 0 {
		return ""
	}
	for _, m := range messages {
		if m.SenderName == person {
			if m.AvatarURL != "" {
				return m.AvatarURL
			}
			break
		}
	}
	return messages[0].AvatarURL
}
