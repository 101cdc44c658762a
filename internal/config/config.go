package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	SQLite SQLiteConfig
	HTTP   HTTPConfig
	Zulip  ZulipConfig
	LLM    LLMConfig
}

type SQLiteConfig struct {
	Path   string
	Tuning bool
}

type HTTPConfig struct {
	Addr        string
	CORSOrigins []string
	RateRPS     int
	RateBurst   int
	TrustProxy  bool
	AccessLog   bool
	// GenerateTimeoutSecs bounds one generate request. Zero means unbounded.
	GenerateTimeoutSecs int
}

type ZulipConfig struct {
	Realm     string
	Stream    string
	NumBefore int
	Email     string
	APIKey    string
	// Zuliprc is an optional path to a .zuliprc file. When set it wins over
	// Email and APIKey and is watched for changes.
	Zuliprc        string
	LegacyEmailEnv string
	LegacyKeyEnv   string
}

type LLMConfig struct {
	Provider         string
	Model            string
	MaxTokens        int
	AnthropicAPIKey  string
	AnthropicBaseURL string
	GeminiAPIKey     string
}

const (
	defaultSQLitePath = "journeys.db"
	defaultHTTPAddr   = ":8080"
	defaultRealm      = "https://recurse.zulipchat.com"
	defaultStream     = "checkins"
	defaultNumBefore  = 1000
	defaultProvider   = "anthropic"
	defaultMaxTokens  = 4096
	defaultRateRPS    = 20
	defaultRateBurst  = 40
)

// LoadDotEnv reads path (".env" when empty) into the process environment
// without overriding variables that are already set. A missing file is not an
// error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

func Load() Config {
	cfg := Config{}

	cfg.SQLite.Path = readString("RR_SQLITE_PATH", defaultSQLitePath)
	cfg.SQLite.Tuning = readBool("RR_SQLITE_TUNING", false)

	cfg.HTTP.Addr = readString("RR_HTTP_ADDR", defaultHTTPAddr)
	cfg.HTTP.CORSOrigins = splitList(os.Getenv("RR_HTTP_CORS_ORIGINS"))
	cfg.HTTP.RateRPS = readInt("RR_HTTP_RATE_RPS", defaultRateRPS)
	cfg.HTTP.RateBurst = readInt("RR_HTTP_RATE_BURST", defaultRateBurst)
	cfg.HTTP.TrustProxy = readBool("RR_HTTP_TRUST_PROXY", false)
	cfg.HTTP.AccessLog = readBool("RR_HTTP_ACCESS_LOG", true)
	cfg.HTTP.GenerateTimeoutSecs = readInt("RR_HTTP_GENERATE_TIMEOUT_SECS", 0)

	cfg.Zulip.Realm = readString("RR_ZULIP_REALM", defaultRealm)
	cfg.Zulip.Stream = readString("RR_ZULIP_STREAM", defaultStream)
	cfg.Zulip.NumBefore = readInt("RR_ZULIP_NUM_BEFORE", defaultNumBefore)
	cfg.Zulip.Zuliprc = strings.TrimSpace(os.Getenv("RR_ZULIPRC"))

	cfg.Zulip.Email = strings.TrimSpace(os.Getenv("RR_ZULIP_EMAIL"))
	if cfg.Zulip.Email == "" {
		cfg.Zulip.Email = strings.TrimSpace(os.Getenv("ZULIP_USERNAME"))
		if cfg.Zulip.Email != "" {
			cfg.Zulip.LegacyEmailEnv = "ZULIP_USERNAME"
		}
	}
	cfg.Zulip.APIKey = strings.TrimSpace(os.Getenv("RR_ZULIP_API_KEY"))
	if cfg.Zulip.APIKey == "" {
		cfg.Zulip.APIKey = strings.TrimSpace(os.Getenv("ZULIP_API_KEY"))
		if cfg.Zulip.APIKey != "" {
			cfg.Zulip.LegacyKeyEnv = "ZULIP_API_KEY"
		}
	}

	cfg.LLM.Provider = strings.ToLower(readString("RR_LLM_PROVIDER", defaultProvider))
	cfg.LLM.Model = strings.TrimSpace(os.Getenv("RR_LLM_MODEL"))
	cfg.LLM.MaxTokens = readInt("RR_LLM_MAX_TOKENS", defaultMaxTokens)
	cfg.LLM.AnthropicAPIKey = firstEnv("RR_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	cfg.LLM.AnthropicBaseURL = strings.TrimSpace(os.Getenv("RR_ANTHROPIC_BASE_URL"))
	cfg.LLM.GeminiAPIKey = firstEnv("RR_GEMINI_API_KEY", "GEMINI_API_KEY")

	return cfg
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}

func readString(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\t', '\n':
			return true
		}
		return false
	})
	seen := make(map[string]struct{}, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// SplitList is the list parser used for env values, exposed for flag values.
func SplitList(raw string) []string { return splitList(raw) }

func readInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func readBool(name string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

// ZulipCredentialsSource names where Zulip credentials come from.
func (c Config) ZulipCredentialsSource() string {
	switch {
	case c.Zulip.Zuliprc != "":
		return "zuliprc"
	case c.Zulip.Email != "" && c.Zulip.APIKey != "":
		return "env"
	default:
		return "none"
	}
}

func (c Config) Summary() Summary {
	return Summary{
		SQLitePath:   c.SQLite.Path,
		HTTPAddr:     c.HTTP.Addr,
		ZulipRealm:   c.Zulip.Realm,
		ZulipStream:  c.Zulip.Stream,
		Credentials:  c.ZulipCredentialsSource(),
		LLMProvider:  c.LLM.Provider,
		LLMModel:     c.LLM.Model,
		LLMMaxTokens: c.LLM.MaxTokens,
		LLMKeySet:    c.llmKey() != "",
	}
}

type Summary struct {
	SQLitePath   string `json:"sqlite_path"`
	HTTPAddr     string `json:"http_addr"`
	ZulipRealm   string `json:"zulip_realm"`
	ZulipStream  string `json:"zulip_stream"`
	Credentials  string `json:"zulip_credentials"`
	LLMProvider  string `json:"llm_provider"`
	LLMModel     string `json:"llm_model,omitempty"`
	LLMMaxTokens int    `json:"llm_max_tokens"`
	LLMKeySet    bool   `json:"llm_key_set"`
}

func (c Config) llmKey() string {
	if c.LLM.Provider == "gemini" {
		return c.LLM.GeminiAPIKey
	}
	return c.LLM.AnthropicAPIKey
}

func (c Config) Redacted() map[string]any {
	return map[string]any{
		"sqlite": map[string]any{
			"path":   c.SQLite.Path,
			"tuning": c.SQLite.Tuning,
		},
		"http": map[string]any{
			"addr":                  c.HTTP.Addr,
			"cors_origins":          append([]string(nil), c.HTTP.CORSOrigins...),
			"rate_rps":              c.HTTP.RateRPS,
			"rate_burst":            c.HTTP.RateBurst,
			"trust_proxy":           c.HTTP.TrustProxy,
			"access_log":            c.HTTP.AccessLog,
			"generate_timeout_secs": c.HTTP.GenerateTimeoutSecs,
		},
		"zulip": map[string]any{
			"realm":      c.Zulip.Realm,
			"stream":     c.Zulip.Stream,
			"num_before": c.Zulip.NumBefore,
			"email":      c.Zulip.Email,
			"api_key":    redactString(c.Zulip.APIKey),
			"zuliprc":    c.Zulip.Zuliprc,
		},
		"llm": map[string]any{
			"provider":           c.LLM.Provider,
			"model":              c.LLM.Model,
			"max_tokens":         c.LLM.MaxTokens,
			"anthropic_api_key":  redactString(c.LLM.AnthropicAPIKey),
			"anthropic_base_url": c.LLM.AnthropicBaseURL,
			"gemini_api_key":     redactString(c.LLM.GeminiAPIKey),
		},
	}
}

func (c Config) RedactedJSON() []byte {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return data
}

func redactString(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "***REDACTED*** (len=" + strconv.Itoa(len(value)) + ")"
}

func (c Config) SummaryJSON() []byte {
	summary := struct {
		Config Summary `json:"config_summary"`
	}{Config: c.Summary()}
	data, _ := json.Marshal(summary)
	return data
}
