package config

import (
	"os"
	"path/filepath"
	"testing"
)

var configEnv = []string{
	"RR_SQLITE_PATH", "RR_SQLITE_TUNING", "RR_HTTP_ADDR", "RR_HTTP_CORS_ORIGINS",
	"RR_HTTP_RATE_RPS", "RR_HTTP_RATE_BURST", "RR_HTTP_TRUST_PROXY", "RR_HTTP_ACCESS_LOG", "RR_HTTP_GENERATE_TIMEOUT_SECS",
	"RR_ZULIP_REALM", "RR_ZULIP_STREAM", "RR_ZULIP_NUM_BEFORE", "RR_ZULIP_EMAIL", "RR_ZULIP_API_KEY",
	"RR_ZULIPRC", "ZULIP_USERNAME", "ZULIP_API_KEY", "RR_LLM_PROVIDER", "RR_LLM_MODEL",
	"RR_LLM_MAX_TOKENS", "RR_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY", "RR_ANTHROPIC_BASE_URL",
	"RR_GEMINI_API_KEY", "GEMINI_API_KEY",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range configEnv {
		t.Setenv(name, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()
	if cfg.SQLite.Path != "journeys.db" {
		t.Fatalf("unexpected sqlite path: %q", cfg.SQLite.Path)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("unexpected http addr: %q", cfg.HTTP.Addr)
	}
	if cfg.Zulip.Realm != "https://recurse.zulipchat.com" || cfg.Zulip.Stream != "checkins" || cfg.Zulip.NumBefore != 1000 {
		t.Fatalf("unexpected zulip defaults: %+v", cfg.Zulip)
	}
	if cfg.LLM.Provider != "anthropic" || cfg.LLM.MaxTokens != 4096 {
		t.Fatalf("unexpected llm defaults: %+v", cfg.LLM)
	}
	if !cfg.HTTP.AccessLog {
		t.Fatalf("expected access log on by default")
	}
	if cfg.ZulipCredentialsSource() != "none" {
		t.Fatalf("expected no credentials, got %q", cfg.ZulipCredentialsSource())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("RR_SQLITE_PATH", "/data/rc.db")
	t.Setenv("RR_SQLITE_TUNING", "true")
	t.Setenv("RR_HTTP_CORS_ORIGINS", "https://a.test, https://b.test,https://a.test")
	t.Setenv("RR_HTTP_RATE_RPS", "5")
	t.Setenv("RR_ZULIP_NUM_BEFORE", "250")
	t.Setenv("RR_ZULIP_EMAIL", "bot@rc.test")
	t.Setenv("RR_ZULIP_API_KEY", "zkey")
	t.Setenv("RR_LLM_PROVIDER", "Gemini")
	t.Setenv("RR_LLM_MAX_TOKENS", "bogus")
	t.Setenv("GEMINI_API_KEY", "gkey")

	cfg := Load()
	if cfg.SQLite.Path != "/data/rc.db" || !cfg.SQLite.Tuning {
		t.Fatalf("unexpected sqlite config: %+v", cfg.SQLite)
	}
	if len(cfg.HTTP.CORSOrigins) != 2 {
		t.Fatalf("expected deduped origins, got %v", cfg.HTTP.CORSOrigins)
	}
	if cfg.HTTP.RateRPS != 5 || cfg.HTTP.RateBurst != 40 {
		t.Fatalf("unexpected rate config: %+v", cfg.HTTP)
	}
	if cfg.Zulip.NumBefore != 250 {
		t.Fatalf("unexpected num before: %d", cfg.Zulip.NumBefore)
	}
	if cfg.LLM.Provider != "gemini" || cfg.LLM.GeminiAPIKey != "gkey" {
		t.Fatalf("unexpected llm config: %+v", cfg.LLM)
	}
	if cfg.LLM.MaxTokens != 4096 {
		t.Fatalf("expected invalid max tokens to fall back, got %d", cfg.LLM.MaxTokens)
	}
	if cfg.ZulipCredentialsSource() != "env" {
		t.Fatalf("expected env credentials, got %q", cfg.ZulipCredentialsSource())
	}
	if !cfg.Summary().LLMKeySet {
		t.Fatalf("expected llm key reported as set")
	}
}

func TestLegacyCredentialNames(t *testing.T) {
	clearEnv(t)
	t.Setenv("ZULIP_USERNAME", "legacy@rc.test")
	t.Setenv("ZULIP_API_KEY", "legacy-key")
	t.Setenv("ANTHROPIC_API_KEY", "akey")

	cfg := Load()
	if cfg.Zulip.Email != "legacy@rc.test" || cfg.Zulip.LegacyEmailEnv != "ZULIP_USERNAME" {
		t.Fatalf("expected legacy email, got %+v", cfg.Zulip)
	}
	if cfg.Zulip.APIKey != "legacy-key" || cfg.Zulip.LegacyKeyEnv != "ZULIP_API_KEY" {
		t.Fatalf("expected legacy key, got %+v", cfg.Zulip)
	}
	if cfg.LLM.AnthropicAPIKey != "akey" {
		t.Fatalf("expected anthropic key fallback, got %q", cfg.LLM.AnthropicAPIKey)
	}

	t.Setenv("RR_ZULIPRC", "/etc/rc/.zuliprc")
	if got := Load().ZulipCredentialsSource(); got != "zuliprc" {
		t.Fatalf("expected zuliprc to win, got %q", got)
	}
}

func TestRedactedSnapshot(t *testing.T) {
	cfg := Config{
		SQLite: SQLiteConfig{Path: "/data/rc.db"},
		Zulip:  ZulipConfig{Email: "bot@rc.test", APIKey: "secret-key"},
		LLM:    LLMConfig{Provider: "anthropic", AnthropicAPIKey: "sk-ant", GeminiAPIKey: ""},
	}

	redacted := cfg.Redacted()
	zulipRaw := redacted["zulip"].(map[string]any)
	if zulipRaw["api_key"].(string) != "***REDACTED*** (len=10)" {
		t.Fatalf("unexpected redacted zulip key: %v", zulipRaw["api_key"])
	}
	if zulipRaw["email"].(string) != "bot@rc.test" {
		t.Fatalf("expected email preserved")
	}
	llmRaw := redacted["llm"].(map[string]any)
	if llmRaw["anthropic_api_key"].(string) != "***REDACTED*** (len=6)" {
		t.Fatalf("unexpected redacted anthropic key: %v", llmRaw["anthropic_api_key"])
	}
	if llmRaw["gemini_api_key"].(string) != "" {
		t.Fatalf("expected empty gemini key to stay empty")
	}
	if redacted["sqlite"].(map[string]any)["path"].(string) != "/data/rc.db" {
		t.Fatalf("expected sqlite path preserved in redacted snapshot")
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	if err := LoadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}

	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("RR_LLM_MODEL=claude-test\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("RR_LLM_MODEL", "")
	os.Unsetenv("RR_LLM_MODEL")
	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := Load().LLM.Model; got != "claude-test" {
		t.Fatalf("expected model from .env, got %q", got)
	}
}
