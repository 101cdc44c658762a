package credentials

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/you/recurse-review/internal/zulip"
)

const sampleRC = `
# generated by Zulip
[api]
email=bot@recurse.example
key = abc123
site=https://recurse.zulipchat.com

[other]
email=ignored@example
`

func TestParseZuliprc(t *testing.T) {
	rc, err := ParseZuliprc(strings.NewReader(sampleRC))
	if err != nil {
		t.Fatalf("ParseZuliprc: %v", err)
	}
	if rc.Email != "bot@recurse.example" || rc.Key != "abc123" || rc.Site != "https://recurse.zulipchat.com" {
		t.Fatalf("unexpected rc: %+v", rc)
	}
}

func TestParseZuliprcIncomplete(t *testing.T) {
	_, err := ParseZuliprc(strings.NewReader("[api]\nemail=bot@example\n"))
	if !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
}

func TestParseZuliprcQuotingAndCase(t *testing.T) {
	const rc = "; comment\n[API]\nEmail = \"bot@recurse.example\"\nKEY='abc#123'\n"
	got, err := ParseZuliprc(strings.NewReader(rc))
	if err != nil {
		t.Fatalf("ParseZuliprc: %v", err)
	}
	if got.Email != "bot@recurse.example" || got.Key != "abc#123" || got.Site != "" {
		t.Fatalf("unexpected rc: %+v", got)
	}
}

func TestParseZuliprcMissingSection(t *testing.T) {
	_, err := ParseZuliprc(strings.NewReader("[other]\nemail=a\nkey=b\n"))
	if !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
}

func TestFileLoaderReportsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".zuliprc")
	writeRC(t, path, "bot@one", "k1")

	l := NewFileLoader(path)
	if _, changed, err := l.Load(); err != nil || !changed {
		t.Fatalf("first load: changed=%v err=%v", changed, err)
	}
	if _, changed, err := l.Load(); err != nil || changed {
		t.Fatalf("second load: changed=%v err=%v", changed, err)
	}
	writeRC(t, path, "bot@two", "k2")
	rc, changed, err := l.Load()
	if err != nil || !changed || rc.Email != "bot@two" {
		t.Fatalf("third load: rc=%+v changed=%v err=%v", rc, changed, err)
	}
}

type stubValidator struct {
	err error
}

func (s stubValidator) ValidateCredentials(context.Context, zulip.Credentials) (string, error) {
	return "Review Bot", s.err
}

func TestManagerReloadKeepsOldOnFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".zuliprc")
	writeRC(t, path, "bot@one", "k1")

	m := NewManager(zulip.Credentials{Email: "env@example", APIKey: "envkey"}, NewFileLoader(path), nil)
	if got := m.ZulipCredentials().Email; got != "env@example" {
		t.Fatalf("expected static seed, got %q", got)
	}
	email, err := m.Reload()
	if err != nil || email != "bot@one" {
		t.Fatalf("Reload: email=%q err=%v", email, err)
	}

	if err := os.WriteFile(path, []byte("[api]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Reload(); err == nil {
		t.Fatalf("expected reload error on incomplete file")
	}
	if got := m.ZulipCredentials(); got.Email != "bot@one" || got.APIKey != "k1" {
		t.Fatalf("expected previous credentials kept, got %+v", got)
	}
}

func TestManagerReloadRejectsInvalidCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".zuliprc")
	writeRC(t, path, "bot@one", "k1")

	m := NewManager(zulip.Credentials{}, NewFileLoader(path), stubValidator{err: errors.New("401")})
	if _, err := m.Reload(); err == nil {
		t.Fatalf("expected validation error")
	}
	if m.ZulipCredentials().Valid() {
		t.Fatalf("expected credentials unchanged")
	}
}

func TestManagerReloadWithoutLoader(t *testing.T) {
	m := NewManager(zulip.Credentials{}, nil, nil)
	if _, err := m.Reload(); err == nil {
		t.Fatalf("expected error without zuliprc")
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".zuliprc")
	writeRC(t, path, "bot@one", "k1")

	m := NewManager(zulip.Credentials{}, NewFileLoader(path), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Watch(ctx); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	writeRC(t, path, "bot@two", "k2")
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if m.ZulipCredentials().Email == "bot@two" {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("credentials not reloaded, have %+v", m.ZulipCredentials())
}

func writeRC(t *testing.T, path, email, key string) {
	t.Helper()
	body := "[api]\nemail=" + email + "\nkey=" + key + "\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write zuliprc: %v", err)
	}
}
