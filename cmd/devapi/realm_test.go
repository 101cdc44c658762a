package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/you/recurse-review/internal/core"
	"github.com/you/recurse-review/internal/zulip"
)

func TestRealmServesZulipClient(t *testing.T) {
	rl := newRealm("bot@dev.test", "dev-key")
	srv := httptest.NewServer(rl.routes())
	defer srv.Close()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, body := range []string{
		`{"stream":"checkins","topic":"Ada Lovelace","sender":"Ada Lovelace","content":"day 1","avatar_url":"https://cdn/ada.png","ts":"` + base.Format(time.RFC3339) + `"}`,
		`{"stream":"checkins","topic":"Ada Lovelace","content":"day 2"}`,
		`{"stream":"checkins","topic":"Grace Hopper","content":"other topic"}`,
		`{"stream":"random","topic":"Ada Lovelace","content":"other stream"}`,
	} {
		resp, err := http.Post(srv.URL+"/emit", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("emit %d: %v", i, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("emit %d: status %d", i, resp.StatusCode)
		}
	}

	c := zulip.New(zulip.Config{Realm: srv.URL, NumBefore: 10}, zulip.StaticCredentials{Email: "bot@dev.test", APIKey: "dev-key"})
	c.HTTP = srv.Client()

	res, err := c.Fetch(context.Background(), "Ada Lovelace")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(res.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(res.Messages))
	}
	if res.Messages[0].Content != "day 1" || res.Messages[0].Timestamp != base.Unix() {
		t.Fatalf("unexpected first message %+v", res.Messages[0])
	}
	if res.AvatarURL != "https://cdn/ada.png" {
		t.Fatalf("unexpected avatar %q", res.AvatarURL)
	}

	name, err := c.ValidateCredentials(context.Background(), zulip.Credentials{Email: "bot@dev.test", APIKey: "dev-key"})
	if err != nil || name != "Dev Bot" {
		t.Fatalf("ValidateCredentials = %q, %v", name, err)
	}
}

func TestRealmRejectsWrongKey(t *testing.T) {
	rl := newRealm("bot@dev.test", "dev-key")
	srv := httptest.NewServer(rl.routes())
	defer srv.Close()

	c := zulip.New(zulip.Config{Realm: srv.URL}, zulip.StaticCredentials{Email: "bot@dev.test", APIKey: "wrong"})
	c.HTTP = srv.Client()

	_, err := c.Fetch(context.Background(), "Ada Lovelace")
	if !core.IsKind(err, core.KindSourceFetch) {
		t.Fatalf("expected source fetch error, got %v", err)
	}
}

func TestRealmKeepsNewestWithinBound(t *testing.T) {
	rl := newRealm("", "")
	for i := 0; i < 5; i++ {
		rl.add(emitReq{Stream: "checkins", Topic: "Ada", Content: string(rune('a' + i))})
	}
	got := rl.query("checkins", "Ada", 2)
	if len(got) != 2 || got[0].Content != "d" || got[1].Content != "e" {
		t.Fatalf("unexpected window %+v", got)
	}
}
