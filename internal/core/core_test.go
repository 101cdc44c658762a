package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"Ada Lovelace":       "ada-lovelace",
		"  Grace   Hopper  ": "grace-hopper",
		"Jean-Luc Picard":    "jean-luc-picard",
		"":                   "",
	}
	for in, want := range cases {
		if got := Slug(in); got != want {
			t.Fatalf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestKindOfWrapped(t *testing.T) {
	base := E(KindRepository, "update journey", ErrNotFound)
	wrapped := fmt.Errorf("pipeline: %w", EP(KindUnknown, "persist", "Ada", base))

	if got := KindOf(wrapped); got != KindRepository {
		t.Fatalf("KindOf = %q, want %q", got, KindRepository)
	}
	if !errors.Is(wrapped, ErrNotFound) {
		t.Fatalf("expected ErrNotFound in chain")
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatalf("expected unknown kind for plain error")
	}
}

func TestErrorMessage(t *testing.T) {
	err := EP(KindSourceFetch, "fetch messages", "Ada Lovelace", errors.New("status 500"))
	if got := err.Error(); got != `fetch messages "Ada Lovelace": status 500` {
		t.Fatalf("unexpected message: %q", got)
	}
	if got := E(KindValidation, "", nil).Error(); got != "validation" {
		t.Fatalf("unexpected bare message: %q", got)
	}
}
