package httpadmin

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeReloader struct {
	email string
	err   error
}

func (f fakeReloader) Reload() (string, error) {
	return f.email, f.err
}

func serve(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	srv.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestCredentialsReloadSuccess(t *testing.T) {
	rec := serve(t, New(fakeReloader{email: "bot@recurse.example"}), http.MethodPost, "/admin/credentials/reload")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Fatalf("unexpected content-type %q", ct)
	}
	var payload map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload["ok"] != "true" || payload["email"] != "bot@recurse.example" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestCredentialsReloadError(t *testing.T) {
	rec := serve(t, New(fakeReloader{err: errors.New("boom")}), http.MethodPost, "/admin/credentials/reload")

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, rec.Code)
	}
	if body := rec.Body.String(); body != "reload failed: boom\n" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestCredentialsReloadRequiresPost(t *testing.T) {
	rec := serve(t, New(fakeReloader{}), http.MethodGet, "/admin/credentials/reload")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestAdminHealthz(t *testing.T) {
	rec := serve(t, New(nil), http.MethodGet, "/admin/healthz")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected healthz response %d %q", rec.Code, rec.Body.String())
	}
}
