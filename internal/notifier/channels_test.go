package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGitHubCreatesIssue(t *testing.T) {
	t.Parallel()
	var got githubIssueRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/repos/acme/ops/issues" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("auth=%q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"number":7,"html_url":"https://example.invalid/7"}`)
	}))
	defer srv.Close()

	g, err := NewGitHub(GitHubConfig{Token: "secret", Repo: "acme/ops", APIURL: srv.URL})
	if err != nil {
		t.Fatalf("NewGitHub: %v", err)
	}
	if err := g.Deliver(context.Background(), report("ep-9")); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if !strings.Contains(got.Title, "DISTRESS SIGNAL") || !strings.Contains(got.Body, "CPU=99.0%") {
		t.Fatalf("issue=%+v", got)
	}
	if len(got.Labels) != 1 || got.Labels[0] != "emergency" {
		t.Fatalf("labels=%v", got.Labels)
	}
}

func TestGitHubReportsAPIErrors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"message":"Resource not accessible by integration"}`)
	}))
	defer srv.Close()

	g, _ := NewGitHub(GitHubConfig{Token: "secret", Repo: "acme/ops", APIURL: srv.URL})
	err := g.Deliver(context.Background(), report("ep-9"))
	if err == nil || !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "not accessible") {
		t.Fatalf("err=%v", err)
	}
}

func TestGitHubConfigValidation(t *testing.T) {
	t.Parallel()
	if _, err := NewGitHub(GitHubConfig{Repo: "a/b"}); err == nil {
		t.Fatalf("missing token accepted")
	}
	if _, err := NewGitHub(GitHubConfig{Token: "x", Repo: "nope"}); err == nil {
		t.Fatalf("bad repo accepted")
	}
}

func TestTelegramSendsMessage(t *testing.T) {
	t.Parallel()
	var form map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			t.Errorf("path=%s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&form)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"group"}}}`)
	}))
	defer srv.Close()

	tg, err := NewTelegram(TelegramConfig{Token: "123:abc", ChatID: 42, ThreadID: 3, APIURL: srv.URL})
	if err != nil {
		t.Fatalf("NewTelegram: %v", err)
	}
	if err := tg.Deliver(context.Background(), report("ep-5")); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if text, _ := form["text"].(string); !strings.Contains(text, "ep-5") {
		t.Fatalf("text=%v", form["text"])
	}
}
