package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"bn-hedge-bot/internal/config"

	"go.uber.org/zap"
)

func TestNotifyDisabledIsNoop(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	tg := newTelegram(config.TelegramConfig{Enabled: false}, zap.NewNop(), server.URL, server.Client())
	if err := tg.Notify(context.Background(), "hello"); err != nil {
		t.Fatalf("disabled notify: %v", err)
	}
	if called {
		t.Fatal("disabled notifier must not call the API")
	}
}

func TestNotifyRequiresCredentials(t *testing.T) {
	tg := newTelegram(config.TelegramConfig{Enabled: true}, zap.NewNop(), "http://unused", nil)
	if err := tg.Notify(context.Background(), "hello"); err == nil {
		t.Fatal("expected error without token and chat id")
	}
}

func TestNotifyRejectsEmptyMessage(t *testing.T) {
	tg := newTelegram(config.TelegramConfig{Enabled: true, Token: "tok", ChatID: "42"}, zap.NewNop(), "http://unused", nil)
	if err := tg.Notify(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty message")
	}
}

func TestNotifySendsHTMLMessage(t *testing.T) {
	var gotPath string
	var gotPayload map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer server.Close()

	tg := newTelegram(config.TelegramConfig{Enabled: true, Token: "tok", ChatID: "42"}, zap.NewNop(), server.URL, server.Client())
	if err := tg.Notify(context.Background(), "<b>UNDER_HEDGED</b> BTCUSDT"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if gotPath != "/bottok/sendMessage" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotPayload["chat_id"] != "42" {
		t.Fatalf("unexpected chat id %q", gotPayload["chat_id"])
	}
	if gotPayload["parse_mode"] != "HTML" {
		t.Fatalf("expected HTML parse mode, got %q", gotPayload["parse_mode"])
	}
	if !strings.Contains(gotPayload["text"], "UNDER_HEDGED") {
		t.Fatalf("unexpected text %q", gotPayload["text"])
	}
}

func TestNotifyHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer server.Close()

	tg := newTelegram(config.TelegramConfig{Enabled: true, Token: "tok", ChatID: "42"}, zap.NewNop(), server.URL, server.Client())
	err := tg.Notify(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected http 429 error, got %v", err)
	}
}

func TestNotifyAPIFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":false,"description":"chat not found"}`)
	}))
	defer server.Close()

	tg := newTelegram(config.TelegramConfig{Enabled: true, Token: "tok", ChatID: "42"}, zap.NewNop(), server.URL, server.Client())
	err := tg.Notify(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("expected api failure, got %v", err)
	}
}
