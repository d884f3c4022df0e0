package services

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestWebhookAlertServiceNotify_PostsEvent(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	service := NewWebhookAlertService(server.URL, logger)
	event := LockoutEvent{
		ID:           uuid.New(),
		Username:     "bob",
		IPAddress:    "10.0.0.1",
		ScopeKind:    "ip",
		ScopeKey:     "ip:10.0.0.1",
		FailureCount: 3,
		LockedAt:     time.Now(),
		ExpiresAt:    time.Now().Add(time.Hour),
	}

	service.Notify(context.Background(), event)

	assert.Contains(t, received["text"], "bob from 10.0.0.1")
	payload, ok := received["event"].(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, "ip:10.0.0.1", payload["scope_key"])
	assert.Equal(t, float64(3), payload["failure_count"])
}

func TestWebhookAlertServiceNotify_EmptyURLIsNoop(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	service := NewWebhookAlertService("", logger)

	// Must not panic or attempt a request.
	service.Notify(context.Background(), LockoutEvent{ID: uuid.New()})
}

func TestWebhookAlertServiceNotify_SwallowsDeliveryFailure(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	service := NewWebhookAlertService(server.URL, logger)

	// A rejected delivery is logged, never returned.
	service.Notify(context.Background(), LockoutEvent{ID: uuid.New(), IPAddress: "10.0.0.1"})
}
