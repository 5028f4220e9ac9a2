package collaborator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dsiemon2/OpenSentinel-sub008/internal/config"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/dispatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestAssistant(t *testing.T, handler http.HandlerFunc) *AssistantClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAssistantClient(&config.AssistantConfig{
		BaseURL: srv.URL,
		APIKey:  "secret",
		Timeout: 2 * time.Second,
	}, zap.NewNop())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestConverse(t *testing.T) {
	var got chatRequest
	c := newTestAssistant(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sdk/chat", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, map[string]any{
			"content":   "Welcome home",
			"toolsUsed": []string{"weather"},
			"usage":     map[string]int{"inputTokens": 10, "outputTokens": 3},
		})
	})

	reply, err := c.Converse(context.Background(), "u1", "arrived at Home", "be brief")
	require.NoError(t, err)
	assert.Equal(t, "Welcome home", reply)
	assert.Equal(t, "arrived at Home", got.Message)
	assert.Equal(t, "be brief", got.SystemPrompt)
	assert.Equal(t, "user_id=u1", got.Context)
	assert.True(t, got.UseTools)
}

func TestStore(t *testing.T) {
	var got memoryRequest
	c := newTestAssistant(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sdk/memory", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, map[string]string{"id": "mem-1"})
	})

	id, err := c.Store(context.Background(), dispatch.Memory{
		UserID:     "u1",
		Content:    "Entered Home",
		Importance: 5,
		Metadata:   map[string]any{"trigger_id": "t1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "mem-1", id)
	assert.Equal(t, "episodic", got.Type)
	assert.Equal(t, 5, got.Importance)
	assert.Equal(t, "u1", got.Metadata["userId"])
	assert.Equal(t, "t1", got.Metadata["trigger_id"])
}

func TestExecute(t *testing.T) {
	c := newTestAssistant(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sdk/tools/execute", r.URL.Path)
		var req toolRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "lights_on", req.Tool)
		assert.Equal(t, "hall", req.Input["room"])
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})

	out, err := c.Execute(context.Background(), "lights_on", map[string]any{"room": "hall"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, out)
}

func TestPost_ErrorStatus(t *testing.T) {
	c := newTestAssistant(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
	})

	_, err := c.Converse(context.Background(), "u1", "hi", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "invalid api key")
}

func TestAvailable(t *testing.T) {
	c := newTestAssistant(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	assert.True(t, c.Available(context.Background()))

	down := NewAssistantClient(&config.AssistantConfig{BaseURL: "http://127.0.0.1:1"}, zap.NewNop())
	assert.False(t, down.Available(context.Background()))
}
