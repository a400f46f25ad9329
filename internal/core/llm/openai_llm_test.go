package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAILLM_Generate(t *testing.T) {
	t.Run("Should send both prompts with the generation settings", func(t *testing.T) {
		var body map[string]any
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/chat/completions", r.URL.Path)
			assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
			assert.Equal(t, "proj_123", r.Header.Get("OpenAI-Project"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"id": "chatcmpl-1",
				"object": "chat.completion",
				"created": 1700000000,
				"model": "gpt-4o-mini",
				"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "{\"@type\": \"Report\"}"}}]
			}`))
		}))
		defer server.Close()

		llm, err := NewOpenAILLM(OpenAIConfig{
			APIKey:     "sk-test",
			ProjectID:  "proj_123",
			BaseURL:    server.URL + "/",
			HTTPClient: server.Client(),
		})
		require.NoError(t, err)

		reply, err := llm.Generate(context.Background(), "system", "user")
		require.NoError(t, err)
		assert.Equal(t, `{"@type": "Report"}`, reply)

		assert.Equal(t, "gpt-4o-mini", body["model"])
		assert.Equal(t, 0.5, body["temperature"])
		assert.Equal(t, float64(1500), body["max_completion_tokens"])
		messages := body["messages"].([]any)
		require.Len(t, messages, 2)
		assert.Equal(t, "system", messages[0].(map[string]any)["role"])
		assert.Equal(t, "user", messages[1].(map[string]any)["content"])
	})

	t.Run("Should require an API key", func(t *testing.T) {
		_, err := NewOpenAILLM(OpenAIConfig{})
		assert.Error(t, err)
	})
}
