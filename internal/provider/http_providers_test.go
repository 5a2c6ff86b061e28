package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailagent/internal/domain"
)

func TestOpenAI_Chat(t *testing.T) {
	var got completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{
			"choices": [{"message": {"role": "assistant", "content": "",
				"tool_calls": [{"id": "c1", "type": "function",
					"function": {"name": "knowledge_base_search", "arguments": "{\"query\":\"refunds\"}"}}]},
				"finish_reason": "tool_calls"}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5}
		}`)
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "sk-test", APIBase: srv.URL, Client: srv.Client(), Logger: testLogger()})
	resp, err := o.Chat(context.Background(), domain.ChatRequest{
		Messages:       []domain.Message{{Role: "user", Content: "hi"}},
		ResponseSchema: &domain.ResponseSchema{Name: "reply", Schema: map[string]any{"type": "object"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_schema", got.ResponseFormat.Type)
	assert.Equal(t, "reply", got.ResponseFormat.JSONSchema.Name)

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "refunds", resp.ToolCalls[0].Arguments["query"])
	assert.Equal(t, 5, resp.Usage.TotalTokens)
}

func TestOpenAI_ClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIBase: srv.URL, Client: srv.Client(), Logger: testLogger()})
	_, err := o.Chat(context.Background(), domain.ChatRequest{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "openai", apiErr.Provider)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Code)
	assert.Equal(t, "bad key", apiErr.Body)
	assert.Error(t, o.Healthy(context.Background()))
}

func TestClaude_Chat(t *testing.T) {
	var got messagesRequest
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, claudeAPIVersion, r.Header.Get("anthropic-version"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		require.NoError(t, json.Unmarshal(body, &raw))
		_, _ = io.WriteString(w, `{
			"content": [{"type": "text", "text": "{\"reply\":\"ok\"}"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 4, "output_tokens": 6}
		}`)
	}))
	defer srv.Close()

	c := NewClaude(ClaudeConfig{APIKey: "key", APIBase: srv.URL, Client: srv.Client(), Logger: testLogger()})
	resp, err := c.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{
			{Role: "system", Content: "answer support mail"},
			{Role: "user", Content: "hi"},
			{Role: "assistant", ToolCalls: []domain.ToolCall{{ID: "t1", Name: "knowledge_base_search", Arguments: map[string]any{"query": "a"}}, {ID: "t2", Name: "knowledge_base_search", Arguments: map[string]any{"query": "b"}}}},
			{Role: "tool", ToolCallID: "t1", Content: "r1"},
			{Role: "tool", ToolCallID: "t2", Content: "r2"},
		},
		ResponseSchema: &domain.ResponseSchema{Name: "reply", Schema: map[string]any{"type": "object"}},
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(got.System, "answer support mail\n\n"))
	assert.Contains(t, got.System, "JSON schema")
	msgs := raw["messages"].([]any)
	require.Len(t, msgs, 3)
	last := msgs[2].(map[string]any)
	assert.Equal(t, "user", last["role"])
	assert.Len(t, last["content"], 2)

	assert.Equal(t, `{"reply":"ok"}`, resp.Content)
	assert.Equal(t, 10, resp.Usage.TotalTokens)
}

func TestWhisper_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "audio.mp3", hdr.Filename)
		assert.Equal(t, "ID3", string(data))
		_, _ = io.WriteString(w, `{"text": "please call me back", "language": "en"}`)
	}))
	defer srv.Close()

	wp := NewWhisperProvider(WhisperConfig{APIBase: srv.URL, Client: srv.Client(), Logger: testLogger()})
	res, err := wp.Transcribe(context.Background(), strings.NewReader("ID3"), "audio.mp3")
	require.NoError(t, err)
	assert.Equal(t, "please call me back", res.Text)
}

func TestWhisper_RetriesReplayBody(t *testing.T) {
	fastRetries(t)
	var sizes []int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sizes = append(sizes, r.ContentLength)
		if len(sizes) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"text": "ok"}`)
	}))
	defer srv.Close()

	wp := NewWhisperProvider(WhisperConfig{APIBase: srv.URL, Client: srv.Client(), Logger: testLogger()})
	_, err := wp.Transcribe(context.Background(), strings.NewReader("audio-bytes"), "audio.wav")
	require.NoError(t, err)
	require.Len(t, sizes, 2)
	assert.Equal(t, sizes[0], sizes[1])
}
