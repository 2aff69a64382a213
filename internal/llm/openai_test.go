package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIProviderComplete(t *testing.T) {
	var got openaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "Where to?"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 42, "completion_tokens": 7}
		}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(Config{APIKey: "test-key", Model: "gpt-test", Endpoint: srv.URL + "/", Temperature: 0.5})
	resp, err := p.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{System: "be brief", MaxTokens: 100})
	require.NoError(t, err)

	assert.Equal(t, "Where to?", resp.Content)
	assert.False(t, resp.Truncated())
	assert.EqualValues(t, 42, resp.PromptTokens)
	assert.EqualValues(t, 7, resp.OutputTokens)

	assert.Equal(t, "gpt-test", got.Model)
	assert.EqualValues(t, 100, got.MaxTokens)
	assert.InDelta(t, 0.5, got.Temperature, 1e-9)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, openaiMessage{Role: "system", Content: "be brief"}, got.Messages[0])
	assert.Equal(t, openaiMessage{Role: "user", Content: "hi"}, got.Messages[1])
}

func TestOpenAIProviderTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "{\"days\": ["}, "finish_reason": "length"}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(Config{APIKey: "k", Endpoint: srv.URL})
	resp, err := p.Complete(context.Background(), []Message{{Role: "user", Content: "plan"}}, Options{})
	require.NoError(t, err)
	assert.True(t, resp.Truncated())
}

func TestOpenAIProviderNotAvailable(t *testing.T) {
	p := NewOpenAIProvider(Config{})
	assert.False(t, p.Available())
	_, err := p.Complete(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestProviderAPIErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{StatusOverloaded, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error": {"message": "nope"}}`))
			}))
			defer srv.Close()

			for _, p := range []Provider{
				NewOpenAIProvider(Config{APIKey: "k", Endpoint: srv.URL}),
				NewAnthropicProvider(Config{APIKey: "k", Endpoint: srv.URL}),
			} {
				_, err := p.Complete(context.Background(), []Message{{Role: "user", Content: "x"}}, Options{})
				require.Error(t, err)

				var apiErr *APIError
				require.True(t, errors.As(err, &apiErr), p.Name())
				assert.Equal(t, tt.status, apiErr.StatusCode)
				assert.Equal(t, "nope", apiErr.Message)
				assert.Equal(t, tt.transient, IsTransient(err), p.Name())
			}
		})
	}
}

func TestIsTransientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	p := NewOpenAIProvider(Config{APIKey: "k", Endpoint: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := p.Complete(context.Background(), []Message{{Role: "user", Content: "x"}}, Options{})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("boom")))
}

func TestAnthropicProviderComplete(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_, _ = w.Write([]byte(`{
			"content": [{"type": "text", "text": "Hello "}, {"type": "text", "text": "there"}],
			"stop_reason": "max_tokens",
			"usage": {"input_tokens": 10, "output_tokens": 3}
		}`))
	}))
	defer srv.Close()

	p := New(Config{Provider: "anthropic", APIKey: "test-key", Model: "claude-test", Endpoint: srv.URL, MaxTokens: 512})
	assert.Equal(t, "anthropic", p.Name())

	resp, err := p.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{System: "sys"})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", resp.Content)
	assert.True(t, resp.Truncated())
	assert.EqualValues(t, 10, resp.PromptTokens)

	assert.Equal(t, "sys", got.System)
	assert.EqualValues(t, 512, got.MaxTokens)
	require.Len(t, got.Messages, 1)
}

func TestNewDefaultsToOpenAI(t *testing.T) {
	assert.Equal(t, "openai", New(DefaultConfig()).Name())
}
