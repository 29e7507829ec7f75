package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatServer(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAI(OpenAIOptions{BaseURL: srv.URL, APIKey: "test-key", Model: "gpt-4.1"})
}

func respondWith(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
	require.NoError(t, json.NewEncoder(w).Encode(resp))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		answer string
		want   Intent
	}{
		{"chart", Intent{NeedsChart: true}},
		{"data", Intent{NeedsData: true}},
		{"both", Intent{NeedsData: true, NeedsChart: true}},
		{"I am not sure what you mean", Intent{NeedsData: true}},
	}

	for _, tc := range cases {
		t.Run(tc.answer, func(t *testing.T) {
			client := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/chat/completions", r.URL.Path)
				assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
				respondWith(t, w, tc.answer)
			})

			intent, err := client.Classify(context.Background(), "average pace")
			require.NoError(t, err)
			assert.Equal(t, tc.want, intent)
		})
	}
}

func TestGenerateStripsCodeFence(t *testing.T) {
	client := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		respondWith(t, w, "```lua\nresult(42)\n```")
	})

	code, err := client.Generate(context.Background(), GenerateRequest{Kind: DataCode, Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, "result(42)", code)
}

func TestGenerateEmptyResponse(t *testing.T) {
	client := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		respondWith(t, w, "```lua\n```")
	})

	_, err := client.Generate(context.Background(), GenerateRequest{Kind: DataCode, Query: "q"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestCompleteErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited},
		{"server error", http.StatusInternalServerError, ErrUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			})

			_, err := client.Classify(context.Background(), "q")
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCompleteProviderError(t *testing.T) {
	client := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"error": map[string]any{"message": "model overloaded"}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	_, err := client.Classify(context.Background(), "q")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorContains(t, err, "model overloaded")
}

func TestStripCodeFence(t *testing.T) {
	cases := map[string]string{
		"result(1)":                          "result(1)",
		"```lua\nresult(1)\n```":             "result(1)",
		"```\nresult(1)\n```":                "result(1)",
		"  ```LUA\nlocal x = 1\nresult(x)\n``` \n": "local x = 1\nresult(x)",
	}
	for in, want := range cases {
		assert.Equal(t, want, StripCodeFence(in))
	}
}
