package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"invoice-hand/config"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		OpenAIBaseURL:   baseURL,
		OpenAIAPIKey:    "test-key",
		OpenAIModel:     "gpt-4o",
		OpenAIMaxTokens: 1000,
	}
}

func TestExtractInvoiceReturnsContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "gpt-4o", body["model"])
		messages := body["messages"].([]any)
		require.Len(t, messages, 2)
		userParts := messages[1].(map[string]any)["content"].([]any)
		imagePart := userParts[1].(map[string]any)["image_url"].(map[string]any)
		require.True(t, strings.HasPrefix(imagePart["url"].(string), "data:image/jpeg;base64,"))

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": `{"invoice_number":"INV-001"}`}},
			},
		})
	}))
	defer srv.Close()

	e := NewExtractor(testConfig(srv.URL), zap.NewNop())
	out, err := e.ExtractInvoice(context.Background(), []byte("img"))
	require.NoError(t, err)
	require.Equal(t, `{"invoice_number":"INV-001"}`, out)
}

func TestExtractInvoiceUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limit"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	e := NewExtractor(testConfig(srv.URL), zap.NewNop())
	_, err := e.ExtractInvoice(context.Background(), []byte("img"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "429")
}

func TestExtractInvoiceNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	e := NewExtractor(testConfig(srv.URL), zap.NewNop())
	_, err := e.ExtractInvoice(context.Background(), []byte("img"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "no choices")
}
