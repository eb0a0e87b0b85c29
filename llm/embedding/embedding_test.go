package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/gatekeeper/config"
	"github.com/BaSui01/gatekeeper/types"
)

// --- ChooseModel ---

func TestChooseModel(t *testing.T) {
	assert.Equal(t, "req-model", ChooseModel("req-model", "default", "fallback"))
	assert.Equal(t, "default", ChooseModel("", "default", "fallback"))
	assert.Equal(t, "fallback", ChooseModel("", "", "fallback"))
}

// --- BaseProvider ---

func TestNewBaseProvider(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		bp := NewBaseProvider(BaseConfig{
			Name:    "test",
			BaseURL: "http://example.com/",
		})
		assert.Equal(t, "test", bp.Name())
		assert.Equal(t, 100, bp.MaxBatchSize())
		// BaseURL trailing slash trimmed
		assert.Equal(t, "http://example.com", bp.baseURL)
	})

	t.Run("custom values", func(t *testing.T) {
		bp := NewBaseProvider(BaseConfig{
			Name:       "custom",
			BaseURL:    "http://api.test",
			Model:      "m",
			Dimensions: 512,
			MaxBatch:   50,
			Timeout:    10 * time.Second,
		})
		assert.Equal(t, 512, bp.Dimensions())
		assert.Equal(t, 50, bp.MaxBatchSize())
		assert.Equal(t, "m", bp.Model())
	})
}

// --- mapHTTPError ---

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		status    int
		wantCode  string
		retryable bool
	}{
		{http.StatusUnauthorized, "UNAUTHORIZED", false},
		{http.StatusForbidden, "FORBIDDEN", false},
		{http.StatusTooManyRequests, "RATE_LIMIT", true},
		{http.StatusBadRequest, "INVALID_REQUEST", false},
		{http.StatusInternalServerError, "UPSTREAM_ERROR", true},
		{http.StatusBadGateway, "UPSTREAM_ERROR", true},
		{http.StatusServiceUnavailable, "UPSTREAM_ERROR", true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := mapHTTPError(tt.status, "test error", "test-provider")
			assert.Equal(t, tt.wantCode, string(err.Code))
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, "test-provider", err.Provider)
			assert.Equal(t, tt.status, err.HTTPStatus)
		})
	}
}

// --- BaseProvider.DoRequest ---

func TestBaseProviderDoRequest(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "POST", r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"ok":true}`))
		}))
		defer srv.Close()

		bp := NewBaseProvider(BaseConfig{Name: "test", BaseURL: srv.URL})

		body, err := bp.DoRequest(context.Background(), "POST", "/embed", map[string]string{"q": "hello"}, map[string]string{
			"Authorization": "Bearer test-key",
		})
		require.NoError(t, err)
		assert.Contains(t, string(body), `"ok":true`)
	})

	t.Run("HTTP error mapped", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid key"}`))
		}))
		defer srv.Close()

		bp := NewBaseProvider(BaseConfig{Name: "test", BaseURL: srv.URL})
		_, err := bp.DoRequest(context.Background(), "POST", "/embed", nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid key")
		assert.True(t, types.IsErrorCode(err, types.ErrUnauthorized))
	})

	t.Run("server down", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := srv.URL
		srv.Close()

		bp := NewBaseProvider(BaseConfig{Name: "test", BaseURL: url})
		_, err := bp.DoRequest(context.Background(), "POST", "/embed", nil, nil)
		require.Error(t, err)
		assert.True(t, types.IsRetryable(err))
		assert.True(t, types.IsErrorCode(err, types.ErrUpstreamError))
	})
}

func TestBaseProviderEmbedQueryAndDocuments(t *testing.T) {
	bp := NewBaseProvider(BaseConfig{Name: "test"})
	mockEmbed := func(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
		out := make([]EmbeddingData, len(req.Input))
		for i := range req.Input {
			out[i] = EmbeddingData{Index: i, Embedding: []float64{0.1, 0.2}}
		}
		return &EmbeddingResponse{Embeddings: out}, nil
	}

	t.Run("EmbedQuery", func(t *testing.T) {
		vec, err := bp.EmbedQuery(context.Background(), "hello", mockEmbed)
		require.NoError(t, err)
		assert.Equal(t, []float64{0.1, 0.2}, vec)
	})

	t.Run("EmbedDocuments", func(t *testing.T) {
		vecs, err := bp.EmbedDocuments(context.Background(), []string{"a", "b"}, mockEmbed)
		require.NoError(t, err)
		assert.Len(t, vecs, 2)
	})

	t.Run("EmbedQuery empty response", func(t *testing.T) {
		emptyEmbed := func(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
			return &EmbeddingResponse{Embeddings: nil}, nil
		}
		_, err := bp.EmbedQuery(context.Background(), "hello", emptyEmbed)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "no embeddings")
	})
}

// --- Local Provider ---

func TestLocalProviderEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))

		var req localEmbedRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		assert.Equal(t, []string{"container delayed at Santos"}, req.Input)

		json.NewEncoder(w).Encode(localEmbedResponse{
			Model:           "nomic-embed-text",
			Embeddings:      [][]float64{{0.3, 0.4}},
			PromptEvalCount: 6,
		})
	}))
	defer srv.Close()

	p := NewLocalProvider(LocalConfig{BaseURL: srv.URL})
	resp, err := p.Embed(context.Background(), &EmbeddingRequest{Input: []string{"container delayed at Santos"}})
	require.NoError(t, err)
	assert.Equal(t, "local", resp.Provider)
	assert.Equal(t, "nomic-embed-text", resp.Model)
	require.Len(t, resp.Embeddings, 1)
	assert.Equal(t, []float64{0.3, 0.4}, resp.Embeddings[0].Embedding)
	assert.Equal(t, 6, resp.Usage.PromptTokens)
}

func TestLocalProviderDefaults(t *testing.T) {
	p := NewLocalProvider(LocalConfig{})
	assert.Equal(t, "local", p.Name())
	assert.Equal(t, "nomic-embed-text", p.Model())
	assert.Equal(t, 768, p.Dimensions())
	assert.True(t, isAvailable(p))
}

// --- OpenAI Provider ---

func newOpenAITestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *OpenAIProvider) {
	t.Helper()
	srv := httptest.NewServer(handler)
	p := NewOpenAIProvider(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "text-embedding-3-small",
	})
	return srv, p
}

func TestOpenAIProviderEmbed(t *testing.T) {
	srv, p := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openAIEmbedRequest
		json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "text-embedding-3-small", req.Model)
		assert.Equal(t, 1536, req.Dimensions)

		w.Write([]byte(`{"object":"list","model":"text-embedding-3-small",
			"data":[{"object":"embedding","index":0,"embedding":[0.1,0.2,0.3]}],
			"usage":{"prompt_tokens":5,"total_tokens":5}}`))
	})
	defer srv.Close()

	resp, err := p.Embed(context.Background(), &EmbeddingRequest{
		Input: []string{"hello world"},
	})
	require.NoError(t, err)
	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, "text-embedding-3-small", resp.Model)
	require.Len(t, resp.Embeddings, 1)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, resp.Embeddings[0].Embedding)
	assert.Equal(t, 5, resp.Usage.PromptTokens)
}

func TestOpenAIProviderEmbedQueryAndDocuments(t *testing.T) {
	srv, p := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"text-embedding-3-small","data":[{"index":0,"embedding":[0.5]}]}`))
	})
	defer srv.Close()

	vec, err := p.EmbedQuery(context.Background(), "test query")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5}, vec)

	vecs, err := p.EmbedDocuments(context.Background(), []string{"doc1"})
	require.NoError(t, err)
	assert.Len(t, vecs, 1)
}

func TestOpenAIProviderAvailability(t *testing.T) {
	assert.False(t, isAvailable(NewOpenAIProvider(OpenAIConfig{})))
	assert.True(t, isAvailable(NewOpenAIProvider(OpenAIConfig{APIKey: "k"})))
}

func TestOpenAIProviderDefaults(t *testing.T) {
	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k"})
	assert.Equal(t, "openai", p.Name())
	assert.Equal(t, 1536, p.Dimensions())
	assert.Equal(t, 2048, p.MaxBatchSize())
}

// --- Gemini Provider ---

func TestGeminiProviderSingleEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-embedding-001:embedContent", r.URL.Path)
		assert.Equal(t, "g-key", r.Header.Get("x-goog-api-key"))

		var req geminiEmbedRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "models/gemini-embedding-001", req.Model)
		assert.Equal(t, geminiTaskRetrievalQuery, req.TaskType)

		w.Write([]byte(`{"embedding":{"values":[0.7,0.8]}}`))
	}))
	defer srv.Close()

	p := NewGeminiProvider(GeminiConfig{APIKey: "g-key", BaseURL: srv.URL})
	vec, err := p.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.7, 0.8}, vec)
}

func TestGeminiProviderBatchEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-embedding-001:batchEmbedContents", r.URL.Path)

		var req geminiBatchEmbedRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Requests, 2)
		assert.Equal(t, geminiTaskRetrievalDocument, req.Requests[0].TaskType)

		w.Write([]byte(`{"embeddings":[{"values":[0.1]},{"values":[0.2]}]}`))
	}))
	defer srv.Close()

	p := NewGeminiProvider(GeminiConfig{APIKey: "g-key", BaseURL: srv.URL})
	vecs, err := p.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0.1}, {0.2}}, vecs)
}

func TestGeminiProviderHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`quota`))
	}))
	defer srv.Close()

	p := NewGeminiProvider(GeminiConfig{APIKey: "g-key", BaseURL: srv.URL})
	_, err := p.EmbedQuery(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrRateLimit))
	assert.True(t, types.IsRetryable(err))
}

func TestGeminiProviderDefaults(t *testing.T) {
	p := NewGeminiProvider(GeminiConfig{})
	assert.Equal(t, "gemini", p.Name())
	assert.Equal(t, "gemini-embedding-001", p.Model())
	assert.False(t, p.Available())
}

func TestMapTaskType(t *testing.T) {
	assert.Equal(t, geminiTaskRetrievalQuery, mapTaskType(InputTypeQuery))
	assert.Equal(t, geminiTaskRetrievalDocument, mapTaskType(InputTypeDocument))
	assert.Equal(t, geminiTaskRetrievalDocument, mapTaskType(""))
}

// --- 配置 ---

func TestDefaultConfigs(t *testing.T) {
	assert.Equal(t, "http://localhost:11434", DefaultLocalConfig().BaseURL)
	assert.Equal(t, "text-embedding-3-small", DefaultOpenAIConfig().Model)
	assert.Equal(t, "gemini-embedding-001", DefaultGeminiConfig().Model)
}

func TestProvidersFromConfig(t *testing.T) {
	cfg := config.DefaultEmbeddingConfig()
	cfg.OpenAI.APIKey = "sk"

	providers, err := ProvidersFromConfig(cfg)
	require.NoError(t, err)
	require.Len(t, providers, 3)
	assert.Equal(t, "local", providers[0].Name())
	assert.Equal(t, "openai", providers[1].Name())
	assert.Equal(t, "gemini", providers[2].Name())
	assert.True(t, isAvailable(providers[1]))
	assert.False(t, isAvailable(providers[2]))

	cfg.Providers = []string{"cohere"}
	_, err = ProvidersFromConfig(cfg)
	assert.Error(t, err)
}

func TestProviderContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewLocalProvider(LocalConfig{BaseURL: srv.URL})
	_, err := p.EmbedQuery(ctx, "hello")
	assert.Error(t, err)
}
