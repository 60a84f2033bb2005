package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragingest/internal/backoff"
	"ragingest/internal/domain"
)

func TestMockEmbedder_Deterministic(t *testing.T) {
	e := NewMockEmbedder(64)
	a, err := e.Embed(context.Background(), []string{"the white whale", "The White Whale", "a red herring"})
	require.NoError(t, err)
	require.Len(t, a, 3)
	assert.Len(t, a[0], 64)
	assert.Equal(t, a[0], a[1], "case must not matter")
	assert.NotEqual(t, a[0], a[2])
	assert.Equal(t, 64, e.Dimension())
	assert.Equal(t, "mock", e.ModelName())
}

func newTestServer(t *testing.T, status int, handler func(req embeddingRequest) any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req embeddingRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(handler(req))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIEmbedder_OrdersByIndex(t *testing.T) {
	t.Setenv("TEST_EMBED_KEY", "test-key")
	srv := newTestServer(t, http.StatusOK, func(req embeddingRequest) any {
		assert.Equal(t, "text-embedding-3-small", req.Model)
		return embeddingResponse{Data: []embeddingData{
			{Index: 1, Embedding: []float32{0, 1}},
			{Index: 0, Embedding: []float32{1, 0}},
		}}
	})

	e, err := NewOpenAIEmbedder("TEST_EMBED_KEY", "text-embedding-3-small", srv.URL, 2)
	require.NoError(t, err)

	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
}

func TestOpenAIEmbedder_StatusClasses(t *testing.T) {
	t.Setenv("TEST_EMBED_KEY", "test-key")

	tests := []struct {
		status int
		class  error
	}{
		{http.StatusTooManyRequests, domain.ErrTransientExternal},
		{http.StatusServiceUnavailable, domain.ErrTransientExternal},
		{http.StatusBadRequest, domain.ErrPermanentExternal},
		{http.StatusUnauthorized, domain.ErrPermanentExternal},
	}
	for _, tt := range tests {
		srv := newTestServer(t, tt.status, func(embeddingRequest) any {
			return map[string]any{"error": map[string]string{"message": "nope"}}
		})
		e, err := NewOpenAIEmbedder("TEST_EMBED_KEY", "m", srv.URL, 2)
		require.NoError(t, err)

		_, err = e.Embed(context.Background(), []string{"a"})
		assert.ErrorIs(t, err, tt.class, "status %d", tt.status)
	}
}

func TestOpenAIEmbedder_ClientTimeoutIsRetried(t *testing.T) {
	t.Setenv("TEST_EMBED_KEY", "test-key")

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-time.After(200 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)

	e, err := NewOpenAIEmbedder("TEST_EMBED_KEY", "m", srv.URL, 2)
	require.NoError(t, err)
	e.client.Timeout = 50 * time.Millisecond

	err = backoff.Retry(context.Background(), backoff.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}, func(ctx context.Context) error {
		_, err := e.Embed(ctx, []string{"a"})
		return err
	})
	assert.ErrorIs(t, err, domain.ErrTransientExternal)
	assert.Equal(t, int32(3), hits.Load())
}

func TestOpenAIEmbedder_MissingKey(t *testing.T) {
	t.Setenv("TEST_EMBED_KEY", "")
	_, err := NewOpenAIEmbedder("TEST_EMBED_KEY", "m", "", 0)
	assert.Error(t, err)
}

func TestDefaultDimension(t *testing.T) {
	assert.Equal(t, 1536, defaultDimension("text-embedding-3-small"))
	assert.Equal(t, 3072, defaultDimension("text-embedding-3-large"))
	assert.Equal(t, 768, defaultDimension("nomic-embed-text"))
}
