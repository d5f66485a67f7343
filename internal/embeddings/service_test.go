package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTEIServer fakes the TEI /embed endpoint: each input becomes a
// two-element vector of its length and a constant.
func newTEIServer(t *testing.T, status int) (*httptest.Server, *[]teiRequest) {
	t.Helper()
	var seen []teiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embed", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req teiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		seen = append(seen, req)

		if status != http.StatusOK {
			http.Error(w, "model overloaded", status)
			return
		}

		var inputs []string
		switch v := req.Inputs.(type) {
		case string:
			inputs = []string{v}
		case []any:
			for _, s := range v {
				inputs = append(inputs, s.(string))
			}
		}
		out := make([][]float32, len(inputs))
		for i, s := range inputs {
			out[i] = []float32{float32(len(s)), 1}
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestNewService(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "valid", config: Config{BaseURL: "http://localhost:8080", Model: "BAAI/bge-m3"}},
		{name: "trailing slash", config: Config{BaseURL: "http://localhost:8080/"}},
		{name: "empty base URL", config: Config{Model: "test"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := NewService(tt.config)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "http://localhost:8080", svc.config.BaseURL)
		})
	}
}

func TestService_EmbedDocuments(t *testing.T) {
	srv, seen := newTEIServer(t, http.StatusOK)
	svc, err := NewService(Config{BaseURL: srv.URL, Model: "BAAI/bge-m3"})
	require.NoError(t, err)

	vectors, err := svc.EmbedDocuments(context.Background(), []string{"a", "bbb"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}, {3, 1}}, vectors)

	require.Len(t, *seen, 1)
	assert.True(t, (*seen)[0].Truncate)

	_, err = svc.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestService_EmbedQuery(t *testing.T) {
	srv, _ := newTEIServer(t, http.StatusOK)
	svc, err := NewService(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	vector, err := svc.EmbedQuery(context.Background(), "four")
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 1}, vector)

	_, err = svc.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestService_ServerError(t *testing.T) {
	srv, _ := newTEIServer(t, http.StatusServiceUnavailable)
	svc, err := NewService(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = svc.EmbedDocuments(context.Background(), []string{"a"})
	require.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "status 503")
}

func TestService_BearerToken(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`[[0.5]]`))
	}))
	defer srv.Close()

	svc, err := NewService(Config{BaseURL: srv.URL, APIKey: "tok"})
	require.NoError(t, err)
	_, err = svc.EmbedDocuments(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", auth)
}

func TestService_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[[0.5]]`))
	}))
	defer srv.Close()

	svc, err := NewService(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = svc.EmbedDocuments(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}
