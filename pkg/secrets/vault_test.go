package secrets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch_KVv2(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/secret/data/vetai/backend", r.URL.Path)
		assert.Equal(t, "s.token", r.Header.Get("X-Vault-Token"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"data":{"AI_API_KEY":"sk-test","DB_PASSWORD":12345,"UNRELATED":"x"},"metadata":{}}}`))
	}))
	defer server.Close()

	got, err := Fetch(context.Background(), VaultConfig{
		Enabled:   true,
		Addr:      server.URL + "/",
		Token:     "s.token",
		Mount:     "secret",
		Path:      "/vetai/backend",
		KVVersion: 2,
	})

	require.NoError(t, err)
	assert.Equal(t, map[string]string{"AI_API_KEY": "sk-test", "DB_PASSWORD": "12345"}, got)
}

func TestFetch_KVv1(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/kv/vetai", r.URL.Path)
		w.Write([]byte(`{"data":{"REDIS_PASSWORD":"hunter2"}}`))
	}))
	defer server.Close()

	got, err := Fetch(context.Background(), VaultConfig{
		Enabled:   true,
		Addr:      server.URL,
		Token:     "t",
		Mount:     "kv",
		Path:      "vetai",
		KVVersion: 1,
	})

	require.NoError(t, err)
	assert.Equal(t, "hunter2", got["REDIS_PASSWORD"])
}

func TestFetch_Errors(t *testing.T) {
	got, err := Fetch(context.Background(), VaultConfig{})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = Fetch(context.Background(), VaultConfig{Enabled: true, Addr: "http://vault"})
	assert.Error(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()
	_, err = Fetch(context.Background(), VaultConfig{Enabled: true, Addr: server.URL, Token: "t", Mount: "secret", Path: "p", KVVersion: 2})
	assert.ErrorContains(t, err, "403")
}
