package identity

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
)

func fastClient(baseURL string) *Client {
	c := NewClient(baseURL, "sk_identity")
	c.baseDelay = time.Millisecond
	return c
}

func TestGetMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/users/user_1", r.URL.Path)
		assert.Equal(t, "Bearer sk_identity", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"public_metadata":{"plan":"pro","subscriptionStatus":"active"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_identity")
	md, err := c.GetMetadata(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, "pro", md.Plan)
	assert.Equal(t, "active", md.Status)
}

func TestPatchMetadata(t *testing.T) {
	var got map[string]Metadata
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/v1/users/user_1/metadata", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_identity")
	err := c.PatchMetadata(context.Background(), "user_1", &Metadata{Plan: "pro", Status: "canceled"})
	require.NoError(t, err)
	assert.Equal(t, "pro", got["public_metadata"].Plan)
	assert.Equal(t, "canceled", got["public_metadata"].Status)
}

func TestDisabledClient(t *testing.T) {
	c := NewClient("", "")
	assert.False(t, c.Enabled())

	_, err := c.GetMetadata(context.Background(), "user_1")
	assert.ErrorIs(t, err, ErrDisabled)

	err = c.PatchMetadata(context.Background(), "user_1", &Metadata{})
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestUpstreamFailureSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := fastClient(srv.URL)
	_, err := c.GetMetadata(context.Background(), "user_1")
	assert.ErrorContains(t, err, "502")
}

func TestTransientFailureRetried(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"public_metadata":{"plan":"pro"}}`))
	}))
	defer srv.Close()

	c := fastClient(srv.URL)
	md, err := c.GetMetadata(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, "pro", md.Plan)
	assert.Equal(t, int64(3), calls.Load())
}

func TestClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := fastClient(srv.URL)
	_, err := c.GetMetadata(context.Background(), "user_1")
	assert.ErrorContains(t, err, "404")
	assert.Equal(t, int64(1), calls.Load())
}

func TestCircuitOpensAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := fastClient(srv.URL)
	for i := 0; i < 5; i++ {
		_, err := c.GetMetadata(context.Background(), "user_1")
		assert.ErrorContains(t, err, "500")
	}

	// Sixth call is rejected without touching the network.
	srv.Close()
	_, err := c.GetMetadata(context.Background(), "user_1")
	assert.ErrorIs(t, err, ErrUnavailable)
}
