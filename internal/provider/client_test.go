package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/hyperjump/shiori/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_PostJSON(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/v1/echo", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var in map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		if hits.Load() == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["msg"]})
	}))
	defer srv.Close()

	c := &Client{Name: "test", BaseURL: srv.URL + "/v1/", APIKey: "secret", Retry: fastPolicy(3, 0), Throttle: NewThrottle(0, 2)}
	var out struct {
		Echo string `json:"echo"`
	}
	err := c.PostJSON(context.Background(), "echo", "/echo", map[string]string{"msg": "hi"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "hi", out.Echo)
	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_PostJSONRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"input too long"}}`))
	}))
	defer srv.Close()

	c := &Client{Name: "test", BaseURL: srv.URL, Retry: fastPolicy(3, 0)}
	var out struct{}
	err := c.PostJSON(context.Background(), "embed", "/embeddings", map[string]string{}, &out)
	require.Error(t, err)
	var pe *errs.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusBadRequest, pe.StatusCode)
	assert.Contains(t, pe.Error(), "input too long")
}

func TestThrottle_NilAdmitsEverything(t *testing.T) {
	var th *Throttle
	release, err := th.Acquire(context.Background())
	require.NoError(t, err)
	release()
}

func TestThrottle_BoundsInFlight(t *testing.T) {
	th := NewThrottle(0, 1)
	release, err := th.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = th.Acquire(ctx)
	assert.Error(t, err, "second acquire should block until cancelled")

	release()
	release2, err := th.Acquire(context.Background())
	require.NoError(t, err)
	release2()
}
