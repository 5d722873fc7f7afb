// ABOUTME: Tests for the backend reachability probe
// ABOUTME: Exercises the health URL path and the TCP dial fallback

package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPing_HealthURL(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	health := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer health.Close()

	client, err := NewClient(Config{URL: "ws://127.0.0.1:1/ws", HealthURL: health.URL})
	require.NoError(t, err)

	assert.NoError(t, client.Ping(context.Background()))

	status.Store(http.StatusServiceUnavailable)
	assert.ErrorIs(t, client.Ping(context.Background()), ErrConnection)
}

func TestPing_TCPFallback(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	client, err := NewClient(Config{URL: wsURL})
	require.NoError(t, err)
	assert.NoError(t, client.Ping(context.Background()))

	srv.Close()
	assert.ErrorIs(t, client.Ping(context.Background()), ErrConnection)
}

func TestHostPort(t *testing.T) {
	assert.Equal(t, "example.com:80", hostPort("ws", "example.com"))
	assert.Equal(t, "example.com:443", hostPort("wss", "example.com"))
	assert.Equal(t, "example.com:9000", hostPort("wss", "example.com:9000"))
}
