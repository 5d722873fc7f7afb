// ABOUTME: Tests for the gateway lifecycle and health endpoints
// ABOUTME: Provides the fake backend and fake Graph API fixtures shared by the package tests

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/whatsapp-bridge/internal/config"
)

const testAppSecret = "test-app-secret"

// fakeGraph records every JSON body posted to the messages endpoint.
type fakeGraph struct {
	url      string
	requests chan map[string]any
}

func newFakeGraph(t *testing.T) *fakeGraph {
	t.Helper()
	fg := &fakeGraph{requests: make(chan map[string]any, 32)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			body["_path"] = r.URL.Path
			body["_auth"] = r.Header.Get("Authorization")
			fg.requests <- body
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.out"}]}`))
	}))
	t.Cleanup(srv.Close)
	fg.url = srv.URL
	return fg
}

// nextText waits for the next outbound text message and returns its body.
func (fg *fakeGraph) nextText(t *testing.T) map[string]any {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case req := <-fg.requests:
			if req["type"] == "text" {
				return req
			}
		case <-deadline:
			t.Fatal("timed out waiting for outbound text message")
			return nil
		}
	}
}

func textBody(t *testing.T, req map[string]any) string {
	t.Helper()
	text, ok := req["text"].(map[string]any)
	require.True(t, ok, "text field missing in %v", req)
	body, _ := text["body"].(string)
	return body
}

// wsBackend is a WebSocket backend that runs reply for each user frame.
type wsBackend struct {
	url      string
	received chan string
}

func newWSBackend(t *testing.T, reply func(conn *websocket.Conn, content string)) *wsBackend {
	t.Helper()
	upgrader := websocket.Upgrader{}
	wb := &wsBackend{received: make(chan string, 16)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var frame struct {
			Type    string `json:"type"`
			Content string `json:"content"`
		}
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		wb.received <- frame.Content
		reply(conn, frame.Content)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	wb.url = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return wb
}

// echoReply streams "Hello" and completes.
func echoReply(conn *websocket.Conn, _ string) {
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"chunk","content":"Hel"}`))
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"chunk","content":"lo"}`))
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"done"}`))
}

// testConfig creates a complete config pointing at the given backend and Graph API.
func testConfig(t *testing.T, backendURL, graphURL string) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			HTTPAddr:        freeAddr(t),
			WebhookPath:     "/webhook/whatsapp",
			ShutdownTimeout: 5 * time.Second,
		},
		WhatsApp: config.WhatsAppConfig{
			AppSecret:      testAppSecret,
			VerifyToken:    "verify-me",
			AccessToken:    "graph-token",
			PhoneNumberID:  "123456",
			APIBaseURL:     graphURL,
			RequestTimeout: 5 * time.Second,
		},
		Backend: config.BackendConfig{
			URL:             backendURL,
			Token:           "gateway-token",
			ResponseTimeout: 5 * time.Second,
			PingTimeout:     time.Second,
		},
		Bridge: config.BridgeConfig{
			MaxReplyLength:    4096,
			ThinkingEmoji:     "🤔",
			Markdown:          "whatsapp",
			UnavailableNotice: config.DefaultUnavailableNotice,
			ErrorNotice:       config.DefaultErrorNotice,
		},
		Dedupe: config.DedupeConfig{
			TTL:        time.Hour,
			MaxEntries: 100,
		},
		Logging: config.LoggingConfig{Level: "info", Format: "text"},
	}
}

// freeAddr finds an available local port.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGateway(t *testing.T, cfg *config.Config) *Gateway {
	t.Helper()
	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })
	return gw
}

func TestGatewayNew(t *testing.T) {
	wb := newWSBackend(t, echoReply)
	fg := newFakeGraph(t)
	cfg := testConfig(t, wb.url, fg.url)

	gw := newTestGateway(t, cfg)
	assert.Same(t, cfg, gw.config)
	assert.NotNil(t, gw.relay)
	assert.NotNil(t, gw.dedupe)
	assert.Nil(t, gw.store, "store is disabled without database.path")
}

func TestGatewayNew_InvalidBackendURL(t *testing.T) {
	fg := newFakeGraph(t)
	cfg := testConfig(t, "ftp://example.com", fg.url)

	_, err := New(cfg, testLogger())
	assert.Error(t, err)
}

func TestGatewayNew_WithStore(t *testing.T) {
	wb := newWSBackend(t, echoReply)
	fg := newFakeGraph(t)
	cfg := testConfig(t, wb.url, fg.url)
	cfg.Database.Path = filepath.Join(t.TempDir(), "bridge.db")

	gw := newTestGateway(t, cfg)
	assert.NotNil(t, gw.store)
}

func TestGatewayRunAndShutdown(t *testing.T) {
	wb := newWSBackend(t, echoReply)
	fg := newFakeGraph(t)
	cfg := testConfig(t, wb.url, fg.url)

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.Server.HTTPAddr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("gateway did not shutdown in time")
	}
}

func TestGatewayRun_ListenError(t *testing.T) {
	wb := newWSBackend(t, echoReply)
	fg := newFakeGraph(t)
	cfg := testConfig(t, wb.url, fg.url)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	cfg.Server.HTTPAddr = ln.Addr().String()

	gw := newTestGateway(t, cfg)
	assert.Error(t, gw.Run(context.Background()))
}

func TestHealth(t *testing.T) {
	wb := newWSBackend(t, echoReply)
	fg := newFakeGraph(t)
	gw := newTestGateway(t, testConfig(t, wb.url, fg.url))

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestReady(t *testing.T) {
	t.Run("backend reachable", func(t *testing.T) {
		wb := newWSBackend(t, echoReply)
		fg := newFakeGraph(t)
		gw := newTestGateway(t, testConfig(t, wb.url, fg.url))

		rec := httptest.NewRecorder()
		gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ready", rec.Body.String())
	})

	t.Run("backend down", func(t *testing.T) {
		fg := newFakeGraph(t)
		gw := newTestGateway(t, testConfig(t, "ws://"+freeAddr(t)+"/ws", fg.url))

		rec := httptest.NewRecorder()
		gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestShutdownIsIdempotent(t *testing.T) {
	wb := newWSBackend(t, echoReply)
	fg := newFakeGraph(t)
	gw, err := New(testConfig(t, wb.url, fg.url), testLogger())
	require.NoError(t, err)

	require.NoError(t, gw.Shutdown(context.Background()))
	assert.NoError(t, gw.Shutdown(context.Background()))
}

func TestResolveTailscaleStateDir(t *testing.T) {
	dir, err := resolveTailscaleStateDir("/var/lib/bridge")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/bridge", dir)

	home := t.TempDir()
	t.Setenv("HOME", home)
	dir, err = resolveTailscaleStateDir("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".local", "share", "whatsapp-bridge", "tailscale"), dir)
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")
	_, err := resolveTailscaleAuthKey("")
	assert.Error(t, err)

	key, err := resolveTailscaleAuthKey("tskey-config")
	require.NoError(t, err)
	assert.Equal(t, "tskey-config", key)

	t.Setenv("TS_AUTHKEY", "tskey-env")
	key, err = resolveTailscaleAuthKey("")
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", key)
}

func TestRelayConfig(t *testing.T) {
	rc := relayConfig(config.BridgeConfig{
		MaxReplyLength: 1000,
		ThinkingEmoji:  "none",
		Markdown:       "none",
		ErrorNotice:    "oops",
	})
	assert.Equal(t, 1000, rc.MaxReplyLength)
	assert.Empty(t, rc.ThinkingEmoji)
	assert.False(t, rc.Markdown)
	assert.Equal(t, "oops", rc.ErrorNotice)
}

func TestBackendTokens(t *testing.T) {
	src, err := backendTokens(config.BackendConfig{})
	require.NoError(t, err)
	assert.Nil(t, src)

	src, err = backendTokens(config.BackendConfig{Token: "static"})
	require.NoError(t, err)
	tok, err := src.Token("whatsapp-1555")
	require.NoError(t, err)
	assert.Equal(t, "static", tok)

	src, err = backendTokens(config.BackendConfig{JWTSecret: "backend-secret"})
	require.NoError(t, err)
	tok, err = src.Token("whatsapp-1555")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(tok, "."), "expected a JWT")
}
