// ABOUTME: Tests for the Graph API client against an httptest server
// ABOUTME: Verifies request shapes, bearer auth and API error decoding

package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	path string
	auth string
	body map[string]any
}

func newGraphServer(t *testing.T, status int, response string) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var captured []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		captured = append(captured, capturedRequest{path: r.URL.Path, auth: r.Header.Get("Authorization"), body: body})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	return srv, &captured
}

func newTestClient(baseURL string) *Client {
	return NewClient(ClientConfig{
		BaseURL:       baseURL,
		AccessToken:   "access-token",
		PhoneNumberID: "PNID",
	})
}

func TestClient_SendText(t *testing.T) {
	srv, captured := newGraphServer(t, http.StatusOK, `{"messaging_product":"whatsapp","messages":[{"id":"wamid.out"}]}`)

	id, err := newTestClient(srv.URL).SendText(context.Background(), "15551234567", "hi there")
	require.NoError(t, err)
	assert.Equal(t, "wamid.out", id)

	require.Len(t, *captured, 1)
	req := (*captured)[0]
	assert.Equal(t, "/PNID/messages", req.path)
	assert.Equal(t, "Bearer access-token", req.auth)
	assert.Equal(t, "whatsapp", req.body["messaging_product"])
	assert.Equal(t, "individual", req.body["recipient_type"])
	assert.Equal(t, "15551234567", req.body["to"])
	assert.Equal(t, "text", req.body["type"])
	assert.Equal(t, map[string]any{"preview_url": true, "body": "hi there"}, req.body["text"])
}

func TestClient_SendReaction(t *testing.T) {
	srv, captured := newGraphServer(t, http.StatusOK, `{"messages":[{"id":"wamid.r"}]}`)
	client := newTestClient(srv.URL)

	require.NoError(t, client.SendReaction(context.Background(), "15551234567", "wamid.in", "🤔"))
	require.NoError(t, client.SendReaction(context.Background(), "15551234567", "wamid.in", ""))

	require.Len(t, *captured, 2)
	assert.Equal(t, "reaction", (*captured)[0].body["type"])
	assert.Equal(t, map[string]any{"message_id": "wamid.in", "emoji": "🤔"}, (*captured)[0].body["reaction"])
	assert.Equal(t, map[string]any{"message_id": "wamid.in", "emoji": ""}, (*captured)[1].body["reaction"])
}

func TestClient_MarkAsRead(t *testing.T) {
	srv, captured := newGraphServer(t, http.StatusOK, `{"success":true}`)

	require.NoError(t, newTestClient(srv.URL).MarkAsRead(context.Background(), "wamid.in"))

	require.Len(t, *captured, 1)
	assert.Equal(t, map[string]any{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        "wamid.in",
	}, (*captured)[0].body)
}

func TestClient_APIError(t *testing.T) {
	srv, _ := newGraphServer(t, http.StatusBadRequest,
		`{"error":{"message":"Invalid parameter","type":"OAuthException","code":100,"fbtrace_id":"abc"}}`)

	_, err := newTestClient(srv.URL).SendText(context.Background(), "1", "x")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, 100, apiErr.Code)
	assert.Equal(t, "OAuthException", apiErr.Type)
	assert.Equal(t, "whatsapp API error: Invalid parameter (code: 100)", apiErr.Error())
}

func TestClient_NonJSONError(t *testing.T) {
	srv, _ := newGraphServer(t, http.StatusBadGateway, "upstream down")

	err := newTestClient(srv.URL).MarkAsRead(context.Background(), "wamid.in")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Code)
	assert.Equal(t, "upstream down", apiErr.Message)
}
