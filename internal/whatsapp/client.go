// ABOUTME: Graph API client for sending replies, reactions and read receipts
// ABOUTME: Posts JSON to /{phone_number_id}/messages with bearer auth and decodes API errors

package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultAPIBaseURL is the versioned Graph API root.
const DefaultAPIBaseURL = "https://graph.facebook.com/v21.0"

// APIError is the error object returned by the Graph API.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Code       int    `json:"code"`
	Subcode    int    `json:"error_subcode,omitempty"`
	TraceID    string `json:"fbtrace_id,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp API error: %s (code: %d)", e.Message, e.Code)
}

// ClientConfig configures a Graph API client.
type ClientConfig struct {
	BaseURL       string
	AccessToken   string
	PhoneNumberID string
	Timeout       time.Duration
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Client sends outbound messages on behalf of one business phone number.
type Client struct {
	endpoint    string
	accessToken string
	http        *http.Client
	logger      *slog.Logger
}

// NewClient creates a Graph API client.
func NewClient(cfg ClientConfig) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultAPIBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		endpoint:    strings.TrimRight(base, "/") + "/" + cfg.PhoneNumberID + "/messages",
		accessToken: cfg.AccessToken,
		http:        httpClient,
		logger:      logger.With("component", "whatsapp"),
	}
}

type sendRequest struct {
	MessagingProduct string        `json:"messaging_product"`
	RecipientType    string        `json:"recipient_type"`
	To               string        `json:"to"`
	Type             string        `json:"type"`
	Text             *textBody     `json:"text,omitempty"`
	Reaction         *reactionBody `json:"reaction,omitempty"`
}

type textBody struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type reactionBody struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type readRequest struct {
	MessagingProduct string `json:"messaging_product"`
	Status           string `json:"status"`
	MessageID        string `json:"message_id"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendText sends a text reply and returns the new message ID.
func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	return c.send(ctx, sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             &textBody{PreviewURL: true, Body: body},
	})
}

// SendReaction reacts to messageID with emoji. An empty emoji removes the reaction.
func (c *Client) SendReaction(ctx context.Context, to, messageID, emoji string) error {
	_, err := c.send(ctx, sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "reaction",
		Reaction:         &reactionBody{MessageID: messageID, Emoji: emoji},
	})
	return err
}

// MarkAsRead marks messageID as read.
func (c *Client) MarkAsRead(ctx context.Context, messageID string) error {
	return c.post(ctx, readRequest{
		MessagingProduct: "whatsapp",
		Status:           "read",
		MessageID:        messageID,
	}, nil)
}

func (c *Client) send(ctx context.Context, req sendRequest) (string, error) {
	var resp sendResponse
	if err := c.post(ctx, req, &resp); err != nil {
		return "", err
	}
	var id string
	if len(resp.Messages) > 0 {
		id = resp.Messages[0].ID
	}
	c.logger.Debug("message sent", "to", req.To, "type", req.Type, "message_id", id)
	return id, nil
}

func (c *Client) post(ctx context.Context, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp.StatusCode, respBody)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func decodeAPIError(status int, body []byte) error {
	var envelope struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error == nil {
		return &APIError{
			StatusCode: status,
			Message:    strings.TrimSpace(string(body)),
			Code:       status,
		}
	}
	envelope.Error.StatusCode = status
	return envelope.Error
}
