// ABOUTME: Backend client that runs one WebSocket session per user message
// ABOUTME: Builds the session URL, arms the deadline before dialing and maps dial failures

package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/whatsapp-bridge/internal/auth"
)

// DefaultResponseTimeout bounds a whole session, dial included.
const DefaultResponseTimeout = 5 * time.Minute

// Config configures a backend client.
type Config struct {
	// URL is the WebSocket endpoint, ws:// or wss:// (http and https are rewritten).
	URL string

	// Tokens supplies the optional token query parameter. Nil sends none.
	Tokens auth.TokenSource

	ResponseTimeout time.Duration

	// HealthURL is probed by Ping when set; otherwise Ping dials the backend host.
	HealthURL   string
	PingTimeout time.Duration

	Dialer     *websocket.Dialer
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client opens backend sessions.
type Client struct {
	endpoint    *url.URL
	tokens      auth.TokenSource
	timeout     time.Duration
	healthURL   string
	pingTimeout time.Duration
	dialer      *websocket.Dialer
	http        *http.Client
	logger      *slog.Logger
}

// NewClient validates cfg and creates a client.
func NewClient(cfg Config) (*Client, error) {
	endpoint, err := parseEndpoint(cfg.URL)
	if err != nil {
		return nil, err
	}

	timeout := cfg.ResponseTimeout
	if timeout <= 0 {
		timeout = DefaultResponseTimeout
	}
	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 30 * time.Second,
		}
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		endpoint:    endpoint,
		tokens:      cfg.Tokens,
		timeout:     timeout,
		healthURL:   cfg.HealthURL,
		pingTimeout: pingTimeout,
		dialer:      dialer,
		http:        httpClient,
		logger:      logger.With("component", "backend"),
	}, nil
}

func parseEndpoint(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, errors.New("backend url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing backend url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("backend url must use ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("backend url has no host")
	}
	return u, nil
}

// Run sends text to the backend under sessionKey and returns the aggregated reply.
// The response timeout covers the dial as well as the stream. Errors are
// ErrTimeout, ErrConnection (wrapped), *BackendError, *ClosedError, or the
// parent context's error when ctx is canceled.
func (c *Client) Run(ctx context.Context, text, sessionKey string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target, err := c.sessionURL(sessionKey)
	if err != nil {
		return "", err
	}

	start := time.Now()
	conn, _, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return "", ErrTimeout
			}
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: %v", ErrConnection, err)
	}

	c.logger.Debug("backend connected", "session", sessionKey, "dial_ms", time.Since(start).Milliseconds())

	s := newSession(conn, c.logger.With("session", sessionKey))
	reply, err := s.run(ctx, text)
	if err != nil {
		c.logger.Warn("backend session failed", "session", sessionKey, "error", err, "duration", time.Since(start))
		return "", err
	}

	c.logger.Info("backend session complete", "session", sessionKey, "reply_length", len(reply), "duration", time.Since(start))
	return reply, nil
}

// sessionURL adds the token and conversation query parameters.
func (c *Client) sessionURL(sessionKey string) (string, error) {
	u := *c.endpoint
	q := u.Query()
	if c.tokens != nil {
		token, err := c.tokens.Token(sessionKey)
		if err != nil {
			return "", fmt.Errorf("backend token: %w", err)
		}
		if token != "" {
			q.Set("token", token)
		}
	}
	if sessionKey != "" {
		q.Set("conversation", sessionKey)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
