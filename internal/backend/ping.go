// ABOUTME: Reachability probe for the backend used before processing a webhook batch
// ABOUTME: GETs the health URL when configured, otherwise opens a TCP connection to the host

package backend

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
)

// Ping reports whether the backend is reachable.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.pingTimeout)
	defer cancel()

	if c.healthURL != "" {
		return c.pingHTTP(ctx)
	}
	return c.pingTCP(ctx)
}

func (c *Client) pingHTTP(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL, nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: health check returned %d", ErrConnection, resp.StatusCode)
	}
	return nil
}

func (c *Client) pingTCP(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", hostPort(c.endpoint.Scheme, c.endpoint.Host))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return conn.Close()
}

func hostPort(scheme, host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	if scheme == "wss" {
		return net.JoinHostPort(host, "443")
	}
	return net.JoinHostPort(host, "80")
}
