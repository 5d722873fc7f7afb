// ABOUTME: Gateway orchestrator that wires the webhook, relay and HTTP server
// ABOUTME: Manages listeners (TCP or Tailscale Funnel), in-flight processing and shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/whatsapp-bridge/internal/auth"
	"github.com/2389/whatsapp-bridge/internal/backend"
	"github.com/2389/whatsapp-bridge/internal/config"
	"github.com/2389/whatsapp-bridge/internal/dedupe"
	"github.com/2389/whatsapp-bridge/internal/relay"
	"github.com/2389/whatsapp-bridge/internal/store"
	"github.com/2389/whatsapp-bridge/internal/whatsapp"
)

// maxWebhookBody caps the size of an inbound webhook body.
const maxWebhookBody = 1 << 20

// Gateway receives WhatsApp webhooks and relays them to the backend.
type Gateway struct {
	config      *config.Config
	backend     *backend.Client
	relay       *relay.Relay
	signatures  *auth.SignatureVerifier
	dedupe      dedupe.Checker
	store       store.Store
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// processCtx outlives individual requests; Shutdown cancels it once
	// in-flight batches have had their grace period.
	processCtx    context.Context
	stopProcess   context.CancelFunc
	inflight      sync.WaitGroup
	shutdownOnce  sync.Once
	shutdownError error
}

// initStore opens the outcome store, or returns nil when no database path is configured.
func initStore(cfg *config.Config) (store.Store, error) {
	if cfg.Database.Path == "" {
		return nil, nil
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initDedupe picks the shared Redis checker when a URL is configured, the in-process cache otherwise.
func initDedupe(cfg *config.Config, logger *slog.Logger) (dedupe.Checker, error) {
	if cfg.Dedupe.RedisURL == "" {
		return dedupe.NewMemory(cfg.Dedupe.TTL, cfg.Dedupe.MaxEntries), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := dedupe.NewRedis(ctx, cfg.Dedupe.RedisURL, cfg.Dedupe.TTL, logger.With("component", "dedupe"))
	if err != nil {
		return nil, fmt.Errorf("initializing redis dedupe: %w", err)
	}
	return r, nil
}

// backendTokens returns the token source for backend sessions, or nil for none.
func backendTokens(cfg config.BackendConfig) (auth.TokenSource, error) {
	switch {
	case cfg.Token != "":
		return auth.StaticToken(cfg.Token), nil
	case cfg.JWTSecret != "":
		tokens, err := auth.NewSessionTokens([]byte(cfg.JWTSecret), 0)
		if err != nil {
			return nil, fmt.Errorf("creating session tokens: %w", err)
		}
		return tokens, nil
	default:
		return nil, nil
	}
}

// relayConfig maps the bridge section onto relay settings.
func relayConfig(cfg config.BridgeConfig) relay.Config {
	rc := relay.Config{
		MaxReplyLength:    cfg.MaxReplyLength,
		Markdown:          cfg.Markdown == "whatsapp",
		UnavailableNotice: cfg.UnavailableNotice,
		ErrorNotice:       cfg.ErrorNotice,
	}
	if cfg.ReactionsEnabled() {
		rc.ThinkingEmoji = cfg.ThinkingEmoji
	}
	return rc
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	tokens, err := backendTokens(cfg.Backend)
	if err != nil {
		return nil, err
	}

	backendClient, err := backend.NewClient(backend.Config{
		URL:             cfg.Backend.URL,
		Tokens:          tokens,
		ResponseTimeout: cfg.Backend.ResponseTimeout,
		HealthURL:       cfg.Backend.HealthURL,
		PingTimeout:     cfg.Backend.PingTimeout,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating backend client: %w", err)
	}

	waClient := whatsapp.NewClient(whatsapp.ClientConfig{
		BaseURL:       cfg.WhatsApp.APIBaseURL,
		AccessToken:   cfg.WhatsApp.AccessToken,
		PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
		Timeout:       cfg.WhatsApp.RequestTimeout,
		Logger:        logger,
	})

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	checker, err := initDedupe(cfg, logger)
	if err != nil {
		closeStore(s)
		return nil, err
	}

	deps := relay.Deps{
		Backend: backendClient,
		Sender:  waClient,
		Dedupe:  checker,
		Logger:  logger,
	}
	// Recording is off without a database path.
	if s != nil {
		deps.Recorder = s
	}
	r, err := relay.New(relayConfig(cfg.Bridge), deps)
	if err != nil {
		_ = checker.Close()
		closeStore(s)
		return nil, err
	}

	processCtx, stopProcess := context.WithCancel(context.Background())
	gw := &Gateway{
		config:      cfg,
		backend:     backendClient,
		relay:       r,
		signatures:  auth.NewSignatureVerifier(cfg.WhatsApp.AppSecret),
		dedupe:      checker,
		store:       s,
		logger:      logger.With("component", "gateway"),
		processCtx:  processCtx,
		stopProcess: stopProcess,
	}

	if !gw.signatures.Enabled() {
		gw.logger.Warn("whatsapp.app_secret not set - webhook signatures are NOT verified")
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	mux.HandleFunc(cfg.Server.WebhookPath, gw.handleWebhook)

	if err := gw.registerHTTPAPIRoutes(mux); err != nil {
		stopProcess()
		_ = checker.Close()
		closeStore(s)
		return nil, err
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

func closeStore(s store.Store) {
	if s != nil {
		_ = s.Close()
	}
}

// Handler returns the HTTP handler serving every gateway route.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// registerHTTPAPIRoutes registers operator API routes with or without auth middleware.
func (g *Gateway) registerHTTPAPIRoutes(mux *http.ServeMux) error {
	handler := http.Handler(http.HandlerFunc(g.handleSessionStats))
	if g.config.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(g.config.Auth.JWTSecret))
		if err != nil {
			return fmt.Errorf("creating HTTP JWT verifier: %w", err)
		}
		handler = auth.HTTPAuthMiddleware(verifier, g.logger)(handler)
		g.logger.Info("HTTP auth middleware enabled")
	} else {
		g.logger.Warn("HTTP auth disabled - no auth.jwt_secret configured")
	}
	mux.Handle("/api/stats/sessions", handler)
	return nil
}

// setupTCPListener creates the standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway",
		"http_addr", g.config.Server.HTTPAddr,
		"webhook_path", g.config.Server.WebhookPath,
	)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the HTTP listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr,
			)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// startServer starts the HTTP server in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context bounded by the configured timeout.
// Uses context.Background() since the run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	timeout := g.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "whatsapp-bridge", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListener starts a tsnet node and returns the HTTP listener on it.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	return g.createTailscaleHTTPListener(tsCfg)
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleHTTPListener listens on Funnel (public HTTPS) or plain tailnet HTTP.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	if tsCfg.Funnel {
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443", "webhook_path", g.config.Server.WebhookPath)
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil
	}

	g.logger.Warn("tailscale funnel disabled - Meta cannot reach the webhook from the public internet")
	ln, err := g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// waitInflight waits for background batches until ctx is done, then cancels them.
func (g *Gateway) waitInflight(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		g.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		g.logger.Warn("shutdown timeout reached, canceling in-flight messages")
		g.stopProcess()
		<-done
	}
}

// Shutdown stops accepting webhooks, drains in-flight batches and releases resources.
// It is safe to call more than once.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.shutdownError = g.shutdown(ctx)
	})
	return g.shutdownError
}

func (g *Gateway) shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.waitInflight(ctx)
	g.stopProcess()

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "dedupe close", g.dedupe.Close())
	if g.store != nil {
		errs = appendCloseError(errs, "store close", g.store.Close())
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the backend answers a ping.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.backend.Ping(r.Context()); err != nil {
		g.logger.Debug("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("backend unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
