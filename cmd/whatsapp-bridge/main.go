// ABOUTME: Entry point for whatsapp-bridge
// ABOUTME: Serves the WhatsApp webhook and provides operator helper commands

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/whatsapp-bridge/internal/auth"
	"github.com/2389/whatsapp-bridge/internal/config"
	"github.com/2389/whatsapp-bridge/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
           _           _                                _          _     _
 __      _| |__   __ _| |_ ___  __ _ _ __  _ __        | |__  _ __(_) __| | __ _  ___
 \ \ /\ / / '_ \ / _' | __/ __|/ _' | '_ \| '_ \ _____ | '_ \| '__| |/ _' |/ _' |/ _ \
  \ V  V /| | | | (_| | |_\__ \ (_| | |_) | |_) |_____|| |_) | |  | | (_| | (_| |  __/
   \_/\_/ |_| |_|\__,_|\__|___/\__,_| .__/| .__/       |_.__/|_|  |_|\__,_|\__, |\___|
                                    |_|   |_|                              |___/
`

func usage() {
	fmt.Println("Usage: whatsapp-bridge <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                  Start the webhook server")
	fmt.Println("  init                   Create a new config file interactively")
	fmt.Println("  health                 Check server and backend health")
	fmt.Println("  sign <file|->          Print the X-Hub-Signature-256 value for a webhook body")
	fmt.Println("  token [--subject S]    Mint a bearer token for the stats API")
	fmt.Println("  stats                  Show session outcome counts")
	fmt.Println("  version                Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "sign":
		err = runSign(os.Args[2:], os.Stdin, os.Stdout)
	case "token":
		err = runToken(os.Args[2:], os.Stdout)
	case "stats":
		err = runStats(ctx)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the resolved config file, or the environment alone when none exists.
func loadConfig() (*config.Config, string, error) {
	path := config.ResolvePath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func runServe(ctx context.Context) error {
	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	source := configPath
	if source == "" {
		source = "(environment only)"
	}
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", source)
	green.Print("    ▶ ")
	fmt.Printf("Webhook:   %s\n", cfg.Server.WebhookPath)
	green.Print("    ▶ ")
	fmt.Printf("Backend:   %s\n", cfg.Backend.URL)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}

	if cfg.WhatsApp.AppSecret == "" {
		yellow.Println("    ! webhook signatures are not verified (whatsapp.app_secret is empty)")
	}

	fmt.Println()

	logger.Info("starting whatsapp-bridge",
		"config", source,
		"http_addr", cfg.Server.HTTPAddr,
		"webhook_path", cfg.Server.WebhookPath,
		"backend_url", cfg.Backend.URL,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// localURL returns the base URL for reaching a locally running server.
func localURL(cfg *config.Config) (string, error) {
	addr := cfg.Server.HTTPAddr
	if addr == "" {
		return "", errors.New("server.http_addr is not set (tailscale-only deployments are not reachable locally)")
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr, nil
}

func getBody(ctx context.Context, url, token string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	base, err := localURL(cfg)
	if err != nil {
		return err
	}

	status, _, err := getBody(ctx, base+"/health", "")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", status)
	}

	status, body, err := getBody(ctx, base+"/health/ready", "")
	if err != nil {
		return fmt.Errorf("readiness check failed: %w", err)
	}
	if status != http.StatusOK {
		color.Yellow("alive, backend not ready: %s", strings.TrimSpace(string(body)))
		return fmt.Errorf("not ready: status %d", status)
	}

	color.Green("healthy")
	return nil
}

// runSign prints the signature Meta would send for a body, for replaying webhooks with curl.
func runSign(args []string, stdin io.Reader, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: whatsapp-bridge sign <file|->")
	}

	var body []byte
	var err error
	if args[0] == "-" {
		body, err = io.ReadAll(stdin)
	} else {
		body, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("reading body: %w", err)
	}

	secret := os.Getenv("WHATSAPP_APP_SECRET")
	if secret == "" {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		secret = cfg.WhatsApp.AppSecret
	}
	if secret == "" {
		return errors.New("whatsapp.app_secret is not configured")
	}

	_, err = fmt.Fprintln(out, auth.Sign(body, secret))
	return err
}

// runToken mints an operator JWT signed with auth.jwt_secret.
func runToken(args []string, out io.Writer) error {
	subject := "operator"
	ttl := 30 * 24 * time.Hour
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--subject" || arg == "-s":
			if i+1 >= len(args) {
				return errors.New("--subject requires a value")
			}
			subject = args[i+1]
			i++
		case strings.HasPrefix(arg, "--subject="):
			subject = strings.TrimPrefix(arg, "--subject=")
		case arg == "--ttl":
			if i+1 >= len(args) {
				return errors.New("--ttl requires a value")
			}
			d, err := time.ParseDuration(args[i+1])
			if err != nil || d <= 0 {
				return fmt.Errorf("invalid --ttl %q", args[i+1])
			}
			ttl = d
			i++
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(subject, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	_, err = fmt.Fprintln(out, token)
	return err
}

func runStats(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	base, err := localURL(cfg)
	if err != nil {
		return err
	}

	var token string
	if cfg.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return fmt.Errorf("creating JWT verifier: %w", err)
		}
		if token, err = verifier.Generate("whatsapp-bridge-cli", time.Minute); err != nil {
			return fmt.Errorf("generating token: %w", err)
		}
	}

	status, body, err := getBody(ctx, base+"/api/stats/sessions", token)
	if err != nil {
		return fmt.Errorf("stats request failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("stats request failed: status %d: %s", status, strings.TrimSpace(string(body)))
	}

	var stats gateway.SessionStatsResponse
	if err := json.Unmarshal(body, &stats); err != nil {
		return fmt.Errorf("decoding stats: %w", err)
	}
	printStats(os.Stdout, &stats)
	return nil
}

func printStats(w io.Writer, stats *gateway.SessionStatsResponse) {
	cyan := color.New(color.FgCyan)
	cyan.Fprintf(w, "Sessions since %s: %d\n", stats.Since, stats.Total)
	for outcome, n := range stats.Counts {
		fmt.Fprintf(w, "  %-20s %d\n", outcome, n)
	}
	if len(stats.Recent) == 0 {
		return
	}
	fmt.Fprintln(w)
	cyan.Fprintln(w, "Recent")
	for _, o := range stats.Recent {
		fmt.Fprintf(w, "  %s  %-18s %-10s %6dms  %s\n", o.CreatedAt, o.Outcome, o.Kind, o.DurationMS, o.MessageID)
	}
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("whatsapp-bridge configuration setup")
	fmt.Println("===================================")
	fmt.Println()

	defaultConfigPath := "config.yaml"
	if dir, err := os.UserConfigDir(); err == nil {
		defaultConfigPath = filepath.Join(dir, "whatsapp-bridge", "config.yaml")
	}

	outputFile := prompt(reader, "Config file path", defaultConfigPath)
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- WhatsApp Cloud API ---")
	phoneID := prompt(reader, "Phone number ID", "")
	verifyToken := prompt(reader, "Webhook verify token", randomSecret(16))

	fmt.Println("\n--- Backend ---")
	backendURL := prompt(reader, "Backend WebSocket URL", "ws://localhost:18789/ws")

	fmt.Println("\n--- Server ---")
	enableTailscale := isYes(prompt(reader, "Expose via Tailscale Funnel?", "no"))
	httpAddr := ":8080"
	tsHostname := ""
	if enableTailscale {
		tsHostname = prompt(reader, "Tailscale hostname", "whatsapp-bridge")
	} else {
		httpAddr = prompt(reader, "HTTP address", httpAddr)
	}

	var cfg strings.Builder
	cfg.WriteString("# whatsapp-bridge configuration\n")
	cfg.WriteString("# Generated by whatsapp-bridge init\n")
	cfg.WriteString("# Secrets are read from the environment: WHATSAPP_APP_SECRET, WHATSAPP_ACCESS_TOKEN, BRIDGE_GATEWAY_TOKEN\n\n")

	cfg.WriteString("server:\n")
	if !enableTailscale {
		cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", httpAddr))
	}
	cfg.WriteString("  webhook_path: \"/webhook/whatsapp\"\n\n")

	if enableTailscale {
		cfg.WriteString("tailscale:\n")
		cfg.WriteString("  enabled: true\n")
		cfg.WriteString(fmt.Sprintf("  hostname: %q\n", tsHostname))
		cfg.WriteString("  funnel: true\n\n")
	}

	cfg.WriteString("whatsapp:\n")
	cfg.WriteString("  app_secret: \"${WHATSAPP_APP_SECRET}\"\n")
	cfg.WriteString(fmt.Sprintf("  verify_token: %q\n", verifyToken))
	cfg.WriteString("  access_token: \"${WHATSAPP_ACCESS_TOKEN}\"\n")
	cfg.WriteString(fmt.Sprintf("  phone_number_id: %q\n\n", phoneID))

	cfg.WriteString("backend:\n")
	cfg.WriteString(fmt.Sprintf("  url: %q\n", backendURL))
	cfg.WriteString("  token: \"${BRIDGE_GATEWAY_TOKEN}\"\n")
	cfg.WriteString("  response_timeout: \"5m\"\n\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: %q\n\n", randomSecret(32)))

	cfg.WriteString("logging:\n")
	cfg.WriteString("  level: \"info\"\n")
	cfg.WriteString("  format: \"text\"\n")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("\n  ✓ Config written to %s\n", outputFile)
	fmt.Printf("\nWebhook verify token: %s\n", verifyToken)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  %s=%s whatsapp-bridge serve\n", config.EnvConfigPath, outputFile)

	return nil
}

func randomSecret(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
