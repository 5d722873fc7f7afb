// Package config handles configuration loading for whatsapp-bridge.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment
// variable expansion, then overridden by well-known environment variables.
// A deployment that keeps everything in the environment needs no file.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from WHATSAPP_BRIDGE_CONFIG environment variable
//  2. ./config.yaml or ./config.toml
//  3. whatsapp-bridge/config.yaml under the user config directory
//
// # Environment Variables
//
// Values can reference the environment inline:
//
//	whatsapp:
//	  app_secret: "${WHATSAPP_APP_SECRET}"
//
// These variables override the file when set:
//
//	WHATSAPP_APP_SECRET        whatsapp.app_secret
//	WHATSAPP_VERIFY_TOKEN      whatsapp.verify_token
//	WHATSAPP_ACCESS_TOKEN      whatsapp.access_token
//	WHATSAPP_PHONE_NUMBER_ID   whatsapp.phone_number_id
//	BRIDGE_BACKEND_URL         backend.url
//	BRIDGE_GATEWAY_TOKEN       backend.token
//	BRIDGE_BACKEND_JWT_SECRET  backend.jwt_secret
//	BRIDGE_REDIS_URL           dedupe.redis_url
//	BRIDGE_DATABASE_PATH       database.path
//	BRIDGE_JWT_SECRET          auth.jwt_secret
//	BRIDGE_HTTP_ADDR           server.http_addr
//	BRIDGE_LOG_LEVEL           logging.level
//	TS_AUTHKEY                 tailscale.auth_key
//
// # Configuration Sections
//
//	server:
//	  http_addr: ":8080"
//	  webhook_path: "/webhook/whatsapp"
//	  shutdown_timeout: "30s"
//
//	whatsapp:
//	  app_secret: "${WHATSAPP_APP_SECRET}"   # empty disables signature checks
//	  verify_token: "${WHATSAPP_VERIFY_TOKEN}"
//	  access_token: "${WHATSAPP_ACCESS_TOKEN}"
//	  phone_number_id: "1234567890"
//	  request_timeout: "30s"
//
//	backend:
//	  url: "ws://localhost:18789/ws"
//	  token: "${BRIDGE_GATEWAY_TOKEN}"       # or jwt_secret, not both
//	  health_url: "http://localhost:18789/health"
//	  response_timeout: "5m"
//	  ping_timeout: "5s"
//
//	bridge:
//	  max_reply_length: 4096
//	  thinking_emoji: "🤔"                   # "none" disables
//	  markdown: "whatsapp"                   # whatsapp, none
//
//	dedupe:
//	  ttl: "1h"
//	  max_entries: 10000
//	  redis_url: ""                          # share across replicas
//
//	database:
//	  path: "/var/lib/whatsapp-bridge/bridge.db"
//
//	auth:
//	  jwt_secret: "${BRIDGE_JWT_SECRET}"     # guards /api/stats
//
//	tailscale:
//	  enabled: false
//	  hostname: "whatsapp-bridge"
//	  funnel: true
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.Load(config.ResolvePath())
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
