// ABOUTME: Default values applied after the file and environment are read
// ABOUTME: Notices and limits match what WhatsApp users see from the bridge

package config

import "time"

// Default user-facing notices.
const (
	DefaultUnavailableNotice = "⚠️ Sorry, the assistant is currently unavailable. Please try again later."
	DefaultErrorNotice       = "❌ Sorry, I encountered an error processing your message. Please try again."
)

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Server.WebhookPath == "" {
		c.Server.WebhookPath = "/webhook/whatsapp"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.WhatsApp.RequestTimeout == 0 {
		c.WhatsApp.RequestTimeout = 30 * time.Second
	}

	if c.Backend.ResponseTimeout == 0 {
		c.Backend.ResponseTimeout = 5 * time.Minute
	}
	if c.Backend.PingTimeout == 0 {
		c.Backend.PingTimeout = 5 * time.Second
	}

	if c.Bridge.MaxReplyLength == 0 {
		c.Bridge.MaxReplyLength = 4096
	}
	if c.Bridge.ThinkingEmoji == "" {
		c.Bridge.ThinkingEmoji = "🤔"
	}
	if c.Bridge.Markdown == "" {
		c.Bridge.Markdown = "whatsapp"
	}
	if c.Bridge.UnavailableNotice == "" {
		c.Bridge.UnavailableNotice = DefaultUnavailableNotice
	}
	if c.Bridge.ErrorNotice == "" {
		c.Bridge.ErrorNotice = DefaultErrorNotice
	}

	if c.Dedupe.TTL == 0 {
		c.Dedupe.TTL = time.Hour
	}
	if c.Dedupe.MaxEntries == 0 {
		c.Dedupe.MaxEntries = 10000
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}
