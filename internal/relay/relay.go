// ABOUTME: Per-message orchestration between WhatsApp and the streaming backend
// ABOUTME: Sequences read receipt, thinking reaction, backend session, formatting and reply

package relay

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/2389/whatsapp-bridge/internal/backend"
	"github.com/2389/whatsapp-bridge/internal/dedupe"
	"github.com/2389/whatsapp-bridge/internal/format"
	"github.com/2389/whatsapp-bridge/internal/store"
	"github.com/2389/whatsapp-bridge/internal/whatsapp"
)

var errEmptyReply = errors.New("backend returned an empty reply")

// Backend runs conversational sessions.
type Backend interface {
	Run(ctx context.Context, text, sessionKey string) (string, error)
	Ping(ctx context.Context) error
}

// Sender delivers outbound WhatsApp calls.
type Sender interface {
	SendText(ctx context.Context, to, body string) (string, error)
	SendReaction(ctx context.Context, to, messageID, emoji string) error
	MarkAsRead(ctx context.Context, messageID string) error
}

// Recorder stores session outcomes.
type Recorder interface {
	RecordOutcome(ctx context.Context, o *store.SessionOutcome) error
}

// Config controls reply formatting and user-facing notices.
type Config struct {
	MaxReplyLength    int
	ThinkingEmoji     string // empty disables the reaction
	Markdown          bool
	UnavailableNotice string
	ErrorNotice       string
}

// Deps are the collaborators of a Relay. Dedupe, Recorder and Logger are optional.
type Deps struct {
	Backend  Backend
	Sender   Sender
	Dedupe   dedupe.Checker
	Recorder Recorder
	Logger   *slog.Logger
}

// Relay processes normalized messages.
type Relay struct {
	cfg      Config
	backend  Backend
	sender   Sender
	dedupe   dedupe.Checker
	recorder Recorder
	logger   *slog.Logger
}

// New creates a Relay.
func New(cfg Config, deps Deps) (*Relay, error) {
	if deps.Backend == nil {
		return nil, errors.New("relay: backend is required")
	}
	if deps.Sender == nil {
		return nil, errors.New("relay: sender is required")
	}
	if cfg.MaxReplyLength <= 0 {
		cfg.MaxReplyLength = format.MaxMessageLength
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Relay{
		cfg:      cfg,
		backend:  deps.Backend,
		sender:   deps.Sender,
		dedupe:   deps.Dedupe,
		recorder: deps.Recorder,
		logger:   logger.With("component", "relay"),
	}, nil
}

// Process handles msgs sequentially in order. It returns when every message
// has been answered or ctx is done.
func (r *Relay) Process(ctx context.Context, msgs []whatsapp.Message) {
	pending := r.unseen(ctx, msgs)
	if len(pending) == 0 {
		return
	}

	if err := r.backend.Ping(ctx); err != nil {
		r.logger.Warn("backend unavailable", "error", err, "pending", len(pending))
		for _, m := range pending {
			r.sendText(ctx, m.From, r.cfg.UnavailableNotice)
			r.record(ctx, m, store.OutcomeUnavailable, 0, 0)
		}
		return
	}

	for _, m := range pending {
		if ctx.Err() != nil {
			r.logger.Warn("processing canceled", "remaining", len(pending))
			return
		}
		r.handle(ctx, m)
	}
}

// unseen drops messages whose IDs were already handled.
func (r *Relay) unseen(ctx context.Context, msgs []whatsapp.Message) []whatsapp.Message {
	if r.dedupe == nil {
		return msgs
	}
	out := make([]whatsapp.Message, 0, len(msgs))
	for _, m := range msgs {
		if r.dedupe.CheckAndMark(ctx, m.ID) {
			r.logger.Debug("skipping redelivered message", "message_id", m.ID)
			continue
		}
		out = append(out, m)
	}
	return out
}

func (r *Relay) handle(ctx context.Context, m whatsapp.Message) {
	start := time.Now()
	r.logger.Info("processing message",
		"message_id", m.ID,
		"from", m.From,
		"sender", m.SenderName,
		"kind", m.Kind,
		"text", truncate(m.Text, 100),
	)

	r.markRead(ctx, m.ID)
	r.react(ctx, m, r.cfg.ThinkingEmoji)

	reply, err := r.backend.Run(ctx, m.Text, m.SessionKey())
	if err == nil && strings.TrimSpace(reply) == "" {
		err = errEmptyReply
	}

	r.react(ctx, m, "")

	if err != nil {
		outcome := classify(err)
		r.logger.Error("backend session failed",
			"message_id", m.ID,
			"from", m.From,
			"outcome", outcome,
			"error", err,
		)
		if outcome != store.OutcomeCanceled {
			r.sendText(ctx, m.From, r.cfg.ErrorNotice)
		}
		r.record(ctx, m, outcome, 0, time.Since(start))
		return
	}

	text := reply
	if r.cfg.Markdown {
		text = format.WhatsApp(text)
	}
	text = format.Truncate(text, r.cfg.MaxReplyLength)

	if _, err := r.sender.SendText(ctx, m.From, text); err != nil {
		r.logger.Error("failed to send reply", "message_id", m.ID, "to", m.From, "error", err)
		r.sendText(ctx, m.From, r.cfg.ErrorNotice)
		r.record(ctx, m, store.OutcomeFailed, 0, time.Since(start))
		return
	}

	r.logger.Info("reply sent",
		"message_id", m.ID,
		"to", m.From,
		"length", utf8.RuneCountInString(text),
		"duration", time.Since(start),
	)
	r.record(ctx, m, store.OutcomeReplied, utf8.RuneCountInString(text), time.Since(start))
}

func (r *Relay) markRead(ctx context.Context, messageID string) {
	if err := r.sender.MarkAsRead(ctx, messageID); err != nil {
		r.logger.Warn("failed to mark message as read", "message_id", messageID, "error", err)
	}
}

// react sets emoji on m, or clears it when emoji is empty. Disabled reactions skip both.
func (r *Relay) react(ctx context.Context, m whatsapp.Message, emoji string) {
	if r.cfg.ThinkingEmoji == "" {
		return
	}
	if err := r.sender.SendReaction(ctx, m.From, m.ID, emoji); err != nil {
		r.logger.Warn("failed to update reaction", "message_id", m.ID, "emoji", emoji, "error", err)
	}
}

func (r *Relay) sendText(ctx context.Context, to, body string) {
	if body == "" {
		return
	}
	if _, err := r.sender.SendText(ctx, to, body); err != nil {
		r.logger.Error("failed to send notice", "to", to, "error", err)
	}
}

func (r *Relay) record(ctx context.Context, m whatsapp.Message, outcome string, replyLength int, d time.Duration) {
	if r.recorder == nil {
		return
	}
	o := &store.SessionOutcome{
		MessageID:   m.ID,
		SenderID:    m.From,
		Kind:        string(m.Kind),
		Outcome:     outcome,
		ReplyLength: replyLength,
		Duration:    d,
	}
	if err := r.recorder.RecordOutcome(context.WithoutCancel(ctx), o); err != nil {
		r.logger.Warn("failed to record outcome", "message_id", m.ID, "error", err)
	}
}

// classify maps a session error to its outcome label.
func classify(err error) string {
	var be *backend.BackendError
	var ce *backend.ClosedError
	switch {
	case errors.Is(err, backend.ErrTimeout):
		return store.OutcomeTimeout
	case errors.Is(err, backend.ErrConnection):
		return store.OutcomeConnectionFailure
	case errors.As(err, &be):
		return store.OutcomeBackendError
	case errors.As(err, &ce):
		return store.OutcomeProtocolClosed
	case errors.Is(err, errEmptyReply):
		return store.OutcomeEmptyReply
	case errors.Is(err, context.Canceled):
		return store.OutcomeCanceled
	default:
		return store.OutcomeFailed
	}
}

// truncate shortens a string to the given max rune count, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
