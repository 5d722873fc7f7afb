// ABOUTME: Flattens webhook envelopes into canonical messages with a textual rendering
// ABOUTME: Resolves sender names from contacts and drops kinds that carry no text

package whatsapp

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Kind is the message type of a normalized message.
type Kind string

// Supported message kinds. Anything else is dropped during normalization.
const (
	KindText        Kind = "text"
	KindImage       Kind = "image"
	KindVideo       Kind = "video"
	KindAudio       Kind = "audio"
	KindDocument    Kind = "document"
	KindLocation    Kind = "location"
	KindContacts    Kind = "contacts"
	KindInteractive Kind = "interactive"
	KindButton      Kind = "button"
)

// Message is a user message in canonical form. Text is never empty.
type Message struct {
	ID         string
	From       string
	SenderName string
	Timestamp  time.Time
	Kind       Kind
	Text       string
	ReplyToID  string
}

// SessionKey is the backend conversation identifier for the sender.
func (m Message) SessionKey() string {
	return "whatsapp-" + m.From
}

// Normalize extracts every supported message from payload in encounter order.
// Payloads for other webhook objects yield nothing. A message that fails to
// decode is logged and dropped without affecting its siblings.
func Normalize(payload *WebhookPayload, logger *slog.Logger) []Message {
	if payload == nil || payload.Object != BusinessAccountObject {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	var out []Message
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}

			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}

			for i, data := range change.Value.Messages {
				var raw InboundMessage
				if err := json.Unmarshal(data, &raw); err != nil {
					logger.Warn("dropping malformed message", "entry", entry.ID, "index", i, "error", err)
					continue
				}
				if msg, ok := normalizeMessage(raw, names); ok {
					out = append(out, msg)
				}
			}
		}
	}
	return out
}

func normalizeMessage(raw InboundMessage, names map[string]string) (Message, bool) {
	kind, text, ok := extractText(raw)
	if !ok || text == "" {
		return Message{}, false
	}

	name := names[raw.From]
	if name == "" {
		name = raw.From
	}

	msg := Message{
		ID:         raw.ID,
		From:       raw.From,
		SenderName: name,
		Timestamp:  raw.Timestamp.Time,
		Kind:       kind,
		Text:       text,
	}
	if raw.Context != nil {
		msg.ReplyToID = raw.Context.ID
	}
	return msg, true
}

// extractText renders the message content as text. ok is false for kinds
// the bridge does not support.
func extractText(raw InboundMessage) (Kind, string, bool) {
	kind := Kind(raw.Type)
	switch kind {
	case KindText:
		if raw.Text == nil {
			return kind, "", true
		}
		return kind, raw.Text.Body, true
	case KindImage:
		return kind, mediaText(raw.Image, "[image]"), true
	case KindVideo:
		return kind, mediaText(raw.Video, "[video]"), true
	case KindAudio:
		return kind, mediaText(raw.Audio, "[audio]"), true
	case KindDocument:
		return kind, mediaText(raw.Document, "[document]"), true
	case KindLocation:
		return kind, locationText(raw.Location), true
	case KindContacts:
		return kind, "[Contact shared]", true
	case KindInteractive:
		return kind, interactiveText(raw.Interactive), true
	case KindButton:
		if raw.Button != nil && raw.Button.Text != "" {
			return kind, raw.Button.Text, true
		}
		return kind, "[Button]", true
	default:
		return "", "", false
	}
}

func mediaText(media *MediaContent, placeholder string) string {
	if media != nil && media.Caption != "" {
		return media.Caption
	}
	return placeholder
}

func locationText(loc *LocationContent) string {
	if loc == nil {
		return "[Location]"
	}
	var b strings.Builder
	b.WriteString("[Location: ")
	b.WriteString(loc.Name)
	b.WriteString(" ")
	b.WriteString(loc.Address)
	b.WriteString(" (")
	b.WriteString(coordinate(loc.Latitude))
	b.WriteString(", ")
	b.WriteString(coordinate(loc.Longitude))
	b.WriteString(")]")
	return b.String()
}

func coordinate(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func interactiveText(in *InteractiveContent) string {
	if in != nil {
		if in.ButtonReply != nil && in.ButtonReply.Title != "" {
			return in.ButtonReply.Title
		}
		if in.ListReply != nil && in.ListReply.Title != "" {
			return in.ListReply.Title
		}
	}
	return "[Interactive]"
}
