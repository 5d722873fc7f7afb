// ABOUTME: Wire types for WhatsApp Cloud API webhook envelopes
// ABOUTME: Mirrors the object/entry/changes/value nesting sent by the Graph API

package whatsapp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// BusinessAccountObject is the only webhook object type the bridge handles.
const BusinessAccountObject = "whatsapp_business_account"

// WebhookPayload is the top-level webhook envelope.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the changes for one business account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is a single field update inside an entry.
type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

// ChangeValue carries the messages, contacts and statuses of a change.
// Messages and statuses stay raw so one malformed item cannot fail the
// whole delivery; they are decoded individually during normalization.
type ChangeValue struct {
	MessagingProduct string            `json:"messaging_product"`
	Metadata         Metadata          `json:"metadata"`
	Contacts         []Contact         `json:"contacts,omitempty"`
	Messages         []json.RawMessage `json:"messages,omitempty"`
	Statuses         []json.RawMessage `json:"statuses,omitempty"`
}

// Metadata identifies the receiving business number.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// Contact maps a WhatsApp ID to the sender's profile.
type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// InboundMessage is a raw message as delivered in the webhook.
type InboundMessage struct {
	From        string              `json:"from"`
	ID          string              `json:"id"`
	Timestamp   UnixTime            `json:"timestamp"`
	Type        string              `json:"type"`
	Text        *TextContent        `json:"text,omitempty"`
	Image       *MediaContent       `json:"image,omitempty"`
	Audio       *MediaContent       `json:"audio,omitempty"`
	Video       *MediaContent       `json:"video,omitempty"`
	Document    *MediaContent       `json:"document,omitempty"`
	Location    *LocationContent    `json:"location,omitempty"`
	Contacts    []json.RawMessage   `json:"contacts,omitempty"`
	Interactive *InteractiveContent `json:"interactive,omitempty"`
	Button      *ButtonContent      `json:"button,omitempty"`
	Context     *MessageContext     `json:"context,omitempty"`
}

// TextContent is the body of a text message.
type TextContent struct {
	Body string `json:"body"`
}

// MediaContent describes an image, audio, video or document attachment.
type MediaContent struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type,omitempty"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// LocationContent is a shared location pin.
type LocationContent struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Name      string   `json:"name,omitempty"`
	Address   string   `json:"address,omitempty"`
}

// InteractiveContent is the user's answer to a button or list prompt.
type InteractiveContent struct {
	Type        string       `json:"type"`
	ButtonReply *ReplyOption `json:"button_reply,omitempty"`
	ListReply   *ReplyOption `json:"list_reply,omitempty"`
}

// ReplyOption is one selected button or list row.
type ReplyOption struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ButtonContent is a quick-reply button press on a template message.
type ButtonContent struct {
	Text    string `json:"text"`
	Payload string `json:"payload"`
}

// MessageContext links a reply to the message it quotes.
type MessageContext struct {
	From string `json:"from"`
	ID   string `json:"id"`
}

// Status is a delivery status update for an outbound message.
type Status struct {
	ID          string        `json:"id"`
	Status      string        `json:"status"`
	Timestamp   UnixTime      `json:"timestamp"`
	RecipientID string        `json:"recipient_id"`
	Errors      []StatusError `json:"errors,omitempty"`
}

// StatusError explains a failed delivery.
type StatusError struct {
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message,omitempty"`
}

// UnixTime is a Unix-seconds timestamp sent either as a JSON string or a
// number. Values that do not parse decode to the zero time.
type UnixTime struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (u *UnixTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(s)
	}
	u.Time = parseUnixSeconds(string(data))
	return nil
}

func parseUnixSeconds(s string) time.Time {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).UTC()
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Unix(int64(f), 0).UTC()
	}
	return time.Time{}
}

// ParsePayload decodes a raw webhook body.
func ParsePayload(body []byte) (*WebhookPayload, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding webhook payload: %w", err)
	}
	return &payload, nil
}

// Failures returns the failed delivery statuses carried by the payload.
// Statuses that do not decode are skipped.
func (p *WebhookPayload) Failures() []Status {
	var failed []Status
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			for _, raw := range change.Value.Statuses {
				var st Status
				if err := json.Unmarshal(raw, &st); err != nil {
					continue
				}
				if st.Status == "failed" {
					failed = append(failed, st)
				}
			}
		}
	}
	return failed
}
