// ABOUTME: Classifies inbound backend WebSocket frames into a closed set of variants
// ABOUTME: Groups type synonyms case-insensitively and treats non-JSON data as a raw chunk

package backend

import (
	"bytes"
	"encoding/json"
	"strings"
)

// unknownErrorMessage is used when an error frame carries no message.
const unknownErrorMessage = "Unknown gateway error"

// Frame is one classified message from the backend.
type Frame interface {
	isFrame()
}

// Chunk is a streamed fragment of the reply.
type Chunk struct {
	Text string
}

// Complete ends the stream; the reply is the concatenation of all chunks.
type Complete struct{}

// CompleteWithText ends the stream with an authoritative full reply.
type CompleteWithText struct {
	Text string
}

// Failure ends the stream with a backend-reported error.
type Failure struct {
	Message string
}

// Unrecognized is any other JSON frame. A non-empty Content is treated as a chunk.
type Unrecognized struct {
	Type    string
	Content string
	Raw     []byte
}

func (Chunk) isFrame()            {}
func (Complete) isFrame()         {}
func (CompleteWithText) isFrame() {}
func (Failure) isFrame()          {}
func (Unrecognized) isFrame()     {}

// Terminal reports whether f ends a session.
func Terminal(f Frame) bool {
	switch f.(type) {
	case Complete, CompleteWithText, Failure:
		return true
	default:
		return false
	}
}

// ParseFrame classifies raw frame data.
func ParseFrame(data []byte) Frame {
	if !json.Valid(data) {
		return Chunk{Text: string(data)}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		// Valid JSON that is not an object carries nothing to extract.
		return Unrecognized{Raw: data}
	}

	typ := strings.ToLower(stringField(fields, "type"))
	content := stringField(fields, "content")

	switch typ {
	case "chunk", "content", "text":
		return Chunk{Text: content}
	case "done", "complete", "end":
		return Complete{}
	case "assistant":
		if content != "" {
			return CompleteWithText{Text: content}
		}
	case "error":
		return Failure{Message: errorMessage(fields)}
	}

	return Unrecognized{Type: typ, Content: content, Raw: data}
}

// errorMessage extracts the message of an error frame. The backend sends
// {"error":{"message":...}}; a bare string error or a top-level message
// field are accepted as well.
func errorMessage(fields map[string]json.RawMessage) string {
	if raw, ok := fields["error"]; ok {
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
		var flat string
		if err := json.Unmarshal(raw, &flat); err == nil && flat != "" {
			return flat
		}
	}
	if msg := stringField(fields, "message"); msg != "" {
		return msg
	}
	return unknownErrorMessage
}

// stringField returns fields[key] when it is a JSON string.
func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok || !bytes.HasPrefix(bytes.TrimSpace(raw), []byte(`"`)) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
