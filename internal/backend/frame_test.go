// ABOUTME: Tests for backend frame classification
// ABOUTME: Covers type synonyms, case folding, error message fallbacks and raw data

package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name string
		data string
		want Frame
	}{
		{"chunk", `{"type":"chunk","content":"a"}`, Chunk{Text: "a"}},
		{"content", `{"type":"content","content":"b"}`, Chunk{Text: "b"}},
		{"text", `{"type":"text","content":"c"}`, Chunk{Text: "c"}},
		{"chunk upper case", `{"type":"CHUNK","content":"d"}`, Chunk{Text: "d"}},
		{"chunk without content", `{"type":"chunk"}`, Chunk{}},
		{"done", `{"type":"done"}`, Complete{}},
		{"complete", `{"type":"complete"}`, Complete{}},
		{"end", `{"type":"End"}`, Complete{}},
		{"assistant", `{"type":"assistant","content":"full"}`, CompleteWithText{Text: "full"}},
		{"error nested", `{"type":"error","error":{"message":"boom"}}`, Failure{Message: "boom"}},
		{"error string", `{"type":"error","error":"flat"}`, Failure{Message: "flat"}},
		{"error top-level message", `{"type":"error","message":"top"}`, Failure{Message: "top"}},
		{"error fallback", `{"type":"error"}`, Failure{Message: "Unknown gateway error"}},
		{"non-json", `hello world`, Chunk{Text: "hello world"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseFrame([]byte(tt.data)))
		})
	}
}

func TestParseFrame_Unrecognized(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		typ     string
		content string
	}{
		{"unknown with content", `{"type":"delta","content":"x"}`, "delta", "x"},
		{"unknown without content", `{"type":"status","state":"thinking"}`, "status", ""},
		{"assistant empty", `{"type":"assistant","content":""}`, "assistant", ""},
		{"missing type", `{"content":"y"}`, "", "y"},
		{"non-string content", `{"type":"chunkish","content":42}`, "chunkish", ""},
		{"json array", `[1,2,3]`, "", ""},
		{"json string", `"just a string"`, "", ""},
		{"json null", `null`, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := ParseFrame([]byte(tt.data))
			u, ok := frame.(Unrecognized)
			if assert.True(t, ok, "got %T", frame) {
				assert.Equal(t, tt.typ, u.Type)
				assert.Equal(t, tt.content, u.Content)
				assert.False(t, Terminal(frame))
			}
		})
	}
}

func TestTerminal(t *testing.T) {
	assert.True(t, Terminal(Complete{}))
	assert.True(t, Terminal(CompleteWithText{Text: "x"}))
	assert.True(t, Terminal(Failure{Message: "x"}))
	assert.False(t, Terminal(Chunk{Text: "x"}))
}
