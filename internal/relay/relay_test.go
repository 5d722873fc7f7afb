// ABOUTME: Tests for per-message orchestration with fake backend and sender
// ABOUTME: Verifies call ordering, notices, dedupe, formatting and outcome recording

package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/whatsapp-bridge/internal/backend"
	"github.com/2389/whatsapp-bridge/internal/dedupe"
	"github.com/2389/whatsapp-bridge/internal/format"
	"github.com/2389/whatsapp-bridge/internal/store"
	"github.com/2389/whatsapp-bridge/internal/whatsapp"
)

// fakeBackend answers each session with the next scripted result.
type fakeBackend struct {
	mu       sync.Mutex
	pingErr  error
	replies  map[string]string
	errs     map[string]error
	sessions []string
}

func (f *fakeBackend) Ping(context.Context) error { return f.pingErr }

func (f *fakeBackend) Run(_ context.Context, text, sessionKey string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, sessionKey+":"+text)
	if err, ok := f.errs[text]; ok {
		return "", err
	}
	if reply, ok := f.replies[text]; ok {
		return reply, nil
	}
	return "echo: " + text, nil
}

// fakeSender records every outbound call as a readable string.
type fakeSender struct {
	mu      sync.Mutex
	calls   []string
	textErr error
	failAll bool
}

func (f *fakeSender) SendText(_ context.Context, to, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("text %s %s", to, body))
	if f.failAll {
		return "", errors.New("graph down")
	}
	if f.textErr != nil {
		err := f.textErr
		f.textErr = nil
		return "", err
	}
	return "wamid.out", nil
}

func (f *fakeSender) SendReaction(_ context.Context, to, messageID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("react %s %s %q", to, messageID, emoji))
	if f.failAll {
		return errors.New("graph down")
	}
	return nil
}

func (f *fakeSender) MarkAsRead(_ context.Context, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "read "+messageID)
	if f.failAll {
		return errors.New("graph down")
	}
	return nil
}

func testConfig() Config {
	return Config{
		MaxReplyLength:    format.MaxMessageLength,
		ThinkingEmoji:     "🤔",
		Markdown:          true,
		UnavailableNotice: "unavailable",
		ErrorNotice:       "error",
	}
}

func newTestRelay(t *testing.T, cfg Config, be *fakeBackend, sender *fakeSender, deps Deps) (*Relay, *store.MockStore) {
	t.Helper()
	rec := store.NewMockStore()
	deps.Backend = be
	deps.Sender = sender
	deps.Recorder = rec
	r, err := New(cfg, deps)
	require.NoError(t, err)
	return r, rec
}

func msg(id, from, text string) whatsapp.Message {
	return whatsapp.Message{ID: id, From: from, SenderName: from, Kind: whatsapp.KindText, Text: text}
}

func outcomes(rec *store.MockStore) []string {
	var out []string
	for _, o := range rec.Outcomes() {
		out = append(out, o.Outcome)
	}
	return out
}

func TestProcess_Success(t *testing.T) {
	be := &fakeBackend{replies: map[string]string{"Hi": "Hello"}}
	sender := &fakeSender{}
	r, rec := newTestRelay(t, testConfig(), be, sender, Deps{})

	r.Process(context.Background(), []whatsapp.Message{msg("wamid.1", "15551234567", "Hi")})

	assert.Equal(t, []string{
		"read wamid.1",
		`react 15551234567 wamid.1 "🤔"`,
		`react 15551234567 wamid.1 ""`,
		"text 15551234567 Hello",
	}, sender.calls)
	assert.Equal(t, []string{"whatsapp-15551234567:Hi"}, be.sessions)

	got := rec.Outcomes()
	require.Len(t, got, 1)
	assert.Equal(t, store.OutcomeReplied, got[0].Outcome)
	assert.Equal(t, "wamid.1", got[0].MessageID)
	assert.Equal(t, 5, got[0].ReplyLength)
}

func TestProcess_SessionFailures(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		outcome string
	}{
		{"timeout", backend.ErrTimeout, store.OutcomeTimeout},
		{"connection", fmt.Errorf("%w: refused", backend.ErrConnection), store.OutcomeConnectionFailure},
		{"reported", &backend.BackendError{Message: "boom"}, store.OutcomeBackendError},
		{"closed", &backend.ClosedError{Code: 1006}, store.OutcomeProtocolClosed},
		{"other", errors.New("weird"), store.OutcomeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			be := &fakeBackend{errs: map[string]error{"Hi": tt.err}}
			sender := &fakeSender{}
			r, rec := newTestRelay(t, testConfig(), be, sender, Deps{})

			r.Process(context.Background(), []whatsapp.Message{msg("wamid.1", "1555", "Hi")})

			assert.Equal(t, []string{
				"read wamid.1",
				`react 1555 wamid.1 "🤔"`,
				`react 1555 wamid.1 ""`,
				"text 1555 error",
			}, sender.calls)
			assert.Equal(t, []string{tt.outcome}, outcomes(rec))
		})
	}
}

func TestProcess_EmptyReplyIsError(t *testing.T) {
	be := &fakeBackend{replies: map[string]string{"Hi": "  \n"}}
	sender := &fakeSender{}
	r, rec := newTestRelay(t, testConfig(), be, sender, Deps{})

	r.Process(context.Background(), []whatsapp.Message{msg("wamid.1", "1555", "Hi")})

	assert.Equal(t, "text 1555 error", sender.calls[len(sender.calls)-1])
	assert.Equal(t, []string{store.OutcomeEmptyReply}, outcomes(rec))
}

func TestProcess_BackendUnavailable(t *testing.T) {
	be := &fakeBackend{pingErr: backend.ErrConnection}
	sender := &fakeSender{}
	r, rec := newTestRelay(t, testConfig(), be, sender, Deps{})

	r.Process(context.Background(), []whatsapp.Message{
		msg("wamid.1", "1555", "one"),
		msg("wamid.2", "1666", "two"),
	})

	assert.Empty(t, be.sessions)
	assert.Equal(t, []string{"text 1555 unavailable", "text 1666 unavailable"}, sender.calls)
	assert.Equal(t, []string{store.OutcomeUnavailable, store.OutcomeUnavailable}, outcomes(rec))
}

func TestProcess_SequentialOrder(t *testing.T) {
	be := &fakeBackend{}
	sender := &fakeSender{}
	r, _ := newTestRelay(t, testConfig(), be, sender, Deps{})

	r.Process(context.Background(), []whatsapp.Message{
		msg("a", "1555", "first"),
		msg("b", "1555", "second"),
	})

	assert.Equal(t, []string{"whatsapp-1555:first", "whatsapp-1555:second"}, be.sessions)

	var texts []string
	for _, c := range sender.calls {
		if strings.HasPrefix(c, "text ") {
			texts = append(texts, c)
		}
	}
	assert.Equal(t, []string{"text 1555 echo: first", "text 1555 echo: second"}, texts)
}

func TestProcess_OutboundFailuresSwallowed(t *testing.T) {
	be := &fakeBackend{}
	sender := &fakeSender{failAll: true}
	r, rec := newTestRelay(t, testConfig(), be, sender, Deps{})

	r.Process(context.Background(), []whatsapp.Message{msg("wamid.1", "1555", "Hi")})

	assert.Equal(t, []string{"whatsapp-1555:Hi"}, be.sessions)
	assert.Equal(t, []string{store.OutcomeFailed}, outcomes(rec))
}

func TestProcess_ReplySendFailureSendsNotice(t *testing.T) {
	be := &fakeBackend{}
	sender := &fakeSender{textErr: errors.New("rate limited")}
	r, rec := newTestRelay(t, testConfig(), be, sender, Deps{})

	r.Process(context.Background(), []whatsapp.Message{msg("wamid.1", "1555", "Hi")})

	n := len(sender.calls)
	require.GreaterOrEqual(t, n, 2)
	assert.Equal(t, "text 1555 echo: Hi", sender.calls[n-2])
	assert.Equal(t, "text 1555 error", sender.calls[n-1])
	assert.Equal(t, []string{store.OutcomeFailed}, outcomes(rec))
}

func TestProcess_ReactionsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.ThinkingEmoji = ""
	be := &fakeBackend{}
	sender := &fakeSender{}
	r, _ := newTestRelay(t, cfg, be, sender, Deps{})

	r.Process(context.Background(), []whatsapp.Message{msg("wamid.1", "1555", "Hi")})

	assert.Equal(t, []string{"read wamid.1", "text 1555 echo: Hi"}, sender.calls)
}

func TestProcess_Dedupe(t *testing.T) {
	checker := dedupe.NewMemory(time.Hour, 100)
	defer checker.Close()

	be := &fakeBackend{}
	sender := &fakeSender{}
	r, _ := newTestRelay(t, testConfig(), be, sender, Deps{Dedupe: checker})

	batch := []whatsapp.Message{msg("wamid.1", "1555", "Hi")}
	r.Process(context.Background(), batch)
	r.Process(context.Background(), batch)

	assert.Len(t, be.sessions, 1)
}

func TestProcess_FormatsAndTruncates(t *testing.T) {
	cfg := testConfig()
	cfg.MaxReplyLength = 100
	long := "**Bold** " + strings.Repeat("x", 200)
	be := &fakeBackend{replies: map[string]string{"Hi": long}}
	sender := &fakeSender{}
	r, _ := newTestRelay(t, cfg, be, sender, Deps{})

	r.Process(context.Background(), []whatsapp.Message{msg("wamid.1", "1555", "Hi")})

	last := sender.calls[len(sender.calls)-1]
	body := strings.TrimPrefix(last, "text 1555 ")
	assert.True(t, strings.HasPrefix(body, "*Bold* x"))
	assert.True(t, strings.HasSuffix(body, format.TruncationNotice))
	assert.LessOrEqual(t, len([]rune(body)), 100)
}

func TestProcess_Canceled(t *testing.T) {
	be := &fakeBackend{errs: map[string]error{"Hi": context.Canceled}}
	sender := &fakeSender{}
	r, rec := newTestRelay(t, testConfig(), be, sender, Deps{})

	r.Process(context.Background(), []whatsapp.Message{msg("wamid.1", "1555", "Hi")})

	for _, c := range sender.calls {
		assert.NotEqual(t, "text 1555 error", c)
	}
	assert.Equal(t, []string{store.OutcomeCanceled}, outcomes(rec))
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(testConfig(), Deps{Sender: &fakeSender{}})
	assert.Error(t, err)
	_, err = New(testConfig(), Deps{Backend: &fakeBackend{}})
	assert.Error(t, err)
}
