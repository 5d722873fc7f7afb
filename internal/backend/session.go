// ABOUTME: One backend round trip: send the user frame, aggregate the stream, resolve once
// ABOUTME: A reader goroutine classifies frames while the caller waits on the latch or deadline

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Close reasons sent with the normal closure status.
const (
	closeComplete = "Complete"
	closeError    = "Error"
	closeTimeout  = "Timeout"
)

const closeWriteWait = time.Second

type outboundFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// session owns one connection. fragments belong to the reader goroutine;
// the result fields are written once under the latch and read after done closes.
type session struct {
	conn   *websocket.Conn
	logger *slog.Logger

	fragments []string

	once   sync.Once
	done   chan struct{}
	text   string
	err    error
	reason string
}

func newSession(conn *websocket.Conn, logger *slog.Logger) *session {
	return &session{
		conn:   conn,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// resolve records the session result. Only the first call has any effect.
func (s *session) resolve(text string, err error, reason string) {
	s.once.Do(func() {
		s.text = text
		s.err = err
		s.reason = reason
		close(s.done)
	})
}

func (s *session) run(ctx context.Context, text string) (string, error) {
	payload, err := json.Marshal(outboundFrame{Type: "user", Content: text})
	if err != nil {
		s.conn.Close()
		return "", fmt.Errorf("encoding user frame: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		s.conn.Close()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", ErrTimeout
		}
		return "", fmt.Errorf("%w: sending user frame: %v", ErrConnection, err)
	}
	_ = s.conn.SetWriteDeadline(time.Time{})

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		s.readLoop()
	}()

	select {
	case <-s.done:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.resolve("", ErrTimeout, closeTimeout)
		} else {
			s.resolve("", ctx.Err(), closeError)
		}
	}

	s.shutdown()
	<-readerDone

	return s.text, s.err
}

// shutdown sends the close frame for the resolved reason and drops the connection.
// When the peer closed first there is no reason and nothing to send.
func (s *session) shutdown() {
	if s.reason != "" {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, s.reason)
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
	}
	s.conn.Close()
}

func (s *session) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.closed(err)
			return
		}

		s.logger.Debug("backend frame", "data", truncate(string(data), 200))

		if s.apply(ParseFrame(data)) {
			return
		}
	}
}

// apply folds one frame into the session and reports whether it was terminal.
func (s *session) apply(frame Frame) bool {
	switch f := frame.(type) {
	case Chunk:
		if f.Text != "" {
			s.fragments = append(s.fragments, f.Text)
		}
	case Complete:
		s.resolve(strings.Join(s.fragments, ""), nil, closeComplete)
		return true
	case CompleteWithText:
		if len(s.fragments) > 0 {
			s.logger.Debug("full reply replaces streamed chunks", "discarded", len(s.fragments))
		}
		s.resolve(f.Text, nil, closeComplete)
		return true
	case Failure:
		s.resolve("", &BackendError{Message: f.Message}, closeError)
		return true
	case Unrecognized:
		if f.Content != "" {
			s.fragments = append(s.fragments, f.Content)
		}
		s.logger.Debug("unknown frame type", "type", f.Type)
	}
	return false
}

// closed handles the end of the read side. After a local resolution this is a no-op.
func (s *session) closed(err error) {
	code, reason := websocket.CloseAbnormalClosure, err.Error()
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code, reason = ce.Code, ce.Text
	}

	if partial := strings.Join(s.fragments, ""); partial != "" {
		s.logger.Info("backend closed with partial reply", "code", code, "reply_length", len(partial))
		s.resolve(partial, nil, "")
		return
	}
	s.resolve("", &ClosedError{Code: code, Reason: reason}, "")
}

// truncate shortens s to maxLen runes for log output.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
