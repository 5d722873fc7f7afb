// ABOUTME: Minimal fake backend for E2E testing: accepts WebSocket sessions and streams echo replies.
// ABOUTME: Usage: fake-backend [-addr localhost:18789] [-token secret] [-chunk 12] [-delay 50ms]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type options struct {
	token     string
	chunkSize int
	delay     time.Duration
}

type userFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type replyFrame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func main() {
	addr := flag.String("addr", "localhost:18789", "listen address")
	token := flag.String("token", "", "required token query parameter (empty accepts any)")
	chunk := flag.Int("chunk", 12, "characters per streamed chunk")
	delay := flag.Duration("delay", 50*time.Millisecond, "delay between chunks")
	flag.Parse()

	opts := options{token: *token, chunkSize: *chunk, delay: *delay}
	if err := run(*addr, opts); err != nil {
		log.Fatal(err)
	}
}

func run(addr string, opts options) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("/ws", sessionHandler(opts))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(os.Stderr, "fake backend listening on ws://%s/ws\n", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func sessionHandler(opts options) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if opts.token != "" && r.URL.Query().Get("token") != opts.token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("upgrade error: %v", err)
			return
		}
		defer conn.Close()

		var in userFrame
		if err := conn.ReadJSON(&in); err != nil {
			log.Printf("read error: %v", err)
			return
		}
		log.Printf("received message [%s]: %s", r.URL.Query().Get("conversation"), in.Content)

		for _, f := range replyFrames(in.Content, opts.chunkSize) {
			if err := conn.WriteJSON(f); err != nil {
				log.Printf("write error: %v", err)
				return
			}
			time.Sleep(opts.delay)
		}

		// Wait for the bridge to close the session.
		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
}

// replyFrames scripts the response for input. Keywords select the error and
// non-streaming paths; anything else is echoed in chunks.
func replyFrames(input string, chunkSize int) []replyFrame {
	lower := strings.ToLower(input)
	switch {
	case strings.Contains(lower, "fail"):
		f := replyFrame{Type: "error"}
		f.Error = &struct {
			Message string `json:"message"`
		}{Message: "simulated backend failure"}
		return []replyFrame{f}
	case strings.Contains(lower, "whole"):
		return []replyFrame{{Type: "assistant", Content: echoReply(input)}}
	}

	reply := []rune(echoReply(input))
	if chunkSize < 1 {
		chunkSize = len(reply)
	}
	var frames []replyFrame
	for len(reply) > 0 {
		n := min(chunkSize, len(reply))
		frames = append(frames, replyFrame{Type: "chunk", Content: string(reply[:n])})
		reply = reply[n:]
	}
	return append(frames, replyFrame{Type: "done"})
}

func echoReply(input string) string {
	lower := strings.ToLower(input)
	if strings.Contains(lower, "markdown") || strings.Contains(lower, "bullet") || strings.Contains(lower, "list") {
		return "Here is a **markdown** response:\n\n- First item\n- Second item with `code`\n- Third item\n\n> This is a blockquote.\n"
	}
	return fmt.Sprintf("Echo: **%s**\n\nI received your message and am responding with some *formatted* text.", input)
}
