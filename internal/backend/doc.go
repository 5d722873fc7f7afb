// Package backend talks to the conversational backend over WebSocket.
//
// Every user message gets its own connection. Client.Run dials the backend
// with the session key as the conversation query parameter, sends
//
//	{"type":"user","content":"..."}
//
// and reads frames until the reply is complete:
//
//	chunk | content | text   append content
//	done | complete | end    reply = all content joined
//	assistant                reply = this content, earlier chunks dropped
//	error                    *BackendError
//	anything else            append content if present
//
// Frames that are not JSON are appended verbatim. If the backend closes
// the connection first, whatever text arrived is the reply; with no text
// the session fails with *ClosedError. The response timeout is armed
// before dialing and fails the session with ErrTimeout.
//
// The session resolves exactly once. The reader goroutine and the waiting
// caller race to a sync.Once latch and the loser's result is discarded.
package backend
