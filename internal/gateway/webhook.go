// ABOUTME: WhatsApp webhook endpoint: subscription handshake and signed event delivery
// ABOUTME: Acknowledges deliveries immediately and relays normalized messages in the background

package gateway

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/2389/whatsapp-bridge/internal/auth"
	"github.com/2389/whatsapp-bridge/internal/whatsapp"
)

// handleWebhook dispatches GET (verification) and POST (delivery) on the webhook path.
func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		g.handleVerify(w, r)
	case http.MethodPost:
		g.handleDelivery(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleVerify answers Meta's subscription handshake by echoing hub.challenge.
func (g *Gateway) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode != "subscribe" || token != g.config.WhatsApp.VerifyToken {
		g.logger.Warn("webhook verification failed", "mode", mode, "remote_addr", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	g.logger.Info("webhook verified")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

// handleDelivery authenticates and parses a webhook delivery, then hands the
// messages to the relay on a background goroutine.
func (g *Gateway) handleDelivery(w http.ResponseWriter, r *http.Request) {
	logger := g.logger.With("request_id", uuid.NewString())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.Warn("webhook body too large", "limit", tooLarge.Limit)
			http.Error(w, "Payload Too Large", http.StatusRequestEntityTooLarge)
			return
		}
		logger.Warn("failed to read webhook body", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if g.signatures.Enabled() {
		header := r.Header.Get(auth.SignatureHeader)
		if header == "" {
			header = r.Header.Get(auth.LegacySignatureHeader)
		}
		if !g.signatures.Verify(body, header) {
			logger.Warn("invalid webhook signature", "remote_addr", r.RemoteAddr, "has_header", header != "")
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			return
		}
	} else {
		logger.Debug("webhook signature not verified (no app secret)")
	}

	payload, err := whatsapp.ParsePayload(body)
	if err != nil {
		logger.Warn("invalid webhook payload", "error", err)
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	g.logStatusFailures(logger, payload)

	msgs := whatsapp.Normalize(payload, logger)
	logger.Debug("webhook received", "object", payload.Object, "messages", len(msgs))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))

	if len(msgs) > 0 {
		g.dispatch(msgs)
	}
}

// dispatch processes msgs on a tracked goroutine that outlives the request.
func (g *Gateway) dispatch(msgs []whatsapp.Message) {
	g.inflight.Add(1)
	go func() {
		defer g.inflight.Done()
		g.relay.Process(g.processCtx, msgs)
	}()
}

func (g *Gateway) logStatusFailures(logger *slog.Logger, payload *whatsapp.WebhookPayload) {
	for _, st := range payload.Failures() {
		attrs := []any{"message_id", st.ID, "recipient", st.RecipientID}
		if len(st.Errors) > 0 {
			attrs = append(attrs, "code", st.Errors[0].Code, "title", st.Errors[0].Title)
		}
		logger.Warn("outbound message delivery failed", attrs...)
	}
}
