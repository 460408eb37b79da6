package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/onnwee/tunecast/eventsub"
	"github.com/onnwee/tunecast/telemetry"
)

// Twitch caps EventSub payloads well below this.
const maxWebhookBody = 1 << 20

// HandleTwitchEvents is the EventSub webhook callback. Nothing in the body is
// trusted until the signature has been verified against the raw bytes.
func (h *Handlers) HandleTwitchEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	log := telemetry.LoggerWithCorr(r.Context()).With(slog.String("component", "eventsub_webhook"))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		telemetry.RecordWebhook("unknown", "bad_request")
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	hdr, err := eventsub.ParseHeaders(r.Header)
	if err == nil {
		err = hdr.Verify(body, h.secret)
	}
	if err != nil {
		telemetry.RecordWebhook(messageTypeLabel(r.Header.Get(eventsub.HeaderMessageType)), "forbidden")
		log.Warn("rejected webhook delivery", slog.Any("err", err), slog.String("remote_addr", r.RemoteAddr))
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	log = log.With(slog.String("message_id", hdr.MessageID), slog.String("message_type", hdr.MessageType))

	env, err := eventsub.ParseEnvelope(body)
	if err != nil {
		telemetry.RecordWebhook(messageTypeLabel(hdr.MessageType), "malformed")
		log.Warn("malformed webhook body", slog.Any("err", err))
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	if env.MessageType() != hdr.MessageType {
		// Acknowledge so Twitch does not retry a delivery we will never accept.
		telemetry.RecordWebhook(messageTypeLabel(hdr.MessageType), "mismatch")
		log.Warn("message type header does not match body", slog.String("body_type", env.MessageType()))
		w.WriteHeader(http.StatusOK)
		return
	}

	switch e := env.(type) {
	case eventsub.Challenge:
		log.Info("subscription verification", slog.String("type", e.Subscription.Type), slog.String("subscription_id", e.Subscription.ID))
		telemetry.RecordWebhook(hdr.MessageType, "ok")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, e.Challenge)

	case eventsub.Notification:
		e.MessageID = hdr.MessageID
		ctx, cancel := context.WithTimeout(r.Context(), h.publishTimeout)
		defer cancel()
		if err := h.events.Publish(ctx, e); err != nil {
			// Twitch redelivers on non-2xx.
			telemetry.RecordWebhook(hdr.MessageType, "unavailable")
			log.Error("publish notification failed", slog.String("type", e.Subscription.Type), slog.Any("err", err))
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		telemetry.RecordWebhook(hdr.MessageType, "ok")
		log.Debug("notification accepted", slog.String("type", e.Subscription.Type))
		w.WriteHeader(http.StatusOK)

	case eventsub.Revocation:
		telemetry.RecordWebhook(hdr.MessageType, "ok")
		log.Warn("subscription revoked",
			slog.String("type", e.Subscription.Type),
			slog.String("subscription_id", e.Subscription.ID),
			slog.String("status", e.Subscription.Status),
			slog.Any("condition", e.Subscription.Condition))
		w.WriteHeader(http.StatusOK)

	default:
		telemetry.RecordWebhook(messageTypeLabel(hdr.MessageType), "malformed")
		log.Error("unhandled envelope variant")
		http.Error(w, "malformed body", http.StatusBadRequest)
	}
}

// messageTypeLabel keeps unauthenticated header values out of metric labels.
func messageTypeLabel(v string) string {
	switch v {
	case eventsub.MessageTypeVerification, eventsub.MessageTypeNotification, eventsub.MessageTypeRevocation:
		return v
	}
	return "unknown"
}
