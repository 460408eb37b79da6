package eventsub

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
)

// Webhook request headers.
const (
	HeaderMessageID        = "Twitch-Eventsub-Message-Id"
	HeaderMessageType      = "Twitch-Eventsub-Message-Type"
	HeaderMessageTimestamp = "Twitch-Eventsub-Message-Timestamp"
	HeaderMessageSignature = "Twitch-Eventsub-Message-Signature"
)

const signaturePrefix = "sha256="

// ErrInvalidSignature covers both missing headers and a signature mismatch.
var ErrInvalidSignature = errors.New("invalid eventsub signature")

// Headers are the EventSub delivery headers.
type Headers struct {
	MessageID   string
	MessageType string
	Timestamp   string
	Signature   string
}

// ParseHeaders extracts the delivery headers. All four must be present and
// the message type must be one Twitch sends.
func ParseHeaders(h http.Header) (Headers, error) {
	out := Headers{
		MessageID:   h.Get(HeaderMessageID),
		MessageType: h.Get(HeaderMessageType),
		Timestamp:   h.Get(HeaderMessageTimestamp),
		Signature:   h.Get(HeaderMessageSignature),
	}
	if out.MessageID == "" || out.MessageType == "" || out.Timestamp == "" || out.Signature == "" {
		return Headers{}, ErrInvalidSignature
	}
	switch out.MessageType {
	case MessageTypeVerification, MessageTypeNotification, MessageTypeRevocation:
	default:
		return Headers{}, ErrInvalidSignature
	}
	return out, nil
}

// Verify checks body against the headers' signature.
func (h Headers) Verify(body []byte, secret string) error {
	if !VerifySignature(h.MessageID, h.Timestamp, body, h.Signature, secret) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the signature header value for a delivery.
func Sign(messageID, timestamp string, body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is "sha256=" followed by the hex
// HMAC-SHA256 of messageID, timestamp and body under secret. The comparison
// is constant time.
func VerifySignature(messageID, timestamp string, body []byte, signature, secret string) bool {
	if !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}
	expected := Sign(messageID, timestamp, body, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
