package eventsub

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Values of the Twitch-Eventsub-Message-Type header.
const (
	MessageTypeVerification = "webhook_callback_verification"
	MessageTypeNotification = "notification"
	MessageTypeRevocation   = "revocation"
)

// ErrMalformedEnvelope is returned for a verified body that is not a
// recognizable EventSub delivery.
var ErrMalformedEnvelope = errors.New("malformed eventsub envelope")

// Envelope is one of Challenge, Notification or Revocation.
type Envelope interface {
	MessageType() string
	envelope()
}

// Challenge is sent once when a subscription is created. The callback must
// echo the challenge string.
type Challenge struct {
	Challenge    string
	Subscription Subscription
}

// Notification carries one event. Event is kept raw; use Decode to get a
// typed payload.
type Notification struct {
	MessageID    string
	Subscription Subscription
	Event        json.RawMessage
}

// Revocation reports that Twitch ended a subscription. Subscription.Status
// holds the reason.
type Revocation struct {
	Subscription Subscription
}

func (Challenge) MessageType() string    { return MessageTypeVerification }
func (Notification) MessageType() string { return MessageTypeNotification }
func (Revocation) MessageType() string   { return MessageTypeRevocation }

func (Challenge) envelope()    {}
func (Notification) envelope() {}
func (Revocation) envelope()   {}

type rawEnvelope struct {
	Subscription *Subscription   `json:"subscription"`
	Challenge    *string         `json:"challenge"`
	Event        json.RawMessage `json:"event"`
}

// ParseEnvelope classifies body by which fields are present. It does not
// look at headers; the caller compares the result with the message type
// header.
func ParseEnvelope(body []byte) (Envelope, error) {
	var raw rawEnvelope
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if raw.Subscription == nil {
		return nil, fmt.Errorf("%w: missing subscription", ErrMalformedEnvelope)
	}
	switch {
	case raw.Challenge != nil:
		return Challenge{Challenge: *raw.Challenge, Subscription: *raw.Subscription}, nil
	case len(raw.Event) > 0 && !bytes.Equal(raw.Event, []byte("null")):
		return Notification{Subscription: *raw.Subscription, Event: raw.Event}, nil
	default:
		return Revocation{Subscription: *raw.Subscription}, nil
	}
}

// Decode unmarshals the event payload of n into T.
func Decode[T any](n Notification) (T, error) {
	var v T
	if err := json.Unmarshal(n.Event, &v); err != nil {
		return v, fmt.Errorf("decode %s event: %w", n.Subscription.Type, err)
	}
	return v, nil
}
