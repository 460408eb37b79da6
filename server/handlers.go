package server

import (
	"context"
	"time"

	"github.com/onnwee/tunecast/eventsub"
	"github.com/onnwee/tunecast/spotifyapi"
)

const defaultPublishTimeout = 5 * time.Second

// Publisher accepts verified notifications. *eventsub.Dispatcher implements it.
type Publisher interface {
	Publish(ctx context.Context, n eventsub.Notification) error
}

// SongQueue yields the current track followed by upcoming ones.
// *songrequest.Service implements it.
type SongQueue interface {
	Queue(ctx context.Context, limit int) ([]spotifyapi.Track, error)
}

// Options carries the dependencies of the HTTP handlers.
type Options struct {
	Events        Publisher
	WebhookSecret string

	// Songs backs the overlay queue endpoint. Nil disables it.
	Songs SongQueue
	// WidgetHTML is served as the overlay page. Nil disables it.
	WidgetHTML []byte

	// Ready is closed once startup reconciliation has finished. Nil means
	// always ready.
	Ready <-chan struct{}

	// PublishTimeout bounds how long a webhook delivery may wait on a full
	// event bus before the request fails.
	PublishTimeout time.Duration
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	events         Publisher
	secret         string
	songs          SongQueue
	widget         []byte
	ready          <-chan struct{}
	publishTimeout time.Duration
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(opts Options) *Handlers {
	h := &Handlers{
		events:         opts.Events,
		secret:         opts.WebhookSecret,
		songs:          opts.Songs,
		widget:         opts.WidgetHTML,
		ready:          opts.Ready,
		publishTimeout: opts.PublishTimeout,
	}
	if h.publishTimeout <= 0 {
		h.publishTimeout = defaultPublishTimeout
	}
	return h
}
