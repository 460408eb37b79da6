// Package songrequest turns channel point redemptions into Spotify queue
// entries and answers the !song chat command.
package songrequest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/tunecast/eventsub"
	"github.com/onnwee/tunecast/spotifyapi"
	"github.com/onnwee/tunecast/telemetry"
)

// Twitch is the outbound Twitch surface the workflow needs.
type Twitch interface {
	SendChatMessage(ctx context.Context, message string) error
	FulfillRedemption(ctx context.Context, rewardID, redemptionID string) error
	CancelRedemption(ctx context.Context, rewardID, redemptionID string) error
}

// Spotify is the Web API surface the workflow needs.
type Spotify interface {
	GetTrack(ctx context.Context, id string) (spotifyapi.Track, error)
	AddToQueue(ctx context.Context, uri string) error
	GetQueue(ctx context.Context) (spotifyapi.Queue, error)
}

var trackURL = regexp.MustCompile(`^https://open\.spotify\.com/(?:intl-[a-z]{2}/)?track/([a-zA-Z0-9]{22})(?:\?si=[a-zA-Z0-9_-]+)?$`)

// ParseTrackURL returns the track id of a Spotify track URL.
func ParseTrackURL(s string) (string, error) {
	m := trackURL.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", &InvalidURLError{URL: s}
	}
	return m[1], nil
}

// Config identifies the channel and the song request reward.
type Config struct {
	BroadcasterID string
	RewardID      string

	// Best-effort outbound calls are retried MaxRetries times, RetryInterval
	// apart.
	RetryInterval time.Duration
	MaxRetries    uint
}

// Service handles song request redemptions and chat macros.
type Service struct {
	cfg     Config
	twitch  Twitch
	spotify Spotify
	log     *slog.Logger
}

// New returns a Service. Zero retry settings default to 3 retries 200ms apart.
func New(cfg Config, tw Twitch, sp Spotify, log *slog.Logger) *Service {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 200 * time.Millisecond
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{cfg: cfg, twitch: tw, spotify: sp, log: log.With(slog.String("component", "songrequest"))}
}

// Run listens for song request redemptions and chat messages until ctx
// ends. A listener that fails to subscribe does not stop the other one; the
// first such error is returned once both have finished.
func (s *Service) Run(ctx context.Context, d *eventsub.Dispatcher) error {
	var g errgroup.Group
	g.Go(func() error {
		return d.Listen(eventsub.TypeChannelPointsRedemption, "1", eventsub.Condition{
			"broadcaster_user_id": s.cfg.BroadcasterID,
			"reward_id":           s.cfg.RewardID,
		}).Run(ctx, eventsub.Handle(s.HandleRedemption))
	})
	g.Go(func() error {
		return d.Listen(eventsub.TypeChannelChatMessage, "1", eventsub.Condition{
			"broadcaster_user_id": s.cfg.BroadcasterID,
			"user_id":             s.cfg.BroadcasterID,
		}).Run(ctx, eventsub.Handle(s.HandleChatMessage))
	})
	return g.Wait()
}

// HandleRedemption queues the requested track and fulfils the redemption.
// When the request cannot be served the requester is told why and the
// redemption is cancelled, which refunds the points.
func (s *Service) HandleRedemption(ctx context.Context, ev eventsub.ChannelPointsRedemptionEvent) error {
	if s.cfg.RewardID != "" && ev.Reward.ID != s.cfg.RewardID {
		return nil
	}
	log := s.log.With(slog.String("redemption_id", ev.ID), slog.String("user", ev.UserLogin))
	log.Info("received song request", slog.String("song", ev.UserInput))

	track, err := s.enqueue(ctx, ev.UserInput)
	if err != nil {
		var reqErr Error
		if !errors.As(err, &reqErr) {
			return err
		}
		telemetry.RecordSongRequest(reqErr.outcome())
		log.Error("song request failed", slog.Any("err", err))
		s.refund(ctx, ev, reqErr)
		return nil
	}

	telemetry.RecordSongRequest("queued")
	msg := fmt.Sprintf("@%s requested %s by %s", ev.UserName, track.Name, strings.Join(track.ArtistNames(), ", "))
	_ = s.notify(ctx, "chat", func(ctx context.Context) error { return s.twitch.SendChatMessage(ctx, msg) })
	_ = s.notify(ctx, "fulfill", func(ctx context.Context) error {
		return s.twitch.FulfillRedemption(ctx, ev.Reward.ID, ev.ID)
	})
	return nil
}

func (s *Service) enqueue(ctx context.Context, input string) (spotifyapi.Track, error) {
	id, err := ParseTrackURL(input)
	if err != nil {
		return spotifyapi.Track{}, err
	}
	track, err := s.spotify.GetTrack(ctx, id)
	if err != nil {
		return spotifyapi.Track{}, &NotFoundError{TrackID: id, Err: err}
	}
	if err := s.spotify.AddToQueue(ctx, track.URI); err != nil {
		return spotifyapi.Track{}, &EnqueueError{Track: track, Err: err}
	}
	return track, nil
}

func (s *Service) refund(ctx context.Context, ev eventsub.ChannelPointsRedemptionEvent, reqErr Error) {
	_ = s.notify(ctx, "chat", func(ctx context.Context) error {
		return s.twitch.SendChatMessage(ctx, reqErr.ChatMessage(ev.UserName))
	})
	err := s.notify(ctx, "cancel", func(ctx context.Context) error {
		return s.twitch.CancelRedemption(ctx, ev.Reward.ID, ev.ID)
	})
	result := fmt.Sprintf("@%s your points have been refunded", ev.UserName)
	if err != nil {
		result = fmt.Sprintf("@%s there was a problem refunding your points", ev.UserName)
	}
	_ = s.notify(ctx, "chat", func(ctx context.Context) error { return s.twitch.SendChatMessage(ctx, result) })
}

// HandleChatMessage answers chat macros. Only plain text messages are
// considered.
func (s *Service) HandleChatMessage(ctx context.Context, ev eventsub.ChannelChatMessageEvent) error {
	if ev.MessageType != "" && ev.MessageType != "text" {
		return nil
	}
	switch strings.TrimSpace(ev.Message.Text) {
	case "!song":
		msg := s.currentSongMessage(ctx, ev.ChatterUserName)
		_ = s.notify(ctx, "chat", func(ctx context.Context) error { return s.twitch.SendChatMessage(ctx, msg) })
	}
	return nil
}

func (s *Service) currentSongMessage(ctx context.Context, user string) string {
	q, err := s.spotify.GetQueue(ctx)
	if err != nil {
		s.log.Warn("get queue failed", slog.Any("err", err))
		return fmt.Sprintf("@%s sorry, your request for the current song failed! NotLikeThis", user)
	}
	items := q.Items()
	if len(items) == 0 || !items[0].IsTrack() {
		return fmt.Sprintf("@%s no songs are currently in the Spotify song queue", user)
	}
	cur := items[0]
	name := cur.Name
	if name == "" {
		name = "<unknown>"
	}
	if artists := cur.ArtistNames(); len(artists) > 0 {
		return fmt.Sprintf("Current Song: %s by %s", name, strings.Join(artists, ", "))
	}
	return "Current Song: " + name
}

// Queue returns up to limit tracks: the current one first, then the
// upcoming ones. Episodes are skipped.
func (s *Service) Queue(ctx context.Context, limit int) ([]spotifyapi.Track, error) {
	q, err := s.spotify.GetQueue(ctx)
	if err != nil {
		return nil, err
	}
	var out []spotifyapi.Track
	for _, it := range q.Items() {
		if !it.IsTrack() {
			continue
		}
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, it)
	}
	return out, nil
}

// notify runs a best-effort outbound call with fixed-interval retries. The
// final error is logged and returned for callers that branch on it.
func (s *Service) notify(ctx context.Context, action string, fn func(context.Context) error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, fn(ctx)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(s.cfg.RetryInterval)),
		backoff.WithMaxTries(s.cfg.MaxRetries+1),
	)
	if err != nil {
		telemetry.RecordNotifyFailure(action)
		s.log.Warn("best-effort call failed", slog.String("action", action), slog.Any("err", err))
	}
	return err
}
