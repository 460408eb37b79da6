package songrequest

import (
	"fmt"
	"strings"

	"github.com/onnwee/tunecast/spotifyapi"
)

// Error is a song request failure the requester is told about in chat.
type Error interface {
	error
	ChatMessage(user string) string
	outcome() string
}

const refundNotice = "Your points are being refunded."

// InvalidURLError means the redemption input is not a Spotify track URL.
type InvalidURLError struct {
	URL string
}

func (e *InvalidURLError) Error() string { return fmt.Sprintf("invalid song url %q", e.URL) }

func (e *InvalidURLError) ChatMessage(user string) string {
	return strings.Join([]string{
		"@" + user + " your song request URL was invalid.",
		refundNotice,
		"Did you use a proper Spotify track URL? (https://support.spotify.com/us/artists/article/finding-your-artist-url/)",
	}, " ")
}

func (e *InvalidURLError) outcome() string { return "invalid_url" }

// NotFoundError means Spotify could not return the track.
type NotFoundError struct {
	TrackID string
	Err     error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("track %s not found: %v", e.TrackID, e.Err)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

func (e *NotFoundError) ChatMessage(user string) string {
	return strings.Join([]string{
		"@" + user + " could not find the Spotify track you requested.",
		refundNotice,
		"The Spotify track URL you entered was https://open.spotify.com/track/" + e.TrackID,
	}, " ")
}

func (e *NotFoundError) outcome() string { return "not_found" }

// EnqueueError means the track exists but could not be added to the queue,
// usually because no device is active.
type EnqueueError struct {
	Track spotifyapi.Track
	Err   error
}

func (e *EnqueueError) Error() string {
	return fmt.Sprintf("enqueue %s: %v", e.Track.URI, e.Err)
}

func (e *EnqueueError) Unwrap() error { return e.Err }

func (e *EnqueueError) ChatMessage(user string) string {
	return strings.Join([]string{
		"@" + user + " failed to enqueue the Spotify track you requested.",
		refundNotice,
		"Try again in a few seconds.",
	}, " ")
}

func (e *EnqueueError) outcome() string { return "enqueue_failed" }
