package songrequest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/tunecast/eventsub"
	"github.com/onnwee/tunecast/spotifyapi"
)

type fakeTwitch struct {
	mu        sync.Mutex
	messages  []string
	fulfilled []string
	canceled  []string
	chatFails int // fail this many chat sends before succeeding
	cancelErr error
	chatCalls int
}

func (f *fakeTwitch) SendChatMessage(_ context.Context, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatCalls++
	if f.chatFails > 0 {
		f.chatFails--
		return errors.New("503")
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeTwitch) FulfillRedemption(_ context.Context, rewardID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fulfilled = append(f.fulfilled, rewardID+"/"+id)
	return nil
}

func (f *fakeTwitch) CancelRedemption(_ context.Context, rewardID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.canceled = append(f.canceled, rewardID+"/"+id)
	return nil
}

type fakeSpotify struct {
	tracks   map[string]spotifyapi.Track
	queued   []string
	queueErr error
	queue    spotifyapi.Queue
	getErr   error
}

func (f *fakeSpotify) GetTrack(_ context.Context, id string) (spotifyapi.Track, error) {
	t, ok := f.tracks[id]
	if !ok {
		return spotifyapi.Track{}, &spotifyapi.APIError{StatusCode: 404, Message: "Non existing id"}
	}
	return t, nil
}

func (f *fakeSpotify) AddToQueue(_ context.Context, uri string) error {
	if f.queueErr != nil {
		return f.queueErr
	}
	f.queued = append(f.queued, uri)
	return nil
}

func (f *fakeSpotify) GetQueue(context.Context) (spotifyapi.Queue, error) {
	return f.queue, f.getErr
}

const trackID = "4uLU6hMCjMI75M1A2tKUQC"

var rickroll = spotifyapi.Track{
	ID: trackID, Type: "track", Name: "Never Gonna Give You Up", URI: "spotify:track:" + trackID,
	Artists: []spotifyapi.Artist{{Name: "Rick Astley"}},
}

func newService(tw *fakeTwitch, sp *fakeSpotify) *Service {
	return New(Config{BroadcasterID: "1337", RewardID: "reward", RetryInterval: time.Millisecond}, tw, sp, nil)
}

func redemption(input string) eventsub.ChannelPointsRedemptionEvent {
	return eventsub.ChannelPointsRedemptionEvent{
		ID: "r1", UserLogin: "viewer", UserName: "Viewer", UserInput: input,
		Reward: eventsub.Reward{ID: "reward"},
	}
}

func TestParseTrackURL(t *testing.T) {
	valid := []string{
		"https://open.spotify.com/track/" + trackID,
		"https://open.spotify.com/intl-de/track/" + trackID,
		"https://open.spotify.com/track/" + trackID + "?si=abc_DEF-123",
		"  https://open.spotify.com/track/" + trackID + "  ",
	}
	for _, u := range valid {
		id, err := ParseTrackURL(u)
		require.NoError(t, err, u)
		assert.Equal(t, trackID, id)
	}

	invalid := []string{
		"",
		"never gonna give you up",
		"http://open.spotify.com/track/" + trackID,
		"https://open.spotify.com/album/" + trackID,
		"https://open.spotify.com/track/short",
		"https://open.spotify.com/intl-deu/track/" + trackID,
		"https://open.spotify.com/track/" + trackID + "?utm=1",
	}
	for _, u := range invalid {
		_, err := ParseTrackURL(u)
		var invalidErr *InvalidURLError
		assert.ErrorAs(t, err, &invalidErr, u)
	}
}

func TestRedemptionQueuesAndFulfils(t *testing.T) {
	tw := &fakeTwitch{}
	sp := &fakeSpotify{tracks: map[string]spotifyapi.Track{trackID: rickroll}}

	require.NoError(t, newService(tw, sp).HandleRedemption(context.Background(), redemption("https://open.spotify.com/track/"+trackID)))

	assert.Equal(t, []string{rickroll.URI}, sp.queued)
	assert.Equal(t, []string{"@Viewer requested Never Gonna Give You Up by Rick Astley"}, tw.messages)
	assert.Equal(t, []string{"reward/r1"}, tw.fulfilled)
	assert.Empty(t, tw.canceled)
}

func TestRedemptionInvalidURLRefunds(t *testing.T) {
	tw := &fakeTwitch{}
	sp := &fakeSpotify{}

	require.NoError(t, newService(tw, sp).HandleRedemption(context.Background(), redemption("play despacito")))

	require.Len(t, tw.messages, 2)
	assert.Contains(t, tw.messages[0], "@Viewer your song request URL was invalid.")
	assert.Equal(t, "@Viewer your points have been refunded", tw.messages[1])
	assert.Equal(t, []string{"reward/r1"}, tw.canceled)
	assert.Empty(t, tw.fulfilled)
	assert.Empty(t, sp.queued)
}

func TestRedemptionNotFound(t *testing.T) {
	tw := &fakeTwitch{}
	sp := &fakeSpotify{tracks: map[string]spotifyapi.Track{}}

	require.NoError(t, newService(tw, sp).HandleRedemption(context.Background(), redemption("https://open.spotify.com/track/"+trackID)))

	require.Len(t, tw.messages, 2)
	assert.Contains(t, tw.messages[0], "could not find the Spotify track")
	assert.Contains(t, tw.messages[0], "https://open.spotify.com/track/"+trackID)
	assert.Equal(t, []string{"reward/r1"}, tw.canceled)
}

func TestRedemptionEnqueueFailureAndRefundFailure(t *testing.T) {
	tw := &fakeTwitch{cancelErr: errors.New("already fulfilled")}
	sp := &fakeSpotify{tracks: map[string]spotifyapi.Track{trackID: rickroll}, queueErr: errors.New("no active device")}

	require.NoError(t, newService(tw, sp).HandleRedemption(context.Background(), redemption("https://open.spotify.com/track/"+trackID)))

	require.Len(t, tw.messages, 2)
	assert.Contains(t, tw.messages[0], "failed to enqueue")
	assert.Equal(t, "@Viewer there was a problem refunding your points", tw.messages[1])
}

func TestRedemptionForOtherRewardIgnored(t *testing.T) {
	tw := &fakeTwitch{}
	ev := redemption("https://open.spotify.com/track/" + trackID)
	ev.Reward.ID = "something-else"
	require.NoError(t, newService(tw, &fakeSpotify{}).HandleRedemption(context.Background(), ev))
	assert.Zero(t, tw.chatCalls)
}

func TestNotifyRetriesThreeTimes(t *testing.T) {
	tw := &fakeTwitch{chatFails: 3}
	sp := &fakeSpotify{queue: spotifyapi.Queue{CurrentlyPlaying: &rickroll}}
	svc := newService(tw, sp)

	require.NoError(t, svc.HandleChatMessage(context.Background(), eventsub.ChannelChatMessageEvent{
		ChatterUserName: "Viewer", MessageType: "text", Message: eventsub.ChatMessage{Text: "!song"},
	}))
	assert.Equal(t, 4, tw.chatCalls)
	assert.Equal(t, []string{"Current Song: Never Gonna Give You Up by Rick Astley"}, tw.messages)

	tw.chatFails = 10
	tw.chatCalls = 0
	require.NoError(t, svc.HandleChatMessage(context.Background(), eventsub.ChannelChatMessageEvent{
		ChatterUserName: "Viewer", MessageType: "text", Message: eventsub.ChatMessage{Text: "!song"},
	}))
	assert.Equal(t, 4, tw.chatCalls, "gives up after three retries")
}

func TestSongMacroReplies(t *testing.T) {
	episode := spotifyapi.Item{Type: "episode", Name: "A podcast"}
	tests := []struct {
		name  string
		sp    *fakeSpotify
		reply string
	}{
		{"current track", &fakeSpotify{queue: spotifyapi.Queue{CurrentlyPlaying: &rickroll}}, "Current Song: Never Gonna Give You Up by Rick Astley"},
		{"empty queue", &fakeSpotify{}, "@Viewer no songs are currently in the Spotify song queue"},
		{"episode playing", &fakeSpotify{queue: spotifyapi.Queue{CurrentlyPlaying: &episode}}, "@Viewer no songs are currently in the Spotify song queue"},
		{"spotify down", &fakeSpotify{getErr: errors.New("502")}, "@Viewer sorry, your request for the current song failed! NotLikeThis"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tw := &fakeTwitch{}
			require.NoError(t, newService(tw, tt.sp).HandleChatMessage(context.Background(), eventsub.ChannelChatMessageEvent{
				ChatterUserName: "Viewer", MessageType: "text", Message: eventsub.ChatMessage{Text: "!song"},
			}))
			assert.Equal(t, []string{tt.reply}, tw.messages)
		})
	}
}

func TestChatIgnoresOtherMessages(t *testing.T) {
	tw := &fakeTwitch{}
	svc := newService(tw, &fakeSpotify{})
	for _, ev := range []eventsub.ChannelChatMessageEvent{
		{MessageType: "text", Message: eventsub.ChatMessage{Text: "hello"}},
		{MessageType: "channel_points_highlighted", Message: eventsub.ChatMessage{Text: "!song"}},
	} {
		require.NoError(t, svc.HandleChatMessage(context.Background(), ev))
	}
	assert.Zero(t, tw.chatCalls)
}

func TestQueueSkipsEpisodesAndLimits(t *testing.T) {
	episode := spotifyapi.Item{Type: "episode", Name: "A podcast"}
	q := spotifyapi.Queue{CurrentlyPlaying: &rickroll}
	q.Queue = append(q.Queue, episode)
	for i := 0; i < 6; i++ {
		q.Queue = append(q.Queue, rickroll)
	}
	tracks, err := newService(&fakeTwitch{}, &fakeSpotify{queue: q}).Queue(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, tracks, 5)
	for _, tr := range tracks {
		assert.True(t, tr.IsTrack())
	}
}
