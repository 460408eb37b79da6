package spotifyapi

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) AccessToken(context.Context) (string, error) { return string(s), nil }

const trackJSON = `{"id":"4uLU6hMCjMI75M1A2tKUQC","type":"track","name":"Never Gonna Give You Up",
	"uri":"spotify:track:4uLU6hMCjMI75M1A2tKUQC","artists":[{"name":"Rick Astley"}],
	"album":{"name":"Whenever You Need Somebody","images":[{"url":"https://i.scdn.co/image/cover"}]}}`

func newServer(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return &Client{BaseURL: srv.URL, Tokens: staticToken("user-token"), HTTPClient: srv.Client()}, srv
}

func TestGetTrack(t *testing.T) {
	c, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/tracks/4uLU6hMCjMI75M1A2tKUQC", r.URL.Path)
		_, _ = io.WriteString(w, trackJSON)
	})

	tr, err := c.GetTrack(context.Background(), "4uLU6hMCjMI75M1A2tKUQC")
	require.NoError(t, err)
	assert.Equal(t, "Never Gonna Give You Up", tr.Name)
	assert.Equal(t, []string{"Rick Astley"}, tr.ArtistNames())
	assert.Equal(t, "https://i.scdn.co/image/cover", tr.Artwork())
	assert.True(t, tr.IsTrack())
}

func TestGetTrackNotFound(t *testing.T) {
	c, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"status":404,"message":"Non existing id"}}`)
	})

	_, err := c.GetTrack(context.Background(), "0000000000000000000000")
	require.Error(t, err)
	assert.True(t, NotFound(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Non existing id", apiErr.Message)
}

func TestAddToQueue(t *testing.T) {
	c, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/me/player/queue", r.URL.Path)
		assert.Equal(t, "spotify:track:abc", r.URL.Query().Get("uri"))
		w.WriteHeader(http.StatusNoContent)
	})
	require.NoError(t, c.AddToQueue(context.Background(), "spotify:track:abc"))
}

func TestAddToQueueNoActiveDevice(t *testing.T) {
	c, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"status":404,"message":"No active device found"}}`)
	})
	assert.Error(t, c.AddToQueue(context.Background(), "spotify:track:abc"))
}

func TestGetQueue(t *testing.T) {
	c, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/me/player/queue", r.URL.Path)
		_, _ = io.WriteString(w, `{"currently_playing":`+trackJSON+`,"queue":[{"type":"episode","name":"A podcast"},`+trackJSON+`]}`)
	})

	q, err := c.GetQueue(context.Background())
	require.NoError(t, err)
	items := q.Items()
	require.Len(t, items, 3)
	assert.True(t, items[0].IsTrack())
	assert.False(t, items[1].IsTrack())
}

func TestGetQueueNothingPlaying(t *testing.T) {
	c, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"currently_playing":null,"queue":[]}`)
	})
	q, err := c.GetQueue(context.Background())
	require.NoError(t, err)
	assert.Empty(t, q.Items())
}

func TestUserSpecUsesBasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/token", r.URL.Path)
		want := "Basic " + base64.StdEncoding.EncodeToString([]byte("cid:csecret"))
		assert.Equal(t, want, r.Header.Get("Authorization"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"new","token_type":"Bearer","expires_in":3600,"scope":"user-read-playback-state user-modify-playback-state"}`)
	}))
	defer srv.Close()

	spec := UserSpec(OAuthConfig{AccountsBaseURL: srv.URL, ClientID: "cid", ClientSecret: "csecret", RedirectURI: "http://localhost/cb"}, "code", srv.Client())
	tok, err := spec.Refresh(context.Background(), "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "new", tok.AccessToken)
	assert.Equal(t, []string{"user-read-playback-state", "user-modify-playback-state"}, spec.Scopes(tok))
}

func TestBuildAuthorizeURL(t *testing.T) {
	u, err := BuildAuthorizeURL(OAuthConfig{ClientID: "cid", RedirectURI: "http://localhost/cb"}, "st")
	require.NoError(t, err)
	assert.Contains(t, u, "https://accounts.spotify.com/authorize?")
	assert.Contains(t, u, "user-modify-playback-state")

	_, err = BuildAuthorizeURL(OAuthConfig{}, "")
	assert.Error(t, err)
}
