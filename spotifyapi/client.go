// Package spotifyapi is a minimal Spotify Web API client for looking up
// tracks and reading and appending to the playback queue.
package spotifyapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/tunecast/telemetry"
)

// DefaultBaseURL is the production Web API host.
const DefaultBaseURL = "https://api.spotify.com"

// TokenSource yields a bearer token. *oauth.Manager implements it.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// APIError is a non-2xx Web API response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("spotify %s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// NotFound reports whether err is a 404 from the Web API.
func NotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type Image struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type Album struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Images []Image `json:"images"`
}

type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Item is a queue entry: a track or a podcast episode. Artists and Album are
// only set for tracks.
type Item struct {
	ID         string   `json:"id"`
	Type       string   `json:"type"` // track or episode
	Name       string   `json:"name"`
	URI        string   `json:"uri"`
	DurationMS int      `json:"duration_ms"`
	Artists    []Artist `json:"artists"`
	Album      Album    `json:"album"`
}

// Track is an Item of type track.
type Track = Item

// IsTrack reports whether the item is a track.
func (i Item) IsTrack() bool { return i.Type == "track" }

// ArtistNames returns the non-empty artist names.
func (i Item) ArtistNames() []string {
	out := make([]string, 0, len(i.Artists))
	for _, a := range i.Artists {
		if a.Name != "" {
			out = append(out, a.Name)
		}
	}
	return out
}

// Artwork returns the first album image URL, or "".
func (i Item) Artwork() string {
	if len(i.Album.Images) == 0 {
		return ""
	}
	return i.Album.Images[0].URL
}

// Queue is the user's playback queue.
type Queue struct {
	CurrentlyPlaying *Item  `json:"currently_playing"`
	Queue            []Item `json:"queue"`
}

// Items returns the currently playing item followed by the queue.
func (q Queue) Items() []Item {
	out := make([]Item, 0, len(q.Queue)+1)
	if q.CurrentlyPlaying != nil {
		out = append(out, *q.CurrentlyPlaying)
	}
	return append(out, q.Queue...)
}

// Client calls the Web API on behalf of the user whose token Tokens yields.
type Client struct {
	BaseURL    string
	Tokens     TokenSource
	HTTPClient *http.Client
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) baseURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return DefaultBaseURL
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	ctx, span := telemetry.StartSpan(ctx, "spotifyapi", "spotify "+method+" "+path,
		attribute.String("http.method", method))
	defer span.End()

	tok, err := c.Tokens.AccessToken(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	u := c.baseURL() + "/v1" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http().Do(req)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	telemetry.SetSpanHTTPStatus(span, resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Message: errorMessage(b)}
		telemetry.RecordError(span, apiErr)
		return apiErr
	}
	telemetry.SetSpanSuccess(span)
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode spotify %s %s: %w", method, path, err)
	}
	return nil
}

// errorMessage extracts {"error":{"message": ...}} or falls back to the raw body.
func errorMessage(b []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &e) == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return strings.TrimSpace(string(b))
}

// GetTrack fetches a track by its 22 character id.
func (c *Client) GetTrack(ctx context.Context, id string) (Track, error) {
	if id == "" {
		return Track{}, errors.New("track id empty")
	}
	var t Track
	if err := c.do(ctx, http.MethodGet, "/tracks/"+url.PathEscape(id), nil, &t); err != nil {
		return Track{}, err
	}
	return t, nil
}

// AddToQueue appends uri to the active device's queue.
func (c *Client) AddToQueue(ctx context.Context, uri string) error {
	if uri == "" {
		return errors.New("uri empty")
	}
	return c.do(ctx, http.MethodPost, "/me/player/queue", url.Values{"uri": {uri}}, nil)
}

// GetQueue returns the currently playing item and the upcoming queue.
func (c *Client) GetQueue(ctx context.Context) (Queue, error) {
	var q Queue
	if err := c.do(ctx, http.MethodGet, "/me/player/queue", nil, &q); err != nil {
		return Queue{}, err
	}
	return q, nil
}
