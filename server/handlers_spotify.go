package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/onnwee/tunecast/spotifyapi"
	"github.com/onnwee/tunecast/telemetry"
)

// songQueueLimit is the current track plus four upcoming ones.
const songQueueLimit = 5

type albumView struct {
	Name    string `json:"name"`
	Artwork string `json:"artwork"`
}

type trackView struct {
	Name    string    `json:"name"`
	Artists []string  `json:"artists"`
	Album   albumView `json:"album"`
}

type songQueueResponse struct {
	Current *trackView  `json:"current"`
	Next    []trackView `json:"next"`
}

func newTrackView(t spotifyapi.Track) trackView {
	return trackView{
		Name:    t.Name,
		Artists: t.ArtistNames(),
		Album:   albumView{Name: t.Album.Name, Artwork: t.Artwork()},
	}
}

// HandleSongQueue returns the playing track and what comes next. Current is
// null when nothing is playing.
func (h *Handlers) HandleSongQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.songs == nil {
		http.NotFound(w, r)
		return
	}
	tracks, err := h.songs.Queue(r.Context(), songQueueLimit)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("song queue fetch failed", slog.Any("err", err), slog.String("component", "http"))
		http.Error(w, "song queue unavailable", http.StatusBadGateway)
		return
	}
	resp := songQueueResponse{Next: []trackView{}}
	for i, t := range tracks {
		v := newTrackView(t)
		if i == 0 {
			resp.Current = &v
			continue
		}
		resp.Next = append(resp.Next, v)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(resp)
}

// HandleSongWidget serves the overlay page that polls the song queue.
func (h *Handlers) HandleSongWidget(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.widget == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(h.widget)
}
