package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/tunecast/eventsub"
)

// MockTwitchServer creates a test server that mocks Twitch Helix and identity responses
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu      sync.Mutex
	subs    []eventsub.Subscription
	deleted []string
	nextID  int
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		handler, ok := m.Handlers[r.URL.Path]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Handle registers a handler for path.
func (m *MockTwitchServer) Handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers[path] = h
}

// MockEventSub serves /helix/eventsub/subscriptions as a small in-memory
// store: POST creates, GET lists everything on one page, DELETE ?id= removes.
func (m *MockTwitchServer) MockEventSub() {
	m.Handle("/helix/eventsub/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			m.mu.Lock()
			data := append([]eventsub.Subscription(nil), m.subs...)
			m.mu.Unlock()
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"data":       data,
				"total":      len(data),
				"pagination": map[string]string{},
			})
		case http.MethodPost:
			var req struct {
				Type      string             `json:"type"`
				Version   string             `json:"version"`
				Condition eventsub.Condition `json:"condition"`
				Transport eventsub.Transport `json:"transport"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
				return
			}
			m.mu.Lock()
			m.nextID++
			sub := eventsub.Subscription{
				ID:        fmt.Sprintf("sub-%d", m.nextID),
				Status:    "webhook_callback_verification_pending",
				Type:      req.Type,
				Version:   req.Version,
				Condition: req.Condition,
				Transport: eventsub.Transport{Method: req.Transport.Method, Callback: req.Transport.Callback},
				CreatedAt: time.Now().UTC(),
			}
			m.subs = append(m.subs, sub)
			m.mu.Unlock()
			writeJSON(w, http.StatusAccepted, map[string]interface{}{"data": []eventsub.Subscription{sub}})
		case http.MethodDelete:
			id := r.URL.Query().Get("id")
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, s := range m.subs {
				if s.ID == id {
					m.subs = append(m.subs[:i], m.subs[i+1:]...)
					m.deleted = append(m.deleted, id)
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}

// SeedSubscription adds a subscription as if left over from an earlier run.
func (m *MockTwitchServer) SeedSubscription(sub eventsub.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, sub)
}

// Subscriptions returns the subscriptions currently stored.
func (m *MockTwitchServer) Subscriptions() []eventsub.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]eventsub.Subscription(nil), m.subs...)
}

// DeletedIDs returns the ids removed through DELETE, in order.
func (m *MockTwitchServer) DeletedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handle("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
			"scope":        []string{},
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// StaticToken is a TokenSource that always returns the same bearer token.
type StaticToken string

func (s StaticToken) AccessToken(_ context.Context) (string, error) { return string(s), nil }
