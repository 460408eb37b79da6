// Package twitchapi is a small Twitch Helix client covering EventSub
// subscription management, chat messages and channel point redemptions,
// plus the OAuth2 credential specs for the app and user tokens.
package twitchapi

import (
	"bytes"
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

	"github.com/onnwee/tunecast/eventsub"
	"github.com/onnwee/tunecast/telemetry"
)

// DefaultBaseURL is the production Helix host.
const DefaultBaseURL = "https://api.twitch.tv"

// TokenSource yields a bearer token. *oauth.Manager implements it.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// APIError is a non-2xx Helix response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("helix %s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// HelixClient calls Helix with either the app or the user token, depending
// on the endpoint.
type HelixClient struct {
	BaseURL       string
	ClientID      string
	BroadcasterID string
	SenderID      string
	AppTokens     TokenSource
	UserTokens    TokenSource
	HTTPClient    *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) baseURL() string {
	if hc.BaseURL != "" {
		return strings.TrimRight(hc.BaseURL, "/")
	}
	return DefaultBaseURL
}

// do sends one request. A non-nil out is decoded from a 2xx body.
func (hc *HelixClient) do(ctx context.Context, tokens TokenSource, method, path string, query url.Values, body, out any) error {
	ctx, span := telemetry.StartSpan(ctx, "twitchapi", "helix "+method+" "+path,
		attribute.String("http.method", method), attribute.String("http.route", path))
	defer span.End()

	if tokens == nil {
		return fmt.Errorf("helix %s %s: no token source", method, path)
	}
	tok, err := tokens.AccessToken(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	u := hc.baseURL() + "/helix" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.http().Do(req)
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
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode helix %s %s: %w", method, path, err)
	}
	return nil
}

// errorMessage extracts Helix's {"message": ...} or falls back to the raw body.
func errorMessage(b []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(b, &e) == nil && e.Message != "" {
		return e.Message
	}
	return strings.TrimSpace(string(b))
}

type subscriptionsResponse struct {
	Data       []eventsub.Subscription `json:"data"`
	Total      int                     `json:"total"`
	Pagination struct {
		Cursor string `json:"cursor"`
	} `json:"pagination"`
}

// CreateSubscription registers an EventSub subscription. Webhook
// subscriptions require the app token.
func (hc *HelixClient) CreateSubscription(ctx context.Context, req eventsub.CreateRequest) (eventsub.Subscription, error) {
	var body subscriptionsResponse
	if err := hc.do(ctx, hc.AppTokens, http.MethodPost, "/eventsub/subscriptions", nil, req, &body); err != nil {
		return eventsub.Subscription{}, err
	}
	if len(body.Data) == 0 {
		return eventsub.Subscription{}, errors.New("helix create subscription: empty response")
	}
	return body.Data[0], nil
}

// ListSubscriptions returns one page of subscriptions owned by the client id.
func (hc *HelixClient) ListSubscriptions(ctx context.Context, cursor string) (eventsub.Page, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("after", cursor)
	}
	var body subscriptionsResponse
	if err := hc.do(ctx, hc.AppTokens, http.MethodGet, "/eventsub/subscriptions", q, nil, &body); err != nil {
		return eventsub.Page{}, err
	}
	return eventsub.Page{Subscriptions: body.Data, Cursor: body.Pagination.Cursor}, nil
}

// DeleteSubscription removes a subscription by id.
func (hc *HelixClient) DeleteSubscription(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("subscription id empty")
	}
	return hc.do(ctx, hc.AppTokens, http.MethodDelete, "/eventsub/subscriptions", url.Values{"id": {id}}, nil, nil)
}

// SendChatMessage posts message to the broadcaster's chat as SenderID.
func (hc *HelixClient) SendChatMessage(ctx context.Context, message string) error {
	if message == "" {
		return errors.New("message empty")
	}
	payload := map[string]string{
		"broadcaster_id": hc.BroadcasterID,
		"sender_id":      hc.SenderID,
		"message":        message,
	}
	var body struct {
		Data []struct {
			MessageID  string `json:"message_id"`
			IsSent     bool   `json:"is_sent"`
			DropReason *struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"drop_reason"`
		} `json:"data"`
	}
	if err := hc.do(ctx, hc.UserTokens, http.MethodPost, "/chat/messages", nil, payload, &body); err != nil {
		return err
	}
	if len(body.Data) > 0 && !body.Data[0].IsSent {
		reason := "unknown"
		if dr := body.Data[0].DropReason; dr != nil {
			reason = dr.Code + ": " + dr.Message
		}
		return fmt.Errorf("chat message dropped: %s", reason)
	}
	return nil
}

// Redemption statuses accepted by UpdateRedemptionStatus.
const (
	RedemptionFulfilled = "FULFILLED"
	RedemptionCanceled  = "CANCELED"
)

// UpdateRedemptionStatus moves an unfulfilled redemption to status.
func (hc *HelixClient) UpdateRedemptionStatus(ctx context.Context, rewardID, redemptionID, status string) error {
	if rewardID == "" || redemptionID == "" {
		return errors.New("reward id or redemption id empty")
	}
	q := url.Values{}
	q.Set("broadcaster_id", hc.BroadcasterID)
	q.Set("reward_id", rewardID)
	q.Set("id", redemptionID)
	return hc.do(ctx, hc.UserTokens, http.MethodPatch, "/channel_points/custom_rewards/redemptions", q, map[string]string{"status": status}, nil)
}

// FulfillRedemption marks a redemption as fulfilled, keeping the points.
func (hc *HelixClient) FulfillRedemption(ctx context.Context, rewardID, redemptionID string) error {
	return hc.UpdateRedemptionStatus(ctx, rewardID, redemptionID, RedemptionFulfilled)
}

// CancelRedemption cancels a redemption, refunding the points.
func (hc *HelixClient) CancelRedemption(ctx context.Context, rewardID, redemptionID string) error {
	return hc.UpdateRedemptionStatus(ctx, rewardID, redemptionID, RedemptionCanceled)
}
