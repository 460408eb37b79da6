package eventsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/tunecast/telemetry"
)

// CreateRequest is the body of a subscription create call.
type CreateRequest struct {
	Type      string    `json:"type"`
	Version   string    `json:"version"`
	Condition Condition `json:"condition"`
	Transport Transport `json:"transport"`
}

// Page is one page of a subscription listing. Cursor is empty on the last
// page.
type Page struct {
	Subscriptions []Subscription
	Cursor        string
}

// SubscriptionAPI is the remote side of EventSub subscription management.
type SubscriptionAPI interface {
	CreateSubscription(ctx context.Context, req CreateRequest) (Subscription, error)
	ListSubscriptions(ctx context.Context, cursor string) (Page, error)
	DeleteSubscription(ctx context.Context, id string) error
}

const defaultDeleteConcurrency = 4

// Registry creates and deletes webhook subscriptions for one callback URL.
// No subscription is created before Reconcile has removed every
// subscription left over from a previous run.
type Registry struct {
	api      SubscriptionAPI
	callback string
	secret   string
	log      *slog.Logger

	ready     chan struct{}
	readyOnce sync.Once
}

// NewRegistry returns a registry that points new subscriptions at callback
// and signs them with secret.
func NewRegistry(api SubscriptionAPI, callback, secret string, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		api:      api,
		callback: callback,
		secret:   secret,
		log:      log.With(slog.String("component", "eventsub_registry")),
		ready:    make(chan struct{}),
	}
}

// Reconcile lists every remote subscription, following pagination, and
// deletes all of them. Create is unblocked only after a fully successful
// run.
func (r *Registry) Reconcile(ctx context.Context) error {
	var ids []string
	cursor := ""
	for {
		page, err := r.api.ListSubscriptions(ctx, cursor)
		if err != nil {
			return fmt.Errorf("list subscriptions: %w", err)
		}
		for _, s := range page.Subscriptions {
			ids = append(ids, s.ID)
		}
		if page.Cursor == "" || page.Cursor == cursor {
			break
		}
		cursor = page.Cursor
	}

	var mu sync.Mutex
	var errs []error
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultDeleteConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := r.api.DeleteSubscription(gctx, id); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("delete %s: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("reconcile subscriptions: %w", err)
	}

	r.log.Info("removed stale subscriptions", slog.Int("count", len(ids)))
	r.readyOnce.Do(func() { close(r.ready) })
	return nil
}

// Ready is closed once Reconcile has succeeded.
func (r *Registry) Ready() <-chan struct{} { return r.ready }

// Create registers a webhook subscription. It blocks until Reconcile has
// completed or ctx ends.
func (r *Registry) Create(ctx context.Context, typ, version string, cond Condition) (Subscription, error) {
	select {
	case <-r.ready:
	case <-ctx.Done():
		return Subscription{}, ctx.Err()
	}
	sub, err := r.api.CreateSubscription(ctx, CreateRequest{
		Type:      typ,
		Version:   version,
		Condition: cond,
		Transport: Transport{Method: "webhook", Callback: r.callback, Secret: r.secret},
	})
	if err != nil {
		return Subscription{}, fmt.Errorf("create %s subscription: %w", typ, err)
	}
	telemetry.AddSubscriptions(1)
	r.log.Info("subscription created",
		slog.String("id", sub.ID),
		slog.String("type", sub.Type),
		slog.String("status", sub.Status),
		slog.Any("condition", sub.Condition))
	return sub, nil
}

// Delete removes a subscription. Failure is logged, not returned; the next
// startup's Reconcile removes anything left behind.
func (r *Registry) Delete(ctx context.Context, id string) {
	if err := r.api.DeleteSubscription(ctx, id); err != nil {
		r.log.Warn("subscription delete failed", slog.String("id", id), slog.Any("err", err))
		return
	}
	telemetry.AddSubscriptions(-1)
	r.log.Info("subscription deleted", slog.String("id", id))
}
