package eventsub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/tunecast/telemetry"
)

// Message is a notification together with the liveness decision taken when
// it was published.
type Message struct {
	Notification Notification
	Live         bool
}

// Handler processes one delivered notification. A returned error is logged;
// the listener keeps running.
type Handler func(ctx context.Context, n Notification) error

// Handle adapts a typed event handler.
func Handle[T any](fn func(ctx context.Context, ev T) error) Handler {
	return func(ctx context.Context, n Notification) error {
		ev, err := Decode[T](n)
		if err != nil {
			return err
		}
		return fn(ctx, ev)
	}
}

const releaseTimeout = 10 * time.Second

// Dispatcher is the publish side of the pipeline and the factory for
// listeners.
type Dispatcher struct {
	bus      *Bus[Message]
	gate     *Gate
	registry *Registry
	log      *slog.Logger

	mu sync.Mutex // orders gate decisions with bus publication
}

// NewDispatcher wires bus, gate and registry together.
func NewDispatcher(bus *Bus[Message], gate *Gate, registry *Registry, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{bus: bus, gate: gate, registry: registry, log: log.With(slog.String("component", "eventsub"))}
}

// Publish applies n to the liveness gate and hands it to every listener.
// It blocks while a listener's buffer is full.
func (d *Dispatcher) Publish(ctx context.Context, n Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	live := d.gate.Observe(n)
	if err := d.bus.Publish(ctx, Message{Notification: n, Live: live}); err != nil {
		return err
	}
	telemetry.RecordPublished(n.Subscription.Type)
	return nil
}

// Gate returns the liveness gate.
func (d *Dispatcher) Gate() *Gate { return d.gate }

// Listen describes a stream of one event type. Nothing happens until Run.
func (d *Dispatcher) Listen(typ, version string, cond Condition) *Listener {
	return &Listener{d: d, typ: typ, version: version, cond: cond}
}

// Listener owns one remote subscription while Run is active.
type Listener struct {
	d       *Dispatcher
	typ     string
	version string
	cond    Condition
}

// Type returns the subscription type.
func (l *Listener) Type() string { return l.typ }

// Run subscribes to the bus, creates the remote subscription and calls
// handler for each matching notification until ctx ends. Matching
// notifications published while the create call is in flight are held and
// delivered once it succeeds. On return the bus subscription has been
// released and the remote subscription deleted (best effort). Run returns
// nil on cancellation and an error if the remote subscription could not be
// created.
func (l *Listener) Run(ctx context.Context, handler Handler) error {
	msgs, unsubscribe := l.d.bus.Subscribe()

	sub, held, err := l.acquire(ctx, msgs)
	if err != nil {
		unsubscribe()
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	log := l.d.log.With(slog.String("type", l.typ), slog.String("subscription_id", sub.ID))
	log.Info("listener started")
	defer func() {
		unsubscribe()
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		l.d.registry.Delete(rctx, sub.ID)
		log.Info("listener stopped")
	}()

	for _, msg := range held {
		if ctx.Err() != nil {
			return nil
		}
		l.deliver(ctx, log, handler, msg)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-msgs:
			if ctx.Err() != nil {
				return nil
			}
			if msg.Notification.Subscription.Type != l.typ {
				continue
			}
			l.deliver(ctx, log, handler, msg)
		}
	}
}

const maxHeld = 256

type createResult struct {
	sub Subscription
	err error
}

// acquire creates the remote subscription while draining msgs, so a slow
// create never backs up the bus.
func (l *Listener) acquire(ctx context.Context, msgs <-chan Message) (Subscription, []Message, error) {
	done := make(chan createResult, 1)
	go func() {
		sub, err := l.d.registry.Create(ctx, l.typ, l.version, l.cond)
		done <- createResult{sub: sub, err: err}
	}()

	var held []Message
	for {
		select {
		case res := <-done:
			return res.sub, held, res.err
		case msg := <-msgs:
			if msg.Notification.Subscription.Type != l.typ {
				continue
			}
			if len(held) >= maxHeld {
				l.d.log.Warn("dropping notification while subscription is pending",
					slog.String("type", l.typ), slog.String("message_id", msg.Notification.MessageID))
				continue
			}
			held = append(held, msg)
		}
	}
}

func (l *Listener) deliver(ctx context.Context, log *slog.Logger, handler Handler, msg Message) {
	n := msg.Notification
	if !msg.Live {
		telemetry.RecordSuppressed(l.typ)
		log.Debug("suppressed while offline", slog.String("message_id", n.MessageID))
		return
	}
	telemetry.RecordDelivered(l.typ)
	if err := handler(ctx, n); err != nil {
		log.Warn("handler failed", slog.String("message_id", n.MessageID), slog.Any("err", err))
	}
}
